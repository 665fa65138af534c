package demand

import (
	"sort"

	"fleetsim/internal/transit"
)

const (
	DayStartMinute = 0
	DayEndMinute   = 24 * 60
	// TailMinutes is added after the last arrival when the window is narrowed.
	TailMinutes = 120
)

// Materializer expands aggregate demand into discrete passengers.
type Materializer struct {
	ids *PassengerIDAllocator
}

func NewMaterializer() *Materializer {
	return &Materializer{ids: &PassengerIDAllocator{}}
}

// Passengers creates int(count) passengers per record, all arriving at the
// record's start minute. The window end is not used to spread arrivals.
// Ids restart at 1 on every call.
func (m *Materializer) Passengers(records []transit.StopDemand) []*Passenger {
	m.ids.Reset()
	var out []*Passenger
	for _, d := range records {
		n := int(d.Count)
		for i := 0; i < n; i++ {
			out = append(out, &Passenger{
				ID:            m.ids.Next(),
				Origin:        d.Origin,
				Dest:          d.Dest,
				ArrivalMinute: d.StartMinute,
			})
		}
	}
	return out
}

// Window returns the simulation window. A window left at the full-day
// default is narrowed to [first arrival, last arrival + TailMinutes].
func Window(passengers []*Passenger, start, end int) (int, int) {
	if start != DayStartMinute || end != DayEndMinute || len(passengers) == 0 {
		return start, end
	}
	lo, hi := passengers[0].ArrivalMinute, passengers[0].ArrivalMinute
	for _, p := range passengers[1:] {
		lo = min(lo, p.ArrivalMinute)
		hi = max(hi, p.ArrivalMinute)
	}
	return lo, hi + TailMinutes
}

// Split separates passengers already present at start from those that
// arrive later. The pending slice is ordered by arrival, then id.
func Split(passengers []*Passenger, start int) (present, pending []*Passenger) {
	for _, p := range passengers {
		if p.ArrivalMinute <= start {
			present = append(present, p)
		} else {
			pending = append(pending, p)
		}
	}
	sort.SliceStable(pending, func(i, j int) bool {
		if pending[i].ArrivalMinute != pending[j].ArrivalMinute {
			return pending[i].ArrivalMinute < pending[j].ArrivalMinute
		}
		return pending[i].ID < pending[j].ID
	})
	return present, pending
}
