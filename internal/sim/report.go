package sim

import (
	"github.com/samber/lo"

	"fleetsim/internal/demand"
)

// Result is everything a finished run reports.
type Result struct {
	Start       int `json:"start"`
	End         int `json:"end"`
	FinalMinute int `json:"finalMinute"`

	Buses     []*Bus              `json:"-"`
	Completed []*demand.Passenger `json:"-"`

	Metrics PassengerMetrics `json:"metrics"`
	Stops   []StopCounter    `json:"stops"`

	Total        int `json:"totalPassengers"`
	StillWaiting int `json:"stillWaiting"`
	StillOnboard int `json:"stillOnboard"`
	StillPending int `json:"stillPending"`

	Depots DepotReport `json:"depotReport"`
}

// PassengerMetrics holds averages over completed passengers only.
type PassengerMetrics struct {
	Completed     int     `json:"completed"`
	AvgWait       float64 `json:"avgWaitMinutes"`
	AvgTravel     float64 `json:"avgTravelMinutes"`
	AvgTotal      float64 `json:"avgTotalMinutes"`
	TotalWaited   int     `json:"totalWaitMinutes"`
	TotalTraveled int     `json:"totalTravelMinutes"`
}

const (
	DepotSuccess = "success"
	DepotFailed  = "failed"
)

type DepotReport struct {
	Status string      `json:"status"`
	Buses  []BusReturn `json:"buses"`
}

type BusReturn struct {
	BusID     string `json:"busId"`
	Depot     string `json:"depot"`
	FinalStop string `json:"finalStop"`
	Returned  bool   `json:"returned"`
}

// Balanced reports whether every materialized passenger is accounted for.
func (r *Result) Balanced() bool {
	return r.Metrics.Completed+r.StillWaiting+r.StillOnboard+r.StillPending == r.Total
}

// EventCount is the number of logged events across all buses.
func (r *Result) EventCount() int {
	return lo.SumBy(r.Buses, func(b *Bus) int { return len(b.Events) })
}

func (s *Simulator) result() *Result {
	r := &Result{
		Start:        s.cfg.Start,
		End:          s.cfg.End,
		FinalMinute:  s.now,
		Buses:        s.buses,
		Completed:    s.completed,
		Metrics:      passengerMetrics(s.completed),
		Total:        s.total,
		StillPending: len(s.pending),
		StillOnboard: lo.SumBy(s.buses, func(b *Bus) int { return len(b.Onboard) }),
	}
	for _, st := range s.stopOrder {
		r.StillWaiting += len(st.queue)
		r.Stops = append(r.Stops, StopCounter{
			StopID:   st.info.ID,
			Arrived:  st.arrived,
			Boarded:  st.boarded,
			Alighted: st.alight,
			Waiting:  len(st.queue),
		})
	}
	r.Depots = depotReport(s.buses)
	return r
}

func passengerMetrics(done []*demand.Passenger) PassengerMetrics {
	m := PassengerMetrics{Completed: len(done)}
	if len(done) == 0 {
		return m
	}
	total := 0
	for _, p := range done {
		w, _ := p.WaitTime()
		tr, _ := p.TravelTime()
		tt, _ := p.TotalTripTime()
		m.TotalWaited += w
		m.TotalTraveled += tr
		total += tt
	}
	n := float64(len(done))
	m.AvgWait = float64(m.TotalWaited) / n
	m.AvgTravel = float64(m.TotalTraveled) / n
	m.AvgTotal = float64(total) / n
	return m
}

// depotReport checks each bus's last resting place. A bus counts as returned
// when its final terminal event is at its depot and it ended the run idle.
func depotReport(buses []*Bus) DepotReport {
	rep := DepotReport{Status: DepotSuccess}
	for _, b := range buses {
		final := ""
		for i := len(b.Events) - 1; i >= 0; i-- {
			if b.Events[i].terminal() {
				final = b.Events[i].StopID
				break
			}
		}
		ret := BusReturn{
			BusID:     b.ID,
			Depot:     b.Depot,
			FinalStop: final,
			Returned:  final == b.Depot && b.Status == StatusIdle,
		}
		if !ret.Returned {
			rep.Status = DepotFailed
		}
		rep.Buses = append(rep.Buses, ret)
	}
	return rep
}
