package sim

import (
	"fleetsim/internal/demand"
	"fleetsim/internal/planner"
	"fleetsim/internal/transit"
)

// Bus is the runtime wrapper of a fleet record for one simulation run.
type Bus struct {
	ID         string
	TypeID     string
	Depot      string
	MaxOnboard int

	Stop    string         // current stop, or destination while dead-running
	Route   *transit.Route // nil between trips
	Pos     int            // index of Stop within Route
	Onboard []*demand.Passenger
	Trips   []planner.PlannedTrip
	Status  Status
	Events  []BusEvent
	Clock   int // the bus is not stepped before the global clock reaches this

	next      int // index of the next trip to run
	enRoute   bool
	remaining int // minutes to the next stop while en route
}

// alight removes and returns passengers whose destination is the current stop.
func (b *Bus) alight(minute int) []*demand.Passenger {
	var off []*demand.Passenger
	kept := b.Onboard[:0]
	for _, p := range b.Onboard {
		if p.Dest == b.Stop {
			p.MarkAlighted(minute)
			off = append(off, p)
			continue
		}
		kept = append(kept, p)
	}
	for i := len(kept); i < len(b.Onboard); i++ {
		b.Onboard[i] = nil
	}
	b.Onboard = kept
	return off
}

// carries reports whether the current route still reaches dest.
func (b *Bus) carries(dest string) bool {
	return b.Route != nil && b.Route.IndexOf(dest, b.Pos+1) >= 0
}

func (b *Bus) direction() string {
	if b.Route != nil {
		return b.Route.ID
	}
	return ""
}

// RemainingTrips is the number of planned trips not yet started.
func (b *Bus) RemainingTrips() int { return len(b.Trips) - b.next }
