package planner

import (
	"math/rand"
	"sort"

	"fleetsim/internal/transit"
)

// PlannedTrip is one scheduled departure for a bus. Layover is the idle
// time the bus was given after its previous trip.
type PlannedTrip struct {
	RouteID   string `json:"routeId"`
	Departure int    `json:"departure"`
	Layover   int    `json:"layover"`
}

// Schedule maps bus id to its trips ordered by departure.
type Schedule map[string][]PlannedTrip

func (s Schedule) Add(busID string, t PlannedTrip) {
	s[busID] = append(s[busID], t)
}

// Sort orders every bus's trips by departure.
func (s Schedule) Sort() {
	for _, trips := range s {
		sort.SliceStable(trips, func(i, j int) bool { return trips[i].Departure < trips[j].Departure })
	}
}

func (s Schedule) TripCount() int {
	n := 0
	for _, trips := range s {
		n += len(trips)
	}
	return n
}

// BusIDs returns the scheduled bus ids in sorted order.
func (s Schedule) BusIDs() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

type Options struct {
	Start, End         int // planning window, minutes from midnight
	MinLayover         int
	MaxLayover         int
	MinTrips           int
	MaxTrips           int
	ReturnBuffer       int // minutes kept free before End for the trip home
	Interval           int // greedy availability step when nothing is served
	OvercrowdingFactor float64
	SpeedKmph          float64
}

func DefaultOptions() Options {
	return Options{
		Start:              0,
		End:                24 * 60,
		MinLayover:         5,
		MaxLayover:         15,
		MinTrips:           1,
		MaxTrips:           5,
		ReturnBuffer:       60,
		Interval:           5,
		OvercrowdingFactor: 1.0,
		SpeedKmph:          30,
	}
}

func (o Options) cutoff() int { return o.End - o.ReturnBuffer }

// Planner produces a Schedule for a network and its stop-level demand.
type Planner interface {
	Plan(net *transit.Network, demand []transit.StopDemand) Schedule
}

// randBetween returns a uniform integer in [lo, hi].
func randBetween(rng *rand.Rand, lo, hi int) int {
	if hi <= lo {
		return lo
	}
	return lo + rng.Intn(hi-lo+1)
}
