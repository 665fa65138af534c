package optimizer

import (
	"sort"

	"github.com/sirupsen/logrus"

	"fleetsim/internal/planner"
	"fleetsim/internal/transit"
)

// Materialize turns the positive x assignments of a solution into journey
// patterns, blocks and trips. Buses of the matching type are handed out
// round-robin in fleet order; once a type runs out, further trips are
// created without a bus.
func Materialize(net *transit.Network, sol *Solution, serviceID string) transit.GeneratedSchedule {
	b := transit.NewScheduleBuilder(serviceID)
	if sol == nil || !sol.Status.Success() {
		return b.Schedule()
	}

	freqs := append([]Frequency(nil), sol.Frequencies...)
	sort.SliceStable(freqs, func(i, j int) bool {
		if freqs[i].Departure != freqs[j].Departure {
			return freqs[i].Departure < freqs[j].Departure
		}
		return freqs[i].RouteID < freqs[j].RouteID
	})

	fleet := net.FleetByType()
	next := make(map[string]int)
	for _, f := range freqs {
		for i := 0; i < f.Count; i++ {
			busID := ""
			buses := fleet[f.BusTypeID]
			if k := next[f.BusTypeID]; k < len(buses) {
				busID = buses[k].ID
				next[f.BusTypeID] = k + 1
			} else {
				logrus.WithFields(logrus.Fields{"route": f.RouteID, "type": f.BusTypeID, "departure": f.Departure}).
					Warn("no bus left for generated trip")
			}
			b.Trip(b.Block(busID), f.RouteID, f.Departure)
		}
	}
	return b.Schedule()
}

// PlannerSchedule converts generated trips into a simulator schedule.
// Trips without a bus cannot be driven and are left out.
func PlannerSchedule(g transit.GeneratedSchedule) planner.Schedule {
	s := make(planner.Schedule)
	for _, t := range g.Trips {
		if t.BusID == "" {
			continue
		}
		s.Add(t.BusID, planner.PlannedTrip{RouteID: t.RouteID, Departure: t.DepartureMinute})
	}
	s.Sort()
	return s
}
