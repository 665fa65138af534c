package planner

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetsim/internal/transit"
)

func testNetwork(t *testing.T, demand []transit.DemandRecord) *transit.Network {
	t.Helper()
	n, err := transit.Build(&transit.Snapshot{
		Stops: []transit.Stop{
			{ID: "D", Lat: 41.380, Lon: 2.170, HasLoc: true},
			{ID: "S1", Lat: 41.385, Lon: 2.175, HasLoc: true},
			{ID: "S2", Lat: 41.390, Lon: 2.180, HasLoc: true},
		},
		Routes: []transit.Route{
			{ID: "R1", StopIDs: []string{"D", "S1", "S2"}, TotalMinutes: 20},
			{ID: "R2", StopIDs: []string{"S1", "D"}, TotalMinutes: 10},
			{ID: "R3", StopIDs: []string{"D", "S2"}, TotalMinutes: 12},
		},
		BusTypes: []transit.BusType{{ID: "std", Capacity: 30}},
		Buses: []transit.Bus{
			{ID: "b2", TypeID: "std", DepotStopID: "D"},
			{ID: "b1", TypeID: "std", DepotStopID: "D"},
			{ID: "b3", TypeID: "std", DepotStopID: "S2"},
		},
		Demand: demand,
	})
	require.NoError(t, err)
	return n
}

func windowOptions() Options {
	o := DefaultOptions()
	o.Start, o.End = 0, 300
	o.MinLayover, o.MaxLayover = 5, 5
	return o
}

func TestRandomPlannerIsReproducible(t *testing.T) {
	net := testNetwork(t, []transit.DemandRecord{{OriginAreaID: "D", DestAreaID: "S2", Count: 12, StartMinute: 30}})
	plan := func() Schedule {
		return NewRandomPlanner(windowOptions(), rand.New(rand.NewSource(42))).Plan(net, net.Demand)
	}
	first := plan()
	assert.Equal(t, first, plan())
	assert.NotZero(t, first.TripCount())
}

func TestRandomPlannerRespectsDepotAndCutoff(t *testing.T) {
	net := testNetwork(t, nil)
	opts := windowOptions()
	sched := NewRandomPlanner(opts, rand.New(rand.NewSource(7))).Plan(net, net.Demand)

	_, scheduled := sched["b3"]
	assert.False(t, scheduled, "no route starts at S2")

	for _, id := range []string{"b1", "b2"} {
		trips := sched[id]
		require.NotEmpty(t, trips)
		assert.LessOrEqual(t, len(trips), opts.MaxTrips)
		prevEnd := opts.Start
		for i, trip := range trips {
			route, ok := net.Route(trip.RouteID)
			require.True(t, ok)
			assert.Equal(t, "D", route.FirstStop())
			assert.GreaterOrEqual(t, trip.Departure, prevEnd+trip.Layover)
			assert.LessOrEqual(t, trip.Departure, opts.End-opts.ReturnBuffer)
			if i == 0 {
				assert.Zero(t, trip.Layover)
			}
			prevEnd = trip.Departure + route.DurationMinutes()
		}
	}
}

func TestRandomPlannerPrefersRoutesWithDemand(t *testing.T) {
	n := testNetwork(t, []transit.DemandRecord{{OriginAreaID: "D", DestAreaID: "S2", Count: 5, StartMinute: 10}})
	assert.Equal(t, 5.0, estimatedDemandAt(n.Demand, "D", 0))
	assert.Equal(t, 5.0, estimatedDemandAt(n.Demand, "D", 40))
	assert.Zero(t, estimatedDemandAt(n.Demand, "D", 41))
	assert.Zero(t, estimatedDemandAt(n.Demand, "S1", 10))
}

func TestGreedyPlannerServesWaitingDemand(t *testing.T) {
	net := testNetwork(t, []transit.DemandRecord{{OriginAreaID: "D", DestAreaID: "S1", Count: 40, StartMinute: 60}})
	sched := NewGreedyPlanner(windowOptions(), rand.New(rand.NewSource(1))).Plan(net, net.Demand)

	require.Len(t, sched["b1"], 1)
	require.Len(t, sched["b2"], 1)
	assert.Equal(t, PlannedTrip{RouteID: "R1", Departure: 60}, sched["b1"][0])
	assert.Equal(t, PlannedTrip{RouteID: "R1", Departure: 60}, sched["b2"][0])
	assert.Empty(t, sched["b3"])
}

func TestGreedyPlannerSkipsEmptyTrips(t *testing.T) {
	net := testNetwork(t, []transit.DemandRecord{{OriginAreaID: "S2", DestAreaID: "D", Count: 10, StartMinute: 0}})
	sched := NewGreedyPlanner(windowOptions(), rand.New(rand.NewSource(1))).Plan(net, net.Demand)
	assert.Zero(t, sched.TripCount(), "no route carries S2 -> D")
}

func TestCarryRespectsCapacityAndDirection(t *testing.T) {
	r := &transit.Route{ID: "R", StopIDs: []string{"A", "B", "C"}, TotalMinutes: 10}
	queues := map[string][]*waitingGroup{
		"A": {{dest: "C", count: 20}, {dest: "Z", count: 5}},
		"B": {{dest: "C", count: 15}, {dest: "A", count: 3}},
	}
	assert.Equal(t, 25, carry(r, 0, queues, 25, false))
	assert.Equal(t, 20, queues["A"][0].count, "dry run leaves queues untouched")

	assert.Equal(t, 25, carry(r, 0, queues, 25, true))
	require.Len(t, queues["A"], 1)
	assert.Equal(t, "Z", queues["A"][0].dest)
	assert.Equal(t, 10, queues["B"][0].count)
}
