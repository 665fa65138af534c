package sim

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetsim/internal/demand"
	"fleetsim/internal/planner"
	"fleetsim/internal/transit"
)

func twoStopNetwork(t *testing.T, capacity int, depot string) *transit.Network {
	t.Helper()
	n, err := transit.Build(&transit.Snapshot{
		Stops: []transit.Stop{
			{ID: "D", Lat: 41.380, Lon: 2.170, HasLoc: true},
			{ID: "S1", Lat: 41.385, Lon: 2.175, HasLoc: true},
		},
		Routes:   []transit.Route{{ID: "R", StopIDs: []string{"D", "S1"}, TotalMinutes: 10}},
		BusTypes: []transit.BusType{{ID: "std", Capacity: capacity}},
		Buses:    []transit.Bus{{ID: "b1", TypeID: "std", DepotStopID: depot}},
	})
	require.NoError(t, err)
	return n
}

func riders(n int, origin, dest string, arrival int) []*demand.Passenger {
	return demand.NewMaterializer().Passengers([]transit.StopDemand{
		{Origin: origin, Dest: dest, Count: float64(n), StartMinute: arrival},
	})
}

func config() Config {
	return Config{Start: 0, End: 60, OvercrowdingFactor: 1, SpeedKmph: 30}
}

func run(t *testing.T, s *Simulator) *Result {
	t.Helper()
	res, err := s.Run(context.Background())
	require.NoError(t, err)
	require.True(t, res.Balanced(), "passengers must be conserved")
	return res
}

func TestSingleTripDeliversEveryone(t *testing.T) {
	net := twoStopNetwork(t, 30, "D")
	sched := planner.Schedule{"b1": {{RouteID: "R", Departure: 0}}}
	res := run(t, New(net, sched, riders(5, "D", "S1", 0), config()))

	assert.Equal(t, 5, res.Metrics.Completed)
	assert.Zero(t, res.Metrics.AvgWait)
	assert.Equal(t, 10.0, res.Metrics.AvgTravel)
	assert.Equal(t, 10.0, res.Metrics.AvgTotal)
	assert.Equal(t, 10, res.FinalMinute, "run ends once everyone is delivered")
	assert.Equal(t, DepotSuccess, res.Depots.Status)
	require.Len(t, res.Depots.Buses, 1)
	assert.Equal(t, "D", res.Depots.Buses[0].FinalStop)

	b := res.Buses[0]
	assert.Equal(t, StatusIdle, b.Status)
	assert.Equal(t, "D", b.Stop)
	assert.Equal(t, StatusAtDepot, b.Events[0].Status)
}

func TestOverflowStaysQueuedInOrder(t *testing.T) {
	net := twoStopNetwork(t, 30, "D")
	sched := planner.Schedule{"b1": {{RouteID: "R", Departure: 0}}}
	res := run(t, New(net, sched, riders(50, "D", "S1", 0), config()))

	assert.Equal(t, 30, res.Metrics.Completed)
	assert.Equal(t, 20, res.StillWaiting)
	assert.Equal(t, 60, res.FinalMinute, "waiting riders keep the run going")
	for i, p := range res.Completed {
		assert.Equal(t, i+1, p.ID, "riders board in arrival order")
	}

	var d StopCounter
	for _, c := range res.Stops {
		if c.StopID == "D" {
			d = c
		}
	}
	assert.Equal(t, StopCounter{StopID: "D", Arrived: 50, Boarded: 30, Waiting: 20}, d)
}

func TestBoardingSkipsOtherDestinationsInOrder(t *testing.T) {
	st := &stopState{info: transit.Stop{ID: "S0"}}
	for i := 1; i <= 6; i++ {
		dest := "X"
		if i%2 == 0 {
			dest = "Y"
		}
		st.enqueue(&demand.Passenger{ID: i, Origin: "S0", Dest: dest})
	}

	boarded := st.board(2, func(p *demand.Passenger) bool { return p.Dest == "Y" }, 7)
	var got []int
	for _, p := range boarded {
		got = append(got, p.ID)
		require.NotNil(t, p.BoardMinute)
		assert.Equal(t, 7, *p.BoardMinute)
	}
	assert.Equal(t, []int{2, 4}, got)

	var left []int
	for _, p := range st.queue {
		left = append(left, p.ID)
	}
	assert.Equal(t, []int{1, 3, 5, 6}, left, "riders left behind keep their order")
	assert.Nil(t, st.queue[:cap(st.queue)][4], "dropped tail is cleared")
	assert.Equal(t, 6, st.arrived)
	assert.Equal(t, 2, st.boarded)
}

func TestOnboardNeverExceedsMaxOnboard(t *testing.T) {
	net := twoStopNetwork(t, 30, "D")
	cfg := config()
	cfg.OvercrowdingFactor = 1.2
	sched := planner.Schedule{"b1": {
		{RouteID: "R", Departure: 0},
		{RouteID: "R", Departure: 15},
	}}
	res := run(t, New(net, sched, riders(80, "D", "S1", 0), cfg))

	b := res.Buses[0]
	assert.Equal(t, 36, b.MaxOnboard)
	for _, ev := range b.Events {
		assert.LessOrEqual(t, ev.Onboard, b.MaxOnboard)
	}
	assert.Equal(t, 72, res.Metrics.Completed)
	assert.Equal(t, 8, res.StillWaiting)
}

func TestLateArrivalsBoardOnDeparture(t *testing.T) {
	net := twoStopNetwork(t, 30, "D")
	sched := planner.Schedule{"b1": {{RouteID: "R", Departure: 5}}}
	res := run(t, New(net, sched, riders(3, "D", "S1", 5), config()))

	assert.Equal(t, 3, res.Metrics.Completed)
	assert.Zero(t, res.Metrics.AvgWait)
	assert.Equal(t, 15, res.FinalMinute)

	statuses := make([]Status, 0, len(res.Buses[0].Events))
	for _, ev := range res.Buses[0].Events {
		statuses = append(statuses, ev.Status)
	}
	assert.Contains(t, statuses, StatusWaiting)
}

func TestDeadRunToFirstStop(t *testing.T) {
	net := twoStopNetwork(t, 30, "S1")
	sched := planner.Schedule{"b1": {{RouteID: "R", Departure: 30}}}
	res := run(t, New(net, sched, riders(2, "D", "S1", 0), config()))

	b := res.Buses[0]
	require.Greater(t, len(b.Events), 2)
	assert.Equal(t, StatusDeadRunning, b.Events[1].Status)
	assert.Equal(t, "S1", b.Events[1].StopID)

	var started *BusEvent
	for i := range b.Events {
		if strings.HasPrefix(b.Events[i].Description, "started trip") {
			started = &b.Events[i]
			break
		}
	}
	require.NotNil(t, started)
	assert.Equal(t, 30, started.Time)
	assert.Equal(t, 2, started.Boarded)
	assert.Equal(t, 30.0, res.Metrics.AvgWait)
	assert.Equal(t, DepotSuccess, res.Depots.Status, "bus ends at S1 which is its depot")
}

func TestUnknownRouteIsSkipped(t *testing.T) {
	net := twoStopNetwork(t, 30, "D")
	sched := planner.Schedule{
		"b1":    {{RouteID: "missing", Departure: 0}, {RouteID: "R", Departure: 5}},
		"ghost": {{RouteID: "R", Departure: 0}},
	}
	res := run(t, New(net, sched, riders(4, "D", "S1", 0), config()))

	assert.Equal(t, 4, res.Metrics.Completed)
	assert.Equal(t, 5.0, res.Metrics.AvgWait)
	assert.Len(t, res.Buses, 1)
}

func TestRidersOffRouteAreNotBoarded(t *testing.T) {
	net := twoStopNetwork(t, 30, "D")
	sched := planner.Schedule{"b1": {{RouteID: "R", Departure: 0}}}
	res := run(t, New(net, sched, riders(3, "S1", "D", 0), config()))

	assert.Zero(t, res.Metrics.Completed)
	assert.Equal(t, 3, res.StillWaiting)
	assert.Equal(t, 3, res.Total)
}

func TestBusWithoutTripsStaysHome(t *testing.T) {
	net := twoStopNetwork(t, 30, "D")
	res := run(t, New(net, planner.Schedule{}, nil, config()))

	assert.Equal(t, 1, res.FinalMinute)
	assert.Equal(t, DepotSuccess, res.Depots.Status)
	assert.Equal(t, StatusIdle, res.Buses[0].Status)
}

func TestUnfinishedTripFailsDepotCheck(t *testing.T) {
	net := twoStopNetwork(t, 30, "D")
	cfg := config()
	cfg.End = 5
	sched := planner.Schedule{"b1": {{RouteID: "R", Departure: 0}}}
	res := run(t, New(net, sched, riders(1, "D", "S1", 0), cfg))

	assert.Equal(t, DepotFailed, res.Depots.Status)
	assert.Equal(t, 1, res.StillOnboard)
}

func TestRunHonoursCancellation(t *testing.T) {
	net := twoStopNetwork(t, 30, "D")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(net, planner.Schedule{}, nil, config()).Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestWriteBusCSV(t *testing.T) {
	var buf bytes.Buffer
	err := WriteBusCSV(&buf, []BusEvent{
		{Time: 0, Description: "ready at depot", StopID: "D", Status: StatusAtDepot},
		{Time: 1, Description: "departed D towards S1", Onboard: 4, Direction: "R", Status: StatusEnRoute},
	})
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "time,stop_id,event,onboard,waiting,boarded,alighted,direction,status", lines[0])
	assert.Equal(t, "0,D,ready at depot,0,0,0,0,,AT_DEPOT", lines[1])
	assert.Equal(t, "1,none,departed D towards S1,4,0,0,0,R,EN_ROUTE", lines[2])
}

func TestExportCSVWritesOneFilePerBus(t *testing.T) {
	net := twoStopNetwork(t, 30, "D")
	res := run(t, New(net, planner.Schedule{}, nil, config()))
	dir := t.TempDir()
	require.NoError(t, ExportCSV(dir, res))
	assert.FileExists(t, dir+"/b1.csv")
}
