package transit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseSnapshot() *Snapshot {
	return &Snapshot{
		Stops: []Stop{
			{ID: "D", Name: "Depot", Lat: 41.38, Lon: 2.17, HasLoc: true, AreaID: "area-d"},
			{ID: "S1", Name: "Plaza", Lat: 41.39, Lon: 2.18, HasLoc: true, AreaID: "area-s"},
			{ID: "S2", Name: "Plaza Norte", Lat: 41.40, Lon: 2.18, HasLoc: true, AreaID: "area-s"},
		},
		Routes: []Route{
			{ID: "R1", StopIDs: []string{"D", "S1", "S2"}, TotalMinutes: 20},
			{ID: "short", StopIDs: []string{"D"}, TotalMinutes: 5},
			{ID: "ghost", StopIDs: []string{"D", "X"}, TotalMinutes: 5},
		},
		BusTypes: []BusType{{ID: "std", Capacity: 30}},
		Buses: []Bus{
			{ID: "b2", TypeID: "std", DepotStopID: "D"},
			{ID: "b1", TypeID: "std", DepotStopID: "D"},
			{ID: "b3", TypeID: "missing", DepotStopID: "D"},
		},
		Demand: []DemandRecord{
			{OriginAreaID: "area-d", DestAreaID: "area-s", Count: 4, StartMinute: 480, EndMinute: 540},
			{OriginAreaID: "nowhere", DestAreaID: "area-s", Count: 2},
			{OriginAreaID: "S2", DestAreaID: "D", Count: 1},
		},
	}
}

func TestBuildIndexesAndFilters(t *testing.T) {
	n, err := Build(baseSnapshot())
	require.NoError(t, err)

	assert.Len(t, n.Routes, 1)
	_, ok := n.Route("short")
	assert.False(t, ok)
	_, ok = n.Route("ghost")
	assert.False(t, ok)

	require.Len(t, n.Buses, 2)
	assert.Equal(t, "b1", n.Buses[0].ID)
	assert.Equal(t, "b2", n.Buses[1].ID)

	require.Len(t, n.Demand, 2)
	assert.Equal(t, "D", n.Demand[0].Origin)
	assert.Equal(t, "S1", n.Demand[0].Dest, "first stop point of the area represents it")
	assert.Equal(t, "S2", n.Demand[1].Origin, "stop id without own area stands for itself")
}

func TestBuildFatalOnEmptyTables(t *testing.T) {
	s := baseSnapshot()
	s.Stops = nil
	_, err := Build(s)
	assert.ErrorIs(t, err, ErrNoStops)

	s = baseSnapshot()
	s.BusTypes = nil
	_, err = Build(s)
	assert.ErrorIs(t, err, ErrNoBusTypes)

	s = baseSnapshot()
	s.Buses = nil
	_, err = Build(s)
	assert.ErrorIs(t, err, ErrNoBuses)

	s = baseSnapshot()
	s.Routes = nil
	_, err = Build(s)
	assert.ErrorIs(t, err, ErrNoRoutes)
}

func TestRouteGeometry(t *testing.T) {
	r := Route{ID: "R", StopIDs: []string{"A", "B", "C", "B"}, TotalMinutes: 14}
	assert.Equal(t, 5, r.SegmentMinutes())
	assert.Equal(t, 15, r.DurationMinutes())
	assert.True(t, r.Serves("A", "C"))
	assert.True(t, r.Serves("C", "B"))
	assert.False(t, r.Serves("C", "A"))
	assert.Equal(t, 3, r.IndexOf("B", 2))
}

func TestLookupsReportMissing(t *testing.T) {
	n, err := Build(baseSnapshot())
	require.NoError(t, err)

	_, ok := n.Stop("nope")
	assert.False(t, ok)
	_, ok = n.BusType("nope")
	assert.False(t, ok)
	capacity, ok := n.Capacity(n.Buses[0])
	assert.True(t, ok)
	assert.Equal(t, 30, capacity)
	assert.Len(t, n.RoutesFrom("D"), 1)
	assert.Empty(t, n.RoutesFrom("S1"))
	assert.Len(t, n.FleetByType()["std"], 2)
}
