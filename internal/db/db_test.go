package db

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetsim/internal/transit"
)

func memStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	ctx := context.Background()
	require.NoError(t, s.Ping(ctx))
	require.NoError(t, s.EnsureSchema(ctx))
	return s
}

func sampleSnapshot() *transit.Snapshot {
	return &transit.Snapshot{
		Stops: []transit.Stop{
			{ID: "D", Name: "Depot", Lat: 41.38, Lon: 2.17, HasLoc: true, AreaID: "area-1"},
			{ID: "S1", Name: "Plaça", Lat: 41.385, Lon: 2.175, HasLoc: true},
			{ID: "S2", Name: "Unmapped"},
		},
		BusTypes: []transit.BusType{{ID: "std", Name: "Standard", Capacity: 60}},
		Routes: []transit.Route{
			{ID: "R1", Name: "Line 1", StopIDs: []string{"D", "S1", "S2"}, TotalMinutes: 24},
			{ID: "R2", Name: "Line 2", StopIDs: []string{"S2", "D"}, TotalMinutes: 9},
		},
		Buses: []transit.Bus{
			{ID: "b1", TypeID: "std", DepotStopID: "D", Operator: "TMB"},
			{ID: "b2", TypeID: "std", DepotStopID: "D"},
		},
		Demand: []transit.DemandRecord{
			{OriginAreaID: "area-1", DestAreaID: "S1", Count: 12.5, StartMinute: 480, EndMinute: 540},
			{OriginAreaID: "S1", DestAreaID: "S2", Count: 3, StartMinute: 60, EndMinute: 120},
		},
	}
}

func TestImportAndLoadSnapshot(t *testing.T) {
	s := memStore(t)
	ctx := context.Background()
	want := sampleSnapshot()
	require.NoError(t, s.ImportSnapshot(ctx, want))

	got, err := s.LoadSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, want.Stops, got.Stops)
	assert.Equal(t, want.BusTypes, got.BusTypes)
	assert.Equal(t, want.Routes, got.Routes)
	assert.Equal(t, want.Buses, got.Buses)
	require.Len(t, got.Demand, 2)
	assert.Equal(t, want.Demand[1], got.Demand[0], "demand is ordered by start minute")

	// a second import replaces rather than appends
	require.NoError(t, s.ImportSnapshot(ctx, want))
	again, err := s.LoadSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, got, again)

	net, err := transit.Build(got)
	require.NoError(t, err)
	assert.Len(t, net.Demand, 2)
}

func TestSaveGeneratedTripsReplacesOnlyGeneratedRows(t *testing.T) {
	s := memStore(t)
	ctx := context.Background()

	_, err := s.DB().ExecContext(ctx,
		`INSERT INTO trips (trip_id, route_id, journey_pattern_id, block_id, bus_id, departure_minute) VALUES (?, ?, ?, ?, ?, ?)`,
		"manual-1", "R1", "jp-manual", "blk-manual", "b1", 300)
	require.NoError(t, err)

	first := transit.GeneratedSchedule{
		JourneyPatterns: []transit.JourneyPattern{{ID: "gen-jp-R1", RouteID: "R1", ServiceID: "svc", LineID: "R1"}},
		Blocks: []transit.Block{
			{ID: "gen-blk-1", ServiceID: "svc", BusID: "b1"},
			{ID: "gen-blk-2", ServiceID: "svc"},
		},
		Trips: []transit.Trip{
			{ID: "gen-trip-1", RouteID: "R1", JourneyPatternID: "gen-jp-R1", BlockID: "gen-blk-1", BusID: "b1", DepartureMinute: 420},
			{ID: "gen-trip-2", RouteID: "R1", JourneyPatternID: "gen-jp-R1", BlockID: "gen-blk-2", DepartureMinute: 360},
		},
	}
	n, err := s.SaveGeneratedTrips(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	trips, err := s.FetchGeneratedTrips(ctx)
	require.NoError(t, err)
	require.Len(t, trips, 2)
	assert.Equal(t, "gen-trip-2", trips[0].ID)
	assert.Empty(t, trips[0].BusID)
	assert.Equal(t, "b1", trips[1].BusID)

	second := transit.GeneratedSchedule{
		JourneyPatterns: first.JourneyPatterns,
		Blocks:          first.Blocks[:1],
		Trips:           first.Trips[:1],
	}
	n, err = s.SaveGeneratedTrips(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	trips, err = s.FetchGeneratedTrips(ctx)
	require.NoError(t, err)
	require.Len(t, trips, 1)
	assert.Equal(t, "gen-trip-1", trips[0].ID)

	var manual int
	require.NoError(t, s.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM trips WHERE trip_id = 'manual-1'`).Scan(&manual))
	assert.Equal(t, 1, manual)
}

func TestSaveGeneratedTripsRollsBackOnFailure(t *testing.T) {
	s := memStore(t)
	ctx := context.Background()
	ok := transit.GeneratedSchedule{
		JourneyPatterns: []transit.JourneyPattern{{ID: "gen-jp-R1", RouteID: "R1", ServiceID: "svc", LineID: "R1"}},
	}
	_, err := s.SaveGeneratedTrips(ctx, ok)
	require.NoError(t, err)

	dup := transit.GeneratedSchedule{
		Trips: []transit.Trip{
			{ID: "gen-trip-x", RouteID: "R1", JourneyPatternID: "gen-jp-R1", BlockID: "b"},
			{ID: "gen-trip-x", RouteID: "R1", JourneyPatternID: "gen-jp-R1", BlockID: "b"},
		},
	}
	_, err = s.SaveGeneratedTrips(ctx, dup)
	require.Error(t, err)

	var patterns int
	require.NoError(t, s.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM journey_patterns`).Scan(&patterns))
	assert.Equal(t, 1, patterns, "failed save leaves the previous run intact")
}

func TestDriverFor(t *testing.T) {
	for dsn, want := range map[string][2]string{
		"sqlite:///tmp/net.db":              {driverSQLite, "/tmp/net.db"},
		"file:net.db?_fk=1":                 {driverSQLite, "file:net.db?_fk=1"},
		":memory:":                          {driverSQLite, ":memory:"},
		"scenarios/bcn.sqlite":              {driverSQLite, "scenarios/bcn.sqlite"},
		"postgres://u@localhost:5432/fleet": {driverPostgres, "postgres://u@localhost:5432/fleet"},
	} {
		d, src := driverFor(dsn)
		assert.Equal(t, want[0], d, dsn)
		assert.Equal(t, want[1], src, dsn)
	}
}

func TestRebind(t *testing.T) {
	q := `INSERT INTO t (a, b) VALUES ($1, $2) -- cost $`
	assert.Equal(t, q, rebind(driverPostgres, q))
	assert.Equal(t, `INSERT INTO t (a, b) VALUES (?, ?) -- cost $`, rebind(driverSQLite, q))
}

func TestWithDBName(t *testing.T) {
	got, err := WithDBName("postgres://u:p@db:5432/postgres?sslmode=disable", "scenario_bcn")
	require.NoError(t, err)
	assert.Equal(t, "postgres://u:p@db:5432/scenario_bcn?sslmode=disable", got)

	_, err = WithDBName("sqlite://net.db", "other")
	assert.Error(t, err)
	_, err = WithDBName("", "x")
	assert.Error(t, err)
}
