package transit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduleBuilderSharesPatternsPerRoute(t *testing.T) {
	b := NewScheduleBuilder("svc")
	duty := b.Block("b1")
	first := b.Trip(duty, "R1", 0)
	b.Trip(duty, "R2", 30)
	b.Trip(duty, "R1", 60)
	spare := b.Trip(b.Block(""), "R1", 90)

	g := b.Schedule()
	require.Len(t, g.JourneyPatterns, 2)
	require.Len(t, g.Blocks, 2)
	require.Len(t, g.Trips, 4)

	assert.Equal(t, JourneyPattern{ID: "gen-jp-R1", RouteID: "R1", ServiceID: "svc", LineID: "R1"}, g.JourneyPatterns[0])
	assert.Equal(t, first.JourneyPatternID, g.Trips[2].JourneyPatternID)
	assert.Equal(t, duty.ID, g.Trips[2].BlockID)
	assert.Equal(t, "b1", g.Trips[1].BusID)
	assert.Equal(t, 60, g.Trips[2].DepartureMinute)

	assert.Empty(t, spare.BusID)
	assert.Equal(t, g.Blocks[1].ID, spare.BlockID)
	assert.Equal(t, "svc", g.Blocks[1].ServiceID)
	for _, trip := range g.Trips {
		assert.True(t, IsGenerated(trip.ID))
		assert.True(t, IsGenerated(trip.BlockID))
	}
	assert.NotEqual(t, g.Trips[0].ID, g.Trips[2].ID)
}

func TestScheduleBuilderEmpty(t *testing.T) {
	g := NewScheduleBuilder("svc").Schedule()
	assert.Empty(t, g.Trips)
	assert.Empty(t, g.Blocks)
	assert.Empty(t, g.JourneyPatterns)
}
