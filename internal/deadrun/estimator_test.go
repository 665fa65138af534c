package deadrun

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"fleetsim/internal/transit"
)

var (
	plazaCatalunya = transit.Stop{ID: "pc", Lat: 41.3870, Lon: 2.1700, HasLoc: true}
	sagrada        = transit.Stop{ID: "sf", Lat: 41.4036, Lon: 2.1744, HasLoc: true}
)

func TestHaversineKnownDistance(t *testing.T) {
	// Barcelona to Madrid is roughly 505 km.
	d := HaversineKm(41.3874, 2.1686, 40.4168, -3.7038)
	assert.InDelta(t, 505, d, 5)
	assert.Zero(t, HaversineKm(1, 1, 1, 1))
}

func TestMinutesOffPeak(t *testing.T) {
	e := NewEstimator(30)
	// ~1.88 km at 30 km/h is 3.76 min, rounded up.
	assert.Equal(t, 4, e.Minutes(plazaCatalunya, sagrada, 11*60))
}

func TestRushHourIsNeverFaster(t *testing.T) {
	e := NewEstimator(DefaultSpeedKmph)
	for _, rush := range []int{7 * 60, 8*60 + 59, 16 * 60, 17*60 + 30} {
		assert.True(t, IsRushHour(rush))
		assert.GreaterOrEqual(t, e.Minutes(plazaCatalunya, sagrada, rush), e.Minutes(plazaCatalunya, sagrada, 12*60))
	}
	assert.Equal(t, 6, e.Minutes(plazaCatalunya, sagrada, 8*60))
	assert.False(t, IsRushHour(9*60))
	assert.False(t, IsRushHour(18*60))
	assert.True(t, IsRushHour(24*60+7*60))
}

func TestFallbacks(t *testing.T) {
	e := NewEstimator(30)
	noLoc := transit.Stop{ID: "x"}
	assert.Equal(t, FallbackMinutes, e.Minutes(noLoc, sagrada, 600))
	assert.Equal(t, FallbackMinutes, NewEstimator(0).Minutes(plazaCatalunya, sagrada, 600))
	assert.Equal(t, 1, e.Minutes(sagrada, sagrada, 600), "minimum is one minute")
}
