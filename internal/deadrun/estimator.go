package deadrun

import (
	"math"

	"fleetsim/internal/transit"
)

const (
	earthRadiusKm    = 6371.0
	DefaultSpeedKmph = 30.0
	// FallbackMinutes is used when coordinates or speed are unusable.
	FallbackMinutes = 5
	RushMultiplier  = 1.5
)

// Estimator converts great-circle distance between stops into dead-run
// minutes at a fixed average speed.
type Estimator struct {
	SpeedKmph float64
}

func NewEstimator(speedKmph float64) *Estimator {
	return &Estimator{SpeedKmph: speedKmph}
}

// Minutes estimates the dead-run time from one stop to another when leaving
// at minute-of-day at. The result is at least one minute.
func (e *Estimator) Minutes(from, to transit.Stop, at int) int {
	if !from.HasLoc || !to.HasLoc || e.SpeedKmph <= 0 {
		return FallbackMinutes
	}
	km := HaversineKm(from.Lat, from.Lon, to.Lat, to.Lon)
	minutes := km / e.SpeedKmph * 60
	if IsRushHour(at) {
		minutes *= RushMultiplier
	}
	return max(1, int(math.Ceil(minutes)))
}

// IsRushHour reports whether minute-of-day falls in 07:00-09:00 or 16:00-18:00.
func IsRushHour(minute int) bool {
	h := (minute / 60) % 24
	if h < 0 {
		h += 24
	}
	return (h >= 7 && h < 9) || (h >= 16 && h < 18)
}

// HaversineKm is the great-circle distance in kilometres.
func HaversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	toRad := func(d float64) float64 { return d * math.Pi / 180 }
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusKm * c
}
