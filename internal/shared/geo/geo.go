package geo

import (
	"math"
	"time"
)

const earthRadiusM = 6371e3

// DistanceM returns the great-circle distance between two coordinates in
// meters using the haversine formula.
func DistanceM(lat1, lng1, lat2, lng2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lng2 - lng1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusM * c
}

func HaversineKm(lat1, lng1, lat2, lng2 float64) float64 {
	return DistanceM(lat1, lng1, lat2, lng2) / 1000
}

// SpeedKmh derives speed from a distance covered over an elapsed duration.
// Non-positive durations yield zero rather than an infinity.
func SpeedKmh(distanceM float64, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}
	return distanceM / elapsed.Seconds() * 3.6
}
