// Package geo provides the distance primitives used to weigh geographic
// plausibility during prefix disambiguation.
package geo

import "math"

const earthRadiusMeters = 6371000.0

// Distance returns the Haversine great-circle distance in meters between two
// coordinates.
func Distance(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := radians(lat2 - lat1)
	dLon := radians(lon2 - lon1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(radians(lat1))*math.Cos(radians(lat2))*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusMeters * c
}

// Band describes one proximity band: distances up to MaxMeters score Score.
type Band struct {
	MaxMeters float64 `yaml:"max_meters"`
	Score     float64 `yaml:"score"`
}

// DefaultBands are the proximity bands for typical LoRa mesh deployments.
// Anything beyond the last band scores DefaultFarScore.
var DefaultBands = []Band{
	{MaxMeters: 500, Score: 1.0},
	{MaxMeters: 2000, Score: 0.8},
	{MaxMeters: 5000, Score: 0.5},
	{MaxMeters: 10000, Score: 0.3},
}

// DefaultFarScore is the proximity score past the outermost band.
const DefaultFarScore = 0.1

// ProximityScore maps a distance in meters onto a 0-1 plausibility score
// using the supplied bands. Bands must be ordered by ascending MaxMeters;
// far is the score past the outermost band, DefaultFarScore when zero.
func ProximityScore(meters float64, bands []Band, far float64) float64 {
	if len(bands) == 0 {
		bands = DefaultBands
	}
	if far <= 0 {
		far = DefaultFarScore
	}
	for _, b := range bands {
		if meters <= b.MaxMeters {
			return b.Score
		}
	}
	return far
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}
