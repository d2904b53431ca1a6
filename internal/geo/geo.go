package geo

import (
	"fmt"
	"math"
)

// EarthRadiusKm is Earth's radius used by the haversine formula.
const EarthRadiusKm = 6371.0

type Point struct {
	Lat float64
	Lon float64
}

// DistanceKm returns the great-circle distance between two points in km.
func DistanceKm(a, b Point) float64 {
	const degToRad = math.Pi / 180

	dLat := (b.Lat - a.Lat) * degToRad
	dLon := (b.Lon - a.Lon) * degToRad

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(a.Lat*degToRad)*math.Cos(b.Lat*degToRad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return EarthRadiusKm * c
}

type Coverage struct {
	WithinZone bool
	DistanceKm float64
	Message    string
}

// CheckCoverage reports whether the client is inside the restaurant's
// delivery radius. The boundary itself counts as inside. Message is
// persisted verbatim as a cancellation note when the check fails.
func CheckCoverage(restaurant, client Point, maxRadiusKm float64) Coverage {
	dist := DistanceKm(restaurant, client)
	within := dist <= maxRadiusKm

	var msg string
	if within {
		msg = fmt.Sprintf("address inside coverage zone (%.2f km)", dist)
	} else {
		msg = fmt.Sprintf("address outside coverage zone (distance: %.2f km, max: %g km)", dist, maxRadiusKm)
	}

	return Coverage{
		WithinZone: within,
		DistanceKm: math.Round(dist*100) / 100,
		Message:    msg,
	}
}
