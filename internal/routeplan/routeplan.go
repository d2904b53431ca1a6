package routeplan

import (
	"math"

	"github.com/rotafood/dispatchbox/internal/geo"
)

// AverageSpeedKmh is the assumed urban courier speed used to turn leg
// distances into a time estimate. This is an approximation, not a routed ETA.
const AverageSpeedKmh = 25.0

// Stop is one delivery destination in a courier's batch. OrderID is opaque
// to the planner; it only identifies the stop to the caller.
type Stop struct {
	OrderID int64
	Point   geo.Point
}

// Optimize sequences stops with the nearest-neighbor heuristic: starting at
// origin, repeatedly move to the closest unvisited stop. Ties keep the first
// stop encountered in input order, so the result is deterministic. O(n²),
// fine for courier batches bounded by capacity.
func Optimize(origin geo.Point, stops []Stop) []Stop {
	if len(stops) <= 1 {
		return append([]Stop(nil), stops...)
	}

	remaining := append([]Stop(nil), stops...)
	ordered := make([]Stop, 0, len(stops))
	current := origin

	for len(remaining) > 0 {
		best := 0
		bestDist := math.Inf(1)
		for i, s := range remaining {
			if d := geo.DistanceKm(current, s.Point); d < bestDist {
				bestDist = d
				best = i
			}
		}

		next := remaining[best]
		ordered = append(ordered, next)
		remaining = append(remaining[:best], remaining[best+1:]...)
		current = next.Point
	}

	return ordered
}

type RouteMetrics struct {
	TotalDistanceKm float64
	TotalTimeMin    int
}

// Metrics sums the legs of an already-ordered route, starting at origin,
// and converts distance into minutes at AverageSpeedKmh.
func Metrics(origin geo.Point, ordered []Stop) RouteMetrics {
	if len(ordered) == 0 {
		return RouteMetrics{}
	}

	total := 0.0
	current := origin
	for _, s := range ordered {
		total += geo.DistanceKm(current, s.Point)
		current = s.Point
	}

	return RouteMetrics{
		TotalDistanceKm: math.Round(total*100) / 100,
		TotalTimeMin:    int(math.Round(total / AverageSpeedKmh * 60)),
	}
}
