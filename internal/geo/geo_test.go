package geo

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDistanceKm_Zero(t *testing.T) {
	p := Point{Lat: -23.5505, Lon: -46.6333}
	require.InDelta(t, 0, DistanceKm(p, p), 1e-9)
}

func TestDistanceKm_KnownPairs(t *testing.T) {
	// São Paulo (Sé) -> Rio de Janeiro (centro), ~357 km great-circle.
	sp := Point{Lat: -23.5505, Lon: -46.6333}
	rio := Point{Lat: -22.9068, Lon: -43.1729}
	d := DistanceKm(sp, rio)
	require.InDelta(t, 357, d, 5)

	// Symmetric.
	require.InDelta(t, d, DistanceKm(rio, sp), 1e-9)

	// One degree of latitude is ~111.19 km.
	a := Point{Lat: 0, Lon: 0}
	b := Point{Lat: 1, Lon: 0}
	require.InDelta(t, 111.19, DistanceKm(a, b), 0.1)
}

func TestCheckCoverage_InsideOutside(t *testing.T) {
	rest := Point{Lat: -23.5505, Lon: -46.6333}

	near := Point{Lat: -23.5605, Lon: -46.6333} // ~1.1 km south
	cov := CheckCoverage(rest, near, 10)
	require.True(t, cov.WithinZone)
	require.Contains(t, cov.Message, "inside coverage zone")

	far := Point{Lat: -23.5505, Lon: -46.9} // well past 10 km
	cov = CheckCoverage(rest, far, 10)
	require.False(t, cov.WithinZone)
	require.Contains(t, cov.Message, "outside coverage zone")
	require.Greater(t, cov.DistanceKm, 10.0)
}

func TestCheckCoverage_BoundaryIsInside(t *testing.T) {
	rest := Point{Lat: 0, Lon: 0}
	client := Point{Lat: 0.05, Lon: 0}
	radius := DistanceKm(rest, client)

	cov := CheckCoverage(rest, client, radius)
	require.True(t, cov.WithinZone)
}

func TestCheckCoverage_MatchesDistance(t *testing.T) {
	// within_zone must equal (distance <= radius) for arbitrary inputs.
	r := rand.New(rand.NewSource(42))
	for i := 0; i < 500; i++ {
		rest := Point{Lat: r.Float64()*180 - 90, Lon: r.Float64()*360 - 180}
		client := Point{Lat: r.Float64()*180 - 90, Lon: r.Float64()*360 - 180}
		radius := r.Float64() * 100

		cov := CheckCoverage(rest, client, radius)
		require.Equal(t, DistanceKm(rest, client) <= radius, cov.WithinZone)
	}
}
