package geo

import (
	"math"
	"testing"

	"dispatch/internal/domain"
)

func TestCoverCells_ContainsEveryPointInRadius(t *testing.T) {
	t.Parallel()

	centers := []domain.Coordinate{
		{Lat: 0, Lng: 0},
		{Lat: 12.91, Lng: 77.61},
		{Lat: 51.5, Lng: -0.12},
		{Lat: -33.86, Lng: 151.21},
	}
	const radius = 5.0

	for _, center := range centers {
		cells := CoverCells(center, radius)
		if len(cells) != 9 {
			t.Fatalf("expected 9 cells around %v, got %d", center, len(cells))
		}
		set := make(map[string]bool, len(cells))
		for _, c := range cells {
			set[c] = true
		}

		// Walk a ring just inside the radius.
		for deg := 0; deg < 360; deg += 15 {
			p := offset(center, radius*0.999, float64(deg))
			if DistanceKm(center, p) > radius {
				continue
			}
			if !set[Cell(p)] {
				t.Errorf("point %v at bearing %d from %v fell outside cover cells", p, deg, center)
			}
		}
	}
}

func TestCoverCells_FallsBackToFullScan(t *testing.T) {
	t.Parallel()

	if CoverCells(domain.Coordinate{Lat: 0, Lng: 0}, 50) != nil {
		t.Error("expected nil for a radius larger than a cell")
	}
	if CoverCells(domain.Coordinate{Lat: 88, Lng: 0}, 5) != nil {
		t.Error("expected nil near the pole")
	}
	if CoverCells(domain.Coordinate{Lat: 0, Lng: 179.9}, 5) != nil {
		t.Error("expected nil near the antimeridian")
	}
	if CoverCells(domain.Coordinate{Lat: 0, Lng: 0}, 0) != nil {
		t.Error("expected nil for a zero radius")
	}
}

// offset moves p by distKm along bearingDeg on the haversine sphere.
func offset(p domain.Coordinate, distKm, bearingDeg float64) domain.Coordinate {
	lat1 := p.Lat * math.Pi / 180
	lng1 := p.Lng * math.Pi / 180
	brg := bearingDeg * math.Pi / 180
	ang := distKm / EarthRadiusKm

	lat2 := math.Asin(math.Sin(lat1)*math.Cos(ang) + math.Cos(lat1)*math.Sin(ang)*math.Cos(brg))
	lng2 := lng1 + math.Atan2(math.Sin(brg)*math.Sin(ang)*math.Cos(lat1), math.Cos(ang)-math.Sin(lat1)*math.Sin(lat2))

	return domain.Coordinate{Lat: lat2 * 180 / math.Pi, Lng: lng2 * 180 / math.Pi}
}
