package geo

import (
	"math"

	"github.com/mmcloughlin/geohash"

	"dispatch/internal/domain"
)

// CellPrecision is the geohash length stored with every pickup. A cell at
// this precision spans 180/1024 degrees of latitude and 360/1024 of longitude.
const CellPrecision = 4

const (
	cellHeightDeg = 180.0 / 1024
	cellWidthDeg  = 360.0 / 1024
	kmPerDegree   = EarthRadiusKm * math.Pi / 180
)

// Cell returns the pickup cell for c.
func Cell(c domain.Coordinate) string {
	return geohash.EncodeWithPrecision(c.Lat, c.Lng, CellPrecision)
}

// CoverCells returns the cell containing center and its eight neighbours when
// that block is guaranteed to contain every point within radiusKm. It returns
// nil when it is not, and callers must then scan without a cell filter.
func CoverCells(center domain.Coordinate, radiusKm float64) []string {
	if radiusKm <= 0 || !ValidCoordinate(center) {
		return nil
	}

	// Any point of the center cell is at least one full cell away from the
	// outer edge of the 3x3 block.
	if radiusKm >= cellHeightDeg*kmPerDegree {
		return nil
	}
	// Cells narrow towards the poles; measure at the far edge of the block.
	edgeLat := math.Min(90, math.Abs(center.Lat)+2*cellHeightDeg)
	if radiusKm >= cellWidthDeg*kmPerDegree*math.Cos(edgeLat*math.Pi/180) {
		return nil
	}
	// Neighbours do not wrap cleanly across the antimeridian.
	if math.Abs(center.Lng)+2*cellWidthDeg >= 180 {
		return nil
	}

	hash := Cell(center)
	return append([]string{hash}, geohash.Neighbors(hash)...)
}
