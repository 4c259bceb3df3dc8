package models

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/paulmach/orb"
)

// GeometryTypePoint is the only geometry type materialized into rows.
const GeometryTypePoint = "Point"

// DefaultSRID is WGS84, assumed when a table carries no SRID.
const DefaultSRID = 4326

// Geometry errors
var (
	ErrUnsupportedGeometry = errors.New("unsupported geometry type")
	ErrInvalidCoordinates  = errors.New("invalid coordinates")
)

// Geometry is a GeoJSON geometry as delivered by the service.
// Coordinates are kept raw so the service payload re-serializes unchanged
// and only supported types are ever decoded.
type Geometry struct {
	Type        string          `json:"type"`
	Coordinates json.RawMessage `json:"coordinates,omitempty"`
}

// Point builds a 2-D point from the first two coordinate values.
// Extra ordinates (Z, M) are ignored; PostGIS and GeoJSON expect lon/lat order.
func (g *Geometry) Point() (orb.Point, error) {
	if g.Type != GeometryTypePoint {
		return orb.Point{}, fmt.Errorf("%w: %s", ErrUnsupportedGeometry, g.Type)
	}

	var coords []float64
	if err := json.Unmarshal(g.Coordinates, &coords); err != nil {
		return orb.Point{}, fmt.Errorf("%w: %v", ErrInvalidCoordinates, err)
	}
	if len(coords) < 2 {
		return orb.Point{}, fmt.Errorf("%w: expected at least 2 values, got %d", ErrInvalidCoordinates, len(coords))
	}

	return orb.Point{coords[0], coords[1]}, nil
}
