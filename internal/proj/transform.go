package proj

import (
	"fmt"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"
)

// SRID constants for the supported projections
const (
	SRID4326 = 4326 // WGS84 (lat/lon)
	SRID3857 = 3857 // Web Mercator
)

// maxMercatorLat keeps Web Mercator y finite near the poles
const maxMercatorLat = 85.06

// Transformer reprojects output geometries from WGS84
type Transformer struct {
	TargetSRID int
}

// NewTransformer creates a transformer from WGS84 to the target SRID
func NewTransformer(targetSRID int) (*Transformer, error) {
	if targetSRID != SRID4326 && targetSRID != SRID3857 {
		return nil, fmt.Errorf("unsupported target SRID: %d (only 4326 and 3857 supported)", targetSRID)
	}
	return &Transformer{TargetSRID: targetSRID}, nil
}

// NeedsTransform returns true if transformation is required
func (t *Transformer) NeedsTransform() bool {
	return t != nil && t.TargetSRID != SRID4326
}

// Point converts a single WGS84 coordinate
func (t *Transformer) Point(p orb.Point) orb.Point {
	if !t.NeedsTransform() {
		return p
	}
	return toMercator(p)
}

// Geometry returns a reprojected copy of g. The input is not modified.
func (t *Transformer) Geometry(g orb.Geometry) orb.Geometry {
	if !t.NeedsTransform() {
		return g
	}
	return project.Geometry(orb.Clone(g), toMercator)
}

func toMercator(p orb.Point) orb.Point {
	if p[1] > maxMercatorLat {
		p[1] = maxMercatorLat
	} else if p[1] < -maxMercatorLat {
		p[1] = -maxMercatorLat
	}
	return project.WGS84.ToMercator(p)
}

// ParseSRID parses a projection string to SRID
// Accepts: "4326", "3857", "EPSG:4326", "EPSG:3857"
func ParseSRID(s string) (int, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "4326", "EPSG:4326":
		return SRID4326, nil
	case "3857", "EPSG:3857":
		return SRID3857, nil
	default:
		return 0, fmt.Errorf("unsupported projection: %s (supported: 4326, 3857)", s)
	}
}
