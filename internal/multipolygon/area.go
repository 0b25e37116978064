package multipolygon

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// Origin tells whether an Area was built from a single way or a relation
type Origin int

const (
	FromWay Origin = iota
	FromRelation
)

// String returns the from_type value written to the output
func (o Origin) String() string {
	if o == FromRelation {
		return "r"
	}
	return "w"
}

// Polygon is one part of an Area: an outer ring with the holes directly inside it
type Polygon struct {
	Outer  orb.Ring
	Inners []orb.Ring
}

// Geometry returns the part as an orb polygon, outer ring first
func (p Polygon) Geometry() orb.Polygon {
	poly := make(orb.Polygon, 0, 1+len(p.Inners))
	poly = append(poly, p.Outer)
	return append(poly, p.Inners...)
}

// Area is a closed polygonal feature assembled from a way or a relation.
// It always holds at least one Polygon.
type Area struct {
	Origin   Origin
	ID       int64
	Polygons []Polygon
	Tags     map[string]string
}

// MultiPolygon returns all parts as one geometry
func (a *Area) MultiPolygon() orb.MultiPolygon {
	mp := make(orb.MultiPolygon, len(a.Polygons))
	for i, p := range a.Polygons {
		mp[i] = p.Geometry()
	}
	return mp
}

// PlanarArea returns the area of all parts in squared coordinate units,
// holes subtracted
func (a *Area) PlanarArea() float64 {
	return planar.Area(a.MultiPolygon())
}

// Name returns the name tag, empty if unset
func (a *Area) Name() string {
	return a.Tags["name"]
}

// Rings returns the number of outer and inner rings
func (a *Area) Rings() (outers, inners int) {
	for _, p := range a.Polygons {
		outers++
		inners += len(p.Inners)
	}
	return outers, inners
}
