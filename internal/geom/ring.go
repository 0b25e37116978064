package geom

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// MinRingPoints is the smallest closed ring that encloses an area
const MinRingPoints = 4

// IsClosed reports whether a coordinate sequence ends where it starts
func IsClosed(ls orb.LineString) bool {
	return len(ls) > 1 && ls[0] == ls[len(ls)-1]
}

// IsAreaRing reports whether ls is closed and long enough to be a ring
func IsAreaRing(ls orb.LineString) bool {
	return len(ls) >= MinRingPoints && IsClosed(ls)
}

// Orient returns r wound in the given direction, reversing it in place when needed
func Orient(r orb.Ring, dir orb.Orientation) orb.Ring {
	if r.Orientation() != dir {
		r.Reverse()
	}
	return r
}

// RingArea returns the unsigned planar area of a ring
func RingArea(r orb.Ring) float64 {
	return math.Abs(planar.Area(r))
}

// Contains reports whether inner lies inside outer. Rings built from shared
// boundaries may touch or share edges, so vertices of inner cannot decide:
// a point strictly inside inner is tested instead. Rings of equal area never
// contain each other.
func Contains(outer, inner orb.Ring) bool {
	if !outer.Bound().Contains(inner.Bound().Min) || !outer.Bound().Contains(inner.Bound().Max) {
		return false
	}
	if RingArea(inner) >= RingArea(outer) {
		return false
	}

	p, err := PointOnSurface(orb.Polygon{inner})
	if err != nil {
		return false
	}
	return planar.RingContains(outer, p)
}
