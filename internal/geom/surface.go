package geom

import (
	"errors"
	"math"
	"sort"

	"github.com/paulmach/orb"
)

// ErrNoInteriorPoint is returned for polygons without a measurable interior
var ErrNoInteriorPoint = errors.New("polygon has no interior point")

// PointOnSurface returns a point guaranteed to lie in the interior of p.
// A horizontal scanline through the middle of the bounding box, placed
// between vertex latitudes, is intersected with all rings; the midpoint of
// the widest interior span is returned.
func PointOnSurface(p orb.Polygon) (orb.Point, error) {
	if len(p) == 0 || len(p[0]) < MinRingPoints {
		return orb.Point{}, ErrNoInteriorPoint
	}

	y, ok := scanlineY(p)
	if !ok {
		return orb.Point{}, ErrNoInteriorPoint
	}

	var xs []float64
	for _, r := range p {
		for i := 0; i+1 < len(r); i++ {
			a, b := r[i], r[i+1]
			if (a[1] > y) == (b[1] > y) {
				continue
			}
			xs = append(xs, a[0]+(y-a[1])*(b[0]-a[0])/(b[1]-a[1]))
		}
	}
	sort.Float64s(xs)

	best, width := -1, 0.0
	for i := 0; i+1 < len(xs); i += 2 {
		if w := xs[i+1] - xs[i]; w > width {
			best, width = i, w
		}
	}
	if best < 0 {
		return orb.Point{}, ErrNoInteriorPoint
	}

	return orb.Point{(xs[best] + xs[best+1]) / 2, y}, nil
}

// scanlineY picks a latitude near the centre of the outer ring that does not
// pass through any vertex.
func scanlineY(p orb.Polygon) (float64, bool) {
	b := p[0].Bound()
	centre := (b.Min[1] + b.Max[1]) / 2

	ys := make([]float64, 0, len(p[0]))
	for _, r := range p {
		for _, pt := range r {
			ys = append(ys, pt[1])
		}
	}
	sort.Float64s(ys)

	lo, hi := math.Inf(-1), math.Inf(1)
	for _, y := range ys {
		if y <= centre {
			lo = y
		} else {
			hi = y
			break
		}
	}
	if math.IsInf(lo, -1) || math.IsInf(hi, 1) {
		return 0, false
	}
	return (lo + hi) / 2, true
}
