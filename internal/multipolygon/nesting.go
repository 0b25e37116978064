package multipolygon

import (
	"github.com/paulmach/orb"

	"github.com/wegman-software/osmboundaries-go/internal/geom"
)

// ringInfo is a closed ring awaiting classification
type ringInfo struct {
	ring  orb.Ring
	inner bool // came from inner-role members
	area  float64
}

// containmentParents returns, for each ring, the index of the smallest ring
// containing it, or -1. A parent is always strictly larger, or equal in
// size and earlier, so the result is a forest.
func containmentParents(rings []ringInfo) []int {
	parents := make([]int, len(rings))
	for i := range rings {
		parents[i] = -1
		for j := range rings {
			if i == j {
				continue
			}
			if rings[j].area < rings[i].area || (rings[j].area == rings[i].area && j > i) {
				continue
			}
			if p := parents[i]; p >= 0 && rings[p].area <= rings[j].area {
				continue
			}
			if geom.Contains(rings[j].ring, rings[i].ring) {
				parents[i] = j
			}
		}
	}
	return parents
}

func depths(parents []int) []int {
	d := make([]int, len(parents))
	for i := range parents {
		for p := parents[i]; p >= 0; p = parents[p] {
			d[i]++
		}
	}
	return d
}

// nest turns rings into polygons. Rings at even depth of the containment
// forest are outer rings; rings at odd depth are holes of their parent.
// Inner-role rings that no other ring contains are returned as orphans and
// left out of the result.
func nest(rings []ringInfo) (polys []Polygon, orphans []ringInfo) {
	for {
		parents := containmentParents(rings)
		d := depths(parents)

		kept := rings[:0:0]
		for i, r := range rings {
			if r.inner && parents[i] < 0 {
				orphans = append(orphans, r)
				continue
			}
			kept = append(kept, r)
		}
		if len(kept) < len(rings) {
			rings = kept
			continue
		}

		polyOf := make(map[int]int)
		for i, r := range rings {
			if d[i]%2 == 0 {
				polyOf[i] = len(polys)
				polys = append(polys, Polygon{Outer: geom.Orient(r.ring, orb.CCW)})
			}
		}
		for i, r := range rings {
			if d[i]%2 == 1 {
				k := polyOf[parents[i]]
				polys[k].Inners = append(polys[k].Inners, geom.Orient(r.ring, orb.CW))
			}
		}
		return polys, orphans
	}
}
