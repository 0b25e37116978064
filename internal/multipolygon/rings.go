package multipolygon

import (
	"github.com/paulmach/orb"

	"github.com/wegman-software/osmboundaries-go/internal/geom"
)

type endpoint struct {
	path  int
	atEnd bool
}

// joiner merges open paths that share endpoint coordinates exactly
type joiner struct {
	paths []orb.LineString
	used  []bool
	ends  map[orb.Point][]endpoint
}

func newJoiner(paths []orb.LineString) *joiner {
	j := &joiner{
		paths: paths,
		used:  make([]bool, len(paths)),
		ends:  make(map[orb.Point][]endpoint, 2*len(paths)),
	}
	for i, p := range paths {
		if geom.IsClosed(p) {
			continue
		}
		j.ends[p[0]] = append(j.ends[p[0]], endpoint{i, false})
		j.ends[p[len(p)-1]] = append(j.ends[p[len(p)-1]], endpoint{i, true})
	}
	return j
}

// take removes and returns the first unused path touching pt
func (j *joiner) take(pt orb.Point) (endpoint, bool) {
	list := j.ends[pt]
	for k, e := range list {
		if j.used[e.path] {
			continue
		}
		j.used[e.path] = true
		j.ends[pt] = list[k+1:]
		return e, true
	}
	delete(j.ends, pt)
	return endpoint{}, false
}

// join returns the closed rings and the paths that stayed open, both in
// input order of their first fragment
func (j *joiner) join() (closed []orb.LineString, open []orb.LineString) {
	for i, p := range j.paths {
		if j.used[i] {
			continue
		}
		j.used[i] = true
		if len(p) < 2 {
			continue
		}

		cur := append(orb.LineString(nil), p...)
		for !geom.IsClosed(cur) {
			if e, ok := j.take(cur[len(cur)-1]); ok {
				cur = appendPath(cur, j.paths[e.path], e.atEnd)
				continue
			}
			if e, ok := j.take(cur[0]); ok {
				cur = prependPath(cur, j.paths[e.path], !e.atEnd)
				continue
			}
			break
		}

		loops, rest := splitLoops(cur)
		closed = append(closed, loops...)
		if len(rest) > 1 {
			open = append(open, rest)
		}
	}
	return closed, open
}

// splitLoops cuts a chain into simple rings wherever it revisits a vertex,
// so parts touching at a single node become separate rings. What remains
// after the last cut is returned as rest; it is open or shorter than two
// points.
func splitLoops(chain orb.LineString) (loops []orb.LineString, rest orb.LineString) {
	rest = make(orb.LineString, 0, len(chain))
	seen := make(map[orb.Point]int, len(chain))
	for _, p := range chain {
		k, ok := seen[p]
		if !ok {
			seen[p] = len(rest)
			rest = append(rest, p)
			continue
		}

		loop := make(orb.LineString, 0, len(rest)-k+1)
		loop = append(loop, rest[k:]...)
		loops = append(loops, append(loop, p))
		for _, q := range rest[k+1:] {
			delete(seen, q)
		}
		rest = rest[:k+1]
	}
	return loops, rest
}

// appendPath attaches next to the end of cur. The shared point is kept once.
func appendPath(cur, next orb.LineString, reversed bool) orb.LineString {
	if reversed {
		for k := len(next) - 2; k >= 0; k-- {
			cur = append(cur, next[k])
		}
		return cur
	}
	return append(cur, next[1:]...)
}

// prependPath attaches prev in front of cur. The shared point is kept once.
func prependPath(cur, prev orb.LineString, reversed bool) orb.LineString {
	out := make(orb.LineString, 0, len(cur)+len(prev)-1)
	if reversed {
		for k := len(prev) - 1; k >= 1; k-- {
			out = append(out, prev[k])
		}
	} else {
		out = append(out, prev[:len(prev)-1]...)
	}
	return append(out, cur...)
}

// repair closes leftover open paths. The first remaining path is extended
// towards the nearest candidate endpoint, measured as squared planar
// distance in degrees from its last point. Candidates are its own start,
// then the start and end of every other path in order; ties keep the
// earliest candidate. A connecting segment bridges each gap.
func repair(open []orb.LineString) []orb.LineString {
	var rings []orb.LineString
	for len(open) > 0 {
		p := open[0]
		tail := p[len(p)-1]

		best, bestDist, reversed := 0, sqDist(tail, p[0]), false
		for k := 1; k < len(open); k++ {
			q := open[k]
			if d := sqDist(tail, q[0]); d < bestDist {
				best, bestDist, reversed = k, d, false
			}
			if d := sqDist(tail, q[len(q)-1]); d < bestDist {
				best, bestDist, reversed = k, d, true
			}
		}

		if best == 0 {
			rings = append(rings, append(p, p[0]))
			open = open[1:]
			continue
		}

		q := open[best]
		merged := append(orb.LineString(nil), p...)
		if reversed {
			for k := len(q) - 1; k >= 0; k-- {
				merged = append(merged, q[k])
			}
		} else {
			merged = append(merged, q...)
		}
		if geom.IsClosed(merged) {
			rings = append(rings, merged)
			open = append(open[1:best], open[best+1:]...)
			continue
		}
		open[0] = merged
		open = append(open[:best], open[best+1:]...)
	}
	return rings
}

func sqDist(a, b orb.Point) float64 {
	dx, dy := a[0]-b[0], a[1]-b[1]
	return dx*dx + dy*dy
}
