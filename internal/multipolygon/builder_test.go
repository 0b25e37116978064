package multipolygon

import (
	"errors"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/osm"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/wegman-software/osmboundaries-go/internal/relindex"
)

type wayMap map[int64]Way

func (m wayMap) Way(id int64) (Way, bool) {
	w, ok := m[id]
	return w, ok
}

func line(pts ...float64) orb.LineString {
	ls := make(orb.LineString, 0, len(pts)/2)
	for i := 0; i+1 < len(pts); i += 2 {
		ls = append(ls, orb.Point{pts[i], pts[i+1]})
	}
	return ls
}

func squareLine(x0, y0, size float64) orb.LineString {
	return line(x0, y0, x0+size, y0, x0+size, y0+size, x0, y0+size, x0, y0)
}

func entry(id int64, tags map[string]string, members ...relindex.Member) *relindex.Entry {
	return &relindex.Entry{ID: id, Members: members, Tags: tags}
}

func outer(id int64) relindex.Member { return relindex.Member{WayID: id, Role: "outer"} }
func inner(id int64) relindex.Member { return relindex.Member{WayID: id, Role: "inner"} }

func newBuilder(repair bool) (*Builder, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return NewBuilder(Options{AttemptRepair: repair, Logger: zap.New(core)}), logs
}

func TestBuildRelationJoinsFragments(t *testing.T) {
	tests := []struct {
		name      string
		ways      wayMap
		wantVerts int
	}{
		{
			name: "two halves",
			ways: wayMap{
				1: {Coords: line(0, 0, 1, 0, 1, 1)},
				2: {Coords: line(1, 1, 0, 1, 0, 0)},
			},
			wantVerts: 3 + 3 - 1,
		},
		{
			name: "four sides with mixed direction",
			ways: wayMap{
				1: {Coords: line(0, 0, 1, 0)},
				2: {Coords: line(1, 1, 1, 0)},
				3: {Coords: line(1, 1, 0.5, 1.5, 0, 1)},
				4: {Coords: line(0, 0, 0, 1)},
			},
			wantVerts: 2 + 2 + 3 + 2 - 4 + 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, _ := newBuilder(false)
			var members []relindex.Member
			for id := int64(1); id <= int64(len(tt.ways)); id++ {
				members = append(members, outer(id))
			}
			a, err := b.BuildRelation(entry(1, nil, members...), tt.ways)
			if err != nil {
				t.Fatalf("BuildRelation failed: %v", err)
			}
			if len(a.Polygons) != 1 {
				t.Fatalf("expected 1 polygon, got %d", len(a.Polygons))
			}
			ring := a.Polygons[0].Outer
			if len(ring) != tt.wantVerts {
				t.Errorf("ring has %d vertices, want %d", len(ring), tt.wantVerts)
			}
			if !ring.Closed() {
				t.Error("ring is not closed")
			}
			if ring.Orientation() != orb.CCW {
				t.Error("outer ring should be counter-clockwise")
			}
		})
	}
}

func TestBuildRelationThreeLevelNesting(t *testing.T) {
	ways := wayMap{
		1: {Coords: squareLine(0, 0, 10)},
		2: {Coords: squareLine(2, 2, 6)},
		3: {Coords: squareLine(4, 4, 2)},
		4: {Coords: squareLine(20, 20, 1)},
	}
	b, _ := newBuilder(false)
	a, err := b.BuildRelation(entry(1, nil, outer(1), inner(2), outer(3), outer(4)), ways)
	if err != nil {
		t.Fatalf("BuildRelation failed: %v", err)
	}

	if outers, inners := a.Rings(); outers != 3 || inners != 1 {
		t.Fatalf("got %d outers and %d inners, want 3 and 1", outers, inners)
	}

	// R1 keeps R2 as its hole; R3 sits inside R2 and becomes its own part
	p := a.Polygons[0]
	if p.Outer.Bound().Max != (orb.Point{10, 10}) || len(p.Inners) != 1 {
		t.Fatalf("unexpected first polygon %v", p)
	}
	if p.Inners[0].Bound().Min != (orb.Point{2, 2}) {
		t.Errorf("hole of R1 should be R2, got %v", p.Inners[0].Bound())
	}
	if p.Inners[0].Orientation() != orb.CW {
		t.Error("inner ring should be clockwise")
	}
	if a.Polygons[1].Outer.Bound().Min != (orb.Point{4, 4}) || len(a.Polygons[1].Inners) != 0 {
		t.Errorf("second polygon should be R3 without holes, got %v", a.Polygons[1])
	}
}

func TestContainmentParents(t *testing.T) {
	rings := []ringInfo{
		{ring: orb.Ring(squareLine(4, 4, 2))},
		{ring: orb.Ring(squareLine(0, 0, 10))},
		{ring: orb.Ring(squareLine(2, 2, 6))},
		{ring: orb.Ring(squareLine(4.5, 4.5, 1))},
	}
	for i := range rings {
		rings[i].area = rings[i].ring.Bound().Right() - rings[i].ring.Bound().Left()
		rings[i].area *= rings[i].area
	}

	got := containmentParents(rings)
	want := []int{2, -1, 1, 0}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("parent of ring %d = %d, want %d", i, got[i], want[i])
		}
	}
	if d := depths(got); d[3] != 3 {
		t.Errorf("innermost depth = %d, want 3", d[3])
	}
}

func TestBuildRelationOrphanInner(t *testing.T) {
	ways := wayMap{
		1: {Coords: squareLine(0, 0, 10)},
		2: {Coords: squareLine(50, 50, 1)},
	}
	b, logs := newBuilder(false)
	a, err := b.BuildRelation(entry(9, nil, outer(1), inner(2)), ways)
	if err != nil {
		t.Fatalf("BuildRelation failed: %v", err)
	}
	if _, inners := a.Rings(); inners != 0 {
		t.Errorf("orphan inner ring should be dropped, got %d inners", inners)
	}
	if logs.FilterMessageSnippet("inner ring outside").Len() != 1 {
		t.Error("expected a diagnostic for the orphan inner ring")
	}
}

func TestBuildRelationTagPrecedence(t *testing.T) {
	ways := wayMap{
		1: {Coords: line(0, 0, 1, 0, 1, 1), Tags: map[string]string{"name": "Way Name", "boundary": "administrative", "source": "survey"}},
		2: {Coords: line(1, 1, 0, 1, 0, 0), Tags: map[string]string{"source": "import"}},
		3: {Coords: squareLine(0.2, 0.2, 0.1), Tags: map[string]string{"natural": "water"}},
	}
	b, _ := newBuilder(false)
	a, err := b.BuildRelation(entry(1, map[string]string{"name": "Relation Name", "type": "boundary"}, outer(1), outer(2), inner(3)), ways)
	if err != nil {
		t.Fatal(err)
	}

	want := map[string]string{"name": "Relation Name", "boundary": "administrative", "source": "survey", "type": "boundary"}
	if len(a.Tags) != len(want) {
		t.Errorf("tags = %v, want %v", a.Tags, want)
	}
	for k, v := range want {
		if a.Tags[k] != v {
			t.Errorf("tag %s = %q, want %q", k, a.Tags[k], v)
		}
	}
	if a.Origin != FromRelation || a.Origin.String() != "r" {
		t.Errorf("unexpected origin %v", a.Origin)
	}
}

func TestBuildRelationIncomplete(t *testing.T) {
	// way 2 could not be resolved; the remaining fragment is open
	ways := wayMap{
		1: {Coords: line(0, 0, 1, 0, 1, 1)},
	}
	members := []relindex.Member{outer(1), outer(2)}

	t.Run("repair disabled", func(t *testing.T) {
		b, _ := newBuilder(false)
		_, err := b.BuildRelation(entry(1, nil, members...), ways)
		if !errors.Is(err, ErrMissingWay) {
			t.Errorf("expected ErrMissingWay, got %v", err)
		}
	})

	t.Run("repair enabled", func(t *testing.T) {
		b, _ := newBuilder(true)
		a, err := b.BuildRelation(entry(1, nil, members...), ways)
		if err != nil {
			t.Fatalf("repair should close the fragment: %v", err)
		}
		if got := len(a.Polygons[0].Outer); got != 4 {
			t.Errorf("repaired ring has %d points, want 4", got)
		}
	})

	t.Run("open fragments without repair", func(t *testing.T) {
		b, _ := newBuilder(false)
		gap := wayMap{
			1: {Coords: line(0, 0, 1, 0, 1, 1)},
			2: {Coords: line(1, 1.1, 0, 1, 0, 0)},
		}
		_, err := b.BuildRelation(entry(1, nil, outer(1), outer(2)), gap)
		if !errors.Is(err, ErrIncompleteRing) {
			t.Errorf("expected ErrIncompleteRing, got %v", err)
		}
	})
}

func TestBuildRelationEmptyRole(t *testing.T) {
	ways := wayMap{1: {Coords: squareLine(0, 0, 1)}}
	e := entry(3, nil, relindex.Member{WayID: 1, Role: ""})

	b, _ := newBuilder(true)
	if _, err := b.BuildRelation(e, ways); err != nil {
		t.Errorf("empty role should be treated as outer with repair enabled: %v", err)
	}

	b, logs := newBuilder(false)
	if _, err := b.BuildRelation(e, ways); !errors.Is(err, ErrEmptyRelation) {
		t.Errorf("expected ErrEmptyRelation, got %v", err)
	}
	if logs.FilterMessageSnippet("without role").Len() != 1 {
		t.Error("expected a diagnostic for the skipped member")
	}
}

func TestBuildRelationNoOuter(t *testing.T) {
	b, _ := newBuilder(false)
	_, err := b.BuildRelation(entry(4, nil, inner(1)), wayMap{1: {Coords: squareLine(0, 0, 1)}})
	if !errors.Is(err, ErrNoOuterRing) {
		t.Errorf("expected ErrNoOuterRing, got %v", err)
	}

	_, err = b.BuildRelation(entry(5, nil), wayMap{})
	if !errors.Is(err, ErrEmptyRelation) {
		t.Errorf("expected ErrEmptyRelation, got %v", err)
	}
}

func TestBuildRelationIndependentOfOtherRelations(t *testing.T) {
	ways := wayMap{
		1: {Coords: squareLine(0, 0, 1)},
		2: {Coords: line(5, 5, 6, 5)},
	}
	b, _ := newBuilder(false)

	before, err := b.BuildRelation(entry(1, nil, outer(1)), ways)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := b.BuildRelation(entry(2, nil, outer(2)), ways); err == nil {
		t.Fatal("broken relation should fail")
	}
	after, err := b.BuildRelation(entry(1, nil, outer(1)), ways)
	if err != nil {
		t.Fatal(err)
	}
	if !orb.Equal(before.MultiPolygon(), after.MultiPolygon()) {
		t.Error("building a broken relation must not affect others")
	}
	if !ways[1].Coords.Equal(squareLine(0, 0, 1)) {
		t.Error("cached way coordinates must not be modified")
	}
}

func TestBuildWay(t *testing.T) {
	b, _ := newBuilder(true)
	tests := []struct {
		name   string
		tags   osm.Tags
		coords orb.LineString
		want   bool
	}{
		{"closed boundary", osm.Tags{{Key: "boundary", Value: "administrative"}}, squareLine(0, 0, 1), true},
		{"closed without boundary", osm.Tags{{Key: "landuse", Value: "forest"}}, squareLine(0, 0, 1), false},
		{"open boundary", osm.Tags{{Key: "boundary", Value: "administrative"}}, line(0, 0, 1, 0, 1, 1), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := b.BuildWay(&osm.Way{ID: 42, Tags: tt.tags}, tt.coords)
			if (a != nil) != tt.want {
				t.Fatalf("BuildWay() = %v, want area %v", a, tt.want)
			}
			if a != nil && (a.Origin != FromWay || a.ID != 42 || a.PlanarArea() != 1) {
				t.Errorf("unexpected area %+v", a)
			}
		})
	}
}

func TestBuildRelationTouchingRings(t *testing.T) {
	tests := []struct {
		name       string
		ways       wayMap
		members    []relindex.Member
		wantInners []int // holes per polygon part
	}{
		{
			name: "part in notch with t-junction",
			ways: wayMap{
				1: {Coords: line(0, 0, 2, 0, 2, 1, 1, 1, 1, 2, 0, 2, 0, 0)},
				2: {Coords: line(1, 1, 1.5, 1, 1.5, 2, 1, 2, 1, 1)},
			},
			members:    []relindex.Member{outer(1), outer(2)},
			wantInners: []int{0, 0},
		},
		{
			name: "parts touching at one node",
			ways: wayMap{
				1: {Coords: line(1, 0, 1, 1)},
				2: {Coords: line(1, 1, 2, 1, 2, 2)},
				3: {Coords: line(2, 2, 1, 2, 1, 1)},
				4: {Coords: line(1, 1, 0, 1, 0, 0, 1, 0)},
			},
			members:    []relindex.Member{outer(1), outer(2), outer(3), outer(4)},
			wantInners: []int{0, 0},
		},
		{
			name: "neighbours sharing a border",
			ways: wayMap{
				1: {Coords: squareLine(0, 0, 2)},
				2: {Coords: squareLine(2, 0, 2)},
			},
			members:    []relindex.Member{outer(1), outer(2)},
			wantInners: []int{0, 0},
		},
		{
			name: "hole touching the outer edge",
			ways: wayMap{
				1: {Coords: squareLine(0, 0, 10)},
				2: {Coords: line(0, 2, 4, 2, 4, 6, 0, 6, 0, 2)},
			},
			members:    []relindex.Member{outer(1), inner(2)},
			wantInners: []int{1},
		},
		{
			name: "holes touching at a corner",
			ways: wayMap{
				1: {Coords: squareLine(0, 0, 10)},
				2: {Coords: squareLine(2, 2, 2)},
				3: {Coords: squareLine(4, 4, 2)},
			},
			members:    []relindex.Member{outer(1), inner(2), inner(3)},
			wantInners: []int{2},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, _ := newBuilder(false)
			a, err := b.BuildRelation(entry(1, nil, tt.members...), tt.ways)
			if err != nil {
				t.Fatalf("BuildRelation failed: %v", err)
			}
			if len(a.Polygons) != len(tt.wantInners) {
				t.Fatalf("got %d polygons, want %d: %v", len(a.Polygons), len(tt.wantInners), a.Polygons)
			}
			for i, p := range a.Polygons {
				if len(p.Inners) != tt.wantInners[i] {
					t.Errorf("polygon %d has %d holes, want %d", i, len(p.Inners), tt.wantInners[i])
				}
				seen := make(map[orb.Point]bool)
				for _, pt := range p.Outer[:len(p.Outer)-1] {
					if seen[pt] {
						t.Errorf("polygon %d outer ring revisits %v", i, pt)
					}
					seen[pt] = true
				}
			}
		})
	}
}
