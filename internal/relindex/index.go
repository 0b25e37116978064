package relindex

import (
	"errors"
	"sort"

	"github.com/paulmach/osm"
)

// ErrFrozen is returned by Index once the index has been frozen
var ErrFrozen = errors.New("relation index is frozen")

// Roles recorded for way members. An empty role is kept and resolved by the
// multipolygon builder.
const (
	RoleOuter = "outer"
	RoleInner = "inner"
	RoleEmpty = ""
)

// Member is a way member of an indexed relation
type Member struct {
	WayID int64
	Role  string
}

// Entry is an indexed relation with its way members in relation order
type Entry struct {
	ID      int64
	Members []Member
	Tags    map[string]string
}

// Index holds candidate area relations collected in the first pass.
// It is written by a single goroutine and read concurrently after Freeze.
type Index struct {
	entries map[int64]*Entry
	byWay   map[int64][]int64
	ids     []int64
	frozen  bool
	skipped int64
}

// New creates an empty relation index
func New() *Index {
	return &Index{
		entries: make(map[int64]*Entry),
		byWay:   make(map[int64][]int64),
	}
}

// IsCandidate reports whether a relation can describe an area
func IsCandidate(tags osm.Tags) bool {
	switch tags.Find("type") {
	case "multipolygon", "boundary":
		return true
	}
	return tags.Find("boundary") == "administrative"
}

// Index records rel if it is a candidate area relation. It returns true when
// the relation was recorded.
func (x *Index) Index(rel *osm.Relation) (bool, error) {
	if x.frozen {
		return false, ErrFrozen
	}
	if !IsCandidate(rel.Tags) {
		x.skipped++
		return false, nil
	}

	id := int64(rel.ID)
	if _, ok := x.entries[id]; ok {
		return false, nil
	}

	e := &Entry{ID: id, Tags: rel.Tags.Map()}
	for _, m := range rel.Members {
		if m.Type != osm.TypeWay {
			continue
		}
		switch m.Role {
		case RoleOuter, RoleInner, RoleEmpty:
		default:
			continue
		}
		e.Members = append(e.Members, Member{WayID: m.Ref, Role: m.Role})
		rels := x.byWay[m.Ref]
		if len(rels) == 0 || rels[len(rels)-1] != id {
			x.byWay[m.Ref] = append(rels, id)
		}
	}

	x.entries[id] = e
	return true, nil
}

// Freeze ends the write phase and sorts the relation IDs
func (x *Index) Freeze() {
	if x.frozen {
		return
	}
	x.ids = make([]int64, 0, len(x.entries))
	for id := range x.entries {
		x.ids = append(x.ids, id)
	}
	sort.Slice(x.ids, func(i, j int) bool { return x.ids[i] < x.ids[j] })
	x.frozen = true
}

// Frozen reports whether Freeze has been called
func (x *Index) Frozen() bool { return x.frozen }

// Get returns the entry for a relation ID
func (x *Index) Get(id int64) (*Entry, bool) {
	e, ok := x.entries[id]
	return e, ok
}

// IDs returns all indexed relation IDs in ascending order. Valid after Freeze.
func (x *Index) IDs() []int64 {
	return x.ids
}

// IsMember reports whether a way belongs to any indexed relation
func (x *Index) IsMember(wayID int64) bool {
	_, ok := x.byWay[wayID]
	return ok
}

// RelationsFor returns the indexed relations that reference a way
func (x *Index) RelationsFor(wayID int64) []int64 {
	return x.byWay[wayID]
}

// Len returns the number of indexed relations
func (x *Index) Len() int {
	return len(x.entries)
}

// MemberWays returns the number of distinct member ways
func (x *Index) MemberWays() int {
	return len(x.byWay)
}

// Skipped returns the number of relations that were not candidates
func (x *Index) Skipped() int64 {
	return x.skipped
}
