package multipolygon

import (
	"errors"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/osm"
	"go.uber.org/zap"

	"github.com/wegman-software/osmboundaries-go/internal/geom"
	"github.com/wegman-software/osmboundaries-go/internal/logger"
	"github.com/wegman-software/osmboundaries-go/internal/relindex"
)

var (
	// ErrEmptyRelation means the relation has no usable way members
	ErrEmptyRelation = errors.New("relation has no way members")
	// ErrMissingWay means a member way is absent or has unresolved nodes
	ErrMissingWay = errors.New("member way missing or incomplete")
	// ErrIncompleteRing means fragments could not be closed into rings
	ErrIncompleteRing = errors.New("ring could not be closed")
	// ErrNoOuterRing means no valid outer ring remained after assembly
	ErrNoOuterRing = errors.New("no outer ring")
)

// Way is a resolved member way
type Way struct {
	Coords orb.LineString
	Tags   map[string]string
}

// WayLookup returns resolved member ways. ok is false for ways that were
// not in the input or could not be resolved.
type WayLookup interface {
	Way(id int64) (Way, bool)
}

// Options configures a Builder
type Options struct {
	// AttemptRepair closes leftover fragments heuristically and treats
	// members without a role as outer
	AttemptRepair bool
	Logger        *zap.Logger
}

// Builder assembles Areas. It holds no per-relation state and is safe for
// concurrent use.
type Builder struct {
	repair bool
	log    *zap.Logger
}

// NewBuilder creates a Builder
func NewBuilder(opts Options) *Builder {
	return &Builder{
		repair: opts.AttemptRepair,
		log:    logger.Or(opts.Logger),
	}
}

// IsAreaWay reports whether a way describes an area on its own: a closed
// ring carrying a boundary tag
func IsAreaWay(tags osm.Tags, coords orb.LineString) bool {
	return geom.IsAreaRing(coords) && tags.Find("boundary") != ""
}

// BuildWay returns the Area for a closed boundary way, or nil if the way is
// not an area
func (b *Builder) BuildWay(way *osm.Way, coords orb.LineString) *Area {
	if !IsAreaWay(way.Tags, coords) {
		return nil
	}
	ring := append(orb.Ring(nil), coords...)
	return &Area{
		Origin:   FromWay,
		ID:       int64(way.ID),
		Polygons: []Polygon{{Outer: geom.Orient(ring, orb.CCW)}},
		Tags:     way.Tags.Map(),
	}
}

// BuildRelation assembles the Area for one indexed relation. Errors wrap
// one of the package sentinels and name the relation.
func (b *Builder) BuildRelation(e *relindex.Entry, ways WayLookup) (*Area, error) {
	if len(e.Members) == 0 {
		return nil, fmt.Errorf("relation %d: %w", e.ID, ErrEmptyRelation)
	}
	log := b.log.With(zap.Int64("relation_id", e.ID))

	var outerPaths, innerPaths []orb.LineString
	tags := make(map[string]string)
	for _, m := range e.Members {
		role := m.Role
		if role == relindex.RoleEmpty {
			if !b.repair {
				log.Debug("Skipping member without role", zap.Int64("way_id", m.WayID))
				continue
			}
			role = relindex.RoleOuter
		}

		w, ok := ways.Way(m.WayID)
		if !ok {
			if !b.repair {
				return nil, fmt.Errorf("relation %d: way %d: %w", e.ID, m.WayID, ErrMissingWay)
			}
			log.Debug("Ignoring missing member way", zap.Int64("way_id", m.WayID))
			continue
		}

		if role == relindex.RoleInner {
			innerPaths = append(innerPaths, w.Coords)
			continue
		}
		outerPaths = append(outerPaths, w.Coords)
		for k, v := range w.Tags {
			if _, set := tags[k]; !set {
				tags[k] = v
			}
		}
	}
	for k, v := range e.Tags {
		tags[k] = v
	}

	if len(outerPaths) == 0 && len(innerPaths) == 0 {
		return nil, fmt.Errorf("relation %d: %w", e.ID, ErrEmptyRelation)
	}

	outerRings, err := b.closeRings(log, e.ID, outerPaths)
	if err != nil {
		return nil, err
	}
	innerRings, err := b.closeRings(log, e.ID, innerPaths)
	if err != nil {
		return nil, err
	}

	rings := make([]ringInfo, 0, len(outerRings)+len(innerRings))
	for _, r := range outerRings {
		rings = append(rings, ringInfo{ring: r, area: geom.RingArea(r)})
	}
	for _, r := range innerRings {
		rings = append(rings, ringInfo{ring: r, inner: true, area: geom.RingArea(r)})
	}

	polys, orphans := nest(rings)
	for _, o := range orphans {
		log.Warn("Dropping inner ring outside every outer ring", zap.Int("points", len(o.ring)))
	}
	if len(polys) == 0 {
		return nil, fmt.Errorf("relation %d: %w", e.ID, ErrNoOuterRing)
	}

	return &Area{
		Origin:   FromRelation,
		ID:       e.ID,
		Polygons: polys,
		Tags:     tags,
	}, nil
}

// closeRings joins fragments into closed rings, repairing leftovers when
// enabled. Rings with fewer than four points are dropped.
func (b *Builder) closeRings(log *zap.Logger, relID int64, paths []orb.LineString) ([]orb.Ring, error) {
	if len(paths) == 0 {
		return nil, nil
	}

	closed, open := newJoiner(paths).join()
	if len(open) > 0 {
		if !b.repair {
			return nil, fmt.Errorf("relation %d: %d open fragments: %w", relID, len(open), ErrIncompleteRing)
		}
		log.Debug("Repairing open fragments", zap.Int("fragments", len(open)))
		closed = append(closed, repair(open)...)
	}

	rings := make([]orb.Ring, 0, len(closed))
	for _, ls := range closed {
		if len(ls) < geom.MinRingPoints {
			log.Debug("Discarding degenerate ring", zap.Int("points", len(ls)))
			continue
		}
		rings = append(rings, orb.Ring(ls))
	}
	return rings, nil
}
