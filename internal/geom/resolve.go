package geom

import (
	"errors"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/osm"
)

// ErrIncompleteWay marks a way with at least one unresolvable node
var ErrIncompleteWay = errors.New("incomplete way")

// IncompleteWayError names the way and the first node that could not be resolved
type IncompleteWayError struct {
	WayID  int64
	NodeID int64
}

func (e *IncompleteWayError) Error() string {
	return fmt.Sprintf("way %d: missing coordinate for node %d", e.WayID, e.NodeID)
}

// Is lets errors.Is match ErrIncompleteWay
func (e *IncompleteWayError) Is(target error) bool {
	return target == ErrIncompleteWay
}

// Lookup resolves node IDs to coordinates
type Lookup interface {
	Get(id int64) (orb.Point, error)
}

// Resolve turns a way's node references into coordinates, in order.
// The result has exactly one point per node reference.
func Resolve(store Lookup, way *osm.Way) (orb.LineString, error) {
	ls := make(orb.LineString, len(way.Nodes))
	for i, wn := range way.Nodes {
		p, err := store.Get(int64(wn.ID))
		if err != nil {
			return nil, &IncompleteWayError{WayID: int64(way.ID), NodeID: int64(wn.ID)}
		}
		ls[i] = p
	}
	return ls, nil
}
