package pipeline

import (
	"context"
	"sync/atomic"

	"github.com/wegman-software/osmboundaries-go/internal/boundary"
	"github.com/wegman-software/osmboundaries-go/internal/multipolygon"
)

// Sink receives every accepted area in emission order
type Sink interface {
	Add(ctx context.Context, area *multipolygon.Area) error
}

// Stats summarises an extraction run
type Stats struct {
	RelationsScanned   int64 // relations seen in the first pass
	RelationsIndexed   int   // boundary relations kept for assembly
	MemberWays         int   // distinct ways referenced by indexed relations
	Nodes              int64
	Ways               int64
	DuplicateNodes     int64
	InvalidNodes       int64
	MissingCoordinates int64 // relevant ways dropped for an unresolved node
	AreasFromWays      int64
	AreasFromRelations int64
	RelationsDropped   int64 // indexed relations that failed assembly
	Accepted           int64
	Rejected           map[boundary.Reason]int64
	ScriptDropped      int64
	BytesRead          int64
}

// counters are updated while passes run and read by the metrics logger
type counters struct {
	relationsScanned   atomic.Int64
	nodes              atomic.Int64
	ways               atomic.Int64
	duplicateNodes     atomic.Int64
	invalidNodes       atomic.Int64
	missingCoordinates atomic.Int64
	areasFromWays      atomic.Int64
	areasFromRelations atomic.Int64
	relationsDropped   atomic.Int64
}

func (c *counters) snapshot() map[string]int64 {
	return map[string]int64{
		"relations_scanned":   c.relationsScanned.Load(),
		"nodes":               c.nodes.Load(),
		"ways":                c.ways.Load(),
		"duplicate_nodes":     c.duplicateNodes.Load(),
		"missing_coordinates": c.missingCoordinates.Load(),
		"areas_from_ways":     c.areasFromWays.Load(),
		"areas_from_rels":     c.areasFromRelations.Load(),
		"relations_dropped":   c.relationsDropped.Load(),
	}
}
