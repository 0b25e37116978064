package osmfile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"sync/atomic"

	"github.com/paulmach/osm"
	"github.com/paulmach/osm/osmpbf"
	"github.com/paulmach/osm/osmxml"
)

var (
	// ErrUnsupportedFormat is returned by Open for unknown file extensions
	ErrUnsupportedFormat = errors.New("unsupported input format")
	// ErrUnsortedInput is returned when nodes, ways and relations are interleaved
	ErrUnsortedInput = errors.New("input is not sorted by type (nodes, ways, relations)")
)

// Format of an input file
type Format int

const (
	FormatPBF Format = iota
	FormatXML
)

func (f Format) String() string {
	if f == FormatXML {
		return "xml"
	}
	return "pbf"
}

// DetectFormat maps a file name to its input format
func DetectFormat(path string) (Format, error) {
	lower := strings.ToLower(path)
	switch {
	case strings.HasSuffix(lower, ".pbf"):
		return FormatPBF, nil
	case strings.HasSuffix(lower, ".osm"), strings.HasSuffix(lower, ".xml"):
		return FormatXML, nil
	}
	return 0, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
}

// Kinds selects which entity kinds a pass delivers to its handler
type Kinds struct {
	Nodes     bool
	Ways      bool
	Relations bool
}

var (
	AllKinds      = Kinds{Nodes: true, Ways: true, Relations: true}
	RelationsOnly = Kinds{Relations: true}
)

// Handler receives entities in stream order
type Handler interface {
	Node(n *osm.Node) error
	Way(w *osm.Way) error
	Relation(r *osm.Relation) error
}

// PhaseHandler is notified when a block of one entity kind has been fully
// delivered. Each hook runs exactly once per pass, even for skipped or
// absent kinds.
type PhaseHandler interface {
	AfterNodes() error
	AfterWays() error
	AfterRelations() error
}

// Reader streams an OSM file one pass at a time
type Reader struct {
	file    *os.File
	path    string
	format  Format
	size    int64
	procs   int
	scanned atomic.Int64
}

// Open opens path and detects its format
func Open(path string) (*Reader, error) {
	format, err := DetectFormat(path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open input: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stat input: %w", err)
	}

	return &Reader{
		file:   f,
		path:   path,
		format: format,
		size:   info.Size(),
		procs:  runtime.NumCPU(),
	}, nil
}

// Format returns the detected input format
func (r *Reader) Format() Format { return r.format }

// Size returns the input size in bytes
func (r *Reader) Size() int64 { return r.size }

// Scanned returns the number of input bytes consumed by the current pass
func (r *Reader) Scanned() int64 { return r.scanned.Load() }

// Close closes the underlying file
func (r *Reader) Close() error {
	return r.file.Close()
}

type scanner interface {
	Scan() bool
	Object() osm.Object
	Err() error
	Close() error
}

// Read performs one pass over the file from the beginning, delivering the
// selected kinds to h.
func (r *Reader) Read(ctx context.Context, h Handler, kinds Kinds) error {
	if _, err := r.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("failed to rewind input: %w", err)
	}
	r.scanned.Store(0)

	var sc scanner
	var pbf *osmpbf.Scanner
	switch r.format {
	case FormatPBF:
		pbf = osmpbf.New(ctx, r.file, r.procs)
		pbf.SkipNodes = !kinds.Nodes
		pbf.SkipWays = !kinds.Ways
		pbf.SkipRelations = !kinds.Relations
		sc = pbf
	default:
		sc = osmxml.New(ctx, &countingReader{r: r.file, n: &r.scanned})
	}
	defer sc.Close()

	ph, _ := h.(PhaseHandler)
	seq := phaseSequencer{handler: ph}

	for sc.Scan() {
		if pbf != nil {
			r.scanned.Store(pbf.FullyScannedBytes())
		}

		var err error
		switch o := sc.Object().(type) {
		case *osm.Node:
			if err = seq.enter(phaseNodes); err == nil && kinds.Nodes {
				if err = h.Node(o); err != nil {
					err = fmt.Errorf("node %d: %w", o.ID, err)
				}
			}
		case *osm.Way:
			if err = seq.enter(phaseWays); err == nil && kinds.Ways {
				if err = h.Way(o); err != nil {
					err = fmt.Errorf("way %d: %w", o.ID, err)
				}
			}
		case *osm.Relation:
			if err = seq.enter(phaseRelations); err == nil && kinds.Relations {
				if err = h.Relation(o); err != nil {
					err = fmt.Errorf("relation %d: %w", o.ID, err)
				}
			}
		}
		if err != nil {
			return err
		}
	}

	if err := sc.Err(); err != nil && err != io.EOF {
		return fmt.Errorf("failed to read %s: %w", r.path, err)
	}
	if pbf == nil {
		r.scanned.Store(r.size)
	}

	return seq.finish()
}

type phase int

const (
	phaseNodes phase = iota
	phaseWays
	phaseRelations
	phaseDone
)

func (p phase) String() string {
	switch p {
	case phaseNodes:
		return "node"
	case phaseWays:
		return "way"
	case phaseRelations:
		return "relation"
	}
	return "end"
}

// phaseSequencer enforces type ordering and fires the phase hooks
type phaseSequencer struct {
	handler PhaseHandler
	current phase
}

func (s *phaseSequencer) enter(p phase) error {
	if p < s.current {
		return fmt.Errorf("%w: %s after %s", ErrUnsortedInput, p, s.current)
	}
	for s.current < p {
		if err := s.advance(); err != nil {
			return err
		}
	}
	return nil
}

func (s *phaseSequencer) finish() error {
	for s.current < phaseDone {
		if err := s.advance(); err != nil {
			return err
		}
	}
	return nil
}

func (s *phaseSequencer) advance() error {
	var err error
	if s.handler != nil {
		switch s.current {
		case phaseNodes:
			err = s.handler.AfterNodes()
		case phaseWays:
			err = s.handler.AfterWays()
		case phaseRelations:
			err = s.handler.AfterRelations()
		}
	}
	s.current++
	if err != nil {
		return fmt.Errorf("after %s phase: %w", s.current-1, err)
	}
	return nil
}

// countingReader tracks consumed bytes for XML progress reporting
type countingReader struct {
	r io.Reader
	n *atomic.Int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n.Add(int64(n))
	return n, err
}
