package nodeindex

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/paulmach/orb"
	"go.uber.org/zap"

	"github.com/wegman-software/osmboundaries-go/internal/logger"
)

var (
	// ErrNotFound is returned by Get for a node ID that was never set
	ErrNotFound = errors.New("node not found")
	// ErrDuplicateNode is returned by Set when the ID already holds a coordinate
	ErrDuplicateNode = errors.New("duplicate node id")
	// ErrFrozen is returned by Set once the store is read-only
	ErrFrozen = errors.New("coordinate store is frozen")
	// ErrInvalidCoordinate is returned for coordinates outside WGS84 bounds
	ErrInvalidCoordinate = errors.New("coordinate out of range")
)

// Store maps node IDs to coordinates.
// Writes happen once per ID during the node phase; afterwards the store is
// frozen and safe for concurrent reads.
type Store interface {
	Set(id int64, lon, lat float64) error
	Get(id int64) (orb.Point, error)
	Freeze() error
	Close() error
}

// Coordinates are stored as 1e-7 degree fixed point, shifted so that an
// encoded value is never zero. Zero marks an unset slot.
const (
	precision = 1e7
	lonOffset = 1_800_000_001
	latOffset = 900_000_001
)

func encode(lon, lat float64) (uint32, uint32, error) {
	if math.IsNaN(lon) || math.IsNaN(lat) || lon < -180 || lon > 180 || lat < -90 || lat > 90 {
		return 0, 0, fmt.Errorf("%w: lon=%f lat=%f", ErrInvalidCoordinate, lon, lat)
	}
	x := int64(math.Round(lon*precision)) + lonOffset
	y := int64(math.Round(lat*precision)) + latOffset
	return uint32(x), uint32(y), nil
}

func decode(x, y uint32) orb.Point {
	return orb.Point{
		float64(int64(x)-lonOffset) / precision,
		float64(int64(y)-latOffset) / precision,
	}
}

// Policy decides which backing index holds a node ID
type Policy struct {
	// IDs in [0, DenseMaxID) go to the dense index, everything else to the sparse one
	DenseMaxID int64
}

// Dense reports whether id belongs to the dense index
func (p Policy) Dense(id int64) bool {
	return id >= 0 && id < p.DenseMaxID
}

// Options configures a SplitStore
type Options struct {
	Policy Policy
	// Path of the dense index file. Empty means a temporary file in WorkDir.
	Path    string
	WorkDir string
	// Keep the dense index file on Close
	Keep   bool
	Logger *zap.Logger
}

// SplitStore combines a dense mmap index for the common ID range with a
// sparse in-memory index for the rest. Callers see a single map.
type SplitStore struct {
	policy Policy
	dense  *MmapIndex
	sparse *SparseIndex
	path   string
	keep   bool
	frozen bool
	log    *zap.Logger
}

// NewSplitStore creates the store and its backing file
func NewSplitStore(opts Options) (*SplitStore, error) {
	s := &SplitStore{
		policy: opts.Policy,
		sparse: NewSparseIndex(),
		keep:   opts.Keep,
		log:    logger.Or(opts.Logger),
	}

	if opts.Policy.DenseMaxID > 0 {
		path := opts.Path
		if path == "" {
			dir := opts.WorkDir
			if dir == "" {
				dir = os.TempDir()
			}
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create work directory: %w", err)
			}
			path = filepath.Join(dir, "node_index.bin")
		} else if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create flat nodes directory: %w", err)
		}

		dense, err := NewMmapIndex(path, opts.Policy.DenseMaxID)
		if err != nil {
			return nil, err
		}
		s.dense = dense
		s.path = path
	}

	return s, nil
}

// Set stores a coordinate. The first write for an ID wins; later writes are
// logged and rejected with ErrDuplicateNode.
func (s *SplitStore) Set(id int64, lon, lat float64) error {
	if s.frozen {
		return ErrFrozen
	}

	var err error
	if s.dense != nil && s.policy.Dense(id) {
		err = s.dense.Put(id, lon, lat)
	} else {
		err = s.sparse.Put(id, lon, lat)
	}

	if errors.Is(err, ErrDuplicateNode) {
		s.log.Warn("Duplicate node id, keeping first coordinate",
			zap.Int64("node_id", id),
			zap.Float64("lon", lon),
			zap.Float64("lat", lat))
	}
	return err
}

// Get returns the coordinate of a node
func (s *SplitStore) Get(id int64) (orb.Point, error) {
	if s.dense != nil && s.policy.Dense(id) {
		return s.dense.Get(id)
	}
	return s.sparse.Get(id)
}

// Freeze makes the store read-only
func (s *SplitStore) Freeze() error {
	s.frozen = true
	if s.dense != nil && s.keep {
		return s.dense.Sync()
	}
	return nil
}

// SparseLen returns the number of coordinates held by the sparse index.
// The dense index does not track its population.
func (s *SplitStore) SparseLen() int {
	return s.sparse.Len()
}

// Close releases the mapping and removes the index file unless kept
func (s *SplitStore) Close() error {
	if s.dense == nil {
		return nil
	}
	err := s.dense.Close()
	s.dense = nil
	if !s.keep {
		os.Remove(s.path)
	}
	return err
}
