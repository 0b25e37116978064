package nodeindex

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/edsrzf/mmap-go"
	"github.com/paulmach/orb"
)

// Each node entry: lon (uint32) + lat (uint32) = 8 bytes
const entrySize = 8

// MmapIndex is a memory-mapped node coordinate index.
// Node coordinates are stored at offset = nodeID * 8, giving O(1) lookup.
// The file is sparse, so disk usage grows only with written pages.
type MmapIndex struct {
	file  *os.File
	data  mmap.MMap
	maxID int64
}

// NewMmapIndex creates an index file able to hold IDs in [0, maxID)
func NewMmapIndex(path string, maxID int64) (*MmapIndex, error) {
	size := maxID * entrySize

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create mmap file: %w", err)
	}

	// Truncate to full size (creates sparse file on Linux)
	if err := f.Truncate(size); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to truncate file: %w", err)
	}

	data, err := mmap.MapRegion(f, int(size), mmap.RDWR, 0, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to mmap file: %w", err)
	}

	return &MmapIndex{
		file:  f,
		data:  data,
		maxID: maxID,
	}, nil
}

// Put stores a node's coordinates; an already written slot is left untouched
func (m *MmapIndex) Put(nodeID int64, lon, lat float64) error {
	if nodeID < 0 || nodeID >= m.maxID {
		return fmt.Errorf("node id %d outside dense range [0, %d)", nodeID, m.maxID)
	}
	x, y, err := encode(lon, lat)
	if err != nil {
		return err
	}

	offset := nodeID * entrySize
	if binary.LittleEndian.Uint32(m.data[offset:]) != 0 {
		return ErrDuplicateNode
	}
	binary.LittleEndian.PutUint32(m.data[offset+4:], y)
	binary.LittleEndian.PutUint32(m.data[offset:], x)
	return nil
}

// Get retrieves a node's coordinates
func (m *MmapIndex) Get(nodeID int64) (orb.Point, error) {
	if nodeID < 0 || nodeID >= m.maxID {
		return orb.Point{}, ErrNotFound
	}

	offset := nodeID * entrySize
	x := binary.LittleEndian.Uint32(m.data[offset:])
	if x == 0 {
		return orb.Point{}, ErrNotFound
	}
	y := binary.LittleEndian.Uint32(m.data[offset+4:])
	return decode(x, y), nil
}

// Sync flushes changes to disk
func (m *MmapIndex) Sync() error {
	return m.data.Flush()
}

// Close unmaps and closes the index file
func (m *MmapIndex) Close() error {
	if err := m.data.Unmap(); err != nil {
		m.file.Close()
		return err
	}
	return m.file.Close()
}
