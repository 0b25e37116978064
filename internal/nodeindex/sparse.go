package nodeindex

import "github.com/paulmach/orb"

// SparseIndex holds coordinates for IDs outside the dense range
// (negative IDs from editors and IDs beyond the dense limit).
type SparseIndex struct {
	coords map[int64]uint64
}

// NewSparseIndex creates an empty sparse index
func NewSparseIndex() *SparseIndex {
	return &SparseIndex{coords: make(map[int64]uint64)}
}

// Put stores a coordinate unless the ID is already present
func (s *SparseIndex) Put(id int64, lon, lat float64) error {
	if _, ok := s.coords[id]; ok {
		return ErrDuplicateNode
	}
	x, y, err := encode(lon, lat)
	if err != nil {
		return err
	}
	s.coords[id] = uint64(x)<<32 | uint64(y)
	return nil
}

// Get returns the coordinate for id
func (s *SparseIndex) Get(id int64) (orb.Point, error) {
	packed, ok := s.coords[id]
	if !ok {
		return orb.Point{}, ErrNotFound
	}
	return decode(uint32(packed>>32), uint32(packed)), nil
}

// Len returns the number of stored coordinates
func (s *SparseIndex) Len() int {
	return len(s.coords)
}
