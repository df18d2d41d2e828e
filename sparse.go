package isovox

import "github.com/pkg/errors"

// Sparse leaf layout. Leaves span 8³ voxels like NanoVDB leaf nodes.
const (
	leafLog2Dim = 3
	leafDim     = 1 << leafLog2Dim
	leafMask    = leafDim - 1
	leafValues  = leafDim * leafDim * leafDim
)

// SparseField is a blocked grid that only stores leaves of 8³ voxels
// that have been written to. Voxels never written, and every voxel of an
// unallocated leaf, are inactive.
//
// Set is not safe for concurrent use. Once populated the field may be
// sampled concurrently.
type SparseField struct {
	grid   Grid
	leaves map[V3i]*sparseLeaf
	active int
}

type sparseLeaf struct {
	values [leafValues]float32
	mask   [leafValues / 64]uint64
}

func (l *sparseLeaf) isActive(i int) bool { return l.mask[i>>6]&(1<<(i&63)) != 0 }

var _ ScalarField = (*SparseField)(nil)

// NewSparseField returns an empty sparse field over grid.
func NewSparseField(grid Grid) (*SparseField, error) {
	if err := grid.Validate(); err != nil {
		return nil, err
	}
	return &SparseField{grid: grid, leaves: make(map[V3i]*sparseLeaf)}, nil
}

func leafCoord(x, y, z int) (key V3i, offset int) {
	key = V3i{x >> leafLog2Dim, y >> leafLog2Dim, z >> leafLog2Dim}
	offset = (x & leafMask) | (y&leafMask)<<leafLog2Dim | (z&leafMask)<<(2*leafLog2Dim)
	return key, offset
}

// Grid returns the field's lattice.
func (s *SparseField) Grid() Grid { return s.grid }

// Set stores v at (x,y,z) and marks the voxel active, allocating its leaf if needed.
func (s *SparseField) Set(x, y, z int, v float32) error {
	if !s.grid.Contains(x, y, z) {
		return errors.Errorf("voxel (%d,%d,%d) out of sparse field dimensions %v", x, y, z, s.grid.Dims)
	}
	key, off := leafCoord(x, y, z)
	leaf := s.leaves[key]
	if leaf == nil {
		leaf = new(sparseLeaf)
		s.leaves[key] = leaf
	}
	if !leaf.isActive(off) {
		leaf.mask[off>>6] |= 1 << (off & 63)
		s.active++
	}
	leaf.values[off] = v
	return nil
}

// Sample returns the value at (x,y,z) and whether it holds data.
func (s *SparseField) Sample(x, y, z int) (float32, bool) {
	if !s.grid.Contains(x, y, z) {
		return 0, false
	}
	key, off := leafCoord(x, y, z)
	leaf := s.leaves[key]
	if leaf == nil || !leaf.isActive(off) {
		return 0, false
	}
	return leaf.values[off], true
}

// ActiveCount returns the number of active voxels.
func (s *SparseField) ActiveCount() int { return s.active }

// BlockCount returns the number of allocated leaves.
func (s *SparseField) BlockCount() int { return len(s.leaves) }

// AnyActive reports whether any voxel in the inclusive box [lo, hi] is active.
func (s *SparseField) AnyActive(lo, hi V3i) bool {
	lo = lo.Max(V3i{})
	hi = hi.Min(s.grid.Dims.SubScalar(1))
	if lo[0] > hi[0] || lo[1] > hi[1] || lo[2] > hi[2] || s.active == 0 {
		return false
	}
	klo, _ := leafCoord(lo[0], lo[1], lo[2])
	khi, _ := leafCoord(hi[0], hi[1], hi[2])
	for kz := klo[2]; kz <= khi[2]; kz++ {
		for ky := klo[1]; ky <= khi[1]; ky++ {
			for kx := klo[0]; kx <= khi[0]; kx++ {
				leaf := s.leaves[V3i{kx, ky, kz}]
				if leaf != nil && leaf.anyActive(V3i{kx, ky, kz}, lo, hi) {
					return true
				}
			}
		}
	}
	return false
}

// anyActive checks the voxels of the leaf at key that fall inside [lo, hi].
func (l *sparseLeaf) anyActive(key, lo, hi V3i) bool {
	base := V3i{key[0] << leafLog2Dim, key[1] << leafLog2Dim, key[2] << leafLog2Dim}
	llo := lo.Sub(base).Max(V3i{})
	lhi := hi.Sub(base).Min(V3i{leafMask, leafMask, leafMask})
	if llo == (V3i{}) && lhi == (V3i{leafMask, leafMask, leafMask}) {
		var union uint64
		for _, m := range l.mask {
			union |= m
		}
		return union != 0
	}
	for z := llo[2]; z <= lhi[2]; z++ {
		for y := llo[1]; y <= lhi[1]; y++ {
			for x := llo[0]; x <= lhi[0]; x++ {
				if l.isActive(x | y<<leafLog2Dim | z<<(2*leafLog2Dim)) {
					return true
				}
			}
		}
	}
	return false
}
