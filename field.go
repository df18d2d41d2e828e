package isovox

import (
	"math"

	"github.com/pkg/errors"
	"github.com/soypat/isovox/internal/d3"
	"gonum.org/v1/gonum/spatial/r3"
)

// ScalarField is a read-only 3D lattice of float32 samples.
// Implementations must be safe for concurrent calls to Sample
// from any number of goroutines with arbitrary coordinates.
type ScalarField interface {
	// Grid returns the lattice dimensions and its placement in space.
	Grid() Grid
	// Sample returns the value stored at integer lattice coordinate (x,y,z).
	// active is false where the field holds no data, such as unallocated
	// regions of a sparse field or coordinates outside the lattice.
	// Inactive samples never contribute geometry.
	Sample(x, y, z int) (value float32, active bool)
}

// Grid describes the sample lattice of a ScalarField. Sample (i,j,k)
// lies at world position Origin + VoxelSize*(i,j,k) for
// 0 <= i < Dims[0], 0 <= j < Dims[1] and 0 <= k < Dims[2].
type Grid struct {
	Dims      V3i
	Origin    r3.Vec
	VoxelSize r3.Vec
}

// NewGrid returns a grid of the given dimensions at the origin with unit voxels.
func NewGrid(dims V3i) Grid {
	return Grid{Dims: dims, VoxelSize: d3.Elem(1)}
}

// Validate checks the voxel size is positive and finite.
// Grids with non-positive dimensions are valid but contain no samples.
func (g Grid) Validate() error {
	vs := g.VoxelSize
	if d3.LTEZero(vs) {
		return errors.New("voxel size must be positive")
	}
	if math.IsInf(vs.X+vs.Y+vs.Z, 0) || math.IsNaN(vs.X+vs.Y+vs.Z) {
		return errors.New("voxel size must be finite")
	}
	return nil
}

// Cubes returns the number of lattice cubes along each axis.
// A component is zero when the lattice is too thin to hold a cube.
func (g Grid) Cubes() V3i {
	return g.Dims.SubScalar(1).Max(V3i{})
}

// Degenerate returns true if the grid contains no lattice cube.
func (g Grid) Degenerate() bool {
	return g.Cubes().LTEZero()
}

// Contains reports whether (x,y,z) is a sample of the grid.
func (g Grid) Contains(x, y, z int) bool {
	return x >= 0 && y >= 0 && z >= 0 && x < g.Dims[0] && y < g.Dims[1] && z < g.Dims[2]
}

// Index returns the linear index of sample (x,y,z). x varies fastest.
func (g Grid) Index(x, y, z int) int {
	return x + g.Dims[0]*(y+g.Dims[1]*z)
}

// Coord is the inverse of Index.
func (g Grid) Coord(idx int) V3i {
	nxy := g.Dims[0] * g.Dims[1]
	z := idx / nxy
	rem := idx - z*nxy
	return V3i{rem % g.Dims[0], rem / g.Dims[0], z}
}

// Position returns the world position of sample (x,y,z).
func (g Grid) Position(x, y, z int) r3.Vec {
	return r3.Vec{
		X: g.Origin.X + g.VoxelSize.X*float64(x),
		Y: g.Origin.Y + g.VoxelSize.Y*float64(y),
		Z: g.Origin.Z + g.VoxelSize.Z*float64(z),
	}
}

// Bounds returns the world space box spanned by the samples.
func (g Grid) Bounds() r3.Box {
	last := g.Dims.SubScalar(1).Max(V3i{})
	return r3.Box{Min: g.Origin, Max: g.Position(last[0], last[1], last[2])}
}

// DenseField stores every sample of its grid in a contiguous slice.
// All samples are active.
type DenseField struct {
	grid Grid
	data []float32
}

var (
	_ ScalarField = (*DenseField)(nil)
	_ ScalarField = (*FuncField)(nil)
	_ ScalarField = (*SDFField)(nil)
)

// NewDenseField returns a dense field over grid backed by data, which is
// indexed with Grid.Index. If data is nil a zeroed buffer is allocated.
func NewDenseField(grid Grid, data []float32) (*DenseField, error) {
	if err := grid.Validate(); err != nil {
		return nil, err
	}
	n := grid.Dims.Max(V3i{}).Prod()
	if data == nil {
		data = make([]float32, n)
	} else if len(data) != n {
		return nil, errors.Errorf("dense field data length %d does not match grid dimensions %v", len(data), grid.Dims)
	}
	return &DenseField{grid: grid, data: data}, nil
}

// Grid returns the field's lattice.
func (d *DenseField) Grid() Grid { return d.grid }

// Sample returns the value at (x,y,z). Coordinates outside the grid are inactive.
func (d *DenseField) Sample(x, y, z int) (float32, bool) {
	if !d.grid.Contains(x, y, z) {
		return 0, false
	}
	return d.data[d.grid.Index(x, y, z)], true
}

// At returns the value at (x,y,z). It panics if the coordinate is out of range.
func (d *DenseField) At(x, y, z int) float32 {
	return d.data[d.grid.Index(x, y, z)]
}

// Set sets the value at (x,y,z). It panics if the coordinate is out of range.
// Set must not be called while the field is being meshed.
func (d *DenseField) Set(x, y, z int, v float32) {
	d.data[d.grid.Index(x, y, z)] = v
}

// Fill sets every sample to f(x,y,z).
func (d *DenseField) Fill(f func(x, y, z int) float32) {
	dims := d.grid.Dims
	i := 0
	for z := 0; z < dims[2]; z++ {
		for y := 0; y < dims[1]; y++ {
			for x := 0; x < dims[0]; x++ {
				d.data[i] = f(x, y, z)
				i++
			}
		}
	}
}

// Data returns the underlying sample buffer.
func (d *DenseField) Data() []float32 { return d.data }

// FuncField evaluates a function on demand at every lattice coordinate.
// The function is called concurrently and in no particular order, it
// must not depend on shared mutable state unless it synchronizes access itself.
type FuncField struct {
	grid Grid
	f    func(x, y, z int) float32
}

// NewFuncField returns a procedural field over grid.
func NewFuncField(grid Grid, f func(x, y, z int) float32) (*FuncField, error) {
	if f == nil {
		return nil, errors.New("nil field function")
	}
	if err := grid.Validate(); err != nil {
		return nil, err
	}
	return &FuncField{grid: grid, f: f}, nil
}

// Grid returns the field's lattice.
func (f *FuncField) Grid() Grid { return f.grid }

// Sample evaluates the field function. Coordinates outside the grid are inactive.
func (f *FuncField) Sample(x, y, z int) (float32, bool) {
	if !f.grid.Contains(x, y, z) {
		return 0, false
	}
	return f.f(x, y, z), true
}

// SDFField samples an SDF3 on a uniform lattice covering its bounds.
// Values are negative inside the solid, so it should be meshed with
// the distance convention (inside is less than iso).
type SDFField struct {
	grid Grid
	s    SDF3
}

// NewSDFField returns a procedural field sampling s every resolution units.
// The bounding box of s is scaled about its center to make sure the
// boundaries aren't on the object surface.
func NewSDFField(s SDF3, resolution float64) (*SDFField, error) {
	if s == nil {
		return nil, errors.New("nil SDF3")
	}
	if resolution <= 0 || math.IsInf(resolution, 0) || math.IsNaN(resolution) {
		return nil, errors.New("invalid sampling resolution")
	}
	bb := d3.Box(s.Bounds()).ScaleAboutCenter(1.01)
	cells := d3.CeilElem(r3.Scale(1/resolution, bb.Size()))
	grid := Grid{
		Dims:      V3i{int(cells.X) + 1, int(cells.Y) + 1, int(cells.Z) + 1},
		Origin:    bb.Min,
		VoxelSize: d3.Elem(resolution),
	}
	return &SDFField{grid: grid, s: s}, nil
}

// Grid returns the field's lattice.
func (f *SDFField) Grid() Grid { return f.grid }

// Sample evaluates the SDF3 at the world position of (x,y,z).
func (f *SDFField) Sample(x, y, z int) (float32, bool) {
	if !f.grid.Contains(x, y, z) {
		return 0, false
	}
	return float32(f.s.Evaluate(f.grid.Position(x, y, z))), true
}
