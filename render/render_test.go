package render_test

import (
	"bytes"
	"context"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/soypat/isovox"
	"github.com/soypat/isovox/render"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
)

// sphereCenter is off the lattice so no sample sits exactly on the surface.
var sphereCenter = r3.Vec{X: 11.5, Y: 11.7, Z: 11.3}

const sphereRadius = 8

func sphereDist(p r3.Vec) float64 { return r3.Norm(r3.Sub(p, sphereCenter)) - sphereRadius }

// sphere returns a 24³ signed distance field of a sphere, negative inside.
func sphere(t testing.TB) *isovox.DenseField {
	t.Helper()
	field, err := isovox.NewDenseField(isovox.NewGrid(isovox.V3i{24, 24, 24}), nil)
	require.NoError(t, err)
	field.Fill(func(x, y, z int) float32 {
		return float32(sphereDist(r3.Vec{X: float64(x), Y: float64(y), Z: float64(z)}))
	})
	return field
}

func TestConstantField(t *testing.T) {
	field, err := isovox.NewFuncField(isovox.NewGrid(isovox.V3i{9, 7, 5}), func(x, y, z int) float32 { return 1 })
	require.NoError(t, err)
	for _, p := range []render.Params{
		{Iso: 0},
		{Iso: 0, LessInside: true},
		{Iso: 2},
		{Iso: 2, LessInside: true},
		{Iso: 1}, // no sample is strictly above or below.
	} {
		mesh, err := render.MarchingCubes(field, p)
		require.NoError(t, err)
		assert.Empty(t, mesh.Vertices, "params %+v", p)
		assert.Empty(t, mesh.Faces, "params %+v", p)
	}
}

func TestSingleCube(t *testing.T) {
	// Density convention: the bottom face is inside.
	data := []float32{
		1, 1, 1, 1, // z=0
		0, 0, 0, 0, // z=1
	}
	field, err := isovox.NewDenseField(isovox.NewGrid(isovox.V3i{2, 2, 2}), data)
	require.NoError(t, err)
	mesh, err := render.MarchingCubes(field, render.Params{Iso: 0.5})
	require.NoError(t, err)
	require.Len(t, mesh.Faces, 2)
	require.Len(t, mesh.Vertices, 4)
	for _, v := range mesh.Vertices {
		assert.InDelta(t, 0.5, v.Z, 1e-12)
	}
	for _, tri := range mesh.Triangles() {
		n := tri.Normal()
		assert.Greater(t, n.Z, 0.0, "normal must point from inside (bottom) to outside (top)")
	}
	assert.Equal(t, 4, mesh.BoundaryEdges())
}

func TestSphereWatertight(t *testing.T) {
	for _, workers := range []int{1, 3, 8} {
		mesh, err := render.MarchingCubes(sphere(t), render.Params{LessInside: true, Workers: workers, SlabDepth: 2})
		require.NoError(t, err)
		require.NotEmpty(t, mesh.Faces)
		assert.True(t, mesh.IsClosed(), "workers=%d", workers)
		assert.Zero(t, mesh.BoundaryEdges())
		assert.Zero(t, mesh.NonManifoldEdges())
		// Euler characteristic of a sphere.
		edges := 3 * len(mesh.Faces) / 2
		assert.Equal(t, 2, len(mesh.Vertices)-edges+len(mesh.Faces))
		assert.Less(t, mesh.MaxDistance(sphereDist), 0.05)
		exact := 4. / 3 * math.Pi * sphereRadius * sphereRadius * sphereRadius
		assert.InEpsilon(t, exact, mesh.Volume(), 0.03)
		assert.Empty(t, render.CoincidentVertices(mesh, 1e-6))
	}
}

func TestConventionsAgree(t *testing.T) {
	field := sphere(t)
	neg := make([]float32, len(field.Data()))
	for i, v := range field.Data() {
		neg[i] = -v
	}
	density, err := isovox.NewDenseField(field.Grid(), neg)
	require.NoError(t, err)
	want, err := render.MarchingCubes(field, render.Params{LessInside: true, Workers: 1})
	require.NoError(t, err)
	got, err := render.MarchingCubes(density, render.Params{Workers: 1})
	require.NoError(t, err)
	assert.Equal(t, want.Triangles(), got.Triangles())
}

func TestDeterministicTriangles(t *testing.T) {
	field := sphere(t)
	want, err := render.MarchingCubes(field, render.Params{LessInside: true, Workers: 1, SlabDepth: 3})
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		got, err := render.MarchingCubes(field, render.Params{LessInside: true, Workers: 6, SlabDepth: 3})
		require.NoError(t, err)
		require.Equal(t, len(want.Vertices), len(got.Vertices))
		require.Equal(t, want.Triangles(), got.Triangles(), "triangle order and positions must not depend on scheduling")
	}
}

func TestRandomFieldClosed(t *testing.T) {
	// Any sign pattern surrounded by outside samples yields a closed manifold,
	// ambiguous faces included.
	const n = 10
	rng := rand.New(rand.NewSource(1))
	for seed := 0; seed < 20; seed++ {
		field, err := isovox.NewDenseField(isovox.NewGrid(isovox.V3i{n, n, n}), nil)
		require.NoError(t, err)
		field.Fill(func(x, y, z int) float32 {
			if x == 0 || y == 0 || z == 0 || x == n-1 || y == n-1 || z == n-1 {
				return -1
			}
			return rng.Float32()*2 - 1
		})
		mesh, err := render.MarchingCubes(field, render.Params{SlabDepth: 1})
		require.NoError(t, err)
		require.NotEmpty(t, mesh.Faces)
		assert.True(t, mesh.IsClosed(), "seed %d", seed)
		assert.Zero(t, mesh.NonManifoldEdges(), "seed %d", seed)
	}
}

func TestProgressCancel(t *testing.T) {
	var calls atomic.Int32
	mesh, err := render.MarchingCubes(sphere(t), render.Params{
		LessInside: true,
		SlabDepth:  1,
		Workers:    2,
		Progress: func(float32) bool {
			calls.Add(1)
			return false
		},
	})
	require.ErrorIs(t, err, render.ErrCanceled)
	assert.Nil(t, mesh)
	assert.Less(t, int(calls.Load()), 23, "remaining slabs must not be processed")
}

func TestProgressMonotonic(t *testing.T) {
	var fractions []float32
	var concurrent, maxConcurrent atomic.Int32
	_, err := render.MarchingCubes(sphere(t), render.Params{
		LessInside: true,
		SlabDepth:  1,
		Workers:    4,
		Progress: func(f float32) bool {
			c := concurrent.Add(1)
			if c > maxConcurrent.Load() {
				maxConcurrent.Store(c)
			}
			fractions = append(fractions, f)
			concurrent.Add(-1)
			return true
		},
	})
	require.NoError(t, err)
	assert.EqualValues(t, 1, maxConcurrent.Load())
	require.Len(t, fractions, 23)
	for i := 1; i < len(fractions); i++ {
		assert.GreaterOrEqual(t, fractions[i], fractions[i-1])
	}
	assert.InDelta(t, 1, fractions[len(fractions)-1], 1e-6)
}

func TestContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	mesh, err := render.MarchingCubesContext(ctx, sphere(t), render.Params{LessInside: true})
	require.ErrorIs(t, err, render.ErrCanceled)
	assert.Nil(t, mesh)
}

func TestMaxVertices(t *testing.T) {
	field := sphere(t)
	full, err := render.MarchingCubes(field, render.Params{LessInside: true})
	require.NoError(t, err)
	nv := len(full.Vertices)

	mesh, err := render.MarchingCubes(field, render.Params{LessInside: true, MaxVertices: nv})
	require.NoError(t, err)
	assert.Len(t, mesh.Vertices, nv)

	for _, limit := range []int{1, 100, nv - 1} {
		mesh, err = render.MarchingCubes(field, render.Params{LessInside: true, MaxVertices: limit})
		require.ErrorIs(t, err, render.ErrTooManyVertices, "limit %d", limit)
		assert.Nil(t, mesh)
	}
}

func TestDegenerateField(t *testing.T) {
	flat, err := isovox.NewDenseField(isovox.NewGrid(isovox.V3i{1, 5, 5}), nil)
	require.NoError(t, err)
	empty, err := isovox.NewDenseField(isovox.NewGrid(isovox.V3i{0, 0, 0}), nil)
	require.NoError(t, err)
	sparse, err := isovox.NewSparseField(isovox.NewGrid(isovox.V3i{16, 16, 16}))
	require.NoError(t, err)
	for _, field := range []isovox.ScalarField{flat, empty, sparse} {
		mesh, err := render.MarchingCubes(field, render.Params{})
		require.NoError(t, err)
		assert.Empty(t, mesh.Faces)
		mesh, err = render.MarchingCubes(field, render.Params{StrictInput: true})
		require.ErrorIs(t, err, render.ErrDegenerateField)
		assert.Nil(t, mesh)
	}
}

func TestNonFinite(t *testing.T) {
	for _, bad := range []float32{float32(math.NaN()), float32(math.Inf(-1))} {
		field := sphere(t)
		// Sample just inside the surface, next to crossed edges.
		require.Less(t, field.At(19, 12, 11), float32(0))
		field.Set(19, 12, 11, bad)

		_, err := render.MarchingCubes(field, render.Params{LessInside: true})
		require.ErrorIs(t, err, render.ErrNonFiniteValue)

		mesh, err := render.MarchingCubes(field, render.Params{LessInside: true, OmitNaNCheck: true})
		require.NoError(t, err)
		require.NotEmpty(t, mesh.Faces)
		assert.False(t, mesh.IsClosed())
		assert.Positive(t, mesh.BoundaryEdges())
		for _, v := range mesh.Vertices {
			require.False(t, math.IsNaN(v.X+v.Y+v.Z), "non-finite vertex %v", v)
		}
		used := make([]bool, len(mesh.Vertices))
		for _, f := range mesh.Faces {
			used[f[0]], used[f[1]], used[f[2]] = true, true, true
		}
		for i, u := range used {
			assert.True(t, u, "vertex %d not referenced by any face", i)
		}
	}
}

func TestPositioner(t *testing.T) {
	var misordered atomic.Bool
	mid := func(p0, p1 r3.Vec, v0, v1, iso float32) r3.Vec {
		if p0.X > p1.X || p0.Y > p1.Y || p0.Z > p1.Z {
			misordered.Store(true)
		}
		return r3.Scale(0.5, r3.Add(p0, p1))
	}
	mesh, err := render.MarchingCubes(sphere(t), render.Params{LessInside: true, Positioner: mid})
	require.NoError(t, err)
	assert.False(t, misordered.Load(), "positioner must get the minimum corner first")
	assert.True(t, mesh.IsClosed())
	for _, v := range mesh.Vertices {
		halves := 0
		for _, c := range []float64{v.X, v.Y, v.Z} {
			if c != math.Floor(c) {
				halves++
				assert.Equal(t, 0.5, c-math.Floor(c))
			}
		}
		assert.Equal(t, 1, halves, "vertex %v not at an edge midpoint", v)
	}
}

func TestFaceVoxels(t *testing.T) {
	field := sphere(t)
	grid := field.Grid()
	mesh, err := render.MarchingCubes(field, render.Params{LessInside: true, FaceVoxels: true})
	require.NoError(t, err)
	require.Len(t, mesh.FaceVoxels, len(mesh.Faces))
	for i, id := range mesh.FaceVoxels {
		c := grid.Coord(int(id))
		lo := grid.Position(c[0], c[1], c[2])
		hi := grid.Position(c[0]+1, c[1]+1, c[2]+1)
		for _, v := range mesh.Triangle(i) {
			inside := v.X >= lo.X && v.Y >= lo.Y && v.Z >= lo.Z && v.X <= hi.X && v.Y <= hi.Y && v.Z <= hi.Z
			require.True(t, inside, "face %d vertex %v outside voxel %v", i, v, c)
		}
	}
	plain, err := render.MarchingCubes(field, render.Params{LessInside: true})
	require.NoError(t, err)
	assert.Nil(t, plain.FaceVoxels)
}

func TestGridPlacement(t *testing.T) {
	field := sphere(t)
	grid := field.Grid()
	grid.Origin = r3.Vec{X: -5, Y: 10, Z: 1}
	grid.VoxelSize = r3.Vec{X: 0.5, Y: 0.5, Z: 0.5}
	moved, err := isovox.NewDenseField(grid, field.Data())
	require.NoError(t, err)
	base, err := render.MarchingCubes(field, render.Params{LessInside: true, Workers: 1})
	require.NoError(t, err)
	got, err := render.MarchingCubes(moved, render.Params{LessInside: true, Workers: 1})
	require.NoError(t, err)
	require.Len(t, got.Vertices, len(base.Vertices))
	want := base.Triangles()
	for i, tri := range got.Triangles() {
		for j := range tri {
			expect := r3.Add(grid.Origin, r3.Scale(0.5, want[i][j]))
			require.InDelta(t, 0, r3.Norm(r3.Sub(expect, tri[j])), 1e-9)
		}
	}
}

func TestSparseBlock(t *testing.T) {
	field, err := isovox.NewSparseField(isovox.NewGrid(isovox.V3i{32, 32, 32}))
	require.NoError(t, err)
	// One full leaf of inside samples with nothing allocated around it.
	for z := 8; z < 16; z++ {
		for y := 8; y < 16; y++ {
			for x := 8; x < 16; x++ {
				require.NoError(t, field.Set(x, y, z, 1))
			}
		}
	}
	mesh, err := render.MarchingCubes(field, render.Params{Iso: 0.5, SlabDepth: 1})
	require.NoError(t, err)
	require.NotEmpty(t, mesh.Faces)
	assert.True(t, mesh.IsClosed())
	bb := mesh.Bounds()
	assert.Equal(t, r3.Vec{X: 7.5, Y: 7.5, Z: 7.5}, bb.Min)
	assert.Equal(t, r3.Vec{X: 15.5, Y: 15.5, Z: 15.5}, bb.Max)
	assert.Positive(t, mesh.Volume())
}

func TestSparseMatchesDense(t *testing.T) {
	dense := sphere(t)
	grid := dense.Grid()
	sparse, err := isovox.NewSparseField(grid)
	require.NoError(t, err)
	for z := 0; z < grid.Dims[2]; z++ {
		for y := 0; y < grid.Dims[1]; y++ {
			for x := 0; x < grid.Dims[0]; x++ {
				require.NoError(t, sparse.Set(x, y, z, dense.At(x, y, z)))
			}
		}
	}
	want, err := render.MarchingCubes(dense, render.Params{LessInside: true, Workers: 1})
	require.NoError(t, err)
	got, err := render.MarchingCubes(sparse, render.Params{LessInside: true, Workers: 1})
	require.NoError(t, err)
	assert.Equal(t, want.Triangles(), got.Triangles())
}

func TestSDFField(t *testing.T) {
	torus, err := isovox.Torus(3, 1)
	require.NoError(t, err)
	field, err := isovox.NewSDFField(torus, 0.2)
	require.NoError(t, err)
	mesh, err := render.MarchingCubes(field, render.Params{LessInside: true})
	require.NoError(t, err)
	assert.True(t, mesh.IsClosed())
	// Torus has genus one.
	edges := 3 * len(mesh.Faces) / 2
	assert.Equal(t, 0, len(mesh.Vertices)-edges+len(mesh.Faces))
	assert.Less(t, mesh.MaxDistance(torus.Evaluate), 0.02)
}

func TestCoincidentVertices(t *testing.T) {
	mesh := &render.Mesh{
		Vertices: []r3.Vec{{}, {X: 1}, {Y: 1}, {X: 1e-9}, {Z: 1}},
		Faces:    []render.Triangle{{0, 1, 2}, {3, 1, 4}},
	}
	got := render.CoincidentVertices(mesh, 1e-6)
	assert.Equal(t, [][2]int32{{0, 3}}, got)
	assert.Empty(t, render.CoincidentVertices(mesh, 0))
}

func TestSTLCreateWriteRead(t *testing.T) {
	mesh, err := render.MarchingCubes(sphere(t), render.Params{LessInside: true})
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "sphere.stl")
	require.NoError(t, render.CreateSTL(path, render.NewMeshRenderer(mesh)))
	bfile, err := os.ReadFile(path)
	require.NoError(t, err)

	var b bytes.Buffer
	require.NoError(t, render.WriteSTL(&b, mesh))
	require.Equal(t, b.Len(), len(bfile), "WriteSTL and CreateSTL output length mismatch")
	require.True(t, bytes.Equal(b.Bytes(), bfile), "WriteSTL and CreateSTL output mismatch")

	model, err := render.ReadSTL(bytes.NewReader(bfile))
	require.NoError(t, err)
	assert.Len(t, model, len(mesh.Faces))

	all, err := render.RenderAll(render.NewMeshRenderer(mesh))
	require.NoError(t, err)
	assert.Equal(t, mesh.Triangles(), all)
}

func TestWriteEmptySTL(t *testing.T) {
	var b bytes.Buffer
	assert.Error(t, render.WriteSTL(&b, &render.Mesh{}))
	_, err := render.ReadSTL(bytes.NewReader(make([]byte, 84)))
	assert.Error(t, err)
}

func BenchmarkSphere(b *testing.B) {
	field, err := isovox.NewFuncField(isovox.NewGrid(isovox.V3i{128, 128, 128}), func(x, y, z int) float32 {
		dx, dy, dz := float64(x)-63.7, float64(y)-64.2, float64(z)-63.9
		return float32(math.Sqrt(dx*dx+dy*dy+dz*dz) - 50)
	})
	if err != nil {
		b.Fatal(err)
	}
	for i := 0; i < b.N; i++ {
		if _, err := render.MarchingCubes(field, render.Params{LessInside: true}); err != nil {
			b.Fatal(err)
		}
	}
}
