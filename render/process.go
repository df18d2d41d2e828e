package render

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/soypat/isovox"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/spatial/r3"
)

// activeRegion is implemented by fields that can quickly tell whether
// a box of samples holds any data, such as isovox.SparseField.
type activeRegion interface {
	AnyActive(lo, hi isovox.V3i) bool
}

// slab is the range [z0, z1) of cube layers processed by one task.
type slab struct {
	z0, z1 int
}

// slabResult holds the triangles emitted by one slab in cube order.
type slabResult struct {
	tris   []Triangle
	voxels []VoxelID
}

// extraction holds the state shared by all slab workers of a single
// MarchingCubes call. The field is read only, the vertex table and the
// counters are the only shared mutable state.
type extraction struct {
	field  isovox.ScalarField
	grid   isovox.Grid
	cubes  isovox.V3i
	params Params
	sparse activeRegion
	verts  *vertexTable

	halt         atomic.Bool
	nanSkipped   atomic.Int64
	slabsSkipped atomic.Int64

	progMu    sync.Mutex
	cubesDone int64
}

func newExtraction(field isovox.ScalarField, p Params) *extraction {
	grid := field.Grid()
	ex := &extraction{
		field:  field,
		grid:   grid,
		cubes:  grid.Cubes(),
		params: p,
		verts:  newVertexTable(p.MaxVertices),
	}
	ex.sparse, _ = field.(activeRegion)
	return ex
}

// slabs partitions the cube layers along z.
func (ex *extraction) slabs() []slab {
	depth := ex.params.SlabDepth
	nz := ex.cubes[2]
	out := make([]slab, 0, (nz+depth-1)/depth)
	for z := 0; z < nz; z += depth {
		out = append(out, slab{z0: z, z1: min(z+depth, nz)})
	}
	return out
}

// run processes all slabs with a bounded pool of workers. Results are
// returned in slab order. The first fatal error stops all workers.
func (ex *extraction) run(ctx context.Context) ([]slabResult, error) {
	slabs := ex.slabs()
	results := make([]slabResult, len(slabs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ex.params.Workers)
	for i := range slabs {
		if ex.halt.Load() || gctx.Err() != nil {
			break
		}
		i := i
		g.Go(func() error {
			err := ex.processSlab(gctx, slabs[i], &results[i])
			if err != nil {
				ex.halt.Store(true)
			}
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(ErrCanceled, err.Error())
	}
	return results, nil
}

// processSlab marches every cube of the slab. It returns nil without
// finishing when another worker halted the extraction, so that only the
// error that caused the halt is reported.
func (ex *extraction) processSlab(ctx context.Context, s slab, out *slabResult) error {
	if ex.halt.Load() {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return errors.Wrap(ErrCanceled, err.Error())
	}
	nx, ny := ex.grid.Dims[0], ex.grid.Dims[1]
	if ex.sparse != nil && !ex.sparse.AnyActive(isovox.V3i{0, 0, s.z0}, isovox.V3i{nx - 1, ny - 1, s.z1}) {
		// No active sample means no inside corner in the whole slab.
		ex.slabsSkipped.Add(1)
		return ex.report(s)
	}
	lo := make([]sample, nx*ny)
	hi := make([]sample, nx*ny)
	ex.loadLayer(lo, s.z0)
	for z := s.z0; z < s.z1; z++ {
		ex.loadLayer(hi, z+1)
		if err := ex.marchLayer(z, lo, hi, out); err != nil {
			return err
		}
		if ex.halt.Load() {
			return nil
		}
		lo, hi = hi, lo
	}
	return ex.report(s)
}

// loadLayer samples the z layer of the field into dst.
func (ex *extraction) loadLayer(dst []sample, z int) {
	nx, ny := ex.grid.Dims[0], ex.grid.Dims[1]
	i := 0
	for y := 0; y < ny; y++ {
		for x := 0; x < nx; x++ {
			v, active := ex.field.Sample(x, y, z)
			dst[i] = sample{v: v, active: active}
			i++
		}
	}
}

// marchLayer marches the cubes between sample layers z and z+1.
func (ex *extraction) marchLayer(z int, lo, hi []sample, out *slabResult) error {
	var (
		nx      = ex.grid.Dims[0]
		iso     = ex.params.Iso
		less    = ex.params.LessInside
		corners cubeCorners
		layers  = [2][]sample{lo, hi}
	)
	for y := 0; y < ex.cubes[1]; y++ {
		if ex.halt.Load() {
			return nil
		}
		for x := 0; x < ex.cubes[0]; x++ {
			for i, off := range mcCorners {
				corners[i] = layers[off[2]][(y+off[1])*nx+x+off[0]]
			}
			code := corners.caseCode(iso, less)
			if trivialCase(code) {
				continue
			}
			if err := ex.emitCube(isovox.V3i{x, y, z}, code, &corners, out); err != nil {
				return err
			}
		}
	}
	return nil
}

// emitCube appends the triangles of the cube to out. Vertices are created
// or looked up only for edges of triangles that are emitted, so skipped
// non-finite edges leave no unreferenced vertices behind.
func (ex *extraction) emitCube(cube isovox.V3i, code uint8, c *cubeCorners, out *slabResult) error {
	mc := &mcCases[code]
	var skip uint16
	for e := 0; e < 12; e++ {
		if mc.edges&(1<<e) == 0 {
			continue
		}
		s0, s1 := c[mcEdges[e][0]], c[mcEdges[e][1]]
		if (s0.active && !isFinite(s0.v)) || (s1.active && !isFinite(s1.v)) {
			if !ex.params.OmitNaNCheck {
				return errors.Wrapf(ErrNonFiniteValue, "cube %v edge %d", cube, e)
			}
			ex.nanSkipped.Add(1)
			skip |= 1 << e
		}
	}
	var (
		idx   [12]int32
		made  uint16
		voxel = VoxelID(ex.grid.Index(cube[0], cube[1], cube[2]))
	)
	for t := 0; t+2 < len(mc.tris); t += 3 {
		edges := [3]uint8{mc.tris[t], mc.tris[t+1], mc.tris[t+2]}
		if skip&(1<<edges[0]|1<<edges[1]|1<<edges[2]) != 0 {
			continue
		}
		var face Triangle
		for k, e := range edges {
			if made&(1<<e) == 0 {
				i, err := ex.vertex(cube, e, c)
				if err != nil {
					return err
				}
				idx[e] = i
				made |= 1 << e
			}
			face[k] = idx[e]
		}
		out.tris = append(out.tris, face)
		if ex.params.FaceVoxels {
			out.voxels = append(out.voxels, voxel)
		}
	}
	return nil
}

// vertex returns the index of the vertex on edge e of the cube.
func (ex *extraction) vertex(cube isovox.V3i, e uint8, c *cubeCorners) (int32, error) {
	key := cubeEdgeKey(cube, int(e))
	s0, s1 := c[mcEdges[e][0]], c[mcEdges[e][1]]
	i, err := ex.verts.getOrCreate(key.pack(ex.grid), func() r3.Vec {
		return ex.position(key, s0, s1)
	})
	if err != nil {
		return -1, errors.Wrapf(err, "limit of %d reached at cube %v", ex.verts.max, cube)
	}
	return i, nil
}

// position places the vertex of a crossed edge. s0 is the sample at the
// edge's minimum corner. An edge reaching an inactive sample carries no
// value to interpolate, its vertex is put at the edge midpoint.
func (ex *extraction) position(key EdgeKey, s0, s1 sample) r3.Vec {
	a := key.Min
	b := a
	b[key.Axis]++
	p0 := ex.grid.Position(a[0], a[1], a[2])
	p1 := ex.grid.Position(b[0], b[1], b[2])
	if !s0.active || !s1.active {
		return r3.Scale(0.5, r3.Add(p0, p1))
	}
	return ex.params.Positioner(p0, p1, s0.v, s1.v, ex.params.Iso)
}

// report adds the cubes of a finished slab to the progress count and
// calls the progress callback. Calls are serialized.
func (ex *extraction) report(s slab) error {
	if ex.params.Progress == nil {
		return nil
	}
	ex.progMu.Lock()
	defer ex.progMu.Unlock()
	ex.cubesDone += int64(s.z1-s.z0) * int64(ex.cubes[0]) * int64(ex.cubes[1])
	total := int64(ex.cubes.Prod())
	if !ex.params.Progress(float32(float64(ex.cubesDone) / float64(total))) {
		return errors.WithMessage(ErrCanceled, "progress callback requested stop")
	}
	return nil
}
