package render

import (
	"context"
	"runtime"
	"time"

	"github.com/pkg/errors"
	"github.com/soypat/isovox"
	"gonum.org/v1/gonum/spatial/r3"
)

// Renderer streams triangles. ReadTriangles fills t and returns the
// number of triangles written. It returns io.EOF once all triangles
// have been read.
type Renderer interface {
	ReadTriangles(t []r3.Triangle) (int, error)
}

// Params configures an isosurface extraction. The zero value extracts
// the surface at iso 0 with the density convention using all CPUs.
type Params struct {
	// Iso is the threshold value of the surface.
	Iso float32
	// LessInside selects the distance convention, where samples below Iso
	// are inside. By default samples above Iso are inside.
	LessInside bool
	// Positioner places vertices on crossed edges. Defaults to LinearPositioner.
	Positioner Positioner
	// MaxVertices limits the number of mesh vertices. Extraction fails with
	// ErrTooManyVertices as soon as the limit would be crossed.
	// Values <= 0 mean no limit.
	MaxVertices int
	// OmitNaNCheck skips crossed edges with NaN or infinite end point values
	// instead of failing with ErrNonFiniteValue. Triangles using a skipped
	// edge are dropped, which leaves holes in the mesh.
	OmitNaNCheck bool
	// Progress, if not nil, is called after every slab with the fraction of
	// cubes processed. It is never called concurrently. Returning false stops
	// the extraction with ErrCanceled.
	Progress func(fraction float32) bool
	// FaceVoxels requests the Mesh.FaceVoxels provenance map.
	FaceVoxels bool
	// Workers is the number of goroutines marching cubes.
	// Defaults to runtime.GOMAXPROCS(0).
	Workers int
	// SlabDepth is the number of cube layers along z per task.
	// Zero picks a depth giving each worker about four slabs.
	// Every slab samples its own top and bottom sample layers, so the
	// layer shared by two slabs is sampled twice. Shallow slabs therefore
	// cost extra Sample calls on fields that compute values on demand.
	SlabDepth int
	// StrictInput makes degenerate fields fail with ErrDegenerateField
	// instead of producing an empty mesh.
	StrictInput bool
}

// withDefaults resolves the automatic values of p for a lattice of cubes.
func (p Params) withDefaults(cubes isovox.V3i) Params {
	if p.Positioner == nil {
		p.Positioner = LinearPositioner
	}
	if p.Workers <= 0 {
		p.Workers = runtime.GOMAXPROCS(0)
	}
	if p.SlabDepth <= 0 {
		p.SlabDepth = max(1, (cubes[2]+4*p.Workers-1)/(4*p.Workers))
	}
	return p
}

// activeCounter is implemented by fields that know how many samples hold data.
type activeCounter interface {
	ActiveCount() int
}

// MarchingCubes extracts the isosurface of field as an indexed triangle mesh.
// See MarchingCubesContext.
func MarchingCubes(field isovox.ScalarField, p Params) (*Mesh, error) {
	return MarchingCubesContext(context.Background(), field, p)
}

// MarchingCubesContext extracts the isosurface of field as an indexed
// triangle mesh. Vertices shared by adjacent cubes are emitted once so the
// mesh is watertight wherever the surface does not reach the lattice
// boundary or a non-finite sample. Triangles wind counter-clockwise when
// seen from outside.
//
// Cancelling ctx stops the extraction with ErrCanceled. No partial mesh is
// returned on error.
func MarchingCubesContext(ctx context.Context, field isovox.ScalarField, p Params) (*Mesh, error) {
	if field == nil {
		return nil, errors.New("nil scalar field")
	}
	grid := field.Grid()
	if err := grid.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid field grid")
	}
	if reason := degenerate(field); reason != "" {
		if p.StrictInput {
			return nil, errors.WithMessage(ErrDegenerateField, reason)
		}
		Logger().Debug("degenerate field, returning empty mesh", "reason", reason, "dims", grid.Dims)
		return &Mesh{}, nil
	}
	cubes := grid.Cubes()
	p = p.withDefaults(cubes)
	ex := newExtraction(field, p)
	log := Logger()
	log.Debug("marching cubes start",
		"dims", grid.Dims, "iso", p.Iso, "lessInside", p.LessInside,
		"workers", p.Workers, "slabDepth", p.SlabDepth,
		"slabs", (cubes[2]+p.SlabDepth-1)/p.SlabDepth,
	)
	start := time.Now()
	results, err := ex.run(ctx)
	if err != nil {
		log.Debug("marching cubes failed", "err", err, "vertices", ex.verts.len())
		return nil, err
	}
	if n := ex.nanSkipped.Load(); n > 0 {
		log.Warn("skipped edges with non-finite values", "edges", n)
	}
	if n := ex.slabsSkipped.Load(); n > 0 {
		log.Debug("skipped inactive slabs", "slabs", n)
	}
	mesh, err := assemble(ex.verts.positions(), results, p.FaceVoxels)
	if err != nil {
		return nil, err
	}
	log.Info("marching cubes done",
		"vertices", len(mesh.Vertices), "faces", len(mesh.Faces),
		"elapsed", time.Since(start),
	)
	return mesh, nil
}

// degenerate returns a non-empty reason when field cannot hold a surface.
func degenerate(field isovox.ScalarField) string {
	grid := field.Grid()
	if grid.Degenerate() {
		return "lattice has no cubes"
	}
	if ac, ok := field.(activeCounter); ok && ac.ActiveCount() == 0 {
		return "no active samples"
	}
	return ""
}
