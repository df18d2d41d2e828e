package render

import (
	"math"

	"github.com/pkg/errors"
	"github.com/soypat/isovox/internal/d3"
	"gonum.org/v1/gonum/spatial/r3"
)

// Triangle holds the indices of a face's vertices in Mesh.Vertices.
type Triangle [3]int32

// VoxelID is the linear lattice index (see isovox.Grid.Index) of the
// minimum corner of the cube a face was generated in.
type VoxelID int

// Mesh is an indexed triangle mesh.
type Mesh struct {
	Vertices []r3.Vec
	Faces    []Triangle
	// FaceVoxels maps each face to the cube it came from. It is only set
	// when requested with Params.FaceVoxels and has the length of Faces.
	FaceVoxels []VoxelID
}

// assemble concatenates slab results in order and checks the mesh indices.
func assemble(verts []r3.Vec, results []slabResult, faceVoxels bool) (*Mesh, error) {
	nt := 0
	for i := range results {
		nt += len(results[i].tris)
	}
	m := &Mesh{
		Vertices: verts,
		Faces:    make([]Triangle, 0, nt),
	}
	if faceVoxels {
		m.FaceVoxels = make([]VoxelID, 0, nt)
	}
	for i := range results {
		m.Faces = append(m.Faces, results[i].tris...)
		if faceVoxels {
			m.FaceVoxels = append(m.FaceVoxels, results[i].voxels...)
		}
	}
	if err := m.validate(); err != nil {
		return nil, errors.Wrap(err, "bug: inconsistent mesh")
	}
	return m, nil
}

func (m *Mesh) validate() error {
	nv := int32(len(m.Vertices))
	for i, t := range m.Faces {
		if t[0] < 0 || t[1] < 0 || t[2] < 0 || t[0] >= nv || t[1] >= nv || t[2] >= nv {
			return errors.Errorf("face %d index out of range %v, have %d vertices", i, t, nv)
		}
		if t[0] == t[1] || t[1] == t[2] || t[2] == t[0] {
			return errors.Errorf("face %d repeats a vertex %v", i, t)
		}
	}
	if m.FaceVoxels != nil && len(m.FaceVoxels) != len(m.Faces) {
		return errors.Errorf("%d face voxels for %d faces", len(m.FaceVoxels), len(m.Faces))
	}
	return nil
}

// Triangle returns the vertex positions of face i.
func (m *Mesh) Triangle(i int) r3.Triangle {
	f := m.Faces[i]
	return r3.Triangle{m.Vertices[f[0]], m.Vertices[f[1]], m.Vertices[f[2]]}
}

// Triangles returns the faces of the mesh as unindexed triangles.
func (m *Mesh) Triangles() []r3.Triangle {
	out := make([]r3.Triangle, len(m.Faces))
	for i := range m.Faces {
		out[i] = m.Triangle(i)
	}
	return out
}

// Bounds returns the bounding box of the mesh vertices.
// The box of an empty mesh is the zero box.
func (m *Mesh) Bounds() r3.Box {
	if len(m.Vertices) == 0 {
		return r3.Box{}
	}
	bb := d3.Box{Min: m.Vertices[0], Max: m.Vertices[0]}
	for _, v := range m.Vertices[1:] {
		bb = bb.Include(v)
	}
	return r3.Box(bb)
}

// Volume returns the signed volume enclosed by the mesh. It is positive
// for closed meshes with outward facing triangles.
func (m *Mesh) Volume() float64 {
	var vol float64
	for i := range m.Faces {
		t := m.Triangle(i)
		vol += r3.Dot(t[0], r3.Cross(t[1], t[2]))
	}
	return vol / 6
}

// Area returns the total surface area of the mesh.
func (m *Mesh) Area() float64 {
	var area float64
	for i := range m.Faces {
		area += m.Triangle(i).Area()
	}
	return area
}

type meshEdge [2]int32

// edgeCounts counts how many faces use each directed edge.
func (m *Mesh) edgeCounts() map[meshEdge]int {
	counts := make(map[meshEdge]int, 3*len(m.Faces))
	for _, f := range m.Faces {
		counts[meshEdge{f[0], f[1]}]++
		counts[meshEdge{f[1], f[2]}]++
		counts[meshEdge{f[2], f[0]}]++
	}
	return counts
}

// undirected returns the number of faces sharing each undirected edge.
func undirected(directed map[meshEdge]int) map[meshEdge]int {
	u := make(map[meshEdge]int, len(directed))
	for e, n := range directed {
		if e[0] > e[1] {
			e[0], e[1] = e[1], e[0]
		}
		u[e] += n
	}
	return u
}

// BoundaryEdges returns the number of edges used by a single face.
func (m *Mesh) BoundaryEdges() int {
	n := 0
	for _, c := range undirected(m.edgeCounts()) {
		if c == 1 {
			n++
		}
	}
	return n
}

// NonManifoldEdges returns the number of edges shared by more than two faces.
func (m *Mesh) NonManifoldEdges() int {
	n := 0
	for _, c := range undirected(m.edgeCounts()) {
		if c > 2 {
			n++
		}
	}
	return n
}

// IsClosed reports whether the mesh is a closed, consistently oriented
// 2-manifold: every directed edge appears exactly once and so does its
// reverse. An empty mesh is not closed.
func (m *Mesh) IsClosed() bool {
	if len(m.Faces) == 0 {
		return false
	}
	counts := m.edgeCounts()
	for e, n := range counts {
		if n != 1 || counts[meshEdge{e[1], e[0]}] != 1 {
			return false
		}
	}
	return true
}

// MaxDistance returns the largest absolute value of dist over the mesh vertices.
// It is used to check how close vertices lie to a known surface.
func (m *Mesh) MaxDistance(dist func(r3.Vec) float64) float64 {
	var worst float64
	for _, v := range m.Vertices {
		worst = math.Max(worst, math.Abs(dist(v)))
	}
	return worst
}
