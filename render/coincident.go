package render

import (
	"sort"

	"gonum.org/v1/gonum/spatial/kdtree"
	"gonum.org/v1/gonum/spatial/r3"
)

var (
	_ kdtree.Interface  = kdVertices{}
	_ kdtree.Comparable = kdVertex{}
)

// CoincidentVertices returns the pairs of distinct vertices of m that lie
// within tol of each other, lowest index first and sorted. A mesh with
// proper vertex sharing has none for a tol well below the voxel size,
// save for vertices placed on lattice samples that equal the iso value.
func CoincidentVertices(m *Mesh, tol float64) [][2]int32 {
	if len(m.Vertices) < 2 {
		return nil
	}
	kv := make(kdVertices, len(m.Vertices))
	for i, v := range m.Vertices {
		kv[i] = kdVertex{pos: v, idx: int32(i)}
	}
	tree := kdtree.New(kv, false)
	var pairs [][2]int32
	for i, v := range m.Vertices {
		keep := kdtree.NewDistKeeper(tol * tol)
		tree.NearestSet(keep, kdVertex{pos: v, idx: -1})
		for _, c := range keep.Heap {
			if c.Comparable == nil {
				continue
			}
			j := c.Comparable.(kdVertex).idx
			if j > int32(i) {
				pairs = append(pairs, [2]int32{int32(i), j})
			}
		}
	}
	sort.Slice(pairs, func(a, b int) bool {
		if pairs[a][0] != pairs[b][0] {
			return pairs[a][0] < pairs[b][0]
		}
		return pairs[a][1] < pairs[b][1]
	})
	return pairs
}

// kdVertex is a mesh vertex stored in a k-d tree.
type kdVertex struct {
	pos r3.Vec
	idx int32
}

type kdVertices []kdVertex

func (k kdVertices) Index(i int) kdtree.Comparable { return k[i] }

// Len returns the length of the list.
func (k kdVertices) Len() int { return len(k) }

// Pivot partitions the list based on the dimension specified.
func (k kdVertices) Pivot(d kdtree.Dim) int {
	p := kdVertexPlane{dim: d, verts: k}
	return kdtree.Partition(p, kdtree.MedianOfMedians(p))
}

// Slice returns a slice of the list using zero-based half
// open indexing equivalent to built-in slice indexing.
func (k kdVertices) Slice(start, end int) kdtree.Interface { return k[start:end] }

// Compare returns the signed distance of a from the plane passing through
// b and perpendicular to the dimension d.
func (a kdVertex) Compare(b kdtree.Comparable, d kdtree.Dim) float64 {
	return kdAxis(a.pos, d) - kdAxis(b.(kdVertex).pos, d)
}

// Dims returns the number of dimensions described in the Comparable.
func (a kdVertex) Dims() int { return 3 }

// Distance returns the squared Euclidean distance between the receiver and
// the parameter.
func (a kdVertex) Distance(b kdtree.Comparable) float64 {
	return r3.Norm2(r3.Sub(a.pos, b.(kdVertex).pos))
}

func kdAxis(v r3.Vec, d kdtree.Dim) float64 {
	switch d {
	case 0:
		return v.X
	case 1:
		return v.Y
	}
	return v.Z
}

type kdVertexPlane struct {
	dim   kdtree.Dim
	verts kdVertices
}

func (p kdVertexPlane) Less(i, j int) bool {
	return kdAxis(p.verts[i].pos, p.dim) < kdAxis(p.verts[j].pos, p.dim)
}
func (p kdVertexPlane) Swap(i, j int) { p.verts[i], p.verts[j] = p.verts[j], p.verts[i] }
func (p kdVertexPlane) Len() int      { return len(p.verts) }
func (p kdVertexPlane) Slice(start, end int) kdtree.SortSlicer {
	p.verts = p.verts[start:end]
	return p
}
