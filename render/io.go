package render

import (
	"io"

	"gonum.org/v1/gonum/spatial/r3"
)

// RenderAll reads the full contents of a Renderer and returns the slice read.
// It does not return error on io.EOF, like the io.ReadAll implementation.
func RenderAll(r Renderer) ([]r3.Triangle, error) {
	var err error
	var nt int
	result := make([]r3.Triangle, 0, 1<<12)
	buf := make([]r3.Triangle, 1024)
	for {
		nt, err = r.ReadTriangles(buf)
		result = append(result, buf[:nt]...)
		if err != nil {
			break
		}
	}
	if err == io.EOF {
		return result, nil
	}
	return result, err
}

// meshRenderer streams the faces of a Mesh.
type meshRenderer struct {
	m    *Mesh
	next int
}

// NewMeshRenderer returns a Renderer that reads the faces of m in order.
func NewMeshRenderer(m *Mesh) Renderer {
	return &meshRenderer{m: m}
}

func (r *meshRenderer) ReadTriangles(t []r3.Triangle) (int, error) {
	n := 0
	for n < len(t) && r.next < len(r.m.Faces) {
		t[n] = r.m.Triangle(r.next)
		n++
		r.next++
	}
	if r.next == len(r.m.Faces) {
		return n, io.EOF
	}
	return n, nil
}
