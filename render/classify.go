package render

import "github.com/soypat/isovox"

// Axis is the direction a lattice edge runs along.
type Axis uint8

const (
	AxisX Axis = iota
	AxisY
	AxisZ
)

// EdgeKey identifies a lattice edge by its lower end point and direction.
// Every cube sharing an edge computes the same key for it.
type EdgeKey struct {
	Min  isovox.V3i
	Axis Axis
}

// cubeEdgeKey returns the key of edge e of the cube whose minimum corner is cube.
func cubeEdgeKey(cube isovox.V3i, e int) EdgeKey {
	off := mcCorners[mcEdges[e][0]]
	return EdgeKey{
		Min:  cube.Add(isovox.V3i(off)),
		Axis: mcEdgeAxis[e],
	}
}

// pack maps the key to a unique integer for the lattice described by g.
func (k EdgeKey) pack(g isovox.Grid) uint64 {
	return 3*uint64(g.Index(k.Min[0], k.Min[1], k.Min[2])) + uint64(k.Axis)
}

// sample is a cached field sample.
type sample struct {
	v      float32
	active bool
}

// cubeCorners holds the samples at the 8 corners of a lattice cube
// in mcCorners order.
type cubeCorners [8]sample

// caseCode classifies each corner as inside or outside the surface and
// returns the 8 bit case code. Inactive corners are always outside, as
// are NaN values since they compare false.
func (c *cubeCorners) caseCode(iso float32, lessInside bool) (code uint8) {
	for i := range c {
		s := c[i]
		if !s.active {
			continue
		}
		if (lessInside && s.v < iso) || (!lessInside && s.v > iso) {
			code |= 1 << i
		}
	}
	return code
}

// trivialCase returns true for cubes entirely inside or outside the surface.
func trivialCase(code uint8) bool { return code == 0 || code == 0xff }
