package render

import (
	"github.com/chewxy/math32"
	"gonum.org/v1/gonum/spatial/r3"
)

// Positioner places the mesh vertex on a crossed cube edge running from p0
// (value v0) to p1 (value v1), where iso lies between v0 and v1. p0 is always
// the end point with the smaller lattice coordinate.
//
// A Positioner is called concurrently from many goroutines. It must not
// modify shared state unless it synchronizes access itself.
type Positioner func(p0, p1 r3.Vec, v0, v1, iso float32) r3.Vec

// LinearPositioner places the vertex where the linear interpolation of
// the edge values equals iso. It is the default Positioner.
func LinearPositioner(p0, p1 r3.Vec, v0, v1, iso float32) r3.Vec {
	t := 0.5
	if v0 != v1 {
		t = (float64(iso) - float64(v0)) / (float64(v1) - float64(v0))
		t = clamp01(t)
	}
	return r3.Add(p0, r3.Scale(t, r3.Sub(p1, p0)))
}

// clamp01 clamps t to [0,1]. NaN maps to 0.5.
func clamp01(t float64) float64 {
	switch {
	case t < 0:
		return 0
	case t > 1:
		return 1
	case t >= 0:
		return t
	}
	return 0.5
}

func isFinite(v float32) bool {
	return !math32.IsNaN(v) && !math32.IsInf(v, 0)
}
