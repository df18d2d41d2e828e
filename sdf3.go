package isovox

import (
	"math"

	"github.com/pkg/errors"
	"github.com/soypat/isovox/internal/d3"
	"gonum.org/v1/gonum/spatial/r3"
)

// 3D signed distance functions used as procedural field sources.

// SDF3 is the interface to a 3d signed distance function object.
// Evaluate must be safe for concurrent use.
type SDF3 interface {
	// Evaluate takes a point in 3D space as input and returns
	// the minimum distance of the SDF3 to the point. The distance
	// is negative if the point is contained within the SDF3.
	Evaluate(p r3.Vec) float64
	// Bounds returns the bounding box that completely contains
	// the SDF3.
	Bounds() r3.Box
}

// sphere is a sphere centered at the origin (exact distance field).
type sphere struct {
	radius float64
	bb     r3.Box
}

// Sphere returns an SDF3 for a sphere.
func Sphere(radius float64) (SDF3, error) {
	if radius <= 0 {
		return nil, errors.New("sphere radius <= 0")
	}
	d := d3.Elem(radius)
	return &sphere{
		radius: radius,
		bb:     r3.Box{Min: r3.Scale(-1, d), Max: d},
	}, nil
}

// Evaluate returns the minimum distance to a sphere.
func (s *sphere) Evaluate(p r3.Vec) float64 {
	return r3.Norm(p) - s.radius
}

// Bounds returns the bounding box for a sphere.
func (s *sphere) Bounds() r3.Box {
	return s.bb
}

// box is an axis aligned box with optionally rounded edges.
type box struct {
	size  r3.Vec
	round float64
	bb    r3.Box
}

// Box returns an SDF3 for a 3d box (rounded corners with round > 0).
func Box(size r3.Vec, round float64) (SDF3, error) {
	if d3.LTEZero(size) {
		return nil, errors.New("box size <= 0")
	}
	if round < 0 || 2*round > d3.Min(size) {
		return nil, errors.New("invalid box rounding")
	}
	size = r3.Scale(0.5, size)
	return &box{
		size:  r3.Sub(size, d3.Elem(round)),
		round: round,
		bb:    r3.Box{Min: r3.Scale(-1, size), Max: size},
	}, nil
}

// Evaluate returns the minimum distance to a 3d box.
func (s *box) Evaluate(p r3.Vec) float64 {
	return sdfBox3d(p, s.size) - s.round
}

// Bounds returns the bounding box for a 3d box.
func (s *box) Bounds() r3.Box {
	return s.bb
}

func sdfBox3d(p, s r3.Vec) float64 {
	d := r3.Sub(d3.AbsElem(p), s)
	if d.X > 0 && d.Y > 0 && d.Z > 0 {
		return r3.Norm(d)
	}
	if d.X > 0 && d.Y > 0 {
		return math.Hypot(d.X, d.Y)
	}
	if d.X > 0 && d.Z > 0 {
		return math.Hypot(d.X, d.Z)
	}
	if d.Y > 0 && d.Z > 0 {
		return math.Hypot(d.Y, d.Z)
	}
	if d.X > 0 {
		return d.X
	}
	if d.Y > 0 {
		return d.Y
	}
	if d.Z > 0 {
		return d.Z
	}
	return d3.Max(d)
}

// torus lies in the XY plane centered at the origin.
type torus struct {
	major, minor float64
}

// Torus returns an SDF3 for a torus with ring radius major and tube radius minor.
func Torus(major, minor float64) (SDF3, error) {
	if major <= 0 || minor <= 0 {
		return nil, errors.New("invalid torus parameter")
	} else if minor >= major {
		return nil, errors.New("too large torus tube radius")
	}
	return &torus{major: major, minor: minor}, nil
}

// Evaluate returns the minimum distance to the torus.
func (s *torus) Evaluate(p r3.Vec) float64 {
	q := math.Hypot(p.X, p.Y) - s.major
	return math.Hypot(q, p.Z) - s.minor
}

// Bounds returns the bounding box of the torus.
func (s *torus) Bounds() r3.Box {
	R := s.major + s.minor
	return r3.Box{
		Min: r3.Vec{X: -R, Y: -R, Z: -s.minor},
		Max: r3.Vec{X: R, Y: R, Z: s.minor},
	}
}

// gyroid is a triply periodic gyroid sheet clipped to a box.
// Its field is not an exact distance.
type gyroid struct {
	k         r3.Vec
	thickness float64
	clip      box
}

// Gyroid returns a gyroid sheet of the given thickness with period
// lengths period, confined to a box of size size.
func Gyroid(size, period r3.Vec, thickness float64) (SDF3, error) {
	if d3.LTEZero(period) || thickness <= 0 {
		return nil, errors.New("invalid gyroid parameter")
	}
	b, err := Box(size, 0)
	if err != nil {
		return nil, err
	}
	return &gyroid{
		k:         d3.DivElem(d3.Elem(2*math.Pi), period),
		thickness: thickness,
		clip:      *b.(*box),
	}, nil
}

// Evaluate returns the approximate distance to the gyroid sheet.
func (s *gyroid) Evaluate(p r3.Vec) float64 {
	q := d3.MulElem(p, s.k)
	sin := d3.SinElem(q)
	cos := d3.CosElem(r3.Vec{X: q.Y, Y: q.Z, Z: q.X})
	d := math.Abs(r3.Dot(sin, cos)) - s.thickness
	return math.Max(d, s.clip.Evaluate(p))
}

// Bounds returns the clipping box of the gyroid.
func (s *gyroid) Bounds() r3.Box {
	return s.clip.bb
}

// union3 is a union of SDF3s.
type union3 struct {
	sdf []SDF3
	bb  r3.Box
}

// Union3D returns the union of multiple SDF3 objects.
func Union3D(sdf ...SDF3) (SDF3, error) {
	if len(sdf) == 0 {
		return nil, errors.New("union requires at least one sdf")
	}
	for _, x := range sdf {
		if x == nil {
			return nil, errors.New("nil sdf argument to Union3D")
		}
	}
	// work out the bounding box
	bb := d3.Box(sdf[0].Bounds())
	for _, x := range sdf[1:] {
		bb = bb.Extend(d3.Box(x.Bounds()))
	}
	return &union3{sdf: sdf, bb: r3.Box(bb)}, nil
}

// Evaluate returns the minimum distance to an SDF3 union.
func (s *union3) Evaluate(p r3.Vec) float64 {
	d := s.sdf[0].Evaluate(p)
	for _, x := range s.sdf[1:] {
		d = math.Min(d, x.Evaluate(p))
	}
	return d
}

// Bounds returns the bounding box of an SDF3 union.
func (s *union3) Bounds() r3.Box {
	return s.bb
}

// diff3 is the difference of two SDF3s, s0 - s1.
type diff3 struct {
	s0, s1 SDF3
}

// Difference3D returns the difference of two SDF3s, s0 - s1.
func Difference3D(s0, s1 SDF3) (SDF3, error) {
	if s1 == nil || s0 == nil {
		return nil, errors.New("nil argument to Difference3D")
	}
	return &diff3{s0: s0, s1: s1}, nil
}

// Evaluate returns the minimum distance to the SDF3 difference.
func (s *diff3) Evaluate(p r3.Vec) float64 {
	return math.Max(s.s0.Evaluate(p), -s.s1.Evaluate(p))
}

// Bounds returns the bounding box of the SDF3 difference.
func (s *diff3) Bounds() r3.Box {
	return s.s0.Bounds()
}

// translate3 moves an SDF3.
type translate3 struct {
	sdf SDF3
	v   r3.Vec
}

// Translate3D returns s displaced by v.
func Translate3D(s SDF3, v r3.Vec) SDF3 {
	return &translate3{sdf: s, v: v}
}

// Evaluate returns the distance to the displaced SDF3.
func (s *translate3) Evaluate(p r3.Vec) float64 {
	return s.sdf.Evaluate(r3.Sub(p, s.v))
}

// Bounds returns the displaced bounding box.
func (s *translate3) Bounds() r3.Box {
	return r3.Box(d3.Box(s.sdf.Bounds()).Translate(s.v))
}
