/*

Integer 3D lattice coordinates

*/

package isovox

import "gonum.org/v1/gonum/spatial/r3"

// V3i is a 3D integer vector. It indexes samples and cubes of a lattice.
type V3i [3]int

// SubScalar subtracts a scalar from each component of the vector.
func (a V3i) SubScalar(b int) V3i {
	return V3i{a[0] - b, a[1] - b, a[2] - b}
}

// AddScalar adds a scalar to each component of the vector.
func (a V3i) AddScalar(b int) V3i {
	return V3i{a[0] + b, a[1] + b, a[2] + b}
}

// ToV3 converts V3i (integer) to r3.Vec (float).
func (a V3i) ToV3() r3.Vec {
	return r3.Vec{X: float64(a[0]), Y: float64(a[1]), Z: float64(a[2])}
}

// Add adds two vectors. Return v = a + b.
func (a V3i) Add(b V3i) V3i {
	return V3i{a[0] + b[0], a[1] + b[1], a[2] + b[2]}
}

// Sub subtracts two vectors. Return v = a - b.
func (a V3i) Sub(b V3i) V3i {
	return V3i{a[0] - b[0], a[1] - b[1], a[2] - b[2]}
}

// Prod returns the product of the components, i.e. the number
// of lattice points in a box of size a.
func (a V3i) Prod() int {
	return a[0] * a[1] * a[2]
}

// LTEZero returns true if any component is <= 0.
func (a V3i) LTEZero() bool {
	return a[0] <= 0 || a[1] <= 0 || a[2] <= 0
}

// Min returns the component-wise minimum of a and b.
func (a V3i) Min(b V3i) V3i {
	return V3i{min(a[0], b[0]), min(a[1], b[1]), min(a[2], b[2])}
}

// Max returns the component-wise maximum of a and b.
func (a V3i) Max(b V3i) V3i {
	return V3i{max(a[0], b[0]), max(a[1], b[1]), max(a[2], b[2])}
}
