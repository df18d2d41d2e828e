package render

// Marching cubes case table.
//
// The table is generated once from the cube faces instead of being typed in.
// On every face the iso contour is a set of segments joining the crossings
// of the face's edges. A face with two diagonal inside corners and two
// diagonal outside corners is ambiguous; it is always resolved by keeping
// the inside corners separated, so one segment cuts off each inside corner.
// The segments of a face depend only on the four corner states of that face,
// which both cubes sharing the face agree on, hence neighbouring cubes always
// emit matching boundaries and the mesh has no cracks. The segments of a cube
// link up into closed loops. A loop is triangulated without diagonals between
// two edges of the same cube face, since the cube across that face could emit
// the same diagonal and the edge would be shared by four triangles.

// mcCorners holds the lattice offset of each cube corner. Bit i of a case
// code is set when corner i is inside the surface.
var mcCorners = [8][3]int{
	{0, 0, 0}, {1, 0, 0}, {1, 1, 0}, {0, 1, 0},
	{0, 0, 1}, {1, 0, 1}, {1, 1, 1}, {0, 1, 1},
}

// mcEdges holds the corners joined by each cube edge, the one with the
// smaller lattice coordinate first.
var mcEdges = [12][2]uint8{
	{0, 1}, {1, 2}, {3, 2}, {0, 3},
	{4, 5}, {5, 6}, {7, 6}, {4, 7},
	{0, 4}, {1, 5}, {2, 6}, {3, 7},
}

// mcEdgeAxis is the axis each cube edge runs along.
var mcEdgeAxis = [12]Axis{
	AxisX, AxisY, AxisX, AxisY,
	AxisX, AxisY, AxisX, AxisY,
	AxisZ, AxisZ, AxisZ, AxisZ,
}

// mcFaces lists the corners of each cube face counter-clockwise as seen
// from outside the cube.
var mcFaces = [6][4]uint8{
	{0, 3, 2, 1}, // z=0
	{4, 5, 6, 7}, // z=1
	{0, 1, 5, 4}, // y=0
	{3, 7, 6, 2}, // y=1
	{0, 4, 7, 3}, // x=0
	{1, 2, 6, 5}, // x=1
}

// mcCase is one entry of the case table.
type mcCase struct {
	// edges has bit e set when edge e is crossed by the surface.
	edges uint16
	// tris holds triples of edge indices. Triangles wind counter-clockwise
	// when seen from the outside.
	tris []uint8
}

// mcFaceEdges has bit e set for every edge e bounding face f.
var mcFaceEdges [6]uint16

var (
	mcCases [256]mcCase
	// marchingCubesMaxTriangles is the largest number of triangles a single cube emits.
	marchingCubesMaxTriangles int
)

func init() {
	var edgeOf [8][8]int8
	for e, c := range mcEdges {
		edgeOf[c[0]][c[1]] = int8(e)
		edgeOf[c[1]][c[0]] = int8(e)
	}
	for f, face := range mcFaces {
		for i := range face {
			mcFaceEdges[f] |= 1 << edgeOf[face[i]][face[(i+1)%4]]
		}
	}
	for code := range mcCases {
		mcCases[code] = buildCase(uint8(code), &edgeOf)
		marchingCubesMaxTriangles = max(marchingCubesMaxTriangles, len(mcCases[code].tris)/3)
	}
}

func buildCase(code uint8, edgeOf *[8][8]int8) mcCase {
	inside := func(c uint8) bool { return code&(1<<c) != 0 }
	var c mcCase
	for e, corners := range mcEdges {
		if inside(corners[0]) != inside(corners[1]) {
			c.edges |= 1 << e
		}
	}
	if c.edges == 0 {
		return c
	}
	// next[e] is the edge the surface boundary reaches after crossing edge e.
	var next [12]int8
	for i := range next {
		next[i] = -1
	}
	for _, face := range mcFaces {
		for i := 0; i < 4; i++ {
			prev, cur := face[(i+3)%4], face[i]
			if inside(prev) || !inside(cur) {
				continue
			}
			// A run of inside corners starts at cur. Find where it ends.
			j := i
			for inside(face[(j+1)%4]) {
				j++
			}
			entry := edgeOf[prev][cur]
			exit := edgeOf[face[j%4]][face[(j+1)%4]]
			next[entry] = exit
		}
	}
	var visited uint16
	for e := 0; e < 12; e++ {
		if c.edges&(1<<e) == 0 || visited&(1<<e) != 0 {
			continue
		}
		var loop []uint8
		cur := int8(e)
		for visited&(1<<cur) == 0 {
			visited |= 1 << cur
			loop = append(loop, uint8(cur))
			cur = next[cur]
			if cur < 0 {
				panic("bug: open contour in marching cubes case table")
			}
		}
		c.tris = append(c.tris, triangulateLoop(loop)...)
	}
	return c
}

// sharesFace reports whether edges a and b bound the same cube face.
func sharesFace(a, b uint8) bool {
	for _, m := range mcFaceEdges {
		if m&(1<<a) != 0 && m&(1<<b) != 0 {
			return true
		}
	}
	return false
}

// triangulateLoop splits the polygon formed by a loop of crossed edges into
// triangles that keep the loop's winding. Diagonals never join two edges of
// the same cube face.
func triangulateLoop(loop []uint8) []uint8 {
	n := len(loop)
	allowed := func(i, j int) bool {
		if d := j - i; d == 1 || d == n-1 {
			return true
		}
		return !sharesFace(loop[i], loop[j])
	}
	// state[i][j] is 1 if loop[i..j] can be triangulated, 2 if not, 0 if unknown.
	var state, split [12][12]int8
	var solve func(i, j int) bool
	solve = func(i, j int) bool {
		if j == i+1 {
			return true
		}
		if state[i][j] != 0 {
			return state[i][j] == 1
		}
		state[i][j] = 2
		for k := i + 1; k < j; k++ {
			if allowed(i, k) && allowed(k, j) && solve(i, k) && solve(k, j) {
				state[i][j] = 1
				split[i][j] = int8(k)
				break
			}
		}
		return state[i][j] == 1
	}
	if !solve(0, n-1) {
		panic("bug: untriangulable loop in marching cubes case table")
	}
	tris := make([]uint8, 0, 3*(n-2))
	var emit func(i, j int)
	emit = func(i, j int) {
		if j == i+1 {
			return
		}
		k := int(split[i][j])
		emit(i, k)
		tris = append(tris, loop[i], loop[k], loop[j])
		emit(k, j)
	}
	emit(0, n-1)
	return tris
}
