package render

import (
	"encoding/binary"
	"io"
	"math"
	"os"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/spatial/r3"
)

const (
	stlHeaderSize   = 84
	stlTriangleSize = 50
)

// CreateSTL writes the triangles read from r to a binary STL file at path.
// The triangle count is written to the header once r is exhausted.
func CreateSTL(path string, r Renderer) (err error) {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := file.Close(); err == nil {
			err = cerr
		}
	}()
	// Header is written last, when the triangle count is known.
	if _, err = file.Seek(stlHeaderSize, io.SeekStart); err != nil {
		return err
	}
	rd := &stlReader{r: r}
	n, err := io.CopyBuffer(file, rd, make([]byte, stlTriangleSize*trianglesInBuffer))
	if err != nil {
		return errors.Wrap(err, "writing STL triangles")
	}
	if _, err = file.Seek(0, io.SeekStart); err != nil {
		return err
	}
	header := stlHeader{Count: uint32(n / stlTriangleSize)}
	return binary.Write(file, binary.LittleEndian, &header)
}

// WriteSTL writes the faces of m to w in binary STL format.
func WriteSTL(w io.Writer, m *Mesh) error {
	if len(m.Faces) == 0 {
		return errors.New("empty mesh")
	}
	if uint64(len(m.Faces)) > math.MaxUint32 {
		return errors.Errorf("%d faces do not fit in an STL file", len(m.Faces))
	}
	header := stlHeader{Count: uint32(len(m.Faces))}
	if err := binary.Write(w, binary.LittleEndian, &header); err != nil {
		return err
	}
	_, err := io.CopyBuffer(w, &stlReader{r: NewMeshRenderer(m)}, make([]byte, stlTriangleSize*trianglesInBuffer))
	return err
}

// ReadSTL reads a binary STL file as unindexed triangles.
func ReadSTL(r io.Reader) ([]r3.Triangle, error) {
	return readBinarySTL(r)
}

// stlHeader defines the STL file header.
type stlHeader struct {
	_     [80]uint8 // Header
	Count uint32    // Number of triangles
}

const trianglesInBuffer = 1 << 10

// stlReader encodes the triangles of a Renderer as STL triangle records.
type stlReader struct {
	r   Renderer
	buf [trianglesInBuffer]r3.Triangle
}

func (w *stlReader) Read(b []byte) (int, error) {
	ntMax := min(len(b)/stlTriangleSize, len(w.buf))
	if ntMax == 0 {
		return 0, errors.New("stlReader requires at least 50 bytes to write a single triangle")
	}
	var (
		err error
		it  int // Number of triangles written to byte buffer
		nt  int // number of triangles read during ReadTriangles
	)
	for it < ntMax && err == nil {
		nt, err = w.r.ReadTriangles(w.buf[:ntMax-it])
		if it+nt > ntMax {
			panic("bug: ReadTriangles read more triangles than available in buffer")
		}
		for _, triangle := range w.buf[:nt] {
			stlFromTriangle(triangle).put(b[it*stlTriangleSize:])
			it++
		}
	}
	return it * stlTriangleSize, err
}

func readBinarySTL(r io.Reader) (output []r3.Triangle, readErr error) {
	var header stlHeader
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return nil, errors.New("encountered EOF while reading STL header")
		}
		return nil, errors.Wrap(err, "STL header read failed")
	}
	if header.Count == 0 {
		return nil, errors.New("STL header indicates 0 triangles present")
	}
	var (
		buf [stlTriangleSize]byte
		d   stlTriangle
		i   int
	)
	defer func() {
		if readErr != nil {
			readErr = errors.Wrapf(readErr, "%d/%d STL triangles read", i, header.Count)
		}
	}()
	output = make([]r3.Triangle, 0, min(int(header.Count), 1<<20))
	for i = 0; i < int(header.Count); i++ {
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return nil, err
		}
		d.get(buf[:])
		if err := d.validate(); err != nil {
			return nil, err
		}
		output = append(output, d.toTriangle())
	}
	return output, nil
}

// stlTriangle defines the triangle data within an STL file.
type stlTriangle struct {
	Normal  [3]float32
	Vertex1 [3]float32
	Vertex2 [3]float32
	Vertex3 [3]float32
	_       uint16 // Attribute byte count
}

// stlFromTriangle converts t. Degenerate triangles get a zero normal.
func stlFromTriangle(t r3.Triangle) stlTriangle {
	var d stlTriangle
	n := t.Normal()
	if norm := r3.Norm(n); norm > 0 {
		n = r3.Scale(1/norm, n)
		d.Normal = f32From3(n)
	}
	d.Vertex1 = f32From3(t[0])
	d.Vertex2 = f32From3(t[1])
	d.Vertex3 = f32From3(t[2])
	return d
}

func (t stlTriangle) put(b []byte) {
	if len(b) < stlTriangleSize {
		panic("need length 50 to marshal stlTriangle")
	}
	put3F32(b, t.Normal)
	put3F32(b[12:], t.Vertex1)
	put3F32(b[24:], t.Vertex2)
	put3F32(b[36:], t.Vertex3)
	binary.LittleEndian.PutUint16(b[48:], 0)
}

func (t *stlTriangle) get(b []byte) {
	if len(b) < stlTriangleSize {
		panic("need length 50 to unmarshal stlTriangle")
	}
	get3F32(b, &t.Normal)
	get3F32(b[12:], &t.Vertex1)
	get3F32(b[24:], &t.Vertex2)
	get3F32(b[36:], &t.Vertex3)
	// no attributes supported yet.
}

func put3F32(b []byte, f [3]float32) {
	_ = b[11] // early bounds check
	binary.LittleEndian.PutUint32(b, math.Float32bits(f[0]))
	binary.LittleEndian.PutUint32(b[4:], math.Float32bits(f[1]))
	binary.LittleEndian.PutUint32(b[8:], math.Float32bits(f[2]))
}

func get3F32(b []byte, f *[3]float32) {
	_ = b[11] // early bounds check
	f[0] = math.Float32frombits(binary.LittleEndian.Uint32(b))
	f[1] = math.Float32frombits(binary.LittleEndian.Uint32(b[4:]))
	f[2] = math.Float32frombits(binary.LittleEndian.Uint32(b[8:]))
}

func bad3F32(f [3]float32) bool {
	return !isFinite(f[0]) || !isFinite(f[1]) || !isFinite(f[2])
}

// validate rejects records with non-finite numbers. Degenerate triangles
// are accepted since marching cubes emits them where samples equal the iso value.
func (t stlTriangle) validate() error {
	if bad3F32(t.Normal) {
		return errors.New("inf/NaN STL triangle normal")
	}
	if bad3F32(t.Vertex1) || bad3F32(t.Vertex2) || bad3F32(t.Vertex3) {
		return errors.New("inf/NaN STL triangle vertex")
	}
	return nil
}

func f32From3(v r3.Vec) [3]float32 {
	return [3]float32{float32(v.X), float32(v.Y), float32(v.Z)}
}

func r3From3F32(f [3]float32) r3.Vec {
	return r3.Vec{X: float64(f[0]), Y: float64(f[1]), Z: float64(f[2])}
}

func (t stlTriangle) toTriangle() r3.Triangle {
	return r3.Triangle{
		r3From3F32(t.Vertex1),
		r3From3F32(t.Vertex2),
		r3From3F32(t.Vertex3),
	}
}
