// Package config decodes isovox job files.
//
// A job file is YAML describing the scalar field to mesh and the
// extraction parameters:
//
//	iso: 0
//	output: torus.stl
//	log_level: info
//	source:
//	  kind: torus
//	  major: 3
//	  minor: 1
//	  resolution: 0.05
//
// Raw fields are read from a file of little endian float32 samples with
// x varying fastest:
//
//	iso: 0.5
//	source:
//	  kind: raw
//	  path: ct.f32
//	  dims: [256, 256, 128]
//	  voxel_size: [0.5, 0.5, 1.2]
package config

import (
	"bufio"
	"encoding/binary"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/soypat/isovox"
	"github.com/soypat/isovox/render"
	"gonum.org/v1/gonum/spatial/r3"
	"gopkg.in/yaml.v3"
)

// Source kinds.
const (
	KindSphere = "sphere"
	KindTorus  = "torus"
	KindBox    = "box"
	KindGyroid = "gyroid"
	KindRaw    = "raw"
)

// Job is a complete extraction job.
type Job struct {
	Iso float32 `yaml:"iso"`
	// LessInside defaults to true for distance function sources
	// and false for raw sources.
	LessInside   *bool  `yaml:"less_inside"`
	MaxVertices  int    `yaml:"max_vertices"`
	OmitNaNCheck bool   `yaml:"omit_nan_check"`
	Workers      int    `yaml:"workers"`
	SlabDepth    int    `yaml:"slab_depth"`
	FaceVoxels   bool   `yaml:"face_voxels"`
	StrictInput  bool   `yaml:"strict_input"`
	LogLevel     string `yaml:"log_level"`
	Output       string `yaml:"output"`
	Source       Source `yaml:"source"`
}

// Source describes the scalar field of a job.
type Source struct {
	Kind string `yaml:"kind"`
	// Resolution is the sampling step of distance function sources.
	Resolution float64 `yaml:"resolution"`

	Radius    float64   `yaml:"radius"`    // sphere
	Major     float64   `yaml:"major"`     // torus
	Minor     float64   `yaml:"minor"`     // torus
	Size      []float64 `yaml:"size"`      // box, gyroid
	Round     float64   `yaml:"round"`     // box
	Period    []float64 `yaml:"period"`    // gyroid
	Thickness float64   `yaml:"thickness"` // gyroid

	Path      string    `yaml:"path"` // raw
	Dims      []int     `yaml:"dims"`
	Origin    []float64 `yaml:"origin"`
	VoxelSize []float64 `yaml:"voxel_size"`
}

// Default returns the job run when no file is given: a unit sphere.
func Default() Job {
	return Job{
		LogLevel: "info",
		Output:   "out.stl",
		Source: Source{
			Kind:       KindSphere,
			Radius:     1,
			Resolution: 0.02,
		},
	}
}

// Load reads and validates the job file at path.
func Load(path string) (Job, error) {
	fp, err := os.Open(path)
	if err != nil {
		return Job{}, err
	}
	defer fp.Close()
	job, err := Decode(fp)
	if err != nil {
		return Job{}, errors.Wrap(err, path)
	}
	return job, nil
}

// Decode reads a job from r on top of Default. Unknown keys are an error.
// A source block replaces the default source as a whole, so it must carry
// all parameters of its kind.
func Decode(r io.Reader) (Job, error) {
	job := Default()
	job.Source = Source{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&job); err != nil && err != io.EOF {
		return Job{}, errors.Wrap(err, "decoding job")
	}
	if job.Source.empty() {
		job.Source = Default().Source
	}
	if err := job.Validate(); err != nil {
		return Job{}, err
	}
	return job, nil
}

// Validate checks the job is complete.
func (j Job) Validate() error {
	if j.Output == "" {
		return errors.New("missing output path")
	}
	if _, err := j.Level(); err != nil {
		return err
	}
	if j.MaxVertices < 0 || j.Workers < 0 || j.SlabDepth < 0 {
		return errors.New("max_vertices, workers and slab_depth must not be negative")
	}
	return j.Source.validate()
}

// Level returns the configured log level.
func (j Job) Level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(j.LogLevel)); err != nil {
		return 0, errors.Wrapf(err, "log_level %q", j.LogLevel)
	}
	return l, nil
}

// Params returns the extraction parameters of the job.
func (j Job) Params() render.Params {
	less := j.Source.Kind != KindRaw
	if j.LessInside != nil {
		less = *j.LessInside
	}
	return render.Params{
		Iso:          j.Iso,
		LessInside:   less,
		MaxVertices:  j.MaxVertices,
		OmitNaNCheck: j.OmitNaNCheck,
		FaceVoxels:   j.FaceVoxels,
		Workers:      j.Workers,
		SlabDepth:    j.SlabDepth,
		StrictInput:  j.StrictInput,
	}
}

func (s Source) empty() bool {
	return s.Kind == "" && s.Resolution == 0 && s.Radius == 0 && s.Major == 0 &&
		s.Minor == 0 && s.Size == nil && s.Round == 0 && s.Period == nil &&
		s.Thickness == 0 && s.Path == "" && s.Dims == nil && s.Origin == nil &&
		s.VoxelSize == nil
}

func (s Source) validate() error {
	switch strings.ToLower(s.Kind) {
	case KindSphere, KindTorus, KindBox, KindGyroid:
		if s.Resolution <= 0 {
			return errors.Errorf("%s source requires positive resolution", s.Kind)
		}
	case KindRaw:
		if s.Path == "" {
			return errors.New("raw source requires path")
		}
		if len(s.Dims) != 3 {
			return errors.New("raw source requires 3 dims")
		}
		if s.Origin != nil && len(s.Origin) != 3 {
			return errors.New("raw source origin must have 3 components")
		}
		if s.VoxelSize != nil && len(s.VoxelSize) != 3 {
			return errors.New("raw source voxel_size must have 3 components")
		}
	default:
		return errors.Errorf("unknown source kind %q", s.Kind)
	}
	return nil
}

// Field builds the scalar field described by s.
func (s Source) Field() (isovox.ScalarField, error) {
	if err := s.validate(); err != nil {
		return nil, err
	}
	kind := strings.ToLower(s.Kind)
	if kind == KindRaw {
		return s.rawField()
	}
	sdf, err := s.sdf(kind)
	if err != nil {
		return nil, errors.Wrapf(err, "%s source", kind)
	}
	return isovox.NewSDFField(sdf, s.Resolution)
}

func (s Source) sdf(kind string) (isovox.SDF3, error) {
	switch kind {
	case KindSphere:
		return isovox.Sphere(s.Radius)
	case KindTorus:
		return isovox.Torus(s.Major, s.Minor)
	case KindBox:
		size, err := vec(s.Size, "size")
		if err != nil {
			return nil, err
		}
		return isovox.Box(size, s.Round)
	case KindGyroid:
		size, err := vec(s.Size, "size")
		if err != nil {
			return nil, err
		}
		period, err := vec(s.Period, "period")
		if err != nil {
			return nil, err
		}
		return isovox.Gyroid(size, period, s.Thickness)
	}
	return nil, errors.Errorf("unknown source kind %q", kind)
}

func (s Source) rawField() (*isovox.DenseField, error) {
	grid := isovox.Grid{
		Dims:      isovox.V3i{s.Dims[0], s.Dims[1], s.Dims[2]},
		VoxelSize: r3.Vec{X: 1, Y: 1, Z: 1},
	}
	var err error
	if s.Origin != nil {
		if grid.Origin, err = vec(s.Origin, "origin"); err != nil {
			return nil, err
		}
	}
	if s.VoxelSize != nil {
		if grid.VoxelSize, err = vec(s.VoxelSize, "voxel_size"); err != nil {
			return nil, err
		}
	}
	if err := grid.Validate(); err != nil {
		return nil, err
	}
	if grid.Dims.LTEZero() {
		return nil, errors.Errorf("raw source dims %v must be positive", grid.Dims)
	}
	fp, err := os.Open(s.Path)
	if err != nil {
		return nil, err
	}
	defer fp.Close()
	data := make([]float32, grid.Dims.Prod())
	if err := binary.Read(bufio.NewReader(fp), binary.LittleEndian, data); err != nil {
		return nil, errors.Wrapf(err, "reading %d samples from %s", len(data), s.Path)
	}
	return isovox.NewDenseField(grid, data)
}

func vec(v []float64, name string) (r3.Vec, error) {
	if len(v) != 3 {
		return r3.Vec{}, errors.Errorf("%s must have 3 components, got %d", name, len(v))
	}
	return r3.Vec{X: v[0], Y: v[1], Z: v[2]}, nil
}
