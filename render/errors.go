package render

import "github.com/pkg/errors"

// Errors returned by MarchingCubes. Returned errors wrap one of these
// with context and should be tested with errors.Is.
var (
	// ErrCanceled is returned when the progress callback requests
	// cancellation or the context passed to MarchingCubesContext is done.
	ErrCanceled = errors.New("isovox: extraction canceled")
	// ErrNonFiniteValue is returned when a NaN or infinite sample lies on
	// a crossed cube edge and NaN checking has not been omitted.
	ErrNonFiniteValue = errors.New("isovox: non-finite scalar value")
	// ErrTooManyVertices is returned when the mesh would exceed Params.MaxVertices.
	ErrTooManyVertices = errors.New("isovox: too many vertices")
	// ErrDegenerateField is returned for fields without a single lattice
	// cube or active sample when Params.StrictInput is set.
	ErrDegenerateField = errors.New("isovox: degenerate scalar field")
)
