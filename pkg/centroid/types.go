package centroid

import (
	"fmt"
	"image"
	"math"
)

// MinWidth is the smallest Gaussian width, in pixels, the engine will hand
// to the model. A single significant pixel cannot resolve a sub-pixel width.
const MinWidth = 0.5

// NumParams is the number of free parameters of the 2D Gaussian model.
const NumParams = 6

// Point2d is a (y, x) position in pixel coordinates.
type Point2d struct {
	Y, X float64
}

func (p Point2d) String() string {
	return fmt.Sprintf("(%f,%f)", p.Y, p.X)
}

// Frame is a single detector image stored row-major as float64.
// Pixels may be NaN.
type Frame struct {
	Rows int
	Cols int
	Pix  []float64
}

// NewFrame allocates a zeroed frame.
func NewFrame(rows, cols int) Frame {
	return Frame{Rows: rows, Cols: cols, Pix: make([]float64, rows*cols)}
}

// NewFrameFrom wraps pix as a frame. len(pix) must be rows*cols.
func NewFrameFrom(rows, cols int, pix []float64) (Frame, error) {
	if rows <= 0 || cols <= 0 || len(pix) != rows*cols {
		return Frame{}, fmt.Errorf("%w: %d pixels for %dx%d frame", ErrShapeMismatch, len(pix), rows, cols)
	}
	return Frame{Rows: rows, Cols: cols, Pix: pix}, nil
}

// UniformFrame returns a frame with every pixel set to v.
func UniformFrame(rows, cols int, v float64) Frame {
	f := NewFrame(rows, cols)
	for i := range f.Pix {
		f.Pix[i] = v
	}
	return f
}

func (f Frame) At(y, x int) float64     { return f.Pix[y*f.Cols+x] }
func (f Frame) Set(y, x int, v float64) { f.Pix[y*f.Cols+x] = v }
func (f Frame) Empty() bool             { return f.Rows == 0 || f.Cols == 0 || len(f.Pix) == 0 }
func (f Frame) Bounds() image.Rectangle { return image.Rect(0, 0, f.Cols, f.Rows) }

// SameShape reports whether f and g have identical dimensions.
func (f Frame) SameShape(g Frame) bool {
	return f.Rows == g.Rows && f.Cols == g.Cols
}

// Clone returns a deep copy of the frame.
func (f Frame) Clone() Frame {
	pix := make([]float64, len(f.Pix))
	copy(pix, f.Pix)
	return Frame{Rows: f.Rows, Cols: f.Cols, Pix: pix}
}

// ImageCube is a time-ordered sequence of same-shaped frames. The index of a
// frame is its temporal order.
type ImageCube []Frame

// Validate checks that the cube is non-empty and every frame has the shape
// of the first one.
func (c ImageCube) Validate() error {
	if len(c) == 0 {
		return ErrEmptyCube
	}
	first := c[0]
	if first.Empty() || len(first.Pix) != first.Rows*first.Cols {
		return fmt.Errorf("%w: frame 0 is %dx%d with %d pixels", ErrShapeMismatch, first.Rows, first.Cols, len(first.Pix))
	}
	for i, f := range c[1:] {
		if !f.SameShape(first) || len(f.Pix) != f.Rows*f.Cols {
			return fmt.Errorf("%w: frame %d is %dx%d, frame 0 is %dx%d",
				ErrShapeMismatch, i+1, f.Rows, f.Cols, first.Rows, first.Cols)
		}
	}
	return nil
}

// Shape returns (frames, rows, cols).
func (c ImageCube) Shape() (int, int, int) {
	if len(c) == 0 {
		return 0, 0, 0
	}
	return len(c), c[0].Rows, c[0].Cols
}

// FitParams is the parameter vector of the 2D Gaussian model.
type FitParams struct {
	Height  float64
	CenterY float64
	CenterX float64
	WidthY  float64
	WidthX  float64
	Offset  float64
}

// Vector returns the parameters in the order
// height, center_y, center_x, width_y, width_x, offset.
func (p FitParams) Vector() []float64 {
	return []float64{p.Height, p.CenterY, p.CenterX, p.WidthY, p.WidthX, p.Offset}
}

// ParamsFromVector is the inverse of Vector.
func ParamsFromVector(v []float64) FitParams {
	return FitParams{
		Height:  v[0],
		CenterY: v[1],
		CenterX: v[2],
		WidthY:  v[3],
		WidthX:  v[4],
		Offset:  v[5],
	}
}

// Center returns the (y, x) center.
func (p FitParams) Center() Point2d { return Point2d{Y: p.CenterY, X: p.CenterX} }

// Finite reports whether every parameter is a finite number.
func (p FitParams) Finite() bool {
	for _, v := range p.Vector() {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// WithWidthFloor returns p with non-positive or non-finite widths replaced
// by MinWidth.
func (p FitParams) WithWidthFloor() FitParams {
	p.WidthY = floorWidth(p.WidthY)
	p.WidthX = floorWidth(p.WidthX)
	return p
}

func floorWidth(w float64) float64 {
	if math.IsNaN(w) || math.IsInf(w, 0) || w <= 0 {
		return MinWidth
	}
	return w
}

// Shift translates the center by (dy, dx).
func (p FitParams) Shift(dy, dx float64) FitParams {
	p.CenterY += dy
	p.CenterX += dx
	return p
}

func (p FitParams) String() string {
	return fmt.Sprintf("{Height=%f, CenterY=%f, CenterX=%f, WidthY=%f, WidthX=%f, Offset=%f}",
		p.Height, p.CenterY, p.CenterX, p.WidthY, p.WidthX, p.Offset)
}

// NaNParams is the parameter vector reported for frames that could not be fit.
func NaNParams() FitParams {
	nan := math.NaN()
	return FitParams{nan, nan, nan, nan, nan, nan}
}

// FitStatus classifies the outcome of a single-frame fit.
type FitStatus int

const (
	StatusConverged FitStatus = iota
	StatusNotConverged
	StatusDegenerate
	StatusInvalidInput
)

func (s FitStatus) String() string {
	switch s {
	case StatusConverged:
		return "converged"
	case StatusNotConverged:
		return "not_converged"
	case StatusDegenerate:
		return "degenerate"
	case StatusInvalidInput:
		return "invalid_input"
	default:
		return "unknown"
	}
}

// FitResult is the outcome of fitting one frame. Params always holds the
// solver's best estimate; Status says how far to trust it.
type FitResult struct {
	Params     FitParams
	Status     FitStatus
	Reason     string
	Iterations int
	Cost       float64
}

// Converged reports whether the fit met its stopping criteria.
func (r FitResult) Converged() bool { return r.Status == StatusConverged }

func (r FitResult) String() string {
	if r.Reason != "" {
		return fmt.Sprintf("{Status=%s, Reason=%s, Params=%v, Iterations=%d, Cost=%g}", r.Status, r.Reason, r.Params, r.Iterations, r.Cost)
	}
	return fmt.Sprintf("{Status=%s, Params=%v, Iterations=%d, Cost=%g}", r.Status, r.Params, r.Iterations, r.Cost)
}

func invalidResult(reason string) FitResult {
	return FitResult{Params: NaNParams(), Status: StatusInvalidInput, Reason: reason, Cost: math.NaN()}
}

// FitResultSet holds per-frame fit results as parallel arrays, index-aligned
// with the input cube.
type FitResultSet struct {
	Height     []float64
	CenterY    []float64
	CenterX    []float64
	WidthY     []float64
	WidthX     []float64
	Offset     []float64
	Status     []FitStatus
	Reason     []string
	Iterations []int
}

// NewFitResultSet allocates a result set for n frames.
func NewFitResultSet(n int) *FitResultSet {
	return &FitResultSet{
		Height:     make([]float64, n),
		CenterY:    make([]float64, n),
		CenterX:    make([]float64, n),
		WidthY:     make([]float64, n),
		WidthX:     make([]float64, n),
		Offset:     make([]float64, n),
		Status:     make([]FitStatus, n),
		Reason:     make([]string, n),
		Iterations: make([]int, n),
	}
}

func (s *FitResultSet) Len() int { return len(s.Height) }

// Set stores r in slot i.
func (s *FitResultSet) Set(i int, r FitResult) {
	s.Height[i] = r.Params.Height
	s.CenterY[i] = r.Params.CenterY
	s.CenterX[i] = r.Params.CenterX
	s.WidthY[i] = r.Params.WidthY
	s.WidthX[i] = r.Params.WidthX
	s.Offset[i] = r.Params.Offset
	s.Status[i] = r.Status
	s.Reason[i] = r.Reason
	s.Iterations[i] = r.Iterations
}

// Params returns the parameters stored in slot i.
func (s *FitResultSet) Params(i int) FitParams {
	return FitParams{
		Height:  s.Height[i],
		CenterY: s.CenterY[i],
		CenterX: s.CenterX[i],
		WidthY:  s.WidthY[i],
		WidthX:  s.WidthX[i],
		Offset:  s.Offset[i],
	}
}

// Centers returns the fitted (y, x) center of every frame.
func (s *FitResultSet) Centers() []Point2d {
	out := make([]Point2d, s.Len())
	for i := range out {
		out[i] = Point2d{Y: s.CenterY[i], X: s.CenterX[i]}
	}
	return out
}

// CountStatus returns how many frames ended with the given status.
func (s *FitResultSet) CountStatus(status FitStatus) int {
	n := 0
	for _, st := range s.Status {
		if st == status {
			n++
		}
	}
	return n
}

func (s *FitResultSet) String() string {
	return fmt.Sprintf("{Frames=%d, Converged=%d, NotConverged=%d, Degenerate=%d, InvalidInput=%d}",
		s.Len(), s.CountStatus(StatusConverged), s.CountStatus(StatusNotConverged),
		s.CountStatus(StatusDegenerate), s.CountStatus(StatusInvalidInput))
}
