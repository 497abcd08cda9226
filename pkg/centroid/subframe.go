package centroid

import (
	"fmt"
	"image"
	"math"
)

// Window is the half-open pixel box [YLower, YUpper) x [XLower, XUpper)
// fit around a guessed position.
type Window struct {
	YLower int
	YUpper int
	XLower int
	XUpper int
}

// NewWindow centers a box of nominal size w on guess. With half = w/2 the
// bounds are int(guess-half) and int(guess+half), so an odd w yields a box
// of w-1 pixels.
func NewWindow(guess Point2d, w int) (Window, error) {
	if w <= 0 {
		return Window{}, fmt.Errorf("%w: got %d", ErrInvalidWindowSize, w)
	}
	half := float64(w / 2)
	return Window{
		YLower: int(guess.Y - half),
		YUpper: int(guess.Y + half),
		XLower: int(guess.X - half),
		XUpper: int(guess.X + half),
	}, nil
}

func (w Window) Dy() int     { return w.YUpper - w.YLower }
func (w Window) Dx() int     { return w.XUpper - w.XLower }
func (w Window) Pixels() int { return w.Dy() * w.Dx() }

// Rect returns the window as an image.Rectangle (x is the horizontal axis).
func (w Window) Rect() image.Rectangle {
	return image.Rect(w.XLower, w.YLower, w.XUpper, w.YUpper)
}

// Origin is the absolute position of the window's local (0, 0) pixel.
func (w Window) Origin() Point2d {
	return Point2d{Y: float64(w.YLower), X: float64(w.XLower)}
}

// Inside reports whether the window is non-empty and lies within f.
func (w Window) Inside(f Frame) bool {
	if w.Dy() <= 0 || w.Dx() <= 0 {
		return false
	}
	return w.Rect().In(f.Bounds())
}

func (w Window) String() string {
	return fmt.Sprintf("[%d:%d, %d:%d]", w.YLower, w.YUpper, w.XLower, w.XUpper)
}

// Grid holds the (y, x) sample coordinates of every pixel of a frame,
// row-major, like numpy.indices.
type Grid struct {
	Rows int
	Cols int
	Y    []float64
	X    []float64
}

// IndexGrid returns the local index grid of a rows x cols frame.
func IndexGrid(rows, cols int) Grid {
	return OffsetGrid(rows, cols, Point2d{})
}

// OffsetGrid returns the index grid of a rows x cols frame whose (0, 0)
// pixel sits at origin.
func OffsetGrid(rows, cols int, origin Point2d) Grid {
	g := Grid{Rows: rows, Cols: cols, Y: make([]float64, rows*cols), X: make([]float64, rows*cols)}
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			g.Y[y*cols+x] = origin.Y + float64(y)
			g.X[y*cols+x] = origin.X + float64(x)
		}
	}
	return g
}

// Matches reports whether the grid has the shape of f.
func (g Grid) Matches(f Frame) bool {
	return g.Rows == f.Rows && g.Cols == f.Cols && len(g.Y) == len(f.Pix) && len(g.X) == len(f.Pix)
}

// ExtractSubframe copies the window out of frame, replaces NaN and infinite
// pixels with the median of the copy's finite pixels and, when
// smoothSigma > 0, applies a Gaussian kernel of that width. frame is never
// modified.
func ExtractSubframe(frame Frame, w Window, smoothSigma float64) (Frame, error) {
	if !w.Inside(frame) {
		return Frame{}, fmt.Errorf("%w: window %v, frame %dx%d", ErrWindowOutOfBounds, w, frame.Rows, frame.Cols)
	}

	sub := NewFrame(w.Dy(), w.Dx())
	for y := 0; y < sub.Rows; y++ {
		srcOff := (w.YLower+y)*frame.Cols + w.XLower
		copy(sub.Pix[y*sub.Cols:(y+1)*sub.Cols], frame.Pix[srcOff:srcOff+sub.Cols])
	}
	fillNonFinite(sub.Pix)

	if smoothSigma <= 0 {
		return sub, nil
	}
	smoothed, err := smoothGaussian(sub, smoothSigma)
	if err != nil {
		return Frame{}, fmt.Errorf("smoothing subframe: %w", err)
	}
	return smoothed, nil
}

// fillNonFinite replaces NaN and infinite entries of data with the median of
// the finite ones. A slice with no finite entry is left untouched.
func fillNonFinite(data []float64) {
	clean := true
	for _, v := range data {
		if !isFinite(v) {
			clean = false
			break
		}
	}
	if clean {
		return
	}
	median := finiteMedian(data)
	if math.IsNaN(median) {
		return
	}
	for i, v := range data {
		if !isFinite(v) {
			data[i] = median
		}
	}
}
