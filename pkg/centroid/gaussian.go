package centroid

import "math"

// Eval returns the model value at (y, x):
//
//	height * exp(-((cy-y)/wy)^2/2 - ((cx-x)/wx)^2/2) + offset
func (p FitParams) Eval(y, x float64) float64 {
	dy := (p.CenterY - y) / p.WidthY
	dx := (p.CenterX - x) / p.WidthX
	return p.Height*math.Exp(-0.5*(dy*dy+dx*dx)) + p.Offset
}

// RenderGaussian renders p on the local index grid of a rows x cols frame.
func RenderGaussian(p FitParams, rows, cols int) Frame {
	f := NewFrame(rows, cols)
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			f.Pix[y*cols+x] = p.Eval(float64(y), float64(x))
		}
	}
	return f
}

// gaussianValue evaluates the model from a parameter vector laid out as
// FitParams.Vector.
func gaussianValue(p []float64, y, x float64) float64 {
	dy := (y - p[1]) / p[3]
	dx := (x - p[2]) / p[4]
	return p[0]*math.Exp(-0.5*(dy*dy+dx*dx)) + p[5]
}

// gaussianGradient fills grad with the partial derivatives of the model at
// (y, x) with respect to each entry of p.
func gaussianGradient(p []float64, y, x float64, grad []float64) {
	h := p[0]
	wy, wx := p[3], p[4]
	dy := (y - p[1]) / wy
	dx := (x - p[2]) / wx
	e := math.Exp(-0.5 * (dy*dy + dx*dx))
	he := h * e

	grad[0] = e
	grad[1] = he * dy / wy
	grad[2] = he * dx / wx
	grad[3] = he * dy * dy / wy
	grad[4] = he * dx * dx / wx
	grad[5] = 1.0
}
