//go:build purego || js

package centroid

// smoothGaussian convolves f with a normalized Gaussian kernel of the given
// sigma, one axis at a time. Borders replicate the edge pixel.
func smoothGaussian(f Frame, sigma float64) (Frame, error) {
	kernel := gaussianKernel1D(sigma)
	half := len(kernel) / 2
	rows, cols := f.Rows, f.Cols

	temp := make([]float64, rows*cols)
	for r := 0; r < rows; r++ {
		rowOff := r * cols
		for c := 0; c < cols; c++ {
			var sum float64
			for k, w := range kernel {
				cc := clampIndex(c+k-half, cols)
				sum += f.Pix[rowOff+cc] * w
			}
			temp[rowOff+c] = sum
		}
	}

	out := NewFrame(rows, cols)
	rowOffs := make([]int, len(kernel))
	for r := 0; r < rows; r++ {
		for k := range kernel {
			rowOffs[k] = clampIndex(r+k-half, rows) * cols
		}
		dstOff := r * cols
		for c := 0; c < cols; c++ {
			var sum float64
			for k, w := range kernel {
				sum += temp[rowOffs[k]+c] * w
			}
			out.Pix[dstOff+c] = sum
		}
	}
	return out, nil
}
