package centroid

import "math"

// kernelRadius is the half-width of the truncated Gaussian kernel for sigma.
func kernelRadius(sigma float64) int {
	r := int(4*sigma + 0.5)
	if r < 1 {
		r = 1
	}
	return r
}

// gaussianKernel1D returns a normalized 1D Gaussian kernel of length
// 2*kernelRadius(sigma)+1.
func gaussianKernel1D(sigma float64) []float64 {
	half := kernelRadius(sigma)
	k := make([]float64, 2*half+1)
	sum := 0.0
	for i := range k {
		x := float64(i - half)
		k[i] = math.Exp(-x * x / (2 * sigma * sigma))
		sum += k[i]
	}
	for i := range k {
		k[i] /= sum
	}
	return k
}

// clampIndex replicates the border: out-of-range indices map to the nearest
// edge.
func clampIndex(idx, size int) int {
	if idx < 0 {
		return 0
	}
	if idx >= size {
		return size - 1
	}
	return idx
}
