//go:build !purego && !js

package centroid

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

// smoothGaussian convolves f with a normalized Gaussian kernel of the given
// sigma using OpenCV's separable filter. Borders replicate the edge pixel.
func smoothGaussian(f Frame, sigma float64) (Frame, error) {
	src := gocv.NewMatWithSize(f.Rows, f.Cols, gocv.MatTypeCV64F)
	defer src.Close()
	srcData, err := src.DataPtrFloat64()
	if err != nil {
		return Frame{}, fmt.Errorf("accessing mat data: %w", err)
	}
	copy(srcData, f.Pix)

	kernel := gocv.GetGaussianKernel(2*kernelRadius(sigma)+1, sigma)
	defer kernel.Close()

	dst := gocv.NewMat()
	defer dst.Close()
	gocv.SepFilter2D(src, &dst, gocv.MatTypeCV64F, kernel, kernel, image.Pt(-1, -1), 0, gocv.BorderReplicate)

	dstData, err := dst.DataPtrFloat64()
	if err != nil {
		return Frame{}, fmt.Errorf("accessing filtered data: %w", err)
	}
	out := NewFrame(f.Rows, f.Cols)
	copy(out.Pix, dstData)
	return out, nil
}
