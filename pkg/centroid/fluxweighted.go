package centroid

import (
	"fmt"
	"math"
)

// FluxWeightedCentroids returns the background-subtracted, flux-weighted
// mean position of every frame inside the box
// [int(g-halfSize), int(g+halfSize+1)) on each axis around guess.
//
// The row axis uses the profile summed across columns and vice versa. An
// axis whose total flux is not positive, or a box that leaves the frame,
// yields NaN for that frame. NaN pixels are skipped.
func FluxWeightedCentroids(cube ImageCube, guess Point2d, background []float64, halfSize int) ([]Point2d, error) {
	if err := cube.Validate(); err != nil {
		return nil, err
	}
	if len(background) != len(cube) {
		return nil, fmt.Errorf("%w: %d background levels for %d frames", ErrShapeMismatch, len(background), len(cube))
	}
	if halfSize < 1 {
		return nil, fmt.Errorf("%w: half size %d", ErrInvalidWindowSize, halfSize)
	}

	h := float64(halfSize)
	w := Window{
		YLower: int(guess.Y - h),
		YUpper: int(guess.Y + h + 1),
		XLower: int(guess.X - h),
		XUpper: int(guess.X + h + 1),
	}

	nan := math.NaN()
	out := make([]Point2d, len(cube))
	if !w.Inside(cube[0]) {
		for i := range out {
			out[i] = Point2d{Y: nan, X: nan}
		}
		return out, nil
	}

	rowFlux := make([]float64, w.Dy())
	colFlux := make([]float64, w.Dx())
	for k, frame := range cube {
		clear(rowFlux)
		clear(colFlux)
		for y := 0; y < w.Dy(); y++ {
			for x := 0; x < w.Dx(); x++ {
				v := frame.At(w.YLower+y, w.XLower+x)
				if math.IsNaN(v) {
					continue
				}
				v -= background[k]
				rowFlux[y] += v
				colFlux[x] += v
			}
		}
		out[k] = Point2d{
			Y: weightedIndex(rowFlux) + float64(w.YLower),
			X: weightedIndex(colFlux) + float64(w.XLower),
		}
	}
	return out, nil
}

// weightedIndex is sum(i*profile[i]) / sum(profile[i]), NaN when the total
// is not a positive finite number.
func weightedIndex(profile []float64) float64 {
	var total, moment float64
	for i, v := range profile {
		total += v
		moment += float64(i) * v
	}
	if !(total > 0) || math.IsInf(total, 0) {
		return math.NaN()
	}
	return moment / total
}
