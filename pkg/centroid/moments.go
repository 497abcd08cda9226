package centroid

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// significanceSigma is how many background standard deviations a pixel must
// rise above the offset to count toward the width estimate.
const significanceSigma = 4.0

// EstimateMoments computes a non-iterative initial guess of the Gaussian
// parameters of data from its pixel statistics. NaN and infinite pixels are
// ignored throughout.
//
// The center is the intensity-weighted first moment. The offset is the
// median of the pixels strictly between the lower and upper quartile, which
// keeps the star's own flux out of the background. Widths are the spread of
// the positions of pixels more than four inter-quartile standard deviations
// above that offset. Returned widths are never below MinWidth.
func EstimateMoments(data Frame) FitParams {
	rows, cols := data.Rows, data.Cols

	var total, sumY, sumX float64
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			v := data.At(y, x)
			if !isFinite(v) {
				continue
			}
			total += v
			sumY += float64(y) * v
			sumX += float64(x) * v
		}
	}
	centerY := clampFloat64(sumY/total, 0, float64(rows-1))
	centerX := clampFloat64(sumX/total, 0, float64(cols-1))
	if total == 0 || math.IsNaN(centerY) || math.IsNaN(centerX) {
		centerY = float64(rows-1) / 2.0
		centerX = float64(cols-1) / 2.0
	}

	offset, sigma := interQuartileBackground(data.Pix)

	var ys, xs []float64
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			v := data.At(y, x)
			if isFinite(v) && v-offset > significanceSigma*sigma {
				ys = append(ys, float64(y))
				xs = append(xs, float64(x))
			}
		}
	}
	widthY, widthX := MinWidth, MinWidth
	if len(ys) > 0 {
		widthY = stat.PopStdDev(ys, nil)
		widthX = stat.PopStdDev(xs, nil)
	}

	return FitParams{
		Height:  finiteMax(data.Pix) - offset,
		CenterY: centerY,
		CenterX: centerX,
		WidthY:  math.Max(floorWidth(widthY), MinWidth),
		WidthX:  math.Max(floorWidth(widthX), MinWidth),
		Offset:  offset,
	}
}

// interQuartileBackground returns the median and population standard
// deviation of the pixels strictly between the first and third quartile.
// When that band is empty (flat or nearly flat data) it falls back to the
// overall median and zero spread.
func interQuartileBackground(pix []float64) (float64, float64) {
	median := finiteMedian(pix)

	var below, above []float64
	for _, v := range pix {
		if v < median {
			below = append(below, v)
		} else if v > median {
			above = append(above, v)
		}
	}
	firstQ := finiteMedian(below)
	thirdQ := finiteMedian(above)

	band := make([]float64, 0, len(pix)/2)
	for _, v := range pix {
		if v > firstQ && v < thirdQ {
			band = append(band, v)
		}
	}
	if len(band) == 0 {
		return median, 0
	}
	return finiteMedian(band), stat.PopStdDev(band, nil)
}

func clampFloat64(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
