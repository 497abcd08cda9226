package centroid

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/stat"
)

// BackgroundMethod selects how a frame's sky level is estimated.
type BackgroundMethod int

const (
	// BackgroundMedian is the median of the frame's finite pixels.
	BackgroundMedian BackgroundMethod = iota
	// BackgroundKappaSigma is the mean of the pixels left after iteratively
	// clipping everything brighter than mean + kappa*sigma.
	BackgroundKappaSigma
)

func (m BackgroundMethod) String() string {
	switch m {
	case BackgroundMedian:
		return "median"
	case BackgroundKappaSigma:
		return "kappa-sigma"
	default:
		return fmt.Sprintf("BackgroundMethod(%d)", int(m))
	}
}

// ParseBackgroundMethod maps "median" or "kappa-sigma" to a BackgroundMethod.
func ParseBackgroundMethod(s string) (BackgroundMethod, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "median":
		return BackgroundMedian, nil
	case "kappa-sigma", "kappasigma":
		return BackgroundKappaSigma, nil
	}
	return 0, fmt.Errorf("unknown background method %q", s)
}

const (
	kappaClip          = 3.0
	kappaAllowedError  = 1e-6
	kappaMaxIterations = 10
)

// KappaSigmaResult holds the outcome of an iterative kappa-sigma clip.
type KappaSigmaResult struct {
	Sigma          float64
	BackgroundMean float64
	NumIterations  int
}

// KappaSigmaBackground estimates the sky level and noise of f. Each pass
// keeps only pixels at or below mean + clippingMultiplier*sigma of the previous
// pass and stops once sigma moves by no more than allowedError.
func KappaSigmaBackground(f Frame, clippingMultiplier, allowedError float64, maxIterations int) KappaSigmaResult {
	vals := finiteValues(f.Pix)
	if len(vals) == 0 {
		return KappaSigmaResult{Sigma: math.NaN(), BackgroundMean: math.NaN()}
	}

	threshold := math.Inf(1)
	lastSigma := math.NaN()
	lastMean := math.NaN()
	numIterations := 0
	kept := make([]float64, 0, len(vals))

	for numIterations < maxIterations {
		kept = kept[:0]
		for _, v := range vals {
			if v <= threshold {
				kept = append(kept, v)
			}
		}
		if len(kept) == 0 {
			break
		}
		mean, sigma := stat.PopMeanStdDev(kept, nil)

		numIterations++
		if numIterations > 1 && math.Abs(sigma-lastSigma) <= allowedError {
			lastSigma = sigma
			lastMean = mean
			break
		}
		threshold = mean + clippingMultiplier*sigma
		lastSigma = sigma
		lastMean = mean
	}

	return KappaSigmaResult{
		Sigma:          lastSigma,
		BackgroundMean: lastMean,
		NumIterations:  numIterations,
	}
}

// EstimateBackground returns the sky level of one frame.
func EstimateBackground(f Frame, method BackgroundMethod) float64 {
	if method == BackgroundKappaSigma {
		return KappaSigmaBackground(f, kappaClip, kappaAllowedError, kappaMaxIterations).BackgroundMean
	}
	return finiteMedian(f.Pix)
}

// EstimateBackgrounds returns one sky level per frame of cube.
func EstimateBackgrounds(cube ImageCube, method BackgroundMethod) ([]float64, error) {
	if err := cube.Validate(); err != nil {
		return nil, err
	}
	if method != BackgroundMedian && method != BackgroundKappaSigma {
		return nil, fmt.Errorf("unknown background method %v", method)
	}
	out := make([]float64, len(cube))
	for i, f := range cube {
		out[i] = EstimateBackground(f, method)
	}
	return out, nil
}
