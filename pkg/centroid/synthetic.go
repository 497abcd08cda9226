package centroid

import (
	"errors"
	"fmt"
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

// Spread is a normal distribution used to scatter one parameter across a
// synthetic sequence. A zero StdDev gives the same value in every frame.
type Spread struct {
	Mean   float64 `yaml:"mean"`
	StdDev float64 `yaml:"stddev"`
}

// SyntheticSpec parametrizes a simulated time series of single-star frames.
type SyntheticSpec struct {
	NumFrames int
	FrameSize int

	CenterY Spread
	CenterX Spread
	WidthY  Spread
	WidthX  Spread
	Height  Spread
	Offset  Spread

	// Noisy adds shot noise drawn from Normal(v, sqrt(v)) to every positive
	// pixel value v.
	Noisy bool
	Seed  uint64
}

// DefaultSyntheticSpec returns a 32x32 sequence of n frames with the star
// near pixel (15, 15), width 1.5 and height 3e4, each scattered by about 1%,
// and shot noise enabled.
func DefaultSyntheticSpec(n int) SyntheticSpec {
	const size = 32
	center := float64(size/2 - 1)
	return SyntheticSpec{
		NumFrames: n,
		FrameSize: size,
		CenterY:   Spread{Mean: center, StdDev: 0.1},
		CenterX:   Spread{Mean: center, StdDev: 0.05},
		WidthY:    Spread{Mean: 1.5, StdDev: 0.015},
		WidthX:    Spread{Mean: 1.5, StdDev: 0.015},
		Height:    Spread{Mean: 3e4, StdDev: 300},
		Offset:    Spread{},
		Noisy:     true,
		Seed:      42,
	}
}

// Validate checks that the spec describes at least one non-empty frame and
// that every spread is non-negative.
func (s SyntheticSpec) Validate() error {
	if s.NumFrames < 1 {
		return fmt.Errorf("synthetic spec: need at least one frame, got %d", s.NumFrames)
	}
	if s.FrameSize < 1 {
		return fmt.Errorf("synthetic spec: frame size must be positive, got %d", s.FrameSize)
	}
	for name, sp := range map[string]Spread{
		"center_y": s.CenterY, "center_x": s.CenterX,
		"width_y": s.WidthY, "width_x": s.WidthX,
		"height": s.Height, "offset": s.Offset,
	} {
		if sp.StdDev < 0 || math.IsNaN(sp.StdDev) {
			return fmt.Errorf("synthetic spec: %s stddev must be non-negative, got %v", name, sp.StdDev)
		}
	}
	if s.WidthY.Mean <= 0 || s.WidthX.Mean <= 0 {
		return errors.New("synthetic spec: widths must be positive")
	}
	return nil
}

// GenerateSynthetic renders a sequence described by spec and returns it with
// the parameters used for every frame. The same Seed always produces the
// same cube.
func GenerateSynthetic(spec SyntheticSpec) (ImageCube, *FitResultSet, error) {
	if err := spec.Validate(); err != nil {
		return nil, nil, err
	}
	n := spec.NumFrames
	src := rand.NewSource(spec.Seed)

	truth := NewFitResultSet(n)
	draw := func(dst []float64, sp Spread) {
		dist := distuv.Normal{Mu: sp.Mean, Sigma: sp.StdDev, Src: src}
		for i := range dst {
			if sp.StdDev == 0 {
				dst[i] = sp.Mean
				continue
			}
			dst[i] = dist.Rand()
		}
	}
	draw(truth.CenterY, spec.CenterY)
	draw(truth.CenterX, spec.CenterX)
	draw(truth.WidthY, spec.WidthY)
	draw(truth.WidthX, spec.WidthX)
	draw(truth.Height, spec.Height)
	draw(truth.Offset, spec.Offset)

	rng := rand.New(src)
	cube := make(ImageCube, n)
	for i := range cube {
		p := truth.Params(i)
		frame := RenderGaussian(p, spec.FrameSize, spec.FrameSize)
		if spec.Noisy {
			for k, v := range frame.Pix {
				if v > 0 {
					frame.Pix[k] = v + math.Sqrt(v)*rng.NormFloat64()
				}
			}
		}
		cube[i] = frame
		truth.Status[i] = StatusConverged
	}
	return cube, truth, nil
}
