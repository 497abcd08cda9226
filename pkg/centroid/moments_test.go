package centroid

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/exp/rand"
)

func TestEstimateMomentsSymmetricStar(t *testing.T) {
	truth := FitParams{Height: 100, CenterY: 5, CenterX: 5, WidthY: 1.5, WidthX: 1.5, Offset: 10}
	p := EstimateMoments(RenderGaussian(truth, 11, 11))

	assert.InDelta(t, 5.0, p.CenterY, 1e-9)
	assert.InDelta(t, 5.0, p.CenterX, 1e-9)
	// The star's wings lift the inter-quartile band a little above the true
	// background on a frame this small.
	assert.InDelta(t, 11.0, p.Offset, 1.5)
	assert.InDelta(t, 99.0, p.Height, 1.5)
	assert.InDelta(t, p.Height+p.Offset, 110.0, 1e-9)
	assert.GreaterOrEqual(t, p.WidthY, MinWidth)
	assert.GreaterOrEqual(t, p.WidthX, MinWidth)
}

func TestEstimateMomentsFlatFrame(t *testing.T) {
	p := EstimateMoments(UniformFrame(6, 8, 7))

	assert.Equal(t, 2.5, p.CenterY)
	assert.Equal(t, 3.5, p.CenterX)
	assert.Equal(t, 7.0, p.Offset)
	assert.Equal(t, 0.0, p.Height)
	assert.Equal(t, MinWidth, p.WidthY)
	assert.Equal(t, MinWidth, p.WidthX)
}

func TestEstimateMomentsZeroFlux(t *testing.T) {
	p := EstimateMoments(NewFrame(5, 7))

	assert.Equal(t, 2.0, p.CenterY)
	assert.Equal(t, 3.0, p.CenterX)
	assert.Equal(t, MinWidth, p.WidthY)
	assert.Equal(t, MinWidth, p.WidthX)
}

func TestEstimateMomentsSinglePixel(t *testing.T) {
	f := NewFrame(8, 8)
	f.Set(3, 4, 100)
	p := EstimateMoments(f)

	assert.Equal(t, 3.0, p.CenterY)
	assert.Equal(t, 4.0, p.CenterX)
	assert.Equal(t, 0.0, p.Offset)
	assert.Equal(t, 100.0, p.Height)
	assert.Equal(t, MinWidth, p.WidthY)
	assert.Equal(t, MinWidth, p.WidthX)
}

func TestEstimateMomentsIgnoresNaN(t *testing.T) {
	truth := FitParams{Height: 50, CenterY: 4, CenterX: 4, WidthY: 1.2, WidthX: 1.2}
	f := RenderGaussian(truth, 9, 9)
	f.Set(0, 0, math.NaN())
	f.Set(8, 8, math.NaN())
	p := EstimateMoments(f)

	assert.InDelta(t, 4.0, p.CenterY, 1e-9)
	assert.InDelta(t, 4.0, p.CenterX, 1e-9)
	assert.False(t, math.IsNaN(p.Offset))
	assert.False(t, math.IsNaN(p.Height))
}

func TestEstimateMomentsIgnoresInfinitePixels(t *testing.T) {
	truth := FitParams{Height: 50, CenterY: 4, CenterX: 4, WidthY: 1.2, WidthX: 1.2}
	f := RenderGaussian(truth, 9, 9)
	f.Set(0, 0, math.Inf(1))
	f.Set(8, 8, math.Inf(1))
	p := EstimateMoments(f)

	assert.InDelta(t, 4.0, p.CenterY, 1e-9)
	assert.InDelta(t, 4.0, p.CenterX, 1e-9)
	assert.InDelta(t, 50.0, p.Height+p.Offset, 1e-9, "height comes from the finite peak")
	assert.False(t, math.IsInf(p.WidthY, 0))
	assert.False(t, math.IsInf(p.WidthX, 0))
}

func TestEstimateMomentsNeverReturnsNarrowWidth(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 500; i++ {
		rows, cols := 2+rng.Intn(10), 2+rng.Intn(10)
		f := NewFrame(rows, cols)
		switch i % 4 {
		case 0:
			for k := range f.Pix {
				f.Pix[k] = rng.NormFloat64()
			}
		case 1:
			f.Set(rng.Intn(rows), rng.Intn(cols), 1e4*rng.Float64())
		case 2:
			for k := range f.Pix {
				f.Pix[k] = float64(rng.Intn(3))
			}
		case 3:
			p := FitParams{
				Height:  1e3 * rng.Float64(),
				CenterY: float64(rows) * rng.Float64(),
				CenterX: float64(cols) * rng.Float64(),
				WidthY:  0.1 + 3*rng.Float64(),
				WidthX:  0.1 + 3*rng.Float64(),
				Offset:  rng.NormFloat64(),
			}
			f = RenderGaussian(p, rows, cols)
		}
		p := EstimateMoments(f)
		assert.GreaterOrEqual(t, p.WidthY, MinWidth, "frame %d", i)
		assert.GreaterOrEqual(t, p.WidthX, MinWidth, "frame %d", i)
		assert.False(t, math.IsNaN(p.CenterY), "frame %d", i)
		assert.False(t, math.IsNaN(p.CenterX), "frame %d", i)
	}
}
