package centroid

import (
	"context"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newTestCoordinator(t *testing.T, workers int, opts ...Option) *Coordinator {
	t.Helper()
	c, err := NewCoordinator(workers, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// steadyStarSpec is a noiseless sequence whose star never moves.
func steadyStarSpec(n int) SyntheticSpec {
	return SyntheticSpec{
		NumFrames: n,
		FrameSize: 32,
		CenterY:   Spread{Mean: 15},
		CenterX:   Spread{Mean: 15},
		WidthY:    Spread{Mean: 1.5},
		WidthX:    Spread{Mean: 1.5},
		Height:    Spread{Mean: 3e4},
		Seed:      1,
	}
}

func TestNewCoordinatorRejectsBadWorkerCount(t *testing.T) {
	_, err := NewCoordinator(0)
	assert.ErrorIs(t, err, ErrInvalidWorkerCount)
	_, err = NewCoordinator(-3)
	assert.ErrorIs(t, err, ErrInvalidWorkerCount)
}

func TestCoordinatorSteadyStar(t *testing.T) {
	cube, _, err := GenerateSynthetic(steadyStarSpec(100))
	require.NoError(t, err)

	c := newTestCoordinator(t, 4)
	res, err := c.Fit(context.Background(), cube, FitConfig{
		Guess:      Point2d{Y: 15, X: 15},
		WindowSize: 6,
		Method:     MethodGauss,
	})
	require.NoError(t, err)
	require.Equal(t, 100, res.Len())

	for i := 0; i < res.Len(); i++ {
		assert.Equal(t, StatusConverged, res.Status[i], "frame %d: %s", i, res.Reason[i])
		assert.InDelta(t, 15.0, res.CenterY[i], 1e-3, "frame %d", i)
		assert.InDelta(t, 15.0, res.CenterX[i], 1e-3, "frame %d", i)
		assert.InDelta(t, 1.5, res.WidthY[i], 1e-3, "frame %d", i)
		assert.InDelta(t, 1.5, res.WidthX[i], 1e-3, "frame %d", i)
		assert.InDelta(t, 3e4, res.Height[i], 3e4*1e-6, "frame %d", i)
	}
}

func TestCoordinatorDeterministicAcrossWorkerCounts(t *testing.T) {
	spec := DefaultSyntheticSpec(37)
	cube, _, err := GenerateSynthetic(spec)
	require.NoError(t, err)
	cfg := FitConfig{Guess: Point2d{Y: 15, X: 15}, WindowSize: 6, Method: MethodGauss}

	single, err := newTestCoordinator(t, 1).Fit(context.Background(), cube, cfg)
	require.NoError(t, err)

	for _, workers := range []int{2, 3, 8, 64} {
		got, err := newTestCoordinator(t, workers).Fit(context.Background(), cube, cfg)
		require.NoError(t, err)
		if diff := cmp.Diff(single, got, cmpopts.EquateNaNs()); diff != "" {
			t.Errorf("%d workers differ from 1 worker (-want +got):\n%s", workers, diff)
		}
	}
}

func TestCoordinatorNoisySequence(t *testing.T) {
	if testing.Short() {
		t.Skip("fits 1000 frames")
	}
	cube, truth, err := GenerateSynthetic(DefaultSyntheticSpec(1000))
	require.NoError(t, err)

	c := newTestCoordinator(t, 4)
	res, err := c.Fit(context.Background(), cube, FitConfig{
		Guess:      Point2d{Y: 15, X: 15},
		WindowSize: 6,
		Method:     MethodGauss,
	})
	require.NoError(t, err)

	var sumY, sumX float64
	for i := 0; i < res.Len(); i++ {
		sumY += math.Abs(res.CenterY[i]-truth.CenterY[i]) / truth.CenterY[i]
		sumX += math.Abs(res.CenterX[i]-truth.CenterX[i]) / truth.CenterX[i]
	}
	n := float64(res.Len())
	assert.Less(t, sumY/n, 0.01)
	assert.Less(t, sumX/n, 0.01)
	assert.Greater(t, res.CountStatus(StatusConverged), 950)
}

func TestCoordinatorMethods(t *testing.T) {
	cube, _, err := GenerateSynthetic(steadyStarSpec(8))
	require.NoError(t, err)
	c := newTestCoordinator(t, 2)

	for _, method := range []Method{MethodGauss, MethodLeastSquares, MethodBFGS} {
		t.Run(method.String(), func(t *testing.T) {
			res, err := c.Fit(context.Background(), cube, FitConfig{
				Guess:      Point2d{Y: 15, X: 15},
				WindowSize: 8,
				Method:     method,
			})
			require.NoError(t, err)
			assert.Equal(t, res.Len(), res.CountStatus(StatusConverged))
			for i := 0; i < res.Len(); i++ {
				assert.InDelta(t, 15.0, res.CenterY[i], 0.05)
				assert.InDelta(t, 15.0, res.CenterX[i], 0.05)
			}
		})
	}
}

func TestCoordinatorBFGSNoisyFramesConverge(t *testing.T) {
	cube, truth, err := GenerateSynthetic(DefaultSyntheticSpec(100))
	require.NoError(t, err)

	c := newTestCoordinator(t, 4)
	res, err := c.Fit(context.Background(), cube, FitConfig{
		Guess:      Point2d{Y: 15, X: 15},
		WindowSize: 6,
		Method:     MethodBFGS,
	})
	require.NoError(t, err)

	var sumY, sumX float64
	for i := 0; i < res.Len(); i++ {
		sumY += math.Abs(res.CenterY[i]-truth.CenterY[i]) / truth.CenterY[i]
		sumX += math.Abs(res.CenterX[i]-truth.CenterX[i]) / truth.CenterX[i]
	}
	n := float64(res.Len())
	assert.Less(t, sumY/n, 0.01)
	assert.Less(t, sumX/n, 0.01)
	assert.GreaterOrEqual(t, res.CountStatus(StatusConverged), 90)
	assert.Zero(t, res.CountStatus(StatusDegenerate))
}

func TestCoordinatorValidatesBeforeDispatch(t *testing.T) {
	cube, _, err := GenerateSynthetic(steadyStarSpec(4))
	require.NoError(t, err)
	weights := UniformFrame(5, 6, 1)
	base := FitConfig{Guess: Point2d{Y: 15, X: 15}, WindowSize: 6}

	tests := []struct {
		name    string
		cube    ImageCube
		mutate  func(*FitConfig)
		wantErr error
	}{
		{name: "empty cube", cube: ImageCube{}, wantErr: ErrEmptyCube},
		{name: "shape mismatch", cube: append(ImageCube{NewFrame(31, 32)}, cube...), wantErr: ErrShapeMismatch},
		{name: "zero window", cube: cube, mutate: func(c *FitConfig) { c.WindowSize = 0 }, wantErr: ErrInvalidWindowSize},
		{name: "tiny window", cube: cube, mutate: func(c *FitConfig) { c.WindowSize = 2 }, wantErr: ErrWindowTooSmall},
		{name: "unknown method", cube: cube, mutate: func(c *FitConfig) { c.Method = Method(9) }, wantErr: ErrUnknownMethod},
		{name: "weights shape", cube: cube, mutate: func(c *FitConfig) { c.Weights = &weights }, wantErr: ErrShapeMismatch},
	}

	c := newTestCoordinator(t, 2)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			if tt.mutate != nil {
				tt.mutate(&cfg)
			}
			res, err := c.Fit(context.Background(), tt.cube, cfg)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, res)
		})
	}
}

func TestCoordinatorOutOfBoundsWindowIsPerFrame(t *testing.T) {
	cube, _, err := GenerateSynthetic(steadyStarSpec(5))
	require.NoError(t, err)

	c := newTestCoordinator(t, 2)
	res, err := c.Fit(context.Background(), cube, FitConfig{Guess: Point2d{Y: 1, X: 1}, WindowSize: 6})
	require.NoError(t, err)
	require.Equal(t, 5, res.Len())
	for i := 0; i < res.Len(); i++ {
		assert.Equal(t, StatusInvalidInput, res.Status[i])
		assert.True(t, math.IsNaN(res.CenterY[i]))
		assert.True(t, math.IsNaN(res.WidthX[i]))
	}
}

func TestCoordinatorIsolatesBadFrame(t *testing.T) {
	cube, _, err := GenerateSynthetic(steadyStarSpec(6))
	require.NoError(t, err)
	cube[3] = UniformFrame(32, 32, math.NaN())

	c := newTestCoordinator(t, 3)
	res, err := c.Fit(context.Background(), cube, FitConfig{Guess: Point2d{Y: 15, X: 15}, WindowSize: 6})
	require.NoError(t, err)

	for i := 0; i < res.Len(); i++ {
		if i == 3 {
			assert.Equal(t, StatusDegenerate, res.Status[i])
			continue
		}
		assert.Equal(t, StatusConverged, res.Status[i], "frame %d", i)
		assert.InDelta(t, 15.0, res.CenterY[i], 1e-3)
	}
}

func TestCoordinatorFixedInitialParams(t *testing.T) {
	cube, _, err := GenerateSynthetic(steadyStarSpec(4))
	require.NoError(t, err)
	init := FitParams{Height: 2.5e4, CenterY: 15.2, CenterX: 14.9, WidthY: 1.3, WidthX: 1.7, Offset: 10}

	c := newTestCoordinator(t, 2)
	res, err := c.Fit(context.Background(), cube, FitConfig{
		Guess:      Point2d{Y: 15, X: 15},
		WindowSize: 6,
		InitParams: &init,
	})
	require.NoError(t, err)
	for i := 0; i < res.Len(); i++ {
		assert.Equal(t, StatusConverged, res.Status[i], res.Reason[i])
		assert.InDelta(t, 15.0, res.CenterY[i], 1e-3)
		assert.InDelta(t, 15.0, res.CenterX[i], 1e-3)
	}
}

func TestCoordinatorClose(t *testing.T) {
	c, err := NewCoordinator(3)
	require.NoError(t, err)
	assert.Equal(t, 3, c.Workers())
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	cube, _, err := GenerateSynthetic(steadyStarSpec(2))
	require.NoError(t, err)
	_, err = c.Fit(context.Background(), cube, FitConfig{Guess: Point2d{Y: 15, X: 15}, WindowSize: 6})
	assert.ErrorIs(t, err, ErrCoordinatorClosed)
}

func TestCoordinatorCancelledContext(t *testing.T) {
	cube, _, err := GenerateSynthetic(steadyStarSpec(10))
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := newTestCoordinator(t, 2)
	res, err := c.Fit(ctx, cube, FitConfig{Guess: Point2d{Y: 15, X: 15}, WindowSize: 6})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, res)

	res, err = c.Fit(context.Background(), cube, FitConfig{Guess: Point2d{Y: 15, X: 15}, WindowSize: 6})
	require.NoError(t, err)
	assert.Equal(t, 10, res.CountStatus(StatusConverged))
}

func TestCoordinatorLogsBatches(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	cube, _, err := GenerateSynthetic(steadyStarSpec(3))
	require.NoError(t, err)

	c := newTestCoordinator(t, 2, WithLogger(zap.New(core)))
	_, err = c.Fit(context.Background(), cube, FitConfig{Guess: Point2d{Y: 15, X: 15}, WindowSize: 6})
	require.NoError(t, err)

	started := logs.FilterMessage("fitting image cube").All()
	require.Len(t, started, 1)
	assert.Equal(t, int64(3), started[0].ContextMap()["frames"])
	done := logs.FilterMessage("image cube fitted").All()
	require.Len(t, done, 1)
	assert.Equal(t, int64(3), done[0].ContextMap()["converged"])
	assert.Equal(t, started[0].ContextMap()["batch"], done[0].ContextMap()["batch"])
}
