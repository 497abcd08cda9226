package main

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exowanderer/Wanderer/pkg/centroid"
	"github.com/exowanderer/Wanderer/pkg/config"
)

func TestParseArgsOverridesConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wanderer.yaml")
	base := config.DefaultConfig()
	base.Fit.Method = "leastsq"
	base.Fit.WindowSize = 8
	base.Background.Method = "kappa-sigma"
	require.NoError(t, config.SaveConfig(base, path))

	cfg, opts, err := parseArgs([]string{
		"-config", path,
		"-window", "10",
		"-workers", "3",
		"-noisy=false",
		"-debayer",
		"-metrics-file", "m.prom",
		"a.fits", "b.fits",
	})
	require.NoError(t, err)

	assert.Equal(t, "leastsq", cfg.Fit.Method, "unset flags keep file values")
	assert.Equal(t, "kappa-sigma", cfg.Background.Method)
	assert.Equal(t, 10, cfg.Fit.WindowSize)
	assert.Equal(t, 3, cfg.Processing.NumWorkers)
	assert.False(t, cfg.Synthetic.Noisy)
	assert.True(t, cfg.Input.Debayer)
	assert.Equal(t, "m.prom", opts.metricsPath)
	assert.Equal(t, []string{"a.fits", "b.fits"}, opts.files)
}

func TestParseArgsRejectsUnknownFlag(t *testing.T) {
	_, _, err := parseArgs([]string{"-nope"})
	assert.Error(t, err)
}

func TestRunSyntheticThenExportedCube(t *testing.T) {
	dir := t.TempDir()
	overlay := filepath.Join(dir, "overlay.jpg")
	export := filepath.Join(dir, "cube.fits")
	metrics := filepath.Join(dir, "metrics.prom")

	err := run([]string{
		"-frames", "12",
		"-workers", "3",
		"-overlay", overlay,
		"-export", export,
		"-metrics-file", metrics,
	})
	require.NoError(t, err)
	for _, p := range []string{overlay, export, metrics} {
		info, err := os.Stat(p)
		require.NoError(t, err, p)
		assert.Positive(t, info.Size(), p)
	}
	prom, err := os.ReadFile(metrics)
	require.NoError(t, err)
	assert.Contains(t, string(prom), `wanderer_frames_fitted_total{status="converged"}`)

	cube, err := centroid.ReadFitsCube(export)
	require.NoError(t, err)
	assert.Len(t, cube, 12)

	require.NoError(t, run([]string{"-workers", "2", "-method", "leastsq", export}))
	require.NoError(t, run([]string{"-workers", "1", "-debayer", export}))
}

func TestRunRejectsInvalidConfiguration(t *testing.T) {
	err := run([]string{"-method", "simplex"})
	assert.ErrorContains(t, err, "invalid configuration")
}

func writeFitsFile(t *testing.T, path string, cube centroid.ImageCube) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, centroid.WriteFitsCube(f, cube))
	require.NoError(t, f.Close())
}

func TestLoadCubeConcatenatesFitsFiles(t *testing.T) {
	dir := t.TempDir()
	cube, _, err := centroid.GenerateSynthetic(centroid.DefaultSyntheticSpec(3))
	require.NoError(t, err)
	first := filepath.Join(dir, "a.fits")
	second := filepath.Join(dir, "b.FIT")
	writeFitsFile(t, first, cube[:2])
	writeFitsFile(t, second, cube[2:])

	got, err := loadCube([]string{first, second})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, cube[2].Pix, got[2].Pix)

	small := filepath.Join(dir, "small.fits")
	writeFitsFile(t, small, centroid.ImageCube{centroid.NewFrame(8, 8)})
	_, err = loadCube([]string{first, small})
	assert.ErrorIs(t, err, centroid.ErrShapeMismatch)
}

func TestRunFilesIgnoreSyntheticSection(t *testing.T) {
	dir := t.TempDir()
	cube, _, err := centroid.GenerateSynthetic(centroid.DefaultSyntheticSpec(4))
	require.NoError(t, err)
	input := filepath.Join(dir, "input.fits")
	writeFitsFile(t, input, cube)

	cfgPath := filepath.Join(dir, "wanderer.yaml")
	cfg := config.DefaultConfig()
	cfg.Synthetic.NumFrames = 0
	require.NoError(t, config.SaveConfig(cfg, cfgPath))

	require.NoError(t, run([]string{"-config", cfgPath, "-workers", "2", input}))

	err = run([]string{"-config", cfgPath})
	assert.ErrorContains(t, err, "invalid configuration")
}

func TestMedianMAD(t *testing.T) {
	med, mad := medianMAD([]float64{1, 2, 3, 4, 100, math.NaN()})
	assert.Equal(t, 3.0, med)
	assert.InDelta(t, 1.4826, mad, 1e-12)

	med, mad = medianMAD([]float64{math.NaN()})
	assert.True(t, math.IsNaN(med))
	assert.True(t, math.IsNaN(mad))
}
