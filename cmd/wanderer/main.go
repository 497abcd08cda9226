package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"github.com/exowanderer/Wanderer/pkg/centroid"
	"github.com/exowanderer/Wanderer/pkg/config"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	configPath  string
	metricsPath string
	files       []string
}

func run(args []string) error {
	cfg, opts, err := parseArgs(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := newLogger(cfg.Output.Verbose)
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	reg := prometheus.NewRegistry()
	metrics, err := centroid.NewMetrics(reg)
	if err != nil {
		return fmt.Errorf("registering metrics: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var cube centroid.ImageCube
	var truth *centroid.FitResultSet
	if len(opts.files) > 0 {
		fmt.Printf("Loading %d file(s)\n", len(opts.files))
		cube, err = loadCube(opts.files)
		if err != nil {
			return err
		}
		if cfg.Input.Debayer {
			cube = cube.Debayer()
		}
	} else {
		if err := cfg.ValidateSynthetic(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		spec := cfg.SyntheticSpec()
		fmt.Printf("Generating %d synthetic %dx%d frames (noisy=%v, seed=%d)\n",
			spec.NumFrames, spec.FrameSize, spec.FrameSize, spec.Noisy, spec.Seed)
		cube, truth, err = centroid.GenerateSynthetic(spec)
		if err != nil {
			return fmt.Errorf("generating synthetic cube: %w", err)
		}
		if cfg.Output.ExportPath != "" {
			if err := exportCube(cfg.Output.ExportPath, cube); err != nil {
				return err
			}
			fmt.Printf("Synthetic cube written to %s\n", cfg.Output.ExportPath)
		}
	}

	fitCfg, err := cfg.FitConfig()
	if err != nil {
		return err
	}
	coord, err := centroid.NewCoordinator(cfg.Processing.NumWorkers,
		centroid.WithLogger(logger), centroid.WithMetrics(metrics))
	if err != nil {
		return err
	}
	defer coord.Close()

	startTime := time.Now()
	results, err := coord.Fit(ctx, cube, fitCfg)
	if err != nil {
		return fmt.Errorf("fitting cube: %w", err)
	}
	elapsed := time.Since(startTime)

	bgMethod, err := cfg.BackgroundMethod()
	if err != nil {
		return err
	}
	backgrounds, err := centroid.EstimateBackgrounds(cube, bgMethod)
	if err != nil {
		return fmt.Errorf("estimating backgrounds: %w", err)
	}
	fluxCenters, err := centroid.FluxWeightedCentroids(cube, fitCfg.Guess, backgrounds, cfg.Background.HalfSize)
	if err != nil {
		return fmt.Errorf("flux-weighted centroids: %w", err)
	}

	printSummary(results, fluxCenters, fitCfg, elapsed)
	if truth != nil {
		printResiduals(results, fluxCenters, truth)
	}

	if cfg.Output.OverlayPath != "" {
		window, err := centroid.NewWindow(fitCfg.Guess, fitCfg.WindowSize)
		if err != nil {
			return err
		}
		if err := centroid.RenderFitOverlay(cube[0], window, results, cfg.Output.OverlayPath); err != nil {
			return fmt.Errorf("rendering overlay: %w", err)
		}
		fmt.Printf("Overlay written to %s\n", cfg.Output.OverlayPath)
	}
	if opts.metricsPath != "" {
		if err := prometheus.WriteToTextfile(opts.metricsPath, reg); err != nil {
			return fmt.Errorf("writing metrics: %w", err)
		}
	}
	return nil
}

// parseArgs loads the configuration file, if any, and applies the flags the
// user set on top of it.
func parseArgs(args []string) (*config.Config, options, error) {
	var opts options
	fs := flag.NewFlagSet("wanderer", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "usage: wanderer [flags] [file.fits|image ...]\n\n")
		fmt.Fprintf(fs.Output(), "With no files a synthetic sequence is generated and fitted.\n\n")
		fs.PrintDefaults()
	}

	def := config.DefaultConfig()
	fs.StringVar(&opts.configPath, "config", "", "YAML configuration file")
	fs.StringVar(&opts.metricsPath, "metrics-file", "", "write Prometheus metrics in text format to this file")
	method := fs.String("method", def.Fit.Method, "fit method: gauss, leastsq or bfgs")
	window := fs.Int("window", def.Fit.WindowSize, "fit window size in pixels")
	guessY := fs.Float64("guess-y", def.Fit.GuessY, "star row guess")
	guessX := fs.Float64("guess-x", def.Fit.GuessX, "star column guess")
	workers := fs.Int("workers", def.Processing.NumWorkers, "number of fitting workers")
	smooth := fs.Float64("smooth", def.Fit.SmoothSigma, "Gaussian smoothing sigma for subframes (0 disables)")
	frames := fs.Int("frames", def.Synthetic.NumFrames, "synthetic frame count")
	noisy := fs.Bool("noisy", def.Synthetic.Noisy, "add shot noise to synthetic frames")
	seed := fs.Uint64("seed", def.Synthetic.Seed, "synthetic random seed")
	fwHalf := fs.Int("fw-half", def.Background.HalfSize, "flux-weighted box half size")
	background := fs.String("background", def.Background.Method, "background method: median or kappa-sigma")
	overlay := fs.String("overlay", "", "write a JPEG overlay of the fits to this path")
	export := fs.String("export", "", "write the synthetic cube to this FITS path")
	verbose := fs.Bool("verbose", false, "development logging")
	debayer := fs.Bool("debayer", false, "treat input frames as raw RGGB mosaics")

	if err := fs.Parse(args); err != nil {
		return nil, opts, err
	}
	opts.files = fs.Args()

	cfg := def
	if opts.configPath != "" {
		loaded, err := config.LoadConfig(opts.configPath)
		if err != nil {
			return nil, opts, err
		}
		cfg = loaded
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "method":
			cfg.Fit.Method = *method
		case "window":
			cfg.Fit.WindowSize = *window
		case "guess-y":
			cfg.Fit.GuessY = *guessY
		case "guess-x":
			cfg.Fit.GuessX = *guessX
		case "workers":
			cfg.Processing.NumWorkers = *workers
		case "smooth":
			cfg.Fit.SmoothSigma = *smooth
		case "frames":
			cfg.Synthetic.NumFrames = *frames
		case "noisy":
			cfg.Synthetic.Noisy = *noisy
		case "seed":
			cfg.Synthetic.Seed = *seed
		case "fw-half":
			cfg.Background.HalfSize = *fwHalf
		case "background":
			cfg.Background.Method = *background
		case "overlay":
			cfg.Output.OverlayPath = *overlay
		case "export":
			cfg.Output.ExportPath = *export
		case "verbose":
			cfg.Output.Verbose = *verbose
		case "debayer":
			cfg.Input.Debayer = *debayer
		}
	})
	return cfg, opts, nil
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// loadCube reads the input files in argument order. Consecutive FITS files
// are read together as one multi-file cube.
func loadCube(paths []string) (centroid.ImageCube, error) {
	var cube centroid.ImageCube
	var fitsRun []string
	flush := func() error {
		if len(fitsRun) == 0 {
			return nil
		}
		c, err := centroid.ReadFitsFrames(fitsRun)
		if err != nil {
			return fmt.Errorf("reading FITS: %w", err)
		}
		fmt.Printf("FITS loaded: %d file(s), %d frame(s)\n", len(fitsRun), len(c))
		cube = append(cube, c...)
		fitsRun = fitsRun[:0]
		return nil
	}
	for _, p := range paths {
		if isFitsPath(p) {
			fitsRun = append(fitsRun, p)
			continue
		}
		if err := flush(); err != nil {
			return nil, err
		}
		f, err := loadImageFrame(p)
		if err != nil {
			return nil, err
		}
		cube = append(cube, f)
	}
	if err := flush(); err != nil {
		return nil, err
	}
	if err := cube.Validate(); err != nil {
		return nil, fmt.Errorf("input frames: %w", err)
	}
	return cube, nil
}

func isFitsPath(p string) bool {
	switch strings.ToLower(filepath.Ext(p)) {
	case ".fits", ".fit", ".fts":
		return true
	}
	return false
}

func exportCube(path string, cube centroid.ImageCube) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating export file: %w", err)
	}
	if err := centroid.WriteFitsCube(f, cube); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func printSummary(results *centroid.FitResultSet, flux []centroid.Point2d, cfg centroid.FitConfig, elapsed time.Duration) {
	fmt.Println()
	fmt.Printf("=== Centroid Fit Results (%.1fs) ===\n", elapsed.Seconds())
	fmt.Printf("  Method:          %s\n", cfg.Method)
	fmt.Printf("  Frames:          %d\n", results.Len())
	fmt.Printf("  Converged:       %d\n", results.CountStatus(centroid.StatusConverged))
	fmt.Printf("  Not converged:   %d\n", results.CountStatus(centroid.StatusNotConverged))
	fmt.Printf("  Degenerate:      %d\n", results.CountStatus(centroid.StatusDegenerate))
	fmt.Printf("  Invalid input:   %d\n", results.CountStatus(centroid.StatusInvalidInput))

	cyMed, cyMAD := medianMAD(results.CenterY)
	cxMed, cxMAD := medianMAD(results.CenterX)
	wyMed, wyMAD := medianMAD(results.WidthY)
	wxMed, wxMAD := medianMAD(results.WidthX)
	fmt.Printf("  Center Y:        %.4f +/- %.4f px\n", cyMed, cyMAD)
	fmt.Printf("  Center X:        %.4f +/- %.4f px\n", cxMed, cxMAD)
	fmt.Printf("  Width Y:         %.4f +/- %.4f px\n", wyMed, wyMAD)
	fmt.Printf("  Width X:         %.4f +/- %.4f px\n", wxMed, wxMAD)

	fy := make([]float64, len(flux))
	fx := make([]float64, len(flux))
	for i, p := range flux {
		fy[i], fx[i] = p.Y, p.X
	}
	fyMed, fyMAD := medianMAD(fy)
	fxMed, fxMAD := medianMAD(fx)
	fmt.Printf("  Flux-weighted Y: %.4f +/- %.4f px\n", fyMed, fyMAD)
	fmt.Printf("  Flux-weighted X: %.4f +/- %.4f px\n", fxMed, fxMAD)
	fmt.Println("==============================")
}

// printResiduals reports the fractional center error of both methods
// against the parameters the synthetic frames were drawn with.
func printResiduals(results *centroid.FitResultSet, flux []centroid.Point2d, truth *centroid.FitResultSet) {
	n := truth.Len()
	gy, gx := make([]float64, n), make([]float64, n)
	fy, fx := make([]float64, n), make([]float64, n)
	for i := 0; i < n; i++ {
		gy[i] = (results.CenterY[i] - truth.CenterY[i]) / truth.CenterY[i]
		gx[i] = (results.CenterX[i] - truth.CenterX[i]) / truth.CenterX[i]
		fy[i] = (flux[i].Y - truth.CenterY[i]) / truth.CenterY[i]
		fx[i] = (flux[i].X - truth.CenterX[i]) / truth.CenterX[i]
	}

	fmt.Println()
	fmt.Println("=== Fractional Center Residuals ===")
	for _, row := range []struct {
		label string
		vals  []float64
	}{
		{"Gaussian Y", gy}, {"Gaussian X", gx},
		{"Flux-weighted Y", fy}, {"Flux-weighted X", fx},
	} {
		mean, std := meanStd(row.vals)
		fmt.Printf("  %-16s mean=%+.3e  std=%.3e\n", row.label, mean, std)
	}
	fmt.Println("==============================")
}

func meanStd(values []float64) (float64, float64) {
	finite := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) {
			finite = append(finite, v)
		}
	}
	if len(finite) == 0 {
		return math.NaN(), math.NaN()
	}
	return stat.PopMeanStdDev(finite, nil)
}

// medianMAD returns the median of the non-NaN values and their median
// absolute deviation scaled to a normal sigma.
func medianMAD(values []float64) (float64, float64) {
	vals := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) {
			vals = append(vals, v)
		}
	}
	if len(vals) == 0 {
		return math.NaN(), math.NaN()
	}
	med := sortedMedian(vals)
	for i, v := range vals {
		vals[i] = math.Abs(v - med)
	}
	return med, madToSigma * sortedMedian(vals)
}

const madToSigma = 1.4826

// sortedMedian sorts vals in place and returns their median.
func sortedMedian(vals []float64) float64 {
	sort.Float64s(vals)
	mid := len(vals) / 2
	if len(vals)%2 == 1 {
		return vals[mid]
	}
	return (vals[mid-1] + vals[mid]) / 2
}
