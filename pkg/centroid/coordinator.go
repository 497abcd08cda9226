package centroid

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// FitConfig describes one batch fit over an image cube.
type FitConfig struct {
	// Guess is the expected star position in frame coordinates.
	Guess Point2d
	// WindowSize is the nominal side of the fit window in pixels.
	WindowSize int
	Method     Method
	// SmoothSigma enables Gaussian smoothing of each subframe when > 0.
	SmoothSigma float64
	// Weights, when set, must have the window's shape and multiplies every
	// residual.
	Weights *Frame
	// InitParams, when set, replaces the per-frame moment estimate. Centers
	// are in frame coordinates.
	InitParams *FitParams
	// MaxIterations <= 0 selects DefaultMaxIterations.
	MaxIterations int
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger used for batch and per-frame diagnostics.
func WithLogger(l *zap.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics makes the coordinator record fit counts and latencies.
func WithMetrics(m *Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// Coordinator fits every frame of an image cube on a fixed pool of worker
// goroutines. Frame indices are split into contiguous chunks, one per
// worker, and each result is written to the slot of its frame, so output
// order never depends on scheduling. Batches submitted to one Coordinator
// run one at a time.
type Coordinator struct {
	numWorkers int
	jobs       []chan chunk
	workers    sync.WaitGroup

	mu     sync.Mutex // serializes batches and guards closed
	closed bool

	logger  *zap.Logger
	metrics *Metrics
}

type chunk struct {
	ctx   context.Context
	batch *batch
	start int
	end   int
	done  *sync.WaitGroup
}

// batch is the read-only state shared by every worker during one Fit call.
type batch struct {
	id      string
	cube    ImageCube
	window  Window
	grid    Grid
	cfg     FitConfig
	fitter  FrameFitter
	init    *FitParams // local coordinates
	results *FitResultSet
}

// NewCoordinator starts workers goroutines that live until Close.
func NewCoordinator(workers int, opts ...Option) (*Coordinator, error) {
	if workers <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidWorkerCount, workers)
	}
	c := &Coordinator{
		numWorkers: workers,
		jobs:       make([]chan chunk, workers),
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	for w := 0; w < workers; w++ {
		c.jobs[w] = make(chan chunk)
		c.workers.Add(1)
		go c.work(c.jobs[w])
	}
	return c, nil
}

// Workers returns the size of the pool.
func (c *Coordinator) Workers() int { return c.numWorkers }

// Close stops the workers after any running batch finishes. Calling Close
// more than once is a no-op.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	for _, ch := range c.jobs {
		close(ch)
	}
	c.workers.Wait()
	return nil
}

// Fit fits every frame of cube and returns results index-aligned with it.
//
// Configuration and cube shape are validated before any frame is
// dispatched. Problems confined to one frame are reported in that frame's
// status and never abort the batch. If ctx is cancelled, frames not yet
// started are skipped and ctx.Err() is returned.
func (c *Coordinator) Fit(ctx context.Context, cube ImageCube, cfg FitConfig) (*FitResultSet, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrCoordinatorClosed
	}

	b, err := newBatch(cube, cfg)
	if err != nil {
		return nil, err
	}

	n := len(cube)
	log := c.logger.With(zap.String("batch", b.id))
	log.Info("fitting image cube",
		zap.Int("frames", n),
		zap.Int("workers", c.numWorkers),
		zap.Stringer("method", cfg.Method),
		zap.Stringer("window", b.window))

	start := time.Now()
	var done sync.WaitGroup
	size := (n + c.numWorkers - 1) / c.numWorkers
	for w := 0; w < c.numWorkers; w++ {
		lo := w * size
		if lo >= n {
			break
		}
		hi := min(lo+size, n)
		done.Add(1)
		c.jobs[w] <- chunk{ctx: ctx, batch: b, start: lo, end: hi, done: &done}
	}
	done.Wait()
	elapsed := time.Since(start)
	c.metrics.observeBatch(elapsed)

	if err := ctx.Err(); err != nil {
		log.Warn("batch cancelled", zap.Error(err))
		return nil, err
	}

	log.Info("image cube fitted",
		zap.Int("converged", b.results.CountStatus(StatusConverged)),
		zap.Int("not_converged", b.results.CountStatus(StatusNotConverged)),
		zap.Int("degenerate", b.results.CountStatus(StatusDegenerate)),
		zap.Int("invalid", b.results.CountStatus(StatusInvalidInput)),
		zap.Duration("elapsed", elapsed))
	return b.results, nil
}

func newBatch(cube ImageCube, cfg FitConfig) (*batch, error) {
	if err := cube.Validate(); err != nil {
		return nil, err
	}
	window, err := NewWindow(cfg.Guess, cfg.WindowSize)
	if err != nil {
		return nil, err
	}
	if window.Dy() <= 0 || window.Dx() <= 0 || window.Pixels() < NumParams {
		return nil, fmt.Errorf("%w: window %v holds %d pixels", ErrWindowTooSmall, window, max(window.Pixels(), 0))
	}
	if cfg.Weights != nil {
		if cfg.Weights.Rows != window.Dy() || cfg.Weights.Cols != window.Dx() || len(cfg.Weights.Pix) != window.Pixels() {
			return nil, fmt.Errorf("%w: weights %dx%d, window %dx%d",
				ErrShapeMismatch, cfg.Weights.Rows, cfg.Weights.Cols, window.Dy(), window.Dx())
		}
	}
	fitter, err := NewFrameFitter(cfg.Method, cfg.MaxIterations)
	if err != nil {
		return nil, err
	}

	b := &batch{
		id:      uuid.NewString(),
		cube:    cube,
		window:  window,
		grid:    IndexGrid(window.Dy(), window.Dx()),
		cfg:     cfg,
		fitter:  fitter,
		results: NewFitResultSet(len(cube)),
	}
	if cfg.InitParams != nil {
		origin := window.Origin()
		local := cfg.InitParams.Shift(-origin.Y, -origin.X)
		b.init = &local
	}
	return b, nil
}

func (c *Coordinator) work(jobs <-chan chunk) {
	defer c.workers.Done()
	for job := range jobs {
		c.runChunk(job)
	}
}

func (c *Coordinator) runChunk(job chunk) {
	defer job.done.Done()
	for i := job.start; i < job.end; i++ {
		if err := job.ctx.Err(); err != nil {
			for j := i; j < job.end; j++ {
				job.batch.results.Set(j, invalidResult(err.Error()))
			}
			return
		}
		start := time.Now()
		r := c.fitFrame(job.batch, i)
		c.metrics.observeFrame(r.Status, time.Since(start))
		if r.Status != StatusConverged {
			c.logger.Debug("frame not converged",
				zap.String("batch", job.batch.id),
				zap.Int("frame", i),
				zap.Stringer("status", r.Status),
				zap.String("reason", r.Reason))
		}
		job.batch.results.Set(i, r)
	}
}

// fitFrame runs extraction, initialization and the solver for frame i and
// returns the result in frame coordinates.
func (c *Coordinator) fitFrame(b *batch, i int) (res FitResult) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("recovered panic while fitting frame",
				zap.String("batch", b.id), zap.Int("frame", i), zap.Any("panic", r))
			res = FitResult{Params: NaNParams(), Status: StatusDegenerate, Reason: fmt.Sprintf("panic: %v", r)}
		}
	}()

	sub, err := ExtractSubframe(b.cube[i], b.window, b.cfg.SmoothSigma)
	if err != nil {
		return invalidResult(err.Error())
	}

	var init FitParams
	if b.init != nil {
		init = *b.init
	} else {
		init = EstimateMoments(sub)
	}

	res, err = b.fitter.Fit(sub, b.grid, init, b.cfg.Weights)
	if err != nil {
		return invalidResult(err.Error())
	}
	origin := b.window.Origin()
	res.Params = res.Params.Shift(origin.Y, origin.X)
	return res
}
