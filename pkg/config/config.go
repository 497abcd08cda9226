// Package config loads and saves the YAML configuration of the wanderer
// command and converts it into centroid engine settings.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"

	"github.com/exowanderer/Wanderer/pkg/centroid"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Fit parameters
	Fit struct {
		// Method is one of gauss, leastsq or bfgs
		Method string `yaml:"method"`

		// WindowSize is the nominal side of the fit window in pixels
		WindowSize int `yaml:"windowSize"`

		// GuessY and GuessX locate the star in frame coordinates
		GuessY float64 `yaml:"guessY"`
		GuessX float64 `yaml:"guessX"`

		// SmoothSigma enables subframe smoothing when positive
		SmoothSigma float64 `yaml:"smoothSigma"`

		// MaxIterations bounds the solver; zero selects the engine default
		MaxIterations int `yaml:"maxIterations"`
	} `yaml:"fit"`

	// Input parameters
	Input struct {
		// Debayer converts raw RGGB frames to luminance before fitting
		Debayer bool `yaml:"debayer"`
	} `yaml:"input"`

	// Processing parameters
	Processing struct {
		// NumWorkers is the size of the fitting worker pool
		NumWorkers int `yaml:"numWorkers"`
	} `yaml:"processing"`

	// Flux-weighted centroid parameters
	Background struct {
		// Method is median or kappa-sigma
		Method string `yaml:"method"`

		// HalfSize is the half-width of the flux-weighted box
		HalfSize int `yaml:"halfSize"`
	} `yaml:"background"`

	// Synthetic sequence used when no input files are given
	Synthetic struct {
		NumFrames int             `yaml:"numFrames"`
		FrameSize int             `yaml:"frameSize"`
		CenterY   centroid.Spread `yaml:"centerY"`
		CenterX   centroid.Spread `yaml:"centerX"`
		WidthY    centroid.Spread `yaml:"widthY"`
		WidthX    centroid.Spread `yaml:"widthX"`
		Height    centroid.Spread `yaml:"height"`
		Offset    centroid.Spread `yaml:"offset"`
		Noisy     bool            `yaml:"noisy"`
		Seed      uint64          `yaml:"seed"`
	} `yaml:"synthetic"`

	// Output parameters
	Output struct {
		// OverlayPath, when set, receives a JPEG of the first frame and the fits
		OverlayPath string `yaml:"overlayPath"`

		// ExportPath, when set, receives the synthetic cube as FITS
		ExportPath string `yaml:"exportPath"`

		// Verbose enables development logging
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	syn := centroid.DefaultSyntheticSpec(1000)

	cfg.Fit.Method = centroid.MethodGauss.String()
	cfg.Fit.WindowSize = 6
	cfg.Fit.GuessY = syn.CenterY.Mean
	cfg.Fit.GuessX = syn.CenterX.Mean
	cfg.Fit.SmoothSigma = 0
	cfg.Fit.MaxIterations = centroid.DefaultMaxIterations

	cfg.Processing.NumWorkers = runtime.NumCPU()

	cfg.Background.Method = centroid.BackgroundMedian.String()
	cfg.Background.HalfSize = 3

	cfg.Synthetic.NumFrames = syn.NumFrames
	cfg.Synthetic.FrameSize = syn.FrameSize
	cfg.Synthetic.CenterY = syn.CenterY
	cfg.Synthetic.CenterX = syn.CenterX
	cfg.Synthetic.WidthY = syn.WidthY
	cfg.Synthetic.WidthX = syn.WidthX
	cfg.Synthetic.Height = syn.Height
	cfg.Synthetic.Offset = syn.Offset
	cfg.Synthetic.Noisy = syn.Noisy
	cfg.Synthetic.Seed = syn.Seed

	return cfg
}

// LoadConfig loads configuration from a YAML file.
// If the file doesn't exist, it returns the default configuration.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	return SaveConfig(DefaultConfig(), configPath)
}

// Validate checks the values the engine would otherwise reject later.
func (c *Config) Validate() error {
	if _, err := centroid.ParseMethod(c.Fit.Method); err != nil {
		return fmt.Errorf("fit.method: %w", err)
	}
	if c.Fit.WindowSize <= 0 {
		return fmt.Errorf("fit.windowSize: %w: got %d", centroid.ErrInvalidWindowSize, c.Fit.WindowSize)
	}
	if c.Fit.SmoothSigma < 0 {
		return fmt.Errorf("fit.smoothSigma must be non-negative, got %v", c.Fit.SmoothSigma)
	}
	if c.Processing.NumWorkers <= 0 {
		return fmt.Errorf("processing.numWorkers: %w: got %d", centroid.ErrInvalidWorkerCount, c.Processing.NumWorkers)
	}
	if _, err := centroid.ParseBackgroundMethod(c.Background.Method); err != nil {
		return fmt.Errorf("background.method: %w", err)
	}
	if c.Background.HalfSize < 1 {
		return fmt.Errorf("background.halfSize must be at least 1, got %d", c.Background.HalfSize)
	}
	return nil
}

// ValidateSynthetic checks the synthetic section. It only matters when no
// input files are given, so Validate leaves it alone.
func (c *Config) ValidateSynthetic() error {
	if err := c.SyntheticSpec().Validate(); err != nil {
		return fmt.Errorf("synthetic: %w", err)
	}
	return nil
}

// FitConfig converts the fit section into engine settings.
func (c *Config) FitConfig() (centroid.FitConfig, error) {
	method, err := centroid.ParseMethod(c.Fit.Method)
	if err != nil {
		return centroid.FitConfig{}, err
	}
	return centroid.FitConfig{
		Guess:         centroid.Point2d{Y: c.Fit.GuessY, X: c.Fit.GuessX},
		WindowSize:    c.Fit.WindowSize,
		Method:        method,
		SmoothSigma:   c.Fit.SmoothSigma,
		MaxIterations: c.Fit.MaxIterations,
	}, nil
}

// SyntheticSpec converts the synthetic section into a generator spec.
func (c *Config) SyntheticSpec() centroid.SyntheticSpec {
	s := c.Synthetic
	return centroid.SyntheticSpec{
		NumFrames: s.NumFrames,
		FrameSize: s.FrameSize,
		CenterY:   s.CenterY,
		CenterX:   s.CenterX,
		WidthY:    s.WidthY,
		WidthX:    s.WidthX,
		Height:    s.Height,
		Offset:    s.Offset,
		Noisy:     s.Noisy,
		Seed:      s.Seed,
	}
}

// BackgroundMethod parses the background section's method.
func (c *Config) BackgroundMethod() (centroid.BackgroundMethod, error) {
	return centroid.ParseBackgroundMethod(c.Background.Method)
}
