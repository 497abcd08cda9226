package centroid

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records fit counts and latencies. A nil *Metrics records nothing.
type Metrics struct {
	framesFitted  *prometheus.CounterVec
	frameDuration prometheus.Histogram
	batchDuration prometheus.Histogram
}

// NewMetrics creates the fit metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		framesFitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wanderer_frames_fitted_total",
				Help: "Number of frames fitted, by fit status",
			},
			[]string{"status"},
		),
		frameDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "wanderer_frame_fit_seconds",
				Help:    "Time spent fitting a single frame",
				Buckets: prometheus.ExponentialBuckets(1e-5, 4, 10),
			},
		),
		batchDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "wanderer_batch_fit_seconds",
				Help:    "Time spent fitting a whole image cube",
				Buckets: prometheus.ExponentialBuckets(1e-3, 4, 10),
			},
		),
	}
	for _, c := range []prometheus.Collector{m.framesFitted, m.frameDuration, m.batchDuration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) observeFrame(status FitStatus, d time.Duration) {
	if m == nil {
		return
	}
	m.framesFitted.WithLabelValues(status.String()).Inc()
	m.frameDuration.Observe(d.Seconds())
}

func (m *Metrics) observeBatch(d time.Duration) {
	if m == nil {
		return
	}
	m.batchDuration.Observe(d.Seconds())
}
