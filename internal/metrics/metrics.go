// Package metrics exposes Prometheus counters for the dictation pipeline.
// All Record methods are safe on a nil *Metrics, so components can run
// without a registry.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Cycle outcomes used as the "outcome" label.
const (
	OutcomeSuccess  = "success"
	OutcomeEmpty    = "empty"
	OutcomeTooLong  = "too_long"
	OutcomeTooQuiet = "too_quiet"
	OutcomeBadRate  = "bad_rate"
	OutcomeNoModel  = "no_model"
	OutcomeFailed   = "failed"
	OutcomeBusy     = "busy"
)

// Metrics contains all Prometheus metrics for the dictation pipeline.
type Metrics struct {
	registry *prometheus.Registry

	RecordingsStarted prometheus.Counter
	RecordingsStopped *prometheus.CounterVec
	RecordingDuration prometheus.Histogram
	Cycles            *prometheus.CounterVec
	InferenceDuration prometheus.Histogram
	CycleDuration     prometheus.Histogram
	HistoryEntries    prometheus.Gauge
	ModelSwaps        prometheus.Counter
	InjectionFailures prometheus.Counter
}

// New creates and registers all metrics on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,

		RecordingsStarted: f.NewCounter(prometheus.CounterOpts{
			Name: "quicktranscribe_recordings_started_total",
			Help: "Total number of recordings started",
		}),
		RecordingsStopped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "quicktranscribe_recordings_stopped_total",
			Help: "Total number of recordings stopped, by reason",
		}, []string{"reason"}),
		RecordingDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "quicktranscribe_recording_duration_seconds",
			Help:    "Length of captured audio",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10), // 0.5s to ~4 minutes
		}),
		Cycles: f.NewCounterVec(prometheus.CounterOpts{
			Name: "quicktranscribe_cycles_total",
			Help: "Transcription cycles by outcome",
		}, []string{"outcome"}),
		InferenceDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "quicktranscribe_inference_duration_seconds",
			Help:    "Time spent inside the speech model",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
		}),
		CycleDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "quicktranscribe_cycle_duration_seconds",
			Help:    "Wall-clock time from recording start to delivered text",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
		HistoryEntries: f.NewGauge(prometheus.GaugeOpts{
			Name: "quicktranscribe_history_entries",
			Help: "Current number of stored history entries",
		}),
		ModelSwaps: f.NewCounter(prometheus.CounterOpts{
			Name: "quicktranscribe_model_swaps_total",
			Help: "Total number of model loads after startup",
		}),
		InjectionFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "quicktranscribe_injection_failures_total",
			Help: "Total number of failed text injections",
		}),
	}
}

// Registry returns the registry the metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// RecordRecordingStarted increments the recordings started counter
func (m *Metrics) RecordRecordingStarted() {
	if m == nil {
		return
	}
	m.RecordingsStarted.Inc()
}

// RecordRecordingStopped counts a finished recording and its audio length
func (m *Metrics) RecordRecordingStopped(reason string, audio time.Duration) {
	if m == nil {
		return
	}
	m.RecordingsStopped.WithLabelValues(reason).Inc()
	m.RecordingDuration.Observe(audio.Seconds())
}

// RecordCycle counts a finished cycle by outcome
func (m *Metrics) RecordCycle(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Cycles.WithLabelValues(outcome).Inc()
	if outcome != OutcomeBusy {
		m.CycleDuration.Observe(elapsed.Seconds())
	}
}

// RecordInference observes one model call
func (m *Metrics) RecordInference(d time.Duration) {
	if m == nil {
		return
	}
	m.InferenceDuration.Observe(d.Seconds())
}

// SetHistoryEntries sets the history size gauge
func (m *Metrics) SetHistoryEntries(n int) {
	if m == nil {
		return
	}
	m.HistoryEntries.Set(float64(n))
}

// RecordModelSwap increments the model swap counter
func (m *Metrics) RecordModelSwap() {
	if m == nil {
		return
	}
	m.ModelSwaps.Inc()
}

// RecordInjectionFailure increments the injection failure counter
func (m *Metrics) RecordInjectionFailure() {
	if m == nil {
		return
	}
	m.InjectionFailures.Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics endpoint listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
