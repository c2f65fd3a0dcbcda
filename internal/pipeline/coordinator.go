// Package pipeline runs one capture-to-text cycle at a time: it validates
// a finished recording, resamples it to 16 kHz and hands it to the engine,
// then delivers the text, or a short placeholder when the cycle could not
// produce any, to a single consumer.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/chaz8081/quicktranscribe/internal/audio"
	"github.com/chaz8081/quicktranscribe/internal/metrics"
	"github.com/chaz8081/quicktranscribe/internal/transcribe"
)

const (
	// MaxSamples is the exclusive upper bound on clip length (~3 minutes at
	// 48 kHz), independent of the capture session's own ceiling.
	MaxSamples = 10_000_000

	// SilenceThreshold is the peak amplitude at or below which a clip is
	// treated as silence.
	SilenceThreshold = 0.0001
)

var (
	ErrBusy              = errors.New("pipeline: transcription already in progress")
	ErrEmptyAudio        = errors.New("pipeline: no audio captured")
	ErrAudioTooLong      = errors.New("pipeline: recording too long")
	ErrAudioTooQuiet     = errors.New("pipeline: audio too quiet")
	ErrInvalidSampleRate = errors.New("pipeline: invalid sample rate")
)

// Placeholder texts delivered when a cycle yields no transcription.
const (
	PlaceholderEmpty    = "[No audio captured]"
	PlaceholderTooLong  = "[Recording too long]"
	PlaceholderTooQuiet = "[Audio too quiet]"
	PlaceholderBadRate  = "[Unsupported audio format]"
	PlaceholderNoModel  = "[No speech model installed]"
	PlaceholderFailed   = "[Transcription failed]"
)

// State is the coordinator's position in a cycle.
type State int

const (
	StateReady State = iota
	StateValidating
	StateResampling
	StateTranscribing
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateValidating:
		return "validating"
	case StateResampling:
		return "resampling"
	case StateTranscribing:
		return "transcribing"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Engine transcribes 16 kHz mono samples.
type Engine interface {
	Transcribe(ctx context.Context, samples []float32) (string, error)
}

// Result is delivered once per cycle.
type Result struct {
	Text string

	// Duration is wall-clock time from recording start to the end of
	// transcription, not the audio length.
	Duration   time.Duration
	Audio      time.Duration
	SampleRate float64

	// Placeholder is set when Text is a placeholder rather than a
	// transcription. Err then holds the cause.
	Placeholder bool
	Err         error
}

// Options configures a Coordinator.
type Options struct {
	Logger  *slog.Logger
	Metrics *metrics.Metrics

	// Now overrides the clock used for Result.Duration.
	Now func() time.Time
}

// Coordinator admits one cycle at a time. It does not rely on callers to
// avoid overlapping deliveries: a clip handed over while a cycle is running
// is dropped with ErrBusy.
type Coordinator struct {
	engine  Engine
	deliver func(Result)
	log     *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	mu    sync.Mutex
	state State
}

// New creates a coordinator that sends each cycle's Result to deliver.
func New(engine Engine, deliver func(Result), opts Options) *Coordinator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Coordinator{
		engine:  engine,
		deliver: deliver,
		log:     logger.With("component", "pipeline"),
		metrics: opts.Metrics,
		now:     now,
	}
}

// State returns the current cycle state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Coordinator) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// begin moves Ready -> Validating, or reports false if a cycle is running.
func (c *Coordinator) begin() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateReady {
		return false
	}
	c.state = StateValidating
	return true
}

// Handle runs one full cycle for clip and blocks until the result has been
// delivered. It returns ErrBusy without delivering if another cycle is in
// flight; otherwise it returns the cycle's error, if any, after delivery.
func (c *Coordinator) Handle(ctx context.Context, clip audio.Clip) error {
	if !c.begin() {
		c.log.Warn("ignoring captured audio while a transcription is in progress", "samples", len(clip.Samples))
		c.metrics.RecordCycle(metrics.OutcomeBusy, 0)
		return ErrBusy
	}
	defer c.setState(StateReady)

	started := clip.StartedAt
	if started.IsZero() {
		started = c.now()
	}

	res := Result{
		Audio:      clip.Duration(),
		SampleRate: clip.SampleRate,
	}

	if err := Validate(clip.Samples, clip.SampleRate); err != nil {
		c.log.Info("recording rejected", "reason", err, "samples", len(clip.Samples), "sample_rate", clip.SampleRate)
		return c.fail(res, started, err)
	}

	c.setState(StateResampling)
	samples := audio.Resample(clip.Samples, clip.SampleRate)

	c.setState(StateTranscribing)
	c.log.Debug("transcribing", "audio", res.Audio.Round(time.Millisecond), "samples", len(samples))
	inferStart := time.Now()
	text, err := c.engine.Transcribe(ctx, samples)
	c.metrics.RecordInference(time.Since(inferStart))
	if err != nil {
		c.log.Error("transcription failed", "err", err)
		return c.fail(res, started, err)
	}

	res.Text = text
	res.Duration = c.now().Sub(started)
	c.log.Info("transcribed", "elapsed", res.Duration.Round(time.Millisecond), "chars", len(text))
	outcome := metrics.OutcomeSuccess
	if text == "" {
		outcome = metrics.OutcomeEmpty
	}
	c.metrics.RecordCycle(outcome, res.Duration)
	c.emit(res)
	return nil
}

func (c *Coordinator) fail(res Result, started time.Time, err error) error {
	res.Text = Placeholder(err)
	res.Placeholder = true
	res.Err = err
	res.Duration = c.now().Sub(started)
	c.metrics.RecordCycle(outcomeFor(err), res.Duration)
	c.emit(res)
	return err
}

func (c *Coordinator) emit(res Result) {
	if c.deliver != nil {
		c.deliver(res)
	}
}

// Validate checks a clip before it reaches the resampler.
func Validate(samples []float32, sampleRate float64) error {
	if len(samples) == 0 {
		return ErrEmptyAudio
	}
	if len(samples) >= MaxSamples {
		return fmt.Errorf("%w: %d samples", ErrAudioTooLong, len(samples))
	}
	if sampleRate <= 0 || math.IsNaN(sampleRate) || math.IsInf(sampleRate, 0) {
		return fmt.Errorf("%w: %v", ErrInvalidSampleRate, sampleRate)
	}
	if peak(samples) <= SilenceThreshold {
		return ErrAudioTooQuiet
	}
	return nil
}

func peak(samples []float32) float32 {
	var p float32
	for _, s := range samples {
		if s < 0 {
			s = -s
		}
		if s > p {
			p = s
		}
	}
	return p
}

// Placeholder returns the text shown to the user for a failed cycle.
func Placeholder(err error) string {
	switch {
	case errors.Is(err, ErrEmptyAudio):
		return PlaceholderEmpty
	case errors.Is(err, ErrAudioTooLong):
		return PlaceholderTooLong
	case errors.Is(err, ErrAudioTooQuiet):
		return PlaceholderTooQuiet
	case errors.Is(err, ErrInvalidSampleRate):
		return PlaceholderBadRate
	case errors.Is(err, transcribe.ErrNoModel), errors.Is(err, transcribe.ErrModelNotFound),
		errors.Is(err, transcribe.ErrInitializationFailed):
		return PlaceholderNoModel
	default:
		return PlaceholderFailed
	}
}

func outcomeFor(err error) string {
	switch {
	case errors.Is(err, ErrEmptyAudio):
		return metrics.OutcomeEmpty
	case errors.Is(err, ErrAudioTooLong):
		return metrics.OutcomeTooLong
	case errors.Is(err, ErrAudioTooQuiet):
		return metrics.OutcomeTooQuiet
	case errors.Is(err, ErrInvalidSampleRate):
		return metrics.OutcomeBadRate
	case errors.Is(err, transcribe.ErrNoModel):
		return metrics.OutcomeNoModel
	default:
		return metrics.OutcomeFailed
	}
}
