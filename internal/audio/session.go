package audio

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// MaxSessionSamples is the hard ceiling on samples accumulated in one
// recording (~1.5 minutes at 48 kHz). Reaching it stops the session.
const MaxSessionSamples = 5_000_000

// State is the capture session lifecycle state.
type State int

const (
	StateIdle State = iota
	StateRecording
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// StopReason records why a recording ended.
type StopReason string

const (
	StopExplicit StopReason = "explicit"
	StopTimeout  StopReason = "timeout"
	StopCeiling  StopReason = "ceiling"
)

// Clip is one finished recording. It is not modified after delivery.
type Clip struct {
	Samples    []float32
	SampleRate float64
	StartedAt  time.Time
	StoppedAt  time.Time
	Reason     StopReason
}

// Duration returns the audio length of the clip.
func (c Clip) Duration() time.Duration {
	if c.SampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(len(c.Samples)) / c.SampleRate * float64(time.Second))
}

// SessionOptions configures a Session.
type SessionOptions struct {
	// MaxDuration stops the recording after this long. Zero disables the timer.
	MaxDuration time.Duration
	// MaxSamples overrides MaxSessionSamples when positive.
	MaxSamples int
	Logger     *slog.Logger
}

// Session records one clip at a time from an Input and hands each finished
// clip to a single consumer.
type Session struct {
	input   Input
	deliver func(Clip)
	opts    SessionOptions
	log     *slog.Logger

	levels chan float32
	level  atomic.Uint32 // float32 bits of the last published level

	mu        sync.Mutex
	state     State
	cycle     uint64
	buf       []float32
	rate      float64
	startedAt time.Time
	timer     *time.Timer

	// inflight counts clips handed to deliver that have not returned yet.
	inflight int
	drained  *sync.Cond
}

// NewSession creates an idle session. deliver is called once per recording,
// on its own goroutine.
func NewSession(input Input, deliver func(Clip), opts SessionOptions) *Session {
	if opts.MaxSamples <= 0 {
		opts.MaxSamples = MaxSessionSamples
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	s := &Session{
		input:   input,
		deliver: deliver,
		opts:    opts,
		log:     log.With("component", "capture"),
		levels:  make(chan float32, 16),
	}
	s.drained = sync.NewCond(&s.mu)
	return s
}

// Start begins recording. It is a no-op if a recording is already active.
func (s *Session) Start() error {
	s.mu.Lock()
	if s.state == StateRecording {
		s.mu.Unlock()
		return nil
	}
	s.cycle++
	cycle := s.cycle
	s.buf = nil
	s.rate = 0
	s.state = StateRecording
	s.startedAt = time.Now()
	s.mu.Unlock()

	rate, err := s.input.Open(func(samples []float32) { s.onFrame(cycle, samples) })
	if err != nil {
		s.mu.Lock()
		if s.cycle == cycle {
			s.state = StateIdle
		}
		s.mu.Unlock()
		return fmt.Errorf("audio: start capture: %w", err)
	}

	s.mu.Lock()
	if s.cycle != cycle || s.state != StateRecording {
		// Stopped while the device was opening. The close in stop may have
		// run before the open finished, so close again unless a newer
		// recording owns the device.
		owned := s.cycle == cycle
		s.mu.Unlock()
		if owned {
			if err := s.input.Close(); err != nil {
				s.log.Warn("closing capture device", "err", err)
			}
		}
		return nil
	}
	defer s.mu.Unlock()
	s.rate = rate
	if s.opts.MaxDuration > 0 {
		s.timer = time.AfterFunc(s.opts.MaxDuration, func() { s.stop(cycle, StopTimeout) })
	}
	s.log.Debug("recording started", "sample_rate", rate, "max_duration", s.opts.MaxDuration)
	return nil
}

// Stop ends the recording and delivers the clip. It is a no-op when idle.
func (s *Session) Stop() {
	s.mu.Lock()
	cycle := s.cycle
	s.mu.Unlock()
	s.stop(cycle, StopExplicit)
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsRecording reports whether a recording is active.
func (s *Session) IsRecording() bool {
	return s.State() == StateRecording
}

// Level returns the most recent mean absolute level.
func (s *Session) Level() float32 {
	return math.Float32frombits(s.level.Load())
}

// Levels streams level updates. Updates are dropped when the reader lags.
func (s *Session) Levels() <-chan float32 {
	return s.levels
}

// stop finishes the given cycle exactly once. Stale timer or ceiling
// triggers from an earlier cycle are ignored.
func (s *Session) stop(cycle uint64, reason StopReason) {
	s.mu.Lock()
	if s.state != StateRecording || s.cycle != cycle {
		s.mu.Unlock()
		return
	}
	s.state = StateIdle
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	clip := Clip{
		Samples:    s.buf,
		SampleRate: s.rate,
		StartedAt:  s.startedAt,
		StoppedAt:  time.Now(),
		Reason:     reason,
	}
	if clip.SampleRate <= 0 && len(clip.Samples) > 0 {
		// Stopped before the device reported its rate; the frames cannot be
		// interpreted.
		s.log.Debug("discarding frames captured while the device was opening", "samples", len(clip.Samples))
		clip.Samples = nil
	}
	if clip.Samples == nil {
		clip.Samples = []float32{}
	}
	s.buf = nil
	if s.deliver != nil {
		s.inflight++
	}
	s.mu.Unlock()

	// Close outside the lock: the device waits for an in-progress callback,
	// which may itself be waiting on s.mu.
	if err := s.input.Close(); err != nil {
		s.log.Warn("closing capture device", "err", err)
	}

	s.log.Debug("recording stopped", "reason", reason, "samples", len(clip.Samples), "audio", clip.Duration().Round(time.Millisecond))

	if s.deliver != nil {
		go func() {
			defer s.done()
			s.deliver(clip)
		}()
	}
}

func (s *Session) done() {
	s.mu.Lock()
	s.inflight--
	if s.inflight == 0 {
		s.drained.Broadcast()
	}
	s.mu.Unlock()
}

// Wait blocks until every clip handed to the consumer so far has been
// processed. It may be called concurrently with Stop and more than once.
func (s *Session) Wait() {
	s.mu.Lock()
	for s.inflight > 0 {
		s.drained.Wait()
	}
	s.mu.Unlock()
}

// onFrame runs on the audio callback thread.
func (s *Session) onFrame(cycle uint64, samples []float32) {
	s.mu.Lock()
	if s.state != StateRecording || s.cycle != cycle {
		s.mu.Unlock()
		return
	}
	if len(s.buf) > s.opts.MaxSamples {
		// Over the ceiling; the stop is already on its way.
		s.mu.Unlock()
		return
	}
	s.buf = append(s.buf, samples...)
	full := len(s.buf) > s.opts.MaxSamples
	s.mu.Unlock()

	lvl := meanAbs(samples)
	s.level.Store(math.Float32bits(lvl))
	select {
	case s.levels <- lvl:
	default:
	}

	if full {
		// The device cannot be closed from inside its own callback.
		go s.stop(cycle, StopCeiling)
	}
}
