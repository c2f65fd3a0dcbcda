package transcribe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/chaz8081/quicktranscribe/internal/models"
)

// Engine owns the loaded model and admits one caller at a time. Every call
// into the backend, and every load, swap or release of the model, holds the
// single slot, so a swap waits for the in-flight transcription to finish.
type Engine struct {
	load    Loader
	locator *models.Locator
	log     *slog.Logger

	slot chan struct{}

	// Guarded by slot.
	handle Transcriber
	path   string
	tier   models.Tier
	closed bool

	busy atomic.Bool
}

// NewEngine creates an engine with no model loaded. locator may be nil if
// SetModelTier is never used.
func NewEngine(load Loader, locator *models.Locator, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		load:    load,
		locator: locator,
		log:     logger.With("component", "engine"),
		slot:    make(chan struct{}, 1),
	}
}

func (e *Engine) acquire(ctx context.Context) error {
	select {
	case e.slot <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) release() { <-e.slot }

// Load replaces the current model with the one at path.
func (e *Engine) Load(ctx context.Context, path string) error {
	if err := e.acquire(ctx); err != nil {
		return err
	}
	defer e.release()
	return e.swapLocked(path, "")
}

// SetModelTier resolves tier through the locator and swaps to that model,
// waiting for any in-flight transcription first. It returns the tier that
// was actually loaded, which differs from tier when a fallback was used.
func (e *Engine) SetModelTier(ctx context.Context, tier models.Tier) (models.Tier, error) {
	if e.locator == nil {
		return "", fmt.Errorf("transcribe: no model locator configured")
	}
	path, found, err := e.locator.Resolve(tier)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrModelNotFound, err)
	}
	if found != tier {
		e.log.Warn("requested model tier not installed, using fallback", "requested", tier, "using", found)
	}

	if err := e.acquire(ctx); err != nil {
		return "", err
	}
	defer e.release()
	if err := e.swapLocked(path, found); err != nil {
		return "", err
	}
	return found, nil
}

// swapLocked releases the current handle and loads path. The caller holds
// the slot. On failure the engine is left without a model.
func (e *Engine) swapLocked(path string, tier models.Tier) error {
	if e.closed {
		return ErrClosed
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("%w: %s", ErrModelNotFound, path)
	}

	if e.handle != nil {
		if err := e.handle.Close(); err != nil {
			e.log.Warn("releasing previous model", "path", e.path, "err", err)
		}
		e.handle = nil
		e.path = ""
		e.tier = ""
	}

	start := time.Now()
	h, err := e.load(path)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInitializationFailed, err)
	}
	e.handle = h
	e.path = path
	e.tier = tier
	e.log.Info("model loaded", "path", path, "tier", tier, "elapsed", time.Since(start).Round(time.Millisecond))
	return nil
}

// Transcribe runs one inference on 16 kHz mono samples. Input shorter than
// MinSamples returns "" without calling the model. Once the model has been
// entered the call runs to completion; ctx only bounds the wait for the slot.
func (e *Engine) Transcribe(ctx context.Context, samples []float32) (string, error) {
	if len(samples) < MinSamples {
		return "", nil
	}

	if err := e.acquire(ctx); err != nil {
		return "", err
	}
	defer e.release()

	if e.closed {
		return "", ErrClosed
	}
	if e.handle == nil {
		return "", ErrNoModel
	}

	e.busy.Store(true)
	defer e.busy.Store(false)

	text, err := e.handle.Process(samples)
	if err != nil {
		var failed *TranscriptionFailedError
		if errors.As(err, &failed) {
			return "", err
		}
		return "", &TranscriptionFailedError{Code: CodeUnknown, Err: err}
	}
	return text, nil
}

// Busy reports whether an inference call is running.
func (e *Engine) Busy() bool {
	return e.busy.Load()
}

// Loaded reports the current model path and tier; path is empty when no
// model is loaded. It waits for any in-flight call.
func (e *Engine) Loaded(ctx context.Context) (string, models.Tier, error) {
	if err := e.acquire(ctx); err != nil {
		return "", "", err
	}
	defer e.release()
	return e.path, e.tier, nil
}

// Close waits for the in-flight call, then releases the model. Further
// calls return ErrClosed. Close is idempotent.
func (e *Engine) Close() error {
	e.slot <- struct{}{}
	defer e.release()

	if e.closed {
		return nil
	}
	e.closed = true
	if e.handle == nil {
		return nil
	}
	err := e.handle.Close()
	e.handle = nil
	if err != nil {
		return fmt.Errorf("transcribe: release model: %w", err)
	}
	return nil
}
