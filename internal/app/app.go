// Package app assembles the dictation pipeline: hotkey events drive the
// capture session, finished clips go through the coordinator, and
// transcriptions land in history and the focused application.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/chaz8081/quicktranscribe/internal/audio"
	"github.com/chaz8081/quicktranscribe/internal/config"
	"github.com/chaz8081/quicktranscribe/internal/history"
	"github.com/chaz8081/quicktranscribe/internal/hotkey"
	"github.com/chaz8081/quicktranscribe/internal/inject"
	"github.com/chaz8081/quicktranscribe/internal/metrics"
	"github.com/chaz8081/quicktranscribe/internal/models"
	"github.com/chaz8081/quicktranscribe/internal/pipeline"
	"github.com/chaz8081/quicktranscribe/internal/settings"
	"github.com/chaz8081/quicktranscribe/internal/transcribe"
)

// Deps are the collaborators the app drives. Nil fields are built from the
// config, except Input which is required.
type Deps struct {
	Input    audio.Input
	Hotkeys  hotkey.Source
	Injector inject.TextInjector
	Settings settings.Store
	Loader   transcribe.Loader
	Locator  *models.Locator
	Metrics  *metrics.Metrics
	Logger   *slog.Logger

	// OnResult observes every delivered result, placeholders included.
	OnResult func(pipeline.Result)
}

// App is the assembled runtime graph.
type App struct {
	cfg      *config.Config
	engine   *transcribe.Engine
	session  *audio.Session
	coord    *pipeline.Coordinator
	history  *history.Store
	hotkeys  hotkey.Source
	injector inject.TextInjector
	settings settings.Store
	metrics  *metrics.Metrics
	onResult func(pipeline.Result)
	log      *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// New wires all dependencies. No model is loaded until LoadModel.
func New(cfg *config.Config, deps Deps) (*App, error) {
	if deps.Input == nil {
		return nil, errors.New("app: audio input is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if deps.Settings == nil {
		deps.Settings = settings.Open(cfg.History.SettingsPath, logger)
	}
	if deps.Loader == nil {
		deps.Loader = transcribe.WhisperLoader(transcribe.WhisperOptions{Language: cfg.Transcribe.Language})
	}
	if deps.Locator == nil {
		deps.Locator = models.NewLocator(config.DefaultModelsDir(), cfg.Transcribe.ModelDirs...)
	}
	if deps.Injector == nil {
		deps.Injector = inject.NewInjector(cfg.Inject.Method)
	}

	ctx, cancel := context.WithCancel(context.Background())
	a := &App{
		cfg:      cfg,
		engine:   transcribe.NewEngine(deps.Loader, deps.Locator, logger),
		history:  history.Open(deps.Settings, cfg.History.Capacity, logger),
		injector: deps.Injector,
		settings: deps.Settings,
		metrics:  deps.Metrics,
		onResult: deps.OnResult,
		log:      logger.With("component", "app"),
		ctx:      ctx,
		cancel:   cancel,
	}
	a.session = audio.NewSession(deps.Input, a.handleClip, audio.SessionOptions{
		MaxDuration: cfg.MaxDuration(),
		Logger:      logger,
	})
	a.hotkeys = deps.Hotkeys
	if a.hotkeys == nil {
		l := hotkey.NewListener(cfg.Hotkey.Keys, cfg.Hotkey.Mode, cfg.Hotkey.CancelKey, logger)
		l.TrackRecording(a.session.IsRecording)
		a.hotkeys = l
	}
	a.coord = pipeline.New(a.engine, a.handleResult, pipeline.Options{
		Logger:  logger,
		Metrics: deps.Metrics,
	})
	a.metrics.SetHistoryEntries(a.history.Len())
	return a, nil
}

// History returns the transcription history.
func (a *App) History() *history.Store { return a.history }

// Session returns the capture session.
func (a *App) Session() *audio.Session { return a.session }

// Engine returns the inference engine.
func (a *App) Engine() *transcribe.Engine { return a.engine }

// LoadModel loads the initial model: an explicit model_path wins, then the
// tier saved in settings, then the configured tier. A failure is returned
// but leaves the app usable; cycles deliver a placeholder until a model
// loads.
func (a *App) LoadModel(ctx context.Context) error {
	if path := a.cfg.Transcribe.ModelPath; path != "" {
		if err := a.engine.Load(ctx, path); err != nil {
			return fmt.Errorf("app: load model %s: %w", path, err)
		}
		return nil
	}

	tier, err := models.ParseTier(a.cfg.Transcribe.ModelTier)
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}
	if saved, ok := a.settings.Get(settings.KeyModelTier); ok {
		if t, err := models.ParseTier(string(saved)); err == nil {
			tier = t
		} else {
			a.log.Warn("ignoring saved model tier", "value", string(saved), "err", err)
		}
	}

	if _, err := a.engine.SetModelTier(ctx, tier); err != nil {
		return fmt.Errorf("app: load %s model: %w", tier, err)
	}
	return nil
}

// SetModelTier swaps to tier once any in-flight transcription finishes and
// remembers the choice. It returns the tier actually loaded.
func (a *App) SetModelTier(ctx context.Context, tier models.Tier) (models.Tier, error) {
	loaded, err := a.engine.SetModelTier(ctx, tier)
	if err != nil {
		return "", err
	}
	a.metrics.RecordModelSwap()
	if err := a.settings.Set(settings.KeyModelTier, []byte(tier)); err != nil {
		a.log.Error("saving model tier", "tier", tier, "err", err)
	}
	return loaded, nil
}

// StartRecording begins a capture. It is a no-op while already recording.
func (a *App) StartRecording() error {
	if a.session.IsRecording() {
		return nil
	}
	if err := a.session.Start(); err != nil {
		return err
	}
	a.metrics.RecordRecordingStarted()
	a.log.Info("recording...")
	return nil
}

// StopRecording ends the capture; the clip is transcribed in the background.
func (a *App) StopRecording() {
	a.session.Stop()
}

// Run routes hotkey events until ctx is cancelled or the hotkey source
// stops. Cycles still in flight finish before Run returns.
func (a *App) Run(ctx context.Context) error {
	go a.hotkeys.Start()
	defer a.hotkeys.Stop()

	a.log.Info("ready", "hotkey", strings.Join(a.cfg.Hotkey.Keys, "+"), "mode", a.cfg.Hotkey.Mode)

	events := a.hotkeys.Events()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				a.log.Info("hotkey listener stopped")
				a.shutdown()
				return nil
			}
			a.handleEvent(ev)
		case <-ctx.Done():
			a.shutdown()
			return nil
		}
	}
}

func (a *App) handleEvent(ev hotkey.Event) {
	switch ev.Type {
	case hotkey.EventStart:
		if err := a.StartRecording(); err != nil {
			a.log.Error("failed to start recording", "err", err)
		}
	case hotkey.EventStop:
		a.StopRecording()
	case hotkey.EventCancel:
		if a.session.IsRecording() {
			a.log.Info("recording cancelled, transcribing captured audio")
		}
		a.StopRecording()
	}
}

// shutdown stops any recording and waits for its cycle to finish.
func (a *App) shutdown() {
	a.session.Stop()
	a.Wait()
}

// Wait blocks until every finished recording has completed its cycle.
func (a *App) Wait() {
	a.session.Wait()
}

// Close stops recording, waits for in-flight work and releases the model.
func (a *App) Close() error {
	a.shutdown()
	a.cancel()
	return a.engine.Close()
}

// handleClip receives each finished recording from the session.
func (a *App) handleClip(clip audio.Clip) {
	a.metrics.RecordRecordingStopped(string(clip.Reason), clip.Duration())
	a.log.Info("captured audio", "audio", clip.Duration().Round(100*time.Millisecond), "reason", clip.Reason)

	if dir := a.cfg.Debug.SaveRecordingsDir; dir != "" && len(clip.Samples) > 0 {
		name := "recording-" + clip.StartedAt.Format("20060102-150405.000") + ".wav"
		path := filepath.Join(dir, name)
		if err := audio.WriteWAV(path, clip.Samples, clip.SampleRate); err != nil {
			a.log.Warn("saving recording", "path", path, "err", err)
		} else {
			a.log.Debug("saved recording", "path", path)
		}
	}

	if err := a.coord.Handle(a.ctx, clip); errors.Is(err, pipeline.ErrBusy) {
		a.log.Warn("dropped recording: previous transcription still running")
	}
}

// handleResult receives each cycle's outcome from the coordinator.
// Placeholders are reported but never typed or stored.
func (a *App) handleResult(res pipeline.Result) {
	defer func() {
		if a.onResult != nil {
			a.onResult(res)
		}
	}()

	if res.Placeholder {
		a.log.Warn("no transcription", "result", res.Text, "err", res.Err)
		return
	}
	if res.Text == "" {
		a.log.Info("no speech detected", "elapsed", res.Duration.Round(time.Millisecond))
		return
	}

	a.history.Append(history.NewEntry(res.Text, res.Duration, res.SampleRate))
	a.metrics.SetHistoryEntries(a.history.Len())

	if err := a.injector.Inject(res.Text); err != nil {
		a.metrics.RecordInjectionFailure()
		a.log.Error("text injection failed", "err", err)
		return
	}
	a.log.Debug("text injected", "chars", len(res.Text))
}
