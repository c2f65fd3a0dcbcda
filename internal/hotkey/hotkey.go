// Package hotkey provides a global hotkey listener using gohook.
// It supports "hold" mode (press to start, release to stop) and
// "toggle" mode (press to start, press again to stop), plus a cancel key
// that ends an active recording early.
package hotkey

import (
	"log/slog"
	"strings"
	"sync"

	hook "github.com/robotn/gohook"
)

// EventType indicates what the recorder should do.
type EventType int

const (
	// EventStart signals that the hotkey was activated (start recording).
	EventStart EventType = iota
	// EventStop signals that the hotkey was deactivated (stop recording).
	EventStop
	// EventCancel signals the cancel key while recording. The captured
	// audio is still transcribed.
	EventCancel
)

func (t EventType) String() string {
	switch t {
	case EventStart:
		return "start"
	case EventStop:
		return "stop"
	case EventCancel:
		return "cancel"
	default:
		return "unknown"
	}
}

// Event is emitted on the channel returned by Events.
type Event struct {
	Type EventType
}

// Source produces hotkey events until stopped.
type Source interface {
	Events() <-chan Event
	Start()
	Stop()
}

// dispatcher turns raw key transitions into start/stop/cancel events.
// It tracks whether a recording is active so toggle presses alternate and
// the cancel key is ignored while idle.
type dispatcher struct {
	mode string
	ch   chan Event
	log  *slog.Logger

	mu     sync.Mutex
	active bool
	// recording, when set, reports whether the recorder is still running.
	// Recordings can end without a key press (timeout, size limit).
	recording func() bool
}

func newDispatcher(mode string, logger *slog.Logger) *dispatcher {
	return &dispatcher{
		mode: mode,
		ch:   make(chan Event, 16),
		log:  logger,
	}
}

func (d *dispatcher) emit(t EventType) {
	select {
	case d.ch <- Event{Type: t}:
	default: // don't block the hook thread if the channel is full
		d.log.Warn("dropping hotkey event", "event", t)
	}
}

func (d *dispatcher) keyDown() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.mode == "toggle" && d.active {
		d.active = false
		if d.recording == nil || d.recording() {
			d.emit(EventStop)
			return
		}
		// The recording already ended on its own; this press starts the next.
	}
	if d.active {
		// Key repeat while held.
		return
	}
	d.active = true
	d.emit(EventStart)
}

func (d *dispatcher) keyUp() {
	if d.mode == "toggle" {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.active {
		return
	}
	d.active = false
	d.emit(EventStop)
}

func (d *dispatcher) cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.active {
		return
	}
	d.active = false
	d.emit(EventCancel)
}

// Listener manages a global hotkey and emits start/stop/cancel events.
type Listener struct {
	keys      []string
	cancelKey string
	d         *dispatcher
	log       *slog.Logger
	done      chan struct{}
	once      sync.Once
}

// NewListener creates a Listener for the given key combo and mode.
// keys should be lowercase key names (e.g., ["ctrl", "shift", "r"]).
// mode must be "hold" or "toggle". An empty cancelKey disables cancel.
func NewListener(keys []string, mode, cancelKey string, logger *slog.Logger) *Listener {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "hotkey")
	return &Listener{
		keys:      keys,
		cancelKey: strings.ToLower(cancelKey),
		d:         newDispatcher(mode, logger),
		log:       logger,
		done:      make(chan struct{}),
	}
}

// TrackRecording lets toggle mode consult fn before emitting a stop, so a
// press after a recording ended on its own starts a new one instead.
// Call it before Start.
func (l *Listener) TrackRecording(fn func() bool) {
	l.d.mu.Lock()
	l.d.recording = fn
	l.d.mu.Unlock()
}

// Events returns the channel that receives hotkey events.
// The channel is closed when the listener stops.
func (l *Listener) Events() <-chan Event {
	return l.d.ch
}

// Start begins listening for the global hotkey.
// This function blocks until Stop is called. Run it in a goroutine.
func (l *Listener) Start() {
	hook.Register(hook.KeyDown, l.keys, func(hook.Event) { l.d.keyDown() })
	if l.d.mode != "toggle" {
		hook.Register(hook.KeyUp, l.keys, func(hook.Event) { l.d.keyUp() })
	}
	if l.cancelKey != "" {
		hook.Register(hook.KeyDown, []string{l.cancelKey}, func(hook.Event) { l.d.cancel() })
	}

	l.log.Debug("hook registered", "keys", strings.Join(l.keys, "+"), "mode", l.d.mode, "cancel", l.cancelKey)

	evChan := hook.Start()
	go func() {
		<-l.done
		hook.End()
	}()
	<-hook.Process(evChan)
	close(l.d.ch)
}

// Stop terminates the hotkey listener.
// It is safe to call multiple times.
func (l *Listener) Stop() {
	l.once.Do(func() {
		close(l.done)
	})
}
