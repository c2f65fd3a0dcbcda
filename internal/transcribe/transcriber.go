// Package transcribe binds the whisper.cpp speech model.
//
// A Transcriber is one loaded model. Engine owns the current Transcriber,
// serializes every call into it and swaps models between calls.
package transcribe

import (
	"errors"
	"fmt"
)

// MinSamples is one second of 16 kHz audio. Shorter input is not sent to
// the model.
const MinSamples = 16000

// CodeUnknown is used when the backend fails without a numeric status.
const CodeUnknown = -1

var (
	// ErrModelNotFound means the model file does not exist.
	ErrModelNotFound = errors.New("transcribe: model not found")
	// ErrInitializationFailed means the backend refused to load the model.
	ErrInitializationFailed = errors.New("transcribe: model initialization failed")
	// ErrNoModel means no model is currently loaded.
	ErrNoModel = errors.New("transcribe: no model loaded")
	// ErrClosed means the engine has been shut down.
	ErrClosed = errors.New("transcribe: engine closed")
)

// TranscriptionFailedError is a failed inference call. The model stays
// usable afterwards.
type TranscriptionFailedError struct {
	Code int
	Err  error
}

func (e *TranscriptionFailedError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("transcribe: inference failed with code %d", e.Code)
	}
	return fmt.Sprintf("transcribe: inference failed with code %d: %v", e.Code, e.Err)
}

func (e *TranscriptionFailedError) Unwrap() error { return e.Err }

// Transcriber converts audio samples to text. Implementations are not safe
// for concurrent use; Engine serializes access.
type Transcriber interface {
	// Process transcribes mono 16kHz float32 audio samples to text.
	Process(samples []float32) (string, error)
	// Close releases backend resources.
	Close() error
}

// Loader opens a Transcriber for a model file.
type Loader func(path string) (Transcriber, error)
