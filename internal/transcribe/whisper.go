package transcribe

import (
	"fmt"
	"io"
	"runtime"
	"strings"

	whisper "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
	"github.com/tklauser/numcpus"
)

// WhisperOptions tunes decoding.
type WhisperOptions struct {
	Language string // "" means "en"
	Threads  uint   // 0 means ThreadCount()
}

// WhisperTranscriber wraps a whisper.cpp model for speech-to-text.
type WhisperTranscriber struct {
	model whisper.Model
	opts  WhisperOptions
}

var _ Transcriber = (*WhisperTranscriber)(nil)

// NewWhisperTranscriber loads a whisper model from the given path.
// The caller must call Close() when done.
func NewWhisperTranscriber(modelPath string, opts WhisperOptions) (*WhisperTranscriber, error) {
	if opts.Language == "" {
		opts.Language = "en"
	}
	if opts.Threads == 0 {
		opts.Threads = ThreadCount()
	}
	model, err := whisper.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("transcribe: load whisper model %q: %w", modelPath, err)
	}
	return &WhisperTranscriber{model: model, opts: opts}, nil
}

// WhisperLoader returns a Loader producing WhisperTranscribers.
func WhisperLoader(opts WhisperOptions) Loader {
	return func(path string) (Transcriber, error) {
		return NewWhisperTranscriber(path, opts)
	}
}

// Close releases the whisper model resources.
func (t *WhisperTranscriber) Close() error {
	if t.model != nil {
		err := t.model.Close()
		t.model = nil
		return err
	}
	return nil
}

// Process transcribes mono 16kHz float32 audio samples to text using greedy,
// zero-temperature decoding without timestamps or translation.
func (t *WhisperTranscriber) Process(samples []float32) (string, error) {
	ctx, err := t.model.NewContext()
	if err != nil {
		return "", &TranscriptionFailedError{Code: CodeUnknown, Err: fmt.Errorf("create context: %w", err)}
	}

	if err := ctx.SetLanguage(t.opts.Language); err != nil {
		return "", fmt.Errorf("transcribe: set language %q: %w", t.opts.Language, err)
	}
	ctx.SetTranslate(false)
	ctx.SetTokenTimestamps(false)
	ctx.SetTemperature(0)
	ctx.SetThreads(t.opts.Threads)

	if err := ctx.Process(samples, nil, nil, nil); err != nil {
		return "", &TranscriptionFailedError{Code: CodeUnknown, Err: err}
	}

	var segments []string
	for {
		seg, err := ctx.NextSegment()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("transcribe: next segment: %w", err)
		}
		segments = append(segments, strings.TrimSpace(seg.Text))
	}

	return strings.TrimSpace(strings.Join(segments, " ")), nil
}

// ThreadCount leaves two cores for the rest of the system, using between
// one and eight inference threads.
func ThreadCount() uint {
	n, err := numcpus.GetOnline()
	if err != nil || n <= 0 {
		n = runtime.NumCPU()
	}
	return threadsFor(n)
}

func threadsFor(cores int) uint {
	return uint(min(max(cores-2, 1), 8))
}
