package transcribe

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chaz8081/quicktranscribe/internal/models"
)

// fakeModel records how it is used. Process on a closed model is the
// use-after-free the engine must prevent.
type fakeModel struct {
	name    string
	delay   time.Duration
	text    string
	err     error
	entered chan struct{}

	active         *atomic.Int32
	maxActive      *atomic.Int32
	calls          atomic.Int32
	finished       atomic.Int32
	closed         atomic.Bool
	usedAfterClose atomic.Bool
}

func (m *fakeModel) Process(samples []float32) (string, error) {
	if m.closed.Load() {
		m.usedAfterClose.Store(true)
	}
	m.calls.Add(1)
	n := m.active.Add(1)
	defer m.active.Add(-1)
	for {
		cur := m.maxActive.Load()
		if n <= cur || m.maxActive.CompareAndSwap(cur, n) {
			break
		}
	}
	if m.entered != nil {
		select {
		case m.entered <- struct{}{}:
		default:
		}
	}
	time.Sleep(m.delay)
	if m.closed.Load() {
		m.usedAfterClose.Store(true)
	}
	m.finished.Add(1)
	return m.text, m.err
}

func (m *fakeModel) Close() error {
	m.closed.Store(true)
	return nil
}

// fakeLoader hands out fakeModels keyed by path base name.
type fakeLoader struct {
	mu        sync.Mutex
	active    atomic.Int32
	maxActive atomic.Int32
	models    map[string]*fakeModel
	loadErr   error
	delay     time.Duration
	text      string
	entered   chan struct{}
}

func newFakeLoader() *fakeLoader {
	return &fakeLoader{models: map[string]*fakeModel{}, text: "hello world"}
}

func (l *fakeLoader) load(path string) (Transcriber, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.loadErr != nil {
		return nil, l.loadErr
	}
	m := &fakeModel{
		name:      filepath.Base(path),
		delay:     l.delay,
		text:      l.text + " from " + filepath.Base(path),
		entered:   l.entered,
		active:    &l.active,
		maxActive: &l.maxActive,
	}
	l.models[m.name] = m
	return m, nil
}

func (l *fakeLoader) model(name string) *fakeModel {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.models[name]
}

func writeModelFile(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("ggml"), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func oneSecond() []float32 {
	return make([]float32, MinSamples)
}

func TestEngineLoadMissingFile(t *testing.T) {
	e := NewEngine(newFakeLoader().load, nil, nil)
	err := e.Load(context.Background(), "/nonexistent/model.bin")
	if !errors.Is(err, ErrModelNotFound) {
		t.Fatalf("Load() error = %v, want ErrModelNotFound", err)
	}
}

func TestEngineLoadInitFailure(t *testing.T) {
	loader := newFakeLoader()
	loader.loadErr = errors.New("corrupt file")
	e := NewEngine(loader.load, nil, nil)

	path := writeModelFile(t, t.TempDir(), "a.bin")
	err := e.Load(context.Background(), path)
	if !errors.Is(err, ErrInitializationFailed) {
		t.Fatalf("Load() error = %v, want ErrInitializationFailed", err)
	}
	if _, err := e.Transcribe(context.Background(), oneSecond()); !errors.Is(err, ErrNoModel) {
		t.Errorf("Transcribe() error = %v, want ErrNoModel", err)
	}
}

func TestEngineTranscribe(t *testing.T) {
	loader := newFakeLoader()
	e := NewEngine(loader.load, nil, nil)
	path := writeModelFile(t, t.TempDir(), "a.bin")
	if err := e.Load(context.Background(), path); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	text, err := e.Transcribe(context.Background(), oneSecond())
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if text != "hello world from a.bin" {
		t.Errorf("Transcribe() = %q", text)
	}

	got, _, err := e.Loaded(context.Background())
	if err != nil || got != path {
		t.Errorf("Loaded() = %q, %v; want %q", got, err, path)
	}
}

func TestEngineShortInputSkipsModel(t *testing.T) {
	loader := newFakeLoader()
	e := NewEngine(loader.load, nil, nil)
	if err := e.Load(context.Background(), writeModelFile(t, t.TempDir(), "a.bin")); err != nil {
		t.Fatal(err)
	}

	text, err := e.Transcribe(context.Background(), make([]float32, MinSamples-1))
	if err != nil || text != "" {
		t.Fatalf("Transcribe(short) = %q, %v; want \"\", nil", text, err)
	}
	if calls := loader.model("a.bin").calls.Load(); calls != 0 {
		t.Errorf("model called %d times for short input", calls)
	}
}

func TestEngineWrapsBackendFailure(t *testing.T) {
	loader := newFakeLoader()
	e := NewEngine(loader.load, nil, nil)
	if err := e.Load(context.Background(), writeModelFile(t, t.TempDir(), "a.bin")); err != nil {
		t.Fatal(err)
	}
	loader.model("a.bin").err = errors.New("whisper_full failed")

	_, err := e.Transcribe(context.Background(), oneSecond())
	var failed *TranscriptionFailedError
	if !errors.As(err, &failed) {
		t.Fatalf("Transcribe() error = %v, want TranscriptionFailedError", err)
	}
	if failed.Code != CodeUnknown {
		t.Errorf("Code = %d, want %d", failed.Code, CodeUnknown)
	}

	// The model stays usable.
	loader.model("a.bin").err = nil
	if _, err := e.Transcribe(context.Background(), oneSecond()); err != nil {
		t.Errorf("Transcribe() after failure error = %v", err)
	}
}

func TestEngineSerializesCallers(t *testing.T) {
	loader := newFakeLoader()
	loader.delay = 20 * time.Millisecond
	e := NewEngine(loader.load, nil, nil)
	if err := e.Load(context.Background(), writeModelFile(t, t.TempDir(), "a.bin")); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := e.Transcribe(context.Background(), oneSecond()); err != nil {
				t.Errorf("Transcribe() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if peak := loader.maxActive.Load(); peak != 1 {
		t.Errorf("max concurrent model calls = %d, want 1", peak)
	}
	if calls := loader.model("a.bin").calls.Load(); calls != 8 {
		t.Errorf("calls = %d, want 8", calls)
	}
}

func TestEngineTranscribeHonoursContextWhileWaiting(t *testing.T) {
	loader := newFakeLoader()
	loader.delay = 200 * time.Millisecond
	loader.entered = make(chan struct{}, 1)
	e := NewEngine(loader.load, nil, nil)
	if err := e.Load(context.Background(), writeModelFile(t, t.TempDir(), "a.bin")); err != nil {
		t.Fatal(err)
	}

	go func() { _, _ = e.Transcribe(context.Background(), oneSecond()) }()
	<-loader.entered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := e.Transcribe(ctx, oneSecond()); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Transcribe() error = %v, want deadline exceeded", err)
	}
}

func TestEngineSwapWaitsForInFlight(t *testing.T) {
	dir := t.TempDir()
	writeModelFile(t, dir, models.TierFast.FileName())
	writeModelFile(t, dir, models.TierAccurate.FileName())

	loader := newFakeLoader()
	loader.delay = 150 * time.Millisecond
	loader.entered = make(chan struct{}, 1)
	e := NewEngine(loader.load, &models.Locator{Dirs: []string{dir}}, nil)

	if _, err := e.SetModelTier(context.Background(), models.TierFast); err != nil {
		t.Fatalf("SetModelTier(fast) error = %v", err)
	}
	modelA := loader.model(models.TierFast.FileName())

	done := make(chan string, 1)
	go func() {
		text, err := e.Transcribe(context.Background(), oneSecond())
		if err != nil {
			t.Errorf("Transcribe() error = %v", err)
		}
		done <- text
	}()
	<-loader.entered

	tier, err := e.SetModelTier(context.Background(), models.TierAccurate)
	if err != nil {
		t.Fatalf("SetModelTier(accurate) error = %v", err)
	}
	if tier != models.TierAccurate {
		t.Errorf("loaded tier = %q, want accurate", tier)
	}

	// The swap returned, so the in-flight call must already have finished
	// against model A.
	if modelA.finished.Load() != 1 {
		t.Fatal("swap completed before the in-flight transcription")
	}
	if text := <-done; text != "hello world from "+models.TierFast.FileName() {
		t.Errorf("in-flight result = %q, want it from model A", text)
	}

	if modelA.usedAfterClose.Load() {
		t.Fatal("model A was used after release")
	}
	if !modelA.closed.Load() {
		t.Error("model A should be released after the swap")
	}

	text, err := e.Transcribe(context.Background(), oneSecond())
	if err != nil {
		t.Fatalf("Transcribe() after swap error = %v", err)
	}
	if text != "hello world from "+models.TierAccurate.FileName() {
		t.Errorf("post-swap result = %q, want it from model B", text)
	}
}

func TestEngineSetModelTierFallback(t *testing.T) {
	dir := t.TempDir()
	writeModelFile(t, dir, models.TierBalanced.FileName())

	e := NewEngine(newFakeLoader().load, &models.Locator{Dirs: []string{dir}}, nil)
	tier, err := e.SetModelTier(context.Background(), models.TierAccurate)
	if err != nil {
		t.Fatalf("SetModelTier() error = %v", err)
	}
	if tier != models.TierBalanced {
		t.Errorf("tier = %q, want balanced fallback", tier)
	}
}

func TestEngineSetModelTierNoModels(t *testing.T) {
	e := NewEngine(newFakeLoader().load, &models.Locator{Dirs: []string{t.TempDir()}}, nil)
	_, err := e.SetModelTier(context.Background(), models.TierFast)
	if !errors.Is(err, ErrModelNotFound) || !errors.Is(err, models.ErrNoModel) {
		t.Errorf("SetModelTier() error = %v, want ErrModelNotFound wrapping models.ErrNoModel", err)
	}
}

func TestEngineCloseReleasesOnce(t *testing.T) {
	loader := newFakeLoader()
	e := NewEngine(loader.load, nil, nil)
	if err := e.Load(context.Background(), writeModelFile(t, t.TempDir(), "a.bin")); err != nil {
		t.Fatal(err)
	}

	if err := e.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
	if !loader.model("a.bin").closed.Load() {
		t.Error("model not released")
	}
	if _, err := e.Transcribe(context.Background(), oneSecond()); !errors.Is(err, ErrClosed) {
		t.Errorf("Transcribe() after Close error = %v, want ErrClosed", err)
	}
	if err := e.Load(context.Background(), writeModelFile(t, t.TempDir(), "b.bin")); !errors.Is(err, ErrClosed) {
		t.Errorf("Load() after Close error = %v, want ErrClosed", err)
	}
}

func TestThreadsFor(t *testing.T) {
	tests := []struct {
		cores int
		want  uint
	}{
		{1, 1},
		{2, 1},
		{3, 1},
		{4, 2},
		{8, 6},
		{10, 8},
		{64, 8},
	}
	for _, tt := range tests {
		if got := threadsFor(tt.cores); got != tt.want {
			t.Errorf("threadsFor(%d) = %d, want %d", tt.cores, got, tt.want)
		}
	}
	if n := ThreadCount(); n < 1 || n > 8 {
		t.Errorf("ThreadCount() = %d, want within [1, 8]", n)
	}
}
