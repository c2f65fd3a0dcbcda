package models

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func touchModel(t *testing.T, dir string, tier Tier) string {
	t.Helper()
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, tier.FileName())
	if err := os.WriteFile(path, []byte("ggml"), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestParseTier(t *testing.T) {
	for _, s := range []string{"fast", "balanced", "accurate"} {
		if _, err := ParseTier(s); err != nil {
			t.Errorf("ParseTier(%q) error = %v", s, err)
		}
	}
	if _, err := ParseTier("large"); err == nil {
		t.Error("ParseTier(\"large\") should fail")
	}
}

func TestTierFileName(t *testing.T) {
	if got := TierBalanced.FileName(); got != "ggml-base.en.bin" {
		t.Errorf("FileName() = %q, want ggml-base.en.bin", got)
	}
	if got := Tier("bogus").FileName(); got != "" {
		t.Errorf("FileName() for unknown tier = %q, want empty", got)
	}
}

func TestLocatorSearchOrder(t *testing.T) {
	first := t.TempDir()
	second := t.TempDir()
	touchModel(t, second, TierFast)
	want := touchModel(t, first, TierFast)

	l := &Locator{Dirs: []string{first, second}}
	got, ok := l.Find(TierFast)
	if !ok || got != want {
		t.Errorf("Find() = %q, %v; want %q, true", got, ok, want)
	}
}

func TestLocatorSkipsEmptyFiles(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, TierFast.FileName()), nil, 0644); err != nil {
		t.Fatal(err)
	}
	l := &Locator{Dirs: []string{dir}}
	if _, ok := l.Find(TierFast); ok {
		t.Error("Find() should ignore zero-byte files")
	}
}

func TestLocatorResolveFallsBack(t *testing.T) {
	dir := t.TempDir()
	want := touchModel(t, dir, TierFast)

	l := &Locator{Dirs: []string{dir}}
	path, tier, err := l.Resolve(TierAccurate)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if path != want || tier != TierFast {
		t.Errorf("Resolve() = %q, %q; want %q, fast", path, tier, want)
	}
}

func TestLocatorResolvePrefersRequested(t *testing.T) {
	dir := t.TempDir()
	touchModel(t, dir, TierBalanced)
	want := touchModel(t, dir, TierAccurate)

	l := &Locator{Dirs: []string{dir}}
	path, tier, err := l.Resolve(TierAccurate)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if path != want || tier != TierAccurate {
		t.Errorf("Resolve() = %q, %q; want %q, accurate", path, tier, want)
	}
}

func TestLocatorResolveNothing(t *testing.T) {
	l := &Locator{Dirs: []string{t.TempDir()}}
	_, _, err := l.Resolve(TierBalanced)
	if !errors.Is(err, ErrNoModel) {
		t.Errorf("Resolve() error = %v, want ErrNoModel", err)
	}
}

func TestNewLocatorOrder(t *testing.T) {
	l := NewLocator("/downloads", "/extra")
	if len(l.Dirs) < 3 {
		t.Fatalf("Dirs = %v, want at least 3 entries", l.Dirs)
	}
	if l.Dirs[0] != "/extra" {
		t.Errorf("Dirs[0] = %q, want /extra", l.Dirs[0])
	}
	if l.Dirs[len(l.Dirs)-1] != "/downloads" {
		t.Errorf("last dir = %q, want /downloads", l.Dirs[len(l.Dirs)-1])
	}
}
