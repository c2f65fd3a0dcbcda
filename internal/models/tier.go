// Package models maps quality tiers to whisper model files, finds them on
// disk and downloads them.
package models

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Tier is a user-facing model quality setting.
type Tier string

const (
	TierFast     Tier = "fast"
	TierBalanced Tier = "balanced"
	TierAccurate Tier = "accurate"
)

// ErrNoModel is returned when no tier's model file exists in any search dir.
var ErrNoModel = errors.New("models: no whisper model found")

var tierFiles = map[Tier]string{
	TierFast:     "ggml-tiny.en.bin",
	TierBalanced: "ggml-base.en.bin",
	TierAccurate: "ggml-small.en.bin",
}

// fallbackOrder is tried after the requested tier.
var fallbackOrder = []Tier{TierBalanced, TierFast, TierAccurate}

// ParseTier validates a tier name.
func ParseTier(s string) (Tier, error) {
	t := Tier(s)
	if _, ok := tierFiles[t]; !ok {
		return "", fmt.Errorf("models: unknown tier %q (supported: fast, balanced, accurate)", s)
	}
	return t, nil
}

// FileName returns the ggml file name for the tier.
func (t Tier) FileName() string {
	return tierFiles[t]
}

// Locator resolves a tier to a model path by searching Dirs in order.
type Locator struct {
	Dirs []string
}

// NewLocator builds the search order: extra dirs first, then the app bundle
// resources, next to the executable, the working directory and finally the
// download directory.
func NewLocator(modelsDir string, extra ...string) *Locator {
	dirs := append([]string{}, extra...)
	if exe, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exe)
		dirs = append(dirs,
			filepath.Join(exeDir, "..", "Resources", "models"),
			filepath.Join(exeDir, "models"),
		)
	}
	dirs = append(dirs, "models")
	if modelsDir != "" {
		dirs = append(dirs, modelsDir)
	}
	return &Locator{Dirs: dirs}
}

// Find returns the first existing file for exactly this tier.
func (l *Locator) Find(tier Tier) (string, bool) {
	name := tier.FileName()
	if name == "" {
		return "", false
	}
	for _, dir := range l.Dirs {
		path := filepath.Join(dir, name)
		if info, err := os.Stat(path); err == nil && !info.IsDir() && info.Size() > 0 {
			return path, true
		}
	}
	return "", false
}

// Resolve finds the requested tier, falling back to the other tiers. The
// returned tier is the one actually found.
func (l *Locator) Resolve(tier Tier) (string, Tier, error) {
	if path, ok := l.Find(tier); ok {
		return path, tier, nil
	}
	for _, t := range fallbackOrder {
		if t == tier {
			continue
		}
		if path, ok := l.Find(t); ok {
			return path, t, nil
		}
	}
	return "", "", fmt.Errorf("%w for tier %q in %v", ErrNoModel, tier, l.Dirs)
}
