package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MinRecordingDuration and MaxRecordingDuration bound audio.max_duration.
	MinRecordingDuration = 1 * time.Second
	MaxRecordingDuration = 300 * time.Second

	// DefaultRecordingDuration is used when audio.max_duration is unset.
	DefaultRecordingDuration = 60 * time.Second

	// DefaultHistoryCapacity is the number of transcriptions kept on disk.
	DefaultHistoryCapacity = 50
)

// Config holds all application configuration.
type Config struct {
	Transcribe TranscribeConfig `yaml:"transcribe"`
	Hotkey     HotkeyConfig     `yaml:"hotkey"`
	Audio      AudioConfig      `yaml:"audio"`
	Inject     InjectConfig     `yaml:"inject"`
	History    HistoryConfig    `yaml:"history"`
	Debug      DebugConfig      `yaml:"debug"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	LogLevel   string           `yaml:"log_level"`
}

// TranscribeConfig selects and locates the whisper model.
type TranscribeConfig struct {
	ModelTier string   `yaml:"model_tier"` // "fast", "balanced" or "accurate"
	ModelPath string   `yaml:"model_path"` // explicit file, overrides tier discovery
	ModelDirs []string `yaml:"model_dirs"` // searched before the built-in locations
	Language  string   `yaml:"language"`
}

// HotkeyConfig holds hotkey-related settings.
type HotkeyConfig struct {
	Keys      []string `yaml:"keys"`
	Mode      string   `yaml:"mode"` // "hold" or "toggle"
	CancelKey string   `yaml:"cancel_key"`
}

// AudioConfig holds audio capture settings.
type AudioConfig struct {
	SampleRate  uint32        `yaml:"sample_rate"` // 0 uses the device's native rate
	Channels    uint32        `yaml:"channels"`
	MaxDuration time.Duration `yaml:"max_duration"`
}

// InjectConfig holds text injection settings.
type InjectConfig struct {
	Method string `yaml:"method"` // "type", "paste" or "none"
}

// HistoryConfig controls the persisted transcription history.
type HistoryConfig struct {
	Capacity     int    `yaml:"capacity"`
	SettingsPath string `yaml:"settings_path"`
}

// DebugConfig holds developer toggles.
type DebugConfig struct {
	SaveRecordingsDir string `yaml:"save_recordings_dir"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "quicktranscribe")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// DefaultSettingsPath returns the file backing the key-value settings store.
func DefaultSettingsPath() string {
	return filepath.Join(DefaultConfigDir(), "settings.yaml")
}

// DefaultModelsDir returns the directory models are downloaded into.
func DefaultModelsDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join("models")
	}
	return filepath.Join(home, ".local", "share", "quicktranscribe", "models")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Transcribe: TranscribeConfig{
			ModelTier: "balanced",
			Language:  "en",
		},
		Hotkey: HotkeyConfig{
			Keys:      []string{"ctrl", "shift", "r"},
			Mode:      "hold",
			CancelKey: "esc",
		},
		Audio: AudioConfig{
			SampleRate:  0,
			Channels:    1,
			MaxDuration: DefaultRecordingDuration,
		},
		Inject: InjectConfig{
			Method: "paste",
		},
		History: HistoryConfig{
			Capacity:     DefaultHistoryCapacity,
			SettingsPath: DefaultSettingsPath(),
		},
		LogLevel: "info",
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults. Tilde (~) in paths is expanded to the user's home directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.Transcribe.ModelPath = expandTilde(cfg.Transcribe.ModelPath)
	for i, dir := range cfg.Transcribe.ModelDirs {
		cfg.Transcribe.ModelDirs[i] = expandTilde(dir)
	}
	cfg.History.SettingsPath = expandTilde(cfg.History.SettingsPath)
	cfg.Debug.SaveRecordingsDir = expandTilde(cfg.Debug.SaveRecordingsDir)

	return cfg, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	switch c.Transcribe.ModelTier {
	case "fast", "balanced", "accurate":
	default:
		return fmt.Errorf("transcribe.model_tier must be fast, balanced, or accurate, got %q", c.Transcribe.ModelTier)
	}

	if len(c.Hotkey.Keys) == 0 {
		return fmt.Errorf("hotkey.keys must not be empty")
	}

	switch c.Hotkey.Mode {
	case "hold", "toggle":
	default:
		return fmt.Errorf("hotkey.mode must be \"hold\" or \"toggle\", got %q", c.Hotkey.Mode)
	}

	if c.Audio.Channels == 0 {
		return fmt.Errorf("audio.channels must be > 0")
	}

	if c.Audio.MaxDuration < 0 {
		return fmt.Errorf("audio.max_duration must not be negative")
	}

	switch c.Inject.Method {
	case "type", "paste", "none":
	default:
		return fmt.Errorf("inject.method must be \"type\", \"paste\" or \"none\", got %q", c.Inject.Method)
	}

	if c.History.Capacity <= 0 {
		return fmt.Errorf("history.capacity must be > 0")
	}
	if c.History.SettingsPath == "" {
		return fmt.Errorf("history.settings_path must not be empty")
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	return nil
}

// MaxDuration returns audio.max_duration clamped to the supported range.
// Zero means the default.
func (c *Config) MaxDuration() time.Duration {
	return ClampDuration(c.Audio.MaxDuration)
}

// ClampDuration clamps a recording limit to [1s, 300s]; zero maps to 60s.
func ClampDuration(d time.Duration) time.Duration {
	switch {
	case d == 0:
		return DefaultRecordingDuration
	case d < MinRecordingDuration:
		return MinRecordingDuration
	case d > MaxRecordingDuration:
		return MaxRecordingDuration
	}
	return d
}

// ParseLogLevel maps a config log level to slog. Unknown values map to info.
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

const defaultHeader = `# quicktranscribe configuration
# Hold the hotkey to dictate; release to transcribe and paste.
# Press the cancel key while recording to stop early (partial audio is still transcribed).
`

// WriteDefault writes the default config to DefaultConfigPath. It returns
// ("", nil) if a config file already exists there.
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return "", nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("encoding default config: %w", err)
	}

	if err := os.WriteFile(path, append([]byte(defaultHeader), data...), 0644); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
	}
	return path, nil
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
