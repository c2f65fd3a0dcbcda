package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/chaz8081/quicktranscribe/internal/app"
	"github.com/chaz8081/quicktranscribe/internal/audio"
	"github.com/chaz8081/quicktranscribe/internal/config"
	"github.com/chaz8081/quicktranscribe/internal/metrics"
	"github.com/chaz8081/quicktranscribe/internal/models"
	"github.com/chaz8081/quicktranscribe/internal/settings"
	"github.com/chaz8081/quicktranscribe/internal/transcribe"
)

func main() {
	// CLI flags
	configPath := flag.String("config", "", "path to config file (default: ~/.config/quicktranscribe/config.yaml)")
	tierFlag := flag.String("tier", "", "model tier to use and remember: fast, balanced or accurate")
	downloadModels := flag.Bool("download-models", false, "interactively download whisper models and exit")
	initConfig := flag.Bool("init-config", false, "write a default config file and exit")
	flag.Parse()

	if *initConfig {
		path, err := config.WriteDefault()
		if err != nil {
			log.Fatalf("init-config: %v", err)
		}
		if path == "" {
			fmt.Printf("Config already exists at %s\n", config.DefaultConfigPath())
			return
		}
		fmt.Printf("Wrote default config to %s\n", path)
		return
	}

	if *downloadModels {
		dl := models.NewDownloader(config.DefaultModelsDir())
		if err := dl.RunInteractive(context.Background(), os.Stdin); err != nil {
			log.Fatalf("download-models: %v", err)
		}
		return
	}

	// Load configuration
	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("config validation: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: config.ParseLogLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	printBanner(cfg)

	input, err := audio.NewMalgoInput(cfg.Audio.SampleRate, cfg.Audio.Channels)
	if err != nil {
		log.Fatalf("Failed to initialize audio input: %v\n\nEnsure microphone access is granted in System Settings > Privacy & Security > Microphone.", err)
	}

	store := settings.Open(cfg.History.SettingsPath, logger)

	var m *metrics.Metrics
	if cfg.Metrics.ListenAddr != "" {
		m = metrics.New()
	}

	a, err := app.New(cfg, app.Deps{
		Input:    input,
		Settings: store,
		Metrics:  m,
		Logger:   logger,
	})
	if err != nil {
		_ = input.Release()
		log.Fatalf("app: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if m != nil {
		go func() {
			if err := m.Serve(ctx, cfg.Metrics.ListenAddr, logger); err != nil {
				logger.Error("metrics endpoint failed", "err", err)
			}
		}()
	}

	logger.Info("loading whisper model...")
	modelStart := time.Now()
	if *tierFlag != "" {
		tier, err := models.ParseTier(*tierFlag)
		if err != nil {
			log.Fatalf("-tier: %v", err)
		}
		if _, err := a.SetModelTier(ctx, tier); err != nil {
			logModelError(logger, err)
		}
	} else if err := a.LoadModel(ctx); err != nil {
		logModelError(logger, err)
	}
	if path, tier, _ := a.Engine().Loaded(ctx); path != "" {
		logger.Info("model ready", "path", path, "tier", tier, "elapsed", time.Since(modelStart).Round(time.Millisecond))
	}

	fmt.Println("Ready! Press", strings.Join(cfg.Hotkey.Keys, "+"), "to dictate. Ctrl+C to quit.")

	if err := a.Run(ctx); err != nil {
		logger.Error("run", "err", err)
	}

	logger.Info("shutting down...")
	if err := a.Close(); err != nil {
		logger.Warn("closing", "err", err)
	}
	if err := input.Release(); err != nil {
		logger.Warn("releasing audio input", "err", err)
	}
	fmt.Println("Goodbye!")
	// Exit directly to avoid gohook's C cleanup crash.
	// The OS reclaims the event hook on process exit.
	os.Exit(0)
}

// logModelError reports a model that could not be loaded. The app keeps
// running and delivers a placeholder until a model is available.
func logModelError(logger *slog.Logger, err error) {
	if errors.Is(err, transcribe.ErrModelNotFound) {
		logger.Error("no whisper model found; run 'quicktranscribe -download-models'", "err", err)
		return
	}
	logger.Error("failed to load whisper model", "err", err)
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	// Try default config path
	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := config.Load(defaultPath)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		log.Printf("Config loaded from %s", defaultPath)
		return cfg, nil
	}

	// No config file, use defaults
	log.Println("No config file found, using defaults")
	return config.Default(), nil
}

// printBanner displays the startup configuration summary.
func printBanner(cfg *config.Config) {
	model := cfg.Transcribe.ModelTier
	if cfg.Transcribe.ModelPath != "" {
		model = cfg.Transcribe.ModelPath
	}
	rate := "native"
	if cfg.Audio.SampleRate != 0 {
		rate = fmt.Sprintf("%dHz", cfg.Audio.SampleRate)
	}

	fmt.Println("=== quicktranscribe ===")
	fmt.Printf("  Model:    %s\n", model)
	fmt.Printf("  Hotkey:   %s (%s mode, cancel: %s)\n", strings.Join(cfg.Hotkey.Keys, "+"), cfg.Hotkey.Mode, cfg.Hotkey.CancelKey)
	fmt.Printf("  Audio:    %s, %dch, max %s\n", rate, cfg.Audio.Channels, cfg.MaxDuration())
	fmt.Printf("  Inject:   %s\n", cfg.Inject.Method)
	fmt.Printf("  History:  %d entries (%s)\n", cfg.History.Capacity, cfg.History.SettingsPath)
	if cfg.Metrics.ListenAddr != "" {
		fmt.Printf("  Metrics:  http://%s/metrics\n", cfg.Metrics.ListenAddr)
	}
	fmt.Printf("  Log:      %s\n", cfg.LogLevel)
	fmt.Println("=======================")
}
