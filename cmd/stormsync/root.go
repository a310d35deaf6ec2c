package main

import (
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/cubelabs/stormsync/internal/config"
	"github.com/cubelabs/stormsync/internal/integrity"
	"github.com/cubelabs/stormsync/internal/journal"
	"github.com/cubelabs/stormsync/internal/transport"
	"github.com/cubelabs/stormsync/internal/updater"
)

// Version is set at build time via ldflags: -ldflags "-X main.Version=1.0.0"
var Version = "dev"

var configPath string

var rootCmd = &cobra.Command{
	Use:           "stormsync",
	Short:         "Stormsync - Storm content bundle synchronization",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"Config file path (overrides STORMSYNC_CONFIG_PATH)")

	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(bundleCmd)
	rootCmd.AddCommand(downloadCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(clearCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(watchCmd)
}

// loadConfig resolves the configuration and initializes the global logger.
func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFromFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}

	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Log.Level)}
	var handler slog.Handler
	if cfg.Log.Format == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))

	return cfg, nil
}

func parseLogLevel(level string) slog.Level {
	switch level {
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

// buildManager assembles the decorated manager stack: pipeline core, then
// network policy, then single-flight serialization. The returned journal
// must be closed by the caller.
func buildManager(cfg *config.Config) (updater.Manager, *journal.Journal, error) {
	client, err := transport.NewClient(transport.Config{
		BaseURL:     cfg.Content.BaseURL,
		Version:     cfg.Content.Version,
		AppID:       cfg.Content.AppID,
		Environment: transport.Environment(cfg.Content.Environment),
		AuthToken:   cfg.Content.AuthToken,
	}, nil)
	if err != nil {
		return nil, nil, err
	}

	jnl, err := journal.Open(cfg.Storage.JournalPath)
	if err != nil {
		return nil, nil, err
	}

	core := updater.NewDefaultManager(
		cfg.Storage.Path,
		client,
		integrity.NewVerifier(slog.Default()),
		&updater.Options{Recorder: jnl},
	)

	var manager updater.Manager = core
	if cfg.Policy.UnmeteredOnly {
		manager = updater.NewPolicyManager(manager, updater.UnmeteredOnly(probeMeteredNetwork), nil)
	}
	manager = updater.NewSingleFlightManager(manager, updater.SchedulerConfig{
		Interval: time.Duration(cfg.Worker.Interval),
		Budget:   time.Duration(cfg.Worker.Budget),
	}, nil)

	return manager, jnl, nil
}

// probeMeteredNetwork reports whether the active connection is metered.
// There is no portable signal for this on a desktop OS, so the CLI relies on
// the operator-set override; unset means unmetered.
func probeMeteredNetwork() (bool, error) {
	return os.Getenv("STORMSYNC_NETWORK_METERED") == "true", nil
}
