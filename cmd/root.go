package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/cwbudde/govizier/internal/config"
	"github.com/cwbudde/govizier/internal/policy"
	"github.com/cwbudde/govizier/internal/store"
)

var (
	configPath string
	logLevel   string
	storeKind  string
	storePath  string

	cfg    *config.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "govizier",
	Short: "Blackbox optimization study service",
	Long: `govizier runs optimization studies: clients register a search space,
ask for suggested trials, report measurements and query the best trials.
Suggestions come from stateful designers whose state is checkpointed in the
study store so any server can resume them.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("log-level") {
			loaded.Log.Level = logLevel
		}
		if cmd.Flags().Changed("store") {
			loaded.Store.Kind = storeKind
		}
		if cmd.Flags().Changed("store-path") {
			loaded.Store.Path = storePath
		}
		if err := loaded.Validate(); err != nil {
			return fmt.Errorf("invalid flags: %w", err)
		}
		cfg = loaded

		setupLogger(cfg.Log.Level)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML config file (default $GOVIZIER_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&storeKind, "store", "memory", "Store backend (memory, fs, badger, sqlite)")
	rootCmd.PersistentFlags().StringVar(&storePath, "store-path", "", "Store location for fs, badger and sqlite backends")
}

func setupLogger(levelName string) {
	var level slog.Level
	switch levelName {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	handler := slog.NewJSONHandler(os.Stdout, opts)
	logger = slog.New(handler)
	slog.SetDefault(logger)
}

// currentConfig returns the loaded configuration, or the defaults when a
// command runs without the root pre-run (as in tests).
func currentConfig() *config.Config {
	if cfg != nil {
		return cfg
	}
	return config.Default()
}

// openStore opens the configured store backend.
func openStore(ctx context.Context) (store.Store, error) {
	c := currentConfig()
	st, err := store.New(ctx, c.Store.Kind, c.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", c.Store.Kind, err)
	}
	return st, nil
}

// newRegistry returns the designer registry with the configured default.
func newRegistry() (*policy.Registry, error) {
	registry := policy.NewRegistry()
	if err := registry.SetDefault(currentConfig().Policy.DefaultAlgorithm); err != nil {
		return nil, fmt.Errorf("invalid default algorithm: %w", err)
	}
	return registry, nil
}
