package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"

	"github.com/cwbudde/gpumembench/internal/config"
)

var (
	logLevel   string
	logFormat  string
	logFile    string
	configPath string
	logger     *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "gpumembench",
	Short: "Memory bandwidth benchmark for compute accelerators",
	Long: `gpumembench sweeps a catalogue of elementwise kernels across work-group
sizes on an OpenCL device (or the built-in host emulator) and reports
the best achieved memory bandwidth and throughput per kernel.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var level slog.Level
		switch logLevel {
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

		// Reports go to stdout, so logs default to stderr.
		var out io.Writer = os.Stderr
		if logFile != "" {
			f, err := os.OpenFile(logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
			if err != nil {
				return fmt.Errorf("failed to open log file: %w", err)
			}
			atexit.Register(func() { f.Close() })
			out = f
		}

		opts := &slog.HandlerOptions{Level: level}
		var handler slog.Handler
		switch logFormat {
		case "text":
			handler = slog.NewTextHandler(out, opts)
		default:
			handler = slog.NewJSONHandler(out, opts)
		}
		logger = slog.New(handler)
		slog.SetDefault(logger)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "json", "Log format (json, text)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Append logs to this file instead of stderr")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML run configuration")
}

// loadConfig returns the configuration file named by --config, or the
// defaults when none was given.
func loadConfig() (config.Run, error) {
	if configPath == "" {
		return config.Default(), nil
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Run{}, err
	}
	slog.Debug("Loaded configuration", "path", configPath)
	return cfg, nil
}
