// Package cmd implements the CLI commands for camstreamd.
package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/jmylchreest/camstreamd/internal/config"
	"github.com/jmylchreest/camstreamd/internal/observability"
	"github.com/jmylchreest/camstreamd/internal/version"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// cfgFile holds the config file path from CLI flag.
var cfgFile string

var rootCmd = &cobra.Command{
	Use:     "camstreamd",
	Short:   "Camera streaming daemon for companion computers",
	Version: version.Short(),
	Long: `camstreamd publishes V4L2 capture devices as RTSP streams and lets a
ground station list and reconfigure them over a MAVLink telemetry link.

Streams can also be managed over an HTTP API, and streams changed at
runtime are restored on the next start.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("executing root command: %w", err)
	}
	return nil
}

func init() {
	// Logging flags are not bound to viper: they only override the config
	// file and environment when explicitly set.
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./camstreamd.yaml or /etc/camstreamd/camstreamd.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "json", "log format (text, json)")
}

// loadConfig reads the configuration and applies explicitly set logging
// flags on top of it.
//
// Priority order (highest to lowest):
//  1. CLI flags, only if explicitly provided
//  2. Environment variables (CAMSTREAMD_LOGGING_LEVEL, ...)
//  3. Config file values
//  4. Built-in defaults
func loadConfig(flags *pflag.FlagSet) (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}

	if flags.Changed("log-level") {
		cfg.Logging.Level, _ = flags.GetString("log-level")
	}
	if flags.Changed("log-format") {
		cfg.Logging.Format, _ = flags.GetString("log-format")
	}
	cfg.Logging.Level = strings.ToLower(cfg.Logging.Level)
	cfg.Logging.Format = strings.ToLower(cfg.Logging.Format)
	if cfg.Logging.Level == "warning" {
		cfg.Logging.Level = "warn"
	}

	return cfg, nil
}

// newLogger builds the process logger on stderr and installs it as the
// slog default.
func newLogger(cfg config.LoggingConfig, wrap func(slog.Handler) slog.Handler) *slog.Logger {
	logger := observability.NewLoggerWithWriter(cfg, os.Stderr)
	if wrap != nil {
		logger = slog.New(wrap(logger.Handler()))
	}
	slog.SetDefault(logger)
	observability.SetRequestLogging(cfg.RequestLogging)
	return logger
}
