package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/BadgerOps/shadowsync/internal/api"
	"github.com/BadgerOps/shadowsync/internal/config"
	"github.com/BadgerOps/shadowsync/internal/download"
	"github.com/BadgerOps/shadowsync/internal/mapping"
	"github.com/BadgerOps/shadowsync/internal/store"
)

var (
	// Global flags
	cfgPath   string
	stateDir  string
	logLevel  string
	logFormat string
	globalCfg *config.Config
	logger    *slog.Logger

	// Global components
	globalAPI        *api.Client
	globalDownloader *download.Client
	globalStore      *store.Store
	globalTable      *mapping.Table
)

// initializeComponents wires the API client, downloader, run-history store,
// and mapping table from the loaded config.
func initializeComponents(needMapping bool) error {
	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}
	if err := globalCfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	if err := os.MkdirAll(globalCfg.StateDirectory, 0o755); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}

	globalAPI = api.NewClient(globalCfg.API, logger)
	timeout := time.Duration(globalCfg.API.TimeoutSeconds) * time.Second
	globalDownloader = download.NewClient(timeout, logger)

	if globalCfg.DBPath != "" {
		st, err := store.New(globalCfg.DBPath, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize store: %w", err)
		}
		globalStore = st
	}

	if !needMapping {
		return nil
	}

	if globalCfg.Mapping.AutoUpdate {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		err := mapping.Update(ctx, globalDownloader, globalCfg.Mapping.URL, globalCfg.MapPath(), logger)
		cancel()
		if err != nil {
			// the previous document remains valid; a missing one fails the
			// load below
			logger.Warn("mapping auto-update failed", "error", err)
		}
	}

	table, err := mapping.Load(globalCfg.MapPath())
	if err != nil {
		return fmt.Errorf("loading mapping table: %w", err)
	}
	globalTable = table
	logger.Debug("mapping table loaded", "entries", table.Len())

	return nil
}

// commandNeedsMapping reports whether a subcommand requires the mapping
// table to be loaded.
func commandNeedsMapping(cmdName string) bool {
	return cmdName == "sync"
}

// shouldSkipComponentInit checks if a command should skip component initialization
func shouldSkipComponentInit(cmdName string) bool {
	skipInitCmds := map[string]bool{
		"help":    true,
		"version": true,
	}
	return skipInitCmds[cmdName]
}

// closeStore closes the global store connection
func closeStore() {
	if globalStore != nil {
		if err := globalStore.Close(); err != nil {
			logger.Error("failed to close store", "error", err)
		}
	}
}

// NewRootCmd creates and returns the root command
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "shadowsync",
		Short: "Synchronize Shadowserver reports into structured security events",
		Long: `shadowsync polls the Shadowserver reporting API for newly published
reports, downloads each exactly once, and converts its rows into structured
security events delivered to syslog, a JSON event log, or a message queue.

Checkpoint state is kept on disk: a report file's presence means it was
downloaded, and a zero-byte placeholder means it was already processed.`,
		Example: `  shadowsync sync
  shadowsync sync --days 5
  shadowsync update-map
  shadowsync call reports/list '{"date":"2026-08-28"}' pretty
  shadowsync status`,
		Version: "0.1.0",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Initialize logging
			setupLogging()

			if shouldSkipConfig(cmd.Name()) {
				return nil
			}

			// Load config
			if cfgPath == "" {
				var err error
				cfgPath, err = config.FindConfigFile()
				if err != nil {
					return fmt.Errorf("config file not found: %w", err)
				}
			}

			var err error
			globalCfg, err = config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			// Override with command-line flags if provided
			if stateDir != "" {
				globalCfg.StateDirectory = stateDir
			}

			logger.Debug("config loaded", "path", cfgPath, "state_directory", globalCfg.StateDirectory)

			if !shouldSkipComponentInit(cmd.Name()) {
				if err := initializeComponents(commandNeedsMapping(cmd.Name())); err != nil {
					return fmt.Errorf("failed to initialize components: %w", err)
				}
			}

			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			closeStore()
		},
	}

	// Add persistent flags
	cmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to config file (auto-discovered if not specified)")
	cmd.PersistentFlags().StringVar(&stateDir, "state-dir", "", "override state directory")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text or json)")

	// Add subcommands
	cmd.AddCommand(
		newSyncCmd(),
		newUpdateMapCmd(),
		newCallCmd(),
		newStatusCmd(),
	)

	return cmd
}

// setupLogging initializes the slog logger based on flags
func setupLogging() {
	var level slog.Level
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	if strings.ToLower(logFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}

	logger = slog.New(handler)
	slog.SetDefault(logger)
}

// shouldSkipConfig checks if a command should skip config loading
func shouldSkipConfig(cmdName string) bool {
	skipConfigCmds := map[string]bool{
		"help":    true,
		"version": true,
	}
	return skipConfigCmds[cmdName]
}
