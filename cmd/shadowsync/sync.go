package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/BadgerOps/shadowsync/internal/engine"
)

var syncDays int

func newSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Download new reports and deliver transformed events",
		Long: `Download new reports and deliver transformed events. For each configured
input section the sync will:

  1. List reports published inside the trailing date window
  2. Skip reports whose checkpoint file already exists
  3. Download new reports atomically under the section directory
  4. Transform each row and deliver it to the section's sink
  5. Truncate processed files and expire checkpoints older than 7 days

Disk space below the configured threshold aborts the whole run.`,
		Example: `  shadowsync sync
  shadowsync sync --days 5`,
		RunE: syncRun,
	}

	cmd.Flags().IntVar(&syncDays, "days", 2, "number of previous days to include in the window")

	return cmd
}

func syncRun(cmd *cobra.Command, args []string) error {
	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}
	if len(globalCfg.Inputs) == 0 {
		logger.Warn("no input sections configured")
		return nil
	}

	minFree, err := globalCfg.MinDiskFreeBytes()
	if err != nil {
		return fmt.Errorf("min_disk_free: %w", err)
	}

	syncer := engine.NewSyncer(globalCfg, globalAPI, globalDownloader, globalTable, minFree, logger)
	syncer.SetWindow(syncDays, 1)
	if globalStore != nil {
		syncer.SetStore(globalStore)
	}

	count, err := syncer.Run(context.Background())
	if err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}

	fmt.Printf("Completed - %d reports downloaded\n", count)
	return nil
}
