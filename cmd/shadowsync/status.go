package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var statusLimit int

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show recent sync runs and per-section report counts",
		RunE:  statusRun,
	}

	cmd.Flags().IntVar(&statusLimit, "limit", 10, "number of recent runs to show")

	return cmd
}

func statusRun(cmd *cobra.Command, args []string) error {
	if globalStore == nil {
		return fmt.Errorf("run history is disabled (set db_path in the config)")
	}

	runs, err := globalStore.ListSyncRuns(statusLimit)
	if err != nil {
		return fmt.Errorf("listing sync runs: %w", err)
	}

	if len(runs) == 0 {
		fmt.Println("No sync runs recorded yet.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tSTATUS\tDOWNLOADED\tSKIPPED\tFAILED")
	for _, run := range runs {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\n",
			run.StartTime.Format("2006-01-02 15:04:05"),
			run.Status, run.Downloaded, run.Skipped, run.Failed)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	for _, in := range globalCfg.Inputs {
		count, err := globalStore.CountReportFiles(in.Name)
		if err != nil {
			logger.Warn("failed to count report files", "input", in.Name, "error", err)
			continue
		}
		fmt.Printf("input %s: %d reports recorded\n", in.Name, count)
	}

	return nil
}
