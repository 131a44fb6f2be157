package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/BadgerOps/shadowsync/internal/mapping"
)

func newUpdateMapCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "update-map",
		Short: "Refresh the field-mapping document",
		Long: `Fetch a new field-mapping document, validate it, and atomically replace
the active map.json. A failed or empty fetch leaves the previous mapping
untouched.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			err := mapping.Update(cmd.Context(), globalDownloader, globalCfg.Mapping.URL, globalCfg.MapPath(), logger)
			if err != nil {
				return fmt.Errorf("mapping update failed: %w", err)
			}
			fmt.Println("Mapping downloaded successfully")
			return nil
		},
	}
}
