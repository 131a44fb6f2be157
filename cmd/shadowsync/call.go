package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newCallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "call <method> <request> [pretty|binary]",
		Short: "Call a raw API method",
		Long: `Call the specified API method with a JSON request object and print the
response. Use "pretty" to indent JSON responses or "binary" to write raw
bytes to stdout.`,
		Example: `  shadowsync call test/ping '{}'
  shadowsync call reports/list '{"date":"2026-08-28"}' pretty`,
		Args: cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			var request map[string]any
			if err := json.Unmarshal([]byte(args[1]), &request); err != nil {
				return fmt.Errorf("request must be a JSON object: %w", err)
			}

			result, err := globalAPI.Call(cmd.Context(), args[0], request)
			if err != nil {
				return fmt.Errorf("API call failed: %w", err)
			}

			mode := ""
			if len(args) > 2 {
				mode = args[2]
			}
			switch mode {
			case "":
				fmt.Println(string(result))
			case "pretty":
				var pretty any
				if err := json.Unmarshal(result, &pretty); err != nil {
					fmt.Println(string(result))
					return nil
				}
				out, err := json.MarshalIndent(pretty, "", "    ")
				if err != nil {
					return err
				}
				fmt.Println(string(out))
			case "binary":
				if _, err := os.Stdout.Write(result); err != nil {
					return err
				}
			default:
				return fmt.Errorf("unknown option %q", mode)
			}
			return nil
		},
	}
}
