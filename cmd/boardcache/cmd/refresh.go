package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"boardcache/internal/client"
	"boardcache/internal/refresh"
	"boardcache/internal/resource"
)

func newRefreshCmd(cliCfg *Config) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "refresh [resource|all]",
		Short: "Trigger a refresh on the running server",
		Long:  "Ask the server to fetch fresh upstream data for one resource, or for all of them. Waits for the outcome.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(serverAddr(cliCfg))
			ctx := cmd.Context()

			target := "all"
			if len(args) == 1 {
				target = args[0]
			}

			var results []client.RefreshResult
			if target == "all" {
				all, err := c.RefreshAll(ctx)
				if err != nil {
					return err
				}
				results = all
			} else {
				res, err := resource.Parse(target)
				if err != nil {
					return err
				}
				result, err := c.Refresh(ctx, res)
				if err != nil {
					return err
				}
				results = []client.RefreshResult{*result}
			}

			if jsonOutput {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(results)
			}

			failed := false
			for _, result := range results {
				switch result.Outcome {
				case string(refresh.OutcomeSuccess):
					cmd.Printf("%s: refreshed to version %d (%dms)\n", result.Resource, result.Version, result.DurationMS)
				case string(refresh.OutcomeAlreadyInProgress):
					cmd.Printf("%s: refresh already in progress\n", result.Resource)
				default:
					failed = true
					cmd.Printf("%s: %s (%s)\n", result.Resource, result.Outcome, result.Error)
				}
			}
			if failed {
				return fmt.Errorf("one or more refreshes failed")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output results as JSON")
	return cmd
}

// serverAddr resolves the server address: the --addr flag wins, otherwise
// the default local address.
func serverAddr(cliCfg *Config) string {
	if cliCfg.Addr != "" {
		return cliCfg.Addr
	}
	return "127.0.0.1:8750"
}
