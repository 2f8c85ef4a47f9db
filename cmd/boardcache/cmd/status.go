package cmd

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"boardcache/internal/client"
	"boardcache/internal/tui"
)

func newStatusCmd(cliCfg *Config) *cobra.Command {
	var (
		jsonOutput bool
		watch      bool
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show snapshot freshness per resource",
		Long:  "Print the version, age, and record count of each cached snapshot. With --watch, open a live dashboard.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(serverAddr(cliCfg))

			if watch {
				return tui.Run(c, 2*time.Second)
			}

			entries, err := c.Freshness(cmd.Context())
			if err != nil {
				return err
			}

			if jsonOutput {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(entries)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "RESOURCE\tVERSION\tAGE\tRECORDS\tSTATE")
			for _, entry := range entries {
				fmt.Fprintln(w, formatStatusRow(entry))
			}
			return w.Flush()
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "open a live dashboard")
	return cmd
}

func formatStatusRow(entry client.Freshness) string {
	if !entry.Populated {
		return fmt.Sprintf("%s\t-\t-\t-\tnot populated", entry.Resource)
	}

	state := "fresh"
	if entry.Stale {
		state = "stale"
	}
	if entry.Refreshing {
		state += " (refreshing)"
	}
	if entry.LastError != "" {
		state += " last error: " + entry.LastError
	}

	age := time.Duration(entry.AgeSeconds * float64(time.Second)).Round(time.Second)
	return fmt.Sprintf("%s\t%d\t%s\t%d\t%s", entry.Resource, entry.Version, age, entry.RecordCount, state)
}
