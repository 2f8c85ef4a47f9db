// Package cmd implements the boardcache command line interface.
package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"boardcache/internal/utils"
)

// Version is set at build time.
var Version = "dev"

// Config holds CLI-wide settings, injectable for tests.
type Config struct {
	ConfigPath string
	Addr       string // server address for client commands
	Verbose    bool
	JSON       bool
}

// Execute runs the CLI with the given arguments and IO writers.
func Execute(args []string, stdout, stderr io.Writer, cfg *Config) int {
	rootCmd := NewBoardcache(stdout, stderr, cfg)

	rootCmd.SetArgs(args)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	if err := rootCmd.Execute(); err != nil {
		if containsJSONFlag(args) {
			outputErrorJSON(err, stdout)
		} else {
			_, _ = fmt.Fprintln(stderr, "Error:", err)
		}
		return 1
	}
	return 0
}

func containsJSONFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--json" {
			return true
		}
	}
	return false
}

func outputErrorJSON(err error, w io.Writer) {
	out := map[string]string{"error": err.Error()}
	data, marshalErr := json.Marshal(out)
	if marshalErr != nil {
		_, _ = fmt.Fprintf(w, `{"error": %q}`, err.Error())
		return
	}
	_, _ = fmt.Fprintln(w, string(data))
}

// NewBoardcache creates the root command with injectable IO.
func NewBoardcache(stdout, stderr io.Writer, cfg *Config) *cobra.Command {
	if cfg == nil {
		cfg = &Config{}
	}

	cmd := &cobra.Command{
		Use:     "boardcache",
		Short:   "Local cache server for slow project boards",
		Long:    "boardcache keeps periodically refreshed snapshots of remote project boards and serves them instantly over a local HTTP API.",
		Version: Version,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			verbose, _ := cmd.Flags().GetBool("verbose")
			if verbose {
				cfg.Verbose = true
			}
			utils.SetVerboseMode(cfg.Verbose)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfg.ConfigPath, "config", cfg.ConfigPath, "path to config file")
	cmd.PersistentFlags().StringVar(&cfg.Addr, "addr", cfg.Addr, "server address for client commands")
	cmd.PersistentFlags().BoolVarP(&cfg.Verbose, "verbose", "v", cfg.Verbose, "enable verbose logging")

	cmd.AddCommand(newServeCmd(cfg))
	cmd.AddCommand(newRefreshCmd(cfg))
	cmd.AddCommand(newStatusCmd(cfg))
	cmd.AddCommand(newSnapshotCmd(cfg))
	cmd.AddCommand(newSetupCmd(cfg))

	return cmd
}
