package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"boardcache/internal/credentials"
)

// newCredentialManager is overridable in tests to avoid touching the real
// OS keyring.
var newCredentialManager = func() *credentials.Manager {
	return credentials.NewManager()
}

func newSetupCmd(cliCfg *Config) *cobra.Command {
	var deleteToken bool

	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Store the upstream API token",
		Long:  "Store the Notion API token in the system keyring. The token is read from the terminal without echo.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			manager := newCredentialManager()
			ctx := cmd.Context()

			if deleteToken {
				if err := manager.Delete(ctx); err != nil {
					return err
				}
				cmd.Println("Token removed from keyring.")
				return nil
			}

			token, err := readToken(cmd)
			if err != nil {
				return err
			}
			if token == "" {
				return fmt.Errorf("empty token")
			}

			if err := manager.Set(ctx, token); err != nil {
				return fmt.Errorf("store token in keyring: %w", err)
			}
			cmd.Println("Token stored in keyring.")
			return nil
		},
	}

	cmd.Flags().BoolVar(&deleteToken, "delete", false, "remove the stored token")
	return cmd
}

// readToken reads the token without echo when attached to a terminal, and
// falls back to plain line input otherwise (pipes, tests).
func readToken(cmd *cobra.Command) (string, error) {
	cmd.Print("Notion API token: ")

	if f, ok := cmd.InOrStdin().(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		raw, err := term.ReadPassword(int(f.Fd()))
		cmd.Println()
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(raw)), nil
	}

	scanner := bufio.NewScanner(cmd.InOrStdin())
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return "", err
		}
		return "", fmt.Errorf("no input")
	}
	return strings.TrimSpace(scanner.Text()), nil
}
