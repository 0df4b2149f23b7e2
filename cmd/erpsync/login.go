package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/nikolaj20/erp-phonetech/internal/replica/remote"
	"github.com/nikolaj20/erp-phonetech/internal/ui"
)

var loginCmd = &cobra.Command{
	Use:     "login",
	GroupID: "setup",
	Short:   "Store the API token used to reach the remote store",
	Long: `Store the bearer token sent with every remote request.

The token is kept in the local store next to the replicas. It is prompted
for when stdin is a terminal and read from stdin otherwise, unless --token
is given. Use --logout to forget it.

Example usage:
  erpsync login
  echo "$ERP_TOKEN" | erpsync login`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig(cmd)
		token, _ := cmd.Flags().GetString("token")
		logout, _ := cmd.Flags().GetBool("logout")

		logger, logFile := newLogger(cfg.Log, "[erpsync] ")
		defer logFile.Close()

		st, err := openStore(cfg, logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer st.Close()

		ctx := context.Background()
		creds := remote.NewCredentials(st)
		printer := ui.Stdout()

		if logout {
			if err := creds.Clear(ctx); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			printer.Success("logged out")
			return
		}

		if token == "" {
			token, err = readToken(os.Stdin)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
		}

		if err := creds.Set(ctx, token); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		printer.Success("token saved for %s", cfg.Remote.BaseURL)
	},
}

// readToken prompts for the token on a terminal and reads the first line
// of in otherwise.
func readToken(in *os.File) (string, error) {
	if term.IsTerminal(int(in.Fd())) {
		var token string
		err := huh.NewInput().
			Title("API token").
			EchoMode(huh.EchoModePassword).
			Validate(func(s string) error {
				if strings.TrimSpace(s) == "" {
					return errors.New("token cannot be empty")
				}
				return nil
			}).
			Value(&token).
			Run()
		if err != nil {
			return "", fmt.Errorf("login cancelled: %w", err)
		}
		return token, nil
	}
	return firstLine(in)
}

func firstLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read token: %w", err)
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return "", errors.New("no token given")
	}
	return line, nil
}

func init() {
	loginCmd.Flags().String("token", "", "API token (default: prompt or stdin)")
	loginCmd.Flags().Bool("logout", false, "Forget the stored token")

	rootCmd.AddCommand(loginCmd)
}
