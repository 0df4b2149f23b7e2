package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/nikolaj20/erp-phonetech/internal/config"
	"github.com/nikolaj20/erp-phonetech/internal/replica/store"
	replicasync "github.com/nikolaj20/erp-phonetech/internal/replica/sync"
	"github.com/nikolaj20/erp-phonetech/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "sync",
	Short:   "Show the replica state of each collection",
	Long: `Show the version, record count and pending mutations of each local replica.

With --refresh every collection is pulled once before reporting, so the
output reflects the authoritative store.

Example usage:
  erpsync status
  erpsync status --refresh --format json`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig(cmd)
		format, _ := cmd.Flags().GetString("format")
		refresh, _ := cmd.Flags().GetBool("refresh")
		names, _ := cmd.Flags().GetStringSlice("collection")

		switch format {
		case "text", "json", "yaml":
		default:
			fmt.Fprintf(os.Stderr, "Error: unknown format %q (want text, json or yaml)\n", format)
			os.Exit(1)
		}

		collections, err := selectCollections(cfg, names)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		ctx := context.Background()
		logger := log.New(io.Discard, "", 0)

		st, err := openStore(cfg, logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer st.Close()

		statuses, err := collectStatuses(ctx, cfg, st, collections, refresh, logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		if err := writeStatuses(os.Stdout, format, statuses); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

// collectStatuses starts a context per collection against st, optionally
// pulls once, and reports its status.
func collectStatuses(ctx context.Context, cfg *config.Config, st store.Store, collections []config.Collection, refresh bool, logger *log.Logger) ([]replicasync.Status, error) {
	client, err := newRemote(ctx, cfg, st, logger)
	if err != nil {
		return nil, err
	}

	clock := replicasync.NewClock(nil)
	statuses := make([]replicasync.Status, 0, len(collections))
	for _, col := range collections {
		syncCtx, err := replicasync.New(st, nil, client, syncConfig(cfg, col, clock, logger))
		if err != nil {
			return nil, err
		}
		if err := syncCtx.Start(ctx); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", col.Name, err)
		}
		if refresh {
			// Failures are reported in the status itself.
			_ = syncCtx.Pull(ctx)
		}
		statuses = append(statuses, syncCtx.Status())
		_ = syncCtx.Stop()
	}
	return statuses, nil
}

func writeStatuses(w io.Writer, format string, statuses []replicasync.Status) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(statuses)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(statuses); err != nil {
			return err
		}
		return enc.Close()
	default:
		printer := ui.Stdout()
		if w != os.Stdout {
			printer = ui.NewPrinter(w, false)
		}
		printer.Statuses(statuses)
		return nil
	}
}

func init() {
	statusCmd.Flags().StringP("format", "f", "text", "Output format: text, json or yaml")
	statusCmd.Flags().Bool("refresh", false, "Pull each collection before reporting")
	statusCmd.Flags().StringSlice("collection", nil, "Collections to report (default: all configured)")

	rootCmd.AddCommand(statusCmd)
}
