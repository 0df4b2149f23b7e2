package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"github.com/nikolaj20/erp-phonetech/internal/replica/schema"
	"github.com/nikolaj20/erp-phonetech/internal/replica/store"
	"github.com/nikolaj20/erp-phonetech/internal/ui"
)

var pendingCmd = &cobra.Command{
	Use:     "pending",
	GroupID: "sync",
	Short:   "List queued mutations not yet confirmed by the remote",
	Long: `List the persisted mutation queue of each collection in submission order.

--before accepts natural language ("2 hours ago", "yesterday", "last monday")
and keeps only operations enqueued earlier than that moment.

Example usage:
  erpsync pending
  erpsync pending --collection tickets --before "30 minutes ago"`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig(cmd)
		names, _ := cmd.Flags().GetStringSlice("collection")
		beforeText, _ := cmd.Flags().GetString("before")

		var before time.Time
		if beforeText != "" {
			t, err := parseWhen(beforeText, time.Now())
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			before = t
		}

		collections, err := selectCollections(cfg, names)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		st, err := openStore(cfg, log.New(io.Discard, "", 0))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer st.Close()

		printer := ui.Stdout()
		ctx := context.Background()
		for _, col := range collections {
			ops, err := store.NewSnapshots(st, col.Name).LoadQueue(ctx)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: failed to read %s queue: %v\n", col.Name, err)
				os.Exit(1)
			}
			printer.Operations(col.Name, enqueuedBefore(ops, before))
		}
	},
}

// parseWhen resolves a natural-language time expression relative to base.
func parseWhen(text string, base time.Time) (time.Time, error) {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)

	r, err := w.Parse(text, base)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse time %q: %w", text, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("could not understand time %q", text)
	}
	return r.Time, nil
}

// enqueuedBefore keeps the operations enqueued before t; a zero t keeps all.
func enqueuedBefore(ops []schema.Operation, t time.Time) []schema.Operation {
	if t.IsZero() {
		return ops
	}
	kept := ops[:0:0]
	for _, op := range ops {
		if op.EnqueuedAt.Before(t) {
			kept = append(kept, op)
		}
	}
	return kept
}

func init() {
	pendingCmd.Flags().StringSlice("collection", nil, "Collections to list (default: all configured)")
	pendingCmd.Flags().String("before", "", `Only operations enqueued before this time (e.g. "2 hours ago")`)

	rootCmd.AddCommand(pendingCmd)
}
