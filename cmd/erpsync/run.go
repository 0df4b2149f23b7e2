package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nikolaj20/erp-phonetech/internal/replica/bus"
	"github.com/nikolaj20/erp-phonetech/internal/replica/schema"
	replicasync "github.com/nikolaj20/erp-phonetech/internal/replica/sync"
)

var runCmd = &cobra.Command{
	Use:     "run",
	GroupID: "sync",
	Short:   "Run the sync scheduler for the configured collections",
	Long: `Run one sync context per collection until interrupted.

Each context pulls the authoritative copy after a short delay and then on a
fixed interval, and pushes queued mutations in order. Send SIGUSR1 to signal
that the application became visible again; collections whose last pull is
stale are refreshed immediately.

Example usage:
  erpsync run                              # All configured collections
  erpsync run --collection inventory       # Only inventory`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig(cmd)
		names, _ := cmd.Flags().GetStringSlice("collection")

		collections, err := selectCollections(cfg, names)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		logger, logFile := newLogger(cfg.Log, "[erpsync] ")
		defer logFile.Close()

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		st, err := openStore(cfg, logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer st.Close()

		client, err := newRemote(ctx, cfg, st, logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if !client.Credentials().Valid() {
			fmt.Fprintln(os.Stderr, "Error: not logged in (run 'erpsync login' first)")
			os.Exit(1)
		}

		clock := replicasync.NewClock(nil)
		contexts := make([]*replicasync.SyncContext, 0, len(collections))
		var buses []bus.Bus

		for _, col := range collections {
			b := joinBus(ctx, cfg.Bus.URL, col.Name, logger)
			if b != nil {
				buses = append(buses, b)
			}

			sc := syncConfig(cfg, col, clock, logger)
			name := col.Name
			sc.Hooks = replicasync.Hooks{
				OnRejected: func(op schema.Operation, err error) {
					logger.Printf("Operation %s on %s dropped: %v", op.ID, name, err)
				},
				OnSessionExpired: func() {
					logger.Printf("Session expired while syncing %s, stopping", name)
					cancel()
				},
			}

			syncCtx, err := replicasync.New(st, b, client, sc)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			if err := syncCtx.Start(ctx); err != nil {
				fmt.Fprintf(os.Stderr, "Error: failed to start %s: %v\n", name, err)
				os.Exit(1)
			}
			contexts = append(contexts, syncCtx)
		}

		visible := make(chan os.Signal, 1)
		signal.Notify(visible, syscall.SIGUSR1)
		defer signal.Stop(visible)

		g, gctx := errgroup.WithContext(ctx)
		for _, syncCtx := range contexts {
			g.Go(func() error {
				if err := syncCtx.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
					return fmt.Errorf("%s: %w", syncCtx.Collection(), err)
				}
				return nil
			})
		}
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-visible:
					for _, syncCtx := range contexts {
						syncCtx.VisibilityChanged(true)
					}
				}
			}
		})

		fmt.Printf("Syncing %d collection(s) from %s\n", len(contexts), cfg.Remote.BaseURL)
		fmt.Println("Press Ctrl+C to stop...")

		runErr := g.Wait()

		fmt.Println("\nShutting down...")
		for _, syncCtx := range contexts {
			if err := syncCtx.Stop(); err != nil {
				logger.Printf("Warning: failed to stop %s: %v", syncCtx.Collection(), err)
			}
		}
		for _, b := range buses {
			_ = b.Close()
		}

		if !client.Credentials().Valid() {
			fmt.Fprintln(os.Stderr, "Error: session expired (run 'erpsync login' again)")
			os.Exit(1)
		}
		if runErr != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", runErr)
			os.Exit(1)
		}
	},
}

func init() {
	runCmd.Flags().StringSlice("collection", nil, "Collections to sync (default: all configured)")

	rootCmd.AddCommand(runCmd)
}
