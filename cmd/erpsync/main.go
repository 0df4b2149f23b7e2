// Command erpsync keeps device-local replicas of ERP collections in sync
// with the authoritative store.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nikolaj20/erp-phonetech/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "erpsync",
	Short: "Synchronize local ERP replicas with the authoritative store",
	Long: `erpsync maintains a local replica of each configured ERP collection
(inventory, tickets, customers, ...), pulls the authoritative copy on a
schedule, and pushes queued local mutations in order.

Replicas in other processes on the same device see every accepted change
through the shared local store and the change hub.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "Config file (default: ./erpsync.toml)")

	rootCmd.AddGroup(
		&cobra.Group{ID: "sync", Title: "Synchronization:"},
		&cobra.Group{ID: "setup", Title: "Setup:"},
	)
}

// loadConfig reads the configuration named by --config or exits.
func loadConfig(cmd *cobra.Command) *config.Config {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
