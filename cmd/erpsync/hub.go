package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nikolaj20/erp-phonetech/internal/replica/bus"
)

var hubCmd = &cobra.Command{
	Use:     "hub",
	GroupID: "sync",
	Short:   "Start the device-local change hub",
	Long: `Start the websocket hub that relays change events between the erpsync
processes of this device.

Each replica joins the channel of its collection and receives the events
published by the other replicas of that collection:
- sync: a pulled snapshot was accepted (data carries the snapshot)
- create, update, or a domain action: a local mutation was applied

Point replicas at the hub with bus.url in erpsync.toml, e.g.
  [bus]
  url = "ws://127.0.0.1:8090/ws"

Example usage:
  erpsync hub                    # Listen on the configured port
  erpsync hub --port 9000        # Listen on a custom port`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig(cmd)
		port := cfg.Bus.HubPort
		if cmd.Flags().Changed("port") {
			port, _ = cmd.Flags().GetInt("port")
		}
		host := cfg.Bus.HubHost
		if cmd.Flags().Changed("host") {
			host, _ = cmd.Flags().GetString("host")
		}

		logger, logFile := newLogger(cfg.Log, "[hub] ")
		defer logFile.Close()

		hub := bus.NewHub(&bus.HubConfig{
			Port:   port,
			Host:   host,
			Logger: logger,
		})

		if err := hub.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to start change hub: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("Change hub started on %s\n", hub.Addr())
		fmt.Printf("WebSocket endpoint: %s\n", hub.URL())
		fmt.Printf("Health check: http://%s/health\n", hub.Addr())
		fmt.Println("\nPress Ctrl+C to stop...")

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		<-ctx.Done()

		fmt.Println("\nShutting down change hub...")
		if err := hub.Stop(); err != nil {
			fmt.Fprintf(os.Stderr, "Error during shutdown: %v\n", err)
			os.Exit(1)
		}

		fmt.Println("Change hub stopped")
	},
}

func init() {
	hubCmd.Flags().IntP("port", "p", 8090, "Port to listen on")
	hubCmd.Flags().String("host", "127.0.0.1", "Address to bind")

	rootCmd.AddCommand(hubCmd)
}
