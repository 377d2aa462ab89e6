package main

import (
	"github.com/spf13/cobra"

	"github.com/jackzampolin/tally/internal/server"
)

var (
	serveHost        string
	servePort        string
	serveMaxInFlight int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Tally server",
	Long: `Start the Tally HTTP server.

The server provides:
  - /health      - Basic server health check
  - /status      - Registered providers and stage configuration
  - /extract     - Receipt image to line items
  - /categorize  - Line items to categorized line items
  - /process     - Both stages in one call
  - /prompts     - Effective prompt templates
  - /swagger     - API documentation

Provider settings are reloaded when the config file changes.

Examples:
  tally serve                    # Start on the configured port (default 8080)
  tally serve --port 3000        # Start on custom port
  tally serve --host 0.0.0.0     # Bind to all interfaces`,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, cleanup, err := buildServices()
		if err != nil {
			return err
		}
		defer cleanup()

		cfg := svc.CurrentConfig().Server
		if cmd.Flags().Changed("host") {
			cfg.Host = serveHost
		}
		if cmd.Flags().Changed("port") {
			cfg.Port = servePort
		}
		if cmd.Flags().Changed("max-in-flight") {
			cfg.MaxInFlight = serveMaxInFlight
		}

		srv, err := server.New(server.Config{
			Host:        cfg.Host,
			Port:        cfg.Port,
			MaxInFlight: cfg.MaxInFlight,
			Services:    svc,
			Logger:      svc.Logger,
		})
		if err != nil {
			return err
		}
		svc.Config.WatchConfig()

		// Start server (blocks until shutdown)
		return srv.Start(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "127.0.0.1", "Host to bind to")
	serveCmd.Flags().StringVar(&servePort, "port", "8080", "Port to listen on")
	serveCmd.Flags().IntVar(&serveMaxInFlight, "max-in-flight", 4, "Concurrent pipeline requests (0 = unbounded)")

	rootCmd.AddCommand(serveCmd)
}
