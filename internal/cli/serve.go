package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/sitebook/autodb/internal/daemon"
)

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Host to listen on (overrides config)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Port to listen on (overrides config)")
	serveCmd.Flags().BoolVar(&serveNoStart, "no-start", false, "Serve the API without starting the controller")
	rootCmd.AddCommand(serveCmd)
}

var (
	serveHost    string
	servePort    int
	serveNoStart bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the controller and its HTTP API",
	Long: `Start the control loop and the HTTP API used by the dashboard.
SIGINT or SIGTERM stops the controller gracefully and flushes state.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Override config from flags
	if serveHost != "" {
		cfg.API.Host = serveHost
	}
	if servePort > 0 {
		cfg.API.Port = servePort
	}

	ctx := context.Background()
	d, err := daemon.NewWithConfig(ctx, cfg)
	if err != nil {
		return err
	}
	defer d.Close()

	return d.Serve(ctx, !serveNoStart)
}
