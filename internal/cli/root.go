// Package cli implements the autodb command-line interface using Cobra.
// Each subcommand maps to one controller capability (serve, status,
// report, collect, schema dump).
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sitebook/autodb/internal/daemon"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "autodb",
	Short: "autodb: autonomous database control",
	Long: `autodb watches a database's schema and performance, fixes what the
safety policy allows, defers everything else to a human and learns
recurring structural patterns.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default $AUTODB_HOME/config.toml)")
}

// Execute runs the root command. Called from main.go.
func Execute(version string) {
	rootCmd.Version = version

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func loadConfig() (daemon.Config, error) {
	if configPath != "" {
		return daemon.LoadConfigFile(configPath)
	}
	return daemon.LoadConfig()
}
