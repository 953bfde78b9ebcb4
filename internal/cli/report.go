package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sitebook/autodb/internal/controller"
	"github.com/sitebook/autodb/internal/daemon"
)

func init() {
	rootCmd.AddCommand(reportCmd)
}

var reportCmd = &cobra.Command{
	Use:   "report <name>",
	Short: "Print a named report as JSON",
	Long: fmt.Sprintf(`Print a named report built from persisted state.

Reports: %s`, strings.Join(controller.ReportNames(), ", ")),
	Args:      cobra.ExactArgs(1),
	ValidArgs: controller.ReportNames(),
	RunE:      runReport,
}

func runReport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	d, err := daemon.NewOffline(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer d.Close()

	report, err := d.Controller.Report(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	return writeJSON(report)
}
