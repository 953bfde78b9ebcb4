package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/sitebook/autodb/internal/daemon"
)

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Print the raw state document")
	rootCmd.AddCommand(statusCmd)
}

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the persisted controller state",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	d, err := daemon.NewOffline(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer d.Close()

	st := d.Controller.Status()
	if statusJSON {
		return writeJSON(st)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "STATUS\t%s\n", st.Status)
	fmt.Fprintf(w, "SYSTEM HEALTH\t%.0f\n", st.SystemHealth)
	fmt.Fprintf(w, "EMERGENCY MODE\t%t\n", st.EmergencyMode)
	fmt.Fprintf(w, "DECISIONS\t%d\n", st.AIDecisions)
	fmt.Fprintf(w, "AUTOMATIC FIXES\t%d of %d\n", st.AutomaticFixes, cfg.Policy.MaxAutomaticChanges)
	fmt.Fprintf(w, "LEARNING PROGRESS\t%.0f%%\n", st.LearningProgress)
	fmt.Fprintf(w, "RECOMMENDATIONS\t%d\n", len(st.Recommendations))
	fmt.Fprintf(w, "ERRORS\t%d\n", st.ErrorCount)
	if st.LastAction != "" {
		fmt.Fprintf(w, "LAST ACTION\t%s (%s)\n", st.LastAction, st.LastActionTime.Format(time.RFC3339))
	}
	return w.Flush()
}

func writeJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
