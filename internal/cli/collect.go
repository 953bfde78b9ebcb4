package cli

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/sitebook/autodb/internal/collector"
	"github.com/sitebook/autodb/internal/infra/target"
	"github.com/sitebook/autodb/internal/schema"
)

func init() {
	collectCmd.Flags().BoolVar(&collectJSON, "json", false, "Print the snapshot as JSON")
	rootCmd.AddCommand(collectCmd)
}

var collectJSON bool

var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Run one read-only collection pass against the target",
	Long: `Collect metrics and classify issues once, without deciding or fixing
anything and without touching persisted state.`,
	RunE: runCollect,
}

func runCollect(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	db, err := target.Open(ctx, target.Config{
		Driver: cfg.Database.Driver,
		DSN:    cfg.Database.DSN,
		Schema: cfg.Database.Schema,
	})
	if err != nil {
		return err
	}
	defer db.Close()

	var expected *schema.Document
	if cfg.Database.ExpectedSchema != "" {
		if expected, err = schema.LoadFile(cfg.Database.ExpectedSchema); err != nil {
			return err
		}
	}

	threshold, _ := time.ParseDuration(cfg.Collector.SlowQueryThreshold)
	snap, err := collector.New(db, collector.Config{
		SlowQueryThreshold: threshold,
		Expected:           expected,
	}).Collect(ctx)
	if err != nil {
		return err
	}
	if collectJSON {
		return writeJSON(snap)
	}

	fmt.Printf("Score %.0f (%s), %d tables, %d rows, %d slow queries\n",
		snap.PerformanceScore, snap.HealthStatus, snap.TableCount, snap.TotalRows, snap.SlowQueries)
	if len(snap.Issues) == 0 {
		fmt.Println("No issues found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TYPE\tSEVERITY\tAUTO\tDESCRIPTION")
	for _, is := range snap.Issues {
		fmt.Fprintf(w, "%s\t%s\t%t\t%s\n", is.Type, is.Severity, is.AutoFixable, is.Description)
	}
	return w.Flush()
}
