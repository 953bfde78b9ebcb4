package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/sitebook/autodb/internal/infra/target"
	"github.com/sitebook/autodb/internal/schema"
)

func init() {
	schemaCmd.AddCommand(schemaDumpCmd)
	rootCmd.AddCommand(schemaCmd)
}

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Inspect schema documents",
}

var schemaDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Write the live target schema as YAML",
	Long: `Write the live target schema in the expected-schema format. The output
can be committed and referenced from database.expected_schema.`,
	RunE: runSchemaDump,
}

func runSchemaDump(cmd *cobra.Command, args []string) error {
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

	doc, err := db.Schema(ctx)
	if err != nil {
		return err
	}
	doc.Sort()
	return schema.Dump(os.Stdout, doc)
}
