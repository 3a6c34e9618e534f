package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/baajur/prisma-engines/cli/internal/config"
	"github.com/baajur/prisma-engines/cli/internal/ui"
	migrate "github.com/baajur/prisma-engines/migrate"
	"github.com/baajur/prisma-engines/migrate/diff"
	"github.com/baajur/prisma-engines/migrate/migrations"
)

// NewDiffCommand creates the diff command.
func NewDiffCommand() *cobra.Command {
	var save bool
	var name string

	cmd := &cobra.Command{
		Use:   "diff",
		Short: "Show the SQL that would converge the database onto the schema",
		Long: `Compare the live database structure against the desired schema and
print the migration script that would converge it. Nothing is executed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDiff(save, name)
		},
	}

	cmd.Flags().BoolVar(&save, "save", false, "Write the script into the migrations directory")
	cmd.Flags().StringVar(&name, "name", "migration", "Name for the saved migration")

	return cmd
}

func runDiff(save bool, name string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	cfg, err := loadCLIConfig()
	if err != nil {
		return err
	}
	desired, err := loadDesiredSchema(cfg)
	if err != nil {
		return err
	}

	db, d, err := connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	spinner, _ := ui.PrintSpinner("Describing database...")
	current, err := migrate.Describe(ctx, db, d)
	if err != nil {
		spinner.Fail("Describe failed")
		return err
	}
	spinner.Success("Database described")

	plan, err := migrate.DiffSchemas(current, desired, d)
	if err != nil {
		return err
	}
	if plan.Empty() {
		ui.PrintSuccess("Database matches the schema, nothing to do")
		return nil
	}

	script, err := migrate.Render(plan, d)
	if err != nil {
		return err
	}

	ui.PrintSection(fmt.Sprintf("%d step(s) on %s", len(plan.Steps), d))
	if err := ui.PrintSQL(script); err != nil {
		// Fall back to plain output when the terminal renderer fails.
		fmt.Println(script)
	}

	if destructive := plan.DestructiveSteps(); len(destructive) > 0 {
		ui.PrintWarning("%d destructive step(s):", len(destructive))
		ui.PrintList(summarize(destructive))
	}

	if save {
		store, err := migrations.NewStore(config.AppFs, cfg.MigrationsDir)
		if err != nil {
			return err
		}
		m, err := store.Write(name, script)
		if err != nil {
			return err
		}
		ui.PrintSuccess("Saved migration %s", m.ID)
	}
	return nil
}

func summarize(steps []diff.Step) []string {
	out := make([]string, len(steps))
	for i, s := range steps {
		out[i] = s.Summarize()
	}
	return out
}
