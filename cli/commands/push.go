package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/AlecAivazis/survey/v2"
	"github.com/spf13/cobra"

	"github.com/baajur/prisma-engines/cli/internal/config"
	"github.com/baajur/prisma-engines/cli/internal/ui"
	"github.com/baajur/prisma-engines/internal/debug"
	migrate "github.com/baajur/prisma-engines/migrate"
	"github.com/baajur/prisma-engines/migrate/apply"
	"github.com/baajur/prisma-engines/migrate/migrations"
)

// NewPushCommand creates the push command.
func NewPushCommand() *cobra.Command {
	var acceptDataLoss bool
	var dryRun bool
	var save bool
	var name string

	cmd := &cobra.Command{
		Use:   "push",
		Short: "Apply the desired schema to the database",
		Long: `Converge the database onto the desired schema in one run. Destructive
changes (dropped tables or columns, narrowed types) abort the run unless
confirmed interactively or forced with --accept-data-loss.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPush(acceptDataLoss, dryRun, save, name)
		},
	}

	cmd.Flags().BoolVar(&acceptDataLoss, "accept-data-loss", false, "Apply destructive changes without confirmation")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Render the script without executing it")
	cmd.Flags().BoolVar(&save, "save", false, "Write the applied script into the migrations directory")
	cmd.Flags().StringVar(&name, "name", "migration", "Name recorded in the migration history")

	return cmd
}

func runPush(acceptDataLoss, dryRun, save bool, name string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
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

	applier, err := apply.New(db, d, debug.Logger())
	if err != nil {
		return err
	}

	opts := migrate.PushOptions{Name: name, Force: acceptDataLoss, DryRun: dryRun}
	result, err := applier.Apply(ctx, desired, opts)

	// A destructive plan is not final: show it and ask before retrying
	// with force.
	var destructiveErr *apply.DestructiveError
	if errors.As(err, &destructiveErr) && !dryRun {
		ui.PrintWarning("This migration destroys data:")
		ui.PrintList(summarize(destructiveErr.Steps))

		confirmed := false
		prompt := &survey.Confirm{
			Message: fmt.Sprintf("Apply %d destructive change(s)?", len(destructiveErr.Steps)),
			Default: false,
		}
		if err := survey.AskOne(prompt, &confirmed); err != nil {
			return err
		}
		if !confirmed {
			ui.PrintInfo("Push aborted")
			return nil
		}
		opts.Force = true
		result, err = applier.Apply(ctx, desired, opts)
	}
	if err != nil {
		return err
	}

	switch result.State {
	case apply.StateApplied:
		if result.Record == nil {
			ui.PrintSuccess("Database already matches the schema")
			return nil
		}
		ui.PrintSuccess("Applied %s in %dms", result.Record.ID, result.Record.ExecutionTime)
	case apply.StatePlanned:
		ui.PrintSection(fmt.Sprintf("Dry run: %d step(s) on %s", len(result.Plan.Steps), d))
		if err := ui.PrintSQL(result.Script); err != nil {
			fmt.Println(result.Script)
		}
		return nil
	}

	if save && result.Record != nil {
		store, err := migrations.NewStore(config.AppFs, cfg.MigrationsDir)
		if err != nil {
			return err
		}
		if _, err := store.Write(name, result.Script); err != nil {
			return err
		}
		ui.PrintInfo("Script saved to %s", cfg.MigrationsDir)
	}
	return nil
}
