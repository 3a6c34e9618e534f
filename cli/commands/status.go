package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/baajur/prisma-engines/cli/internal/ui"
	migrate "github.com/baajur/prisma-engines/migrate"
)

// NewStatusCommand creates the status command.
func NewStatusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Check whether the database matches the desired schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus()
		},
	}
	return cmd
}

func runStatus() error {
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

	current, err := migrate.Describe(ctx, db, d)
	if err != nil {
		return err
	}

	printers := ui.GetColorPrinters()
	records, err := migrate.Status(ctx, db, d)
	if err != nil {
		return err
	}
	printers["info"].Printf("%d migration(s) recorded in %s\n", len(records), d)

	plan, err := migrate.DiffSchemas(current, desired, d)
	if err != nil {
		return err
	}
	if plan.Empty() {
		printers["success"].Println("Database is in sync with the schema")
		return nil
	}

	printers["warning"].Printf("Database has drifted: %d pending step(s)\n", len(plan.Steps))
	ui.PrintList(summarize(plan.Steps))
	if destructive := plan.DestructiveSteps(); len(destructive) > 0 {
		printers["error"].Printf("%d of them destroy data\n", len(destructive))
	}
	fmt.Println()
	ui.PrintInfo("Run `prisma-migrate push` to converge the database")
	return nil
}
