package commands

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/baajur/prisma-engines/cli/internal/ui"
	"github.com/baajur/prisma-engines/cli/internal/watch"
	"github.com/baajur/prisma-engines/internal/debug"
	"github.com/baajur/prisma-engines/migrate/apply"
)

// NewDevCommand creates the dev command.
func NewDevCommand() *cobra.Command {
	var acceptDataLoss bool

	cmd := &cobra.Command{
		Use:   "dev",
		Short: "Watch the schema file and push changes as you edit",
		Long: `Watch the desired schema file and apply every change to the database.
Destructive changes are skipped with a warning unless --accept-data-loss
is set; rerun with push to confirm them interactively.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDev(acceptDataLoss)
		},
	}

	cmd.Flags().BoolVar(&acceptDataLoss, "accept-data-loss", false, "Apply destructive changes without confirmation")

	return cmd
}

func runDev(acceptDataLoss bool) error {
	cfg, err := loadCLIConfig()
	if err != nil {
		return err
	}

	ui.PrintHeader("prisma-migrate dev", "watching "+cfg.SchemaPath)

	sync := func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		desired, err := loadDesiredSchema(cfg)
		if err != nil {
			// Half-saved schema files are expected while editing.
			ui.PrintWarning("Schema not applied: %v", err)
			return nil
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

		result, err := applier.Apply(ctx, desired, apply.Options{Name: "dev", Force: acceptDataLoss})
		var destructiveErr *apply.DestructiveError
		switch {
		case errors.As(err, &destructiveErr):
			ui.PrintWarning("Skipped %d destructive change(s); run `prisma-migrate push` to confirm them", len(destructiveErr.Steps))
			return nil
		case err != nil:
			ui.PrintError("Push failed: %v", err)
			return nil
		}

		if result.Record != nil {
			ui.PrintSuccess("Applied %s", result.Record.ID)
		}
		return nil
	}

	watcher, err := watch.NewWatcher(cfg.SchemaPath, sync)
	if err != nil {
		return err
	}
	if err := watcher.Start(); err != nil {
		watcher.Stop()
		return err
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	<-sigs

	ui.PrintInfo("Stopping")
	return watcher.Stop()
}
