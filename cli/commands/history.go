package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/baajur/prisma-engines/cli/internal/config"
	"github.com/baajur/prisma-engines/cli/internal/ui"
	"github.com/baajur/prisma-engines/migrate/history"
	"github.com/baajur/prisma-engines/migrate/migrations"
)

// NewHistoryCommand creates the history command.
func NewHistoryCommand() *cobra.Command {
	var markRolledBack string

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show the migration history recorded in the database",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(markRolledBack)
		},
	}

	cmd.Flags().StringVar(&markRolledBack, "mark-rolled-back", "", "Flag the given migration id as rolled back")

	return cmd
}

func runHistory(markRolledBack string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	cfg, err := loadCLIConfig()
	if err != nil {
		return err
	}
	db, d, err := connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	mgr := history.NewManager(db, d)
	if err := mgr.InitTable(ctx); err != nil {
		return err
	}

	if markRolledBack != "" {
		if err := mgr.MarkRolledBack(ctx, markRolledBack); err != nil {
			return err
		}
		ui.PrintSuccess("Marked %s as rolled back", markRolledBack)
	}

	records, err := mgr.All(ctx)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		ui.PrintInfo("No migrations recorded")
		return nil
	}

	// Cross-check against the local migrations directory: scripts edited
	// after the fact no longer match their recorded checksum.
	local := map[string]migrations.Migration{}
	if store, err := migrations.NewStore(config.AppFs, cfg.MigrationsDir); err == nil {
		if list, err := store.List(); err == nil {
			for _, m := range list {
				local[m.ID] = m
			}
		}
	}

	rows := make([][]string, 0, len(records))
	for _, rec := range records {
		state := "applied"
		if rec.RolledBack {
			state = "rolled back"
		}
		checksum := "-"
		if m, ok := local[rec.ID]; ok {
			if history.Checksum(m.Script) == rec.Checksum {
				checksum = "ok"
			} else {
				checksum = "MODIFIED"
			}
		}
		rows = append(rows, []string{
			rec.ID,
			state,
			rec.AppliedAt.Format(time.RFC3339),
			fmt.Sprintf("%dms", rec.ExecutionTime),
			checksum,
		})
	}
	ui.PrintTable([]string{"Migration", "State", "Applied at", "Duration", "Script"}, rows)
	return nil
}
