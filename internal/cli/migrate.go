package cli

import (
	"context"
	"database/sql"

	"github.com/carrierhub/provisioner/internal/provisioner/config"
	"github.com/carrierhub/provisioner/internal/provisioner/db/dbmanager"
	"github.com/carrierhub/provisioner/internal/provisioner/db/migrations"
	"github.com/spf13/cobra"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}

	var target int64
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations down to --to (default: one step)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(cmd.Context(), func(ctx context.Context, db *sql.DB) error {
				return migrations.Down(ctx, db, target)
			})
		},
	}
	down.Flags().Int64Var(&target, "to", 0, "Target version; 0 rolls back a single migration")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withDB(cmd.Context(), migrations.Up)
			},
		},
		down,
		&cobra.Command{
			Use:   "status",
			Short: "Print the state of every migration",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withDB(cmd.Context(), migrations.Status)
			},
		},
	)
	return cmd
}

func withDB(ctx context.Context, fn func(ctx context.Context, db *sql.DB) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg := config.Config()
	db, err := dbmanager.Open(ctx, cfg.DSN(), dbmanager.PoolOptions{
		MaxOpenConns:     2,
		StatementTimeout: cfg.StatementTimeout(),
	})
	if err != nil {
		return err
	}
	defer db.Close()
	if err := fn(ctx, db); err != nil {
		return err
	}
	okLabel.Println("[OK] done")
	return nil
}
