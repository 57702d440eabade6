package main

import (
	"github.com/spf13/cobra"

	"github.com/permitguard/permitguard/internal/db"
	"github.com/permitguard/permitguard/internal/db/migrations"
)

func newMigrateCmd() *cobra.Command {
	var status bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			_, log, pool, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			if status {
				return db.MigrationStatus(ctx, pool, log, migrations.FS)
			}

			return db.RunMigrations(ctx, pool, log, migrations.FS)
		},
	}

	cmd.Flags().BoolVar(&status, "status", false, "Show applied and pending migrations instead of applying them")

	return cmd
}
