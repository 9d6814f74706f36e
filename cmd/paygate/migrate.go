package main

import (
	"github.com/spf13/cobra"

	"github.com/dmitrymomot/paygate/migrations"
	"github.com/dmitrymomot/paygate/pkg/logger"
	"github.com/dmitrymomot/paygate/pkg/pg"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations and exit",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		log := newLogger(cfg).With(logger.Component("migrate"))
		ctx := cmd.Context()

		pool, err := pg.Connect(ctx, cfg.Postgres)
		if err != nil {
			return err
		}
		defer pool.Close()

		if err := pg.Migrate(ctx, pool, migrations.FS, cfg.Postgres, log); err != nil {
			return err
		}
		log.InfoContext(ctx, "migrations applied")
		return nil
	},
}
