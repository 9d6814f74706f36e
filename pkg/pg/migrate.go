package pg

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// Migrate applies every pending goose migration found at the root of fsys.
// goose needs database/sql, so the pool is bridged through pgx's stdlib adapter.
func Migrate(ctx context.Context, pool *pgxpool.Pool, fsys fs.FS, cfg Config, log *slog.Logger) error {
	db := stdlib.OpenDBFromPool(pool)
	defer func() {
		if err := db.Close(); err != nil {
			log.ErrorContext(ctx, "failed to close migration connection", "error", err)
		}
	}()

	goose.SetBaseFS(fsys)
	goose.SetLogger(gooseLogger{log: log})
	goose.SetTableName(cfg.MigrationsTable)
	if err := goose.SetDialect("postgres"); err != nil {
		return errors.Join(ErrFailedToApplyMigrations, err)
	}

	if err := goose.UpContext(ctx, db, "."); err != nil {
		return errors.Join(ErrFailedToApplyMigrations, err)
	}
	return nil
}

// gooseLogger routes goose's printf output into slog.
type gooseLogger struct {
	log *slog.Logger
}

func (l gooseLogger) Fatalf(format string, v ...any) {
	l.log.Error(fmt.Sprintf(format, v...), "component", "migrate")
}

func (l gooseLogger) Printf(format string, v ...any) {
	l.log.Info(fmt.Sprintf(format, v...), "component", "migrate")
}
