// Package pgtest gives integration tests an isolated, migrated schema.
//
// Tests are skipped unless PAYGATE_TEST_DATABASE_URL points at a PostgreSQL
// server the test user may create schemas on.
package pgtest

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/paygate/migrations"
	"github.com/dmitrymomot/paygate/pkg/logger"
	"github.com/dmitrymomot/paygate/pkg/pg"
)

const DatabaseEnv = "PAYGATE_TEST_DATABASE_URL"

// NewPool creates a fresh schema, applies every migration to it and drops it
// when the test ends.
func NewPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	dsn := os.Getenv(DatabaseEnv)
	if dsn == "" {
		t.Skipf("%s not set", DatabaseEnv)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	admin, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	schema := fmt.Sprintf("test_%d", time.Now().UnixNano())
	_, err = admin.Exec(ctx, "CREATE SCHEMA "+schema)
	require.NoError(t, err)

	cfg, err := pgxpool.ParseConfig(dsn)
	require.NoError(t, err)
	cfg.ConnConfig.RuntimeParams["search_path"] = schema
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	require.NoError(t, err)

	t.Cleanup(func() {
		pool.Close()
		_, _ = admin.Exec(context.Background(), "DROP SCHEMA "+schema+" CASCADE")
		admin.Close()
	})

	require.NoError(t, pg.Migrate(ctx, pool, migrations.FS, pg.Config{MigrationsTable: "schema_migrations"}, logger.Nop()))
	return pool
}
