// Package pg bootstraps PostgreSQL access on top of pgx/v5.
//
// Connect opens a *pgxpool.Pool from Config (populated from the environment)
// and retries while the database comes up. Migrate applies goose migrations
// from an fs.FS, usually an embedded directory. WithTx wraps a function in a
// transaction, and the Is* helpers classify driver errors so stores can map
// them onto domain errors without importing pgconn themselves.
package pg
