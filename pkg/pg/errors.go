package pg

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrFailedToOpenDBConnection = errors.New("failed to open db connection")
	ErrEmptyConnectionString    = errors.New("empty postgres connection string, use DATABASE_URL env var")
	ErrHealthcheckFailed        = errors.New("healthcheck failed, connection is not available")
	ErrFailedToParseDBConfig    = errors.New("failed to parse db config")
	ErrFailedToApplyMigrations  = errors.New("failed to apply migrations")
)

// IsNotFoundError reports whether err is pgx.ErrNoRows.
func IsNotFoundError(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// IsDuplicateKeyError detects unique constraint violations (SQLSTATE 23505).
func IsDuplicateKeyError(err error) bool {
	return hasCode(err, "23505")
}

// IsForeignKeyViolationError detects referential integrity violations (SQLSTATE 23503).
func IsForeignKeyViolationError(err error) bool {
	return hasCode(err, "23503")
}

// IsCheckViolationError detects CHECK constraint violations (SQLSTATE 23514).
func IsCheckViolationError(err error) bool {
	return hasCode(err, "23514")
}

// ConstraintName returns the constraint a PostgreSQL error refers to, if any.
func ConstraintName(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.ConstraintName
	}
	return ""
}

// IsConnectionError reports whether err means the database could not be
// reached at all, as opposed to a query being rejected.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return true
	}
	// SQLSTATE class 08: connection exception.
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && len(pgErr.Code) == 5 && pgErr.Code[:2] == "08"
}

func hasCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}
