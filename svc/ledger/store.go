package ledger

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrInvalidEntry    = errors.New("ledger: invalid entry")
	ErrEntryNotFound   = errors.New("ledger: entry not found")
	ErrDuplicateEntry  = errors.New("ledger: entry already recorded")
	ErrAlreadyReversed = errors.New("ledger: entry already reversed")
	ErrReverseReversal = errors.New("ledger: a reversal cannot be reversed")
	ErrSummaryFailed   = errors.New("ledger: failed to build summary")
)

// Totals are the net aggregates over every row. Each reversal subtracts the
// row it reverses.
type Totals struct {
	Revenue     decimal.Decimal
	Discount    decimal.Decimal
	Redemptions int64
	Payments    int64
}

// Store persists ledger rows. Insert returns ErrDuplicateEntry when a
// non-reversal payment with the same event id, or a second reversal of the
// same row, already exists.
type Store interface {
	Insert(ctx context.Context, e *Entry) error
	Get(ctx context.Context, id uuid.UUID) (*Entry, error)
	// List returns matching rows newest first, at most f.Limit of them.
	List(ctx context.Context, f Filter) ([]Entry, error)
	Totals(ctx context.Context) (Totals, error)
}
