package database

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/jackc/pgx/v5/pgconn"
)

// Sentinel errors for backend failure classes. Store packages surface these
// so callers can branch without knowing pgx internals.
var (
	// ErrUnavailable indicates the backend is unreachable. Agent loops sleep
	// and retry on this; they do not crash.
	ErrUnavailable = errors.New("database unavailable")

	// ErrConflict indicates a unique-key violation. Expected under claim
	// races and dedup inserts.
	ErrConflict = errors.New("conflict")
)

// uniqueViolation is the PostgreSQL error code for unique-key violations.
const uniqueViolation = "23505"

// Classify maps a backend error onto the sentinel taxonomy. Errors that fit
// neither class pass through unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", ErrConflict, pgErr.ConstraintName)
	}

	var connectErr *pgconn.ConnectError
	var netErr net.Error
	if errors.As(err, &connectErr) || errors.As(err, &netErr) ||
		errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return err
}
