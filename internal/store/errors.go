package store

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/jackc/pgx/v5/pgconn"
)

// classifyErr tags transient storage failures with ErrUnavailable so callers
// can apply retry-with-backoff to exactly that class and nothing else.
// Sentinel errors and non-transient failures pass through unchanged.
func classifyErr(err error) error {
	if err == nil {
		return nil
	}
	if isTransient(err) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}

func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01": // serialization failure, deadlock detected
			return true
		}
		// Class 08: connection exceptions. Class 57: operator intervention
		// (e.g. shutdown, cannot_connect_now).
		if len(pgErr.Code) >= 2 {
			switch pgErr.Code[:2] {
			case "08", "57":
				return true
			}
		}
	}
	return pgconn.Timeout(err)
}
