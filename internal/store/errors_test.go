package store

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestClassifyErr(t *testing.T) {
	tests := []struct {
		name            string
		err             error
		wantUnavailable bool
	}{
		{
			name:            "nil passes through",
			err:             nil,
			wantUnavailable: false,
		},
		{
			name:            "context deadline is transient",
			err:             fmt.Errorf("query: %w", context.DeadlineExceeded),
			wantUnavailable: true,
		},
		{
			name:            "context cancellation is transient",
			err:             context.Canceled,
			wantUnavailable: true,
		},
		{
			name:            "serialization failure is transient",
			err:             &pgconn.PgError{Code: "40001"},
			wantUnavailable: true,
		},
		{
			name:            "deadlock is transient",
			err:             &pgconn.PgError{Code: "40P01"},
			wantUnavailable: true,
		},
		{
			name:            "connection exception class is transient",
			err:             &pgconn.PgError{Code: "08006"},
			wantUnavailable: true,
		},
		{
			name:            "shutdown in progress is transient",
			err:             &pgconn.PgError{Code: "57P01"},
			wantUnavailable: true,
		},
		{
			name:            "constraint violation is not transient",
			err:             &pgconn.PgError{Code: "23505"},
			wantUnavailable: false,
		},
		{
			name:            "plain error is not transient",
			err:             errors.New("boom"),
			wantUnavailable: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyErr(tt.err)
			if tt.err == nil {
				if got != nil {
					t.Fatalf("expected nil, got %v", got)
				}
				return
			}
			if errors.Is(got, ErrUnavailable) != tt.wantUnavailable {
				t.Fatalf("expected unavailable=%t, got error %v", tt.wantUnavailable, got)
			}
			if !tt.wantUnavailable && !errors.Is(got, tt.err) && got.Error() != tt.err.Error() {
				t.Fatalf("expected original error to pass through, got %v", got)
			}
		})
	}
}
