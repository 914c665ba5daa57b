package ledger

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestMapPgError(t *testing.T) {
	plain := errors.New("connection reset")

	tests := []struct {
		name string
		err  error
		want error
	}{
		{name: "serialization failure", err: &pgconn.PgError{Code: "40001"}, want: ErrConcurrentModification},
		{name: "deadlock", err: &pgconn.PgError{Code: "40P01"}, want: ErrConcurrentModification},
		{name: "unique violation", err: &pgconn.PgError{Code: "23505", ConstraintName: "accounts_pkey"}, want: ErrAlreadyExists},
		{name: "check violation", err: &pgconn.PgError{Code: "23514", ConstraintName: "accounts_balance_check"}, want: ErrInsufficientFunds},
		{name: "wrapped pg error", err: fmt.Errorf("insert call: %w", &pgconn.PgError{Code: "23505"}), want: ErrAlreadyExists},
		{name: "non pg error", err: plain, want: plain},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mapPgError(tt.err)
			if !errors.Is(got, tt.want) {
				t.Fatalf("mapPgError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestMapPgErrorKeepsUnknownCodes(t *testing.T) {
	in := &pgconn.PgError{Code: "42P01", Message: "relation does not exist"}
	got := mapPgError(in)
	for _, sentinel := range []error{ErrConcurrentModification, ErrAlreadyExists, ErrInsufficientFunds} {
		if errors.Is(got, sentinel) {
			t.Fatalf("unknown code mapped to %v", sentinel)
		}
	}
	var pgErr *pgconn.PgError
	if !errors.As(got, &pgErr) || pgErr.Code != "42P01" {
		t.Fatalf("expected the original pg error, got %v", got)
	}
}
