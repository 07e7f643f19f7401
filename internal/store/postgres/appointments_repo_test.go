package postgres

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	"fitbook/backend/internal/store"
)

func TestMapWriteError(t *testing.T) {
	t.Run("nil stays nil", func(t *testing.T) {
		if err := mapWriteError(nil); err != nil {
			t.Fatalf("err = %v, want nil", err)
		}
	})

	t.Run("overlap exclusion maps to conflict", func(t *testing.T) {
		err := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23P01", ConstraintName: noOverlapConstraint})
		if got := mapWriteError(err); got != store.ErrConflict {
			t.Fatalf("err = %v, want %v", got, store.ErrConflict)
		}
	})

	t.Run("other exclusion constraints pass through", func(t *testing.T) {
		err := &pgconn.PgError{Code: "23P01", ConstraintName: "something_else"}
		if got := mapWriteError(err); errors.Is(got, store.ErrConflict) {
			t.Fatalf("err = %v, did not expect conflict", got)
		}
	})

	t.Run("serialization failure is transient", func(t *testing.T) {
		for _, code := range []string{"40001", "40P01"} {
			got := mapWriteError(&pgconn.PgError{Code: code, Message: "could not serialize"})
			if !errors.Is(got, store.ErrTransient) {
				t.Fatalf("code %s: err = %v, want %v", code, got, store.ErrTransient)
			}
		}
	})

	t.Run("non postgres errors pass through", func(t *testing.T) {
		plain := errors.New("boom")
		if got := mapWriteError(plain); got != plain {
			t.Fatalf("err = %v, want %v", got, plain)
		}
	})
}
