package store

import (
	"database/sql"
	"errors"
	"fmt"
)

// Sentinel errors for the §7 error taxonomy that internal/store owns.
var (
	ErrNotFound           = errors.New("store: document not found")
	ErrBadColumnName      = errors.New("store: bad column name")
	ErrDuplicateOrPrefix  = errors.New("store: duplicate or prefix index")
	ErrIndexWarning       = errors.New("store: index declaration has no columns")
	ErrInvalidDropKey     = errors.New("store: invalid drop key")
	ErrMissingID          = errors.New("store: document missing _id")
)

// wrapDBError wraps a database error with operation context, converting
// sql.ErrNoRows into ErrNotFound for consistent handling by callers.
func wrapDBError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return fmt.Errorf("%s: %w", op, err)
}
