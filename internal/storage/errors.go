package storage

import (
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/Project-GHOSTLINE/live-monitor-sub001/internal/cce"
)

// ErrNotFound is returned when a requested row does not exist. It is the
// same sentinel the engine checks for.
var ErrNotFound = cce.ErrNotFound

// notFound maps pgx.ErrNoRows to ErrNotFound and passes other errors through.
func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
