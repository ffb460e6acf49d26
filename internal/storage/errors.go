package storage

import (
	"errors"
	"fmt"
)

// Storage errors shared by every object store backend.
var (
	// ErrNotFound is returned when a requested record does not exist,
	// including a channel with no pinned pointer.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")

	// ErrTransient marks a network or backend failure on upload, replace or
	// download. It is surfaced to the caller; backends never retry writes.
	ErrTransient = errors.New("transient object store failure")

	// ErrContentUnchanged is returned by Replace when the backend reports the
	// new content is identical to the stored one. Callers treat it as success.
	ErrContentUnchanged = errors.New("content unchanged")

	// ErrPointerStale is returned by Replace when the target pointer can no
	// longer be edited and the backend could not re-create it itself.
	ErrPointerStale = errors.New("pointer no longer editable")

	// ErrSchema marks a malformed or unrecognized document.
	ErrSchema = errors.New("unrecognized document schema")

	// ErrPointerConflict is returned when the channel's pinned pointer moved
	// since the document was loaded.
	ErrPointerConflict = errors.New("pointer changed since load")

	// ErrLeaseHeld is returned when another holder owns a partition lease.
	ErrLeaseHeld = errors.New("partition lease held by another process")
)

// Transient wraps err as an ErrTransient failure of op.
func Transient(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrTransient, err)
}
