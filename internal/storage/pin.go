package storage

import (
	"context"

	"signal-board/internal/observability"
)

// PinLogger is the subset of the logger PinBestEffort needs.
type PinLogger interface {
	Warn(msg string, keysAndValues ...interface{})
}

// PinBestEffort pins pointerID and swallows any failure. Pinning only
// speeds up discovery after a cold start; it never affects correctness.
// Returns true when the pin succeeded.
func PinBestEffort(ctx context.Context, store ObjectStore, log PinLogger, channel, pointerID string) bool {
	if err := store.Pin(ctx, channel, pointerID); err != nil {
		observability.RecordPinFailure()
		if log != nil {
			log.Warn("pin failed", "channel", channel, "pointer", pointerID, "error", err)
		}
		return false
	}
	return true
}
