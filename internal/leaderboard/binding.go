package leaderboard

import (
	"context"
	"errors"
	"fmt"

	"signal-board/internal/logger"
	"signal-board/internal/observability"
	"signal-board/internal/storage"
)

// Binding is the state of one materialized view: Unbound, or Bound to the
// pointer holding its latest content.
type Binding struct {
	pointer string
}

// Unbound returns the binding of a view that was never published.
func Unbound() Binding { return Binding{} }

// Bound returns a binding to pointerID. An empty id is Unbound.
func Bound(pointerID string) Binding { return Binding{pointer: pointerID} }

// IsBound reports whether the view has a pointer.
func (b Binding) IsBound() bool { return b.pointer != "" }

// PointerID returns the bound pointer, "" when unbound.
func (b Binding) PointerID() string { return b.pointer }

// Upsert outcomes, as recorded in metrics.
const (
	UpsertCreated   = "created"
	UpsertReplaced  = "replaced"
	UpsertUnchanged = "unchanged"
	UpsertFallback  = "fallback"
	UpsertError     = "error"
)

// Upsert publishes doc behind b. A bound view is replaced in place; content
// the backend reports as unchanged keeps the binding as is; any other
// replace failure falls back to upload and pin. An unbound view is
// uploaded and pinned. On error the previous binding is returned intact.
func Upsert(ctx context.Context, store storage.ObjectStore, log *logger.Logger, channel string, b Binding, doc storage.Document) (Binding, error) {
	log = logger.OrNop(log)

	if !b.IsBound() {
		next, err := uploadAndPin(ctx, store, log, channel, doc)
		if err != nil {
			observability.RecordViewUpsert(UpsertError)
			return b, err
		}
		observability.RecordViewUpsert(UpsertCreated)
		return next, nil
	}

	ref, err := store.Replace(ctx, channel, b.pointer, doc)
	switch {
	case err == nil:
		observability.RecordViewUpsert(UpsertReplaced)
		if ref.PointerID != b.pointer {
			storage.PinBestEffort(ctx, store, log, channel, ref.PointerID)
			return Bound(ref.PointerID), nil
		}
		return b, nil

	case errors.Is(err, storage.ErrContentUnchanged):
		observability.RecordViewUpsert(UpsertUnchanged)
		return b, nil

	default:
		log.Warn("view replace failed, re-uploading",
			"channel", channel, "view", doc.Name, "pointer", b.pointer, "error", err)
		next, upErr := uploadAndPin(ctx, store, log, channel, doc)
		if upErr != nil {
			observability.RecordViewUpsert(UpsertError)
			return b, fmt.Errorf("replace: %v; upload: %w", err, upErr)
		}
		observability.RecordViewUpsert(UpsertFallback)
		return next, nil
	}
}

func uploadAndPin(ctx context.Context, store storage.ObjectStore, log *logger.Logger, channel string, doc storage.Document) (Binding, error) {
	ref, err := store.Upload(ctx, channel, doc)
	if err != nil {
		return Binding{}, fmt.Errorf("upload %s: %w", doc.Name, err)
	}
	storage.PinBestEffort(ctx, store, log, channel, ref.PointerID)
	return Bound(ref.PointerID), nil
}
