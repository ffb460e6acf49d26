package storage

import (
	"context"
	"time"

	"signal-board/internal/domain"
)

// Pointer is the message currently pinned in a channel. A pointer carries
// either an attached file (FileRef) or inline text; the caller decides which
// one to read.
type Pointer struct {
	ID      string
	FileRef string
	Text    string
	Caption string
}

// HasFile reports whether the pointer carries an attached file.
func (p *Pointer) HasFile() bool {
	return p != nil && p.FileRef != ""
}

// Document is a named binary document written to a channel.
type Document struct {
	Name    string
	Caption string
	Body    []byte
}

// Ref identifies a written document.
type Ref struct {
	PointerID string
	FileRef   string
}

// ObjectStore is the channel-based object store used as the only durable
// medium. Implementations must not retry writes.
type ObjectStore interface {
	// GetPointer returns the pinned pointer of a channel. Returns ErrNotFound
	// if nothing is pinned.
	GetPointer(ctx context.Context, channel string) (*Pointer, error)

	// Upload writes a new document to the channel. The result is not pinned.
	Upload(ctx context.Context, channel string, doc Document) (*Ref, error)

	// Replace overwrites the document held by pointerID. The returned
	// PointerID may differ from pointerID when the backend re-created the
	// document; the caller must then re-pin. Returns ErrContentUnchanged when
	// the content is identical and ErrPointerStale when the pointer cannot be
	// edited any more.
	Replace(ctx context.Context, channel, pointerID string, doc Document) (*Ref, error)

	// Download fetches a document body by file reference.
	Download(ctx context.Context, fileRef string) ([]byte, error)

	// Pin makes pointerID the channel's discoverable pointer.
	Pin(ctx context.Context, channel, pointerID string) error
}

// LeaderboardHistoryStore records every published token leaderboard row.
type LeaderboardHistoryStore interface {
	// InsertBulk appends a published snapshot. Rows share the publish time.
	InsertBulk(ctx context.Context, publishedAt int64, variant domain.Variant, rows []domain.TokenRow) error

	// GetByToken returns all snapshot rows for a token, ordered by publish time ASC.
	GetByToken(ctx context.Context, partition, address string) ([]*LeaderboardSnapshot, error)
}

// LeaderboardSnapshot is a stored leaderboard row.
type LeaderboardSnapshot struct {
	PublishedAt int64
	Variant     domain.Variant
	Rank        int
	Row         domain.TokenRow
}

// PartitionLease is an optional mutual-exclusion lease around a partition's
// read-modify-write cycle.
type PartitionLease interface {
	// Acquire takes the lease for ttl. Returns ErrLeaseHeld if another holder
	// owns it. The returned release func is safe to call more than once.
	Acquire(ctx context.Context, partition string, ttl time.Duration) (release func(context.Context) error, err error)
}
