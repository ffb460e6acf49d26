// Package partition holds the durable document of one partition: loading it
// from the object store (with legacy migration), mutating its entities, and
// saving it back with minimal writes.
package partition

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"signal-board/internal/address"
	"signal-board/internal/domain"
	"signal-board/internal/logger"
	"signal-board/internal/observability"
	"signal-board/internal/storage"
)

var (
	// ErrNotLoaded is returned by mutations made before Load.
	ErrNotLoaded = errors.New("partition not loaded")
	// ErrReadOnly is returned by Save on a read-only Database.
	ErrReadOnly = errors.New("partition opened read-only")
)

// SchemaMarker tags canonical documents in their caption.
var SchemaMarker = fmt.Sprintf("schema:v%d", domain.SchemaVersion)

// LoadOutcome describes how Load obtained the document.
type LoadOutcome string

const (
	LoadedCanonical LoadOutcome = "canonical"
	LoadedMigrated  LoadOutcome = "migrated"
	LoadedEmpty     LoadOutcome = "empty"
)

// Database is the in-memory view of one partition document. It is not safe
// for concurrent use; one job owns a Database at a time.
type Database struct {
	id      string
	channel string
	store   storage.ObjectStore
	log     *logger.Logger
	now     func() time.Time
	kind    address.Kind

	optimistic bool
	readOnly   bool

	loaded  bool
	outcome LoadOutcome
	doc     *domain.PartitionDocument
	dirty   bool

	// pointerID is the message the next Save replaces; empty means upload.
	pointerID string
	// pinnedID is the channel pointer last observed or set by this Database.
	pinnedID string
}

// Option configures a Database.
type Option func(*Database)

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(db *Database) {
		db.log = logger.OrNop(l)
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(db *Database) {
		db.now = now
	}
}

// WithOptimisticCheck makes Save re-read the channel pointer first and fail
// with storage.ErrPointerConflict when another writer re-pinned it.
func WithOptimisticCheck() Option {
	return func(db *Database) {
		db.optimistic = true
	}
}

// WithReadOnly disables every write: Load skips the legacy write-back and
// Save fails with ErrReadOnly.
func WithReadOnly() Option {
	return func(db *Database) {
		db.readOnly = true
	}
}

// WithAddressKind sets how token and wallet addresses are normalized.
func WithAddressKind(kind address.Kind) Option {
	return func(db *Database) {
		db.kind = kind
	}
}

// New creates a Database for partition id stored in channel.
func New(id, channel string, store storage.ObjectStore, opts ...Option) *Database {
	db := &Database{
		id:      id,
		channel: channel,
		store:   store,
		log:     logger.Nop(),
		now:     time.Now,
		kind:    address.KindSolana,
		doc:     domain.NewPartitionDocument(id),
	}
	for _, opt := range opts {
		opt(db)
	}
	return db
}

// ID returns the partition id.
func (db *Database) ID() string { return db.id }

// Channel returns the storage channel of the partition.
func (db *Database) Channel() string { return db.channel }

// Dirty reports whether there are unsaved mutations.
func (db *Database) Dirty() bool { return db.dirty }

// Loaded reports whether Load has run.
func (db *Database) Loaded() bool { return db.loaded }

// PointerID returns the pointer the document was last read from or
// written to.
func (db *Database) PointerID() string { return db.pointerID }

// UpdatedAt returns the last save time of the document, unix ms.
func (db *Database) UpdatedAt() int64 { return db.doc.UpdatedAt }

// Caption returns the caption written with the document.
func (db *Database) Caption() string {
	return db.id + " " + SchemaMarker
}

// DocumentName returns the file name of the document.
func (db *Database) DocumentName() string {
	return db.id + "-db.json"
}

// Load obtains the document from the store. It never fails: a missing,
// unreadable or malformed document yields an empty one. A legacy document
// is migrated and written back immediately. Load is memoized.
func (db *Database) Load(ctx context.Context) LoadOutcome {
	if db.loaded {
		return db.outcome
	}

	doc, outcome := db.fetch(ctx)
	db.doc = doc
	db.outcome = outcome
	db.loaded = true
	observability.RecordPartitionLoad(db.id, string(outcome))
	db.updateGauges()

	db.log.Info("partition loaded",
		"partition", db.id,
		"outcome", outcome,
		"tokens", len(doc.Tokens),
		"wallets", len(doc.Wallets),
	)

	if outcome == LoadedMigrated && !db.readOnly {
		db.dirty = true
		if err := db.Save(ctx, true); err != nil {
			db.log.Warn("legacy write-back failed", "partition", db.id, "error", err)
		}
	}
	return outcome
}

func (db *Database) fetch(ctx context.Context) (*domain.PartitionDocument, LoadOutcome) {
	ptr, err := db.store.GetPointer(ctx, db.channel)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			db.log.Warn("get pointer failed, starting empty", "partition", db.id, "error", err)
		}
		return domain.NewPartitionDocument(db.id), LoadedEmpty
	}
	db.pinnedID = ptr.ID

	switch {
	case ptr.HasFile() && strings.Contains(ptr.Caption, SchemaMarker):
		doc, err := db.readCanonical(ctx, ptr)
		if err != nil {
			// The unreadable message is left untouched; the next save
			// uploads a fresh document instead of overwriting it.
			db.log.Error("canonical document unreadable, starting empty",
				"partition", db.id, "pointer", ptr.ID, "error", err)
			return domain.NewPartitionDocument(db.id), LoadedEmpty
		}
		db.pointerID = ptr.ID
		return doc, LoadedCanonical

	case !ptr.HasFile() && strings.TrimSpace(ptr.Text) != "":
		var raw map[string]any
		if err := json.Unmarshal([]byte(ptr.Text), &raw); err != nil {
			db.log.Warn("legacy document is not JSON, starting empty",
				"partition", db.id, "pointer", ptr.ID, "error", err)
			return domain.NewPartitionDocument(db.id), LoadedEmpty
		}
		// Inline text cannot be edited into a file, so the write-back
		// uploads a new document and re-pins.
		return MigrateDocument(raw, db.id, db.now()), LoadedMigrated
	}

	db.log.Warn("pinned pointer is not a partition document, starting empty",
		"partition", db.id, "pointer", ptr.ID)
	return domain.NewPartitionDocument(db.id), LoadedEmpty
}

func (db *Database) readCanonical(ctx context.Context, ptr *storage.Pointer) (*domain.PartitionDocument, error) {
	body, err := db.store.Download(ctx, ptr.FileRef)
	if err != nil {
		return nil, err
	}
	var doc domain.PartitionDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("%w: %w", storage.ErrSchema, err)
	}
	if doc.SchemaVersion != domain.SchemaVersion {
		return nil, fmt.Errorf("%w: schema version %d", storage.ErrSchema, doc.SchemaVersion)
	}
	if doc.Partition != "" && doc.Partition != db.id {
		return nil, fmt.Errorf("%w: document belongs to partition %q", storage.ErrSchema, doc.Partition)
	}
	doc.Partition = db.id
	doc.Normalize()
	return &doc, nil
}

// Save writes the document when it has unsaved changes or force is set.
// An existing document is replaced in place; a stale pointer falls back to
// upload and pin. Errors other than those are returned unretried and leave
// the document dirty.
func (db *Database) Save(ctx context.Context, force bool) (err error) {
	if !db.loaded {
		return ErrNotLoaded
	}
	if db.readOnly {
		return ErrReadOnly
	}
	if !db.dirty && !force {
		return nil
	}

	if db.optimistic {
		if err := db.checkPointer(ctx); err != nil {
			return err
		}
	}

	db.doc.UpdatedAt = db.now().UnixMilli()
	body, err := json.Marshal(db.doc)
	if err != nil {
		return fmt.Errorf("marshal partition %s: %w", db.id, err)
	}
	defer func() { observability.RecordPartitionSave(db.id, len(body), err) }()

	doc := storage.Document{Name: db.DocumentName(), Caption: db.Caption(), Body: body}

	if db.pointerID == "" {
		if err := db.uploadAndPin(ctx, doc); err != nil {
			return err
		}
		db.dirty = false
		return nil
	}

	ref, err := db.store.Replace(ctx, db.channel, db.pointerID, doc)
	switch {
	case err == nil:
		if ref.PointerID != db.pointerID {
			db.log.Info("document re-created under new pointer",
				"partition", db.id, "old", db.pointerID, "new", ref.PointerID)
			db.pointerID = ref.PointerID
			db.pin(ctx)
		}
	case errors.Is(err, storage.ErrContentUnchanged):
		db.log.Debug("document unchanged", "partition", db.id)
	case errors.Is(err, storage.ErrPointerStale):
		db.log.Warn("document pointer stale, uploading fresh copy",
			"partition", db.id, "pointer", db.pointerID)
		if err := db.uploadAndPin(ctx, doc); err != nil {
			return err
		}
	default:
		return fmt.Errorf("replace partition %s: %w", db.id, err)
	}

	db.dirty = false
	return nil
}

func (db *Database) uploadAndPin(ctx context.Context, doc storage.Document) error {
	ref, err := db.store.Upload(ctx, db.channel, doc)
	if err != nil {
		return fmt.Errorf("upload partition %s: %w", db.id, err)
	}
	db.pointerID = ref.PointerID
	db.pin(ctx)
	return nil
}

func (db *Database) pin(ctx context.Context) {
	if storage.PinBestEffort(ctx, db.store, db.log, db.channel, db.pointerID) {
		db.pinnedID = db.pointerID
	}
}

func (db *Database) checkPointer(ctx context.Context) error {
	ptr, err := db.store.GetPointer(ctx, db.channel)
	current := ""
	switch {
	case err == nil:
		current = ptr.ID
	case errors.Is(err, storage.ErrNotFound):
	default:
		return fmt.Errorf("check pointer of partition %s: %w", db.id, err)
	}
	if current != db.pinnedID {
		return fmt.Errorf("partition %s: pinned %q, expected %q: %w",
			db.id, current, db.pinnedID, storage.ErrPointerConflict)
	}
	return nil
}

func (db *Database) updateGauges() {
	observability.UpdatePartitionEntities(db.id, len(db.doc.Tokens), len(db.doc.Wallets), len(db.doc.Recent))
}
