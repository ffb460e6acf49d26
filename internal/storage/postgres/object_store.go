package postgres

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"signal-board/internal/observability"
	"signal-board/internal/storage"
)

const backendName = "postgres"

// ObjectStore implements storage.ObjectStore on PostgreSQL. Each document is
// a row in store_documents; the pin of a channel is a row in store_pins.
// File refs are regenerated on every write, like attachment ids on a
// messaging platform.
type ObjectStore struct {
	pool *Pool
}

// NewObjectStore creates a new ObjectStore.
func NewObjectStore(pool *Pool) *ObjectStore {
	return &ObjectStore{pool: pool}
}

// Compile-time interface check.
var _ storage.ObjectStore = (*ObjectStore)(nil)

// GetPointer returns the pinned document of channel. Returns ErrNotFound if
// nothing is pinned.
func (s *ObjectStore) GetPointer(ctx context.Context, channel string) (p *storage.Pointer, err error) {
	defer func(start time.Time) { observability.RecordStoreOp(backendName, "get_pointer", start, err) }(time.Now())

	query := `
		SELECT d.pointer_id, d.file_ref, d.caption, d.inline_text, d.body IS NOT NULL
		FROM store_pins p
		JOIN store_documents d ON d.pointer_id = p.pointer_id
		WHERE p.channel = $1
	`

	var (
		id      int64
		ptr     storage.Pointer
		hasBody bool
	)
	err = s.pool.QueryRow(ctx, query, channel).Scan(&id, &ptr.FileRef, &ptr.Caption, &ptr.Text, &hasBody)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, classify("get pointer", err)
	}
	ptr.ID = strconv.FormatInt(id, 10)
	if !hasBody {
		ptr.FileRef = ""
	}
	return &ptr, nil
}

// Upload inserts doc as a new row.
func (s *ObjectStore) Upload(ctx context.Context, channel string, doc storage.Document) (ref *storage.Ref, err error) {
	defer func(start time.Time) { observability.RecordStoreOp(backendName, "upload", start, err) }(time.Now())

	if channel == "" {
		return nil, storage.ErrInvalidInput
	}

	query := `
		INSERT INTO store_documents (channel, name, caption, body, digest, file_ref)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING pointer_id
	`

	fileRef := uuid.NewString()
	var id int64
	err = s.pool.QueryRow(ctx, query, channel, doc.Name, doc.Caption, doc.Body, digest(doc), fileRef).Scan(&id)
	if err != nil {
		return nil, classify("upload", err)
	}
	observability.RecordStoreBytes(backendName, "out", len(doc.Body))
	return &storage.Ref{PointerID: strconv.FormatInt(id, 10), FileRef: fileRef}, nil
}

// Replace overwrites the row behind pointerID. Identical caption and body
// return ErrContentUnchanged; a missing row returns ErrPointerStale.
func (s *ObjectStore) Replace(ctx context.Context, channel, pointerID string, doc storage.Document) (ref *storage.Ref, err error) {
	defer func(start time.Time) { observability.RecordStoreOp(backendName, "replace", start, err) }(time.Now())

	id, err := strconv.ParseInt(pointerID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: pointer %q", storage.ErrPointerStale, pointerID)
	}

	var current []byte
	err = s.pool.QueryRow(ctx,
		`SELECT digest FROM store_documents WHERE pointer_id = $1 AND channel = $2`,
		id, channel,
	).Scan(&current)
	if err != nil {
		if isNotFoundError(err) {
			return nil, fmt.Errorf("%w: pointer %s", storage.ErrPointerStale, pointerID)
		}
		return nil, classify("replace", err)
	}

	sum := digest(doc)
	if bytes.Equal(current, sum) {
		return nil, storage.ErrContentUnchanged
	}

	query := `
		UPDATE store_documents
		SET name = $3, caption = $4, body = $5, digest = $6, file_ref = $7, inline_text = '', updated_at = now()
		WHERE pointer_id = $1 AND channel = $2
	`

	fileRef := uuid.NewString()
	tag, err := s.pool.Exec(ctx, query, id, channel, doc.Name, doc.Caption, doc.Body, sum, fileRef)
	if err != nil {
		return nil, classify("replace", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, fmt.Errorf("%w: pointer %s", storage.ErrPointerStale, pointerID)
	}
	observability.RecordStoreBytes(backendName, "out", len(doc.Body))
	return &storage.Ref{PointerID: pointerID, FileRef: fileRef}, nil
}

// Download returns the body stored under fileRef.
func (s *ObjectStore) Download(ctx context.Context, fileRef string) (body []byte, err error) {
	defer func(start time.Time) { observability.RecordStoreOp(backendName, "download", start, err) }(time.Now())

	err = s.pool.QueryRow(ctx,
		`SELECT body FROM store_documents WHERE file_ref = $1 AND body IS NOT NULL`,
		fileRef,
	).Scan(&body)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, classify("download", err)
	}
	observability.RecordStoreBytes(backendName, "in", len(body))
	return body, nil
}

// Pin points channel at pointerID. Returns ErrNotFound if the document
// does not exist.
func (s *ObjectStore) Pin(ctx context.Context, channel, pointerID string) (err error) {
	defer func(start time.Time) { observability.RecordStoreOp(backendName, "pin", start, err) }(time.Now())

	id, err := strconv.ParseInt(pointerID, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: pointer %q", storage.ErrInvalidInput, pointerID)
	}

	query := `
		INSERT INTO store_pins (channel, pointer_id, pinned_at)
		VALUES ($1, $2, now())
		ON CONFLICT (channel) DO UPDATE SET pointer_id = EXCLUDED.pointer_id, pinned_at = EXCLUDED.pinned_at
	`

	if _, err := s.pool.Exec(ctx, query, channel, id); err != nil {
		if isForeignKeyError(err) {
			return storage.ErrNotFound
		}
		return classify("pin", err)
	}
	return nil
}

// PostText inserts an inline text message without an attachment. Used to
// seed channels with documents written by older tooling.
func (s *ObjectStore) PostText(ctx context.Context, channel, text string) (string, error) {
	query := `
		INSERT INTO store_documents (channel, name, inline_text, file_ref)
		VALUES ($1, '', $2, $3)
		RETURNING pointer_id
	`

	var id int64
	if err := s.pool.QueryRow(ctx, query, channel, text, uuid.NewString()).Scan(&id); err != nil {
		return "", classify("post text", err)
	}
	return strconv.FormatInt(id, 10), nil
}

func digest(doc storage.Document) []byte {
	h := sha256.New()
	h.Write([]byte(doc.Caption))
	h.Write([]byte{0})
	h.Write(doc.Body)
	return h.Sum(nil)
}
