// Package gcs implements storage.ObjectStore on a Google Cloud Storage
// bucket. It backs the cold archive channel: bundles are written once and
// read back only by operators.
//
// Layout: every document is the object "<channel>/<pointer>-<name>" and the
// pin of a channel is the object "<channel>/_pinned" holding a pointer id.
package gcs

import (
	"bytes"
	"context"
	"crypto/md5"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	cloudstorage "cloud.google.com/go/storage"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"signal-board/internal/observability"
	"signal-board/internal/storage"
)

const (
	backendName = "gcs"
	pinnedName  = "_pinned"
	captionKey  = "caption"

	opTimeout = 2 * time.Minute
)

// ObjectStore is a bucket-backed storage.ObjectStore.
type ObjectStore struct {
	client *cloudstorage.Client
	bucket string
	owned  bool
}

// NewObjectStore creates a client for bucket. Options are passed to the
// storage client (credentials, endpoint).
func NewObjectStore(ctx context.Context, bucket string, opts ...option.ClientOption) (*ObjectStore, error) {
	if bucket == "" {
		return nil, fmt.Errorf("%w: empty bucket", storage.ErrInvalidInput)
	}
	opts = append(opts, option.WithScopes(cloudstorage.ScopeReadWrite))
	client, err := cloudstorage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return &ObjectStore{client: client, bucket: bucket, owned: true}, nil
}

// NewObjectStoreWithClient wraps an existing client. Close leaves it open.
func NewObjectStoreWithClient(client *cloudstorage.Client, bucket string) *ObjectStore {
	return &ObjectStore{client: client, bucket: bucket}
}

// Close releases the client if this store created it.
func (s *ObjectStore) Close() error {
	if !s.owned {
		return nil
	}
	return s.client.Close()
}

var _ storage.ObjectStore = (*ObjectStore)(nil)

func pointerPrefix(channel, pointerID string) string {
	return channel + "/" + pointerID + "-"
}

func objectKey(channel, pointerID, name string) string {
	return pointerPrefix(channel, pointerID) + name
}

// findObject returns the attributes of the document behind pointerID.
func (s *ObjectStore) findObject(ctx context.Context, channel, pointerID string) (*cloudstorage.ObjectAttrs, error) {
	it := s.client.Bucket(s.bucket).Objects(ctx, &cloudstorage.Query{Prefix: pointerPrefix(channel, pointerID)})
	attrs, err := it.Next()
	if errors.Is(err, iterator.Done) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, storage.Transient("list", err)
	}
	return attrs, nil
}

// GetPointer reads the pin object of channel.
func (s *ObjectStore) GetPointer(ctx context.Context, channel string) (p *storage.Pointer, err error) {
	defer func(start time.Time) { observability.RecordStoreOp(backendName, "get_pointer", start, err) }(time.Now())

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	raw, err := s.read(ctx, channel+"/"+pinnedName)
	if err != nil {
		return nil, err
	}
	pointerID := strings.TrimSpace(string(raw))

	attrs, err := s.findObject(ctx, channel, pointerID)
	if err != nil {
		return nil, err
	}
	return &storage.Pointer{ID: pointerID, FileRef: attrs.Name, Caption: attrs.Metadata[captionKey]}, nil
}

// Upload writes doc under a fresh pointer id.
func (s *ObjectStore) Upload(ctx context.Context, channel string, doc storage.Document) (ref *storage.Ref, err error) {
	defer func(start time.Time) { observability.RecordStoreOp(backendName, "upload", start, err) }(time.Now())

	if channel == "" || strings.Contains(channel, "/") {
		return nil, fmt.Errorf("%w: channel %q", storage.ErrInvalidInput, channel)
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	pointerID := uuid.NewString()
	key := objectKey(channel, pointerID, doc.Name)
	if err := s.write(ctx, key, doc.Caption, doc.Body); err != nil {
		return nil, err
	}
	return &storage.Ref{PointerID: pointerID, FileRef: key}, nil
}

// Replace overwrites the document behind pointerID. Returns
// ErrContentUnchanged when body and caption match the stored object and
// ErrPointerStale when the object is gone.
func (s *ObjectStore) Replace(ctx context.Context, channel, pointerID string, doc storage.Document) (ref *storage.Ref, err error) {
	defer func(start time.Time) { observability.RecordStoreOp(backendName, "replace", start, err) }(time.Now())

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	attrs, err := s.findObject(ctx, channel, pointerID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: pointer %s", storage.ErrPointerStale, pointerID)
	}
	if err != nil {
		return nil, err
	}

	sum := md5.Sum(doc.Body)
	key := objectKey(channel, pointerID, doc.Name)
	if attrs.Name == key && bytes.Equal(attrs.MD5, sum[:]) && attrs.Metadata[captionKey] == doc.Caption {
		return nil, storage.ErrContentUnchanged
	}

	if err := s.write(ctx, key, doc.Caption, doc.Body); err != nil {
		return nil, err
	}
	if attrs.Name != key {
		if err := s.client.Bucket(s.bucket).Object(attrs.Name).Delete(ctx); err != nil && !errors.Is(err, cloudstorage.ErrObjectNotExist) {
			return nil, storage.Transient("delete", err)
		}
	}
	return &storage.Ref{PointerID: pointerID, FileRef: key}, nil
}

// Download reads the object named fileRef.
func (s *ObjectStore) Download(ctx context.Context, fileRef string) (body []byte, err error) {
	defer func(start time.Time) { observability.RecordStoreOp(backendName, "download", start, err) }(time.Now())

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	body, err = s.read(ctx, fileRef)
	if err != nil {
		return nil, err
	}
	observability.RecordStoreBytes(backendName, "in", len(body))
	return body, nil
}

// Pin writes pointerID into the pin object of channel. Returns ErrNotFound
// if no document carries that pointer.
func (s *ObjectStore) Pin(ctx context.Context, channel, pointerID string) (err error) {
	defer func(start time.Time) { observability.RecordStoreOp(backendName, "pin", start, err) }(time.Now())

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if _, err := s.findObject(ctx, channel, pointerID); err != nil {
		return err
	}
	return s.write(ctx, channel+"/"+pinnedName, "", []byte(pointerID))
}

func (s *ObjectStore) read(ctx context.Context, key string) ([]byte, error) {
	r, err := s.client.Bucket(s.bucket).Object(key).NewReader(ctx)
	if errors.Is(err, cloudstorage.ErrObjectNotExist) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, storage.Transient("read", err)
	}
	defer r.Close()

	body, err := io.ReadAll(r)
	if err != nil {
		return nil, storage.Transient("read", err)
	}
	return body, nil
}

func (s *ObjectStore) write(ctx context.Context, key, caption string, body []byte) error {
	w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	w.ContentType = "application/json"
	if caption != "" {
		w.Metadata = map[string]string{captionKey: caption}
	}
	if _, err := w.Write(body); err != nil {
		_ = w.Close()
		return storage.Transient("write", err)
	}
	if err := w.Close(); err != nil {
		return storage.Transient("write", err)
	}
	observability.RecordStoreBytes(backendName, "out", len(body))
	return nil
}
