package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signal-board/internal/storage"
)

func TestObjectStore_UploadPinGetPointer(t *testing.T) {
	store := NewObjectStore()
	ctx := context.Background()

	_, err := store.GetPointer(ctx, "chan")
	require.ErrorIs(t, err, storage.ErrNotFound)

	ref, err := store.Upload(ctx, "chan", storage.Document{Name: "a.json", Caption: "cap", Body: []byte("hello")})
	require.NoError(t, err)
	require.NoError(t, store.Pin(ctx, "chan", ref.PointerID))

	p, err := store.GetPointer(ctx, "chan")
	require.NoError(t, err)
	assert.Equal(t, ref.PointerID, p.ID)
	assert.Equal(t, "cap", p.Caption)
	assert.True(t, p.HasFile())

	body, err := store.Download(ctx, p.FileRef)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), body)
}

func TestObjectStore_ReplaceSemantics(t *testing.T) {
	store := NewObjectStore()
	ctx := context.Background()

	doc := storage.Document{Name: "a.json", Caption: "cap", Body: []byte("v1")}
	ref, err := store.Upload(ctx, "chan", doc)
	require.NoError(t, err)

	// Identical content
	_, err = store.Replace(ctx, "chan", ref.PointerID, doc)
	assert.ErrorIs(t, err, storage.ErrContentUnchanged)

	// New content, same pointer
	doc.Body = []byte("v2")
	ref2, err := store.Replace(ctx, "chan", ref.PointerID, doc)
	require.NoError(t, err)
	assert.Equal(t, ref.PointerID, ref2.PointerID)
	assert.NotEqual(t, ref.FileRef, ref2.FileRef)

	// Frozen: re-created under a new id
	store.Freeze("chan", ref.PointerID)
	doc.Body = []byte("v3")
	ref3, err := store.Replace(ctx, "chan", ref.PointerID, doc)
	require.NoError(t, err)
	assert.NotEqual(t, ref.PointerID, ref3.PointerID)

	// Deleted: stale
	store.Delete("chan", ref3.PointerID)
	_, err = store.Replace(ctx, "chan", ref3.PointerID, doc)
	assert.ErrorIs(t, err, storage.ErrPointerStale)
}

func TestObjectStore_FailNext(t *testing.T) {
	store := NewObjectStore()
	ctx := context.Background()

	store.FailNext(OpUpload, errors.New("boom"))

	_, err := store.Upload(ctx, "chan", storage.Document{Body: []byte("x")})
	require.Error(t, err)
	assert.ErrorIs(t, err, storage.ErrTransient)

	_, err = store.Upload(ctx, "chan", storage.Document{Body: []byte("x")})
	require.NoError(t, err, "failure is consumed once")
	assert.Equal(t, 2, store.Uploads())
}

func TestObjectStore_PostTextIsPinned(t *testing.T) {
	store := NewObjectStore()

	id := store.PostText("chan", `{"tokens":{}}`)

	p, err := store.GetPointer(context.Background(), "chan")
	require.NoError(t, err)
	assert.Equal(t, id, p.ID)
	assert.False(t, p.HasFile())
	assert.Equal(t, `{"tokens":{}}`, p.Text)
}
