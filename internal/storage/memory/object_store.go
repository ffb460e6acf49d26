package memory

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"signal-board/internal/observability"
	"signal-board/internal/storage"
)

const backendName = "memory"

// message is one stored document or inline text post.
type message struct {
	id       string
	name     string
	caption  string
	text     string
	fileRef  string
	frozen   bool // edits are refused and transparently re-created
	postedAt time.Time
}

type channel struct {
	messages map[string]*message
	pinned   string
}

// ObjectStore is an in-memory implementation of storage.ObjectStore.
// It mirrors the messaging backend's behaviour closely enough to drive the
// partition and leaderboard logic in tests: identical replaces report
// ErrContentUnchanged, frozen messages are re-created under a new id, and
// deleted messages are stale.
type ObjectStore struct {
	mu       sync.Mutex
	channels map[string]*channel
	files    map[string][]byte
	seq      int
	failures map[string][]error

	uploads  int
	replaces int
	pins     int
	reads    int
}

// NewObjectStore creates a new in-memory object store.
func NewObjectStore() *ObjectStore {
	return &ObjectStore{
		channels: make(map[string]*channel),
		files:    make(map[string][]byte),
		failures: make(map[string][]error),
	}
}

// Op names accepted by FailNext.
const (
	OpGetPointer = "get_pointer"
	OpUpload     = "upload"
	OpReplace    = "replace"
	OpDownload   = "download"
	OpPin        = "pin"
)

// FailNext queues err to be returned by the next call of op.
func (s *ObjectStore) FailNext(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = append(s.failures[op], err)
}

func (s *ObjectStore) takeFailure(op string) error {
	queue := s.failures[op]
	if len(queue) == 0 {
		return nil
	}
	s.failures[op] = queue[1:]
	return queue[0]
}

func (s *ObjectStore) channel(name string) *channel {
	ch, ok := s.channels[name]
	if !ok {
		ch = &channel{messages: make(map[string]*message)}
		s.channels[name] = ch
	}
	return ch
}

func (s *ObjectStore) nextID(prefix string) string {
	s.seq++
	return fmt.Sprintf("%s-%d", prefix, s.seq)
}

// GetPointer returns the pinned pointer of a channel.
func (s *ObjectStore) GetPointer(_ context.Context, channelID string) (p *storage.Pointer, err error) {
	defer func(start time.Time) { observability.RecordStoreOp(backendName, OpGetPointer, start, err) }(time.Now())

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.takeFailure(OpGetPointer); err != nil {
		return nil, storage.Transient("get pointer", err)
	}

	ch, ok := s.channels[channelID]
	if !ok || ch.pinned == "" {
		return nil, storage.ErrNotFound
	}
	msg, ok := ch.messages[ch.pinned]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &storage.Pointer{
		ID:      msg.id,
		FileRef: msg.fileRef,
		Text:    msg.text,
		Caption: msg.caption,
	}, nil
}

// Upload writes a new document to the channel.
func (s *ObjectStore) Upload(_ context.Context, channelID string, doc storage.Document) (ref *storage.Ref, err error) {
	defer func(start time.Time) { observability.RecordStoreOp(backendName, OpUpload, start, err) }(time.Now())

	if channelID == "" {
		return nil, storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.uploads++
	if err := s.takeFailure(OpUpload); err != nil {
		return nil, storage.Transient("upload", err)
	}
	msg := s.post(channelID, doc)
	observability.RecordStoreBytes(backendName, "out", len(doc.Body))
	return &storage.Ref{PointerID: msg.id, FileRef: msg.fileRef}, nil
}

func (s *ObjectStore) post(channelID string, doc storage.Document) *message {
	fileRef := s.nextID("file")
	s.files[fileRef] = append([]byte(nil), doc.Body...)
	msg := &message{
		id:       s.nextID("msg"),
		name:     doc.Name,
		caption:  doc.Caption,
		fileRef:  fileRef,
		postedAt: time.Now(),
	}
	s.channel(channelID).messages[msg.id] = msg
	return msg
}

// Replace overwrites the document held by pointerID.
func (s *ObjectStore) Replace(_ context.Context, channelID, pointerID string, doc storage.Document) (ref *storage.Ref, err error) {
	defer func(start time.Time) { observability.RecordStoreOp(backendName, OpReplace, start, err) }(time.Now())

	s.mu.Lock()
	defer s.mu.Unlock()

	s.replaces++
	if err := s.takeFailure(OpReplace); err != nil {
		return nil, err
	}

	ch, ok := s.channels[channelID]
	if !ok {
		return nil, storage.ErrPointerStale
	}
	msg, ok := ch.messages[pointerID]
	if !ok {
		return nil, storage.ErrPointerStale
	}

	if msg.frozen {
		fresh := s.post(channelID, doc)
		observability.RecordStoreBytes(backendName, "out", len(doc.Body))
		return &storage.Ref{PointerID: fresh.id, FileRef: fresh.fileRef}, nil
	}

	if msg.fileRef != "" && msg.caption == doc.Caption && bytes.Equal(s.files[msg.fileRef], doc.Body) {
		return nil, storage.ErrContentUnchanged
	}

	fileRef := s.nextID("file")
	s.files[fileRef] = append([]byte(nil), doc.Body...)
	msg.fileRef = fileRef
	msg.name = doc.Name
	msg.caption = doc.Caption
	msg.text = ""
	observability.RecordStoreBytes(backendName, "out", len(doc.Body))
	return &storage.Ref{PointerID: msg.id, FileRef: fileRef}, nil
}

// Download fetches a document body by file reference.
func (s *ObjectStore) Download(_ context.Context, fileRef string) (body []byte, err error) {
	defer func(start time.Time) { observability.RecordStoreOp(backendName, OpDownload, start, err) }(time.Now())

	s.mu.Lock()
	defer s.mu.Unlock()

	s.reads++
	if err := s.takeFailure(OpDownload); err != nil {
		return nil, storage.Transient("download", err)
	}
	data, ok := s.files[fileRef]
	if !ok {
		return nil, storage.ErrNotFound
	}
	observability.RecordStoreBytes(backendName, "in", len(data))
	return append([]byte(nil), data...), nil
}

// Pin makes pointerID the channel's discoverable pointer.
func (s *ObjectStore) Pin(_ context.Context, channelID, pointerID string) (err error) {
	defer func(start time.Time) { observability.RecordStoreOp(backendName, OpPin, start, err) }(time.Now())

	s.mu.Lock()
	defer s.mu.Unlock()

	s.pins++
	if err := s.takeFailure(OpPin); err != nil {
		return err
	}
	ch, ok := s.channels[channelID]
	if !ok {
		return storage.ErrNotFound
	}
	if _, ok := ch.messages[pointerID]; !ok {
		return storage.ErrNotFound
	}
	ch.pinned = pointerID
	return nil
}

// PostText posts and pins an inline text message, the way legacy documents
// were stored. Returns the pointer id.
func (s *ObjectStore) PostText(channelID, text string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg := &message{id: s.nextID("msg"), text: text, postedAt: time.Now()}
	ch := s.channel(channelID)
	ch.messages[msg.id] = msg
	ch.pinned = msg.id
	return msg.id
}

// Freeze makes pointerID refuse in-place edits, like a message that is too
// old to edit. Replace then re-creates the document under a new id.
func (s *ObjectStore) Freeze(channelID, pointerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if msg, ok := s.channel(channelID).messages[pointerID]; ok {
		msg.frozen = true
	}
}

// Delete removes a message; later replaces of it report ErrPointerStale.
// The pin is left dangling, as on the real backend.
func (s *ObjectStore) Delete(channelID, pointerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.channel(channelID).messages, pointerID)
}

// Body returns the current body of a message, for assertions.
func (s *ObjectStore) Body(channelID, pointerID string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.channel(channelID).messages[pointerID]
	if !ok || msg.fileRef == "" {
		return nil, false
	}
	return append([]byte(nil), s.files[msg.fileRef]...), true
}

// Messages returns the number of messages posted to a channel.
func (s *ObjectStore) Messages(channelID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.channel(channelID).messages)
}

// Names returns the document names posted to a channel.
func (s *ObjectStore) Names(channelID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var names []string
	for _, msg := range s.channel(channelID).messages {
		if msg.name != "" {
			names = append(names, msg.name)
		}
	}
	return names
}

// Writes returns the number of upload and replace calls, failed ones included.
func (s *ObjectStore) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uploads + s.replaces
}

// Uploads returns the number of upload calls.
func (s *ObjectStore) Uploads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uploads
}

// Replaces returns the number of replace calls.
func (s *ObjectStore) Replaces() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.replaces
}

// Pins returns the number of pin calls.
func (s *ObjectStore) Pins() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pins
}

var _ storage.ObjectStore = (*ObjectStore)(nil)
