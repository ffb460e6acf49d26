// Package telegram implements storage.ObjectStore on the Telegram Bot API.
// A channel is a chat, a pointer is a message id, a document is a file
// attachment, and discovery goes through the chat's pinned message.
package telegram

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"signal-board/internal/observability"
	"signal-board/internal/storage"
)

const backendName = "telegram"

// Default configuration values.
const (
	DefaultBaseURL    = "https://api.telegram.org"
	DefaultTimeout    = 30 * time.Second
	DefaultMaxRetries = 3
	DefaultRetryDelay = 1 * time.Second
	DefaultMaxDelay   = 10 * time.Second
)

// Bot API error descriptions that map onto the storage taxonomy.
const (
	descNotModified = "message is not modified"
	descCantEdit    = "message can't be edited"
	descNotFound    = "message to edit not found"
)

// APIError is an unsuccessful Bot API response.
type APIError struct {
	Method      string
	Code        int
	Description string
	RetryAfter  int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram %s: %d %s", e.Method, e.Code, e.Description)
}

func (e *APIError) transient() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= http.StatusInternalServerError
}

// Client is a Bot API backed storage.ObjectStore.
type Client struct {
	http  *resty.Client
	token string

	// digests remembers the content last written to or read from each
	// pointer so that identical replaces can be reported as unchanged
	// without a round trip. Keys are pointer ids and file refs.
	mu       sync.Mutex
	digests  map[string][32]byte
	fileRefs map[string]string // pointer id -> file ref
}

// ClientOption configures Client.
type ClientOption func(*Client)

// WithTimeout sets the HTTP timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.http.SetTimeout(d)
	}
}

// WithBaseURL points the client at a different Bot API server.
func WithBaseURL(url string) ClientOption {
	return func(c *Client) {
		c.http.SetBaseURL(strings.TrimRight(url, "/"))
	}
}

// WithRetry sets retry attempts and delays. Only idempotent reads
// (getChat, getFile, file download) are retried.
func WithRetry(maxRetries int, delay, maxDelay time.Duration) ClientOption {
	return func(c *Client) {
		c.http.SetRetryCount(maxRetries).
			SetRetryWaitTime(delay).
			SetRetryMaxWaitTime(maxDelay)
	}
}

// NewClient creates a Bot API client for the bot identified by token.
func NewClient(token string, opts ...ClientOption) *Client {
	c := &Client{
		http: resty.New().
			SetBaseURL(DefaultBaseURL).
			SetTimeout(DefaultTimeout).
			SetRetryCount(DefaultMaxRetries).
			SetRetryWaitTime(DefaultRetryDelay).
			SetRetryMaxWaitTime(DefaultMaxDelay),
		token:    token,
		digests:  make(map[string][32]byte),
		fileRefs: make(map[string]string),
	}
	c.http.AddRetryCondition(retryReads)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// retryReads retries GETs on transport errors, rate limits and server
// errors. Writes are never retried: a retried upload could post twice.
func retryReads(resp *resty.Response, err error) bool {
	if resp == nil || resp.Request == nil || resp.Request.Method != http.MethodGet {
		return false
	}
	if err != nil {
		return true
	}
	code := resp.StatusCode()
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	ErrorCode   int             `json:"error_code"`
	Description string          `json:"description"`
	Parameters  *struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

type apiDocument struct {
	FileID   string `json:"file_id"`
	FileName string `json:"file_name"`
}

type apiMessage struct {
	MessageID int          `json:"message_id"`
	Text      string       `json:"text"`
	Caption   string       `json:"caption"`
	Document  *apiDocument `json:"document"`
}

type apiChat struct {
	ID            int64       `json:"id"`
	PinnedMessage *apiMessage `json:"pinned_message"`
}

type apiFile struct {
	FileID   string `json:"file_id"`
	FilePath string `json:"file_path"`
}

func (c *Client) methodURL(method string) string {
	return "/bot" + c.token + "/" + method
}

// do executes a prepared request and decodes the result envelope.
func (c *Client) do(req *resty.Request, httpMethod, method string, result interface{}) error {
	resp, err := req.Execute(httpMethod, c.methodURL(method))
	if err != nil {
		return storage.Transient(method, err)
	}

	var env apiResponse
	if err := json.Unmarshal(resp.Body(), &env); err != nil {
		apiErr := &APIError{Method: method, Code: resp.StatusCode(), Description: "malformed response"}
		if apiErr.transient() {
			return storage.Transient(method, apiErr)
		}
		return fmt.Errorf("%w: %v", apiErr, err)
	}
	if !env.OK {
		apiErr := &APIError{Method: method, Code: env.ErrorCode, Description: env.Description}
		if apiErr.Code == 0 {
			apiErr.Code = resp.StatusCode()
		}
		if env.Parameters != nil {
			apiErr.RetryAfter = env.Parameters.RetryAfter
		}
		if apiErr.transient() {
			return storage.Transient(method, apiErr)
		}
		return apiErr
	}
	if result != nil {
		if err := json.Unmarshal(env.Result, result); err != nil {
			return fmt.Errorf("telegram %s: decode result: %w", method, err)
		}
	}
	return nil
}

// GetPointer returns the pinned message of the chat.
func (c *Client) GetPointer(ctx context.Context, channel string) (p *storage.Pointer, err error) {
	defer func(start time.Time) { observability.RecordStoreOp(backendName, "get_pointer", start, err) }(time.Now())

	var chat apiChat
	req := c.http.R().SetContext(ctx).SetQueryParam("chat_id", channel)
	if err := c.do(req, http.MethodGet, "getChat", &chat); err != nil {
		return nil, err
	}
	msg := chat.PinnedMessage
	if msg == nil {
		return nil, storage.ErrNotFound
	}

	ptr := &storage.Pointer{
		ID:      strconv.Itoa(msg.MessageID),
		Text:    msg.Text,
		Caption: msg.Caption,
	}
	if msg.Document != nil {
		ptr.FileRef = msg.Document.FileID
		c.mu.Lock()
		c.fileRefs[ptr.ID] = ptr.FileRef
		c.mu.Unlock()
	}
	return ptr, nil
}

// Upload posts doc to the chat as a new message.
func (c *Client) Upload(ctx context.Context, channel string, doc storage.Document) (ref *storage.Ref, err error) {
	defer func(start time.Time) { observability.RecordStoreOp(backendName, "upload", start, err) }(time.Now())

	if channel == "" {
		return nil, storage.ErrInvalidInput
	}
	return c.sendDocument(ctx, channel, doc)
}

func (c *Client) sendDocument(ctx context.Context, channel string, doc storage.Document) (*storage.Ref, error) {
	var msg apiMessage
	req := c.http.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"chat_id":              channel,
			"caption":              doc.Caption,
			"disable_notification": "true",
		}).
		SetFileReader("document", doc.Name, bytes.NewReader(doc.Body))
	if err := c.do(req, http.MethodPost, "sendDocument", &msg); err != nil {
		return nil, err
	}
	observability.RecordStoreBytes(backendName, "out", len(doc.Body))
	return c.remember(msg, doc)
}

func (c *Client) remember(msg apiMessage, doc storage.Document) (*storage.Ref, error) {
	if msg.Document == nil {
		return nil, fmt.Errorf("telegram: message %d has no document", msg.MessageID)
	}
	ref := &storage.Ref{PointerID: strconv.Itoa(msg.MessageID), FileRef: msg.Document.FileID}

	c.mu.Lock()
	c.fileRefs[ref.PointerID] = ref.FileRef
	c.digests[ref.FileRef] = digest(doc.Caption, doc.Body)
	c.mu.Unlock()
	return ref, nil
}

// Replace edits the document of message pointerID. Content identical to
// what this client last saw behind the pointer is reported as
// storage.ErrContentUnchanged without a request. A message the API refuses
// to edit is re-posted; the returned ref then carries the new message id.
func (c *Client) Replace(ctx context.Context, channel, pointerID string, doc storage.Document) (ref *storage.Ref, err error) {
	defer func(start time.Time) { observability.RecordStoreOp(backendName, "replace", start, err) }(time.Now())

	messageID, err := strconv.Atoi(pointerID)
	if err != nil {
		return nil, fmt.Errorf("%w: pointer %q", storage.ErrPointerStale, pointerID)
	}
	if c.unchanged(pointerID, doc) {
		return nil, storage.ErrContentUnchanged
	}

	media, err := json.Marshal(map[string]string{
		"type":    "document",
		"media":   "attach://document",
		"caption": doc.Caption,
	})
	if err != nil {
		return nil, err
	}

	var msg apiMessage
	req := c.http.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"chat_id":    channel,
			"message_id": strconv.Itoa(messageID),
			"media":      string(media),
		}).
		SetFileReader("document", doc.Name, bytes.NewReader(doc.Body))
	err = c.do(req, http.MethodPost, "editMessageMedia", &msg)

	var apiErr *APIError
	switch {
	case err == nil:
		observability.RecordStoreBytes(backendName, "out", len(doc.Body))
		return c.remember(msg, doc)
	case errors.As(err, &apiErr) && strings.Contains(apiErr.Description, descNotModified):
		return nil, storage.ErrContentUnchanged
	case errors.As(err, &apiErr) && strings.Contains(apiErr.Description, descCantEdit):
		return c.sendDocument(ctx, channel, doc)
	case errors.As(err, &apiErr) && strings.Contains(apiErr.Description, descNotFound):
		return nil, fmt.Errorf("%w: %v", storage.ErrPointerStale, err)
	default:
		return nil, err
	}
}

func (c *Client) unchanged(pointerID string, doc storage.Document) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	fileRef, ok := c.fileRefs[pointerID]
	if !ok {
		return false
	}
	known, ok := c.digests[fileRef]
	return ok && known == digest(doc.Caption, doc.Body)
}

// Download fetches a file by file id.
func (c *Client) Download(ctx context.Context, fileRef string) (body []byte, err error) {
	defer func(start time.Time) { observability.RecordStoreOp(backendName, "download", start, err) }(time.Now())

	var file apiFile
	req := c.http.R().SetContext(ctx).SetQueryParam("file_id", fileRef)
	if err := c.do(req, http.MethodGet, "getFile", &file); err != nil {
		return nil, err
	}
	if file.FilePath == "" {
		return nil, storage.ErrNotFound
	}

	resp, err := c.http.R().SetContext(ctx).Get("/file/bot" + c.token + "/" + file.FilePath)
	if err != nil {
		return nil, storage.Transient("download", err)
	}
	if resp.IsError() {
		apiErr := &APIError{Method: "download", Code: resp.StatusCode(), Description: resp.Status()}
		if apiErr.transient() {
			return nil, storage.Transient("download", apiErr)
		}
		return nil, apiErr
	}

	body = resp.Body()
	observability.RecordStoreBytes(backendName, "in", len(body))
	return body, nil
}

// Pin pins message pointerID in the chat.
func (c *Client) Pin(ctx context.Context, channel, pointerID string) (err error) {
	defer func(start time.Time) { observability.RecordStoreOp(backendName, "pin", start, err) }(time.Now())

	req := c.http.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"chat_id":              channel,
			"message_id":           pointerID,
			"disable_notification": "true",
		})
	return c.do(req, http.MethodPost, "pinChatMessage", nil)
}

// digest identifies a caption and body pair.
func digest(caption string, body []byte) [32]byte {
	h := sha256.New()
	h.Write([]byte(caption))
	h.Write([]byte{0})
	h.Write(body)
	var sum [32]byte
	copy(sum[:], h.Sum(nil))
	return sum
}

var _ storage.ObjectStore = (*Client)(nil)
