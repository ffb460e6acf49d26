package ingestion

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"signal-board/internal/domain"
)

// Default configuration values.
const (
	DefaultTimeout    = 15 * time.Second
	DefaultMaxRetries = 3
	DefaultRetryDelay = 500 * time.Millisecond
	DefaultMaxDelay   = 5 * time.Second
)

// feedPage is the response of GET /partitions/{partition}/events.
type feedPage struct {
	Signals []domain.SignalEvent `json:"signals"`
	Prices  []domain.PriceUpdate `json:"prices"`
	Cursor  string               `json:"cursor"`
}

// HTTPSource polls a JSON feed service. The service pages events with an
// opaque cursor, which is kept per partition for the life of the process.
type HTTPSource struct {
	client *resty.Client

	mu      sync.Mutex
	cursors map[string]string
}

// HTTPOption configures HTTPSource.
type HTTPOption func(*HTTPSource)

// WithTimeout sets the HTTP timeout.
func WithTimeout(d time.Duration) HTTPOption {
	return func(s *HTTPSource) {
		s.client.SetTimeout(d)
	}
}

// WithRetry sets retry attempts and delays.
func WithRetry(maxRetries int, delay, maxDelay time.Duration) HTTPOption {
	return func(s *HTTPSource) {
		s.client.SetRetryCount(maxRetries).SetRetryWaitTime(delay).SetRetryMaxWaitTime(maxDelay)
	}
}

// WithAuthToken sends token as a bearer token.
func WithAuthToken(token string) HTTPOption {
	return func(s *HTTPSource) {
		s.client.SetAuthToken(token)
	}
}

// NewHTTPSource creates a feed poller for baseURL.
func NewHTTPSource(baseURL string, opts ...HTTPOption) *HTTPSource {
	s := &HTTPSource{
		client: resty.New().
			SetBaseURL(strings.TrimRight(baseURL, "/")).
			SetTimeout(DefaultTimeout).
			SetRetryCount(DefaultMaxRetries).
			SetRetryWaitTime(DefaultRetryDelay).
			SetRetryMaxWaitTime(DefaultMaxDelay).
			SetHeader("Accept", "application/json"),
		cursors: make(map[string]string),
	}
	s.client.AddRetryCondition(func(resp *resty.Response, err error) bool {
		if err != nil {
			return true
		}
		return resp.StatusCode() == http.StatusTooManyRequests || resp.StatusCode() >= http.StatusInternalServerError
	})
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Fetch implements EventSource. The cursor advances only after a
// successful response.
func (s *HTTPSource) Fetch(ctx context.Context, partition string) (*domain.EventBatch, error) {
	s.mu.Lock()
	cursor := s.cursors[partition]
	s.mu.Unlock()

	var page feedPage
	req := s.client.R().
		SetContext(ctx).
		SetPathParam("partition", partition).
		SetResult(&page)
	if cursor != "" {
		req.SetQueryParam("cursor", cursor)
	}

	resp, err := req.Get("/partitions/{partition}/events")
	if err != nil {
		return nil, fmt.Errorf("fetch events for %s: %w", partition, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("fetch events for %s: %s", partition, resp.Status())
	}

	for i := range page.Signals {
		page.Signals[i].Partition = partition
	}
	for i := range page.Prices {
		page.Prices[i].Partition = partition
	}

	if page.Cursor != "" {
		s.mu.Lock()
		s.cursors[partition] = page.Cursor
		s.mu.Unlock()
	}
	return &domain.EventBatch{Signals: page.Signals, Prices: page.Prices}, nil
}
