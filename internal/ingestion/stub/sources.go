// Package stub provides in-memory event sources for tests.
package stub

import (
	"context"
	"sync"

	"signal-board/internal/domain"
)

// Source returns queued batches per partition. Each Fetch drains the queue
// of that partition. Implements ingestion.EventSource.
type Source struct {
	mu      sync.Mutex
	batches map[string]*domain.EventBatch
	errs    map[string]error
	fetches map[string]int
}

// NewSource creates an empty stub source.
func NewSource() *Source {
	return &Source{
		batches: make(map[string]*domain.EventBatch),
		errs:    make(map[string]error),
		fetches: make(map[string]int),
	}
}

// AddSignals queues signals for partition.
func (s *Source) AddSignals(partition string, signals ...domain.SignalEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.batch(partition)
	b.Signals = append(b.Signals, signals...)
}

// AddPrices queues price updates for partition.
func (s *Source) AddPrices(partition string, prices ...domain.PriceUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.batch(partition)
	b.Prices = append(b.Prices, prices...)
}

// FailNext makes the next Fetch of partition return err.
func (s *Source) FailNext(partition string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs[partition] = err
}

// Fetches returns how many times partition was fetched.
func (s *Source) Fetches(partition string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetches[partition]
}

func (s *Source) batch(partition string) *domain.EventBatch {
	b, ok := s.batches[partition]
	if !ok {
		b = &domain.EventBatch{}
		s.batches[partition] = b
	}
	return b
}

// Fetch returns and clears the queued batch. Returns copies to prevent
// mutation.
func (s *Source) Fetch(_ context.Context, partition string) (*domain.EventBatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.fetches[partition]++
	if err := s.errs[partition]; err != nil {
		delete(s.errs, partition)
		return nil, err
	}

	b, ok := s.batches[partition]
	if !ok {
		return &domain.EventBatch{}, nil
	}
	delete(s.batches, partition)

	out := &domain.EventBatch{
		Signals: append([]domain.SignalEvent(nil), b.Signals...),
		Prices:  append([]domain.PriceUpdate(nil), b.Prices...),
	}
	return out, nil
}
