package memory

import (
	"context"
	"sync"
	"time"

	"signal-board/internal/storage"
)

// PartitionLease is an in-process implementation of storage.PartitionLease.
type PartitionLease struct {
	mu     sync.Mutex
	held   map[string]time.Time // partition -> expiry
	nowFn  func() time.Time
	leases int
}

// NewPartitionLease creates a new in-memory lease table.
func NewPartitionLease() *PartitionLease {
	return &PartitionLease{
		held:  make(map[string]time.Time),
		nowFn: time.Now,
	}
}

// Acquire takes the lease for ttl.
func (l *PartitionLease) Acquire(_ context.Context, partition string, ttl time.Duration) (func(context.Context) error, error) {
	if partition == "" || ttl <= 0 {
		return nil, storage.ErrInvalidInput
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.nowFn()
	if expiry, ok := l.held[partition]; ok && now.Before(expiry) {
		return nil, storage.ErrLeaseHeld
	}
	expiry := now.Add(ttl)
	l.held[partition] = expiry
	l.leases++

	var once sync.Once
	release := func(context.Context) error {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			if l.held[partition].Equal(expiry) {
				delete(l.held, partition)
			}
		})
		return nil
	}
	return release, nil
}

// Acquired returns how many leases were granted.
func (l *PartitionLease) Acquired() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.leases
}

var _ storage.PartitionLease = (*PartitionLease)(nil)
