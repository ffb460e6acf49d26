// Package redis implements storage.PartitionLease on Redis.
package redis

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"signal-board/internal/storage"
)

const defaultKeyPrefix = "signal-board:lease:"

// releaseScript deletes the lease key only while it still holds our token,
// so an expired lease taken over by another process is left alone.
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// PartitionLease is a SET NX PX lease with compare-and-delete release.
type PartitionLease struct {
	rdb    *goredis.Client
	prefix string
}

// NewClient connects to addr and verifies the connection.
func NewClient(ctx context.Context, addr string) (*goredis.Client, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, fmt.Errorf("%w: empty redis address", storage.ErrInvalidInput)
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

// NewPartitionLease creates a lease table on rdb. An empty prefix uses the
// default key namespace.
func NewPartitionLease(rdb *goredis.Client, prefix string) *PartitionLease {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &PartitionLease{rdb: rdb, prefix: prefix}
}

var _ storage.PartitionLease = (*PartitionLease)(nil)

// Acquire takes the lease on partition for ttl.
func (l *PartitionLease) Acquire(ctx context.Context, partition string, ttl time.Duration) (func(context.Context) error, error) {
	if partition == "" || ttl <= 0 {
		return nil, storage.ErrInvalidInput
	}

	key := l.prefix + partition
	token := uuid.NewString()

	ok, err := l.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, storage.Transient("lease acquire", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrLeaseHeld, partition)
	}

	var (
		once       sync.Once
		releaseErr error
	)
	release := func(ctx context.Context) error {
		once.Do(func() {
			if err := releaseScript.Run(ctx, l.rdb, []string{key}, token).Err(); err != nil {
				releaseErr = storage.Transient("lease release", err)
			}
		})
		return releaseErr
	}
	return release, nil
}
