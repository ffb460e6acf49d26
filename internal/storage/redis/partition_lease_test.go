package redis

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"signal-board/internal/storage"
)

func setupLease(t *testing.T) *PartitionLease {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	rdb, err := NewClient(ctx, fmt.Sprintf("%s:%s", host, port.Port()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdb.Close() })

	return NewPartitionLease(rdb, "test:lease:")
}

func TestPartitionLease_Exclusive(t *testing.T) {
	lease := setupLease(t)
	ctx := context.Background()

	release, err := lease.Acquire(ctx, "eth", time.Minute)
	require.NoError(t, err)

	_, err = lease.Acquire(ctx, "eth", time.Minute)
	assert.ErrorIs(t, err, storage.ErrLeaseHeld)

	other, err := lease.Acquire(ctx, "sol", time.Minute)
	require.NoError(t, err)
	require.NoError(t, other(ctx))

	require.NoError(t, release(ctx))
	require.NoError(t, release(ctx), "release is idempotent")

	again, err := lease.Acquire(ctx, "eth", time.Minute)
	require.NoError(t, err)
	require.NoError(t, again(ctx))
}

func TestPartitionLease_ExpiredLeaseNotReleasedByOldHolder(t *testing.T) {
	lease := setupLease(t)
	ctx := context.Background()

	stale, err := lease.Acquire(ctx, "eth", 50*time.Millisecond)
	require.NoError(t, err)

	var fresh func(context.Context) error
	require.Eventually(t, func() bool {
		fresh, err = lease.Acquire(ctx, "eth", time.Minute)
		return err == nil
	}, 2*time.Second, 20*time.Millisecond)

	require.NoError(t, stale(ctx))

	_, err = lease.Acquire(ctx, "eth", time.Minute)
	assert.ErrorIs(t, err, storage.ErrLeaseHeld, "old holder must not free the new lease")
	require.NoError(t, fresh(ctx))
}

func TestPartitionLease_Validation(t *testing.T) {
	lease := NewPartitionLease(nil, "")
	assert.Equal(t, defaultKeyPrefix, lease.prefix)

	_, err := lease.Acquire(context.Background(), "", time.Minute)
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
	_, err = lease.Acquire(context.Background(), "eth", 0)
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}
