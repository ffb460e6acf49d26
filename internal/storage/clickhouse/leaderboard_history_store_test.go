package clickhouse

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signal-board/internal/domain"
	"signal-board/internal/storage"
)

func TestLeaderboardHistoryStore_InsertAndGetByToken(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewLeaderboardHistoryStore(conn)
	ctx := context.Background()

	rows := []domain.TokenRow{
		{Partition: "eth", Address: "0xaa", Symbol: "AAA", EntryPrice: 1, Multiplier: 2.5, PeakMultiplier: 3, SignalCount: 4, FirstSeenAt: 1700000000000},
		{Partition: "eth", Address: "0xbb", Symbol: "BBB", EntryPrice: 2, Multiplier: 1, PeakMultiplier: 1.5, SignalCount: 1, FirstSeenAt: 1700000001000},
	}

	require.NoError(t, store.InsertBulk(ctx, 1700000100000, domain.Variant7d, rows))
	require.NoError(t, store.InsertBulk(ctx, 1700000050000, domain.Variant24h, rows[:1]))

	snaps, err := store.GetByToken(ctx, "eth", "0xaa")
	require.NoError(t, err)
	require.Len(t, snaps, 2)

	assert.Equal(t, int64(1700000050000), snaps[0].PublishedAt)
	assert.Equal(t, domain.Variant24h, snaps[0].Variant)
	assert.Equal(t, domain.Variant7d, snaps[1].Variant)
	assert.Equal(t, 1, snaps[1].Rank)
	assert.Equal(t, rows[0], snaps[1].Row)

	snaps, err = store.GetByToken(ctx, "eth", "0xbb")
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, 2, snaps[0].Rank)
}

func TestLeaderboardHistoryStore_Validation(t *testing.T) {
	store := NewLeaderboardHistoryStore(nil)
	ctx := context.Background()

	assert.ErrorIs(t, store.InsertBulk(ctx, 0, domain.Variant7d, nil), storage.ErrInvalidInput)
	assert.ErrorIs(t, store.InsertBulk(ctx, 1, domain.Variant("1y"), nil), storage.ErrInvalidInput)
	assert.NoError(t, store.InsertBulk(ctx, 1, domain.Variant7d, nil), "empty snapshot is a no-op")
}
