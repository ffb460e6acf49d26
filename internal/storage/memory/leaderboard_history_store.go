package memory

import (
	"context"
	"sort"
	"sync"

	"signal-board/internal/domain"
	"signal-board/internal/storage"
)

// LeaderboardHistoryStore is an in-memory implementation of storage.LeaderboardHistoryStore.
type LeaderboardHistoryStore struct {
	mu      sync.RWMutex
	byToken map[string][]*storage.LeaderboardSnapshot // keyed by partition|address
}

// NewLeaderboardHistoryStore creates a new in-memory leaderboard history store.
func NewLeaderboardHistoryStore() *LeaderboardHistoryStore {
	return &LeaderboardHistoryStore{
		byToken: make(map[string][]*storage.LeaderboardSnapshot),
	}
}

func historyKey(partition, address string) string {
	return partition + "|" + address
}

// InsertBulk appends a published snapshot.
func (s *LeaderboardHistoryStore) InsertBulk(_ context.Context, publishedAt int64, variant domain.Variant, rows []domain.TokenRow) error {
	if publishedAt <= 0 || !variant.IsValid() {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i, row := range rows {
		key := historyKey(row.Partition, row.Address)
		s.byToken[key] = append(s.byToken[key], &storage.LeaderboardSnapshot{
			PublishedAt: publishedAt,
			Variant:     variant,
			Rank:        i + 1,
			Row:         row,
		})
	}
	return nil
}

// GetByToken returns all snapshot rows for a token, ordered by publish time
// then variant.
func (s *LeaderboardHistoryStore) GetByToken(_ context.Context, partition, address string) ([]*storage.LeaderboardSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored := s.byToken[historyKey(partition, address)]
	result := make([]*storage.LeaderboardSnapshot, len(stored))
	for i, snap := range stored {
		snapCopy := *snap
		result[i] = &snapCopy
	}
	sort.SliceStable(result, func(i, j int) bool {
		if result[i].PublishedAt != result[j].PublishedAt {
			return result[i].PublishedAt < result[j].PublishedAt
		}
		return result[i].Variant < result[j].Variant
	})
	return result, nil
}

var _ storage.LeaderboardHistoryStore = (*LeaderboardHistoryStore)(nil)
