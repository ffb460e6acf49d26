package clickhouse

import (
	"context"
	"fmt"

	"signal-board/internal/domain"
	"signal-board/internal/storage"
)

// LeaderboardHistoryStore implements storage.LeaderboardHistoryStore using ClickHouse.
type LeaderboardHistoryStore struct {
	conn *Conn
}

// NewLeaderboardHistoryStore creates a new LeaderboardHistoryStore.
func NewLeaderboardHistoryStore(conn *Conn) *LeaderboardHistoryStore {
	return &LeaderboardHistoryStore{conn: conn}
}

// Compile-time interface check.
var _ storage.LeaderboardHistoryStore = (*LeaderboardHistoryStore)(nil)

// InsertBulk appends one published snapshot. Row order is the rank.
// Re-inserting the same snapshot collapses on merge.
func (s *LeaderboardHistoryStore) InsertBulk(ctx context.Context, publishedAt int64, variant domain.Variant, rows []domain.TokenRow) error {
	if publishedAt <= 0 || !variant.IsValid() {
		return storage.ErrInvalidInput
	}
	if len(rows) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO leaderboard_history (
			published_at, variant, partition, rank, address, symbol,
			entry_price, multiplier, peak_multiplier, signals, first_seen
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for i, r := range rows {
		err = batch.Append(
			uint64(publishedAt), string(variant), r.Partition, uint16(i+1), r.Address, r.Symbol,
			r.EntryPrice, r.Multiplier, r.PeakMultiplier, uint32(r.SignalCount), uint64(r.FirstSeenAt),
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}

// GetByToken returns all snapshot rows for a token, ordered by publish time ASC.
func (s *LeaderboardHistoryStore) GetByToken(ctx context.Context, partition, address string) ([]*storage.LeaderboardSnapshot, error) {
	query := `
		SELECT published_at, variant, partition, rank, address, symbol,
			entry_price, multiplier, peak_multiplier, signals, first_seen
		FROM leaderboard_history FINAL
		WHERE partition = ? AND address = ?
		ORDER BY published_at ASC, variant ASC
	`

	rows, err := s.conn.Query(ctx, query, partition, address)
	if err != nil {
		return nil, fmt.Errorf("query by token: %w", err)
	}
	defer rows.Close()

	return scanSnapshots(rows)
}

// scanSnapshots scans multiple rows.
func scanSnapshots(rows chRows) ([]*storage.LeaderboardSnapshot, error) {
	var snaps []*storage.LeaderboardSnapshot

	for rows.Next() {
		var (
			snap                   storage.LeaderboardSnapshot
			publishedAt, firstSeen uint64
			variant                string
			rank                   uint16
			signals                uint32
		)

		err := rows.Scan(
			&publishedAt, &variant, &snap.Row.Partition, &rank, &snap.Row.Address, &snap.Row.Symbol,
			&snap.Row.EntryPrice, &snap.Row.Multiplier, &snap.Row.PeakMultiplier, &signals, &firstSeen,
		)
		if err != nil {
			return nil, fmt.Errorf("scan leaderboard history row: %w", err)
		}

		snap.PublishedAt = int64(publishedAt)
		snap.Variant = domain.Variant(variant)
		snap.Rank = int(rank)
		snap.Row.SignalCount = int(signals)
		snap.Row.FirstSeenAt = int64(firstSeen)
		snaps = append(snaps, &snap)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate leaderboard history rows: %w", err)
	}

	return snaps, nil
}
