// Package leaderboard selects, renders and publishes leaderboard views.
// Views are materialized into the object store and kept up to date by
// replacing the document behind a remembered pointer.
package leaderboard

import (
	"sort"
	"time"

	"signal-board/internal/domain"
	"signal-board/internal/ranking"
)

const (
	// DefaultTopN is the per-partition view length.
	DefaultTopN = 10

	// SummarySize is the length of the cross-partition view.
	SummarySize = 25

	// HallOfFameBar is the peak multiplier that admits a token to the hall
	// of fame.
	HallOfFameBar = 2.0

	// HallOfFameCap bounds the accumulated hall of fame.
	HallOfFameCap = 50

	// WalletActivity is how recently a wallet must have been seen to be
	// ranked.
	WalletActivity = 7 * 24 * time.Hour

	// WalletVariant is the only variant wallet views are published under;
	// wallet activity does not depend on the token window.
	WalletVariant = domain.Variant7d
)

// TopTokens selects non-rugged tokens first seen within the variant window
// whose peak multiplier is at least 1.0, sorted by peak multiplier
// descending. n <= 0 returns all.
func TopTokens(partitionID string, tokens map[string]domain.TokenRecord, v domain.Variant, now time.Time, n int) []domain.TokenRow {
	since := now.Add(-v.Window()).UnixMilli()
	rows := make([]domain.TokenRow, 0, len(tokens))
	for addr, t := range tokens {
		if t.Rugged || t.FirstSeenAt < since {
			continue
		}
		if t.PeakMultiplier() < 1.0 {
			continue
		}
		rows = append(rows, tokenRow(partitionID, addr, t))
	}
	sortRows(rows)
	return truncate(rows, n)
}

func tokenRow(partitionID, addr string, t domain.TokenRecord) domain.TokenRow {
	return domain.TokenRow{
		Partition:      partitionID,
		Address:        addr,
		Symbol:         t.Symbol,
		EntryPrice:     t.EntryPrice,
		Multiplier:     t.Multiplier(),
		PeakMultiplier: t.PeakMultiplier(),
		SignalCount:    t.SignalCount,
		FirstSeenAt:    t.FirstSeenAt,
	}
}

func sortRows(rows []domain.TokenRow) {
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].PeakMultiplier != rows[j].PeakMultiplier {
			return rows[i].PeakMultiplier > rows[j].PeakMultiplier
		}
		if rows[i].Partition != rows[j].Partition {
			return rows[i].Partition < rows[j].Partition
		}
		return rows[i].Address < rows[j].Address
	})
}

func truncate[T any](rows []T, n int) []T {
	if n > 0 && len(rows) > n {
		return rows[:n]
	}
	return rows
}

// TopWallets ranks wallets seen within WalletActivity with s.
func TopWallets(partitionID string, wallets map[string]domain.WalletRecord, peaks map[string]float64, s ranking.Strategy, now time.Time, n int) []domain.WalletRow {
	since := now.Add(-WalletActivity).UnixMilli()
	active := make(map[string]domain.WalletRecord, len(wallets))
	for addr, w := range wallets {
		if w.LastSeenAt >= since {
			active[addr] = w
		}
	}

	ranked := ranking.TopWallets(active, peaks, s, now, n)
	rows := make([]domain.WalletRow, 0, len(ranked))
	for _, r := range ranked {
		w := active[r.Address]
		winRate := ranking.WinRate(w, peaks)
		avgPeak := ranking.AveragePeak(w, peaks)
		rows = append(rows, domain.WalletRow{
			Partition:   partitionID,
			Address:     r.Address,
			Score:       r.Score,
			WinRate:     winRate,
			AvgPeak:     avgPeak,
			Stars:       ranking.Stars(r.Score, winRate, avgPeak),
			SignalCount: w.SignalCount,
			LastSeenAt:  w.LastSeenAt,
		})
	}
	return rows
}

// HallOfFameCandidates returns the tokens of a partition whose peak
// multiplier reached HallOfFameBar, regardless of age. Rugged tokens
// qualify; their peak happened.
func HallOfFameCandidates(partitionID string, tokens map[string]domain.TokenRecord) []domain.HallOfFameEntry {
	var out []domain.HallOfFameEntry
	for addr, t := range tokens {
		if m := t.PeakMultiplier(); m >= HallOfFameBar {
			out = append(out, domain.HallOfFameEntry{
				Partition:      partitionID,
				Address:        addr,
				Symbol:         t.Symbol,
				PeakMultiplier: m,
				FirstSeenAt:    t.FirstSeenAt,
			})
		}
	}
	return out
}

// MergeHallOfFame folds candidates into the accumulated hall of fame,
// keeping the best peak per token, sorted by peak descending and capped.
// Reports whether the result differs from existing.
func MergeHallOfFame(existing, candidates []domain.HallOfFameEntry, limit int) ([]domain.HallOfFameEntry, bool) {
	type key struct{ partition, address string }
	best := make(map[key]domain.HallOfFameEntry, len(existing)+len(candidates))
	for _, e := range existing {
		best[key{e.Partition, e.Address}] = e
	}
	for _, c := range candidates {
		k := key{c.Partition, c.Address}
		if cur, ok := best[k]; !ok || c.PeakMultiplier > cur.PeakMultiplier {
			if ok && cur.Symbol != "" && c.Symbol == "" {
				c.Symbol = cur.Symbol
			}
			best[k] = c
		}
	}

	merged := make([]domain.HallOfFameEntry, 0, len(best))
	for _, e := range best {
		merged = append(merged, e)
	}
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].PeakMultiplier != merged[j].PeakMultiplier {
			return merged[i].PeakMultiplier > merged[j].PeakMultiplier
		}
		if merged[i].Partition != merged[j].Partition {
			return merged[i].Partition < merged[j].Partition
		}
		return merged[i].Address < merged[j].Address
	})
	merged = truncate(merged, limit)

	changed := len(merged) != len(existing)
	for i := 0; !changed && i < len(merged); i++ {
		changed = merged[i] != existing[i]
	}
	return merged, changed
}

// Summary merges per-partition token lists into the cross-partition view.
func Summary(v domain.Variant, lists ...[]domain.TokenRow) domain.SummaryView {
	var rows []domain.TokenRow
	for _, l := range lists {
		rows = append(rows, l...)
	}
	sortRows(rows)
	rows = truncate(rows, SummarySize)
	if rows == nil {
		rows = []domain.TokenRow{}
	}
	return domain.SummaryView{Variant: v, Rows: rows, GainSum: GainSum(rows)}
}

// GainSum adds the fractional gain of rows below 2x and the full peak
// multiplier of rows at or above 2x.
func GainSum(rows []domain.TokenRow) float64 {
	var sum float64
	for _, r := range rows {
		m := r.PeakMultiplier
		switch {
		case m >= 2:
			sum += m
		case m > 1:
			sum += m - 1
		}
	}
	return sum
}
