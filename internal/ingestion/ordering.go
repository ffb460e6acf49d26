package ingestion

import (
	"sort"

	"signal-board/internal/domain"
)

// SortBatch orders a batch deterministically: signals by (time, token, key)
// and prices by (time, token). Applying prices in time order keeps current
// price the latest observation.
func SortBatch(b *domain.EventBatch) {
	if b == nil {
		return
	}
	sort.SliceStable(b.Signals, func(i, j int) bool {
		return compareSignals(&b.Signals[i], &b.Signals[j]) < 0
	})
	sort.SliceStable(b.Prices, func(i, j int) bool {
		return comparePrices(&b.Prices[i], &b.Prices[j]) < 0
	})
}

// compareSignals returns:
//   - negative if a < b
//   - zero if a == b
//   - positive if a > b
//
// Order: (time ASC, token ASC, key ASC)
func compareSignals(a, b *domain.SignalEvent) int {
	if a.Time != b.Time {
		if a.Time < b.Time {
			return -1
		}
		return 1
	}
	if a.Token != b.Token {
		if a.Token < b.Token {
			return -1
		}
		return 1
	}
	if a.Key != b.Key {
		if a.Key < b.Key {
			return -1
		}
		return 1
	}
	return 0
}

// comparePrices orders by (time ASC, token ASC).
func comparePrices(a, b *domain.PriceUpdate) int {
	if a.Time != b.Time {
		if a.Time < b.Time {
			return -1
		}
		return 1
	}
	if a.Token != b.Token {
		if a.Token < b.Token {
			return -1
		}
		return 1
	}
	return 0
}
