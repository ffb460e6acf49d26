package partition

import (
	"math"
	"sort"

	"signal-board/internal/domain"
)

// GetToken returns a copy of the token record.
func (db *Database) GetToken(addr string) (domain.TokenRecord, bool) {
	rec, ok := db.doc.Tokens[addr]
	if !ok {
		return domain.TokenRecord{}, false
	}
	return rec.Clone(), true
}

// UpdateToken applies fn to the token record, creating it on first
// reference. Peak never decreases and trough never increases once set,
// whatever fn does.
func (db *Database) UpdateToken(addr string, fn func(*domain.TokenRecord)) (domain.TokenRecord, error) {
	if !db.loaded {
		return domain.TokenRecord{}, ErrNotLoaded
	}
	prev, existed := db.doc.Tokens[addr]
	rec := prev.Clone()
	fn(&rec)

	if existed {
		if prev.PeakPrice > 0 && rec.PeakPrice < prev.PeakPrice {
			rec.PeakPrice = prev.PeakPrice
		}
		if prev.TroughPrice > 0 && (rec.TroughPrice <= 0 || rec.TroughPrice > prev.TroughPrice) {
			rec.TroughPrice = prev.TroughPrice
		}
	}
	if rec.Wallets == nil {
		rec.Wallets = []string{}
	}

	db.doc.Tokens[addr] = rec
	db.dirty = true
	return rec.Clone(), nil
}

// GetWallet returns a copy of the wallet record.
func (db *Database) GetWallet(addr string) (domain.WalletRecord, bool) {
	rec, ok := db.doc.Wallets[addr]
	if !ok {
		return domain.WalletRecord{}, false
	}
	return rec.Clone(), true
}

// UpdateWallet applies fn to the wallet record, creating it on first
// reference. The score history keeps its newest MaxScoreHistory entries.
func (db *Database) UpdateWallet(addr string, fn func(*domain.WalletRecord)) (domain.WalletRecord, error) {
	if !db.loaded {
		return domain.WalletRecord{}, ErrNotLoaded
	}
	rec := db.doc.Wallets[addr].Clone()
	if rec.Tokens == nil {
		rec.Tokens = make(map[string]domain.Participation)
	}
	fn(&rec)

	if n := len(rec.ScoreHistory); n > domain.MaxScoreHistory {
		rec.ScoreHistory = append([]float64(nil), rec.ScoreHistory[n-domain.MaxScoreHistory:]...)
	}

	db.doc.Wallets[addr] = rec
	db.dirty = true
	return rec.Clone(), nil
}

// IsSignalSeen reports whether key is in the dedup window.
func (db *Database) IsSignalSeen(key string) bool {
	for _, k := range db.doc.Dedup {
		if k == key {
			return true
		}
	}
	return false
}

// AddSeenSignal pushes key to the front of the dedup window, dropping the
// oldest keys beyond DedupWindowCap. A key already present moves to the
// front.
func (db *Database) AddSeenSignal(key string) error {
	if !db.loaded {
		return ErrNotLoaded
	}
	keys := make([]string, 0, min(len(db.doc.Dedup)+1, domain.DedupWindowCap))
	keys = append(keys, key)
	for _, k := range db.doc.Dedup {
		if len(keys) == domain.DedupWindowCap {
			break
		}
		if k != key {
			keys = append(keys, k)
		}
	}
	db.doc.Dedup = keys
	db.dirty = true
	return nil
}

// AddRecentSignal pushes s to the front of the recent log and drops entries
// older than RecentSignalWindow.
func (db *Database) AddRecentSignal(s domain.SignalSummary) error {
	if !db.loaded {
		return ErrNotLoaded
	}
	db.doc.Recent = append([]domain.SignalSummary{s}, db.doc.Recent...)
	db.PruneRecent(db.now().Add(-domain.RecentSignalWindow).UnixMilli())
	db.dirty = true
	return nil
}

// PruneRecent drops recent signals older than cutoff (unix ms) and returns
// how many were dropped.
func (db *Database) PruneRecent(cutoff int64) int {
	kept := db.doc.Recent[:0]
	for _, s := range db.doc.Recent {
		if s.Time >= cutoff {
			kept = append(kept, s)
		}
	}
	dropped := len(db.doc.Recent) - len(kept)
	db.doc.Recent = kept
	if dropped > 0 {
		db.dirty = true
	}
	return dropped
}

// RecentSignals returns a copy of the recent log, newest first.
func (db *Database) RecentSignals() []domain.SignalSummary {
	return append([]domain.SignalSummary(nil), db.doc.Recent...)
}

// GetTokenPeaks returns peak multipliers by token address. The map is
// derived on every call and never persisted.
func (db *Database) GetTokenPeaks() map[string]float64 {
	peaks := make(map[string]float64, len(db.doc.Tokens))
	for addr, t := range db.doc.Tokens {
		peaks[addr] = t.PeakMultiplier()
	}
	return peaks
}

// Tokens returns copies of all token records.
func (db *Database) Tokens() map[string]domain.TokenRecord {
	out := make(map[string]domain.TokenRecord, len(db.doc.Tokens))
	for addr, t := range db.doc.Tokens {
		out[addr] = t.Clone()
	}
	return out
}

// Wallets returns copies of all wallet records.
func (db *Database) Wallets() map[string]domain.WalletRecord {
	out := make(map[string]domain.WalletRecord, len(db.doc.Wallets))
	for addr, w := range db.doc.Wallets {
		out[addr] = w.Clone()
	}
	return out
}

// TokenAddresses returns token addresses in sorted order.
func (db *Database) TokenAddresses() []string {
	addrs := make([]string, 0, len(db.doc.Tokens))
	for addr := range db.doc.Tokens {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)
	return addrs
}

// ArchiveRef returns the archive bundle recorded for month.
func (db *Database) ArchiveRef(month string) (domain.ArchiveRef, bool) {
	ref, ok := db.doc.Archives[month]
	return ref, ok
}

// SetArchiveRef records where the archive bundle of month lives.
func (db *Database) SetArchiveRef(month string, ref domain.ArchiveRef) error {
	if !db.loaded {
		return ErrNotLoaded
	}
	if db.doc.Archives == nil {
		db.doc.Archives = make(map[string]domain.ArchiveRef)
	}
	if db.doc.Archives[month] == ref {
		return nil
	}
	db.doc.Archives[month] = ref
	db.dirty = true
	return nil
}

// DeleteToken removes a token record.
func (db *Database) DeleteToken(addr string) bool {
	if _, ok := db.doc.Tokens[addr]; !ok {
		return false
	}
	delete(db.doc.Tokens, addr)
	db.dirty = true
	return true
}

// DeleteWallet removes a wallet record.
func (db *Database) DeleteWallet(addr string) bool {
	if _, ok := db.doc.Wallets[addr]; !ok {
		return false
	}
	delete(db.doc.Wallets, addr)
	db.dirty = true
	return true
}

// Stats returns a copy of the rolling statistics.
func (db *Database) Stats() domain.PartitionStats {
	return db.doc.Stats
}

// consistency is the share of positive scores in history, 0-100.
func consistency(history []float64) float64 {
	if len(history) == 0 {
		return 0
	}
	positive := 0
	for _, s := range history {
		if s > 0 {
			positive++
		}
	}
	return math.Round(float64(positive)/float64(len(history))*10000) / 100
}
