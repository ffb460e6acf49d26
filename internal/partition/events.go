package partition

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"signal-board/internal/address"
	"signal-board/internal/domain"
	"signal-board/internal/idhash"
	"signal-board/internal/observability"
	"signal-board/internal/rollup"
)

// RugMultiplier is the current/entry ratio at or below which a token is
// flagged rugged without an explicit report.
const RugMultiplier = 0.1

// ErrInvalidEvent is returned for events that cannot be applied.
var ErrInvalidEvent = errors.New("invalid event")

// RecordSignal applies a signal event: dedup, token and wallet upserts, the
// recent log and rolling stats. Returns false for duplicates.
func (db *Database) RecordSignal(ev domain.SignalEvent) (recorded bool, err error) {
	if !db.loaded {
		return false, ErrNotLoaded
	}
	defer func() {
		switch {
		case err != nil:
			observability.RecordSignal(db.id, "invalid")
		case !recorded:
			observability.RecordSignal(db.id, "duplicate")
		default:
			observability.RecordSignal(db.id, "recorded")
		}
	}()

	if ev.Price <= 0 || ev.Time <= 0 {
		return false, fmt.Errorf("%w: signal for %q has price %v time %d", ErrInvalidEvent, ev.Token, ev.Price, ev.Time)
	}
	token, err := address.Normalize(db.kind, ev.Token)
	if err != nil {
		return false, fmt.Errorf("%w: token: %w", ErrInvalidEvent, err)
	}

	scores := make(map[string]float64, len(ev.Wallets))
	for raw, score := range ev.Wallets {
		w, err := address.Normalize(db.kind, raw)
		if err != nil || !address.IsWalletAddress(db.kind, w) {
			db.log.Debug("skipping non-wallet address", "partition", db.id, "address", raw)
			continue
		}
		scores[w] = score
	}
	wallets := make([]string, 0, len(scores))
	for w := range scores {
		wallets = append(wallets, w)
	}
	sort.Strings(wallets)

	key := ev.Key
	if key == "" {
		key = idhash.ComputeSignalKey(db.id, token, ev.Time, wallets)
	}
	if db.IsSignalSeen(key) {
		return false, nil
	}
	if err := db.AddSeenSignal(key); err != nil {
		return false, err
	}

	avg := 0.0
	for _, s := range scores {
		avg += s
	}
	if len(scores) > 0 {
		avg /= float64(len(scores))
	}

	rec, err := db.UpdateToken(token, func(t *domain.TokenRecord) {
		if t.SignalCount == 0 {
			t.Symbol = ev.Symbol
			t.EntryPrice = ev.Price
			t.CurrentPrice = ev.Price
			t.PeakPrice = ev.Price
			t.TroughPrice = ev.Price
			t.FirstSeenAt = ev.Time
			t.AvgEntryScore = avg
		} else {
			t.AvgEntryScore = (t.AvgEntryScore*float64(t.SignalCount) + avg) / float64(t.SignalCount+1)
			if ev.Time >= t.LastSignalAt {
				t.CurrentPrice = ev.Price
			}
			t.PeakPrice = math.Max(t.PeakPrice, ev.Price)
			t.TroughPrice = minPositive(t.TroughPrice, ev.Price)
		}
		if t.Symbol == "" {
			t.Symbol = ev.Symbol
		}
		t.SignalCount++
		if ev.Time > t.LastSignalAt {
			t.LastSignalAt = ev.Time
		}
		for _, w := range wallets {
			if !t.HasWallet(w) {
				t.Wallets = append(t.Wallets, w)
			}
		}
	})
	if err != nil {
		return false, err
	}

	for _, w := range wallets {
		score := scores[w]
		if _, err := db.UpdateWallet(w, func(wr *domain.WalletRecord) {
			wr.AvgEntryScore = (wr.AvgEntryScore*float64(wr.SignalCount) + score) / float64(wr.SignalCount+1)
			wr.SignalCount++
			wr.ScoreHistory = append(wr.ScoreHistory, score)
			if n := len(wr.ScoreHistory); n > domain.MaxScoreHistory {
				wr.ScoreHistory = wr.ScoreHistory[n-domain.MaxScoreHistory:]
			}
			wr.Consistency = consistency(wr.ScoreHistory)
			if ev.Time > wr.LastSeenAt {
				wr.LastSeenAt = ev.Time
			}
			p, ok := wr.Tokens[token]
			if !ok {
				p = domain.Participation{EntryPrice: ev.Price, PeakPrice: ev.Price, Score: score}
			}
			p.PeakPrice = math.Max(p.PeakPrice, ev.Price)
			wr.Tokens[token] = p
		}); err != nil {
			return false, err
		}
	}

	if err := db.AddRecentSignal(domain.SignalSummary{
		ID:           idhash.ComputeSummaryID(key),
		TokenAddress: token,
		Symbol:       rec.Symbol,
		Time:         ev.Time,
		Price:        ev.Price,
		AvgScore:     avg,
		WalletCount:  len(wallets),
	}); err != nil {
		return false, err
	}

	at := time.UnixMilli(ev.Time)
	db.doc.Stats.Each(func(p rollup.Period, w *rollup.Window[domain.PeriodStats]) {
		w.Update(at, p, domain.NewPeriodStats, func(s *domain.PeriodStats) {
			s.AddSignal(avg, wallets)
			s.ObserveMultiplier(rec.PeakMultiplier())
		})
	})
	db.updateGauges()
	return true, nil
}

// ApplyPrice applies a price observation to a tracked token. Updates for
// tokens the partition does not track are ignored and return false.
func (db *Database) ApplyPrice(u domain.PriceUpdate) (applied bool, err error) {
	if !db.loaded {
		return false, ErrNotLoaded
	}
	defer func() {
		switch {
		case err != nil:
			observability.RecordPrice(db.id, "invalid")
		case !applied:
			observability.RecordPrice(db.id, "unknown_token")
		default:
			observability.RecordPrice(db.id, "applied")
		}
	}()

	if u.Price <= 0 {
		return false, fmt.Errorf("%w: price %v for %q", ErrInvalidEvent, u.Price, u.Token)
	}
	token, err := address.Normalize(db.kind, u.Token)
	if err != nil {
		return false, fmt.Errorf("%w: token: %w", ErrInvalidEvent, err)
	}
	if _, ok := db.doc.Tokens[token]; !ok {
		return false, nil
	}

	rec, err := db.UpdateToken(token, func(t *domain.TokenRecord) {
		t.CurrentPrice = u.Price
		t.PeakPrice = math.Max(t.PeakPrice, u.Price)
		t.TroughPrice = minPositive(t.TroughPrice, u.Price)
		switch {
		case u.Rugged != nil:
			t.Rugged = *u.Rugged
		case t.EntryPrice > 0 && t.Multiplier() <= RugMultiplier:
			t.Rugged = true
		}
	})
	if err != nil {
		return false, err
	}

	for _, w := range rec.Wallets {
		wr, ok := db.doc.Wallets[w]
		if !ok {
			continue
		}
		p, ok := wr.Tokens[token]
		if !ok || u.Price <= p.PeakPrice {
			continue
		}
		if _, err := db.UpdateWallet(w, func(wr *domain.WalletRecord) {
			p.PeakPrice = u.Price
			wr.Tokens[token] = p
		}); err != nil {
			return false, err
		}
	}

	if u.Time > 0 {
		at := time.UnixMilli(u.Time)
		db.doc.Stats.Each(func(p rollup.Period, w *rollup.Window[domain.PeriodStats]) {
			w.Update(at, p, domain.NewPeriodStats, func(s *domain.PeriodStats) {
				s.ObserveMultiplier(rec.PeakMultiplier())
			})
		})
	}
	return true, nil
}
