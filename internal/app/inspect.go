package app

import (
	"context"
	"time"

	"signal-board/internal/domain"
	"signal-board/internal/leaderboard"
	"signal-board/internal/logger"
	"signal-board/internal/orchestrator"
	"signal-board/internal/partition"
	"signal-board/internal/ranking"
	"signal-board/internal/rollup"
	"signal-board/internal/storage"
)

// PeriodReport summarizes the current period of a rollup window.
type PeriodReport struct {
	Key            string  `json:"key"`
	Signals        int     `json:"signals"`
	AverageScore   float64 `json:"averageScore"`
	BestMultiplier float64 `json:"bestMultiplier"`
	UniqueWallets  uint64  `json:"uniqueWallets"`
}

// InspectReport is a read-only snapshot of one partition.
type InspectReport struct {
	Partition string                `json:"partition"`
	Outcome   partition.LoadOutcome `json:"outcome"`
	PointerID string                `json:"pointerId,omitempty"`
	UpdatedAt int64                 `json:"updatedAt"`
	Tokens    int                   `json:"tokens"`
	Wallets   int                   `json:"wallets"`
	Recent    int                   `json:"recentSignals"`

	Periods    map[string]PeriodReport              `json:"periods"`
	TopTokens  map[domain.Variant][]domain.TokenRow `json:"topTokens"`
	TopWallets []domain.WalletRow                   `json:"topWallets"`
	Trending   []ranking.Scored                     `json:"trending"`
	HallOfFame []domain.HallOfFameEntry             `json:"hallOfFameCandidates"`
}

// Inspect loads a partition read-only and reports on it. A legacy document
// is migrated in memory only.
func Inspect(ctx context.Context, store storage.ObjectStore, spec orchestrator.PartitionSpec, strategy ranking.Strategy, now time.Time, topN int, log *logger.Logger) *InspectReport {
	db := partition.New(spec.ID, spec.DataChannel, store,
		partition.WithAddressKind(spec.Kind),
		partition.WithReadOnly(),
		partition.WithLogger(log),
		partition.WithClock(func() time.Time { return now }),
	)
	outcome := db.Load(ctx)

	tokens := db.Tokens()
	wallets := db.Wallets()
	r := &InspectReport{
		Partition:  spec.ID,
		Outcome:    outcome,
		PointerID:  db.PointerID(),
		UpdatedAt:  db.UpdatedAt(),
		Tokens:     len(tokens),
		Wallets:    len(wallets),
		Recent:     len(db.RecentSignals()),
		Periods:    make(map[string]PeriodReport),
		TopTokens:  make(map[domain.Variant][]domain.TokenRow),
		TopWallets: leaderboard.TopWallets(spec.ID, wallets, db.GetTokenPeaks(), strategy, now, topN),
		Trending:   ranking.TrendingTokens(tokens, now, topN),
		HallOfFame: leaderboard.HallOfFameCandidates(spec.ID, tokens),
	}
	for _, v := range domain.AllVariants {
		r.TopTokens[v] = leaderboard.TopTokens(spec.ID, tokens, v, now, topN)
	}
	stats := db.Stats()
	stats.Each(func(p rollup.Period, w *rollup.Window[domain.PeriodStats]) {
		cur := w.Current
		r.Periods[p.Name] = PeriodReport{
			Key:            w.Key,
			Signals:        cur.Signals,
			AverageScore:   cur.AverageScore(),
			BestMultiplier: cur.BestMultiplier,
			UniqueWallets:  cur.UniqueWallets(),
		}
	})
	return r
}
