// Package retention evicts stale entities from partition documents and
// archives them to a cold channel.
package retention

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"signal-board/internal/domain"
	"signal-board/internal/logger"
	"signal-board/internal/observability"
	"signal-board/internal/partition"
	"signal-board/internal/ranking"
	"signal-board/internal/rollup"
	"signal-board/internal/storage"
)

const (
	// WinnerGrace extends the token cutoff for tokens at or above their
	// entry price.
	WinnerGrace = 7 * 24 * time.Hour

	// WalletInactivity is how long a wallet must be idle before it can be
	// evicted.
	WalletInactivity = 7 * 24 * time.Hour

	// WalletKeepScore is the rank score at or above which inactive wallets
	// are kept.
	WalletKeepScore = 0.5

	day = 24 * time.Hour
)

// Bundle is one archived month of evicted entities.
type Bundle struct {
	Partition  string                         `json:"partition"`
	Month      string                         `json:"month"`
	ArchivedAt int64                          `json:"archivedAt"`
	Tokens     map[string]domain.TokenRecord  `json:"tokens"`
	Wallets    map[string]domain.WalletRecord `json:"wallets"`
}

// BundleName returns the archive document name of a partition month.
func BundleName(partitionID, month string) string {
	return fmt.Sprintf("%s-archive-%s.json", partitionID, month)
}

// Result summarizes a sweep.
type Result struct {
	Tokens  int
	Wallets int
	Signals int

	// Archived lists the bundle names written.
	Archived []string
	// ArchiveErrors holds failed bundle writes. They never block eviction.
	ArchiveErrors []error
}

// Pruner runs retention sweeps.
type Pruner struct {
	store    storage.ObjectStore
	channel  string
	strategy ranking.Strategy
	log      *logger.Logger
	now      func() time.Time
}

// Option configures a Pruner.
type Option func(*Pruner)

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(p *Pruner) { p.log = logger.OrNop(l) }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(p *Pruner) { p.now = now }
}

// New creates a Pruner. archiveStore may be nil when archiving is never
// requested. strategy decides which inactive wallets are worth keeping.
func New(archiveStore storage.ObjectStore, archiveChannel string, strategy ranking.Strategy, opts ...Option) *Pruner {
	p := &Pruner{
		store:    archiveStore,
		channel:  archiveChannel,
		strategy: strategy,
		log:      logger.Nop(),
		now:      time.Now,
	}
	if p.strategy == nil {
		p.strategy = ranking.WeightedFactors{}
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Prune evicts tokens idle for more than maxAgeDays (winners get
// WinnerGrace on top), wallets that are both inactive and low ranked, and
// recent signals outside the display window. With archive set, evicted
// tokens and wallets are first written to the cold channel, one bundle per
// month of last activity. A month archived by an earlier sweep is merged
// into its existing bundle, located through the partition document. A
// failed archive write is logged and recorded in the result; the entities
// are removed regardless.
func (p *Pruner) Prune(ctx context.Context, db *partition.Database, maxAgeDays int, archive bool) (*Result, error) {
	if !db.Loaded() {
		return nil, partition.ErrNotLoaded
	}
	if maxAgeDays < 0 {
		return nil, fmt.Errorf("%w: maxAgeDays %d", storage.ErrInvalidInput, maxAgeDays)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := p.now()
	maxAge := time.Duration(maxAgeDays) * day
	loserCutoff := now.Add(-maxAge).UnixMilli()
	winnerCutoff := now.Add(-maxAge - WinnerGrace).UnixMilli()
	walletCutoff := now.Add(-WalletInactivity).UnixMilli()

	tokens := make(map[string]domain.TokenRecord)
	for addr, t := range db.Tokens() {
		cutoff := loserCutoff
		if t.Multiplier() >= 1.0 {
			cutoff = winnerCutoff
		}
		if lastActivity(t) < cutoff {
			tokens[addr] = t
		}
	}

	peaks := db.GetTokenPeaks()
	wallets := make(map[string]domain.WalletRecord)
	for addr, w := range db.Wallets() {
		if w.LastSeenAt >= walletCutoff {
			continue
		}
		if p.strategy.Score(w, peaks, now) >= WalletKeepScore {
			continue
		}
		wallets[addr] = w
	}

	res := &Result{}
	if archive && (len(tokens) > 0 || len(wallets) > 0) {
		p.archive(ctx, db, now, tokens, wallets, res)
	}

	for addr := range tokens {
		if db.DeleteToken(addr) {
			res.Tokens++
		}
	}
	for addr := range wallets {
		if db.DeleteWallet(addr) {
			res.Wallets++
		}
	}
	res.Signals = db.PruneRecent(now.Add(-domain.RecentSignalWindow).UnixMilli())

	observability.RecordEvicted(db.ID(), "tokens", res.Tokens)
	observability.RecordEvicted(db.ID(), "wallets", res.Wallets)
	observability.RecordEvicted(db.ID(), "signals", res.Signals)

	if res.Tokens+res.Wallets+res.Signals > 0 {
		p.log.Info("retention sweep",
			"partition", db.ID(),
			"tokens", res.Tokens,
			"wallets", res.Wallets,
			"signals", res.Signals,
			"archived", len(res.Archived),
		)
	}
	return res, nil
}

func (p *Pruner) archive(ctx context.Context, db *partition.Database, now time.Time, tokens map[string]domain.TokenRecord, wallets map[string]domain.WalletRecord, res *Result) {
	partitionID := db.ID()
	bundles := make(map[string]*Bundle)
	bundle := func(ms int64) *Bundle {
		month := rollup.Monthly.Key(time.UnixMilli(ms))
		b, ok := bundles[month]
		if !ok {
			b = &Bundle{
				Partition:  partitionID,
				Month:      month,
				ArchivedAt: now.UnixMilli(),
				Tokens:     make(map[string]domain.TokenRecord),
				Wallets:    make(map[string]domain.WalletRecord),
			}
			bundles[month] = b
		}
		return b
	}
	for addr, t := range tokens {
		bundle(lastActivity(t)).Tokens[addr] = t
	}
	for addr, w := range wallets {
		bundle(w.LastSeenAt).Wallets[addr] = w
	}

	months := make([]string, 0, len(bundles))
	for m := range bundles {
		months = append(months, m)
	}
	sort.Strings(months)

	for _, month := range months {
		name := BundleName(partitionID, month)
		err := p.writeBundle(ctx, db, name, bundles[month])
		observability.RecordArchiveWrite(partitionID, err)
		if err != nil {
			p.log.Warn("archive write failed, evicting anyway",
				"partition", partitionID, "bundle", name, "error", err)
			res.ArchiveErrors = append(res.ArchiveErrors, fmt.Errorf("archive %s: %w", name, err))
			continue
		}
		res.Archived = append(res.Archived, name)
	}
}

func (p *Pruner) writeBundle(ctx context.Context, db *partition.Database, name string, b *Bundle) error {
	if p.store == nil || p.channel == "" {
		return fmt.Errorf("%w: no archive channel configured", storage.ErrInvalidInput)
	}

	if ref, ok := db.ArchiveRef(b.Month); ok {
		next, err := p.mergeBundle(ctx, ref, name, b)
		switch {
		case err == nil:
			return db.SetArchiveRef(b.Month, next)
		case errors.Is(err, storage.ErrContentUnchanged):
			return nil
		case errors.Is(err, storage.ErrPointerStale), errors.Is(err, storage.ErrNotFound), errors.Is(err, storage.ErrSchema):
			p.log.Warn("archive bundle unusable, writing a new one",
				"partition", b.Partition, "bundle", name, "error", err)
		default:
			return err
		}
	}

	doc, err := bundleDocument(name, b)
	if err != nil {
		return err
	}
	ref, err := p.store.Upload(ctx, p.channel, doc)
	if err != nil {
		return err
	}
	return db.SetArchiveRef(b.Month, domain.ArchiveRef{PointerID: ref.PointerID, FileRef: ref.FileRef})
}

// mergeBundle adds the entities of b to the stored bundle at ref and
// replaces it in place. Records already archived are kept as first written.
func (p *Pruner) mergeBundle(ctx context.Context, ref domain.ArchiveRef, name string, b *Bundle) (domain.ArchiveRef, error) {
	body, err := p.store.Download(ctx, ref.FileRef)
	if err != nil {
		return domain.ArchiveRef{}, err
	}
	var prev Bundle
	if err := json.Unmarshal(body, &prev); err != nil {
		return domain.ArchiveRef{}, fmt.Errorf("%w: %s: %v", storage.ErrSchema, name, err)
	}
	for addr, t := range prev.Tokens {
		b.Tokens[addr] = t
	}
	for addr, w := range prev.Wallets {
		b.Wallets[addr] = w
	}

	doc, err := bundleDocument(name, b)
	if err != nil {
		return domain.ArchiveRef{}, err
	}
	next, err := p.store.Replace(ctx, p.channel, ref.PointerID, doc)
	if err != nil {
		return domain.ArchiveRef{}, err
	}
	return domain.ArchiveRef{PointerID: next.PointerID, FileRef: next.FileRef}, nil
}

func bundleDocument(name string, b *Bundle) (storage.Document, error) {
	body, err := json.Marshal(b)
	if err != nil {
		return storage.Document{}, err
	}
	return storage.Document{
		Name:    name,
		Caption: fmt.Sprintf("%s archive %s", b.Partition, b.Month),
		Body:    body,
	}, nil
}

func lastActivity(t domain.TokenRecord) int64 {
	if t.LastSignalAt > 0 {
		return t.LastSignalAt
	}
	return t.FirstSeenAt
}
