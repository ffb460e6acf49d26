package leaderboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"signal-board/internal/domain"
	"signal-board/internal/logger"
	"signal-board/internal/partition"
	"signal-board/internal/ranking"
	"signal-board/internal/storage"
)

const configDocumentName = "materializer-config.json"

// Channels names where the materializer keeps its own documents.
type Channels struct {
	// Config holds the MaterializerConfig document.
	Config string
	// Summary receives the cross-partition views.
	Summary string
	// HallOfFame receives the hall of fame view. Defaults to Summary.
	HallOfFame string
}

// Materializer publishes leaderboard views and remembers where each one
// lives. It is not safe for concurrent use.
type Materializer struct {
	store    storage.ObjectStore
	channels Channels
	strategy ranking.Strategy
	renderer Renderer
	history  storage.LeaderboardHistoryStore
	topN     int
	log      *logger.Logger
	now      func() time.Time

	cfg           *domain.MaterializerConfig
	cfgBinding    Binding
	cfgDirty      bool
	cfgLoaded     bool
	candidateRows map[domain.Variant][][]domain.TokenRow
}

// Option configures a Materializer.
type Option func(*Materializer)

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(m *Materializer) { m.log = logger.OrNop(l) }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Materializer) { m.now = now }
}

// WithRenderer replaces the default JSONRenderer.
func WithRenderer(r Renderer) Option {
	return func(m *Materializer) { m.renderer = r }
}

// WithHistory records every published token view row in h.
func WithHistory(h storage.LeaderboardHistoryStore) Option {
	return func(m *Materializer) { m.history = h }
}

// WithTopN sets the per-partition view length.
func WithTopN(n int) Option {
	return func(m *Materializer) {
		if n > 0 {
			m.topN = n
		}
	}
}

// New creates a Materializer.
func New(store storage.ObjectStore, channels Channels, strategy ranking.Strategy, opts ...Option) *Materializer {
	if channels.HallOfFame == "" {
		channels.HallOfFame = channels.Summary
	}
	m := &Materializer{
		store:         store,
		channels:      channels,
		strategy:      strategy,
		renderer:      JSONRenderer{},
		topN:          DefaultTopN,
		log:           logger.Nop(),
		now:           time.Now,
		cfg:           domain.NewMaterializerConfig(),
		candidateRows: make(map[domain.Variant][][]domain.TokenRow),
	}
	if m.strategy == nil {
		m.strategy = ranking.WeightedFactors{}
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Config returns the current config. Callers must not modify it.
func (m *Materializer) Config() *domain.MaterializerConfig {
	return m.cfg
}

// LoadConfig reads the MaterializerConfig from the config channel. Like a
// partition load it never fails: a missing or unreadable config starts
// empty, which only costs one extra upload per view.
func (m *Materializer) LoadConfig(ctx context.Context) *domain.MaterializerConfig {
	if m.cfgLoaded {
		return m.cfg
	}
	m.cfgLoaded = true

	ptr, err := m.store.GetPointer(ctx, m.channels.Config)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			m.log.Warn("materializer config unavailable, starting empty", "error", err)
		}
		return m.cfg
	}
	if !ptr.HasFile() {
		m.log.Warn("materializer config pointer has no document", "pointer", ptr.ID)
		return m.cfg
	}
	body, err := m.store.Download(ctx, ptr.FileRef)
	if err != nil {
		m.log.Warn("materializer config download failed, starting empty", "error", err)
		return m.cfg
	}
	var cfg domain.MaterializerConfig
	if err := json.Unmarshal(body, &cfg); err != nil {
		m.log.Warn("materializer config malformed, starting empty", "error", err)
		return m.cfg
	}
	cfg.Normalize()
	m.cfg = &cfg
	m.cfgBinding = Bound(ptr.ID)
	return m.cfg
}

// SaveConfig writes the config when any pointer or hall of fame entry
// changed since the last save.
func (m *Materializer) SaveConfig(ctx context.Context) error {
	if !m.cfgDirty {
		return nil
	}
	m.cfg.UpdatedAt = m.now().UnixMilli()
	body, err := json.Marshal(m.cfg)
	if err != nil {
		return fmt.Errorf("marshal materializer config: %w", err)
	}
	doc := storage.Document{Name: configDocumentName, Caption: "materializer config", Body: body}
	next, err := Upsert(ctx, m.store, m.log, m.channels.Config, m.cfgBinding, doc)
	if err != nil {
		return fmt.Errorf("save materializer config: %w", err)
	}
	m.cfgBinding = next
	m.cfgDirty = false
	return nil
}

// PartitionResult reports one partition's publish.
type PartitionResult struct {
	Tokens  map[domain.Variant][]domain.TokenRow
	Wallets []domain.WalletRow
	Errors  []error
}

// PublishPartition materializes the token views of every variant and the
// wallet view of a loaded partition into channel. Each view is published
// independently; failures are collected, never short-circuited. Token rows
// are also kept for the next PublishSummary and hall of fame candidates
// are folded into the config. An empty channel ranks the partition without
// publishing its views.
func (m *Materializer) PublishPartition(ctx context.Context, db *partition.Database, channel string) *PartitionResult {
	now := m.now()
	id := db.ID()
	tokens := db.Tokens()
	res := &PartitionResult{Tokens: make(map[domain.Variant][]domain.TokenRow)}

	for _, v := range domain.AllVariants {
		rows := TopTokens(id, tokens, v, now, m.topN)
		res.Tokens[v] = rows
		m.candidateRows[v] = append(m.candidateRows[v], rows)
		if channel == "" {
			continue
		}

		view := View{
			Name:      fmt.Sprintf("%s-tokens-%s", id, v),
			Title:     fmt.Sprintf("%s top tokens (%s)", id, v),
			Partition: id,
			Kind:      domain.ViewTokens,
			Variant:   v,
			Tokens:    rows,
		}
		if err := m.publishPartitionView(ctx, id, channel, view); err != nil {
			res.Errors = append(res.Errors, err)
			continue
		}
		m.recordHistory(ctx, now, v, rows)
	}

	res.Wallets = TopWallets(id, db.Wallets(), db.GetTokenPeaks(), m.strategy, now, m.topN)
	if channel != "" {
		view := View{
			Name:      fmt.Sprintf("%s-wallets-%s", id, WalletVariant),
			Title:     fmt.Sprintf("%s top wallets", id),
			Partition: id,
			Kind:      domain.ViewWallets,
			Variant:   WalletVariant,
			Wallets:   res.Wallets,
		}
		if err := m.publishPartitionView(ctx, id, channel, view); err != nil {
			res.Errors = append(res.Errors, err)
		}
	}

	merged, changed := MergeHallOfFame(m.cfg.HallOfFameEntries, HallOfFameCandidates(id, tokens), HallOfFameCap)
	if changed {
		m.cfg.HallOfFameEntries = merged
		m.cfgDirty = true
	}
	return res
}

func (m *Materializer) publishPartitionView(ctx context.Context, partitionID, channel string, view View) error {
	doc, err := m.renderer.Render(view)
	if err != nil {
		return fmt.Errorf("render %s: %w", view.Name, err)
	}
	prev := m.cfg.PartitionPointer(partitionID, view.Variant, view.Kind)
	next, err := Upsert(ctx, m.store, m.log, channel, Bound(prev), doc)
	if err != nil {
		m.log.Error("publish view failed", "view", view.Name, "error", err)
		return fmt.Errorf("publish %s: %w", view.Name, err)
	}
	if next.PointerID() != prev {
		m.cfg.SetPartitionPointer(partitionID, view.Variant, view.Kind, next.PointerID())
		m.cfgDirty = true
	}
	return nil
}

func (m *Materializer) recordHistory(ctx context.Context, now time.Time, v domain.Variant, rows []domain.TokenRow) {
	if m.history == nil || len(rows) == 0 {
		return
	}
	if err := m.history.InsertBulk(ctx, now.UnixMilli(), v, rows); err != nil {
		m.log.Warn("leaderboard history insert failed", "variant", v, "error", err)
	}
}

// PublishSummary publishes the cross-partition view of every variant from
// the rows gathered by PublishPartition since the last call, then resets
// them.
func (m *Materializer) PublishSummary(ctx context.Context) (map[domain.Variant]domain.SummaryView, []error) {
	views := make(map[domain.Variant]domain.SummaryView, len(domain.AllVariants))
	var errs []error

	for _, v := range domain.AllVariants {
		summary := Summary(v, m.candidateRows[v]...)
		views[v] = summary
		gain := summary.GainSum
		view := View{
			Name:    fmt.Sprintf("summary-%s", v),
			Title:   fmt.Sprintf("Top tokens across partitions (%s)", v),
			Kind:    domain.ViewTokens,
			Variant: v,
			Tokens:  summary.Rows,
			GainSum: &gain,
		}
		doc, err := m.renderer.Render(view)
		if err != nil {
			errs = append(errs, fmt.Errorf("render %s: %w", view.Name, err))
			continue
		}
		prev := m.cfg.Summary[v]
		next, err := Upsert(ctx, m.store, m.log, m.channels.Summary, Bound(prev), doc)
		if err != nil {
			m.log.Error("publish summary failed", "variant", v, "error", err)
			errs = append(errs, fmt.Errorf("publish %s: %w", view.Name, err))
			continue
		}
		if next.PointerID() != prev {
			m.cfg.Summary[v] = next.PointerID()
			m.cfgDirty = true
		}
	}

	m.candidateRows = make(map[domain.Variant][][]domain.TokenRow)
	return views, errs
}

// PublishHallOfFame publishes the accumulated hall of fame.
func (m *Materializer) PublishHallOfFame(ctx context.Context) error {
	entries := m.cfg.HallOfFameEntries
	if entries == nil {
		entries = []domain.HallOfFameEntry{}
	}
	doc, err := m.renderer.Render(View{
		Name:       "hall-of-fame",
		Title:      "Hall of fame",
		HallOfFame: entries,
	})
	if err != nil {
		return fmt.Errorf("render hall of fame: %w", err)
	}
	prev := m.cfg.HallOfFame
	next, err := Upsert(ctx, m.store, m.log, m.channels.HallOfFame, Bound(prev), doc)
	if err != nil {
		m.log.Error("publish hall of fame failed", "error", err)
		return fmt.Errorf("publish hall of fame: %w", err)
	}
	if next.PointerID() != prev {
		m.cfg.HallOfFame = next.PointerID()
		m.cfgDirty = true
	}
	return nil
}
