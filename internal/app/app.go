// Package app wires configuration into running components. It is shared by
// the commands under cmd/.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"signal-board/internal/config"
	"signal-board/internal/ingestion"
	"signal-board/internal/leaderboard"
	"signal-board/internal/logger"
	"signal-board/internal/orchestrator"
	"signal-board/internal/ranking"
	"signal-board/internal/retention"
	"signal-board/internal/storage"
	chstore "signal-board/internal/storage/clickhouse"
	"signal-board/internal/storage/gcs"
	"signal-board/internal/storage/memory"
	"signal-board/internal/storage/migrations"
	pgstore "signal-board/internal/storage/postgres"
	redisstore "signal-board/internal/storage/redis"
	"signal-board/internal/telegram"
)

// Object store backends.
const (
	BackendTelegram = "telegram"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// ErrMissingSetting is returned when a selected backend lacks its settings.
var ErrMissingSetting = errors.New("missing setting")

// Components holds everything a job needs.
type Components struct {
	Store        storage.ObjectStore
	ArchiveStore storage.ObjectStore
	History      storage.LeaderboardHistoryStore
	Lease        storage.PartitionLease
	Source       ingestion.EventSource
	Strategy     ranking.Strategy
	Materializer *leaderboard.Materializer
	Pruner       *retention.Pruner
	Orchestrator *orchestrator.Orchestrator
}

// Build connects the configured backends and assembles the job. The
// returned cleanup closes every connection opened, in reverse order.
func Build(ctx context.Context, cfg *config.Config, backend string, log *logger.Logger) (*Components, func(), error) {
	log = logger.OrNop(log)
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Components, func(), error) {
		cleanup()
		return nil, nil, err
	}

	strategy, err := ranking.FromName(cfg.Ranking)
	if err != nil {
		return fail(err)
	}
	c := &Components{Strategy: strategy}

	store, closeStore, err := OpenStore(ctx, cfg, backend)
	if err != nil {
		return fail(err)
	}
	closers = append(closers, closeStore)
	c.Store = store

	// Cold archive
	c.ArchiveStore = c.Store
	if cfg.Retention.Archive && cfg.Backends.GCSArchiveBucket != "" {
		archive, err := gcs.NewObjectStore(ctx, cfg.Backends.GCSArchiveBucket)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, func() { _ = archive.Close() })
		c.ArchiveStore = archive
	}

	// Leaderboard history
	if cfg.Materializer.RecordHistory {
		switch {
		case cfg.Backends.ClickHouseDSN != "":
			conn, err := migrations.OpenClickHouse(ctx, cfg.Backends.ClickHouseDSN)
			if err != nil {
				return fail(err)
			}
			closers = append(closers, func() { _ = conn.Close() })
			c.History = chstore.NewLeaderboardHistoryStore(conn)
		case strings.EqualFold(backend, BackendMemory):
			c.History = memory.NewLeaderboardHistoryStore()
		default:
			return fail(fmt.Errorf("%w: %s (record_history is on)", ErrMissingSetting, config.EnvClickHouseDSN))
		}
	}

	// Partition lease
	if cfg.Lease.Enabled {
		if cfg.Backends.RedisAddr != "" {
			rdb, err := redisstore.NewClient(ctx, cfg.Backends.RedisAddr)
			if err != nil {
				return fail(err)
			}
			closers = append(closers, func() { _ = rdb.Close() })
			c.Lease = redisstore.NewPartitionLease(rdb, "")
		} else {
			log.Warn("lease enabled without redis, using an in-process lease")
			c.Lease = memory.NewPartitionLease()
		}
	}

	// Event sources
	var sources ingestion.MultiSource
	if cfg.Feed.Dir != "" {
		sources = append(sources, ingestion.NewFileSource(cfg.Feed.Dir, log))
	}
	if cfg.Feed.URL != "" {
		var opts []ingestion.HTTPOption
		if cfg.Feed.Token != "" {
			opts = append(opts, ingestion.WithAuthToken(cfg.Feed.Token))
		}
		sources = append(sources, ingestion.NewHTTPSource(cfg.Feed.URL, opts...))
	}
	switch len(sources) {
	case 0:
		log.Warn("no event feed configured, jobs run maintenance only")
	case 1:
		c.Source = sources[0]
	default:
		c.Source = sources
	}

	renderer, err := leaderboard.RendererFor(cfg.Materializer.Format)
	if err != nil {
		return fail(err)
	}
	mOpts := []leaderboard.Option{
		leaderboard.WithRenderer(renderer),
		leaderboard.WithLogger(log),
		leaderboard.WithTopN(cfg.Materializer.TopN),
	}
	if c.History != nil {
		mOpts = append(mOpts, leaderboard.WithHistory(c.History))
	}
	c.Materializer = leaderboard.New(c.Store, leaderboard.Channels{
		Config:     cfg.Materializer.ConfigChannel,
		Summary:    cfg.Materializer.SummaryChannel,
		HallOfFame: cfg.Materializer.HallOfFameChannel,
	}, strategy, mOpts...)

	c.Pruner = retention.New(c.ArchiveStore, cfg.Retention.ArchiveChannel, strategy, retention.WithLogger(log))

	c.Orchestrator = orchestrator.New(orchestrator.Options{
		Partitions:          PartitionSpecs(cfg),
		Store:               c.Store,
		Source:              c.Source,
		Materializer:        c.Materializer,
		Pruner:              c.Pruner,
		MaxAgeDays:          cfg.Retention.MaxAgeDays,
		Archive:             cfg.Retention.Archive,
		Lease:               c.Lease,
		LeaseTTL:            cfg.Lease.TTL,
		InterPartitionDelay: cfg.InterPartitionDelay,
		OptimisticCheck:     cfg.OptimisticCheck,
		Logger:              log,
	})

	return c, cleanup, nil
}

// OpenStore connects the primary object store of backend. Postgres
// migrations are applied before the store is returned.
func OpenStore(ctx context.Context, cfg *config.Config, backend string) (storage.ObjectStore, func(), error) {
	switch strings.ToLower(backend) {
	case BackendMemory:
		return memory.NewObjectStore(), func() {}, nil
	case BackendTelegram, "":
		if cfg.Backends.BotToken == "" {
			return nil, nil, fmt.Errorf("%w: %s", ErrMissingSetting, config.EnvBotToken)
		}
		var opts []telegram.ClientOption
		if cfg.Backends.BotAPIURL != "" {
			opts = append(opts, telegram.WithBaseURL(cfg.Backends.BotAPIURL))
		}
		return telegram.NewClient(cfg.Backends.BotToken, opts...), func() {}, nil
	case BackendPostgres:
		if cfg.Backends.PostgresDSN == "" {
			return nil, nil, fmt.Errorf("%w: %s", ErrMissingSetting, config.EnvPostgresDSN)
		}
		pool, err := pgstore.NewPool(ctx, cfg.Backends.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		if err := migrations.ApplyPostgres(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return pgstore.NewObjectStore(pool), pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown backend %q", backend)
	}
}

// PartitionSpecs converts configured partitions.
func PartitionSpecs(cfg *config.Config) []orchestrator.PartitionSpec {
	specs := make([]orchestrator.PartitionSpec, 0, len(cfg.Partitions))
	for _, p := range cfg.Partitions {
		specs = append(specs, orchestrator.PartitionSpec{
			ID:           p.ID,
			Kind:         p.Kind,
			DataChannel:  p.DataChannel,
			ViewsChannel: p.ViewsChannel,
		})
	}
	return specs
}
