// Package orchestrator runs one job over every configured partition.
// Per partition: lease, load, ingest, prune, save, publish. Then the
// cross-partition views and the materializer config.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"signal-board/internal/address"
	"signal-board/internal/domain"
	"signal-board/internal/ingestion"
	"signal-board/internal/leaderboard"
	"signal-board/internal/logger"
	"signal-board/internal/observability"
	"signal-board/internal/partition"
	"signal-board/internal/retention"
	"signal-board/internal/storage"
)

// ErrViewsOnDataChannel is reported for a partition whose views channel is
// its data channel. Its views are not published there.
var ErrViewsOnDataChannel = errors.New("views channel is the partition data channel")

// PartitionSpec identifies a partition and its channels. With an empty
// ViewsChannel the partition still feeds the summary but publishes no
// views of its own.
type PartitionSpec struct {
	ID           string
	Kind         address.Kind
	DataChannel  string
	ViewsChannel string
}

// Orchestrator coordinates job execution.
type Orchestrator struct {
	partitions   []PartitionSpec
	store        storage.ObjectStore
	source       ingestion.EventSource
	materializer *leaderboard.Materializer
	pruner       *retention.Pruner
	lease        storage.PartitionLease

	maxAgeDays      int
	archive         bool
	leaseTTL        time.Duration
	delay           time.Duration
	optimisticCheck bool

	log *logger.Logger
	now func() time.Time
}

// Options for creating Orchestrator.
type Options struct {
	// Required
	Partitions   []PartitionSpec
	Store        storage.ObjectStore
	Materializer *leaderboard.Materializer

	// Source supplies events. Nil runs maintenance only.
	Source ingestion.EventSource
	// Pruner runs retention after ingestion. Nil disables pruning.
	Pruner     *retention.Pruner
	MaxAgeDays int
	Archive    bool

	// Lease guards each partition's read-modify-write cycle when set.
	Lease    storage.PartitionLease
	LeaseTTL time.Duration

	InterPartitionDelay time.Duration
	OptimisticCheck     bool

	Logger *logger.Logger
	Clock  func() time.Time
}

// New creates a new Orchestrator.
func New(opts Options) *Orchestrator {
	o := &Orchestrator{
		partitions:      opts.Partitions,
		store:           opts.Store,
		source:          opts.Source,
		materializer:    opts.Materializer,
		pruner:          opts.Pruner,
		lease:           opts.Lease,
		maxAgeDays:      opts.MaxAgeDays,
		archive:         opts.Archive,
		leaseTTL:        opts.LeaseTTL,
		delay:           opts.InterPartitionDelay,
		optimisticCheck: opts.OptimisticCheck,
		log:             logger.OrNop(opts.Logger),
		now:             opts.Clock,
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.leaseTTL <= 0 {
		o.leaseTTL = 5 * time.Minute
	}
	return o
}

// PartitionReport describes what happened to one partition.
type PartitionReport struct {
	ID         string
	Outcome    partition.LoadOutcome
	Skipped    bool // lease held elsewhere
	Signals    int
	Duplicates int
	Prices     int
	Rejected   int
	Pruned     *retention.Result
	Saved      bool
	Views      *leaderboard.PartitionResult
}

// RunResult contains results from one job.
type RunResult struct {
	Partitions []PartitionReport
	Summary    map[domain.Variant]domain.SummaryView
	Errors     []error
}

// Run executes one job. Failures of a partition or a view are collected in
// RunResult.Errors and never stop the run; only a cancelled context does.
func (o *Orchestrator) Run(ctx context.Context) (res *RunResult, err error) {
	start := time.Now()
	res = &RunResult{}
	defer func() {
		status := "success"
		switch {
		case err != nil:
			status = "cancelled"
		case len(res.Errors) > 0:
			status = "partial"
		}
		observability.RecordJobRun(status, time.Since(start).Seconds())
	}()

	o.materializer.LoadConfig(ctx)

	for i, spec := range o.partitions {
		if i > 0 && o.delay > 0 {
			select {
			case <-ctx.Done():
				return res, ctx.Err()
			case <-time.After(o.delay):
			}
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}

		report, errs := o.runPartition(ctx, spec)
		res.Partitions = append(res.Partitions, report)
		res.Errors = append(res.Errors, errs...)
	}

	if err := ctx.Err(); err != nil {
		return res, err
	}

	summary, errs := o.materializer.PublishSummary(ctx)
	res.Summary = summary
	res.Errors = append(res.Errors, errs...)

	if err := o.materializer.PublishHallOfFame(ctx); err != nil {
		res.Errors = append(res.Errors, err)
	}
	if err := o.materializer.SaveConfig(ctx); err != nil {
		res.Errors = append(res.Errors, fmt.Errorf("save materializer config: %w", err))
	}

	o.log.Info("job finished",
		"partitions", len(res.Partitions),
		"errors", len(res.Errors),
		"duration", time.Since(start).String(),
	)
	return res, nil
}

func (o *Orchestrator) runPartition(ctx context.Context, spec PartitionSpec) (PartitionReport, []error) {
	report := PartitionReport{ID: spec.ID}
	var errs []error
	fail := func(step string, err error) {
		o.log.Warn("partition step failed", "partition", spec.ID, "step", step, "error", err)
		errs = append(errs, fmt.Errorf("partition %s: %s: %w", spec.ID, step, err))
	}

	if o.lease != nil {
		release, err := o.lease.Acquire(ctx, spec.ID, o.leaseTTL)
		if err != nil {
			if errors.Is(err, storage.ErrLeaseHeld) {
				report.Skipped = true
			}
			fail("lease", err)
			return report, errs
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				o.log.Warn("lease release failed", "partition", spec.ID, "error", err)
			}
		}()
	}

	opts := []partition.Option{
		partition.WithLogger(o.log),
		partition.WithClock(o.now),
		partition.WithAddressKind(spec.Kind),
	}
	if o.optimisticCheck {
		opts = append(opts, partition.WithOptimisticCheck())
	}
	db := partition.New(spec.ID, spec.DataChannel, o.store, opts...)
	report.Outcome = db.Load(ctx)

	if o.source != nil {
		batch, err := o.source.Fetch(ctx, spec.ID)
		if err != nil {
			fail("fetch", err)
		} else {
			o.apply(db, batch, &report)
		}
	}

	if o.pruner != nil {
		pruned, err := o.pruner.Prune(ctx, db, o.maxAgeDays, o.archive)
		if err != nil {
			fail("prune", err)
		} else {
			report.Pruned = pruned
			for _, aerr := range pruned.ArchiveErrors {
				fail("archive", aerr)
			}
		}
	}

	if err := db.Save(ctx, false); err != nil {
		fail("save", err)
	} else {
		report.Saved = true
	}

	channel := spec.ViewsChannel
	if channel != "" && channel == spec.DataChannel {
		fail("publish", fmt.Errorf("%w: %s", ErrViewsOnDataChannel, channel))
		channel = ""
	}
	report.Views = o.materializer.PublishPartition(ctx, db, channel)
	for _, verr := range report.Views.Errors {
		fail("publish", verr)
	}

	o.log.Info("partition processed",
		"partition", spec.ID,
		"load", string(report.Outcome),
		"signals", report.Signals,
		"duplicates", report.Duplicates,
		"prices", report.Prices,
		"rejected", report.Rejected,
	)
	return report, errs
}

// apply replays the batch in time order, interleaving signals and prices.
// At equal times the signal goes first so a price for a token first seen in
// the same batch is not dropped as unknown.
func (o *Orchestrator) apply(db *partition.Database, batch *domain.EventBatch, report *PartitionReport) {
	if batch.Empty() {
		return
	}
	ingestion.SortBatch(batch)

	si, pi := 0, 0
	for si < len(batch.Signals) || pi < len(batch.Prices) {
		if pi >= len(batch.Prices) || (si < len(batch.Signals) && batch.Signals[si].Time <= batch.Prices[pi].Time) {
			o.applySignal(db, batch.Signals[si], report)
			si++
			continue
		}
		o.applyPrice(db, batch.Prices[pi], report)
		pi++
	}
}

func (o *Orchestrator) applySignal(db *partition.Database, ev domain.SignalEvent, report *PartitionReport) {
	recorded, err := db.RecordSignal(ev)
	switch {
	case err != nil:
		report.Rejected++
		o.log.Debug("signal rejected", "partition", db.ID(), "token", ev.Token, "error", err)
	case recorded:
		report.Signals++
	default:
		report.Duplicates++
	}
}

func (o *Orchestrator) applyPrice(db *partition.Database, u domain.PriceUpdate, report *PartitionReport) {
	applied, err := db.ApplyPrice(u)
	switch {
	case err != nil:
		report.Rejected++
		o.log.Debug("price rejected", "partition", db.ID(), "token", u.Token, "error", err)
	case applied:
		report.Prices++
	}
}
