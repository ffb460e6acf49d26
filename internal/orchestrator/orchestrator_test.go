package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signal-board/internal/address"
	"signal-board/internal/domain"
	"signal-board/internal/ingestion/stub"
	"signal-board/internal/leaderboard"
	"signal-board/internal/partition"
	"signal-board/internal/ranking"
	"signal-board/internal/retention"
	"signal-board/internal/storage"
	"signal-board/internal/storage/memory"
)

var now = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

func clock() time.Time { return now }

func ago(d time.Duration) int64 { return now.Add(-d).UnixMilli() }

func evm(n int) string { return fmt.Sprintf("0x%040x", n) }

var testPartitions = []PartitionSpec{
	{ID: "eth", Kind: address.KindEVM, DataChannel: "eth-db", ViewsChannel: "eth-views"},
	{ID: "base", Kind: address.KindEVM, DataChannel: "base-db", ViewsChannel: "board-summary"},
}

type fixture struct {
	store  *memory.ObjectStore
	source *stub.Source
	lease  *memory.PartitionLease
	orch   *Orchestrator
	mutate func(*Options)
}

func newFixture(t *testing.T, mutate func(*Options)) *fixture {
	t.Helper()
	f := &fixture{
		store:  memory.NewObjectStore(),
		source: stub.NewSource(),
		lease:  memory.NewPartitionLease(),
		mutate: mutate,
	}
	f.orch = f.build()
	return f
}

// build wires a fresh orchestrator and materializer over the fixture's
// store, as a new process would.
func (f *fixture) build() *Orchestrator {
	opts := Options{
		Partitions: testPartitions,
		Store:      f.store,
		Source:     f.source,
		Materializer: leaderboard.New(f.store,
			leaderboard.Channels{Config: "board-config", Summary: "board-summary"},
			ranking.WeightedFactors{},
			leaderboard.WithClock(clock)),
		Pruner:     retention.New(f.store, "cold", ranking.WeightedFactors{}, retention.WithClock(clock)),
		MaxAgeDays: 30,
		Archive:    true,
		Lease:      f.lease,
		Clock:      clock,
	}
	if f.mutate != nil {
		f.mutate(&opts)
	}
	return New(opts)
}

func (f *fixture) load(t *testing.T, spec PartitionSpec) (*partition.Database, partition.LoadOutcome) {
	t.Helper()
	db := partition.New(spec.ID, spec.DataChannel, f.store,
		partition.WithAddressKind(spec.Kind), partition.WithClock(clock))
	return db, db.Load(context.Background())
}

// seed queues one signal at entry price 1 and a later price for a token.
func (f *fixture) seed(partitionID string, token string, price float64, at time.Duration) {
	f.source.AddSignals(partitionID, domain.SignalEvent{
		Token:   token,
		Symbol:  "T" + token[len(token)-2:],
		Price:   1,
		Time:    ago(at),
		Wallets: map[string]float64{evm(900): 1.5},
	})
	f.source.AddPrices(partitionID, domain.PriceUpdate{Token: token, Price: price, Time: ago(at) + 60_000})
}

func TestRun_EndToEnd(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.seed("eth", evm(1), 3, time.Hour)
	f.seed("base", evm(2), 2.5, 2*time.Hour)

	res, err := f.orch.Run(ctx)
	require.NoError(t, err)
	require.Empty(t, res.Errors)

	require.Len(t, res.Partitions, 2)
	for _, p := range res.Partitions {
		assert.Equal(t, partition.LoadedEmpty, p.Outcome)
		assert.Equal(t, 1, p.Signals)
		assert.Equal(t, 1, p.Prices)
		assert.True(t, p.Saved)
	}

	db, outcome := f.load(t, testPartitions[0])
	assert.Equal(t, partition.LoadedCanonical, outcome)
	tok, ok := db.GetToken(evm(1))
	require.True(t, ok)
	assert.Equal(t, 3.0, tok.PeakMultiplier())

	assert.Contains(t, f.store.Names("eth-views"), "eth-tokens-24h.json")
	assert.Contains(t, f.store.Names("board-summary"), "base-wallets-7d.json")
	assert.Len(t, f.store.Names("base-db"), 1, "the data channel holds only the partition document")

	summary := res.Summary[domain.Variant24h]
	require.Len(t, summary.Rows, 2)
	assert.Equal(t, 3.0, summary.Rows[0].PeakMultiplier)
	assert.Equal(t, 5.5, summary.GainSum)

	assert.Contains(t, f.store.Names("board-summary"), "hall-of-fame.json")
	assert.Equal(t, []string{"materializer-config.json"}, f.store.Names("board-config"))
	assert.Equal(t, 2, f.lease.Acquired())
}

func TestRun_QuietRunWritesNothingNew(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.seed("eth", evm(1), 3, time.Hour)

	_, err := f.orch.Run(ctx)
	require.NoError(t, err)
	uploads := f.store.Uploads()

	res, err := f.orch.Run(ctx)
	require.NoError(t, err)
	assert.Empty(t, res.Errors)
	assert.Equal(t, uploads, f.store.Uploads())
	for _, p := range res.Partitions {
		assert.Zero(t, p.Signals)
	}
}

func TestRun_SecondRunReloadsEveryPartition(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.seed("eth", evm(1), 3, time.Hour)
	f.seed("base", evm(2), 2.5, 2*time.Hour)

	_, err := f.orch.Run(ctx)
	require.NoError(t, err)

	f.seed("base", evm(3), 1.5, 30*time.Minute)
	res, err := f.build().Run(ctx)
	require.NoError(t, err)
	require.Empty(t, res.Errors)

	for _, p := range res.Partitions {
		assert.Equal(t, partition.LoadedCanonical, p.Outcome, p.ID)
	}
	assert.Equal(t, 1, res.Partitions[1].Signals)

	for _, spec := range testPartitions {
		_, outcome := f.load(t, spec)
		assert.Equal(t, partition.LoadedCanonical, outcome, spec.ID)
	}
	base, _ := f.load(t, testPartitions[1])
	_, ok := base.GetToken(evm(2))
	assert.True(t, ok, "first run's token survives the second run")
	_, ok = base.GetToken(evm(3))
	assert.True(t, ok)
	assert.Len(t, res.Summary[domain.Variant24h].Rows, 3)
}

func TestRun_RestartReusesViewPointers(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.seed("eth", evm(1), 3, time.Hour)
	f.seed("base", evm(2), 2.5, 2*time.Hour)

	_, err := f.orch.Run(ctx)
	require.NoError(t, err)
	uploads, pins := f.store.Uploads(), f.store.Pins()

	f.seed("eth", evm(1), 3, time.Hour)
	res, err := f.build().Run(ctx)
	require.NoError(t, err)
	require.Empty(t, res.Errors)

	assert.Equal(t, 1, res.Partitions[0].Duplicates, "dedup state survives the restart")
	assert.Zero(t, res.Partitions[0].Signals)
	assert.NotEmpty(t, res.Partitions[0].Views.Tokens[domain.Variant24h])
	assert.Equal(t, uploads, f.store.Uploads(), "unchanged views are not uploaded again")
	assert.Equal(t, pins, f.store.Pins())
	assert.Equal(t, []string{"materializer-config.json"}, f.store.Names("board-config"))
}

func TestRun_ViewsOnDataChannelAreRefused(t *testing.T) {
	shared := PartitionSpec{ID: "base", Kind: address.KindEVM, DataChannel: "base-db", ViewsChannel: "base-db"}
	f := newFixture(t, func(o *Options) { o.Partitions = []PartitionSpec{shared} })
	ctx := context.Background()
	f.seed("base", evm(2), 2.5, time.Hour)

	for run := 0; run < 2; run++ {
		res, err := f.orch.Run(ctx)
		require.NoError(t, err)
		require.Len(t, res.Errors, 1)
		assert.ErrorIs(t, res.Errors[0], ErrViewsOnDataChannel)
		assert.True(t, res.Partitions[0].Saved)
		assert.Len(t, res.Summary[domain.Variant24h].Rows, 1)
	}

	db, outcome := f.load(t, shared)
	assert.Equal(t, partition.LoadedCanonical, outcome)
	_, ok := db.GetToken(evm(2))
	assert.True(t, ok)
	assert.Len(t, f.store.Names("base-db"), 1)
}

func TestRun_ReplayedSignalsAreDuplicates(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.seed("eth", evm(1), 3, time.Hour)

	_, err := f.orch.Run(ctx)
	require.NoError(t, err)

	f.seed("eth", evm(1), 3, time.Hour)
	res, err := f.orch.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Partitions[0].Duplicates)
	assert.Equal(t, partition.LoadedCanonical, res.Partitions[0].Outcome)
}

func TestRun_PartitionFailureIsolated(t *testing.T) {
	f := newFixture(t, nil)
	boom := errors.New("feed down")
	f.source.FailNext("eth", boom)
	f.seed("base", evm(2), 2, time.Hour)

	res, err := f.orch.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, res.Errors, 1)
	assert.ErrorIs(t, res.Errors[0], boom)
	assert.Equal(t, 1, res.Partitions[1].Signals)
	assert.Len(t, res.Summary[domain.Variant24h].Rows, 1)
}

func TestRun_SaveFailureStillPublishes(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.Partitions = testPartitions[:1] })
	f.seed("eth", evm(1), 3, time.Hour)
	f.store.FailNext(memory.OpUpload, storage.Transient("upload", errors.New("timeout")))

	res, err := f.orch.Run(context.Background())
	require.NoError(t, err)

	require.NotEmpty(t, res.Errors)
	assert.ErrorIs(t, res.Errors[0], storage.ErrTransient)
	assert.False(t, res.Partitions[0].Saved)
	assert.NotEmpty(t, res.Partitions[0].Views.Tokens[domain.Variant24h])
}

func TestRun_LeaseHeldSkipsPartition(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	release, err := f.lease.Acquire(ctx, "eth", time.Hour)
	require.NoError(t, err)
	defer release(ctx)

	f.seed("eth", evm(1), 3, time.Hour)
	f.seed("base", evm(2), 2, time.Hour)

	res, err := f.orch.Run(ctx)
	require.NoError(t, err)

	require.Len(t, res.Errors, 1)
	assert.ErrorIs(t, res.Errors[0], storage.ErrLeaseHeld)
	assert.True(t, res.Partitions[0].Skipped)
	assert.Zero(t, f.source.Fetches("eth"), "a skipped partition keeps its events queued")
	assert.Equal(t, 1, res.Partitions[1].Signals)
}

func TestRun_PrunesAndArchives(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.Partitions = testPartitions[:1] })
	f.seed("eth", evm(1), 0.5, 40*24*time.Hour)
	f.seed("eth", evm(2), 2, time.Hour)

	res, err := f.orch.Run(context.Background())
	require.NoError(t, err)
	require.Empty(t, res.Errors)

	pruned := res.Partitions[0].Pruned
	require.NotNil(t, pruned)
	assert.Equal(t, 1, pruned.Tokens)
	require.Len(t, pruned.Archived, 1)
	assert.Equal(t, []string{pruned.Archived[0]}, f.store.Names("cold"))
}

func TestRun_PriceForTokenFirstSeenInBatch(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.Partitions = testPartitions[:1] })
	token := evm(7)
	at := ago(time.Hour)
	f.source.AddPrices("eth",
		domain.PriceUpdate{Token: token, Price: 4, Time: at},
		domain.PriceUpdate{Token: token, Price: 9, Time: at - 1},
	)
	f.source.AddSignals("eth", domain.SignalEvent{Token: token, Price: 1, Time: at})

	res, err := f.orch.Run(context.Background())
	require.NoError(t, err)

	report := res.Partitions[0]
	assert.Equal(t, 1, report.Signals)
	assert.Equal(t, 1, report.Prices, "the earlier price predates the token and is ignored")
	assert.Zero(t, report.Rejected)
	assert.Equal(t, 4.0, report.Views.Tokens[domain.Variant24h][0].PeakMultiplier)
}

func TestRun_RejectedEventsCounted(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.Partitions = testPartitions[:1] })
	f.source.AddSignals("eth",
		domain.SignalEvent{Token: "not-an-address", Price: 1, Time: ago(time.Hour)},
		domain.SignalEvent{Token: evm(1), Price: 0, Time: ago(time.Hour)},
	)

	res, err := f.orch.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Partitions[0].Rejected)
	assert.Empty(t, res.Errors)
}

func TestRun_CancelledContext(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.InterPartitionDelay = time.Hour })
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := f.orch.Run(ctx)
		done <- err
	}()

	require.Eventually(t, func() bool { return f.source.Fetches("eth") == 1 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("run did not stop on cancel")
	}
	assert.Zero(t, f.source.Fetches("base"))
}

func TestRun_WithoutSourceOrPruner(t *testing.T) {
	f := newFixture(t, func(o *Options) {
		o.Source = nil
		o.Pruner = nil
		o.Lease = nil
	})

	res, err := f.orch.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, res.Errors)
	for _, p := range res.Partitions {
		assert.Nil(t, p.Pruned)
		assert.Equal(t, partition.LoadedEmpty, p.Outcome)
	}
}
