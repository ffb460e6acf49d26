package leaderboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signal-board/internal/address"
	"signal-board/internal/domain"
	"signal-board/internal/partition"
	"signal-board/internal/ranking"
	"signal-board/internal/storage"
	"signal-board/internal/storage/memory"
)

var testChannels = Channels{Config: "chan-config", Summary: "chan-summary"}

func evm(n int) string {
	return fmt.Sprintf("0x%040x", n)
}

func clock() time.Time { return now }

// seededPartition returns a loaded partition with one token per peak.
func seededPartition(t *testing.T, id string, peaks ...float64) *partition.Database {
	t.Helper()
	db := partition.New(id, "chan-"+id, memory.NewObjectStore(),
		partition.WithClock(clock),
		partition.WithAddressKind(address.KindEVM))
	db.Load(context.Background())

	for i, peak := range peaks {
		token := evm(i + 1)
		_, err := db.RecordSignal(domain.SignalEvent{
			Token:   token,
			Symbol:  fmt.Sprintf("%s%d", id, i),
			Price:   1,
			Time:    ago(time.Hour),
			Wallets: map[string]float64{evm(100 + i): 1.5},
		})
		require.NoError(t, err)
		_, err = db.ApplyPrice(domain.PriceUpdate{Token: token, Price: peak, Time: now.UnixMilli()})
		require.NoError(t, err)
	}
	return db
}

func newMaterializer(store storage.ObjectStore, opts ...Option) *Materializer {
	return New(store, testChannels, ranking.WeightedFactors{}, append([]Option{WithClock(clock)}, opts...)...)
}

func TestPublishPartition_PublishesEveryView(t *testing.T) {
	ctx := context.Background()
	store := memory.NewObjectStore()
	history := memory.NewLeaderboardHistoryStore()
	m := newMaterializer(store, WithHistory(history))
	m.LoadConfig(ctx)

	db := seededPartition(t, "eth", 3, 1.5)
	res := m.PublishPartition(ctx, db, "views-eth")
	require.Empty(t, res.Errors)

	require.Len(t, res.Tokens[domain.Variant24h], 2)
	assert.Equal(t, 3.0, res.Tokens[domain.Variant24h][0].PeakMultiplier)
	require.Len(t, res.Wallets, 2)

	assert.ElementsMatch(t, []string{
		"eth-tokens-24h.json", "eth-tokens-7d.json", "eth-tokens-30d.json", "eth-wallets-7d.json",
	}, store.Names("views-eth"))

	cfg := m.Config()
	for _, v := range domain.AllVariants {
		assert.NotEmpty(t, cfg.PartitionPointer("eth", v, domain.ViewTokens))
	}
	assert.NotEmpty(t, cfg.PartitionPointer("eth", WalletVariant, domain.ViewWallets))
	require.Len(t, cfg.HallOfFameEntries, 1)
	assert.Equal(t, evm(1), cfg.HallOfFameEntries[0].Address)

	snaps, err := history.GetByToken(ctx, "eth", evm(1))
	require.NoError(t, err)
	assert.Len(t, snaps, len(domain.AllVariants))
	assert.Equal(t, 1, snaps[0].Rank)
}

func TestPublishPartition_RepublishIsNoop(t *testing.T) {
	ctx := context.Background()
	store := memory.NewObjectStore()
	db := seededPartition(t, "eth", 3)

	m := newMaterializer(store)
	m.LoadConfig(ctx)
	require.Empty(t, m.PublishPartition(ctx, db, "views-eth").Errors)
	require.NoError(t, m.SaveConfig(ctx))
	uploads := store.Uploads()

	// A fresh process discovers the config and reuses every pointer.
	again := newMaterializer(store)
	cfg := again.LoadConfig(ctx)
	assert.Equal(t, m.Config().PerPartition, cfg.PerPartition)

	require.Empty(t, again.PublishPartition(ctx, db, "views-eth").Errors)
	require.NoError(t, again.SaveConfig(ctx))
	assert.Equal(t, uploads, store.Uploads())
	assert.Equal(t, 4, store.Messages("views-eth"))
}

func TestPublishPartition_ViewFailuresAreIsolated(t *testing.T) {
	ctx := context.Background()
	store := memory.NewObjectStore()
	m := newMaterializer(store)
	m.LoadConfig(ctx)

	store.FailNext(memory.OpUpload, errors.New("rate limited"))
	res := m.PublishPartition(ctx, seededPartition(t, "eth", 3), "views-eth")

	require.Len(t, res.Errors, 1)
	assert.ErrorIs(t, res.Errors[0], storage.ErrTransient)
	assert.Empty(t, m.Config().PartitionPointer("eth", domain.Variant24h, domain.ViewTokens))
	assert.NotEmpty(t, m.Config().PartitionPointer("eth", domain.Variant7d, domain.ViewTokens))
	assert.Equal(t, 3, store.Messages("views-eth"))
}

func TestPublishPartition_EmptyChannelRanksOnly(t *testing.T) {
	ctx := context.Background()
	store := memory.NewObjectStore()
	history := memory.NewLeaderboardHistoryStore()
	m := newMaterializer(store, WithHistory(history))
	m.LoadConfig(ctx)

	res := m.PublishPartition(ctx, seededPartition(t, "eth", 3), "")
	require.Empty(t, res.Errors)
	require.Len(t, res.Tokens[domain.Variant24h], 1)
	assert.Zero(t, store.Writes())

	snaps, err := history.GetByToken(ctx, "eth", evm(1))
	require.NoError(t, err)
	assert.Empty(t, snaps)

	summary, errs := m.PublishSummary(ctx)
	require.Empty(t, errs)
	assert.Len(t, summary[domain.Variant24h].Rows, 1, "the partition still feeds the summary")
}

func TestPublishSummary_AcrossPartitions(t *testing.T) {
	ctx := context.Background()
	store := memory.NewObjectStore()
	m := newMaterializer(store)
	m.LoadConfig(ctx)

	m.PublishPartition(ctx, seededPartition(t, "eth", 3, 1.5), "views-eth")
	m.PublishPartition(ctx, seededPartition(t, "sol", 4), "views-sol")

	views, errs := m.PublishSummary(ctx)
	require.Empty(t, errs)

	view := views[domain.Variant7d]
	require.Len(t, view.Rows, 3)
	assert.Equal(t, "sol", view.Rows[0].Partition)
	assert.InDelta(t, 4+3+0.5, view.GainSum, 1e-9)

	ptr, err := store.GetPointer(ctx, testChannels.Summary)
	require.NoError(t, err)
	body, err := store.Download(ctx, ptr.FileRef)
	require.NoError(t, err)

	var published struct {
		Tokens  []domain.TokenRow `json:"tokens"`
		GainSum float64           `json:"gainSum"`
	}
	require.NoError(t, json.Unmarshal(body, &published))
	assert.Len(t, published.Tokens, 3)

	// Gathered rows are consumed by the publish.
	views, errs = m.PublishSummary(ctx)
	require.Empty(t, errs)
	assert.Empty(t, views[domain.Variant7d].Rows)
}

func TestPublishHallOfFame_SurvivesPruning(t *testing.T) {
	ctx := context.Background()
	store := memory.NewObjectStore()
	m := newMaterializer(store)
	m.LoadConfig(ctx)

	db := seededPartition(t, "eth", 5)
	m.PublishPartition(ctx, db, "views-eth")
	require.NoError(t, m.PublishHallOfFame(ctx))
	require.NoError(t, m.SaveConfig(ctx))

	db.DeleteToken(evm(1))
	next := newMaterializer(store)
	next.LoadConfig(ctx)
	next.PublishPartition(ctx, db, "views-eth")
	require.NoError(t, next.PublishHallOfFame(ctx))

	require.Len(t, next.Config().HallOfFameEntries, 1)
	assert.Equal(t, 5.0, next.Config().HallOfFameEntries[0].PeakMultiplier)
	assert.Equal(t, m.Config().HallOfFame, next.Config().HallOfFame)
}

func TestLoadConfig_NeverFails(t *testing.T) {
	ctx := context.Background()
	store := memory.NewObjectStore()
	ref, err := store.Upload(ctx, testChannels.Config, storage.Document{Name: configDocumentName, Body: []byte("{broken")})
	require.NoError(t, err)
	require.NoError(t, store.Pin(ctx, testChannels.Config, ref.PointerID))

	m := newMaterializer(store)
	cfg := m.LoadConfig(ctx)
	require.NotNil(t, cfg)
	assert.Empty(t, cfg.PerPartition)

	failing := memory.NewObjectStore()
	failing.FailNext(memory.OpGetPointer, errors.New("down"))
	assert.NotNil(t, newMaterializer(failing).LoadConfig(ctx))
}

func TestSaveConfig_NoopWhenClean(t *testing.T) {
	ctx := context.Background()
	store := memory.NewObjectStore()
	m := newMaterializer(store)
	m.LoadConfig(ctx)

	require.NoError(t, m.SaveConfig(ctx))
	assert.Equal(t, 0, store.Writes())
}
