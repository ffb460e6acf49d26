// Package ingestion defines where a partition's events come from. Feeds
// are external collaborators; this package holds the interface, an NDJSON
// file tailer and an HTTP poller.
package ingestion

import (
	"context"

	"signal-board/internal/domain"
)

// EventSource provides the events that arrived for a partition since the
// previous fetch.
type EventSource interface {
	// Fetch returns new signals and price updates for partition. Events may
	// be unordered; callers sort them with SortBatch.
	Fetch(ctx context.Context, partition string) (*domain.EventBatch, error)
}

// MultiSource merges the batches of several sources. A failing source
// fails the whole fetch so the partition is retried next run.
type MultiSource []EventSource

// Fetch implements EventSource.
func (m MultiSource) Fetch(ctx context.Context, partition string) (*domain.EventBatch, error) {
	out := &domain.EventBatch{}
	for _, src := range m {
		b, err := src.Fetch(ctx, partition)
		if err != nil {
			return nil, err
		}
		if b == nil {
			continue
		}
		out.Signals = append(out.Signals, b.Signals...)
		out.Prices = append(out.Prices, b.Prices...)
	}
	return out, nil
}
