package domain

// SignalEvent is one aggregated trading signal: a set of wallets entering a
// token at roughly the same time, each with a precomputed entry-quality score.
type SignalEvent struct {
	Key       string             `json:"key,omitempty"` // dedup key; derived when empty
	Partition string             `json:"partition"`
	Token     string             `json:"token"`
	Symbol    string             `json:"symbol"`
	Price     float64            `json:"price"`
	Time      int64              `json:"time"`    // unix ms
	Wallets   map[string]float64 `json:"wallets"` // wallet address -> entry score
}

// AverageScore returns the mean entry score across the event's wallets.
func (e *SignalEvent) AverageScore() float64 {
	if len(e.Wallets) == 0 {
		return 0
	}
	var sum float64
	for _, s := range e.Wallets {
		sum += s
	}
	return sum / float64(len(e.Wallets))
}

// PriceUpdate is a polled price observation for a tracked token.
type PriceUpdate struct {
	Partition string  `json:"partition"`
	Token     string  `json:"token"`
	Price     float64 `json:"price"`
	Time      int64   `json:"time"`             // unix ms
	Rugged    *bool   `json:"rugged,omitempty"` // set by feeds that detect rugs
}

// EventBatch groups the events fetched for one partition in one job.
type EventBatch struct {
	Signals []SignalEvent
	Prices  []PriceUpdate
}

// Empty reports whether the batch carries no events.
func (b *EventBatch) Empty() bool {
	return b == nil || (len(b.Signals) == 0 && len(b.Prices) == 0)
}
