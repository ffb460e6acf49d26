package domain

import (
	"fmt"
	"time"
)

// ViewKind identifies a materialized leaderboard view.
type ViewKind string

const (
	ViewTokens  ViewKind = "tokens"
	ViewWallets ViewKind = "wallets"
)

// Variant is the time window of a leaderboard view.
type Variant string

const (
	Variant24h Variant = "24h"
	Variant7d  Variant = "7d"
	Variant30d Variant = "30d"
)

// AllVariants lists the supported variants in publish order.
var AllVariants = []Variant{Variant24h, Variant7d, Variant30d}

// Window returns the variant's look-back duration.
func (v Variant) Window() time.Duration {
	switch v {
	case Variant24h:
		return 24 * time.Hour
	case Variant7d:
		return 7 * 24 * time.Hour
	case Variant30d:
		return 30 * 24 * time.Hour
	default:
		return 0
	}
}

// IsValid checks if the variant is a supported value.
func (v Variant) IsValid() bool {
	return v.Window() > 0
}

// ParseVariant validates a variant string.
func ParseVariant(s string) (Variant, error) {
	v := Variant(s)
	if !v.IsValid() {
		return "", fmt.Errorf("unknown leaderboard variant %q", s)
	}
	return v, nil
}

// TokenRow is one line of a token leaderboard.
type TokenRow struct {
	Partition      string  `json:"partition"`
	Address        string  `json:"address"`
	Symbol         string  `json:"sym"`
	EntryPrice     float64 `json:"entry"`
	Multiplier     float64 `json:"multiplier"`
	PeakMultiplier float64 `json:"peakMultiplier"`
	SignalCount    int     `json:"signals"`
	FirstSeenAt    int64   `json:"firstSeen"`
}

// WalletRow is one line of a wallet leaderboard.
type WalletRow struct {
	Partition   string  `json:"partition"`
	Address     string  `json:"address"`
	Score       float64 `json:"score"`
	WinRate     float64 `json:"winRate"`
	AvgPeak     float64 `json:"avgPeak"`
	Stars       int     `json:"stars"`
	SignalCount int     `json:"signals"`
	LastSeenAt  int64   `json:"lastSeen"`
}

// HallOfFameEntry is a token that once crossed the hall-of-fame bar.
type HallOfFameEntry struct {
	Partition      string  `json:"partition"`
	Address        string  `json:"address"`
	Symbol         string  `json:"sym"`
	PeakMultiplier float64 `json:"peakMultiplier"`
	FirstSeenAt    int64   `json:"firstSeen"`
}

// SummaryView is the cross-partition token leaderboard of one variant.
type SummaryView struct {
	Variant Variant    `json:"variant"`
	Rows    []TokenRow `json:"rows"`
	GainSum float64    `json:"gainSum"`
}

// MaterializerConfig maps every published view to the pointer currently
// holding it. It is persisted through the object store like any other
// document.
type MaterializerConfig struct {
	PerPartition      map[string]map[Variant]map[ViewKind]string `json:"perPartition"`
	Summary           map[Variant]string                         `json:"summary"`
	HallOfFame        string                                     `json:"hallOfFame"`
	HallOfFameEntries []HallOfFameEntry                          `json:"hallOfFameEntries"`
	UpdatedAt         int64                                      `json:"updatedAt"`
}

// NewMaterializerConfig returns an empty config.
func NewMaterializerConfig() *MaterializerConfig {
	c := &MaterializerConfig{}
	c.Normalize()
	return c
}

// Normalize fills nil maps.
func (c *MaterializerConfig) Normalize() {
	if c.PerPartition == nil {
		c.PerPartition = make(map[string]map[Variant]map[ViewKind]string)
	}
	if c.Summary == nil {
		c.Summary = make(map[Variant]string)
	}
}

// PartitionPointer returns the pointer of a partition view, "" if unbound.
func (c *MaterializerConfig) PartitionPointer(partition string, v Variant, kind ViewKind) string {
	return c.PerPartition[partition][v][kind]
}

// SetPartitionPointer records the pointer of a partition view.
func (c *MaterializerConfig) SetPartitionPointer(partition string, v Variant, kind ViewKind, pointer string) {
	c.Normalize()
	byVariant, ok := c.PerPartition[partition]
	if !ok {
		byVariant = make(map[Variant]map[ViewKind]string)
		c.PerPartition[partition] = byVariant
	}
	byKind, ok := byVariant[v]
	if !ok {
		byKind = make(map[ViewKind]string)
		byVariant[v] = byKind
	}
	byKind[kind] = pointer
}
