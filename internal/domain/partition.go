package domain

import (
	"time"

	"signal-board/internal/rollup"
)

// Partition document constants.
const (
	// SchemaVersion is the current partition document schema.
	SchemaVersion = 2

	// DedupWindowCap bounds PartitionDocument.Dedup.
	DedupWindowCap = 200

	// RecentSignalWindow is how long SignalSummary entries are displayed.
	RecentSignalWindow = 7 * 24 * time.Hour
)

// PartitionDocument is the single durable document of one partition.
type PartitionDocument struct {
	Partition     string                  `json:"partition"`
	SchemaVersion int                     `json:"schemaVersion"`
	UpdatedAt     int64                   `json:"updatedAt"` // unix ms
	Dedup         []string                `json:"dedup"`     // newest first
	Tokens        map[string]TokenRecord  `json:"tokens"`
	Wallets       map[string]WalletRecord `json:"wallets"`
	Recent        []SignalSummary         `json:"recent"` // newest first
	Stats         PartitionStats          `json:"stats"`
	Archives      map[string]ArchiveRef   `json:"archives,omitempty"` // by month key
}

// ArchiveRef locates the archive bundle written for one month.
type ArchiveRef struct {
	PointerID string `json:"pointerId"`
	FileRef   string `json:"fileRef"`
}

// NewPartitionDocument returns an empty current-schema document.
func NewPartitionDocument(partition string) *PartitionDocument {
	doc := &PartitionDocument{Partition: partition}
	doc.Normalize()
	return doc
}

// Normalize fills nil collections and stamps the current schema version.
func (d *PartitionDocument) Normalize() {
	d.SchemaVersion = SchemaVersion
	if d.Dedup == nil {
		d.Dedup = []string{}
	}
	if d.Tokens == nil {
		d.Tokens = make(map[string]TokenRecord)
	}
	if d.Wallets == nil {
		d.Wallets = make(map[string]WalletRecord)
	}
	if d.Recent == nil {
		d.Recent = []SignalSummary{}
	}
	for addr, w := range d.Wallets {
		if w.Tokens == nil {
			w.Tokens = make(map[string]Participation)
			d.Wallets[addr] = w
		}
	}
}

// PartitionStats holds the calendar rollups of a partition.
type PartitionStats struct {
	Daily   rollup.Window[PeriodStats] `json:"daily"`
	Weekly  rollup.Window[PeriodStats] `json:"weekly"`
	Monthly rollup.Window[PeriodStats] `json:"monthly"`
}

// Each applies fn to every window with its period.
func (s *PartitionStats) Each(fn func(p rollup.Period, w *rollup.Window[PeriodStats])) {
	fn(rollup.Daily, &s.Daily)
	fn(rollup.Weekly, &s.Weekly)
	fn(rollup.Monthly, &s.Monthly)
}
