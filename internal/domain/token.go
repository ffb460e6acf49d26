package domain

// TokenRecord is the per-token state kept inside a partition document.
// Prices are quote-denominated; times are unix milliseconds.
type TokenRecord struct {
	Symbol        string   `json:"sym"`
	EntryPrice    float64  `json:"entry"`
	CurrentPrice  float64  `json:"current"`
	PeakPrice     float64  `json:"peak"`   // non-decreasing once set
	TroughPrice   float64  `json:"trough"` // non-increasing once set
	SignalCount   int      `json:"signals"`
	AvgEntryScore float64  `json:"avgScore"`
	FirstSeenAt   int64    `json:"firstSeen"`
	LastSignalAt  int64    `json:"lastSignal"`
	Rugged        bool     `json:"rugged"`
	Wallets       []string `json:"wallets"`
}

// Multiplier returns current/entry, or 0 when the entry price is unknown.
func (t *TokenRecord) Multiplier() float64 {
	if t.EntryPrice <= 0 {
		return 0
	}
	return t.CurrentPrice / t.EntryPrice
}

// PeakMultiplier returns peak/entry, or 0 when the entry price is unknown.
func (t *TokenRecord) PeakMultiplier() float64 {
	if t.EntryPrice <= 0 {
		return 0
	}
	return t.PeakPrice / t.EntryPrice
}

// HasWallet reports whether addr already participated in the token.
func (t *TokenRecord) HasWallet(addr string) bool {
	for _, w := range t.Wallets {
		if w == addr {
			return true
		}
	}
	return false
}

// Clone returns a deep copy.
func (t TokenRecord) Clone() TokenRecord {
	if t.Wallets != nil {
		t.Wallets = append([]string(nil), t.Wallets...)
	}
	return t
}
