package domain

// MaxScoreHistory bounds WalletRecord.ScoreHistory.
const MaxScoreHistory = 10

// Participation is a wallet's position in a single token.
type Participation struct {
	EntryPrice float64 `json:"entry"`
	PeakPrice  float64 `json:"peak"`
	Score      float64 `json:"score"`
}

// PeakMultiplier returns peak/entry for the participation, 0 if unknown.
func (p Participation) PeakMultiplier() float64 {
	if p.EntryPrice <= 0 {
		return 0
	}
	return p.PeakPrice / p.EntryPrice
}

// WalletRecord is the per-wallet state kept inside a partition document.
type WalletRecord struct {
	SignalCount   int                      `json:"signals"`
	AvgEntryScore float64                  `json:"avgScore"`
	ScoreHistory  []float64                `json:"scores"` // newest last, capped at MaxScoreHistory
	Consistency   float64                  `json:"consistency"`
	LastSeenAt    int64                    `json:"lastSeen"`
	Tokens        map[string]Participation `json:"tokens"`
}

// Clone returns a deep copy.
func (w WalletRecord) Clone() WalletRecord {
	if w.ScoreHistory != nil {
		w.ScoreHistory = append([]float64(nil), w.ScoreHistory...)
	}
	if w.Tokens != nil {
		tokens := make(map[string]Participation, len(w.Tokens))
		for k, v := range w.Tokens {
			tokens[k] = v
		}
		w.Tokens = tokens
	}
	return w
}
