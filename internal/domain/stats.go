package domain

import (
	"github.com/axiomhq/hyperloglog"
)

// PeriodStats aggregates activity for one calendar period.
type PeriodStats struct {
	Signals        int     `json:"signals"`
	ScoreSum       float64 `json:"scoreSum"`
	BestMultiplier float64 `json:"best"`
	WalletSketch   []byte  `json:"walletSketch,omitempty"` // HyperLogLog of wallet addresses
}

// NewPeriodStats returns an empty aggregate.
func NewPeriodStats() PeriodStats {
	return PeriodStats{}
}

// AddSignal records one signal and its participating wallets.
func (s *PeriodStats) AddSignal(avgScore float64, wallets []string) {
	s.Signals++
	s.ScoreSum += avgScore
	if len(wallets) == 0 {
		return
	}
	sk := s.sketch()
	for _, w := range wallets {
		sk.Insert([]byte(w))
	}
	if data, err := sk.MarshalBinary(); err == nil {
		s.WalletSketch = data
	}
}

// ObserveMultiplier keeps the best peak multiplier seen in the period.
func (s *PeriodStats) ObserveMultiplier(m float64) {
	if m > s.BestMultiplier {
		s.BestMultiplier = m
	}
}

// AverageScore returns the mean signal score of the period.
func (s *PeriodStats) AverageScore() float64 {
	if s.Signals == 0 {
		return 0
	}
	return s.ScoreSum / float64(s.Signals)
}

// UniqueWallets returns the estimated number of distinct wallets.
func (s *PeriodStats) UniqueWallets() uint64 {
	if len(s.WalletSketch) == 0 {
		return 0
	}
	return s.sketch().Estimate()
}

// sketch decodes the stored sketch; a corrupt sketch starts over.
func (s *PeriodStats) sketch() *hyperloglog.Sketch {
	sk := hyperloglog.New14()
	if len(s.WalletSketch) > 0 {
		if err := sk.UnmarshalBinary(s.WalletSketch); err != nil {
			return hyperloglog.New14()
		}
	}
	return sk
}
