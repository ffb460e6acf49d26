package ranking

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"signal-board/internal/domain"
)

// WinThreshold is the peak multiplier at which a participation counts as
// a win.
const WinThreshold = 1.25

// participationCap bounds the participation factor of wallet scores.
const participationCap = 50

// Strategy computes a wallet rank score in [0, 1]. Exactly one Strategy is
// chosen when the service is composed; strategies are never mixed.
type Strategy interface {
	// Name returns the configuration name of the strategy.
	Name() string

	// Score ranks a wallet. peaks maps token address to the token's
	// current peak multiplier.
	Score(w domain.WalletRecord, peaks map[string]float64, now time.Time) float64
}

// ErrUnknownStrategy is returned by FromName.
var ErrUnknownStrategy = errors.New("unknown ranking strategy")

// Strategy names accepted by FromName.
const (
	StrategyWeighted = "weighted"
	StrategyRecency  = "recency"
)

// FromName returns the strategy registered under name. Empty selects
// WeightedFactors.
func FromName(name string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", StrategyWeighted:
		return WeightedFactors{}, nil
	case StrategyRecency:
		return RecencyWeighted{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, name)
	}
}

// WeightedFactors is the canonical wallet ranking: average entry score
// 40%, participation 20%, win rate 25%, consistency 15%.
type WeightedFactors struct{}

func (WeightedFactors) Name() string { return StrategyWeighted }

func (WeightedFactors) Score(w domain.WalletRecord, peaks map[string]float64, _ time.Time) float64 {
	return 0.40*normalizeScore(w.AvgEntryScore) +
		0.20*participation(w.SignalCount) +
		0.25*WinRate(w, peaks) +
		0.15*clamp01(w.Consistency/100)
}

// RecencyWeighted ranks by score history with newer scores weighted
// linearly heavier: history 60%, participation 20%, win rate 20%.
type RecencyWeighted struct{}

func (RecencyWeighted) Name() string { return StrategyRecency }

func (RecencyWeighted) Score(w domain.WalletRecord, peaks map[string]float64, _ time.Time) float64 {
	var sum, weights float64
	for i, s := range w.ScoreHistory {
		weight := float64(i + 1)
		sum += weight * normalizeScore(s)
		weights += weight
	}
	history := 0.0
	if weights > 0 {
		history = sum / weights
	}
	return 0.60*history +
		0.20*participation(w.SignalCount) +
		0.20*WinRate(w, peaks)
}

func participation(signals int) float64 {
	return math.Sqrt(float64(min(max(signals, 0), participationCap))) / math.Sqrt(participationCap)
}

// peakOf returns the token's current peak multiplier, falling back to the
// wallet's own participation once the token has been pruned.
func peakOf(addr string, p domain.Participation, peaks map[string]float64) float64 {
	if m, ok := peaks[addr]; ok {
		return m
	}
	return p.PeakMultiplier()
}

// WinRate is the share of participated tokens whose peak multiplier reached
// WinThreshold.
func WinRate(w domain.WalletRecord, peaks map[string]float64) float64 {
	if len(w.Tokens) == 0 {
		return 0
	}
	wins := 0
	for addr, p := range w.Tokens {
		if peakOf(addr, p, peaks) >= WinThreshold {
			wins++
		}
	}
	return float64(wins) / float64(len(w.Tokens))
}

// AveragePeak is the mean peak multiplier over participated tokens.
func AveragePeak(w domain.WalletRecord, peaks map[string]float64) float64 {
	if len(w.Tokens) == 0 {
		return 0
	}
	var sum float64
	for addr, p := range w.Tokens {
		sum += peakOf(addr, p, peaks)
	}
	return sum / float64(len(w.Tokens))
}

// Stars grades a wallet from 0 to 3.
func Stars(score, winRate, avgPeak float64) int {
	switch {
	case score > 0.7 && winRate > 0.6 && avgPeak > 1.5:
		return 3
	case score > 0.5 && winRate > 0.4 && avgPeak > 1.2:
		return 2
	case score > 0.3:
		return 1
	default:
		return 0
	}
}

// TopWallets ranks wallets with s, score descending, ties broken by
// address. n <= 0 returns all.
func TopWallets(wallets map[string]domain.WalletRecord, peaks map[string]float64, s Strategy, now time.Time, n int) []Scored {
	out := make([]Scored, 0, len(wallets))
	for addr, w := range wallets {
		out = append(out, Scored{Address: addr, Score: s.Score(w, peaks, now)})
	}
	sortScored(out)
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}
