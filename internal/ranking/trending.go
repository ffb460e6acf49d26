// Package ranking derives trending and rank scores from stored partition
// state. Everything here is pure; scores are recomputed on every read and
// never persisted.
package ranking

import (
	"math"
	"sort"
	"time"

	"signal-board/internal/domain"
)

// Trending score weights.
const (
	trendRecencyWeight     = 0.30
	trendMomentumWeight    = 0.25
	trendPerformanceWeight = 0.20
	trendInterestWeight    = 0.15
	trendQualityWeight     = 0.10

	// RugPenalty scales the trending score of rugged tokens.
	RugPenalty = 0.1

	trendRecencyHorizon = 48 * time.Hour
	momentumCap         = 5
	interestCap         = 3
)

// TrendingScore scores a token by recency, momentum, performance, wallet
// interest and entry quality. Rugged tokens keep a tenth of their score.
func TrendingScore(t domain.TokenRecord, now time.Time) float64 {
	last := t.LastSignalAt
	if last == 0 {
		last = t.FirstSeenAt
	}
	recency := 1 - float64(now.UnixMilli()-last)/float64(trendRecencyHorizon.Milliseconds())
	recency = clamp01(recency)

	momentum := float64(min(t.SignalCount, momentumCap)) / momentumCap

	m := t.Multiplier()
	var performance float64
	if m >= 1 {
		performance = math.Min(m/2, 1)
	} else {
		performance = 0.5 * m
	}

	interest := float64(min(len(t.Wallets), interestCap)) / interestCap
	quality := normalizeScore(t.AvgEntryScore)

	score := trendRecencyWeight*recency +
		trendMomentumWeight*momentum +
		trendPerformanceWeight*performance +
		trendInterestWeight*interest +
		trendQualityWeight*quality

	if t.Rugged {
		score *= RugPenalty
	}
	return score
}

// Scored pairs an address with its score.
type Scored struct {
	Address string
	Score   float64
}

// TrendingTokens returns the n highest trending tokens, score descending,
// ties broken by address. n <= 0 returns all.
func TrendingTokens(tokens map[string]domain.TokenRecord, now time.Time, n int) []Scored {
	out := make([]Scored, 0, len(tokens))
	for addr, t := range tokens {
		out = append(out, Scored{Address: addr, Score: TrendingScore(t, now)})
	}
	sortScored(out)
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

func sortScored(s []Scored) {
	sort.Slice(s, func(i, j int) bool {
		if s[i].Score != s[j].Score {
			return s[i].Score > s[j].Score
		}
		return s[i].Address < s[j].Address
	})
}

// normalizeScore maps an entry-quality score from [-2, 2] to [0, 1].
func normalizeScore(s float64) float64 {
	return clamp01((s + 2) / 4)
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
