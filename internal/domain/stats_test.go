package domain

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPeriodStats_UniqueWallets(t *testing.T) {
	s := NewPeriodStats()
	s.AddSignal(1.0, []string{"w1", "w2"})
	s.AddSignal(0.0, []string{"w2", "w3"})

	assert.Equal(t, 2, s.Signals)
	assert.InDelta(t, 0.5, s.AverageScore(), 1e-9)
	assert.InDelta(t, 3, float64(s.UniqueWallets()), 1)
}

func TestPeriodStats_SketchSurvivesJSON(t *testing.T) {
	s := NewPeriodStats()
	for i := 0; i < 100; i++ {
		s.AddSignal(0, []string{fmt.Sprintf("wallet-%d", i)})
	}

	data, err := json.Marshal(s)
	require.NoError(t, err)

	var decoded PeriodStats
	require.NoError(t, json.Unmarshal(data, &decoded))

	est := decoded.UniqueWallets()
	assert.InDelta(t, 100, float64(est), 5)
}

func TestTokenRecord_Multipliers(t *testing.T) {
	tok := TokenRecord{EntryPrice: 2, CurrentPrice: 3, PeakPrice: 6}
	assert.InDelta(t, 1.5, tok.Multiplier(), 1e-9)
	assert.InDelta(t, 3.0, tok.PeakMultiplier(), 1e-9)

	unknown := TokenRecord{CurrentPrice: 3}
	assert.Equal(t, 0.0, unknown.Multiplier())
	assert.Equal(t, 0.0, unknown.PeakMultiplier())
}
