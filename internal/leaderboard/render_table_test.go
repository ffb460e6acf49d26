package leaderboard

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signal-board/internal/domain"
)

func tokenView() View {
	gain := 3.5
	return View{
		Name:    "summary-24h",
		Title:   "Top tokens (24h)",
		Kind:    domain.ViewTokens,
		Variant: domain.Variant24h,
		GainSum: &gain,
		Tokens: []domain.TokenRow{
			{Partition: "eth", Address: "0xabc", Symbol: "A,B", EntryPrice: 0.5, Multiplier: 2, PeakMultiplier: 3, SignalCount: 4, FirstSeenAt: 1767225600000},
			{Partition: "sol", Address: "So1", EntryPrice: 1, Multiplier: 1.5, PeakMultiplier: 2.5, SignalCount: 1},
		},
	}
}

func TestRendererFor(t *testing.T) {
	tests := []struct {
		format string
		want   Renderer
	}{
		{"", JSONRenderer{}},
		{"JSON", JSONRenderer{}},
		{"markdown", MarkdownRenderer{}},
		{" md ", MarkdownRenderer{}},
		{"csv", CSVRenderer{}},
	}
	for _, tt := range tests {
		got, err := RendererFor(tt.format)
		require.NoError(t, err, tt.format)
		assert.Equal(t, tt.want, got, tt.format)
	}

	_, err := RendererFor("xml")
	assert.ErrorIs(t, err, ErrUnknownFormat)
}

func TestMarkdownRenderer_Tokens(t *testing.T) {
	doc, err := MarkdownRenderer{}.Render(tokenView())
	require.NoError(t, err)

	body := string(doc.Body)
	assert.Equal(t, "summary-24h.md", doc.Name)
	assert.Equal(t, "Top tokens (24h)", doc.Caption)
	assert.True(t, strings.HasPrefix(body, "# Top tokens (24h)\n"))
	assert.Contains(t, body, "Gain sum: **3.50x**")
	assert.Contains(t, body, "| 1 | eth | A,B | `0xabc` | 0.5 | 2.00x | 3.00x | 4 |")
	assert.Contains(t, body, "| 2 | sol | - |")
}

func TestMarkdownRenderer_WalletsAndHallOfFame(t *testing.T) {
	doc, err := MarkdownRenderer{}.Render(View{
		Name:    "eth-wallets-7d",
		Title:   "eth top wallets",
		Kind:    domain.ViewWallets,
		Wallets: []domain.WalletRow{{Address: "0xw", Score: 0.75, WinRate: 0.5, AvgPeak: 2, Stars: 3, SignalCount: 6}},
	})
	require.NoError(t, err)
	assert.Contains(t, string(doc.Body), "| 1 | `0xw` | 0.7500 | 50.0% | 2.00x | 6 | ★★★ |")

	doc, err = MarkdownRenderer{}.Render(View{Name: "hall-of-fame", Title: "Hall of fame", HallOfFame: []domain.HallOfFameEntry{}})
	require.NoError(t, err)
	assert.Contains(t, string(doc.Body), "No entries yet.")
}

func TestCSVRenderer_Tokens(t *testing.T) {
	doc, err := CSVRenderer{}.Render(tokenView())
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(doc.Body)), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "rank,partition,symbol,address,entry_price,multiplier,peak_multiplier,signals,first_seen", lines[0])
	assert.Equal(t, `1,eth,"A,B",0xabc,0.5,2.000000,3.000000,4,1767225600000`, lines[1])
	assert.Equal(t, "summary-24h.csv", doc.Name)
	assert.Equal(t, "Top tokens (24h), gain sum 3.50x", doc.Caption)
}

func TestRenderers_Deterministic(t *testing.T) {
	for _, r := range []Renderer{JSONRenderer{}, MarkdownRenderer{}, CSVRenderer{}} {
		a, err := r.Render(tokenView())
		require.NoError(t, err)
		b, err := r.Render(tokenView())
		require.NoError(t, err)
		assert.Equal(t, a, b)
	}
}
