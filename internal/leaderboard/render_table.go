package leaderboard

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"signal-board/internal/domain"
	"signal-board/internal/storage"
)

// View document formats.
const (
	FormatJSON     = "json"
	FormatMarkdown = "markdown"
	FormatCSV      = "csv"
)

// ErrUnknownFormat is returned by RendererFor.
var ErrUnknownFormat = errors.New("unknown view format")

// RendererFor returns the renderer of format. Empty means JSON.
func RendererFor(format string) (Renderer, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", FormatJSON:
		return JSONRenderer{}, nil
	case FormatMarkdown, "md":
		return MarkdownRenderer{}, nil
	case FormatCSV:
		return CSVRenderer{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

// MarkdownRenderer renders views as Markdown tables.
type MarkdownRenderer struct{}

// Render implements Renderer.
func (MarkdownRenderer) Render(v View) (storage.Document, error) {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("# %s\n\n", v.Title))
	if v.GainSum != nil {
		sb.WriteString(fmt.Sprintf("Gain sum: **%.2fx**\n\n", *v.GainSum))
	}

	switch {
	case v.HallOfFame != nil:
		if len(v.HallOfFame) == 0 {
			sb.WriteString("No entries yet.\n")
			break
		}
		sb.WriteString("| # | Partition | Symbol | Address | Peak | First Seen |\n")
		sb.WriteString("|---|-----------|--------|---------|------|------------|\n")
		for i, e := range v.HallOfFame {
			sb.WriteString(fmt.Sprintf("| %d | %s | %s | `%s` | %.2fx | %s |\n",
				i+1, e.Partition, symbolOrDash(e.Symbol), e.Address, e.PeakMultiplier, formatMillis(e.FirstSeenAt)))
		}

	case v.Kind == domain.ViewWallets:
		if len(v.Wallets) == 0 {
			sb.WriteString("No active wallets.\n")
			break
		}
		sb.WriteString("| # | Wallet | Score | Win Rate | Avg Peak | Signals | Rating |\n")
		sb.WriteString("|---|--------|-------|----------|----------|---------|--------|\n")
		for i, w := range v.Wallets {
			sb.WriteString(fmt.Sprintf("| %d | `%s` | %.4f | %.1f%% | %.2fx | %d | %s |\n",
				i+1, w.Address, w.Score, w.WinRate*100, w.AvgPeak, w.SignalCount, strings.Repeat("★", w.Stars)))
		}

	default:
		if len(v.Tokens) == 0 {
			sb.WriteString("No tokens in this window.\n")
			break
		}
		sb.WriteString("| # | Partition | Symbol | Address | Entry | Now | Peak | Signals |\n")
		sb.WriteString("|---|-----------|--------|---------|-------|-----|------|---------|\n")
		for i, t := range v.Tokens {
			sb.WriteString(fmt.Sprintf("| %d | %s | %s | `%s` | %g | %.2fx | %.2fx | %d |\n",
				i+1, t.Partition, symbolOrDash(t.Symbol), t.Address, t.EntryPrice, t.Multiplier, t.PeakMultiplier, t.SignalCount))
		}
	}

	return storage.Document{Name: v.Name + ".md", Caption: v.Title, Body: []byte(sb.String())}, nil
}

// CSVRenderer renders views as CSV with a header row.
type CSVRenderer struct{}

// Render implements Renderer.
func (CSVRenderer) Render(v View) (storage.Document, error) {
	var sb strings.Builder

	switch {
	case v.HallOfFame != nil:
		sb.WriteString("rank,partition,symbol,address,peak_multiplier,first_seen\n")
		for i, e := range v.HallOfFame {
			sb.WriteString(fmt.Sprintf("%d,%s,%s,%s,%.6f,%d\n",
				i+1, csvField(e.Partition), csvField(e.Symbol), e.Address, e.PeakMultiplier, e.FirstSeenAt))
		}

	case v.Kind == domain.ViewWallets:
		sb.WriteString("rank,partition,address,score,win_rate,avg_peak,stars,signals,last_seen\n")
		for i, w := range v.Wallets {
			sb.WriteString(fmt.Sprintf("%d,%s,%s,%.6f,%.6f,%.6f,%d,%d,%d\n",
				i+1, csvField(w.Partition), w.Address, w.Score, w.WinRate, w.AvgPeak, w.Stars, w.SignalCount, w.LastSeenAt))
		}

	default:
		sb.WriteString("rank,partition,symbol,address,entry_price,multiplier,peak_multiplier,signals,first_seen\n")
		for i, t := range v.Tokens {
			sb.WriteString(fmt.Sprintf("%d,%s,%s,%s,%g,%.6f,%.6f,%d,%d\n",
				i+1, csvField(t.Partition), csvField(t.Symbol), t.Address, t.EntryPrice, t.Multiplier, t.PeakMultiplier, t.SignalCount, t.FirstSeenAt))
		}
	}

	caption := v.Title
	if v.GainSum != nil {
		caption = fmt.Sprintf("%s, gain sum %.2fx", v.Title, *v.GainSum)
	}
	return storage.Document{Name: v.Name + ".csv", Caption: caption, Body: []byte(sb.String())}, nil
}

var (
	_ Renderer = MarkdownRenderer{}
	_ Renderer = CSVRenderer{}
)

func symbolOrDash(s string) string {
	if s == "" {
		return "-"
	}
	return strings.ReplaceAll(s, "|", "\\|")
}

// csvField quotes s when it holds a separator, quote or newline.
func csvField(s string) string {
	if !strings.ContainsAny(s, ",\"\n") {
		return s
	}
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func formatMillis(ms int64) string {
	if ms <= 0 {
		return "-"
	}
	return time.UnixMilli(ms).UTC().Format("2006-01-02")
}
