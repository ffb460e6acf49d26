package partition

import (
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"signal-board/internal/domain"
)

// accessor reads one legacy spelling of a field. It reports false when the
// field is absent or null.
type accessor func(raw map[string]any) (any, bool)

// key reads a top-level field.
func key(name string) accessor {
	return func(raw map[string]any) (any, bool) {
		v, ok := raw[name]
		return v, ok && v != nil
	}
}

// nested reads a field inside nested objects, e.g. {"prices":{"entry":1}}.
func nested(path ...string) accessor {
	return func(raw map[string]any) (any, bool) {
		cur := raw
		for i, p := range path {
			v, ok := cur[p]
			if !ok || v == nil {
				return nil, false
			}
			if i == len(path)-1 {
				return v, true
			}
			next, ok := v.(map[string]any)
			if !ok {
				return nil, false
			}
			cur = next
		}
		return nil, false
	}
}

// aliases is the ordered list of accessors for one canonical field. The
// canonical spelling always comes first so canonical input migrates to
// itself.
type aliases []accessor

func (a aliases) first(raw map[string]any) (any, bool) {
	for _, get := range a {
		if v, ok := get(raw); ok {
			return v, true
		}
	}
	return nil, false
}

func (a aliases) float(raw map[string]any) (float64, bool) {
	for _, get := range a {
		if v, ok := get(raw); ok {
			if f, ok := toFloat(v); ok {
				return f, true
			}
		}
	}
	return 0, false
}

func (a aliases) str(raw map[string]any) (string, bool) {
	for _, get := range a {
		if v, ok := get(raw); ok {
			if s, ok := v.(string); ok {
				return s, true
			}
		}
	}
	return "", false
}

func (a aliases) millis(raw map[string]any) (int64, bool) {
	for _, get := range a {
		if v, ok := get(raw); ok {
			if ms, ok := toMillis(v); ok {
				return ms, true
			}
		}
	}
	return 0, false
}

func (a aliases) boolean(raw map[string]any) (bool, bool) {
	for _, get := range a {
		if v, ok := get(raw); ok {
			switch b := v.(type) {
			case bool:
				return b, true
			case string:
				if parsed, err := strconv.ParseBool(b); err == nil {
					return parsed, true
				}
			case float64:
				return b != 0, true
			}
		}
	}
	return false, false
}

func (a aliases) strings(raw map[string]any) ([]string, bool) {
	v, ok := a.first(raw)
	if !ok {
		return nil, false
	}
	switch list := v.(type) {
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out, true
	case map[string]any:
		// Some legacy documents kept wallets as an address-keyed set.
		out := make([]string, 0, len(list))
		for k := range list {
			out = append(out, k)
		}
		sort.Strings(out)
		return out, true
	}
	return nil, false
}

func (a aliases) floats(raw map[string]any) ([]float64, bool) {
	v, ok := a.first(raw)
	if !ok {
		return nil, false
	}
	list, ok := v.([]any)
	if !ok {
		return nil, false
	}
	out := make([]float64, 0, len(list))
	for _, item := range list {
		if f, ok := toFloat(item); ok {
			out = append(out, f)
		}
	}
	return out, true
}

func (a aliases) object(raw map[string]any) (map[string]any, bool) {
	for _, get := range a {
		if v, ok := get(raw); ok {
			if m, ok := v.(map[string]any); ok {
				return m, true
			}
		}
	}
	return nil, false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, !math.IsNaN(n) && !math.IsInf(n, 0)
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil && !math.IsNaN(f) && !math.IsInf(f, 0)
	}
	return 0, false
}

// toMillis accepts unix milliseconds, unix seconds (values below 1e12) and
// RFC3339 strings.
func toMillis(v any) (int64, bool) {
	if s, ok := v.(string); ok {
		if t, err := time.Parse(time.RFC3339, strings.TrimSpace(s)); err == nil {
			return t.UnixMilli(), true
		}
	}
	f, ok := toFloat(v)
	if !ok || f < 0 {
		return 0, false
	}
	if f > 0 && f < 1e12 {
		f *= 1000
	}
	return int64(f), true
}

// Legacy field spellings, canonical first.
var (
	tokenSymbol     = aliases{key("sym"), key("symbol"), key("ticker"), key("name")}
	tokenEntry      = aliases{key("entry"), key("entryPrice"), key("entry_price"), key("callPrice"), key("firstPrice"), nested("prices", "entry")}
	tokenCurrent    = aliases{key("current"), key("currentPrice"), key("current_price"), key("lastPrice"), key("price"), nested("prices", "current")}
	tokenPeak       = aliases{key("peak"), key("peakPrice"), key("peak_price"), key("ath"), key("highPrice"), key("maxPrice"), nested("prices", "peak")}
	tokenTrough     = aliases{key("trough"), key("troughPrice"), key("trough_price"), key("low"), key("lowPrice"), key("minPrice"), nested("prices", "trough")}
	tokenSignals    = aliases{key("signals"), key("signalCount"), key("signal_count"), key("count"), key("calls")}
	tokenAvgScore   = aliases{key("avgScore"), key("averageScore"), key("avg_score"), key("score")}
	tokenFirstSeen  = aliases{key("firstSeen"), key("firstSeenAt"), key("first_seen"), key("calledAt"), key("timestamp"), key("createdAt")}
	tokenLastSignal = aliases{key("lastSignal"), key("lastSignalAt"), key("last_signal"), key("lastSeen"), key("updatedAt")}
	tokenRugged     = aliases{key("rugged"), key("isRugged"), key("rug"), key("is_rug")}
	tokenWallets    = aliases{key("wallets"), key("walletAddresses"), key("buyers"), key("smartWallets")}

	walletSignals     = aliases{key("signals"), key("signalCount"), key("signal_count"), key("count"), key("trades")}
	walletAvgScore    = aliases{key("avgScore"), key("averageScore"), key("avg_score"), key("score")}
	walletScores      = aliases{key("scores"), key("scoreHistory"), key("score_history"), key("history"), key("recentScores")}
	walletConsistency = aliases{key("consistency"), key("consistencyScore"), key("consistency_score")}
	walletLastSeen    = aliases{key("lastSeen"), key("lastSeenAt"), key("last_seen"), key("lastActive"), key("updatedAt")}
	walletTokens      = aliases{key("tokens"), key("positions"), key("holdings"), key("calls")}

	participationEntry = aliases{key("entry"), key("entryPrice"), key("entry_price"), key("price")}
	participationPeak  = aliases{key("peak"), key("peakPrice"), key("peak_price"), key("ath")}
	participationScore = aliases{key("score"), key("entryScore"), key("entry_score")}

	summaryID          = aliases{key("id"), key("key"), key("signalId")}
	summaryToken       = aliases{key("token"), key("tokenAddress"), key("address"), key("mint"), key("ca")}
	summarySymbol      = aliases{key("sym"), key("symbol"), key("ticker")}
	summaryTime        = aliases{key("time"), key("timestamp"), key("ts"), key("at")}
	summaryPrice       = aliases{key("price"), key("entry"), key("entryPrice")}
	summaryAvgScore    = aliases{key("avgScore"), key("averageScore"), key("score")}
	summaryWalletCount = aliases{key("walletCount"), key("wallet_count"), key("wallets")}

	docTokens  = aliases{key("tokens"), key("calls"), key("coins")}
	docWallets = aliases{key("wallets"), key("traders"), key("smart_wallets"), key("smartWallets")}
	docDedup   = aliases{key("dedup"), key("seen"), key("seenSignals"), key("processed")}
	docRecent  = aliases{key("recent"), key("recentSignals"), key("recent_signals"), key("signals")}
)

// MigrateToken maps a legacy token entry onto the canonical record. When
// existing is non-nil its set fields win, except the price extremes, which
// take the max (peak) and min (trough) of both so repeated or partial
// migrations never regress them. MigrateToken never fails; unreadable
// fields are left at their zero value.
func MigrateToken(raw map[string]any, existing *domain.TokenRecord) domain.TokenRecord {
	var rec domain.TokenRecord

	rec.Symbol, _ = tokenSymbol.str(raw)
	rec.EntryPrice, _ = tokenEntry.float(raw)
	rec.CurrentPrice, _ = tokenCurrent.float(raw)
	rec.AvgEntryScore, _ = tokenAvgScore.float(raw)
	rec.FirstSeenAt, _ = tokenFirstSeen.millis(raw)
	rec.LastSignalAt, _ = tokenLastSignal.millis(raw)
	rec.Rugged, _ = tokenRugged.boolean(raw)
	rec.Wallets, _ = tokenWallets.strings(raw)

	if n, ok := tokenSignals.float(raw); ok {
		rec.SignalCount = int(n)
	} else {
		rec.SignalCount = 1
	}

	peak, hasPeak := tokenPeak.float(raw)
	if !hasPeak {
		peak = math.Max(rec.EntryPrice, rec.CurrentPrice)
	}
	trough, hasTrough := tokenTrough.float(raw)
	if !hasTrough {
		trough = minPositive(rec.EntryPrice, rec.CurrentPrice)
	}
	rec.PeakPrice = peak
	rec.TroughPrice = trough

	if rec.LastSignalAt == 0 {
		rec.LastSignalAt = rec.FirstSeenAt
	}

	if existing == nil {
		return rec
	}

	merged := existing.Clone()
	if merged.Symbol == "" {
		merged.Symbol = rec.Symbol
	}
	if merged.EntryPrice <= 0 {
		merged.EntryPrice = rec.EntryPrice
	}
	if merged.CurrentPrice <= 0 {
		merged.CurrentPrice = rec.CurrentPrice
	}
	if merged.SignalCount == 0 {
		merged.SignalCount = rec.SignalCount
	}
	if merged.AvgEntryScore == 0 {
		merged.AvgEntryScore = rec.AvgEntryScore
	}
	if merged.FirstSeenAt == 0 || (rec.FirstSeenAt > 0 && rec.FirstSeenAt < merged.FirstSeenAt) {
		merged.FirstSeenAt = rec.FirstSeenAt
	}
	if rec.LastSignalAt > merged.LastSignalAt {
		merged.LastSignalAt = rec.LastSignalAt
	}
	merged.Rugged = merged.Rugged || rec.Rugged
	for _, w := range rec.Wallets {
		if !merged.HasWallet(w) {
			merged.Wallets = append(merged.Wallets, w)
		}
	}
	merged.PeakPrice = math.Max(merged.PeakPrice, rec.PeakPrice)
	merged.TroughPrice = minPositive(merged.TroughPrice, rec.TroughPrice)
	return merged
}

// MigrateWallet maps a legacy wallet entry onto the canonical record.
// Participation peaks follow the same never-regress rule as token peaks.
func MigrateWallet(raw map[string]any, existing *domain.WalletRecord) domain.WalletRecord {
	rec := domain.WalletRecord{Tokens: make(map[string]domain.Participation)}

	rec.AvgEntryScore, _ = walletAvgScore.float(raw)
	rec.LastSeenAt, _ = walletLastSeen.millis(raw)
	rec.ScoreHistory, _ = walletScores.floats(raw)
	if len(rec.ScoreHistory) > domain.MaxScoreHistory {
		rec.ScoreHistory = rec.ScoreHistory[len(rec.ScoreHistory)-domain.MaxScoreHistory:]
	}
	if n, ok := walletSignals.float(raw); ok {
		rec.SignalCount = int(n)
	} else {
		rec.SignalCount = len(rec.ScoreHistory)
	}
	if c, ok := walletConsistency.float(raw); ok {
		rec.Consistency = math.Max(0, math.Min(100, c))
	} else {
		rec.Consistency = consistency(rec.ScoreHistory)
	}

	if tokens, ok := walletTokens.object(raw); ok {
		for addr, v := range tokens {
			entry, ok := v.(map[string]any)
			if !ok {
				continue
			}
			var p domain.Participation
			p.EntryPrice, _ = participationEntry.float(entry)
			p.PeakPrice, _ = participationPeak.float(entry)
			p.Score, _ = participationScore.float(entry)
			if p.PeakPrice < p.EntryPrice {
				p.PeakPrice = p.EntryPrice
			}
			rec.Tokens[addr] = p
		}
	}

	if existing == nil {
		return rec
	}

	merged := existing.Clone()
	if merged.Tokens == nil {
		merged.Tokens = make(map[string]domain.Participation)
	}
	if merged.SignalCount == 0 {
		merged.SignalCount = rec.SignalCount
	}
	if merged.AvgEntryScore == 0 {
		merged.AvgEntryScore = rec.AvgEntryScore
	}
	if len(merged.ScoreHistory) == 0 {
		merged.ScoreHistory = rec.ScoreHistory
	}
	if merged.Consistency == 0 {
		merged.Consistency = rec.Consistency
	}
	if rec.LastSeenAt > merged.LastSeenAt {
		merged.LastSeenAt = rec.LastSeenAt
	}
	for addr, p := range rec.Tokens {
		cur, ok := merged.Tokens[addr]
		if !ok {
			merged.Tokens[addr] = p
			continue
		}
		cur.PeakPrice = math.Max(cur.PeakPrice, p.PeakPrice)
		merged.Tokens[addr] = cur
	}
	return merged
}

// MigrateSummary maps a legacy recent-signal entry. ok is false when the
// entry has no usable token or time.
func MigrateSummary(raw map[string]any) (domain.SignalSummary, bool) {
	var s domain.SignalSummary
	s.TokenAddress, _ = summaryToken.str(raw)
	s.Time, _ = summaryTime.millis(raw)
	if s.TokenAddress == "" || s.Time == 0 {
		return s, false
	}
	s.ID, _ = summaryID.str(raw)
	s.Symbol, _ = summarySymbol.str(raw)
	s.Price, _ = summaryPrice.float(raw)
	s.AvgScore, _ = summaryAvgScore.float(raw)
	if v, ok := summaryWalletCount.first(raw); ok {
		switch w := v.(type) {
		case []any:
			s.WalletCount = len(w)
		default:
			if n, ok := toFloat(w); ok {
				s.WalletCount = int(n)
			}
		}
	}
	return s, true
}

// MigrateDocument builds a current-schema document from a decoded legacy
// document. Token and wallet collections found under several legacy names
// are merged. Recent signals older than the display window relative to now
// are dropped. MigrateDocument never fails.
func MigrateDocument(raw map[string]any, partition string, now time.Time) *domain.PartitionDocument {
	doc := domain.NewPartitionDocument(partition)

	for _, get := range docTokens {
		v, ok := get(raw)
		if !ok {
			continue
		}
		tokens, ok := v.(map[string]any)
		if !ok {
			continue
		}
		for addr, entry := range tokens {
			fields, ok := entry.(map[string]any)
			if !ok {
				continue
			}
			var existing *domain.TokenRecord
			if cur, ok := doc.Tokens[addr]; ok {
				existing = &cur
			}
			doc.Tokens[addr] = MigrateToken(fields, existing)
		}
	}

	for _, get := range docWallets {
		v, ok := get(raw)
		if !ok {
			continue
		}
		wallets, ok := v.(map[string]any)
		if !ok {
			continue
		}
		for addr, entry := range wallets {
			fields, ok := entry.(map[string]any)
			if !ok {
				continue
			}
			var existing *domain.WalletRecord
			if cur, ok := doc.Wallets[addr]; ok {
				existing = &cur
			}
			doc.Wallets[addr] = MigrateWallet(fields, existing)
		}
	}

	if keys, ok := docDedup.strings(raw); ok {
		if len(keys) > domain.DedupWindowCap {
			keys = keys[:domain.DedupWindowCap]
		}
		doc.Dedup = keys
	}

	if v, ok := docRecent.first(raw); ok {
		if list, ok := v.([]any); ok {
			cutoff := now.Add(-domain.RecentSignalWindow).UnixMilli()
			for _, item := range list {
				fields, ok := item.(map[string]any)
				if !ok {
					continue
				}
				s, ok := MigrateSummary(fields)
				if !ok || s.Time < cutoff {
					continue
				}
				doc.Recent = append(doc.Recent, s)
			}
		}
	}

	doc.Normalize()
	return doc
}

func minPositive(a, b float64) float64 {
	switch {
	case a <= 0:
		return b
	case b <= 0:
		return a
	default:
		return math.Min(a, b)
	}
}
