package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// ComputeSignalKey computes a deterministic dedup key for a signal event.
// Formula: SHA256(partition|token|time_ms|sorted(wallets) joined by ",")
// Returns hex-encoded hash (64 characters).
func ComputeSignalKey(
	partition string,
	token string,
	timeMs int64,
	wallets []string,
) string {
	sorted := make([]string, len(wallets))
	copy(sorted, wallets)
	sort.Strings(sorted)

	data := fmt.Sprintf("%s|%s|%d|%s",
		partition,
		token,
		timeMs,
		strings.Join(sorted, ","),
	)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}

// signalNamespace scopes summary ids derived from signal keys.
var signalNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("signal-board/signals"))

// ComputeSummaryID derives a stable UUID (v5) for a recent-signal summary
// from its signal key.
func ComputeSummaryID(signalKey string) string {
	return uuid.NewSHA1(signalNamespace, []byte(signalKey)).String()
}
