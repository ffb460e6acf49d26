package domain

// SignalSummary is a lightweight record of recent activity, kept for the
// rolling display window only.
type SignalSummary struct {
	ID           string  `json:"id"`
	TokenAddress string  `json:"token"`
	Symbol       string  `json:"sym"`
	Time         int64   `json:"time"` // unix ms
	Price        float64 `json:"price"`
	AvgScore     float64 `json:"avgScore"`
	WalletCount  int     `json:"walletCount"`
}
