package leaderboard

import (
	"encoding/json"

	"signal-board/internal/domain"
	"signal-board/internal/storage"
)

// View is the renderer input for one published document. Only the row
// slice matching the view is set.
type View struct {
	Name       string                   `json:"-"`
	Title      string                   `json:"title"`
	Partition  string                   `json:"partition,omitempty"`
	Kind       domain.ViewKind          `json:"kind,omitempty"`
	Variant    domain.Variant           `json:"variant,omitempty"`
	Tokens     []domain.TokenRow        `json:"tokens,omitempty"`
	Wallets    []domain.WalletRow       `json:"wallets,omitempty"`
	HallOfFame []domain.HallOfFameEntry `json:"hallOfFame,omitempty"`
	GainSum    *float64                 `json:"gainSum,omitempty"`
}

// Renderer turns a view into a publishable document. Rendering must be
// deterministic so republishing unchanged rows is a no-op.
type Renderer interface {
	Render(v View) (storage.Document, error)
}

// JSONRenderer renders views as indented JSON.
type JSONRenderer struct{}

// Render implements Renderer.
func (JSONRenderer) Render(v View) (storage.Document, error) {
	body, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return storage.Document{}, err
	}
	return storage.Document{Name: v.Name + ".json", Caption: v.Title, Body: body}, nil
}

var _ Renderer = JSONRenderer{}
