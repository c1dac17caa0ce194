// internal/domain/position.go
package domain

import "time"

// Position is one ledger entry: SOL-for-token exposure opened at a point in time.
type Position struct {
	ID           int64     `json:"id"`
	OwnerID      string    `json:"owner_id"`
	TokenAddress string    `json:"token_address"`
	TokenSymbol  string    `json:"token_symbol"`
	TokenName    string    `json:"token_name"`
	EntryPrice   float64   `json:"entry_price"`
	AmountSOL    float64   `json:"amount_sol"`
	AmountToken  float64   `json:"amount_token"`
	OpenedAt     time.Time `json:"open_date"`
	LastUpdated  time.Time `json:"last_updated"`
	Active       bool      `json:"is_active"`
}

// CostBasis returns SOL paid per token. Zero when nothing is held.
func (p Position) CostBasis() float64 {
	if p.AmountToken <= 0 {
		return 0
	}
	return p.AmountSOL / p.AmountToken
}

// PositionPatch lists optional changes to a position. Stores apply a patch
// as one atomic statement: deltas are added to the stored values, never
// written from a previously read snapshot.
type PositionPatch struct {
	DeltaSOL   *float64
	DeltaToken *float64
	Active     *bool
}

// IsCloseOnly reports whether the patch only deactivates the position.
func (p PositionPatch) IsCloseOnly() bool {
	return p.DeltaSOL == nil && p.DeltaToken == nil && p.Active != nil && !*p.Active
}

// PositionFilter narrows position listings.
type PositionFilter struct {
	OwnerID      string
	TokenAddress string
	ActiveOnly   bool
}

// TokenRef identifies a token held by an owner.
type TokenRef struct {
	Address string `json:"token_address"`
	Symbol  string `json:"token_symbol"`
	Name    string `json:"token_name"`
}
