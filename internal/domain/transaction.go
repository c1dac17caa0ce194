// internal/domain/transaction.go
package domain

import (
	"strings"
	"time"
)

// Direction of a swap relative to the native asset.
type Direction string

const (
	DirectionBuy  Direction = "buy"
	DirectionSell Direction = "sell"
)

// TxStatus is the persisted status of a swap attempt.
type TxStatus string

const (
	TxPending    TxStatus = "pending"
	TxProcessing TxStatus = "processing"
	TxSuccess    TxStatus = "success"
	TxFailed     TxStatus = "failed"
)

// PlaceholderPrefix marks a hash that was recorded before the real signature
// was known.
const PlaceholderPrefix = "pending-"

// IsTerminal reports whether no further transition is possible.
func (s TxStatus) IsTerminal() bool {
	return s == TxSuccess || s == TxFailed
}

// CanAdvanceTo reports whether moving from s to next goes forward.
func (s TxStatus) CanAdvanceTo(next TxStatus) bool {
	switch s {
	case TxPending:
		return next == TxProcessing || next == TxFailed
	case TxProcessing:
		return next == TxSuccess || next == TxFailed
	default:
		return false
	}
}

// Predecessors returns the statuses from which next may be reached.
func (s TxStatus) Predecessors() []TxStatus {
	var out []TxStatus
	for _, from := range []TxStatus{TxPending, TxProcessing} {
		if from.CanAdvanceTo(s) {
			out = append(out, from)
		}
	}
	return out
}

// Transaction is one attempted swap.
type Transaction struct {
	ID           int64     `json:"id"`
	OwnerID      string    `json:"owner_id"`
	Hash         string    `json:"hash"`
	TokenAddress string    `json:"token_address"`
	TokenSymbol  string    `json:"token_symbol"`
	Amount       float64   `json:"amount"`
	Direction    Direction `json:"type"`
	Status       TxStatus  `json:"status"`
	PriceUSD     float64   `json:"price_usd"`
	PriceSOL     float64   `json:"price_sol"`
	Timestamp    time.Time `json:"timestamp"`
	Error        string    `json:"error,omitempty"`
}

// HasPlaceholderHash reports whether the row still carries the pre-broadcast hash.
func (t Transaction) HasPlaceholderHash() bool {
	return strings.HasPrefix(t.Hash, PlaceholderPrefix)
}

// TransactionPatch lists optional changes applied to a transaction row in
// one statement. When Status is set the store only applies the patch if the
// current status may advance to it.
type TransactionPatch struct {
	Hash   *string
	Status *TxStatus
	Error  *string
}
