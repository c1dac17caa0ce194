// internal/domain/alert.go
package domain

import "time"

// AlertDirection selects which side of the target fires the alert.
type AlertDirection string

const (
	AlertAbove AlertDirection = "above"
	AlertBelow AlertDirection = "below"
)

// Alert is a per-owner price threshold.
type Alert struct {
	ID           string         `json:"id"`
	TokenAddress string         `json:"token_address"`
	TokenSymbol  string         `json:"token_symbol"`
	Name         string         `json:"name,omitempty"`
	TargetPrice  float64        `json:"target_price"`
	Direction    AlertDirection `json:"direction"`
	CreatedAt    time.Time      `json:"created_at"`
	Triggered    bool           `json:"triggered"`
	CurrentPrice float64        `json:"current_price"`
}

// Crossed reports whether price satisfies the alert condition.
func (a Alert) Crossed(price float64) bool {
	switch a.Direction {
	case AlertAbove:
		return price >= a.TargetPrice
	case AlertBelow:
		return price <= a.TargetPrice
	}
	return false
}
