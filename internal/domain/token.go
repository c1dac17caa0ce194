// internal/domain/token.go
package domain

import "time"

// NativeMint is the wrapped SOL mint. Balance lookups for it, or for the
// wallet's own address, return the native balance.
const NativeMint = "So11111111111111111111111111111111111111112"

// NativeDecimals is the number of decimals of the native asset.
const NativeDecimals = 9

// TokenInfo is what the price/metadata provider knows about a token.
type TokenInfo struct {
	Address   string    `json:"address"`
	Symbol    string    `json:"symbol"`
	Name      string    `json:"name"`
	Decimals  uint8     `json:"decimals"`
	PriceUSD  float64   `json:"price_usd"`
	PriceSOL  float64   `json:"price_in_sol"`
	Volume24h float64   `json:"volume"`
	CreatedAt time.Time `json:"created_at"`
}

// Balance of an address for one asset.
type Balance struct {
	Decimals uint8   `json:"decimals"`
	Raw      uint64  `json:"raw"`
	Amount   float64 `json:"amount"`
}
