// =============================
// File: internal/dex/interfaces.go
// =============================
package dex

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"

	"github.com/rovshanmuradov/solana-trader/internal/domain"
)

// ErrNoRoute возвращается, когда агрегатор не нашел маршрут для обмена.
var ErrNoRoute = errors.New("no swap route")

// TokenInfoProvider: источник метаданных и цен токенов.
// Для неизвестного токена возвращает domain.ErrUnknownToken, а не нулевую цену.
type TokenInfoProvider interface {
	TokenInfo(ctx context.Context, address string) (*domain.TokenInfo, error)
}

// SwapBuilder строит неподписанную транзакцию обмена.
type SwapBuilder interface {
	BuildSwap(ctx context.Context, req SwapRequest) ([]byte, error)
}

// SwapRequest описывает обмен InputMint -> OutputMint.
type SwapRequest struct {
	Owner         solana.PublicKey
	InputMint     string
	OutputMint    string
	Amount        float64
	InputDecimals uint8
	SlippageBps   int
	// PriorityFeeLamports: 0 означает автоматическую комиссию агрегатора.
	PriorityFeeLamports uint64
}

// RawAmount переводит Amount в минимальные единицы входного токена.
// Дробный остаток ниже точности токена отбрасывается.
func (r SwapRequest) RawAmount() (uint64, error) {
	if r.Amount <= 0 {
		return 0, fmt.Errorf("%w: %v", domain.ErrInvalidAmount, r.Amount)
	}
	raw := decimal.NewFromFloat(r.Amount).Shift(int32(r.InputDecimals)).Truncate(0)
	if !raw.IsPositive() {
		return 0, fmt.Errorf("%w: %v is below token precision", domain.ErrInvalidAmount, r.Amount)
	}
	if !raw.BigInt().IsUint64() {
		return 0, fmt.Errorf("%w: %v overflows", domain.ErrInvalidAmount, r.Amount)
	}
	return raw.BigInt().Uint64(), nil
}

// Validate checks that the request is complete.
func (r SwapRequest) Validate() error {
	if r.Owner.IsZero() {
		return fmt.Errorf("%w: empty owner", domain.ErrInvalidAddress)
	}
	if r.InputMint == "" || r.OutputMint == "" || r.InputMint == r.OutputMint {
		return fmt.Errorf("%w: input %q output %q", domain.ErrInvalidAddress, r.InputMint, r.OutputMint)
	}
	if r.SlippageBps < 0 || r.SlippageBps > 10_000 {
		return fmt.Errorf("slippage %d bps out of range", r.SlippageBps)
	}
	_, err := r.RawAmount()
	return err
}
