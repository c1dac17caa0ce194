package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTxStatusOnlyMovesForward(t *testing.T) {
	tests := []struct {
		from, to TxStatus
		want     bool
	}{
		{TxPending, TxProcessing, true},
		{TxPending, TxFailed, true},
		{TxPending, TxSuccess, false},
		{TxProcessing, TxSuccess, true},
		{TxProcessing, TxFailed, true},
		{TxProcessing, TxPending, false},
		{TxSuccess, TxFailed, false},
		{TxFailed, TxProcessing, false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s->%s", tt.from, tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanAdvanceTo(tt.to))
		})
	}

	assert.ElementsMatch(t, []TxStatus{TxPending, TxProcessing}, TxFailed.Predecessors())
	assert.Equal(t, []TxStatus{TxProcessing}, TxSuccess.Predecessors())
	assert.Empty(t, TxPending.Predecessors())
}

func TestAlertCrossed(t *testing.T) {
	above := Alert{Direction: AlertAbove, TargetPrice: 5}
	assert.False(t, above.Crossed(4.99))
	assert.True(t, above.Crossed(5))
	assert.True(t, above.Crossed(7))

	below := Alert{Direction: AlertBelow, TargetPrice: 1}
	assert.True(t, below.Crossed(1))
	assert.True(t, below.Crossed(0.5))
	assert.False(t, below.Crossed(1.01))
}

func TestOnChainErrorMatchesSentinel(t *testing.T) {
	err := fmt.Errorf("confirm: %w", NewOnChainError(`{"InstructionError":[2,{"Custom":6001}]}`))
	assert.True(t, errors.Is(err, ErrOnChain))

	var oce *OnChainError
	assert.True(t, errors.As(err, &oce))
	assert.Contains(t, oce.Detail, "6001")

	assert.True(t, errors.Is(ErrUnknownToken, ErrPriceLookup))
}

func TestPositionCostBasis(t *testing.T) {
	p := Position{AmountSOL: 1.5, AmountToken: 3000}
	assert.InDelta(t, 0.0005, p.CostBasis(), 1e-12)
	assert.Zero(t, Position{AmountSOL: 1}.CostBasis())
}
