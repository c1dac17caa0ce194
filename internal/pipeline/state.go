// internal/pipeline/state.go
package pipeline

import "github.com/rovshanmuradov/solana-trader/internal/domain"

// State - шаг конвейера.
type State string

const (
	StatePending      State = "PENDING"
	StateBroadcasting State = "BROADCASTING"
	StateConfirming   State = "CONFIRMING"
	StateSuccess      State = "SUCCESS"
	StateFailed       State = "FAILED"
)

// RowStatus returns the transaction row status recorded for the state.
func (s State) RowStatus() domain.TxStatus {
	switch s {
	case StateConfirming:
		return domain.TxProcessing
	case StateSuccess:
		return domain.TxSuccess
	case StateFailed:
		return domain.TxFailed
	default:
		return domain.TxPending
	}
}

// Terminal reports whether the pipeline has finished.
func (s State) Terminal() bool {
	return s == StateSuccess || s == StateFailed
}
