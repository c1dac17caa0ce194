// internal/domain/errors.go
package domain

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by the signer, pipeline, ledger and alert evaluator.
var (
	ErrInvalidAddress      = errors.New("invalid address")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrSignatureFailure    = errors.New("signature failure")
	ErrBroadcastFailure    = errors.New("broadcast failure")
	ErrConfirmationTimeout = errors.New("confirmation timeout")
	ErrOnChain             = errors.New("on-chain error")
	ErrLedgerNotFound      = errors.New("position not found")
	ErrPersistence         = errors.New("persistence error")
	ErrPriceLookup         = errors.New("price lookup failure")
)

var (
	// ErrUnknownToken is returned by price providers when the token has no data.
	// It is not a zero price.
	ErrUnknownToken = fmt.Errorf("%w: unknown token", ErrPriceLookup)

	ErrPositionClosed    = errors.New("position is closed")
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrDuplicateHash     = errors.New("transaction hash already exists")
	ErrTxNotFound        = errors.New("transaction not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrAlertNotFound     = errors.New("alert not found")
)

// OnChainError carries the error detail reported by the chain for a
// finalized transaction.
type OnChainError struct {
	Detail string
}

func (e *OnChainError) Error() string {
	return fmt.Sprintf("%s: %s", ErrOnChain.Error(), e.Detail)
}

// Is makes errors.Is(err, ErrOnChain) hold for any OnChainError.
func (e *OnChainError) Is(target error) bool {
	return target == ErrOnChain
}

// NewOnChainError wraps a chain-reported failure detail.
func NewOnChainError(detail string) error {
	return &OnChainError{Detail: detail}
}
