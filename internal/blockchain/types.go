// internal/blockchain/types.go
package blockchain

import (
	"context"
	"errors"

	"github.com/gagliardetto/solana-go"
)

// ErrAccountNotFound возвращается, когда аккаунт еще не создан в сети.
var ErrAccountNotFound = errors.New("account not found")

// TransactionOptions определяет опции для отправки транзакций.
type TransactionOptions struct {
	SkipPreflight bool
	// PreflightCommitment: processed, confirmed или finalized.
	PreflightCommitment string
}

// ConfirmationLevel - уровень подтверждения подписи.
type ConfirmationLevel string

const (
	LevelProcessed ConfirmationLevel = "processed"
	LevelConfirmed ConfirmationLevel = "confirmed"
	LevelFinalized ConfirmationLevel = "finalized"
)

// SignatureStatus - то, что сеть знает о подписи.
type SignatureStatus struct {
	Slot  uint64
	Level ConfirmationLevel
	// Err не nil, если транзакция выполнена с ошибкой.
	Err interface{}
}

// Settled reports whether the status is final enough to act on.
func (s SignatureStatus) Settled() bool {
	return s.Err != nil || s.Level == LevelConfirmed || s.Level == LevelFinalized
}

// TokenAmount - баланс токенного аккаунта.
type TokenAmount struct {
	Amount   uint64
	Decimals uint8
	UIAmount float64
}

// Blockhash с высотой блока, после которой транзакции с ним недействительны.
type Blockhash struct {
	Hash                 solana.Hash
	LastValidBlockHeight uint64
}

// Client определяет контракт RPC-провайдера, которым пользуется ядро.
type Client interface {
	// Получить нативный баланс в лампортах.
	GetBalance(ctx context.Context, pubkey solana.PublicKey) (uint64, error)
	// Получить баланс токенного аккаунта. ErrAccountNotFound, если аккаунта нет.
	GetTokenAccountBalance(ctx context.Context, account solana.PublicKey) (*TokenAmount, error)
	// Отправить сериализованную подписанную транзакцию.
	SendRawTransaction(ctx context.Context, raw []byte, opts TransactionOptions) (solana.Signature, error)
	// Получить последний blockhash и его потолок высоты.
	GetLatestBlockhash(ctx context.Context) (*Blockhash, error)
	// Получить текущую высоту блока.
	GetBlockHeight(ctx context.Context) (uint64, error)
	// Получить статус подписи. nil, если сеть ее еще не видела.
	GetSignatureStatus(ctx context.Context, sig solana.Signature) (*SignatureStatus, error)
}
