// internal/storage/storage.go
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/rovshanmuradov/solana-trader/internal/domain"
)

// Ошибки уровня хранилища. Они оборачивают доменные ошибки, чтобы
// вызывающий код мог проверять их через errors.Is.
var (
	ErrNotFound       = domain.ErrLedgerNotFound
	ErrDuplicateKey   = domain.ErrDuplicateHash
	ErrPositionClosed = domain.ErrPositionClosed
	ErrInvalidInput   = errors.New("invalid input")
)

// PositionStore хранит позиции. Единственный писатель - ledger.
type PositionStore interface {
	CreatePosition(ctx context.Context, p *domain.Position) (int64, error)
	// ApplyPositionPatch применяет патч одним атомарным выражением.
	// Патч применяется только к активной позиции. Для закрытой возвращает
	// ErrPositionClosed, для несуществующей ErrNotFound.
	ApplyPositionPatch(ctx context.Context, id int64, patch domain.PositionPatch, at time.Time) error
	GetPosition(ctx context.Context, id int64) (*domain.Position, error)
	// ListPositions возвращает позиции начиная с самой новой.
	ListPositions(ctx context.Context, filter domain.PositionFilter) ([]domain.Position, error)
	DistinctTokens(ctx context.Context, ownerID string, activeOnly bool) ([]domain.TokenRef, error)
}

// TransactionStore хранит попытки свапов. Единственный писатель - pipeline.
type TransactionStore interface {
	InsertTransaction(ctx context.Context, tx *domain.Transaction) (int64, error)
	// UpdateTransaction применяет патч к строке с данным hash одним выражением.
	// Если в патче есть Status, строка обновляется только когда текущий статус
	// может перейти в новый, иначе ErrInvalidTransition.
	UpdateTransaction(ctx context.Context, hash string, patch domain.TransactionPatch) error
	GetTransaction(ctx context.Context, hash string) (*domain.Transaction, error)
	// ListTransactions возвращает последние транзакции владельца.
	ListTransactions(ctx context.Context, ownerID string, limit int) ([]domain.Transaction, error)
}

// Storage объединяет оба хранилища с общим жизненным циклом.
type Storage interface {
	PositionStore
	TransactionStore

	// RunMigrations создает схему, если ее нет.
	RunMigrations(ctx context.Context) error
	Close() error
}

// DefaultTransactionLimit используется, когда limit <= 0.
const DefaultTransactionLimit = 10

// ValidatePatch проверяет патч позиции до обращения к хранилищу.
func ValidatePatch(patch domain.PositionPatch) error {
	if patch.DeltaSOL == nil && patch.DeltaToken == nil && patch.Active == nil {
		return errors.Join(ErrInvalidInput, errors.New("empty patch"))
	}
	if patch.DeltaSOL != nil && *patch.DeltaSOL < 0 {
		return errors.Join(domain.ErrInvalidAmount, errors.New("negative sol delta"))
	}
	if patch.DeltaToken != nil && *patch.DeltaToken < 0 {
		return errors.Join(domain.ErrInvalidAmount, errors.New("negative token delta"))
	}
	if patch.Active != nil && *patch.Active {
		return errors.Join(ErrInvalidInput, errors.New("reopening a position is not supported"))
	}
	return nil
}
