// internal/storage/models/transaction.go
package models

import (
	"time"

	"github.com/rovshanmuradov/solana-trader/internal/domain"
)

type Transaction struct {
	ID           int64     `gorm:"column:id;primaryKey;autoIncrement"`
	OwnerID      string    `gorm:"column:owner_id;index;not null;type:varchar(64)"`
	Hash         string    `gorm:"column:hash;unique;not null;type:varchar(100)"`
	TokenAddress string    `gorm:"column:token_address;not null;type:varchar(44)"`
	TokenSymbol  string    `gorm:"column:token_symbol;not null;type:varchar(32)"`
	Amount       float64   `gorm:"column:amount;type:double precision;not null"`
	Type         string    `gorm:"column:type;not null;type:varchar(8)"`
	Status       string    `gorm:"column:status;not null;type:varchar(20)"`
	PriceUSD     float64   `gorm:"column:price_usd;type:double precision;not null"`
	PriceSOL     float64   `gorm:"column:price_sol;type:double precision;not null"`
	Timestamp    time.Time `gorm:"column:timestamp;not null"`
	Error        string    `gorm:"column:error;type:text"`
}

func (Transaction) TableName() string { return "transactions" }

func NewTransaction(tx *domain.Transaction) *Transaction {
	return &Transaction{
		ID:           tx.ID,
		OwnerID:      tx.OwnerID,
		Hash:         tx.Hash,
		TokenAddress: tx.TokenAddress,
		TokenSymbol:  tx.TokenSymbol,
		Amount:       tx.Amount,
		Type:         string(tx.Direction),
		Status:       string(tx.Status),
		PriceUSD:     tx.PriceUSD,
		PriceSOL:     tx.PriceSOL,
		Timestamp:    tx.Timestamp.UTC(),
		Error:        tx.Error,
	}
}

func (t *Transaction) Domain() domain.Transaction {
	return domain.Transaction{
		ID:           t.ID,
		OwnerID:      t.OwnerID,
		Hash:         t.Hash,
		TokenAddress: t.TokenAddress,
		TokenSymbol:  t.TokenSymbol,
		Amount:       t.Amount,
		Direction:    domain.Direction(t.Type),
		Status:       domain.TxStatus(t.Status),
		PriceUSD:     t.PriceUSD,
		PriceSOL:     t.PriceSOL,
		Timestamp:    t.Timestamp,
		Error:        t.Error,
	}
}
