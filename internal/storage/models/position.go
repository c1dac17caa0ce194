// internal/storage/models/base.go
package models

import (
	"time"

	"github.com/rovshanmuradov/solana-trader/internal/domain"
)

// Position - строка таблицы positions.
type Position struct {
	ID           int64     `gorm:"column:id;primaryKey;autoIncrement"`
	OwnerID      string    `gorm:"column:owner_id;index:idx_positions_owner;not null;type:varchar(64)"`
	TokenAddress string    `gorm:"column:token_address;not null;type:varchar(44)"`
	TokenSymbol  string    `gorm:"column:token_symbol;not null;type:varchar(32)"`
	TokenName    string    `gorm:"column:token_name;not null;type:varchar(128)"`
	EntryPrice   float64   `gorm:"column:entry_price;type:double precision;not null"`
	AmountSOL    float64   `gorm:"column:amount_sol;type:double precision;not null"`
	AmountToken  float64   `gorm:"column:amount_token;type:double precision;not null"`
	OpenDate     time.Time `gorm:"column:open_date;index;not null"`
	LastUpdated  time.Time `gorm:"column:last_updated;not null"`
	IsActive     bool      `gorm:"column:is_active;index:idx_positions_owner;not null"`
}

// TableName фиксирует имя таблицы.
func (Position) TableName() string { return "positions" }

// NewPosition конвертирует доменную позицию в строку.
func NewPosition(p *domain.Position) *Position {
	return &Position{
		ID:           p.ID,
		OwnerID:      p.OwnerID,
		TokenAddress: p.TokenAddress,
		TokenSymbol:  p.TokenSymbol,
		TokenName:    p.TokenName,
		EntryPrice:   p.EntryPrice,
		AmountSOL:    p.AmountSOL,
		AmountToken:  p.AmountToken,
		OpenDate:     p.OpenedAt.UTC(),
		LastUpdated:  p.LastUpdated.UTC(),
		IsActive:     p.Active,
	}
}

// Domain возвращает доменное представление строки.
func (p *Position) Domain() domain.Position {
	return domain.Position{
		ID:           p.ID,
		OwnerID:      p.OwnerID,
		TokenAddress: p.TokenAddress,
		TokenSymbol:  p.TokenSymbol,
		TokenName:    p.TokenName,
		EntryPrice:   p.EntryPrice,
		AmountSOL:    p.AmountSOL,
		AmountToken:  p.AmountToken,
		OpenedAt:     p.OpenDate,
		LastUpdated:  p.LastUpdated,
		Active:       p.IsActive,
	}
}
