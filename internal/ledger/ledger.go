// Package ledger is the authoritative record of what an owner holds per token.
// It is the only writer of position rows.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-trader/internal/domain"
	"github.com/rovshanmuradov/solana-trader/internal/storage"
)

// OpenRequest describes a new position.
type OpenRequest struct {
	OwnerID      string
	TokenAddress string
	TokenSymbol  string
	TokenName    string
	EntryPrice   float64
	AmountSOL    float64
	AmountToken  float64
}

// Ledger wraps a PositionStore with the position lifecycle rules.
type Ledger struct {
	store  storage.PositionStore
	logger *zap.Logger
	now    func() time.Time
}

// New creates a ledger over store.
func New(store storage.PositionStore, logger *zap.Logger) *Ledger {
	return &Ledger{
		store:  store,
		logger: logger.Named("ledger"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Open always inserts a new active position. Existing positions on the same
// token are left alone.
func (l *Ledger) Open(ctx context.Context, req OpenRequest) (int64, error) {
	if req.OwnerID == "" || req.TokenAddress == "" {
		return 0, fmt.Errorf("%w: owner and token are required", storage.ErrInvalidInput)
	}
	if req.AmountToken <= 0 {
		return 0, fmt.Errorf("%w: token amount must be positive, got %v", domain.ErrInvalidAmount, req.AmountToken)
	}
	if req.AmountSOL < 0 || req.EntryPrice < 0 {
		return 0, fmt.Errorf("%w: negative amount or price", domain.ErrInvalidAmount)
	}

	now := l.now()
	p := &domain.Position{
		OwnerID:      req.OwnerID,
		TokenAddress: req.TokenAddress,
		TokenSymbol:  req.TokenSymbol,
		TokenName:    req.TokenName,
		EntryPrice:   req.EntryPrice,
		AmountSOL:    req.AmountSOL,
		AmountToken:  req.AmountToken,
		OpenedAt:     now,
		LastUpdated:  now,
		Active:       true,
	}
	id, err := l.store.CreatePosition(ctx, p)
	if err != nil {
		return 0, err
	}

	l.logger.Info("Position opened",
		zap.Int64("position_id", id),
		zap.String("owner_id", req.OwnerID),
		zap.String("token", req.TokenAddress),
		zap.Float64("amount_sol", req.AmountSOL),
		zap.Float64("amount_token", req.AmountToken))
	return id, nil
}

// Add increments both amounts of an active position. The increment is done
// by the store so concurrent adds never lose updates.
func (l *Ledger) Add(ctx context.Context, id int64, deltaSOL, deltaToken float64) error {
	patch := domain.PositionPatch{DeltaSOL: &deltaSOL, DeltaToken: &deltaToken}
	if err := l.store.ApplyPositionPatch(ctx, id, patch, l.now()); err != nil {
		return fmt.Errorf("add to position %d: %w", id, err)
	}

	l.logger.Debug("Position increased",
		zap.Int64("position_id", id),
		zap.Float64("delta_sol", deltaSOL),
		zap.Float64("delta_token", deltaToken))
	return nil
}

// Close deactivates a position and freezes its amounts. Closing a position
// that is already closed succeeds without touching it.
func (l *Ledger) Close(ctx context.Context, id int64) error {
	inactive := false
	err := l.store.ApplyPositionPatch(ctx, id, domain.PositionPatch{Active: &inactive}, l.now())
	switch {
	case err == nil:
		l.logger.Info("Position closed", zap.Int64("position_id", id))
		return nil
	case errors.Is(err, domain.ErrPositionClosed):
		return nil
	default:
		return fmt.Errorf("close position %d: %w", id, err)
	}
}

// Get returns one position.
func (l *Ledger) Get(ctx context.Context, id int64) (*domain.Position, error) {
	return l.store.GetPosition(ctx, id)
}

// List returns the owner's positions, most recently opened first. An empty
// token matches every token.
func (l *Ledger) List(ctx context.Context, ownerID string, activeOnly bool, token string) ([]domain.Position, error) {
	return l.store.ListPositions(ctx, domain.PositionFilter{
		OwnerID:      ownerID,
		TokenAddress: token,
		ActiveOnly:   activeOnly,
	})
}

// DistinctTokens returns every token the owner holds (or held).
func (l *Ledger) DistinctTokens(ctx context.Context, ownerID string, activeOnly bool) ([]domain.TokenRef, error) {
	return l.store.DistinctTokens(ctx, ownerID, activeOnly)
}
