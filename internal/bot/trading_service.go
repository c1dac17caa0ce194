// internal/bot/trading_service.go
package bot

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-trader/internal/balance"
	"github.com/rovshanmuradov/solana-trader/internal/dex"
	"github.com/rovshanmuradov/solana-trader/internal/domain"
	"github.com/rovshanmuradov/solana-trader/internal/events"
	"github.com/rovshanmuradov/solana-trader/internal/ledger"
	"github.com/rovshanmuradov/solana-trader/internal/logger"
	"github.com/rovshanmuradov/solana-trader/internal/pipeline"
	"github.com/rovshanmuradov/solana-trader/internal/pnl"
	"github.com/rovshanmuradov/solana-trader/internal/storage"
	"github.com/rovshanmuradov/solana-trader/internal/wallet"
)

// DefaultHistoryLimit - сколько транзакций показывать без явного лимита.
const DefaultHistoryLimit = 10

// Quoter отдает метаданные токена и цены в USD. Реализуется jupiter.Client.
type Quoter interface {
	dex.TokenInfoProvider
	Prices(ctx context.Context, mints ...string) (map[string]float64, error)
}

// SignerLookup находит кошелек владельца.
type SignerLookup func(owner string) (pipeline.Signer, error)

// KeystoreLookup adapts a keystore to SignerLookup.
func KeystoreLookup(ks *wallet.Keystore) SignerLookup {
	return func(owner string) (pipeline.Signer, error) {
		signer, err := ks.Signer(owner)
		if err != nil {
			return nil, err
		}
		return signer, nil
	}
}

// TradingService provides centralized trading operations
type TradingService struct {
	pipeline     *pipeline.Pipeline
	ledger       *ledger.Ledger
	transactions storage.TransactionStore
	quotes       Quoter
	signers      SignerLookup
	tracker      *balance.Tracker
	publisher    events.Publisher
	logger       *zap.Logger

	slippageBps         int
	priorityFeeLamports uint64
}

// TradingServiceConfig configuration for TradingService
type TradingServiceConfig struct {
	Pipeline            *pipeline.Pipeline
	Ledger              *ledger.Ledger
	Transactions        storage.TransactionStore
	Quotes              Quoter
	Signers             SignerLookup
	Tracker             *balance.Tracker
	Publisher           events.Publisher
	Logger              *zap.Logger
	SlippageBps         int
	PriorityFeeLamports uint64
}

// NewTradingService creates a new trading service
func NewTradingService(cfg *TradingServiceConfig) *TradingService {
	return &TradingService{
		pipeline:            cfg.Pipeline,
		ledger:              cfg.Ledger,
		transactions:        cfg.Transactions,
		quotes:              cfg.Quotes,
		signers:             cfg.Signers,
		tracker:             cfg.Tracker,
		publisher:           cfg.Publisher,
		logger:              cfg.Logger.Named("trading_service"),
		slippageBps:         cfg.SlippageBps,
		priorityFeeLamports: cfg.PriorityFeeLamports,
	}
}

// Buy меняет amountSOL на токен.
func (s *TradingService) Buy(ctx context.Context, owner, token string, amountSOL float64) (*pipeline.Result, error) {
	signer, info, err := s.prepare(ctx, owner, token)
	if err != nil {
		return nil, err
	}
	return s.pipeline.Execute(ctx, s.request(owner, signer, domain.DirectionBuy, info, amountSOL, 0))
}

// Sell продает долю fraction удерживаемого баланса токена.
func (s *TradingService) Sell(ctx context.Context, owner, token string, fraction float64) (*pipeline.Result, error) {
	signer, info, err := s.prepare(ctx, owner, token)
	if err != nil {
		return nil, err
	}
	return s.pipeline.Execute(ctx, s.request(owner, signer, domain.DirectionSell, info, 0, fraction))
}

func (s *TradingService) prepare(ctx context.Context, owner, token string) (pipeline.Signer, *domain.TokenInfo, error) {
	signer, err := s.signers(owner)
	if err != nil {
		return nil, nil, err
	}
	info, err := s.quotes.TokenInfo(ctx, token)
	if err != nil {
		return nil, nil, fmt.Errorf("token %s: %w", token, err)
	}
	return signer, info, nil
}

func (s *TradingService) request(owner string, signer pipeline.Signer, dir domain.Direction, info *domain.TokenInfo, amount, fraction float64) pipeline.Request {
	return pipeline.Request{
		Owner:               owner,
		Signer:              signer,
		Direction:           dir,
		Token:               *info,
		Amount:              amount,
		Fraction:            fraction,
		SlippageBps:         s.slippageBps,
		PriorityFeeLamports: s.priorityFeeLamports,
	}
}

// InvestRequest - покупка с записью в книгу позиций.
type InvestRequest struct {
	Owner     string
	Token     string
	AmountSOL float64
	// AddToExisting добавляет к последней активной позиции по токену.
	// Если ее нет, открывается новая.
	AddToExisting bool
}

// InvestResult - итог Invest. PositionID равен 0, если сделка не прошла.
type InvestResult struct {
	Trade          *pipeline.Result      `json:"trade"`
	PositionID     int64                 `json:"position_id,omitempty"`
	Action         events.PositionAction `json:"action,omitempty"`
	TokensReceived float64               `json:"tokens_received,omitempty"`
	EntryPrice     float64               `json:"entry_price,omitempty"`
}

// Invest покупает токен и отражает покупку в книге позиций.
// Полученное количество берется из изменения баланса, а если снимков нет,
// оценивается как amount*solPrice/priceUSD.
func (s *TradingService) Invest(ctx context.Context, req InvestRequest) (*InvestResult, error) {
	log := logger.WithOwner(s.logger, req.Owner).With(zap.String("token", req.Token))

	signer, info, err := s.prepare(ctx, req.Owner, req.Token)
	if err != nil {
		return nil, err
	}
	if info.PriceUSD <= 0 {
		return nil, fmt.Errorf("%w: no usd price for %s", domain.ErrPriceLookup, req.Token)
	}
	if req.AmountSOL <= 0 {
		return nil, fmt.Errorf("%w: invest amount %v", domain.ErrInvalidAmount, req.AmountSOL)
	}

	preq := s.request(req.Owner, signer, domain.DirectionBuy, info, req.AmountSOL, 0)
	preq.SnapshotBefore = true
	trade, err := s.pipeline.Execute(ctx, preq)
	if err != nil {
		return nil, err
	}
	result := &InvestResult{Trade: trade}
	if !trade.Succeeded() {
		return result, nil
	}

	tokens, err := s.tokensReceived(ctx, trade, req.AmountSOL, info.PriceUSD)
	if err != nil {
		return result, fmt.Errorf("trade %s settled but position not recorded: %w", trade.Hash, err)
	}
	result.TokensReceived = tokens
	result.EntryPrice = info.PriceUSD

	if err := s.applyToLedger(ctx, req, info, tokens, result); err != nil {
		return result, fmt.Errorf("trade %s settled but position not recorded: %w", trade.Hash, err)
	}

	log.Info("Investment recorded",
		zap.Int64("position_id", result.PositionID),
		zap.String("action", string(result.Action)),
		zap.Float64("tokens", tokens))
	s.publish(ctx, events.PositionChangedEvent{
		BaseEvent:    events.NewBaseEvent(events.PositionChanged),
		Owner:        req.Owner,
		PositionID:   result.PositionID,
		TokenAddress: req.Token,
		Action:       result.Action,
	})
	return result, nil
}

func (s *TradingService) tokensReceived(ctx context.Context, trade *pipeline.Result, amountSOL, priceUSD float64) (float64, error) {
	if received, ok := trade.Received(); ok {
		return received, nil
	}
	prices, err := s.quotes.Prices(ctx, domain.NativeMint)
	if err != nil {
		return 0, err
	}
	solPrice, ok := prices[domain.NativeMint]
	if !ok || solPrice <= 0 {
		return 0, fmt.Errorf("%w: no SOL price", domain.ErrPriceLookup)
	}
	return amountSOL * solPrice / priceUSD, nil
}

func (s *TradingService) applyToLedger(ctx context.Context, req InvestRequest, info *domain.TokenInfo, tokens float64, result *InvestResult) error {
	if req.AddToExisting {
		active, err := s.ledger.List(ctx, req.Owner, true, req.Token)
		if err != nil {
			return err
		}
		if len(active) > 0 {
			id := active[0].ID
			if err := s.ledger.Add(ctx, id, req.AmountSOL, tokens); err != nil {
				return err
			}
			result.PositionID = id
			result.Action = events.PositionAdded
			return nil
		}
	}

	id, err := s.ledger.Open(ctx, ledger.OpenRequest{
		OwnerID:      req.Owner,
		TokenAddress: req.Token,
		TokenSymbol:  info.Symbol,
		TokenName:    info.Name,
		EntryPrice:   info.PriceUSD,
		AmountSOL:    req.AmountSOL,
		AmountToken:  tokens,
	})
	if err != nil {
		return err
	}
	result.PositionID = id
	result.Action = events.PositionOpened
	return nil
}

// CloseResult - закрытые позиции и реализованный PnL по ним.
type CloseResult struct {
	Closed  []int64         `json:"closed"`
	Summary pnl.Summary     `json:"summary"`
	Token   domain.TokenRef `json:"token"`
}

// CloseToken закрывает все активные позиции владельца по токену.
// Без котировки позиции все равно закрываются, а токен попадает в Unpriced.
func (s *TradingService) CloseToken(ctx context.Context, owner, token string) (*CloseResult, error) {
	positions, err := s.ledger.List(ctx, owner, true, token)
	if err != nil {
		return nil, err
	}
	if len(positions) == 0 {
		return nil, fmt.Errorf("%w: no active positions on %s", domain.ErrLedgerNotFound, token)
	}

	prices, ref := s.quote(ctx, token)

	result := &CloseResult{
		Token: domain.TokenRef{
			Address: token,
			Symbol:  positions[0].TokenSymbol,
			Name:    positions[0].TokenName,
		},
	}
	var closeErr error
	closed := make([]domain.Position, 0, len(positions))
	for _, p := range positions {
		if err := s.ledger.Close(ctx, p.ID); err != nil {
			closeErr = errors.Join(closeErr, err)
			continue
		}
		result.Closed = append(result.Closed, p.ID)
		closed = append(closed, p)
		s.publish(ctx, events.PositionChangedEvent{
			BaseEvent:    events.NewBaseEvent(events.PositionChanged),
			Owner:        owner,
			PositionID:   p.ID,
			TokenAddress: token,
			Action:       events.PositionClosed,
		})
	}
	result.Summary = pnl.Aggregate(closed, prices, ref)

	s.logger.Info("Positions closed",
		zap.String("owner", owner),
		zap.String("token", token),
		zap.Int("closed", len(result.Closed)),
		zap.Float64("realized_pnl", result.Summary.Total.PnL))
	return result, closeErr
}

// quote returns token prices without the SOL reference plus the reference
// itself. Failures are logged; callers treat missing prices as unpriced.
func (s *TradingService) quote(ctx context.Context, tokens ...string) (map[string]float64, float64) {
	prices, err := s.quotes.Prices(ctx, append(tokens, domain.NativeMint)...)
	if err != nil {
		s.logger.Warn("Price lookup failed", zap.Strings("tokens", tokens), zap.Error(err))
		return map[string]float64{}, 0
	}
	ref := prices[domain.NativeMint]
	out := make(map[string]float64, len(tokens))
	for _, t := range tokens {
		if p, ok := prices[t]; ok {
			out[t] = p
		}
	}
	if ref <= 0 {
		// Без цены SOL вложения не оценить.
		return map[string]float64{}, 0
	}
	return out, ref
}

// Portfolio оценивает активные позиции владельца по текущим ценам.
func (s *TradingService) Portfolio(ctx context.Context, owner string) (*pnl.Portfolio, error) {
	positions, err := s.ledger.List(ctx, owner, true, "")
	if err != nil {
		return nil, err
	}
	view := &pnl.Portfolio{Positions: make([]pnl.PositionView, 0, len(positions))}
	if len(positions) == 0 {
		return view, nil
	}

	tokens, err := s.ledger.DistinctTokens(ctx, owner, true)
	if err != nil {
		return nil, err
	}
	addrs := make([]string, 0, len(tokens))
	for _, t := range tokens {
		addrs = append(addrs, t.Address)
	}
	prices, ref := s.quote(ctx, addrs...)

	view.RefPrice = ref
	for _, p := range positions {
		pv := pnl.PositionView{Position: p}
		if price, ok := prices[p.TokenAddress]; ok {
			r := pnl.Evaluate(p, price, ref).Rounded()
			pv.Report = &r
		}
		view.Positions = append(view.Positions, pv)
	}
	view.Summary = pnl.Aggregate(positions, prices, ref)
	return view, nil
}

// Positions lists the owner's positions, most recent first.
func (s *TradingService) Positions(ctx context.Context, owner string, activeOnly bool, token string) ([]domain.Position, error) {
	return s.ledger.List(ctx, owner, activeOnly, token)
}

// Transaction returns one recorded transaction by hash or placeholder.
func (s *TradingService) Transaction(ctx context.Context, hash string) (*domain.Transaction, error) {
	return s.transactions.GetTransaction(ctx, hash)
}

// History возвращает последние транзакции владельца.
func (s *TradingService) History(ctx context.Context, owner string, limit int) ([]domain.Transaction, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return s.transactions.ListTransactions(ctx, owner, limit)
}

// Balance снимает текущий баланс и сравнивает с предыдущим снимком.
func (s *TradingService) Balance(ctx context.Context, owner, mint string) (balance.Change, error) {
	signer, err := s.signers(owner)
	if err != nil {
		return balance.Change{}, err
	}
	return s.tracker.Snapshot(ctx, owner, signer, mint)
}

// BalanceHistory returns stored snapshots for a balance key.
func (s *TradingService) BalanceHistory(owner, key string) []balance.Snapshot {
	return s.tracker.History(owner, key)
}

func (s *TradingService) publish(ctx context.Context, e events.Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, e); err != nil {
		s.logger.Debug("Event not published", zap.String("event_type", string(e.Type())), zap.Error(err))
	}
}
