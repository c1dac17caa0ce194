// internal/pipeline/pipeline.go
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-trader/internal/balance"
	"github.com/rovshanmuradov/solana-trader/internal/dex"
	"github.com/rovshanmuradov/solana-trader/internal/domain"
	"github.com/rovshanmuradov/solana-trader/internal/events"
	"github.com/rovshanmuradov/solana-trader/internal/storage"
)

// Бюджет на запись итогов, когда контекст вызова уже отменен.
const settleTimeout = 10 * time.Second

// Signer - то, что конвейеру нужно от кошелька. Реализуется wallet.Signer.
type Signer interface {
	balance.Source
	PublicKey() solana.PublicKey
	SignAndBroadcast(ctx context.Context, unsigned []byte, extra ...solana.Signature) (solana.Signature, error)
	Confirm(ctx context.Context, sig solana.Signature) error
}

// Request описывает один свап.
type Request struct {
	Owner     string
	Signer    Signer
	Direction domain.Direction
	Token     domain.TokenInfo
	// Amount: для покупки - SOL, для продажи - явное количество токенов.
	Amount float64
	// Fraction: для продажи - доля удерживаемого баланса в (0, 1].
	// Если задана, Amount игнорируется.
	Fraction            float64
	SlippageBps         int
	PriorityFeeLamports uint64
	// SnapshotBefore снимает баланс получаемого актива под блокировкой
	// владельца, до проверки баланса. См. Result.Received.
	SnapshotBefore bool
}

func (r Request) validate() error {
	if r.Owner == "" || r.Signer == nil {
		return fmt.Errorf("%w: owner and signer are required", storage.ErrInvalidInput)
	}
	if r.Token.Address == "" || r.Token.Address == domain.NativeMint {
		return fmt.Errorf("%w: token %q", domain.ErrInvalidAddress, r.Token.Address)
	}
	switch r.Direction {
	case domain.DirectionBuy:
		if r.Amount <= 0 {
			return fmt.Errorf("%w: buy amount %v", domain.ErrInvalidAmount, r.Amount)
		}
	case domain.DirectionSell:
		if r.Fraction < 0 || r.Fraction > 1 {
			return fmt.Errorf("%w: sell fraction %v", domain.ErrInvalidAmount, r.Fraction)
		}
		if r.Fraction == 0 && r.Amount <= 0 {
			return fmt.Errorf("%w: sell amount %v", domain.ErrInvalidAmount, r.Amount)
		}
	default:
		return fmt.Errorf("%w: direction %q", storage.ErrInvalidInput, r.Direction)
	}
	return nil
}

// Result - итог одного запуска конвейера.
type Result struct {
	domain.Outcome
	State State `json:"state"`
	// Balance - снимок после терминального состояния. nil, если снимок не удался
	// или до записи попытки дело не дошло.
	Balance *balance.Change `json:"balance,omitempty"`
	// BalanceBefore - снимок того же ключа до свапа, если он был запрошен.
	BalanceBefore *balance.Change `json:"balance_before,omitempty"`
}

// Received возвращает прирост получаемого актива между снимками до и после
// свапа. Оба снимка делаются под блокировкой владельца, поэтому чужие
// снимки в истории трекера на разницу не влияют.
func (r *Result) Received() (float64, bool) {
	if r.Balance == nil || r.BalanceBefore == nil {
		return 0, false
	}
	delta := r.Balance.Current - r.BalanceBefore.Current
	return delta, delta > 0
}

// Pipeline превращает неподписанный свап в подтвержденный или
// проваленный результат и ведет строку транзакции.
type Pipeline struct {
	store   storage.TransactionStore
	swaps   dex.SwapBuilder
	tracker *balance.Tracker
	events  events.Publisher
	metrics *Metrics
	locks   *ownerLocks
	logger  *zap.Logger

	newPlaceholder func() string
	now            func() time.Time
}

// Option настраивает Pipeline.
type Option func(*Pipeline)

// WithPublisher публикует TradeSettledEvent и BalanceChangedEvent.
func WithPublisher(p events.Publisher) Option {
	return func(pl *Pipeline) { pl.events = p }
}

// WithMetrics подключает метрики.
func WithMetrics(m *Metrics) Option {
	return func(pl *Pipeline) { pl.metrics = m }
}

// New creates a pipeline.
func New(store storage.TransactionStore, swaps dex.SwapBuilder, tracker *balance.Tracker, logger *zap.Logger, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:          store,
		swaps:          swaps,
		tracker:        tracker,
		locks:          newOwnerLocks(),
		logger:         logger.Named("pipeline"),
		newPlaceholder: placeholderHash,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// receivedKey - актив, который владелец получает: токен при покупке, SOL при продаже.
func receivedKey(req Request) string {
	if req.Direction == domain.DirectionSell {
		return domain.NativeMint
	}
	return req.Token.Address
}

func placeholderHash() string {
	return domain.PlaceholderPrefix + uuid.NewString()
}

// run - состояние одного запуска.
type run struct {
	req     Request
	log     *zap.Logger
	result  *Result
	rowHash string
	stage   string
	start   time.Time
}

// Execute выполняет свап. Ошибка возвращается только для некорректного
// запроса; все остальные сбои описываются результатом с Kind=failed.
// Владелец заблокирован от проверки баланса до подтверждения.
func (p *Pipeline) Execute(ctx context.Context, req Request) (*Result, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	unlock := p.locks.lock(req.Owner)
	defer unlock()

	r := &run{
		req: req,
		log: p.logger.With(
			zap.String("owner", req.Owner),
			zap.String("direction", string(req.Direction)),
			zap.String("token", req.Token.Address)),
		result: &Result{
			Outcome: domain.Outcome{
				OwnerID:   req.Owner,
				Direction: req.Direction,
				Token:     req.Token.Address,
			},
			State: StatePending,
		},
		start: time.Now(),
	}

	if req.SnapshotBefore && p.tracker != nil {
		before, err := p.tracker.Snapshot(ctx, req.Owner, req.Signer, receivedKey(req))
		if err != nil {
			r.log.Warn("Pre-trade balance snapshot failed", zap.Error(err))
		} else {
			r.result.BalanceBefore = &before
		}
	}

	amount, decimals, err := p.resolveAmount(ctx, req)
	if err != nil {
		r.stage = "balance"
		r.result.Kind = domain.OutcomeFailed
		r.result.State = StateFailed
		r.result.Err = err
		r.result.Detail = err.Error()
		r.log.Warn("Swap rejected before recording", zap.Error(err))
		p.finish(r)
		return r.result, nil
	}
	r.result.Amount = amount

	// PENDING: намерение записано до появления подписи.
	placeholder := p.newPlaceholder()
	r.result.Hash = placeholder
	row := &domain.Transaction{
		OwnerID:      req.Owner,
		Hash:         placeholder,
		TokenAddress: req.Token.Address,
		TokenSymbol:  req.Token.Symbol,
		Amount:       amount,
		Direction:    req.Direction,
		Status:       domain.TxPending,
		PriceUSD:     req.Token.PriceUSD,
		PriceSOL:     req.Token.PriceSOL,
		Timestamp:    p.now().UTC(),
	}
	if _, err := p.store.InsertTransaction(ctx, row); err != nil {
		p.fail(ctx, r, "record", fmt.Errorf("%w: record attempt: %v", domain.ErrPersistence, err))
		p.finish(r)
		return r.result, nil
	}
	r.rowHash = placeholder

	unsigned, err := p.swaps.BuildSwap(ctx, p.swapRequest(req, amount, decimals))
	if err != nil {
		p.fail(ctx, r, "build", fmt.Errorf("build swap: %w", err))
		p.finish(r)
		return r.result, nil
	}

	r.result.State = StateBroadcasting
	sig, err := req.Signer.SignAndBroadcast(ctx, unsigned)
	if err != nil {
		p.fail(ctx, r, "broadcast", err)
		p.finish(r)
		return r.result, nil
	}

	// CONFIRMING: реальный хеш и статус processing одним выражением.
	signature := sig.String()
	r.result.Hash = signature
	r.result.State = StateConfirming
	processing := domain.TxProcessing
	if err := p.store.UpdateTransaction(ctx, placeholder, domain.TransactionPatch{Hash: &signature, Status: &processing}); err != nil {
		r.log.Error("Failed to record signature", zap.String("signature", signature), zap.Error(err))
		r.result.Err = errors.Join(r.result.Err, fmt.Errorf("%w: record signature: %v", domain.ErrPersistence, err))
	} else {
		r.rowHash = signature
	}
	r.log.Info("Transaction submitted", zap.String("signature", signature))

	if err := req.Signer.Confirm(ctx, sig); err != nil {
		p.fail(ctx, r, "confirm", err)
		p.finish(r)
		return r.result, nil
	}

	p.succeed(ctx, r)
	p.finish(r)
	return r.result, nil
}

// resolveAmount проверяет баланс и возвращает количество во входном токене
// и его точность.
func (p *Pipeline) resolveAmount(ctx context.Context, req Request) (float64, uint8, error) {
	if req.Direction == domain.DirectionBuy {
		bal, err := req.Signer.BalanceOf(ctx, domain.NativeMint)
		if err != nil {
			return 0, 0, err
		}
		if bal.Amount < req.Amount {
			return 0, 0, fmt.Errorf("%w: have %v SOL, need %v", domain.ErrInsufficientBalance, bal.Amount, req.Amount)
		}
		return req.Amount, domain.NativeDecimals, nil
	}

	bal, err := req.Signer.BalanceOf(ctx, req.Token.Address)
	if err != nil {
		return 0, 0, err
	}
	amount := req.Amount
	if req.Fraction > 0 {
		amount = SellAmount(req.Fraction, bal.Amount)
	}
	if amount <= 0 || amount > bal.Amount {
		return 0, 0, fmt.Errorf("%w: have %v %s, need %v",
			domain.ErrInsufficientBalance, bal.Amount, req.Token.Symbol, amount)
	}
	return amount, bal.Decimals, nil
}

// SellAmount returns floor(fraction*held*100)/100.
func SellAmount(fraction, held float64) float64 {
	return decimal.NewFromFloat(fraction).
		Mul(decimal.NewFromFloat(held)).
		Truncate(2).
		InexactFloat64()
}

func (p *Pipeline) swapRequest(req Request, amount float64, decimals uint8) dex.SwapRequest {
	sr := dex.SwapRequest{
		Owner:               req.Signer.PublicKey(),
		Amount:              amount,
		InputDecimals:       decimals,
		SlippageBps:         req.SlippageBps,
		PriorityFeeLamports: req.PriorityFeeLamports,
	}
	if req.Direction == domain.DirectionBuy {
		sr.InputMint, sr.OutputMint = domain.NativeMint, req.Token.Address
	} else {
		sr.InputMint, sr.OutputMint = req.Token.Address, domain.NativeMint
	}
	return sr
}

// settleContext отвязывает запись итогов от отмены контекста вызова.
func settleContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
}

func (p *Pipeline) fail(ctx context.Context, r *run, stage string, cause error) {
	r.stage = stage
	r.result.Kind = domain.OutcomeFailed
	r.result.State = StateFailed
	r.result.Err = errors.Join(cause, r.result.Err)
	r.result.Detail = cause.Error()
	r.log.Warn("Swap failed", zap.String("stage", stage), zap.String("hash", r.result.Hash), zap.Error(cause))

	if r.rowHash == "" {
		return
	}
	sctx, cancel := settleContext(ctx)
	defer cancel()
	failed := domain.TxFailed
	detail := cause.Error()
	if err := p.store.UpdateTransaction(sctx, r.rowHash, domain.TransactionPatch{Status: &failed, Error: &detail}); err != nil {
		r.log.Error("Failed to mark transaction failed", zap.String("hash", r.rowHash), zap.Error(err))
		r.result.Err = errors.Join(r.result.Err, fmt.Errorf("%w: mark failed: %v", domain.ErrPersistence, err))
	}
}

func (p *Pipeline) succeed(ctx context.Context, r *run) {
	r.result.Kind = domain.OutcomeSuccess
	r.result.State = StateSuccess

	sctx, cancel := settleContext(ctx)
	defer cancel()
	success := domain.TxSuccess
	if err := p.store.UpdateTransaction(sctx, r.rowHash, domain.TransactionPatch{Status: &success}); err != nil {
		r.log.Error("Failed to mark transaction successful", zap.String("hash", r.rowHash), zap.Error(err))
		r.result.Err = errors.Join(r.result.Err, fmt.Errorf("%w: mark success: %v", domain.ErrPersistence, err))
	}
	r.log.Info("Swap confirmed", zap.String("signature", r.result.Hash), zap.Float64("amount", r.result.Amount))
}

// finish снимает баланс после терминального состояния, пишет метрики и
// публикует событие. Снимок делается только для записанных попыток.
func (p *Pipeline) finish(r *run) {
	if r.rowHash != "" && p.tracker != nil {
		sctx, cancel := context.WithTimeout(context.Background(), settleTimeout)
		change, err := p.tracker.Snapshot(sctx, r.req.Owner, r.req.Signer, receivedKey(r.req))
		cancel()
		if err != nil {
			r.log.Warn("Post-trade balance snapshot failed", zap.Error(err))
		} else {
			r.result.Balance = &change
			p.publish(events.BalanceChangedEvent{
				BaseEvent: events.NewBaseEvent(events.BalanceChanged),
				Owner:     change.Owner,
				Key:       change.Key,
				Previous:  change.Previous,
				Current:   change.Current,
				Percent:   change.Percent,
			})
		}
	}

	p.metrics.track(r.req.Direction, r.result.Kind, r.stage, r.start)
	p.publish(events.TradeSettledEvent{
		BaseEvent: events.NewBaseEvent(events.TradeSettled),
		Outcome:   r.result.Outcome,
	})
}

// publish не зависит от ctx запроса: TradeSettled доставляется и после
// отмены вызывающего.
func (p *Pipeline) publish(e events.Event) {
	if p.events == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), settleTimeout)
	defer cancel()
	if err := p.events.Publish(ctx, e); err != nil {
		p.logger.Debug("Event not published", zap.String("event_type", string(e.Type())), zap.Error(err))
	}
}
