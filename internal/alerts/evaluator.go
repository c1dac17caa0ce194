// internal/alerts/evaluator.go
package alerts

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rovshanmuradov/solana-trader/internal/dex"
	"github.com/rovshanmuradov/solana-trader/internal/domain"
)

// DefaultFetchConcurrency ограничивает параллельные запросы цен за проход.
const DefaultFetchConcurrency = 8

// Trigger - сработавшее оповещение.
type Trigger struct {
	Owner string       `json:"owner"`
	Index int          `json:"index"`
	Alert domain.Alert `json:"alert"`
}

// Evaluator хранит ценовые оповещения и проверяет их по текущим ценам.
// Единственный писатель полей Triggered и CurrentPrice.
//
// Снимок в бэкенде могут менять другие процессы (CLI рядом с демоном),
// поэтому локальные изменения копятся в pending по ID оповещения и
// накладываются на свежий снимок в Sync и Flush.
type Evaluator struct {
	mu      sync.RWMutex
	alerts  map[string][]domain.Alert
	pending []change

	// flushMu упорядочивает Load, Sync и Flush: каждый читает бэкенд
	// и пересобирает коллекцию.
	flushMu sync.Mutex

	provider    dex.TokenInfoProvider
	backend     Snapshotter
	logger      *zap.Logger
	metrics     *Metrics
	concurrency int
	now         func() time.Time
}

// Option настраивает Evaluator.
type Option func(*Evaluator)

// WithConcurrency задает предел параллельных запросов цен.
func WithConcurrency(n int) Option {
	return func(e *Evaluator) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

// WithMetrics подключает метрики.
func WithMetrics(m *Metrics) Option {
	return func(e *Evaluator) { e.metrics = m }
}

// NewEvaluator создает пустой Evaluator. Вызовите Load, чтобы поднять снимок.
func NewEvaluator(provider dex.TokenInfoProvider, backend Snapshotter, logger *zap.Logger, opts ...Option) *Evaluator {
	e := &Evaluator{
		alerts:      make(map[string][]domain.Alert),
		provider:    provider,
		backend:     backend,
		logger:      logger.Named("alerts"),
		concurrency: DefaultFetchConcurrency,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Load заменяет коллекцию снимком из бэкенда и возвращает число оповещений.
// Ошибка чтения не фатальна: коллекция остается пустой.
func (e *Evaluator) Load(ctx context.Context) int {
	e.flushMu.Lock()
	defer e.flushMu.Unlock()

	snap, err := e.backend.Load(ctx)
	if err != nil {
		e.logger.Warn("Failed to load alerts, starting empty", zap.Error(err))
		snap = Snapshot{}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.pending = nil
	e.alerts = make(map[string][]domain.Alert, len(snap))
	total := 0
	for owner, list := range snap {
		if len(list) == 0 {
			continue
		}
		e.alerts[owner] = append([]domain.Alert(nil), list...)
		total += len(list)
	}
	e.logger.Info("Alerts loaded", zap.Int("owners", len(e.alerts)), zap.Int("alerts", total))
	return total
}

// Sync перечитывает бэкенд и накладывает на него еще не сохраненные
// локальные изменения. Так демон видит оповещения, добавленные, удаленные
// или сброшенные из CLI. При ошибке чтения остается локальное состояние.
func (e *Evaluator) Sync(ctx context.Context) {
	e.flushMu.Lock()
	defer e.flushMu.Unlock()

	snap, err := e.backend.Load(ctx)
	if err != nil {
		e.logger.Warn("Failed to reload alerts, keeping local state", zap.Error(err))
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.rebaseLocked(snap)
}

// Flush сохраняет локальные изменения поверх текущего снимка бэкенда,
// а не перезаписывает его своей копией. Если снимок не читается, пишется
// локальная коллекция целиком.
func (e *Evaluator) Flush(ctx context.Context) error {
	e.flushMu.Lock()
	defer e.flushMu.Unlock()

	e.mu.RLock()
	ops := append([]change(nil), e.pending...)
	local := e.snapshotLocked()
	e.mu.RUnlock()

	merged := local
	if base, err := e.backend.Load(ctx); err != nil {
		e.logger.Warn("Failed to read alerts before flush, writing local state", zap.Error(err))
	} else {
		merged = mergeSnapshot(base, ops, prices(local))
	}

	if err := e.backend.Save(ctx, merged); err != nil {
		return fmt.Errorf("%w: flush alerts: %v", domain.ErrPersistence, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if len(ops) <= len(e.pending) {
		e.pending = e.pending[len(ops):]
	} else {
		e.pending = nil
	}
	e.rebaseLocked(merged)
	return nil
}

// rebaseLocked делает base текущей коллекцией, сохраняя pending и
// последние известные цены. Вызывается под e.mu.
func (e *Evaluator) rebaseLocked(base Snapshot) {
	e.alerts = mergeSnapshot(base, e.pending, prices(e.alerts))
}

func (e *Evaluator) snapshotLocked() Snapshot {
	return cloneSnapshot(e.alerts)
}

// Add проверяет токен через провайдера и добавляет оповещение в конец
// списка владельца.
func (e *Evaluator) Add(ctx context.Context, owner, token string, target float64, direction domain.AlertDirection, name string) (domain.Alert, error) {
	if owner == "" || token == "" {
		return domain.Alert{}, fmt.Errorf("%w: owner and token are required", domain.ErrInvalidAddress)
	}
	if target <= 0 {
		return domain.Alert{}, fmt.Errorf("%w: target price %v", domain.ErrInvalidAmount, target)
	}
	if direction != domain.AlertAbove && direction != domain.AlertBelow {
		return domain.Alert{}, fmt.Errorf("%w: direction %q", domain.ErrInvalidAmount, direction)
	}

	info, err := e.provider.TokenInfo(ctx, token)
	if err != nil {
		return domain.Alert{}, fmt.Errorf("validate token %s: %w", token, err)
	}

	if name == "" {
		name = info.Symbol
	}
	alert := domain.Alert{
		ID:           ulid.Make().String(),
		TokenAddress: token,
		TokenSymbol:  info.Symbol,
		Name:         name,
		TargetPrice:  target,
		Direction:    direction,
		CreatedAt:    e.now().UTC(),
		CurrentPrice: info.PriceUSD,
	}

	e.mu.Lock()
	e.alerts[owner] = append(e.alerts[owner], alert)
	e.pending = append(e.pending, change{kind: opAdd, owner: owner, alert: alert})
	e.mu.Unlock()

	e.logger.Info("Price alert added",
		zap.String("owner", owner),
		zap.String("alert", alert.Name),
		zap.String("direction", string(direction)),
		zap.Float64("target", target))
	return alert, nil
}

// Remove удаляет оповещение по индексу. Индексы следующих сдвигаются.
func (e *Evaluator) Remove(owner string, idx int) (domain.Alert, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	list := e.alerts[owner]
	if idx < 0 || idx >= len(list) {
		return domain.Alert{}, fmt.Errorf("%w: owner %s index %d", domain.ErrAlertNotFound, owner, idx)
	}
	removed := list[idx]
	list = append(list[:idx:idx], list[idx+1:]...)
	if len(list) == 0 {
		delete(e.alerts, owner)
	} else {
		e.alerts[owner] = list
	}
	e.pending = append(e.pending, change{kind: opRemove, owner: owner, alert: removed})

	e.logger.Info("Price alert removed", zap.String("owner", owner), zap.String("alert", removed.Name))
	return removed, nil
}

// List returns a copy of the owner's alerts in index order.
func (e *Evaluator) List(owner string) []domain.Alert {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]domain.Alert(nil), e.alerts[owner]...)
}

// Reset снова взводит сработавшее оповещение.
func (e *Evaluator) Reset(owner string, idx int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	list := e.alerts[owner]
	if idx < 0 || idx >= len(list) {
		return fmt.Errorf("%w: owner %s index %d", domain.ErrAlertNotFound, owner, idx)
	}
	list[idx].Triggered = false
	e.pending = append(e.pending, change{kind: opReset, owner: owner, alert: list[idx]})
	return nil
}

// Rearm снова взводит оповещение по ID, например когда событие о
// срабатывании не удалось доставить. Неизвестный ID игнорируется.
func (e *Evaluator) Rearm(owner, id string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	list := e.alerts[owner]
	i := indexByID(list, id)
	if i < 0 {
		return
	}
	list[i].Triggered = false
	e.pending = append(e.pending, change{kind: opReset, owner: owner, alert: list[i]})
}

// Check выполняет один проход: цена каждого токена запрашивается один раз,
// параллельно и без удержания блокировки. Сбой по токену пропускает только
// его оповещения. Порядок срабатываний не гарантируется.
func (e *Evaluator) Check(ctx context.Context) []Trigger {
	tokens := e.pendingTokens()
	if len(tokens) == 0 {
		return nil
	}

	prices := e.fetchPrices(ctx, tokens)

	e.mu.Lock()
	defer e.mu.Unlock()

	var triggers []Trigger
	for owner, list := range e.alerts {
		for i := range list {
			a := &list[i]
			if a.Triggered {
				continue
			}
			price, ok := prices[a.TokenAddress]
			if !ok {
				continue
			}
			a.CurrentPrice = price
			if !a.Crossed(price) {
				continue
			}
			a.Triggered = true
			e.pending = append(e.pending, change{kind: opTrigger, owner: owner, alert: *a})
			triggers = append(triggers, Trigger{Owner: owner, Index: i, Alert: *a})
			e.logger.Info("Price alert triggered",
				zap.String("owner", owner),
				zap.String("alert", a.Name),
				zap.Float64("price", price),
				zap.Float64("target", a.TargetPrice))
		}
	}
	e.metrics.observePass(len(tokens), len(tokens)-len(prices), len(triggers))
	return triggers
}

func (e *Evaluator) pendingTokens() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	seen := make(map[string]struct{})
	var tokens []string
	for _, list := range e.alerts {
		for _, a := range list {
			if a.Triggered {
				continue
			}
			if _, ok := seen[a.TokenAddress]; ok {
				continue
			}
			seen[a.TokenAddress] = struct{}{}
			tokens = append(tokens, a.TokenAddress)
		}
	}
	return tokens
}

func (e *Evaluator) fetchPrices(ctx context.Context, tokens []string) map[string]float64 {
	var (
		mu     sync.Mutex
		prices = make(map[string]float64, len(tokens))
		g      errgroup.Group
	)
	g.SetLimit(e.concurrency)

	for _, token := range tokens {
		g.Go(func() error {
			info, err := e.provider.TokenInfo(ctx, token)
			if err != nil {
				e.logger.Warn("Price lookup failed, skipping token", zap.String("token", token), zap.Error(err))
				return nil
			}
			mu.Lock()
			prices[token] = info.PriceUSD
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return prices
}
