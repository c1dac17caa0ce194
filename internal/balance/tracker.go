// internal/balance/tracker.go
package balance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-trader/internal/domain"
)

// DefaultHistorySize - сколько снимков хранится на один ключ.
const DefaultHistorySize = 20

// NativeKey - ключ истории для нативного баланса.
const NativeKey = "SOL"

// Source отдает текущий баланс кошелька. Реализуется wallet.Signer.
type Source interface {
	BalanceOf(ctx context.Context, mint string) (domain.Balance, error)
	IsNative(mint string) bool
}

// Snapshot - одна запись истории.
type Snapshot struct {
	Amount    float64   `json:"balance"`
	Timestamp time.Time `json:"timestamp"`
}

// Change - результат снимка относительно предыдущего.
type Change struct {
	Owner       string    `json:"owner"`
	Key         string    `json:"key"`
	Current     float64   `json:"current"`
	Previous    float64   `json:"previous"`
	Delta       float64   `json:"delta"`
	Percent     float64   `json:"percent"`
	HasPrevious bool      `json:"has_previous"`
	At          time.Time `json:"at"`
}

// Increased reports whether the balance grew since the previous snapshot.
func (c Change) Increased() bool {
	return c.HasPrevious && c.Current > c.Previous
}

type historyKey struct {
	owner string
	key   string
}

// Tracker хранит ограниченную историю балансов по владельцу и ключу
// (SOL или mint токена).
type Tracker struct {
	mu      sync.RWMutex
	history map[historyKey][]Snapshot
	max     int
	logger  *zap.Logger
	now     func() time.Time
}

// NewTracker создает трекер. size <= 0 означает DefaultHistorySize.
func NewTracker(size int, logger *zap.Logger) *Tracker {
	if size <= 0 {
		size = DefaultHistorySize
	}
	return &Tracker{
		history: make(map[historyKey][]Snapshot),
		max:     size,
		logger:  logger.Named("balance"),
		now:     time.Now,
	}
}

// Key нормализует mint в ключ истории.
func Key(src Source, mint string) string {
	if src.IsNative(mint) {
		return NativeKey
	}
	return mint
}

// Snapshot запрашивает баланс и записывает его в историю.
func (t *Tracker) Snapshot(ctx context.Context, owner string, src Source, mint string) (Change, error) {
	bal, err := src.BalanceOf(ctx, mint)
	if err != nil {
		return Change{}, fmt.Errorf("balance snapshot %s: %w", mint, err)
	}
	change := t.Record(owner, Key(src, mint), bal.Amount)

	t.logger.Debug("Balance snapshot",
		zap.String("owner", owner),
		zap.String("key", change.Key),
		zap.Float64("current", change.Current),
		zap.Float64("delta", change.Delta),
		zap.Float64("percent", change.Percent))
	return change, nil
}

// Record добавляет снимок и вычисляет изменение к предыдущему. Процент
// считается только при положительном предыдущем балансе.
func (t *Tracker) Record(owner, key string, amount float64) Change {
	t.mu.Lock()
	defer t.mu.Unlock()

	hk := historyKey{owner: owner, key: key}
	entries := append(t.history[hk], Snapshot{Amount: amount, Timestamp: t.now()})
	if len(entries) > t.max {
		entries = append([]Snapshot(nil), entries[len(entries)-t.max:]...)
	}
	t.history[hk] = entries

	change := Change{Owner: owner, Key: key, Current: amount, At: entries[len(entries)-1].Timestamp}
	if len(entries) > 1 {
		prev := entries[len(entries)-2].Amount
		change.HasPrevious = true
		change.Previous = prev
		change.Delta = amount - prev
		if prev > 0 {
			change.Percent = change.Delta / prev * 100
		}
	}
	return change
}

// History возвращает копию истории, от старых к новым.
func (t *Tracker) History(owner, key string) []Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	entries := t.history[historyKey{owner: owner, key: key}]
	out := make([]Snapshot, len(entries))
	copy(out, entries)
	return out
}
