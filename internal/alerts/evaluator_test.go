// internal/alerts/evaluator_test.go
package alerts

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rovshanmuradov/solana-trader/internal/domain"
)

// fakeProvider отдает цены по токену и считает обращения.
type fakeProvider struct {
	mu     sync.Mutex
	prices map[string]float64
	fail   map[string]error
	calls  map[string]int
}

func newFakeProvider(prices map[string]float64) *fakeProvider {
	return &fakeProvider{prices: prices, fail: map[string]error{}, calls: map[string]int{}}
}

func (p *fakeProvider) TokenInfo(_ context.Context, address string) (*domain.TokenInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls[address]++
	if err := p.fail[address]; err != nil {
		return nil, err
	}
	price, ok := p.prices[address]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownToken, address)
	}
	return &domain.TokenInfo{Address: address, Symbol: "T" + address, PriceUSD: price}, nil
}

func (p *fakeProvider) set(address string, price float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prices[address] = price
}

func (p *fakeProvider) callsFor(address string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[address]
}

func (p *fakeProvider) resetCalls() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = map[string]int{}
}

type failingBackend struct{}

func (failingBackend) Load(context.Context) (Snapshot, error) { return nil, errors.New("corrupt") }
func (failingBackend) Save(context.Context, Snapshot) error { return errors.New("read-only") }

func newTestEvaluator(t *testing.T, provider *fakeProvider) *Evaluator {
	t.Helper()
	backend := NewFileSnapshot(filepath.Join(t.TempDir(), "alerts.json"))
	return NewEvaluator(provider, backend, zaptest.NewLogger(t), WithConcurrency(2))
}

func TestFiresOnlyWhenCrossed(t *testing.T) {
	ctx := context.Background()
	provider := newFakeProvider(map[string]float64{"A": 4.0})
	e := newTestEvaluator(t, provider)

	_, err := e.Add(ctx, "alice", "A", 5.0, domain.AlertAbove, "")
	require.NoError(t, err)

	assert.Empty(t, e.Check(ctx))
	assert.Equal(t, 4.0, e.List("alice")[0].CurrentPrice)

	provider.set("A", 4.9)
	assert.Empty(t, e.Check(ctx))
	assert.Equal(t, 4.9, e.List("alice")[0].CurrentPrice)

	provider.set("A", 5.0)
	triggers := e.Check(ctx)
	require.Len(t, triggers, 1)
	assert.Equal(t, "alice", triggers[0].Owner)
	assert.Equal(t, 0, triggers[0].Index)
	assert.True(t, triggers[0].Alert.Triggered)
	assert.Equal(t, 5.0, triggers[0].Alert.CurrentPrice)
}

func TestNoDoubleEmitWithoutReset(t *testing.T) {
	ctx := context.Background()
	provider := newFakeProvider(map[string]float64{"A": 1.0})
	e := newTestEvaluator(t, provider)

	_, err := e.Add(ctx, "alice", "A", 2.0, domain.AlertBelow, "dip")
	require.NoError(t, err)

	require.Len(t, e.Check(ctx), 1)
	assert.Empty(t, e.Check(ctx))
	assert.Empty(t, e.Check(ctx))

	require.NoError(t, e.Reset("alice", 0))
	assert.Len(t, e.Check(ctx), 1)
}

func TestTriggeredAlertsAreNotFetched(t *testing.T) {
	ctx := context.Background()
	provider := newFakeProvider(map[string]float64{"A": 10})
	e := newTestEvaluator(t, provider)

	_, err := e.Add(ctx, "alice", "A", 5, domain.AlertAbove, "")
	require.NoError(t, err)
	require.Len(t, e.Check(ctx), 1)

	provider.resetCalls()
	assert.Nil(t, e.Check(ctx))
	assert.Zero(t, provider.callsFor("A"))
}

func TestEachTokenFetchedOncePerPass(t *testing.T) {
	ctx := context.Background()
	provider := newFakeProvider(map[string]float64{"A": 1, "B": 1})
	e := newTestEvaluator(t, provider)

	for _, owner := range []string{"alice", "bob", "carol"} {
		_, err := e.Add(ctx, owner, "A", 100, domain.AlertAbove, "")
		require.NoError(t, err)
		_, err = e.Add(ctx, owner, "B", 100, domain.AlertAbove, "")
		require.NoError(t, err)
	}
	provider.resetCalls()

	e.Check(ctx)
	assert.Equal(t, 1, provider.callsFor("A"))
	assert.Equal(t, 1, provider.callsFor("B"))
}

func TestTokenFailureIsIsolated(t *testing.T) {
	ctx := context.Background()
	provider := newFakeProvider(map[string]float64{"A": 10, "B": 10})
	metrics := NewMetrics(prometheus.NewRegistry())
	e := NewEvaluator(provider, NewFileSnapshot(filepath.Join(t.TempDir(), "a.json")),
		zaptest.NewLogger(t), WithMetrics(metrics))

	_, err := e.Add(ctx, "alice", "A", 5, domain.AlertAbove, "")
	require.NoError(t, err)
	_, err = e.Add(ctx, "alice", "B", 5, domain.AlertAbove, "")
	require.NoError(t, err)

	provider.mu.Lock()
	provider.fail["A"] = errors.New("rate limited")
	provider.mu.Unlock()

	triggers := e.Check(ctx)
	require.Len(t, triggers, 1)
	assert.Equal(t, "B", triggers[0].Alert.TokenAddress)
	assert.False(t, e.List("alice")[0].Triggered)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.lookups.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.triggers))
}

func TestAddValidatesToken(t *testing.T) {
	ctx := context.Background()
	e := newTestEvaluator(t, newFakeProvider(map[string]float64{"A": 3}))

	_, err := e.Add(ctx, "alice", "missing", 1, domain.AlertAbove, "")
	assert.ErrorIs(t, err, domain.ErrPriceLookup)
	assert.Empty(t, e.List("alice"))

	_, err = e.Add(ctx, "alice", "A", 0, domain.AlertAbove, "")
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = e.Add(ctx, "alice", "A", 1, "sideways", "")
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	a, err := e.Add(ctx, "alice", "A", 1, domain.AlertBelow, "")
	require.NoError(t, err)
	assert.Equal(t, "TA", a.Name)
	assert.Equal(t, "TA", a.TokenSymbol)
	assert.Equal(t, 3.0, a.CurrentPrice)
	assert.Len(t, a.ID, 26)
}

func TestRemoveAndResetIndexes(t *testing.T) {
	ctx := context.Background()
	e := newTestEvaluator(t, newFakeProvider(map[string]float64{"A": 3}))

	for _, name := range []string{"one", "two", "three"} {
		_, err := e.Add(ctx, "alice", "A", 1, domain.AlertAbove, name)
		require.NoError(t, err)
	}

	removed, err := e.Remove("alice", 1)
	require.NoError(t, err)
	assert.Equal(t, "two", removed.Name)

	list := e.List("alice")
	require.Len(t, list, 2)
	assert.Equal(t, "one", list[0].Name)
	assert.Equal(t, "three", list[1].Name)

	_, err = e.Remove("alice", 2)
	assert.ErrorIs(t, err, domain.ErrAlertNotFound)
	_, err = e.Remove("bob", 0)
	assert.ErrorIs(t, err, domain.ErrAlertNotFound)
	assert.ErrorIs(t, e.Reset("alice", -1), domain.ErrAlertNotFound)
}

func TestListReturnsCopy(t *testing.T) {
	ctx := context.Background()
	e := newTestEvaluator(t, newFakeProvider(map[string]float64{"A": 3}))
	_, err := e.Add(ctx, "alice", "A", 1, domain.AlertAbove, "")
	require.NoError(t, err)

	list := e.List("alice")
	list[0].Triggered = true
	assert.False(t, e.List("alice")[0].Triggered)
}

func TestFlushAndLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	provider := newFakeProvider(map[string]float64{"A": 10})
	path := filepath.Join(t.TempDir(), "alerts.json")

	e := NewEvaluator(provider, NewFileSnapshot(path), zaptest.NewLogger(t))
	_, err := e.Add(ctx, "alice", "A", 5, domain.AlertAbove, "first")
	require.NoError(t, err)
	_, err = e.Add(ctx, "alice", "A", 50, domain.AlertAbove, "second")
	require.NoError(t, err)
	require.Len(t, e.Check(ctx), 1)
	require.NoError(t, e.Flush(ctx))

	restored := NewEvaluator(provider, NewFileSnapshot(path), zaptest.NewLogger(t))
	assert.Equal(t, 2, restored.Load(ctx))

	list := restored.List("alice")
	require.Len(t, list, 2)
	assert.Equal(t, "first", list[0].Name)
	assert.True(t, list[0].Triggered)
	assert.False(t, list[1].Triggered)
	assert.Empty(t, restored.Check(ctx), "triggered alert must stay quiet after restart")
}

func TestLoadFailureStartsEmpty(t *testing.T) {
	e := NewEvaluator(newFakeProvider(nil), failingBackend{}, zaptest.NewLogger(t))
	assert.Zero(t, e.Load(context.Background()))
	assert.Empty(t, e.List("alice"))
	assert.ErrorIs(t, e.Flush(context.Background()), domain.ErrPersistence)
}

// twoProcesses - демон и CLI над одним файлом снимка.
func twoProcesses(t *testing.T, provider *fakeProvider) (daemon, cli *Evaluator, path string) {
	t.Helper()
	path = filepath.Join(t.TempDir(), "alerts.json")
	daemon = NewEvaluator(provider, NewFileSnapshot(path), zaptest.NewLogger(t))
	cli = NewEvaluator(provider, NewFileSnapshot(path), zaptest.NewLogger(t))
	return daemon, cli, path
}

func TestFlushKeepsAlertsAddedElsewhere(t *testing.T) {
	ctx := context.Background()
	provider := newFakeProvider(map[string]float64{"A": 4, "B": 1})
	daemon, cli, path := twoProcesses(t, provider)

	_, err := daemon.Add(ctx, "alice", "A", 5, domain.AlertAbove, "")
	require.NoError(t, err)
	require.NoError(t, daemon.Flush(ctx))

	cli.Load(ctx)
	bob, err := cli.Add(ctx, "bob", "B", 2, domain.AlertAbove, "")
	require.NoError(t, err)
	require.NoError(t, cli.Flush(ctx))

	// демон не перечитывал файл, но его Flush не должен терять bob
	provider.set("A", 6)
	require.Len(t, daemon.Check(ctx), 1)
	require.NoError(t, daemon.Flush(ctx))

	fresh := NewEvaluator(provider, NewFileSnapshot(path), zaptest.NewLogger(t))
	require.Equal(t, 2, fresh.Load(ctx))
	assert.True(t, fresh.List("alice")[0].Triggered)
	assert.Equal(t, 6.0, fresh.List("alice")[0].CurrentPrice)
	require.Len(t, fresh.List("bob"), 1)
	assert.Equal(t, bob.ID, fresh.List("bob")[0].ID)

	// после Flush демон видит bob и без Sync
	assert.Len(t, daemon.List("bob"), 1)
}

func TestRemovedElsewhereIsNotResurrected(t *testing.T) {
	ctx := context.Background()
	provider := newFakeProvider(map[string]float64{"A": 4})
	daemon, cli, path := twoProcesses(t, provider)

	_, err := daemon.Add(ctx, "alice", "A", 5, domain.AlertAbove, "first")
	require.NoError(t, err)
	second, err := daemon.Add(ctx, "alice", "A", 3, domain.AlertBelow, "second")
	require.NoError(t, err)
	require.NoError(t, daemon.Flush(ctx))

	cli.Load(ctx)
	_, err = cli.Remove("alice", 0)
	require.NoError(t, err)
	require.NoError(t, cli.Flush(ctx))

	// у демона старый вид: оба оповещения, первое срабатывает
	provider.set("A", 6)
	triggers := daemon.Check(ctx)
	require.Len(t, triggers, 1)
	assert.Equal(t, "first", triggers[0].Alert.Name)
	require.NoError(t, daemon.Flush(ctx))

	snap, err := NewFileSnapshot(path).Load(ctx)
	require.NoError(t, err)
	require.Len(t, snap["alice"], 1)
	assert.Equal(t, second.ID, snap["alice"][0].ID)
	assert.False(t, snap["alice"][0].Triggered)
	assert.Len(t, daemon.List("alice"), 1)
}

func TestSyncPicksUpResetFromAnotherProcess(t *testing.T) {
	ctx := context.Background()
	provider := newFakeProvider(map[string]float64{"A": 6})
	daemon, cli, _ := twoProcesses(t, provider)

	_, err := daemon.Add(ctx, "alice", "A", 5, domain.AlertAbove, "")
	require.NoError(t, err)
	require.Len(t, daemon.Check(ctx), 1)
	require.NoError(t, daemon.Flush(ctx))
	assert.Empty(t, daemon.Check(ctx))

	cli.Load(ctx)
	require.True(t, cli.List("alice")[0].Triggered)
	require.NoError(t, cli.Reset("alice", 0))
	require.NoError(t, cli.Flush(ctx))

	daemon.Sync(ctx)
	assert.False(t, daemon.List("alice")[0].Triggered)
	assert.Len(t, daemon.Check(ctx), 1)
}

func TestSyncKeepsUnflushedChanges(t *testing.T) {
	ctx := context.Background()
	provider := newFakeProvider(map[string]float64{"A": 4, "B": 1})
	daemon, cli, _ := twoProcesses(t, provider)

	_, err := daemon.Add(ctx, "alice", "A", 5, domain.AlertAbove, "")
	require.NoError(t, err)

	cli.Load(ctx)
	_, err = cli.Add(ctx, "bob", "B", 2, domain.AlertAbove, "")
	require.NoError(t, err)
	require.NoError(t, cli.Flush(ctx))

	daemon.Sync(ctx)
	assert.Len(t, daemon.List("alice"), 1, "local add survives reload")
	assert.Len(t, daemon.List("bob"), 1)
}

func TestSyncFailureKeepsLocalState(t *testing.T) {
	ctx := context.Background()
	e := NewEvaluator(newFakeProvider(map[string]float64{"A": 4}), failingBackend{}, zaptest.NewLogger(t))
	_, err := e.Add(ctx, "alice", "A", 5, domain.AlertAbove, "")
	require.NoError(t, err)

	e.Sync(ctx)
	assert.Len(t, e.List("alice"), 1)
}
