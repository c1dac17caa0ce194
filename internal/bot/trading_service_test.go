package bot

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rovshanmuradov/solana-trader/internal/balance"
	"github.com/rovshanmuradov/solana-trader/internal/dex"
	"github.com/rovshanmuradov/solana-trader/internal/domain"
	"github.com/rovshanmuradov/solana-trader/internal/events"
	"github.com/rovshanmuradov/solana-trader/internal/ledger"
	"github.com/rovshanmuradov/solana-trader/internal/pipeline"
	"github.com/rovshanmuradov/solana-trader/internal/storage/memory"
)

const (
	tokenA = "DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263"
	tokenB = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
)

type fakeSigner struct {
	mu          sync.Mutex
	pub         solana.PublicKey
	balances    map[string]float64
	sent        byte
	onBroadcast func(f *fakeSigner)
	confirmErr  error
}

func newFakeSigner() *fakeSigner {
	return &fakeSigner{
		pub:      solana.NewWallet().PublicKey(),
		balances: map[string]float64{domain.NativeMint: 10, tokenA: 100},
	}
}

func (f *fakeSigner) PublicKey() solana.PublicKey { return f.pub }

func (f *fakeSigner) IsNative(mint string) bool { return mint == "" || mint == domain.NativeMint }

func (f *fakeSigner) BalanceOf(_ context.Context, mint string) (domain.Balance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.IsNative(mint) {
		return domain.Balance{Decimals: 9, Amount: f.balances[domain.NativeMint]}, nil
	}
	return domain.Balance{Decimals: 6, Amount: f.balances[mint]}, nil
}

func (f *fakeSigner) add(mint string, delta float64) {
	f.balances[mint] += delta
}

func (f *fakeSigner) SignAndBroadcast(context.Context, []byte, ...solana.Signature) (solana.Signature, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent++
	if f.onBroadcast != nil {
		f.onBroadcast(f)
	}
	return solana.Signature{f.sent}, nil
}

func (f *fakeSigner) Confirm(context.Context, solana.Signature) error { return f.confirmErr }

type fakeSwaps struct{}

func (fakeSwaps) BuildSwap(context.Context, dex.SwapRequest) ([]byte, error) { return []byte("tx"), nil }

type fakeQuoter struct {
	mu        sync.Mutex
	infos     map[string]domain.TokenInfo
	prices    map[string]float64
	pricesErr error
}

func (q *fakeQuoter) TokenInfo(_ context.Context, address string) (*domain.TokenInfo, error) {
	info, ok := q.infos[address]
	if !ok {
		return nil, domain.ErrUnknownToken
	}
	return &info, nil
}

func (q *fakeQuoter) Prices(_ context.Context, mints ...string) (map[string]float64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.pricesErr != nil {
		return nil, q.pricesErr
	}
	out := make(map[string]float64)
	for _, m := range mints {
		if p, ok := q.prices[m]; ok {
			out[m] = p
		}
	}
	return out, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordingPublisher) Publish(_ context.Context, e events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recordingPublisher) positionActions() []events.PositionAction {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.PositionAction
	for _, e := range r.events {
		if pc, ok := e.(events.PositionChangedEvent); ok {
			out = append(out, pc.Action)
		}
	}
	return out
}

type serviceFixture struct {
	store     *memory.Store
	ledger    *ledger.Ledger
	signer    *fakeSigner
	quotes    *fakeQuoter
	publisher *recordingPublisher
	tracker   *balance.Tracker
	service   *TradingService
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	log := zaptest.NewLogger(t)
	f := &serviceFixture{
		store:  memory.New(),
		signer: newFakeSigner(),
		quotes: &fakeQuoter{
			infos: map[string]domain.TokenInfo{
				tokenA: {Address: tokenA, Symbol: "BONK", Name: "Bonk", Decimals: 6, PriceUSD: 0.5},
				tokenB: {Address: tokenB, Symbol: "USDC", Name: "USD Coin", Decimals: 6, PriceUSD: 1},
			},
			prices: map[string]float64{domain.NativeMint: 150, tokenA: 0.6, tokenB: 1},
		},
		publisher: &recordingPublisher{},
	}
	f.ledger = ledger.New(f.store, log)
	tracker := balance.NewTracker(0, log)
	f.tracker = tracker
	f.service = NewTradingService(&TradingServiceConfig{
		Pipeline:     pipeline.New(f.store, fakeSwaps{}, tracker, log),
		Ledger:       f.ledger,
		Transactions: f.store,
		Quotes:       f.quotes,
		Signers: func(owner string) (pipeline.Signer, error) {
			if owner != "alice" {
				return nil, errors.New("unknown owner")
			}
			return f.signer, nil
		},
		Tracker:     tracker,
		Publisher:   f.publisher,
		Logger:      log,
		SlippageBps: 100,
	})
	return f
}

func TestInvestOpensPositionFromBalanceDelta(t *testing.T) {
	f := newServiceFixture(t)
	f.signer.onBroadcast = func(s *fakeSigner) {
		s.add(domain.NativeMint, -1)
		s.add(tokenA, 250)
	}

	res, err := f.service.Invest(t.Context(), InvestRequest{Owner: "alice", Token: tokenA, AmountSOL: 1})
	require.NoError(t, err)
	require.True(t, res.Trade.Succeeded())
	assert.Equal(t, events.PositionOpened, res.Action)
	assert.Equal(t, 250.0, res.TokensReceived)

	pos, err := f.ledger.Get(t.Context(), res.PositionID)
	require.NoError(t, err)
	assert.Equal(t, 1.0, pos.AmountSOL)
	assert.Equal(t, 250.0, pos.AmountToken)
	assert.Equal(t, 0.5, pos.EntryPrice)
	assert.Equal(t, "BONK", pos.TokenSymbol)
	assert.Equal(t, []events.PositionAction{events.PositionOpened}, f.publisher.positionActions())
}

func TestInvestDeltaIgnoresSnapshotsTakenMidTrade(t *testing.T) {
	f := newServiceFixture(t)
	f.signer.onBroadcast = func(s *fakeSigner) {
		s.add(domain.NativeMint, -1)
		s.add(tokenA, 250)
		// параллельный запрос баланса того же владельца во время свапа
		f.tracker.Record("alice", tokenA, s.balances[tokenA])
	}

	res, err := f.service.Invest(t.Context(), InvestRequest{Owner: "alice", Token: tokenA, AmountSOL: 1})
	require.NoError(t, err)
	require.NotNil(t, res.Trade.BalanceBefore)
	assert.Equal(t, 100.0, res.Trade.BalanceBefore.Current)
	assert.Equal(t, 250.0, res.TokensReceived)

	received, ok := res.Trade.Received()
	assert.True(t, ok)
	assert.Equal(t, 250.0, received)
}

func TestInvestFallsBackToPriceEstimate(t *testing.T) {
	f := newServiceFixture(t)

	res, err := f.service.Invest(t.Context(), InvestRequest{Owner: "alice", Token: tokenA, AmountSOL: 2})
	require.NoError(t, err)
	// 2 SOL * 150 / 0.5
	assert.InDelta(t, 600.0, res.TokensReceived, 1e-9)
}

func TestInvestAddsToMostRecentActivePosition(t *testing.T) {
	f := newServiceFixture(t)
	ctx := t.Context()

	older, err := f.ledger.Open(ctx, ledger.OpenRequest{OwnerID: "alice", TokenAddress: tokenA, AmountSOL: 1, AmountToken: 10})
	require.NoError(t, err)
	newer, err := f.ledger.Open(ctx, ledger.OpenRequest{OwnerID: "alice", TokenAddress: tokenA, AmountSOL: 1, AmountToken: 20})
	require.NoError(t, err)

	res, err := f.service.Invest(ctx, InvestRequest{Owner: "alice", Token: tokenA, AmountSOL: 1, AddToExisting: true})
	require.NoError(t, err)
	assert.Equal(t, events.PositionAdded, res.Action)
	assert.Equal(t, newer, res.PositionID)

	got, err := f.ledger.Get(ctx, newer)
	require.NoError(t, err)
	assert.Equal(t, 2.0, got.AmountSOL)
	assert.InDelta(t, 320.0, got.AmountToken, 1e-9)

	untouched, err := f.ledger.Get(ctx, older)
	require.NoError(t, err)
	assert.Equal(t, 10.0, untouched.AmountToken)
}

func TestInvestAddWithoutActivePositionOpens(t *testing.T) {
	f := newServiceFixture(t)

	res, err := f.service.Invest(t.Context(), InvestRequest{Owner: "alice", Token: tokenA, AmountSOL: 1, AddToExisting: true})
	require.NoError(t, err)
	assert.Equal(t, events.PositionOpened, res.Action)
}

func TestInvestFailedTradeLeavesLedgerAlone(t *testing.T) {
	f := newServiceFixture(t)
	f.signer.confirmErr = errors.Join(domain.ErrOnChain, errors.New("slippage"))

	res, err := f.service.Invest(t.Context(), InvestRequest{Owner: "alice", Token: tokenA, AmountSOL: 1})
	require.NoError(t, err)
	assert.False(t, res.Trade.Succeeded())
	assert.Zero(t, res.PositionID)

	positions, err := f.ledger.List(t.Context(), "alice", false, "")
	require.NoError(t, err)
	assert.Empty(t, positions)
}

func TestInvestValidation(t *testing.T) {
	f := newServiceFixture(t)
	ctx := t.Context()

	_, err := f.service.Invest(ctx, InvestRequest{Owner: "alice", Token: "unknown", AmountSOL: 1})
	assert.ErrorIs(t, err, domain.ErrUnknownToken)

	_, err = f.service.Invest(ctx, InvestRequest{Owner: "mallory", Token: tokenA, AmountSOL: 1})
	assert.Error(t, err)

	_, err = f.service.Invest(ctx, InvestRequest{Owner: "alice", Token: tokenA, AmountSOL: 0})
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	res, err := f.service.Invest(ctx, InvestRequest{Owner: "alice", Token: tokenA, AmountSOL: 50})
	require.NoError(t, err)
	assert.ErrorIs(t, res.Trade.Err, domain.ErrInsufficientBalance)
	assert.Zero(t, res.PositionID)
}

func TestInvestWithoutSolPriceReportsSettledTrade(t *testing.T) {
	f := newServiceFixture(t)
	delete(f.quotes.prices, domain.NativeMint)

	res, err := f.service.Invest(t.Context(), InvestRequest{Owner: "alice", Token: tokenA, AmountSOL: 1})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrPriceLookup)
	require.NotNil(t, res)
	assert.True(t, res.Trade.Succeeded())
}

func TestCloseTokenRealizesSummary(t *testing.T) {
	f := newServiceFixture(t)
	ctx := t.Context()

	for _, amt := range []float64{100, 300} {
		_, err := f.ledger.Open(ctx, ledger.OpenRequest{OwnerID: "alice", TokenAddress: tokenA, TokenSymbol: "BONK", AmountSOL: 1, AmountToken: amt})
		require.NoError(t, err)
	}
	other, err := f.ledger.Open(ctx, ledger.OpenRequest{OwnerID: "alice", TokenAddress: tokenB, AmountSOL: 1, AmountToken: 5})
	require.NoError(t, err)

	res, err := f.service.CloseToken(ctx, "alice", tokenA)
	require.NoError(t, err)
	assert.Len(t, res.Closed, 2)
	require.Len(t, res.Summary.Tokens, 1)
	// invested 2*150, current 400*0.6
	assert.InDelta(t, 300.0, res.Summary.Total.Invested, 1e-9)
	assert.InDelta(t, 240.0, res.Summary.Total.Current, 1e-9)
	assert.InDelta(t, -60.0, res.Summary.Total.PnL, 1e-9)
	assert.Equal(t, "BONK", res.Token.Symbol)

	active, err := f.ledger.List(ctx, "alice", true, "")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, other, active[0].ID)
	assert.Equal(t, []events.PositionAction{events.PositionClosed, events.PositionClosed}, f.publisher.positionActions())

	_, err = f.service.CloseToken(ctx, "alice", tokenA)
	assert.ErrorIs(t, err, domain.ErrLedgerNotFound)
}

func TestCloseTokenWithoutQuoteStillCloses(t *testing.T) {
	f := newServiceFixture(t)
	ctx := t.Context()
	_, err := f.ledger.Open(ctx, ledger.OpenRequest{OwnerID: "alice", TokenAddress: tokenA, AmountSOL: 1, AmountToken: 1})
	require.NoError(t, err)
	f.quotes.pricesErr = errors.New("price api down")

	res, err := f.service.CloseToken(ctx, "alice", tokenA)
	require.NoError(t, err)
	assert.Len(t, res.Closed, 1)
	assert.Empty(t, res.Summary.Tokens)
	require.Len(t, res.Summary.Unpriced, 1)
	assert.Equal(t, tokenA, res.Summary.Unpriced[0].Address)
}

func TestPortfolio(t *testing.T) {
	f := newServiceFixture(t)
	ctx := t.Context()

	view, err := f.service.Portfolio(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, view.Positions)

	_, err = f.ledger.Open(ctx, ledger.OpenRequest{OwnerID: "alice", TokenAddress: tokenA, AmountSOL: 1, AmountToken: 500})
	require.NoError(t, err)
	_, err = f.ledger.Open(ctx, ledger.OpenRequest{OwnerID: "alice", TokenAddress: tokenB, AmountSOL: 1, AmountToken: 100})
	require.NoError(t, err)
	delete(f.quotes.prices, tokenB)

	view, err = f.service.Portfolio(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 150.0, view.RefPrice)
	require.Len(t, view.Positions, 2)

	for _, pv := range view.Positions {
		if pv.TokenAddress == tokenA {
			require.NotNil(t, pv.Report)
			assert.InDelta(t, 150.0, pv.Report.PnL, 1e-9)
		} else {
			assert.Nil(t, pv.Report)
		}
	}
	assert.InDelta(t, 300.0, view.Summary.Total.Current, 1e-9)
	require.Len(t, view.Summary.Unpriced, 1)
}

func TestBuySellAndHistory(t *testing.T) {
	f := newServiceFixture(t)
	ctx := t.Context()

	res, err := f.service.Buy(ctx, "alice", tokenA, 1)
	require.NoError(t, err)
	assert.True(t, res.Succeeded())

	res, err = f.service.Sell(ctx, "alice", tokenA, 0.5)
	require.NoError(t, err)
	assert.True(t, res.Succeeded())
	assert.Equal(t, 50.0, res.Amount)

	_, err = f.service.Buy(ctx, "alice", "unknown", 1)
	assert.ErrorIs(t, err, domain.ErrUnknownToken)

	txs, err := f.service.History(ctx, "alice", 0)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, domain.DirectionSell, txs[0].Direction)

	tx, err := f.service.Transaction(ctx, txs[1].Hash)
	require.NoError(t, err)
	assert.Equal(t, domain.TxSuccess, tx.Status)
}

func TestBalanceSnapshots(t *testing.T) {
	f := newServiceFixture(t)
	ctx := t.Context()

	first, err := f.service.Balance(ctx, "alice", "")
	require.NoError(t, err)
	assert.False(t, first.HasPrevious)
	assert.Equal(t, balance.NativeKey, first.Key)

	f.signer.add(domain.NativeMint, 5)
	second, err := f.service.Balance(ctx, "alice", domain.NativeMint)
	require.NoError(t, err)
	assert.Equal(t, 5.0, second.Delta)
	assert.InDelta(t, 50.0, second.Percent, 1e-9)

	assert.Len(t, f.service.BalanceHistory("alice", balance.NativeKey), 2)
}
