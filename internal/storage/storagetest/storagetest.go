// Package storagetest holds behaviour checks shared by every storage.Storage
// implementation.
package storagetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rovshanmuradov/solana-trader/internal/domain"
	"github.com/rovshanmuradov/solana-trader/internal/storage"
)

// Factory returns a fresh, migrated store for a single subtest.
type Factory func(t *testing.T) storage.Storage

// Run executes the shared suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("AddsAccumulate", func(t *testing.T) { testAddsAccumulate(t, newStore(t)) })
	t.Run("ConcurrentAddsDoNotLoseUpdates", func(t *testing.T) { testConcurrentAdds(t, newStore(t)) })
	t.Run("PatchMissingPosition", func(t *testing.T) { testPatchMissing(t, newStore(t)) })
	t.Run("ClosedPositionIsFrozen", func(t *testing.T) { testClosedFrozen(t, newStore(t)) })
	t.Run("ListNewestFirst", func(t *testing.T) { testListOrder(t, newStore(t)) })
	t.Run("DistinctTokens", func(t *testing.T) { testDistinctTokens(t, newStore(t)) })
	t.Run("PlaceholderReplacedAtomically", func(t *testing.T) { testPlaceholderReplace(t, newStore(t)) })
	t.Run("StatusOnlyMovesForward", func(t *testing.T) { testStatusForward(t, newStore(t)) })
	t.Run("DuplicateHashRejected", func(t *testing.T) { testDuplicateHash(t, newStore(t)) })
	t.Run("ListTransactionsNewestFirst", func(t *testing.T) { testListTransactions(t, newStore(t)) })
}

func newPosition(owner, token string, openedAt time.Time) *domain.Position {
	return &domain.Position{
		OwnerID:      owner,
		TokenAddress: token,
		TokenSymbol:  "SYM" + token[len(token)-3:],
		TokenName:    "Token " + token[len(token)-3:],
		EntryPrice:   0.001,
		AmountSOL:    1.0,
		AmountToken:  1000,
		OpenedAt:     openedAt,
		LastUpdated:  openedAt,
		Active:       true,
	}
}

func ptr[T any](v T) *T { return &v }

func testAddsAccumulate(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	id, err := s.CreatePosition(ctx, newPosition("42", "mintAAA", now))
	require.NoError(t, err)

	deltas := [][2]float64{{0.5, 250}, {0.25, 125}, {1.25, 625}}
	for _, d := range deltas {
		err := s.ApplyPositionPatch(ctx, id, domain.PositionPatch{DeltaSOL: ptr(d[0]), DeltaToken: ptr(d[1])}, now.Add(time.Minute))
		require.NoError(t, err)
	}

	got, err := s.GetPosition(ctx, id)
	require.NoError(t, err)
	assert.InDelta(t, 3.0, got.AmountSOL, 1e-9)
	assert.InDelta(t, 2000.0, got.AmountToken, 1e-9)
	assert.True(t, got.Active)
	assert.WithinDuration(t, now.Add(time.Minute), got.LastUpdated, time.Second)
}

func testConcurrentAdds(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	now := time.Now().UTC()

	id, err := s.CreatePosition(ctx, newPosition("42", "mintAAA", now))
	require.NoError(t, err)

	const workers = 20
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.ApplyPositionPatch(ctx, id, domain.PositionPatch{DeltaSOL: ptr(0.5), DeltaToken: ptr(10.0)}, time.Now().UTC())
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	got, err := s.GetPosition(ctx, id)
	require.NoError(t, err)
	assert.InDelta(t, 1.0+workers*0.5, got.AmountSOL, 1e-9)
	assert.InDelta(t, 1000.0+workers*10, got.AmountToken, 1e-9)
}

func testPatchMissing(t *testing.T, s storage.Storage) {
	err := s.ApplyPositionPatch(context.Background(), 9999, domain.PositionPatch{DeltaSOL: ptr(1.0)}, time.Now())
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = s.GetPosition(context.Background(), 9999)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testClosedFrozen(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	opened := time.Now().UTC().Add(-time.Hour).Truncate(time.Second)

	id, err := s.CreatePosition(ctx, newPosition("42", "mintAAA", opened))
	require.NoError(t, err)

	closedAt := opened.Add(30 * time.Minute)
	require.NoError(t, s.ApplyPositionPatch(ctx, id, domain.PositionPatch{Active: ptr(false)}, closedAt))

	err = s.ApplyPositionPatch(ctx, id, domain.PositionPatch{Active: ptr(false)}, closedAt.Add(time.Minute))
	assert.ErrorIs(t, err, storage.ErrPositionClosed)

	err = s.ApplyPositionPatch(ctx, id, domain.PositionPatch{DeltaSOL: ptr(1.0), DeltaToken: ptr(1.0)}, closedAt.Add(time.Minute))
	assert.ErrorIs(t, err, storage.ErrPositionClosed)

	got, err := s.GetPosition(ctx, id)
	require.NoError(t, err)
	assert.False(t, got.Active)
	assert.InDelta(t, 1.0, got.AmountSOL, 1e-9)
	assert.InDelta(t, 1000.0, got.AmountToken, 1e-9)
	assert.WithinDuration(t, closedAt, got.LastUpdated, time.Second)
}

func testListOrder(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour).Truncate(time.Second)

	var ids []int64
	for i, token := range []string{"mintAAA", "mintBBB", "mintAAA"} {
		id, err := s.CreatePosition(ctx, newPosition("42", token, base.Add(time.Duration(i)*time.Minute)))
		require.NoError(t, err)
		ids = append(ids, id)
	}
	_, err := s.CreatePosition(ctx, newPosition("7", "mintAAA", base))
	require.NoError(t, err)
	require.NoError(t, s.ApplyPositionPatch(ctx, ids[1], domain.PositionPatch{Active: ptr(false)}, base.Add(time.Hour)))

	all, err := s.ListPositions(ctx, domain.PositionFilter{OwnerID: "42"})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []int64{ids[2], ids[1], ids[0]}, []int64{all[0].ID, all[1].ID, all[2].ID})

	active, err := s.ListPositions(ctx, domain.PositionFilter{OwnerID: "42", ActiveOnly: true})
	require.NoError(t, err)
	assert.Len(t, active, 2)

	byToken, err := s.ListPositions(ctx, domain.PositionFilter{OwnerID: "42", TokenAddress: "mintAAA", ActiveOnly: true})
	require.NoError(t, err)
	require.Len(t, byToken, 2)
	assert.Equal(t, ids[2], byToken[0].ID)
}

func testDistinctTokens(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	now := time.Now().UTC()

	for _, token := range []string{"mintAAA", "mintAAA", "mintBBB"} {
		_, err := s.CreatePosition(ctx, newPosition("42", token, now))
		require.NoError(t, err)
	}
	closedID, err := s.CreatePosition(ctx, newPosition("42", "mintCCC", now))
	require.NoError(t, err)
	require.NoError(t, s.ApplyPositionPatch(ctx, closedID, domain.PositionPatch{Active: ptr(false)}, now))

	active, err := s.DistinctTokens(ctx, "42", true)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"mintAAA", "mintBBB"}, addresses(active))

	all, err := s.DistinctTokens(ctx, "42", false)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"mintAAA", "mintBBB", "mintCCC"}, addresses(all))
}

func addresses(refs []domain.TokenRef) []string {
	out := make([]string, 0, len(refs))
	for _, r := range refs {
		out = append(out, r.Address)
	}
	return out
}

func newTx(owner, hash string) *domain.Transaction {
	return &domain.Transaction{
		OwnerID:      owner,
		Hash:         hash,
		TokenAddress: "mintAAA",
		TokenSymbol:  "AAA",
		Amount:       0.1,
		Direction:    domain.DirectionBuy,
		Status:       domain.TxPending,
		PriceUSD:     0.002,
		PriceSOL:     0.00001,
		Timestamp:    time.Now().UTC(),
	}
}

func testPlaceholderReplace(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	placeholder := domain.PlaceholderPrefix + "abc"
	_, err := s.InsertTransaction(ctx, newTx("42", placeholder))
	require.NoError(t, err)

	signature := "5VERYrealSignature"
	err = s.UpdateTransaction(ctx, placeholder, domain.TransactionPatch{Hash: ptr(signature), Status: ptr(domain.TxProcessing)})
	require.NoError(t, err)

	_, err = s.GetTransaction(ctx, placeholder)
	assert.ErrorIs(t, err, domain.ErrTxNotFound)

	got, err := s.GetTransaction(ctx, signature)
	require.NoError(t, err)
	assert.Equal(t, domain.TxProcessing, got.Status)
	assert.False(t, got.HasPlaceholderHash())

	require.NoError(t, s.UpdateTransaction(ctx, signature, domain.TransactionPatch{Status: ptr(domain.TxSuccess)}))
	got, err = s.GetTransaction(ctx, signature)
	require.NoError(t, err)
	assert.Equal(t, domain.TxSuccess, got.Status)
}

func testStatusForward(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	_, err := s.InsertTransaction(ctx, newTx("42", "sigForward"))
	require.NoError(t, err)

	err = s.UpdateTransaction(ctx, "sigForward", domain.TransactionPatch{Status: ptr(domain.TxSuccess)})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	require.NoError(t, s.UpdateTransaction(ctx, "sigForward", domain.TransactionPatch{Status: ptr(domain.TxFailed), Error: ptr("boom")}))

	err = s.UpdateTransaction(ctx, "sigForward", domain.TransactionPatch{Status: ptr(domain.TxProcessing)})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	got, err := s.GetTransaction(ctx, "sigForward")
	require.NoError(t, err)
	assert.Equal(t, domain.TxFailed, got.Status)
	assert.Equal(t, "boom", got.Error)

	err = s.UpdateTransaction(ctx, "missing", domain.TransactionPatch{Status: ptr(domain.TxFailed)})
	assert.ErrorIs(t, err, domain.ErrTxNotFound)
}

func testDuplicateHash(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	_, err := s.InsertTransaction(ctx, newTx("42", "sigDup"))
	require.NoError(t, err)
	_, err = s.InsertTransaction(ctx, newTx("42", "sigDup"))
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)
}

func testListTransactions(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	for i := 0; i < 12; i++ {
		_, err := s.InsertTransaction(ctx, newTx("42", fmt.Sprintf("sig%02d", i)))
		require.NoError(t, err)
	}
	_, err := s.InsertTransaction(ctx, newTx("7", "sigOther"))
	require.NoError(t, err)

	txs, err := s.ListTransactions(ctx, "42", 0)
	require.NoError(t, err)
	require.Len(t, txs, storage.DefaultTransactionLimit)
	assert.Equal(t, "sig11", txs[0].Hash)
	assert.Equal(t, "sig02", txs[len(txs)-1].Hash)

	txs, err = s.ListTransactions(ctx, "42", 3)
	require.NoError(t, err)
	assert.Len(t, txs, 3)
}
