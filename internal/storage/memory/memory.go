// internal/storage/memory/memory.go
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rovshanmuradov/solana-trader/internal/domain"
	"github.com/rovshanmuradov/solana-trader/internal/storage"
)

// Store is an in-process storage.Storage. All mutations happen under one
// mutex, which linearizes patches per position.
type Store struct {
	mu sync.RWMutex

	positions map[int64]*domain.Position
	nextPosID int64
	txs       map[int64]*domain.Transaction
	txByHash  map[string]int64
	nextTxID  int64
}

var _ storage.Storage = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		positions: make(map[int64]*domain.Position),
		txs:       make(map[int64]*domain.Transaction),
		txByHash:  make(map[string]int64),
	}
}

func (s *Store) RunMigrations(context.Context) error { return nil }
func (s *Store) Close() error { return nil }

func (s *Store) CreatePosition(_ context.Context, p *domain.Position) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextPosID++
	cp := *p
	cp.ID = s.nextPosID
	s.positions[cp.ID] = &cp
	p.ID = cp.ID
	return cp.ID, nil
}

func (s *Store) ApplyPositionPatch(_ context.Context, id int64, patch domain.PositionPatch, at time.Time) error {
	if err := storage.ValidatePatch(patch); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.positions[id]
	if !ok {
		return storage.ErrNotFound
	}
	if !p.Active {
		return storage.ErrPositionClosed
	}

	if patch.DeltaSOL != nil {
		p.AmountSOL += *patch.DeltaSOL
	}
	if patch.DeltaToken != nil {
		p.AmountToken += *patch.DeltaToken
	}
	if patch.Active != nil {
		p.Active = *patch.Active
	}
	p.LastUpdated = at
	return nil
}

func (s *Store) GetPosition(_ context.Context, id int64) (*domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.positions[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *Store) ListPositions(_ context.Context, filter domain.PositionFilter) ([]domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Position, 0)
	for _, p := range s.positions {
		if filter.OwnerID != "" && p.OwnerID != filter.OwnerID {
			continue
		}
		if filter.TokenAddress != "" && p.TokenAddress != filter.TokenAddress {
			continue
		}
		if filter.ActiveOnly && !p.Active {
			continue
		}
		out = append(out, *p)
	}
	sortNewestFirst(out)
	return out, nil
}

func (s *Store) DistinctTokens(ctx context.Context, ownerID string, activeOnly bool) ([]domain.TokenRef, error) {
	positions, err := s.ListPositions(ctx, domain.PositionFilter{OwnerID: ownerID, ActiveOnly: activeOnly})
	if err != nil {
		return nil, err
	}

	seen := make(map[domain.TokenRef]struct{})
	out := make([]domain.TokenRef, 0)
	for _, p := range positions {
		ref := domain.TokenRef{Address: p.TokenAddress, Symbol: p.TokenSymbol, Name: p.TokenName}
		if _, ok := seen[ref]; ok {
			continue
		}
		seen[ref] = struct{}{}
		out = append(out, ref)
	}
	return out, nil
}

func (s *Store) InsertTransaction(_ context.Context, tx *domain.Transaction) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.txByHash[tx.Hash]; exists {
		return 0, storage.ErrDuplicateKey
	}
	s.nextTxID++
	cp := *tx
	cp.ID = s.nextTxID
	s.txs[cp.ID] = &cp
	s.txByHash[cp.Hash] = cp.ID
	tx.ID = cp.ID
	return cp.ID, nil
}

func (s *Store) UpdateTransaction(_ context.Context, hash string, patch domain.TransactionPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.txByHash[hash]
	if !ok {
		return domain.ErrTxNotFound
	}
	tx := s.txs[id]

	if patch.Status != nil && !tx.Status.CanAdvanceTo(*patch.Status) {
		return domain.ErrInvalidTransition
	}
	if patch.Hash != nil && *patch.Hash != hash {
		if _, taken := s.txByHash[*patch.Hash]; taken {
			return storage.ErrDuplicateKey
		}
		delete(s.txByHash, hash)
		tx.Hash = *patch.Hash
		s.txByHash[tx.Hash] = id
	}
	if patch.Status != nil {
		tx.Status = *patch.Status
	}
	if patch.Error != nil {
		tx.Error = *patch.Error
	}
	return nil
}

func (s *Store) GetTransaction(_ context.Context, hash string) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.txByHash[hash]
	if !ok {
		return nil, domain.ErrTxNotFound
	}
	cp := *s.txs[id]
	return &cp, nil
}

func (s *Store) ListTransactions(_ context.Context, ownerID string, limit int) ([]domain.Transaction, error) {
	if limit <= 0 {
		limit = storage.DefaultTransactionLimit
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Transaction, 0)
	for _, tx := range s.txs {
		if tx.OwnerID == ownerID {
			out = append(out, *tx)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func sortNewestFirst(positions []domain.Position) {
	sort.Slice(positions, func(i, j int) bool {
		if positions[i].OpenedAt.Equal(positions[j].OpenedAt) {
			return positions[i].ID > positions[j].ID
		}
		return positions[i].OpenedAt.After(positions[j].OpenedAt)
	})
}
