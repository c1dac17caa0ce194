// internal/storage/sqlite/sqlite.go
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-trader/internal/domain"
	"github.com/rovshanmuradov/solana-trader/internal/storage"
)

// Store is a storage.Storage backed by a single sqlite file.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

var _ storage.Storage = (*Store)(nil)

// Open opens (or creates) the database at path and applies Schema.
func Open(path string, logger *zap.Logger) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open sqlite: %v", domain.ErrPersistence, err)
	}
	// sqlite допускает одного писателя, остальные ждут на пуле.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, logger: logger.Named("sqlite")}
	if err := s.RunMigrations(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) RunMigrations(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("%w: apply schema: %v", domain.ErrPersistence, err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) CreatePosition(ctx context.Context, p *domain.Position) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO positions
		(owner_id, token_address, token_symbol, token_name, entry_price, amount_sol, amount_token, open_date, last_updated, is_active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.OwnerID, p.TokenAddress, p.TokenSymbol, p.TokenName, p.EntryPrice,
		p.AmountSOL, p.AmountToken, p.OpenedAt.UTC(), p.LastUpdated.UTC(), p.Active,
	)
	if err != nil {
		return 0, fmt.Errorf("%w: insert position: %v", domain.ErrPersistence, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("%w: position id: %v", domain.ErrPersistence, err)
	}
	p.ID = id
	return id, nil
}

func (s *Store) ApplyPositionPatch(ctx context.Context, id int64, patch domain.PositionPatch, at time.Time) error {
	if err := storage.ValidatePatch(patch); err != nil {
		return err
	}

	sets := []string{"last_updated = ?"}
	args := []any{at.UTC()}
	if patch.DeltaSOL != nil {
		sets = append(sets, "amount_sol = amount_sol + ?")
		args = append(args, *patch.DeltaSOL)
	}
	if patch.DeltaToken != nil {
		sets = append(sets, "amount_token = amount_token + ?")
		args = append(args, *patch.DeltaToken)
	}
	if patch.Active != nil {
		sets = append(sets, "is_active = ?")
		args = append(args, *patch.Active)
	}
	args = append(args, id)

	query := "UPDATE positions SET " + strings.Join(sets, ", ") + " WHERE id = ? AND is_active = 1"
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%w: patch position %d: %v", domain.ErrPersistence, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: patch position %d: %v", domain.ErrPersistence, id, err)
	}
	if n > 0 {
		return nil
	}
	return s.classifyMissedPatch(ctx, id)
}

func (s *Store) classifyMissedPatch(ctx context.Context, id int64) error {
	var active bool
	err := s.db.QueryRowContext(ctx, "SELECT is_active FROM positions WHERE id = ?", id).Scan(&active)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("%w: lookup position %d: %v", domain.ErrPersistence, id, err)
	}
	return storage.ErrPositionClosed
}

const positionColumns = `id, owner_id, token_address, token_symbol, token_name, entry_price,
	amount_sol, amount_token, open_date, last_updated, is_active`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPosition(row rowScanner) (domain.Position, error) {
	var p domain.Position
	err := row.Scan(&p.ID, &p.OwnerID, &p.TokenAddress, &p.TokenSymbol, &p.TokenName,
		&p.EntryPrice, &p.AmountSOL, &p.AmountToken, &p.OpenedAt, &p.LastUpdated, &p.Active)
	return p, err
}

func (s *Store) GetPosition(ctx context.Context, id int64) (*domain.Position, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+positionColumns+" FROM positions WHERE id = ?", id)
	p, err := scanPosition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get position %d: %v", domain.ErrPersistence, id, err)
	}
	return &p, nil
}

func (s *Store) ListPositions(ctx context.Context, filter domain.PositionFilter) ([]domain.Position, error) {
	where, args := positionWhere(filter)
	query := "SELECT " + positionColumns + " FROM positions" + where + " ORDER BY open_date DESC, id DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: list positions: %v", domain.ErrPersistence, err)
	}
	defer rows.Close()

	out := make([]domain.Position, 0)
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan position: %v", domain.ErrPersistence, err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func positionWhere(filter domain.PositionFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if filter.OwnerID != "" {
		conds = append(conds, "owner_id = ?")
		args = append(args, filter.OwnerID)
	}
	if filter.TokenAddress != "" {
		conds = append(conds, "token_address = ?")
		args = append(args, filter.TokenAddress)
	}
	if filter.ActiveOnly {
		conds = append(conds, "is_active = 1")
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (s *Store) DistinctTokens(ctx context.Context, ownerID string, activeOnly bool) ([]domain.TokenRef, error) {
	where, args := positionWhere(domain.PositionFilter{OwnerID: ownerID, ActiveOnly: activeOnly})
	rows, err := s.db.QueryContext(ctx,
		"SELECT DISTINCT token_address, token_symbol, token_name FROM positions"+where, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: distinct tokens: %v", domain.ErrPersistence, err)
	}
	defer rows.Close()

	out := make([]domain.TokenRef, 0)
	for rows.Next() {
		var ref domain.TokenRef
		if err := rows.Scan(&ref.Address, &ref.Symbol, &ref.Name); err != nil {
			return nil, fmt.Errorf("%w: scan token: %v", domain.ErrPersistence, err)
		}
		out = append(out, ref)
	}
	return out, rows.Err()
}

func (s *Store) InsertTransaction(ctx context.Context, tx *domain.Transaction) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO transactions
		(owner_id, hash, token_address, token_symbol, amount, type, status, price_usd, price_sol, timestamp, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.OwnerID, tx.Hash, tx.TokenAddress, tx.TokenSymbol, tx.Amount, string(tx.Direction),
		string(tx.Status), tx.PriceUSD, tx.PriceSOL, tx.Timestamp.UTC(), tx.Error,
	)
	if isUniqueViolation(err) {
		return 0, storage.ErrDuplicateKey
	}
	if err != nil {
		return 0, fmt.Errorf("%w: insert transaction: %v", domain.ErrPersistence, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("%w: transaction id: %v", domain.ErrPersistence, err)
	}
	tx.ID = id
	return id, nil
}

func (s *Store) UpdateTransaction(ctx context.Context, hash string, patch domain.TransactionPatch) error {
	var (
		sets []string
		args []any
	)
	if patch.Hash != nil {
		sets = append(sets, "hash = ?")
		args = append(args, *patch.Hash)
	}
	if patch.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*patch.Status))
	}
	if patch.Error != nil {
		sets = append(sets, "error = ?")
		args = append(args, *patch.Error)
	}
	if len(sets) == 0 {
		return storage.ErrInvalidInput
	}

	query := "UPDATE transactions SET " + strings.Join(sets, ", ") + " WHERE hash = ?"
	args = append(args, hash)
	if patch.Status != nil {
		from := patch.Status.Predecessors()
		if len(from) == 0 {
			return domain.ErrInvalidTransition
		}
		query += " AND status IN (" + strings.TrimSuffix(strings.Repeat("?, ", len(from)), ", ") + ")"
		for _, st := range from {
			args = append(args, string(st))
		}
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if isUniqueViolation(err) {
		return storage.ErrDuplicateKey
	}
	if err != nil {
		return fmt.Errorf("%w: update transaction: %v", domain.ErrPersistence, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: update transaction: %v", domain.ErrPersistence, err)
	}
	if n > 0 {
		return nil
	}

	if _, err := s.GetTransaction(ctx, hash); err != nil {
		return err
	}
	return domain.ErrInvalidTransition
}

const txColumns = `id, owner_id, hash, token_address, token_symbol, amount, type, status,
	price_usd, price_sol, timestamp, error`

func scanTransaction(row rowScanner) (domain.Transaction, error) {
	var (
		tx        domain.Transaction
		direction string
		status    string
	)
	err := row.Scan(&tx.ID, &tx.OwnerID, &tx.Hash, &tx.TokenAddress, &tx.TokenSymbol, &tx.Amount,
		&direction, &status, &tx.PriceUSD, &tx.PriceSOL, &tx.Timestamp, &tx.Error)
	tx.Direction = domain.Direction(direction)
	tx.Status = domain.TxStatus(status)
	return tx, err
}

func (s *Store) GetTransaction(ctx context.Context, hash string) (*domain.Transaction, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+txColumns+" FROM transactions WHERE hash = ?", hash)
	tx, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrTxNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get transaction: %v", domain.ErrPersistence, err)
	}
	return &tx, nil
}

func (s *Store) ListTransactions(ctx context.Context, ownerID string, limit int) ([]domain.Transaction, error) {
	if limit <= 0 {
		limit = storage.DefaultTransactionLimit
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+txColumns+" FROM transactions WHERE owner_id = ? ORDER BY id DESC LIMIT ?", ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: list transactions: %v", domain.ErrPersistence, err)
	}
	defer rows.Close()

	out := make([]domain.Transaction, 0, limit)
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan transaction: %v", domain.ErrPersistence, err)
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
