// internal/storage/postgres/postgres.go
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/rovshanmuradov/solana-trader/internal/domain"
	"github.com/rovshanmuradov/solana-trader/internal/storage"
	"github.com/rovshanmuradov/solana-trader/internal/storage/models"
)

// migrationLockID - ключ advisory lock для миграций.
const migrationLockID = 7301

// gormLogger реализует интерфейс logger.Interface для GORM
type gormLogger struct {
	zapLogger *zap.Logger
	logLevel  logger.LogLevel
}

// newGormLogger создает новый логгер для GORM
func newGormLogger(zapLogger *zap.Logger) logger.Interface {
	return &gormLogger{
		zapLogger: zapLogger,
		logLevel:  logger.Warn,
	}
}

// LogMode реализация интерфейса logger.Interface
func (l *gormLogger) LogMode(level logger.LogLevel) logger.Interface {
	newLogger := *l
	newLogger.logLevel = level
	return &newLogger
}

// Info реализация интерфейса logger.Interface
func (l *gormLogger) Info(_ context.Context, msg string, data ...interface{}) {
	if l.logLevel >= logger.Info {
		l.zapLogger.Sugar().Infof(msg, data...)
	}
}

// Warn реализация интерфейса logger.Interface
func (l *gormLogger) Warn(_ context.Context, msg string, data ...interface{}) {
	if l.logLevel >= logger.Warn {
		l.zapLogger.Sugar().Warnf(msg, data...)
	}
}

// Error реализация интерфейса logger.Interface
func (l *gormLogger) Error(_ context.Context, msg string, data ...interface{}) {
	if l.logLevel >= logger.Error {
		l.zapLogger.Sugar().Errorf(msg, data...)
	}
}

// Trace реализация интерфейса logger.Interface
func (l *gormLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.logLevel <= logger.Silent {
		return
	}

	elapsed := time.Since(begin)
	sql, rows := fc()

	fields := []zap.Field{
		zap.Duration("elapsed", elapsed),
		zap.String("sql", sql),
		zap.Int64("rows", rows),
	}

	// "не найдено" - штатный результат, а не ошибка запроса
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		l.zapLogger.Error("query failed", append(fields, zap.Error(err))...)
		return
	}

	if l.logLevel >= logger.Info {
		l.zapLogger.Debug("query", fields...)
	}
}

// Store реализует storage.Storage поверх PostgreSQL через GORM.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

var _ storage.Storage = (*Store)(nil)

// NewStorage открывает соединение и настраивает пул.
func NewStorage(dsn string, zapLogger *zap.Logger) (*Store, error) {
	gormLogger := newGormLogger(zapLogger.Named("gorm"))

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormLogger,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
		SkipDefaultTransaction: true,
		TranslateError:         true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: connect to database: %v", domain.ErrPersistence, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("%w: get database instance: %v", domain.ErrPersistence, err)
	}

	// Настройка пула соединений
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return &Store{
		db:     db,
		logger: zapLogger.Named("postgres"),
	}, nil
}

// RunMigrations создает таблицы под advisory lock, чтобы два процесса
// не мигрировали одновременно. Lock и unlock идут через одно соединение:
// advisory lock принадлежит сессии, а не пулу.
func (s *Store) RunMigrations(ctx context.Context) error {
	return s.db.WithContext(ctx).Connection(func(conn *gorm.DB) error {
		var lockObtained bool
		if err := conn.Raw("SELECT pg_try_advisory_lock(?)", migrationLockID).Scan(&lockObtained).Error; err != nil {
			return fmt.Errorf("%w: acquire migration lock: %v", domain.ErrPersistence, err)
		}
		if !lockObtained {
			return fmt.Errorf("%w: another migration is in progress", domain.ErrPersistence)
		}
		defer func() {
			if err := conn.Exec("SELECT pg_advisory_unlock(?)", migrationLockID).Error; err != nil {
				s.logger.Warn("Failed to release migration lock", zap.Error(err))
			}
		}()

		if err := conn.AutoMigrate(&models.Position{}, &models.Transaction{}); err != nil {
			return fmt.Errorf("%w: run migrations: %v", domain.ErrPersistence, err)
		}

		s.logger.Info("Migrations applied")
		return nil
	})
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) CreatePosition(ctx context.Context, p *domain.Position) (int64, error) {
	row := models.NewPosition(p)
	row.ID = 0
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return 0, fmt.Errorf("%w: insert position: %v", domain.ErrPersistence, err)
	}
	p.ID = row.ID
	return row.ID, nil
}

// ApplyPositionPatch делает один UPDATE с инкрементом на стороне базы.
func (s *Store) ApplyPositionPatch(ctx context.Context, id int64, patch domain.PositionPatch, at time.Time) error {
	if err := storage.ValidatePatch(patch); err != nil {
		return err
	}

	updates := map[string]interface{}{"last_updated": at.UTC()}
	if patch.DeltaSOL != nil {
		updates["amount_sol"] = gorm.Expr("amount_sol + ?", *patch.DeltaSOL)
	}
	if patch.DeltaToken != nil {
		updates["amount_token"] = gorm.Expr("amount_token + ?", *patch.DeltaToken)
	}
	if patch.Active != nil {
		updates["is_active"] = *patch.Active
	}

	res := s.db.WithContext(ctx).
		Model(&models.Position{}).
		Where("id = ? AND is_active = ?", id, true).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("%w: patch position %d: %v", domain.ErrPersistence, id, res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}

	if _, err := s.GetPosition(ctx, id); err != nil {
		return err
	}
	return storage.ErrPositionClosed
}

func (s *Store) GetPosition(ctx context.Context, id int64) (*domain.Position, error) {
	var row models.Position
	err := s.db.WithContext(ctx).First(&row, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get position %d: %v", domain.ErrPersistence, id, err)
	}
	p := row.Domain()
	return &p, nil
}

func (s *Store) filtered(ctx context.Context, filter domain.PositionFilter) *gorm.DB {
	q := s.db.WithContext(ctx).Model(&models.Position{})
	if filter.OwnerID != "" {
		q = q.Where("owner_id = ?", filter.OwnerID)
	}
	if filter.TokenAddress != "" {
		q = q.Where("token_address = ?", filter.TokenAddress)
	}
	if filter.ActiveOnly {
		q = q.Where("is_active = ?", true)
	}
	return q
}

func (s *Store) ListPositions(ctx context.Context, filter domain.PositionFilter) ([]domain.Position, error) {
	var rows []models.Position
	if err := s.filtered(ctx, filter).Order("open_date DESC, id DESC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("%w: list positions: %v", domain.ErrPersistence, err)
	}

	out := make([]domain.Position, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].Domain())
	}
	return out, nil
}

type tokenRow struct {
	TokenAddress string
	TokenSymbol  string
	TokenName    string
}

func (s *Store) DistinctTokens(ctx context.Context, ownerID string, activeOnly bool) ([]domain.TokenRef, error) {
	var rows []tokenRow
	err := s.filtered(ctx, domain.PositionFilter{OwnerID: ownerID, ActiveOnly: activeOnly}).
		Distinct("token_address", "token_symbol", "token_name").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("%w: distinct tokens: %v", domain.ErrPersistence, err)
	}

	out := make([]domain.TokenRef, 0, len(rows))
	for _, r := range rows {
		out = append(out, domain.TokenRef{Address: r.TokenAddress, Symbol: r.TokenSymbol, Name: r.TokenName})
	}
	return out, nil
}

func (s *Store) InsertTransaction(ctx context.Context, tx *domain.Transaction) (int64, error) {
	row := models.NewTransaction(tx)
	row.ID = 0
	err := s.db.WithContext(ctx).Create(row).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return 0, storage.ErrDuplicateKey
	}
	if err != nil {
		return 0, fmt.Errorf("%w: insert transaction: %v", domain.ErrPersistence, err)
	}
	tx.ID = row.ID
	return row.ID, nil
}

// UpdateTransaction меняет hash и статус одним UPDATE, так что читатель
// не увидит "processing" на placeholder после появления настоящей подписи.
func (s *Store) UpdateTransaction(ctx context.Context, hash string, patch domain.TransactionPatch) error {
	updates := map[string]interface{}{}
	if patch.Hash != nil {
		updates["hash"] = *patch.Hash
	}
	if patch.Status != nil {
		updates["status"] = string(*patch.Status)
	}
	if patch.Error != nil {
		updates["error"] = *patch.Error
	}
	if len(updates) == 0 {
		return storage.ErrInvalidInput
	}

	q := s.db.WithContext(ctx).Model(&models.Transaction{}).Where("hash = ?", hash)
	if patch.Status != nil {
		from := patch.Status.Predecessors()
		if len(from) == 0 {
			return domain.ErrInvalidTransition
		}
		statuses := make([]string, 0, len(from))
		for _, st := range from {
			statuses = append(statuses, string(st))
		}
		q = q.Where("status IN ?", statuses)
	}

	res := q.Updates(updates)
	if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
		return storage.ErrDuplicateKey
	}
	if res.Error != nil {
		return fmt.Errorf("%w: update transaction: %v", domain.ErrPersistence, res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}

	if _, err := s.GetTransaction(ctx, hash); err != nil {
		return err
	}
	return domain.ErrInvalidTransition
}

func (s *Store) GetTransaction(ctx context.Context, hash string) (*domain.Transaction, error) {
	var row models.Transaction
	err := s.db.WithContext(ctx).Where("hash = ?", hash).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrTxNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get transaction: %v", domain.ErrPersistence, err)
	}
	tx := row.Domain()
	return &tx, nil
}

func (s *Store) ListTransactions(ctx context.Context, ownerID string, limit int) ([]domain.Transaction, error) {
	if limit <= 0 {
		limit = storage.DefaultTransactionLimit
	}

	var rows []models.Transaction
	err := s.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("id DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("%w: list transactions: %v", domain.ErrPersistence, err)
	}

	out := make([]domain.Transaction, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].Domain())
	}
	return out, nil
}
