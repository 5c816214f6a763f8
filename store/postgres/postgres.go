/*
Package postgres provides a gorm/PostgreSQL implementation of the inventory
persistence contracts for deployments where several server instances share
one database.

CONCURRENCY:
  LoadItem takes SELECT ... FOR UPDATE on the item row inside the unit of
  work, so concurrent movements on the same item queue on the row lock and
  each sees the quantity the previous one committed. Distinct items never
  contend. SaveQuantity additionally checks the version it read.

  Serialization failures (40001), deadlocks (40P01) and lock timeouts
  (55P03) map to inventory.ErrConcurrencyConflict and are retried by the
  Executor.

APPEND-ONLY ENFORCEMENT:
  A trigger rejects UPDATE and DELETE on ledger_entries.

SEEDING:
  The seeded marker is a row in meta with a primary key. Two concurrent
  seeds both try to insert it; the second blocks on the unique index and
  fails with 23505 once the first commits.
*/
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gridmaster/spares-ledger/inventory"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

const (
	codeUniqueViolation      = "23505"
	codeCheckViolation       = "23514"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"
)

// Store implements the inventory storage interfaces on PostgreSQL.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

// Open connects to dsn and migrates the schema.
func Open(dsn string, logger *zap.Logger) (*Store, error) {
	db, err := gorm.Open(postgres.New(postgres.Config{
		DSN:                  dsn,
		PreferSimpleProtocol: true,
	}), &gorm.Config{
		Logger:      gormlogger.Default.LogMode(gormlogger.Warn),
		PrepareStmt: false,
		NowFunc:     func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return New(db, logger)
}

// New wraps an open gorm handle and migrates the schema.
func New(db *gorm.DB, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) migrate() error {
	if err := s.db.AutoMigrate(&itemModel{}, &entryModel{}, &metaModel{}, &reportRunModel{}); err != nil {
		return err
	}
	statements := []string{
		`CREATE OR REPLACE FUNCTION ledger_entries_immutable() RETURNS trigger AS $$
		BEGIN
			RAISE EXCEPTION 'ledger entries are immutable';
		END;
		$$ LANGUAGE plpgsql`,
		`DROP TRIGGER IF EXISTS ledger_entries_no_mutation ON ledger_entries`,
		`CREATE TRIGGER ledger_entries_no_mutation
			BEFORE UPDATE OR DELETE ON ledger_entries
			FOR EACH ROW EXECUTE FUNCTION ledger_entries_immutable()`,
	}
	for _, stmt := range statements {
		if err := s.db.Exec(stmt).Error; err != nil {
			return err
		}
	}
	s.logger.Info("postgres schema migrated")
	return nil
}

// =============================================================================
// ITEMS
// =============================================================================

func (s *Store) GetItem(ctx context.Context, id inventory.ItemID) (*inventory.Item, error) {
	return getItem(s.db.WithContext(ctx), id, false)
}

func getItem(db *gorm.DB, id inventory.ItemID, forUpdate bool) (*inventory.Item, error) {
	if forUpdate {
		db = db.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var m itemModel
	err := db.Where("id = ?", string(id)).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", inventory.ErrItemNotFound, id)
	}
	if err != nil {
		return nil, mapError(err)
	}
	item := m.toDomain()
	return &item, nil
}

func (s *Store) ListItems(ctx context.Context) ([]inventory.Item, error) {
	var rows []itemModel
	if err := s.db.WithContext(ctx).Order("sort_index, legacy_name, id").Find(&rows).Error; err != nil {
		return nil, mapError(err)
	}
	items := make([]inventory.Item, len(rows))
	for i, m := range rows {
		items[i] = m.toDomain()
	}
	return items, nil
}

func (s *Store) CreateItem(ctx context.Context, item inventory.Item) error {
	m := itemToModel(item)
	return mapItemInsert(s.db.WithContext(ctx).Create(&m).Error, item)
}

func mapItemInsert(err error, item inventory.Item) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeUniqueViolation:
			return fmt.Errorf("%w: duplicate id %s", inventory.ErrInvalidItem, item.ID)
		case codeCheckViolation:
			return fmt.Errorf("%w: negative quantity %s", inventory.ErrInvalidItem, item.Quantity)
		}
	}
	return mapError(err)
}

func (s *Store) UpdateItemDetails(ctx context.Context, id inventory.ItemID, d inventory.ItemDetails, at time.Time) (*inventory.Item, error) {
	res := s.db.WithContext(ctx).Model(&itemModel{}).Where("id = ?", string(id)).Updates(map[string]any{
		"legacy_name":   d.LegacyName,
		"standard_name": d.StandardName,
		"nickname":      d.Nickname,
		"master_sn":     d.MasterSN,
		"sort_index":    d.SortIndex,
		"unit":          d.Unit,
		"unit_rate":     d.UnitRate,
		"min_stock":     d.MinStock,
		"location":      d.Location,
		"last_updated":  at,
	})
	if res.Error != nil {
		return nil, mapError(res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, fmt.Errorf("%w: %s", inventory.ErrItemNotFound, id)
	}
	return s.GetItem(ctx, id)
}

// SeedItems inserts the marker and every item in one transaction.
func (s *Store) SeedItems(ctx context.Context, items []inventory.Item) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&itemModel{}).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return inventory.ErrAlreadySeeded
		}
		marker := metaModel{Key: "seeded", Value: time.Now().UTC().Format(time.RFC3339)}
		if err := tx.Create(&marker).Error; err != nil {
			if isCode(err, codeUniqueViolation) {
				return inventory.ErrAlreadySeeded
			}
			return err
		}

		models := make([]itemModel, len(items))
		for i, item := range items {
			models[i] = itemToModel(item)
		}
		if len(models) > 0 {
			if err := tx.CreateInBatches(&models, 200).Error; err != nil {
				return mapItemInsert(err, inventory.Item{})
			}
		}
		return nil
	})
	if errors.Is(err, inventory.ErrAlreadySeeded) {
		return err
	}
	if isCode(err, codeUniqueViolation) {
		return inventory.ErrAlreadySeeded
	}
	return mapError(err)
}

// =============================================================================
// LEDGER QUERIES
// =============================================================================

func (s *Store) Entries(ctx context.Context, itemID inventory.ItemID) ([]inventory.LedgerEntry, error) {
	return s.findEntries(s.db.WithContext(ctx).Where("item_id = ?", string(itemID)))
}

func (s *Store) EntriesInRange(ctx context.Context, from, to time.Time) ([]inventory.LedgerEntry, error) {
	return s.findEntries(s.db.WithContext(ctx).Where("effective_date >= ? AND effective_date <= ?", from, to))
}

func (s *Store) EntriesSince(ctx context.Context, from time.Time) ([]inventory.LedgerEntry, error) {
	return s.findEntries(s.db.WithContext(ctx).Where("effective_date >= ?", from))
}

func (s *Store) findEntries(q *gorm.DB) ([]inventory.LedgerEntry, error) {
	var rows []entryModel
	if err := q.Order("effective_date, seq").Find(&rows).Error; err != nil {
		return nil, mapError(err)
	}
	entries := make([]inventory.LedgerEntry, 0, len(rows))
	for _, m := range rows {
		e, err := m.toDomain()
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// =============================================================================
// TRANSACTION SUPPORT
// =============================================================================

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(inventory.UnitOfWork) error) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&txStore{tx: tx})
	})
	return mapError(err)
}

type txStore struct {
	tx *gorm.DB
}

func (ts *txStore) LoadItem(ctx context.Context, id inventory.ItemID) (*inventory.Item, error) {
	return getItem(ts.tx.WithContext(ctx), id, true)
}

func (ts *txStore) SaveQuantity(ctx context.Context, id inventory.ItemID, qty decimal.Decimal, expectVersion int64, at time.Time) error {
	db := ts.tx.WithContext(ctx)
	if err := db.SavePoint(savepointQuantity).Error; err != nil {
		return mapError(err)
	}
	res := db.Model(&itemModel{}).
		Where("id = ? AND version = ?", string(id), expectVersion).
		Updates(map[string]any{
			"quantity":     qty,
			"version":      gorm.Expr("version + 1"),
			"last_updated": at,
		})
	if isCode(res.Error, codeCheckViolation) {
		return insufficient(db, id, qty)
	}
	if res.Error != nil {
		return mapError(res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s changed since version %d", inventory.ErrConcurrencyConflict, id, expectVersion)
	}
	return nil
}

func (ts *txStore) AppendEntry(ctx context.Context, e *inventory.LedgerEntry) error {
	if e.RecordedAt.IsZero() {
		e.RecordedAt = time.Now().UTC()
	}
	m := entryToModel(*e)
	if err := ts.tx.WithContext(ctx).Create(&m).Error; err != nil {
		return mapError(err)
	}
	e.Seq = m.Seq
	return nil
}

// =============================================================================
// REPORT RUNS
// =============================================================================

func (s *Store) SaveReportRun(ctx context.Context, run inventory.ReportRun) error {
	m := runToModel(run)
	return mapError(s.db.WithContext(ctx).Save(&m).Error)
}

func (s *Store) ListReportRuns(ctx context.Context) ([]inventory.ReportRun, error) {
	var rows []reportRunModel
	if err := s.db.WithContext(ctx).Order("started_at DESC").Find(&rows).Error; err != nil {
		return nil, mapError(err)
	}
	runs := make([]inventory.ReportRun, len(rows))
	for i, m := range rows {
		runs[i] = m.toDomain()
	}
	return runs, nil
}

func (s *Store) IsReportComplete(ctx context.Context, start, end time.Time) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&reportRunModel{}).
		Where("period_start = ? AND period_end = ? AND status = ?", start, end, string(inventory.RunCompleted)).
		Count(&count).Error
	if err != nil {
		return false, mapError(err)
	}
	return count > 0, nil
}

// =============================================================================
// ERROR MAPPING
// =============================================================================

// savepointQuantity lets SaveQuantity read the row again after a CHECK
// violation, which otherwise aborts the whole transaction.
const savepointQuantity = "save_quantity"

// insufficient reports a CHECK rejection with the quantity still on hand.
func insufficient(db *gorm.DB, id inventory.ItemID, target decimal.Decimal) error {
	shortage := fmt.Errorf("%w: %s would go negative", inventory.ErrInsufficientStock, id)
	if err := db.RollbackTo(savepointQuantity).Error; err != nil {
		return shortage
	}
	item, err := getItem(db, id, false)
	if err != nil {
		return shortage
	}
	return &inventory.InsufficientStockError{
		ItemID:    id,
		Available: item.Quantity,
		Requested: item.Quantity.Sub(target),
	}
}

func isCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}

// mapError turns lost races into a retryable conflict.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeSerializationFailure, codeDeadlockDetected, codeLockNotAvailable:
			return fmt.Errorf("%w: %s", inventory.ErrConcurrencyConflict, pgErr.Message)
		}
	}
	return err
}
