/*
Package sqlite provides a SQLite-backed implementation of the inventory
persistence contracts.

PURPOSE:
  Default durable backend for a single substation office: one file, no
  server. Implements inventory.TxStore and inventory.ReportRunStore.

INTERFACES IMPLEMENTED:
  inventory.ItemStore:      Item records
  inventory.Ledger:         Queries over the append-only movement log
  inventory.TxStore:        WithTx unit of work for the Executor
  inventory.ReportRunStore: Archive of scheduled report runs

APPEND-ONLY ENFORCEMENT:
  ledger_entries has BEFORE UPDATE and BEFORE DELETE triggers that abort.
  Nothing in this package issues either statement against it.

KEY TABLES:
  items:          Current state, quantity CHECK >= 0, version counter
  ledger_entries: Immutable movements, seq is commit order
  meta:           Durable markers (the one-time "seeded" flag)
  report_runs:    Scheduled reconciliation runs

CONCURRENCY:
  One connection (SetMaxOpenConns(1)) and BEGIN IMMEDIATE (_txlock) so a
  unit of work holds the write lock from its first read. Inside WithTx
  every statement must go through the *sql.Tx, never s.db, or it would
  wait forever for the only connection. SQLITE_BUSY/LOCKED from another
  process surfaces as inventory.ErrConcurrencyConflict.

STRICT DECODING:
  Decimals and timestamps are stored as TEXT and parsed on every read. A
  value that does not parse is an inventory.CorruptRecordError naming the
  table, row and column. Nothing is defaulted.

USAGE:
  store, err := sqlite.New("./data/spares.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  executor := inventory.NewExecutor(store)
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gridmaster/spares-ledger/inventory"
	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
)

// timeLayout is fixed width so TEXT comparison orders chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store implements the inventory storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.Mutex // serializes units of work within the process
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	dsn := dbPath + "?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// one connection: keeps ":memory:" a single database and makes the
	// process a single writer
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS items (
		id TEXT PRIMARY KEY,
		legacy_name TEXT NOT NULL,
		standard_name TEXT NOT NULL DEFAULT '',
		nickname TEXT NOT NULL DEFAULT '',
		master_sn INTEGER NOT NULL DEFAULT 0,
		sort_index INTEGER NOT NULL DEFAULT 0,
		unit TEXT NOT NULL DEFAULT '',
		unit_rate TEXT NOT NULL,
		min_stock TEXT NOT NULL,
		location TEXT NOT NULL DEFAULT '',
		quantity TEXT NOT NULL CHECK (CAST(quantity AS REAL) >= 0),
		initial_quantity TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		last_updated TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_items_sort
		ON items(sort_index, legacy_name, id);

	-- Append-only ledger; seq is commit order
	CREATE TABLE IF NOT EXISTS ledger_entries (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		item_id TEXT NOT NULL REFERENCES items(id),
		item_name TEXT NOT NULL,
		type TEXT NOT NULL CHECK (type IN ('RECEIVE', 'ISSUE')),
		quantity TEXT NOT NULL,
		effective_date TEXT NOT NULL,
		reference TEXT NOT NULL DEFAULT '',
		remarks TEXT NOT NULL DEFAULT '',
		actor TEXT NOT NULL DEFAULT '',
		recorded_at TEXT NOT NULL,
		quantity_after TEXT NOT NULL,
		item_version INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_ledger_item_date
		ON ledger_entries(item_id, effective_date, seq);
	CREATE INDEX IF NOT EXISTS idx_ledger_date
		ON ledger_entries(effective_date, seq);

	CREATE TRIGGER IF NOT EXISTS ledger_entries_no_update
		BEFORE UPDATE ON ledger_entries
		BEGIN SELECT RAISE(ABORT, 'ledger entries are immutable'); END;
	CREATE TRIGGER IF NOT EXISTS ledger_entries_no_delete
		BEFORE DELETE ON ledger_entries
		BEGIN SELECT RAISE(ABORT, 'ledger entries are immutable'); END;

	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS report_runs (
		id TEXT PRIMARY KEY,
		period_start TEXT NOT NULL,
		period_end TEXT NOT NULL,
		status TEXT NOT NULL,
		rows INTEGER NOT NULL DEFAULT 0,
		file TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		started_at TEXT NOT NULL,
		completed_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_report_runs_period
		ON report_runs(period_start, period_end, status);
	`

	_, err := s.db.Exec(schema)
	return err
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// ITEMS
// =============================================================================

const itemColumns = `id, legacy_name, standard_name, nickname, master_sn, sort_index, unit,
	unit_rate, min_stock, location, quantity, initial_quantity, version, created_at, last_updated`

func (s *Store) GetItem(ctx context.Context, id inventory.ItemID) (*inventory.Item, error) {
	return getItem(ctx, s.db, id)
}

func getItem(ctx context.Context, q querier, id inventory.ItemID) (*inventory.Item, error) {
	row := q.QueryRowContext(ctx, "SELECT "+itemColumns+" FROM items WHERE id = ?", string(id))
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", inventory.ErrItemNotFound, id)
	}
	if err != nil {
		return nil, mapError(err)
	}
	return item, nil
}

func (s *Store) ListItems(ctx context.Context) ([]inventory.Item, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+itemColumns+" FROM items ORDER BY sort_index, legacy_name, id")
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var items []inventory.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

func (s *Store) CreateItem(ctx context.Context, item inventory.Item) error {
	return insertItem(ctx, s.db, item)
}

func insertItem(ctx context.Context, q querier, item inventory.Item) error {
	query := `
		INSERT INTO items (` + itemColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := q.ExecContext(ctx, query,
		string(item.ID),
		item.LegacyName,
		item.StandardName,
		item.Nickname,
		item.MasterSN,
		item.SortIndex,
		item.Unit,
		item.UnitRate.String(),
		item.MinStock.String(),
		item.Location,
		item.Quantity.String(),
		item.InitialQuantity.String(),
		item.Version,
		formatTime(item.CreatedAt),
		formatTime(item.LastUpdated),
	)
	if isUniqueConstraintError(err) {
		return fmt.Errorf("%w: duplicate id %s", inventory.ErrInvalidItem, item.ID)
	}
	if isCheckConstraintError(err) {
		return fmt.Errorf("%w: negative quantity %s", inventory.ErrInvalidItem, item.Quantity)
	}
	return mapError(err)
}

func (s *Store) UpdateItemDetails(ctx context.Context, id inventory.ItemID, d inventory.ItemDetails, at time.Time) (*inventory.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		UPDATE items SET legacy_name = ?, standard_name = ?, nickname = ?, master_sn = ?,
			sort_index = ?, unit = ?, unit_rate = ?, min_stock = ?, location = ?, last_updated = ?
		WHERE id = ?
	`
	res, err := s.db.ExecContext(ctx, query,
		d.LegacyName, d.StandardName, d.Nickname, d.MasterSN, d.SortIndex, d.Unit,
		d.UnitRate.String(), d.MinStock.String(), d.Location, formatTime(at), string(id))
	if err != nil {
		return nil, mapError(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("%w: %s", inventory.ErrItemNotFound, id)
	}
	return s.GetItem(ctx, id)
}

// SeedItems inserts items and the seeded marker in one transaction.
func (s *Store) SeedItems(ctx context.Context, items []inventory.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapError(fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer tx.Rollback()

	var count int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM items").Scan(&count); err != nil {
		return mapError(err)
	}
	if count > 0 {
		return inventory.ErrAlreadySeeded
	}
	_, err = tx.ExecContext(ctx, "INSERT INTO meta (key, value) VALUES ('seeded', ?)", formatTime(time.Now()))
	if isUniqueConstraintError(err) {
		return inventory.ErrAlreadySeeded
	}
	if err != nil {
		return mapError(err)
	}

	for _, item := range items {
		if err := insertItem(ctx, tx, item); err != nil {
			return err
		}
	}
	return mapError(tx.Commit())
}

type scanner interface {
	Scan(dest ...any) error
}

func scanItem(row scanner) (*inventory.Item, error) {
	var (
		item                             inventory.Item
		id                               string
		unitRate, minStock, qty, initial string
		createdAt, lastUpdated           string
	)
	err := row.Scan(&id, &item.LegacyName, &item.StandardName, &item.Nickname, &item.MasterSN,
		&item.SortIndex, &item.Unit, &unitRate, &minStock, &item.Location, &qty, &initial,
		&item.Version, &createdAt, &lastUpdated)
	if err != nil {
		return nil, err
	}
	item.ID = inventory.ItemID(id)

	d := decoder{table: "items", id: id}
	item.UnitRate = d.decimal("unit_rate", unitRate)
	item.MinStock = d.decimal("min_stock", minStock)
	item.Quantity = d.decimal("quantity", qty)
	item.InitialQuantity = d.decimal("initial_quantity", initial)
	item.CreatedAt = d.time("created_at", createdAt)
	item.LastUpdated = d.time("last_updated", lastUpdated)
	if d.err != nil {
		return nil, d.err
	}
	return &item, nil
}

// =============================================================================
// LEDGER QUERIES
// =============================================================================

const entryColumns = `seq, id, item_id, item_name, type, quantity, effective_date, reference,
	remarks, actor, recorded_at, quantity_after, item_version`

func (s *Store) Entries(ctx context.Context, itemID inventory.ItemID) ([]inventory.LedgerEntry, error) {
	return s.queryEntries(ctx,
		"SELECT "+entryColumns+" FROM ledger_entries WHERE item_id = ? ORDER BY effective_date, seq",
		string(itemID))
}

func (s *Store) EntriesInRange(ctx context.Context, from, to time.Time) ([]inventory.LedgerEntry, error) {
	return s.queryEntries(ctx,
		"SELECT "+entryColumns+" FROM ledger_entries WHERE effective_date >= ? AND effective_date <= ? ORDER BY effective_date, seq",
		formatTime(from), formatTime(to))
}

func (s *Store) EntriesSince(ctx context.Context, from time.Time) ([]inventory.LedgerEntry, error) {
	return s.queryEntries(ctx,
		"SELECT "+entryColumns+" FROM ledger_entries WHERE effective_date >= ? ORDER BY effective_date, seq",
		formatTime(from))
}

func (s *Store) queryEntries(ctx context.Context, query string, args ...any) ([]inventory.LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var result []inventory.LedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

func scanEntry(rows *sql.Rows) (inventory.LedgerEntry, error) {
	var (
		e                       inventory.LedgerEntry
		id, itemID, typ         string
		qty, date, recorded, qa string
	)
	err := rows.Scan(&e.Seq, &id, &itemID, &e.ItemName, &typ, &qty, &date, &e.Reference,
		&e.Remarks, &e.Actor, &recorded, &qa, &e.ItemVersion)
	if err != nil {
		return e, err
	}
	e.ID = inventory.EntryID(id)
	e.ItemID = inventory.ItemID(itemID)

	d := decoder{table: "ledger_entries", id: id}
	e.Type = d.movementType("type", typ)
	e.Quantity = d.decimal("quantity", qty)
	e.Date = d.time("effective_date", date)
	e.RecordedAt = d.time("recorded_at", recorded)
	e.QuantityAfter = d.decimal("quantity_after", qa)
	return e, d.err
}

// =============================================================================
// TRANSACTION SUPPORT
// =============================================================================

// WithTx executes fn within a transaction.
func (s *Store) WithTx(ctx context.Context, fn func(inventory.UnitOfWork) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapError(fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}

	return mapError(sqlTx.Commit())
}

type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) LoadItem(ctx context.Context, id inventory.ItemID) (*inventory.Item, error) {
	return getItem(ctx, ts.tx, id)
}

func (ts *txStore) SaveQuantity(ctx context.Context, id inventory.ItemID, qty decimal.Decimal, expectVersion int64, at time.Time) error {
	res, err := ts.tx.ExecContext(ctx,
		"UPDATE items SET quantity = ?, version = version + 1, last_updated = ? WHERE id = ? AND version = ?",
		qty.String(), formatTime(at), string(id), expectVersion)
	if isCheckConstraintError(err) {
		return ts.insufficient(ctx, id, qty)
	}
	if err != nil {
		return mapError(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := getItem(ctx, ts.tx, id); err != nil {
			return err
		}
		return fmt.Errorf("%w: %s changed since version %d", inventory.ErrConcurrencyConflict, id, expectVersion)
	}
	return nil
}

// insufficient reports a CHECK rejection with the quantity still on hand.
// SQLite aborts only the failed statement, so the read sees the row as it was.
func (ts *txStore) insufficient(ctx context.Context, id inventory.ItemID, target decimal.Decimal) error {
	item, err := getItem(ctx, ts.tx, id)
	if err != nil {
		return fmt.Errorf("%w: %s would go negative", inventory.ErrInsufficientStock, id)
	}
	return &inventory.InsufficientStockError{
		ItemID:    id,
		Available: item.Quantity,
		Requested: item.Quantity.Sub(target),
	}
}

func (ts *txStore) AppendEntry(ctx context.Context, e *inventory.LedgerEntry) error {
	if e.RecordedAt.IsZero() {
		e.RecordedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO ledger_entries (id, item_id, item_name, type, quantity, effective_date,
			reference, remarks, actor, recorded_at, quantity_after, item_version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	res, err := ts.tx.ExecContext(ctx, query,
		string(e.ID), string(e.ItemID), e.ItemName, string(e.Type), e.Quantity.String(),
		formatTime(e.Date), e.Reference, e.Remarks, e.Actor, formatTime(e.RecordedAt),
		e.QuantityAfter.String(), e.ItemVersion)
	if err != nil {
		return mapError(err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return err
	}
	e.Seq = seq
	return nil
}

// =============================================================================
// REPORT RUNS
// =============================================================================

func (s *Store) SaveReportRun(ctx context.Context, run inventory.ReportRun) error {
	query := `
		INSERT INTO report_runs (id, period_start, period_end, status, rows, file, error, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status, rows = excluded.rows, file = excluded.file,
			error = excluded.error, completed_at = excluded.completed_at
	`
	var completed sql.NullString
	if run.CompletedAt != nil {
		completed = sql.NullString{String: formatTime(*run.CompletedAt), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, query,
		run.ID, formatTime(run.PeriodStart), formatTime(run.PeriodEnd), string(run.Status),
		run.Rows, run.File, run.Error, formatTime(run.StartedAt), completed)
	return mapError(err)
}

func (s *Store) ListReportRuns(ctx context.Context) ([]inventory.ReportRun, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, period_start, period_end, status, rows, file, error, started_at, completed_at
		FROM report_runs ORDER BY started_at DESC
	`)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var runs []inventory.ReportRun
	for rows.Next() {
		var (
			r                        inventory.ReportRun
			status, start, end, strt string
			completed                sql.NullString
		)
		if err := rows.Scan(&r.ID, &start, &end, &status, &r.Rows, &r.File, &r.Error, &strt, &completed); err != nil {
			return nil, err
		}
		d := decoder{table: "report_runs", id: r.ID}
		r.Status = inventory.RunStatus(status)
		r.PeriodStart = d.time("period_start", start)
		r.PeriodEnd = d.time("period_end", end)
		r.StartedAt = d.time("started_at", strt)
		if completed.Valid {
			t := d.time("completed_at", completed.String)
			r.CompletedAt = &t
		}
		if d.err != nil {
			return nil, d.err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func (s *Store) IsReportComplete(ctx context.Context, start, end time.Time) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM report_runs WHERE period_start = ? AND period_end = ? AND status = ?",
		formatTime(start), formatTime(end), string(inventory.RunCompleted)).Scan(&n)
	if err != nil {
		return false, mapError(err)
	}
	return n > 0, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// decoder collects the first strict-parse failure of a row.
type decoder struct {
	table string
	id    string
	err   error
}

func (d *decoder) fail(field string, err error) {
	if d.err == nil {
		d.err = &inventory.CorruptRecordError{Table: d.table, ID: d.id, Field: field, Err: err}
	}
}

func (d *decoder) decimal(field, raw string) decimal.Decimal {
	v, err := decimal.NewFromString(raw)
	if err != nil {
		d.fail(field, err)
	}
	return v
}

func (d *decoder) time(field, raw string) time.Time {
	t, err := time.Parse(timeLayout, raw)
	if err != nil {
		d.fail(field, err)
	}
	return t.UTC()
}

func (d *decoder) movementType(field, raw string) inventory.MovementType {
	t, err := inventory.ParseMovementType(raw)
	if err != nil {
		d.fail(field, err)
	}
	return t
}

// mapError turns lock contention into a retryable conflict.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && (sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked) {
		return fmt.Errorf("%w: %v", inventory.ErrConcurrencyConflict, err)
	}
	return err
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func isCheckConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintCheck
}
