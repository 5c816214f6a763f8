/*
store.go - Persistence contracts for items, the ledger and report runs

PURPOSE:
  Defines the interface between the engine and the database. Backends:
  - inventory/store/memory.go: in-memory, for tests and local runs
  - store/sqlite/sqlite.go:    default durable backend
  - store/postgres/postgres.go: gorm/Postgres backend for shared deployments

KEY INTERFACES:
  ItemStore:      Keyed item records (create, read, edit descriptive fields)
  Ledger:         Read-only queries over the append-only movement log
  UnitOfWork:     The writes the Executor performs inside one transaction
  TxStore:        ItemStore + Ledger + WithTx (atomic unit of work)
  ReportRunStore: Archive of scheduled reconciliation runs

SINGLE WRITER CONTRACT:
  Nothing outside UnitOfWork can change Item.Quantity or append a
  LedgerEntry. UpdateItemDetails never touches Quantity, InitialQuantity or
  Version. There is no Update or Delete for ledger entries anywhere.

ATOMIC UNIT OF WORK:
  WithTx runs fn inside a serializable unit scoped to the rows it touches.
  If fn returns an error nothing is committed. Backends report lost races
  (busy database, serialization failure, version mismatch) as
  ErrConcurrencyConflict so the Executor can retry.

SEEDING:
  SeedItems inserts the whole master list and a durable "seeded" marker in
  one transaction. A second call, concurrent or not, fails with
  ErrAlreadySeeded and writes nothing.

SEE ALSO:
  - ledger.go: Ledger interface and fold helpers
  - executor.go: The only UnitOfWork user
*/
package inventory

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// ITEM STORE
// =============================================================================

// ItemStore persists item records.
type ItemStore interface {
	// GetItem returns ErrItemNotFound when the id is unknown.
	GetItem(ctx context.Context, id ItemID) (*Item, error)

	// ListItems returns every item ordered by SortIndex, LegacyName, ID.
	ListItems(ctx context.Context) ([]Item, error)

	// CreateItem inserts a new item. Quantity must equal InitialQuantity.
	CreateItem(ctx context.Context, item Item) error

	// UpdateItemDetails replaces the descriptive fields only.
	UpdateItemDetails(ctx context.Context, id ItemID, details ItemDetails, at time.Time) (*Item, error)

	// SeedItems atomically inserts items into an empty, never-seeded store.
	SeedItems(ctx context.Context, items []Item) error
}

// =============================================================================
// TRANSACTIONAL STORE - For the Executor's atomic read-modify-write
// =============================================================================

// UnitOfWork is the set of operations available inside WithTx.
type UnitOfWork interface {
	// LoadItem reads the item inside the unit of work, locking it where the
	// backend supports row locks.
	LoadItem(ctx context.Context, id ItemID) (*Item, error)

	// SaveQuantity writes the new quantity if the stored version still equals
	// expectVersion, bumping the version. A mismatch is ErrConcurrencyConflict.
	SaveQuantity(ctx context.Context, id ItemID, qty decimal.Decimal, expectVersion int64, at time.Time) error

	// AppendEntry appends a ledger entry, assigning Seq and RecordedAt.
	AppendEntry(ctx context.Context, entry *LedgerEntry) error
}

// TxStore is the full persistence capability the engine consumes.
type TxStore interface {
	ItemStore
	Ledger

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(UnitOfWork) error) error
}

// =============================================================================
// REPORT RUNS - Archive of scheduled reconciliation
// =============================================================================

type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// ReportRun records one scheduled report generation.
type ReportRun struct {
	ID          string
	PeriodStart time.Time
	PeriodEnd   time.Time
	Status      RunStatus
	Rows        int
	File        string
	Error       string
	StartedAt   time.Time
	CompletedAt *time.Time
}

// ReportRunStore persists ReportRun records.
type ReportRunStore interface {
	SaveReportRun(ctx context.Context, run ReportRun) error
	ListReportRuns(ctx context.Context) ([]ReportRun, error)
	IsReportComplete(ctx context.Context, periodStart, periodEnd time.Time) (bool, error)
}
