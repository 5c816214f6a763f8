/*
Package inventory provides the spares ledger engine.

PURPOSE:
  This package tracks stock of physical spare parts held at a substation
  store. Every stock movement is recorded as an immutable ledger entry and
  the current on-hand quantity of each item is kept as a materialized value
  that only the Executor may change.

KEY CONCEPTS IN THIS FILE (types.go):
  - Item: One distinct spare-part/material type with its current quantity
  - LedgerEntry: An immutable record of a single RECEIVE or ISSUE
  - Movement: The input of the Executor (what the operator asked for)
  - MovementType: RECEIVE adds to stock, ISSUE subtracts from it

DESIGN PRINCIPLES:
  1. Immutability: Ledger entries are never modified, only compensated
  2. Precision: Quantities and rates use decimal.Decimal
  3. Single writer: Item.Quantity changes only through the Executor
  4. Explicit schema: Stores map rows into these types and fail loudly on
     shape mismatch (see ErrCorruptRecord)

FOLD INVARIANT:
  For every item, at every point in time:

    Quantity == InitialQuantity + Σ RECEIVE.Quantity − Σ ISSUE.Quantity

  The Executor maintains it incrementally; ReconciliationEngine.VerifyItem
  recomputes it from scratch for audits.

SEE ALSO:
  - executor.go: The only path that changes Quantity
  - reconcile.go: Opening/closing balance reconstruction
  - store.go: Persistence contracts
*/
package inventory

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// ITEM - One spare-part/material type
// =============================================================================

type ItemID string

// Item is the materialized state of one stock line.
type Item struct {
	ID ItemID

	// Identity as the store staff know it
	LegacyName   string // name used in the legacy master sheet
	StandardName string // catalog (SAP) name, optional
	Nickname     string // daily alias, optional
	MasterSN     int    // serial number from the legacy sheet, not unique
	SortIndex    int    // display order, preserves the master sheet order

	Unit     string          // No., Ltr, Mtr, Set ...
	UnitRate decimal.Decimal // price per unit, >= 0
	MinStock decimal.Decimal // low stock threshold, zero disables the alert
	Location string          // rack/shelf, optional

	// Quantity is the current on-hand stock. Only the Executor writes it.
	Quantity        decimal.Decimal
	InitialQuantity decimal.Decimal
	Version         int64

	CreatedAt   time.Time
	LastUpdated time.Time
}

// TotalValue is Quantity priced at UnitRate.
func (i Item) TotalValue() decimal.Decimal { return i.Quantity.Mul(i.UnitRate) }

// IsLowStock reports whether the item is at or below its alert threshold.
func (i Item) IsLowStock() bool {
	return i.MinStock.IsPositive() && i.Quantity.LessThanOrEqual(i.MinStock)
}

// ItemDetails are the descriptive fields an operator may edit after creation.
// Quantity is deliberately absent.
type ItemDetails struct {
	LegacyName   string
	StandardName string
	Nickname     string
	MasterSN     int
	SortIndex    int
	Unit         string
	UnitRate     decimal.Decimal
	MinStock     decimal.Decimal
	Location     string
}

// Apply copies the descriptive fields onto item.
func (d ItemDetails) Apply(item *Item) {
	item.LegacyName = d.LegacyName
	item.StandardName = d.StandardName
	item.Nickname = d.Nickname
	item.MasterSN = d.MasterSN
	item.SortIndex = d.SortIndex
	item.Unit = d.Unit
	item.UnitRate = d.UnitRate
	item.MinStock = d.MinStock
	item.Location = d.Location
}

// Validate checks the descriptive fields.
func (d ItemDetails) Validate() error {
	if d.LegacyName == "" {
		return fmt.Errorf("%w: legacy name is required", ErrInvalidItem)
	}
	if d.UnitRate.IsNegative() {
		return fmt.Errorf("%w: unit rate must not be negative", ErrInvalidItem)
	}
	if d.MinStock.IsNegative() {
		return fmt.Errorf("%w: min stock must not be negative", ErrInvalidItem)
	}
	return nil
}

// =============================================================================
// LEDGER ENTRY - Immutable stock movement
// =============================================================================

type EntryID string

type MovementType string

const (
	MovementReceive MovementType = "RECEIVE" // adds to stock
	MovementIssue   MovementType = "ISSUE"   // subtracts from stock
)

// ParseMovementType accepts the canonical names case-sensitively.
func ParseMovementType(s string) (MovementType, error) {
	switch MovementType(s) {
	case MovementReceive, MovementIssue:
		return MovementType(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidMovementType, s)
}

func (t MovementType) Valid() bool { return t == MovementReceive || t == MovementIssue }

// Signed returns the quantity as a delta on stock.
func (t MovementType) Signed(q decimal.Decimal) decimal.Decimal {
	if t == MovementIssue {
		return q.Neg()
	}
	return q
}

// LedgerEntry records one committed movement. It is never updated or deleted;
// mistakes are corrected by appending a compensating entry.
type LedgerEntry struct {
	ID       EntryID
	ItemID   ItemID
	ItemName string // legacy name at the time of the movement

	Type     MovementType
	Quantity decimal.Decimal // magnitude, always positive
	Date     time.Time       // effective date, operator supplied, may be backdated

	Reference string // challan/supplier for RECEIVE, site/indent for ISSUE
	Remarks   string
	Actor     string

	// Assigned at commit time
	Seq           int64 // commit order within the store
	RecordedAt    time.Time
	QuantityAfter decimal.Decimal
	ItemVersion   int64 // Item.Version this entry produced
}

// Delta returns the signed effect of the entry on stock.
func (e LedgerEntry) Delta() decimal.Decimal { return e.Type.Signed(e.Quantity) }

// =============================================================================
// MOVEMENT - Executor input
// =============================================================================

// Movement is a request to move stock for one item.
type Movement struct {
	ItemID    ItemID
	Type      MovementType
	Quantity  decimal.Decimal
	Reference string
	Remarks   string
	Date      time.Time // zero means now
	Actor     string
}

// ParseQuantity parses operator input into a positive decimal.
func ParseQuantity(s string) (decimal.Decimal, error) {
	q, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q is not a number", ErrInvalidQuantity, s)
	}
	if !q.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %s must be greater than zero", ErrInvalidQuantity, q)
	}
	return q, nil
}

// =============================================================================
// SEED ITEM - Row of the legacy master sheet
// =============================================================================

// SeedItem is one row of the legacy master list used by the one-time import.
type SeedItem struct {
	Details      ItemDetails
	InitialStock decimal.Decimal
}
