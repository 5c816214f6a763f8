/*
ledger.go - Append-only movement log

PURPOSE:
  The Ledger is the audit trail of every stock movement. Unlike a pure
  event-sourced design, the current quantity is also materialized on the
  item (see Item.Quantity) so the hot path never replays history. The
  ledger is what makes that cache explainable and verifiable.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: No Update, No Delete. EVER.
  2. IMMUTABLE: Once written, entries cannot be modified
  3. SINGLE WRITER: Only the Executor appends, through UnitOfWork
  4. SERIAL: Per item, Seq order is a valid serial order of the Execute
     calls and QuantityAfter is the fold of that order

CORRECTIONS:
  A wrong ISSUE of 4 is not edited. A compensating RECEIVE of 4 is appended
  with a remark pointing at the original reference. Both stay visible in
  the monthly report.

ORDERING:
  Date is the operator's effective date and may be backdated. It orders
  report lines but never commit order. Seq is commit order.

SEE ALSO:
  - store.go: UnitOfWork.AppendEntry, the only write
  - reconcile.go: Backward roll over entries dated after a period
*/
package inventory

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// LEDGER - Read side of the append-only log
// =============================================================================

// Ledger answers queries over committed entries. Read-only.
type Ledger interface {
	// Entries returns all entries for an item ordered by Date, then Seq.
	Entries(ctx context.Context, itemID ItemID) ([]LedgerEntry, error)

	// EntriesInRange returns entries of every item with Date in [from, to],
	// ordered by Date, then Seq.
	EntriesInRange(ctx context.Context, from, to time.Time) ([]LedgerEntry, error)

	// EntriesSince returns entries of every item with Date >= from.
	EntriesSince(ctx context.Context, from time.Time) ([]LedgerEntry, error)
}

// =============================================================================
// FOLD HELPERS
// =============================================================================

// Fold applies entries on top of initial.
func Fold(initial decimal.Decimal, entries []LedgerEntry) decimal.Decimal {
	balance := initial
	for _, e := range entries {
		balance = balance.Add(e.Delta())
	}
	return balance
}

// Totals sums RECEIVE and ISSUE magnitudes separately.
func Totals(entries []LedgerEntry) (received, issued decimal.Decimal) {
	received, issued = decimal.Zero, decimal.Zero
	for _, e := range entries {
		switch e.Type {
		case MovementReceive:
			received = received.Add(e.Quantity)
		case MovementIssue:
			issued = issued.Add(e.Quantity)
		}
	}
	return received, issued
}

// SortByDate orders entries chronologically by effective date, breaking
// ties by commit order.
func SortByDate(entries []LedgerEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].Date.Equal(entries[j].Date) {
			return entries[i].Date.Before(entries[j].Date)
		}
		return entries[i].Seq < entries[j].Seq
	})
}

// SortBySeq orders entries in commit order.
func SortBySeq(entries []LedgerEntry) {
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Seq < entries[j].Seq })
}

// GroupByItem buckets entries by item id, preserving input order.
func GroupByItem(entries []LedgerEntry) map[ItemID][]LedgerEntry {
	out := make(map[ItemID][]LedgerEntry)
	for _, e := range entries {
		out[e.ItemID] = append(out[e.ItemID], e)
	}
	return out
}
