/*
reconcile.go - Opening/closing balance reconstruction (MAS report)

PURPOSE:
  Produces the monthly material account statement: for every item, the
  stock at the start and end of a period and the movements in between.
  Read-only. Nothing here writes to an item or the ledger.

THE BACKWARD ROLL:
  Only the live quantity is stored. The balance at the end of a past
  period is recovered by undoing every movement dated after it:

    closing = quantity − Σ RECEIVE(date > end) + Σ ISSUE(date > end)
    opening = closing + issued(in period) − received(in period)

  When nothing is dated after the period end, closing is simply the live
  quantity. Report.RolledBack tells consumers when that was not the case.

  Example (October, item now at 106):
    Oct 03 RECEIVE 100, Oct 20 ISSUE 4, nothing after October
    closing = 106, opening = 106 + 4 − 100 = 10

SNAPSHOT CONSISTENCY:
  Items are read before the ledger. An entry whose ItemVersion is greater
  than the item version that was read committed in between and is not
  part of the quantity we hold, so it is ignored for that report.

ANOMALIES:
  The report never fails on imperfect history. Negative derived balances
  and items created after the period are flagged on the row instead.

SEE ALSO:
  - ledger.go: Fold, Totals, SortByDate
  - sheet/: spreadsheet rendering of Report
*/
package inventory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// =============================================================================
// REPORT TYPES
// =============================================================================

// MovementLine is one receipt or issue as shown on a report row.
type MovementLine struct {
	EntryID   EntryID
	Date      time.Time
	Reference string
	Quantity  decimal.Decimal
}

// ReportRow is one item of the statement.
type ReportRow struct {
	SerialNumber int // 1-based position in the report
	ItemID       ItemID
	Name         string
	Unit         string

	OpeningBalance decimal.Decimal
	Receipts       []MovementLine // chronological
	Issues         []MovementLine // chronological
	TotalReceived  decimal.Decimal
	TotalIssued    decimal.Decimal
	ClosingBalance decimal.Decimal

	UnitRate     decimal.Decimal
	TotalValue   decimal.Decimal // ClosingBalance × UnitRate
	Remarks      string          // nickname
	StandardName string

	Anomalies []string
}

// Report is the statement for one period.
type Report struct {
	Period      Period
	GeneratedAt time.Time
	Rows        []ReportRow

	// RolledBack is true when at least one movement dated after the period
	// was undone to reach the closing balances.
	RolledBack bool
}

// HasAnomalies reports whether any row carries an anomaly flag.
func (r *Report) HasAnomalies() bool {
	for _, row := range r.Rows {
		if len(row.Anomalies) > 0 {
			return true
		}
	}
	return false
}

// =============================================================================
// RECONCILIATION ENGINE
// =============================================================================

// ReconciliationEngine derives balances from items and the ledger.
type ReconciliationEngine struct {
	Items  ItemStore
	Ledger Ledger
	Logger *zap.Logger
	Now    func() time.Time
}

// NewReconciliationEngine builds an engine over a single store.
func NewReconciliationEngine(store TxStore) *ReconciliationEngine {
	return &ReconciliationEngine{
		Items:  store,
		Ledger: store,
		Logger: zap.NewNop(),
		Now:    func() time.Time { return time.Now().UTC() },
	}
}

// GenerateReport builds the statement for period.
func (r *ReconciliationEngine) GenerateReport(ctx context.Context, period Period) (*Report, error) {
	if err := period.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidPeriod, period)
	}

	items, err := r.Items.ListItems(ctx)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	sortForReport(items)

	// one query covers both the in-period lines and the roll after End
	entries, err := r.Ledger.EntriesSince(ctx, period.Start)
	if err != nil {
		return nil, fmt.Errorf("load entries since %s: %w", period.Start.Format(time.RFC3339), err)
	}
	byItem := GroupByItem(entries)

	report := &Report{
		Period:      period,
		GeneratedAt: r.now(),
		Rows:        make([]ReportRow, 0, len(items)),
	}

	for i, item := range items {
		row, rolled := buildRow(item, byItem[item.ID], period)
		row.SerialNumber = i + 1
		if rolled {
			report.RolledBack = true
		}
		report.Rows = append(report.Rows, row)
	}

	r.logger().Info("report generated",
		zap.String("period", period.String()),
		zap.Int("rows", len(report.Rows)),
		zap.Int("entries", len(entries)),
		zap.Bool("rolled_back", report.RolledBack),
	)
	return report, nil
}

func buildRow(item Item, entries []LedgerEntry, period Period) (ReportRow, bool) {
	var inPeriod, after []LedgerEntry
	for _, e := range entries {
		if e.ItemVersion > item.Version {
			continue
		}
		switch {
		case period.Contains(e.Date):
			inPeriod = append(inPeriod, e)
		case e.Date.After(period.End):
			after = append(after, e)
		}
	}
	SortByDate(inPeriod)

	// roll the live quantity back past everything dated after End
	closing := item.Quantity
	for _, e := range after {
		closing = closing.Sub(e.Delta())
	}

	received, issued := Totals(inPeriod)
	opening := closing.Add(issued).Sub(received)

	row := ReportRow{
		ItemID:         item.ID,
		Name:           item.LegacyName,
		Unit:           item.Unit,
		OpeningBalance: opening,
		TotalReceived:  received,
		TotalIssued:    issued,
		ClosingBalance: closing,
		UnitRate:       item.UnitRate,
		TotalValue:     closing.Mul(item.UnitRate),
		Remarks:        item.Nickname,
		StandardName:   item.StandardName,
	}
	// lines are shown in the report's zone, whatever zone the store returned
	loc := period.Start.Location()
	for _, e := range inPeriod {
		line := MovementLine{EntryID: e.ID, Date: e.Date.In(loc), Reference: e.Reference, Quantity: e.Quantity}
		if e.Type == MovementReceive {
			row.Receipts = append(row.Receipts, line)
		} else {
			row.Issues = append(row.Issues, line)
		}
	}

	if opening.IsNegative() {
		row.Anomalies = append(row.Anomalies, fmt.Sprintf("negative opening balance %s", opening))
	}
	if closing.IsNegative() {
		row.Anomalies = append(row.Anomalies, fmt.Sprintf("negative closing balance %s", closing))
	}
	if !item.CreatedAt.IsZero() && item.CreatedAt.After(period.End) {
		row.Anomalies = append(row.Anomalies, "item created after period end")
	}
	return row, len(after) > 0
}

// sortForReport orders items by SortIndex, then LegacyName, then ID.
func sortForReport(items []Item) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.SortIndex != b.SortIndex {
			return a.SortIndex < b.SortIndex
		}
		if a.LegacyName != b.LegacyName {
			return a.LegacyName < b.LegacyName
		}
		return a.ID < b.ID
	})
}

// =============================================================================
// FOLD CHECK - Audit of the materialized quantity
// =============================================================================

// FoldCheck compares an item's stored quantity with the fold of its ledger.
type FoldCheck struct {
	ItemID          ItemID
	InitialQuantity decimal.Decimal
	Received        decimal.Decimal
	Issued          decimal.Decimal
	Expected        decimal.Decimal // InitialQuantity + Received − Issued
	Actual          decimal.Decimal // Item.Quantity
	Entries         int

	// BrokenSeq lists entries whose QuantityAfter disagrees with the running
	// fold in commit order.
	BrokenSeq []int64
}

// Consistent reports whether the stored quantity matches the ledger.
func (c *FoldCheck) Consistent() bool {
	return c.Expected.Equal(c.Actual) && len(c.BrokenSeq) == 0
}

// Drift is Actual − Expected.
func (c *FoldCheck) Drift() decimal.Decimal { return c.Actual.Sub(c.Expected) }

// VerifyItem recomputes the fold invariant for one item from scratch.
func (r *ReconciliationEngine) VerifyItem(ctx context.Context, id ItemID) (*FoldCheck, error) {
	item, err := r.Items.GetItem(ctx, id)
	if err != nil {
		return nil, err
	}
	all, err := r.Ledger.Entries(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load entries for %s: %w", id, err)
	}

	entries := make([]LedgerEntry, 0, len(all))
	for _, e := range all {
		if e.ItemVersion <= item.Version {
			entries = append(entries, e)
		}
	}
	SortBySeq(entries)

	received, issued := Totals(entries)
	check := &FoldCheck{
		ItemID:          id,
		InitialQuantity: item.InitialQuantity,
		Received:        received,
		Issued:          issued,
		Expected:        Fold(item.InitialQuantity, entries),
		Actual:          item.Quantity,
		Entries:         len(entries),
	}

	running := item.InitialQuantity
	for _, e := range entries {
		running = running.Add(e.Delta())
		if !running.Equal(e.QuantityAfter) {
			check.BrokenSeq = append(check.BrokenSeq, e.Seq)
		}
	}

	if !check.Consistent() {
		r.logger().Warn("fold invariant violated",
			zap.String("item_id", string(id)),
			zap.String("expected", check.Expected.String()),
			zap.String("actual", check.Actual.String()),
			zap.Int("broken_entries", len(check.BrokenSeq)),
		)
	}
	return check, nil
}

func (r *ReconciliationEngine) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now().UTC()
}

func (r *ReconciliationEngine) logger() *zap.Logger {
	if r.Logger == nil {
		return zap.NewNop()
	}
	return r.Logger
}
