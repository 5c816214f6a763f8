package inventory_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/gridmaster/spares-ledger/inventory"
	"github.com/gridmaster/spares-ledger/inventory/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func october2025() inventory.Period {
	return inventory.MonthPeriod(2025, time.October, time.UTC)
}

func day(month time.Month, d int) time.Time {
	return time.Date(2025, month, d, 10, 0, 0, 0, time.UTC)
}

func dated(m inventory.Movement, at time.Time) inventory.Movement {
	m.Date = at
	return m
}

func mustExecute(t *testing.T, ex *inventory.Executor, m inventory.Movement) *inventory.LedgerEntry {
	t.Helper()
	e, err := ex.Execute(context.Background(), m)
	require.NoError(t, err)
	return e
}

// =============================================================================
// BALANCE DERIVATION
// =============================================================================

func TestReport_CurrentMonth_ClosingIsLiveQuantity(t *testing.T) {
	// GIVEN: An item that started at 10, received 100 and issued 4 in October,
	//        so it now holds 106
	// WHEN: Generating the October report
	// THEN: closing = 106, opening = 106 + 4 − 100 = 10

	ex, st := newTestExecutor(t)
	addItem(t, st, "oil-1", "Transformer Oil", "10")
	mustExecute(t, ex, dated(receive("oil-1", "100"), day(time.October, 3)))
	mustExecute(t, ex, dated(issue("oil-1", "4"), day(time.October, 20)))

	report, err := inventory.NewReconciliationEngine(st).GenerateReport(context.Background(), october2025())
	require.NoError(t, err)

	require.Len(t, report.Rows, 1)
	row := report.Rows[0]
	assert.Equal(t, 1, row.SerialNumber)
	assert.True(t, row.ClosingBalance.Equal(qty("106")), "closing %s", row.ClosingBalance)
	assert.True(t, row.OpeningBalance.Equal(qty("10")), "opening %s", row.OpeningBalance)
	assert.True(t, row.TotalReceived.Equal(qty("100")))
	assert.True(t, row.TotalIssued.Equal(qty("4")))
	assert.True(t, row.TotalValue.Equal(qty("26500")))
	assert.False(t, report.RolledBack)
	assert.Empty(t, row.Anomalies)
}

func TestReport_PastMonth_RollsBackLaterMovements(t *testing.T) {
	// GIVEN: October as above, then November ISSUE 6 and RECEIVE 20 (now 120)
	// WHEN: Generating the October report in December
	// THEN: Closing is still 106 (not the live 120) and opening is 10

	ex, st := newTestExecutor(t)
	addItem(t, st, "oil-1", "Transformer Oil", "10")
	mustExecute(t, ex, dated(receive("oil-1", "100"), day(time.October, 3)))
	mustExecute(t, ex, dated(issue("oil-1", "4"), day(time.October, 20)))
	mustExecute(t, ex, dated(issue("oil-1", "6"), day(time.November, 2)))
	mustExecute(t, ex, dated(receive("oil-1", "20"), day(time.November, 9)))

	report, err := inventory.NewReconciliationEngine(st).GenerateReport(context.Background(), october2025())
	require.NoError(t, err)

	row := report.Rows[0]
	assert.True(t, row.ClosingBalance.Equal(qty("106")), "closing %s", row.ClosingBalance)
	assert.True(t, row.OpeningBalance.Equal(qty("10")), "opening %s", row.OpeningBalance)
	assert.True(t, report.RolledBack)
}

func TestReport_ConsecutiveMonths_Chain(t *testing.T) {
	// Closing of September equals opening of October.

	ex, st := newTestExecutor(t)
	addItem(t, st, "x", "Item X", "50")
	mustExecute(t, ex, dated(issue("x", "5"), day(time.September, 10)))
	mustExecute(t, ex, dated(receive("x", "12"), day(time.October, 1)))
	mustExecute(t, ex, dated(issue("x", "7"), day(time.October, 31)))
	mustExecute(t, ex, dated(issue("x", "1"), day(time.November, 15)))

	engine := inventory.NewReconciliationEngine(st)
	sep, err := engine.GenerateReport(context.Background(), october2025().PreviousMonth())
	require.NoError(t, err)
	oct, err := engine.GenerateReport(context.Background(), october2025())
	require.NoError(t, err)

	assert.True(t, sep.Rows[0].OpeningBalance.Equal(qty("50")))
	assert.True(t, sep.Rows[0].ClosingBalance.Equal(oct.Rows[0].OpeningBalance))
	assert.True(t, oct.Rows[0].ClosingBalance.Equal(qty("50")))
}

func TestReport_BackdatedIntoPeriod_CountsInPeriod(t *testing.T) {
	// GIVEN: A movement committed in November but dated October 15
	// THEN: It is an October line, not a rolled-back one

	ex, st := newTestExecutor(t)
	addItem(t, st, "x", "Item X", "5")
	mustExecute(t, ex, dated(receive("x", "3"), day(time.November, 20)))
	mustExecute(t, ex, dated(issue("x", "2"), day(time.October, 15)))

	report, err := inventory.NewReconciliationEngine(st).GenerateReport(context.Background(), october2025())
	require.NoError(t, err)

	row := report.Rows[0]
	require.Len(t, row.Issues, 1)
	assert.True(t, row.ClosingBalance.Equal(qty("3")))
	assert.True(t, row.OpeningBalance.Equal(qty("5")))
}

// =============================================================================
// ROW CONTENT AND ORDER
// =============================================================================

func TestReport_RowsOrderedBySortIndex_LinesChronological(t *testing.T) {
	ex, st := newTestExecutor(t)
	ctx := context.Background()
	for i, name := range []string{"Zinc Anode", "Breaker Coil", "Anchor Bolt"} {
		require.NoError(t, st.CreateItem(ctx, inventory.Item{
			ID: inventory.ItemID(name), LegacyName: name, SortIndex: 2 - i, Nickname: "nick " + name,
			Quantity: qty("100"), InitialQuantity: qty("100"),
		}))
	}
	mustExecute(t, ex, dated(issue("Breaker Coil", "3"), day(time.October, 25)))
	mustExecute(t, ex, dated(issue("Breaker Coil", "1"), day(time.October, 5)))
	mustExecute(t, ex, dated(receive("Breaker Coil", "9"), day(time.October, 12)))

	report, err := inventory.NewReconciliationEngine(st).GenerateReport(ctx, october2025())
	require.NoError(t, err)

	require.Len(t, report.Rows, 3)
	assert.Equal(t, "Anchor Bolt", report.Rows[0].Name)
	assert.Equal(t, "Breaker Coil", report.Rows[1].Name)
	assert.Equal(t, "Zinc Anode", report.Rows[2].Name)
	assert.Equal(t, []int{1, 2, 3}, []int{report.Rows[0].SerialNumber, report.Rows[1].SerialNumber, report.Rows[2].SerialNumber})

	coil := report.Rows[1]
	require.Len(t, coil.Issues, 2)
	assert.True(t, coil.Issues[0].Date.Before(coil.Issues[1].Date))
	require.Len(t, coil.Receipts, 1)
	assert.Equal(t, "nick Breaker Coil", coil.Remarks)
}

func TestReport_PeriodBoundsInclusive(t *testing.T) {
	ex, st := newTestExecutor(t)
	addItem(t, st, "x", "Item X", "10")
	p := october2025()
	mustExecute(t, ex, dated(issue("x", "1"), p.Start))
	mustExecute(t, ex, dated(issue("x", "2"), p.End))

	report, err := inventory.NewReconciliationEngine(st).GenerateReport(context.Background(), p)
	require.NoError(t, err)
	assert.True(t, report.Rows[0].TotalIssued.Equal(qty("3")))
}

// =============================================================================
// EDGE CASES
// =============================================================================

func TestReport_NoItems_EmptyReport(t *testing.T) {
	report, err := inventory.NewReconciliationEngine(store.NewTxMemory()).GenerateReport(context.Background(), october2025())
	require.NoError(t, err)
	assert.Empty(t, report.Rows)
}

func TestReport_EndBeforeStart_InvalidPeriod(t *testing.T) {
	p := inventory.Period{Start: day(time.October, 10), End: day(time.October, 1)}
	_, err := inventory.NewReconciliationEngine(store.NewTxMemory()).GenerateReport(context.Background(), p)
	assert.ErrorIs(t, err, inventory.ErrInvalidPeriod)
}

func TestReport_InconsistentHistory_FlaggedNotRaised(t *testing.T) {
	// GIVEN: An item at 0 that received 5 on Nov 10, and an ISSUE of 5
	//        backdated to Oct 5 (before the stock physically arrived)
	// WHEN: Generating October
	// THEN: The report renders; closing is -5 and the row is flagged

	ex, st := newTestExecutor(t)
	addItem(t, st, "x", "Item X", "0")
	mustExecute(t, ex, dated(receive("x", "5"), day(time.November, 10)))
	mustExecute(t, ex, dated(issue("x", "5"), day(time.October, 5)))

	report, err := inventory.NewReconciliationEngine(st).GenerateReport(context.Background(), october2025())
	require.NoError(t, err)

	row := report.Rows[0]
	assert.True(t, row.ClosingBalance.Equal(qty("-5")), "closing %s", row.ClosingBalance)
	assert.True(t, row.OpeningBalance.IsZero())
	assert.Contains(t, row.Anomalies, "negative closing balance -5")
	assert.True(t, report.HasAnomalies())
}

func TestReport_ItemCreatedAfterPeriod_Flagged(t *testing.T) {
	ex, st := newTestExecutor(t)
	require.NoError(t, st.CreateItem(context.Background(), inventory.Item{
		ID: "late", LegacyName: "Late Item", Quantity: qty("1"), InitialQuantity: qty("1"),
		CreatedAt: day(time.December, 5),
	}))
	mustExecute(t, ex, dated(issue("late", "1"), day(time.October, 3)))
	mustExecute(t, ex, dated(receive("late", "4"), day(time.November, 3)))

	report, err := inventory.NewReconciliationEngine(st).GenerateReport(context.Background(), october2025())
	require.NoError(t, err)

	row := report.Rows[0]
	assert.True(t, row.ClosingBalance.IsZero())
	assert.True(t, row.OpeningBalance.Equal(qty("1")))
	assert.Contains(t, row.Anomalies, "item created after period end")
}

// =============================================================================
// FOLD CHECK
// =============================================================================

func TestVerifyItem_ConsistentAfterMovements(t *testing.T) {
	ex, st := newTestExecutor(t)
	addItem(t, st, "x", "Item X", "10")
	mustExecute(t, ex, issue("x", "4"))
	mustExecute(t, ex, receive("x", "1.5"))

	check, err := inventory.NewReconciliationEngine(st).VerifyItem(context.Background(), "x")
	require.NoError(t, err)
	assert.True(t, check.Consistent())
	assert.Equal(t, 2, check.Entries)
	assert.True(t, check.Expected.Equal(qty("7.5")))
	assert.True(t, check.Drift().IsZero())
}

func TestVerifyItem_ReportsDrift(t *testing.T) {
	st := store.NewTxMemory()
	require.NoError(t, st.CreateItem(context.Background(), inventory.Item{
		ID: "x", LegacyName: "Item X", Quantity: qty("7"), InitialQuantity: qty("5"),
	}))

	check, err := inventory.NewReconciliationEngine(st).VerifyItem(context.Background(), "x")
	require.NoError(t, err)
	assert.False(t, check.Consistent())
	assert.True(t, check.Drift().Equal(qty("2")))
}

func TestVerifyItem_UnknownItem(t *testing.T) {
	_, err := inventory.NewReconciliationEngine(store.NewTxMemory()).VerifyItem(context.Background(), "ghost")
	assert.ErrorIs(t, err, inventory.ErrItemNotFound)
}

// =============================================================================
// PERIODS
// =============================================================================

func TestParseMonth(t *testing.T) {
	p, err := inventory.ParseMonth("2025-02", time.UTC)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, time.February, 1, 0, 0, 0, 0, time.UTC), p.Start)
	assert.Equal(t, time.Date(2025, time.February, 28, 23, 59, 59, 999999999, time.UTC), p.End)

	_, err = inventory.ParseMonth("Feb 2025", time.UTC)
	assert.ErrorIs(t, err, inventory.ErrInvalidPeriod)
}

// =============================================================================
// SNAPSHOT CONSISTENCY
// =============================================================================

// racingLedger commits a movement after the engine has read the items and
// before it reads the ledger.
type racingLedger struct {
	inventory.Ledger
	once sync.Once
	race func()
}

func (l *racingLedger) EntriesSince(ctx context.Context, from time.Time) ([]inventory.LedgerEntry, error) {
	l.once.Do(l.race)
	return l.Ledger.EntriesSince(ctx, from)
}

func (l *racingLedger) Entries(ctx context.Context, itemID inventory.ItemID) ([]inventory.LedgerEntry, error) {
	l.once.Do(l.race)
	return l.Ledger.Entries(ctx, itemID)
}

func TestReport_MovementBetweenReads_IgnoredForStaleItem(t *testing.T) {
	// GIVEN: An item at 10 that received 100 in October (now 110)
	// WHEN: An ISSUE of 30 dated in October commits after the report read
	//       the item but before it read the ledger
	// THEN: The row matches the item it read: opening 10, closing 110, and
	//       the late ISSUE is not listed

	ex, st := newTestExecutor(t)
	addItem(t, st, "oil-1", "Transformer Oil", "10")
	mustExecute(t, ex, dated(receive("oil-1", "100"), day(time.October, 3)))

	engine := inventory.NewReconciliationEngine(st)
	engine.Ledger = &racingLedger{Ledger: st, race: func() {
		mustExecute(t, ex, dated(issue("oil-1", "30"), day(time.October, 25)))
	}}

	report, err := engine.GenerateReport(context.Background(), october2025())
	require.NoError(t, err)

	require.Len(t, report.Rows, 1)
	row := report.Rows[0]
	assert.True(t, row.OpeningBalance.Equal(qty("10")), "opening %s", row.OpeningBalance)
	assert.True(t, row.ClosingBalance.Equal(qty("110")), "closing %s", row.ClosingBalance)
	assert.True(t, row.TotalReceived.Equal(qty("100")))
	assert.True(t, row.TotalIssued.IsZero())
	assert.Empty(t, row.Issues)
	assert.Empty(t, row.Anomalies)

	// the movement itself did commit
	assert.True(t, quantityOf(t, st, "oil-1").Equal(qty("80")))
}

func TestVerifyItem_MovementBetweenReads_StillConsistent(t *testing.T) {
	// GIVEN: An item at 10 that issued 4 (now 6)
	// WHEN: A RECEIVE of 5 commits between reading the item and its entries
	// THEN: The check folds only the entries the item had seen

	ex, st := newTestExecutor(t)
	addItem(t, st, "x", "Item X", "10")
	mustExecute(t, ex, issue("x", "4"))

	engine := inventory.NewReconciliationEngine(st)
	engine.Ledger = &racingLedger{Ledger: st, race: func() {
		mustExecute(t, ex, receive("x", "5"))
	}}

	check, err := engine.VerifyItem(context.Background(), "x")
	require.NoError(t, err)
	assert.True(t, check.Consistent(), "expected %s actual %s", check.Expected, check.Actual)
	assert.Equal(t, 1, check.Entries)
	assert.True(t, check.Actual.Equal(qty("6")))
	assert.True(t, quantityOf(t, st, "x").Equal(qty("11")))
}
