// Package store provides in-process implementations of the inventory
// persistence contracts.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gridmaster/spares-ledger/inventory"
	"github.com/shopspring/decimal"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu      sync.RWMutex
	items   map[inventory.ItemID]inventory.Item
	entries []inventory.LedgerEntry // commit order
	seq     int64
	seeded  bool
	runs    map[string]inventory.ReportRun
}

func NewMemory() *Memory {
	return &Memory{
		items: make(map[inventory.ItemID]inventory.Item),
		runs:  make(map[string]inventory.ReportRun),
	}
}

func (m *Memory) GetItem(_ context.Context, id inventory.ItemID) (*inventory.Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getLocked(id)
}

func (m *Memory) getLocked(id inventory.ItemID) (*inventory.Item, error) {
	item, ok := m.items[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", inventory.ErrItemNotFound, id)
	}
	return &item, nil
}

func (m *Memory) ListItems(_ context.Context) ([]inventory.Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]inventory.Item, 0, len(m.items))
	for _, item := range m.items {
		result = append(result, item)
	}
	sort.Slice(result, func(i, j int) bool {
		a, b := result[i], result[j]
		if a.SortIndex != b.SortIndex {
			return a.SortIndex < b.SortIndex
		}
		if a.LegacyName != b.LegacyName {
			return a.LegacyName < b.LegacyName
		}
		return a.ID < b.ID
	})
	return result, nil
}

func (m *Memory) CreateItem(_ context.Context, item inventory.Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertLocked(item)
}

func (m *Memory) insertLocked(item inventory.Item) error {
	if item.ID == "" {
		return fmt.Errorf("%w: missing id", inventory.ErrInvalidItem)
	}
	if _, exists := m.items[item.ID]; exists {
		return fmt.Errorf("%w: duplicate id %s", inventory.ErrInvalidItem, item.ID)
	}
	if item.Quantity.IsNegative() {
		return fmt.Errorf("%w: negative quantity %s", inventory.ErrInvalidItem, item.Quantity)
	}
	m.items[item.ID] = item
	return nil
}

func (m *Memory) UpdateItemDetails(_ context.Context, id inventory.ItemID, details inventory.ItemDetails, at time.Time) (*inventory.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.items[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", inventory.ErrItemNotFound, id)
	}
	details.Apply(&item)
	item.LastUpdated = at
	m.items[id] = item
	return &item, nil
}

// SeedItems inserts all items and marks the store seeded, or nothing.
func (m *Memory) SeedItems(_ context.Context, items []inventory.Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.seeded || len(m.items) > 0 {
		return inventory.ErrAlreadySeeded
	}
	snapshot := m.snapshot()
	for _, item := range items {
		if err := m.insertLocked(item); err != nil {
			m.restore(snapshot)
			return err
		}
	}
	m.seeded = true
	return nil
}

// =============================================================================
// LEDGER QUERIES
// =============================================================================

func (m *Memory) Entries(_ context.Context, itemID inventory.ItemID) ([]inventory.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.filterLocked(func(e inventory.LedgerEntry) bool { return e.ItemID == itemID }), nil
}

func (m *Memory) EntriesInRange(_ context.Context, from, to time.Time) ([]inventory.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.filterLocked(func(e inventory.LedgerEntry) bool {
		return !e.Date.Before(from) && !e.Date.After(to)
	}), nil
}

func (m *Memory) EntriesSince(_ context.Context, from time.Time) ([]inventory.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.filterLocked(func(e inventory.LedgerEntry) bool { return !e.Date.Before(from) }), nil
}

// filterLocked returns copies ordered by Date, then Seq.
func (m *Memory) filterLocked(keep func(inventory.LedgerEntry) bool) []inventory.LedgerEntry {
	var result []inventory.LedgerEntry
	for _, e := range m.entries {
		if keep(e) {
			result = append(result, e)
		}
	}
	inventory.SortByDate(result)
	return result
}

// =============================================================================
// REPORT RUNS
// =============================================================================

func (m *Memory) SaveReportRun(_ context.Context, run inventory.ReportRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[run.ID] = run
	return nil
}

func (m *Memory) ListReportRuns(_ context.Context) ([]inventory.ReportRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]inventory.ReportRun, 0, len(m.runs))
	for _, r := range m.runs {
		result = append(result, r)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].StartedAt.After(result[j].StartedAt) })
	return result, nil
}

func (m *Memory) IsReportComplete(_ context.Context, start, end time.Time) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.runs {
		if r.Status == inventory.RunCompleted && r.PeriodStart.Equal(start) && r.PeriodEnd.Equal(end) {
			return true, nil
		}
	}
	return false, nil
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a store-wide lock, a snapshot
// and a rollback on error.
func (tm *TxMemory) WithTx(ctx context.Context, fn func(inventory.UnitOfWork) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.snapshot()
	if err := fn(&txMemoryView{parent: tm}); err != nil {
		tm.restore(snapshot)
		return err
	}
	return nil
}

type memorySnapshot struct {
	items   map[inventory.ItemID]inventory.Item
	entries int
	seq     int64
	seeded  bool
}

// snapshot copies the item map; entries are append-only so a length is enough.
func (m *Memory) snapshot() memorySnapshot {
	items := make(map[inventory.ItemID]inventory.Item, len(m.items))
	for k, v := range m.items {
		items[k] = v
	}
	return memorySnapshot{items: items, entries: len(m.entries), seq: m.seq, seeded: m.seeded}
}

func (m *Memory) restore(s memorySnapshot) {
	m.items = s.items
	m.entries = m.entries[:s.entries]
	m.seq = s.seq
	m.seeded = s.seeded
}

type txMemoryView struct {
	parent *TxMemory
}

func (tv *txMemoryView) LoadItem(_ context.Context, id inventory.ItemID) (*inventory.Item, error) {
	return tv.parent.getLocked(id)
}

func (tv *txMemoryView) SaveQuantity(_ context.Context, id inventory.ItemID, qty decimal.Decimal, expectVersion int64, at time.Time) error {
	item, ok := tv.parent.items[id]
	if !ok {
		return fmt.Errorf("%w: %s", inventory.ErrItemNotFound, id)
	}
	if item.Version != expectVersion {
		return fmt.Errorf("%w: %s at version %d, expected %d", inventory.ErrConcurrencyConflict, id, item.Version, expectVersion)
	}
	if qty.IsNegative() {
		return &inventory.InsufficientStockError{ItemID: id, Available: item.Quantity, Requested: item.Quantity.Sub(qty)}
	}
	item.Quantity = qty
	item.Version++
	item.LastUpdated = at
	tv.parent.items[id] = item
	return nil
}

func (tv *txMemoryView) AppendEntry(_ context.Context, entry *inventory.LedgerEntry) error {
	if _, ok := tv.parent.items[entry.ItemID]; !ok {
		return fmt.Errorf("%w: %s", inventory.ErrItemNotFound, entry.ItemID)
	}
	tv.parent.seq++
	entry.Seq = tv.parent.seq
	if entry.RecordedAt.IsZero() {
		entry.RecordedAt = time.Now().UTC()
	}
	tv.parent.entries = append(tv.parent.entries, *entry)
	return nil
}
