/*
projection.go - Query/search view of the item table

PURPOSE:
  The item list screen filters hundreds of materials as the operator
  types. Projection keeps a read-only copy of every item in memory and
  answers those searches without touching the store.

HOW IT STAYS CURRENT:
  The Executor does not update the projection. The projection follows the
  change feed: a quantity or detail event reloads that one item, a seed
  event reloads everything. A missed event leaves the view stale until
  the next Refresh, never wrong in the store.

MATCHING:
  - Query is a case-insensitive substring of LegacyName, StandardName or
    Nickname, or an exact MasterSN when the query is a number
  - LowStockOnly keeps items at or below a positive MinStock
  - Results are ordered by SortIndex, like the master sheet

READ-ONLY:
  Projection never writes an item. It holds copies, so callers may modify
  what Search returns without affecting the view.
*/
package inventory

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/gridmaster/spares-ledger/feed"
	"go.uber.org/zap"
)

// Filter narrows a projection search.
type Filter struct {
	Query        string
	LowStockOnly bool
}

// Projection is an in-memory searchable copy of the item table.
type Projection struct {
	source ItemStore
	logger *zap.Logger

	mu    sync.RWMutex
	items map[ItemID]Item
}

func NewProjection(source ItemStore, logger *zap.Logger) *Projection {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Projection{source: source, logger: logger, items: make(map[ItemID]Item)}
}

// Refresh reloads every item from the store.
func (p *Projection) Refresh(ctx context.Context) error {
	items, err := p.source.ListItems(ctx)
	if err != nil {
		return fmt.Errorf("refresh projection: %w", err)
	}
	next := make(map[ItemID]Item, len(items))
	for _, item := range items {
		next[item.ID] = item
	}
	p.mu.Lock()
	p.items = next
	p.mu.Unlock()
	return nil
}

// Run applies events until ctx is done or events is closed.
func (p *Projection) Run(ctx context.Context, events <-chan feed.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			p.Apply(ctx, ev)
		}
	}
}

// Apply brings the view up to date with one event.
func (p *Projection) Apply(ctx context.Context, ev feed.Event) {
	switch ev.Kind {
	case feed.KindSeeded:
		if err := p.Refresh(ctx); err != nil {
			p.logger.Warn("projection refresh after seed", zap.Error(err))
		}
	case feed.KindQuantityChanged, feed.KindItemCreated, feed.KindItemUpdated:
		item, err := p.source.GetItem(ctx, ItemID(ev.ItemID))
		if err != nil {
			p.logger.Warn("projection reload item", zap.String("item_id", ev.ItemID), zap.Error(err))
			return
		}
		p.mu.Lock()
		// events can arrive out of order across instances
		if cur, ok := p.items[item.ID]; !ok || cur.Version <= item.Version {
			p.items[item.ID] = *item
		}
		p.mu.Unlock()
	}
}

// Get returns the projected copy of one item.
func (p *Projection) Get(id ItemID) (Item, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	item, ok := p.items[id]
	return item, ok
}

// Len returns the number of projected items.
func (p *Projection) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.items)
}

// Search returns matching items ordered by SortIndex.
func (p *Projection) Search(f Filter) []Item {
	q := strings.ToLower(strings.TrimSpace(f.Query))
	sn, snErr := strconv.Atoi(q)

	p.mu.RLock()
	out := make([]Item, 0, len(p.items))
	for _, item := range p.items {
		if f.LowStockOnly && !item.IsLowStock() {
			continue
		}
		if q != "" && !matches(item, q, sn, snErr == nil) {
			continue
		}
		out = append(out, item)
	}
	p.mu.RUnlock()

	sortForReport(out)
	return out
}

func matches(item Item, q string, sn int, isNumber bool) bool {
	if isNumber && item.MasterSN == sn {
		return true
	}
	return strings.Contains(strings.ToLower(item.LegacyName), q) ||
		strings.Contains(strings.ToLower(item.StandardName), q) ||
		strings.Contains(strings.ToLower(item.Nickname), q)
}
