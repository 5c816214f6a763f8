package inventory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/gridmaster/spares-ledger/feed"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// =============================================================================
// CATALOG - Manual item creation and descriptive edits
// =============================================================================

// Catalog creates items and edits their descriptive fields. It never
// changes Quantity; that belongs to the Executor.
type Catalog struct {
	Store     ItemStore
	Publisher feed.Publisher
	Logger    *zap.Logger
	Now       func() time.Time
	NewID     func() string
}

func NewCatalog(store ItemStore) *Catalog {
	return &Catalog{
		Store:  store,
		Logger: zap.NewNop(),
		Now:    func() time.Time { return time.Now().UTC() },
		NewID:  uuid.NewString,
	}
}

// Create adds a new item with the given opening stock.
func (c *Catalog) Create(ctx context.Context, details ItemDetails, initial decimal.Decimal) (*Item, error) {
	if err := details.Validate(); err != nil {
		return nil, err
	}
	if initial.IsNegative() {
		return nil, fmt.Errorf("%w: initial stock %s is negative", ErrInvalidQuantity, initial)
	}

	now := c.now()
	item := Item{
		ID:              ItemID(c.newID()),
		Quantity:        initial,
		InitialQuantity: initial,
		CreatedAt:       now,
		LastUpdated:     now,
	}
	details.Apply(&item)

	if err := c.Store.CreateItem(ctx, item); err != nil {
		return nil, err
	}
	c.logger().Info("item created", zap.String("item_id", string(item.ID)), zap.String("name", item.LegacyName))
	c.publish(ctx, feed.Event{Kind: feed.KindItemCreated, ItemID: string(item.ID), Quantity: item.Quantity.String(), At: now})
	return &item, nil
}

// UpdateDetails replaces the descriptive fields of an existing item.
func (c *Catalog) UpdateDetails(ctx context.Context, id ItemID, details ItemDetails) (*Item, error) {
	if err := details.Validate(); err != nil {
		return nil, err
	}
	now := c.now()
	item, err := c.Store.UpdateItemDetails(ctx, id, details, now)
	if err != nil {
		return nil, err
	}
	c.publish(ctx, feed.Event{Kind: feed.KindItemUpdated, ItemID: string(id), Version: item.Version, At: now})
	return item, nil
}

func (c *Catalog) publish(ctx context.Context, ev feed.Event) {
	if c.Publisher == nil {
		return
	}
	if err := c.Publisher.Publish(context.WithoutCancel(ctx), ev); err != nil {
		c.logger().Warn("publish change event", zap.String("kind", string(ev.Kind)), zap.Error(err))
	}
}

func (c *Catalog) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now().UTC()
}

func (c *Catalog) newID() string {
	if c.NewID != nil {
		return c.NewID()
	}
	return uuid.NewString()
}

func (c *Catalog) logger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}
