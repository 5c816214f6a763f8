/*
seed.go - One-time bulk import of the legacy master list

PURPOSE:
  The store starts life from the legacy master sheet: an ordered list of
  materials with their stock at the time of migration. Seed turns each row
  into an Item with a generated id and SortIndex equal to its position,
  so reports keep the sheet order the staff are used to.

AT MOST ONCE:
  "Check empty, then insert" lets two first launches both see an empty
  store and double-seed. Instead ItemStore.SeedItems inserts every item
  and a durable seeded marker in one transaction; the loser of a race (or
  any later run) gets ErrAlreadySeeded and nothing is written.

  Seeding is a migration step (cmd/seed, POST /api/seed), never part of
  server start-up.
*/
package inventory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/gridmaster/spares-ledger/feed"
	"go.uber.org/zap"
)

// Seeder performs the one-time import.
type Seeder struct {
	Store     ItemStore
	Publisher feed.Publisher
	Logger    *zap.Logger
	Now       func() time.Time
	NewID     func() string
}

func NewSeeder(store ItemStore) *Seeder {
	return &Seeder{
		Store:  store,
		Logger: zap.NewNop(),
		Now:    func() time.Time { return time.Now().UTC() },
		NewID:  uuid.NewString,
	}
}

// Seed creates rows in order. Quantity and InitialQuantity both start at
// the stated stock.
func (s *Seeder) Seed(ctx context.Context, rows []SeedItem) ([]Item, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: master list is empty", ErrInvalidItem)
	}

	now := time.Now().UTC()
	if s.Now != nil {
		now = s.Now()
	}
	newID := s.NewID
	if newID == nil {
		newID = uuid.NewString
	}

	items := make([]Item, 0, len(rows))
	for i, row := range rows {
		if err := row.Details.Validate(); err != nil {
			return nil, fmt.Errorf("row %d: %w", i+1, err)
		}
		if row.InitialStock.IsNegative() {
			return nil, fmt.Errorf("row %d: %w: initial stock %s is negative", i+1, ErrInvalidQuantity, row.InitialStock)
		}
		item := Item{
			ID:              ItemID(newID()),
			Quantity:        row.InitialStock,
			InitialQuantity: row.InitialStock,
			CreatedAt:       now,
			LastUpdated:     now,
		}
		row.Details.Apply(&item)
		item.SortIndex = i
		items = append(items, item)
	}

	if err := s.Store.SeedItems(ctx, items); err != nil {
		return nil, err
	}

	log := s.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log.Info("inventory seeded", zap.Int("items", len(items)))

	if s.Publisher != nil {
		if err := s.Publisher.Publish(context.WithoutCancel(ctx), feed.Event{Kind: feed.KindSeeded, At: now}); err != nil {
			log.Warn("publish seed event", zap.Error(err))
		}
	}
	return items, nil
}
