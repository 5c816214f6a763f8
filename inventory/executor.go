/*
executor.go - Transaction Executor, the single writer of stock

PURPOSE:
  Execute is the only path by which Item.Quantity changes and the only
  producer of LedgerEntry rows. It turns an operator's movement into one
  atomic unit of work: read the item, compute the new quantity, write it,
  append the entry. Either both writes commit or neither does.

WHY ATOMIC?
  Two field engineers issue against the same spare within seconds:

    A reads 5, B reads 5, A issues 4 -> 1, B issues 4 -> 1   (WRONG)

  Serialized, B must fail with InsufficientStock(available=1). The read
  happens inside the unit of work and the write is conditional on the
  version read, so the second writer either waits for the row lock or
  loses the version check and retries against fresh state.

FLOW:
  1. Validate (quantity > 0, known type) - nothing written on failure
  2. Obtain the per-item lock (optional)
  3. WithTx: LoadItem -> compute -> SaveQuantity -> AppendEntry
  4. Retry ErrConcurrencyConflict up to MaxAttempts, then ConflictError
  5. Publish a feed event (failure is logged, the movement stays committed)

CANCELLATION:
  A context that is already done before the first attempt aborts with no
  write. Once an attempt starts it runs on a context detached from the
  caller's cancellation and bounded by CommitTimeout, so a caller that
  times out still leaves exactly one outcome behind.

SEE ALSO:
  - store.go: UnitOfWork contract
  - errors.go: InsufficientStockError, ConflictError
*/
package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/gridmaster/spares-ledger/feed"
	"github.com/gridmaster/spares-ledger/lock"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	DefaultMaxAttempts   = 5
	DefaultRetryBackoff  = 20 * time.Millisecond
	DefaultCommitTimeout = 10 * time.Second
	DefaultLockTTL       = 15 * time.Second
)

// Executor applies movements to the store.
type Executor struct {
	Store     TxStore
	Locker    lock.Locker    // nil disables item locks
	Publisher feed.Publisher // nil disables change events
	Logger    *zap.Logger

	MaxAttempts   int
	RetryBackoff  time.Duration
	CommitTimeout time.Duration
	LockTTL       time.Duration

	Now   func() time.Time
	NewID func() string
}

// NewExecutor returns an Executor with default limits.
func NewExecutor(store TxStore) *Executor {
	return &Executor{
		Store:         store,
		Logger:        zap.NewNop(),
		MaxAttempts:   DefaultMaxAttempts,
		RetryBackoff:  DefaultRetryBackoff,
		CommitTimeout: DefaultCommitTimeout,
		LockTTL:       DefaultLockTTL,
		Now:           func() time.Time { return time.Now().UTC() },
		NewID:         uuid.NewString,
	}
}

// Execute validates and applies one movement.
func (e *Executor) Execute(ctx context.Context, m Movement) (*LedgerEntry, error) {
	if !m.Type.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidMovementType, m.Type)
	}
	if !m.Quantity.IsPositive() {
		return nil, fmt.Errorf("%w: %s must be greater than zero", ErrInvalidQuantity, m.Quantity)
	}
	if m.ItemID == "" {
		return nil, ErrItemNotFound
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := e.now()
	if m.Date.IsZero() {
		m.Date = now
	}

	attempts := e.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		entry, err := e.attempt(ctx, m)
		if err == nil {
			e.publish(ctx, entry)
			e.logger().Info("movement committed",
				zap.String("item_id", string(entry.ItemID)),
				zap.String("type", string(entry.Type)),
				zap.String("quantity", entry.Quantity.String()),
				zap.String("quantity_after", entry.QuantityAfter.String()),
				zap.Int64("seq", entry.Seq),
				zap.Int("attempt", attempt),
			)
			return entry, nil
		}
		if !IsRetryable(err) {
			return nil, err
		}
		lastErr = err
		e.logger().Debug("movement conflict, retrying",
			zap.String("item_id", string(m.ItemID)),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if attempt < attempts {
			// only the wait between attempts follows the caller; commits stay detached
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(e.backoff() * time.Duration(attempt)):
			}
		}
	}

	e.logger().Warn("movement abandoned after retries",
		zap.String("item_id", string(m.ItemID)),
		zap.Int("attempts", attempts),
		zap.Error(lastErr),
	)
	return nil, &ConflictError{ItemID: m.ItemID, Attempts: attempts, Last: lastErr}
}

// attempt runs one try of the unit of work. The caller's cancellation does
// not reach the transaction once it has started.
func (e *Executor) attempt(parent context.Context, m Movement) (*LedgerEntry, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), e.commitTimeout())
	defer cancel()

	if e.Locker != nil {
		lk, err := e.Locker.Obtain(ctx, "item:"+string(m.ItemID), e.lockTTL())
		if errors.Is(err, lock.ErrNotObtained) {
			return nil, fmt.Errorf("%w: %v", ErrConcurrencyConflict, err)
		}
		if err != nil {
			return nil, err
		}
		defer func() {
			if err := lk.Release(ctx); err != nil {
				e.logger().Warn("release item lock", zap.String("item_id", string(m.ItemID)), zap.Error(err))
			}
		}()
	}

	var committed *LedgerEntry
	err := e.Store.WithTx(ctx, func(uow UnitOfWork) error {
		item, err := uow.LoadItem(ctx, m.ItemID)
		if err != nil {
			return err
		}

		newQty, err := apply(item, m)
		if err != nil {
			return err
		}

		at := e.now()
		if err := uow.SaveQuantity(ctx, item.ID, newQty, item.Version, at); err != nil {
			return err
		}

		entry := &LedgerEntry{
			ID:            EntryID(e.newID()),
			ItemID:        item.ID,
			ItemName:      item.LegacyName,
			Type:          m.Type,
			Quantity:      m.Quantity,
			Date:          m.Date,
			Reference:     m.Reference,
			Remarks:       m.Remarks,
			Actor:         m.Actor,
			RecordedAt:    at,
			QuantityAfter: newQty,
			ItemVersion:   item.Version + 1,
		}
		if err := uow.AppendEntry(ctx, entry); err != nil {
			return err
		}
		committed = entry
		return nil
	})
	if err != nil {
		return nil, err
	}
	return committed, nil
}

// apply computes the post-movement quantity or rejects the movement.
func apply(item *Item, m Movement) (decimal.Decimal, error) {
	switch m.Type {
	case MovementReceive:
		return item.Quantity.Add(m.Quantity), nil
	case MovementIssue:
		newQty := item.Quantity.Sub(m.Quantity)
		if newQty.IsNegative() {
			return decimal.Zero, &InsufficientStockError{
				ItemID:    item.ID,
				Available: item.Quantity,
				Requested: m.Quantity,
			}
		}
		return newQty, nil
	}
	return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidMovementType, m.Type)
}

func (e *Executor) publish(ctx context.Context, entry *LedgerEntry) {
	if e.Publisher == nil {
		return
	}
	ev := feed.Event{
		Kind:     feed.KindQuantityChanged,
		ItemID:   string(entry.ItemID),
		EntryID:  string(entry.ID),
		Quantity: entry.QuantityAfter.String(),
		At:       entry.RecordedAt,
	}
	if err := e.Publisher.Publish(context.WithoutCancel(ctx), ev); err != nil {
		e.logger().Warn("publish change event", zap.String("item_id", ev.ItemID), zap.Error(err))
	}
}

func (e *Executor) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now().UTC()
}

func (e *Executor) newID() string {
	if e.NewID != nil {
		return e.NewID()
	}
	return uuid.NewString()
}

func (e *Executor) logger() *zap.Logger {
	if e.Logger == nil {
		return zap.NewNop()
	}
	return e.Logger
}

func (e *Executor) backoff() time.Duration {
	if e.RetryBackoff <= 0 {
		return DefaultRetryBackoff
	}
	return e.RetryBackoff
}

func (e *Executor) commitTimeout() time.Duration {
	if e.CommitTimeout <= 0 {
		return DefaultCommitTimeout
	}
	return e.CommitTimeout
}

func (e *Executor) lockTTL() time.Duration {
	if e.LockTTL <= 0 {
		return DefaultLockTTL
	}
	return e.LockTTL
}
