package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"tableside/internal/domain"
	"tableside/internal/storage"
)

// ErrEmptyCart is returned when queueing an order from a cart with no items.
var ErrEmptyCart = errors.New("queue: cart is empty")

// Carts holds the in-progress order per (table, seat) pair. Entries live
// from the first added item until an explicit clear or a successful queue
// of the order they describe.
type Carts struct {
	store storage.Store
}

func NewCarts(store storage.Store) *Carts {
	return &Carts{store: store}
}

// AddItem adds an item to a seat's cart, creating the cart on first use.
// Adding an item that is already present merges the quantities.
func (c *Carts) AddItem(ctx context.Context, tableID, seatID string, item domain.CartItem) (domain.CartEntry, error) {
	if item.ItemID == "" {
		return domain.CartEntry{}, errors.New("queue: cart item id is required")
	}
	if item.Quantity <= 0 {
		return domain.CartEntry{}, fmt.Errorf("queue: invalid quantity for item %s", item.ItemID)
	}
	var entry domain.CartEntry
	err := c.store.Update(ctx, func(tx storage.Txn) error {
		var err error
		entry, err = loadCart(tx, tableID, seatID)
		if err != nil {
			return err
		}
		merged := false
		for i, existing := range entry.Items {
			if existing.ItemID == item.ItemID {
				entry.Items[i].Quantity += item.Quantity
				merged = true
				break
			}
		}
		if !merged {
			entry.Items = append(entry.Items, item)
		}
		return saveCart(tx, entry)
	})
	if err != nil {
		return domain.CartEntry{}, fmt.Errorf("add cart item: %w", err)
	}
	return entry, nil
}

// RemoveItem drops an item from a seat's cart. Removing the last item
// leaves an empty cart entry; Clear deletes it.
func (c *Carts) RemoveItem(ctx context.Context, tableID, seatID, itemID string) (domain.CartEntry, error) {
	var entry domain.CartEntry
	err := c.store.Update(ctx, func(tx storage.Txn) error {
		var err error
		entry, err = loadCart(tx, tableID, seatID)
		if err != nil {
			return err
		}
		kept := entry.Items[:0]
		for _, it := range entry.Items {
			if it.ItemID != itemID {
				kept = append(kept, it)
			}
		}
		entry.Items = kept
		return saveCart(tx, entry)
	})
	if err != nil {
		return domain.CartEntry{}, fmt.Errorf("remove cart item: %w", err)
	}
	return entry, nil
}

// Entry returns the current cart for a seat; an empty cart when none exists.
func (c *Carts) Entry(ctx context.Context, tableID, seatID string) (domain.CartEntry, error) {
	entry := domain.CartEntry{TableID: tableID, SeatID: seatID}
	err := c.store.View(ctx, func(tx storage.Txn) error {
		raw, err := tx.Get(colCart, entry.Key())
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil
			}
			return err
		}
		return json.Unmarshal(raw, &entry)
	})
	if err != nil {
		return domain.CartEntry{}, err
	}
	return entry, nil
}

// Clear deletes a seat's cart entry.
func (c *Carts) Clear(ctx context.Context, tableID, seatID string) error {
	key := domain.CartEntry{TableID: tableID, SeatID: seatID}.Key()
	return c.store.Delete(ctx, colCart, key)
}

// QueueFromCart turns a seat's cart into a durable pending order and clears
// the cart, in one transaction. Either both happen or neither does.
func (q *Queue) QueueFromCart(ctx context.Context, tableID, seatID string, autoConfirm bool) (domain.PendingOrder, error) {
	order := domain.PendingOrder{
		OfflineID:   q.newID(),
		TableID:     tableID,
		SeatID:      seatID,
		AutoConfirm: autoConfirm,
		CreatedAt:   q.now().UTC(),
		Status:      domain.StatusPending,
	}
	err := q.store.Update(ctx, func(tx storage.Txn) error {
		entry, err := loadCart(tx, tableID, seatID)
		if err != nil {
			return err
		}
		if len(entry.Items) == 0 {
			return ErrEmptyCart
		}
		order.Items = order.Items[:0]
		for _, it := range entry.Items {
			order.Items = append(order.Items, domain.OrderItem{
				ItemID:       it.ItemID,
				Quantity:     it.Quantity,
				Instructions: it.Instructions,
			})
		}
		if err := putOrderWithIndexes(tx, order); err != nil {
			return err
		}
		return tx.Delete(colCart, entry.Key())
	})
	if err != nil {
		return domain.PendingOrder{}, err
	}
	q.log.Info("order_queued_from_cart", map[string]any{
		"offline_id": order.OfflineID,
		"table_id":   tableID,
		"seat_id":    seatID,
		"items":      len(order.Items),
	})
	return order, nil
}

func loadCart(tx storage.Txn, tableID, seatID string) (domain.CartEntry, error) {
	entry := domain.CartEntry{TableID: tableID, SeatID: seatID}
	raw, err := tx.Get(colCart, entry.Key())
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return entry, nil
		}
		return domain.CartEntry{}, err
	}
	if err := json.Unmarshal(raw, &entry); err != nil {
		return domain.CartEntry{}, err
	}
	return entry, nil
}

func saveCart(tx storage.Txn, entry domain.CartEntry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return tx.Put(colCart, entry.Key(), raw)
}
