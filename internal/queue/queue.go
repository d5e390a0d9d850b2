package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"tableside/internal/domain"
	"tableside/internal/logger"
	"tableside/internal/storage"
)

const (
	colOrders     = "pending_orders"
	colSeatIndex  = "pending_orders_idx_seat"
	colCreatedIdx = "pending_orders_idx_created"
	colCart       = "cart"
)

// ErrNotFound is returned when no pending order exists for an offline ID.
var ErrNotFound = errors.New("queue: pending order not found")

// Queue is the durable queue of orders awaiting synchronization with the
// remote order service. Records live until they reach synced and are swept.
type Queue struct {
	store storage.Store
	log   *logger.Logger

	now   func() time.Time
	newID func() string
}

func New(store storage.Store, log *logger.Logger) *Queue {
	return &Queue{
		store: store,
		log:   log,
		now:   time.Now,
		newID: newOfflineID,
	}
}

func newOfflineID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Draft is an order as captured on the device, before it gets an offline ID.
type Draft struct {
	TableID     string
	SeatID      string
	Items       []domain.OrderItem
	AutoConfirm bool
}

// Save durably records a new pending order. It always succeeds locally when
// the store accepts the write; synchronization happens later.
func (q *Queue) Save(ctx context.Context, draft Draft) (domain.PendingOrder, error) {
	if draft.TableID == "" || draft.SeatID == "" {
		return domain.PendingOrder{}, errors.New("queue: table and seat are required")
	}
	if len(draft.Items) == 0 {
		return domain.PendingOrder{}, errors.New("queue: at least one item is required")
	}

	order := domain.PendingOrder{
		OfflineID:   q.newID(),
		TableID:     draft.TableID,
		SeatID:      draft.SeatID,
		Items:       draft.Items,
		AutoConfirm: draft.AutoConfirm,
		CreatedAt:   q.now().UTC(),
		Status:      domain.StatusPending,
	}

	err := q.store.Update(ctx, func(tx storage.Txn) error {
		return putOrderWithIndexes(tx, order)
	})
	if err != nil {
		return domain.PendingOrder{}, fmt.Errorf("save pending order: %w", err)
	}
	q.log.Info("order_queued", map[string]any{
		"offline_id": order.OfflineID,
		"table_id":   order.TableID,
		"seat_id":    order.SeatID,
		"items":      len(order.Items),
	})
	return order, nil
}

// Get loads one pending order by its offline ID.
func (q *Queue) Get(ctx context.Context, offlineID string) (domain.PendingOrder, error) {
	var order domain.PendingOrder
	err := q.store.View(ctx, func(tx storage.Txn) error {
		raw, err := tx.Get(colOrders, offlineID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return ErrNotFound
			}
			return err
		}
		return json.Unmarshal(raw, &order)
	})
	if err != nil {
		return domain.PendingOrder{}, err
	}
	return order, nil
}

// List returns every queued order, oldest first.
func (q *Queue) List(ctx context.Context) ([]domain.PendingOrder, error) {
	var orders []domain.PendingOrder
	err := q.store.View(ctx, func(tx storage.Txn) error {
		return tx.ForEach(colOrders, func(_ string, raw []byte) error {
			var order domain.PendingOrder
			if err := json.Unmarshal(raw, &order); err != nil {
				return err
			}
			orders = append(orders, order)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].CreatedAt.Before(orders[j].CreatedAt) })
	return orders, nil
}

// ListByStatus filters the queue by status, oldest first.
func (q *Queue) ListByStatus(ctx context.Context, statuses ...domain.OrderStatus) ([]domain.PendingOrder, error) {
	all, err := q.List(ctx)
	if err != nil {
		return nil, err
	}
	want := make(map[domain.OrderStatus]bool, len(statuses))
	for _, s := range statuses {
		want[s] = true
	}
	filtered := all[:0]
	for _, o := range all {
		if want[o.Status] {
			filtered = append(filtered, o)
		}
	}
	return filtered, nil
}

// ForSeat returns the queued orders for one seat, resolved through the
// seat index rather than a full scan.
func (q *Queue) ForSeat(ctx context.Context, tableID, seatID string) ([]domain.PendingOrder, error) {
	prefix := seatIndexPrefix(tableID, seatID)
	var orders []domain.PendingOrder
	err := q.store.View(ctx, func(tx storage.Txn) error {
		return tx.ForEachPrefix(colSeatIndex, prefix, func(_ string, id []byte) error {
			raw, err := tx.Get(colOrders, string(id))
			if err != nil {
				if errors.Is(err, storage.ErrNotFound) {
					return nil // dangling index row, sweep will catch it
				}
				return err
			}
			var order domain.PendingOrder
			if err := json.Unmarshal(raw, &order); err != nil {
				return err
			}
			orders = append(orders, order)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return orders, nil
}

// Claim atomically transitions every retry-eligible record to syncing and
// returns the batch. The status write happens in the same transaction as
// the read, so an overlapping Claim sees syncing and takes nothing twice.
// When force is set the retry backoff window is ignored (explicit user
// retry); otherwise only records whose NextAttemptAt has passed are taken.
func (q *Queue) Claim(ctx context.Context, force bool) ([]domain.PendingOrder, error) {
	now := q.now().UTC()
	var batch []domain.PendingOrder
	err := q.store.Update(ctx, func(tx storage.Txn) error {
		batch = batch[:0]
		var claim []domain.PendingOrder
		err := tx.ForEach(colOrders, func(_ string, raw []byte) error {
			var order domain.PendingOrder
			if err := json.Unmarshal(raw, &order); err != nil {
				return err
			}
			if !order.Status.CanSync() {
				return nil
			}
			if !force && order.NextAttemptAt.After(now) {
				return nil
			}
			claim = append(claim, order)
			return nil
		})
		if err != nil {
			return err
		}
		for _, order := range claim {
			order.Status = domain.StatusSyncing
			raw, err := json.Marshal(order)
			if err != nil {
				return err
			}
			if err := tx.Put(colOrders, order.OfflineID, raw); err != nil {
				return err
			}
			batch = append(batch, order)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("claim pending orders: %w", err)
	}
	sort.Slice(batch, func(i, j int) bool { return batch[i].CreatedAt.Before(batch[j].CreatedAt) })
	return batch, nil
}

// Recover reverts records stranded in syncing by an interrupted run (crash,
// power loss) back to failed so they become retry-eligible again. The caller
// must guarantee no sync batch is in flight; the engine runs this under the
// same lock that serializes RunSync, so any syncing record seen here belongs
// to a run that never finished.
func (q *Queue) Recover(ctx context.Context) (int, error) {
	now := q.now().UTC()
	recovered := 0
	err := q.store.Update(ctx, func(tx storage.Txn) error {
		recovered = 0
		var stale []domain.PendingOrder
		err := tx.ForEach(colOrders, func(_ string, raw []byte) error {
			var order domain.PendingOrder
			if err := json.Unmarshal(raw, &order); err != nil {
				return err
			}
			if order.Status == domain.StatusSyncing {
				stale = append(stale, order)
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, order := range stale {
			order.Status = domain.StatusFailed
			order.NextAttemptAt = now
			order.LastError = "sync interrupted before completion"
			raw, err := json.Marshal(order)
			if err != nil {
				return err
			}
			if err := tx.Put(colOrders, order.OfflineID, raw); err != nil {
				return err
			}
			recovered++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("recover interrupted orders: %w", err)
	}
	if recovered > 0 {
		q.log.Warn("stale_claims_recovered", map[string]any{"orders": recovered})
	}
	return recovered, nil
}

// Resolve applies per-item sync outcomes to claimed records. Success maps
// to synced with the server's order number; rejection maps to failed and
// stays in the queue for a later retry or manual action.
func (q *Queue) Resolve(ctx context.Context, results []domain.SyncResult) error {
	now := q.now().UTC()
	return q.store.Update(ctx, func(tx storage.Txn) error {
		for _, res := range results {
			raw, err := tx.Get(colOrders, res.OfflineID)
			if err != nil {
				if errors.Is(err, storage.ErrNotFound) {
					q.log.Warn("sync_result_unknown_order", map[string]any{"offline_id": res.OfflineID})
					continue
				}
				return err
			}
			var order domain.PendingOrder
			if err := json.Unmarshal(raw, &order); err != nil {
				return err
			}
			if order.Status != domain.StatusSyncing {
				// stale result for a record another path already settled
				continue
			}
			if res.Success {
				order.Status = domain.StatusSynced
				order.ServerOrderNumber = res.OrderNumber
				t := now
				order.SyncedAt = &t
				order.LastError = ""
			} else {
				order.Status = domain.StatusFailed
				order.Attempts++
				order.NextAttemptAt = now.Add(RetryDelay(order.Attempts))
				order.LastError = res.Error
				if order.LastError == "" {
					order.LastError = "rejected by remote service"
				}
			}
			updated, err := json.Marshal(order)
			if err != nil {
				return err
			}
			if err := tx.Put(colOrders, order.OfflineID, updated); err != nil {
				return err
			}
		}
		return nil
	})
}

// Release reverts an entire claimed batch to failed after a transport
// failure. Nothing is assumed about server-side effects; the offline ID
// lets the server deduplicate on the next attempt.
func (q *Queue) Release(ctx context.Context, batch []domain.PendingOrder, cause error) error {
	now := q.now().UTC()
	msg := "transport failure"
	if cause != nil {
		msg = cause.Error()
	}
	return q.store.Update(ctx, func(tx storage.Txn) error {
		for _, order := range batch {
			raw, err := tx.Get(colOrders, order.OfflineID)
			if err != nil {
				if errors.Is(err, storage.ErrNotFound) {
					continue
				}
				return err
			}
			var current domain.PendingOrder
			if err := json.Unmarshal(raw, &current); err != nil {
				return err
			}
			if current.Status != domain.StatusSyncing {
				continue
			}
			current.Status = domain.StatusFailed
			current.Attempts++
			current.NextAttemptAt = now.Add(RetryDelay(current.Attempts))
			current.LastError = msg
			updated, err := json.Marshal(current)
			if err != nil {
				return err
			}
			if err := tx.Put(colOrders, current.OfflineID, updated); err != nil {
				return err
			}
		}
		return nil
	})
}

// Sweep deletes synced records and their index rows.
func (q *Queue) Sweep(ctx context.Context) (int, error) {
	removed := 0
	err := q.store.Update(ctx, func(tx storage.Txn) error {
		removed = 0
		var done []domain.PendingOrder
		err := tx.ForEach(colOrders, func(_ string, raw []byte) error {
			var order domain.PendingOrder
			if err := json.Unmarshal(raw, &order); err != nil {
				return err
			}
			if order.Status == domain.StatusSynced {
				done = append(done, order)
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, order := range done {
			if err := deleteOrderWithIndexes(tx, order); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("sweep synced orders: %w", err)
	}
	if removed > 0 {
		q.log.Info("queue_swept", map[string]any{"removed": removed})
	}
	return removed, nil
}

// RetryDelay is the automatic retry backoff for a record that has failed
// attempts times: 1s, 2s, 4s, ... capped at five minutes. Explicit user
// retries bypass it.
func RetryDelay(attempts int) time.Duration {
	if attempts < 1 {
		return 0
	}
	if attempts > 10 {
		attempts = 10
	}
	d := time.Second << (attempts - 1)
	if d > 5*time.Minute {
		d = 5 * time.Minute
	}
	return d
}

func putOrderWithIndexes(tx storage.Txn, order domain.PendingOrder) error {
	raw, err := json.Marshal(order)
	if err != nil {
		return err
	}
	if err := tx.Put(colOrders, order.OfflineID, raw); err != nil {
		return err
	}
	id := []byte(order.OfflineID)
	if err := tx.Put(colSeatIndex, seatIndexPrefix(order.TableID, order.SeatID)+order.OfflineID, id); err != nil {
		return err
	}
	return tx.Put(colCreatedIdx, createdIndexKey(order), id)
}

func deleteOrderWithIndexes(tx storage.Txn, order domain.PendingOrder) error {
	if err := tx.Delete(colOrders, order.OfflineID); err != nil {
		return err
	}
	if err := tx.Delete(colSeatIndex, seatIndexPrefix(order.TableID, order.SeatID)+order.OfflineID); err != nil {
		return err
	}
	return tx.Delete(colCreatedIdx, createdIndexKey(order))
}

func seatIndexPrefix(tableID, seatID string) string {
	return tableID + "/" + seatID + "/"
}

func createdIndexKey(order domain.PendingOrder) string {
	return order.CreatedAt.UTC().Format(time.RFC3339Nano) + "/" + order.OfflineID
}
