package queue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tableside/internal/domain"
	"tableside/internal/logger"
	"tableside/internal/storage"
)

func testQueue(t *testing.T) (*Queue, storage.Store) {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "queue.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	q := New(store, logger.NewWithOutput("queue", io.Discard))
	n := 0
	q.newID = func() string { n++; return fmt.Sprintf("off-%03d", n) }
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	q.now = func() time.Time { return base }
	return q, store
}

func draft(table, seat string) Draft {
	return Draft{
		TableID: table,
		SeatID:  seat,
		Items:   []domain.OrderItem{{ItemID: "espresso", Quantity: 2}},
	}
}

func TestSaveCreatesPendingOrder(t *testing.T) {
	q, _ := testQueue(t)
	ctx := context.Background()

	order, err := q.Save(ctx, draft("t1", "s1"))
	require.NoError(t, err)

	assert.Equal(t, "off-001", order.OfflineID)
	assert.Equal(t, domain.StatusPending, order.Status)

	loaded, err := q.Get(ctx, order.OfflineID)
	require.NoError(t, err)
	assert.Equal(t, order.OfflineID, loaded.OfflineID)
	assert.Equal(t, domain.StatusPending, loaded.Status)
}

func TestSaveValidates(t *testing.T) {
	q, _ := testQueue(t)
	ctx := context.Background()

	_, err := q.Save(ctx, Draft{TableID: "t1", SeatID: "s1"})
	require.Error(t, err)

	_, err = q.Save(ctx, Draft{Items: []domain.OrderItem{{ItemID: "x", Quantity: 1}}})
	require.Error(t, err)
}

func TestForSeatUsesIndex(t *testing.T) {
	q, _ := testQueue(t)
	ctx := context.Background()

	_, err := q.Save(ctx, draft("t1", "s1"))
	require.NoError(t, err)
	_, err = q.Save(ctx, draft("t1", "s2"))
	require.NoError(t, err)
	_, err = q.Save(ctx, draft("t2", "s1"))
	require.NoError(t, err)

	got, err := q.ForSeat(ctx, "t1", "s1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "t1", got[0].TableID)
	assert.Equal(t, "s1", got[0].SeatID)
}

func TestClaimIsExclusive(t *testing.T) {
	q, _ := testQueue(t)
	ctx := context.Background()

	_, err := q.Save(ctx, draft("t1", "s1"))
	require.NoError(t, err)
	_, err = q.Save(ctx, draft("t1", "s2"))
	require.NoError(t, err)

	first, err := q.Claim(ctx, false)
	require.NoError(t, err)
	require.Len(t, first, 2)
	for _, o := range first {
		assert.Equal(t, domain.StatusSyncing, o.Status)
	}

	// a second overlapping claim sees records in syncing and takes nothing
	second, err := q.Claim(ctx, false)
	require.NoError(t, err)
	assert.Empty(t, second)
}

func TestClaimHonorsBackoffWindow(t *testing.T) {
	q, _ := testQueue(t)
	ctx := context.Background()

	order, err := q.Save(ctx, draft("t1", "s1"))
	require.NoError(t, err)

	claimed, err := q.Claim(ctx, false)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	require.NoError(t, q.Release(ctx, claimed, errors.New("connection refused")))

	// NextAttemptAt is one RetryDelay(1) in the future, so an automatic
	// trigger takes nothing...
	claimed, err = q.Claim(ctx, false)
	require.NoError(t, err)
	assert.Empty(t, claimed)

	// ...an explicit user retry ignores the window...
	claimed, err = q.Claim(ctx, true)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, order.OfflineID, claimed[0].OfflineID)
	require.NoError(t, q.Release(ctx, claimed, errors.New("still down")))

	// ...and time passing reopens automatic retries.
	base := q.now().Add(time.Hour)
	q.now = func() time.Time { return base }
	claimed, err = q.Claim(ctx, false)
	require.NoError(t, err)
	assert.Len(t, claimed, 1)
}

func TestRecoverRevertsInterruptedClaims(t *testing.T) {
	q, _ := testQueue(t)
	ctx := context.Background()

	stranded, err := q.Save(ctx, draft("t1", "s1"))
	require.NoError(t, err)
	untouched, err := q.Save(ctx, draft("t2", "s1"))
	require.NoError(t, err)

	// Claim only the first record, then pretend the process died before the
	// batch resolved.
	batch, err := q.Claim(ctx, false)
	require.NoError(t, err)
	require.Len(t, batch, 2)
	require.NoError(t, q.Resolve(ctx, []domain.SyncResult{
		{OfflineID: untouched.OfflineID, Success: true, OrderNumber: "ORD-7"},
	}))

	recovered, err := q.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, recovered)

	loaded, err := q.Get(ctx, stranded.OfflineID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, loaded.Status)
	assert.Equal(t, "sync interrupted before completion", loaded.LastError)

	// retry-eligible again without waiting for a backoff window
	batch, err = q.Claim(ctx, false)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	assert.Equal(t, stranded.OfflineID, batch[0].OfflineID)

	// settled records are not touched
	done, err := q.Get(ctx, untouched.OfflineID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSynced, done.Status)
}

func TestResolveSuccessThenSweep(t *testing.T) {
	q, store := testQueue(t)
	ctx := context.Background()

	order, err := q.Save(ctx, draft("t1", "s1"))
	require.NoError(t, err)

	_, err = q.Claim(ctx, false)
	require.NoError(t, err)

	require.NoError(t, q.Resolve(ctx, []domain.SyncResult{
		{OfflineID: order.OfflineID, Success: true, OrderNumber: "ORD-1"},
	}))

	synced, err := q.Get(ctx, order.OfflineID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSynced, synced.Status)
	assert.Equal(t, "ORD-1", synced.ServerOrderNumber)
	require.NotNil(t, synced.SyncedAt)

	removed, err := q.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = q.Get(ctx, order.OfflineID)
	assert.ErrorIs(t, err, ErrNotFound)

	// index rows are gone as well
	leftover, err := store.GetAll(ctx, "pending_orders_idx_seat")
	require.NoError(t, err)
	assert.Empty(t, leftover)
}

func TestResolveRejectionKeepsRecord(t *testing.T) {
	q, _ := testQueue(t)
	ctx := context.Background()

	order, err := q.Save(ctx, draft("t1", "s1"))
	require.NoError(t, err)

	_, err = q.Claim(ctx, false)
	require.NoError(t, err)

	require.NoError(t, q.Resolve(ctx, []domain.SyncResult{
		{OfflineID: order.OfflineID, Success: false, Error: "item sold out"},
	}))

	failed, err := q.Get(ctx, order.OfflineID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, failed.Status)
	assert.Equal(t, "item sold out", failed.LastError)
	assert.Equal(t, 1, failed.Attempts)
	assert.Empty(t, failed.ServerOrderNumber)
}

func TestResolveIgnoresUnclaimedRecords(t *testing.T) {
	q, _ := testQueue(t)
	ctx := context.Background()

	order, err := q.Save(ctx, draft("t1", "s1"))
	require.NoError(t, err)

	// a result for a record that was never claimed must not jump it
	// straight from pending to synced
	require.NoError(t, q.Resolve(ctx, []domain.SyncResult{
		{OfflineID: order.OfflineID, Success: true, OrderNumber: "ORD-9"},
	}))

	loaded, err := q.Get(ctx, order.OfflineID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, loaded.Status)
	assert.Empty(t, loaded.ServerOrderNumber)
}

func TestReleaseRevertsWholeBatch(t *testing.T) {
	q, _ := testQueue(t)
	ctx := context.Background()

	_, err := q.Save(ctx, draft("t1", "s1"))
	require.NoError(t, err)
	_, err = q.Save(ctx, draft("t2", "s1"))
	require.NoError(t, err)

	batch, err := q.Claim(ctx, false)
	require.NoError(t, err)
	require.Len(t, batch, 2)

	require.NoError(t, q.Release(ctx, batch, errors.New("no route to host")))

	for _, o := range batch {
		loaded, err := q.Get(ctx, o.OfflineID)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusFailed, loaded.Status)
		assert.Equal(t, "no route to host", loaded.LastError)
		assert.Equal(t, 1, loaded.Attempts)
	}
}

func TestRetryDelaySchedule(t *testing.T) {
	assert.Equal(t, time.Second, RetryDelay(1))
	assert.Equal(t, 2*time.Second, RetryDelay(2))
	assert.Equal(t, 16*time.Second, RetryDelay(5))
	assert.Equal(t, 5*time.Minute, RetryDelay(10))
	assert.Equal(t, 5*time.Minute, RetryDelay(50))
}

func TestCartAddMergesQuantities(t *testing.T) {
	_, store := testQueue(t)
	carts := NewCarts(store)
	ctx := context.Background()

	_, err := carts.AddItem(ctx, "t1", "s1", domain.CartItem{ItemID: "latte", Name: "Latte", UnitPrice: 5.25, Quantity: 1})
	require.NoError(t, err)
	entry, err := carts.AddItem(ctx, "t1", "s1", domain.CartItem{ItemID: "latte", Name: "Latte", UnitPrice: 5.25, Quantity: 2})
	require.NoError(t, err)

	require.Len(t, entry.Items, 1)
	assert.Equal(t, 3, entry.Items[0].Quantity)
}

func TestCartRemoveAndClear(t *testing.T) {
	_, store := testQueue(t)
	carts := NewCarts(store)
	ctx := context.Background()

	_, err := carts.AddItem(ctx, "t1", "s1", domain.CartItem{ItemID: "latte", Quantity: 1})
	require.NoError(t, err)
	_, err = carts.AddItem(ctx, "t1", "s1", domain.CartItem{ItemID: "muffin", Quantity: 1})
	require.NoError(t, err)

	entry, err := carts.RemoveItem(ctx, "t1", "s1", "latte")
	require.NoError(t, err)
	require.Len(t, entry.Items, 1)
	assert.Equal(t, "muffin", entry.Items[0].ItemID)

	require.NoError(t, carts.Clear(ctx, "t1", "s1"))
	entry, err = carts.Entry(ctx, "t1", "s1")
	require.NoError(t, err)
	assert.Empty(t, entry.Items)
}

func TestQueueFromCart(t *testing.T) {
	q, store := testQueue(t)
	carts := NewCarts(store)
	ctx := context.Background()

	_, err := carts.AddItem(ctx, "t1", "s1", domain.CartItem{ItemID: "latte", Quantity: 2, Instructions: "oat milk"})
	require.NoError(t, err)

	order, err := q.QueueFromCart(ctx, "t1", "s1", true)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, order.Status)
	assert.True(t, order.AutoConfirm)
	require.Len(t, order.Items, 1)
	assert.Equal(t, "oat milk", order.Items[0].Instructions)

	// the cart is cleared in the same transaction
	entry, err := carts.Entry(ctx, "t1", "s1")
	require.NoError(t, err)
	assert.Empty(t, entry.Items)
}

func TestQueueFromEmptyCart(t *testing.T) {
	q, _ := testQueue(t)

	_, err := q.QueueFromCart(context.Background(), "t1", "s1", false)
	assert.ErrorIs(t, err, ErrEmptyCart)
}
