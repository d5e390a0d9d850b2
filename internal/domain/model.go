package domain

import (
	"errors"
	"time"
)

// ErrRejected means the order service understood the request and refused it.
// Rejected orders are not retried automatically.
var ErrRejected = errors.New("order rejected by service")

// OrderStatus tracks a pending order through the sync lifecycle.
type OrderStatus string

const (
	StatusPending OrderStatus = "pending"
	StatusSyncing OrderStatus = "syncing"
	StatusSynced  OrderStatus = "synced"
	StatusFailed  OrderStatus = "failed"
)

// CanSync reports whether a record is eligible for a new sync attempt.
// syncing acts as an exclusive lock and synced is terminal.
func (s OrderStatus) CanSync() bool {
	return s == StatusPending || s == StatusFailed
}

type MenuItem struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Price       float64 `json:"price"`
	Available   bool    `json:"available"`
}

type MenuGroup struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	DisplayOrder int        `json:"display_order"`
	Items        []MenuItem `json:"items"`
}

type TableInfo struct {
	ID       string `json:"id"`
	Number   string `json:"number"`
	Name     string `json:"name,omitempty"`
	Capacity int    `json:"capacity"`
	Status   string `json:"status"`
}

type FloorGroup struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`
	DisplayOrder int         `json:"display_order"`
	Tables       []TableInfo `json:"tables"`
}

// SnapshotMeta records the freshness of one cached reference collection.
// A refresh replaces the whole collection and this meta together.
type SnapshotMeta struct {
	FetchedAt  time.Time `json:"fetched_at"`
	ServerTime time.Time `json:"server_time"`
}

type CartItem struct {
	ItemID       string  `json:"item_id"`
	Name         string  `json:"name"`
	UnitPrice    float64 `json:"unit_price"`
	Quantity     int     `json:"quantity"`
	Instructions string  `json:"special_instructions,omitempty"`
}

// CartEntry is the in-progress order for one seat at one table.
type CartEntry struct {
	TableID string     `json:"table_id"`
	SeatID  string     `json:"seat_id"`
	Items   []CartItem `json:"items"`
}

// Key returns the cart's primary key, {tableID}_{seatID}.
func (c CartEntry) Key() string { return c.TableID + "_" + c.SeatID }

type OrderItem struct {
	ItemID       string `json:"item_id"`
	Quantity     int    `json:"quantity"`
	Instructions string `json:"special_instructions,omitempty"`
}

// PendingOrder is the unit of offline durability. OfflineID is the
// client-generated idempotency key: stable across retries, never reused.
type PendingOrder struct {
	OfflineID   string      `json:"offline_id"`
	TableID     string      `json:"table_id"`
	SeatID      string      `json:"seat_id"`
	Items       []OrderItem `json:"items"`
	AutoConfirm bool        `json:"auto_confirm"`
	CreatedAt   time.Time   `json:"created_at"`
	Status      OrderStatus `json:"status"`

	ServerOrderNumber string     `json:"server_order_number,omitempty"`
	SyncedAt          *time.Time `json:"synced_at,omitempty"`

	Attempts      int       `json:"attempts"`
	NextAttemptAt time.Time `json:"next_attempt_at"`
	LastError     string    `json:"last_error,omitempty"`
}
