package domain

import "time"

type SyncOrderItem struct {
	ItemID       string `json:"item_id"`
	Quantity     int    `json:"quantity"`
	Instructions string `json:"special_instructions,omitempty"`
}

type SyncOrder struct {
	OfflineID   string          `json:"offline_id"`
	TableID     string          `json:"table_id"`
	SeatID      string          `json:"seat_id"`
	Items       []SyncOrderItem `json:"items"`
	AutoConfirm bool            `json:"auto_confirm"`
	CreatedAt   time.Time       `json:"created_at"`
}

type SyncRequest struct {
	Orders []SyncOrder `json:"orders"`
}

type SyncResult struct {
	OfflineID   string `json:"offline_id"`
	Success     bool   `json:"success"`
	OrderNumber string `json:"order_number,omitempty"`
	Error       string `json:"error,omitempty"`
}

type SyncResponse struct {
	Synced  int          `json:"synced"`
	Failed  int          `json:"failed"`
	Results []SyncResult `json:"results"`
}

// ToSyncOrder builds the wire form submitted to the sync endpoint.
func (p PendingOrder) ToSyncOrder() SyncOrder {
	items := make([]SyncOrderItem, 0, len(p.Items))
	for _, it := range p.Items {
		items = append(items, SyncOrderItem{
			ItemID:       it.ItemID,
			Quantity:     it.Quantity,
			Instructions: it.Instructions,
		})
	}
	return SyncOrder{
		OfflineID:   p.OfflineID,
		TableID:     p.TableID,
		SeatID:      p.SeatID,
		Items:       items,
		AutoConfirm: p.AutoConfirm,
		CreatedAt:   p.CreatedAt,
	}
}

type MenuSnapshotResponse struct {
	Categories []MenuGroup `json:"categories"`
	Timestamp  time.Time   `json:"timestamp"`
}

type TableSnapshotResponse struct {
	Floors    []FloorGroup `json:"floors"`
	Timestamp time.Time    `json:"timestamp"`
}
