package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"tableside/internal/domain"
	"tableside/internal/logger"
	"tableside/internal/storage"
)

const (
	colMenu   = "reference:menu"
	colTables = "reference:tables"
	colMeta   = "reference_meta"
)

// Fetcher retrieves full reference snapshots from the remote service.
// Satisfied by remote.Client.
type Fetcher interface {
	FetchMenu(ctx context.Context) (domain.MenuSnapshotResponse, error)
	FetchTables(ctx context.Context) (domain.TableSnapshotResponse, error)
}

// Reference caches menu and floor/table data on the device. Reads never
// touch the network; a failed refresh leaves the last good snapshot (and
// its freshness timestamp) untouched.
type Reference struct {
	store   storage.Store
	fetcher Fetcher
	log     *logger.Logger
	now     func() time.Time
}

func NewReference(store storage.Store, fetcher Fetcher, log *logger.Logger) *Reference {
	return &Reference{store: store, fetcher: fetcher, log: log, now: time.Now}
}

// RefreshMenu replaces the cached menu with a fresh snapshot. The old
// snapshot stays in place when the fetch fails, so the error only signals
// staleness.
func (r *Reference) RefreshMenu(ctx context.Context) error {
	snap, err := r.fetcher.FetchMenu(ctx)
	if err != nil {
		r.log.Warn("menu_refresh_failed", map[string]any{"error": err.Error()})
		return fmt.Errorf("refresh menu: %w", err)
	}
	groups := make(map[string][]byte, len(snap.Categories))
	for _, g := range snap.Categories {
		raw, err := json.Marshal(g)
		if err != nil {
			return fmt.Errorf("refresh menu: %w", err)
		}
		groups[g.ID] = raw
	}
	if err := r.replace(ctx, colMenu, "menu", groups, snap.Timestamp); err != nil {
		return fmt.Errorf("refresh menu: %w", err)
	}
	r.log.Info("menu_refreshed", map[string]any{"groups": len(snap.Categories)})
	return nil
}

// RefreshTables replaces the cached floor layout with a fresh snapshot.
func (r *Reference) RefreshTables(ctx context.Context) error {
	snap, err := r.fetcher.FetchTables(ctx)
	if err != nil {
		r.log.Warn("tables_refresh_failed", map[string]any{"error": err.Error()})
		return fmt.Errorf("refresh tables: %w", err)
	}
	groups := make(map[string][]byte, len(snap.Floors))
	for _, g := range snap.Floors {
		raw, err := json.Marshal(g)
		if err != nil {
			return fmt.Errorf("refresh tables: %w", err)
		}
		groups[g.ID] = raw
	}
	if err := r.replace(ctx, colTables, "tables", groups, snap.Timestamp); err != nil {
		return fmt.Errorf("refresh tables: %w", err)
	}
	r.log.Info("tables_refreshed", map[string]any{"groups": len(snap.Floors)})
	return nil
}

// Menu returns the cached menu groups ordered for display, with the
// snapshot's freshness. An empty cache yields no groups and zero meta.
func (r *Reference) Menu(ctx context.Context) ([]domain.MenuGroup, domain.SnapshotMeta, error) {
	var groups []domain.MenuGroup
	meta, err := r.read(ctx, colMenu, "menu", func(raw []byte) error {
		var g domain.MenuGroup
		if err := json.Unmarshal(raw, &g); err != nil {
			return err
		}
		groups = append(groups, g)
		return nil
	})
	if err != nil {
		return nil, domain.SnapshotMeta{}, err
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].DisplayOrder < groups[j].DisplayOrder })
	return groups, meta, nil
}

// Tables returns the cached floors ordered for display.
func (r *Reference) Tables(ctx context.Context) ([]domain.FloorGroup, domain.SnapshotMeta, error) {
	var groups []domain.FloorGroup
	meta, err := r.read(ctx, colTables, "tables", func(raw []byte) error {
		var g domain.FloorGroup
		if err := json.Unmarshal(raw, &g); err != nil {
			return err
		}
		groups = append(groups, g)
		return nil
	})
	if err != nil {
		return nil, domain.SnapshotMeta{}, err
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].DisplayOrder < groups[j].DisplayOrder })
	return groups, meta, nil
}

// replace swaps an entire collection and its freshness meta in one
// transaction, so a reader never sees a mix of two snapshot generations.
func (r *Reference) replace(ctx context.Context, collection, metaKey string, groups map[string][]byte, serverTime time.Time) error {
	meta, err := json.Marshal(domain.SnapshotMeta{
		FetchedAt:  r.now().UTC(),
		ServerTime: serverTime,
	})
	if err != nil {
		return err
	}
	return r.store.Update(ctx, func(tx storage.Txn) error {
		if err := tx.Clear(collection); err != nil {
			return err
		}
		for id, raw := range groups {
			if err := tx.Put(collection, id, raw); err != nil {
				return err
			}
		}
		return tx.Put(colMeta, metaKey, meta)
	})
}

func (r *Reference) read(ctx context.Context, collection, metaKey string, each func(raw []byte) error) (domain.SnapshotMeta, error) {
	var meta domain.SnapshotMeta
	err := r.store.View(ctx, func(tx storage.Txn) error {
		if err := tx.ForEach(collection, func(_ string, raw []byte) error {
			return each(raw)
		}); err != nil {
			return err
		}
		raw, err := tx.Get(colMeta, metaKey)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil
			}
			return err
		}
		return json.Unmarshal(raw, &meta)
	})
	if err != nil {
		return domain.SnapshotMeta{}, err
	}
	return meta, nil
}
