package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// MemoryStore is the volatile fallback used when the persistent store is
// denied. Same transactional semantics as BoltStore, no durability.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]map[string][]byte
}

func NewMemory() *MemoryStore {
	return &MemoryStore{collections: make(map[string]map[string][]byte)}
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) Update(ctx context.Context, fn func(Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := &memTxn{store: s, writes: make(map[string]map[string]*[]byte), cleared: make(map[string]bool)}
	if err := fn(tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

func (s *MemoryStore) View(ctx context.Context, fn func(Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(&memTxn{store: s, readOnly: true})
}

func (s *MemoryStore) Put(ctx context.Context, collection, key string, value []byte) error {
	return put(s, ctx, collection, key, value)
}

func (s *MemoryStore) Get(ctx context.Context, collection, key string) ([]byte, error) {
	return get(s, ctx, collection, key)
}

func (s *MemoryStore) GetAll(ctx context.Context, collection string) (map[string][]byte, error) {
	return getAll(s, ctx, collection)
}

func (s *MemoryStore) Delete(ctx context.Context, collection, key string) error {
	return del(s, ctx, collection, key)
}

func (s *MemoryStore) Clear(ctx context.Context, collection string) error {
	return clear(s, ctx, collection)
}

// memTxn buffers writes and applies them only when the transaction function
// returns nil, so a failed transaction leaves the store untouched.
type memTxn struct {
	store    *MemoryStore
	readOnly bool
	writes   map[string]map[string]*[]byte // nil value pointer = delete
	cleared  map[string]bool
}

func (t *memTxn) Put(collection, key string, value []byte) error {
	if t.readOnly {
		return fmt.Errorf("put %s: transaction is read-only", collection)
	}
	if key == "" {
		return fmt.Errorf("put %s: key is required", collection)
	}
	v := append([]byte(nil), value...)
	t.stage(collection)[key] = &v
	return nil
}

func (t *memTxn) Get(collection, key string) ([]byte, error) {
	if !t.readOnly {
		if staged, ok := t.writes[collection]; ok {
			if v, ok := staged[key]; ok {
				if v == nil {
					return nil, ErrNotFound
				}
				return *v, nil
			}
		}
		if t.cleared[collection] {
			return nil, ErrNotFound
		}
	}
	coll, ok := t.store.collections[collection]
	if !ok {
		return nil, ErrNotFound
	}
	v, ok := coll[key]
	if !ok {
		return nil, ErrNotFound
	}
	return v, nil
}

func (t *memTxn) Delete(collection, key string) error {
	if t.readOnly {
		return fmt.Errorf("delete %s: transaction is read-only", collection)
	}
	t.stage(collection)[key] = nil
	return nil
}

func (t *memTxn) Clear(collection string) error {
	if t.readOnly {
		return fmt.Errorf("clear %s: transaction is read-only", collection)
	}
	t.cleared[collection] = true
	t.writes[collection] = make(map[string]*[]byte)
	return nil
}

func (t *memTxn) ForEach(collection string, fn func(key string, value []byte) error) error {
	return t.ForEachPrefix(collection, "", fn)
}

func (t *memTxn) ForEachPrefix(collection, prefix string, fn func(key string, value []byte) error) error {
	merged := make(map[string][]byte)
	if !t.cleared[collection] {
		for k, v := range t.store.collections[collection] {
			merged[k] = v
		}
	}
	for k, v := range t.writes[collection] {
		if v == nil {
			delete(merged, k)
		} else {
			merged[k] = *v
		}
	}
	keys := make([]string, 0, len(merged))
	for k := range merged {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := fn(k, merged[k]); err != nil {
			return err
		}
	}
	return nil
}

func (t *memTxn) stage(collection string) map[string]*[]byte {
	if t.writes[collection] == nil {
		t.writes[collection] = make(map[string]*[]byte)
	}
	return t.writes[collection]
}

func (t *memTxn) commit() {
	for coll := range t.cleared {
		t.store.collections[coll] = make(map[string][]byte)
	}
	for coll, staged := range t.writes {
		target := t.store.collections[coll]
		if target == nil {
			target = make(map[string][]byte)
			t.store.collections[coll] = target
		}
		for k, v := range staged {
			if v == nil {
				delete(target, k)
			} else {
				target[k] = *v
			}
		}
	}
}
