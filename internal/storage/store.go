package storage

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when a key has no record in a collection.
	ErrNotFound = errors.New("storage: record not found")
	// ErrUnavailable is returned when the persistent store cannot be
	// opened. Callers degrade to the in-memory store instead of failing.
	ErrUnavailable = errors.New("storage: persistent store unavailable")
)

// Txn is the view of the store inside one atomic transaction. Writes either
// all commit or all roll back; the transaction is released on every exit
// path.
type Txn interface {
	Put(collection, key string, value []byte) error
	Get(collection, key string) ([]byte, error)
	Delete(collection, key string) error
	Clear(collection string) error
	// ForEach visits every record in a collection in key order. Returning
	// an error from fn aborts the walk and the transaction.
	ForEach(collection string, fn func(key string, value []byte) error) error
	// ForEachPrefix visits records whose key starts with prefix.
	ForEachPrefix(collection, prefix string, fn func(key string, value []byte) error) error
}

// Store is durable, transactional storage keyed by collection name and
// record key. It is shared by every component on the device.
type Store interface {
	Update(ctx context.Context, fn func(Txn) error) error
	View(ctx context.Context, fn func(Txn) error) error

	Put(ctx context.Context, collection, key string, value []byte) error
	Get(ctx context.Context, collection, key string) ([]byte, error)
	GetAll(ctx context.Context, collection string) (map[string][]byte, error)
	Delete(ctx context.Context, collection, key string) error
	Clear(ctx context.Context, collection string) error

	Close() error
}

func put(s Store, ctx context.Context, collection, key string, value []byte) error {
	return s.Update(ctx, func(tx Txn) error { return tx.Put(collection, key, value) })
}

func get(s Store, ctx context.Context, collection, key string) ([]byte, error) {
	var out []byte
	err := s.View(ctx, func(tx Txn) error {
		v, err := tx.Get(collection, key)
		if err != nil {
			return err
		}
		out = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func getAll(s Store, ctx context.Context, collection string) (map[string][]byte, error) {
	out := make(map[string][]byte)
	err := s.View(ctx, func(tx Txn) error {
		return tx.ForEach(collection, func(key string, value []byte) error {
			out[key] = append([]byte(nil), value...)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func del(s Store, ctx context.Context, collection, key string) error {
	return s.Update(ctx, func(tx Txn) error { return tx.Delete(collection, key) })
}

func clear(s Store, ctx context.Context, collection string) error {
	return s.Update(ctx, func(tx Txn) error { return tx.Clear(collection) })
}
