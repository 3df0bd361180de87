// Package kv is a key-value API over a single JSON file.
//
// Every operation runs through one serial queue, so operations take effect
// in the order they were submitted even when callers do not wait for them.
package kv

import (
	"context"
	"errors"
	"slices"
	"time"

	"jsonkv/internal/logging"
	"jsonkv/internal/queue"
	"jsonkv/internal/storage"
)

// DefaultInterval is the periodic flush interval used when Options leaves
// it zero.
const DefaultInterval = time.Second

var ErrPathRequired = errors.New("kv: path is required")

var logger = logging.For("kv")

// Options configures Open.
type Options struct {
	Interval time.Duration
	Storage  storage.Options
}

// Store is a flat string-keyed map persisted in one JSON file.
type Store struct {
	storage *storage.Storage
	ops     *queue.Queue
}

// Open creates a Store for path and starts periodic flushing.
func Open(path string, opts Options) (*Store, error) {
	if path == "" {
		return nil, ErrPathRequired
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	st := storage.New(path, opts.Storage)
	if err := st.Start(interval); err != nil {
		st.Close()
		return nil, err
	}
	logger.Debug("opened", "path", path, "interval", interval)
	return &Store{storage: st, ops: queue.New()}, nil
}

// Storage returns the underlying storage.
func (s *Store) Storage() *storage.Storage {
	return s.storage
}

// Subscribe registers fn for the storage's flush and purge events.
func (s *Store) Subscribe(fn storage.Listener) (unsubscribe func()) {
	return s.storage.Subscribe(fn)
}

func (s *Store) current(ctx context.Context) (storage.Document, error) {
	doc, err := s.storage.Read(ctx)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		doc = storage.Document{}
	}
	return doc, nil
}

func (s *Store) run(fn func() error) *queue.Future {
	return s.ops.Call(func() (any, error) { return nil, fn() })
}

// Touch creates the file with the current (possibly empty) document.
func (s *Store) Touch(ctx context.Context) error {
	_, err := s.run(func() error {
		doc, err := s.current(ctx)
		if err != nil {
			return err
		}
		if err := s.storage.Write(ctx, doc); err != nil {
			return err
		}
		return s.storage.Flush()
	}).Wait(ctx)
	return err
}

// SetAsync queues a write of key and returns without waiting.
func (s *Store) SetAsync(ctx context.Context, key string, value any) *queue.Future {
	return s.run(func() error {
		doc, err := s.current(ctx)
		if err != nil {
			return err
		}
		doc[key] = value
		return s.storage.Write(ctx, doc)
	})
}

// Set stores value under key.
func (s *Store) Set(ctx context.Context, key string, value any) error {
	_, err := s.SetAsync(ctx, key, value).Wait(ctx)
	return err
}

// Get returns the value for key and whether it was present.
func (s *Store) Get(ctx context.Context, key string) (any, bool, error) {
	type result struct {
		value any
		ok    bool
	}
	r, err := queue.Do(ctx, s.ops, func() (result, error) {
		doc, err := s.storage.Read(ctx)
		if err != nil {
			return result{}, err
		}
		v, ok := doc[key]
		return result{value: v, ok: ok}, nil
	})
	return r.value, r.ok, err
}

// Keys returns all keys in sorted order.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	return queue.Do(ctx, s.ops, func() ([]string, error) {
		doc, err := s.current(ctx)
		if err != nil {
			return nil, err
		}
		keys := make([]string, 0, len(doc))
		for k := range doc {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		return keys, nil
	})
}

// All returns a copy of the whole document; never nil.
func (s *Store) All(ctx context.Context) (storage.Document, error) {
	return queue.Do(ctx, s.ops, func() (storage.Document, error) {
		return s.current(ctx)
	})
}

// DelAsync queues removal of key and returns without waiting.
func (s *Store) DelAsync(ctx context.Context, key string) *queue.Future {
	return s.run(func() error {
		doc, err := s.storage.Read(ctx)
		if err != nil || doc == nil {
			return err
		}
		if _, ok := doc[key]; !ok {
			return nil
		}
		delete(doc, key)
		return s.storage.Write(ctx, doc)
	})
}

// Del removes key. Removing a missing key is not an error.
func (s *Store) Del(ctx context.Context, key string) error {
	_, err := s.DelAsync(ctx, key).Wait(ctx)
	return err
}

// Destroy deletes the backing file and empties the store.
func (s *Store) Destroy(ctx context.Context) error {
	_, err := s.run(s.storage.Purge).Wait(ctx)
	return err
}

// Reload drops the cache so the next operation re-reads the file. Changes
// not yet flushed are lost; discarded reports whether there were any.
func (s *Store) Reload(ctx context.Context) (discarded bool, err error) {
	return queue.Do(ctx, s.ops, func() (bool, error) {
		return s.storage.Invalidate(), nil
	})
}

// Commit flushes pending changes to disk now.
func (s *Store) Commit(ctx context.Context) error {
	_, err := s.run(s.storage.Flush).Wait(ctx)
	return err
}

// Close waits for queued operations, flushes what is pending and releases
// the store. unflushed is true when changes could not be persisted.
func (s *Store) Close(ctx context.Context) (unflushed bool, err error) {
	s.storage.Stop()
	_, err = s.run(s.storage.FlushIfNeeded).Wait(ctx)
	if err != nil {
		logger.Error("final flush failed", "path", s.storage.Path(), "err", err)
	}
	s.ops.Close()
	return s.storage.Close(), err
}
