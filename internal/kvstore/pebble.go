package kvstore

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/cockroachdb/pebble"
	"github.com/sirupsen/logrus"
)

// PebbleStore implements Store using Pebble (CockroachDB's LSM engine).
type PebbleStore struct {
	db     *pebble.DB
	dir    string
	closed atomic.Bool
	logger *logrus.Logger
}

// NewPebbleStore opens the Pebble database in dir.
func NewPebbleStore(dir string, opts Options) (*PebbleStore, error) {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	cacheSize := opts.CacheSizeMB
	if cacheSize <= 0 {
		cacheSize = 64
	}

	cache := pebble.NewCache(cacheSize << 20)
	defer cache.Unref()

	db, err := pebble.Open(dir, &pebble.Options{
		Cache:            cache,
		ReadOnly:         opts.ReadOnly,
		ErrorIfNotExists: !opts.CreateIfMissing,
		Logger:           &pebbleLogger{logger: opts.Logger},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble db: %w", err)
	}

	opts.Logger.WithFields(logrus.Fields{
		"path":      dir,
		"read_only": opts.ReadOnly,
	}).Debug("Pebble store opened")

	return &PebbleStore{db: db, dir: dir, logger: opts.Logger}, nil
}

func (s *PebbleStore) Path() string   { return s.dir }
func (s *PebbleStore) Engine() Engine { return EnginePebble }

// Get retrieves a value and returns a safe copy of it.
func (s *PebbleStore) Get(ctx context.Context, key []byte) ([]byte, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	val, closer, err := s.db.Get(key)
	if err == pebble.ErrNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	data := make([]byte, len(val))
	copy(data, val)
	_ = closer.Close()
	return data, nil
}

// Put stores a value.
func (s *PebbleStore) Put(ctx context.Context, key, value []byte) error {
	if s.closed.Load() {
		return ErrClosed
	}
	return s.db.Set(key, value, pebble.NoSync)
}

// Batch applies writes atomically via a Pebble batch.
func (s *PebbleStore) Batch(ctx context.Context, pairs []Pair) error {
	if s.closed.Load() {
		return ErrClosed
	}
	batch := s.db.NewBatch()
	defer batch.Close() //nolint:errcheck

	for _, p := range pairs {
		if err := batch.Set(p.Key, p.Value, nil); err != nil {
			return fmt.Errorf("batch set %x: %w", p.Key, err)
		}
	}
	return batch.Commit(pebble.NoSync)
}

// Scan iterates keys with the given prefix in bytewise order.
func (s *PebbleStore) Scan(ctx context.Context, prefix []byte, withValues bool, fn func(key, val []byte) bool) error {
	if s.closed.Load() {
		return ErrClosed
	}
	iterOpts := &pebble.IterOptions{}
	if len(prefix) > 0 {
		iterOpts.LowerBound = prefix
		iterOpts.UpperBound = prefixEnd(prefix)
	}

	iter, err := s.db.NewIter(iterOpts)
	if err != nil {
		return fmt.Errorf("failed to create iterator: %w", err)
	}
	defer iter.Close() //nolint:errcheck

	for valid := iter.First(); valid; valid = iter.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		keyCopy := make([]byte, len(iter.Key()))
		copy(keyCopy, iter.Key())
		var valCopy []byte
		if withValues {
			val := iter.Value()
			valCopy = make([]byte, len(val))
			copy(valCopy, val)
		}
		if !fn(keyCopy, valCopy) {
			break
		}
	}
	return iter.Error()
}

// Keys returns every key in the store.
func (s *PebbleStore) Keys(ctx context.Context) ([][]byte, error) {
	return collectKeys(ctx, s)
}

// Close shuts down the Pebble store.
func (s *PebbleStore) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.logger.WithField("path", s.dir).Debug("Closing Pebble store")
	return s.db.Close()
}

// pebbleLogger adapts logrus to pebble's Logger interface.
type pebbleLogger struct {
	logger *logrus.Logger
}

func (l *pebbleLogger) Infof(format string, args ...interface{}) {
	l.logger.Debugf("[Pebble] "+format, args...)
}

func (l *pebbleLogger) Errorf(format string, args ...interface{}) {
	l.logger.Errorf("[Pebble] "+format, args...)
}

// Fatalf panics instead of exiting so the gateway can recover it.
func (l *pebbleLogger) Fatalf(format string, args ...interface{}) {
	msg := fmt.Sprintf("[Pebble] "+format, args...)
	l.logger.Error(msg)
	panic(msg)
}

var _ Store = (*PebbleStore)(nil)
