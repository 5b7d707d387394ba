package kvstore

import (
	"context"
	"fmt"
	"sync/atomic"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"
)

// BadgerStore implements Store using BadgerDB
type BadgerStore struct {
	db     *badger.DB
	dir    string
	closed atomic.Bool
	logger *logrus.Logger
}

// NewBadgerStore opens the BadgerDB database in dir.
func NewBadgerStore(dir string, opts Options) (*BadgerStore, error) {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	cacheSize := opts.CacheSizeMB
	if cacheSize <= 0 {
		cacheSize = 64
	}

	badgerOpts := badger.DefaultOptions(dir).
		WithLogger(newBadgerLogger(opts.Logger)).
		WithReadOnly(opts.ReadOnly).
		WithBlockCacheSize(cacheSize << 20).
		WithNumVersionsToKeep(1)

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db: %w", err)
	}

	opts.Logger.WithFields(logrus.Fields{
		"path":      dir,
		"read_only": opts.ReadOnly,
	}).Debug("BadgerDB store opened")

	return &BadgerStore{db: db, dir: dir, logger: opts.Logger}, nil
}

func (s *BadgerStore) Path() string   { return s.dir }
func (s *BadgerStore) Engine() Engine { return EngineBadger }

// Get retrieves a raw value from BadgerDB
func (s *BadgerStore) Get(ctx context.Context, key []byte) ([]byte, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return ErrNotFound
			}
			return err
		}

		value, err = item.ValueCopy(nil)
		return err
	})

	if err != nil {
		return nil, err
	}
	return value, nil
}

// Put stores a raw value in BadgerDB
func (s *BadgerStore) Put(ctx context.Context, key, value []byte) error {
	if s.closed.Load() {
		return ErrClosed
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
}

// Batch applies writes using a BadgerDB write batch.
func (s *BadgerStore) Batch(ctx context.Context, pairs []Pair) error {
	if s.closed.Load() {
		return ErrClosed
	}
	wb := s.db.NewWriteBatch()
	for _, p := range pairs {
		if err := wb.Set(p.Key, p.Value); err != nil {
			wb.Cancel()
			return fmt.Errorf("batch set %x: %w", p.Key, err)
		}
	}
	return wb.Flush()
}

// Scan iterates all keys with the given prefix.
func (s *BadgerStore) Scan(ctx context.Context, prefix []byte, withValues bool, fn func(key, val []byte) bool) error {
	if s.closed.Load() {
		return ErrClosed
	}
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = withValues
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			keyCopy := item.KeyCopy(nil)
			var valCopy []byte
			if withValues {
				v, err := item.ValueCopy(nil)
				if err != nil {
					return err
				}
				valCopy = v
			}
			if !fn(keyCopy, valCopy) {
				break
			}
		}
		return nil
	})
}

// Keys returns every key in the store.
func (s *BadgerStore) Keys(ctx context.Context) ([][]byte, error) {
	return collectKeys(ctx, s)
}

// Close releases the BadgerDB handle.
func (s *BadgerStore) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.logger.WithField("path", s.dir).Debug("Closing BadgerDB store")
	return s.db.Close()
}

// badgerLogger adapts logrus to BadgerDB's logger interface
type badgerLogger struct {
	logger *logrus.Logger
}

func newBadgerLogger(logger *logrus.Logger) *badgerLogger {
	return &badgerLogger{logger: logger}
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Errorf("[BadgerDB] "+format, args...)
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warnf("[BadgerDB] "+format, args...)
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debugf("[BadgerDB] "+format, args...)
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Tracef("[BadgerDB] "+format, args...)
}

var _ Store = (*BadgerStore)(nil)
