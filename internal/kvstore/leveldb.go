package kvstore

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/df-mc/goleveldb/leveldb"
	"github.com/df-mc/goleveldb/leveldb/opt"
	"github.com/df-mc/goleveldb/leveldb/util"
	"github.com/sirupsen/logrus"
)

// LevelDBStore implements Store on the LevelDB fork used by Bedrock worlds,
// whose table blocks are deflate compressed.
type LevelDBStore struct {
	db     *leveldb.DB
	dir    string
	closed atomic.Bool
	logger *logrus.Logger
}

// NewLevelDBStore opens the LevelDB database in dir.
func NewLevelDBStore(dir string, opts Options) (*LevelDBStore, error) {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	cacheSize := opts.CacheSizeMB
	if cacheSize <= 0 {
		cacheSize = 64
	}

	db, err := leveldb.OpenFile(dir, &opt.Options{
		Compression:        opt.FlateCompression,
		BlockSize:          16 * opt.KiB,
		BlockCacheCapacity: int(cacheSize << 20),
		ReadOnly:           opts.ReadOnly,
		ErrorIfMissing:     !opts.CreateIfMissing,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open leveldb: %w", err)
	}

	opts.Logger.WithFields(logrus.Fields{
		"path":      dir,
		"read_only": opts.ReadOnly,
	}).Debug("LevelDB store opened")

	return &LevelDBStore{db: db, dir: dir, logger: opts.Logger}, nil
}

func (s *LevelDBStore) Path() string   { return s.dir }
func (s *LevelDBStore) Engine() Engine { return EngineLevelDB }

// Get retrieves a value. LevelDB already returns a private copy.
func (s *LevelDBStore) Get(ctx context.Context, key []byte) ([]byte, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	val, err := s.db.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return val, nil
}

// Put stores a value.
func (s *LevelDBStore) Put(ctx context.Context, key, value []byte) error {
	if s.closed.Load() {
		return ErrClosed
	}
	return s.db.Put(key, value, nil)
}

// Batch applies writes atomically via a LevelDB batch.
func (s *LevelDBStore) Batch(ctx context.Context, pairs []Pair) error {
	if s.closed.Load() {
		return ErrClosed
	}
	batch := new(leveldb.Batch)
	for _, p := range pairs {
		batch.Put(p.Key, p.Value)
	}
	return s.db.Write(batch, nil)
}

// Scan iterates keys with the given prefix in bytewise order.
func (s *LevelDBStore) Scan(ctx context.Context, prefix []byte, withValues bool, fn func(key, val []byte) bool) error {
	if s.closed.Load() {
		return ErrClosed
	}
	var rng *util.Range
	if len(prefix) > 0 {
		rng = util.BytesPrefix(prefix)
	}

	iter := s.db.NewIterator(rng, &opt.ReadOptions{DontFillCache: true})
	defer iter.Release()

	for iter.Next() {
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
func (s *LevelDBStore) Keys(ctx context.Context) ([][]byte, error) {
	return collectKeys(ctx, s)
}

// Close shuts down the LevelDB store.
func (s *LevelDBStore) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.logger.WithField("path", s.dir).Debug("Closing LevelDB store")
	return s.db.Close()
}

var _ Store = (*LevelDBStore)(nil)
