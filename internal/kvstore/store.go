package kvstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

// Common errors
var (
	ErrNotFound      = errors.New("key not found")
	ErrClosed        = errors.New("store is closed")
	ErrUnknownEngine = errors.New("unknown storage engine")
)

// Engine names the on-disk engine behind a Store.
type Engine string

const (
	EngineAuto    Engine = "auto"
	EngineLevelDB Engine = "leveldb"
	EnginePebble  Engine = "pebble"
	EngineBadger  Engine = "badger"
)

const (
	badgerKeyRegistry   = "KEYREGISTRY" // file present only in BadgerDB directories
	pebbleOptionsPrefix = "OPTIONS-"    // written by pebble, never by LevelDB
)

// Engines lists the engines Open accepts, the default first.
func Engines() []Engine {
	return []Engine{EngineLevelDB, EnginePebble, EngineBadger}
}

// Store is an ordered byte-key/byte-value table living in one directory.
// Iteration order is the engine's native (bytewise) order.
type Store interface {
	// Get retrieves a value by exact key. Returns ErrNotFound if absent.
	Get(ctx context.Context, key []byte) ([]byte, error)

	// Put stores a key-value pair.
	Put(ctx context.Context, key, value []byte) error

	// Batch applies a set of writes atomically.
	Batch(ctx context.Context, pairs []Pair) error

	// Scan iterates all pairs sharing prefix in native order. fn receives
	// copies; returning false stops the scan early. When withValues is false
	// fn receives a nil value and the engine may skip reading values.
	Scan(ctx context.Context, prefix []byte, withValues bool, fn func(key, val []byte) bool) error

	// Keys returns every key in native order.
	Keys(ctx context.Context) ([][]byte, error)

	Path() string
	Engine() Engine
	Close() error
}

// Pair is a single key-value entry.
type Pair struct {
	Key   []byte
	Value []byte
}

// Options configures Open.
type Options struct {
	Engine          Engine
	ReadOnly        bool
	CreateIfMissing bool
	CacheSizeMB     int64
	Logger          *logrus.Logger
}

// Open opens the store rooted at dir.
func Open(dir string, opts Options) (Store, error) {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	engine := opts.Engine
	if engine == "" || engine == EngineAuto {
		engine = DetectEngine(dir)
	}

	if opts.CreateIfMissing {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	switch engine {
	case EngineLevelDB:
		return NewLevelDBStore(dir, opts)
	case EnginePebble:
		return NewPebbleStore(dir, opts)
	case EngineBadger:
		return NewBadgerStore(dir, opts)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEngine, engine)
	}
}

// DetectEngine guesses the engine that wrote dir. Directories holding a
// BadgerDB key registry are badger, directories holding a pebble OPTIONS file
// are pebble, and everything else (including Bedrock world databases) is
// LevelDB.
func DetectEngine(dir string) Engine {
	if _, err := os.Stat(filepath.Join(dir, badgerKeyRegistry)); err == nil {
		return EngineBadger
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return EngineLevelDB
	}
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), pebbleOptionsPrefix) {
			return EnginePebble
		}
	}
	return EngineLevelDB
}

// prefixEnd returns the exclusive upper bound for a prefix scan.
// It increments the last byte of the prefix; returns nil if all bytes overflow.
func prefixEnd(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil // all bytes overflowed, no upper bound
}

func collectKeys(ctx context.Context, s Store) ([][]byte, error) {
	var keys [][]byte
	err := s.Scan(ctx, nil, false, func(key, _ []byte) bool {
		keys = append(keys, key)
		return true
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}
