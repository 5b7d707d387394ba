package kvstore

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
)

const copyBatchSize = 10_000

// CopyTo writes every pair of src into a fresh store at dstDir using the given
// engine. dstDir must not already exist. Copying between engines is allowed,
// so this doubles as a badger to pebble converter.
//
// On failure the partially written destination is removed.
func CopyTo(ctx context.Context, src Store, dstDir string, engine Engine, logger *logrus.Logger) (int64, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if engine == "" || engine == EngineAuto {
		engine = src.Engine()
	}
	if _, err := os.Stat(dstDir); err == nil {
		return 0, fmt.Errorf("destination %s already exists", dstDir)
	} else if !os.IsNotExist(err) {
		return 0, fmt.Errorf("failed to check destination: %w", err)
	}

	dst, err := Open(dstDir, Options{Engine: engine, CreateIfMissing: true, Logger: logger})
	if err != nil {
		_ = os.RemoveAll(dstDir)
		return 0, err
	}

	copied, err := copyPairs(ctx, src, dst, logger)
	closeErr := dst.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		// remove the incomplete destination so the copy can be retried
		_ = os.RemoveAll(dstDir)
		return copied, fmt.Errorf("copy failed after %d keys: %w", copied, err)
	}

	logger.WithFields(logrus.Fields{
		"copied_keys": copied,
		"source":      src.Path(),
		"destination": dstDir,
		"engine":      engine,
	}).Info("Store copy complete")
	return copied, nil
}

func copyPairs(ctx context.Context, src, dst Store, logger *logrus.Logger) (int64, error) {
	var (
		total    int64
		batch    = make([]Pair, 0, copyBatchSize)
		writeErr error
	)

	scanErr := src.Scan(ctx, nil, true, func(key, val []byte) bool {
		batch = append(batch, Pair{Key: key, Value: val})
		total++
		if len(batch) == copyBatchSize {
			if writeErr = dst.Batch(ctx, batch); writeErr != nil {
				return false
			}
			batch = batch[:0]
			logger.WithField("keys_copied", total).Info("Copy progress")
		}
		return true
	})
	if writeErr != nil {
		return total, fmt.Errorf("failed to write batch at key %d: %w", total, writeErr)
	}
	if scanErr != nil {
		return total, fmt.Errorf("failed to read source: %w", scanErr)
	}

	// Commit the final (possibly partial) batch
	if len(batch) > 0 {
		if err := dst.Batch(ctx, batch); err != nil {
			return total, fmt.Errorf("failed to write final batch: %w", err)
		}
	}
	return total, nil
}
