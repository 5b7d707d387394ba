package resource

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/worldlens/worldlens/internal/metrics"
	"github.com/worldlens/worldlens/internal/worlddb"
)

// Gateway opens paths as resources. Implementations never panic; every
// failure is returned as an error value.
type Gateway interface {
	OpenLeaf(ctx context.Context, path string) (Leaf, error)
	OpenStore(ctx context.Context, path string) (*worlddb.Folder, error)
}

// Options configures the default gateway.
type Options struct {
	Store   worlddb.Options
	Logger  *logrus.Logger
	Metrics metrics.Manager
}

// DefaultGateway opens leaves with a list of format probes and stores with
// worlddb.Open.
type DefaultGateway struct {
	store   worlddb.Options
	logger  *logrus.Logger
	metrics metrics.Manager
	probes  []Probe
}

// NewGateway creates a gateway using DefaultProbes.
func NewGateway(opts Options) *DefaultGateway {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Noop()
	}
	if opts.Store.Logger == nil {
		opts.Store.Logger = opts.Logger
	}
	if opts.Store.Metrics == nil {
		opts.Store.Metrics = opts.Metrics
	}

	return &DefaultGateway{
		store:   opts.Store,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		probes:  DefaultProbes(),
	}
}

// OpenLeaf runs each probe in turn and returns the first match. When no
// probe matches the error aggregates every probe's reason.
func (g *DefaultGateway) OpenLeaf(ctx context.Context, path string) (leaf Leaf, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			g.logger.WithFields(logrus.Fields{
				"path":  path,
				"panic": rec,
			}).Error("Panic while opening file")
			leaf = nil
			err = newOpenError(path, LeafFile, fmt.Errorf("%w: panic: %v", ErrOpenFailed, rec))
		}
		g.metrics.RecordOpen(LeafFile.String(), err == nil)
	}()

	if err := ctx.Err(); err != nil {
		return nil, newOpenError(path, LeafFile, err)
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, newOpenError(path, LeafFile, ErrNotFound)
		}
		return nil, newOpenError(path, LeafFile, fmt.Errorf("%w: %w", ErrOpenFailed, err))
	}
	if info.IsDir() {
		return nil, newOpenError(path, LeafFile, fmt.Errorf("%w: is a directory", ErrOpenFailed))
	}

	reasons := make([]error, 0, len(g.probes))
	for _, p := range g.probes {
		f, perr := p.Open(ctx, path, info)
		if perr == nil {
			g.logger.WithFields(logrus.Fields{
				"path":   path,
				"format": f.Format(),
			}).Debug("Opened file")
			return f, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, newOpenError(path, LeafFile, ctxErr)
		}
		reasons = append(reasons, fmt.Errorf("%s: %w", p.Name, perr))
	}

	return nil, newOpenError(path, LeafFile,
		fmt.Errorf("%w: unrecognized format: %w", ErrOpenFailed, errors.Join(reasons...)))
}

// OpenStore opens the store directory at path.
func (g *DefaultGateway) OpenStore(ctx context.Context, path string) (folder *worlddb.Folder, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			g.logger.WithFields(logrus.Fields{
				"path":  path,
				"panic": rec,
			}).Error("Panic while opening store")
			folder = nil
			err = newOpenError(path, StoreFolder, fmt.Errorf("%w: panic: %v", ErrOpenFailed, rec))
		}
		g.metrics.RecordOpen(StoreFolder.String(), err == nil)
	}()

	f, err := worlddb.Open(ctx, path, g.store)
	if err != nil {
		return nil, newOpenError(path, StoreFolder, err)
	}
	return f, nil
}

// Logger returns the gateway's logger.
func (g *DefaultGateway) Logger() *logrus.Logger { return g.logger }
