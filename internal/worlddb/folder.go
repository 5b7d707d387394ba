// Package worlddb manages one key-value store folder (a save's "db"
// directory): its handle, its classified key groups and its edit state.
package worlddb

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/df-mc/dragonfly/server/world/mcdb/leveldat"
	"github.com/sirupsen/logrus"
	"github.com/worldlens/worldlens/internal/events"
	"github.com/worldlens/worldlens/internal/kvstore"
	"github.com/worldlens/worldlens/internal/metrics"
)

const (
	levelNameFile = "levelname.txt"
	levelDatFile  = "level.dat"
)

// Options configures Open.
type Options struct {
	Engine      kvstore.Engine
	ReadOnly    bool
	CacheSizeMB int64
	Logger      *logrus.Logger
	Metrics     metrics.Manager
}

// Folder owns exactly one open store and the KeyGroups derived from it.
type Folder struct {
	opts    Options
	logger  *logrus.Logger
	metrics metrics.Manager

	mu       sync.Mutex
	path     string
	store    kvstore.Store
	state    State
	disposed bool
	unsaved  bool
	keyCount int
	groups   []*KeyGroup
	unsub    []func()

	keysChanged     events.Signal
	saved           events.Signal
	actionPerformed events.Event[Action]
}

// Open opens the store rooted at path. The returned Folder is unresolved.
//
// Returns ErrNotFound if path is not an existing directory, ErrAlreadyOpen if
// another live Folder already holds the store and ErrOpenFailed if the engine
// refuses to open it.
func Open(ctx context.Context, path string, opts Options) (*Folder, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Noop()
	}

	abs, err := absPath(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrOpenFailed, path, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrOpenFailed, path, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrNotFound, path)
	}

	f := &Folder{
		opts:    opts,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		path:    abs,
	}
	if !registry.reserve(abs, f) {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyOpen, abs)
	}

	store, err := f.openStore(abs)
	if err != nil {
		registry.release(abs, f)
		return nil, err
	}
	f.store = store
	f.metrics.UpdateOpenStores(registry.count())

	f.logger.WithFields(logrus.Fields{
		"path":   abs,
		"engine": store.Engine(),
	}).Debug("Store folder opened")
	return f, nil
}

func (f *Folder) openStore(path string) (kvstore.Store, error) {
	store, err := kvstore.Open(path, kvstore.Options{
		Engine:      f.opts.Engine,
		ReadOnly:    f.opts.ReadOnly,
		CacheSizeMB: f.opts.CacheSizeMB,
		Logger:      f.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrOpenFailed, path, err)
	}
	return store, nil
}

func absPath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return filepath.Clean(abs), nil
}

// handle returns the live store or ErrDisposed.
func (f *Folder) handle() (kvstore.Store, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.disposed {
		return nil, ErrDisposed
	}
	return f.store, nil
}

func (f *Folder) Path() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.path
}

// Name is the directory's base name, which is "db" for a normal save.
func (f *Folder) Name() string {
	return filepath.Base(f.Path())
}

func (f *Folder) Engine() kvstore.Engine {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.store == nil {
		return ""
	}
	return f.store.Engine()
}

func (f *Folder) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *Folder) Resolved() bool { return f.State() == Resolved }

func (f *Folder) Disposed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disposed
}

func (f *Folder) HasUnsavedChanges() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unsaved
}

// KeyCount is the number of keys seen by the last Resolve.
func (f *Folder) KeyCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.keyCount
}

// Groups returns the current key groups. Empty until resolved.
func (f *Folder) Groups() []*KeyGroup {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.groups)
}

// Group returns the group of the given kind.
func (f *Folder) Group(kind GroupKind) (*KeyGroup, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.disposed {
		return nil, ErrDisposed
	}
	if f.state != Resolved {
		return nil, ErrNotResolved
	}
	for _, g := range f.groups {
		if g.kind == kind {
			return g, nil
		}
	}
	return nil, fmt.Errorf("%w: group %s", ErrNotFound, kind)
}

// Resolve enumerates the store once and rebuilds the group set. The groups
// themselves classify lazily on their own Resolve. KeysChanged fires after
// the new groups are installed.
func (f *Folder) Resolve(ctx context.Context) error {
	f.mu.Lock()
	if f.disposed {
		f.mu.Unlock()
		return ErrDisposed
	}
	if f.state == Resolving {
		f.mu.Unlock()
		return ErrResolveInProgress
	}
	prev := f.state
	f.state = Resolving
	store := f.store
	f.mu.Unlock()

	raws, err := store.Keys(ctx)
	if err != nil {
		f.mu.Lock()
		f.state = prev
		f.mu.Unlock()
		return fmt.Errorf("failed to enumerate keys: %w", err)
	}

	all := newKeyGroup(f, GroupAll, raws)
	unsub := all.OnActionPerformed(f.actionPerformed.Emit)

	f.mu.Lock()
	for _, u := range f.unsub {
		u()
	}
	f.groups = []*KeyGroup{all}
	f.unsub = []func(){unsub}
	f.keyCount = len(raws)
	f.state = Resolved
	f.mu.Unlock()

	f.keysChanged.Notify()
	return nil
}

// Refresh is Resolve.
func (f *Folder) Refresh(ctx context.Context) error {
	return f.Resolve(ctx)
}

// Keys resolves the folder and its All group when needed and returns the
// classified keys.
func (f *Folder) Keys(ctx context.Context) ([]*Key, error) {
	if !f.Resolved() {
		if err := f.Resolve(ctx); err != nil {
			return nil, err
		}
	}
	g, err := f.Group(GroupAll)
	if err != nil {
		return nil, err
	}
	if !g.Resolved() {
		if err := g.Resolve(ctx); err != nil {
			return nil, err
		}
	}
	return g.Keys(), nil
}

// Save clears the dirty state and fires Saved. Edits made through
// Key.SetValue are never written back to the store.
func (f *Folder) Save() error {
	f.mu.Lock()
	if f.disposed {
		f.mu.Unlock()
		return ErrDisposed
	}
	f.unsaved = false
	groups := slices.Clone(f.groups)
	f.mu.Unlock()

	for _, g := range groups {
		g.clearDirty()
	}
	f.saved.Notify()
	return nil
}

// SaveAs copies the store into a new directory at dst and then behaves like
// Save. dst must not exist. An empty engine keeps the source engine, so
// SaveAs doubles as an engine converter.
func (f *Folder) SaveAs(ctx context.Context, dst string, engine kvstore.Engine) error {
	store, err := f.handle()
	if err != nil {
		return err
	}
	abs, err := absPath(dst)
	if err != nil {
		return err
	}
	if _, err := os.Stat(abs); err == nil {
		return fmt.Errorf("%w: %s", ErrMoveConflict, abs)
	}

	if engine == "" || engine == kvstore.EngineAuto {
		engine = store.Engine()
	}
	if _, err := kvstore.CopyTo(ctx, store, abs, engine, f.logger); err != nil {
		return err
	}
	return f.Save()
}

// Move closes the store, renames its directory to dst and reopens it there.
// If the reopen fails the Folder is disposed.
func (f *Folder) Move(dst string) error {
	abs, err := absPath(dst)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.disposed {
		return ErrDisposed
	}
	if _, err := os.Stat(abs); err == nil {
		return fmt.Errorf("%w: %s", ErrMoveConflict, abs)
	}
	if !registry.rename(f.path, abs, f) {
		return fmt.Errorf("%w: %s", ErrMoveConflict, abs)
	}

	if err := f.store.Close(); err != nil {
		f.logger.WithError(err).WithField("path", f.path).Warn("Failed to close store before move")
	}

	if err := os.Rename(f.path, abs); err != nil {
		registry.rename(abs, f.path, f)
		store, openErr := f.openStore(f.path)
		if openErr != nil {
			f.disposeLocked()
			return fmt.Errorf("failed to move store: %w (reopen: %w)", err, openErr)
		}
		f.store = store
		return fmt.Errorf("failed to move store: %w", err)
	}

	store, err := f.openStore(abs)
	if err != nil {
		f.path = abs
		f.disposeLocked()
		return err
	}

	f.logger.WithFields(logrus.Fields{
		"from": f.path,
		"to":   abs,
	}).Info("Store folder moved")
	f.path = abs
	f.store = store
	return nil
}

// Close releases the store handle. Further operations return ErrDisposed.
// Closing twice is a no-op.
func (f *Folder) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.disposed {
		return nil
	}
	err := f.store.Close()
	f.disposeLocked()
	return err
}

func (f *Folder) disposeLocked() {
	f.disposed = true
	f.store = nil
	for _, u := range f.unsub {
		u()
	}
	f.unsub = nil
	f.groups = nil
	f.state = Unresolved
	registry.release(f.path, f)
	f.metrics.UpdateOpenStores(registry.count())
}

func (f *Folder) markUnsaved() {
	f.mu.Lock()
	f.unsaved = true
	f.mu.Unlock()
}

// LevelName returns the world's display name from levelname.txt next to the
// store directory, then from the LevelName field of a Bedrock level.dat,
// falling back to the parent directory name.
func (f *Folder) LevelName() string {
	parent := filepath.Dir(f.Path())
	data, err := os.ReadFile(filepath.Join(parent, levelNameFile))
	if err == nil {
		if name := strings.TrimSpace(string(data)); name != "" {
			return name
		}
	}
	if ldat, err := leveldat.ReadFile(filepath.Join(parent, levelDatFile)); err == nil {
		var settings leveldat.Data
		if err := ldat.Unmarshal(&settings); err == nil {
			if name := strings.TrimSpace(settings.LevelName); name != "" {
				return name
			}
		}
	}
	return filepath.Base(parent)
}

// Description is a one-line summary for listings.
func (f *Folder) Description() string {
	name := f.LevelName()
	if !f.Resolved() {
		return name
	}
	return fmt.Sprintf("%s (%d keys)", name, f.KeyCount())
}

func (f *Folder) OnKeysChanged(fn func()) (unsubscribe func()) { return f.keysChanged.Subscribe(fn) }
func (f *Folder) OnSaved(fn func()) (unsubscribe func())       { return f.saved.Subscribe(fn) }

// OnActionPerformed receives edits from every group of this folder.
func (f *Folder) OnActionPerformed(fn func(Action)) (unsubscribe func()) {
	return f.actionPerformed.Subscribe(fn)
}
