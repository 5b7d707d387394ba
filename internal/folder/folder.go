// Package folder scans directories for save resources and keeps the result
// in sync with the disk across rescans.
package folder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/worldlens/worldlens/internal/events"
	"github.com/worldlens/worldlens/internal/metrics"
	"github.com/worldlens/worldlens/internal/resource"
	"github.com/worldlens/worldlens/internal/worlddb"
)

// StoreDirName is the directory name (case-insensitive) opened as a store.
const StoreDirName = "db"

// Common errors
var (
	ErrScanInProgress = errors.New("scan already in progress")
	ErrClosed         = worlddb.ErrDisposed
	ErrMoveConflict   = worlddb.ErrMoveConflict
)

// State tracks a folder's scan lifecycle.
type State uint8

const (
	Unscanned State = iota
	Scanning
	Scanned
)

func (s State) String() string {
	switch s {
	case Unscanned:
		return "unscanned"
	case Scanning:
		return "scanning"
	case Scanned:
		return "scanned"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// Failure records why a path could not be opened.
type Failure struct {
	Path string
	Err  error
}

// Options configures a Folder and every child folder it creates.
type Options struct {
	Recursive bool
	Gateway   resource.Gateway
	Logger    *logrus.Logger
	Metrics   metrics.Manager
}

// Folder is a directory whose files, stores and subdirectories are opened
// by Scan. Child folders are created unscanned.
type Folder struct {
	opts    Options
	logger  *logrus.Logger
	metrics metrics.Manager

	mu           sync.Mutex
	path         string
	state        State
	closed       bool
	files        map[string]resource.Leaf
	stores       map[string]*worlddb.Folder
	subfolders   map[string]*Folder
	failedFiles  map[string]error
	failedStores map[string]error

	contentsChanged events.Signal
	filesFailed     events.Event[[]Failure]
	storesFailed    events.Event[[]Failure]
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = logrus.New()
	}
	if o.Metrics == nil {
		o.Metrics = metrics.Noop()
	}
	if o.Gateway == nil {
		o.Gateway = resource.NewGateway(resource.Options{Logger: o.Logger, Metrics: o.Metrics})
	}
	return o
}

// New creates an unscanned folder for path.
func New(path string, opts Options) *Folder {
	opts = opts.withDefaults()
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}

	return &Folder{
		opts:         opts,
		logger:       opts.Logger,
		metrics:      opts.Metrics,
		path:         filepath.Clean(path),
		files:        make(map[string]resource.Leaf),
		stores:       make(map[string]*worlddb.Folder),
		subfolders:   make(map[string]*Folder),
		failedFiles:  make(map[string]error),
		failedStores: make(map[string]error),
	}
}

// scanResult is everything computed by the I/O phase of a scan, applied to
// the folder's maps in one step afterwards.
type scanResult struct {
	presentFiles  map[string]bool
	presentStores map[string]bool
	presentDirs   map[string]bool

	openedFiles  map[string]resource.Leaf
	openedStores map[string]*worlddb.Folder
	newFolders   []string
	fileErrs     []Failure
	storeErrs    []Failure
}

// Scan lists the directory and brings the cached maps in line with it.
//
// Paths already cached are kept, new paths are opened through the gateway
// and paths gone from disk are evicted (their stores closed). Failed opens
// are retried on every scan and reported through FilesFailed/StoresFailed
// only the first time they fail in a row. A later success clears the
// failure record.
//
// ContentsChanged fires once after all maps are updated, followed by the
// failure events. Calling Scan while a scan on the same folder is running,
// including from one of its event handlers, returns ErrScanInProgress.
func (f *Folder) Scan(ctx context.Context) error {
	start := time.Now()

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return ErrClosed
	}
	if f.state == Scanning {
		f.mu.Unlock()
		return ErrScanInProgress
	}
	prev := f.state
	f.state = Scanning
	path := f.path
	knownFiles := keySet(f.files)
	knownStores := keySet(f.stores)
	knownDirs := keySet(f.subfolders)
	f.mu.Unlock()

	final := prev
	defer func() {
		f.mu.Lock()
		f.state = final
		f.mu.Unlock()
	}()

	res, err := f.collect(ctx, path, knownFiles, knownStores, knownDirs)
	if err != nil {
		return err
	}

	newFiles, newStores, evicted, err := f.apply(res)
	if err != nil {
		return err
	}
	final = Scanned

	for _, e := range evicted {
		if cerr := e.Close(); cerr != nil {
			f.logger.WithError(cerr).Warn("Failed to close evicted entry")
		}
	}

	opened := len(res.openedFiles) + len(res.openedStores)
	f.metrics.RecordScan(time.Since(start), opened, len(newFiles)+len(newStores))
	f.logger.WithFields(logrus.Fields{
		"path":          path,
		"opened":        opened,
		"failed_files":  len(newFiles),
		"failed_stores": len(newStores),
		"evicted":       len(evicted),
		"duration":      time.Since(start),
	}).Debug("Folder scanned")

	f.contentsChanged.Notify()
	if len(newFiles) > 0 {
		f.filesFailed.Emit(newFiles)
	}
	if len(newStores) > 0 {
		f.storesFailed.Emit(newStores)
	}
	return nil
}

// collect performs the I/O half of a scan without touching the maps. On
// cancellation every store it opened is closed again.
func (f *Folder) collect(ctx context.Context, path string, knownFiles, knownStores, knownDirs map[string]bool) (_ *scanResult, err error) {
	res := &scanResult{
		presentFiles:  make(map[string]bool),
		presentStores: make(map[string]bool),
		presentDirs:   make(map[string]bool),
		openedFiles:   make(map[string]resource.Leaf),
		openedStores:  make(map[string]*worlddb.Folder),
	}
	defer func() {
		if err != nil {
			for _, s := range res.openedStores {
				_ = s.Close()
			}
		}
	}()

	entries, err := os.ReadDir(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to list %s: %w", path, err)
		}
		// a missing directory scans as empty
		entries = nil
	}
	slices.SortFunc(entries, func(a, b os.DirEntry) int {
		return naturalCompare(a.Name(), b.Name())
	})

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		p := filepath.Join(path, entry.Name())
		isDir := entry.IsDir()
		if entry.Type()&os.ModeSymlink != 0 {
			if info, serr := os.Stat(p); serr == nil {
				isDir = info.IsDir()
			}
		}

		switch {
		case !isDir:
			res.presentFiles[p] = true
			if knownFiles[p] {
				continue
			}
			leaf, err := f.opts.Gateway.OpenLeaf(ctx, p)
			if err != nil {
				res.fileErrs = append(res.fileErrs, Failure{Path: p, Err: err})
				continue
			}
			res.openedFiles[p] = leaf

		case !f.opts.Recursive:
			// directories are outside a non-recursive scan

		case strings.EqualFold(entry.Name(), StoreDirName):
			res.presentStores[p] = true
			if knownStores[p] {
				continue
			}
			store, err := f.opts.Gateway.OpenStore(ctx, p)
			if err != nil {
				res.storeErrs = append(res.storeErrs, Failure{Path: p, Err: err})
				continue
			}
			res.openedStores[p] = store

		default:
			res.presentDirs[p] = true
			if !knownDirs[p] {
				res.newFolders = append(res.newFolders, p)
			}
		}
	}

	// the gateway may have stopped early on cancellation
	if err := ctx.Err(); err != nil {
		return res, err
	}
	return res, nil
}

// closer is anything evicted from the maps that holds resources.
type closer interface {
	Close() error
}

// apply installs a scan result. It returns the newly failed paths and the
// evicted entries that the caller must close.
func (f *Folder) apply(res *scanResult) (newFiles, newStores []Failure, evicted []closer, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		for _, s := range res.openedStores {
			_ = s.Close()
		}
		return nil, nil, nil, ErrClosed
	}

	for p := range f.files {
		if !res.presentFiles[p] {
			delete(f.files, p)
		}
	}
	for p, leaf := range res.openedFiles {
		f.files[p] = leaf
		delete(f.failedFiles, p)
	}

	for p, s := range f.stores {
		if !res.presentStores[p] {
			delete(f.stores, p)
			evicted = append(evicted, s)
		}
	}
	for p, s := range res.openedStores {
		f.stores[p] = s
		delete(f.failedStores, p)
	}

	for p, sub := range f.subfolders {
		if !res.presentDirs[p] {
			delete(f.subfolders, p)
			evicted = append(evicted, sub)
		}
	}
	for _, p := range res.newFolders {
		f.subfolders[p] = New(p, f.opts)
	}

	for p := range f.failedFiles {
		if !res.presentFiles[p] {
			delete(f.failedFiles, p)
		}
	}
	for _, fail := range res.fileErrs {
		if _, seen := f.failedFiles[fail.Path]; !seen {
			newFiles = append(newFiles, fail)
		}
		f.failedFiles[fail.Path] = fail.Err
	}

	for p := range f.failedStores {
		if !res.presentStores[p] {
			delete(f.failedStores, p)
		}
	}
	for _, fail := range res.storeErrs {
		if _, seen := f.failedStores[fail.Path]; !seen {
			newStores = append(newStores, fail)
		}
		f.failedStores[fail.Path] = fail.Err
	}

	return newFiles, newStores, evicted, nil
}

// EnsureScanned scans the folder unless it has been scanned before.
func (f *Folder) EnsureScanned(ctx context.Context) error {
	if f.State() == Scanned {
		return nil
	}
	return f.Scan(ctx)
}

// ScanAll scans the folder and then every subfolder, depth first.
func (f *Folder) ScanAll(ctx context.Context) error {
	if err := f.Scan(ctx); err != nil {
		return err
	}
	for _, sub := range f.Subfolders() {
		if err := sub.ScanAll(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Refresh is Scan.
func (f *Folder) Refresh(ctx context.Context) error {
	return f.Scan(ctx)
}

// Move renames the directory to dst. Stores and child folders are closed
// and the folder returns to the unscanned state.
func (f *Folder) Move(dst string) error {
	abs, err := filepath.Abs(dst)
	if err != nil {
		return err
	}

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return ErrClosed
	}
	if f.state == Scanning {
		f.mu.Unlock()
		return ErrScanInProgress
	}
	if _, err := os.Stat(abs); err == nil {
		f.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrMoveConflict, abs)
	}
	evicted := f.resetLocked()
	f.mu.Unlock()

	closeErr := closeAll(evicted)

	f.mu.Lock()
	from := f.path
	err = os.Rename(from, abs)
	if err == nil {
		f.path = abs
	}
	f.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to move folder: %w", err)
	}

	f.logger.WithFields(logrus.Fields{
		"from": from,
		"to":   abs,
	}).Info("Folder moved")
	f.contentsChanged.Notify()
	return closeErr
}

// Close closes every store in the tree. The folder cannot be scanned again.
func (f *Folder) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	evicted := f.resetLocked()
	f.mu.Unlock()

	return closeAll(evicted)
}

// resetLocked empties every map and returns what must be closed.
func (f *Folder) resetLocked() []closer {
	var evicted []closer
	for _, s := range f.stores {
		evicted = append(evicted, s)
	}
	for _, sub := range f.subfolders {
		evicted = append(evicted, sub)
	}
	clear(f.files)
	clear(f.stores)
	clear(f.subfolders)
	clear(f.failedFiles)
	clear(f.failedStores)
	f.state = Unscanned
	return evicted
}

func closeAll(cs []closer) error {
	var errs []error
	for _, c := range cs {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ==================== Accessors ====================

func (f *Folder) Path() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.path
}

func (f *Folder) Name() string { return filepath.Base(f.Path()) }

func (f *Folder) Recursive() bool { return f.opts.Recursive }

func (f *Folder) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *Folder) Scanned() bool { return f.State() == Scanned }

// Files returns the opened leaves in natural path order.
func (f *Folder) Files() []resource.Leaf {
	f.mu.Lock()
	defer f.mu.Unlock()
	return sortedValues(f.files)
}

// Stores returns the opened stores in natural path order.
func (f *Folder) Stores() []*worlddb.Folder {
	f.mu.Lock()
	defer f.mu.Unlock()
	return sortedValues(f.stores)
}

// Subfolders returns the child folders in natural path order.
func (f *Folder) Subfolders() []*Folder {
	f.mu.Lock()
	defer f.mu.Unlock()
	return sortedValues(f.subfolders)
}

// FailedFiles returns the current failure record for files.
func (f *Folder) FailedFiles() []Failure {
	f.mu.Lock()
	defer f.mu.Unlock()
	return failures(f.failedFiles)
}

// FailedStores returns the current failure record for stores.
func (f *Folder) FailedStores() []Failure {
	f.mu.Lock()
	defer f.mu.Unlock()
	return failures(f.failedStores)
}

// Children lists subfolders, then stores, then files.
func (f *Folder) Children() []Resource {
	var out []Resource
	for _, sub := range f.Subfolders() {
		out = append(out, sub)
	}
	for _, s := range f.Stores() {
		out = append(out, Store{s})
	}
	for _, l := range f.Files() {
		out = append(out, Leaf{l})
	}
	return out
}

// AllFiles returns the files of this folder and of every scanned descendant.
func (f *Folder) AllFiles() []resource.Leaf {
	out := f.Files()
	for _, sub := range f.Subfolders() {
		out = append(out, sub.AllFiles()...)
	}
	return out
}

// AllStores returns the stores of this folder and of every scanned descendant.
func (f *Folder) AllStores() []*worlddb.Folder {
	out := f.Stores()
	for _, sub := range f.Subfolders() {
		out = append(out, sub.AllStores()...)
	}
	return out
}

// AllSubfolders returns every descendant folder, parents before children.
func (f *Folder) AllSubfolders() []*Folder {
	subs := f.Subfolders()
	out := slices.Clone(subs)
	for _, sub := range subs {
		out = append(out, sub.AllSubfolders()...)
	}
	return out
}

// ==================== Events ====================

func (f *Folder) OnContentsChanged(fn func()) (unsubscribe func()) {
	return f.contentsChanged.Subscribe(fn)
}

// OnFilesFailed receives the files that newly failed during a scan.
func (f *Folder) OnFilesFailed(fn func([]Failure)) (unsubscribe func()) {
	return f.filesFailed.Subscribe(fn)
}

// OnStoresFailed receives the stores that newly failed during a scan.
func (f *Folder) OnStoresFailed(fn func([]Failure)) (unsubscribe func()) {
	return f.storesFailed.Subscribe(fn)
}

func keySet[V any](m map[string]V) map[string]bool {
	out := make(map[string]bool, len(m))
	for k := range m {
		out[k] = true
	}
	return out
}

func sortedValues[V any](m map[string]V) []V {
	paths := make([]string, 0, len(m))
	for p := range m {
		paths = append(paths, p)
	}
	slices.SortFunc(paths, naturalCompare)
	out := make([]V, 0, len(paths))
	for _, p := range paths {
		out = append(out, m[p])
	}
	return out
}

func failures(m map[string]error) []Failure {
	out := make([]Failure, 0, len(m))
	for p, err := range m {
		out = append(out, Failure{Path: p, Err: err})
	}
	slices.SortFunc(out, func(a, b Failure) int { return naturalCompare(a.Path, b.Path) })
	return out
}
