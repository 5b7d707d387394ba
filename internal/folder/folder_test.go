package folder

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/worldlens/worldlens/internal/kvstore"
	"github.com/worldlens/worldlens/internal/resource"
	"github.com/worldlens/worldlens/internal/worlddb"
)

type fakeLeaf struct{ path string }

func (l fakeLeaf) Path() string            { return l.path }
func (l fakeLeaf) Name() string            { return filepath.Base(l.path) }
func (l fakeLeaf) Format() resource.Format { return resource.FormatNBT }
func (l fakeLeaf) Size() int64             { return 0 }
func (l fakeLeaf) Describe() string        { return l.Name() }

// fakeGateway opens every file unless its base name is marked as failing.
// Stores are delegated to a real gateway.
type fakeGateway struct {
	mu     sync.Mutex
	fail   map[string]bool
	calls  map[string]int
	stores resource.Gateway
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		fail:   make(map[string]bool),
		calls:  make(map[string]int),
		stores: newStoreGateway(),
	}
}

func (g *fakeGateway) setFail(name string, fail bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fail[name] = fail
}

func (g *fakeGateway) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, c := range g.calls {
		n += c
	}
	return n
}

func (g *fakeGateway) OpenLeaf(ctx context.Context, path string) (resource.Leaf, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls[path]++
	if g.fail[filepath.Base(path)] {
		return nil, fmt.Errorf("%w: corrupt", resource.ErrOpenFailed)
	}
	return fakeLeaf{path: path}, nil
}

func (g *fakeGateway) OpenStore(ctx context.Context, path string) (*worlddb.Folder, error) {
	return g.stores.OpenStore(ctx, path)
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	return logger
}

func newStoreGateway() *resource.DefaultGateway {
	return resource.NewGateway(resource.Options{
		Logger: testLogger(),
		Store:  worlddb.Options{Engine: kvstore.EnginePebble, ReadOnly: true},
	})
}

func touch(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, name := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0644))
	}
}

func seedStore(t *testing.T, path string) {
	t.Helper()
	s, err := kvstore.Open(path, kvstore.Options{Engine: kvstore.EnginePebble, CreateIfMissing: true})
	require.NoError(t, err)
	require.NoError(t, s.Put(context.Background(), []byte("BiomeData"), []byte{1}))
	require.NoError(t, s.Close())
}

func newTestFolder(t *testing.T, dir string, g resource.Gateway) *Folder {
	t.Helper()
	f := New(dir, Options{Recursive: true, Gateway: g, Logger: testLogger()})
	t.Cleanup(func() { _ = f.Close() })
	return f
}

func leafNames(leaves []resource.Leaf) []string {
	names := make([]string, 0, len(leaves))
	for _, l := range leaves {
		names = append(names, l.Name())
	}
	return names
}

func TestScan_Idempotent(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "a.dat", "b.dat", "c.dat", "bad.dat")
	g := newFakeGateway()
	g.setFail("bad.dat", true)
	f := newTestFolder(t, dir, g)
	ctx := context.Background()

	changed := 0
	var failedBatches [][]Failure
	f.OnContentsChanged(func() { changed++ })
	f.OnFilesFailed(func(fs []Failure) { failedBatches = append(failedBatches, fs) })

	require.NoError(t, f.Scan(ctx))
	first := f.Files()
	assert.Equal(t, 1, changed)
	require.Len(t, failedBatches, 1)

	require.NoError(t, f.Scan(ctx))
	second := f.Files()

	assert.Equal(t, first, second)
	assert.Len(t, second, 3)
	assert.Len(t, f.FailedFiles(), 1)
	assert.Equal(t, 2, changed, "ContentsChanged fires on every scan")
	assert.Len(t, failedBatches, 1, "no newly failed files on the second scan")
	assert.Equal(t, 5, g.callCount(), "only the failed file is retried")
	assert.True(t, f.Scanned())
}

func TestScan_DetectsAdditionsAndRemovals(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "a.dat", "b.dat")
	f := newTestFolder(t, dir, newFakeGateway())
	ctx := context.Background()

	changed, failed := 0, 0
	f.OnContentsChanged(func() { changed++ })
	f.OnFilesFailed(func([]Failure) { failed++ })

	require.NoError(t, f.Scan(ctx))
	require.NoError(t, os.Remove(filepath.Join(dir, "a.dat")))
	touch(t, dir, "c.dat")
	require.NoError(t, f.Scan(ctx))

	assert.Equal(t, []string{"b.dat", "c.dat"}, leafNames(f.Files()))
	assert.Equal(t, 2, changed)
	assert.Zero(t, failed, "removing a file is not a failure")
	assert.Empty(t, f.FailedFiles())
}

func TestScan_FailureIsolation(t *testing.T) {
	dir := t.TempDir()
	g := newFakeGateway()
	for i := range 10 {
		touch(t, dir, fmt.Sprintf("f%d.dat", i))
	}
	g.setFail("f3.dat", true)
	f := newTestFolder(t, dir, g)
	ctx := context.Background()

	var order []string
	var reported [][]Failure
	f.OnContentsChanged(func() { order = append(order, "contents") })
	f.OnFilesFailed(func(fs []Failure) {
		order = append(order, "files")
		reported = append(reported, fs)
	})
	f.OnStoresFailed(func([]Failure) { order = append(order, "stores") })

	require.NoError(t, f.Scan(ctx))
	assert.Len(t, f.Files(), 9)
	require.Len(t, f.FailedFiles(), 1)
	assert.Equal(t, filepath.Join(dir, "f3.dat"), f.FailedFiles()[0].Path)
	assert.ErrorIs(t, f.FailedFiles()[0].Err, resource.ErrOpenFailed)
	assert.Equal(t, []string{"contents", "files"}, order)
	require.Len(t, reported, 1)
	assert.Len(t, reported[0], 1)

	// still failing: visible, but not reported again
	require.NoError(t, f.Scan(ctx))
	assert.Len(t, f.FailedFiles(), 1)
	assert.Len(t, reported, 1)
}

func TestScan_LaterSuccessClearsFailure(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "level.dat")
	g := newFakeGateway()
	g.setFail("level.dat", true)
	f := newTestFolder(t, dir, g)
	ctx := context.Background()

	require.NoError(t, f.Scan(ctx))
	require.Len(t, f.FailedFiles(), 1)
	assert.Empty(t, f.Files())

	g.setFail("level.dat", false)
	require.NoError(t, f.Scan(ctx))
	assert.Empty(t, f.FailedFiles())
	assert.Len(t, f.Files(), 1)

	// a new failure episode is reported again
	reported := 0
	f.OnFilesFailed(func([]Failure) { reported++ })
	require.NoError(t, os.Remove(filepath.Join(dir, "level.dat")))
	require.NoError(t, f.Scan(ctx))
	touch(t, dir, "level.dat")
	g.setFail("level.dat", true)
	require.NoError(t, f.Scan(ctx))
	assert.Equal(t, 1, reported)
}

func TestScan_PrunesVanishedFailures(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "bad.dat")
	g := newFakeGateway()
	g.setFail("bad.dat", true)
	f := newTestFolder(t, dir, g)
	ctx := context.Background()

	require.NoError(t, f.Scan(ctx))
	require.Len(t, f.FailedFiles(), 1)

	require.NoError(t, os.Remove(filepath.Join(dir, "bad.dat")))
	require.NoError(t, f.Scan(ctx))
	assert.Empty(t, f.FailedFiles())
}

func TestScan_ReentrantScanRejected(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "a.dat")
	f := newTestFolder(t, dir, newFakeGateway())

	var inner error
	f.OnContentsChanged(func() { inner = f.Scan(context.Background()) })

	require.NoError(t, f.Scan(context.Background()))
	assert.ErrorIs(t, inner, ErrScanInProgress)
	assert.Equal(t, Scanned, f.State())
}

func TestScan_NaturalOrder(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "r.10.mca", "r.2.mca", "R.1.mca")
	f := newTestFolder(t, dir, newFakeGateway())

	require.NoError(t, f.Scan(context.Background()))
	assert.Equal(t, []string{"R.1.mca", "r.2.mca", "r.10.mca"}, leafNames(f.Files()))
}

func TestScan_MissingDirectory(t *testing.T) {
	f := newTestFolder(t, filepath.Join(t.TempDir(), "gone"), newFakeGateway())
	require.NoError(t, f.Scan(context.Background()))
	assert.Empty(t, f.Children())
}

func TestScan_NonRecursive(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "a.dat")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "region"), 0755))
	seedStore(t, filepath.Join(dir, "db"))

	f := New(dir, Options{Gateway: newFakeGateway(), Logger: testLogger()})
	defer f.Close()
	require.NoError(t, f.Scan(context.Background()))

	assert.Len(t, f.Files(), 1)
	assert.Empty(t, f.Subfolders())
	assert.Empty(t, f.Stores())
}

func TestScan_StoreDirectories(t *testing.T) {
	dir := t.TempDir()
	seedStore(t, filepath.Join(dir, "DB"))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "players"), 0755))
	touch(t, dir, "levelname.txt")

	f := newTestFolder(t, dir, newFakeGateway())
	require.NoError(t, f.Scan(context.Background()))

	require.Len(t, f.Stores(), 1)
	assert.Equal(t, "DB", f.Stores()[0].Name())
	require.Len(t, f.Subfolders(), 1)
	assert.Equal(t, Unscanned, f.Subfolders()[0].State(), "child folders scan lazily")

	kinds := make([]resource.Kind, 0)
	for _, c := range f.Children() {
		kinds = append(kinds, c.Kind())
	}
	assert.Equal(t, []resource.Kind{resource.PlainFolder, resource.StoreFolder, resource.LeafFile}, kinds)
}

func TestScan_StoreSingleOwnership(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "db")
	seedStore(t, dbPath)
	ctx := context.Background()

	first := newTestFolder(t, dir, newFakeGateway())
	require.NoError(t, first.Scan(ctx))
	require.Len(t, first.Stores(), 1)

	second := newTestFolder(t, dir, newFakeGateway())
	var reported []Failure
	second.OnStoresFailed(func(fs []Failure) { reported = append(reported, fs...) })
	require.NoError(t, second.Scan(ctx))

	assert.Empty(t, second.Stores())
	require.Len(t, reported, 1)
	assert.ErrorIs(t, reported[0].Err, worlddb.ErrAlreadyOpen)

	require.NoError(t, first.Close())
	require.NoError(t, second.Scan(ctx))
	assert.Len(t, second.Stores(), 1)
	assert.Empty(t, second.FailedStores())
}

func TestScan_EvictedStoreIsClosed(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "db")
	seedStore(t, dbPath)
	f := newTestFolder(t, dir, newFakeGateway())
	ctx := context.Background()

	require.NoError(t, f.Scan(ctx))
	require.Len(t, f.Stores(), 1)
	store := f.Stores()[0]

	require.NoError(t, os.RemoveAll(dbPath))
	require.NoError(t, f.Scan(ctx))
	assert.Empty(t, f.Stores())
	assert.True(t, store.Disposed())
	_, ok := worlddb.Lookup(dbPath)
	assert.False(t, ok)
}

// cancelingGateway cancels the scan right after the first store opens.
type cancelingGateway struct {
	*fakeGateway
	cancel context.CancelFunc
}

func (g *cancelingGateway) OpenStore(ctx context.Context, path string) (*worlddb.Folder, error) {
	f, err := g.fakeGateway.OpenStore(ctx, path)
	g.cancel()
	return f, err
}

func TestScan_CancelLeavesFolderUntouched(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "db")
	seedStore(t, dbPath)
	touch(t, dir, "zzz.dat")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := newTestFolder(t, dir, &cancelingGateway{fakeGateway: newFakeGateway(), cancel: cancel})

	err := f.Scan(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, Unscanned, f.State())
	assert.Empty(t, f.Stores())
	assert.Empty(t, f.Files())

	_, ok := worlddb.Lookup(dbPath)
	assert.False(t, ok, "stores opened by a canceled scan are closed")
}

func TestScanAllAndRecursiveAccessors(t *testing.T) {
	root := t.TempDir()
	world := filepath.Join(root, "worlds", "Survival")
	require.NoError(t, os.MkdirAll(world, 0755))
	seedStore(t, filepath.Join(world, "db"))
	touch(t, world, "level.dat")
	touch(t, root, "options.txt")

	f := newTestFolder(t, root, newFakeGateway())
	require.NoError(t, f.ScanAll(context.Background()))

	assert.Len(t, f.AllSubfolders(), 2)
	assert.Equal(t, []string{"options.txt", "level.dat"}, leafNames(f.AllFiles()))
	require.Len(t, f.AllStores(), 1)
	assert.Equal(t, filepath.Join(world, "db"), f.AllStores()[0].Path())

	require.NoError(t, f.EnsureScanned(context.Background()))
}

func TestMove(t *testing.T) {
	parent := t.TempDir()
	dir := filepath.Join(parent, "saves")
	require.NoError(t, os.Mkdir(dir, 0755))
	seedStore(t, filepath.Join(dir, "db"))
	touch(t, dir, "a.dat")

	f := newTestFolder(t, dir, newFakeGateway())
	ctx := context.Background()
	require.NoError(t, f.Scan(ctx))
	store := f.Stores()[0]

	assert.ErrorIs(t, f.Move(parent), ErrMoveConflict)

	dst := filepath.Join(parent, "renamed")
	require.NoError(t, f.Move(dst))
	assert.Equal(t, dst, f.Path())
	assert.Equal(t, Unscanned, f.State())
	assert.True(t, store.Disposed())
	assert.Empty(t, f.Files())

	require.NoError(t, f.Scan(ctx))
	assert.Len(t, f.Files(), 1)
	require.Len(t, f.Stores(), 1)
	assert.Equal(t, filepath.Join(dst, "db"), f.Stores()[0].Path())
}

func TestClose(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "world")
	require.NoError(t, os.Mkdir(sub, 0755))
	seedStore(t, filepath.Join(sub, "db"))

	f := New(dir, Options{Recursive: true, Gateway: newFakeGateway(), Logger: testLogger()})
	require.NoError(t, f.ScanAll(context.Background()))
	store := f.AllStores()[0]

	require.NoError(t, f.Close())
	require.NoError(t, f.Close())
	assert.True(t, store.Disposed(), "close cascades into child folders")
	assert.ErrorIs(t, f.Scan(context.Background()), ErrClosed)
}

func TestOpenPath(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "level.dat")
	seedStore(t, filepath.Join(dir, "db"))
	opts := Options{Gateway: newFakeGateway(), Logger: testLogger()}
	ctx := context.Background()

	describe := func(r Resource) string {
		return Match(r,
			func(l Leaf) string { return "leaf " + l.Name() },
			func(f *Folder) string { return "folder " + f.Name() },
			func(s Store) string { return "store " + s.Name() },
		)
	}

	r, err := OpenPath(ctx, filepath.Join(dir, "level.dat"), opts)
	require.NoError(t, err)
	assert.Equal(t, "leaf level.dat", describe(r))

	r, err = OpenPath(ctx, filepath.Join(dir, "db"), opts)
	require.NoError(t, err)
	assert.Equal(t, "store db", describe(r))
	require.NoError(t, r.(Store).Close())

	r, err = OpenPath(ctx, dir, opts)
	require.NoError(t, err)
	assert.Equal(t, resource.PlainFolder, r.Kind())
	assert.False(t, r.(*Folder).Recursive())
	require.NoError(t, r.(*Folder).Scan(ctx))
	assert.Empty(t, r.(*Folder).Stores(), "non-recursive folders skip db directories")
	require.NoError(t, r.(*Folder).Close())

	opts.Recursive = true
	r, err = OpenPath(ctx, dir, opts)
	require.NoError(t, err)
	assert.True(t, r.(*Folder).Recursive())
	require.NoError(t, r.(*Folder).Scan(ctx))
	assert.Len(t, r.(*Folder).Stores(), 1)
	require.NoError(t, r.(*Folder).Close())

	_, err = OpenPath(ctx, filepath.Join(dir, "missing"), opts)
	assert.ErrorIs(t, err, worlddb.ErrNotFound)
}
