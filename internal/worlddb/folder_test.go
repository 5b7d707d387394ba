package worlddb

import (
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/df-mc/dragonfly/server/world/mcdb/leveldat"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/worldlens/worldlens/internal/keys"
	"github.com/worldlens/worldlens/internal/kvstore"
)

func chunkKey(x, z int32, tag byte) []byte {
	b := make([]byte, 9)
	binary.LittleEndian.PutUint32(b[0:], uint32(x))
	binary.LittleEndian.PutUint32(b[4:], uint32(z))
	b[8] = tag
	return b
}

// seedStore writes pairs into a fresh pebble store under dir/db and returns
// the store path.
func seedStore(t *testing.T, dir string, pairs ...kvstore.Pair) string {
	t.Helper()
	path := filepath.Join(dir, "db")
	s, err := kvstore.Open(path, kvstore.Options{Engine: kvstore.EnginePebble, CreateIfMissing: true})
	require.NoError(t, err)
	require.NoError(t, s.Batch(context.Background(), pairs))
	require.NoError(t, s.Close())
	return path
}

func defaultPairs() []kvstore.Pair {
	return []kvstore.Pair{
		{Key: []byte("~local_player"), Value: []byte("player")},
		{Key: chunkKey(1, 2, 44), Value: []byte{0x01}},
		{Key: []byte("BiomeData"), Value: []byte("biomes")},
		{Key: []byte("mystery"), Value: []byte("?")},
	}
}

func testOptions() Options {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetLevel(logrus.WarnLevel)
	return Options{Engine: kvstore.EnginePebble, ReadOnly: true, Logger: logger}
}

func openTestFolder(t *testing.T) *Folder {
	t.Helper()
	path := seedStore(t, t.TempDir(), defaultPairs()...)
	f, err := Open(context.Background(), path, testOptions())
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })
	return f
}

func TestOpen_NotFound(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	_, err := Open(ctx, filepath.Join(dir, "missing"), testOptions())
	assert.ErrorIs(t, err, ErrNotFound)

	file := filepath.Join(dir, "file.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0644))
	_, err = Open(ctx, file, testOptions())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOpen_NotAStore(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "db")
	require.NoError(t, os.Mkdir(dir, 0755))

	_, err := Open(context.Background(), dir, testOptions())
	assert.ErrorIs(t, err, ErrOpenFailed)
	assert.False(t, errors.Is(err, ErrAlreadyOpen))

	_, ok := Lookup(dir)
	assert.False(t, ok, "failed open must not stay registered")
}

func TestOpen_SingleOwner(t *testing.T) {
	ctx := context.Background()
	path := seedStore(t, t.TempDir(), defaultPairs()...)

	first, err := Open(ctx, path, testOptions())
	require.NoError(t, err)

	_, err = Open(ctx, path, testOptions())
	assert.ErrorIs(t, err, ErrAlreadyOpen)
	assert.ErrorIs(t, err, ErrOpenFailed)

	owner, ok := Lookup(path)
	require.True(t, ok)
	assert.Same(t, first, owner)

	require.NoError(t, first.Close())
	second, err := Open(ctx, path, testOptions())
	require.NoError(t, err)
	require.NoError(t, second.Close())
}

func TestOpen_LevelDBWorld(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "db")
	s, err := kvstore.Open(path, kvstore.Options{Engine: kvstore.EngineLevelDB, CreateIfMissing: true})
	require.NoError(t, err)
	require.NoError(t, s.Batch(ctx, defaultPairs()))
	require.NoError(t, s.Close())

	opts := testOptions()
	opts.Engine = kvstore.EngineAuto
	f, err := Open(ctx, path, opts)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, kvstore.EngineLevelDB, f.Engine())
	ks, err := f.Keys(ctx)
	require.NoError(t, err)
	require.Len(t, ks, 4)
	g, err := f.Group(GroupAll)
	require.NoError(t, err)
	assert.Equal(t, 1, g.CountByKind()[keys.KindChunk])
}

func TestOpen_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Open(ctx, t.TempDir(), testOptions())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestResolve(t *testing.T) {
	ctx := context.Background()
	f := openTestFolder(t)

	assert.Equal(t, Unresolved, f.State())
	_, err := f.Group(GroupAll)
	assert.ErrorIs(t, err, ErrNotResolved)

	changed := 0
	f.OnKeysChanged(func() { changed++ })

	require.NoError(t, f.Resolve(ctx))
	assert.Equal(t, 1, changed)
	assert.True(t, f.Resolved())
	assert.Equal(t, 4, f.KeyCount())
	require.Len(t, f.Groups(), 1)

	g, err := f.Group(GroupAll)
	require.NoError(t, err)
	assert.False(t, g.Resolved(), "groups classify lazily")

	groupChanged := 0
	g.OnKeysChanged(func() { groupChanged++ })
	require.NoError(t, g.Resolve(ctx))
	assert.Equal(t, 1, groupChanged)
	require.Equal(t, 4, g.Len())

	// native bytewise order
	assert.Equal(t, keys.KindChunk, g.At(0).Kind())
	assert.Equal(t, "BiomeData", string(g.At(1).Bytes()))
	assert.Equal(t, keys.KindUnknown, g.At(2).Kind())
	assert.Equal(t, "~local_player", string(g.At(3).Bytes()))

	counts := g.CountByKind()
	assert.Equal(t, 2, counts[keys.KindNamed])
	assert.Equal(t, 1, counts[keys.KindChunk])

	for i, k := range g.All() {
		assert.True(t, g.Contains(k), "key %d", i)
	}
}

func TestResolve_RefreshReplacesGroups(t *testing.T) {
	ctx := context.Background()
	f := openTestFolder(t)

	require.NoError(t, f.Resolve(ctx))
	before, err := f.Group(GroupAll)
	require.NoError(t, err)
	require.NoError(t, before.Resolve(ctx))
	require.NoError(t, before.Refresh(ctx))
	assert.Equal(t, 4, before.Len())

	require.NoError(t, f.Refresh(ctx))
	after, err := f.Group(GroupAll)
	require.NoError(t, err)
	assert.NotSame(t, before, after)
}

func TestReservedGroupsAreEmpty(t *testing.T) {
	f := openTestFolder(t)
	for _, kind := range []GroupKind{GroupDimension, GroupChunk, GroupOthers} {
		g := newKeyGroup(f, kind, nil)
		require.NoError(t, g.Resolve(context.Background()))
		assert.Equal(t, 0, g.Len(), kind.String())
	}
}

func TestGroupResolveAfterClose(t *testing.T) {
	ctx := context.Background()
	f := openTestFolder(t)
	require.NoError(t, f.Resolve(ctx))
	g, err := f.Group(GroupAll)
	require.NoError(t, err)
	require.False(t, g.Resolved())

	require.NoError(t, f.Close())
	assert.ErrorIs(t, g.Resolve(ctx), ErrDisposed)
	assert.False(t, g.Resolved())

	reserved := newKeyGroup(f, GroupChunk, nil)
	assert.ErrorIs(t, reserved.Resolve(ctx), ErrDisposed)
}

func TestFolderKeys(t *testing.T) {
	f := openTestFolder(t)
	ks, err := f.Keys(context.Background())
	require.NoError(t, err)
	assert.Len(t, ks, 4)
}

func TestKeyValueIsLazy(t *testing.T) {
	ctx := context.Background()
	f := openTestFolder(t)
	ks, err := f.Keys(ctx)
	require.NoError(t, err)

	k := ks[1] // BiomeData
	assert.False(t, k.Loaded())

	loads := 0
	k.OnLoaded(func() { loads++ })
	v, err := k.Value(ctx)
	require.NoError(t, err)
	assert.Equal(t, "biomes", string(v))
	assert.True(t, k.Loaded())

	_, err = k.Value(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, loads)
}

func TestSetValueAndSave(t *testing.T) {
	ctx := context.Background()
	f := openTestFolder(t)
	ks, err := f.Keys(ctx)
	require.NoError(t, err)
	k := ks[3]

	var actions []Action
	f.OnActionPerformed(func(a Action) { actions = append(actions, a) })
	changed := 0
	k.OnChanged(func() { changed++ })

	k.SetValue([]byte("edited"))
	assert.True(t, k.Dirty())
	assert.True(t, f.HasUnsavedChanges())
	assert.Equal(t, 1, changed)
	require.Len(t, actions, 1)
	assert.Same(t, k, actions[0].Key)
	assert.Equal(t, "edited", string(actions[0].Current))

	v, err := k.Value(ctx)
	require.NoError(t, err)
	assert.Equal(t, "edited", string(v))

	saved := 0
	f.OnSaved(func() { saved++ })
	require.NoError(t, f.Save())
	assert.Equal(t, 1, saved)
	assert.False(t, k.Dirty())
	assert.False(t, f.HasUnsavedChanges())
}

func TestKeySaveAs(t *testing.T) {
	ctx := context.Background()
	f := openTestFolder(t)
	ks, err := f.Keys(ctx)
	require.NoError(t, err)

	out := filepath.Join(t.TempDir(), "player.bin")
	require.NoError(t, ks[3].SaveAs(ctx, out))
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "player", string(data))
}

func TestFolderSaveAs(t *testing.T) {
	ctx := context.Background()
	f := openTestFolder(t)

	dst := filepath.Join(t.TempDir(), "copy")
	require.NoError(t, f.SaveAs(ctx, dst, ""))
	assert.ErrorIs(t, f.SaveAs(ctx, dst, ""), ErrMoveConflict)

	c, err := Open(ctx, dst, testOptions())
	require.NoError(t, err)
	defer c.Close()
	ks, err := c.Keys(ctx)
	require.NoError(t, err)
	assert.Len(t, ks, 4)
}

func TestFolderSaveAs_ConvertsEngine(t *testing.T) {
	ctx := context.Background()
	f := openTestFolder(t)

	dst := filepath.Join(t.TempDir(), "badger")
	require.NoError(t, f.SaveAs(ctx, dst, kvstore.EngineBadger))
	assert.Equal(t, kvstore.EngineBadger, kvstore.DetectEngine(dst))

	opts := testOptions()
	opts.Engine = kvstore.EngineAuto
	c, err := Open(ctx, dst, opts)
	require.NoError(t, err)
	defer c.Close()
	assert.Equal(t, kvstore.EngineBadger, c.Engine())
	ks, err := c.Keys(ctx)
	require.NoError(t, err)
	assert.Len(t, ks, 4)
}

func TestMove(t *testing.T) {
	ctx := context.Background()
	f := openTestFolder(t)
	old := f.Path()

	dst := filepath.Join(t.TempDir(), "moved")
	require.NoError(t, f.Move(dst))
	assert.Equal(t, dst, f.Path())
	assert.NoDirExists(t, old)

	_, ok := Lookup(old)
	assert.False(t, ok)
	owner, ok := Lookup(dst)
	require.True(t, ok)
	assert.Same(t, f, owner)

	ks, err := f.Keys(ctx)
	require.NoError(t, err)
	assert.Len(t, ks, 4)
}

func TestMove_Conflict(t *testing.T) {
	f := openTestFolder(t)
	dst := t.TempDir()

	err := f.Move(dst)
	assert.ErrorIs(t, err, ErrMoveConflict)
	assert.False(t, f.Disposed())
}

func TestClose(t *testing.T) {
	ctx := context.Background()
	f := openTestFolder(t)
	ks, err := f.Keys(ctx)
	require.NoError(t, err)

	require.NoError(t, f.Close())
	require.NoError(t, f.Close())
	assert.True(t, f.Disposed())

	assert.ErrorIs(t, f.Resolve(ctx), ErrDisposed)
	assert.ErrorIs(t, f.Save(), ErrDisposed)
	assert.ErrorIs(t, f.Move(filepath.Join(t.TempDir(), "x")), ErrDisposed)
	_, err = ks[0].Value(ctx)
	assert.ErrorIs(t, err, ErrDisposed)
	assert.Empty(t, f.Groups())
}

func TestLevelName(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "My World")
	require.NoError(t, os.Mkdir(dir, 0755))
	path := seedStore(t, dir, defaultPairs()...)

	f, err := Open(context.Background(), path, testOptions())
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, "My World", f.LevelName())
	require.NoError(t, os.WriteFile(filepath.Join(dir, levelNameFile), []byte("Survival Island\n"), 0644))
	assert.Equal(t, "Survival Island", f.LevelName())
	assert.Equal(t, "Survival Island", f.Description())

	require.NoError(t, f.Resolve(context.Background()))
	assert.Equal(t, "Survival Island (4 keys)", f.Description())
}

func TestLevelName_FromLevelDat(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "Ab3xQ0cAAAA=")
	require.NoError(t, os.Mkdir(dir, 0755))
	path := seedStore(t, dir, defaultPairs()...)

	var ldat leveldat.LevelDat
	require.NoError(t, ldat.Marshal(leveldat.Data{LevelName: "Bedrock Realm"}))
	require.NoError(t, ldat.WriteFile(filepath.Join(dir, levelDatFile)))

	f, err := Open(context.Background(), path, testOptions())
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, "Bedrock Realm", f.LevelName())

	require.NoError(t, os.WriteFile(filepath.Join(dir, levelNameFile), []byte("Renamed"), 0644))
	assert.Equal(t, "Renamed", f.LevelName())

	require.NoError(t, os.Remove(filepath.Join(dir, levelNameFile)))
	require.NoError(t, os.WriteFile(filepath.Join(dir, levelDatFile), []byte("corrupt"), 0644))
	assert.Equal(t, "Ab3xQ0cAAAA=", f.LevelName())
}
