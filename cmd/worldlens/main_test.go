package main

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/worldlens/worldlens/internal/kvstore"
	"github.com/worldlens/worldlens/internal/server"
)

// ============================================================================
// setupLogging Tests
// ============================================================================

func TestSetupLogging_AllLevels(t *testing.T) {
	tests := []struct {
		input    string
		expected logrus.Level
	}{
		{"debug", logrus.DebugLevel},
		{"info", logrus.InfoLevel},
		{"warn", logrus.WarnLevel},
		{"error", logrus.ErrorLevel},
		{"DEBUG", logrus.InfoLevel},   // Case-sensitive, should default
		{"unknown", logrus.InfoLevel}, // Invalid, should default
		{"", logrus.InfoLevel},        // Empty, should default
	}

	for _, tt := range tests {
		name := tt.input
		if name == "" {
			name = "empty"
		}
		t.Run(name, func(t *testing.T) {
			setupLogging(tt.input, "text")
			assert.Equal(t, tt.expected, logrus.GetLevel())
		})
	}
}

func TestSetupLogging_Formatters(t *testing.T) {
	setupLogging("info", "json")
	jf, ok := logrus.StandardLogger().Formatter.(*logrus.JSONFormatter)
	require.True(t, ok, "Formatter should be JSONFormatter")
	assert.Equal(t, time.RFC3339, jf.TimestampFormat)

	setupLogging("info", "text")
	tf, ok := logrus.StandardLogger().Formatter.(*logrus.TextFormatter)
	require.True(t, ok, "Formatter should be TextFormatter")
	assert.True(t, tf.FullTimestamp)
}

func TestMsDuration(t *testing.T) {
	assert.Equal(t, 250*time.Millisecond, msDuration(250))
	assert.Equal(t, time.Duration(0), msDuration(0))
}

// ============================================================================
// Command Tests
// ============================================================================

func javaNBT(name string) []byte {
	b := []byte{0x0A, byte(len(name) >> 8), byte(len(name))}
	b = append(b, name...)
	return append(b, 0x00)
}

func chunkKey(x, z int32, tag byte) []byte {
	b := make([]byte, 9)
	binary.LittleEndian.PutUint32(b[0:], uint32(x))
	binary.LittleEndian.PutUint32(b[4:], uint32(z))
	b[8] = tag
	return b
}

// setupSave creates root/World/{level.dat,levelname.txt,db} and returns root
// and the db path.
func setupSave(t *testing.T) (string, string) {
	t.Helper()
	root := t.TempDir()
	world := filepath.Join(root, "World")
	require.NoError(t, os.Mkdir(world, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(world, "level.dat"), javaNBT(""), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(world, "levelname.txt"), []byte("Test World"), 0644))

	db := filepath.Join(world, "db")
	s, err := kvstore.Open(db, kvstore.Options{Engine: kvstore.EngineLevelDB, CreateIfMissing: true})
	require.NoError(t, err)
	require.NoError(t, s.Batch(context.Background(), []kvstore.Pair{
		{Key: []byte("~local_player"), Value: []byte("player")},
		{Key: chunkKey(0, 0, 44), Value: []byte{1}},
		{Key: chunkKey(1, 0, 45), Value: []byte{1, 2}},
		{Key: []byte("junk"), Value: []byte("?")},
	}))
	require.NoError(t, s.Close())
	return root, db
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{"--log-level", "warn"}, args...))
	err := cmd.ExecuteContext(context.Background())
	t.Cleanup(func() { logrus.SetOutput(os.Stderr) })
	return out.String(), err
}

func TestRootCmd_Flags(t *testing.T) {
	cmd := newRootCmd()
	for _, name := range []string{"config", "log-level", "log-format", "engine", "read-only", "cache-size", "catalog", "metrics", "metrics-listen"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(name), name)
	}

	var names []string
	for _, c := range cmd.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"scan", "keys", "export", "exports", "query", "copy", "watch"}, names)
}

func TestScanCmd_Folder(t *testing.T) {
	root, _ := setupSave(t)

	out, err := execute(t, "scan", root, "--json")
	require.NoError(t, err)

	var tree server.Node
	require.NoError(t, json.Unmarshal([]byte(out), &tree))
	require.Len(t, tree.Subfolders, 1)
	world := tree.Subfolders[0]
	require.Len(t, world.Stores, 1)
	assert.Equal(t, "Test World", world.Stores[0].LevelName)
	require.Len(t, world.Files, 1)
	assert.Equal(t, "level.dat", filepath.Base(world.Files[0].Path))
	// levelname.txt is not a save resource
	assert.Len(t, world.FailedFiles, 1)
}

func TestScanCmd_Text(t *testing.T) {
	root, _ := setupSave(t)

	out, err := execute(t, "scan", root)
	require.NoError(t, err)
	assert.Contains(t, out, "World/ (scanned)")
	assert.Contains(t, out, "store  db [leveldb] Test World")
	assert.Contains(t, out, "1 files, 1 stores, 1 failed")
}

func TestScanCmd_NonRecursive(t *testing.T) {
	root, _ := setupSave(t)

	out, err := execute(t, "scan", filepath.Join(root, "World"), "--recursive=false")
	require.NoError(t, err)
	assert.NotContains(t, out, "store  db")
	assert.Contains(t, out, "1 files, 0 stores, 1 failed")

	out, err = execute(t, "scan", filepath.Join(root, "World"))
	require.NoError(t, err)
	assert.Contains(t, out, "1 files, 1 stores, 1 failed")
}

func TestScanCmd_Store(t *testing.T) {
	_, db := setupSave(t)

	out, err := execute(t, "scan", db)
	require.NoError(t, err)
	assert.Contains(t, out, "Test World (4 keys) [leveldb]")
	assert.Contains(t, out, "chunk")
}

func TestScanCmd_Missing(t *testing.T) {
	_, err := execute(t, "scan", filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestKeysCmd(t *testing.T) {
	_, db := setupSave(t)

	out, err := execute(t, "keys", db, "--kind", "chunk", "--values")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	for _, line := range lines {
		assert.Contains(t, line, "chunk")
	}

	_, err = execute(t, "keys", db, "--kind", "bogus")
	assert.Error(t, err)
}

func TestKeysCmd_Extract(t *testing.T) {
	_, db := setupSave(t)
	dst := filepath.Join(t.TempDir(), "value.bin")

	// bytewise order puts "~local_player" last
	_, err := execute(t, "keys", db, "--extract", "3", "--out", dst)
	require.NoError(t, err)
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "player", string(data))

	_, err = execute(t, "keys", db, "--extract", "9", "--out", dst)
	assert.Error(t, err)
}

func TestExportAndQueryCmds(t *testing.T) {
	_, db := setupSave(t)
	cat := filepath.Join(t.TempDir(), "catalog.db")

	_, err := execute(t, "export", db)
	assert.Error(t, err, "export needs a catalog")

	out, err := execute(t, "--catalog", cat, "export", db, "--values")
	require.NoError(t, err)
	assert.Contains(t, out, "4 keys")

	out, err = execute(t, "--catalog", cat, "exports")
	require.NoError(t, err)
	assert.Contains(t, out, "Test World")

	out, err = execute(t, "--catalog", cat, "query", "--kind", "chunk", "--json")
	require.NoError(t, err)
	var result struct {
		Total   int               `json:"total"`
		Entries []json.RawMessage `json:"entries"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, 2, result.Total)
	assert.Len(t, result.Entries, 2)

	out, err = execute(t, "--catalog", cat, "query", "--dimension", "0")
	require.NoError(t, err)
	assert.Contains(t, out, "2 of 2 entries")
}

func TestCopyCmd(t *testing.T) {
	_, db := setupSave(t)
	dst := filepath.Join(t.TempDir(), "converted")

	out, err := execute(t, "copy", db, dst, "--to", "badger")
	require.NoError(t, err)
	assert.Contains(t, out, "copied")
	assert.Equal(t, kvstore.EngineBadger, kvstore.DetectEngine(dst))

	_, err = execute(t, "copy", db, dst)
	assert.Error(t, err, "destination exists")

	_, err = execute(t, "copy", db, filepath.Join(t.TempDir(), "x"), "--to", "rocks")
	assert.ErrorIs(t, err, kvstore.ErrUnknownEngine)
}

func TestInvalidConfig(t *testing.T) {
	_, db := setupSave(t)
	_, err := execute(t, "--engine", "rocks", "keys", db)
	assert.Error(t, err)
}

func TestLogOutput(t *testing.T) {
	_, db := setupSave(t)
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer conn.Close()

	dst := filepath.Join(t.TempDir(), "value.bin")
	_, err = execute(t, "--log-level", "info", "--log-output", "udp://"+conn.LocalAddr().String(),
		"keys", db, "--extract", "0", "--out", dst)
	require.NoError(t, err)
	assert.Empty(t, logrus.StandardLogger().Hooks, "hook is detached after the command")

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 4096)
	found := false
	for !found {
		n, _, err := conn.ReadFromUDP(buf)
		require.NoError(t, err)
		found = strings.Contains(string(buf[:n]), "Value extracted")
	}

	_, err = execute(t, "--log-output", "ftp://nowhere:21", "keys", db)
	assert.Error(t, err)
}
