package properties

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// setupTestDB opens a private in-memory database with the properties schema.
func setupTestDB(tb testing.TB) *sql.DB {
	tb.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(tb.Name())
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?mode=memory&cache=shared", name))
	require.NoError(tb, err)
	tb.Cleanup(func() { _ = db.Close() })
	require.NoError(tb, SetupSchema(db))
	return db
}

func writeFile(tb testing.TB, dir, name, content string) string {
	tb.Helper()
	path := filepath.Join(dir, name)
	require.NoError(tb, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestEnvironment_Files(t *testing.T) {
	dir := t.TempDir()
	yml := writeFile(t, dir, "application.yml", `
info:
  version: 1.2.3
  build: 42
  ratio: 1.5
  tags: [a, b]
server:
  name: demo
`)
	tml := writeFile(t, dir, "override.toml", `
[info]
build = 43
`)
	config := &Config{
		Files:    []string{yml, tml, filepath.Join(dir, "missing.yml")},
		Defaults: map[string]string{"info.version": "0.0.0", "info.name": "workshop"},
	}
	e, err := NewEnvironment(testLogger(), config, nil, nil)
	require.NoError(t, err)

	tests := []struct {
		key   string
		want  string
		found bool
	}{
		{"info.version", "1.2.3", true},
		{"info.build", "43", true},
		{"info.ratio", "1.5", true},
		{"info.tags", "a,b", true},
		{"info.name", "workshop", true},
		{"server.name", "demo", true},
		{"info", "", false},
		{"info.", "", false},
		{"info.missing", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			got, ok := e.Get(tt.key)
			assert.Equal(t, tt.found, ok)
			assert.Equal(t, tt.want, got)
		})
	}

	all := e.All()
	assert.Equal(t, "1.2.3", all["info.version"])
	assert.NotContains(t, all, "info")
}

func TestEnvironment_UnsupportedFile(t *testing.T) {
	config := &Config{Files: []string{"application.properties"}}
	_, err := NewEnvironment(testLogger(), config, nil, nil)
	assert.Error(t, err)
}

func TestEnvironment_EnvAndArgsPrecedence(t *testing.T) {
	t.Setenv("WSTEST_INFO_VERSION", "2.0.0")
	t.Setenv("WSTEST_INFO_OWNER", "ops")

	config := &Config{
		EnvPrefix: "WSTEST_",
		Defaults:  map[string]string{"info.version": "1.0.0"},
	}
	args := []string{"serve", "--info.owner=dev", "--info.flag", "-x", "--=bad"}
	e, err := NewEnvironment(testLogger(), config, nil, args)
	require.NoError(t, err)

	v, ok := e.Get("info.version")
	require.True(t, ok)
	assert.Equal(t, "2.0.0", v, "environment variables override defaults")

	v, _ = e.Get("info.owner")
	assert.Equal(t, "dev", v, "command-line arguments override environment variables")

	v, ok = e.Get("info.flag")
	assert.True(t, ok)
	assert.Empty(t, v)
}

func TestEnvironment_DatabaseOverrides(t *testing.T) {
	db := setupTestDB(t)
	dir := t.TempDir()
	yml := writeFile(t, dir, "application.yml", "info:\n  version: 1.2.3\n")

	e, err := NewEnvironment(testLogger(), &Config{Files: []string{yml}}, db, nil)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, e.Set(ctx, "info.version", "9.9.9"))
	v, _ := e.Get("info.version")
	assert.Equal(t, "9.9.9", v)

	require.NoError(t, e.Set(ctx, "info.version", "9.9.10"))
	overrides, err := e.Overrides(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"info.version": "9.9.10"}, overrides)

	require.NoError(t, e.Delete(ctx, "info.version"))
	v, _ = e.Get("info.version")
	assert.Equal(t, "1.2.3", v, "deleting the override falls back to the file")

	assert.ErrorIs(t, e.Delete(ctx, "info.version"), ErrNotFound)
	assert.ErrorIs(t, e.Set(ctx, "info..x", "y"), ErrInvalidKey)
}

func TestEnvironment_NoDatabase(t *testing.T) {
	e, err := NewEnvironment(testLogger(), &Config{}, nil, nil)
	require.NoError(t, err)
	assert.ErrorIs(t, e.Set(context.Background(), "info.x", "y"), ErrNoDatabase)
	overrides, err := e.Overrides(context.Background())
	require.NoError(t, err)
	assert.Empty(t, overrides)
}

func TestEnvironment_Reload(t *testing.T) {
	dir := t.TempDir()
	yml := writeFile(t, dir, "application.yml", "info:\n  version: 1.0.0\n")
	e, err := NewEnvironment(testLogger(), &Config{Files: []string{yml}}, nil, nil)
	require.NoError(t, err)

	writeFile(t, dir, "application.yml", "info:\n  version: 1.1.0\n")
	require.NoError(t, e.Reload())
	v, _ := e.Get("info.version")
	assert.Equal(t, "1.1.0", v)

	writeFile(t, dir, "application.yml", "info: [unclosed\n")
	assert.Error(t, e.Reload())
	v, _ = e.Get("info.version")
	assert.Equal(t, "1.1.0", v, "a failed reload keeps the previous snapshot")
}

func TestEnvironment_SetConfig(t *testing.T) {
	e, err := NewEnvironment(testLogger(), &Config{Defaults: map[string]string{"info.a": "1"}}, nil, nil)
	require.NoError(t, err)

	require.Error(t, e.SetConfig(&Config{Files: []string{"bad.ini"}}))
	v, _ := e.Get("info.a")
	assert.Equal(t, "1", v)

	require.NoError(t, e.SetConfig(&Config{Defaults: map[string]string{"info.a": "2"}}))
	v, _ = e.Get("info.a")
	assert.Equal(t, "2", v)
}

func TestEnvironment_ParentAndChildKeysCoexist(t *testing.T) {
	defaults := map[string]string{"info.version": "1.2.3"}

	t.Run("ArgAtParent", func(t *testing.T) {
		e, err := NewEnvironment(testLogger(), &Config{Defaults: defaults}, nil, []string{"--info=site"})
		require.NoError(t, err)
		v, ok := e.Get("info.version")
		assert.True(t, ok)
		assert.Equal(t, "1.2.3", v)
		v, _ = e.Get("info")
		assert.Equal(t, "site", v)
	})

	t.Run("ArgBelowChild", func(t *testing.T) {
		e, err := NewEnvironment(testLogger(), &Config{Defaults: defaults}, nil, []string{"--info.version.major=1"})
		require.NoError(t, err)
		v, ok := e.Get("info.version")
		assert.True(t, ok)
		assert.Equal(t, "1.2.3", v)
		v, _ = e.Get("info.version.major")
		assert.Equal(t, "1", v)
	})

	t.Run("EnvAtParent", func(t *testing.T) {
		t.Setenv("WSPARENT_INFO", "x")
		e, err := NewEnvironment(testLogger(), &Config{Defaults: defaults, EnvPrefix: "WSPARENT_"}, nil, nil)
		require.NoError(t, err)
		v, ok := e.Get("info.version")
		assert.True(t, ok)
		assert.Equal(t, "1.2.3", v)
		v, _ = e.Get("info")
		assert.Equal(t, "x", v)
	})

	t.Run("DatabaseAtParent", func(t *testing.T) {
		e, err := NewEnvironment(testLogger(), &Config{Defaults: defaults}, setupTestDB(t), nil)
		require.NoError(t, err)
		require.NoError(t, e.Set(context.Background(), "info", "x"))
		v, ok := e.Get("info.version")
		assert.True(t, ok)
		assert.Equal(t, "1.2.3", v)

		all := e.All()
		assert.Equal(t, "x", all["info"])
		assert.Equal(t, "1.2.3", all["info.version"])
	})
}

func TestEnvironment_Watch(t *testing.T) {
	dir := t.TempDir()
	yml := writeFile(t, dir, "application.yml", "info:\n  version: 1.0.0\n")
	e, err := NewEnvironment(testLogger(), &Config{Files: []string{yml}}, nil, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Watch(ctx) }()

	// Give the watcher time to register the file's directory.
	time.Sleep(100 * time.Millisecond)
	writeFile(t, dir, "application.yml", "info:\n  version: 2.0.0\n")

	require.Eventually(t, func() bool {
		v, _ := e.Get("info.version")
		return v == "2.0.0"
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case err = <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Watch did not return after cancellation")
	}
}
