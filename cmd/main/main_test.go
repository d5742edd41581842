package main

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeTestFile(tb testing.TB, dir, name, content string) {
	tb.Helper()
	file := filepath.Join(dir, filepath.FromSlash(name))
	require.NoError(tb, os.MkdirAll(filepath.Dir(file), 0755))
	require.NoError(tb, os.WriteFile(file, []byte(content), 0644))
}

// setupTestServer builds a Server whose config file, database, templates, assets and
// property files all live in a fresh temporary directory.
func setupTestServer(tb testing.TB, templates, assets map[string]string, args ...string) (*Server, chan string) {
	tb.Helper()
	dir := tb.TempDir()

	cm, err := NewConfigManager(filepath.Join(dir, "config.json"))
	require.NoError(tb, err)
	cm.SetLogger(testLogger())

	cm.config.Server.DatabasePath = filepath.Join(dir, "workshop.db")
	cm.config.Server.TemplateDir = filepath.Join(dir, "templates")
	cm.config.Resources.StaticDir = filepath.Join(dir, "static")
	cm.config.Properties.Files = []string{filepath.Join(dir, "application.yml")}
	cm.config.Properties.EnvPrefix = ""

	for name, content := range templates {
		writeTestFile(tb, cm.config.Server.TemplateDir, name, content)
	}
	for name, content := range assets {
		writeTestFile(tb, cm.config.Resources.StaticDir, name, content)
	}

	db, err := openDatabase(cm.config.Server, testLogger())
	require.NoError(tb, err)
	tb.Cleanup(func() { _ = db.Close() })

	actionChan := make(chan string, 1)
	server, err := NewServer(cm, testLogger(), db, args, actionChan)
	require.NoError(tb, err)
	return server, actionChan
}

// doRequest sends a request through the server and returns the recorded response.
func doRequest(tb testing.TB, s *Server, method, target, key string, body any) *httptest.ResponseRecorder {
	tb.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(tb, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, target, reader)
	if key != "" {
		req.Header.Set(authHeader, key)
	}
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func TestContextLoads(t *testing.T) {
	t.Chdir(t.TempDir())

	cm, err := NewConfigManager(configPath)
	require.NoError(t, err)
	cm.SetLogger(testLogger())

	db, err := openDatabase(cm.Get().Server, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = NewServer(cm, testLogger(), db, nil, make(chan string, 1))
	assert.NoError(t, err)
}

func TestServer_RendersPageWithHelpers(t *testing.T) {
	s, _ := setupTestServer(t,
		map[string]string{
			"index.tmpl.html": `<script src="{{url "/js/app.js"}}"></script><p>{{info "version"}}</p><img src="{{url "/missing.png"}}">`,
		},
		map[string]string{"js/app.js": "console.log('hi')"},
		"--info.version=1.2.3",
	)

	rec := doRequest(t, s, http.MethodGet, "/", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()

	versioned := s.assets.Mappings()["/js/app.js"]
	require.NotEmpty(t, versioned)
	assert.Regexp(t, `^/js/app-[0-9a-f]{16}\.js$`, versioned)
	assert.Contains(t, body, `<script src="`+versioned+`"></script>`)
	assert.Contains(t, body, "<p>1.2.3</p>")
	assert.Contains(t, body, `<img src="/missing.png">`)
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestServer_PageData(t *testing.T) {
	s, _ := setupTestServer(t, map[string]string{
		"hello.tmpl.html":      `{{.Path}}|{{.Query.Get "name"}}`,
		"docs/index.tmpl.html": `docs`,
	}, nil)

	rec := doRequest(t, s, http.MethodGet, "/hello?name=ada", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "/hello|ada", rec.Body.String())

	rec = doRequest(t, s, http.MethodGet, "/docs/", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "docs", rec.Body.String())
}

func TestServer_ServesAssets(t *testing.T) {
	s, _ := setupTestServer(t, nil, map[string]string{"css/site.css": "body{}"})

	rec := doRequest(t, s, http.MethodGet, "/css/site.css", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "body{}", rec.Body.String())
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))

	versioned := s.assets.Mappings()["/css/site.css"]
	rec = doRequest(t, s, http.MethodGet, versioned, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Cache-Control"), "immutable")
}

func TestServer_NotFoundAndRenderError(t *testing.T) {
	s, _ := setupTestServer(t, map[string]string{
		"broken.tmpl.html": `{{template "missing.part.html"}}`,
	}, nil)

	rec := doRequest(t, s, http.MethodGet, "/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(t, s, http.MethodGet, "/broken", "", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestServer_HealthAndMetrics(t *testing.T) {
	s, _ := setupTestServer(t, nil, nil)

	// Create a key so the health check has to bypass authentication.
	rec := doRequest(t, s, http.MethodPost, "/api/auth/keys", "", CreateKeyRequest{Description: "master"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doRequest(t, s, http.MethodGet, "/api/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = doRequest(t, s, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "workshop_http_requests_total")
}
