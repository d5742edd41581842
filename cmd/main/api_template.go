package main

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/CTAG07/workshop/pkg/metrics"
	"github.com/CTAG07/workshop/pkg/templating"
	"github.com/go-chi/chi/v5"
)

// maxTemplateSize bounds the bodies accepted by the test and file endpoints.
const maxTemplateSize = 1 << 20

// TemplateAPI holds the dependencies for the template API handlers.
type TemplateAPI struct {
	tm     *templating.TemplateManager
	logger *slog.Logger
}

// NewTemplateAPI creates a new instance of the TemplateAPI.
func NewTemplateAPI(tm *templating.TemplateManager, logger *slog.Logger) *TemplateAPI {
	return &TemplateAPI{
		tm:     tm,
		logger: logger,
	}
}

// RegisterRoutes sets up the routing for all /api/templates endpoints.
func (t *TemplateAPI) RegisterRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(requireScope("templates:read"))
		r.Get("/templates", t.handleList)
		r.Post("/templates/test", t.handleTest)
		r.Get("/templates/preview", t.handlePreview)
		r.Get("/templates/files/*", t.handleGetFile)
	})

	r.Group(func(r chi.Router) {
		r.Use(requireScope("templates:write"))
		r.Post("/templates/refresh", t.handleRefresh)
		r.Put("/templates/files/*", t.handlePutFile)
		r.Delete("/templates/files/*", t.handleDeleteFile)
	})
}

// handleRefresh triggers a manual refresh of templates from disk.
func (t *TemplateAPI) handleRefresh(w http.ResponseWriter, r *http.Request) {
	err := t.tm.Refresh()
	metrics.RecordRefresh("templates", err)
	if err != nil {
		t.logger.Error("API triggered refresh failed", "error", err)
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to refresh templates: %v", err))
		return
	}
	t.logger.Info("Templates refreshed via API")
	w.WriteHeader(http.StatusNoContent)
}

// handleList returns the loaded pages and every template name, partials included.
func (t *TemplateAPI) handleList(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string][]string{
		"pages":     t.tm.GetPageNames(),
		"templates": t.tm.GetTemplateNames(),
	})
}

// handleTest validates template syntax without saving the file by executing it as a string.
func (t *TemplateAPI) handleTest(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxTemplateSize))
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to read request body: %v", err))
		return
	}

	var buf bytes.Buffer
	err = t.tm.ExecuteTemplateString(&buf, string(body), previewPage(r))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Template execution failed: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// handlePreview renders a loaded page as if it had been requested at the "path" query parameter.
func (t *TemplateAPI) handlePreview(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		respondWithError(w, http.StatusBadRequest, "Query parameter 'name' is required")
		return
	}
	if !t.tm.Has(name) {
		respondWithError(w, http.StatusNotFound, fmt.Sprintf("Template '%s' not found", name))
		return
	}

	var buf bytes.Buffer
	if err := t.tm.Execute(&buf, name, previewPage(r)); err != nil {
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to render preview: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// previewPage builds the page data for previews from the "path" query parameter.
func previewPage(r *http.Request) Page {
	p := r.URL.Query().Get("path")
	if p == "" {
		p = "/"
	}
	return Page{Path: p, Query: r.URL.Query()}
}

func (t *TemplateAPI) handleGetFile(w http.ResponseWriter, r *http.Request) {
	path, status, msg := t.filePath(chi.URLParam(r, "*"))
	if status != 0 {
		respondWithError(w, status, msg)
		return
	}
	content, err := os.ReadFile(path)
	if err != nil {
		respondWithError(w, http.StatusNotFound, "Template not found")
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write(content)
}

// handlePutFile writes a template file and reloads the set. A file that fails to parse
// is removed again so the live set stays loadable.
func (t *TemplateAPI) handlePutFile(w http.ResponseWriter, r *http.Request) {
	path, status, msg := t.filePath(chi.URLParam(r, "*"))
	if status != 0 {
		respondWithError(w, status, msg)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxTemplateSize))
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to read request body: %v", err))
		return
	}

	previous, readErr := os.ReadFile(path)
	if err = os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to create template directory: %v", err))
		return
	}
	if err = os.WriteFile(path, body, 0644); err != nil {
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to write template file: %v", err))
		return
	}

	err = t.tm.Refresh()
	metrics.RecordRefresh("templates", err)
	if err != nil {
		if readErr == nil {
			_ = os.WriteFile(path, previous, 0644)
		} else {
			_ = os.Remove(path)
		}
		respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Template rejected: %v", err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (t *TemplateAPI) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	path, status, msg := t.filePath(chi.URLParam(r, "*"))
	if status != 0 {
		respondWithError(w, status, msg)
		return
	}
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			respondWithError(w, http.StatusNotFound, "Template not found")
			return
		}
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to delete template file: %v", err))
		return
	}
	err := t.tm.Refresh()
	metrics.RecordRefresh("templates", err)
	if err != nil {
		t.logger.Warn("Template set failed to reload after delete", "error", err)
	}
	w.WriteHeader(http.StatusNoContent)
}

// filePath maps a template name onto its file inside the template directory. A non-zero
// status reports why the name was refused.
func (t *TemplateAPI) filePath(name string) (string, int, string) {
	if name == "" || strings.HasSuffix(name, "/") {
		return "", http.StatusNotFound, "Not Found"
	}
	if strings.Contains(name, "..") || (!strings.HasSuffix(name, ".tmpl.html") && !strings.HasSuffix(name, ".part.html")) {
		return "", http.StatusBadRequest, "Invalid template name format"
	}

	templateDir, err := filepath.Abs(t.tm.GetTemplateDir())
	if err != nil {
		return "", http.StatusInternalServerError, "Failed to resolve template directory"
	}
	absPath, err := filepath.Abs(filepath.Join(templateDir, filepath.FromSlash(name)))
	if err != nil {
		return "", http.StatusBadRequest, "Invalid path"
	}
	if !strings.HasPrefix(absPath, templateDir+string(filepath.Separator)) {
		return "", http.StatusForbidden, "Access denied: Path outside template directory"
	}
	return absPath, 0, ""
}
