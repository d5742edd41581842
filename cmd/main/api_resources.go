package main

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/CTAG07/workshop/pkg/metrics"
	"github.com/CTAG07/workshop/pkg/resources"
	"github.com/go-chi/chi/v5"
)

// ResourceAPI holds the dependencies for the static asset API handlers.
type ResourceAPI struct {
	assets *resources.Provider
	logger *slog.Logger
}

// NewResourceAPI creates a new instance of the ResourceAPI.
func NewResourceAPI(assets *resources.Provider, logger *slog.Logger) *ResourceAPI {
	return &ResourceAPI{
		assets: assets,
		logger: logger,
	}
}

// RegisterRoutes sets up the routing for all /api/resources endpoints.
func (a *ResourceAPI) RegisterRoutes(r chi.Router) {
	r.With(requireScope("resources:read")).Get("/resources", a.handleList)
	r.With(requireScope("resources:write")).Post("/resources/refresh", a.handleRefresh)
}

// handleList returns every logical asset URL and the versioned URL it resolves to.
func (a *ResourceAPI) handleList(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, a.assets.Mappings())
}

// handleRefresh rescans the static directory.
func (a *ResourceAPI) handleRefresh(w http.ResponseWriter, r *http.Request) {
	err := a.assets.Refresh()
	metrics.RecordRefresh("resources", err)
	if err != nil {
		a.logger.Error("API triggered asset refresh failed", "error", err)
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to refresh assets: %v", err))
		return
	}
	a.logger.Info("Static assets refreshed via API")
	w.WriteHeader(http.StatusNoContent)
}
