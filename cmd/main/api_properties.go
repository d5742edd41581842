package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/CTAG07/workshop/pkg/metrics"
	"github.com/CTAG07/workshop/pkg/properties"
	"github.com/go-chi/chi/v5"
)

// PropertyAPI holds the dependencies for the property API handlers.
type PropertyAPI struct {
	env    *properties.Environment
	logger *slog.Logger
}

// PropertyValue is the JSON body of a single property.
type PropertyValue struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// NewPropertyAPI creates a new instance of the PropertyAPI.
func NewPropertyAPI(env *properties.Environment, logger *slog.Logger) *PropertyAPI {
	return &PropertyAPI{
		env:    env,
		logger: logger,
	}
}

// RegisterRoutes sets up the routing for all /api/properties endpoints.
func (a *PropertyAPI) RegisterRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(requireScope("properties:read"))
		r.Get("/properties", a.handleList)
		r.Get("/properties/{key}", a.handleGet)
	})

	r.Group(func(r chi.Router) {
		r.Use(requireScope("properties:write"))
		r.Post("/properties/reload", a.handleReload)
		r.Put("/properties/{key}", a.handlePut)
		r.Delete("/properties/{key}", a.handleDelete)
	})
}

// handleList returns the merged properties and the overrides stored in the database.
func (a *PropertyAPI) handleList(w http.ResponseWriter, r *http.Request) {
	overrides, err := a.env.Overrides(r.Context())
	if err != nil && !errors.Is(err, properties.ErrNoDatabase) {
		a.logger.Error("Failed to read property overrides", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Database query failed")
		return
	}
	if overrides == nil {
		overrides = map[string]string{}
	}
	respondWithJSON(w, http.StatusOK, map[string]map[string]string{
		"properties": a.env.All(),
		"overrides":  overrides,
	})
}

func (a *PropertyAPI) handleGet(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	value, ok := a.env.Get(key)
	if !ok {
		respondWithError(w, http.StatusNotFound, "Property not found")
		return
	}
	respondWithJSON(w, http.StatusOK, PropertyValue{Key: key, Value: value})
}

// handlePut stores an override. Overrides win over property files but lose to
// environment variables and command-line properties.
func (a *PropertyAPI) handlePut(w http.ResponseWriter, r *http.Request) {
	var req PropertyValue
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid JSON request body")
		return
	}
	key := chi.URLParam(r, "key")
	if err := a.env.Set(r.Context(), key, req.Value); err != nil {
		a.respondWithStoreError(w, key, err)
		return
	}
	a.logger.Info("Property override stored via API", "key", key)
	value, _ := a.env.Get(key)
	respondWithJSON(w, http.StatusOK, PropertyValue{Key: key, Value: value})
}

func (a *PropertyAPI) handleDelete(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if err := a.env.Delete(r.Context(), key); err != nil {
		a.respondWithStoreError(w, key, err)
		return
	}
	a.logger.Info("Property override deleted via API", "key", key)
	w.WriteHeader(http.StatusNoContent)
}

func (a *PropertyAPI) handleReload(w http.ResponseWriter, r *http.Request) {
	err := a.env.Reload()
	metrics.RecordRefresh("properties", err)
	if err != nil {
		a.logger.Error("API triggered property reload failed", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to reload properties")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *PropertyAPI) respondWithStoreError(w http.ResponseWriter, key string, err error) {
	switch {
	case errors.Is(err, properties.ErrInvalidKey):
		respondWithError(w, http.StatusBadRequest, "Invalid property key")
	case errors.Is(err, properties.ErrNotFound):
		respondWithError(w, http.StatusNotFound, "Property override not found")
	case errors.Is(err, properties.ErrNoDatabase):
		respondWithError(w, http.StatusServiceUnavailable, "Property overrides are not available")
	default:
		a.logger.Error("Property store failed", "key", key, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to update property")
	}
}
