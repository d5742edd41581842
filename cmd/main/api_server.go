package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
)

const (
	actionShutdown = "shutdown"
	actionRestart  = "restart"
)

// ServerAPI holds the dependencies for the main application API handlers.
type ServerAPI struct {
	cm         *ConfigManager
	actionChan chan string
	logger     *slog.Logger
}

// VersionInfo defines the structure for build/version information.
type VersionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
}

// NewServerAPI creates a new instance of the ServerAPI.
func NewServerAPI(cm *ConfigManager, actionChan chan string, logger *slog.Logger) *ServerAPI {
	return &ServerAPI{
		cm:         cm,
		actionChan: actionChan,
		logger:     logger,
	}
}

// RegisterRoutes sets up the routing for all /api/server endpoints.
func (a *ServerAPI) RegisterRoutes(r chi.Router) {
	r.With(requireScope("server:config")).Get("/server/config", a.handleGetConfig)
	r.With(requireScope("server:config")).Put("/server/config", a.handlePutConfig)
	r.With(requireScope("server:read")).Get("/server/version", a.handleVersion)

	r.Group(func(r chi.Router) {
		r.Use(requireScope("server:control"))
		r.Post("/server/shutdown", a.handleShutdown)
		r.Post("/server/restart", a.handleRestart)
	})
}

func (a *ServerAPI) handleHealthCheck(w http.ResponseWriter, _ *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *ServerAPI) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, a.cm.Get())
}

// handlePutConfig validates, applies and persists a new configuration. Template, asset
// and property changes take effect immediately. Server changes and the set of watched
// property files need a restart.
func (a *ServerAPI) handlePutConfig(w http.ResponseWriter, r *http.Request) {
	var newConfig Config
	if err := json.NewDecoder(r.Body).Decode(&newConfig); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid JSON request body")
		return
	}

	if err := a.cm.Update(newConfig); err != nil {
		a.logger.Error("Failed to apply new configuration", "error", err)
		respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Failed to apply configuration: %v", err))
		return
	}

	a.logger.Info("Application configuration updated via API. Server changes and newly listed property files are picked up after a restart.")
	respondWithJSON(w, http.StatusOK, a.cm.Get())
}

// handleVersion returns the application's build information.
func (a *ServerAPI) handleVersion(w http.ResponseWriter, r *http.Request) {
	info := VersionInfo{
		Version:   Version,
		Commit:    Commit,
		BuildDate: BuildDate,
	}
	respondWithJSON(w, http.StatusOK, info)
}

// handleShutdown initiates a graceful shutdown of the server.
func (a *ServerAPI) handleShutdown(w http.ResponseWriter, r *http.Request) {
	a.requestAction(w, r, actionShutdown, "Server is shutting down...")
}

// handleRestart initiates a graceful restart of the server.
func (a *ServerAPI) handleRestart(w http.ResponseWriter, r *http.Request) {
	a.requestAction(w, r, actionRestart, "Server is restarting...")
}

func (a *ServerAPI) requestAction(w http.ResponseWriter, r *http.Request, action, message string) {
	a.logger.Warn("Server action initiated via API", "action", action)
	respondWithJSON(w, http.StatusAccepted, map[string]string{"message": message})

	go func() {
		a.actionChan <- action
	}()
}
