package main

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
)

const authSchema = `
CREATE TABLE IF NOT EXISTS api_keys (
    id            INTEGER   PRIMARY KEY,
    key_hash      TEXT      NOT NULL UNIQUE,
    scopes        TEXT      NOT NULL,
    description   TEXT      NOT NULL,
    created_at    TEXT      NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

const (
	authHeader   = "workshop-auth"
	apiKeyPrefix = "ws_"
	masterScope  = "*"
	masterKeyID  = 1
)

type contextKey string

const contextKeyPermissions = contextKey("permissions")

// Permissions holds the scopes granted to the key a request was made with.
type Permissions struct {
	ScopeSet map[string]struct{}
}

func newPermissions(scopes []string) *Permissions {
	set := make(map[string]struct{}, len(scopes))
	for _, s := range scopes {
		set[s] = struct{}{}
	}
	return &Permissions{ScopeSet: set}
}

// Has reports whether the scope is granted, directly or through the master scope.
func (p *Permissions) Has(scope string) bool {
	if _, ok := p.ScopeSet[masterScope]; ok {
		return true
	}
	_, ok := p.ScopeSet[scope]
	return ok
}

// Scopes returns the granted scopes in sorted order.
func (p *Permissions) Scopes() []string {
	scopes := make([]string, 0, len(p.ScopeSet))
	for s := range p.ScopeSet {
		scopes = append(scopes, s)
	}
	sort.Strings(scopes)
	return scopes
}

// APIKeyInfo is the structure returned when listing keys.
type APIKeyInfo struct {
	ID          int      `json:"id"`
	Scopes      []string `json:"scopes"`
	Description string   `json:"description"`
	CreatedAt   string   `json:"created_at"`
}

// CreateKeyRequest is the expected JSON body for creating a new key.
type CreateKeyRequest struct {
	Scopes      []string `json:"scopes"`
	Description string   `json:"description"`
}

// CreateKeyResponse is the JSON response after creating a key. RawKey is never shown again.
type CreateKeyResponse struct {
	ID     int      `json:"id"`
	RawKey string   `json:"raw_key"`
	Scopes []string `json:"scopes"`
}

func setupAuthSchema(db *sql.DB) error {
	if _, err := db.Exec(authSchema); err != nil {
		return err
	}
	return nil
}

// AuthAPI guards the admin API with scoped API keys and manages those keys.
type AuthAPI struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewAuthAPI(db *sql.DB, logger *slog.Logger) *AuthAPI {
	return &AuthAPI{
		db:     db,
		logger: logger,
	}
}

// RegisterRoutes sets up the routing for all /api/auth endpoints.
func (a *AuthAPI) RegisterRoutes(r chi.Router) {
	r.Get("/auth/me", a.handleCheckMe)
	r.With(requireScope("auth:manage")).Get("/auth/keys", a.handleListKeys)
	r.With(requireScope("auth:manage")).Post("/auth/keys", a.handleCreateKey)
	r.With(requireScope("auth:manage")).Delete("/auth/keys/{id}", a.handleDeleteKey)
}

// Authenticate resolves the key in the "workshop-auth" header to its permissions. While
// no key exists the API is open and every request carries the master scope.
func (a *AuthAPI) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		perms, err := a.permissionsFor(r.Context(), r.Header.Get(authHeader))
		switch {
		case errors.Is(err, errUnauthorized):
			respondWithError(w, http.StatusUnauthorized, "Invalid or missing API key")
			return
		case err != nil:
			a.logger.Error("Authenticate failed", "error", err)
			respondWithError(w, http.StatusInternalServerError, "Internal Server Error")
			return
		}
		ctx := context.WithValue(r.Context(), contextKeyPermissions, perms)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

var errUnauthorized = errors.New("unauthorized")

func (a *AuthAPI) permissionsFor(ctx context.Context, apiKey string) (*Permissions, error) {
	count, err := a.countKeys(ctx)
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return newPermissions([]string{masterScope}), nil
	}
	if apiKey == "" {
		return nil, errUnauthorized
	}

	var scopes string
	err = a.db.QueryRowContext(ctx, "SELECT scopes FROM api_keys WHERE key_hash = ?", hashAPIKey(apiKey)).Scan(&scopes)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errUnauthorized
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query API key: %w", err)
	}
	return newPermissions(strings.Fields(scopes)), nil
}

func (a *AuthAPI) countKeys(ctx context.Context) (int, error) {
	var count int
	if err := a.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM api_keys").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count API keys: %w", err)
	}
	return count, nil
}

func (a *AuthAPI) handleCheckMe(w http.ResponseWriter, r *http.Request) {
	perms, ok := permissionsFrom(r)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "Invalid or missing API key")
		return
	}
	respondWithJSON(w, http.StatusOK, map[string][]string{"scopes": perms.Scopes()})
}

func (a *AuthAPI) handleListKeys(w http.ResponseWriter, r *http.Request) {
	rows, err := a.db.QueryContext(r.Context(), `SELECT id, description, scopes, created_at FROM api_keys ORDER BY id`)
	if err != nil {
		a.logger.Error("Failed to query API keys", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Database query failed")
		return
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	keys := []APIKeyInfo{}
	for rows.Next() {
		var key APIKeyInfo
		var scopes string
		if err = rows.Scan(&key.ID, &key.Description, &scopes, &key.CreatedAt); err != nil {
			a.logger.Error("Failed to scan API key row", "error", err)
			respondWithError(w, http.StatusInternalServerError, "Failed to process database results")
			return
		}
		key.Scopes = strings.Fields(scopes)
		keys = append(keys, key)
	}
	if err = rows.Err(); err != nil {
		a.logger.Error("Failed to iterate API key rows", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to process database results")
		return
	}
	respondWithJSON(w, http.StatusOK, keys)
}

// handleCreateKey issues a new key. The first key is always a master key so the
// admin API can never be left without one.
func (a *AuthAPI) handleCreateKey(w http.ResponseWriter, r *http.Request) {
	var req CreateKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid JSON request body")
		return
	}

	count, err := a.countKeys(r.Context())
	if err != nil {
		a.logger.Error("Failed to create API key", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Database query failed")
		return
	}
	scopes := req.Scopes
	if count == 0 {
		scopes = []string{masterScope}
	}
	if len(scopes) == 0 {
		respondWithError(w, http.StatusBadRequest, "At least one scope is required")
		return
	}

	rawKey, err := generateAPIKey()
	if err != nil {
		a.logger.Error("Failed to generate new API key", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Key generation failed")
		return
	}

	var id int
	err = a.db.QueryRowContext(r.Context(),
		`INSERT INTO api_keys (key_hash, description, scopes) VALUES (?, ?, ?) RETURNING id`,
		hashAPIKey(rawKey), req.Description, strings.Join(scopes, " ")).Scan(&id)
	if err != nil {
		a.logger.Error("Failed to insert new API key", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to save new key")
		return
	}

	a.logger.Info("API key created", "id", id, "scopes", scopes)
	respondWithJSON(w, http.StatusCreated, CreateKeyResponse{ID: id, RawKey: rawKey, Scopes: scopes})
}

func (a *AuthAPI) handleDeleteKey(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid key ID format in URL")
		return
	}
	if id == masterKeyID {
		respondWithError(w, http.StatusBadRequest, "Cannot delete the primary master key (ID 1)")
		return
	}

	res, err := a.db.ExecContext(r.Context(), "DELETE FROM api_keys WHERE id = ?", id)
	if err != nil {
		a.logger.Error("Failed to delete API key", "id", id, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to delete key")
		return
	}
	if n, _ := res.RowsAffected(); n == 0 {
		respondWithError(w, http.StatusNotFound, "Key not found")
		return
	}

	a.logger.Info("API key deleted", "id", id)
	w.WriteHeader(http.StatusNoContent)
}

func permissionsFrom(r *http.Request) (*Permissions, bool) {
	perms, ok := r.Context().Value(contextKeyPermissions).(*Permissions)
	return perms, ok
}

// requireScope rejects requests whose key lacks the scope.
func requireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if perms, ok := permissionsFrom(r); !ok || !perms.Has(scope) {
				respondWithError(w, http.StatusForbidden, fmt.Sprintf("Forbidden: requires '%s' scope", scope))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func generateAPIKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return apiKeyPrefix + hex.EncodeToString(buf), nil
}

func hashAPIKey(key string) string {
	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:])
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			slog.Error("Failed to encode JSON response", "error", err)
		}
	}
}
