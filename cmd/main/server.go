package main

import (
	"bytes"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/CTAG07/workshop/pkg/metrics"
	"github.com/CTAG07/workshop/pkg/properties"
	"github.com/CTAG07/workshop/pkg/resources"
	"github.com/CTAG07/workshop/pkg/templating"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Page is the data every page template is executed with.
type Page struct {
	Path  string
	Query url.Values
}

type Server struct {
	cm          *ConfigManager
	db          *sql.DB
	logger      *slog.Logger
	env         *properties.Environment
	assets      *resources.Provider
	tm          *templating.TemplateManager
	authAPI     *AuthAPI
	serverAPI   *ServerAPI
	templateAPI *TemplateAPI
	resourceAPI *ResourceAPI
	propertyAPI *PropertyAPI
	router      chi.Router
}

// NewServer builds the application context: the property environment, the asset
// provider and the template manager with its helpers, plus the admin APIs and router.
func NewServer(cm *ConfigManager, logger *slog.Logger, db *sql.DB, args []string, actionChan chan string) (*Server, error) {
	config := cm.Get()

	env, err := properties.NewEnvironment(logger, config.Properties, db, args)
	if err != nil {
		return nil, fmt.Errorf("failed to create property environment: %w", err)
	}

	assets, err := resources.NewProvider(logger, config.Resources)
	if err != nil {
		return nil, fmt.Errorf("failed to create asset provider: %w", err)
	}

	tm, err := templating.NewTemplateManager(logger, config.Templates, config.Server.TemplateDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create template manager: %w", err)
	}

	if err = tm.RegisterHelpers(templating.Helpers(assets, env)); err != nil {
		return nil, fmt.Errorf("failed to register template helpers: %w", err)
	}

	cm.Attach(tm, assets, env)

	server := &Server{
		cm:          cm,
		db:          db,
		logger:      logger,
		env:         env,
		assets:      assets,
		tm:          tm,
		authAPI:     NewAuthAPI(db, logger),
		serverAPI:   NewServerAPI(cm, actionChan, logger),
		templateAPI: NewTemplateAPI(tm, logger),
		resourceAPI: NewResourceAPI(assets, logger),
		propertyAPI: NewPropertyAPI(env, logger),
	}
	server.router = server.routes()

	return server, nil
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)
	r.Use(metrics.InstrumentHandler)

	r.Handle("/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		// The health check is unauthed so something like docker can use it
		r.Get("/health", s.serverAPI.handleHealthCheck)

		r.Group(func(r chi.Router) {
			r.Use(s.authAPI.Authenticate)
			s.authAPI.RegisterRoutes(r)
			s.serverAPI.RegisterRoutes(r)
			s.templateAPI.RegisterRoutes(r)
			s.resourceAPI.RegisterRoutes(r)
			s.propertyAPI.RegisterRoutes(r)
		})
	})

	r.Get("/*", s.handlePage)

	return r
}

// ServeHTTP makes the Server usable as the root handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// handlePage renders the page template named by the request path. Paths without a
// page fall through to the static assets.
func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	name := s.tm.PageName(r.URL.Path)
	if !s.tm.Has(name) {
		if s.assets.Owns(r.URL.Path) {
			s.assets.ServeHTTP(w, r)
			return
		}
		http.NotFound(w, r)
		return
	}

	var buf bytes.Buffer
	err := s.tm.Execute(&buf, name, Page{Path: r.URL.Path, Query: r.URL.Query()})
	metrics.RecordRender(name, err)
	if err != nil {
		s.logger.Error("Failed to execute template", "template", name, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	s.setPageHeaders(w)
	_, _ = buf.WriteTo(w)
}

func (s *Server) setPageHeaders(w http.ResponseWriter) {
	for k, v := range s.cm.Get().Server.Headers {
		w.Header().Set(k, v)
	}
	if w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
	}
}

// logRequests logs every request once it has been served.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("Served request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"remote_addr", r.RemoteAddr,
			"request_id", middleware.GetReqID(r.Context()))
	})
}
