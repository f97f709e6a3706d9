// Package server exposes the catalog and directory over an administrative
// HTTP API. Structural changes, key operations, statistics, and rebalancing
// are all driven through it.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/shardmap/shardmap/internal/balance"
	"github.com/shardmap/shardmap/internal/catalog"
	"github.com/shardmap/shardmap/internal/directory"
	"github.com/shardmap/shardmap/pkg/health"
	"github.com/shardmap/shardmap/pkg/logger"
)

const requestTimeout = 30 * time.Second

// Server routes administrative requests to the catalog and directory.
type Server struct {
	catalog        *catalog.Catalog
	directory      *directory.Directory
	health         *health.Checker
	logger         *logger.Logger
	router         *mux.Router
	catalogHandler *CatalogHandlers
	keyHandler     *KeyHandlers
}

// NewServer creates the server and wires its routes.
func NewServer(cat *catalog.Catalog, dir *directory.Directory, checker *health.Checker, log *logger.Logger) *Server {
	s := &Server{
		catalog:   cat,
		directory: dir,
		health:    checker,
		logger:    log,
		router:    mux.NewRouter(),
	}
	s.catalogHandler = NewCatalogHandlers(cat, log)
	s.keyHandler = NewKeyHandlers(dir, log)
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			s.logger.Debugf("%s %s (%s)", r.Method, r.URL.Path, time.Since(start))
		})
	})
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	apiV1 := s.router.PathPrefix("/api/v1").Subrouter()

	// Catalog endpoints
	apiV1.HandleFunc("/catalog", s.catalogHandler.ShowCatalog).Methods(http.MethodGet)
	apiV1.HandleFunc("/catalog/readonly", s.catalogHandler.SetReadOnly).Methods(http.MethodPut)

	dims := apiV1.PathPrefix("/dimensions").Subrouter()
	dims.HandleFunc("", s.catalogHandler.ListDimensions).Methods(http.MethodGet)
	dims.HandleFunc("", s.catalogHandler.AddDimension).Methods(http.MethodPost)
	dims.HandleFunc("/{dimension}", s.catalogHandler.ShowDimension).Methods(http.MethodGet)
	dims.HandleFunc("/{dimension}", s.catalogHandler.DeleteDimension).Methods(http.MethodDelete)

	dims.HandleFunc("/{dimension}/nodes", s.catalogHandler.ListNodes).Methods(http.MethodGet)
	dims.HandleFunc("/{dimension}/nodes", s.catalogHandler.AddNode).Methods(http.MethodPost)
	dims.HandleFunc("/{dimension}/nodes/{node}", s.catalogHandler.ModifyNode).Methods(http.MethodPut)
	dims.HandleFunc("/{dimension}/nodes/{node}", s.catalogHandler.DeleteNode).Methods(http.MethodDelete)

	dims.HandleFunc("/{dimension}/resources", s.catalogHandler.ListResources).Methods(http.MethodGet)
	dims.HandleFunc("/{dimension}/resources", s.catalogHandler.AddResource).Methods(http.MethodPost)
	dims.HandleFunc("/{dimension}/resources/{resource}/indexes", s.catalogHandler.AddSecondaryIndex).Methods(http.MethodPost)

	// Directory key endpoints
	keys := dims.PathPrefix("/{dimension}/keys").Subrouter()
	keys.HandleFunc("", s.keyHandler.InsertPrimaryKey).Methods(http.MethodPost)
	keys.HandleFunc("/{key}", s.keyHandler.ShowPrimaryKey).Methods(http.MethodGet)
	keys.HandleFunc("/{key}", s.keyHandler.DeletePrimaryKey).Methods(http.MethodDelete)
	keys.HandleFunc("/{key}/node", s.keyHandler.MovePrimaryKey).Methods(http.MethodPut)
	keys.HandleFunc("/{key}/readonly", s.keyHandler.SetPrimaryKeyReadOnly).Methods(http.MethodPut)

	// Secondary index key endpoints
	sk := dims.PathPrefix("/{dimension}/resources/{resource}/indexes/{column}").Subrouter()
	sk.HandleFunc("/keys", s.keyHandler.InsertSecondaryKey).Methods(http.MethodPost)
	sk.HandleFunc("/keys/{key}", s.keyHandler.ShowSecondaryKey).Methods(http.MethodGet)
	sk.HandleFunc("/keys/{key}", s.keyHandler.DeleteSecondaryKey).Methods(http.MethodDelete)
	sk.HandleFunc("/keys/{key}/primary", s.keyHandler.RepointSecondaryKey).Methods(http.MethodPut)

	// Resource id endpoints
	rid := dims.PathPrefix("/{dimension}/resources/{resource}/ids").Subrouter()
	rid.HandleFunc("", s.keyHandler.InsertResourceID).Methods(http.MethodPost)
	rid.HandleFunc("/{id}", s.keyHandler.ShowResourceID).Methods(http.MethodGet)
	rid.HandleFunc("/{id}", s.keyHandler.DeleteResourceID).Methods(http.MethodDelete)

	// Statistics and rebalancing
	dims.HandleFunc("/{dimension}/statistics", s.keyHandler.ShowStatistics).Methods(http.MethodGet)
	dims.HandleFunc("/{dimension}/rebalance", s.keyHandler.Rebalance).Methods(http.MethodPost)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := health.StatusHealthy
	if s.health != nil {
		status = s.health.GetOverallStatus()
	}
	response := map[string]interface{}{
		"status":    string(status),
		"service":   "shardmap",
		"revision":  s.catalog.Revision(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}

	code := http.StatusOK
	if status == health.StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(response)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Run serves the API until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  requestTimeout,
		WriteTimeout: requestTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Infof("Admin API listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// writeJSON encodes a response body with the given status code.
func writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(body)
}

// writeError maps domain errors onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, catalog.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, catalog.ErrNotUnique):
		code = http.StatusConflict
	case errors.Is(err, catalog.ErrReadOnly):
		code = http.StatusForbidden
	case errors.Is(err, catalog.ErrNotSupported):
		code = http.StatusNotImplemented
	case errors.Is(err, catalog.ErrInvalidEntity):
		code = http.StatusBadRequest
	case errors.Is(err, balance.ErrInvalidPlan), errors.Is(err, balance.ErrPlanNotBalancing):
		code = http.StatusUnprocessableEntity
	}
	http.Error(w, err.Error(), code)
}

func requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), requestTimeout)
}

func badRequest(w http.ResponseWriter, format string, args ...interface{}) {
	http.Error(w, fmt.Sprintf(format, args...), http.StatusBadRequest)
}
