// Package adminapi exposes the operational HTTP surface: liveness and
// readiness probes, and a live WebSocket tail of audit events. None of it
// is part of the file-exchange wire protocol. /audit/stream and
// /catalog/search are gated by a bearer token rather than a certificate
// fingerprint; /healthz and /readyz answer without one.
package adminapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/entropycollective/vaultd/pkg/common/logging"
)

// AuditEvent is one record broadcast to audit-stream subscribers.
type AuditEvent struct {
	Name          string `json:"name"`
	TypeOfChanges string `json:"type_of_changes"`
	Status        string `json:"status"`
	DateMillis    int64  `json:"date"`
}

// ReadinessCheck reports whether a dependency the server needs is reachable.
// Passed in by the caller (e.g. a metadata-store ping) rather than imported
// directly, so this package stays free of a metadata.Store dependency.
type ReadinessCheck func(ctx context.Context) error

// CatalogSearcher is the subset of pkg/catalog.Index the admin surface needs
// to serve operational, out-of-band filename search. It is optional: a
// Server with no catalog attached answers /catalog/search with 503.
type CatalogSearcher interface {
	Search(query string, limit int) ([]string, error)
}

// Server serves /healthz, /readyz, /audit/stream, and /catalog/search.
type Server struct {
	token   string
	ready   ReadinessCheck
	log     *logging.Logger
	router  *mux.Router
	upgrade websocket.Upgrader

	mu      sync.RWMutex
	clients map[*websocket.Conn]chan AuditEvent
	catalog CatalogSearcher
}

// New builds a Server. token is the bearer token requests to /audit/stream
// and /catalog/search must present in an `Authorization: Bearer <token>`
// header (the probes need none); an empty token disables
// authentication entirely, which is only acceptable for local development.
func New(token string, ready ReadinessCheck, log *logging.Logger) *Server {
	s := &Server{
		token:   token,
		ready:   ready,
		log:     log.WithComponent("adminapi"),
		clients: make(map[*websocket.Conn]chan AuditEvent),
		upgrade: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	r.HandleFunc("/readyz", s.handleReadyz).Methods(http.MethodGet)
	r.Handle("/audit/stream", s.requireAuth(http.HandlerFunc(s.handleAuditStream))).Methods(http.MethodGet)
	r.Handle("/catalog/search", s.requireAuth(http.HandlerFunc(s.handleCatalogSearch))).Methods(http.MethodGet)
	s.router = r

	return s
}

// SetCatalog attaches the filename search index /catalog/search serves.
// Called once at startup when catalog indexing is enabled; leaving it unset
// makes the route answer 503.
func (s *Server) SetCatalog(c CatalogSearcher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.catalog = c
}

// Handler returns the HTTP handler to bind to ServerConfig.AdminAddr.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token == "" {
			next.ServeHTTP(w, r)
			return
		}
		header := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if !strings.HasPrefix(header, prefix) || header[len(prefix):] != s.token {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if s.ready == nil {
		w.WriteHeader(http.StatusOK)
		return
	}
	if err := s.ready(r.Context()); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(err.Error()))
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleAuditStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrade.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", map[string]interface{}{"error": err.Error()})
		return
	}
	defer conn.Close()

	clientChan := make(chan AuditEvent, 32)
	s.mu.Lock()
	s.clients[conn] = clientChan
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.clients, conn)
		s.mu.Unlock()
		close(clientChan)
	}()

	for event := range clientChan {
		if err := conn.WriteJSON(event); err != nil {
			s.log.Debug("websocket write failed, dropping subscriber", map[string]interface{}{"error": err.Error()})
			return
		}
	}
}

// handleCatalogSearch answers an operational, out-of-band filename query
// against the catalog index. This is intentionally separate from the
// file-exchange wire protocol's List command, which takes no query input.
func (s *Server) handleCatalogSearch(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	cat := s.catalog
	s.mu.RUnlock()
	if cat == nil {
		http.Error(w, "catalog index disabled", http.StatusServiceUnavailable)
		return
	}

	query := r.URL.Query().Get("q")
	if query == "" {
		http.Error(w, "missing q parameter", http.StatusBadRequest)
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			http.Error(w, "invalid limit parameter", http.StatusBadRequest)
			return
		}
		limit = n
	}

	names, err := cat.Search(query, limit)
	if err != nil {
		s.log.Warn("catalog search failed", map[string]interface{}{"error": err.Error()})
		http.Error(w, "search failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(names)
}

// Broadcast fans event out to every connected /audit/stream subscriber. A
// subscriber whose send buffer is full is skipped rather than blocked.
func (s *Server) Broadcast(event AuditEvent) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.clients {
		select {
		case ch <- event:
		default:
		}
	}
}
