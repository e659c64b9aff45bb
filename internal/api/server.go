package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/mcp-directory-crawler/internal/crawler"
	"github.com/JakeFAU/mcp-directory-crawler/internal/logging"
	"github.com/JakeFAU/mcp-directory-crawler/internal/metrics"
)

const (
	requestTimeout     = 30 * time.Second
	defaultPendingSize = 50
	maxPendingSize     = 500
)

// Reader is the read side of the datastore the API serves.
type Reader interface {
	FindServerBySlug(ctx context.Context, slug string) (crawler.Server, error)
	ListServersWithoutReadme(ctx context.Context, limit int) ([]crawler.Server, error)
	ListTools(ctx context.Context, serverID string) ([]crawler.Tool, error)
	ListClients(ctx context.Context, serverID string) ([]crawler.CompatibleClient, error)
}

// ServerDetail is the payload for a single server.
type ServerDetail struct {
	Server  crawler.Server             `json:"server"`
	Tools   []crawler.Tool             `json:"tools"`
	Clients []crawler.CompatibleClient `json:"compatible_clients"`
}

// Server wires HTTP handlers to the datastore.
type Server struct {
	router chi.Router
	store  Reader
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(store Reader, logger *zap.Logger) *Server {
	s := &Server{
		store:  store,
		logger: logging.OrNop(logger).Named("api"),
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(requestTimeout))

	r.Get("/healthz", s.healthz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/readmes/pending", s.pendingReadmes)
		r.Get("/servers/{slug}", s.getServer)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) getServer(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	srv, err := s.store.FindServerBySlug(r.Context(), slug)
	if errors.Is(err, crawler.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "server not found")
		return
	}
	if err != nil {
		s.logger.Error("find server failed", zap.String("slug", slug), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to load server")
		return
	}
	tools, err := s.store.ListTools(r.Context(), srv.ID)
	if err != nil {
		s.logger.Error("list tools failed", zap.String("server_id", srv.ID), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to load tools")
		return
	}
	clients, err := s.store.ListClients(r.Context(), srv.ID)
	if err != nil {
		s.logger.Error("list clients failed", zap.String("server_id", srv.ID), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to load compatible clients")
		return
	}
	if tools == nil {
		tools = []crawler.Tool{}
	}
	if clients == nil {
		clients = []crawler.CompatibleClient{}
	}
	s.writeJSON(w, http.StatusOK, ServerDetail{Server: srv, Tools: tools, Clients: clients})
}

func (s *Server) pendingReadmes(w http.ResponseWriter, r *http.Request) {
	limit := defaultPendingSize
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxPendingSize)
	}
	servers, err := s.store.ListServersWithoutReadme(r.Context(), limit)
	if err != nil {
		s.logger.Error("list pending readmes failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to list servers")
		return
	}
	if servers == nil {
		servers = []crawler.Server{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"servers": servers, "count": len(servers)})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestID returns the id assigned to the request carried by ctx.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("request_id", RequestID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("panic", rec), zap.String("path", r.URL.Path))
				s.writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
