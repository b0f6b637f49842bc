// Package api exposes the HTTP interface for the watcher service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"shelfwatch/internal/catalog"
	"shelfwatch/internal/engine"
	"shelfwatch/internal/store"
	"shelfwatch/internal/telemetry"
)

// Server wires HTTP handlers to the sync engine and catalog store.
type Server struct {
	router chi.Router
	store  *store.Store
	engine *engine.Engine
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(st *store.Store, eng *engine.Engine, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		store:  st,
		engine: eng,
		logger: logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(timeoutMiddleware(60 * time.Second))
	r.Use(telemetry.Middleware)

	r.Get("/healthz", s.healthz)
	r.Method(http.MethodGet, "/metrics", telemetry.Handler())

	r.Post("/auth", s.auth)
	r.Get("/available-now", s.runCycle(catalog.CategoryAvailableNow))
	r.Get("/on-order", s.runCycle(catalog.CategoryOnOrder))
	r.Get("/all-best-sellers", s.listCategory(catalog.CategoryAvailableNow))
	r.Get("/all-on-order", s.listCategory(catalog.CategoryOnOrder))
	r.Get("/wish-list", s.getWishlist)
	r.Post("/wish-list", s.addWishlistEntry)
	r.Delete("/wish-list", s.removeWishlistEntry)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		s.logger.Info("endpoint not found", zap.String("path", r.URL.Path))
		writeText(w, http.StatusNotFound, "Endpoint not found.")
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type authRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) auth(w http.ResponseWriter, r *http.Request) {
	var req authRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Username == "" {
		s.logger.Info("unauthenticated")
		s.writeJSON(w, http.StatusUnauthorized, map[string]any{})
		return
	}
	userID, ok := s.store.Authenticate(req.Username, req.Password)
	if !ok {
		s.logger.Info("unauthenticated")
		s.writeJSON(w, http.StatusUnauthorized, map[string]any{})
		return
	}
	s.logger.Info("authenticated", zap.String("user_id", userID))
	s.writeJSON(w, http.StatusOK, map[string]string{"userId": userID})
}

// runCycle triggers a sweep on demand and reports what fired.
func (s *Server) runCycle(category catalog.Category) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		alerts, err := s.engine.RunCycle(r.Context(), category)
		if err != nil {
			status := http.StatusInternalServerError
			switch {
			case errors.Is(err, catalog.ErrExtractionFailed):
				s.logger.Error("cycle extraction failed", zap.Error(err))
			case errors.Is(err, catalog.ErrBusy):
				s.logger.Warn("cycle request timed out waiting for lock", zap.Error(err))
			default:
				s.logger.Error("cycle failed", zap.Error(err))
			}
			writeText(w, status, "Server Error - Check Logs")
			return
		}
		if len(alerts) == 0 {
			writeText(w, http.StatusOK, fmt.Sprintf("No new titles %s.", category))
			return
		}
		s.writeJSON(w, http.StatusOK, alerts)
	}
}

// listCategory returns the current store contents, no extraction triggered.
func (s *Server) listCategory(category catalog.Category) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		items := s.store.ItemsByCategory(category)
		if items == nil {
			items = []catalog.LibraryItem{}
		}
		s.logger.Info("listing catalog items",
			zap.String("category", string(category)),
			zap.Int("count", len(items)))
		s.writeJSON(w, http.StatusOK, items)
	}
}

type wishlistRequest struct {
	Title string `json:"title"`
}

func (s *Server) getWishlist(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.store.Wishlist())
}

func (s *Server) addWishlistEntry(w http.ResponseWriter, r *http.Request) {
	var req wishlistRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Title == "" {
		writeText(w, http.StatusBadRequest, "A title is required.")
		return
	}
	if err := s.store.AddWishlistEntry(req.Title); err != nil {
		s.logger.Error("add wishlist entry failed", zap.Error(err))
		writeText(w, http.StatusInternalServerError, "Server Error - Check Logs")
		return
	}
	s.logger.Info("wishlist entry added", zap.String("title", req.Title))
	s.writeJSON(w, http.StatusOK, s.store.Wishlist())
}

func (s *Server) removeWishlistEntry(w http.ResponseWriter, r *http.Request) {
	var req wishlistRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Title == "" {
		writeText(w, http.StatusBadRequest, "A title is required.")
		return
	}
	if err := s.store.RemoveWishlistEntry(req.Title); err != nil {
		var notFound *catalog.WishlistNotFoundError
		if errors.As(err, &notFound) {
			writeText(w, http.StatusNotFound, notFound.Error())
			return
		}
		s.logger.Error("remove wishlist entry failed", zap.Error(err))
		writeText(w, http.StatusInternalServerError, "Server Error - Check Logs")
		return
	}
	s.logger.Info("wishlist entry removed", zap.String("title", req.Title))
	s.writeJSON(w, http.StatusOK, s.store.Wishlist())
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec))
				writeText(w, http.StatusInternalServerError, "Server Error - Check Logs")
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

type requestIDKey struct{}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func writeText(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(msg))
}
