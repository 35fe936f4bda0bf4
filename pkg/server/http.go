package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/iron-manus/jarvis"
)

const (
	mcpPath     = "/mcp"
	healthPath  = "/healthz"
	metricsPath = "/metrics"

	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 15 * time.Second
)

func (s *Server) runHTTP(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Runtime.HTTPAddr,
		Handler:           s.routes(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Serving MCP over HTTP",
			"addr", srv.Addr, "path", mcpPath, "version", jarvis.Version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http transport: %w", err)
	case <-ctx.Done():
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(drainCtx); err != nil {
		return fmt.Errorf("draining http server: %w", err)
	}
	slog.Info("HTTP server drained")
	return nil
}

// routes builds the chi router. Order matters: spans wrap everything,
// logging sees final status codes, CORS answers preflights before auth can
// reject them, and auth guards /mcp while leaving health and metrics open.
func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(s.obs.Middleware())
	r.Use(requestLogging)
	r.Use(recoverPanics)
	r.Use(cors)
	r.Use(s.validator.Middleware(healthPath, metricsPath))

	r.Get(healthPath, s.handleHealth)
	r.Method(http.MethodGet, metricsPath, s.obs.MetricsHandler())
	r.Handle(mcpPath, mcpserver.NewStreamableHTTPServer(s.mcp, mcpserver.WithStateLess(true)))
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"version":   jarvis.Version,
		"endpoints": s.registry.Len(),
		"sessions":  s.store.Len(),
	})
}

func requestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		slog.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
		)
	})
}

func recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				slog.Error("HTTP handler panicked",
					"method", r.Method, "path", r.URL.Path,
					"panic", rec, "stack", string(debug.Stack()))
				writeJSON(w, http.StatusInternalServerError, map[string]any{
					"error": "internal server error",
				})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// cors is deliberately permissive: the server holds no browser-facing
// state and bearer tokens are sent explicitly, never as cookies.
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type, Mcp-Session-Id, Mcp-Protocol-Version")
		h.Set("Access-Control-Expose-Headers", "Mcp-Session-Id")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Debug("Failed to write JSON response", "error", err)
	}
}
