// Package httpapi provides the HTTP and WebSocket surface of the narration
// service: a batch narration endpoint, a streaming narration endpoint, and a
// health probe.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/book-expert/logger"
	"github.com/getsentry/sentry-go"

	"github.com/book-expert/narration-service/internal/core"
)

const healthProbeTimeout = 5 * time.Second

// HealthProber reports whether the downstream speech engine is reachable.
type HealthProber interface {
	HealthCheck(ctx context.Context) error
}

// Router dispatches narration requests to the narrator. The object store is
// optional; when present, finished batch artifacts are persisted in the
// background.
type Router struct {
	mux        *http.ServeMux
	narrator   core.Narrator
	probe      HealthProber
	store      core.ObjectStore
	jobTimeout time.Duration
	log        *logger.Logger
}

// NewRouter wires the routes and wraps the mux in the recovery and CORS
// middleware.
func NewRouter(
	narrator core.Narrator,
	probe HealthProber,
	store core.ObjectStore,
	jobTimeout time.Duration,
	log *logger.Logger,
) http.Handler {
	r := &Router{
		mux:        http.NewServeMux(),
		narrator:   narrator,
		probe:      probe,
		store:      store,
		jobTimeout: jobTimeout,
		log:        log,
	}

	r.routes()

	return withSentryRecovery(log, withCORS(r.mux))
}

func (r *Router) routes() {
	r.mux.HandleFunc("GET /healthz", r.handleHealthz)
	r.mux.HandleFunc("POST /v1/narrations", r.handleCreateNarration)
	r.mux.HandleFunc("GET /v1/narrations/stream", r.handleStreamNarration)
}

// handleHealthz reports service liveness and, when a prober is configured,
// speech engine reachability.
func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if r.probe == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})

		return
	}

	ctx, cancel := context.WithTimeout(req.Context(), healthProbeTimeout)
	defer cancel()

	err := r.probe.HealthCheck(ctx)
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "degraded",
			"error":  err.Error(),
		})

		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func withSentryRecovery(log *logger.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				log.Error("Panic serving %s %s: %v", req.Method, req.URL.Path, err)
				hub := sentry.CurrentHub().Clone()
				hub.Scope().SetRequest(req)
				hub.RecoverWithContext(req.Context(), err)
				hub.Flush(2 * time.Second)
				http.Error(w, `{"error": "internal server error"}`, http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, req)
	})
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")

		if req.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)

			return
		}

		next.ServeHTTP(w, req)
	})
}

// captureError sends an error to Sentry with request context.
func captureError(req *http.Request, err error, msg string) {
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetRequest(req)
		scope.SetExtra("message", msg)
		sentry.CaptureException(err)
	})
}
