package apihttp

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// APIPrefix is the mount point of the JSON API.
const APIPrefix = "/api/v1"

const headerRequestID = "X-Request-ID"

// Registrar mounts routes on the API subrouter.
type Registrar interface {
	Register(r *mux.Router)
}

// HealthCheck reports readiness of one dependency.
type HealthCheck func(ctx context.Context) error

// RouterConfig wires the router.
type RouterConfig struct {
	Handlers     []Registrar
	Stream       http.Handler
	Middleware   []mux.MiddlewareFunc
	HealthChecks map[string]HealthCheck
	Logger       logrus.FieldLogger
}

// NewRouter builds the service router.
func NewRouter(cfg RouterConfig) *mux.Router {
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	router := mux.NewRouter()
	router.Use(requestIDMiddleware, loggingMiddleware(logger))
	for _, mw := range cfg.Middleware {
		router.Use(mw)
	}

	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	router.HandleFunc("/healthz", healthHandler(cfg.HealthChecks)).Methods(http.MethodGet)

	api := router.PathPrefix(APIPrefix).Subrouter()
	for _, h := range cfg.Handlers {
		if h != nil {
			h.Register(api)
		}
	}
	if cfg.Stream != nil {
		api.Handle("/stream", cfg.Stream).Methods(http.MethodGet)
	}
	return router
}

func healthHandler(checks map[string]HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		status := http.StatusOK
		results := make(map[string]string, len(checks))
		for name, check := range checks {
			if err := check(ctx); err != nil {
				results[name] = err.Error()
				status = http.StatusServiceUnavailable
				continue
			}
			results[name] = "ok"
		}
		state := "ok"
		if status != http.StatusOK {
			state = "degraded"
		}
		writeJSON(w, status, map[string]any{"status": state, "checks": results})
	}
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(headerRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(headerRequestID, id)
		next.ServeHTTP(w, r)
	})
}

func loggingMiddleware(logger logrus.FieldLogger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(resp, r)
			entry := logger.WithFields(logrus.Fields{
				"method":     r.Method,
				"path":       r.URL.Path,
				"status":     resp.status,
				"duration":   time.Since(start).String(),
				"request_id": w.Header().Get(headerRequestID),
			})
			if resp.status >= http.StatusInternalServerError {
				entry.Warn("http request")
				return
			}
			entry.Debug("http request")
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack lets the websocket upgrader take over the connection.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("http: response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}
