package gateway

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/macadriano/TQ/internal/heartbeat"
)

// healthStatusOK is the top-level status the external monitor scripts
// poll for.
const healthStatusOK = "ok"

// HealthHandler serves the operational HTTP surface: GET /health with a
// liveness snapshot in the heartbeat JSON shape, the prometheus metrics
// endpoint when reg is non-nil, and JSON 404s for everything else.
// Access logging is deliberately absent; external pollers hit /health
// every few seconds.
func (s *Server) HealthHandler(reg *prometheus.Registry, metricsPath string) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	if reg != nil && metricsPath != "" {
		mux.Handle("GET "+metricsPath, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}
	mux.HandleFunc("/", handleNotFound)

	return recoverJSON(s.logger, mux)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	now := time.Now()
	snap := s.Snapshot(now)
	p := heartbeat.New(now, s.cfg.Heartbeat.ServerID, healthStatusOK,
		snap.Uptime, snap.Port, snap.Clients, snap.Messages)
	writeJSON(w, http.StatusOK, p)
}

func handleNotFound(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusNotFound, map[string]string{"status": "not_found"})
}

// recoverJSON turns a handler panic into a JSON 500 instead of killing
// the connection. The health server must outlive any bug in a handler.
func recoverJSON(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			logger.Error("health handler panic",
				slog.String("path", r.URL.Path),
				slog.String("panic", fmt.Sprint(rec)),
			)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"status":  "error",
				"message": fmt.Sprint(rec),
			})
		}()
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	// Encode errors here mean the client went away; nothing to do.
	_ = json.NewEncoder(w).Encode(body)
}
