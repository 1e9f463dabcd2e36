package app

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/voxline/internal/health"
	"github.com/MrWong99/voxline/internal/observe"
	"github.com/MrWong99/voxline/internal/pipeline"
)

// eventWriteTimeout bounds a single write to an event stream client.
const eventWriteTimeout = 5 * time.Second

// HandlerConfig holds the dependencies of [NewHandler].
type HandlerConfig struct {
	Manager *Manager
	Hub     *Hub
	Metrics *observe.Metrics

	// Gatherer serves /metrics. When nil the route is not registered.
	Gatherer prometheus.Gatherer

	// Checkers are added to the readiness probe after the pipeline check.
	Checkers []health.Checker
}

// NewHandler returns the control surface:
//
//	POST /pipeline/{start,stop,pause,resume,activate,deactivate}
//	GET  /pipeline/status
//	GET  /events           (WebSocket stream of pipeline events)
//	GET  /metrics
//	GET  /healthz, /readyz
//
// Every request passes through [observe.Middleware].
func NewHandler(cfg HandlerConfig) http.Handler {
	m := cfg.Manager
	mux := http.NewServeMux()

	mux.HandleFunc("POST /pipeline/start", control(m, m.Start))
	mux.HandleFunc("POST /pipeline/stop", control(m, func() error {
		m.Stop()
		return nil
	}))
	mux.HandleFunc("POST /pipeline/pause", control(m, m.Pause))
	mux.HandleFunc("POST /pipeline/resume", control(m, m.Resume))
	mux.HandleFunc("POST /pipeline/activate", control(m, m.Activate))
	mux.HandleFunc("POST /pipeline/deactivate", control(m, m.Deactivate))
	mux.HandleFunc("GET /pipeline/status", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, m.Status())
	})

	if cfg.Hub != nil {
		mux.HandleFunc("GET /events", eventStream(cfg.Hub))
	}
	if cfg.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	checkers := append([]health.Checker{health.State("pipeline", m.Ready)}, cfg.Checkers...)
	health.New(checkers...).Register(mux)

	metrics := cfg.Metrics
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return observe.Middleware(metrics)(mux)
}

// control adapts a manager operation to a handler that answers with the
// resulting status. Operations on a stopped pipeline answer 409.
func control(m *Manager, op func() error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := op(); err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, pipeline.ErrNotRunning) {
				status = http.StatusConflict
			}
			observe.Logger(r.Context()).Warn("pipeline control failed", "path", r.URL.Path, "err", err)
			writeJSON(w, status, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, m.Status())
	}
}

// eventStream upgrades the request and forwards every hub event as a text
// message until the client goes away.
func eventStream(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			observe.Logger(r.Context()).Warn("event stream upgrade failed", "err", err)
			return
		}
		defer conn.CloseNow()

		events, cancel := hub.Subscribe()
		defer cancel()

		// Client messages are not expected; CloseRead handles control frames
		// and cancels ctx once the client disconnects.
		ctx := conn.CloseRead(r.Context())
		slog.Debug("event stream opened", "remote", r.RemoteAddr)
		for {
			select {
			case <-ctx.Done():
				slog.Debug("event stream closed", "remote", r.RemoteAddr)
				return
			case msg, ok := <-events:
				if !ok {
					_ = conn.Close(websocket.StatusGoingAway, "shutting down")
					return
				}
				wctx, wcancel := context.WithTimeout(ctx, eventWriteTimeout)
				err := conn.Write(wctx, websocket.MessageText, msg)
				wcancel()
				if err != nil {
					slog.Debug("event stream write failed", "remote", r.RemoteAddr, "err", err)
					return
				}
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to write response", "err", err)
	}
}
