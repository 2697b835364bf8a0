// Package httpapi exposes the pipeline over HTTP: websocket ingest for
// transcripts, websocket delivery for audio jobs and telemetry, and a few
// JSON endpoints for health and inspection.
package httpapi

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/voicebridge/voicebridge/internal/archive"
	"github.com/voicebridge/voicebridge/internal/config"
	"github.com/voicebridge/voicebridge/internal/delivery"
	"github.com/voicebridge/voicebridge/internal/monitor"
	"github.com/voicebridge/voicebridge/internal/observability"
	"github.com/voicebridge/voicebridge/internal/session"
	"github.com/voicebridge/voicebridge/internal/turn"
)

type Server struct {
	cfg      config.Config
	buffer   *turn.Buffer
	fanout   *delivery.Fanout
	registry *session.Registry
	store    archive.Store
	monitor  *monitor.Publisher
	metrics  *observability.Metrics
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

func New(
	cfg config.Config,
	buffer *turn.Buffer,
	fanout *delivery.Fanout,
	registry *session.Registry,
	store archive.Store,
	monitorPub *monitor.Publisher,
	metrics *observability.Metrics,
	log zerolog.Logger,
) *Server {
	return &Server{
		cfg:      cfg,
		buffer:   buffer,
		fanout:   fanout,
		registry: registry,
		store:    store,
		monitor:  monitorPub,
		metrics:  metrics,
		log:      log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only same-origin browser connections by default, so another
				// site cannot drive a user's session if the service is ever
				// exposed beyond localhost.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Get("/v1/transcripts/ws", s.handleTranscriptWS)
	r.Get("/v1/audio/ws", s.handleAudioWS)
	r.Get("/v1/monitor/ws", s.handleMonitorWS)
	r.Get("/v1/perf/latency", s.handlePerfLatency)
	r.Get("/v1/sessions/{uid}/exchanges", s.handleRecentExchanges)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"kafka_enabled": s.monitor != nil && s.monitor.KafkaEnabled(),
		"sessions":      s.registry.Count(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
