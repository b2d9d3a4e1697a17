// Package httpapi exposes the process surface: the websocket endpoint for
// live sessions, health, and metrics.
package httpapi

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/smangukia/CommuneDrop-sub001/internal/hub"
)

// BrokerHealth is what the health endpoint needs to know about the broker.
type BrokerHealth interface {
	Connected() bool
}

type Server struct {
	hub     *hub.Hub
	broker  BrokerHealth
	logger  *slog.Logger
	enabled bool // whether a broker is configured at all
	mux     *mux.Router
}

func NewServer(h *hub.Hub, broker BrokerHealth, brokerConfigured bool, logger *slog.Logger) *Server {
	s := &Server{
		hub:     h,
		broker:  broker,
		logger:  logger,
		enabled: brokerConfigured,
		mux:     mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/ws", s.hub.ServeWS).Methods("GET")
	s.mux.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

// handleHealth reports degraded (not failing) when the broker is down:
// live-session delivery still works, only durable notifications stall.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	up := !s.enabled || s.broker.Connected()
	state := "ok"
	if !up {
		state = "degraded"
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":   state,
		"broker":   up,
		"sessions": s.hub.SessionCount(),
	})
}

func newID() string { b := make([]byte, 8); _, _ = rand.Read(b); return hex.EncodeToString(b) }
