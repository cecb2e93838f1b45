package server

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/dgnsrekt/crowdpointer/internal/broadcast"
	"github.com/dgnsrekt/crowdpointer/internal/config"
	"github.com/dgnsrekt/crowdpointer/internal/presence"
	"github.com/dgnsrekt/crowdpointer/internal/pubsub"
	"github.com/dgnsrekt/crowdpointer/internal/ws"
)

// Server holds the dependencies of the HTTP handlers.
type Server struct {
	manager     *presence.Manager
	broker      *pubsub.Broker
	broadcaster *broadcast.Broadcaster
	ws          *ws.Handler
	limiter     *rate.Limiter
	config      *config.Config
	startedAt   time.Time
	logger      *zap.Logger
}

// NewServer creates a Server with a fresh upgrade limiter.
func NewServer(
	manager *presence.Manager,
	broker *pubsub.Broker,
	broadcaster *broadcast.Broadcaster,
	wsHandler *ws.Handler,
	cfg *config.Config,
	logger *zap.Logger,
) *Server {
	return &Server{
		manager:     manager,
		broker:      broker,
		broadcaster: broadcaster,
		ws:          wsHandler,
		limiter:     rate.NewLimiter(rate.Limit(cfg.Server.UpgradeRate), cfg.Server.UpgradeBurst),
		config:      cfg,
		startedAt:   time.Now(),
		logger:      logger,
	}
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status      string         `json:"status"`
	Connections int            `json:"connections"`
	Subscribers map[string]int `json:"subscribers"`
	Broadcaster bool           `json:"broadcaster_running"`
	Uptime      string         `json:"uptime"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	subscribers := make(map[string]int)
	for _, topic := range pubsub.Topics() {
		subscribers[string(topic)] = s.broker.SubscriberCount(topic)
	}

	status := "ok"
	code := http.StatusOK
	if !s.broadcaster.Running() {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	s.writeJSON(w, code, HealthResponse{
		Status:      status,
		Connections: s.manager.Count(),
		Subscribers: subscribers,
		Broadcaster: s.broadcaster.Running(),
		Uptime:      time.Since(s.startedAt).Round(time.Second).String(),
	})
}

func (s *Server) handleInteractURL(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"interact_url": s.config.InteractURL(),
	})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	reset := s.manager.Reset(r.Context())
	s.writeJSON(w, http.StatusOK, map[string]int{
		"reset": reset,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", zap.Error(err))
	}
}
