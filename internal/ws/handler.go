package ws

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/dgnsrekt/crowdpointer/internal/presence"
	"github.com/dgnsrekt/crowdpointer/internal/protocol"
	"github.com/dgnsrekt/crowdpointer/internal/pubsub"
	"github.com/dgnsrekt/crowdpointer/internal/registry"
)

// Negotiated subprotocols. Clients that request none get JSON.
const (
	SubprotocolJSON     = "crowdpointer.json.v1"
	SubprotocolProtobuf = "crowdpointer.protobuf.v1"
)

const (
	protocolJSON   = "json"
	protocolBinary = "protobuf"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true }, // pages are served from other origins
	Subprotocols:    []string{SubprotocolProtobuf, SubprotocolJSON},
}

// Handler upgrades HTTP requests into producer or consumer sessions.
type Handler struct {
	broker  *pubsub.Broker
	manager *presence.Manager
	codec   *protocol.Codec
	logger  *zap.Logger
}

// NewHandler creates a new Handler.
func NewHandler(broker *pubsub.Broker, manager *presence.Manager, codec *protocol.Codec, logger *zap.Logger) *Handler {
	return &Handler{
		broker:  broker,
		manager: manager,
		codec:   codec,
		logger:  logger,
	}
}

// HandleInteract serves producer connections that report positions.
func (h *Handler) HandleInteract(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, roleProducer, pubsub.TopicInteraction)
}

// HandleShow serves display connections that receive params snapshots.
func (h *Handler) HandleShow(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, roleConsumer, pubsub.TopicDisplay)
}

// HandleSession serves audience connections that receive count updates.
func (h *Handler) HandleSession(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, roleConsumer, pubsub.TopicCount)
}

func (h *Handler) serve(w http.ResponseWriter, r *http.Request, rl role, topic pubsub.Topic) {
	// Upgrade to WebSocket
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	proto := protocolJSON
	if conn.Subprotocol() == SubprotocolProtobuf {
		proto = protocolBinary
	}

	sub, err := h.broker.Subscribe(topic)
	if err != nil {
		h.logger.Warn("subscribe failed", zap.String("topic", string(topic)), zap.Error(err))
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "unavailable"))
		conn.Close()
		return
	}

	client := &Client{
		handler:  h,
		conn:     conn,
		connID:   registry.ConnectionID(uuid.New().String()),
		role:     rl,
		protocol: proto,
		sub:      sub,
		done:     make(chan struct{}),
		logger:   h.logger,
	}

	h.logger.Debug("websocket connected",
		zap.String("connID", string(client.connID)),
		zap.String("role", string(rl)),
		zap.String("topic", string(topic)),
		zap.String("protocol", proto),
	)

	// The session outlives this request, so detach from its cancellation.
	ctx := context.WithoutCancel(r.Context())

	if rl == roleProducer {
		h.manager.Connect(ctx, client.connID)
	}

	// Start read/write pumps
	go client.writePump()
	go client.readPump(ctx)
}
