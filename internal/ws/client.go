package ws

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/dgnsrekt/crowdpointer/internal/metrics"
	"github.com/dgnsrekt/crowdpointer/internal/protocol"
	"github.com/dgnsrekt/crowdpointer/internal/pubsub"
	"github.com/dgnsrekt/crowdpointer/internal/registry"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 4 * 1024
)

// role is what a connection does on its socket.
type role string

const (
	roleProducer role = "producer"
	roleConsumer role = "consumer"
)

// Client represents a WebSocket client connection.
type Client struct {
	handler  *Handler
	conn     *websocket.Conn
	connID   registry.ConnectionID
	role     role
	protocol string // "json" or "protobuf"
	sub      *pubsub.Subscription
	done     chan struct{}
	logger   *zap.Logger
}

// readPump reads messages from the WebSocket connection. Producers decode
// position updates; consumers only read to observe control frames and close.
// Any read error ends the session.
func (c *Client) readPump(ctx context.Context) {
	defer func() {
		if c.role == roleProducer {
			c.handler.manager.Disconnect(ctx, c.connID)
		}
		c.sub.Close()
		close(c.done)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("websocket read error",
					zap.String("connID", string(c.connID)),
					zap.Error(err),
				)
			}
			return
		}
		if c.role == roleProducer {
			c.handleMessage(message)
		}
	}
}

// writePump forwards topic messages to the WebSocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.sub.C():
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Subscription closed, send close message
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
				return
			}
			msgType, data, err := c.encode(frame)
			if err != nil {
				c.logger.Warn("failed to encode frame",
					zap.String("connID", string(c.connID)),
					zap.String("protocol", c.protocol),
					zap.Error(err),
				)
				continue
			}
			if err := c.conn.WriteMessage(msgType, data); err != nil {
				c.logger.Debug("websocket write error",
					zap.String("connID", string(c.connID)),
					zap.Error(err),
				)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			return
		}
	}
}

// handleMessage processes an incoming producer frame.
func (c *Client) handleMessage(data []byte) {
	update, err := protocol.ParseUpdatePosition(data)
	if err != nil {
		metrics.InvalidFramesTotal.Inc()
		c.logger.Debug("failed to parse producer frame",
			zap.String("connID", string(c.connID)),
			zap.Error(err),
		)
		return
	}
	c.handler.manager.UpdatePosition(c.connID, update.X, update.Y)
}

// encode builds the frame in the client's negotiated format.
func (c *Client) encode(frame *protocol.Frame) (int, []byte, error) {
	if c.protocol == protocolBinary {
		data, err := frame.Binary(c.handler.codec)
		return websocket.BinaryMessage, data, err
	}
	data, err := frame.JSON()
	return websocket.TextMessage, data, err
}
