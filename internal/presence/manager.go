package presence

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/dgnsrekt/crowdpointer/internal/metrics"
	"github.com/dgnsrekt/crowdpointer/internal/protocol"
	"github.com/dgnsrekt/crowdpointer/internal/pubsub"
	"github.com/dgnsrekt/crowdpointer/internal/registry"
)

// Manager binds producer connections to registry entries and announces
// count changes on the count topic.
type Manager struct {
	// mu orders join/leave so count events go out in the order they happened
	mu        sync.Mutex
	registry  *registry.Registry
	publisher pubsub.Publisher
	logger    *zap.Logger
}

// NewManager creates a new Manager.
func NewManager(reg *registry.Registry, publisher pubsub.Publisher, logger *zap.Logger) *Manager {
	return &Manager{
		registry:  reg,
		publisher: publisher,
		logger:    logger,
	}
}

// Connect registers id at (0,0) and publishes the new count.
func (m *Manager) Connect(ctx context.Context, id registry.ConnectionID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.registry.Upsert(id, 0, 0)
	count := m.registry.Count()
	metrics.ConnectedProducers.Set(float64(count))

	m.logger.Debug("producer connected",
		zap.String("connID", string(id)),
		zap.Int("count", count),
	)
	m.publishCount(ctx, count)
}

// Disconnect removes id and publishes the new count.
// Disconnecting an unknown id does nothing.
func (m *Manager) Disconnect(ctx context.Context, id registry.ConnectionID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.registry.Remove(id) {
		return
	}
	count := m.registry.Count()
	metrics.ConnectedProducers.Set(float64(count))

	m.logger.Debug("producer disconnected",
		zap.String("connID", string(id)),
		zap.Int("count", count),
	)
	m.publishCount(ctx, count)
}

// UpdatePosition stores a reported position for a connected id.
// Updates for ids that are not registered are ignored, so a frame racing a
// disconnect cannot bring the entry back.
func (m *Manager) UpdatePosition(id registry.ConnectionID, x, y float64) bool {
	if !m.registry.Update(id, x, y) {
		m.logger.Debug("position update for unknown connection", zap.String("connID", string(id)))
		return false
	}
	metrics.PositionUpdatesTotal.Inc()
	return true
}

// Reset moves every connected producer back to the origin and republishes
// the count so audiences resync. Connections stay registered.
func (m *Manager) Reset(ctx context.Context) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	reset := m.registry.Reset()
	count := m.registry.Count()
	metrics.ConnectedProducers.Set(float64(count))

	m.logger.Info("registry reset", zap.Int("reset", reset))
	m.publishCount(ctx, count)
	return reset
}

// Count returns the number of connected producers.
func (m *Manager) Count() int {
	return m.registry.Count()
}

func (m *Manager) publishCount(ctx context.Context, count int) {
	if err := m.publisher.Publish(ctx, pubsub.TopicCount, protocol.CountUpdateMessage{Count: count}); err != nil {
		m.logger.Warn("failed to publish count update",
			zap.Int("count", count),
			zap.Error(err),
		)
	}
}
