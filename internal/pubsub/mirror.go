package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/dgnsrekt/crowdpointer/internal/metrics"
	"github.com/dgnsrekt/crowdpointer/internal/protocol"
)

const (
	mirrorTimeout = 500 * time.Millisecond

	// DefaultMirrorQueueSize bounds how many messages may wait for Redis.
	DefaultMirrorQueueSize = 256
)

// redisPublisher is the subset of *redis.Client the mirror needs.
type redisPublisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

type mirrorItem struct {
	topic   Topic
	channel string
	data    []byte
}

// Mirror republishes outbound messages as JSON on Redis channels named
// "<prefix>:<topic>" after delivering them locally.
// Redis writes happen on a background goroutine fed by a bounded queue, so
// Publish never waits on the network. A full queue or a failed write is
// logged and counted, never returned.
type Mirror struct {
	next   Publisher
	rdb    redisPublisher
	prefix string
	logger *zap.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan mirrorItem
	done   chan struct{}
}

// NewMirror wraps next with a Redis mirror and starts its writer.
// Call Close to flush and stop it.
func NewMirror(next Publisher, rdb redisPublisher, prefix string, logger *zap.Logger) *Mirror {
	return newMirror(next, rdb, prefix, DefaultMirrorQueueSize, logger)
}

func newMirror(next Publisher, rdb redisPublisher, prefix string, queueSize int, logger *zap.Logger) *Mirror {
	m := &Mirror{
		next:   next,
		rdb:    rdb,
		prefix: prefix,
		logger: logger,
		queue:  make(chan mirrorItem, queueSize),
		done:   make(chan struct{}),
	}
	go m.run()
	return m
}

// NewRedisClient connects to the Redis server at url and pings it.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return client, nil
}

// Channel returns the Redis channel used for topic.
func (m *Mirror) Channel(topic Topic) string {
	return m.prefix + ":" + string(topic)
}

// Publish delivers msg locally, then queues it for Redis.
func (m *Mirror) Publish(ctx context.Context, topic Topic, msg protocol.Message) error {
	if err := m.next.Publish(ctx, topic, msg); err != nil {
		return err
	}

	data, err := json.Marshal(msg)
	if err != nil {
		metrics.MirrorErrorsTotal.WithLabelValues(string(topic)).Inc()
		m.logger.Warn("failed to encode mirrored message", zap.String("topic", string(topic)), zap.Error(err))
		return nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil
	}

	select {
	case m.queue <- mirrorItem{topic: topic, channel: m.Channel(topic), data: data}:
	default:
		metrics.MirrorErrorsTotal.WithLabelValues(string(topic)).Inc()
		m.logger.Warn("redis mirror queue full, dropping message",
			zap.String("topic", string(topic)),
		)
	}
	return nil
}

// Close stops accepting messages and waits until queued ones are written.
// Safe to call more than once.
func (m *Mirror) Close() {
	m.mu.Lock()
	if !m.closed {
		m.closed = true
		close(m.queue)
	}
	m.mu.Unlock()

	<-m.done
}

func (m *Mirror) run() {
	defer close(m.done)

	for item := range m.queue {
		ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
		err := m.rdb.Publish(ctx, item.channel, item.data).Err()
		cancel()

		if err != nil {
			metrics.MirrorErrorsTotal.WithLabelValues(string(item.topic)).Inc()
			m.logger.Warn("redis mirror publish failed",
				zap.String("channel", item.channel),
				zap.Error(err),
			)
		}
	}
}
