package pubsub

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/dgnsrekt/crowdpointer/internal/metrics"
	"github.com/dgnsrekt/crowdpointer/internal/protocol"
)

// Topic names a logical broadcast channel.
type Topic string

const (
	// TopicInteraction is input-only: producers subscribe, nothing is sent back.
	TopicInteraction Topic = "interaction"
	// TopicDisplay carries sampled params snapshots.
	TopicDisplay Topic = "display"
	// TopicCount carries count_update events.
	TopicCount Topic = "count"
)

// DefaultBufferSize is the per-subscriber queue length.
const DefaultBufferSize = 64

var (
	ErrUnknownTopic   = errors.New("unknown topic")
	ErrInputOnlyTopic = errors.New("topic is input only")
	ErrClosed         = errors.New("broker closed")
)

// Topics lists every topic the broker serves.
func Topics() []Topic {
	return []Topic{TopicInteraction, TopicDisplay, TopicCount}
}

// Publisher is the minimal publish side of the broker.
type Publisher interface {
	Publish(ctx context.Context, topic Topic, msg protocol.Message) error
}

// Broker fans messages out to per-topic subscriber sets.
// Delivery is best-effort: a subscriber whose buffer is full misses that
// message, other subscribers are unaffected.
type Broker struct {
	mu         sync.RWMutex
	topics     map[Topic]map[*Subscription]struct{}
	bufferSize int
	closed     bool
	logger     *zap.Logger
}

// Subscription is one consumer's view of a topic.
type Subscription struct {
	broker *Broker
	topic  Topic
	ch     chan *protocol.Frame
}

// NewBroker creates a Broker serving the three known topics.
func NewBroker(bufferSize int, logger *zap.Logger) *Broker {
	if bufferSize < 1 {
		bufferSize = DefaultBufferSize
	}

	topics := make(map[Topic]map[*Subscription]struct{})
	for _, t := range Topics() {
		topics[t] = make(map[*Subscription]struct{})
	}

	return &Broker{
		topics:     topics,
		bufferSize: bufferSize,
		logger:     logger,
	}
}

// Subscribe registers a new subscriber on topic.
func (b *Broker) Subscribe(topic Topic) (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}
	subs, ok := b.topics[topic]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
	}

	sub := &Subscription{
		broker: b,
		topic:  topic,
		ch:     make(chan *protocol.Frame, b.bufferSize),
	}
	subs[sub] = struct{}{}
	metrics.TopicSubscribers.WithLabelValues(string(topic)).Set(float64(len(subs)))

	b.logger.Debug("subscriber added",
		zap.String("topic", string(topic)),
		zap.Int("subscribers", len(subs)),
	)
	return sub, nil
}

// Publish delivers msg to every current subscriber of topic.
func (b *Broker) Publish(ctx context.Context, topic Topic, msg protocol.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if topic == TopicInteraction {
		return ErrInputOnlyTopic
	}

	frame := protocol.NewFrame(msg)

	// Sends never block, so holding the read lock here only keeps
	// Close from closing a channel mid-send.
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return ErrClosed
	}
	subs, ok := b.topics[topic]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
	}

	metrics.MessagesPublishedTotal.WithLabelValues(string(topic)).Inc()

	for sub := range subs {
		select {
		case sub.ch <- frame:
		default:
			metrics.MessagesDroppedTotal.WithLabelValues(string(topic)).Inc()
			b.logger.Debug("subscriber buffer full, dropping message",
				zap.String("topic", string(topic)),
				zap.String("type", msg.Type()),
			)
		}
	}
	return nil
}

// SubscriberCount returns the number of subscribers on topic.
func (b *Broker) SubscriberCount(topic Topic) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[topic])
}

// Close closes every subscription. Later calls to Publish and Subscribe
// return ErrClosed.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for topic, subs := range b.topics {
		for sub := range subs {
			close(sub.ch)
		}
		b.topics[topic] = make(map[*Subscription]struct{})
		metrics.TopicSubscribers.WithLabelValues(string(topic)).Set(0)
	}
	b.logger.Info("broker closed")
}

func (b *Broker) remove(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.topics[sub.topic]
	if _, ok := subs[sub]; !ok {
		return
	}
	delete(subs, sub)
	close(sub.ch)
	metrics.TopicSubscribers.WithLabelValues(string(sub.topic)).Set(float64(len(subs)))

	b.logger.Debug("subscriber removed",
		zap.String("topic", string(sub.topic)),
		zap.Int("subscribers", len(subs)),
	)
}

// C returns the receive channel. It is closed on unsubscribe or broker close.
func (s *Subscription) C() <-chan *protocol.Frame {
	return s.ch
}

// Topic returns the topic this subscription listens on.
func (s *Subscription) Topic() Topic {
	return s.topic
}

// Close unsubscribes. Safe to call more than once.
func (s *Subscription) Close() {
	s.broker.remove(s)
}
