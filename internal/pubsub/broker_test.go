package pubsub

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dgnsrekt/crowdpointer/internal/protocol"
)

func receive(t *testing.T, sub *Subscription) protocol.Message {
	t.Helper()
	select {
	case frame, ok := <-sub.C():
		require.True(t, ok, "subscription closed")
		return frame.Message()
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func assertNothing(t *testing.T, sub *Subscription) {
	t.Helper()
	select {
	case frame := <-sub.C():
		t.Fatalf("unexpected message: %#v", frame)
	default:
	}
}

func TestBrokerFanOut(t *testing.T) {
	b := NewBroker(8, zap.NewNop())
	ctx := context.Background()

	s1, err := b.Subscribe(TopicCount)
	require.NoError(t, err)
	s2, err := b.Subscribe(TopicCount)
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, TopicCount, protocol.CountUpdateMessage{Count: 1}))
	require.NoError(t, b.Publish(ctx, TopicCount, protocol.CountUpdateMessage{Count: 2}))

	for _, s := range []*Subscription{s1, s2} {
		assert.Equal(t, protocol.CountUpdateMessage{Count: 1}, receive(t, s))
		assert.Equal(t, protocol.CountUpdateMessage{Count: 2}, receive(t, s))
	}
}

func TestBrokerTopicsAreIsolated(t *testing.T) {
	b := NewBroker(8, zap.NewNop())
	ctx := context.Background()

	display, err := b.Subscribe(TopicDisplay)
	require.NoError(t, err)
	count, err := b.Subscribe(TopicCount)
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, TopicDisplay, protocol.ParamsMessage{}))

	assert.Equal(t, protocol.ParamsMessage{}, receive(t, display))
	assertNothing(t, count)
}

func TestBrokerNoReplayForLateSubscribers(t *testing.T) {
	b := NewBroker(8, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, b.Publish(ctx, TopicCount, protocol.CountUpdateMessage{Count: 1}))

	late, err := b.Subscribe(TopicCount)
	require.NoError(t, err)
	assertNothing(t, late)
}

func TestBrokerInteractionIsInputOnly(t *testing.T) {
	b := NewBroker(8, zap.NewNop())

	sub, err := b.Subscribe(TopicInteraction)
	require.NoError(t, err)
	assert.Equal(t, 1, b.SubscriberCount(TopicInteraction))

	err = b.Publish(context.Background(), TopicInteraction, protocol.CountUpdateMessage{})
	assert.ErrorIs(t, err, ErrInputOnlyTopic)
	assertNothing(t, sub)
}

func TestBrokerUnknownTopic(t *testing.T) {
	b := NewBroker(8, zap.NewNop())

	_, err := b.Subscribe("lobby")
	assert.ErrorIs(t, err, ErrUnknownTopic)

	err = b.Publish(context.Background(), "lobby", protocol.CountUpdateMessage{})
	assert.ErrorIs(t, err, ErrUnknownTopic)
}

func TestBrokerSlowSubscriberDoesNotAffectOthers(t *testing.T) {
	b := NewBroker(1, zap.NewNop())
	ctx := context.Background()

	slow, err := b.Subscribe(TopicCount)
	require.NoError(t, err)
	fast, err := b.Subscribe(TopicCount)
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, TopicCount, protocol.CountUpdateMessage{Count: 1}))
	assert.Equal(t, protocol.CountUpdateMessage{Count: 1}, receive(t, fast))

	// slow still holds message 1, so message 2 is dropped for it only
	require.NoError(t, b.Publish(ctx, TopicCount, protocol.CountUpdateMessage{Count: 2}))
	assert.Equal(t, protocol.CountUpdateMessage{Count: 2}, receive(t, fast))

	assert.Equal(t, protocol.CountUpdateMessage{Count: 1}, receive(t, slow))
	assertNothing(t, slow)
}

func TestSubscriptionClose(t *testing.T) {
	b := NewBroker(8, zap.NewNop())
	ctx := context.Background()

	leaving, err := b.Subscribe(TopicDisplay)
	require.NoError(t, err)
	staying, err := b.Subscribe(TopicDisplay)
	require.NoError(t, err)

	leaving.Close()
	leaving.Close()
	assert.Equal(t, 1, b.SubscriberCount(TopicDisplay))

	_, ok := <-leaving.C()
	assert.False(t, ok)

	require.NoError(t, b.Publish(ctx, TopicDisplay, protocol.ParamsMessage{}))
	assert.Equal(t, protocol.ParamsMessage{}, receive(t, staying))
}

func TestBrokerClose(t *testing.T) {
	b := NewBroker(8, zap.NewNop())

	sub, err := b.Subscribe(TopicCount)
	require.NoError(t, err)

	b.Close()
	b.Close()

	_, ok := <-sub.C()
	assert.False(t, ok)
	sub.Close()

	assert.ErrorIs(t, b.Publish(context.Background(), TopicCount, protocol.CountUpdateMessage{}), ErrClosed)
	_, err = b.Subscribe(TopicCount)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestBrokerPublishCancelledContext(t *testing.T) {
	b := NewBroker(8, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, b.Publish(ctx, TopicCount, protocol.CountUpdateMessage{}), context.Canceled)
}
