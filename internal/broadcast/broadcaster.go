package broadcast

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/dgnsrekt/crowdpointer/internal/metrics"
	"github.com/dgnsrekt/crowdpointer/internal/protocol"
	"github.com/dgnsrekt/crowdpointer/internal/pubsub"
	"github.com/dgnsrekt/crowdpointer/internal/registry"
)

// DefaultInterval is the sampling cadence of the display feed.
const DefaultInterval = 200 * time.Millisecond

// Broadcaster samples the registry on a fixed interval and publishes the
// snapshot on the display topic.
type Broadcaster struct {
	registry  *registry.Registry
	publisher pubsub.Publisher
	clock     clockwork.Clock
	interval  time.Duration
	logger    *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	seqMu    sync.Mutex
	sequence uint64
}

// NewBroadcaster creates a new Broadcaster. It does not start the loop.
func NewBroadcaster(reg *registry.Registry, publisher pubsub.Publisher, clock clockwork.Clock, interval time.Duration, logger *zap.Logger) *Broadcaster {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Broadcaster{
		registry:  reg,
		publisher: publisher,
		clock:     clock,
		interval:  interval,
		logger:    logger,
	}
}

// Start launches the loop. Calling Start while running is a no-op.
// The loop stops when ctx is cancelled or Stop is called.
func (b *Broadcaster) Start(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if isRunning(b.done) {
		b.logger.Debug("broadcaster already running")
		return
	}

	if b.cancel != nil {
		b.cancel()
	}
	loopCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.done = make(chan struct{})

	go b.run(loopCtx, b.done)
}

// Stop cancels the loop and waits for it to exit. Stopping an idle
// broadcaster is a no-op.
func (b *Broadcaster) Stop() {
	b.mu.Lock()
	cancel, done := b.cancel, b.done
	b.cancel, b.done = nil, nil
	b.mu.Unlock()

	if done == nil {
		return
	}
	cancel()
	<-done
}

// Running reports whether the loop is active.
func (b *Broadcaster) Running() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return isRunning(b.done)
}

// isRunning reports whether a loop with this done channel is still alive.
// The loop also exits on its own when the Start context is cancelled.
func isRunning(done chan struct{}) bool {
	if done == nil {
		return false
	}
	select {
	case <-done:
		return false
	default:
		return true
	}
}

// Sequence returns the number of ticks executed so far.
func (b *Broadcaster) Sequence() uint64 {
	b.seqMu.Lock()
	defer b.seqMu.Unlock()
	return b.sequence
}

func (b *Broadcaster) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := b.clock.NewTicker(b.interval)
	defer ticker.Stop()

	b.logger.Info("broadcaster started", zap.Duration("interval", b.interval))

	for {
		select {
		case <-ctx.Done():
			b.logger.Info("broadcaster stopping", zap.Uint64("ticks", b.Sequence()))
			return
		case <-ticker.Chan():
			if err := b.tick(ctx); err != nil {
				metrics.BroadcastFailuresTotal.Inc()
				b.logger.Error("broadcast tick failed", zap.Error(err))
			}
		}
	}
}

// tick publishes one snapshot. A panic inside publish is turned into an
// error so the loop survives it.
func (b *Broadcaster) tick(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("broadcast panic: %v", r)
		}
	}()

	b.seqMu.Lock()
	b.sequence++
	seq := b.sequence
	b.seqMu.Unlock()

	// Snapshot returns a copy; the registry lock is already released here.
	positions := b.registry.Snapshot()
	metrics.BroadcastTicksTotal.Inc()
	metrics.BroadcastSnapshotSize.Set(float64(len(positions)))

	if err := b.publisher.Publish(ctx, pubsub.TopicDisplay, protocol.ParamsMessage{Params: positions}); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("publish tick %d: %w", seq, err)
	}

	b.logger.Debug("broadcast params",
		zap.Uint64("sequence", seq),
		zap.Int("positions", len(positions)),
	)
	return nil
}
