package broadcast

import (
	"context"
	"sync"

	"PerpKeeper/internal/observability"
)

// LocalBroadcaster is the in-process approximation used when no broker is
// configured: subscribers within this process see the same messages they
// would have received over NATS, and nothing leaves the process.
type LocalBroadcaster struct {
	mu      sync.Mutex
	subs    map[Kind][]chan Message
	closed  bool
	metrics *observability.Metrics
}

// NewLocal creates a broker-less broadcaster. metrics may be nil.
func NewLocal(metrics *observability.Metrics) *LocalBroadcaster {
	return &LocalBroadcaster{
		subs:    make(map[Kind][]chan Message),
		metrics: metrics,
	}
}

// Publish delivers msg to every current subscriber of its kind. Slow
// subscribers are skipped, mirroring the NATS implementation's drop
// behavior. Sends happen under the registry lock so a concurrently
// cancelled subscription can never close a channel mid-send; the sends
// are non-blocking, so the lock is held only briefly.
func (b *LocalBroadcaster) Publish(_ context.Context, msg Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}

	for _, ch := range b.subs[msg.Kind] {
		select {
		case ch <- msg:
		default:
		}
	}
	if b.metrics != nil {
		b.metrics.BroadcastPublished.WithLabelValues(string(msg.Kind)).Inc()
	}
	return nil
}

// Subscribe registers a channel for one kind until ctx is cancelled.
func (b *LocalBroadcaster) Subscribe(ctx context.Context, kind Kind) (<-chan Message, error) {
	ch := make(chan Message, 64)

	b.mu.Lock()
	b.subs[kind] = append(b.subs[kind], ch)
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		defer b.mu.Unlock()
		list := b.subs[kind]
		for i, c := range list {
			if c == ch {
				b.subs[kind] = append(list[:i], list[i+1:]...)
				break
			}
		}
		// Closed under the same lock Publish sends under, so no publisher
		// can be mid-send on this channel.
		close(ch)
	}()

	return ch, nil
}

// Close stops delivery to all subscribers.
func (b *LocalBroadcaster) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	return nil
}
