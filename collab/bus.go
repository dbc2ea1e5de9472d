package collab

import (
	"sync"
)

// DefaultBusCapacity is the per-subscriber frame backlog.
const DefaultBusCapacity = 256

// FrameKind distinguishes binary protocol frames from JSON text frames so
// the egress pump can preserve the websocket message type.
type FrameKind int

const (
	// BinaryFrame carries sync protocol or awareness bytes.
	BinaryFrame FrameKind = iota
	// TextFrame carries a UTF-8 JSON payload.
	TextFrame
)

// Frame is one opaque message traversing a room's broadcast bus.
type Frame struct {
	Kind FrameKind
	Data []byte
}

// Bus is a bounded multi-producer multi-consumer broadcast channel.
// Publishers never block: when a subscriber's backlog is full, its oldest
// frames are discarded to make room. Subscribers receive only frames
// published after they subscribed, in publish order.
type Bus struct {
	mu       sync.Mutex
	capacity int
	subs     map[*Subscription]struct{}
}

// NewBus creates a bus with the given per-subscriber capacity.
func NewBus(capacity int) *Bus {
	if capacity <= 0 {
		capacity = DefaultBusCapacity
	}
	return &Bus{
		capacity: capacity,
		subs:     make(map[*Subscription]struct{}),
	}
}

// Subscription is one receiver on a Bus.
type Subscription struct {
	bus  *Bus
	ch   chan Frame
	done chan struct{}
	once sync.Once
}

// Subscribe registers a new receiver.
func (b *Bus) Subscribe() *Subscription {
	sub := &Subscription{
		bus:  b,
		ch:   make(chan Frame, b.capacity),
		done: make(chan struct{}),
	}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

// Publish delivers the frame to every current subscriber without blocking.
func (b *Bus) Publish(f Frame) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs {
		for {
			select {
			case sub.ch <- f:
			default:
				// Backlog full: shed the subscriber's oldest frame and
				// retry. The slow reader observes a gap; the publisher
				// never stalls.
				select {
				case <-sub.ch:
					busDroppedFrames.Inc()
				default:
				}
				continue
			}
			break
		}
	}
}

// SubscriberCount returns the number of active subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// C is the receive channel. It is never closed; receivers must also select
// on Done.
func (s *Subscription) C() <-chan Frame {
	return s.ch
}

// Done is closed when the subscription is cancelled.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Unsubscribe removes the receiver from the bus. Safe to call more than
// once and concurrently with Publish.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subs, s)
		s.bus.mu.Unlock()
		close(s.done)
	})
}
