// Package events is the engine's fan-out layer: synchronous in-process
// subscribers (the WebSocket hub among them), a bounded replay history,
// and a fire-and-forget cross-process publisher.
package events

import (
	"sync"

	"github.com/mrdushidush/agent-battle-command-center-sub002/internal/domain"
	"github.com/mrdushidush/agent-battle-command-center-sub002/internal/logging"
)

// Subscriber receives every event synchronously in the emitting
// goroutine. Handlers must not block.
type Subscriber interface {
	HandleEvent(event domain.Event)
}

// SubscriberFunc adapts a function to Subscriber.
type SubscriberFunc func(event domain.Event)

func (f SubscriberFunc) HandleEvent(event domain.Event) { f(event) }

// Publisher pushes events to the cross-process bus. Implementations are
// best-effort and never return errors to the emitter.
type Publisher interface {
	Publish(event domain.Event)
}

const defaultHistorySize = 256

// Bridge delivers events to in-process subscribers in emission order and
// mirrors them to the external publisher. Per-task ordering follows from
// Emit serializing delivery under one mutex.
type Bridge struct {
	mu          sync.Mutex
	subscribers []Subscriber
	publisher   Publisher
	history     []domain.Event
	historyPos  int
	historyFull bool
	emitted     uint64
	logger      logging.Logger
}

// NewBridge creates a bridge. publisher may be nil.
func NewBridge(publisher Publisher, logger logging.Logger) *Bridge {
	return &Bridge{
		publisher: publisher,
		history:   make([]domain.Event, defaultHistorySize),
		logger:    logging.OrNop(logger),
	}
}

// Subscribe registers a synchronous subscriber.
func (b *Bridge) Subscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers = append(b.subscribers, sub)
}

// Emit delivers the event to every subscriber, records it in the replay
// ring, and hands it to the external publisher.
func (b *Bridge) Emit(event domain.Event) {
	b.mu.Lock()
	b.emitted++
	b.history[b.historyPos] = event
	b.historyPos = (b.historyPos + 1) % len(b.history)
	if b.historyPos == 0 {
		b.historyFull = true
	}
	subs := make([]Subscriber, len(b.subscribers))
	copy(subs, b.subscribers)
	publisher := b.publisher
	b.mu.Unlock()

	for _, sub := range subs {
		sub.HandleEvent(event)
	}
	if publisher != nil {
		publisher.Publish(event)
	}
}

// History returns the retained events, oldest first. New WebSocket
// clients replay this before receiving live traffic.
func (b *Bridge) History() []domain.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.historyFull {
		out := make([]domain.Event, b.historyPos)
		copy(out, b.history[:b.historyPos])
		return out
	}
	out := make([]domain.Event, 0, len(b.history))
	out = append(out, b.history[b.historyPos:]...)
	out = append(out, b.history[:b.historyPos]...)
	return out
}

// Emitted returns the lifetime event count.
func (b *Bridge) Emitted() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.emitted
}
