package approval

import (
	"sync"

	"github.com/revittco/agentrun/internal/domain"
)

// Event is published whenever a PendingApproval is opened or resolved, for
// external observers such as a dashboard SSE stream. It is independent of
// the internal EventSink the Registry uses to notify a turn's own session.
type Event struct {
	Type    string                  `json:"type"` // "pending" or "resolved"
	Request domain.ApprovalRequest  `json:"request"`
	Decision *domain.Decision       `json:"decision,omitempty"`
	ActorID string                  `json:"actor_id,omitempty"`
}

// Bus fans out approval events to subscribers without blocking publishers.
// Slow consumers miss events rather than stall the registry.
type Bus struct {
	mu   sync.RWMutex
	subs map[<-chan Event]chan Event
}

// NewBus creates an empty Bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[<-chan Event]chan Event)}
}

// Subscribe registers a new listener. The caller must Unsubscribe when done.
func (b *Bus) Subscribe() <-chan Event {
	ch := make(chan Event, 64)
	b.mu.Lock()
	b.subs[ch] = ch
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a listener and closes its channel.
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	if send, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(send)
	}
	b.mu.Unlock()
}

// Publish sends an event to all subscribers without blocking.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- evt:
		default:
		}
	}
}
