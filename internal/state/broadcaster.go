// ABOUTME: In-memory fan-out of client state changes
// ABOUTME: Publishes Change events to subscribers of a field or of every field

package state

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

const (
	// subscriberBufferSize is the channel buffer for each subscriber.
	subscriberBufferSize = 64
)

// Change announces that a field of the client state was replaced.
type Change struct {
	Field   Field
	Version uint64
}

// Broadcaster provides in-memory pub/sub for state changes. Subscribers
// register for one field, or FieldAll, and receive changes as they happen.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[Field]map[string]chan Change // field -> subID -> ch
	logger      *slog.Logger
}

// NewBroadcaster creates a broadcaster. Pass nil logger for default.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subscribers: make(map[Field]map[string]chan Change),
		logger:      logger.With("component", "broadcaster"),
	}
}

// Subscribe registers a subscriber for changes to field. The subscription is
// removed and its channel closed when ctx is cancelled.
func (b *Broadcaster) Subscribe(ctx context.Context, field Field) (<-chan Change, string) {
	subID := uuid.New().String()
	ch := make(chan Change, subscriberBufferSize)

	b.mu.Lock()
	if _, ok := b.subscribers[field]; !ok {
		b.subscribers[field] = make(map[string]chan Change)
	}
	b.subscribers[field][subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "field", field, "sub_id", subID)

	go func() {
		<-ctx.Done()
		b.Unsubscribe(field, subID)
	}()

	return ch, subID
}

// Publish sends a change to subscribers of its field and of FieldAll.
// Non-blocking: changes are dropped for subscribers whose channels are full.
// The read lock is held across the sends so Unsubscribe cannot close a
// channel mid-publish.
func (b *Broadcaster) Publish(change Change) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, key := range []Field{change.Field, FieldAll} {
		for _, ch := range b.subscribers[key] {
			select {
			case ch <- change:
			default:
				b.logger.Debug("dropped change for slow subscriber",
					"field", change.Field,
					"version", change.Version)
			}
		}
	}
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster) Unsubscribe(field Field, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[field]
	if !ok {
		return
	}
	ch, exists := subs[subID]
	if !exists {
		return
	}

	delete(subs, subID)
	close(ch)
	if len(subs) == 0 {
		delete(b.subscribers, field)
	}

	b.logger.Debug("subscriber removed", "field", field, "sub_id", subID)
}

// Close shuts down the broadcaster and closes all subscriber channels.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for field, subs := range b.subscribers {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
		}
		delete(b.subscribers, field)
	}

	b.logger.Debug("broadcaster closed")
}
