// ABOUTME: Loading barrier that tracks outstanding bootstrap topics
// ABOUTME: Flips the application ready flag once every begun topic is resolved

package barrier

import (
	"log/slog"
	"slices"
	"sync"
)

// Topic labels one bootstrap request awaiting its answer.
type Topic string

// Bootstrap topics.
const (
	TopicTheme         Topic = "THEME"
	TopicSchemas       Topic = "SCHEMAS"
	TopicContacts      Topic = "CONTACTS"
	TopicCredentials   Topic = "CREDENTIALS"
	TopicPresentations Topic = "PRESENTATIONS"
	TopicRoles         Topic = "ROLES"
	TopicOrganization  Topic = "ORGANIZATION"
	TopicSMTP          Topic = "SMTP"
	TopicLogo          Topic = "LOGO"
	TopicUsers         Topic = "USERS"
)

// Barrier is the owned loading set. The application is ready exactly when
// the set is empty after a bootstrap burst, or after ClearAll.
type Barrier struct {
	mu       sync.Mutex
	pending  map[Topic]bool
	sealed   bool
	ready    bool
	onChange func(ready bool)
	logger   *slog.Logger
}

// New creates a barrier in the not-ready state. onChange, if set, is called
// outside the lock on every ready transition.
func New(onChange func(ready bool), logger *slog.Logger) *Barrier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Barrier{
		pending:  make(map[Topic]bool),
		onChange: onChange,
		logger:   logger.With("component", "barrier"),
	}
}

// Reset starts a new bootstrap burst: pending topics are discarded and the
// barrier is not ready until the burst is sealed and drained.
func (b *Barrier) Reset() {
	b.mu.Lock()
	clear(b.pending)
	b.sealed = false
	changed := b.setReadyLocked(false)
	b.mu.Unlock()

	b.notify(changed, false)
}

// Begin records an outstanding topic.
func (b *Barrier) Begin(topic Topic) {
	b.mu.Lock()
	b.pending[topic] = true
	changed := b.setReadyLocked(false)
	b.mu.Unlock()

	b.logger.Debug("topic begun", "topic", topic)
	b.notify(changed, false)
}

// Seal marks the end of a bootstrap burst. If nothing is pending the
// barrier becomes ready immediately.
func (b *Barrier) Seal() {
	b.mu.Lock()
	b.sealed = true
	changed := false
	if len(b.pending) == 0 {
		changed = b.setReadyLocked(true)
	}
	b.mu.Unlock()

	b.notify(changed, true)
}

// Resolve removes a topic. It reports whether the topic was pending.
// Resolving an unknown topic has no effect.
func (b *Barrier) Resolve(topic Topic) bool {
	b.mu.Lock()
	if !b.pending[topic] {
		b.mu.Unlock()
		return false
	}
	delete(b.pending, topic)
	changed := false
	if len(b.pending) == 0 && b.sealed {
		changed = b.setReadyLocked(true)
	}
	b.mu.Unlock()

	b.logger.Debug("topic resolved", "topic", topic)
	b.notify(changed, true)
	return true
}

// ClearAll discards every outstanding topic and forces ready. Used when the
// channel is known to be broken and the awaited answers will never arrive.
func (b *Barrier) ClearAll() {
	b.mu.Lock()
	dropped := len(b.pending)
	clear(b.pending)
	b.sealed = true
	changed := b.setReadyLocked(true)
	b.mu.Unlock()

	if dropped > 0 {
		b.logger.Info("loading barrier cleared", "dropped_topics", dropped)
	}
	b.notify(changed, true)
}

// Ready reports whether the application may leave the loading state.
func (b *Barrier) Ready() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ready
}

// Pending returns the outstanding topics in sorted order.
func (b *Barrier) Pending() []Topic {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Topic, 0, len(b.pending))
	for t := range b.pending {
		out = append(out, t)
	}
	slices.Sort(out)
	return out
}

func (b *Barrier) setReadyLocked(ready bool) bool {
	if b.ready == ready {
		return false
	}
	b.ready = ready
	return true
}

func (b *Barrier) notify(changed, ready bool) {
	if changed && b.onChange != nil {
		b.onChange(ready)
	}
}
