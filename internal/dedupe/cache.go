// ABOUTME: Time window that suppresses repeats of the same key
// ABOUTME: The console uses it so a reconnect storm raises one notification, not dozens

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

type entry struct {
	at   time.Time
	elem *list.Element
}

// Window remembers keys for ttl. It holds at most maxSize keys; the oldest
// is forgotten first.
type Window struct {
	mu      sync.Mutex
	seen    map[string]*entry
	order   *list.List // oldest at front
	ttl     time.Duration
	maxSize int
	now     func() time.Time
}

// NewWindow creates a window. A nil now uses time.Now.
func NewWindow(ttl time.Duration, maxSize int, now func() time.Time) *Window {
	if maxSize <= 0 {
		maxSize = 1
	}
	if now == nil {
		now = time.Now
	}
	return &Window{
		seen:    make(map[string]*entry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     now,
	}
}

// Seen reports whether key was recorded within the window and records it
// when it was not. A repeat inside the window does not extend it.
func (w *Window) Seen(key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	w.pruneLocked(now)

	if _, ok := w.seen[key]; ok {
		return true
	}
	if len(w.seen) >= w.maxSize {
		w.removeLocked(w.order.Front())
	}
	w.seen[key] = &entry{at: now, elem: w.order.PushBack(key)}
	return false
}

// Len returns the number of keys inside the window.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pruneLocked(w.now())
	return len(w.seen)
}

// pruneLocked drops expired keys from the front. Keys are never refreshed,
// so the list stays ordered by time.
func (w *Window) pruneLocked(now time.Time) {
	for front := w.order.Front(); front != nil; front = w.order.Front() {
		key, _ := front.Value.(string)
		if now.Sub(w.seen[key].at) < w.ttl {
			return
		}
		w.removeLocked(front)
	}
}

func (w *Window) removeLocked(elem *list.Element) {
	if elem == nil {
		return
	}
	key, _ := elem.Value.(string)
	w.order.Remove(elem)
	delete(w.seen, key)
}
