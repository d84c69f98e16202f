// ABOUTME: Tests for the dedupe window used to coalesce repeated notifications
// ABOUTME: Validates expiry, size bound, eviction order and concurrent use

package dedupe

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newClock() *clock { return &clock{t: time.Unix(1_800_000_000, 0)} }

func TestWindow_FirstSightIsNew(t *testing.T) {
	w := NewWindow(time.Second, 10, nil)
	assert.False(t, w.Seen("a"))
	assert.True(t, w.Seen("a"))
	assert.False(t, w.Seen("b"))
	assert.Equal(t, 2, w.Len())
}

func TestWindow_Expires(t *testing.T) {
	c := newClock()
	w := NewWindow(2*time.Second, 10, c.now)

	assert.False(t, w.Seen("a"))
	c.advance(time.Second)
	assert.True(t, w.Seen("a"))

	c.advance(time.Second)
	assert.False(t, w.Seen("a"), "window measured from first sight")
	assert.Equal(t, 1, w.Len())
}

func TestWindow_RepeatDoesNotExtend(t *testing.T) {
	c := newClock()
	w := NewWindow(2*time.Second, 10, c.now)

	w.Seen("a")
	for range 3 {
		c.advance(500 * time.Millisecond)
		assert.True(t, w.Seen("a"))
	}
	c.advance(600 * time.Millisecond)
	assert.False(t, w.Seen("a"))
}

func TestWindow_EvictsOldestAtCapacity(t *testing.T) {
	c := newClock()
	w := NewWindow(time.Minute, 2, c.now)

	w.Seen("a")
	c.advance(time.Millisecond)
	w.Seen("b")
	c.advance(time.Millisecond)
	w.Seen("c")

	assert.Equal(t, 2, w.Len())
	assert.False(t, w.Seen("a"), "a was evicted")
	assert.True(t, w.Seen("c"))
}

func TestWindow_LenPrunes(t *testing.T) {
	c := newClock()
	w := NewWindow(time.Second, 10, c.now)
	w.Seen("a")
	w.Seen("b")
	c.advance(time.Second)
	assert.Zero(t, w.Len())
}

func TestWindow_ZeroSizeHoldsOne(t *testing.T) {
	w := NewWindow(time.Minute, 0, nil)
	w.Seen("a")
	w.Seen("b")
	assert.Equal(t, 1, w.Len())
}

func TestWindow_Concurrent(t *testing.T) {
	w := NewWindow(time.Minute, 1000, nil)

	var wg sync.WaitGroup
	var mu sync.Mutex
	fresh := 0
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range 100 {
				if !w.Seen(fmt.Sprintf("k-%d", j%50)) {
					mu.Lock()
					fresh++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, fresh, "each key is new exactly once")
}
