// ABOUTME: Single-goroutine event loop that serializes console callbacks
// ABOUTME: Socket events, timers and API calls all run one at a time on it

package loop

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrClosed is returned when work is submitted after Close.
var ErrClosed = errors.New("loop closed")

const defaultQueueSize = 256

type callResult struct {
	value any
	err   error
}

// Loop runs submitted functions in order on one goroutine, so state owned
// by the console never needs its own locking. A function running on the
// loop must not Call back into it.
type Loop struct {
	q      chan func()
	mu     sync.RWMutex
	closed bool
	done   chan struct{}
	logger *slog.Logger
}

// New starts a loop with the given queue size (<= 0 uses 256).
func New(queueSize int, logger *slog.Logger) *Loop {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	l := &Loop{
		q:      make(chan func(), queueSize),
		done:   make(chan struct{}),
		logger: logger.With("component", "loop"),
	}
	go l.run()
	return l
}

func (l *Loop) run() {
	defer close(l.done)
	for fn := range l.q {
		l.exec(fn)
	}
}

func (l *Loop) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("panic on event loop", "panic", r)
		}
	}()
	fn()
}

// Do enqueues fn. It blocks only while the queue is full.
func (l *Loop) Do(fn func()) error {
	if fn == nil {
		return nil
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return ErrClosed
	}
	l.q <- fn
	return nil
}

// Call runs fn on the loop and waits for its result.
func (l *Loop) Call(fn func() (any, error)) (any, error) {
	if fn == nil {
		return nil, nil
	}
	done := make(chan callResult, 1)
	err := l.Do(func() {
		var res callResult
		defer func() { done <- res }()
		res.value, res.err = fn()
	})
	if err != nil {
		return nil, err
	}
	select {
	case res := <-done:
		return res.value, res.err
	case <-l.done:
		return nil, ErrClosed
	}
}

// AfterFunc schedules fn on the loop after d. Stopping the returned timer
// cancels it if it has not fired yet.
func (l *Loop) AfterFunc(d time.Duration, fn func()) *time.Timer {
	return time.AfterFunc(d, func() {
		if err := l.Do(fn); err != nil {
			l.logger.Debug("timer fired after close")
		}
	})
}

// Close stops accepting work, runs what is already queued and waits for the
// loop goroutine to exit. Safe to call more than once.
func (l *Loop) Close() {
	l.mu.Lock()
	if !l.closed {
		l.closed = true
		close(l.q)
	}
	l.mu.Unlock()
	<-l.done
}
