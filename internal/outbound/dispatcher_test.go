// ABOUTME: Tests for the outbound dispatcher
// ABOUTME: Covers immediate writes, retry until ready, lifetime cancellation and exhaustion

package outbound

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/cardea-console/internal/channel"
	"github.com/2389/cardea-console/internal/envelope"
)

type fakeWriter struct {
	mu         sync.Mutex
	readyAfter int // Ready returns true from this call on; -1 never
	readyCalls int
	done       chan struct{}
	writes     [][]byte
	writeErr   error
}

func newFakeWriter(readyAfter int) *fakeWriter {
	return &fakeWriter{readyAfter: readyAfter, done: make(chan struct{})}
}

func (f *fakeWriter) Ready(channel.Kind) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readyCalls++
	return f.readyAfter >= 0 && f.readyCalls > f.readyAfter
}

func (f *fakeWriter) Write(_ context.Context, _ channel.Kind, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	f.writes = append(f.writes, data)
	return nil
}

func (f *fakeWriter) Done(channel.Kind) <-chan struct{} { return f.done }

func (f *fakeWriter) written() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.writes))
	for _, w := range f.writes {
		out = append(out, string(w))
	}
	return out
}

func fastOptions() Options {
	return Options{MaxAttempts: 20, MaxBackoff: 5 * time.Millisecond}
}

func TestSend_WritesImmediatelyWhenReady(t *testing.T) {
	w := newFakeWriter(0)
	d := New(w, fastOptions())

	err := d.Send(t.Context(), channel.Anonymous, envelope.ContextSettings, envelope.TypeGetTheme, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{`{"context":"SETTINGS","type":"GET_THEME","data":{}}`}, w.written())
}

func TestSend_RetriesUntilReady(t *testing.T) {
	w := newFakeWriter(3)
	d := New(w, fastOptions())

	err := d.Send(t.Context(), channel.Admin, envelope.ContextContacts, envelope.TypeGetAll, map[string]any{"additional_tables": []string{}})
	require.NoError(t, err)
	assert.Len(t, w.written(), 1)
}

func TestSend_ExhaustsRetries(t *testing.T) {
	w := newFakeWriter(-1)
	d := New(w, Options{MaxAttempts: 3, MaxBackoff: time.Millisecond})

	err := d.Send(t.Context(), channel.Admin, envelope.ContextRoles, envelope.TypeGetAll, nil)
	assert.ErrorIs(t, err, ErrRetriesExhausted)
	assert.Empty(t, w.written())
}

func TestSend_CancelledByChannelLifetime(t *testing.T) {
	w := newFakeWriter(-1)
	d := New(w, Options{MaxAttempts: 1000, MaxBackoff: 10 * time.Millisecond})

	go func() {
		time.Sleep(30 * time.Millisecond)
		close(w.done)
	}()

	err := d.Send(t.Context(), channel.Admin, envelope.ContextUsers, envelope.TypeGetAll, nil)
	assert.ErrorIs(t, err, ErrChannelClosed)
	assert.Empty(t, w.written())
}

func TestSend_CancelledByContext(t *testing.T) {
	w := newFakeWriter(-1)
	d := New(w, Options{MaxAttempts: 1000, MaxBackoff: 10 * time.Millisecond})

	ctx, cancel := context.WithTimeout(t.Context(), 30*time.Millisecond)
	defer cancel()

	err := d.Send(ctx, channel.Admin, envelope.ContextUsers, envelope.TypeGetAll, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSend_RejectsInvalidEnvelope(t *testing.T) {
	d := New(newFakeWriter(0), fastOptions())
	err := d.Send(t.Context(), channel.Admin, "", envelope.TypeGetAll, nil)
	assert.ErrorIs(t, err, envelope.ErrMissingContext)
}

func TestSend_ReturnsWriteFailure(t *testing.T) {
	w := newFakeWriter(0)
	w.writeErr = errors.New("broken pipe")
	d := New(w, fastOptions())

	err := d.Send(t.Context(), channel.Admin, envelope.ContextUsers, envelope.TypeGetAll, nil)
	assert.EqualError(t, err, "broken pipe")
}

func TestPost_ReadyChannelKeepsOrder(t *testing.T) {
	w := newFakeWriter(0)
	d := New(w, fastOptions())

	d.Post(t.Context(), channel.Anonymous, envelope.ContextSettings, envelope.TypeGetTheme, nil)
	d.Post(t.Context(), channel.Anonymous, envelope.ContextSettings, envelope.TypeGetSchemas, nil)
	d.Wait()

	assert.Equal(t, []string{
		`{"context":"SETTINGS","type":"GET_THEME","data":{}}`,
		`{"context":"SETTINGS","type":"GET_SCHEMAS","data":{}}`,
	}, w.written())
}

func TestPost_RetriesInBackground(t *testing.T) {
	w := newFakeWriter(2)
	d := New(w, fastOptions())

	d.Post(t.Context(), channel.Admin, envelope.ContextSettings, envelope.TypeGetSMTP, nil)
	d.Wait()
	assert.Len(t, w.written(), 1)
}

func TestPost_ReportsFailures(t *testing.T) {
	w := newFakeWriter(-1)
	close(w.done)

	var (
		mu     sync.Mutex
		failed []error
	)
	d := New(w, Options{
		MaxAttempts: 5,
		MaxBackoff:  time.Millisecond,
		OnError: func(_ channel.Kind, env envelope.Envelope, err error) {
			mu.Lock()
			defer mu.Unlock()
			assert.Equal(t, envelope.TypeGetAll, env.Type)
			failed = append(failed, err)
		},
	})

	d.Post(t.Context(), channel.Admin, envelope.ContextUsers, envelope.TypeGetAll, nil)
	d.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, failed, 1)
	assert.ErrorIs(t, failed[0], ErrChannelClosed)
}
