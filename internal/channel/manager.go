// ABOUTME: Channel manager owning the anonymous and admin websocket connections
// ABOUTME: Supervises dialing, reading and reconnecting under a bounded backoff policy

package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"tailscale.com/util/backoff"

	"github.com/2389/cardea-console/internal/envelope"
)

var (
	// ErrNotOpen is returned when writing to a channel with no live connection.
	ErrNotOpen = errors.New("channel not open")
	// ErrGaveUp is reported when a channel exceeds its consecutive failure limit.
	ErrGaveUp = errors.New("channel gave up reconnecting")
)

const (
	defaultDialTimeout  = 10 * time.Second
	defaultWriteTimeout = 5 * time.Second
	defaultMaxBackoff   = 30 * time.Second
	defaultReadLimit    = 8 << 20
)

// Handlers receive channel events. Each call is passed through Options.Post,
// so with an event loop they run serialized with everything else.
type Handlers struct {
	OnOpen    func(kind Kind)
	OnMessage func(kind Kind, env envelope.Envelope)
	OnError   func(kind Kind, err error)
	// OnClose fires when the peer or the network ends an established
	// connection. A Close requested through the Manager does not fire it.
	OnClose  func(kind Kind, status websocket.StatusCode, reason string)
	OnGiveUp func(kind Kind, err error)
}

// Options configures a Manager.
type Options struct {
	BaseURL string
	Paths   map[Kind]string
	// Redial marks kinds whose supervisor reconnects by itself after the
	// peer closes an established connection.
	Redial       map[Kind]bool
	HTTPClient   *http.Client
	DialTimeout  time.Duration
	WriteTimeout time.Duration
	// MaxAttempts bounds consecutive failures per kind; 0 means unlimited.
	MaxAttempts int
	MaxBackoff  time.Duration
	ReadLimit   int64
	Handlers    Handlers
	Post        func(fn func()) error
	Logger      *slog.Logger
}

type lifetime struct {
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	closing atomic.Bool
}

type channel struct {
	kind Kind
	url  string

	mu       sync.Mutex
	life     *lifetime
	conn     *websocket.Conn
	failures int

	boMu sync.Mutex
	bo   *backoff.Backoff
}

// Manager owns one connection per Kind.
type Manager struct {
	opts     Options
	channels map[Kind]*channel
	logger   *slog.Logger
}

// NewManager validates the options and derives both socket URLs.
func NewManager(opts Options) (*Manager, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = defaultDialTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = defaultMaxBackoff
	}
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = defaultReadLimit
	}
	if opts.MaxAttempts < 0 {
		return nil, fmt.Errorf("max attempts must not be negative, got %d", opts.MaxAttempts)
	}

	logger := opts.Logger.With("component", "channel")
	m := &Manager{
		opts:     opts,
		channels: make(map[Kind]*channel, len(Kinds)),
		logger:   logger,
	}
	for _, k := range Kinds {
		path, ok := opts.Paths[k]
		if !ok {
			return nil, fmt.Errorf("no socket path configured for %s channel", k)
		}
		u, err := SocketURL(opts.BaseURL, path)
		if err != nil {
			return nil, fmt.Errorf("%s channel: %w", k, err)
		}
		kindLogger := logger.With("channel", k.String())
		logf := func(format string, args ...any) {
			kindLogger.Debug(fmt.Sprintf(format, args...))
		}
		m.channels[k] = &channel{
			kind: k,
			url:  u,
			bo:   backoff.NewBackoff(k.String(), logf, opts.MaxBackoff),
		}
	}
	return m, nil
}

// URL returns the socket URL of a kind.
func (m *Manager) URL(kind Kind) string {
	return m.channels[kind].url
}

// Open starts supervising a channel. Opening a channel that is already
// supervised is a no-op.
func (m *Manager) Open(ctx context.Context, kind Kind) error {
	ch, ok := m.channels[kind]
	if !ok {
		return fmt.Errorf("unknown channel kind %d", int(kind))
	}

	ch.mu.Lock()
	if ch.life != nil {
		ch.mu.Unlock()
		return nil
	}
	lctx, cancel := context.WithCancel(ctx)
	life := &lifetime{ctx: lctx, cancel: cancel, done: make(chan struct{})}
	ch.life = life
	ch.mu.Unlock()

	m.logger.Info("opening channel", "channel", kind.String(), "url", ch.url)
	go m.supervise(ch, life)
	return nil
}

// Close ends a channel's lifetime, sending the given close code to the peer
// if a connection is live. It does not wait for the handshake.
func (m *Manager) Close(kind Kind, code websocket.StatusCode, reason string) {
	ch, ok := m.channels[kind]
	if !ok {
		return
	}

	ch.mu.Lock()
	life := ch.life
	conn := ch.conn
	ch.life = nil
	ch.conn = nil
	ch.mu.Unlock()

	if life == nil {
		return
	}
	life.closing.Store(true)
	m.logger.Info("closing channel", "channel", kind.String(), "code", int(code), "reason", reason)

	if conn == nil {
		life.cancel()
		return
	}
	go func() {
		if err := conn.Close(code, reason); err != nil {
			m.logger.Debug("close handshake", "channel", kind.String(), "error", err)
		}
		life.cancel()
	}()
}

// Shutdown closes every channel with StatusGoingAway and waits for the
// supervisors to exit or ctx to end.
func (m *Manager) Shutdown(ctx context.Context) error {
	var dones []<-chan struct{}
	for _, k := range Kinds {
		dones = append(dones, m.Done(k))
		m.Close(k, websocket.StatusGoingAway, "client shutting down")
	}
	for _, d := range dones {
		select {
		case <-d:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Ready reports whether the channel has a live connection.
func (m *Manager) Ready(kind Kind) bool {
	ch, ok := m.channels[kind]
	if !ok {
		return false
	}
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.conn != nil
}

// Supervised reports whether the channel has a lifetime, live or dialing.
func (m *Manager) Supervised(kind Kind) bool {
	ch, ok := m.channels[kind]
	if !ok {
		return false
	}
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.life != nil
}

var closedDone = func() chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}()

// Done returns a channel closed when the current lifetime of kind ends. A
// kind with no lifetime returns an already closed channel.
func (m *Manager) Done(kind Kind) <-chan struct{} {
	ch, ok := m.channels[kind]
	if !ok {
		return closedDone
	}
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.life == nil {
		return closedDone
	}
	return ch.life.done
}

// Failures returns the consecutive failure count of kind.
func (m *Manager) Failures(kind Kind) int {
	ch, ok := m.channels[kind]
	if !ok {
		return 0
	}
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.failures
}

// Write sends one encoded envelope on a live connection.
func (m *Manager) Write(ctx context.Context, kind Kind, data []byte) error {
	ch, ok := m.channels[kind]
	if !ok {
		return ErrNotOpen
	}
	ch.mu.Lock()
	conn := ch.conn
	ch.mu.Unlock()
	if conn == nil {
		return ErrNotOpen
	}

	wctx, cancel := context.WithTimeout(ctx, m.opts.WriteTimeout)
	defer cancel()
	if err := conn.Write(wctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("writing to %s channel: %w", kind, err)
	}
	return nil
}

func (m *Manager) post(fn func()) {
	if m.opts.Post == nil {
		fn()
		return
	}
	if err := m.opts.Post(fn); err != nil {
		m.logger.Debug("dropping channel event", "error", err)
	}
}

func (m *Manager) supervise(ch *channel, life *lifetime) {
	defer close(life.done)
	defer func() {
		ch.mu.Lock()
		if ch.life == life {
			ch.life = nil
			ch.conn = nil
		}
		ch.mu.Unlock()
	}()

	ctx := life.ctx
	kind := ch.kind
	h := m.opts.Handlers
	log := m.logger.With("channel", kind.String())

	for {
		if ctx.Err() != nil {
			return
		}
		failures := m.failures(ch)
		if m.opts.MaxAttempts > 0 && failures >= m.opts.MaxAttempts {
			err := fmt.Errorf("%w: %s channel after %d consecutive failures", ErrGaveUp, kind, failures)
			log.Error("giving up on channel", "failures", failures)
			if h.OnGiveUp != nil {
				m.post(func() { h.OnGiveUp(kind, err) })
			}
			return
		}
		if failures > 0 {
			m.backOff(ctx, ch, fmt.Errorf("%d consecutive failures", failures))
			if ctx.Err() != nil {
				return
			}
		}

		conn, err := m.dial(ctx, ch)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.recordFailure(ch)
			log.Warn("dial failed", "attempt", failures+1, "error", err)
			if h.OnError != nil {
				m.post(func() { h.OnError(kind, err) })
			}
			continue
		}

		ch.mu.Lock()
		if ch.life != life {
			ch.mu.Unlock()
			_ = conn.CloseNow()
			return
		}
		ch.conn = conn
		ch.mu.Unlock()

		log.Info("channel open")
		if h.OnOpen != nil {
			m.post(func() { h.OnOpen(kind) })
		}

		status, reason, received := m.read(ctx, ch, conn)

		ch.mu.Lock()
		if ch.conn == conn {
			ch.conn = nil
		}
		ch.mu.Unlock()
		_ = conn.CloseNow()

		if life.closing.Load() || ctx.Err() != nil {
			log.Info("channel closed locally")
			return
		}
		if !received {
			m.recordFailure(ch)
		}
		log.Info("channel closed by peer", "status", int(status), "reason", reason)
		if h.OnClose != nil {
			m.post(func() { h.OnClose(kind, status, reason) })
		}
		if !m.opts.Redial[kind] {
			return
		}
	}
}

func (m *Manager) dial(ctx context.Context, ch *channel) (*websocket.Conn, error) {
	dctx, cancel := context.WithTimeout(ctx, m.opts.DialTimeout)
	defer cancel()

	conn, resp, err := websocket.Dial(dctx, ch.url, &websocket.DialOptions{
		HTTPClient: m.opts.HTTPClient,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dialing %s channel: %w", ch.kind, err)
	}
	conn.SetReadLimit(m.opts.ReadLimit)
	return conn, nil
}

// read pumps frames until the connection ends. It reports the close status,
// the reason and whether any message arrived.
func (m *Manager) read(ctx context.Context, ch *channel, conn *websocket.Conn) (websocket.StatusCode, string, bool) {
	h := m.opts.Handlers
	kind := ch.kind
	received := false

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			var ce websocket.CloseError
			if errors.As(err, &ce) {
				return ce.Code, ce.Reason, received
			}
			return websocket.StatusAbnormalClosure, err.Error(), received
		}

		if !received {
			received = true
			m.resetFailures(ctx, ch)
		}

		env, err := envelope.Decode(data)
		if err != nil {
			m.logger.Warn("malformed frame", "channel", kind.String(), "error", err)
			if h.OnError != nil {
				m.post(func() { h.OnError(kind, err) })
			}
			continue
		}
		if h.OnMessage != nil {
			m.post(func() { h.OnMessage(kind, env) })
		}
	}
}

func (m *Manager) failures(ch *channel) int {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.failures
}

func (m *Manager) recordFailure(ch *channel) {
	ch.mu.Lock()
	ch.failures++
	ch.mu.Unlock()
}

func (m *Manager) resetFailures(ctx context.Context, ch *channel) {
	ch.mu.Lock()
	ch.failures = 0
	ch.mu.Unlock()

	ch.boMu.Lock()
	ch.bo.BackOff(ctx, nil)
	ch.boMu.Unlock()
}

func (m *Manager) backOff(ctx context.Context, ch *channel, err error) {
	ch.boMu.Lock()
	defer ch.boMu.Unlock()
	ch.bo.BackOff(ctx, err)
}
