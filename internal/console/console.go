// ABOUTME: Application root wiring channels, dispatcher, router, barrier and session
// ABOUTME: Runs the bootstrap on the driven channel and exposes the public console API

package console

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/2389/cardea-console/internal/barrier"
	"github.com/2389/cardea-console/internal/capability"
	"github.com/2389/cardea-console/internal/channel"
	"github.com/2389/cardea-console/internal/config"
	"github.com/2389/cardea-console/internal/dedupe"
	"github.com/2389/cardea-console/internal/envelope"
	"github.com/2389/cardea-console/internal/httpapi"
	"github.com/2389/cardea-console/internal/loop"
	"github.com/2389/cardea-console/internal/model"
	"github.com/2389/cardea-console/internal/outbound"
	"github.com/2389/cardea-console/internal/prefs"
	"github.com/2389/cardea-console/internal/router"
	"github.com/2389/cardea-console/internal/session"
	"github.com/2389/cardea-console/internal/state"
)

// LoginPath is passed to Navigate after a logout or an expired session.
const LoginPath = session.LoginPath

const (
	notificationBuffer = 64
	notificationWindow = 2 * time.Second
	shutdownTimeout    = 5 * time.Second
	persistTimeout     = 2 * time.Second
)

// ErrStarted is returned by a second call to Start.
var ErrStarted = errors.New("console already started")

// Options configures a Console.
type Options struct {
	Config *config.Config
	// HTTPClient is used for the HTTP boundary and both socket dials, for
	// example one that dials through a tailnet. Nil uses a default client.
	HTTPClient *http.Client
	// Prefs holds the persisted theme. Nil keeps it in memory.
	Prefs prefs.Store
	// Can decides gated bootstrap topics. Nil uses the built-in role rules.
	Can capability.Predicate
	// Navigate receives view paths, such as LoginPath after a logout.
	Navigate func(path string)
	Logger   *slog.Logger
}

// Console is the running session engine. State it owns is touched only on
// its event loop.
type Console struct {
	cfg      *config.Config
	api      *httpapi.Client
	loop     *loop.Loop
	channels *channel.Manager
	out      *outbound.Dispatcher
	barrier  *barrier.Barrier
	store    *state.Store
	router   *router.Router
	session  *session.Coordinator
	prefs    prefs.Store
	can      capability.Predicate
	navigate func(string)
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	started  atomic.Bool
	stopOnce sync.Once
	wg       sync.WaitGroup
	themes   chan model.Theme

	mu      sync.Mutex
	notes   chan state.Notification
	closed  bool
	repeats *dedupe.Window
	expiry  *time.Timer

	// loop-owned
	settle    *time.Timer
	driven    channel.Kind
	hasDriven bool
}

// New wires a console. Nothing connects until Start.
func New(opts Options) (*Console, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("console: config is required")
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Prefs == nil {
		opts.Prefs = prefs.NewMemory()
	}
	if opts.Can == nil {
		opts.Can = capability.NewChecker(capability.DefaultRules(), opts.Logger).Predicate()
	}
	if opts.Navigate == nil {
		opts.Navigate = func(string) {}
	}
	cfg := opts.Config

	ctx, cancel := context.WithCancel(context.Background())
	c := &Console{
		cfg:      cfg,
		prefs:    opts.Prefs,
		can:      opts.Can,
		navigate: opts.Navigate,
		logger:   opts.Logger.With("component", "console"),
		ctx:      ctx,
		cancel:   cancel,
		themes:   make(chan model.Theme, 1),
		notes:    make(chan state.Notification, notificationBuffer),
		repeats:  dedupe.NewWindow(notificationWindow, notificationBuffer, nil),
	}

	table := router.DefaultTable()
	if err := table.CheckCoverage(planTopics()); err != nil {
		cancel()
		return nil, err
	}

	api, err := httpapi.New(cfg.Server.BaseURL, httpapi.Options{
		HTTPClient: opts.HTTPClient,
		CookieName: cfg.Session.CookieName,
		Logger:     opts.Logger,
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("creating http client: %w", err)
	}
	c.api = api

	c.loop = loop.New(0, opts.Logger)
	c.store = state.NewStore(model.DefaultTheme(), opts.Logger)
	c.barrier = barrier.New(c.store.SetReady, opts.Logger)
	c.session = session.New(api, session.Options{
		DefaultTimeout: cfg.Session.DefaultTimeout,
		OnChange:       c.sessionChanged,
		Logger:         opts.Logger,
	})

	c.channels, err = channel.NewManager(channel.Options{
		BaseURL: cfg.Server.BaseURL,
		Paths: map[channel.Kind]string{
			channel.Anonymous: cfg.Server.AnonPath,
			channel.Admin:     cfg.Server.AdminPath,
		},
		Redial:       map[channel.Kind]bool{channel.Anonymous: true},
		HTTPClient:   api.HTTPClient(),
		WriteTimeout: cfg.Server.WriteTimeout,
		MaxAttempts:  cfg.Reconnect.MaxAttempts,
		MaxBackoff:   cfg.Reconnect.MaxBackoff,
		Handlers: channel.Handlers{
			OnOpen:    c.onOpen,
			OnMessage: c.onMessage,
			OnError:   c.onError,
			OnClose:   c.onClose,
			OnGiveUp:  c.onGiveUp,
		},
		Post:   c.loop.Do,
		Logger: opts.Logger,
	})
	if err != nil {
		c.loop.Close()
		cancel()
		return nil, fmt.Errorf("creating channels: %w", err)
	}

	c.out = outbound.New(c.channels, outbound.Options{
		MaxAttempts: cfg.Send.MaxAttempts,
		MaxBackoff:  cfg.Send.MaxBackoff,
		OnError:     c.sendFailed,
		Logger:      opts.Logger,
	})
	c.router = router.New(router.Options{
		Table:   table,
		Store:   c.store,
		Barrier: c.barrier,
		Notify:  c.notify,
		OnTheme: c.persistTheme,
		Logger:  opts.Logger,
	})
	return c, nil
}

// Start loads the persisted theme, opens the anonymous channel and tries
// to renew an existing session. A renewed session opens the admin channel.
func (c *Console) Start(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return ErrStarted
	}

	theme, err := prefs.LoadTheme(ctx, c.prefs)
	switch {
	case err == nil:
		c.store.UpdateTheme(theme)
		c.logger.Debug("persisted theme loaded", "keys", len(theme))
	case errors.Is(err, prefs.ErrNotFound):
	default:
		c.logger.Warn("failed to load persisted theme", "error", err)
	}

	c.wg.Add(1)
	go c.persistLoop()

	if err := c.channels.Open(c.ctx, channel.Anonymous); err != nil {
		return fmt.Errorf("opening anonymous channel: %w", err)
	}
	c.renewAsync(nil)
	return nil
}

// Stop closes both channels and waits for background work. Safe to call
// more than once.
func (c *Console) Stop() {
	c.stopOnce.Do(func() {
		_ = c.loop.Do(c.cancelSettle)
		c.cancel()
		c.disarmExpiry()

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := c.channels.Shutdown(ctx); err != nil {
			c.logger.Warn("channel shutdown incomplete", "error", err)
		}
		c.out.Wait()
		c.loop.Close()
		c.wg.Wait()
		c.store.Close()

		c.mu.Lock()
		c.closed = true
		close(c.notes)
		c.mu.Unlock()
		c.logger.Info("console stopped")
	})
}

// Send writes an envelope on kind, waiting for the channel to be ready.
func (c *Console) Send(ctx context.Context, kind channel.Kind, ctxName envelope.Context, typ envelope.Type, data any) error {
	return c.out.Send(ctx, kind, ctxName, typ, data)
}

// SendAdmin sends on the admin channel.
func (c *Console) SendAdmin(ctx context.Context, ctxName envelope.Context, typ envelope.Type, data any) error {
	return c.Send(ctx, channel.Admin, ctxName, typ, data)
}

// SendAnon sends on the anonymous channel.
func (c *Console) SendAnon(ctx context.Context, ctxName envelope.Context, typ envelope.Type, data any) error {
	return c.Send(ctx, channel.Anonymous, ctxName, typ, data)
}

// RequestInvitation asks for a single-use invitation on the anonymous
// channel. The reply lands in the QR code URL.
func (c *Console) RequestInvitation(ctx context.Context) error {
	return c.SendAnon(ctx, envelope.ContextInvitations, envelope.TypeCreateSingleUse, nil)
}

// SaveTheme sends the current theme to the controller.
func (c *Console) SaveTheme(ctx context.Context) error {
	return c.SendAdmin(ctx, envelope.ContextSettings, envelope.TypeSetTheme, c.store.Snapshot().Theme)
}

// Logo fetches the organization logo over HTTP, for views shown before a
// channel is open.
func (c *Console) Logo(ctx context.Context) (json.RawMessage, error) {
	return c.api.Logo(ctx)
}

// Snapshot returns the current client state.
func (c *Console) Snapshot() state.State { return c.store.Snapshot() }

// Subscribe delivers state changes to field until ctx ends.
func (c *Console) Subscribe(ctx context.Context, field state.Field) <-chan state.Change {
	return c.store.Subscribe(ctx, field)
}

// Ready reports whether the bootstrap has been answered.
func (c *Console) Ready() bool { return c.barrier.Ready() }

// Pending lists bootstrap topics still awaiting an answer.
func (c *Console) Pending() []barrier.Topic { return c.barrier.Pending() }

// Session returns the current session.
func (c *Console) Session() session.Session { return c.session.Session() }

// Phase returns the session phase.
func (c *Console) Phase() session.Phase { return c.session.Phase() }

// Active returns the channel currently driven.
func (c *Console) Active() channel.Kind { return c.session.Active() }

// ChannelStatus describes one socket for status displays.
type ChannelStatus struct {
	Kind       channel.Kind
	URL        string
	Open       bool
	Supervised bool
	Failures   int
}

// Channels reports the anonymous and admin sockets, in that order.
func (c *Console) Channels() []ChannelStatus {
	out := make([]ChannelStatus, 0, 2)
	for _, kind := range []channel.Kind{channel.Anonymous, channel.Admin} {
		out = append(out, ChannelStatus{
			Kind:       kind,
			URL:        c.channels.URL(kind),
			Open:       c.channels.Ready(kind),
			Supervised: c.channels.Supervised(kind),
			Failures:   c.channels.Failures(kind),
		})
	}
	return out
}

// Revision increases with every state change.
func (c *Console) Revision() uint64 { return c.store.Version() }

// Notifications delivers one-shot user notifications. Closed by Stop.
func (c *Console) Notifications() <-chan state.Notification { return c.notes }

// ClearResponseState dismisses the error and success messages.
func (c *Console) ClearResponseState() { c.store.ClearResponseState() }

// UpdateTheme overlays a local theme edit.
func (c *Console) UpdateTheme(update model.Theme) { c.store.UpdateTheme(update) }

// UndoStyle restores one theme key to its default.
func (c *Console) UndoStyle(key string) bool { return c.store.UndoStyle(key) }

// AddStyle records key as edited.
func (c *Console) AddStyle(key string) { c.store.AddStyle(key) }

// RemoveStyle forgets an edited key.
func (c *Console) RemoveStyle(key string) { c.store.RemoveStyle(key) }

// Login checks credentials and, on success, switches to the admin channel.
func (c *Console) Login(ctx context.Context, username, password string) error {
	if err := c.session.Login(ctx, username, password); err != nil {
		return err
	}
	return c.openAdmin()
}

// SetUpUser records a user whose credentials were already checked and
// switches to the admin channel.
func (c *Console) SetUpUser(id, username string, roles []string) error {
	if err := c.session.SetUpUser(id, username, roles); err != nil {
		return err
	}
	return c.openAdmin()
}

// Logout ends the session, closes the admin channel and returns to the
// anonymous channel. A failed logout request leaves the session intact.
func (c *Console) Logout(ctx context.Context) error {
	if err := c.session.Logout(ctx, c.navigate); err != nil {
		c.notify(state.Notification{Message: "Couldn't log out", Level: state.LevelError})
		return fmt.Errorf("logging out: %w", err)
	}
	c.channels.Close(channel.Admin, websocket.StatusNormalClosure, "Log out")
	return c.loop.Do(c.selectAnonymous)
}

func (c *Console) openAdmin() error {
	if c.session.Active() != channel.Admin {
		return nil
	}
	c.armExpiry()
	if err := c.channels.Open(c.ctx, channel.Admin); err != nil {
		return fmt.Errorf("opening admin channel: %w", err)
	}
	return nil
}

// renewAsync renews off the loop and reports back on it. A non-nil after
// delays the renewal until that channel lifetime has fully ended, so a
// successful renewal can reopen it.
func (c *Console) renewAsync(after <-chan struct{}) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if after != nil {
			select {
			case <-after:
			case <-c.ctx.Done():
				return
			}
		}
		ok, err := c.session.Renew(c.ctx)
		if err != nil && c.ctx.Err() == nil {
			c.logger.Warn("session renewal failed", "error", err)
		}
		if postErr := c.loop.Do(func() { c.afterRenew(ok) }); postErr != nil {
			c.logger.Debug("renewal result dropped", "error", postErr)
		}
	}()
}

func (c *Console) afterRenew(ok bool) {
	if c.ctx.Err() != nil {
		return
	}
	if ok {
		if err := c.openAdmin(); err != nil {
			c.logger.Error("failed to open admin channel", "error", err)
			c.notify(state.ClientError())
		}
		return
	}
	if len(c.barrier.Pending()) == 0 {
		c.barrier.ClearAll()
	}
	c.selectAnonymous()
}

// selectAnonymous makes sure the anonymous bootstrap runs once the console
// falls back from the admin channel.
func (c *Console) selectAnonymous() {
	if c.hasDriven && c.driven == channel.Anonymous {
		return
	}
	if c.channels.Ready(channel.Anonymous) {
		c.scheduleBootstrap(channel.Anonymous)
	}
}

func (c *Console) scheduleBootstrap(kind channel.Kind) {
	c.cancelSettle()
	c.driven = kind
	c.hasDriven = true
	c.settle = c.loop.AfterFunc(c.cfg.Session.SettleDelay, func() {
		if c.ctx.Err() != nil {
			return
		}
		if c.session.Active() != kind || !c.channels.Ready(kind) {
			c.logger.Debug("bootstrap skipped", "channel", kind.String())
			return
		}
		c.runBootstrap(kind)
	})
}

func (c *Console) cancelSettle() {
	if c.settle != nil {
		c.settle.Stop()
		c.settle = nil
	}
}

func (c *Console) onOpen(kind channel.Kind) {
	c.logger.Info("channel open", "channel", kind.String())
	if c.session.Active() == kind {
		c.scheduleBootstrap(kind)
	}
}

func (c *Console) onMessage(_ channel.Kind, env envelope.Envelope) {
	c.router.Dispatch(env)
}

func (c *Console) onError(kind channel.Kind, err error) {
	c.logger.Warn("channel error", "channel", kind.String(), "error", err)
	c.notify(state.ClientError())
}

func (c *Console) onClose(kind channel.Kind, status websocket.StatusCode, reason string) {
	c.logger.Info("channel closed by peer", "channel", kind.String(), "status", int(status), "reason", reason)
	if kind != channel.Admin {
		return
	}
	c.session.HandleAdminClosed()
	c.renewAsync(c.channels.Done(channel.Admin))
}

func (c *Console) onGiveUp(kind channel.Kind, err error) {
	c.logger.Error("channel gave up", "channel", kind.String(), "error", err)
	c.barrier.ClearAll()
	c.notify(state.ClientError())
	if kind == channel.Admin {
		c.session.HandleAdminClosed()
		c.selectAnonymous()
	}
}

func (c *Console) sendFailed(kind channel.Kind, env envelope.Envelope, err error) {
	if errors.Is(err, outbound.ErrChannelClosed) || c.ctx.Err() != nil {
		c.logger.Debug("send abandoned", "channel", kind.String(), "envelope", env.String(), "error", err)
		return
	}
	c.logger.Error("send failed", "channel", kind.String(), "envelope", env.String(), "error", err)
	c.notify(state.ClientError())
}

func (c *Console) sessionChanged(from, to session.Phase) {
	c.logger.Info("session phase changed", "from", from.String(), "to", to.String())
	if to == session.Unauthenticated {
		c.disarmExpiry()
	}
	c.store.Update(state.FieldSession, func(*state.State) {})
}

// armExpiry schedules the end of the held session at its expiry, replacing
// any earlier schedule.
func (c *Console) armExpiry() {
	sess := c.session.Session()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.expiry != nil {
		c.expiry.Stop()
		c.expiry = nil
	}
	if c.closed || sess.Token == "" || sess.ExpiresAt.IsZero() {
		return
	}
	token := sess.Token
	c.expiry = c.loop.AfterFunc(time.Until(sess.ExpiresAt), func() { c.sessionExpired(token) })
	c.logger.Debug("session expiry armed", "expires_at", sess.ExpiresAt)
}

func (c *Console) disarmExpiry() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.expiry != nil {
		c.expiry.Stop()
		c.expiry = nil
	}
}

// sessionExpired ends a lapsed session locally: the admin channel closes
// normally and the anonymous channel is driven again.
func (c *Console) sessionExpired(token string) {
	if c.ctx.Err() != nil || !c.session.Expire(token) {
		return
	}
	c.logger.Info("session expired")
	c.channels.Close(channel.Admin, websocket.StatusNormalClosure, "Session expired")
	c.notify(state.Notification{Message: "Session expired", Level: state.LevelWarning})
	c.selectAnonymous()
	c.navigate(LoginPath)
}

// notify queues n for Notifications. Repeats inside a short window are
// coalesced and a full queue drops the newest.
func (c *Console) notify(n state.Notification) {
	if c.repeats.Seen(string(n.Level) + "|" + n.Message) {
		c.logger.Debug("repeated notification suppressed", "message", n.Message)
		return
	}
	c.logger.Debug("notification", "level", string(n.Level), "message", n.Message)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.notes <- n:
	default:
		c.logger.Warn("notification dropped", "message", n.Message)
	}
}

// persistTheme hands the newest theme to the persist worker, replacing any
// theme it has not picked up yet.
func (c *Console) persistTheme(theme model.Theme) {
	theme = theme.Clone()
	for {
		select {
		case c.themes <- theme:
			return
		default:
		}
		select {
		case <-c.themes:
		default:
		}
	}
}

func (c *Console) persistLoop() {
	defer c.wg.Done()
	for {
		select {
		case theme := <-c.themes:
			c.saveTheme(theme)
		case <-c.ctx.Done():
			select {
			case theme := <-c.themes:
				c.saveTheme(theme)
			default:
			}
			return
		}
	}
}

func (c *Console) saveTheme(theme model.Theme) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := prefs.SaveTheme(ctx, c.prefs, theme); err != nil {
		c.logger.Warn("failed to persist theme", "error", err)
	}
}
