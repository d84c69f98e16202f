// ABOUTME: Session coordinator deciding which controller channel is driven
// ABOUTME: Runs renewal, login and logout against the HTTP boundary

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/2389/cardea-console/internal/channel"
	"github.com/2389/cardea-console/internal/httpapi"
)

var (
	// ErrNoSession means no session cookie is present.
	ErrNoSession = errors.New("no session")
)

const defaultTimeout = 60 * time.Minute

// LoginPath is the view a logged-out user is sent to.
const LoginPath = "/login"

// Phase is the coordinator's state.
type Phase int

const (
	Unauthenticated Phase = iota
	Authenticated
)

func (p Phase) String() string {
	if p == Authenticated {
		return "authenticated"
	}
	return "unauthenticated"
}

// Session is the logged-in identity.
type Session struct {
	Token     string
	UserID    string
	Username  string
	Email     string
	Roles     []string
	ExpiresAt time.Time
}

// Boundary is the part of the HTTP API the coordinator uses.
type Boundary interface {
	RenewSession(ctx context.Context) (httpapi.User, error)
	Login(ctx context.Context, username, password string) (httpapi.User, error)
	Logout(ctx context.Context) error
	SessionToken() string
	ClearSession()
}

// Options configures a Coordinator.
type Options struct {
	// DefaultTimeout applies when the token carries no expiry.
	DefaultTimeout time.Duration
	// OnChange is called after every phase transition, outside the lock.
	OnChange func(from, to Phase)
	Now      func() time.Time
	Logger   *slog.Logger
}

// Coordinator holds the session. The Admin channel is driven only while a
// token is held, the user is logged in and the admin channel was requested.
type Coordinator struct {
	boundary Boundary
	timeout  time.Duration
	onChange func(from, to Phase)
	now      func() time.Time
	logger   *slog.Logger

	mu             sync.Mutex
	sess           Session
	loggedIn       bool
	adminRequested bool
}

// New creates a coordinator in the Unauthenticated phase.
func New(b Boundary, opts Options) *Coordinator {
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = defaultTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Coordinator{
		boundary: b,
		timeout:  opts.DefaultTimeout,
		onChange: opts.OnChange,
		now:      opts.Now,
		logger:   opts.Logger.With("component", "session"),
	}
}

// Renew asks the controller to extend the session. It reports whether a
// session is now held. A missing or rejected session is not an error.
func (c *Coordinator) Renew(ctx context.Context) (bool, error) {
	u, err := c.boundary.RenewSession(ctx)
	if err != nil {
		if errors.Is(err, httpapi.ErrUnauthorized) {
			c.logger.Info("no session to renew")
			return false, nil
		}
		return false, err
	}

	token := c.boundary.SessionToken()
	if token == "" {
		c.logger.Info("renewal returned no session cookie")
		return false, nil
	}

	c.establish(token, u)
	c.logger.Info("session renewed", "username", u.Username)
	return true, nil
}

// Login checks credentials through the boundary and sets up the user.
func (c *Coordinator) Login(ctx context.Context, username, password string) error {
	u, err := c.boundary.Login(ctx, username, password)
	if err != nil {
		return err
	}
	return c.SetUpUser(string(u.ID), u.Username, u.Roles)
}

// SetUpUser enters the Authenticated phase after a successful credential
// check. The token is read from the session cookie.
func (c *Coordinator) SetUpUser(id, username string, roles []string) error {
	token := c.boundary.SessionToken()
	if token == "" {
		return fmt.Errorf("setting up user %q: %w", username, ErrNoSession)
	}
	c.establish(token, httpapi.User{ID: httpapi.ID(id), Username: username, Roles: roles})
	c.logger.Info("user set up", "username", username, "roles", roles)
	return nil
}

// Logout ends the session on the controller, drops the session cookie and
// clears the session. nav, if set, is called with LoginPath.
func (c *Coordinator) Logout(ctx context.Context, nav func(path string)) error {
	if err := c.boundary.Logout(ctx); err != nil {
		return err
	}
	c.boundary.ClearSession()
	c.clear("logout")
	if nav != nil {
		nav(LoginPath)
	}
	return nil
}

// HandleAdminClosed ends the session after the peer closed the admin
// channel. The cookie is kept so a renewal can restore the session.
func (c *Coordinator) HandleAdminClosed() {
	c.clear("admin channel closed")
}

// Expire ends the session held under token once it has lapsed, dropping
// the session cookie. It reports whether the session was ended; a renewed
// or replaced session is left alone.
func (c *Coordinator) Expire(token string) bool {
	c.mu.Lock()
	lapsed := token != "" && c.sess.Token == token && c.expiredLocked()
	c.mu.Unlock()
	if !lapsed {
		return false
	}
	c.boundary.ClearSession()
	c.clear("session expired")
	return true
}

// Active returns the channel that should be driven.
func (c *Coordinator) Active() channel.Kind {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.adminDrivenLocked() {
		return channel.Admin
	}
	return channel.Anonymous
}

// Phase returns the current phase.
func (c *Coordinator) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phaseLocked()
}

// Session returns a copy of the held session.
func (c *Coordinator) Session() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.sess
	s.Roles = slices.Clone(s.Roles)
	return s
}

// ExpiresAt returns when the held session lapses, zero without a session.
func (c *Coordinator) ExpiresAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess.ExpiresAt
}

// Expired reports whether the held session has lapsed.
func (c *Coordinator) Expired() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.expiredLocked()
}

func (c *Coordinator) expiredLocked() bool {
	return c.sess.Token != "" && !c.sess.ExpiresAt.IsZero() && !c.now().Before(c.sess.ExpiresAt)
}

func (c *Coordinator) establish(token string, u httpapi.User) {
	expires, ok := TokenExpiry(token)
	if !ok {
		expires = c.now().Add(c.timeout)
	}

	c.mu.Lock()
	from := c.phaseLocked()
	c.sess = Session{
		Token:     token,
		UserID:    string(u.ID),
		Username:  u.Username,
		Email:     u.Email,
		Roles:     slices.Clone(u.Roles),
		ExpiresAt: expires,
	}
	c.loggedIn = true
	c.adminRequested = true
	to := c.phaseLocked()
	c.mu.Unlock()

	c.notify(from, to)
}

func (c *Coordinator) clear(reason string) {
	c.mu.Lock()
	from := c.phaseLocked()
	c.sess = Session{}
	c.loggedIn = false
	c.adminRequested = false
	to := c.phaseLocked()
	c.mu.Unlock()

	if from != to {
		c.logger.Info("session cleared", "reason", reason)
	}
	c.notify(from, to)
}

func (c *Coordinator) notify(from, to Phase) {
	if from != to && c.onChange != nil {
		c.onChange(from, to)
	}
}

func (c *Coordinator) adminDrivenLocked() bool {
	return c.sess.Token != "" && c.loggedIn && c.adminRequested
}

func (c *Coordinator) phaseLocked() Phase {
	if c.adminDrivenLocked() {
		return Authenticated
	}
	return Unauthenticated
}
