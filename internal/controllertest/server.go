// ABOUTME: In-process fake controller serving both sockets and the HTTP boundary
// ABOUTME: Scripted replies per context/type, recorded requests, pushes and drops

package controllertest

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/2389/cardea-console/internal/channel"
	"github.com/2389/cardea-console/internal/envelope"
	"github.com/2389/cardea-console/internal/httpapi"
)

// StatusSessionExpired closes admin sockets whose session token lapsed.
const StatusSessionExpired websocket.StatusCode = 4001

// Account is a console user known to the fake controller.
type Account struct {
	ID       string
	Username string
	Password string
	Email    string
	Roles    []string
}

// Request is one envelope received on a socket.
type Request struct {
	Kind      channel.Kind
	AccountID string
	Envelope  envelope.Envelope
}

// Closure is how one socket ended, as seen by the controller. Status is -1
// when the peer went away without a close frame.
type Closure struct {
	Kind      channel.Kind
	AccountID string
	Status    websocket.StatusCode
	Reason    string
}

// Responder produces the envelopes sent back on the requesting socket.
type Responder func(req Request) []envelope.Envelope

// Options configures a Server.
type Options struct {
	Accounts   []Account
	Fixtures   *Fixtures
	CookieName string
	AnonPath   string
	AdminPath  string
	// TokenTTL is the session lifetime; admin sockets close when it lapses.
	TokenTTL time.Duration
	// KeepExpiredSockets leaves admin sockets open after TokenTTL, so only
	// the client decides when an expired session ends.
	KeepExpiredSockets bool
	Now      func() time.Time
	Logger   *slog.Logger
}

type routeKey struct {
	context envelope.Context
	typ     envelope.Type
}

type peer struct {
	kind      channel.Kind
	accountID string
	conn      *websocket.Conn
}

// Server is a fake controller.
type Server struct {
	opts   Options
	logger *slog.Logger
	mux    *http.ServeMux

	mu       sync.Mutex
	tokens   *tokenIssuer
	accounts map[string]Account
	routes   map[routeKey]Responder
	received map[channel.Kind][]Request
	closures []Closure
	peers    map[*peer]struct{}
	changed  chan struct{}

	httpSrv *httptest.Server
}

// New creates a server with the default script installed.
func New(opts Options) *Server {
	if opts.CookieName == "" {
		opts.CookieName = httpapi.DefaultCookieName
	}
	if opts.AnonPath == "" {
		opts.AnonPath = "/api/anon/ws"
	}
	if opts.AdminPath == "" {
		opts.AdminPath = "/api/admin/ws"
	}
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = 30 * time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Fixtures == nil {
		opts.Fixtures = DefaultFixtures()
	}

	s := &Server{
		opts:     opts,
		logger:   opts.Logger.With("component", "controllertest"),
		tokens:   &tokenIssuer{secret: newSecret(), ttl: opts.TokenTTL, now: opts.Now},
		accounts: make(map[string]Account),
		routes:   make(map[routeKey]Responder),
		received: make(map[channel.Kind][]Request),
		peers:    make(map[*peer]struct{}),
		changed:  make(chan struct{}),
	}
	for _, a := range opts.Accounts {
		s.accounts[a.Username] = a
	}
	s.installScript(opts.Fixtures)

	mux := http.NewServeMux()
	mux.HandleFunc("POST "+httpapi.PathLogIn, s.handleLogin)
	mux.HandleFunc("GET "+httpapi.PathRenewSession, s.handleRenew)
	mux.HandleFunc("POST "+httpapi.PathLogOut, s.handleLogout)
	mux.HandleFunc("GET "+httpapi.PathLogo, s.handleLogo)
	mux.HandleFunc("GET "+opts.AnonPath, func(w http.ResponseWriter, r *http.Request) {
		s.serveSocket(w, r, channel.Anonymous, "")
	})
	mux.HandleFunc("GET "+opts.AdminPath, s.handleAdminSocket)
	s.mux = mux
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Start serves on a local httptest listener and returns its base URL.
func (s *Server) Start() string {
	s.httpSrv = httptest.NewServer(s)
	return s.httpSrv.URL
}

// URL returns the base URL after Start.
func (s *Server) URL() string {
	if s.httpSrv == nil {
		return ""
	}
	return s.httpSrv.URL
}

// Close drops every socket and stops the listener.
func (s *Server) Close() {
	for _, p := range s.snapshotPeers(nil) {
		_ = p.conn.CloseNow()
	}
	if s.httpSrv != nil {
		s.httpSrv.Close()
	}
}

// Handle replaces the responder for a context/type pair on both sockets.
func (s *Server) Handle(c envelope.Context, t envelope.Type, r Responder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.routes[routeKey{c, t}] = r
}

// Respond makes a pair answer with fixed envelopes. No replies silences it.
func (s *Server) Respond(c envelope.Context, t envelope.Type, replies ...envelope.Envelope) {
	s.Handle(c, t, func(Request) []envelope.Envelope { return replies })
}

// Received returns the requests seen on a socket kind, in arrival order.
func (s *Server) Received(kind channel.Kind) []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Request, len(s.received[kind]))
	copy(out, s.received[kind])
	return out
}

// Closures returns how sockets of kind ended, oldest first.
func (s *Server) Closures(kind channel.Kind) []Closure {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Closure
	for _, c := range s.closures {
		if c.Kind == kind {
			out = append(out, c)
		}
	}
	return out
}

// WaitClosure blocks until a socket of kind has ended and returns the
// first such closure.
func (s *Server) WaitClosure(ctx context.Context, kind channel.Kind) (Closure, error) {
	var found Closure
	err := s.wait(ctx, func() bool {
		for _, c := range s.closures {
			if c.Kind == kind {
				found = c
				return true
			}
		}
		return false
	})
	return found, err
}

// Conns returns the number of open sockets of a kind.
func (s *Server) Conns(kind channel.Kind) int {
	return len(s.snapshotPeers(&kind))
}

// WaitRequest blocks until a request with the given pair arrived on kind.
func (s *Server) WaitRequest(ctx context.Context, kind channel.Kind, c envelope.Context, t envelope.Type) (Request, error) {
	var found Request
	err := s.wait(ctx, func() bool {
		for _, r := range s.received[kind] {
			if r.Envelope.Context == c && r.Envelope.Type == t {
				found = r
				return true
			}
		}
		return false
	})
	return found, err
}

// WaitConns blocks until exactly n sockets of kind are open.
func (s *Server) WaitConns(ctx context.Context, kind channel.Kind, n int) error {
	return s.wait(ctx, func() bool {
		count := 0
		for p := range s.peers {
			if p.kind == kind {
				count++
			}
		}
		return count == n
	})
}

// Push sends env to every open socket of kind.
func (s *Server) Push(ctx context.Context, kind channel.Kind, env envelope.Envelope) error {
	peers := s.snapshotPeers(&kind)
	if len(peers) == 0 {
		return fmt.Errorf("no %s sockets open", kind)
	}
	var errs []error
	for _, p := range peers {
		if err := wsjson.Write(ctx, p.conn, env); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Drop closes every socket of kind with the given status. The close
// handshakes run in the background.
func (s *Server) Drop(kind channel.Kind, code websocket.StatusCode, reason string) int {
	peers := s.snapshotPeers(&kind)
	for _, p := range peers {
		go func() { _ = p.conn.Close(code, reason) }()
	}
	s.logger.Info("dropping sockets", "channel", kind.String(), "count", len(peers), "code", int(code))
	return len(peers)
}

// ExpireSessions invalidates every issued token and closes admin sockets
// with StatusSessionExpired.
func (s *Server) ExpireSessions() {
	s.mu.Lock()
	s.tokens = &tokenIssuer{secret: newSecret(), ttl: s.opts.TokenTTL, now: s.opts.Now}
	s.mu.Unlock()
	s.Drop(channel.Admin, StatusSessionExpired, "session expired")
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request")
		return
	}

	s.mu.Lock()
	acct, ok := s.accounts[body.Username]
	s.mu.Unlock()
	if !ok || acct.Password != body.Password {
		writeError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}

	s.issueSession(w, acct)
}

func (s *Server) handleRenew(w http.ResponseWriter, r *http.Request) {
	acct, ok := s.sessionAccount(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	s.issueSession(w, acct)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{Name: s.opts.CookieName, Value: "", Path: "/", MaxAge: -1})
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleLogo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.opts.Fixtures.Logo)
}

func (s *Server) handleAdminSocket(w http.ResponseWriter, r *http.Request) {
	acct, ok := s.sessionAccount(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	s.serveSocket(w, r, channel.Admin, acct.ID)
}

func (s *Server) issueSession(w http.ResponseWriter, acct Account) {
	s.mu.Lock()
	tokens := s.tokens
	s.mu.Unlock()

	token, _, err := tokens.Generate(acct.Username)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     s.opts.CookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
	})
	writeJSON(w, http.StatusOK, httpapi.User{
		ID:       httpapi.ID(acct.ID),
		Username: acct.Username,
		Email:    acct.Email,
		Roles:    acct.Roles,
	})
}

func (s *Server) sessionAccount(r *http.Request) (Account, bool) {
	ck, err := r.Cookie(s.opts.CookieName)
	if err != nil || ck.Value == "" {
		return Account{}, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	username, err := s.tokens.Verify(ck.Value)
	if err != nil {
		s.logger.Debug("rejected session", "error", err)
		return Account{}, false
	}
	acct, ok := s.accounts[username]
	return acct, ok
}

func (s *Server) serveSocket(w http.ResponseWriter, r *http.Request, kind channel.Kind, accountID string) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Warn("socket accept failed", "channel", kind.String(), "error", err)
		return
	}

	p := &peer{kind: kind, accountID: accountID, conn: conn}
	s.mu.Lock()
	s.peers[p] = struct{}{}
	s.broadcastLocked()
	s.mu.Unlock()

	s.logger.Info("socket opened", "channel", kind.String(), "account", accountID)

	var expiry *time.Timer
	if kind == channel.Admin && !s.opts.KeepExpiredSockets {
		expiry = time.AfterFunc(s.opts.TokenTTL, func() {
			_ = conn.Close(StatusSessionExpired, "session expired")
		})
	}

	closure := Closure{Kind: kind, AccountID: accountID, Status: -1}
	defer func() {
		if expiry != nil {
			expiry.Stop()
		}
		s.mu.Lock()
		delete(s.peers, p)
		s.closures = append(s.closures, closure)
		s.broadcastLocked()
		s.mu.Unlock()
		_ = conn.CloseNow()
		s.logger.Info("socket closed", "channel", kind.String(), "account", accountID)
	}()

	ctx := r.Context()
	for {
		var env envelope.Envelope
		if err := wsjson.Read(ctx, conn, &env); err != nil {
			var ce websocket.CloseError
			if errors.As(err, &ce) {
				closure.Status = ce.Code
				closure.Reason = ce.Reason
			}
			return
		}
		req := Request{Kind: kind, AccountID: accountID, Envelope: env}

		s.mu.Lock()
		s.received[kind] = append(s.received[kind], req)
		responder := s.routes[routeKey{env.Context, env.Type}]
		s.broadcastLocked()
		s.mu.Unlock()

		var replies []envelope.Envelope
		if responder != nil {
			replies = responder(req)
		} else {
			replies = []envelope.Envelope{mustEnvelope(envelope.ContextError, envelope.TypeServerError, map[string]any{
				"errorCode":   "404",
				"errorReason": "unknown request " + env.String(),
			})}
		}
		for _, reply := range replies {
			if err := wsjson.Write(ctx, conn, reply); err != nil {
				s.logger.Warn("socket write failed", "channel", kind.String(), "error", err)
				return
			}
		}
	}
}

func (s *Server) snapshotPeers(kind *channel.Kind) []*peer {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*peer
	for p := range s.peers {
		if kind == nil || p.kind == *kind {
			out = append(out, p)
		}
	}
	return out
}

// wait re-evaluates cond, under the lock, after every recorded change.
func (s *Server) wait(ctx context.Context, cond func() bool) error {
	for {
		s.mu.Lock()
		if cond() {
			s.mu.Unlock()
			return nil
		}
		ch := s.changed
		s.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Server) broadcastLocked() {
	close(s.changed)
	s.changed = make(chan struct{})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, httpapi.ErrorResponse{Error: msg})
}

func newSecret() []byte {
	b := make([]byte, 32)
	_, _ = rand.Read(b)
	return b
}
