// ABOUTME: Tests for the fake controller's HTTP boundary and sockets
// ABOUTME: Drives it with the real httpapi client and raw websocket dials

package controllertest

import (
	"errors"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/cardea-console/internal/channel"
	"github.com/2389/cardea-console/internal/envelope"
	"github.com/2389/cardea-console/internal/httpapi"
)

var testAccount = Account{ID: "u-1", Username: "ada", Password: "hunter2", Roles: []string{"admin"}}

func startServer(t *testing.T, opts Options) (*Server, *httpapi.Client) {
	t.Helper()
	if opts.Accounts == nil {
		opts.Accounts = []Account{testAccount}
	}
	s := New(opts)
	base := s.Start()
	t.Cleanup(s.Close)

	c, err := httpapi.New(base, httpapi.Options{})
	require.NoError(t, err)
	return s, c
}

func dial(t *testing.T, c *httpapi.Client, base, path string) (*websocket.Conn, error) {
	t.Helper()
	url, err := channel.SocketURL(base, path)
	require.NoError(t, err)
	conn, _, err := websocket.Dial(t.Context(), url, &websocket.DialOptions{HTTPClient: c.HTTPClient()})
	if err == nil {
		t.Cleanup(func() { _ = conn.CloseNow() })
	}
	return conn, err
}

func TestServer_LoginAndRenew(t *testing.T) {
	_, c := startServer(t, Options{})

	_, err := c.RenewSession(t.Context())
	require.ErrorIs(t, err, httpapi.ErrUnauthorized)

	_, err = c.Login(t.Context(), "ada", "wrong")
	require.ErrorIs(t, err, httpapi.ErrUnauthorized)

	u, err := c.Login(t.Context(), "ada", "hunter2")
	require.NoError(t, err)
	assert.Equal(t, httpapi.ID("u-1"), u.ID)
	assert.NotEmpty(t, c.SessionToken())

	u, err = c.RenewSession(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "ada", u.Username)

	require.NoError(t, c.Logout(t.Context()))
	assert.Empty(t, c.SessionToken())
}

func TestServer_AdminSocketRequiresSession(t *testing.T) {
	s, c := startServer(t, Options{})

	_, err := dial(t, c, s.URL(), "/api/admin/ws")
	require.Error(t, err)

	_, err = c.Login(t.Context(), "ada", "hunter2")
	require.NoError(t, err)
	_, err = dial(t, c, s.URL(), "/api/admin/ws")
	require.NoError(t, err)
	require.NoError(t, s.WaitConns(t.Context(), channel.Admin, 1))
}

func TestServer_ScriptedReply(t *testing.T) {
	s, c := startServer(t, Options{})

	conn, err := dial(t, c, s.URL(), "/api/anon/ws")
	require.NoError(t, err)

	req, err := envelope.New(envelope.ContextSettings, envelope.TypeGetTheme, nil)
	require.NoError(t, err)
	require.NoError(t, wsjson.Write(t.Context(), conn, req))

	var reply envelope.Envelope
	require.NoError(t, wsjson.Read(t.Context(), conn, &reply))
	assert.Equal(t, envelope.TypeSettingsTheme, reply.Type)
	assert.Contains(t, string(reply.Data), "#0b3d91")

	got, err := s.WaitRequest(t.Context(), channel.Anonymous, envelope.ContextSettings, envelope.TypeGetTheme)
	require.NoError(t, err)
	assert.Equal(t, channel.Anonymous, got.Kind)
	assert.Len(t, s.Received(channel.Anonymous), 1)
	assert.Empty(t, s.Received(channel.Admin))
}

func TestServer_UnknownRequestIsServerError(t *testing.T) {
	s, c := startServer(t, Options{})

	conn, err := dial(t, c, s.URL(), "/api/anon/ws")
	require.NoError(t, err)

	req, err := envelope.New("BOGUS", "NOPE", nil)
	require.NoError(t, err)
	require.NoError(t, wsjson.Write(t.Context(), conn, req))

	var reply envelope.Envelope
	require.NoError(t, wsjson.Read(t.Context(), conn, &reply))
	assert.Equal(t, envelope.ContextError, reply.Context)
	assert.Equal(t, envelope.TypeServerError, reply.Type)
}

func TestServer_Push(t *testing.T) {
	s, c := startServer(t, Options{})

	conn, err := dial(t, c, s.URL(), "/api/anon/ws")
	require.NoError(t, err)
	require.NoError(t, s.WaitConns(t.Context(), channel.Anonymous, 1))

	err = s.Push(t.Context(), channel.Admin, mustEnvelope(envelope.ContextUsers, envelope.TypeUsers, nil))
	require.Error(t, err)

	pushed := mustEnvelope(envelope.ContextContacts, envelope.TypeContacts, map[string]any{"contacts": []any{}})
	require.NoError(t, s.Push(t.Context(), channel.Anonymous, pushed))

	var got envelope.Envelope
	require.NoError(t, wsjson.Read(t.Context(), conn, &got))
	assert.Equal(t, envelope.TypeContacts, got.Type)
}

func TestServer_ExpireSessions(t *testing.T) {
	s, c := startServer(t, Options{})

	_, err := c.Login(t.Context(), "ada", "hunter2")
	require.NoError(t, err)
	conn, err := dial(t, c, s.URL(), "/api/admin/ws")
	require.NoError(t, err)
	require.NoError(t, s.WaitConns(t.Context(), channel.Admin, 1))

	s.ExpireSessions()

	_, _, err = conn.Read(t.Context())
	var ce websocket.CloseError
	require.True(t, errors.As(err, &ce), "expected close error, got %v", err)
	assert.Equal(t, StatusSessionExpired, ce.Code)

	_, err = c.RenewSession(t.Context())
	assert.ErrorIs(t, err, httpapi.ErrUnauthorized)
}

func TestServer_AdminSocketClosesWhenTokenLapses(t *testing.T) {
	s, c := startServer(t, Options{TokenTTL: 200 * time.Millisecond})

	_, err := c.Login(t.Context(), "ada", "hunter2")
	require.NoError(t, err)
	conn, err := dial(t, c, s.URL(), "/api/admin/ws")
	require.NoError(t, err)

	_, _, err = conn.Read(t.Context())
	assert.Equal(t, StatusSessionExpired, websocket.CloseStatus(err))
}

func TestServer_RecordsClientCloseStatus(t *testing.T) {
	s, c := startServer(t, Options{})

	_, err := c.Login(t.Context(), "ada", "hunter2")
	require.NoError(t, err)
	conn, err := dial(t, c, s.URL(), "/api/admin/ws")
	require.NoError(t, err)
	require.NoError(t, s.WaitConns(t.Context(), channel.Admin, 1))

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, "bye"))

	closure, err := s.WaitClosure(t.Context(), channel.Admin)
	require.NoError(t, err)
	assert.Equal(t, websocket.StatusNormalClosure, closure.Status)
	assert.Equal(t, "bye", closure.Reason)
	assert.Equal(t, testAccount.ID, closure.AccountID)
	assert.Empty(t, s.Closures(channel.Anonymous))
}

func TestTokenIssuer(t *testing.T) {
	now := time.Unix(1_800_000_000, 0)
	iss := &tokenIssuer{secret: []byte("secret"), ttl: time.Minute, now: func() time.Time { return now }}

	tok, exp, err := iss.Generate("ada")
	require.NoError(t, err)
	assert.Equal(t, now.Add(time.Minute), exp)

	sub, err := iss.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, "ada", sub)

	now = now.Add(2 * time.Minute)
	_, err = iss.Verify(tok)
	assert.ErrorIs(t, err, ErrExpiredToken)

	other := &tokenIssuer{secret: []byte("other"), ttl: time.Minute, now: time.Now}
	_, err = other.Verify(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
