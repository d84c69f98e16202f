// ABOUTME: Tests for the session coordinator phase machine
// ABOUTME: Uses a fake HTTP boundary and signed JWT session tokens

package session

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/cardea-console/internal/channel"
	"github.com/2389/cardea-console/internal/httpapi"
)

type fakeBoundary struct {
	token     string
	user      httpapi.User
	renewErr  error
	loginErr  error
	logoutErr error
	loginTok  string
	logouts   int
	clears    int
}

func (f *fakeBoundary) RenewSession(ctx context.Context) (httpapi.User, error) {
	if f.renewErr != nil {
		return httpapi.User{}, f.renewErr
	}
	return f.user, nil
}

func (f *fakeBoundary) Login(ctx context.Context, username, password string) (httpapi.User, error) {
	if f.loginErr != nil {
		return httpapi.User{}, f.loginErr
	}
	f.token = f.loginTok
	return f.user, nil
}

func (f *fakeBoundary) Logout(ctx context.Context) error {
	if f.logoutErr != nil {
		return f.logoutErr
	}
	f.logouts++
	return nil
}

func (f *fakeBoundary) SessionToken() string { return f.token }

func (f *fakeBoundary) ClearSession() {
	f.clears++
	f.token = ""
}

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "u-1",
		"exp": exp.Unix(),
	})
	s, err := tok.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return s
}

func fixedNow() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

func TestCoordinator_StartsUnauthenticated(t *testing.T) {
	c := New(&fakeBoundary{}, Options{})
	assert.Equal(t, Unauthenticated, c.Phase())
	assert.Equal(t, channel.Anonymous, c.Active())
	assert.True(t, c.ExpiresAt().IsZero())
	assert.False(t, c.Expired())
}

func TestCoordinator_RenewWithoutSession(t *testing.T) {
	b := &fakeBoundary{renewErr: fmt.Errorf("renewing session: %w", httpapi.ErrUnauthorized)}
	c := New(b, Options{})

	ok, err := c.Renew(t.Context())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, channel.Anonymous, c.Active())
}

func TestCoordinator_RenewTransportError(t *testing.T) {
	b := &fakeBoundary{renewErr: errors.New("connection refused")}
	c := New(b, Options{})

	ok, err := c.Renew(t.Context())
	require.Error(t, err)
	assert.False(t, ok)
	assert.Equal(t, Unauthenticated, c.Phase())
}

func TestCoordinator_RenewWithoutCookie(t *testing.T) {
	b := &fakeBoundary{user: httpapi.User{ID: "1", Username: "ada"}}
	c := New(b, Options{})

	ok, err := c.Renew(t.Context())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, Unauthenticated, c.Phase())
}

func TestCoordinator_RenewUsesTokenExpiry(t *testing.T) {
	exp := fixedNow().Add(20 * time.Minute).Truncate(time.Second)
	b := &fakeBoundary{
		token: signedToken(t, exp),
		user:  httpapi.User{ID: "1", Username: "ada", Roles: []string{"admin"}},
	}
	c := New(b, Options{Now: fixedNow})

	ok, err := c.Renew(t.Context())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, Authenticated, c.Phase())
	assert.Equal(t, channel.Admin, c.Active())
	assert.True(t, exp.Equal(c.ExpiresAt()))

	s := c.Session()
	assert.Equal(t, "1", s.UserID)
	assert.Equal(t, "ada", s.Username)
	assert.Equal(t, []string{"admin"}, s.Roles)
}

func TestCoordinator_OpaqueTokenUsesDefaultTimeout(t *testing.T) {
	b := &fakeBoundary{token: "opaque", user: httpapi.User{ID: "1", Username: "ada"}}
	c := New(b, Options{DefaultTimeout: 5 * time.Minute, Now: fixedNow})

	ok, err := c.Renew(t.Context())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, fixedNow().Add(5*time.Minute), c.ExpiresAt())
}

func TestCoordinator_Expired(t *testing.T) {
	now := fixedNow()
	b := &fakeBoundary{token: "opaque"}
	c := New(b, Options{DefaultTimeout: time.Minute, Now: func() time.Time { return now }})

	require.NoError(t, c.SetUpUser("1", "ada", nil))
	assert.False(t, c.Expired())

	now = now.Add(2 * time.Minute)
	assert.True(t, c.Expired())
}

func TestCoordinator_ExpireEndsLapsedSession(t *testing.T) {
	now := fixedNow()
	b := &fakeBoundary{token: "opaque"}
	var transitions []string
	c := New(b, Options{
		DefaultTimeout: time.Minute,
		Now:            func() time.Time { return now },
		OnChange:       func(from, to Phase) { transitions = append(transitions, to.String()) },
	})
	require.NoError(t, c.SetUpUser("1", "ada", nil))

	assert.False(t, c.Expire("opaque"), "not lapsed yet")
	assert.Equal(t, Authenticated, c.Phase())

	now = now.Add(time.Minute)
	assert.False(t, c.Expire("older-token"), "stale timer for a replaced session")
	assert.Equal(t, Authenticated, c.Phase())

	assert.True(t, c.Expire("opaque"))
	assert.Equal(t, Unauthenticated, c.Phase())
	assert.Equal(t, channel.Anonymous, c.Active())
	assert.Equal(t, 1, b.clears)
	assert.Equal(t, []string{"authenticated", "unauthenticated"}, transitions)

	assert.False(t, c.Expire("opaque"))
}

func TestCoordinator_SetUpUserRequiresToken(t *testing.T) {
	c := New(&fakeBoundary{}, Options{})

	err := c.SetUpUser("1", "ada", []string{"admin"})
	require.ErrorIs(t, err, ErrNoSession)
	assert.Equal(t, Unauthenticated, c.Phase())
}

func TestCoordinator_LoginDrivesAdmin(t *testing.T) {
	var transitions []string
	b := &fakeBoundary{loginTok: "tok", user: httpapi.User{ID: "9", Username: "ada", Roles: []string{"admin"}}}
	c := New(b, Options{OnChange: func(from, to Phase) {
		transitions = append(transitions, from.String()+"->"+to.String())
	}})

	require.NoError(t, c.Login(t.Context(), "ada", "pw"))
	assert.Equal(t, channel.Admin, c.Active())
	assert.Equal(t, "9", c.Session().UserID)
	assert.Equal(t, []string{"unauthenticated->authenticated"}, transitions)
}

func TestCoordinator_LoginFailureStaysAnonymous(t *testing.T) {
	b := &fakeBoundary{loginErr: httpapi.ErrUnauthorized}
	c := New(b, Options{})

	err := c.Login(t.Context(), "ada", "bad")
	require.ErrorIs(t, err, httpapi.ErrUnauthorized)
	assert.Equal(t, channel.Anonymous, c.Active())
}

func TestCoordinator_LogoutNavigates(t *testing.T) {
	b := &fakeBoundary{token: "tok"}
	c := New(b, Options{})
	require.NoError(t, c.SetUpUser("1", "ada", nil))

	var went string
	require.NoError(t, c.Logout(t.Context(), func(p string) { went = p }))
	assert.Equal(t, LoginPath, went)
	assert.Equal(t, 1, b.logouts)
	assert.Equal(t, Unauthenticated, c.Phase())
	assert.Empty(t, c.Session().Token)

	assert.Equal(t, 1, b.clears, "session cookie dropped")
	assert.ErrorIs(t, c.SetUpUser("1", "ada", nil), ErrNoSession)
}

func TestCoordinator_LogoutFailureKeepsSession(t *testing.T) {
	b := &fakeBoundary{token: "tok", logoutErr: errors.New("boom")}
	c := New(b, Options{})
	require.NoError(t, c.SetUpUser("1", "ada", nil))

	called := false
	require.Error(t, c.Logout(t.Context(), func(string) { called = true }))
	assert.False(t, called)
	assert.Equal(t, Authenticated, c.Phase())
	assert.Zero(t, b.clears)
}

func TestCoordinator_AdminClosedClearsSession(t *testing.T) {
	var transitions int
	b := &fakeBoundary{token: "tok"}
	c := New(b, Options{OnChange: func(from, to Phase) { transitions++ }})
	require.NoError(t, c.SetUpUser("1", "ada", nil))

	c.HandleAdminClosed()
	assert.Equal(t, channel.Anonymous, c.Active())
	assert.True(t, c.ExpiresAt().IsZero())
	assert.Equal(t, "tok", b.token, "cookie kept for renewal")

	c.HandleAdminClosed()
	assert.Equal(t, 2, transitions)
}

func TestTokenExpiry(t *testing.T) {
	exp := time.Unix(1_900_000_000, 0)
	got, ok := TokenExpiry(signedToken(t, exp))
	require.True(t, ok)
	assert.True(t, exp.Equal(got))

	_, ok = TokenExpiry("not-a-jwt")
	assert.False(t, ok)

	noExp, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "x"}).SignedString([]byte("k"))
	require.NoError(t, err)
	_, ok = TokenExpiry(noExp)
	assert.False(t, ok)
}
