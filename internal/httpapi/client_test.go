// ABOUTME: Tests for the controller HTTP boundary client
// ABOUTME: Covers cookie handling, renewal, login, logout, logo and error mapping

package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newControllerStub(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+PathLogIn, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body["password"] != "hunter2" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"bad credentials"}`))
			return
		}
		http.SetCookie(w, &http.Cookie{Name: DefaultCookieName, Value: "tok-1", Path: "/"})
		_, _ = w.Write([]byte(`{"id":7,"username":"ada","roles":["admin"]}`))
	})
	mux.HandleFunc("GET "+PathRenewSession, func(w http.ResponseWriter, r *http.Request) {
		ck, err := r.Cookie(DefaultCookieName)
		if err != nil || ck.Value == "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"id":"u-7","username":"ada","roles":["admin","viewer"]}`))
	})
	mux.HandleFunc("POST "+PathLogOut, func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: DefaultCookieName, Value: "", Path: "/", MaxAge: -1})
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET "+PathLogo, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"name":"logo","image":"aGk="}`))
	})
	mux.HandleFunc("GET /api/broken", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "kaput", http.StatusInternalServerError)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestNew_RejectsNonHTTPBase(t *testing.T) {
	_, err := New("ws://localhost", Options{})
	assert.Error(t, err)
}

func TestClient_LoginSetsSessionCookie(t *testing.T) {
	srv := newControllerStub(t)
	c, err := New(srv.URL, Options{})
	require.NoError(t, err)

	assert.Empty(t, c.SessionToken())

	u, err := c.Login(t.Context(), "ada", "hunter2")
	require.NoError(t, err)
	assert.Equal(t, ID("7"), u.ID)
	assert.Equal(t, []string{"admin"}, u.Roles)
	assert.Equal(t, "tok-1", c.SessionToken())
}

func TestClient_LoginBadCredentials(t *testing.T) {
	srv := newControllerStub(t)
	c, err := New(srv.URL, Options{})
	require.NoError(t, err)

	_, err = c.Login(t.Context(), "ada", "wrong")
	require.ErrorIs(t, err, ErrUnauthorized)
	assert.Contains(t, err.Error(), "bad credentials")
	assert.Empty(t, c.SessionToken())
}

func TestClient_RenewWithoutSessionIsUnauthorized(t *testing.T) {
	srv := newControllerStub(t)
	c, err := New(srv.URL, Options{})
	require.NoError(t, err)

	_, err = c.RenewSession(t.Context())
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestClient_RenewAfterLogin(t *testing.T) {
	srv := newControllerStub(t)
	c, err := New(srv.URL, Options{})
	require.NoError(t, err)

	_, err = c.Login(t.Context(), "ada", "hunter2")
	require.NoError(t, err)

	u, err := c.RenewSession(t.Context())
	require.NoError(t, err)
	assert.Equal(t, ID("u-7"), u.ID)
	assert.Equal(t, "ada", u.Username)
	assert.Equal(t, []string{"admin", "viewer"}, u.Roles)
}

func TestClient_LogoutClearsCookie(t *testing.T) {
	srv := newControllerStub(t)
	c, err := New(srv.URL, Options{})
	require.NoError(t, err)

	_, err = c.Login(t.Context(), "ada", "hunter2")
	require.NoError(t, err)
	require.NoError(t, c.Logout(t.Context()))
	assert.Empty(t, c.SessionToken())
}

func TestClient_ClearSession(t *testing.T) {
	srv := newControllerStub(t)
	c, err := New(srv.URL, Options{})
	require.NoError(t, err)

	_, err = c.Login(t.Context(), "ada", "hunter2")
	require.NoError(t, err)
	c.ClearSession()
	assert.Empty(t, c.SessionToken())
}

func TestClient_Logo(t *testing.T) {
	srv := newControllerStub(t)
	c, err := New(srv.URL, Options{})
	require.NoError(t, err)

	raw, err := c.Logo(t.Context())
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"logo","image":"aGk="}`, string(raw))
}

func TestClient_ServerErrorIsNotUnauthorized(t *testing.T) {
	srv := newControllerStub(t)
	c, err := New(srv.URL, Options{})
	require.NoError(t, err)

	err = c.do(t.Context(), http.MethodGet, "/api/broken", nil, nil)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnauthorized)
	assert.Contains(t, err.Error(), "500")
	assert.Contains(t, err.Error(), "kaput")
}

func TestID_Unmarshal(t *testing.T) {
	var u User
	require.NoError(t, json.Unmarshal([]byte(`{"id":12}`), &u))
	assert.Equal(t, ID("12"), u.ID)
	require.NoError(t, json.Unmarshal([]byte(`{"id":"abc"}`), &u))
	assert.Equal(t, ID("abc"), u.ID)
	assert.Error(t, json.Unmarshal([]byte(`{"id":{}}`), &u))
}
