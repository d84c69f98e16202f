// ABOUTME: HTTP boundary client for the controller's non-realtime endpoints
// ABOUTME: Session renewal, login, logout and logo fetch sharing one cookie jar

package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"
)

// Endpoint paths on the controller.
const (
	PathRenewSession = "/api/renew-session"
	PathLogIn        = "/api/user/log-in"
	PathLogOut       = "/api/user/log-out"
	PathLogo         = "/api/logo"
)

// DefaultCookieName is the session cookie set by the controller.
const DefaultCookieName = "sessionId"

// ErrUnauthorized is returned for 401 and 403 responses.
var ErrUnauthorized = errors.New("unauthorized")

const defaultTimeout = 15 * time.Second

// ID accepts both string and numeric identifiers.
type ID string

// UnmarshalJSON implements json.Unmarshaler.
func (id *ID) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id is neither string nor number: %s", string(b))
	}
	*id = ID(n.String())
	return nil
}

// User is the identity returned by renewal and login.
type User struct {
	ID       ID       `json:"id"`
	Username string   `json:"username"`
	Email    string   `json:"email,omitempty"`
	Roles    []string `json:"roles"`
}

// ErrorResponse is the JSON body of a failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Options configures a Client.
type Options struct {
	// HTTPClient is used for every request. A client without a jar gets one.
	HTTPClient *http.Client
	CookieName string
	Logger     *slog.Logger
}

// Client talks to the controller over plain HTTP.
type Client struct {
	base       *url.URL
	client     *http.Client
	cookieName string
	logger     *slog.Logger
}

// New creates a client for the controller at baseURL.
func New(baseURL string, opts Options) (*Client, error) {
	base, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base url must be http or https, got %q", base.Scheme)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.CookieName == "" {
		opts.CookieName = DefaultCookieName
	}

	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: defaultTimeout}
	}
	if hc.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("creating cookie jar: %w", err)
		}
		hc.Jar = jar
	}

	return &Client{
		base:       base,
		client:     hc,
		cookieName: opts.CookieName,
		logger:     opts.Logger.With("component", "httpapi"),
	}, nil
}

// HTTPClient returns the client carrying the session cookie jar, so socket
// upgrades present the same session.
func (c *Client) HTTPClient() *http.Client {
	return c.client
}

// SessionToken returns the session cookie value, or "" without a session.
func (c *Client) SessionToken() string {
	for _, ck := range c.client.Jar.Cookies(c.base) {
		if ck.Name == c.cookieName {
			return ck.Value
		}
	}
	return ""
}

// ClearSession drops the session cookie locally.
func (c *Client) ClearSession() {
	c.client.Jar.SetCookies(c.base, []*http.Cookie{{
		Name:   c.cookieName,
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	}})
}

// RenewSession extends the session cookie and returns the logged-in user.
func (c *Client) RenewSession(ctx context.Context) (User, error) {
	var u User
	if err := c.do(ctx, http.MethodGet, PathRenewSession, nil, &u); err != nil {
		return User{}, fmt.Errorf("renewing session: %w", err)
	}
	return u, nil
}

// Login checks credentials. On success the controller sets the session cookie.
func (c *Client) Login(ctx context.Context, username, password string) (User, error) {
	body := map[string]string{"username": username, "password": password}
	var u User
	if err := c.do(ctx, http.MethodPost, PathLogIn, body, &u); err != nil {
		return User{}, fmt.Errorf("logging in: %w", err)
	}
	return u, nil
}

// Logout ends the session on the controller.
func (c *Client) Logout(ctx context.Context) error {
	if err := c.do(ctx, http.MethodPost, PathLogOut, nil, nil); err != nil {
		return fmt.Errorf("logging out: %w", err)
	}
	return nil
}

// Logo fetches the organization logo record.
func (c *Client) Logo(ctx context.Context) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, PathLogo, nil, &raw); err != nil {
		return nil, fmt.Errorf("fetching logo: %w", err)
	}
	return raw, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, body)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	c.logger.Debug("controller request", "method", method, "path", path, "status", resp.StatusCode)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.handleErrorResponse(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// handleErrorResponse extracts an error message from non-2xx responses.
func (c *Client) handleErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	msg := strings.TrimSpace(string(body))
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		var errResp ErrorResponse
		if json.Unmarshal(body, &errResp) == nil && errResp.Error != "" {
			msg = errResp.Error
		}
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("%w (%d): %s", ErrUnauthorized, resp.StatusCode, msg)
	}
	return fmt.Errorf("controller returned status %d: %s", resp.StatusCode, msg)
}
