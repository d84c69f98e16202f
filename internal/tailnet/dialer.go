// ABOUTME: Optional tsnet node for reaching a controller that listens only on a tailnet
// ABOUTME: Supplies a DialContext and an HTTP client whose connections ride the tailnet

package tailnet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/2389/cardea-console/internal/config"
)

// ErrNotStarted is returned when dialing before Start.
var ErrNotStarted = errors.New("tailnet node not started")

// Dialer owns a userspace tailscale node.
type Dialer struct {
	cfg    config.TailscaleConfig
	logger *slog.Logger

	mu     sync.Mutex
	server *tsnet.Server
	status *ipnstate.Status
}

// New creates a Dialer. Nothing touches the network until Start.
func New(cfg config.TailscaleConfig, logger *slog.Logger) *Dialer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dialer{cfg: cfg, logger: logger.With("component", "tailnet")}
}

// Start brings the node up and waits until it is reachable.
func (d *Dialer) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.server != nil {
		return nil
	}

	stateDir, err := resolveStateDir(d.cfg.StateDir)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey, err := resolveAuthKey(d.cfg.AuthKey)
	if err != nil {
		return err
	}

	srv := &tsnet.Server{
		Hostname:  d.cfg.Hostname,
		Dir:       stateDir,
		Ephemeral: d.cfg.Ephemeral,
		AuthKey:   authKey,
		Logf: func(format string, args ...any) {
			d.logger.Debug(fmt.Sprintf(format, args...))
		},
	}

	d.logger.Info("starting tailscale node", "hostname", d.cfg.Hostname, "state_dir", stateDir, "ephemeral", d.cfg.Ephemeral)
	status, err := srv.Up(ctx)
	if err != nil {
		_ = srv.Close()
		return fmt.Errorf("starting tailscale: %w", err)
	}

	d.server = srv
	d.status = status
	d.logStatus(status)
	return nil
}

// DialContext dials address through the tailnet. It has the signature of
// http.Transport.DialContext.
func (d *Dialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	d.mu.Lock()
	srv := d.server
	d.mu.Unlock()
	if srv == nil {
		return nil, ErrNotStarted
	}
	conn, err := srv.Dial(ctx, network, address)
	if err != nil {
		return nil, fmt.Errorf("dialing %s over tailnet: %w", address, err)
	}
	return conn, nil
}

// HTTPClient returns a client that dials through the tailnet and keeps
// cookies in jar.
func (d *Dialer) HTTPClient(jar http.CookieJar, timeout time.Duration) *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DialContext:         d.DialContext,
			ForceAttemptHTTP2:   true,
			TLSHandshakeTimeout: 10 * time.Second,
			IdleConnTimeout:     90 * time.Second,
		},
		Jar:     jar,
		Timeout: timeout,
	}
}

// Addr returns the node's first tailscale IP and DNS name once started.
func (d *Dialer) Addr() (ip, dnsName string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return statusAddr(d.status)
}

// Close shuts the node down.
func (d *Dialer) Close() error {
	d.mu.Lock()
	srv := d.server
	d.server = nil
	d.status = nil
	d.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Close()
}

func (d *Dialer) logStatus(status *ipnstate.Status) {
	ip, dnsName := statusAddr(status)
	if ip == "" {
		d.logger.Warn("tailscale node has no IP addresses assigned")
	}
	d.logger.Info("tailscale node ready", "hostname", d.cfg.Hostname, "tailscale_ip", ip, "dns_name", dnsName)
}

func statusAddr(status *ipnstate.Status) (ip, dnsName string) {
	if status == nil {
		return "", ""
	}
	if len(status.TailscaleIPs) > 0 {
		ip = status.TailscaleIPs[0].String()
	}
	if status.Self != nil {
		dnsName = status.Self.DNSName
	}
	return ip, dnsName
}

// resolveStateDir returns the state directory, using default if not configured.
func resolveStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "cardea-console", "tailscale"), nil
}

// resolveAuthKey returns the auth key from config or environment.
func resolveAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set tailscale.auth_key in config or TS_AUTHKEY environment variable")
	}
	return authKey, nil
}
