// ABOUTME: Tests for tailnet dialer helpers that do not need a live tailnet
// ABOUTME: Covers state dir and auth key resolution, status parsing and unstarted use

package tailnet

import (
	"net/http/cookiejar"
	"net/netip"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"tailscale.com/ipn/ipnstate"

	"github.com/2389/cardea-console/internal/config"
)

func TestResolveStateDir(t *testing.T) {
	dir, err := resolveStateDir("/var/lib/cardea/ts")
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/cardea/ts", dir)

	t.Setenv("HOME", "/home/tester")
	dir, err = resolveStateDir("")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/home/tester", ".local", "share", "cardea-console", "tailscale"), dir)
}

func TestResolveAuthKey(t *testing.T) {
	t.Setenv("TS_AUTHKEY", "")
	_, err := resolveAuthKey("")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "TS_AUTHKEY"))

	key, err := resolveAuthKey("tskey-config")
	require.NoError(t, err)
	assert.Equal(t, "tskey-config", key)

	t.Setenv("TS_AUTHKEY", "tskey-env")
	key, err = resolveAuthKey("")
	require.NoError(t, err)
	assert.Equal(t, "tskey-env", key)
}

func TestStatusAddr(t *testing.T) {
	ip, dns := statusAddr(nil)
	assert.Empty(t, ip)
	assert.Empty(t, dns)

	ip, dns = statusAddr(&ipnstate.Status{
		TailscaleIPs: []netip.Addr{netip.MustParseAddr("100.64.0.7")},
		Self:         &ipnstate.PeerStatus{DNSName: "cardea-console.tail1234.ts.net."},
	})
	assert.Equal(t, "100.64.0.7", ip)
	assert.Equal(t, "cardea-console.tail1234.ts.net.", dns)
}

func TestDialer_Unstarted(t *testing.T) {
	d := New(config.TailscaleConfig{Hostname: "cardea-console"}, nil)

	_, err := d.DialContext(t.Context(), "tcp", "controller:443")
	assert.ErrorIs(t, err, ErrNotStarted)

	ip, dns := d.Addr()
	assert.Empty(t, ip)
	assert.Empty(t, dns)
	assert.NoError(t, d.Close())
}

func TestDialer_HTTPClientKeepsJar(t *testing.T) {
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)

	d := New(config.TailscaleConfig{}, nil)
	hc := d.HTTPClient(jar, 5*time.Second)
	assert.Same(t, jar, hc.Jar)
	assert.Equal(t, 5*time.Second, hc.Timeout)
	assert.NotNil(t, hc.Transport)
}

func TestDialer_StartWithoutAuthKeyFails(t *testing.T) {
	t.Setenv("TS_AUTHKEY", "")
	d := New(config.TailscaleConfig{Hostname: "cardea-console", StateDir: t.TempDir()}, nil)

	err := d.Start(t.Context())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "auth key required")
}
