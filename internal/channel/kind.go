// ABOUTME: Channel kinds and controller URL derivation
// ABOUTME: Anonymous serves the public surface, Admin the privileged one

package channel

import (
	"fmt"
	"net/url"
	"strings"
)

// Kind identifies one of the two controller channels.
type Kind int

const (
	Anonymous Kind = iota
	Admin
)

// Kinds lists every channel kind.
var Kinds = []Kind{Anonymous, Admin}

func (k Kind) String() string {
	switch k {
	case Anonymous:
		return "anonymous"
	case Admin:
		return "admin"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// SocketURL joins the controller base URL with a socket path, swapping the
// scheme to ws or wss.
func SocketURL(base, path string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parsing base url: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported base url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("base url %q has no host", base)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/" + strings.TrimPrefix(path, "/")
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}
