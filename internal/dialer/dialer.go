package dialer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// Dialer mirrors the net.Dialer interface.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// DefaultSOCKS5Port is applied when the upstream URL has no port.
const DefaultSOCKS5Port = "1080"

// New parses upstream and constructs the SOCKS5 dialer for it.
//
// The upstream must have the form socks5://[user:pass@]host[:port]. Credentials
// in the URL are offered to the proxy with username/password authentication.
func New(cfg Config, upstream string) (*SOCKS5ProxyDialer, error) {
	u, err := url.Parse(upstream)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}

	u.Scheme = strings.ToLower(u.Scheme)

	if u.Path != "" && u.Path != "/" {
		return nil, errors.New("invalid URL: path should be empty")
	}

	switch u.Scheme {
	case "":
		return nil, errors.New("invalid url: missing scheme")
	case "socks5":
	default:
		return nil, fmt.Errorf("invalid url scheme: %q", u.Scheme)
	}

	if u.Hostname() == "" {
		return nil, errors.New("invalid url: missing host")
	}
	if u.Port() == "" {
		u.Host = net.JoinHostPort(u.Hostname(), DefaultSOCKS5Port)
	}

	var user, pass string
	if u.User != nil {
		user = u.User.Username()
		pass, _ = u.User.Password()
	}

	return NewSOCKS5ProxyDialer(cfg, u.Host, user, pass), nil
}
