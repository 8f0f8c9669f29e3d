package dialer

import (
	"context"
	"fmt"
	"net"
	"strings"

	"github.com/OutisNemo/socksrelay/internal/socks5"
)

// SOCKS5ProxyDialer dials outbound TCP connections through a single upstream
// SOCKS5 proxy.
type SOCKS5ProxyDialer struct {
	proxyAddr string
	auth      socks5.Auth
	direct    Dialer
}

// NewSOCKS5ProxyDialer constructs a dialer for the proxy at proxyAddr.
//
// If username is non-empty, username/password authentication is offered in
// addition to no-auth.
func NewSOCKS5ProxyDialer(cfg Config, proxyAddr, username, password string) *SOCKS5ProxyDialer {
	return &SOCKS5ProxyDialer{
		proxyAddr: proxyAddr,
		auth:      socks5.Auth{Username: username, Password: password},
		direct:    NewDirectDialer(cfg),
	}
}

// ProxyAddr returns the proxy host:port.
func (f *SOCKS5ProxyDialer) ProxyAddr() string {
	return f.proxyAddr
}

// DialContext connects to the proxy and asks it to CONNECT to address.
//
// The handshake runs synchronously. Socket errors are returned as
// *socks5.TransportError and are not retried; on any failure the proxy
// connection is closed before returning. Canceling ctx while the handshake is
// in flight closes the connection.
func (f *SOCKS5ProxyDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	if !strings.HasPrefix(network, "tcp") {
		return nil, fmt.Errorf("socks5 proxy dial %s %s: unsupported network", network, address)
	}

	c, err := f.direct.DialContext(ctx, "tcp", f.proxyAddr)
	if err != nil {
		return nil, &socks5.TransportError{Op: "connect proxy", Err: err}
	}

	stop := context.AfterFunc(ctx, func() {
		_ = c.Close()
	})

	if err := socks5.ClientDial(c, f.auth, address); err != nil {
		stop()
		_ = c.Close()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, &socks5.TransportError{Op: "handshake", Err: ctxErr}
		}
		return nil, fmt.Errorf("socks5 proxy dial %s: %w", address, err)
	}

	if !stop() {
		// ctx was canceled right as the handshake finished; c is closed.
		return nil, &socks5.TransportError{Op: "handshake", Err: ctx.Err()}
	}
	return c, nil
}
