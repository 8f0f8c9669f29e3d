package resolver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"time"
)

// ErrNotResolved is wrapped by every lookup that produced no usable address.
var ErrNotResolved = errors.New("hostname not resolved")

// Resolver resolves a hostname to a single address.
type Resolver interface {
	Resolve(ctx context.Context, host string) (netip.Addr, error)
}

// Func adapts an ordinary function to the Resolver interface.
type Func func(ctx context.Context, host string) (netip.Addr, error)

func (f Func) Resolve(ctx context.Context, host string) (netip.Addr, error) {
	return f(ctx, host)
}

type Config struct {
	// Server is the nameserver host:port queried over DNS. Empty selects the
	// system resolver.
	Server string

	// Timeout bounds each query. Zero uses the DNS client default.
	Timeout time.Duration

	// CacheTTL enables Cached when positive.
	CacheTTL time.Duration
}

// New builds the resolver described by cfg.
func New(cfg Config) (Resolver, error) {
	var r Resolver = NewSystem()
	if cfg.Server != "" {
		server := cfg.Server
		if _, _, err := net.SplitHostPort(server); err != nil {
			server = net.JoinHostPort(server, "53")
		}
		if _, err := netip.ParseAddrPort(server); err != nil {
			return nil, fmt.Errorf("invalid dns server %q: %w", cfg.Server, err)
		}
		r = NewDNS(server, cfg.Timeout)
	}

	if cfg.CacheTTL > 0 {
		r = NewCached(r, cfg.CacheTTL)
	}
	return r, nil
}

// literal returns the address if host is already an IP literal.
func literal(host string) (netip.Addr, bool) {
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}

// pick prefers the first IPv4 address, falling back to the first address.
func pick(addrs []netip.Addr) (netip.Addr, bool) {
	for _, a := range addrs {
		if a.Unmap().Is4() {
			return a.Unmap(), true
		}
	}
	if len(addrs) > 0 {
		return addrs[0], true
	}
	return netip.Addr{}, false
}
