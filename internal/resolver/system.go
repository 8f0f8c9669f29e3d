package resolver

import (
	"context"
	"fmt"
	"net"
	"net/netip"
)

// System resolves through net.Resolver.
type System struct {
	r *net.Resolver
}

func NewSystem() *System {
	return &System{r: net.DefaultResolver}
}

func (s *System) Resolve(ctx context.Context, host string) (netip.Addr, error) {
	if addr, ok := literal(host); ok {
		return addr, nil
	}

	addrs, err := s.r.LookupNetIP(ctx, "ip", host)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("%w: %s: %w", ErrNotResolved, host, err)
	}
	addr, ok := pick(addrs)
	if !ok {
		return netip.Addr{}, fmt.Errorf("%w: %s: no addresses", ErrNotResolved, host)
	}
	return addr, nil
}
