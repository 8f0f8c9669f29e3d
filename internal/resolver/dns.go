package resolver

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"time"

	"github.com/miekg/dns"
)

// DNS resolves by querying a single nameserver, A records first and AAAA
// second. Truncated UDP answers are retried over TCP.
type DNS struct {
	server string
	udp    *dns.Client
	tcp    *dns.Client
}

// NewDNS returns a resolver that queries server (host:port).
func NewDNS(server string, timeout time.Duration) *DNS {
	return &DNS{
		server: server,
		udp:    &dns.Client{Net: "udp", Timeout: timeout},
		tcp:    &dns.Client{Net: "tcp", Timeout: timeout},
	}
}

func (d *DNS) Resolve(ctx context.Context, host string) (netip.Addr, error) {
	if addr, ok := literal(host); ok {
		return addr, nil
	}

	var errs []error
	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		addrs, err := d.query(ctx, host, qtype)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if addr, ok := pick(addrs); ok {
			return addr, nil
		}
	}

	if err := errors.Join(errs...); err != nil {
		return netip.Addr{}, fmt.Errorf("%w: %s: %w", ErrNotResolved, host, err)
	}
	return netip.Addr{}, fmt.Errorf("%w: %s: no addresses", ErrNotResolved, host)
}

func (d *DNS) query(ctx context.Context, host string, qtype uint16) ([]netip.Addr, error) {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(host), qtype)
	m.RecursionDesired = true

	r, _, err := d.udp.ExchangeContext(ctx, m, d.server)
	if err == nil && r.Truncated {
		r, _, err = d.tcp.ExchangeContext(ctx, m, d.server)
	}
	if err != nil {
		return nil, fmt.Errorf("%s query: %w", dns.TypeToString[qtype], err)
	}
	if r.Rcode != dns.RcodeSuccess {
		return nil, fmt.Errorf("%s query: %s", dns.TypeToString[qtype], dns.RcodeToString[r.Rcode])
	}

	var addrs []netip.Addr
	for _, rr := range r.Answer {
		switch v := rr.(type) {
		case *dns.A:
			if a, ok := netip.AddrFromSlice(v.A.To4()); ok {
				addrs = append(addrs, a)
			}
		case *dns.AAAA:
			if a, ok := netip.AddrFromSlice(v.AAAA.To16()); ok {
				addrs = append(addrs, a)
			}
		}
	}
	return addrs, nil
}
