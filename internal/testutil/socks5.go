package testutil

import (
	"context"
	"io"
	"net"
	"sync"
	"testing"

	txsocks5 "github.com/txthinking/socks5"

	"github.com/OutisNemo/socksrelay/internal/socks5"
)

// UpstreamRequest is a CONNECT request seen by a SOCKS5Upstream.
type UpstreamRequest struct {
	Atyp    byte
	DstAddr []byte
	Address string
}

// SOCKS5UpstreamOptions configures StartSOCKS5Upstream.
type SOCKS5UpstreamOptions struct {
	// Auth, when it has a username, is required from clients.
	Auth socks5.Auth

	// RejectMethods answers every negotiation with "no acceptable methods".
	RejectMethods bool

	// Reply, when non-zero, is sent to every CONNECT instead of dialing.
	Reply byte

	// Redirect maps requested host:port addresses to the address actually
	// dialed for them.
	Redirect map[string]string
}

// SOCKS5Upstream is a minimal SOCKS5 proxy for tests. It records every
// CONNECT request and relays successful ones to the requested address.
type SOCKS5Upstream struct {
	ln   net.Listener
	opts SOCKS5UpstreamOptions

	mu       sync.Mutex
	accepted int
	requests []UpstreamRequest
	conns    map[net.Conn]struct{}

	closed chan struct{}
}

func StartSOCKS5Upstream(t *testing.T, ctx context.Context, opts SOCKS5UpstreamOptions) *SOCKS5Upstream {
	t.Helper()

	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	u := &SOCKS5Upstream{
		ln:     ln,
		opts:   opts,
		conns:  make(map[net.Conn]struct{}),
		closed: make(chan struct{}, 64),
	}

	var wg sync.WaitGroup
	t.Cleanup(func() {
		_ = ln.Close()
		u.mu.Lock()
		for c := range u.conns {
			_ = c.Close()
		}
		u.mu.Unlock()
		wg.Wait()
	})
	context.AfterFunc(ctx, func() { _ = ln.Close() })

	wg.Go(func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			u.mu.Lock()
			u.accepted++
			u.conns[c] = struct{}{}
			u.mu.Unlock()

			wg.Go(func() {
				defer func() {
					_ = c.Close()
					u.mu.Lock()
					delete(u.conns, c)
					u.mu.Unlock()
				}()
				u.handle(ctx, c)
			})
		}
	})

	return u
}

func (u *SOCKS5Upstream) Addr() string {
	return u.ln.Addr().String()
}

// Accepted returns the number of connections the proxy has accepted.
func (u *SOCKS5Upstream) Accepted() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.accepted
}

// Requests returns the CONNECT requests received so far.
func (u *SOCKS5Upstream) Requests() []UpstreamRequest {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]UpstreamRequest(nil), u.requests...)
}

// Closed receives once for every connection whose client side went away
// after a rejected negotiation or CONNECT.
func (u *SOCKS5Upstream) Closed() <-chan struct{} {
	return u.closed
}

func (u *SOCKS5Upstream) handle(ctx context.Context, c net.Conn) {
	if u.opts.RejectMethods {
		if _, err := RejectSOCKS5Methods(c); err != nil {
			return
		}
		u.drain(c)
		return
	}

	if err := ServeSOCKS5Negotiation(c, u.opts.Auth); err != nil {
		u.drain(c)
		return
	}

	req, err := ReadSOCKS5Request(c)
	if err != nil {
		return
	}

	u.mu.Lock()
	u.requests = append(u.requests, UpstreamRequest{
		Atyp:    req.Atyp,
		DstAddr: append([]byte(nil), req.DstAddr...),
		Address: req.Address(),
	})
	u.mu.Unlock()

	if u.opts.Reply != 0 {
		_ = WriteSOCKS5Failure(c, u.opts.Reply, req.Atyp)
		u.drain(c)
		return
	}

	address := req.Address()
	if to, ok := u.opts.Redirect[address]; ok {
		address = to
	}

	d := net.Dialer{}
	dst, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		_ = WriteSOCKS5Failure(c, txsocks5.RepHostUnreachable, req.Atyp)
		u.drain(c)
		return
	}
	defer dst.Close()

	if err := WriteSOCKS5Success(c, dst.LocalAddr()); err != nil {
		return
	}

	go func() {
		_, _ = io.Copy(dst, c)
		_ = dst.Close()
	}()
	_, _ = io.Copy(c, dst)
}

// drain reads from c until the client closes it, then signals Closed.
func (u *SOCKS5Upstream) drain(c net.Conn) {
	_, _ = io.Copy(io.Discard, c)
	select {
	case u.closed <- struct{}{}:
	default:
	}
}
