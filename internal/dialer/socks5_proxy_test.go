package dialer

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	txsocks5 "github.com/txthinking/socks5"

	"github.com/OutisNemo/socksrelay/internal/socks5"
	"github.com/OutisNemo/socksrelay/internal/testutil"
)

func TestSOCKS5ProxyDialerDialSuccess(t *testing.T) {
	tests := []struct {
		name string
		user string
		pass string
	}{
		{name: "no_auth"},
		{name: "user_pass", user: "user", pass: "pass"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()

			echoLn := testutil.StartEchoTCPServer(t, ctx)
			up := testutil.StartSOCKS5Upstream(t, ctx, testutil.SOCKS5UpstreamOptions{
				Auth: socks5.Auth{Username: tt.user, Password: tt.pass},
			})

			f := NewSOCKS5ProxyDialer(Config{DialTimeout: 2 * time.Second}, up.Addr(), tt.user, tt.pass)

			conn, err := f.DialContext(ctx, "tcp", echoLn.Addr().String())
			if err != nil {
				t.Fatal(err)
			}
			defer conn.Close()

			testutil.AssertEcho(t, conn, conn, []byte("hello"))

			reqs := up.Requests()
			if len(reqs) != 1 || reqs[0].Address != echoLn.Addr().String() {
				t.Fatalf("upstream requests %+v", reqs)
			}
		})
	}
}

func TestSOCKS5ProxyDialerDialContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	lc := net.ListenConfig{}
	upLn, err := lc.Listen(context.Background(), "tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer upLn.Close()

	// The proxy accepts but never answers the negotiation.
	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := upLn.Accept()
		if err != nil {
			return
		}
		accepted <- c
	}()

	f := NewSOCKS5ProxyDialer(Config{DialTimeout: 2 * time.Second}, upLn.Addr().String(), "", "")

	go func() {
		c := <-accepted
		defer c.Close()
		cancel()
		_, _ = c.Read(make([]byte, 64))
	}()

	_, err = f.DialContext(ctx, "tcp", "127.0.0.1:1")
	var terr *socks5.TransportError
	if !errors.As(err, &terr) {
		t.Fatalf("err=%v want *socks5.TransportError", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v want context.Canceled", err)
	}
}

func TestSOCKS5ProxyDialerDialFail(t *testing.T) {
	tests := []struct {
		name   string
		opts   testutil.SOCKS5UpstreamOptions
		user   string
		pass   string
		target func(error) bool
	}{
		{
			name:   "connection_refused",
			opts:   testutil.SOCKS5UpstreamOptions{Reply: txsocks5.RepConnectionRefused},
			target: isConnectionRefused,
		},
		{
			name:   "no_acceptable_methods",
			opts:   testutil.SOCKS5UpstreamOptions{RejectMethods: true},
			target: func(err error) bool { return errors.Is(err, socks5.ErrAuthenticationRejected) },
		},
		{
			name:   "invalid_credentials",
			opts:   testutil.SOCKS5UpstreamOptions{Auth: socks5.Auth{Username: "user", Password: "secret"}},
			user:   "user",
			pass:   "wrong",
			target: func(err error) bool { return errors.Is(err, socks5.ErrInvalidCredentials) },
		},
		{
			name:   "credentials_required",
			opts:   testutil.SOCKS5UpstreamOptions{Auth: socks5.Auth{Username: "user", Password: "secret"}},
			target: func(err error) bool { return errors.Is(err, socks5.ErrAuthenticationRejected) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()

			up := testutil.StartSOCKS5Upstream(t, ctx, tt.opts)
			f := NewSOCKS5ProxyDialer(Config{DialTimeout: 2 * time.Second}, up.Addr(), tt.user, tt.pass)

			conn, err := f.DialContext(ctx, "tcp", "127.0.0.1:1")
			if err == nil {
				_ = conn.Close()
				t.Fatal("expected error")
			}
			if !tt.target(err) {
				t.Fatalf("unexpected error %v", err)
			}

			// The dialer closes the proxy connection on failure.
			select {
			case <-up.Closed():
			case <-ctx.Done():
				t.Fatal("proxy connection was not closed")
			}
		})
	}
}

func TestSOCKS5ProxyDialerProxyUnreachable(t *testing.T) {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(context.Background(), "tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	f := NewSOCKS5ProxyDialer(Config{DialTimeout: time.Second}, addr, "", "")
	_, err = f.DialContext(context.Background(), "tcp", "127.0.0.1:1")

	var terr *socks5.TransportError
	if !errors.As(err, &terr) || terr.Op != "connect proxy" {
		t.Fatalf("err=%v want connect proxy TransportError", err)
	}
}

func TestSOCKS5ProxyDialerUnsupportedNetwork(t *testing.T) {
	f := NewSOCKS5ProxyDialer(Config{}, "127.0.0.1:1080", "", "")
	if _, err := f.DialContext(context.Background(), "udp", "127.0.0.1:53"); err == nil {
		t.Fatal("expected error")
	}
}

func isConnectionRefused(err error) bool {
	var rerr *socks5.ReplyError
	return errors.As(err, &rerr) && rerr.Kind() == socks5.ReplyConnectionRefused
}
