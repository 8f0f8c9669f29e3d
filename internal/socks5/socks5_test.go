package socks5_test

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"strings"
	"testing"

	txsocks5 "github.com/txthinking/socks5"
	"golang.org/x/sync/errgroup"

	"github.com/OutisNemo/socksrelay/internal/socks5"
	"github.com/OutisNemo/socksrelay/internal/testutil"
)

func TestClientDialToServer(t *testing.T) {
	tests := []struct {
		name     string
		auth     socks5.Auth
		address  string
		wantAtyp byte
		wantAddr []byte
	}{
		{name: "no_auth", address: "127.0.0.1:80", wantAtyp: txsocks5.ATYPIPv4, wantAddr: []byte{127, 0, 0, 1}},
		{name: "user_pass", auth: socks5.Auth{Username: "user", Password: "pass"}, address: "10.1.2.3:443", wantAtyp: txsocks5.ATYPIPv4, wantAddr: []byte{10, 1, 2, 3}},
		{name: "ipv6", address: "[2001:db8::1]:8080", wantAtyp: txsocks5.ATYPIPv6, wantAddr: net.ParseIP("2001:db8::1").To16()},
		{name: "domain", address: "example.com:80", wantAtyp: txsocks5.ATYPDomain},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clientConn, serverConn := net.Pipe()
			defer clientConn.Close()
			defer serverConn.Close()

			g := errgroup.Group{}
			g.Go(func() error {
				if err := testutil.ServeSOCKS5Negotiation(serverConn, tt.auth); err != nil {
					return err
				}

				req, err := testutil.ReadSOCKS5Request(serverConn)
				if err != nil {
					return err
				}
				if req.Cmd != socks5.CmdConnect {
					return fmt.Errorf("unexpected command: %d", req.Cmd)
				}
				if req.Atyp != tt.wantAtyp {
					return fmt.Errorf("atyp %d want %d", req.Atyp, tt.wantAtyp)
				}
				if tt.wantAddr != nil && !bytes.Equal(req.DstAddr, tt.wantAddr) {
					return fmt.Errorf("addr % x want % x", req.DstAddr, tt.wantAddr)
				}
				if req.Address() != tt.address {
					return fmt.Errorf("address %q want %q", req.Address(), tt.address)
				}

				return testutil.WriteSOCKS5Success(serverConn, &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 12345})
			})

			if err := socks5.ClientDial(clientConn, tt.auth, tt.address); err != nil {
				t.Fatal(err)
			}
			if err := g.Wait(); err != nil {
				t.Fatal(err)
			}
		})
	}
}

func TestClientNegotiateOffersMethods(t *testing.T) {
	tests := []struct {
		name string
		auth socks5.Auth
		want []byte
	}{
		{name: "no_credentials", want: []byte{txsocks5.MethodNone}},
		{name: "credentials", auth: socks5.Auth{Username: "u", Password: "p"}, want: []byte{txsocks5.MethodNone, txsocks5.MethodUsernamePassword}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clientConn, serverConn := net.Pipe()
			defer clientConn.Close()
			defer serverConn.Close()

			var offered []byte
			g := errgroup.Group{}
			g.Go(func() error {
				var err error
				offered, err = testutil.RejectSOCKS5Methods(serverConn)
				return err
			})

			err := socks5.ClientNegotiate(clientConn, tt.auth)
			if !errors.Is(err, socks5.ErrAuthenticationRejected) {
				t.Fatalf("err=%v want socks5.ErrAuthenticationRejected", err)
			}
			if err := g.Wait(); err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(offered, tt.want) {
				t.Fatalf("offered % x want % x", offered, tt.want)
			}
		})
	}
}

func TestClientNegotiateInvalidCredentials(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	go func() {
		_ = testutil.ServeSOCKS5Negotiation(serverConn, socks5.Auth{Username: "user", Password: "secret"})
	}()

	err := socks5.ClientNegotiate(clientConn, socks5.Auth{Username: "user", Password: "wrong"})
	if !errors.Is(err, socks5.ErrInvalidCredentials) {
		t.Fatalf("err=%v want socks5.ErrInvalidCredentials", err)
	}
}

func TestClientNegotiateUserPassWithoutCredentials(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	go func() {
		if _, err := txsocks5.NewNegotiationRequestFrom(serverConn); err != nil {
			return
		}
		_, _ = txsocks5.NewNegotiationReply(txsocks5.MethodUsernamePassword).WriteTo(serverConn)
	}()

	err := socks5.ClientNegotiate(clientConn, socks5.Auth{})
	if !errors.Is(err, socks5.ErrAuthenticationRejected) {
		t.Fatalf("err=%v want socks5.ErrAuthenticationRejected", err)
	}
}

func TestClientConnectReplyKinds(t *testing.T) {
	tests := []struct {
		code byte
		want socks5.ReplyKind
	}{
		{0x01, socks5.ReplyGeneralFailure},
		{0x02, socks5.ReplyNotAllowed},
		{0x03, socks5.ReplyNetworkUnreachable},
		{0x04, socks5.ReplyHostUnreachable},
		{0x05, socks5.ReplyConnectionRefused},
		{0x06, socks5.ReplyUnknown},
		{0x7f, socks5.ReplyUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.want.String(), func(t *testing.T) {
			clientConn, serverConn := net.Pipe()
			defer clientConn.Close()
			defer serverConn.Close()

			go func() {
				req, err := testutil.ReadSOCKS5Request(serverConn)
				if err != nil {
					return
				}
				_ = testutil.WriteSOCKS5Failure(serverConn, tt.code, req.Atyp)
			}()

			err := socks5.ClientConnect(clientConn, "192.0.2.1:80")
			var rerr *socks5.ReplyError
			if !errors.As(err, &rerr) {
				t.Fatalf("err=%v want *socks5.ReplyError", err)
			}
			if rerr.Code != tt.code || rerr.Kind() != tt.want {
				t.Fatalf("code=%#02x kind=%s want %#02x %s", rerr.Code, rerr.Kind(), tt.code, tt.want)
			}
		})
	}
}

func TestClientConnectAddressNotSupported(t *testing.T) {
	tests := []string{
		"missing-port",
		strings.Repeat("a", 256) + ":80",
	}

	for _, address := range tests {
		clientConn, serverConn := net.Pipe()

		err := socks5.ClientConnect(clientConn, address)
		if !errors.Is(err, socks5.ErrAddressNotSupported) {
			t.Fatalf("%.20s: err=%v want socks5.ErrAddressNotSupported", address, err)
		}

		_ = clientConn.Close()
		_ = serverConn.Close()
	}
}

func TestClientDialTransportError(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()

	go func() {
		buf := make([]byte, 3)
		_, _ = serverConn.Read(buf)
		_ = serverConn.Close()
	}()

	err := socks5.ClientDial(clientConn, socks5.Auth{}, "127.0.0.1:80")
	var terr *socks5.TransportError
	if !errors.As(err, &terr) {
		t.Fatalf("err=%v want *socks5.TransportError", err)
	}
}
