package testutil

import (
	"errors"
	"fmt"
	"io"
	"net"
	"slices"

	txsocks5 "github.com/txthinking/socks5"

	"github.com/OutisNemo/socksrelay/internal/socks5"
)

const methodNoAcceptable = 0xff

// ServeSOCKS5Negotiation performs the proxy side of method negotiation. With
// a non-empty auth.Username it insists on username/password and verifies the
// credentials; otherwise it selects no-auth.
func ServeSOCKS5Negotiation(conn io.ReadWriter, auth socks5.Auth) error {
	neg, err := txsocks5.NewNegotiationRequestFrom(conn)
	if err != nil {
		return fmt.Errorf("negotiation request: %w", err)
	}

	want := byte(txsocks5.MethodNone)
	if auth.Username != "" {
		want = txsocks5.MethodUsernamePassword
	}
	if !slices.Contains(neg.Methods, want) {
		writeNoAcceptableMethods(conn)
		return fmt.Errorf("client does not offer method %#02x", want)
	}
	if _, err := txsocks5.NewNegotiationReply(want).WriteTo(conn); err != nil {
		return fmt.Errorf("negotiation reply: %w", err)
	}
	if want == txsocks5.MethodNone {
		return nil
	}

	urq, err := txsocks5.NewUserPassNegotiationRequestFrom(conn)
	if err != nil {
		return fmt.Errorf("read userpass: %w", err)
	}
	if string(urq.Uname) != auth.Username || string(urq.Passwd) != auth.Password {
		_, _ = txsocks5.NewUserPassNegotiationReply(txsocks5.UserPassStatusFailure).WriteTo(conn)
		return errors.New("auth failed")
	}
	if _, err := txsocks5.NewUserPassNegotiationReply(txsocks5.UserPassStatusSuccess).WriteTo(conn); err != nil {
		return fmt.Errorf("write userpass: %w", err)
	}
	return nil
}

// RejectSOCKS5Methods reads the client's method list and answers "no
// acceptable methods". It returns the offered methods.
func RejectSOCKS5Methods(conn io.ReadWriter) ([]byte, error) {
	neg, err := txsocks5.NewNegotiationRequestFrom(conn)
	if err != nil {
		return nil, fmt.Errorf("negotiation request: %w", err)
	}
	writeNoAcceptableMethods(conn)
	return neg.Methods, nil
}

func ReadSOCKS5Request(conn io.Reader) (*txsocks5.Request, error) {
	req, err := txsocks5.NewRequestFrom(conn)
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}
	return req, nil
}

// WriteSOCKS5Failure writes a CONNECT reply with status rep and a zero bound
// address of the same family as atyp.
func WriteSOCKS5Failure(w io.Writer, rep, atyp byte) error {
	addr := []byte{0x00, 0x00, 0x00, 0x00}
	if atyp == txsocks5.ATYPIPv6 {
		addr = net.IPv6zero
	} else {
		atyp = txsocks5.ATYPIPv4
	}
	if _, err := txsocks5.NewReply(rep, atyp, addr, []byte{0x00, 0x00}).WriteTo(w); err != nil {
		return fmt.Errorf("failure reply: %w", err)
	}
	return nil
}

// WriteSOCKS5Success writes a success reply bound to bound.
func WriteSOCKS5Success(w io.Writer, bound net.Addr) error {
	a, addr, port, err := txsocks5.ParseAddress(bound.String())
	if err != nil {
		return fmt.Errorf("parse bound address %q: %w", bound, err)
	}
	if a == txsocks5.ATYPDomain {
		addr = addr[1:]
	}
	if _, err := txsocks5.NewReply(txsocks5.RepSuccess, a, addr, port).WriteTo(w); err != nil {
		return fmt.Errorf("success reply: %w", err)
	}
	return nil
}

func writeNoAcceptableMethods(w io.Writer) {
	_, _ = txsocks5.NewNegotiationReply(methodNoAcceptable).WriteTo(w)
}
