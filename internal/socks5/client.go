package socks5

import (
	"fmt"
	"io"
	"net"

	txsocks5 "github.com/txthinking/socks5"
)

// methodNoAcceptable is the RFC 1928 "no acceptable methods" selection.
const methodNoAcceptable = 0xff

// ClientDial runs method negotiation, optional authentication, and CONNECT
// to address over an already established connection to the proxy.
//
// The caller owns conn and must close it when ClientDial fails.
func ClientDial(conn io.ReadWriter, auth Auth, address string) error {
	if err := ClientNegotiate(conn, auth); err != nil {
		return err
	}
	if err := ClientConnect(conn, address); err != nil {
		return err
	}
	return nil
}

// ClientNegotiate offers no-auth, plus username/password when auth has a
// username, and completes whichever method the proxy selects.
func ClientNegotiate(conn io.ReadWriter, auth Auth) error {
	methods := []byte{txsocks5.MethodNone}
	if auth.Username != "" {
		methods = append(methods, txsocks5.MethodUsernamePassword)
	}

	if _, err := txsocks5.NewNegotiationRequest(methods).WriteTo(conn); err != nil {
		return &TransportError{Op: "write negotiation", Err: err}
	}

	neg, err := txsocks5.NewNegotiationReplyFrom(conn)
	if err != nil {
		return &TransportError{Op: "read negotiation", Err: err}
	}

	switch neg.Method {
	case txsocks5.MethodNone:
		return nil
	case txsocks5.MethodUsernamePassword:
		if auth.Username == "" {
			return fmt.Errorf("%w: proxy requires username/password", ErrAuthenticationRejected)
		}

		if _, err := txsocks5.NewUserPassNegotiationRequest([]byte(auth.Username), []byte(auth.Password)).WriteTo(conn); err != nil {
			return &TransportError{Op: "write userpass", Err: err}
		}
		rep, err := txsocks5.NewUserPassNegotiationReplyFrom(conn)
		if err != nil {
			return &TransportError{Op: "read userpass", Err: err}
		}
		if rep.Status != txsocks5.UserPassStatusSuccess {
			return ErrInvalidCredentials
		}
		return nil
	case methodNoAcceptable:
		return ErrAuthenticationRejected
	default:
		return fmt.Errorf("%w: unexpected method %#02x", ErrAuthenticationRejected, neg.Method)
	}
}

// ClientConnect sends a CONNECT request for address and reads the reply.
//
// The address type is picked from the host part: IPv4 and IPv6 literals are
// sent as such, anything else as a domain name.
func ClientConnect(conn io.ReadWriter, address string) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrAddressNotSupported, err)
	}
	if len(host) == 0 || len(host) > 255 {
		return fmt.Errorf("%w: host length %d", ErrAddressNotSupported, len(host))
	}

	atyp, dstAddr, dstPort, err := txsocks5.ParseAddress(address)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrAddressNotSupported, err)
	}
	if atyp == txsocks5.ATYPDomain {
		dstAddr = dstAddr[1:]
	}

	if _, err := txsocks5.NewRequest(txsocks5.CmdConnect, atyp, dstAddr, dstPort).WriteTo(conn); err != nil {
		return &TransportError{Op: "write request", Err: err}
	}

	rep, err := txsocks5.NewReplyFrom(conn)
	if err != nil {
		return &TransportError{Op: "read reply", Err: err}
	}
	if rep.Rep != txsocks5.RepSuccess {
		return &ReplyError{Code: rep.Rep}
	}
	return nil
}
