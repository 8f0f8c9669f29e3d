package socks5

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthenticationRejected means the proxy accepted none of the offered
	// methods, or demanded username/password when none was configured.
	ErrAuthenticationRejected = errors.New("socks5: no acceptable authentication method")

	// ErrInvalidCredentials means the username/password subnegotiation failed.
	ErrInvalidCredentials = errors.New("socks5: invalid username or password")

	// ErrAddressNotSupported means the destination cannot be encoded in a
	// CONNECT request.
	ErrAddressNotSupported = errors.New("socks5: address not supported")
)

// TransportError is a socket-level failure during the handshake.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("socks5: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ReplyKind classifies a non-success CONNECT reply.
type ReplyKind int

const (
	ReplyUnknown ReplyKind = iota
	ReplyGeneralFailure
	ReplyNotAllowed
	ReplyNetworkUnreachable
	ReplyHostUnreachable
	ReplyConnectionRefused
)

func (k ReplyKind) String() string {
	switch k {
	case ReplyGeneralFailure:
		return "general failure"
	case ReplyNotAllowed:
		return "connection not allowed"
	case ReplyNetworkUnreachable:
		return "network unreachable"
	case ReplyHostUnreachable:
		return "host unreachable"
	case ReplyConnectionRefused:
		return "connection refused"
	default:
		return "unknown error"
	}
}

// ReplyError is returned when the proxy answers CONNECT with a non-zero
// status.
type ReplyError struct {
	Code byte
}

// Kind maps Code onto the RFC 1928 reply classes this package distinguishes.
func (e *ReplyError) Kind() ReplyKind {
	switch e.Code {
	case 0x01:
		return ReplyGeneralFailure
	case 0x02:
		return ReplyNotAllowed
	case 0x03:
		return ReplyNetworkUnreachable
	case 0x04:
		return ReplyHostUnreachable
	case 0x05:
		return ReplyConnectionRefused
	default:
		return ReplyUnknown
	}
}

func (e *ReplyError) Error() string {
	return fmt.Sprintf("socks5: connect rejected: %s (%#02x)", e.Kind(), e.Code)
}
