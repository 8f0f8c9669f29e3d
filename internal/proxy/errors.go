package proxy

import (
	"errors"

	"github.com/OutisNemo/socksrelay/internal/resolver"
	"github.com/OutisNemo/socksrelay/internal/socks4"
	"github.com/OutisNemo/socksrelay/internal/socks5"
)

var (
	// ErrNoResolver is returned by Start and Serve when local resolution is
	// configured without a resolver.
	ErrNoResolver = errors.New("proxy: local resolution requires a resolver")

	// ErrSameEndpoint is returned by NewSOCKS4Server when the listen address
	// is the upstream proxy's address.
	ErrSameEndpoint = errors.New("proxy: listen address equals upstream address")

	// ErrResolutionFailed wraps local hostname resolution failures.
	ErrResolutionFailed = errors.New("proxy: hostname resolution failed")
)

// ErrorKind classifies why a connection ended.
type ErrorKind int

const (
	KindNone ErrorKind = iota
	KindMalformedRequest
	KindResolutionFailed
	KindAuthenticationRejected
	KindInvalidCredentials
	KindUpstreamRejected
	KindTransport
)

func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindMalformedRequest:
		return "malformed_request"
	case KindResolutionFailed:
		return "resolution_failed"
	case KindAuthenticationRejected:
		return "authentication_rejected"
	case KindInvalidCredentials:
		return "invalid_credentials"
	case KindUpstreamRejected:
		return "upstream_rejected"
	default:
		return "transport"
	}
}

// KindOf classifies err. Errors it does not recognize are transport errors.
func KindOf(err error) ErrorKind {
	var rerr *socks5.ReplyError
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, socks4.ErrMalformedRequest), errors.Is(err, socks5.ErrAddressNotSupported):
		return KindMalformedRequest
	case errors.Is(err, ErrResolutionFailed), errors.Is(err, resolver.ErrNotResolved):
		return KindResolutionFailed
	case errors.Is(err, socks5.ErrAuthenticationRejected):
		return KindAuthenticationRejected
	case errors.Is(err, socks5.ErrInvalidCredentials):
		return KindInvalidCredentials
	case errors.As(err, &rerr):
		return KindUpstreamRejected
	default:
		return KindTransport
	}
}
