package proxy

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/OutisNemo/socksrelay/internal/conn"
	"github.com/OutisNemo/socksrelay/internal/dialer"
	"github.com/OutisNemo/socksrelay/internal/resolver"
)

// ResolveMode selects where SOCKS4a hostnames are resolved.
type ResolveMode int

const (
	// ResolveLocal resolves hostnames here and sends the upstream an address.
	ResolveLocal ResolveMode = iota

	// ResolveRemote forwards hostnames to the upstream unresolved.
	ResolveRemote
)

func (m ResolveMode) String() string {
	if m == ResolveRemote {
		return "remote"
	}
	return "local"
}

func ParseResolveMode(s string) (ResolveMode, error) {
	switch strings.ToLower(s) {
	case "local":
		return ResolveLocal, nil
	case "remote":
		return ResolveRemote, nil
	default:
		return 0, fmt.Errorf("unknown resolve mode %q", s)
	}
}

type Config struct {
	// ListenAddr is bound by Start.
	ListenAddr string

	Listen conn.ListenConfig

	// UpstreamAddr is the upstream proxy's host:port, used only to refuse a
	// listener that would forward to itself.
	UpstreamAddr string

	// Dialer opens the upstream leg.
	Dialer dialer.Dialer

	Resolver    resolver.Resolver
	ResolveMode ResolveMode

	// BufferSize is the per-direction relay buffer. Zero means
	// DefaultBufferSize.
	BufferSize int

	// SendTimeout and ReceiveTimeout bound each write and read on the client
	// leg. Zero disables them.
	SendTimeout    time.Duration
	ReceiveTimeout time.Duration

	// NegotiationTimeout bounds everything from accept to the granted reply.
	// Zero disables it.
	NegotiationTimeout time.Duration

	// LegacyResolveFailureReply answers a failed local resolution with
	// "granted" before closing, as some older relays did.
	LegacyResolveFailureReply bool

	Logger *slog.Logger

	// Events receives lifecycle notifications. If nil, the server creates
	// its own.
	Events *Events
}
