package proxy

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/netip"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/OutisNemo/socksrelay/internal/conn"
	"github.com/OutisNemo/socksrelay/internal/logger"
	"github.com/OutisNemo/socksrelay/internal/socks4"
)

const (
	minAcceptDelay = 5 * time.Millisecond
	maxAcceptDelay = time.Second

	// requestBufferSize covers the largest SOCKS4a request: header plus two
	// capped fields and their terminators.
	requestBufferSize = 8 + 2*(socks4.MaxFieldLen+1)
)

// SOCKS4Server accepts SOCKS4 and SOCKS4a clients and relays each through
// the configured upstream dialer.
type SOCKS4Server struct {
	cfg      Config
	log      *slog.Logger
	events   *Events
	registry *Registry
	pool     *BufferPool

	// ownEvents is set when the server created events and must close it.
	ownEvents bool

	mu      sync.Mutex
	ln      net.Listener
	running atomic.Bool
	wg      sync.WaitGroup
}

func NewSOCKS4Server(cfg Config) (*SOCKS4Server, error) {
	if cfg.Dialer == nil {
		return nil, errors.New("proxy: missing upstream dialer")
	}
	if cfg.UpstreamAddr != "" && sameEndpoint(cfg.ListenAddr, cfg.UpstreamAddr) {
		return nil, fmt.Errorf("%w: %s", ErrSameEndpoint, cfg.ListenAddr)
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Discard()
	}
	ownEvents := cfg.Events == nil
	if ownEvents {
		cfg.Events = NewEvents(DefaultEventQueueLen)
	}

	return &SOCKS4Server{
		cfg:       cfg,
		log:       cfg.Logger,
		events:    cfg.Events,
		ownEvents: ownEvents,
		registry:  NewRegistry(),
		pool:      NewBufferPool(cfg.BufferSize),
	}, nil
}

// Events returns the notification hub observers subscribe to. A hub the
// server created itself is closed by Close; one passed in Config belongs to
// the caller.
func (s *SOCKS4Server) Events() *Events {
	return s.events
}

// Addr returns the bound listen address, or nil before Start or Serve.
func (s *SOCKS4Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Connections returns the live connections.
func (s *SOCKS4Server) Connections() []ConnectionInfo {
	return s.registry.Snapshot()
}

// Running reports whether the server is accepting connections.
func (s *SOCKS4Server) Running() bool {
	return s.running.Load()
}

// Start binds ListenAddr and accepts in the background. Bind errors are
// returned synchronously. Calling Start on a running server does nothing.
//
// ctx is the lifetime of the process: canceling it stops accepting and
// closes relayed connections.
func (s *SOCKS4Server) Start(ctx context.Context) error {
	if err := s.validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running.Load() {
		return nil
	}

	ln, err := conn.ListenTCP(ctx, "tcp", s.cfg.ListenAddr, s.cfg.Listen)
	if err != nil {
		return err
	}
	s.ln = ln
	s.running.Store(true)

	s.wg.Go(func() {
		if err := s.acceptLoop(ctx, ln); err != nil {
			s.log.Error("accept loop stopped", "err", err)
		}
	})
	return nil
}

// Serve accepts connections on ln until Stop is called or ctx is canceled.
// It returns nil in both cases.
func (s *SOCKS4Server) Serve(ctx context.Context, ln net.Listener) error {
	if err := s.validate(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.running.Load() {
		s.mu.Unlock()
		return errors.New("proxy: server already running")
	}
	s.ln = ln
	s.running.Store(true)
	s.mu.Unlock()

	return s.acceptLoop(ctx, ln)
}

// Stop closes the listener. Connections already accepted keep relaying until
// they end on their own or the server's context is canceled. Stop is
// idempotent.
func (s *SOCKS4Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running.Swap(false) {
		return nil
	}
	if err := s.ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("close listener: %w", err)
	}
	return nil
}

// Wait blocks until the accept loop started by Start and every connection
// handler have returned.
func (s *SOCKS4Server) Wait() {
	s.wg.Wait()
}

// Close stops the server, closes every live connection and waits for their
// handlers. Notifications stop once it returns if the server owns its
// Events. The server cannot be restarted after Close.
func (s *SOCKS4Server) Close() error {
	err := s.Stop()
	s.registry.CloseAll()
	s.wg.Wait()
	if s.ownEvents {
		s.events.Close()
	}
	return err
}

func (s *SOCKS4Server) validate() error {
	if s.cfg.ResolveMode == ResolveLocal && s.cfg.Resolver == nil {
		return ErrNoResolver
	}
	return nil
}

func (s *SOCKS4Server) acceptLoop(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() {
		_ = s.Stop()
	})
	defer stop()

	s.diag(ctx, slog.LevelInfo, "listening", "addr", ln.Addr().String(), "resolve", s.cfg.ResolveMode.String())

	var delay time.Duration
	for {
		c, err := ln.Accept()
		if err != nil {
			if !s.running.Load() || errors.Is(err, net.ErrClosed) {
				return nil
			}

			if delay == 0 {
				delay = minAcceptDelay
			} else {
				delay = min(2*delay, maxAcceptDelay)
			}
			s.diag(ctx, slog.LevelWarn, "accept failed", "err", err, "retry_in", delay)

			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil
			}
			continue
		}
		delay = 0

		s.wg.Go(func() {
			s.handle(ctx, c)
		})
	}
}

func (s *SOCKS4Server) handle(ctx context.Context, nc net.Conn) {
	connectionsAccepted.Inc()

	c := s.registry.Add(nc)
	defer c.Close()

	s.events.LocalConnect(nc.RemoteAddr())

	d := &connDiag{s: s, attrs: []any{"conn", c.ID(), "client", nc.RemoteAddr().String()}}
	d.log(ctx, slog.LevelDebug, "accepted")

	err := s.serveConn(ctx, c, d)
	if err == nil {
		return
	}

	if c.State() == StateHandshaking {
		c.setState(StateFailed)
	}
	kind := KindOf(err)
	connectionFailures.WithLabelValues(kind.String()).Inc()
	d.log(ctx, slog.LevelDebug, "connection failed", "kind", kind.String(), "err", err)
}

// serveConn runs one connection from request to the end of the relay.
func (s *SOCKS4Server) serveConn(ctx context.Context, c *Connection, d *connDiag) error {
	local := conn.WithTimeouts(c.local, s.cfg.SendTimeout, s.cfg.ReceiveTimeout)
	br := bufio.NewReaderSize(local, requestBufferSize)

	hctx, cancel := ctx, context.CancelFunc(func() {})
	if s.cfg.NegotiationTimeout > 0 {
		hctx, cancel = context.WithTimeout(ctx, s.cfg.NegotiationTimeout)
	}
	defer cancel()

	// Closing the client unblocks a handshake stuck on I/O.
	stop := context.AfterFunc(hctx, func() {
		_ = c.local.Close()
	})
	defer stop()

	req, err := socks4.ReadRequest(br)
	if err != nil {
		if err == io.EOF {
			d.log(ctx, slog.LevelDebug, "client closed before sending a request")
			return nil
		}
		// A wrong version byte gets no reply at all.
		if req != nil {
			_ = socks4.WriteReply(local, socks4.StatusRejected, req.Raw)
		}
		return fmt.Errorf("read request: %w", err)
	}

	if req.Unsupported() {
		_ = socks4.WriteReply(local, socks4.StatusRejected, req.Raw)
		return fmt.Errorf("%w: %#02x", socks4.ErrUnsupportedCommand, req.Command)
	}

	dst, err := s.destination(hctx, req)
	if err != nil {
		status := byte(socks4.StatusRejected)
		if s.cfg.LegacyResolveFailureReply {
			status = socks4.StatusGranted
		}
		_ = socks4.WriteReply(local, status, req.Raw)
		return err
	}
	c.setDestination(dst)
	d.with("dst", dst.String())
	d.log(ctx, slog.LevelDebug, "connecting upstream")

	start := time.Now()
	up, err := s.cfg.Dialer.DialContext(hctx, "tcp", dst.String())
	upstreamConnectSeconds.Observe(time.Since(start).Seconds())
	s.events.RemoteConnect(dst)
	if err != nil {
		_ = socks4.WriteReply(local, socks4.StatusRejected, req.Raw)
		return fmt.Errorf("upstream connect %s: %w", dst, err)
	}
	if !c.attachRemote(up) {
		return fmt.Errorf("upstream connect %s: %w", dst, net.ErrClosed)
	}

	if err := socks4.WriteReply(local, socks4.StatusGranted, req.Raw); err != nil {
		return err
	}

	if !stop() {
		return fmt.Errorf("handshake: %w", context.Cause(hctx))
	}
	cancel()

	c.setState(StateRelaying)
	d.log(ctx, slog.LevelDebug, "relaying")

	// Bytes the client sent along with the request are still in br.
	client := &bufferedConn{Conn: local, r: br}
	stats, err := CopyBidirectional(ctx, client, up, s.pool)
	relayBytes.WithLabelValues("upstream").Add(float64(stats.LeftToRight))
	relayBytes.WithLabelValues("downstream").Add(float64(stats.RightToLeft))
	d.log(ctx, slog.LevelDebug, "relay finished", "sent", stats.LeftToRight, "received", stats.RightToLeft)
	if err != nil {
		return fmt.Errorf("relay: %w", err)
	}
	return nil
}

// destination returns the address to ask the upstream for, resolving
// SOCKS4a hostnames first when configured to.
func (s *SOCKS4Server) destination(ctx context.Context, req *socks4.Request) (Destination, error) {
	if !req.IsSOCKS4a() {
		return Destination{IP: req.IP, Port: req.Port}, nil
	}
	if s.cfg.ResolveMode == ResolveRemote {
		return Destination{Host: req.Hostname, Port: req.Port}, nil
	}

	ip, err := s.cfg.Resolver.Resolve(ctx, req.Hostname)
	if err != nil {
		resolveTotal.WithLabelValues("failure").Inc()
		return Destination{}, fmt.Errorf("%w: %s: %w", ErrResolutionFailed, req.Hostname, err)
	}
	resolveTotal.WithLabelValues("success").Inc()
	return Destination{IP: ip, Port: req.Port}, nil
}

// diag logs msg and forwards it to observers as free text. Observers get
// every line regardless of the logger's level.
func (s *SOCKS4Server) diag(ctx context.Context, level slog.Level, msg string, args ...any) {
	s.log.Log(ctx, level, msg, args...)
	if s.events.hasObservers() {
		s.events.Log(formatDiag(msg, args))
	}
}

// connDiag carries one connection's attributes into every diagnostic line.
type connDiag struct {
	s     *SOCKS4Server
	attrs []any
}

func (d *connDiag) with(args ...any) {
	d.attrs = append(d.attrs, args...)
}

func (d *connDiag) log(ctx context.Context, level slog.Level, msg string, args ...any) {
	d.s.diag(ctx, level, msg, append(slices.Clip(d.attrs), args...)...)
}

// bufferedConn reads through r, which may hold bytes already taken from
// Conn.
type bufferedConn struct {
	net.Conn
	r *bufio.Reader
}

func (c *bufferedConn) Read(b []byte) (int, error) {
	return c.r.Read(b)
}

func formatDiag(msg string, args []any) string {
	var b strings.Builder
	b.WriteString(msg)
	for i := 0; i+1 < len(args); i += 2 {
		fmt.Fprintf(&b, " %v=%v", args[i], args[i+1])
	}
	return b.String()
}

// sameEndpoint reports whether two host:port strings name the same socket
// address.
func sameEndpoint(listen, upstream string) bool {
	lhost, lport, err := net.SplitHostPort(listen)
	if err != nil {
		return false
	}
	uhost, uport, err := net.SplitHostPort(upstream)
	if err != nil || lport != uport {
		return false
	}
	if strings.EqualFold(lhost, uhost) {
		return true
	}

	la, lerr := netip.ParseAddr(lhost)
	ua, uerr := netip.ParseAddr(uhost)
	return lerr == nil && uerr == nil && la.Unmap() == ua.Unmap()
}
