package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // Intentionally exposed on debug port.
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/OutisNemo/socksrelay/internal/conn"
	"github.com/OutisNemo/socksrelay/internal/dialer"
	"github.com/OutisNemo/socksrelay/internal/logger"
	"github.com/OutisNemo/socksrelay/internal/proxy"
	"github.com/OutisNemo/socksrelay/internal/resolver"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	var (
		listen   = pflag.String("listen", "127.0.0.1:1080", "SOCKS4/4a listen address")
		upstream = pflag.String("upstream", defaultUpstream(), "Upstream SOCKS5 proxy URL: socks5://[user:pass@]host[:port]")

		bufferSize         = pflag.Int("buffer-size", proxy.DefaultBufferSize, "Relay buffer size per direction, in bytes")
		sendTimeout        = pflag.Int("send-timeout", 0, "Timeout for each socket write, in milliseconds (<= 0 disables)")
		receiveTimeout     = pflag.Int("receive-timeout", 0, "Timeout for each socket read, in milliseconds (<= 0 disables)")
		dialTimeout        = pflag.Duration("dial-timeout", 10*time.Second, "Timeout for the TCP connect to the upstream proxy")
		negotiationTimeout = pflag.Duration("negotiation-timeout", 10*time.Second, "Timeout for the SOCKS4 request and upstream handshake")

		resolve          = pflag.String("resolve", "local", "Where SOCKS4a hostnames are resolved: local|remote")
		dnsServer        = pflag.String("dns-server", "", "DNS server ip[:port] for local resolution. Empty uses the system resolver.")
		dnsTimeout       = pflag.Duration("dns-timeout", 5*time.Second, "Timeout for each DNS query sent to --dns-server")
		dnsCacheTTL      = pflag.Duration("dns-cache-ttl", time.Minute, "How long resolved addresses are cached (0 disables)")
		legacyDNSFailure = pflag.Bool("legacy-dns-failure-reply", false, "Reply granted, then close, when local resolution fails")

		tcpKeepAlive = pflag.String("tcp-keepalive", "45:45:3", "TCP keepalive: on|off|keepidle:keepintvl:keepcnt")
		reusePort    = pflag.Bool("reuse-port", false, "Set SO_REUSEPORT on the listen socket")

		debugListen = pflag.String("debug-listen", "", "Debug HTTP listen address exposing /debug/pprof and /metrics (e.g. 127.0.0.1:6060). Empty disables.")
		logFormat   = pflag.String("log-format", "text", "Log format: text|json")
		verbose     = pflag.Bool("verbose", false, "Enable per-connection logging")
	)

	pflag.CommandLine.SortFlags = false
	pflag.Parse()

	log, err := logger.New(os.Stderr, *logFormat, *verbose)
	if err != nil {
		return fmt.Errorf("invalid --log-format: %w", err)
	}

	ka, err := parseTCPKeepAlive(*tcpKeepAlive)
	if err != nil {
		return fmt.Errorf("invalid --tcp-keepalive: %w", err)
	}

	mode, err := proxy.ParseResolveMode(*resolve)
	if err != nil {
		return fmt.Errorf("invalid --resolve: %w", err)
	}

	if *upstream == "" {
		return errors.New("no upstream proxy (set --upstream or ALL_PROXY)")
	}

	dialCfg := dialer.Config{
		DialTimeout:    *dialTimeout,
		SendTimeout:    conn.Millis(*sendTimeout),
		ReceiveTimeout: conn.Millis(*receiveTimeout),
		KeepAlive:      ka,
	}

	d, err := dialer.New(dialCfg, *upstream)
	if err != nil {
		return fmt.Errorf("invalid --upstream: %w", err)
	}

	var res resolver.Resolver
	if mode == proxy.ResolveLocal {
		res, err = resolver.New(resolver.Config{
			Server:   *dnsServer,
			Timeout:  *dnsTimeout,
			CacheTTL: *dnsCacheTTL,
		})
		if err != nil {
			return fmt.Errorf("invalid --dns-server: %w", err)
		}
	}

	srv, err := proxy.NewSOCKS4Server(proxy.Config{
		ListenAddr:                *listen,
		Listen:                    conn.ListenConfig{KeepAlive: ka, ReusePort: *reusePort},
		UpstreamAddr:              d.ProxyAddr(),
		Dialer:                    d,
		Resolver:                  res,
		ResolveMode:               mode,
		BufferSize:                *bufferSize,
		SendTimeout:               conn.Millis(*sendTimeout),
		ReceiveTimeout:            conn.Millis(*receiveTimeout),
		NegotiationTimeout:        *negotiationTimeout,
		LegacyResolveFailureReply: *legacyDNSFailure,
		Logger:                    log,
	})
	if err != nil {
		return err
	}

	if *legacyDNSFailure {
		log.Warn("legacy DNS failure reply enabled: clients are told granted before the connection is closed")
	}
	if *reusePort && !conn.ReusePortSupported {
		log.Warn("--reuse-port is not supported on this platform, ignoring")
	}

	g, ctx := errgroup.WithContext(context.Background())

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *debugListen != "" {
		http.Handle("/metrics", promhttp.Handler())
		http.HandleFunc("/debug/connections", connectionsHandler(srv))

		debugSrv := &http.Server{Handler: http.DefaultServeMux} //nolint:gosec // Not concerned about timeouts on debug port.
		lc := net.ListenConfig{KeepAliveConfig: ka}
		debugLn, err := lc.Listen(ctx, "tcp", *debugListen)
		if err != nil {
			return fmt.Errorf("debug listen: %w", err)
		}
		context.AfterFunc(ctx, func() {
			_ = debugSrv.Close()
			_ = debugLn.Close()
		})

		g.Go(func() error {
			if err := debugSrv.Serve(debugLn); err != nil {
				return fmt.Errorf("debug serve: %w", err)
			}
			return nil
		})
		log.Info("debug listening", "addr", *debugListen)
	}

	if err := srv.Start(ctx); err != nil {
		return err
	}
	log.Info("socks4 relay listening",
		"addr", srv.Addr().String(),
		"upstream", d.ProxyAddr(),
		"resolve", mode.String(),
	)

	g.Go(func() error {
		<-ctx.Done()
		return srv.Stop()
	})

	// SIGHUP drops cached lookups.
	if c, ok := res.(interface{ Flush() }); ok {
		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		g.Go(func() error {
			defer signal.Stop(hup)
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-hup:
					c.Flush()
					log.Info("resolver cache flushed")
				}
			}
		})
	}

	err = g.Wait()
	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	}

	log.Info("shutting down", "connections", len(srv.Connections()))
	if cerr := srv.Close(); err == nil {
		err = cerr
	}
	return err
}

// connectionsHandler lists live connections, one per line.
func connectionsHandler(srv *proxy.SOCKS4Server) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		now := time.Now()
		for _, c := range srv.Connections() {
			dst := "-"
			if c.Destination.Port != 0 {
				dst = c.Destination.String()
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", c.ID, c.Client, dst, c.State, now.Sub(c.Accepted).Truncate(time.Second))
		}
	}
}

func parseTCPKeepAlive(s string) (net.KeepAliveConfig, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return net.KeepAliveConfig{}, errors.New("empty")
	}
	if s == "on" {
		return net.KeepAliveConfig{Enable: true}, nil
	}
	if s == "off" {
		return net.KeepAliveConfig{Enable: false}, nil
	}

	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return net.KeepAliveConfig{}, errors.New("expected on|off|keepidle:keepintvl:keepcnt")
	}
	keepIdle, err := parsePositiveSeconds(parts[0])
	if err != nil {
		return net.KeepAliveConfig{}, fmt.Errorf("keepidle: %w", err)
	}
	keepIntvl, err := parsePositiveSeconds(parts[1])
	if err != nil {
		return net.KeepAliveConfig{}, fmt.Errorf("keepintvl: %w", err)
	}
	keepCnt, err := parsePositiveInt(parts[2])
	if err != nil {
		return net.KeepAliveConfig{}, fmt.Errorf("keepcnt: %w", err)
	}

	return net.KeepAliveConfig{
		Enable:   true,
		Idle:     keepIdle,
		Interval: keepIntvl,
		Count:    keepCnt,
	}, nil
}

func parsePositiveSeconds(s string) (time.Duration, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, errors.New("must be > 0")
	}
	return time.Duration(n) * time.Second, nil
}

func parsePositiveInt(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, errors.New("must be > 0")
	}
	return n, nil
}

func defaultUpstream() string {
	if p := os.Getenv("ALL_PROXY"); p != "" {
		return p
	}

	if p := os.Getenv("all_proxy"); p != "" {
		return p
	}

	return ""
}
