package dialer

import (
	"context"
	"fmt"
	"net"

	"github.com/OutisNemo/socksrelay/internal/conn"
)

type directDialer struct {
	cfg Config
}

// NewDirectDialer returns a Dialer that connects straight to address.
func NewDirectDialer(cfg Config) Dialer {
	return &directDialer{cfg: cfg}
}

func (f *directDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	dd := net.Dialer{Timeout: f.cfg.DialTimeout, KeepAliveConfig: f.cfg.KeepAlive}

	c, err := dd.DialContext(ctx, network, address)
	if err != nil {
		return nil, fmt.Errorf("dial %s %s: %w", network, address, err)
	}

	return conn.WithTimeouts(c, f.cfg.SendTimeout, f.cfg.ReceiveTimeout), nil
}
