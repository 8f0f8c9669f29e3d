package proxy

import (
	"errors"
	"fmt"
	"io"
	"os"
	"testing"

	"github.com/OutisNemo/socksrelay/internal/resolver"
	"github.com/OutisNemo/socksrelay/internal/socks4"
	"github.com/OutisNemo/socksrelay/internal/socks5"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		err  error
		want ErrorKind
	}{
		{nil, KindNone},
		{fmt.Errorf("read request: %w", socks4.ErrFieldTooLong), KindMalformedRequest},
		{socks4.ErrUnsupportedCommand, KindMalformedRequest},
		{fmt.Errorf("%w: x: %w", ErrResolutionFailed, resolver.ErrNotResolved), KindResolutionFailed},
		{fmt.Errorf("dial: %w", socks5.ErrAuthenticationRejected), KindAuthenticationRejected},
		{fmt.Errorf("dial: %w", socks5.ErrInvalidCredentials), KindInvalidCredentials},
		{fmt.Errorf("dial: %w", &socks5.ReplyError{Code: 0x05}), KindUpstreamRejected},
		{&socks5.TransportError{Op: "read reply", Err: io.ErrUnexpectedEOF}, KindTransport},
		{os.ErrDeadlineExceeded, KindTransport},
		{errors.New("other"), KindTransport},
	}

	for _, tt := range tests {
		t.Run(tt.want.String(), func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Fatalf("KindOf(%v)=%s want %s", tt.err, got, tt.want)
			}
		})
	}
}
