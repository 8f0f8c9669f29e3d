//go:build !(linux || darwin || dragonfly || freebsd || netbsd || openbsd)

package conn

import (
	"errors"
	"syscall"
)

// ReusePortSupported reports whether ListenConfig.ReusePort can be honored.
const ReusePortSupported = false

func reusePortControl(_, _ string, _ syscall.RawConn) error {
	return errors.New("SO_REUSEPORT is not supported on this platform")
}
