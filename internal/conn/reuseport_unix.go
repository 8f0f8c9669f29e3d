//go:build linux || darwin || dragonfly || freebsd || netbsd || openbsd

package conn

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// ReusePortSupported reports whether ListenConfig.ReusePort can be honored.
const ReusePortSupported = true

func reusePortControl(_, _ string, c syscall.RawConn) error {
	var serr error
	err := c.Control(func(fd uintptr) {
		serr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
	})
	if err != nil {
		return err
	}
	return serr
}
