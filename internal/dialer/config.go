package dialer

import (
	"net"
	"time"
)

type Config struct {
	DialTimeout time.Duration

	// SendTimeout and ReceiveTimeout bound each individual write and read on
	// dialed connections. Zero disables them.
	SendTimeout    time.Duration
	ReceiveTimeout time.Duration

	KeepAlive net.KeepAliveConfig
}
