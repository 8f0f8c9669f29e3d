package testutil

import (
	"context"
	"net"
	"sync"
	"testing"
)

// StartSingleAcceptServer accepts one connection on a loopback port and runs
// handler on it, closing the connection when handler returns. The returned
// wait function closes the listener and blocks until handler is done.
func StartSingleAcceptServer(t *testing.T, ctx context.Context, handler func(net.Conn)) (net.Listener, func()) {
	t.Helper()

	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		current net.Conn
	)
	wg.Go(func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		mu.Lock()
		current = c
		mu.Unlock()

		defer c.Close()
		handler(c)
	})

	wait := func() {
		_ = ln.Close()
		wg.Wait()
	}

	// A test that fails before calling wait must not leave handler blocked.
	t.Cleanup(func() {
		_ = ln.Close()
		mu.Lock()
		if current != nil {
			_ = current.Close()
		}
		mu.Unlock()
		wg.Wait()
	})

	return ln, wait
}
