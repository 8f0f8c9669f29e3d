// Package conn holds TCP plumbing shared by the listener and the dialers:
// a keepalive-applying listener, optional SO_REUSEPORT, and a net.Conn
// wrapper that enforces per-operation send and receive timeouts.
package conn
