// Package dialer provides the outbound dialers used to reach destinations
// through the upstream SOCKS5 proxy.
//
// Dialers implement a small interface (DialContext). The direct dialer opens
// the TCP connection to the proxy itself; the SOCKS5 dialer runs the proxy
// handshake on top of it and hands back a connection that is ready to relay.
package dialer
