// Package socks4 decodes SOCKS4 and SOCKS4a client requests and encodes the
// fixed 8-byte SOCKS4 reply.
//
// Only the client-facing half of the protocol is implemented: requests are
// read from an accepted connection and replies are written back to it. The
// reply always echoes the port and address bytes the client sent, whatever
// destination was actually used upstream.
package socks4
