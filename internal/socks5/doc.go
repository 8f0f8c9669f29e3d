// Package socks5 provides the SOCKS5 handshake used to reach the upstream
// proxy.
//
// It wraps the low-level protocol types in github.com/txthinking/socks5 and
// turns every failure into one of a small set of errors: a TransportError for
// socket-level problems, ErrAuthenticationRejected or ErrInvalidCredentials
// for authentication, and a *ReplyError carrying the CONNECT status code.
package socks5
