package socks5

import txsocks5 "github.com/txthinking/socks5"

// CmdConnect is the SOCKS5 CONNECT command value.
const CmdConnect = txsocks5.CmdConnect

// Auth holds the optional upstream credentials. A non-empty Username makes
// the client offer username/password in addition to no-auth.
type Auth struct {
	Username string
	Password string
}
