// Package proxy implements the SOCKS4/4a relay server and the plumbing it
// shares with its tests.
//
// A SOCKS4Server accepts client connections, decodes one SOCKS4 or SOCKS4a
// request from each, resolves the destination locally or leaves it to the
// upstream, opens the upstream leg through a dialer.Dialer, and then relays
// bytes in both directions with CopyBidirectional until either side ends.
// Live connections are tracked in a Registry and lifecycle notifications are
// fanned out to Observers through Events.
package proxy
