// Package resolver turns SOCKS4a hostnames into addresses when the relay is
// configured to resolve names locally.
//
// A Resolver either returns an address or ErrNotResolved. System uses the
// operating system's resolver, DNS queries a fixed nameserver with
// github.com/miekg/dns, and Cached puts a TTL cache in front of either.
package resolver
