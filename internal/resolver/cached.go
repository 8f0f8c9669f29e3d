package resolver

import (
	"context"
	"net/netip"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
)

// sharedLookupTimeout bounds a lookup that outlives the caller that started
// it.
const sharedLookupTimeout = 10 * time.Second

// Cached remembers successful lookups for a fixed TTL and collapses
// concurrent lookups of the same name into one. Failures are not cached.
type Cached struct {
	next  Resolver
	ttl   time.Duration
	cache *cache.Cache
	sf    singleflight.Group
}

func NewCached(next Resolver, ttl time.Duration) *Cached {
	return &Cached{
		next:  next,
		ttl:   ttl,
		cache: cache.New(ttl, 2*ttl),
	}
}

func (c *Cached) Resolve(ctx context.Context, host string) (netip.Addr, error) {
	key := strings.ToLower(host)
	if v, ok := c.cache.Get(key); ok {
		return v.(netip.Addr), nil
	}

	// The lookup runs detached from ctx so a canceled caller doesn't fail
	// the other waiters.
	ch := c.sf.DoChan(key, func() (any, error) {
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedLookupTimeout)
		defer cancel()

		addr, err := c.next.Resolve(lctx, host)
		if err != nil {
			return nil, err
		}
		c.cache.Set(key, addr, c.ttl)
		return addr, nil
	})

	select {
	case <-ctx.Done():
		return netip.Addr{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return netip.Addr{}, res.Err
		}
		return res.Val.(netip.Addr), nil
	}
}

// Flush drops every cached entry.
func (c *Cached) Flush() {
	c.cache.Flush()
}
