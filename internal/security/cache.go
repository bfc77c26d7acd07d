package security

import (
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/roach88/resgraph/internal/graph"
)

// DefaultDecisionTTL bounds how long a cached decision is trusted.
const DefaultDecisionTTL = time.Minute

// CachingOracle memoizes another oracle's decisions per (owner, path,
// operation) for a fixed time.
//
// A decision computed across a Flush is returned but not cached, so a
// Permit racing a policy reload cannot store the old policy's answer.
type CachingOracle struct {
	inner graph.Oracle
	ttl   time.Duration
	cache *gocache.Cache

	mu  sync.Mutex
	gen uint64
}

// NewCachingOracle wraps inner. A non-positive ttl uses
// DefaultDecisionTTL.
func NewCachingOracle(inner graph.Oracle, ttl time.Duration) *CachingOracle {
	if ttl <= 0 {
		ttl = DefaultDecisionTTL
	}
	return &CachingOracle{
		inner: inner,
		ttl:   ttl,
		cache: gocache.New(ttl, 2*ttl),
	}
}

// Permit returns the cached decision or asks the wrapped oracle.
func (c *CachingOracle) Permit(owner, path string, op graph.Operation) bool {
	key := owner + "\x00" + path + "\x00" + string(op)
	if v, ok := c.cache.Get(key); ok {
		if allowed, ok := v.(bool); ok {
			return allowed
		}
	}
	c.mu.Lock()
	gen := c.gen
	c.mu.Unlock()

	allowed := c.inner.Permit(owner, path, op)

	c.mu.Lock()
	if gen == c.gen {
		c.cache.Set(key, allowed, c.ttl)
	}
	c.mu.Unlock()
	return allowed
}

// Flush drops every cached decision and every decision still being
// computed.
func (c *CachingOracle) Flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	c.cache.Flush()
}

// Len returns the number of cached decisions.
func (c *CachingOracle) Len() int {
	return c.cache.ItemCount()
}
