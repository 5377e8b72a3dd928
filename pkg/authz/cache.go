package authz

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultCacheTTL bounds how long a role decision is reused.
	DefaultCacheTTL = 10 * time.Second
	// DefaultCacheEntries caps the number of cached decisions.
	DefaultCacheEntries = 1024
)

// decisionKey identifies a role decision. The user is not part of it: the
// role policy only looks at roles, grant and company.
type decisionKey struct {
	roles    string
	resource string
	verb     string
	company  string
}

type decision struct {
	allowed   bool
	expiresAt time.Time
}

// CachedAuthorizer memoizes the decisions of a role-based Authorizer, so a
// request fanning out into several plot checks consults the policy once per
// grant. Errors are never cached.
type CachedAuthorizer struct {
	inner      Authorizer
	ttl        time.Duration
	maxEntries int
	now        func() time.Time

	mu        sync.Mutex
	decisions map[decisionKey]decision
}

// NewCachedAuthorizer wraps inner with a decision cache of the given TTL.
func NewCachedAuthorizer(inner Authorizer, ttl time.Duration) *CachedAuthorizer {
	return &CachedAuthorizer{
		inner:      inner,
		ttl:        ttl,
		maxEntries: DefaultCacheEntries,
		now:        time.Now,
		decisions:  make(map[decisionKey]decision),
	}
}

// WithClock replaces the time source. Used by tests.
func (c *CachedAuthorizer) WithClock(now func() time.Time) *CachedAuthorizer {
	c.now = now
	return c
}

// Len returns the number of cached decisions, expired ones included.
func (c *CachedAuthorizer) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.decisions)
}

func (c *CachedAuthorizer) Authorize(ctx context.Context, req AuthzRequest) (bool, error) {
	key := keyFor(req)
	now := c.now()

	c.mu.Lock()
	d, ok := c.decisions[key]
	c.mu.Unlock()
	if ok && now.Before(d.expiresAt) {
		return d.allowed, nil
	}

	allowed, err := c.inner.Authorize(ctx, req)
	if err != nil {
		return false, err
	}

	c.mu.Lock()
	if len(c.decisions) >= c.maxEntries {
		c.evictExpired(now)
	}
	c.decisions[key] = decision{allowed: allowed, expiresAt: now.Add(c.ttl)}
	c.mu.Unlock()
	return allowed, nil
}

// evictExpired drops expired decisions, and everything when none had
// expired. Callers hold mu.
func (c *CachedAuthorizer) evictExpired(now time.Time) {
	for k, d := range c.decisions {
		if !now.Before(d.expiresAt) {
			delete(c.decisions, k)
		}
	}
	if len(c.decisions) >= c.maxEntries {
		clear(c.decisions)
	}
}

func keyFor(req AuthzRequest) decisionKey {
	roles := NormalizeRoles(req.Groups...)
	slices.Sort(roles)
	return decisionKey{
		roles:    strings.Join(roles, ","),
		resource: req.Resource,
		verb:     req.Verb,
		company:  req.Company,
	}
}
