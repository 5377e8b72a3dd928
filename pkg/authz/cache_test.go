package authz

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"
)

// countingAuthorizer counts calls and returns a fixed result.
type countingAuthorizer struct {
	allowed bool
	err     error
	calls   atomic.Int64
}

func (m *countingAuthorizer) Authorize(_ context.Context, _ AuthzRequest) (bool, error) {
	m.calls.Add(1)
	return m.allowed, m.err
}

// fakeClock is a settable time source.
type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newCached(inner Authorizer, ttl time.Duration) (*CachedAuthorizer, *fakeClock) {
	clock := &fakeClock{now: time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)}
	return NewCachedAuthorizer(inner, ttl).WithClock(clock.Now), clock
}

func TestCachedAuthorizer_SharedAcrossUsersWithSameRoles(t *testing.T) {
	inner := &countingAuthorizer{allowed: true}
	cached, _ := newCached(inner, time.Minute)

	for _, req := range []AuthzRequest{
		{User: "ana", Groups: []string{RoleTecnico, RoleProductor}, Resource: ResourcePlots, Verb: VerbTransition, Company: "acme"},
		{User: "beto", Groups: []string{"productor", "ROLE_TECNICO"}, Resource: ResourcePlots, Verb: VerbTransition, Company: "acme"},
	} {
		allowed, err := cached.Authorize(context.Background(), req)
		if err != nil || !allowed {
			t.Fatalf("Authorize(%s) = %v, %v", req.User, allowed, err)
		}
	}
	if inner.calls.Load() != 1 {
		t.Errorf("inner calls = %d, want 1", inner.calls.Load())
	}
}

func TestCachedAuthorizer_DistinctKeys(t *testing.T) {
	inner := &countingAuthorizer{allowed: true}
	cached, _ := newCached(inner, time.Minute)

	base := AuthzRequest{User: "ana", Groups: []string{RoleAsesor}, Resource: ResourcePlots, Verb: VerbFlag, Company: "acme"}
	variants := []func(AuthzRequest) AuthzRequest{
		func(r AuthzRequest) AuthzRequest { return r },
		func(r AuthzRequest) AuthzRequest { r.Company = "globex"; return r },
		func(r AuthzRequest) AuthzRequest { r.Verb = VerbTransition; return r },
		func(r AuthzRequest) AuthzRequest { r.Resource = ResourceTransitions; return r },
		func(r AuthzRequest) AuthzRequest { r.Groups = []string{RoleOperario}; return r },
	}
	for _, v := range variants {
		_, _ = cached.Authorize(context.Background(), v(base))
	}
	if inner.calls.Load() != int64(len(variants)) {
		t.Errorf("inner calls = %d, want %d", inner.calls.Load(), len(variants))
	}
}

func TestCachedAuthorizer_Expiry(t *testing.T) {
	inner := &countingAuthorizer{allowed: false}
	cached, clock := newCached(inner, 10*time.Second)
	req := AuthzRequest{User: "ana", Groups: []string{RoleInvitado}, Resource: ResourceHarvests, Verb: VerbDelete, Company: "acme"}

	for i := 0; i < 2; i++ {
		if allowed, _ := cached.Authorize(context.Background(), req); allowed {
			t.Fatalf("call %d: INVITADO allowed to delete harvests", i)
		}
	}
	if inner.calls.Load() != 1 {
		t.Fatalf("inner calls = %d, want 1 (denial cached)", inner.calls.Load())
	}

	clock.Advance(10 * time.Second)
	_, _ = cached.Authorize(context.Background(), req)
	if inner.calls.Load() != 2 {
		t.Errorf("inner calls = %d, want 2 after expiry", inner.calls.Load())
	}
}

func TestCachedAuthorizer_ErrorsAreNotCached(t *testing.T) {
	inner := &countingAuthorizer{err: errors.New("policy unavailable")}
	cached, _ := newCached(inner, time.Minute)

	req := AuthzRequest{User: "ana", Groups: []string{RoleProductor}, Resource: ResourcePlots, Verb: VerbGet, Company: "acme"}
	for i := 0; i < 2; i++ {
		if _, err := cached.Authorize(context.Background(), req); err == nil {
			t.Fatal("expected error")
		}
	}
	if inner.calls.Load() != 2 {
		t.Errorf("inner calls = %d, want 2", inner.calls.Load())
	}
	if cached.Len() != 0 {
		t.Errorf("Len() = %d, want 0", cached.Len())
	}
}

func TestCachedAuthorizer_Bounded(t *testing.T) {
	inner := &countingAuthorizer{allowed: true}
	cached, clock := newCached(inner, time.Minute)

	for i := 0; i < DefaultCacheEntries; i++ {
		_, _ = cached.Authorize(context.Background(), AuthzRequest{Groups: []string{RoleProductor}, Resource: ResourcePlots, Verb: VerbGet, Company: fmt.Sprintf("c%d", i)})
	}
	if cached.Len() != DefaultCacheEntries {
		t.Fatalf("Len() = %d, want %d", cached.Len(), DefaultCacheEntries)
	}

	clock.Advance(time.Minute)
	_, _ = cached.Authorize(context.Background(), AuthzRequest{Groups: []string{RoleProductor}, Resource: ResourcePlots, Verb: VerbGet, Company: "acme"})
	if cached.Len() != 1 {
		t.Errorf("Len() = %d, want 1 after expired entries were swept", cached.Len())
	}
}

func TestCachedAuthorizer_WrapsRolePolicy(t *testing.T) {
	cached, _ := newCached(NewRoleAuthorizer(DefaultPolicy()), time.Minute)
	tests := []struct {
		groups []string
		verb   string
		want   bool
	}{
		{[]string{RoleAsesor}, VerbFlag, true},
		{[]string{RoleAsesor}, VerbTransition, false},
		{[]string{RoleOperario}, VerbRelease, false},
		{[]string{RoleSuperAdmin}, VerbForceRelease, true},
	}
	for _, tt := range tests {
		got, err := cached.Authorize(context.Background(), AuthzRequest{User: "ana", Groups: tt.groups, Resource: ResourcePlots, Verb: tt.verb, Company: "acme"})
		if err != nil || got != tt.want {
			t.Errorf("%v %s = %v, %v; want %v", tt.groups, tt.verb, got, err, tt.want)
		}
	}
}
