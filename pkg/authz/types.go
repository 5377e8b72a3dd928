// Package authz provides identity extraction and authorization primitives
// for the plots server. Authorization is role based: the caller's groups are
// matched against a static policy of (resource, verb) grants. A no-op mode is
// available for development.
package authz

import "context"

// Resource names used in authorization checks.
const (
	ResourcePlots       = "plots"
	ResourceTransitions = "transitions"
	ResourceHarvests    = "harvests"
	ResourceReports     = "reports"
	ResourceCrops       = "crops"
	ResourceAudit       = "audit"
)

// Verb names used in authorization checks.
const (
	VerbGet          = "get"
	VerbList         = "list"
	VerbCreate       = "create"
	VerbDelete       = "delete"
	VerbTransition   = "transition"
	VerbFlag         = "flag"
	VerbRelease      = "release"
	VerbForceRelease = "force-release"
)

// AuthzRequest represents an authorization check.
type AuthzRequest struct {
	User     string
	Groups   []string
	Resource string
	Verb     string
	Company  string
}

// Authorizer checks whether a user is authorized to perform an action.
type Authorizer interface {
	Authorize(ctx context.Context, req AuthzRequest) (bool, error)
}

// NoopAuthorizer allows every request. Selected with PLOTS_AUTHZ_MODE=none.
type NoopAuthorizer struct{}

func (*NoopAuthorizer) Authorize(context.Context, AuthzRequest) (bool, error) { return true, nil }
