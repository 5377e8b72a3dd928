package plots

import (
	"context"
	"fmt"

	"github.com/agrogestion/plots/pkg/authz"
	"github.com/agrogestion/plots/pkg/tenancy"
)

// Actor is the caller of a lifecycle operation.
type Actor struct {
	User      string
	Groups    []string
	CompanyID string
}

// ActorFromContext builds the Actor from the request identity and tenant.
func ActorFromContext(ctx context.Context) Actor {
	id, _ := authz.IdentityFromContext(ctx)
	user := id.User
	if user == "" {
		user = "anonymous"
	}
	return Actor{User: user, Groups: id.Groups, CompanyID: tenancy.CompanyFromContext(ctx)}
}

// Action is the permission checked for a plot operation.
type Action struct {
	Resource string
	Verb     string
}

var (
	ActionView          = Action{authz.ResourcePlots, authz.VerbGet}
	ActionCreate        = Action{authz.ResourcePlots, authz.VerbCreate}
	ActionDelete        = Action{authz.ResourcePlots, authz.VerbDelete}
	ActionTransition    = Action{authz.ResourcePlots, authz.VerbTransition}
	ActionFlag          = Action{authz.ResourcePlots, authz.VerbFlag}
	ActionRelease       = Action{authz.ResourcePlots, authz.VerbRelease}
	ActionForceRelease  = Action{authz.ResourcePlots, authz.VerbForceRelease}
	ActionRecordHarvest = Action{authz.ResourceHarvests, authz.VerbCreate}
	ActionDeleteHarvest = Action{authz.ResourceHarvests, authz.VerbDelete}
)

// transitionAction picks the permission for a move into target. Flagging a
// plot as diseased or abandoned is open to advisors.
func transitionAction(target State) Action {
	if target == StateEnfermo || target == StateAbandonado {
		return ActionFlag
	}
	return ActionTransition
}

// Access is the single capability check for acting on a plot.
type Access interface {
	// CanActOnPlot returns nil when actor may perform action on plot, a
	// PlotNotFound error when the plot belongs to another company, and a
	// Forbidden error when the actor's roles do not allow it.
	CanActOnPlot(ctx context.Context, actor Actor, plot *PlotRecord, action Action) error
}

// RoleAccess checks company ownership and then asks an authz.Authorizer.
type RoleAccess struct {
	authorizer authz.Authorizer
}

// NewRoleAccess creates a RoleAccess. A nil authorizer allows every role.
func NewRoleAccess(a authz.Authorizer) *RoleAccess {
	if a == nil {
		a = &authz.NoopAuthorizer{}
	}
	return &RoleAccess{authorizer: a}
}

func (a *RoleAccess) CanActOnPlot(ctx context.Context, actor Actor, plot *PlotRecord, action Action) error {
	if plot == nil || plot.CompanyID != actor.CompanyID {
		id := ""
		if plot != nil {
			id = plot.ID
		}
		return plotNotFound(id)
	}
	ok, err := a.authorizer.Authorize(ctx, authz.AuthzRequest{
		User:     actor.User,
		Groups:   actor.Groups,
		Resource: action.Resource,
		Verb:     action.Verb,
		Company:  actor.CompanyID,
	})
	if err != nil {
		return fmt.Errorf("authorize %s/%s: %w", action.Resource, action.Verb, err)
	}
	if !ok {
		return forbidden(plot.ID, fmt.Sprintf("%s may not %s %s", actor.User, action.Verb, action.Resource))
	}
	return nil
}
