package authz

import "context"

// Role names recognized by the policy. They arrive as identity groups.
const (
	RoleSuperAdmin    = "SUPERADMIN"
	RoleAdmin         = "ADMIN"
	RoleAdministrador = "ADMINISTRADOR"
	RoleProductor     = "PRODUCTOR"
	RoleTecnico       = "TECNICO"
	RoleAsesor        = "ASESOR"
	RoleOperario      = "OPERARIO"
	RoleInvitado      = "INVITADO"
)

// Grant is a (resource, verb) pair.
type Grant struct {
	Resource string
	Verb     string
}

// Policy maps grants to the roles that hold them.
type Policy map[Grant][]string

// DefaultPolicy returns the built-in role policy. SUPERADMIN and ADMIN are
// allowed everything and do not appear in the table.
func DefaultPolicy() Policy {
	readers := []string{RoleAdministrador, RoleProductor, RoleTecnico, RoleAsesor, RoleOperario, RoleInvitado}
	operators := []string{RoleAdministrador, RoleProductor, RoleTecnico}
	return Policy{
		{ResourcePlots, VerbGet}:          readers,
		{ResourcePlots, VerbList}:         readers,
		{ResourcePlots, VerbCreate}:       {RoleAdministrador, RoleProductor},
		{ResourcePlots, VerbDelete}:       {RoleAdministrador, RoleProductor},
		{ResourcePlots, VerbTransition}:   operators,
		{ResourcePlots, VerbFlag}:         append([]string{RoleAsesor}, operators...),
		{ResourcePlots, VerbRelease}:      operators,
		{ResourcePlots, VerbForceRelease}: {RoleAdministrador, RoleProductor},
		{ResourceTransitions, VerbCreate}: append([]string{RoleAsesor}, operators...),
		{ResourceHarvests, VerbList}:      readers,
		{ResourceHarvests, VerbGet}:       readers,
		{ResourceHarvests, VerbCreate}:    operators,
		{ResourceHarvests, VerbDelete}:    {RoleAdministrador},
		{ResourceReports, VerbGet}:        readers,
		{ResourceCrops, VerbList}:         readers,
		{ResourceAudit, VerbList}:         {RoleAdministrador},
		{ResourceAudit, VerbGet}:          {RoleAdministrador},
	}
}

// RoleAuthorizer grants access when any of the caller's groups holds the
// requested grant.
type RoleAuthorizer struct {
	policy Policy
}

// NewRoleAuthorizer creates a RoleAuthorizer for the given policy.
func NewRoleAuthorizer(policy Policy) *RoleAuthorizer {
	return &RoleAuthorizer{policy: policy}
}

// Authorize checks the caller's groups against the policy.
func (a *RoleAuthorizer) Authorize(_ context.Context, req AuthzRequest) (bool, error) {
	allowed := a.policy[Grant{Resource: req.Resource, Verb: req.Verb}]
	for _, role := range NormalizeRoles(req.Groups...) {
		if role == RoleSuperAdmin || role == RoleAdmin {
			return true, nil
		}
		for _, r := range allowed {
			if r == role {
				return true, nil
			}
		}
	}
	return false, nil
}
