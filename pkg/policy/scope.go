package policy

import (
	"github.com/labcontrol/labcontrol/pkg/auth"
)

// ScopeFilter builds the visibility predicate for a principal reading a
// resource type. The persistence layer applies the predicate before any
// instance leaves storage; handlers apply it via MatchesInstance when they
// already hold the instance.
//
// Rules fire first-match-wins:
//
//  1. Superusers see everything.
//  2. Admins see their whole tenant.
//  3. Lab staff and managers see their whole tenant, narrowed to their own
//     instances where the capability table grants only self scope.
//  4. Patients and doctors see their own instances within their tenant.
//
// Any principal that matches none of the rules, including an inactive one or
// one carrying an unrecognized role, gets a predicate matching nothing.
func (e *Evaluator) ScopeFilter(p *auth.Principal, resource Resource) Predicate {
	return e.ScopeFilterForAction(p, resource, ActionRead)
}

// ScopeFilterForAction is ScopeFilter with an explicit action, for callers
// whose visibility is gated on something other than read (download, update).
func (e *Evaluator) ScopeFilterForAction(p *auth.Principal, resource Resource, action Action) Predicate {
	if p == nil || !p.Active {
		return Predicate{None: true}
	}

	switch p.Role {
	case auth.RoleSuperuser:
		return Predicate{All: true}

	case auth.RoleAdmin:
		return Predicate{TenantID: p.TenantID}

	case auth.RoleLabManager, auth.RoleLabStaff:
		if scope, ok := e.table.Lookup(p.Role, resource, action); ok && scope == ScopeSelf {
			return Predicate{TenantID: p.TenantID, OwnerID: p.ID}
		}
		return Predicate{TenantID: p.TenantID}

	case auth.RolePatient, auth.RoleDoctor:
		// Unowned catalog resources are granted at tenant scope; anything
		// else narrows to the principal's own instances.
		if scope, ok := e.table.Lookup(p.Role, resource, action); ok && scope == ScopeTenant {
			return Predicate{TenantID: p.TenantID}
		}
		return Predicate{TenantID: p.TenantID, OwnerID: p.ID}
	}

	// Unrecognized role: match nothing rather than guessing.
	return Predicate{None: true}
}
