package policy

import (
	"fmt"

	"github.com/labcontrol/labcontrol/pkg/auth"
)

// Resource represents a resource type in the system
type Resource string

const (
	ResourceStudy        Resource = "study"
	ResourceResult       Resource = "result"
	ResourceStudyType    Resource = "study_type"
	ResourceUser         Resource = "user"
	ResourceNotification Resource = "notification"
	ResourceAppointment  Resource = "appointment"
)

// Action represents an action that can be performed on a resource
type Action string

const (
	ActionRead     Action = "read"
	ActionList     Action = "list"
	ActionCreate   Action = "create"
	ActionUpdate   Action = "update"
	ActionDelete   Action = "delete"
	ActionUpload   Action = "upload"
	ActionDownload Action = "download"
)

// Scope represents the breadth of instances a role may act on for an action
type Scope string

const (
	// ScopeSelf restricts to instances owned by the acting principal
	ScopeSelf Scope = "self"
	// ScopeTenant restricts to instances within the principal's tenant
	ScopeTenant Scope = "tenant"
	// ScopeAll grants unrestricted access (superuser only)
	ScopeAll Scope = "all"
)

// CapabilityRule grants a role a visibility scope for one (resource, action)
// pair. Absence of a rule means deny.
type CapabilityRule struct {
	Role     auth.Role `yaml:"role"`
	Resource Resource  `yaml:"resource"`
	Action   Action    `yaml:"action"`
	Scope    Scope     `yaml:"scope"`
}

func (r CapabilityRule) String() string {
	return fmt.Sprintf("%s:%s:%s=%s", r.Role, r.Resource, r.Action, r.Scope)
}

// Predicate is the composable instance filter produced by the scoping policy.
// The persistence layer applies it before any instance is returned or
// mutated; MatchesInstance applies it to an instance already in hand.
//
// Zero value matches nothing - the predicate fails closed.
type Predicate struct {
	// All short-circuits to every instance (superuser).
	All bool
	// None matches no instance (unknown role, inactive principal).
	None bool
	// TenantID, when set, requires the instance's tenant to match.
	TenantID string
	// OwnerID, when set, requires the instance's owning principal to match.
	OwnerID string
}

// MatchesInstance evaluates the predicate against a concrete instance.
func (p Predicate) MatchesInstance(tenantID, ownerID string) bool {
	if p.None {
		return false
	}
	if p.All {
		return true
	}
	if p.TenantID == "" && p.OwnerID == "" {
		// Neither restriction set and not All: fail closed.
		return false
	}
	if p.TenantID != "" && p.TenantID != tenantID {
		return false
	}
	if p.OwnerID != "" && p.OwnerID != ownerID {
		return false
	}
	return true
}

// MatchesAnyOwner is MatchesInstance for instances with more than one owning
// principal, such as a study owned by both its patient and its ordering
// doctor. The owner restriction is satisfied when any of them matches.
func (p Predicate) MatchesAnyOwner(tenantID string, ownerIDs ...string) bool {
	if p.OwnerID == "" {
		return p.MatchesInstance(tenantID, "")
	}
	for _, owner := range ownerIDs {
		if p.MatchesInstance(tenantID, owner) {
			return true
		}
	}
	return false
}

// Unrestricted reports whether the predicate places no restriction at all.
func (p Predicate) Unrestricted() bool {
	return p.All && !p.None
}
