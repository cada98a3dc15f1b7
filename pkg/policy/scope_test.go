package policy

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/labcontrol/labcontrol/pkg/auth"
)

func TestScopeFilter_Superuser(t *testing.T) {
	e := newTestEvaluator(t)

	pred := e.ScopeFilter(principal(auth.RoleSuperuser), ResourceStudy)
	assert.True(t, pred.Unrestricted())
	assert.True(t, pred.MatchesInstance("other-lab", "someone-else"))
}

func TestScopeFilter_AdminTenantWide(t *testing.T) {
	e := newTestEvaluator(t)

	pred := e.ScopeFilter(principal(auth.RoleAdmin), ResourceStudy)
	assert.True(t, pred.MatchesInstance("lab-1", "someone-else"))
	assert.False(t, pred.MatchesInstance("lab-2", "user-1"))
}

func TestScopeFilter_StaffTenantWide(t *testing.T) {
	e := newTestEvaluator(t)

	for _, role := range []auth.Role{auth.RoleLabStaff, auth.RoleLabManager} {
		pred := e.ScopeFilter(principal(role), ResourceStudy)
		assert.True(t, pred.MatchesInstance("lab-1", "someone-else"), role)
		assert.False(t, pred.MatchesInstance("lab-2", "someone-else"), role)
	}
}

func TestScopeFilter_StaffNarrowedOnSelfScopedResource(t *testing.T) {
	e := newTestEvaluator(t)

	// Staff notifications are granted at self scope, so the tenant-wide rule
	// narrows to the principal's own instances.
	pred := e.ScopeFilter(principal(auth.RoleLabStaff), ResourceNotification)
	assert.True(t, pred.MatchesInstance("lab-1", "user-1"))
	assert.False(t, pred.MatchesInstance("lab-1", "someone-else"))
}

func TestScopeFilter_PatientAndDoctorOwnOnly(t *testing.T) {
	e := newTestEvaluator(t)

	for _, role := range []auth.Role{auth.RolePatient, auth.RoleDoctor} {
		pred := e.ScopeFilter(principal(role), ResourceStudy)
		assert.True(t, pred.MatchesInstance("lab-1", "user-1"), role)
		assert.False(t, pred.MatchesInstance("lab-1", "someone-else"), role)
		assert.False(t, pred.MatchesInstance("lab-2", "user-1"), role)
	}
}

func TestScopeFilter_PatientSeesTenantCatalog(t *testing.T) {
	e := newTestEvaluator(t)

	// The study catalog is granted at tenant scope, so patients browse it
	// tenant-wide even though their clinical data narrows to their own.
	pred := e.ScopeFilter(principal(auth.RolePatient), ResourceStudyType)
	assert.True(t, pred.MatchesInstance("lab-1", ""))
	assert.False(t, pred.MatchesInstance("lab-2", ""))
}

func TestScopeFilter_UnknownRoleMatchesNothing(t *testing.T) {
	e := newTestEvaluator(t)

	pred := e.ScopeFilter(principal(auth.Role("auditor")), ResourceStudy)
	assert.True(t, pred.None)
	assert.False(t, pred.MatchesInstance("lab-1", "user-1"))
}

func TestScopeFilter_InactiveMatchesNothing(t *testing.T) {
	e := newTestEvaluator(t)

	p := principal(auth.RoleAdmin)
	p.Active = false
	pred := e.ScopeFilter(p, ResourceStudy)
	assert.False(t, pred.MatchesInstance("lab-1", "user-1"))
}

// Tenant isolation: no non-superuser principal, whatever its role, may match
// an instance belonging to another tenant.
func TestScopeFilter_TenantIsolation(t *testing.T) {
	e := newTestEvaluator(t)

	tenants := []string{"lab-1", "lab-2", "lab-3"}
	roles := []auth.Role{auth.RolePatient, auth.RoleDoctor, auth.RoleLabStaff, auth.RoleLabManager, auth.RoleAdmin}

	for _, home := range tenants {
		for _, role := range roles {
			p := &auth.Principal{ID: "u-" + home, Role: role, TenantID: home, Active: true}
			for _, res := range allResources() {
				pred := e.ScopeFilter(p, res)
				for _, other := range tenants {
					if other == home {
						continue
					}
					name := fmt.Sprintf("%s@%s sees %s/%s", role, home, other, res)
					assert.False(t, pred.MatchesInstance(other, p.ID), name)
					assert.False(t, pred.MatchesInstance(other, "u-"+other), name)
				}
			}
		}
	}
}

func TestPredicate_ZeroValueFailsClosed(t *testing.T) {
	var pred Predicate
	assert.False(t, pred.MatchesInstance("lab-1", "user-1"))
}
