package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labcontrol/labcontrol/pkg/auth"
)

func newTestEvaluator(t *testing.T) *Evaluator {
	t.Helper()
	table, err := NewTable(DefaultRules())
	require.NoError(t, err)
	return NewEvaluator(table, nil)
}

func principal(role auth.Role) *auth.Principal {
	return &auth.Principal{
		ID:       "user-1",
		Role:     role,
		TenantID: "lab-1",
		Active:   true,
	}
}

func TestDefaultRules_Compile(t *testing.T) {
	_, err := NewTable(DefaultRules())
	require.NoError(t, err)
}

func TestIsAllowed_SuperuserAlwaysAllowed(t *testing.T) {
	e := newTestEvaluator(t)
	su := principal(auth.RoleSuperuser)

	for _, res := range allResources() {
		for _, act := range allActions() {
			assert.True(t, e.IsAllowed(su, res, act), "%s:%s", res, act)
		}
	}
}

func TestIsAllowed_DenyByDefault(t *testing.T) {
	e := newTestEvaluator(t)

	// Every triple the table does not grant must come back denied, with no
	// distinction from an explicit denial.
	table, err := NewTable(DefaultRules())
	require.NoError(t, err)

	roles := []auth.Role{auth.RolePatient, auth.RoleDoctor, auth.RoleLabStaff, auth.RoleLabManager, auth.RoleAdmin}
	for _, role := range roles {
		for _, res := range allResources() {
			for _, act := range allActions() {
				_, granted := table.Lookup(role, res, act)
				got := e.IsAllowed(principal(role), res, act)
				assert.Equal(t, granted, got, "%s:%s:%s", role, res, act)
			}
		}
	}
}

func TestIsAllowed_KnownGrants(t *testing.T) {
	e := newTestEvaluator(t)

	tests := []struct {
		role     auth.Role
		resource Resource
		action   Action
		want     bool
	}{
		{auth.RolePatient, ResourceStudy, ActionRead, true},
		{auth.RolePatient, ResourceStudy, ActionCreate, false},
		{auth.RolePatient, ResourceResult, ActionDownload, true},
		{auth.RolePatient, ResourceResult, ActionUpload, false},
		{auth.RoleDoctor, ResourceStudy, ActionCreate, true},
		{auth.RoleDoctor, ResourceStudy, ActionDelete, false},
		{auth.RoleLabStaff, ResourceResult, ActionUpload, true},
		{auth.RoleLabStaff, ResourceStudy, ActionDelete, false},
		{auth.RoleLabStaff, ResourceUser, ActionCreate, false},
		{auth.RoleLabManager, ResourceStudy, ActionDelete, true},
		{auth.RoleLabManager, ResourceUser, ActionCreate, true},
		{auth.RoleAdmin, ResourceUser, ActionDelete, true},
	}

	for _, tt := range tests {
		got := e.IsAllowed(principal(tt.role), tt.resource, tt.action)
		assert.Equal(t, tt.want, got, "%s:%s:%s", tt.role, tt.resource, tt.action)
	}
}

func TestIsAllowed_InactivePrincipalDenied(t *testing.T) {
	e := newTestEvaluator(t)

	p := principal(auth.RoleAdmin)
	p.Active = false
	assert.False(t, e.IsAllowed(p, ResourceStudy, ActionRead))

	su := principal(auth.RoleSuperuser)
	su.Active = false
	assert.False(t, e.IsAllowed(su, ResourceStudy, ActionRead))
}

func TestIsAllowed_NilAndUnknownRoleDenied(t *testing.T) {
	e := newTestEvaluator(t)

	assert.False(t, e.IsAllowed(nil, ResourceStudy, ActionRead))

	p := principal(auth.Role("auditor"))
	assert.False(t, e.IsAllowed(p, ResourceStudy, ActionRead))
}

func TestGrantedScope(t *testing.T) {
	e := newTestEvaluator(t)

	scope, ok := e.GrantedScope(principal(auth.RolePatient), ResourceStudy, ActionRead)
	require.True(t, ok)
	assert.Equal(t, ScopeSelf, scope)

	scope, ok = e.GrantedScope(principal(auth.RoleSuperuser), ResourceStudy, ActionDelete)
	require.True(t, ok)
	assert.Equal(t, ScopeAll, scope)

	_, ok = e.GrantedScope(principal(auth.RolePatient), ResourceStudy, ActionDelete)
	assert.False(t, ok)
}

func TestNewTable_Validation(t *testing.T) {
	tests := []struct {
		name  string
		rules []CapabilityRule
	}{
		{"unknown role", []CapabilityRule{{Role: "auditor", Resource: ResourceStudy, Action: ActionRead, Scope: ScopeSelf}}},
		{"superuser rule", []CapabilityRule{{Role: auth.RoleSuperuser, Resource: ResourceStudy, Action: ActionRead, Scope: ScopeAll}}},
		{"unknown scope", []CapabilityRule{{Role: auth.RolePatient, Resource: ResourceStudy, Action: ActionRead, Scope: "global"}}},
		{"missing resource", []CapabilityRule{{Role: auth.RolePatient, Action: ActionRead, Scope: ScopeSelf}}},
		{"duplicate triple", []CapabilityRule{
			{Role: auth.RolePatient, Resource: ResourceStudy, Action: ActionRead, Scope: ScopeSelf},
			{Role: auth.RolePatient, Resource: ResourceStudy, Action: ActionRead, Scope: ScopeTenant},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewTable(tt.rules)
			assert.Error(t, err)
		})
	}
}

func allResources() []Resource {
	return []Resource{ResourceStudy, ResourceResult, ResourceStudyType, ResourceUser, ResourceNotification, ResourceAppointment}
}

func allActions() []Action {
	return []Action{ActionRead, ActionList, ActionCreate, ActionUpdate, ActionDelete, ActionUpload, ActionDownload}
}
