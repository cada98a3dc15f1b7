package policy

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/labcontrol/labcontrol/pkg/auth"
)

type capKey struct {
	role     auth.Role
	resource Resource
	action   Action
}

// Table is the compiled capability table. It is immutable after construction
// and safe for concurrent use.
type Table struct {
	scopes map[capKey]Scope
}

// NewTable compiles and validates a rule list. Validation rejects unknown
// roles, scopes, and duplicate (role, resource, action) triples so that a
// misconfigured table can never widen access at runtime.
func NewTable(rules []CapabilityRule) (*Table, error) {
	scopes := make(map[capKey]Scope, len(rules))
	for _, r := range rules {
		if !r.Role.Valid() {
			return nil, fmt.Errorf("capability rule %s: unknown role %q", r, r.Role)
		}
		if r.Role == auth.RoleSuperuser {
			return nil, fmt.Errorf("capability rule %s: superuser is implicit and must not appear in the table", r)
		}
		switch r.Scope {
		case ScopeSelf, ScopeTenant, ScopeAll:
		default:
			return nil, fmt.Errorf("capability rule %s: unknown scope %q", r, r.Scope)
		}
		if r.Resource == "" || r.Action == "" {
			return nil, fmt.Errorf("capability rule %s: resource and action are required", r)
		}
		key := capKey{role: r.Role, resource: r.Resource, action: r.Action}
		if existing, ok := scopes[key]; ok {
			return nil, fmt.Errorf("capability rule %s: duplicate of %s:%s:%s=%s", r, r.Role, r.Resource, r.Action, existing)
		}
		scopes[key] = r.Scope
	}
	return &Table{scopes: scopes}, nil
}

// DefaultTable compiles the built-in capability rules. The defaults are
// validated at init time in tests; a panic here means a programming error.
func DefaultTable() *Table {
	t, err := NewTable(DefaultRules())
	if err != nil {
		panic(fmt.Sprintf("built-in capability rules invalid: %v", err))
	}
	return t
}

// LoadTable reads capability rules from a YAML file and compiles them.
// The file replaces the defaults entirely rather than merging with them.
func LoadTable(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read capability rules: %w", err)
	}

	var doc struct {
		Rules []CapabilityRule `yaml:"rules"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse capability rules: %w", err)
	}
	if len(doc.Rules) == 0 {
		return nil, fmt.Errorf("capability rules file %s contains no rules", path)
	}
	return NewTable(doc.Rules)
}

// Lookup returns the scope granted for the triple, if any.
func (t *Table) Lookup(role auth.Role, resource Resource, action Action) (Scope, bool) {
	scope, ok := t.scopes[capKey{role: role, resource: resource, action: action}]
	return scope, ok
}

// DefaultRules is the built-in capability table.
//
// Patients and doctors act on their own records only. Lab staff operate
// tenant-wide on studies and results. Managers additionally administer
// accounts and the study catalog. Admins hold every capability within their
// tenant. Superusers never appear here; the evaluator short-circuits them.
func DefaultRules() []CapabilityRule {
	rules := []CapabilityRule{
		// Patients: their own clinical data, their own account.
		{auth.RolePatient, ResourceStudy, ActionRead, ScopeSelf},
		{auth.RolePatient, ResourceStudy, ActionList, ScopeSelf},
		{auth.RolePatient, ResourceResult, ActionRead, ScopeSelf},
		{auth.RolePatient, ResourceResult, ActionDownload, ScopeSelf},
		{auth.RolePatient, ResourceUser, ActionRead, ScopeSelf},
		{auth.RolePatient, ResourceUser, ActionUpdate, ScopeSelf},
		{auth.RolePatient, ResourceNotification, ActionRead, ScopeSelf},
		{auth.RolePatient, ResourceNotification, ActionList, ScopeSelf},
		{auth.RolePatient, ResourceNotification, ActionUpdate, ScopeSelf},
		{auth.RolePatient, ResourceAppointment, ActionRead, ScopeSelf},
		{auth.RolePatient, ResourceAppointment, ActionList, ScopeSelf},
		{auth.RolePatient, ResourceAppointment, ActionCreate, ScopeSelf},
		{auth.RolePatient, ResourceStudyType, ActionRead, ScopeTenant},
		{auth.RolePatient, ResourceStudyType, ActionList, ScopeTenant},

		// Doctors: studies they ordered and the results attached to them.
		{auth.RoleDoctor, ResourceStudy, ActionRead, ScopeSelf},
		{auth.RoleDoctor, ResourceStudy, ActionList, ScopeSelf},
		{auth.RoleDoctor, ResourceStudy, ActionCreate, ScopeSelf},
		{auth.RoleDoctor, ResourceResult, ActionRead, ScopeSelf},
		{auth.RoleDoctor, ResourceResult, ActionDownload, ScopeSelf},
		{auth.RoleDoctor, ResourceUser, ActionRead, ScopeSelf},
		{auth.RoleDoctor, ResourceUser, ActionUpdate, ScopeSelf},
		{auth.RoleDoctor, ResourceNotification, ActionRead, ScopeSelf},
		{auth.RoleDoctor, ResourceNotification, ActionList, ScopeSelf},
		{auth.RoleDoctor, ResourceNotification, ActionUpdate, ScopeSelf},
		{auth.RoleDoctor, ResourceAppointment, ActionRead, ScopeSelf},
		{auth.RoleDoctor, ResourceAppointment, ActionList, ScopeSelf},
		{auth.RoleDoctor, ResourceStudyType, ActionRead, ScopeTenant},
		{auth.RoleDoctor, ResourceStudyType, ActionList, ScopeTenant},

		// Lab staff: day-to-day tenant operations.
		{auth.RoleLabStaff, ResourceStudy, ActionRead, ScopeTenant},
		{auth.RoleLabStaff, ResourceStudy, ActionList, ScopeTenant},
		{auth.RoleLabStaff, ResourceStudy, ActionCreate, ScopeTenant},
		{auth.RoleLabStaff, ResourceStudy, ActionUpdate, ScopeTenant},
		{auth.RoleLabStaff, ResourceResult, ActionRead, ScopeTenant},
		{auth.RoleLabStaff, ResourceResult, ActionUpload, ScopeTenant},
		{auth.RoleLabStaff, ResourceResult, ActionDownload, ScopeTenant},
		{auth.RoleLabStaff, ResourceUser, ActionRead, ScopeTenant},
		{auth.RoleLabStaff, ResourceUser, ActionList, ScopeTenant},
		{auth.RoleLabStaff, ResourceNotification, ActionRead, ScopeSelf},
		{auth.RoleLabStaff, ResourceNotification, ActionList, ScopeSelf},
		{auth.RoleLabStaff, ResourceNotification, ActionCreate, ScopeTenant},
		{auth.RoleLabStaff, ResourceNotification, ActionUpdate, ScopeSelf},
		{auth.RoleLabStaff, ResourceAppointment, ActionRead, ScopeTenant},
		{auth.RoleLabStaff, ResourceAppointment, ActionList, ScopeTenant},
		{auth.RoleLabStaff, ResourceAppointment, ActionUpdate, ScopeTenant},
		{auth.RoleLabStaff, ResourceStudyType, ActionRead, ScopeTenant},
		{auth.RoleLabStaff, ResourceStudyType, ActionList, ScopeTenant},
	}

	// Managers hold every staff capability plus account and catalog admin.
	for _, r := range rules {
		if r.Role == auth.RoleLabStaff {
			rules = append(rules, CapabilityRule{auth.RoleLabManager, r.Resource, r.Action, r.Scope})
		}
	}
	rules = append(rules,
		CapabilityRule{auth.RoleLabManager, ResourceStudy, ActionDelete, ScopeTenant},
		CapabilityRule{auth.RoleLabManager, ResourceUser, ActionCreate, ScopeTenant},
		CapabilityRule{auth.RoleLabManager, ResourceUser, ActionUpdate, ScopeTenant},
		CapabilityRule{auth.RoleLabManager, ResourceUser, ActionDelete, ScopeTenant},
		CapabilityRule{auth.RoleLabManager, ResourceStudyType, ActionCreate, ScopeTenant},
		CapabilityRule{auth.RoleLabManager, ResourceStudyType, ActionUpdate, ScopeTenant},
		CapabilityRule{auth.RoleLabManager, ResourceStudyType, ActionDelete, ScopeTenant},
	)

	// Admins hold every (resource, action) pair within their tenant.
	resources := []Resource{ResourceStudy, ResourceResult, ResourceStudyType, ResourceUser, ResourceNotification, ResourceAppointment}
	actions := []Action{ActionRead, ActionList, ActionCreate, ActionUpdate, ActionDelete, ActionUpload, ActionDownload}
	for _, res := range resources {
		for _, act := range actions {
			rules = append(rules, CapabilityRule{auth.RoleAdmin, res, act, ScopeTenant})
		}
	}

	return rules
}
