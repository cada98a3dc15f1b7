package policy

import (
	"github.com/labcontrol/labcontrol/pkg/auth"
	"github.com/labcontrol/labcontrol/pkg/observability"
)

// Evaluator answers permission questions against a compiled capability table.
// Decisions are deny-by-default: any triple the table does not grant is
// denied, with no error distinct from an explicit denial.
type Evaluator struct {
	table   *Table
	metrics *observability.Metrics
}

// NewEvaluator creates an evaluator over the given table. metrics may be nil.
func NewEvaluator(table *Table, metrics *observability.Metrics) *Evaluator {
	if table == nil {
		table = DefaultTable()
	}
	return &Evaluator{table: table, metrics: metrics}
}

// IsAllowed reports whether the principal may perform action on the resource
// type. The answer ignores which instance is targeted; instance visibility is
// the scoping predicate's job.
func (e *Evaluator) IsAllowed(p *auth.Principal, resource Resource, action Action) bool {
	allowed := e.isAllowed(p, resource, action)
	if e.metrics != nil {
		outcome := "deny"
		if allowed {
			outcome = "allow"
		}
		role := "anonymous"
		if p != nil {
			role = string(p.Role)
		}
		e.metrics.AuthzDecisionsTotal.WithLabelValues(role, string(resource), string(action), outcome).Inc()
	}
	return allowed
}

func (e *Evaluator) isAllowed(p *auth.Principal, resource Resource, action Action) bool {
	if p == nil || !p.Active {
		return false
	}
	if p.Role == auth.RoleSuperuser {
		return true
	}
	_, ok := e.table.Lookup(p.Role, resource, action)
	return ok
}

// GrantedScope returns the scope the table grants the principal for the
// triple. Superusers always get ScopeAll. The second return is false when
// the action is denied outright.
func (e *Evaluator) GrantedScope(p *auth.Principal, resource Resource, action Action) (Scope, bool) {
	if p == nil || !p.Active {
		return "", false
	}
	if p.Role == auth.RoleSuperuser {
		return ScopeAll, true
	}
	return e.table.Lookup(p.Role, resource, action)
}
