package storage

import (
	"fmt"
	"strings"

	"github.com/labcontrol/labcontrol/pkg/policy"
)

// PredicateColumns names the columns a resource's visibility predicate binds
// to. Owners lists every column carrying an ownership claim; an owner
// restriction is satisfied when any of them matches.
type PredicateColumns struct {
	Tenant string
	Owners []string
}

var (
	UserColumns = PredicateColumns{
		Tenant: "u.tenant_id",
		Owners: []string{"u.id"},
	}
	StudyColumns = PredicateColumns{
		Tenant: "s.tenant_id",
		Owners: []string{"s.patient_id", "s.doctor_id"},
	}
	StudyTypeColumns = PredicateColumns{
		Tenant: "st.tenant_id",
	}
	NotificationColumns = PredicateColumns{
		Tenant: "n.tenant_id",
		Owners: []string{"n.user_id"},
	}
)

// CompilePredicate renders a visibility predicate as a SQL condition,
// appending its bind values to args. Placeholder numbering continues from
// len(args)+1 so the fragment composes with the caller's query.
//
// The zero predicate and Predicate{None: true} both compile to FALSE; a query
// carrying an uninitialized predicate returns nothing rather than everything.
func CompilePredicate(p policy.Predicate, cols PredicateColumns, args []interface{}) (string, []interface{}) {
	if p.None {
		return "FALSE", args
	}
	if p.All {
		return "TRUE", args
	}

	var conds []string
	if p.TenantID != "" {
		args = append(args, p.TenantID)
		conds = append(conds, fmt.Sprintf("%s = $%d", cols.Tenant, len(args)))
	}
	if p.OwnerID != "" {
		if len(cols.Owners) == 0 {
			// Owner restriction on a resource with no owner column
			// cannot be satisfied.
			return "FALSE", args
		}
		args = append(args, p.OwnerID)
		n := len(args)
		owners := make([]string, len(cols.Owners))
		for i, col := range cols.Owners {
			owners[i] = fmt.Sprintf("%s = $%d", col, n)
		}
		conds = append(conds, "("+strings.Join(owners, " OR ")+")")
	}
	if len(conds) == 0 {
		return "FALSE", args
	}
	return strings.Join(conds, " AND "), args
}
