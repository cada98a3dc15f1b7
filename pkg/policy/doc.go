// Package policy implements LabControl's authorization model: the capability
// table, the permission evaluator, the resource scoping predicate, and the
// asset retrieval guard.
//
// # Model
//
// Authorization is answered in two independent layers:
//
//   - "May this role perform this action on this resource type at all?"
//     Answered by Evaluator.IsAllowed against the capability table.
//     Deny-by-default: a missing rule is a denial.
//
//   - "Which instances may this principal see or touch?"
//     Answered by Evaluator.ScopeFilter, which produces a Predicate the
//     storage layer compiles into its queries. The predicate is also applied
//     in-memory via MatchesInstance when the instance is already in hand.
//
// Both layers fail closed. An inactive principal, a nil principal, or an
// unrecognized role is denied everything and sees nothing.
//
// # Existence Hiding
//
// The Guard orders its checks so that an out-of-scope asset is reported
// exactly like a nonexistent one. Only a role that lacks the retrieval
// capability entirely receives a forbidden answer, which reveals nothing
// about any particular instance.
//
// # Configuration
//
// The built-in table (DefaultRules) can be replaced wholesale by a YAML file
// via LoadTable. Rules are validated at load time; the process refuses to
// start on a malformed table rather than running with a wider one.
package policy
