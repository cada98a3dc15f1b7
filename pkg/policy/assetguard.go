package policy

import (
	"github.com/labcontrol/labcontrol/pkg/auth"
	"github.com/labcontrol/labcontrol/pkg/observability"
)

// AssetDecision is the outcome of an asset retrieval authorization.
type AssetDecision int

const (
	// DecisionServe allows streaming the asset to the principal.
	DecisionServe AssetDecision = iota
	// DecisionNotFound hides the asset. Used both when it does not exist
	// and when it exists outside the principal's scope, so the two cases
	// are indistinguishable on the wire.
	DecisionNotFound
	// DecisionForbidden means the principal's role lacks the retrieval
	// capability for this resource type regardless of instance.
	DecisionForbidden
)

func (d AssetDecision) String() string {
	switch d {
	case DecisionServe:
		return "serve"
	case DecisionNotFound:
		return "not_found"
	case DecisionForbidden:
		return "forbidden"
	}
	return "unknown"
}

// Asset is the minimal view of a stored file the guard needs. OwnerIDs lists
// every principal with an ownership claim; a result file is owned by both the
// study's patient and its ordering doctor.
type Asset struct {
	Resource Resource
	TenantID string
	OwnerIDs []string
	// Exists is false when the asset reference resolved to nothing.
	Exists bool
}

// Guard authorizes asset retrieval. The capability check runs before the
// visibility check: a role with no retrieval capability at all gets a
// forbidden answer, while a role that could retrieve some assets but not
// this one gets the same answer as for a nonexistent asset.
type Guard struct {
	evaluator *Evaluator
	metrics   *observability.Metrics
}

// NewGuard creates an asset guard. metrics may be nil.
func NewGuard(evaluator *Evaluator, metrics *observability.Metrics) *Guard {
	return &Guard{evaluator: evaluator, metrics: metrics}
}

// AuthorizeRetrieval decides whether the principal may download the asset.
func (g *Guard) AuthorizeRetrieval(p *auth.Principal, asset Asset) AssetDecision {
	decision := g.authorize(p, asset)
	if g.metrics != nil {
		g.metrics.AssetGuardTotal.WithLabelValues(decision.String()).Inc()
	}
	return decision
}

func (g *Guard) authorize(p *auth.Principal, asset Asset) AssetDecision {
	if !g.evaluator.IsAllowed(p, asset.Resource, ActionDownload) {
		return DecisionForbidden
	}
	if !asset.Exists {
		return DecisionNotFound
	}
	predicate := g.evaluator.ScopeFilterForAction(p, asset.Resource, ActionDownload)
	if !predicate.MatchesAnyOwner(asset.TenantID, asset.OwnerIDs...) {
		return DecisionNotFound
	}
	return DecisionServe
}
