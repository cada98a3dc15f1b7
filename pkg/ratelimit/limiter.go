package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/labcontrol/labcontrol/pkg/counter"
	"github.com/labcontrol/labcontrol/pkg/observability"
)

// Policy is one throttle class: at most Limit requests per fixed Window.
type Policy struct {
	Limit  int           `yaml:"limit"`
	Window time.Duration `yaml:"window"`
}

// Throttle classes. Each class counts independently, so one identity may be
// over the login limit and still within the registration limit.
const (
	ClassLogin         = "login"
	ClassRegistration  = "registration"
	ClassPasswordReset = "password_reset"
	ClassResend        = "resend_verification"
	ClassEmailVerify   = "email_verify"
	ClassResetConfirm  = "password_reset_confirm"
)

// DefaultPolicies mirrors the platform's production throttle rates. The
// verify and confirm classes cover the token-presenting endpoints, where a
// mismatch costs the caller nothing.
func DefaultPolicies() map[string]Policy {
	return map[string]Policy{
		ClassLogin:         {Limit: 5, Window: 15 * time.Minute},
		ClassRegistration:  {Limit: 5, Window: time.Hour},
		ClassPasswordReset: {Limit: 3, Window: time.Hour},
		ClassResend:        {Limit: 3, Window: time.Hour},
		ClassEmailVerify:   {Limit: 5, Window: time.Hour},
		ClassResetConfirm:  {Limit: 5, Window: time.Hour},
	}
}

// Decision is the outcome of a single throttle check.
type Decision struct {
	Allowed bool
	// Limit and Remaining describe the window the request landed in.
	Limit     int
	Remaining int
	// RetryAfter is how long until the current window rolls over. Only
	// meaningful when the request was rejected.
	RetryAfter time.Duration
}

// Limiter implements fixed-window counting on top of the counter store.
//
// A request at time t lands in window floor(t/Window); the counter key embeds
// the window index so a new window starts from zero with no sliding state.
// Counter store failures reject the request: an unavailable backend must not
// become an unthrottled path.
type Limiter struct {
	store    *counter.Store
	policies map[string]Policy
	metrics  *observability.Metrics
	now      func() time.Time
}

// NewLimiter creates a limiter with the given per-class policies. Passing a
// nil map installs DefaultPolicies. metrics may be nil.
func NewLimiter(store *counter.Store, policies map[string]Policy, metrics *observability.Metrics) (*Limiter, error) {
	if policies == nil {
		policies = DefaultPolicies()
	}
	for class, p := range policies {
		if p.Limit <= 0 {
			return nil, fmt.Errorf("throttle class %q: limit must be positive", class)
		}
		// Window arithmetic runs in whole seconds; a shorter window would
		// truncate to zero.
		if p.Window < time.Second {
			return nil, fmt.Errorf("throttle class %q: window must be at least one second", class)
		}
	}
	return &Limiter{
		store:    store,
		policies: policies,
		metrics:  metrics,
		now:      time.Now,
	}, nil
}

// Check records one request attempt for (class, identity) and decides whether
// it is within the window's budget. Rejected attempts are counted too, but
// the counter saturates one past the limit so abuse cannot grow it unbounded.
func (l *Limiter) Check(ctx context.Context, class, identity string) (Decision, error) {
	policy, ok := l.policies[class]
	if !ok {
		return Decision{Allowed: false}, fmt.Errorf("unknown throttle class %q", class)
	}

	now := l.now()
	windowSecs := int64(policy.Window / time.Second)
	windowID := now.Unix() / windowSecs
	key := fmt.Sprintf("ratelimit:%s:%s:%d", class, identity, windowID)

	if l.metrics != nil {
		l.metrics.RateLimitChecksTotal.WithLabelValues(class).Inc()
	}

	count, err := l.store.IncrWithTTL(ctx, key, policy.Window, int64(policy.Limit)+1)
	if err != nil {
		// Fail closed: an unreachable store rejects rather than waving
		// everything through.
		if l.metrics != nil {
			l.metrics.RateLimitRejectionsTotal.WithLabelValues(class).Inc()
		}
		return Decision{
			Allowed:    false,
			Limit:      policy.Limit,
			RetryAfter: l.retryAfter(now, windowSecs),
		}, fmt.Errorf("throttle check for class %q failed: %w", class, err)
	}

	decision := Decision{
		Allowed:   count <= int64(policy.Limit),
		Limit:     policy.Limit,
		Remaining: policy.Limit - int(count),
	}
	if decision.Remaining < 0 {
		decision.Remaining = 0
	}
	if !decision.Allowed {
		decision.RetryAfter = l.retryAfter(now, windowSecs)
		if l.metrics != nil {
			l.metrics.RateLimitRejectionsTotal.WithLabelValues(class).Inc()
		}
	}
	return decision, nil
}

// retryAfter is the time remaining until the current fixed window rolls over,
// rounded up to a whole second so clients never retry early.
func (l *Limiter) retryAfter(now time.Time, windowSecs int64) time.Duration {
	elapsed := now.Unix() % windowSecs
	return time.Duration(windowSecs-elapsed) * time.Second
}

// Policies returns the configured policy map. The map must not be mutated.
func (l *Limiter) Policies() map[string]Policy {
	return l.policies
}
