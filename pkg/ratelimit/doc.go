// Package ratelimit throttles unauthenticated endpoints with fixed-window
// counters backed by the counter store.
//
// Each throttle class pairs a limit with a window. A request at time t lands
// in window floor(t/window); its counter key embeds the class, the caller's
// identity, and the window index, so windows roll over without any stored
// sliding state and stale counters simply expire.
//
//	limiter, _ := ratelimit.NewLimiter(store, nil, metrics)
//	d, err := limiter.Check(ctx, ratelimit.ClassLogin, clientIP)
//	if err != nil || !d.Allowed {
//	    // reject with Retry-After: d.RetryAfter
//	}
//
// The limiter fails closed: when the counter store is unreachable the check
// rejects, so a degraded backend never opens an unthrottled path.
package ratelimit
