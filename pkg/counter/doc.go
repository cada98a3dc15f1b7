// Package counter provides the shared Redis-backed clock and counter store
// that underpins rate limiting, verification tokens, and sessions.
//
// # Overview
//
// All mutable policy state lives here, outside the process. The store exposes
// exactly the atomic primitives the policy core needs, each implemented as a
// single round-trip Lua script so concurrent callers can never interleave:
//
//   - IncrWithTTL: increment a window counter, applying the expiry only when
//     the key is created (a window expires once per period, never extended by
//     later hits), and saturating at a cap.
//   - PutRecord / ConsumeRecord: write and check-and-set a single-use token
//     record. Exactly one concurrent consumer observes success.
//   - GetJSON / SetJSON: TTL-bound JSON records for session state.
//
// # Failure Semantics
//
// Connectivity failures are retried a bounded number of times and then
// surfaced as ErrUnavailable. Callers fail closed: the rate limiter rejects
// and the token manager reports the token invalid. A degraded store must
// never silently disable a security control.
//
// # Key Namespaces
//
//	ratelimit:{class}:{identity}:{window_id} -> saturating counter
//	token:{subject_id}:{purpose}             -> token record hash
//	session:{token_hash}                     -> session JSON
package counter
