package policy

import "errors"

// Error taxonomy surfaced to API handlers. Handlers map these to HTTP
// statuses; internal detail never reaches the client.
var (
	// ErrPermissionDenied means the capability table denied the action.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrNotVisible means the target instance exists but falls outside the
	// principal's visibility scope. Callers must present it exactly as a
	// missing instance so existence is not revealed.
	ErrNotVisible = errors.New("resource not found")

	// ErrRateLimited means a throttle rejected the request.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrTokenInvalid is the client-facing coalescing of every token
	// verification failure (mismatch, expired, already consumed).
	ErrTokenInvalid = errors.New("invalid or expired token")
)
