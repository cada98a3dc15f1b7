// Package api exposes the platform over HTTP.
//
// Every authenticated handler follows the same two-step authorization
// sequence: the capability check decides whether the principal's role may
// perform the action at all, and the scoping predicate decides which
// instances the operation can see or touch. The predicate is handed to the
// storage layer, so an out-of-scope record is indistinguishable from a
// missing one.
//
// Unauthenticated account endpoints (register, login, password reset) are
// throttled per client IP and written so their responses never reveal
// whether an email address has an account.
package api
