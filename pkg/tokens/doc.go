// Package tokens manages one-time verification tokens for email verification
// and password reset.
//
// A subject (user) holds at most one live token per purpose. Issuing a new
// token atomically replaces the prior one, so a resent verification email
// invalidates the link in the previous message. Consumption is an atomic
// check-and-set in the counter store: of any number of concurrent
// presentations exactly one succeeds, and a wrong value never burns the live
// token.
//
// Token values are stored hashed. Verification failures are reported to
// clients as a single undifferentiated invalid-token error; the detailed
// cause (mismatch, expiry, reuse) is kept for logs and metrics.
package tokens
