// Package middleware provides the HTTP middleware chain: request IDs,
// session authentication, and per-class throttling of unauthenticated
// endpoints.
package middleware
