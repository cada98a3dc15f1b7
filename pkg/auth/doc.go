// Package auth provides principal resolution, session tokens, and password
// handling for the LabControl platform.
//
// # Overview
//
// Every inbound request resolves to a Principal: the authenticated actor with
// its role and tenant affiliation. The principal is built once per request by
// the middleware, is immutable for the request's lifetime, and is never
// persisted beyond it. Everything above this package (policy, scoping,
// handlers) consumes the Principal and nothing else about the account.
//
// # Roles
//
//	RolePatient    - sees only their own records
//	RoleDoctor     - sees records they own within their tenant
//	RoleLabStaff   - tenant-wide access, self-scoped where granted
//	RoleLabManager - tenant-wide access
//	RoleAdmin      - full access within their tenant
//	RoleSuperuser  - unrestricted, crosses tenant boundaries
//
// # Session Tokens
//
// Sessions are opaque bearer tokens: lc_<base64url(32 random bytes)>. Only
// the SHA256 hash is stored (in the counter store, with a TTL); the plaintext
// is returned to the client exactly once at login.
//
//	sessions := auth.NewSessionStore(counterStore, 12*time.Hour)
//	token, err := sessions.Issue(ctx, user.Principal())
//	principal, err := sessions.Resolve(ctx, token)
//
// # Passwords
//
// Passwords are hashed with bcrypt. ValidatePasswordStrength enforces the
// minimum policy before hashing.
package auth
