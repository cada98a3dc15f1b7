package auth

import "time"

// Role is the coarse-grained role a principal holds within its tenant.
type Role string

const (
	RolePatient    Role = "patient"
	RoleDoctor     Role = "doctor"
	RoleLabStaff   Role = "lab_staff"
	RoleLabManager Role = "lab_manager"
	RoleAdmin      Role = "admin"
	RoleSuperuser  Role = "superuser"
)

// Valid reports whether the role is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RolePatient, RoleDoctor, RoleLabStaff, RoleLabManager, RoleAdmin, RoleSuperuser:
		return true
	}
	return false
}

// Principal is the authenticated actor performing an operation. It is built
// once per request by the auth middleware and is immutable for the lifetime
// of that request; it is never persisted.
type Principal struct {
	ID       string `json:"principal_id"`
	Role     Role   `json:"role"`
	TenantID string `json:"tenant_id,omitempty"` // empty for superuser
	Active   bool   `json:"is_active"`
}

// User is the persisted account behind a principal.
type User struct {
	ID           string     `json:"id"`
	Email        string     `json:"email"`
	FirstName    string     `json:"first_name,omitempty"`
	LastName     string     `json:"last_name,omitempty"`
	PhoneNumber  string     `json:"phone_number,omitempty"`
	Role         Role       `json:"role"`
	TenantID     string     `json:"tenant_id,omitempty"`
	PasswordHash string     `json:"-"`
	IsActive     bool       `json:"is_active"`
	IsVerified   bool       `json:"is_verified"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty"`
}

// Principal builds the request-scoped principal for this user.
func (u *User) Principal() *Principal {
	return &Principal{
		ID:       u.ID,
		Role:     u.Role,
		TenantID: u.TenantID,
		Active:   u.IsActive,
	}
}

// FullName returns the user's display name, falling back to the email.
func (u *User) FullName() string {
	name := u.FirstName
	if u.LastName != "" {
		if name != "" {
			name += " "
		}
		name += u.LastName
	}
	if name == "" {
		return u.Email
	}
	return name
}
