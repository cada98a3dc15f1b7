package postgres

import (
	"context"
	"fmt"
)

// schema is applied idempotently at startup. Statements are ordered so each
// table exists before anything references it.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS tenants (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		first_name TEXT NOT NULL DEFAULT '',
		last_name TEXT NOT NULL DEFAULT '',
		phone_number TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL,
		tenant_id TEXT NOT NULL DEFAULT '',
		password_hash TEXT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		is_verified BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		last_login_at TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_users_tenant_role ON users (tenant_id, role)`,
	`CREATE TABLE IF NOT EXISTS study_types (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		code TEXT NOT NULL,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (tenant_id, code)
	)`,
	`CREATE TABLE IF NOT EXISTS studies (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		patient_id TEXT NOT NULL REFERENCES users (id),
		doctor_id TEXT REFERENCES users (id),
		study_type_id TEXT NOT NULL REFERENCES study_types (id),
		status TEXT NOT NULL DEFAULT 'pending',
		notes TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_studies_tenant ON studies (tenant_id, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_studies_patient ON studies (patient_id)`,
	`CREATE INDEX IF NOT EXISTS idx_studies_doctor ON studies (doctor_id)`,
	`CREATE TABLE IF NOT EXISTS result_files (
		id TEXT PRIMARY KEY,
		study_id TEXT NOT NULL REFERENCES studies (id) ON DELETE CASCADE,
		file_name TEXT NOT NULL,
		content_type TEXT NOT NULL,
		size BIGINT NOT NULL,
		object_key TEXT NOT NULL,
		uploaded_by TEXT NOT NULL REFERENCES users (id),
		uploaded_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (study_id)
	)`,
	`CREATE TABLE IF NOT EXISTS notifications (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		user_id TEXT NOT NULL REFERENCES users (id),
		kind TEXT NOT NULL,
		subject TEXT NOT NULL,
		body TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'pending',
		read BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		sent_at TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_notifications_user ON notifications (user_id, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_notifications_pending ON notifications (status) WHERE status = 'pending'`,
}

// Migrate applies the schema. Safe to run on every startup.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}
