package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/labcontrol/labcontrol/pkg/auth"
	"github.com/labcontrol/labcontrol/pkg/policy"
	"github.com/labcontrol/labcontrol/pkg/storage"
)

const userColumns = `u.id, u.email, u.first_name, u.last_name, u.phone_number,
	u.role, u.tenant_id, u.password_hash, u.is_active, u.is_verified,
	u.created_at, u.updated_at, u.last_login_at`

func scanUser(row interface{ Scan(...interface{}) error }) (*auth.User, error) {
	var u auth.User
	var lastLogin sql.NullTime
	err := row.Scan(
		&u.ID, &u.Email, &u.FirstName, &u.LastName, &u.PhoneNumber,
		&u.Role, &u.TenantID, &u.PasswordHash, &u.IsActive, &u.IsVerified,
		&u.CreatedAt, &u.UpdatedAt, &lastLogin,
	)
	if err != nil {
		return nil, err
	}
	if lastLogin.Valid {
		u.LastLoginAt = &lastLogin.Time
	}
	return &u, nil
}

func (s *Store) CreateUser(ctx context.Context, user *auth.User) error {
	query := `
		INSERT INTO users (id, email, first_name, last_name, phone_number,
			role, tenant_id, password_hash, is_active, is_verified)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at
	`
	err := s.db.QueryRowContext(ctx, query,
		user.ID, user.Email, user.FirstName, user.LastName, user.PhoneNumber,
		user.Role, user.TenantID, user.PasswordHash, user.IsActive, user.IsVerified,
	).Scan(&user.CreatedAt, &user.UpdatedAt)
	s.observe("create_user", err)

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
		return storage.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (s *Store) GetUserByID(ctx context.Context, id string, pred policy.Predicate) (*auth.User, error) {
	if s.userCache != nil && pred.Unrestricted() {
		if user, ok := s.userCache.Get(id); ok {
			return user, nil
		}
	}

	args := []interface{}{id}
	cond, args := storage.CompilePredicate(pred, storage.UserColumns, args)
	query := fmt.Sprintf(`SELECT %s FROM users u WHERE u.id = $1 AND %s`, userColumns, cond)

	user, err := scanUser(s.db.QueryRowContext(ctx, query, args...))
	s.observe("get_user", err)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	if s.userCache != nil && pred.Unrestricted() {
		s.userCache.Add(id, user)
	}
	return user, nil
}

// GetUserByEmail bypasses visibility scoping. It exists for login and token
// flows, which run before any principal is established.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*auth.User, error) {
	query := fmt.Sprintf(`SELECT %s FROM users u WHERE lower(u.email) = lower($1)`, userColumns)

	user, err := scanUser(s.db.QueryRowContext(ctx, query, email))
	s.observe("get_user_by_email", err)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user by email: %w", err)
	}
	return user, nil
}

func (s *Store) ListUsers(ctx context.Context, pred policy.Predicate, roles []auth.Role, limit, offset int) ([]*auth.User, int64, error) {
	var args []interface{}
	cond, args := storage.CompilePredicate(pred, storage.UserColumns, args)

	conds := []string{cond, "u.is_active = TRUE"}
	if len(roles) > 0 {
		roleStrs := make([]string, len(roles))
		for i, r := range roles {
			roleStrs[i] = string(r)
		}
		args = append(args, pq.Array(roleStrs))
		conds = append(conds, fmt.Sprintf("u.role = ANY($%d)", len(args)))
	}
	where := strings.Join(conds, " AND ")

	var total int64
	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM users u WHERE %s`, where)
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		s.observe("list_users", err)
		return nil, 0, fmt.Errorf("failed to count users: %w", err)
	}

	args = append(args, limit, offset)
	query := fmt.Sprintf(`
		SELECT %s FROM users u WHERE %s
		ORDER BY u.last_name, u.first_name, u.id
		LIMIT $%d OFFSET $%d`, userColumns, where, len(args)-1, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	s.observe("list_users", err)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []*auth.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating users: %w", err)
	}
	return users, total, nil
}

func (s *Store) UpdateUser(ctx context.Context, user *auth.User, pred policy.Predicate) error {
	args := []interface{}{user.FirstName, user.LastName, user.PhoneNumber, user.ID}
	cond, args := storage.CompilePredicate(pred, storage.UserColumns, args)
	query := fmt.Sprintf(`
		UPDATE users u
		SET first_name = $1, last_name = $2, phone_number = $3, updated_at = NOW()
		WHERE u.id = $4 AND %s`, cond)

	err := s.execExpectingRow(ctx, "update_user", query, args...)
	if err == nil {
		s.invalidateUser(user.ID)
	}
	return err
}

func (s *Store) DeactivateUser(ctx context.Context, id string, pred policy.Predicate) error {
	args := []interface{}{id}
	cond, args := storage.CompilePredicate(pred, storage.UserColumns, args)
	query := fmt.Sprintf(`
		UPDATE users u SET is_active = FALSE, updated_at = NOW()
		WHERE u.id = $1 AND %s`, cond)

	err := s.execExpectingRow(ctx, "deactivate_user", query, args...)
	if err == nil {
		s.invalidateUser(id)
	}
	return err
}

func (s *Store) SetUserVerified(ctx context.Context, id string) error {
	err := s.execExpectingRow(ctx, "set_user_verified",
		`UPDATE users SET is_verified = TRUE, updated_at = NOW() WHERE id = $1`, id)
	if err == nil {
		s.invalidateUser(id)
	}
	return err
}

func (s *Store) SetUserPassword(ctx context.Context, id, passwordHash string) error {
	err := s.execExpectingRow(ctx, "set_user_password",
		`UPDATE users SET password_hash = $2, updated_at = NOW() WHERE id = $1`, id, passwordHash)
	if err == nil {
		s.invalidateUser(id)
	}
	return err
}

func (s *Store) TouchLastLogin(ctx context.Context, id string) error {
	err := s.execExpectingRow(ctx, "touch_last_login",
		`UPDATE users SET last_login_at = NOW() WHERE id = $1`, id)
	if err == nil {
		s.invalidateUser(id)
	}
	return err
}

// execExpectingRow runs a mutation that must affect exactly the targeted row.
// Zero rows affected reads as not found, which covers both a missing record
// and one outside the caller's predicate.
func (s *Store) execExpectingRow(ctx context.Context, operation, query string, args ...interface{}) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	s.observe(operation, err)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", strings.ReplaceAll(operation, "_", " "), err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to %s: %w", strings.ReplaceAll(operation, "_", " "), err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) invalidateUser(id string) {
	if s.userCache != nil {
		s.userCache.Remove(id)
	}
}
