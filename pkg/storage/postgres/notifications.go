package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/labcontrol/labcontrol/pkg/policy"
	"github.com/labcontrol/labcontrol/pkg/storage"
)

const notificationColumns = `n.id, n.tenant_id, n.user_id, n.kind, n.subject,
	n.body, n.status, n.read, n.created_at, n.sent_at`

func scanNotification(row interface{ Scan(...interface{}) error }) (*storage.Notification, error) {
	var n storage.Notification
	var sentAt sql.NullTime
	err := row.Scan(
		&n.ID, &n.TenantID, &n.UserID, &n.Kind, &n.Subject,
		&n.Body, &n.Status, &n.Read, &n.CreatedAt, &sentAt,
	)
	if err != nil {
		return nil, err
	}
	if sentAt.Valid {
		n.SentAt = &sentAt.Time
	}
	return &n, nil
}

func (s *Store) CreateNotification(ctx context.Context, n *storage.Notification) error {
	query := `
		INSERT INTO notifications (id, tenant_id, user_id, kind, subject, body, status, read)
		VALUES ($1, $2, $3, $4, $5, $6, $7, FALSE)
		RETURNING created_at
	`
	err := s.db.QueryRowContext(ctx, query,
		n.ID, n.TenantID, n.UserID, n.Kind, n.Subject, n.Body, n.Status,
	).Scan(&n.CreatedAt)
	s.observe("create_notification", err)
	if err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}
	return nil
}

func (s *Store) ListNotifications(ctx context.Context, pred policy.Predicate, unreadOnly bool, limit, offset int) ([]*storage.Notification, int64, error) {
	var args []interface{}
	cond, args := storage.CompilePredicate(pred, storage.NotificationColumns, args)

	conds := []string{cond}
	if unreadOnly {
		conds = append(conds, "n.read = FALSE")
	}
	where := strings.Join(conds, " AND ")

	var total int64
	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM notifications n WHERE %s`, where)
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		s.observe("list_notifications", err)
		return nil, 0, fmt.Errorf("failed to count notifications: %w", err)
	}

	args = append(args, limit, offset)
	query := fmt.Sprintf(`
		SELECT %s FROM notifications n WHERE %s
		ORDER BY n.created_at DESC, n.id
		LIMIT $%d OFFSET $%d`, notificationColumns, where, len(args)-1, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	s.observe("list_notifications", err)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer rows.Close()

	var notifications []*storage.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan notification: %w", err)
		}
		notifications = append(notifications, n)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating notifications: %w", err)
	}
	return notifications, total, nil
}

func (s *Store) MarkNotificationRead(ctx context.Context, id string, pred policy.Predicate) error {
	args := []interface{}{id}
	cond, args := storage.CompilePredicate(pred, storage.NotificationColumns, args)
	query := fmt.Sprintf(`
		UPDATE notifications n SET read = TRUE
		WHERE n.id = $1 AND %s`, cond)

	return s.execExpectingRow(ctx, "mark_notification_read", query, args...)
}

// ListPendingNotifications is used by the dispatcher; it bypasses visibility
// scoping because dispatch is a system activity, not a principal's request.
func (s *Store) ListPendingNotifications(ctx context.Context, limit int) ([]*storage.Notification, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM notifications n
		WHERE n.status = $1
		ORDER BY n.created_at
		LIMIT $2`, notificationColumns)

	rows, err := s.db.QueryContext(ctx, query, storage.NotificationPending, limit)
	s.observe("list_pending_notifications", err)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending notifications: %w", err)
	}
	defer rows.Close()

	var notifications []*storage.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		notifications = append(notifications, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating notifications: %w", err)
	}
	return notifications, nil
}

func (s *Store) MarkNotificationSent(ctx context.Context, id string, status storage.NotificationStatus) error {
	return s.execExpectingRow(ctx, "mark_notification_sent",
		`UPDATE notifications SET status = $2, sent_at = NOW() WHERE id = $1`, id, status)
}
