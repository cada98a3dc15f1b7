package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/labcontrol/labcontrol/pkg/observability"
	"github.com/labcontrol/labcontrol/pkg/storage"
)

// Notification kinds.
const (
	KindEmailVerification = "email_verification"
	KindPasswordReset     = "password_reset"
	KindResultReady       = "result_ready"
)

// Sender delivers a notification to its user. Implementations wrap an email
// or SMS provider.
type Sender interface {
	Send(ctx context.Context, n *storage.Notification) error
}

// LogSender writes deliveries to the log instead of sending them. Used in
// development and tests.
type LogSender struct {
	Log *logrus.Logger
}

func (s *LogSender) Send(ctx context.Context, n *storage.Notification) error {
	s.Log.WithFields(logrus.Fields{
		"notification_id": n.ID,
		"user_id":         n.UserID,
		"kind":            n.Kind,
		"subject":         n.Subject,
	}).Info("notification delivered")
	return nil
}

// Dispatcher drains the pending notification queue on a cron schedule.
type Dispatcher struct {
	store   storage.NotificationStore
	sender  Sender
	log     *logrus.Logger
	metrics *observability.Metrics
	cron    *cron.Cron
	batch   int
	timeout time.Duration
}

// NewDispatcher creates a dispatcher. metrics may be nil.
func NewDispatcher(store storage.NotificationStore, sender Sender, log *logrus.Logger, metrics *observability.Metrics) *Dispatcher {
	return &Dispatcher{
		store:   store,
		sender:  sender,
		log:     log,
		metrics: metrics,
		batch:   100,
		timeout: 30 * time.Second,
	}
}

// Start schedules dispatch runs. schedule is a cron expression or a literal
// like "@every 1m".
func (d *Dispatcher) Start(schedule string) error {
	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()
		if err := d.DispatchPending(ctx); err != nil {
			d.log.WithError(err).Error("notification dispatch run failed")
		}
	})
	if err != nil {
		return fmt.Errorf("invalid dispatch schedule %q: %w", schedule, err)
	}
	c.Start()
	d.cron = c
	return nil
}

// Stop halts the schedule and waits for a running dispatch to finish.
func (d *Dispatcher) Stop() {
	if d.cron != nil {
		<-d.cron.Stop().Done()
	}
}

// DispatchPending sends one batch of pending notifications. Failures mark
// the notification failed and do not stop the batch.
func (d *Dispatcher) DispatchPending(ctx context.Context) error {
	pending, err := d.store.ListPendingNotifications(ctx, d.batch)
	if err != nil {
		return fmt.Errorf("failed to load pending notifications: %w", err)
	}

	for _, n := range pending {
		status := storage.NotificationSent
		if err := d.sender.Send(ctx, n); err != nil {
			d.log.WithError(err).WithField("notification_id", n.ID).Warn("notification send failed")
			status = storage.NotificationFailed
		}
		if err := d.store.MarkNotificationSent(ctx, n.ID, status); err != nil {
			d.log.WithError(err).WithField("notification_id", n.ID).Error("failed to record notification status")
			continue
		}
		if d.metrics != nil {
			d.metrics.NotificationsDispatchedTotal.WithLabelValues(n.Kind, string(status)).Inc()
		}
	}
	return nil
}

// Enqueue queues a notification for the user.
func Enqueue(ctx context.Context, store storage.NotificationStore, tenantID, userID, kind, subject, body string) error {
	n := &storage.Notification{
		ID:       uuid.New().String(),
		TenantID: tenantID,
		UserID:   userID,
		Kind:     kind,
		Subject:  subject,
		Body:     body,
		Status:   storage.NotificationPending,
	}
	if err := store.CreateNotification(ctx, n); err != nil {
		return fmt.Errorf("failed to enqueue notification: %w", err)
	}
	return nil
}
