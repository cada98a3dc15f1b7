// Package notify queues and dispatches user notifications. Handlers enqueue
// rows in the notification table; a cron-scheduled dispatcher drains the
// pending queue through a Sender, marking each row sent or failed.
package notify
