package store

import (
	"fmt"
	"time"

	"chat-core/model"

	"github.com/jmoiron/sqlx"
)

// InsertNotification writes a durable notification row. The id comes
// from the producer, so redelivery of the same queue item is a no-op.
func InsertNotification(db *sqlx.DB, n *model.Notification) error {
	_, err := db.NamedExec(`INSERT OR IGNORE INTO notifications (id, user_id, kind, payload, read, created_at)
		VALUES (:id, :user_id, :kind, :payload, :read, :created_at)`, n)
	if err != nil {
		return fmt.Errorf("failed to insert notification %s: %w", n.ID, err)
	}
	return nil
}

// ListNotificationsByUser returns a user's notifications, newest first.
func ListNotificationsByUser(db *sqlx.DB, userID string, limit int) ([]model.Notification, error) {
	var notifications []model.Notification
	err := db.Select(&notifications, `SELECT * FROM notifications WHERE user_id = ?
		ORDER BY created_at DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications for user %s: %w", userID, err)
	}
	return notifications, nil
}

// PurgeNotificationsBefore deletes notifications created before the
// cutoff, returning how many were removed.
func PurgeNotificationsBefore(db *sqlx.DB, cutoff time.Time) (int64, error) {
	result, err := db.Exec("DELETE FROM notifications WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge notifications: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to check purged notification count: %w", err)
	}
	return affected, nil
}
