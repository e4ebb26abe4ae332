package model

import "time"

// Notification kinds enqueued by the core.
const (
	NotifyMention  = "mention"
	NotifyReaction = "reaction"
	NotifyBan      = "ban"
	NotifyUnban    = "unban"
)

// NotificationPayload is what producers enqueue. ID is supplied by the
// producer so at-least-once delivery stays idempotent on insert.
type NotificationPayload struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	ActorID   string    `json:"actor_id,omitempty"`
	ServerID  string    `json:"server_id,omitempty"`
	ChannelID string    `json:"channel_id,omitempty"`
	MessageID string    `json:"message_id,omitempty"`
	Body      string    `json:"body,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Notification is the durable row written by the notification worker.
type Notification struct {
	ID        string    `db:"id" json:"id"`
	UserID    string    `db:"user_id" json:"user_id"`
	Kind      string    `db:"kind" json:"kind"`
	Payload   string    `db:"payload" json:"payload"` // JSON-encoded NotificationPayload
	Read      bool      `db:"read" json:"read"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
