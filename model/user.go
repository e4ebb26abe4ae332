package model

import "time"

// User holds the fields the core reads and updates. Account management
// itself is external.
type User struct {
	ID           string    `db:"id" json:"id"`
	Username     string    `db:"username" json:"username"`
	MessageCount int64     `db:"message_count" json:"message_count"`
	XP           int64     `db:"xp" json:"xp"`
	Level        int       `db:"level" json:"level"`
	TokenBalance int64     `db:"token_balance" json:"token_balance"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// NotificationPrefs gates which notification kinds a user receives.
type NotificationPrefs struct {
	UserID           string `db:"user_id" json:"user_id"`
	MentionsEnabled  bool   `db:"mentions_enabled" json:"mentions_enabled"`
	ReactionsEnabled bool   `db:"reactions_enabled" json:"reactions_enabled"`
}
