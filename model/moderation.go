package model

import "time"

// BanRecord lives in the ephemeral cache under ban:<serverID>:<userID>.
// Presence of the key means "currently banned"; a zero ExpiresAt means
// the ban is permanent.
type BanRecord struct {
	ServerID  string     `json:"server_id"`
	UserID    string     `json:"user_id"`
	ActorID   string     `json:"actor_id"`
	Reason    string     `json:"reason"`
	IssuedAt  time.Time  `json:"issued_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// MuteRecord mirrors BanRecord, scoped to a single channel. Cache key
// mute:<serverID>:<channelID>:<userID>.
type MuteRecord struct {
	ServerID  string     `json:"server_id"`
	ChannelID string     `json:"channel_id"`
	UserID    string     `json:"user_id"`
	ActorID   string     `json:"actor_id"`
	Reason    string     `json:"reason"`
	IssuedAt  time.Time  `json:"issued_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// SystemActor marks log entries written by the reconciliation sweep
// rather than a moderator.
const SystemActor = "system"

// ModerationLogEntry is one record in a server's append-only moderation
// log, kept in the cache for operational review.
type ModerationLogEntry struct {
	Action    string    `json:"action"`
	UserID    string    `json:"user_id"`
	ActorID   string    `json:"actor_id"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
