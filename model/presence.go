package model

import "time"

// Status is a user's broadcastable presence state.
type Status string

const (
	StatusOnline    Status = "online"
	StatusAway      Status = "away"
	StatusBusy      Status = "busy"
	StatusInvisible Status = "invisible"
	StatusOffline   Status = "offline"
)

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	switch s {
	case StatusOnline, StatusAway, StatusBusy, StatusInvisible, StatusOffline:
		return true
	}
	return false
}

// PresenceRecord is the cache-held presence of one user. For an
// invisible user the stored Status is offline; Invisible lets the owning
// session recover the chosen state.
type PresenceRecord struct {
	UserID    string    `db:"user_id" json:"user_id"`
	Status    Status    `db:"status" json:"status"`
	Invisible bool      `db:"invisible" json:"invisible"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// VoiceState holds one user's flags inside a voice room. Deafened
// implies Muted.
type VoiceState struct {
	UserID    string    `json:"user_id"`
	ChannelID string    `json:"channel_id"`
	Muted     bool      `json:"muted"`
	Deafened  bool      `json:"deafened"`
	JoinedAt  time.Time `json:"joined_at"`
}
