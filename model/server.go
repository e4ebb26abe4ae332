package model

import "time"

// ModerationPolicy controls what happens when content fails a moderation
// check in a server.
type ModerationPolicy string

const (
	PolicyOff   ModerationPolicy = "off"
	PolicyLog   ModerationPolicy = "log"
	PolicyWarn  ModerationPolicy = "warn"
	PolicyBlock ModerationPolicy = "block"
)

// Valid reports whether p is a known policy value.
func (p ModerationPolicy) Valid() bool {
	switch p {
	case PolicyOff, PolicyLog, PolicyWarn, PolicyBlock:
		return true
	}
	return false
}

// Server is a community containing channels and members.
type Server struct {
	ID               string           `db:"id" json:"id"`
	Name             string           `db:"name" json:"name"`
	OwnerID          string           `db:"owner_id" json:"owner_id"`
	ModerationPolicy ModerationPolicy `db:"moderation_policy" json:"moderation_policy"`
	CreatedAt        time.Time        `db:"created_at" json:"created_at"`
}
