package model

import "time"

// Role is a member's role within one server. Roles form a strict
// hierarchy used for moderation checks: owner > admin > moderator > member.
type Role string

const (
	RoleOwner     Role = "owner"
	RoleAdmin     Role = "admin"
	RoleModerator Role = "moderator"
	RoleMember    Role = "member"
)

var roleRanks = map[Role]int{
	RoleMember:    0,
	RoleModerator: 1,
	RoleAdmin:     2,
	RoleOwner:     3,
}

// Rank returns the hierarchy position of the role. Unknown roles rank
// below member.
func (r Role) Rank() int {
	if rank, ok := roleRanks[r]; ok {
		return rank
	}
	return -1
}

// Valid reports whether r is one of the four known roles.
func (r Role) Valid() bool {
	_, ok := roleRanks[r]
	return ok
}

// Membership links a user to a server with a role.
type Membership struct {
	UserID   string    `db:"user_id" json:"user_id"`
	ServerID string    `db:"server_id" json:"server_id"`
	Role     Role      `db:"role" json:"role"`
	JoinedAt time.Time `db:"joined_at" json:"joined_at"`
}
