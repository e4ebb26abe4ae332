package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"chat-core/model"

	"github.com/jmoiron/sqlx"
)

// AddMembership inserts a membership row. Duplicate (user, server)
// pairs are rejected by the primary key; callers translate that into a
// Conflict error.
func AddMembership(db *sqlx.DB, userID, serverID string, role model.Role) error {
	membership := model.Membership{
		UserID:   userID,
		ServerID: serverID,
		Role:     role,
		JoinedAt: time.Now().UTC(),
	}
	_, err := db.NamedExec(`INSERT INTO memberships (user_id, server_id, role, joined_at)
		VALUES (:user_id, :server_id, :role, :joined_at)`, membership)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return ErrDuplicateMembership
		}
		return fmt.Errorf("failed to insert membership for user %s in server %s: %w", userID, serverID, err)
	}
	return nil
}

// ErrDuplicateMembership is returned when a user already belongs to the
// server.
var ErrDuplicateMembership = errors.New("membership already exists")

// GetMembership retrieves a membership, or nil when the user does not
// belong to the server.
func GetMembership(db *sqlx.DB, userID, serverID string) (*model.Membership, error) {
	var membership model.Membership
	err := db.Get(&membership, "SELECT * FROM memberships WHERE user_id = ? AND server_id = ?", userID, serverID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get membership for user %s in server %s: %w", userID, serverID, err)
	}
	return &membership, nil
}

// DeleteMembership removes a membership row.
func DeleteMembership(db *sqlx.DB, userID, serverID string) error {
	result, err := db.Exec("DELETE FROM memberships WHERE user_id = ? AND server_id = ?", userID, serverID)
	if err != nil {
		return fmt.Errorf("failed to delete membership for user %s in server %s: %w", userID, serverID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected for membership delete: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("no membership found for user %s in server %s", userID, serverID)
	}
	return nil
}

// UpdateMembershipRole changes a member's role.
func UpdateMembershipRole(db *sqlx.DB, userID, serverID string, role model.Role) error {
	result, err := db.Exec("UPDATE memberships SET role = ? WHERE user_id = ? AND server_id = ?", role, userID, serverID)
	if err != nil {
		return fmt.Errorf("failed to update role for user %s in server %s: %w", userID, serverID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected for role update: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("no membership found for user %s in server %s", userID, serverID)
	}
	return nil
}

// ListServerIDsByUser returns the ids of every server the user belongs
// to. Presence changes fan out to these.
func ListServerIDsByUser(db *sqlx.DB, userID string) ([]string, error) {
	var ids []string
	err := db.Select(&ids, "SELECT server_id FROM memberships WHERE user_id = ?", userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list servers for user %s: %w", userID, err)
	}
	return ids, nil
}

// GetMemberByUsername resolves a username to a user id, restricted to
// members of the given server. Used for mention extraction; the match
// is case-sensitive.
func GetMemberByUsername(db *sqlx.DB, serverID, username string) (*model.User, error) {
	var user model.User
	err := db.Get(&user, `SELECT u.* FROM users u
		JOIN memberships ms ON ms.user_id = u.id
		WHERE ms.server_id = ? AND u.username = ?`, serverID, username)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve member %q in server %s: %w", username, serverID, err)
	}
	return &user, nil
}
