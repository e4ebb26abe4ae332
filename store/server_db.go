package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"chat-core/model"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// CreateServer inserts a server together with its owner membership and
// an initial general channel, so the "a server always retains at least
// one channel" invariant holds from birth.
func CreateServer(db *sqlx.DB, name, ownerID string, policy model.ModerationPolicy) (*model.Server, error) {
	now := time.Now().UTC()
	server := &model.Server{
		ID:               uuid.NewString(),
		Name:             name,
		OwnerID:          ownerID,
		ModerationPolicy: policy,
		CreatedAt:        now,
	}

	tx, err := db.Beginx()
	if err != nil {
		return nil, fmt.Errorf("failed to begin server create: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.NamedExec(`INSERT INTO servers (id, name, owner_id, moderation_policy, created_at)
		VALUES (:id, :name, :owner_id, :moderation_policy, :created_at)`, server); err != nil {
		return nil, fmt.Errorf("failed to insert server: %w", err)
	}

	membership := model.Membership{
		UserID:   ownerID,
		ServerID: server.ID,
		Role:     model.RoleOwner,
		JoinedAt: now,
	}
	if _, err := tx.NamedExec(`INSERT INTO memberships (user_id, server_id, role, joined_at)
		VALUES (:user_id, :server_id, :role, :joined_at)`, membership); err != nil {
		return nil, fmt.Errorf("failed to insert owner membership: %w", err)
	}

	general := model.Channel{
		ID:        uuid.NewString(),
		ServerID:  server.ID,
		Name:      "general",
		Type:      model.ChannelText,
		CreatedAt: now,
	}
	if _, err := tx.NamedExec(`INSERT INTO channels (id, server_id, name, type, position, slow_mode_seconds, private, created_at)
		VALUES (:id, :server_id, :name, :type, :position, :slow_mode_seconds, :private, :created_at)`, general); err != nil {
		return nil, fmt.Errorf("failed to insert initial channel: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit server create: %w", err)
	}
	return server, nil
}

// GetServerByID retrieves a server, or nil when it does not exist.
func GetServerByID(db *sqlx.DB, id string) (*model.Server, error) {
	var server model.Server
	err := db.Get(&server, "SELECT * FROM servers WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get server %s: %w", id, err)
	}
	return &server, nil
}

// UpdateModerationPolicy sets a server's content-policy mode.
func UpdateModerationPolicy(db *sqlx.DB, serverID string, policy model.ModerationPolicy) error {
	result, err := db.Exec("UPDATE servers SET moderation_policy = ? WHERE id = ?", policy, serverID)
	if err != nil {
		return fmt.Errorf("failed to update moderation policy for server %s: %w", serverID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected for server %s: %w", serverID, err)
	}
	if affected == 0 {
		return fmt.Errorf("no server found with id %s", serverID)
	}
	return nil
}
