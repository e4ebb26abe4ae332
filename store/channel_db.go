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

// ErrLastChannel is returned when deleting a server's only channel.
var ErrLastChannel = errors.New("cannot delete the last channel of a server")

// CreateChannel inserts a channel for an existing server.
func CreateChannel(db *sqlx.DB, serverID, name string, chType model.ChannelType, position, slowModeSeconds int, private bool) (*model.Channel, error) {
	channel := &model.Channel{
		ID:              uuid.NewString(),
		ServerID:        serverID,
		Name:            name,
		Type:            chType,
		Position:        position,
		SlowModeSeconds: slowModeSeconds,
		Private:         private,
		CreatedAt:       time.Now().UTC(),
	}
	_, err := db.NamedExec(`INSERT INTO channels (id, server_id, name, type, position, slow_mode_seconds, private, created_at)
		VALUES (:id, :server_id, :name, :type, :position, :slow_mode_seconds, :private, :created_at)`, channel)
	if err != nil {
		return nil, fmt.Errorf("failed to insert channel: %w", err)
	}
	return channel, nil
}

// GetChannelByID retrieves a channel, or nil when it does not exist.
func GetChannelByID(db *sqlx.DB, id string) (*model.Channel, error) {
	var channel model.Channel
	err := db.Get(&channel, "SELECT * FROM channels WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get channel %s: %w", id, err)
	}
	return &channel, nil
}

// ListChannelsByServer returns a server's channels ordered by position.
func ListChannelsByServer(db *sqlx.DB, serverID string) ([]model.Channel, error) {
	var channels []model.Channel
	err := db.Select(&channels, "SELECT * FROM channels WHERE server_id = ? ORDER BY position, created_at", serverID)
	if err != nil {
		return nil, fmt.Errorf("failed to list channels for server %s: %w", serverID, err)
	}
	return channels, nil
}

// SetSlowMode updates a channel's slow-mode interval.
func SetSlowMode(db *sqlx.DB, channelID string, seconds int) error {
	result, err := db.Exec("UPDATE channels SET slow_mode_seconds = ? WHERE id = ?", seconds, channelID)
	if err != nil {
		return fmt.Errorf("failed to set slow mode for channel %s: %w", channelID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected for channel %s: %w", channelID, err)
	}
	if affected == 0 {
		return fmt.Errorf("no channel found with id %s", channelID)
	}
	return nil
}

// DeleteChannel removes a channel and all of its messages. Deleting a
// server's last channel is rejected with ErrLastChannel.
func DeleteChannel(db *sqlx.DB, channelID string) error {
	tx, err := db.Beginx()
	if err != nil {
		return fmt.Errorf("failed to begin channel delete: %w", err)
	}
	defer tx.Rollback()

	var serverID string
	if err := tx.Get(&serverID, "SELECT server_id FROM channels WHERE id = ?", channelID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("no channel found with id %s", channelID)
		}
		return fmt.Errorf("failed to resolve channel %s: %w", channelID, err)
	}

	var count int
	if err := tx.Get(&count, "SELECT COUNT(*) FROM channels WHERE server_id = ?", serverID); err != nil {
		return fmt.Errorf("failed to count channels for server %s: %w", serverID, err)
	}
	if count <= 1 {
		return ErrLastChannel
	}

	if _, err := tx.Exec("DELETE FROM messages WHERE channel_id = ?", channelID); err != nil {
		return fmt.Errorf("failed to delete messages for channel %s: %w", channelID, err)
	}
	if _, err := tx.Exec("DELETE FROM channels WHERE id = ?", channelID); err != nil {
		return fmt.Errorf("failed to delete channel %s: %w", channelID, err)
	}
	return tx.Commit()
}
