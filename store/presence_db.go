package store

import (
	"database/sql"
	"errors"
	"fmt"

	"chat-core/model"

	"github.com/jmoiron/sqlx"
)

// UpsertPresence writes a user's durable presence row.
func UpsertPresence(db *sqlx.DB, record *model.PresenceRecord) error {
	_, err := db.NamedExec(`INSERT INTO presences (user_id, status, invisible, updated_at)
		VALUES (:user_id, :status, :invisible, :updated_at)
		ON CONFLICT(user_id) DO UPDATE SET
		    status = excluded.status,
		    invisible = excluded.invisible,
		    updated_at = excluded.updated_at`, record)
	if err != nil {
		return fmt.Errorf("failed to upsert presence for %s: %w", record.UserID, err)
	}
	return nil
}

// GetPresence retrieves a user's durable presence, or nil when the user
// has never set one.
func GetPresence(db *sqlx.DB, userID string) (*model.PresenceRecord, error) {
	var record model.PresenceRecord
	err := db.Get(&record, "SELECT * FROM presences WHERE user_id = ?", userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get presence for %s: %w", userID, err)
	}
	return &record, nil
}
