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

// CreateUser inserts a user row.
func CreateUser(db *sqlx.DB, username string) (*model.User, error) {
	user := &model.User{
		ID:        uuid.NewString(),
		Username:  username,
		CreatedAt: time.Now().UTC(),
	}
	_, err := db.NamedExec(`INSERT INTO users (id, username, message_count, xp, level, token_balance, created_at)
		VALUES (:id, :username, :message_count, :xp, :level, :token_balance, :created_at)`, user)
	if err != nil {
		return nil, fmt.Errorf("failed to insert user %q: %w", username, err)
	}
	return user, nil
}

// GetUserByID retrieves a user, or nil when it does not exist.
func GetUserByID(db *sqlx.DB, id string) (*model.User, error) {
	var user model.User
	err := db.Get(&user, "SELECT * FROM users WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user %s: %w", id, err)
	}
	return &user, nil
}

// IncrementMessageCount atomically bumps a user's lifetime message
// counter and returns the new value.
func IncrementMessageCount(db *sqlx.DB, userID string) (int64, error) {
	if _, err := db.Exec("UPDATE users SET message_count = message_count + 1 WHERE id = ?", userID); err != nil {
		return 0, fmt.Errorf("failed to increment message count for user %s: %w", userID, err)
	}
	var count int64
	if err := db.Get(&count, "SELECT message_count FROM users WHERE id = ?", userID); err != nil {
		return 0, fmt.Errorf("failed to read message count for user %s: %w", userID, err)
	}
	return count, nil
}

// AddXP atomically adds amount to a user's XP and returns the new total.
func AddXP(db *sqlx.DB, userID string, amount int64) (int64, error) {
	if _, err := db.Exec("UPDATE users SET xp = xp + ? WHERE id = ?", amount, userID); err != nil {
		return 0, fmt.Errorf("failed to add xp for user %s: %w", userID, err)
	}
	var xp int64
	if err := db.Get(&xp, "SELECT xp FROM users WHERE id = ?", userID); err != nil {
		return 0, fmt.Errorf("failed to read xp for user %s: %w", userID, err)
	}
	return xp, nil
}

// SetLevel records a user's level after a level-up.
func SetLevel(db *sqlx.DB, userID string, level int) error {
	if _, err := db.Exec("UPDATE users SET level = ? WHERE id = ?", level, userID); err != nil {
		return fmt.Errorf("failed to set level for user %s: %w", userID, err)
	}
	return nil
}

// ErrInsufficientTokens is returned when a debit would overdraw a
// user's token balance.
var ErrInsufficientTokens = errors.New("insufficient token balance")

// DebitTokens atomically subtracts amount from a user's token balance,
// refusing to overdraw.
func DebitTokens(db *sqlx.DB, userID string, amount int64) error {
	result, err := db.Exec(`UPDATE users SET token_balance = token_balance - ?
		WHERE id = ? AND token_balance >= ?`, amount, userID, amount)
	if err != nil {
		return fmt.Errorf("failed to debit tokens for user %s: %w", userID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected for token debit: %w", err)
	}
	if affected == 0 {
		return ErrInsufficientTokens
	}
	return nil
}

// CreditTokens atomically adds amount to a user's token balance.
func CreditTokens(db *sqlx.DB, userID string, amount int64) error {
	if _, err := db.Exec("UPDATE users SET token_balance = token_balance + ? WHERE id = ?", amount, userID); err != nil {
		return fmt.Errorf("failed to credit tokens for user %s: %w", userID, err)
	}
	return nil
}

// GetNotificationPrefs returns a user's notification preferences,
// defaulting to everything enabled when no row exists.
func GetNotificationPrefs(db *sqlx.DB, userID string) (*model.NotificationPrefs, error) {
	var prefs model.NotificationPrefs
	err := db.Get(&prefs, "SELECT * FROM notification_prefs WHERE user_id = ?", userID)
	if errors.Is(err, sql.ErrNoRows) {
		return &model.NotificationPrefs{UserID: userID, MentionsEnabled: true, ReactionsEnabled: true}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get notification prefs for user %s: %w", userID, err)
	}
	return &prefs, nil
}

// UpsertNotificationPrefs writes a user's notification preferences.
func UpsertNotificationPrefs(db *sqlx.DB, prefs *model.NotificationPrefs) error {
	_, err := db.NamedExec(`INSERT INTO notification_prefs (user_id, mentions_enabled, reactions_enabled)
		VALUES (:user_id, :mentions_enabled, :reactions_enabled)
		ON CONFLICT(user_id) DO UPDATE SET
			mentions_enabled = excluded.mentions_enabled,
			reactions_enabled = excluded.reactions_enabled`, prefs)
	if err != nil {
		return fmt.Errorf("failed to upsert notification prefs for user %s: %w", prefs.UserID, err)
	}
	return nil
}
