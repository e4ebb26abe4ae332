package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"chat-core/model"

	"github.com/jmoiron/sqlx"
)

// messageRow is the flat table shape; JSON columns hold the nested
// reaction/mention/attachment structures.
type messageRow struct {
	ID           string         `db:"id"`
	ChannelID    string         `db:"channel_id"`
	AuthorID     string         `db:"author_id"`
	Content      string         `db:"content"`
	Type         string         `db:"type"`
	ReplyTo      sql.NullString `db:"reply_to"`
	Attachment   sql.NullString `db:"attachment"`
	Reactions    sql.NullString `db:"reactions"`
	Mentions     sql.NullString `db:"mentions"`
	Edited       bool           `db:"edited"`
	Pinned       bool           `db:"pinned"`
	ExpiresAt    *time.Time     `db:"expires_at"`
	ScheduledFor *time.Time     `db:"scheduled_for"`
	CreatedAt    time.Time      `db:"created_at"`
}

func toRow(m *model.Message) (*messageRow, error) {
	row := &messageRow{
		ID:           m.ID,
		ChannelID:    m.ChannelID,
		AuthorID:     m.AuthorID,
		Content:      m.Content,
		Type:         string(m.Type),
		Edited:       m.Edited,
		Pinned:       m.Pinned,
		ExpiresAt:    m.ExpiresAt,
		ScheduledFor: m.ScheduledFor,
		CreatedAt:    m.CreatedAt,
	}
	if m.ReplyTo != "" {
		row.ReplyTo = sql.NullString{String: m.ReplyTo, Valid: true}
	}
	if m.Attachment != nil {
		raw, err := json.Marshal(m.Attachment)
		if err != nil {
			return nil, fmt.Errorf("failed to encode attachment: %w", err)
		}
		row.Attachment = sql.NullString{String: string(raw), Valid: true}
	}
	if len(m.Reactions) > 0 {
		raw, err := json.Marshal(m.Reactions)
		if err != nil {
			return nil, fmt.Errorf("failed to encode reactions: %w", err)
		}
		row.Reactions = sql.NullString{String: string(raw), Valid: true}
	}
	if len(m.Mentions) > 0 {
		raw, err := json.Marshal(m.Mentions)
		if err != nil {
			return nil, fmt.Errorf("failed to encode mentions: %w", err)
		}
		row.Mentions = sql.NullString{String: string(raw), Valid: true}
	}
	return row, nil
}

func fromRow(row *messageRow) (*model.Message, error) {
	m := &model.Message{
		ID:           row.ID,
		ChannelID:    row.ChannelID,
		AuthorID:     row.AuthorID,
		Content:      row.Content,
		Type:         model.MessageType(row.Type),
		ReplyTo:      row.ReplyTo.String,
		Edited:       row.Edited,
		Pinned:       row.Pinned,
		ExpiresAt:    row.ExpiresAt,
		ScheduledFor: row.ScheduledFor,
		CreatedAt:    row.CreatedAt,
	}
	if row.Attachment.Valid {
		m.Attachment = &model.Attachment{}
		if err := json.Unmarshal([]byte(row.Attachment.String), m.Attachment); err != nil {
			return nil, fmt.Errorf("failed to decode attachment for message %s: %w", row.ID, err)
		}
	}
	if row.Reactions.Valid {
		if err := json.Unmarshal([]byte(row.Reactions.String), &m.Reactions); err != nil {
			return nil, fmt.Errorf("failed to decode reactions for message %s: %w", row.ID, err)
		}
	}
	if row.Mentions.Valid {
		if err := json.Unmarshal([]byte(row.Mentions.String), &m.Mentions); err != nil {
			return nil, fmt.Errorf("failed to decode mentions for message %s: %w", row.ID, err)
		}
	}
	return m, nil
}

// AddMessage inserts a message.
func AddMessage(db *sqlx.DB, m *model.Message) error {
	row, err := toRow(m)
	if err != nil {
		return err
	}
	_, err = db.NamedExec(`INSERT INTO messages
		(id, channel_id, author_id, content, type, reply_to, attachment, reactions, mentions, edited, pinned, expires_at, scheduled_for, created_at)
		VALUES (:id, :channel_id, :author_id, :content, :type, :reply_to, :attachment, :reactions, :mentions, :edited, :pinned, :expires_at, :scheduled_for, :created_at)`, row)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}

// GetMessageByID retrieves a message, or nil when it does not exist.
func GetMessageByID(db *sqlx.DB, id string) (*model.Message, error) {
	var row messageRow
	err := db.Get(&row, "SELECT * FROM messages WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message %s: %w", id, err)
	}
	return fromRow(&row)
}

// UpdateMessage rewrites the mutable columns of a message.
func UpdateMessage(db *sqlx.DB, m *model.Message) error {
	row, err := toRow(m)
	if err != nil {
		return err
	}
	result, err := db.NamedExec(`UPDATE messages SET
		content = :content, attachment = :attachment, reactions = :reactions,
		edited = :edited, pinned = :pinned, expires_at = :expires_at, scheduled_for = :scheduled_for
		WHERE id = :id`, row)
	if err != nil {
		return fmt.Errorf("failed to update message %s: %w", m.ID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected for message %s: %w", m.ID, err)
	}
	if affected == 0 {
		return fmt.Errorf("no message found with id %s", m.ID)
	}
	return nil
}

// DeleteMessage removes a message by id.
func DeleteMessage(db *sqlx.DB, id string) error {
	result, err := db.Exec("DELETE FROM messages WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete message %s: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected for message %s: %w", id, err)
	}
	if affected == 0 {
		return fmt.Errorf("no message found with id %s", id)
	}
	return nil
}

// ListMessagesByChannel returns the most recent messages of a channel,
// oldest first. Messages scheduled for a time past now stay hidden.
func ListMessagesByChannel(db *sqlx.DB, channelID string, limit int, now time.Time) ([]*model.Message, error) {
	var rows []messageRow
	err := db.Select(&rows, `SELECT * FROM messages WHERE channel_id = ?
		AND (scheduled_for IS NULL OR scheduled_for <= ?)
		ORDER BY created_at DESC LIMIT ?`, channelID, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages for channel %s: %w", channelID, err)
	}
	messages := make([]*model.Message, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		m, err := fromRow(&rows[i])
		if err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, nil
}

// ListPinnedMessages returns a channel's pinned messages, oldest first.
// Pending scheduled messages are excluded the same way as in listings.
func ListPinnedMessages(db *sqlx.DB, channelID string, now time.Time) ([]*model.Message, error) {
	var rows []messageRow
	err := db.Select(&rows, `SELECT * FROM messages WHERE channel_id = ? AND pinned = TRUE
		AND (scheduled_for IS NULL OR scheduled_for <= ?)
		ORDER BY created_at`, channelID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list pinned messages for channel %s: %w", channelID, err)
	}
	messages := make([]*model.Message, 0, len(rows))
	for i := range rows {
		m, err := fromRow(&rows[i])
		if err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, nil
}

// MessageRef locates a message within its channel.
type MessageRef struct {
	ID        string `db:"id"`
	ChannelID string `db:"channel_id"`
}

// DeleteRecentMessagesByAuthor removes an author's messages across all
// of a server's channels newer than the given cutoff, returning refs to
// the deleted messages so callers can broadcast per-channel deletions.
func DeleteRecentMessagesByAuthor(db *sqlx.DB, serverID, authorID string, since time.Time) ([]MessageRef, error) {
	var refs []MessageRef
	err := db.Select(&refs, `SELECT m.id, m.channel_id FROM messages m
		JOIN channels c ON c.id = m.channel_id
		WHERE c.server_id = ? AND m.author_id = ? AND m.created_at >= ?`, serverID, authorID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to find recent messages for user %s in server %s: %w", authorID, serverID, err)
	}
	if len(refs) == 0 {
		return nil, nil
	}

	ids := make([]string, len(refs))
	for i, ref := range refs {
		ids[i] = ref.ID
	}
	query, args, err := sqlx.In("DELETE FROM messages WHERE id IN (?)", ids)
	if err != nil {
		return nil, fmt.Errorf("failed to build recent-message delete: %w", err)
	}
	if _, err := db.Exec(db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to delete recent messages for user %s: %w", authorID, err)
	}
	return refs, nil
}
