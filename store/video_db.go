package store

import (
	"fmt"
	"time"

	"chat-core/model"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// AddVideo inserts a video row.
func AddVideo(db *sqlx.DB, title, authorID string) (*model.Video, error) {
	video := &model.Video{
		ID:        uuid.NewString(),
		Title:     title,
		AuthorID:  authorID,
		CreatedAt: time.Now().UTC(),
	}
	_, err := db.NamedExec(`INSERT INTO videos (id, title, author_id, views, likes, comments, shares, created_at)
		VALUES (:id, :title, :author_id, :views, :likes, :comments, :shares, :created_at)`, video)
	if err != nil {
		return nil, fmt.Errorf("failed to insert video: %w", err)
	}
	return video, nil
}

// BumpVideoCounter atomically increments one engagement counter. The
// column name is constrained to the known set.
func BumpVideoCounter(db *sqlx.DB, videoID, counter string, delta int64) error {
	switch counter {
	case "views", "likes", "comments", "shares":
	default:
		return fmt.Errorf("unknown video counter %q", counter)
	}
	query := fmt.Sprintf("UPDATE videos SET %s = %s + ? WHERE id = ?", counter, counter)
	result, err := db.Exec(query, delta, videoID)
	if err != nil {
		return fmt.Errorf("failed to bump %s for video %s: %w", counter, videoID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected for video %s: %w", videoID, err)
	}
	if affected == 0 {
		return fmt.Errorf("no video found with id %s", videoID)
	}
	return nil
}

// ListVideosSince returns videos created after the window start, for
// trending recomputation.
func ListVideosSince(db *sqlx.DB, since time.Time) ([]model.Video, error) {
	var videos []model.Video
	err := db.Select(&videos, "SELECT * FROM videos WHERE created_at >= ?", since)
	if err != nil {
		return nil, fmt.Errorf("failed to list videos since %s: %w", since, err)
	}
	return videos, nil
}
