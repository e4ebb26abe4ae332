package model

import "time"

// Video carries the engagement counters the trending task scores.
type Video struct {
	ID        string    `db:"id" json:"id"`
	Title     string    `db:"title" json:"title"`
	AuthorID  string    `db:"author_id" json:"author_id"`
	Views     int64     `db:"views" json:"views"`
	Likes     int64     `db:"likes" json:"likes"`
	Comments  int64     `db:"comments" json:"comments"`
	Shares    int64     `db:"shares" json:"shares"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// TrendingScore ranks a video within one rolling window.
func (v *Video) TrendingScore() int64 {
	return v.Views + 5*v.Likes + 3*v.Comments + 7*v.Shares
}

// TrendingEntry is one row of a cached top-50 ranking.
type TrendingEntry struct {
	VideoID string `json:"video_id"`
	Title   string `json:"title"`
	Score   int64  `json:"score"`
}

// Trending window names.
const (
	WindowDay   = "day"
	WindowWeek  = "week"
	WindowMonth = "month"
)
