package model

import "time"

// MessageType distinguishes message payloads.
type MessageType string

const (
	MessageText      MessageType = "text"
	MessageSystem    MessageType = "system"
	MessagePoll      MessageType = "poll"
	MessageSuperchat MessageType = "superchat"
	MessageImage     MessageType = "image"
	MessageVideoClip MessageType = "video"
)

// Attachment carries the type-dependent payload of a message. Exactly one
// field is populated, matching the message type.
type Attachment struct {
	Poll        *Poll  `json:"poll,omitempty"`
	TokenAmount int64  `json:"token_amount,omitempty"`
	MediaURL    string `json:"media_url,omitempty"`
}

// Message is a single entry in a channel.
type Message struct {
	ID        string      `json:"id"`
	ChannelID string      `json:"channel_id"`
	AuthorID  string      `json:"author_id"`
	Content   string      `json:"content"`
	Type      MessageType `json:"type"`
	ReplyTo   string      `json:"reply_to,omitempty"`

	Attachment *Attachment `json:"attachment,omitempty"`

	// Reactions maps a reaction symbol to the set of user ids that
	// applied it. A symbol with no users is removed, never stored empty.
	Reactions map[string][]string `json:"reactions,omitempty"`

	// Mentions holds user ids resolved at send time.
	Mentions []string `json:"mentions,omitempty"`

	Edited bool `json:"edited"`
	Pinned bool `json:"pinned"`

	// ExpiresAt, when set, marks the message self-destructing; the
	// reconciliation sweep removes it once the time passes.
	ExpiresAt *time.Time `json:"expires_at,omitempty"`

	// ScheduledFor, when set in the future, withholds the message from
	// broadcast until the time passes.
	ScheduledFor *time.Time `json:"scheduled_for,omitempty"`

	// Warning is set when the message was persisted under a "warn"
	// moderation policy. Not stored; returned to the sender only.
	Warning bool `json:"warning,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Poll is embedded in a poll message's attachment.
type Poll struct {
	Question string       `json:"question"`
	Options  []PollOption `json:"options"`

	// Voters is the global set of user ids that have voted, for
	// "already voted" checks. A user appears at most once.
	Voters []string `json:"voters,omitempty"`

	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Expired   bool       `json:"expired"`
}

// PollOption is one choice in a poll.
type PollOption struct {
	Text   string   `json:"text"`
	Voters []string `json:"voters,omitempty"`
}

// Counts returns the per-option vote tallies. Broadcasts carry only
// these aggregates, never the voter-to-option mapping.
func (p *Poll) Counts() []int {
	counts := make([]int, len(p.Options))
	for i, opt := range p.Options {
		counts[i] = len(opt.Voters)
	}
	return counts
}
