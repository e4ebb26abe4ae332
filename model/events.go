package model

// Event is the payload published to a broadcast topic.
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// Event types carried over the broadcast fabric.
const (
	EventMessageNew      = "message.new"
	EventMessageEdited   = "message.edited"
	EventMessageDeleted  = "message.deleted"
	EventMessagePinned   = "message.pinned"
	EventMessageUnpinned = "message.unpinned"
	EventReactionUpdate  = "reaction.update"
	EventPollUpdate      = "poll.update"
	EventPollClosed      = "poll.closed"
	EventMention         = "mention"
	EventLevelUp         = "level.up"
	EventBan             = "moderation.ban"
	EventUnban           = "moderation.unban"
	EventMute            = "moderation.mute"
	EventUnmute          = "moderation.unmute"
	EventPresenceUpdate  = "presence.update"
	EventVoiceJoin       = "voice.join"
	EventVoiceLeave      = "voice.leave"
	EventVoiceState      = "voice.state"
)
