// Package cache defines the ephemeral state store used for every
// time-bounded fact in the system: presence, mutes, bans, slow-mode
// cooldowns, scheduled/self-destructing message markers, voice rooms,
// moderation logs and custom word lists. The cache's TTL is the sole
// source of truth for "is this still active"; durable consequences of
// expiry are applied by the reconciliation sweep, never assumed.
package cache

import (
	"fmt"
	"time"
)

// Cache is the key/value contract the core depends on. String values
// carry JSON-encoded records.
type Cache interface {
	Get(key string) (string, bool)
	Set(key, value string)
	SetWithTTL(key, value string, ttl time.Duration)
	Delete(key string)

	// Increment atomically adds delta to a counter key and returns the
	// new value. IncrementWithTTL additionally arms a TTL when the key
	// is first created.
	Increment(key string, delta int64) int64
	IncrementWithTTL(key string, delta int64, ttl time.Duration) int64

	// List operations back append-only logs.
	ListAppend(key string, values ...string)
	ListRange(key string, start, stop int) []string
	ListTrim(key string, max int)

	// Set operations back voice rooms and like sets.
	SetAdd(key, member string)
	SetRemove(key, member string)
	SetMembers(key string) []string

	// Keys enumerates live keys matching a prefix. Used by the
	// reconciliation sweep for bulk ban/mute scans.
	Keys(prefix string) []string

	// TTL reports the remaining lifetime of a key. The second return is
	// false when the key is missing or has no expiry.
	TTL(key string) (time.Duration, bool)
}

// Key builders. Kept together so the sweep's prefix scans and the
// writers can never drift apart.

func BanKey(serverID, userID string) string {
	return fmt.Sprintf("ban:%s:%s", serverID, userID)
}

const BanPrefix = "ban:"

func MuteKey(serverID, channelID, userID string) string {
	return fmt.Sprintf("mute:%s:%s:%s", serverID, channelID, userID)
}

const MutePrefix = "mute:"

func SlowModeKey(channelID, userID string) string {
	return fmt.Sprintf("slowmode:%s:%s", channelID, userID)
}

func PresenceKey(userID string) string {
	return "presence:" + userID
}

func VoiceRoomKey(channelID string) string {
	return "voiceroom:" + channelID
}

func VoiceUserKey(userID string) string {
	return "voiceuser:" + userID
}

func VoiceStateKey(channelID, userID string) string {
	return fmt.Sprintf("voicestate:%s:%s", channelID, userID)
}

func ScheduledKey(messageID string) string {
	return "scheduled:" + messageID
}

const ScheduledPrefix = "scheduled:"

func MessageExpiryKey(messageID string) string {
	return "msgexpiry:" + messageID
}

const MessageExpiryPrefix = "msgexpiry:"

func PollExpiryKey(messageID string) string {
	return "pollexpiry:" + messageID
}

const PollExpiryPrefix = "pollexpiry:"

func ModerationLogKey(serverID string) string {
	return "modlog:" + serverID
}

func CustomWordsKey(serverID string) string {
	return "customwords:" + serverID
}

func TrendingKey(window string) string {
	return "trending:" + window
}
