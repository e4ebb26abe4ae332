package moderation

import (
	"encoding/json"
	"time"

	"chat-core/broadcast"
	"chat-core/cache"
	"chat-core/model"

	"github.com/google/uuid"
)

// ReconcileExpired lifts every ban and mute whose stored expiry has
// passed. This is the only place expiries take durable effect: the
// cache's own TTL eviction never notifies anyone, so each record is
// re-checked against the clock here and removed explicitly. Removing
// the key makes the lift exactly-once across ticks.
func (e *Engine) ReconcileExpired(now time.Time) {
	for _, key := range e.cache.Keys(cache.BanPrefix) {
		raw, ok := e.cache.Get(key)
		if !ok {
			continue
		}
		var record model.BanRecord
		if err := json.Unmarshal([]byte(raw), &record); err != nil {
			e.log.Errorw("failed to decode ban record during sweep", "key", key, "err", err)
			e.cache.Delete(key)
			continue
		}
		if record.ExpiresAt == nil || now.Before(*record.ExpiresAt) {
			continue
		}

		e.cache.Delete(key)
		e.appendLog(record.ServerID, model.ModerationLogEntry{
			Action:    "unban",
			UserID:    record.UserID,
			ActorID:   model.SystemActor,
			Reason:    "ban expired",
			Timestamp: now.UTC(),
		})
		e.bus.Publish(broadcast.UserTopic(record.UserID), model.Event{
			Type: model.EventUnban,
			Data: map[string]string{"server_id": record.ServerID, "reason": "expired"},
		})
		e.queue.Enqueue(model.NotifyUnban, model.NotificationPayload{
			ID:        uuid.NewString(),
			UserID:    record.UserID,
			ServerID:  record.ServerID,
			Body:      "your ban has expired",
			CreatedAt: now.UTC(),
		})
		e.log.Infow("expired ban lifted", "server", record.ServerID, "user", record.UserID)
	}

	for _, key := range e.cache.Keys(cache.MutePrefix) {
		raw, ok := e.cache.Get(key)
		if !ok {
			continue
		}
		var record model.MuteRecord
		if err := json.Unmarshal([]byte(raw), &record); err != nil {
			e.log.Errorw("failed to decode mute record during sweep", "key", key, "err", err)
			e.cache.Delete(key)
			continue
		}
		if record.ExpiresAt == nil || now.Before(*record.ExpiresAt) {
			continue
		}

		e.cache.Delete(key)
		e.appendLog(record.ServerID, model.ModerationLogEntry{
			Action:    "unmute",
			UserID:    record.UserID,
			ActorID:   model.SystemActor,
			Reason:    "mute expired",
			Timestamp: now.UTC(),
		})
		e.bus.Publish(broadcast.UserTopic(record.UserID), model.Event{
			Type: model.EventUnmute,
			Data: map[string]string{"server_id": record.ServerID, "channel_id": record.ChannelID, "reason": "expired"},
		})
		e.log.Infow("expired mute lifted", "server", record.ServerID, "channel", record.ChannelID, "user", record.UserID)
	}
}
