package moderation

import (
	"encoding/json"
	"errors"
	"time"

	"chat-core/broadcast"
	"chat-core/cache"
	"chat-core/errs"
	"chat-core/model"
	"chat-core/permissions"
	"chat-core/store"

	"github.com/google/uuid"
)

// expiryGrace keeps an expired ban/mute record visible to the
// reconciliation sweep after its logical expiry. The stored expiry
// timestamp is authoritative for "still active"; the cache TTL is only
// garbage collection, so it must outlive the sweep interval.
const expiryGrace = 24 * time.Hour

// BanOptions tune a ban beyond the required fields.
type BanOptions struct {
	Reason               string
	DurationHours        int // 0 = permanent
	DeleteRecentMessages bool
}

// Ban removes the target's membership and records the ban in the cache.
func (e *Engine) Ban(serverID, targetID, actorID string, opts BanOptions) error {
	actorRole, err := e.resolver.Resolve(actorID, serverID)
	if err != nil {
		return err
	}
	if !permissions.HasPermission(actorRole, permissions.ActionBan) {
		return errs.Forbidden("insufficient permissions to ban")
	}
	targetRole, err := e.resolver.Resolve(targetID, serverID)
	if err != nil {
		return err
	}
	if !permissions.CanActOn(actorRole, targetRole) {
		return errs.Forbidden("cannot ban a member of equal or higher role")
	}

	now := e.now().UTC()
	record := model.BanRecord{
		ServerID: serverID,
		UserID:   targetID,
		ActorID:  actorID,
		Reason:   opts.Reason,
		IssuedAt: now,
	}
	if opts.DurationHours > 0 {
		expires := now.Add(time.Duration(opts.DurationHours) * time.Hour)
		record.ExpiresAt = &expires
	}

	if err := store.DeleteMembership(e.db, targetID, serverID); err != nil {
		return errs.Wrap(errs.CodeInternal, "failed to remove membership", err)
	}

	raw, err := json.Marshal(record)
	if err != nil {
		return errs.Wrap(errs.CodeInternal, "failed to encode ban record", err)
	}
	key := cache.BanKey(serverID, targetID)
	if record.ExpiresAt != nil {
		e.cache.SetWithTTL(key, string(raw), record.ExpiresAt.Sub(now)+expiryGrace)
	} else {
		e.cache.Set(key, string(raw))
	}

	if opts.DeleteRecentMessages {
		refs, err := store.DeleteRecentMessagesByAuthor(e.db, serverID, targetID, now.Add(-24*time.Hour))
		if err != nil {
			e.log.Errorw("failed to delete recent messages for banned user", "user", targetID, "err", err)
		}
		for _, ref := range refs {
			e.bus.Publish(broadcast.ChannelTopic(ref.ChannelID), model.Event{
				Type: model.EventMessageDeleted,
				Data: map[string]string{"id": ref.ID},
			})
		}
	}

	e.appendLog(serverID, model.ModerationLogEntry{
		Action:    "ban",
		UserID:    targetID,
		ActorID:   actorID,
		Reason:    opts.Reason,
		Timestamp: now,
	})
	e.bus.Publish(broadcast.UserTopic(targetID), model.Event{Type: model.EventBan, Data: record})
	e.queue.Enqueue(model.NotifyBan, model.NotificationPayload{
		ID:        uuid.NewString(),
		UserID:    targetID,
		ActorID:   actorID,
		ServerID:  serverID,
		Body:      opts.Reason,
		CreatedAt: now,
	})

	e.log.Infow("user banned", "server", serverID, "user", targetID, "actor", actorID,
		"duration_hours", opts.DurationHours)
	return nil
}

// Unban lifts a ban. A missing ban record is NotFound.
func (e *Engine) Unban(serverID, targetID, actorID string) error {
	actorRole, err := e.resolver.Resolve(actorID, serverID)
	if err != nil {
		return err
	}
	if !permissions.HasPermission(actorRole, permissions.ActionBan) {
		return errs.Forbidden("insufficient permissions to unban")
	}

	key := cache.BanKey(serverID, targetID)
	if _, ok := e.cache.Get(key); !ok {
		return errs.NotFound("no active ban for this user")
	}
	e.cache.Delete(key)

	e.appendLog(serverID, model.ModerationLogEntry{
		Action:    "unban",
		UserID:    targetID,
		ActorID:   actorID,
		Timestamp: e.now().UTC(),
	})
	e.bus.Publish(broadcast.UserTopic(targetID), model.Event{
		Type: model.EventUnban,
		Data: map[string]string{"server_id": serverID},
	})
	e.log.Infow("user unbanned", "server", serverID, "user", targetID, "actor", actorID)
	return nil
}

// BanStatus reports whether a user is banned from a server. The stored
// expiry is checked against the clock so a lingering record past its
// logical expiry does not count as banned.
func (e *Engine) BanStatus(serverID, userID string) (*model.BanRecord, bool) {
	raw, ok := e.cache.Get(cache.BanKey(serverID, userID))
	if !ok {
		return nil, false
	}
	var record model.BanRecord
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		e.log.Errorw("failed to decode ban record", "server", serverID, "user", userID, "err", err)
		return nil, false
	}
	if record.ExpiresAt != nil && e.now().After(*record.ExpiresAt) {
		return nil, false
	}
	return &record, true
}

// Join admits a user into a server as a member. An active ban blocks
// the join; a ban past its stored expiry does not, even before the
// reconciliation sweep has lifted it.
func (e *Engine) Join(serverID, userID string) error {
	server, err := store.GetServerByID(e.db, serverID)
	if err != nil {
		return errs.Wrap(errs.CodeInternal, "failed to load server", err)
	}
	if server == nil {
		return errs.NotFound("server not found")
	}
	if _, banned := e.BanStatus(serverID, userID); banned {
		return errs.Forbidden("banned from this server")
	}
	if err := store.AddMembership(e.db, userID, serverID, model.RoleMember); err != nil {
		if errors.Is(err, store.ErrDuplicateMembership) {
			return errs.Conflict("already a member of this server")
		}
		return errs.Wrap(errs.CodeInternal, "failed to add membership", err)
	}
	e.log.Infow("user joined server", "server", serverID, "user", userID)
	return nil
}

// Mute suspends a user's posting ability in one channel.
func (e *Engine) Mute(serverID, channelID, targetID, actorID, reason string, durationHours int) error {
	actorRole, err := e.resolver.Resolve(actorID, serverID)
	if err != nil {
		return err
	}
	if !permissions.HasPermission(actorRole, permissions.ActionMute) {
		return errs.Forbidden("insufficient permissions to mute")
	}
	targetRole, err := e.resolver.Resolve(targetID, serverID)
	if err != nil {
		return err
	}
	if !permissions.CanActOn(actorRole, targetRole) {
		return errs.Forbidden("cannot mute a member of equal or higher role")
	}

	now := e.now().UTC()
	record := model.MuteRecord{
		ServerID:  serverID,
		ChannelID: channelID,
		UserID:    targetID,
		ActorID:   actorID,
		Reason:    reason,
		IssuedAt:  now,
	}
	if durationHours > 0 {
		expires := now.Add(time.Duration(durationHours) * time.Hour)
		record.ExpiresAt = &expires
	}

	raw, err := json.Marshal(record)
	if err != nil {
		return errs.Wrap(errs.CodeInternal, "failed to encode mute record", err)
	}
	key := cache.MuteKey(serverID, channelID, targetID)
	if record.ExpiresAt != nil {
		e.cache.SetWithTTL(key, string(raw), record.ExpiresAt.Sub(now)+expiryGrace)
	} else {
		e.cache.Set(key, string(raw))
	}

	e.appendLog(serverID, model.ModerationLogEntry{
		Action:    "mute",
		UserID:    targetID,
		ActorID:   actorID,
		Reason:    reason,
		Timestamp: now,
	})
	e.bus.Publish(broadcast.UserTopic(targetID), model.Event{Type: model.EventMute, Data: record})
	e.log.Infow("user muted", "server", serverID, "channel", channelID, "user", targetID,
		"actor", actorID, "duration_hours", durationHours)
	return nil
}

// Unmute lifts a channel mute. A missing mute record is NotFound.
func (e *Engine) Unmute(serverID, channelID, targetID, actorID string) error {
	actorRole, err := e.resolver.Resolve(actorID, serverID)
	if err != nil {
		return err
	}
	if !permissions.HasPermission(actorRole, permissions.ActionMute) {
		return errs.Forbidden("insufficient permissions to unmute")
	}

	key := cache.MuteKey(serverID, channelID, targetID)
	if _, ok := e.cache.Get(key); !ok {
		return errs.NotFound("no active mute for this user")
	}
	e.cache.Delete(key)

	e.appendLog(serverID, model.ModerationLogEntry{
		Action:    "unmute",
		UserID:    targetID,
		ActorID:   actorID,
		Timestamp: e.now().UTC(),
	})
	e.bus.Publish(broadcast.UserTopic(targetID), model.Event{
		Type: model.EventUnmute,
		Data: map[string]string{"server_id": serverID, "channel_id": channelID},
	})
	return nil
}

// IsMuted reports whether a user currently has an active mute in a
// channel, checking the stored expiry against the clock.
func (e *Engine) IsMuted(serverID, channelID, userID string) bool {
	raw, ok := e.cache.Get(cache.MuteKey(serverID, channelID, userID))
	if !ok {
		return false
	}
	var record model.MuteRecord
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return false
	}
	if record.ExpiresAt != nil && e.now().After(*record.ExpiresAt) {
		return false
	}
	return true
}
