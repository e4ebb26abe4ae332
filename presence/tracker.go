// Package presence tracks user status and voice-room occupancy. Status
// is durable with a cache mirror; voice rooms live purely in the cache.
package presence

import (
	"encoding/json"
	"time"

	"chat-core/broadcast"
	"chat-core/cache"
	"chat-core/errs"
	"chat-core/logger"
	"chat-core/model"
	"chat-core/store"

	"github.com/jmoiron/sqlx"
)

// Tracker maintains presence and voice state.
type Tracker struct {
	db    *sqlx.DB
	cache cache.Cache
	bus   broadcast.Broadcaster
	log   *logger.Logger
	now   func() time.Time
}

// NewTracker builds a tracker.
func NewTracker(db *sqlx.DB, c cache.Cache, bus broadcast.Broadcaster, log *logger.Logger) *Tracker {
	return &Tracker{db: db, cache: c, bus: bus, log: log, now: time.Now}
}

// SetClock overrides the tracker's clock. Used by tests.
func (t *Tracker) SetClock(now func() time.Time) {
	t.now = now
}

// SetStatus records a user's status. Invisible is stored as offline for
// public consumption and suppresses the broadcast entirely; the owning
// session can still recover the chosen state through Get.
func (t *Tracker) SetStatus(userID string, status model.Status) error {
	if !status.Valid() {
		return errs.InvalidArg("unknown presence status")
	}

	record := model.PresenceRecord{
		UserID:    userID,
		Status:    status,
		Invisible: status == model.StatusInvisible,
		UpdatedAt: t.now().UTC(),
	}
	if record.Invisible {
		record.Status = model.StatusOffline
	}

	if err := store.UpsertPresence(t.db, &record); err != nil {
		return errs.Wrap(errs.CodeInternal, "failed to persist presence", err)
	}
	raw, err := json.Marshal(record)
	if err != nil {
		return errs.Wrap(errs.CodeInternal, "failed to encode presence", err)
	}
	t.cache.Set(cache.PresenceKey(userID), string(raw))

	if record.Invisible {
		return nil
	}

	serverIDs, err := store.ListServerIDsByUser(t.db, userID)
	if err != nil {
		t.log.Errorw("failed to list servers for presence fan-out", "user", userID, "err", err)
		return nil
	}
	for _, serverID := range serverIDs {
		t.bus.Publish(broadcast.ServerTopic(serverID), model.Event{
			Type: model.EventPresenceUpdate,
			Data: map[string]string{"user_id": userID, "status": string(record.Status)},
		})
	}
	return nil
}

// Get returns the status of userID as seen by viewerID. Everyone sees
// an invisible user as offline except the user themselves, who sees
// their chosen invisible state.
func (t *Tracker) Get(viewerID, userID string) (model.Status, error) {
	record, err := t.lookup(userID)
	if err != nil {
		return "", err
	}
	if record == nil {
		return model.StatusOffline, nil
	}
	if record.Invisible && viewerID == userID {
		return model.StatusInvisible, nil
	}
	return record.Status, nil
}

// lookup reads presence from the cache, falling back to the durable row.
func (t *Tracker) lookup(userID string) (*model.PresenceRecord, error) {
	if raw, ok := t.cache.Get(cache.PresenceKey(userID)); ok {
		var record model.PresenceRecord
		if err := json.Unmarshal([]byte(raw), &record); err == nil {
			return &record, nil
		}
		t.log.Errorw("corrupt presence record in cache", "user", userID)
	}
	record, err := store.GetPresence(t.db, userID)
	if err != nil {
		return nil, errs.Wrap(errs.CodeInternal, "failed to load presence", err)
	}
	return record, nil
}

// JoinVoice puts a user in a voice room. A user occupies at most one
// room; joining silently leaves the previous one first.
func (t *Tracker) JoinVoice(channelID, userID string) error {
	channel, err := store.GetChannelByID(t.db, channelID)
	if err != nil {
		return errs.Wrap(errs.CodeInternal, "failed to load channel", err)
	}
	if channel == nil {
		return errs.NotFound("channel not found")
	}
	if channel.Type != model.ChannelVoice && channel.Type != model.ChannelVideo {
		return errs.InvalidArg("channel has no voice room")
	}

	if prev, ok := t.cache.Get(cache.VoiceUserKey(userID)); ok {
		if prev == channelID {
			return nil
		}
		t.removeFromRoom(prev, userID)
	}

	state := model.VoiceState{
		UserID:    userID,
		ChannelID: channelID,
		JoinedAt:  t.now().UTC(),
	}
	raw, err := json.Marshal(state)
	if err != nil {
		return errs.Wrap(errs.CodeInternal, "failed to encode voice state", err)
	}
	t.cache.SetAdd(cache.VoiceRoomKey(channelID), userID)
	t.cache.Set(cache.VoiceUserKey(userID), channelID)
	t.cache.Set(cache.VoiceStateKey(channelID, userID), string(raw))

	t.bus.Publish(broadcast.VoiceTopic(channelID), model.Event{
		Type: model.EventVoiceJoin,
		Data: map[string]string{"user_id": userID, "channel_id": channelID},
	})
	return nil
}

// LeaveVoice removes a user from their current voice room.
func (t *Tracker) LeaveVoice(userID string) error {
	channelID, ok := t.cache.Get(cache.VoiceUserKey(userID))
	if !ok {
		return errs.NotFound("not in a voice room")
	}
	t.removeFromRoom(channelID, userID)
	t.cache.Delete(cache.VoiceUserKey(userID))
	return nil
}

func (t *Tracker) removeFromRoom(channelID, userID string) {
	t.cache.SetRemove(cache.VoiceRoomKey(channelID), userID)
	t.cache.Delete(cache.VoiceStateKey(channelID, userID))
	t.bus.Publish(broadcast.VoiceTopic(channelID), model.Event{
		Type: model.EventVoiceLeave,
		Data: map[string]string{"user_id": userID, "channel_id": channelID},
	})
}

// SetMuted updates the microphone flag. While deafened the flag stays
// forced on regardless of the requested value.
func (t *Tracker) SetMuted(userID string, muted bool) (*model.VoiceState, error) {
	return t.updateState(userID, func(state *model.VoiceState) {
		state.Muted = muted || state.Deafened
	})
}

// SetDeafened updates the speaker flag. Deafening forces the mute flag;
// un-deafening leaves it as it was.
func (t *Tracker) SetDeafened(userID string, deafened bool) (*model.VoiceState, error) {
	return t.updateState(userID, func(state *model.VoiceState) {
		state.Deafened = deafened
		if deafened {
			state.Muted = true
		}
	})
}

func (t *Tracker) updateState(userID string, mutate func(*model.VoiceState)) (*model.VoiceState, error) {
	channelID, ok := t.cache.Get(cache.VoiceUserKey(userID))
	if !ok {
		return nil, errs.NotFound("not in a voice room")
	}
	key := cache.VoiceStateKey(channelID, userID)
	raw, ok := t.cache.Get(key)
	if !ok {
		return nil, errs.NotFound("voice state missing")
	}
	var state model.VoiceState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return nil, errs.Wrap(errs.CodeInternal, "corrupt voice state", err)
	}

	mutate(&state)

	updated, err := json.Marshal(state)
	if err != nil {
		return nil, errs.Wrap(errs.CodeInternal, "failed to encode voice state", err)
	}
	t.cache.Set(key, string(updated))
	t.bus.Publish(broadcast.VoiceTopic(channelID), model.Event{Type: model.EventVoiceState, Data: state})
	return &state, nil
}

// Roster lists the occupants of a voice room with their flags.
func (t *Tracker) Roster(channelID string) []model.VoiceState {
	var roster []model.VoiceState
	for _, userID := range t.cache.SetMembers(cache.VoiceRoomKey(channelID)) {
		raw, ok := t.cache.Get(cache.VoiceStateKey(channelID, userID))
		if !ok {
			continue
		}
		var state model.VoiceState
		if err := json.Unmarshal([]byte(raw), &state); err != nil {
			t.log.Errorw("corrupt voice state in roster", "channel", channelID, "user", userID)
			continue
		}
		roster = append(roster, state)
	}
	return roster
}
