package pipeline

import (
	"time"

	"chat-core/cache"
	"chat-core/errs"
	"chat-core/model"
	"chat-core/store"

	"github.com/google/uuid"
)

// Schedule persists a message for later release. The scheduled time must
// be far enough out; the sweep broadcasts the message once it is due.
func (p *Pipeline) Schedule(in SendInput, at time.Time) (*model.Message, error) {
	now := p.now().UTC()
	lead := time.Duration(p.tun.ScheduleLeadMinutes) * time.Minute
	if at.Before(now.Add(lead)) {
		return nil, errs.InvalidArg("scheduled time must be at least " + lead.String() + " in the future")
	}

	channel, _, err := p.admit(in.ChannelID, in.AuthorID)
	if err != nil {
		return nil, err
	}
	if _, err := p.mod.EnforceContent(channel.ServerID, in.AuthorID, in.Content); err != nil {
		return nil, err
	}
	mentions, err := p.resolveMentions(channel.ServerID, in.Content)
	if err != nil {
		return nil, err
	}

	at = at.UTC()
	msg := &model.Message{
		ID:           uuid.NewString(),
		ChannelID:    channel.ID,
		AuthorID:     in.AuthorID,
		Content:      in.Content,
		Type:         in.Type,
		Attachment:   in.Attachment,
		Mentions:     mentions,
		ScheduledFor: &at,
		CreatedAt:    now,
	}
	if err := store.AddMessage(p.db, msg); err != nil {
		return nil, errs.Wrap(errs.CodeInternal, "failed to persist scheduled message", err)
	}

	p.cache.SetWithTTL(cache.ScheduledKey(msg.ID),
		at.Format(time.RFC3339Nano), at.Sub(now)+markerGrace)
	p.log.Infow("message scheduled", "message", msg.ID, "channel", channel.ID, "at", at)
	return msg, nil
}

// SetExpiry marks a message self-destructing. Author only; the delay is
// clamped to the configured window and the sweep enacts the deletion.
func (p *Pipeline) SetExpiry(messageID, actorID string, seconds int) (*model.Message, error) {
	if seconds < p.tun.ExpiryMinSeconds || seconds > p.tun.ExpiryMaxSeconds {
		return nil, errs.InvalidArg("expiry must be between 5 seconds and 24 hours")
	}
	msg, _, err := p.load(messageID)
	if err != nil {
		return nil, err
	}
	if msg.AuthorID != actorID {
		return nil, errs.Forbidden("only the author may set a message expiry")
	}

	delay := time.Duration(seconds) * time.Second
	expires := p.now().UTC().Add(delay)
	msg.ExpiresAt = &expires
	if err := store.UpdateMessage(p.db, msg); err != nil {
		return nil, errs.Wrap(errs.CodeInternal, "failed to persist expiry", err)
	}

	p.cache.SetWithTTL(cache.MessageExpiryKey(msg.ID),
		expires.Format(time.RFC3339Nano), delay+markerGrace)
	return msg, nil
}
