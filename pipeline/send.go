package pipeline

import (
	"errors"
	"regexp"
	"time"

	"chat-core/broadcast"
	"chat-core/cache"
	"chat-core/errs"
	"chat-core/model"
	"chat-core/store"

	"github.com/google/uuid"
)

// SendInput is a message send request.
type SendInput struct {
	ChannelID  string
	AuthorID   string
	Content    string
	Type       model.MessageType
	ReplyTo    string
	Attachment *model.Attachment
}

var mentionPattern = regexp.MustCompile(`@([A-Za-z0-9_]+)`)

// Send runs the full write path: validation, slow mode, mute and
// content policy checks, mention and reply enrichment, persistence,
// an ordered channel broadcast, then the post-commit effects.
func (p *Pipeline) Send(in SendInput) (*model.Message, error) {
	channel, _, err := p.admit(in.ChannelID, in.AuthorID)
	if err != nil {
		return nil, err
	}

	if err := p.enforceSlowMode(channel, in.AuthorID); err != nil {
		return nil, err
	}
	if p.mod.IsMuted(channel.ServerID, channel.ID, in.AuthorID) {
		return nil, errs.Forbidden("you are muted in this channel")
	}

	warning, err := p.mod.EnforceContent(channel.ServerID, in.AuthorID, in.Content)
	if err != nil {
		return nil, err
	}

	mentions, err := p.resolveMentions(channel.ServerID, in.Content)
	if err != nil {
		return nil, err
	}

	if in.ReplyTo != "" {
		target, err := store.GetMessageByID(p.db, in.ReplyTo)
		if err != nil {
			return nil, errs.Wrap(errs.CodeInternal, "failed to load reply target", err)
		}
		if target == nil {
			return nil, errs.NotFound("reply target not found")
		}
		if target.ChannelID != channel.ID {
			return nil, errs.InvalidArg("reply target belongs to another channel")
		}
	}

	if in.Type == model.MessageSuperchat {
		if in.Attachment == nil || in.Attachment.TokenAmount <= 0 {
			return nil, errs.InvalidArg("superchat requires a positive token amount")
		}
		if err := store.DebitTokens(p.db, in.AuthorID, in.Attachment.TokenAmount); err != nil {
			if errors.Is(err, store.ErrInsufficientTokens) {
				return nil, errs.Conflict("insufficient token balance")
			}
			return nil, errs.Wrap(errs.CodeInternal, "failed to debit tokens", err)
		}
	}

	now := p.now().UTC()
	msg := &model.Message{
		ID:         uuid.NewString(),
		ChannelID:  channel.ID,
		AuthorID:   in.AuthorID,
		Content:    in.Content,
		Type:       in.Type,
		ReplyTo:    in.ReplyTo,
		Attachment: in.Attachment,
		Mentions:   mentions,
		CreatedAt:  now,
	}

	lock := p.locks.get(channel.ID)
	lock.Lock()
	err = store.AddMessage(p.db, msg)
	if err == nil {
		p.bus.Publish(broadcast.ChannelTopic(channel.ID), model.Event{Type: model.EventMessageNew, Data: msg})
	}
	lock.Unlock()
	if err != nil {
		if in.Type == model.MessageSuperchat {
			if cerr := store.CreditTokens(p.db, in.AuthorID, in.Attachment.TokenAmount); cerr != nil {
				p.log.Errorw("failed to refund superchat tokens", "user", in.AuthorID, "amount", in.Attachment.TokenAmount, "err", cerr)
			}
		}
		return nil, errs.Wrap(errs.CodeInternal, "failed to persist message", err)
	}

	p.afterSend(channel, msg)

	msg.Warning = warning
	return msg, nil
}

// admit resolves the channel, checks membership and the channel-type
// gate. Announcement channels only accept posts from admins and owners.
func (p *Pipeline) admit(channelID, authorID string) (*model.Channel, model.Role, error) {
	channel, err := store.GetChannelByID(p.db, channelID)
	if err != nil {
		return nil, "", errs.Wrap(errs.CodeInternal, "failed to load channel", err)
	}
	if channel == nil {
		return nil, "", errs.NotFound("channel not found")
	}
	role, err := p.resolver.Resolve(authorID, channel.ServerID)
	if err != nil {
		return nil, "", err
	}
	if !channel.Type.AcceptsMessages() {
		return nil, "", errs.InvalidArg("channel does not accept messages")
	}
	if channel.Type == model.ChannelAnnouncement && role.Rank() < model.RoleAdmin.Rank() {
		return nil, "", errs.Forbidden("only admins may post to announcement channels")
	}
	return channel, role, nil
}

// enforceSlowMode rejects a send that lands inside the channel's
// slow-mode interval, reporting the remaining wait. On admission the
// send timestamp is recorded with TTL twice the interval.
func (p *Pipeline) enforceSlowMode(channel *model.Channel, authorID string) error {
	if channel.SlowModeSeconds <= 0 {
		return nil
	}
	interval := time.Duration(channel.SlowModeSeconds) * time.Second
	now := p.now()

	key := cache.SlowModeKey(channel.ID, authorID)
	if raw, ok := p.cache.Get(key); ok {
		if last, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			if elapsed := now.Sub(last); elapsed < interval {
				return errs.RateLimited(interval - elapsed)
			}
		}
	}
	p.cache.SetWithTTL(key, now.Format(time.RFC3339Nano), 2*interval)
	return nil
}

// resolveMentions matches @tokens case-sensitively against usernames of
// this server's members. Non-members are dropped silently.
func (p *Pipeline) resolveMentions(serverID, content string) ([]string, error) {
	var mentions []string
	seen := make(map[string]struct{})
	for _, match := range mentionPattern.FindAllStringSubmatch(content, -1) {
		user, err := store.GetMemberByUsername(p.db, serverID, match[1])
		if err != nil {
			return nil, errs.Wrap(errs.CodeInternal, "failed to resolve mention", err)
		}
		if user == nil {
			continue
		}
		if _, dup := seen[user.ID]; dup {
			continue
		}
		seen[user.ID] = struct{}{}
		mentions = append(mentions, user.ID)
	}
	return mentions, nil
}

// afterSend applies the post-commit effects. They run after the message
// is durable and broadcast, so their failure can only be logged, never
// roll the send back.
func (p *Pipeline) afterSend(channel *model.Channel, msg *model.Message) {
	count, err := store.IncrementMessageCount(p.db, msg.AuthorID)
	if err != nil {
		p.log.Errorw("failed to increment message count", "user", msg.AuthorID, "err", err)
	} else if p.tun.XPMessageInterval > 0 && count%p.tun.XPMessageInterval == 0 {
		p.awardXP(msg.AuthorID)
	}

	for _, userID := range msg.Mentions {
		if userID == msg.AuthorID {
			continue
		}
		p.bus.Publish(broadcast.UserTopic(userID), model.Event{
			Type: model.EventMention,
			Data: map[string]string{"message_id": msg.ID, "channel_id": channel.ID, "author_id": msg.AuthorID},
		})
		p.queue.Enqueue(model.NotifyMention, model.NotificationPayload{
			ID:        uuid.NewString(),
			UserID:    userID,
			ActorID:   msg.AuthorID,
			ServerID:  channel.ServerID,
			ChannelID: channel.ID,
			MessageID: msg.ID,
			Body:      msg.Content,
			CreatedAt: msg.CreatedAt,
		})
	}
}

// awardXP grants the per-interval XP award and emits a level-up event
// when the total crosses into a new level.
func (p *Pipeline) awardXP(userID string) {
	newXP, err := store.AddXP(p.db, userID, p.tun.XPAward)
	if err != nil {
		p.log.Errorw("failed to award xp", "user", userID, "err", err)
		return
	}
	if p.tun.XPPerLevel <= 0 {
		return
	}
	oldLevel := (newXP - p.tun.XPAward) / p.tun.XPPerLevel
	newLevel := newXP / p.tun.XPPerLevel
	if newLevel > oldLevel {
		if err := store.SetLevel(p.db, userID, int(newLevel)); err != nil {
			p.log.Errorw("failed to persist level", "user", userID, "err", err)
			return
		}
		p.bus.Publish(broadcast.UserTopic(userID), model.Event{
			Type: model.EventLevelUp,
			Data: map[string]int64{"level": newLevel, "xp": newXP},
		})
	}
}
