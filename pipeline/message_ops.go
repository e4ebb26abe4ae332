package pipeline

import (
	"time"

	"chat-core/broadcast"
	"chat-core/errs"
	"chat-core/model"
	"chat-core/permissions"
	"chat-core/store"

	"github.com/google/uuid"
)

// load fetches a message and its channel, failing NotFound on either.
func (p *Pipeline) load(messageID string) (*model.Message, *model.Channel, error) {
	msg, err := store.GetMessageByID(p.db, messageID)
	if err != nil {
		return nil, nil, errs.Wrap(errs.CodeInternal, "failed to load message", err)
	}
	if msg == nil {
		return nil, nil, errs.NotFound("message not found")
	}
	channel, err := store.GetChannelByID(p.db, msg.ChannelID)
	if err != nil {
		return nil, nil, errs.Wrap(errs.CodeInternal, "failed to load channel", err)
	}
	if channel == nil {
		return nil, nil, errs.NotFound("channel not found")
	}
	return msg, channel, nil
}

// publish persists an updated message and broadcasts the event, holding
// the channel's order lock across both.
func (p *Pipeline) publish(msg *model.Message, eventType string, data interface{}) error {
	lock := p.locks.get(msg.ChannelID)
	lock.Lock()
	defer lock.Unlock()
	if err := store.UpdateMessage(p.db, msg); err != nil {
		return errs.Wrap(errs.CodeInternal, "failed to update message", err)
	}
	p.bus.Publish(broadcast.ChannelTopic(msg.ChannelID), model.Event{Type: eventType, Data: data})
	return nil
}

// Edit replaces a message's content. Only the author may edit, and only
// within the edit window measured from creation, not from the last edit.
func (p *Pipeline) Edit(messageID, actorID, content string) (*model.Message, error) {
	msg, _, err := p.load(messageID)
	if err != nil {
		return nil, err
	}
	if msg.AuthorID != actorID {
		return nil, errs.Forbidden("only the author may edit a message")
	}
	window := time.Duration(p.tun.EditWindowMinutes) * time.Minute
	if p.now().Sub(msg.CreatedAt) > window {
		return nil, errs.Forbidden("edit window has elapsed")
	}

	msg.Content = content
	msg.Edited = true
	if err := p.publish(msg, model.EventMessageEdited, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// Delete removes a message. The author may always delete their own;
// anyone with the delete-message permission in the server may delete
// others'.
func (p *Pipeline) Delete(messageID, actorID string) error {
	msg, channel, err := p.load(messageID)
	if err != nil {
		return err
	}
	if msg.AuthorID != actorID {
		role, err := p.resolver.Resolve(actorID, channel.ServerID)
		if err != nil {
			return err
		}
		if !permissions.HasPermission(role, permissions.ActionDeleteMessage) {
			return errs.Forbidden("insufficient permissions to delete this message")
		}
	}

	lock := p.locks.get(msg.ChannelID)
	lock.Lock()
	defer lock.Unlock()
	if err := store.DeleteMessage(p.db, messageID); err != nil {
		return errs.Wrap(errs.CodeInternal, "failed to delete message", err)
	}
	p.bus.Publish(broadcast.ChannelTopic(msg.ChannelID), model.Event{
		Type: model.EventMessageDeleted,
		Data: map[string]string{"id": messageID},
	})
	return nil
}

// React toggles the caller in a reaction's user set. A symbol whose set
// empties is removed outright. The full reaction map is rebroadcast, and
// the author is notified on add only, never on remove or self-reaction.
func (p *Pipeline) React(messageID, actorID, symbol string) (*model.Message, error) {
	if symbol == "" {
		return nil, errs.InvalidArg("reaction symbol required")
	}
	msg, channel, err := p.load(messageID)
	if err != nil {
		return nil, err
	}
	if _, err := p.resolver.Resolve(actorID, channel.ServerID); err != nil {
		return nil, err
	}

	if msg.Reactions == nil {
		msg.Reactions = make(map[string][]string)
	}
	users := msg.Reactions[symbol]
	added := true
	for i, id := range users {
		if id == actorID {
			users = append(users[:i], users[i+1:]...)
			added = false
			break
		}
	}
	if added {
		users = append(users, actorID)
	}
	if len(users) == 0 {
		delete(msg.Reactions, symbol)
	} else {
		msg.Reactions[symbol] = users
	}

	err = p.publish(msg, model.EventReactionUpdate, map[string]interface{}{
		"id":        msg.ID,
		"reactions": msg.Reactions,
	})
	if err != nil {
		return nil, err
	}

	if added && msg.AuthorID != actorID {
		p.queue.Enqueue(model.NotifyReaction, model.NotificationPayload{
			ID:        uuid.NewString(),
			UserID:    msg.AuthorID,
			ActorID:   actorID,
			ServerID:  channel.ServerID,
			ChannelID: channel.ID,
			MessageID: msg.ID,
			Body:      symbol,
			CreatedAt: p.now().UTC(),
		})
	}
	return msg, nil
}

// Pin toggles a message's pinned flag. Moderator and above only.
func (p *Pipeline) Pin(messageID, actorID string) (*model.Message, error) {
	msg, channel, err := p.load(messageID)
	if err != nil {
		return nil, err
	}
	role, err := p.resolver.Resolve(actorID, channel.ServerID)
	if err != nil {
		return nil, err
	}
	if !permissions.HasPermission(role, permissions.ActionPinMessage) {
		return nil, errs.Forbidden("insufficient permissions to pin")
	}

	msg.Pinned = !msg.Pinned
	eventType := model.EventMessagePinned
	if !msg.Pinned {
		eventType = model.EventMessageUnpinned
	}
	if err := p.publish(msg, eventType, map[string]interface{}{"id": msg.ID, "pinned": msg.Pinned}); err != nil {
		return nil, err
	}
	return msg, nil
}

// Pinned lists a channel's pinned messages.
func (p *Pipeline) Pinned(channelID string) ([]*model.Message, error) {
	msgs, err := store.ListPinnedMessages(p.db, channelID, p.now())
	if err != nil {
		return nil, errs.Wrap(errs.CodeInternal, "failed to list pinned messages", err)
	}
	return msgs, nil
}
