package pipeline

import (
	"fmt"
	"strings"
	"time"

	"chat-core/broadcast"
	"chat-core/cache"
	"chat-core/model"
	"chat-core/store"

	"github.com/google/uuid"
)

// dueMarkers returns the message ids of markers under prefix whose
// stored due time has passed. Corrupt markers are dropped.
func (p *Pipeline) dueMarkers(prefix string, now time.Time) []string {
	var due []string
	for _, key := range p.cache.Keys(prefix) {
		raw, ok := p.cache.Get(key)
		if !ok {
			continue
		}
		at, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			p.log.Errorw("corrupt sweep marker dropped", "key", key, "err", err)
			p.cache.Delete(key)
			continue
		}
		if now.Before(at) {
			continue
		}
		due = append(due, strings.TrimPrefix(key, prefix))
	}
	return due
}

// ReleaseScheduled publishes every scheduled message whose time has
// come, clearing its scheduled_for column so it appears in listings.
// The marker survives until the store write lands, so a transient
// failure retries on the next tick.
func (p *Pipeline) ReleaseScheduled(now time.Time) {
	for _, id := range p.dueMarkers(cache.ScheduledPrefix, now) {
		msg, err := store.GetMessageByID(p.db, id)
		if err != nil {
			p.log.Errorw("failed to load scheduled message", "message", id, "err", err)
			continue
		}
		if msg == nil {
			p.cache.Delete(cache.ScheduledKey(id)) // deleted while pending
			continue
		}
		msg.ScheduledFor = nil

		lock := p.locks.get(msg.ChannelID)
		lock.Lock()
		err = store.UpdateMessage(p.db, msg)
		if err == nil {
			p.bus.Publish(broadcast.ChannelTopic(msg.ChannelID), model.Event{Type: model.EventMessageNew, Data: msg})
		}
		lock.Unlock()
		if err != nil {
			p.log.Errorw("failed to release scheduled message", "message", id, "err", err)
			continue
		}
		p.cache.Delete(cache.ScheduledKey(id))

		channel, err := store.GetChannelByID(p.db, msg.ChannelID)
		if err != nil || channel == nil {
			p.log.Errorw("failed to load channel for released message", "message", id, "err", err)
			continue
		}
		p.afterSend(channel, msg)
		p.log.Infow("scheduled message released", "message", id, "channel", msg.ChannelID)
	}
}

// DeleteExpired removes every self-destructing message past its expiry,
// broadcasting a deletion event. The marker is cleared only once the
// delete lands, keeping the sweep retryable.
func (p *Pipeline) DeleteExpired(now time.Time) {
	for _, id := range p.dueMarkers(cache.MessageExpiryPrefix, now) {
		msg, err := store.GetMessageByID(p.db, id)
		if err != nil {
			p.log.Errorw("failed to load expiring message", "message", id, "err", err)
			continue
		}
		if msg == nil {
			p.cache.Delete(cache.MessageExpiryKey(id))
			continue
		}

		lock := p.locks.get(msg.ChannelID)
		lock.Lock()
		err = store.DeleteMessage(p.db, id)
		if err == nil {
			p.bus.Publish(broadcast.ChannelTopic(msg.ChannelID), model.Event{
				Type: model.EventMessageDeleted,
				Data: map[string]string{"id": id},
			})
		}
		lock.Unlock()
		if err != nil {
			p.log.Errorw("failed to delete expired message", "message", id, "err", err)
			continue
		}
		p.cache.Delete(cache.MessageExpiryKey(id))
		p.log.Infow("expired message deleted", "message", id, "channel", msg.ChannelID)
	}
}

// CloseExpiredPolls marks due polls expired, broadcasts the final tally
// and posts a summary system message to the channel.
func (p *Pipeline) CloseExpiredPolls(now time.Time) {
	for _, id := range p.dueMarkers(cache.PollExpiryPrefix, now) {
		msg, err := store.GetMessageByID(p.db, id)
		if err != nil {
			p.log.Errorw("failed to load expiring poll", "message", id, "err", err)
			continue
		}
		if msg == nil || msg.Attachment == nil || msg.Attachment.Poll == nil {
			p.cache.Delete(cache.PollExpiryKey(id))
			continue
		}
		poll := msg.Attachment.Poll
		if poll.Expired {
			p.cache.Delete(cache.PollExpiryKey(id))
			continue
		}
		poll.Expired = true

		summary := &model.Message{
			ID:        uuid.NewString(),
			ChannelID: msg.ChannelID,
			AuthorID:  model.SystemActor,
			Content:   pollSummary(poll),
			Type:      model.MessageSystem,
			ReplyTo:   msg.ID,
			CreatedAt: now.UTC(),
		}

		lock := p.locks.get(msg.ChannelID)
		lock.Lock()
		err = store.UpdateMessage(p.db, msg)
		if err == nil {
			p.bus.Publish(broadcast.ChannelTopic(msg.ChannelID), model.Event{
				Type: model.EventPollClosed,
				Data: map[string]interface{}{"id": msg.ID, "counts": poll.Counts()},
			})
			if serr := store.AddMessage(p.db, summary); serr == nil {
				p.bus.Publish(broadcast.ChannelTopic(msg.ChannelID), model.Event{Type: model.EventMessageNew, Data: summary})
			} else {
				p.log.Errorw("failed to post poll summary", "poll", msg.ID, "err", serr)
			}
		}
		lock.Unlock()
		if err != nil {
			p.log.Errorw("failed to close expired poll", "poll", msg.ID, "err", err)
			continue
		}
		p.cache.Delete(cache.PollExpiryKey(id))
		p.log.Infow("poll closed", "poll", msg.ID, "channel", msg.ChannelID)
	}
}

func pollSummary(poll *model.Poll) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Poll closed: %q. Final results:", poll.Question)
	for i, opt := range poll.Options {
		fmt.Fprintf(&b, "\n%d. %s: %d", i+1, opt.Text, len(opt.Voters))
	}
	return b.String()
}
