package pipeline

import (
	"time"

	"chat-core/cache"
	"chat-core/errs"
	"chat-core/model"
)

// PollInput creates a poll message in a channel.
type PollInput struct {
	ChannelID     string
	AuthorID      string
	Question      string
	Options       []string
	ExpirySeconds int // 0 = never expires
}

// CreatePoll posts a poll message. Polls need at least two options; an
// expiring poll arms a marker the sweep uses to close it.
func (p *Pipeline) CreatePoll(in PollInput) (*model.Message, error) {
	if len(in.Options) < 2 {
		return nil, errs.InvalidArg("a poll needs at least two options")
	}
	if in.Question == "" {
		return nil, errs.InvalidArg("a poll needs a question")
	}

	poll := &model.Poll{Question: in.Question, Options: make([]model.PollOption, len(in.Options))}
	for i, text := range in.Options {
		poll.Options[i] = model.PollOption{Text: text}
	}
	if in.ExpirySeconds > 0 {
		expires := p.now().UTC().Add(time.Duration(in.ExpirySeconds) * time.Second)
		poll.ExpiresAt = &expires
	}

	msg, err := p.Send(SendInput{
		ChannelID:  in.ChannelID,
		AuthorID:   in.AuthorID,
		Content:    in.Question,
		Type:       model.MessagePoll,
		Attachment: &model.Attachment{Poll: poll},
	})
	if err != nil {
		return nil, err
	}

	if poll.ExpiresAt != nil {
		p.cache.SetWithTTL(cache.PollExpiryKey(msg.ID),
			poll.ExpiresAt.Format(time.RFC3339Nano),
			time.Duration(in.ExpirySeconds)*time.Second+markerGrace)
	}
	return msg, nil
}

// VotePoll records a vote. A revote moves the caller's vote instead of
// stacking it; expired polls and out-of-range options are rejected. The
// rebroadcast carries aggregate counts only, never who voted for what.
func (p *Pipeline) VotePoll(messageID, voterID string, optionIndex int) (*model.Message, error) {
	msg, channel, err := p.load(messageID)
	if err != nil {
		return nil, err
	}
	if _, err := p.resolver.Resolve(voterID, channel.ServerID); err != nil {
		return nil, err
	}
	if msg.Type != model.MessagePoll || msg.Attachment == nil || msg.Attachment.Poll == nil {
		return nil, errs.InvalidArg("message is not a poll")
	}
	poll := msg.Attachment.Poll
	if poll.Expired || (poll.ExpiresAt != nil && p.now().After(*poll.ExpiresAt)) {
		return nil, errs.InvalidArg("poll has expired")
	}
	if optionIndex < 0 || optionIndex >= len(poll.Options) {
		return nil, errs.InvalidArg("option index out of range")
	}

	// Drop any prior vote, then apply the new one. The global voter set
	// holds each user at most once regardless of revotes.
	for i := range poll.Options {
		poll.Options[i].Voters = removeString(poll.Options[i].Voters, voterID)
	}
	poll.Options[optionIndex].Voters = append(poll.Options[optionIndex].Voters, voterID)
	if !containsString(poll.Voters, voterID) {
		poll.Voters = append(poll.Voters, voterID)
	}

	err = p.publish(msg, model.EventPollUpdate, map[string]interface{}{
		"id":     msg.ID,
		"counts": poll.Counts(),
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

func removeString(list []string, value string) []string {
	for i, v := range list {
		if v == value {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

func containsString(list []string, value string) bool {
	for _, v := range list {
		if v == value {
			return true
		}
	}
	return false
}
