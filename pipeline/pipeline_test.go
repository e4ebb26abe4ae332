package pipeline

import (
	"sync"
	"testing"
	"time"

	"chat-core/broadcast"
	"chat-core/cache"
	"chat-core/errs"
	"chat-core/logger"
	"chat-core/model"
	"chat-core/moderation"
	"chat-core/permissions"
	"chat-core/store"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeQueue struct {
	mu    sync.Mutex
	items []struct {
		Kind    string
		Payload model.NotificationPayload
	}
}

func (q *fakeQueue) Enqueue(kind string, payload model.NotificationPayload) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, struct {
		Kind    string
		Payload model.NotificationPayload
	}{kind, payload})
}

func (q *fakeQueue) byKind(kind string) []model.NotificationPayload {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []model.NotificationPayload
	for _, item := range q.items {
		if item.Kind == kind {
			out = append(out, item.Payload)
		}
	}
	return out
}

func testTunables() model.Tunables {
	return model.Tunables{
		EditWindowMinutes:     15,
		ScheduleLeadMinutes:   5,
		ExpiryMinSeconds:      5,
		ExpiryMaxSeconds:      86400,
		XPAward:               10,
		XPMessageInterval:     10,
		XPPerLevel:            100,
		TrendingLimit:         50,
		RecentPurgeWindowHrs:  24,
		NotificationKeepDays:  30,
		ModerationLogMaxItems: 100,
	}
}

type fixture struct {
	db       *sqlx.DB
	cache    *cache.Memory
	bus      *broadcast.Recorder
	queue    *fakeQueue
	mod      *moderation.Engine
	pipeline *Pipeline
	server   *model.Server
	general  model.Channel
	users    map[string]string
	clock    *time.Time
}

func (f *fixture) advance(d time.Duration) {
	*f.clock = f.clock.Add(d)
}

func newFixture(t *testing.T, words []string) *fixture {
	t.Helper()
	db, err := store.InitMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := &now
	tick := func() time.Time { return *clock }

	mem := cache.NewMemoryWithClock(tick)
	bus := broadcast.NewRecorder()
	queue := &fakeQueue{}
	resolver := permissions.NewResolver(db)

	mod, err := moderation.NewEngine(db, mem, bus, resolver, queue,
		func() ([]string, error) { return words, nil }, 100, logger.Nop())
	require.NoError(t, err)
	mod.SetClock(tick)

	p := New(db, mem, bus, resolver, mod, queue, testTunables(), logger.Nop())
	p.SetClock(tick)

	users := make(map[string]string)
	for _, name := range []string{"owner", "mod", "member", "alice", "Bob"} {
		u, err := store.CreateUser(db, name)
		require.NoError(t, err)
		users[name] = u.ID
	}
	server, err := store.CreateServer(db, "srv", users["owner"], model.PolicyOff)
	require.NoError(t, err)
	require.NoError(t, store.AddMembership(db, users["mod"], server.ID, model.RoleModerator))
	require.NoError(t, store.AddMembership(db, users["member"], server.ID, model.RoleMember))
	require.NoError(t, store.AddMembership(db, users["alice"], server.ID, model.RoleMember))
	require.NoError(t, store.AddMembership(db, users["Bob"], server.ID, model.RoleMember))

	channels, err := store.ListChannelsByServer(db, server.ID)
	require.NoError(t, err)

	return &fixture{
		db: db, cache: mem, bus: bus, queue: queue, mod: mod, pipeline: p,
		server: server, general: channels[0], users: users, clock: clock,
	}
}

func (f *fixture) send(t *testing.T, author, content string) *model.Message {
	t.Helper()
	msg, err := f.pipeline.Send(SendInput{
		ChannelID: f.general.ID,
		AuthorID:  f.users[author],
		Content:   content,
		Type:      model.MessageText,
	})
	require.NoError(t, err)
	return msg
}

func Test_Send_PersistsAndBroadcastsInOrder(t *testing.T) {
	f := newFixture(t, nil)

	first := f.send(t, "member", "hello")
	second := f.send(t, "member", "world")

	got, err := store.GetMessageByID(f.db, first.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "hello", got.Content)

	events := f.bus.ByTopic(broadcast.ChannelTopic(f.general.ID))
	require.Len(t, events, 2)
	assert.Equal(t, first.ID, events[0].Data.(*model.Message).ID)
	assert.Equal(t, second.ID, events[1].Data.(*model.Message).ID)
}

func Test_Send_RejectsUnknownChannelAndNonMember(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.pipeline.Send(SendInput{ChannelID: "nope", AuthorID: f.users["member"], Content: "x", Type: model.MessageText})
	assert.Equal(t, errs.CodeNotFound, errs.CodeOf(err))

	outsider, err := store.CreateUser(f.db, "outsider")
	require.NoError(t, err)
	_, err = f.pipeline.Send(SendInput{ChannelID: f.general.ID, AuthorID: outsider.ID, Content: "x", Type: model.MessageText})
	assert.Equal(t, errs.CodeNotFound, errs.CodeOf(err))
}

func Test_Send_ChannelTypeGate(t *testing.T) {
	f := newFixture(t, nil)

	voice, err := store.CreateChannel(f.db, f.server.ID, "voice", model.ChannelVoice, 1, 0, false)
	require.NoError(t, err)
	_, err = f.pipeline.Send(SendInput{ChannelID: voice.ID, AuthorID: f.users["member"], Content: "x", Type: model.MessageText})
	assert.Equal(t, errs.CodeInvalidArgument, errs.CodeOf(err))

	ann, err := store.CreateChannel(f.db, f.server.ID, "news", model.ChannelAnnouncement, 2, 0, false)
	require.NoError(t, err)

	_, err = f.pipeline.Send(SendInput{ChannelID: ann.ID, AuthorID: f.users["mod"], Content: "x", Type: model.MessageText})
	assert.Equal(t, errs.CodeForbidden, errs.CodeOf(err), "moderators cannot post announcements")

	_, err = f.pipeline.Send(SendInput{ChannelID: ann.ID, AuthorID: f.users["owner"], Content: "x", Type: model.MessageText})
	assert.NoError(t, err)
}

func Test_Send_SlowMode(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, store.SetSlowMode(f.db, f.general.ID, 10))

	// t=0 succeeds.
	f.send(t, "member", "first")

	// t=5 rejected with about 5s remaining.
	f.advance(5 * time.Second)
	_, err := f.pipeline.Send(SendInput{ChannelID: f.general.ID, AuthorID: f.users["member"], Content: "second", Type: model.MessageText})
	require.Equal(t, errs.CodeRateLimited, errs.CodeOf(err))
	assert.Equal(t, 5*time.Second, errs.RetryAfterOf(err))

	// Another user is unaffected.
	f.send(t, "alice", "hi")

	// t=11 succeeds again.
	f.advance(6 * time.Second)
	f.send(t, "member", "third")
}

func Test_Send_MutedAuthorRejected(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.mod.Mute(f.server.ID, f.general.ID, f.users["member"], f.users["mod"], "", 1))

	_, err := f.pipeline.Send(SendInput{ChannelID: f.general.ID, AuthorID: f.users["member"], Content: "x", Type: model.MessageText})
	assert.Equal(t, errs.CodeForbidden, errs.CodeOf(err))
}

func Test_Send_ModerationPolicy(t *testing.T) {
	f := newFixture(t, []string{"badword"})

	require.NoError(t, store.UpdateModerationPolicy(f.db, f.server.ID, model.PolicyBlock))
	_, err := f.pipeline.Send(SendInput{ChannelID: f.general.ID, AuthorID: f.users["member"], Content: "badword", Type: model.MessageText})
	assert.Equal(t, errs.CodeModerationBlocked, errs.CodeOf(err))

	require.NoError(t, store.UpdateModerationPolicy(f.db, f.server.ID, model.PolicyWarn))
	msg, err := f.pipeline.Send(SendInput{ChannelID: f.general.ID, AuthorID: f.users["member"], Content: "badword", Type: model.MessageText})
	require.NoError(t, err)
	assert.True(t, msg.Warning)
}

func Test_Send_Mentions(t *testing.T) {
	f := newFixture(t, nil)

	msg := f.send(t, "member", "hey @alice and @stranger, also @Bob")
	assert.ElementsMatch(t, []string{f.users["alice"], f.users["Bob"]}, msg.Mentions)

	// Case-sensitive: @bob does not match Bob.
	msg = f.send(t, "member", "ping @bob")
	assert.Empty(t, msg.Mentions)

	// Mention events and notifications for each target, none to self.
	assert.Len(t, f.bus.ByTopic(broadcast.UserTopic(f.users["alice"])), 1)
	notifs := f.queue.byKind(model.NotifyMention)
	require.Len(t, notifs, 2)

	f.send(t, "alice", "note to self @alice")
	assert.Len(t, f.queue.byKind(model.NotifyMention), 2, "self-mention is not notified")
}

func Test_Send_ReplyToSameChannelEnforced(t *testing.T) {
	f := newFixture(t, nil)
	original := f.send(t, "member", "root")

	reply, err := f.pipeline.Send(SendInput{
		ChannelID: f.general.ID, AuthorID: f.users["alice"],
		Content: "reply", Type: model.MessageText, ReplyTo: original.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, original.ID, reply.ReplyTo)

	_, err = f.pipeline.Send(SendInput{
		ChannelID: f.general.ID, AuthorID: f.users["alice"],
		Content: "reply", Type: model.MessageText, ReplyTo: "missing",
	})
	assert.Equal(t, errs.CodeNotFound, errs.CodeOf(err))

	other, err := store.CreateChannel(f.db, f.server.ID, "other", model.ChannelText, 1, 0, false)
	require.NoError(t, err)
	_, err = f.pipeline.Send(SendInput{
		ChannelID: other.ID, AuthorID: f.users["alice"],
		Content: "cross reply", Type: model.MessageText, ReplyTo: original.ID,
	})
	assert.Equal(t, errs.CodeInvalidArgument, errs.CodeOf(err))
}

func Test_Send_XPAndLevelUp(t *testing.T) {
	f := newFixture(t, nil)
	author := f.users["member"]

	for i := 0; i < 10; i++ {
		f.send(t, "member", "msg")
	}
	user, err := store.GetUserByID(f.db, author)
	require.NoError(t, err)
	assert.Equal(t, int64(10), user.MessageCount)
	assert.Equal(t, int64(10), user.XP)
	assert.Equal(t, 0, user.Level)

	// 90 more messages reach 100 XP and level 1.
	for i := 0; i < 90; i++ {
		f.send(t, "member", "msg")
	}
	user, err = store.GetUserByID(f.db, author)
	require.NoError(t, err)
	assert.Equal(t, int64(100), user.XP)
	assert.Equal(t, 1, user.Level)

	var levelUps int
	for _, ev := range f.bus.ByTopic(broadcast.UserTopic(author)) {
		if ev.Type == model.EventLevelUp {
			levelUps++
		}
	}
	assert.Equal(t, 1, levelUps)
}

func Test_Send_SuperchatDebitsTokens(t *testing.T) {
	f := newFixture(t, nil)
	author := f.users["member"]
	require.NoError(t, store.CreditTokens(f.db, author, 100))

	_, err := f.pipeline.Send(SendInput{
		ChannelID: f.general.ID, AuthorID: author, Content: "gg",
		Type: model.MessageSuperchat, Attachment: &model.Attachment{TokenAmount: 60},
	})
	require.NoError(t, err)

	user, err := store.GetUserByID(f.db, author)
	require.NoError(t, err)
	assert.Equal(t, int64(40), user.TokenBalance)

	_, err = f.pipeline.Send(SendInput{
		ChannelID: f.general.ID, AuthorID: author, Content: "gg",
		Type: model.MessageSuperchat, Attachment: &model.Attachment{TokenAmount: 60},
	})
	assert.Equal(t, errs.CodeConflict, errs.CodeOf(err))

	_, err = f.pipeline.Send(SendInput{
		ChannelID: f.general.ID, AuthorID: author, Content: "gg",
		Type: model.MessageSuperchat,
	})
	assert.Equal(t, errs.CodeInvalidArgument, errs.CodeOf(err))
}

func Test_Edit_AuthorOnlyWithinWindow(t *testing.T) {
	f := newFixture(t, nil)
	msg := f.send(t, "member", "original")

	_, err := f.pipeline.Edit(msg.ID, f.users["mod"], "hijack")
	assert.Equal(t, errs.CodeForbidden, errs.CodeOf(err))

	f.advance(10 * time.Minute)
	edited, err := f.pipeline.Edit(msg.ID, f.users["member"], "fixed")
	require.NoError(t, err)
	assert.True(t, edited.Edited)
	assert.Equal(t, "fixed", edited.Content)

	// Window counts from creation, not the last edit.
	f.advance(10 * time.Minute)
	_, err = f.pipeline.Edit(msg.ID, f.users["member"], "again")
	assert.Equal(t, errs.CodeForbidden, errs.CodeOf(err))
}

func Test_Delete_AuthorOrModerator(t *testing.T) {
	f := newFixture(t, nil)

	msg := f.send(t, "member", "mine")
	require.NoError(t, f.pipeline.Delete(msg.ID, f.users["member"]))

	msg = f.send(t, "member", "offensive")
	err := f.pipeline.Delete(msg.ID, f.users["alice"])
	assert.Equal(t, errs.CodeForbidden, errs.CodeOf(err))
	require.NoError(t, f.pipeline.Delete(msg.ID, f.users["mod"]))

	got, err := store.GetMessageByID(f.db, msg.ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	events := f.bus.ByTopic(broadcast.ChannelTopic(f.general.ID))
	last := events[len(events)-1]
	assert.Equal(t, model.EventMessageDeleted, last.Type)
	assert.Equal(t, map[string]string{"id": msg.ID}, last.Data)
}

func Test_React_ToggleAndNotify(t *testing.T) {
	f := newFixture(t, nil)
	msg := f.send(t, "member", "react to me")

	got, err := f.pipeline.React(msg.ID, f.users["alice"], "thumbsup")
	require.NoError(t, err)
	assert.Equal(t, []string{f.users["alice"]}, got.Reactions["thumbsup"])
	assert.Len(t, f.queue.byKind(model.NotifyReaction), 1)

	// Toggling off removes the empty key and does not notify.
	got, err = f.pipeline.React(msg.ID, f.users["alice"], "thumbsup")
	require.NoError(t, err)
	_, exists := got.Reactions["thumbsup"]
	assert.False(t, exists)
	assert.Len(t, f.queue.byKind(model.NotifyReaction), 1)

	// Self-reaction adds but never notifies.
	_, err = f.pipeline.React(msg.ID, f.users["member"], "wave")
	require.NoError(t, err)
	assert.Len(t, f.queue.byKind(model.NotifyReaction), 1)

	stored, err := store.GetMessageByID(f.db, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{f.users["member"]}, stored.Reactions["wave"])
}

func Test_Pin_ModeratorToggle(t *testing.T) {
	f := newFixture(t, nil)
	msg := f.send(t, "member", "important")

	_, err := f.pipeline.Pin(msg.ID, f.users["member"])
	assert.Equal(t, errs.CodeForbidden, errs.CodeOf(err))

	pinned, err := f.pipeline.Pin(msg.ID, f.users["mod"])
	require.NoError(t, err)
	assert.True(t, pinned.Pinned)

	list, err := f.pipeline.Pinned(f.general.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, msg.ID, list[0].ID)

	unpinned, err := f.pipeline.Pin(msg.ID, f.users["mod"])
	require.NoError(t, err)
	assert.False(t, unpinned.Pinned)
}

func Test_Poll_VoteMovesNotAdds(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.pipeline.CreatePoll(PollInput{
		ChannelID: f.general.ID, AuthorID: f.users["member"],
		Question: "pick", Options: []string{"only"},
	})
	assert.Equal(t, errs.CodeInvalidArgument, errs.CodeOf(err))

	poll, err := f.pipeline.CreatePoll(PollInput{
		ChannelID: f.general.ID, AuthorID: f.users["member"],
		Question: "pick", Options: []string{"red", "blue"}, ExpirySeconds: 60,
	})
	require.NoError(t, err)

	got, err := f.pipeline.VotePoll(poll.ID, f.users["alice"], 0)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 0}, got.Attachment.Poll.Counts())

	// Revote moves the ballot; the voter appears exactly once globally.
	f.advance(30 * time.Second)
	got, err = f.pipeline.VotePoll(poll.ID, f.users["alice"], 1)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, got.Attachment.Poll.Counts())
	assert.Equal(t, []string{f.users["alice"]}, got.Attachment.Poll.Voters)

	_, err = f.pipeline.VotePoll(poll.ID, f.users["alice"], 5)
	assert.Equal(t, errs.CodeInvalidArgument, errs.CodeOf(err))

	// Broadcasts carry counts only, never the ballot mapping.
	for _, ev := range f.bus.ByTopic(broadcast.ChannelTopic(f.general.ID)) {
		if ev.Type == model.EventPollUpdate {
			data := ev.Data.(map[string]interface{})
			_, leaked := data["options"]
			assert.False(t, leaked)
			assert.Contains(t, data, "counts")
		}
	}
}

func Test_Poll_SweepClosesAndSummarizes(t *testing.T) {
	f := newFixture(t, nil)
	poll, err := f.pipeline.CreatePoll(PollInput{
		ChannelID: f.general.ID, AuthorID: f.users["member"],
		Question: "pick", Options: []string{"red", "blue"}, ExpirySeconds: 60,
	})
	require.NoError(t, err)
	_, err = f.pipeline.VotePoll(poll.ID, f.users["alice"], 1)
	require.NoError(t, err)

	// Before expiry the sweep leaves it alone.
	f.pipeline.CloseExpiredPolls(*f.clock)
	stored, _ := store.GetMessageByID(f.db, poll.ID)
	assert.False(t, stored.Attachment.Poll.Expired)

	f.advance(61 * time.Second)
	f.pipeline.CloseExpiredPolls(*f.clock)

	stored, err = store.GetMessageByID(f.db, poll.ID)
	require.NoError(t, err)
	assert.True(t, stored.Attachment.Poll.Expired)

	_, err = f.pipeline.VotePoll(poll.ID, f.users["Bob"], 0)
	assert.Equal(t, errs.CodeInvalidArgument, errs.CodeOf(err))

	events := f.bus.ByTopic(broadcast.ChannelTopic(f.general.ID))
	var closed, summary bool
	for _, ev := range events {
		if ev.Type == model.EventPollClosed {
			closed = true
			assert.Equal(t, []int{0, 1}, ev.Data.(map[string]interface{})["counts"])
		}
		if ev.Type == model.EventMessageNew {
			if m, ok := ev.Data.(*model.Message); ok && m.Type == model.MessageSystem {
				summary = true
				assert.Contains(t, m.Content, "blue: 1")
			}
		}
	}
	assert.True(t, closed)
	assert.True(t, summary)

	// A second sweep does nothing further.
	f.pipeline.CloseExpiredPolls(*f.clock)
	count := 0
	for _, ev := range f.bus.ByTopic(broadcast.ChannelTopic(f.general.ID)) {
		if ev.Type == model.EventPollClosed {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func Test_Schedule_LeadTimeAndRelease(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.pipeline.Schedule(SendInput{
		ChannelID: f.general.ID, AuthorID: f.users["member"],
		Content: "too soon", Type: model.MessageText,
	}, f.clock.Add(2*time.Minute))
	assert.Equal(t, errs.CodeInvalidArgument, errs.CodeOf(err))

	msg, err := f.pipeline.Schedule(SendInput{
		ChannelID: f.general.ID, AuthorID: f.users["member"],
		Content: "later", Type: model.MessageText,
	}, f.clock.Add(10*time.Minute))
	require.NoError(t, err)
	require.NotNil(t, msg.ScheduledFor)

	// Nothing broadcast until release.
	assert.Empty(t, f.bus.ByTopic(broadcast.ChannelTopic(f.general.ID)))

	f.pipeline.ReleaseScheduled(*f.clock)
	assert.Empty(t, f.bus.ByTopic(broadcast.ChannelTopic(f.general.ID)))

	f.advance(11 * time.Minute)
	f.pipeline.ReleaseScheduled(*f.clock)
	events := f.bus.ByTopic(broadcast.ChannelTopic(f.general.ID))
	require.Len(t, events, 1)
	assert.Equal(t, msg.ID, events[0].Data.(*model.Message).ID)

	// Release is exactly-once.
	f.pipeline.ReleaseScheduled(*f.clock)
	assert.Len(t, f.bus.ByTopic(broadcast.ChannelTopic(f.general.ID)), 1)
}

func Test_Schedule_HiddenFromListingsUntilRelease(t *testing.T) {
	f := newFixture(t, nil)
	visible := f.send(t, "member", "now")

	msg, err := f.pipeline.Schedule(SendInput{
		ChannelID: f.general.ID, AuthorID: f.users["member"],
		Content: "later", Type: model.MessageText,
	}, f.clock.Add(10*time.Minute))
	require.NoError(t, err)

	msg.Pinned = true
	require.NoError(t, store.UpdateMessage(f.db, msg))

	// Pending scheduled messages stay out of channel and pin listings.
	list, err := store.ListMessagesByChannel(f.db, f.general.ID, 50, *f.clock)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, visible.ID, list[0].ID)

	pinned, err := f.pipeline.Pinned(f.general.ID)
	require.NoError(t, err)
	assert.Empty(t, pinned)

	f.advance(11 * time.Minute)
	f.pipeline.ReleaseScheduled(*f.clock)

	// Release clears the scheduled time durably.
	stored, err := store.GetMessageByID(f.db, msg.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Nil(t, stored.ScheduledFor)

	list, err = store.ListMessagesByChannel(f.db, f.general.ID, 50, *f.clock)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	pinned, err = f.pipeline.Pinned(f.general.ID)
	require.NoError(t, err)
	assert.Len(t, pinned, 1)
}

func Test_SetExpiry_SweepRetriesAfterStoreFailure(t *testing.T) {
	f := newFixture(t, nil)
	msg := f.send(t, "member", "self destructing")
	_, err := f.pipeline.SetExpiry(msg.ID, f.users["member"], 60)
	require.NoError(t, err)

	_, err = f.db.Exec(`CREATE TRIGGER block_message_delete BEFORE DELETE ON messages
		BEGIN SELECT RAISE(ABORT, 'storage unavailable'); END`)
	require.NoError(t, err)

	f.advance(61 * time.Second)
	f.pipeline.DeleteExpired(*f.clock)
	got, err := store.GetMessageByID(f.db, msg.ID)
	require.NoError(t, err)
	require.NotNil(t, got, "message survives the failed sweep")

	// The next sweep after the store recovers finishes the job.
	_, err = f.db.Exec(`DROP TRIGGER block_message_delete`)
	require.NoError(t, err)

	f.pipeline.DeleteExpired(*f.clock)
	got, err = store.GetMessageByID(f.db, msg.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func Test_Poll_SweepRetriesAfterStoreFailure(t *testing.T) {
	f := newFixture(t, nil)
	poll, err := f.pipeline.CreatePoll(PollInput{
		ChannelID: f.general.ID, AuthorID: f.users["member"],
		Question: "pick", Options: []string{"red", "blue"}, ExpirySeconds: 60,
	})
	require.NoError(t, err)

	_, err = f.db.Exec(`CREATE TRIGGER block_message_update BEFORE UPDATE ON messages
		BEGIN SELECT RAISE(ABORT, 'storage unavailable'); END`)
	require.NoError(t, err)

	f.advance(61 * time.Second)
	f.pipeline.CloseExpiredPolls(*f.clock)
	stored, err := store.GetMessageByID(f.db, poll.ID)
	require.NoError(t, err)
	assert.False(t, stored.Attachment.Poll.Expired)

	_, err = f.db.Exec(`DROP TRIGGER block_message_update`)
	require.NoError(t, err)

	f.pipeline.CloseExpiredPolls(*f.clock)
	stored, err = store.GetMessageByID(f.db, poll.ID)
	require.NoError(t, err)
	assert.True(t, stored.Attachment.Poll.Expired)
}

func Test_Send_SuperchatRefundsOnPersistFailure(t *testing.T) {
	f := newFixture(t, nil)
	author := f.users["member"]
	require.NoError(t, store.CreditTokens(f.db, author, 100))

	_, err := f.db.Exec(`CREATE TRIGGER block_message_insert BEFORE INSERT ON messages
		BEGIN SELECT RAISE(ABORT, 'storage unavailable'); END`)
	require.NoError(t, err)

	_, err = f.pipeline.Send(SendInput{
		ChannelID: f.general.ID, AuthorID: author, Content: "gg",
		Type: model.MessageSuperchat, Attachment: &model.Attachment{TokenAmount: 60},
	})
	require.Equal(t, errs.CodeInternal, errs.CodeOf(err))

	user, err := store.GetUserByID(f.db, author)
	require.NoError(t, err)
	assert.Equal(t, int64(100), user.TokenBalance, "failed send leaves the balance untouched")

	_, err = f.db.Exec(`DROP TRIGGER block_message_insert`)
	require.NoError(t, err)

	_, err = f.pipeline.Send(SendInput{
		ChannelID: f.general.ID, AuthorID: author, Content: "gg",
		Type: model.MessageSuperchat, Attachment: &model.Attachment{TokenAmount: 60},
	})
	require.NoError(t, err)
	user, err = store.GetUserByID(f.db, author)
	require.NoError(t, err)
	assert.Equal(t, int64(40), user.TokenBalance)
}

func Test_SetExpiry_BoundsAndSweep(t *testing.T) {
	f := newFixture(t, nil)
	msg := f.send(t, "member", "self destructing")

	_, err := f.pipeline.SetExpiry(msg.ID, f.users["member"], 2)
	assert.Equal(t, errs.CodeInvalidArgument, errs.CodeOf(err))
	_, err = f.pipeline.SetExpiry(msg.ID, f.users["member"], 90000)
	assert.Equal(t, errs.CodeInvalidArgument, errs.CodeOf(err))
	_, err = f.pipeline.SetExpiry(msg.ID, f.users["alice"], 60)
	assert.Equal(t, errs.CodeForbidden, errs.CodeOf(err))

	updated, err := f.pipeline.SetExpiry(msg.ID, f.users["member"], 60)
	require.NoError(t, err)
	require.NotNil(t, updated.ExpiresAt)

	f.pipeline.DeleteExpired(*f.clock)
	got, _ := store.GetMessageByID(f.db, msg.ID)
	assert.NotNil(t, got)

	f.advance(61 * time.Second)
	f.pipeline.DeleteExpired(*f.clock)
	got, err = store.GetMessageByID(f.db, msg.ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	events := f.bus.ByTopic(broadcast.ChannelTopic(f.general.ID))
	last := events[len(events)-1]
	assert.Equal(t, model.EventMessageDeleted, last.Type)
}
