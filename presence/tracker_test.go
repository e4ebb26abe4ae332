package presence

import (
	"testing"
	"time"

	"chat-core/broadcast"
	"chat-core/cache"
	"chat-core/errs"
	"chat-core/logger"
	"chat-core/model"
	"chat-core/store"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	db      *sqlx.DB
	bus     *broadcast.Recorder
	tracker *Tracker
	server  *model.Server
	voice   *model.Channel
	voice2  *model.Channel
	users   map[string]string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := store.InitMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	mem := cache.NewMemoryWithClock(func() time.Time { return now })
	bus := broadcast.NewRecorder()

	tracker := NewTracker(db, mem, bus, logger.Nop())
	tracker.SetClock(func() time.Time { return now })

	users := make(map[string]string)
	for _, name := range []string{"owner", "alice", "bob"} {
		u, err := store.CreateUser(db, name)
		require.NoError(t, err)
		users[name] = u.ID
	}
	server, err := store.CreateServer(db, "srv", users["owner"], model.PolicyOff)
	require.NoError(t, err)
	require.NoError(t, store.AddMembership(db, users["alice"], server.ID, model.RoleMember))
	require.NoError(t, store.AddMembership(db, users["bob"], server.ID, model.RoleMember))

	voice, err := store.CreateChannel(db, server.ID, "voice-1", model.ChannelVoice, 1, 0, false)
	require.NoError(t, err)
	voice2, err := store.CreateChannel(db, server.ID, "voice-2", model.ChannelVoice, 2, 0, false)
	require.NoError(t, err)

	return &fixture{db: db, bus: bus, tracker: tracker, server: server, voice: voice, voice2: voice2, users: users}
}

func Test_SetStatus_FanOutToServerTopics(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.tracker.SetStatus(f.users["alice"], model.StatusBusy))

	events := f.bus.ByTopic(broadcast.ServerTopic(f.server.ID))
	require.Len(t, events, 1)
	assert.Equal(t, model.EventPresenceUpdate, events[0].Type)
	assert.Equal(t, "busy", events[0].Data.(map[string]string)["status"])

	status, err := f.tracker.Get(f.users["bob"], f.users["alice"])
	require.NoError(t, err)
	assert.Equal(t, model.StatusBusy, status)
}

func Test_SetStatus_InvisibleMasking(t *testing.T) {
	f := newFixture(t)
	alice := f.users["alice"]

	require.NoError(t, f.tracker.SetStatus(alice, model.StatusInvisible))

	// No broadcast at all while invisible.
	assert.Empty(t, f.bus.ByTopic(broadcast.ServerTopic(f.server.ID)))

	// Others see offline; the owner sees their chosen state.
	status, err := f.tracker.Get(f.users["bob"], alice)
	require.NoError(t, err)
	assert.Equal(t, model.StatusOffline, status)

	status, err = f.tracker.Get(alice, alice)
	require.NoError(t, err)
	assert.Equal(t, model.StatusInvisible, status)

	// The durable row stores the public form.
	record, err := store.GetPresence(f.db, alice)
	require.NoError(t, err)
	assert.Equal(t, model.StatusOffline, record.Status)
	assert.True(t, record.Invisible)
}

func Test_Get_UnknownUserIsOffline(t *testing.T) {
	f := newFixture(t)
	status, err := f.tracker.Get(f.users["alice"], "nobody")
	require.NoError(t, err)
	assert.Equal(t, model.StatusOffline, status)
}

func Test_SetStatus_RejectsUnknownValue(t *testing.T) {
	f := newFixture(t)
	err := f.tracker.SetStatus(f.users["alice"], model.Status("sleeping"))
	assert.Equal(t, errs.CodeInvalidArgument, errs.CodeOf(err))
}

func Test_JoinVoice_SingleRoomPerUser(t *testing.T) {
	f := newFixture(t)
	alice := f.users["alice"]

	require.NoError(t, f.tracker.JoinVoice(f.voice.ID, alice))
	require.Len(t, f.tracker.Roster(f.voice.ID), 1)

	// Joining another room leaves the first implicitly.
	require.NoError(t, f.tracker.JoinVoice(f.voice2.ID, alice))
	assert.Empty(t, f.tracker.Roster(f.voice.ID))
	require.Len(t, f.tracker.Roster(f.voice2.ID), 1)

	leaves := f.bus.ByTopic(broadcast.VoiceTopic(f.voice.ID))
	require.Len(t, leaves, 2)
	assert.Equal(t, model.EventVoiceJoin, leaves[0].Type)
	assert.Equal(t, model.EventVoiceLeave, leaves[1].Type)
}

func Test_JoinVoice_RejectsTextChannel(t *testing.T) {
	f := newFixture(t)
	channels, err := store.ListChannelsByServer(f.db, f.server.ID)
	require.NoError(t, err)

	err = f.tracker.JoinVoice(channels[0].ID, f.users["alice"]) // "general" text channel
	assert.Equal(t, errs.CodeInvalidArgument, errs.CodeOf(err))
}

func Test_LeaveVoice(t *testing.T) {
	f := newFixture(t)
	alice := f.users["alice"]

	err := f.tracker.LeaveVoice(alice)
	assert.Equal(t, errs.CodeNotFound, errs.CodeOf(err))

	require.NoError(t, f.tracker.JoinVoice(f.voice.ID, alice))
	require.NoError(t, f.tracker.LeaveVoice(alice))
	assert.Empty(t, f.tracker.Roster(f.voice.ID))
}

func Test_DeafenForcesMute(t *testing.T) {
	f := newFixture(t)
	alice := f.users["alice"]
	require.NoError(t, f.tracker.JoinVoice(f.voice.ID, alice))

	state, err := f.tracker.SetDeafened(alice, true)
	require.NoError(t, err)
	assert.True(t, state.Deafened)
	assert.True(t, state.Muted, "deafening forces mute")

	// Unmuting while deafened keeps the forced mute.
	state, err = f.tracker.SetMuted(alice, false)
	require.NoError(t, err)
	assert.True(t, state.Muted)

	// Un-deafening does not automatically unmute.
	state, err = f.tracker.SetDeafened(alice, false)
	require.NoError(t, err)
	assert.False(t, state.Deafened)
	assert.True(t, state.Muted)

	state, err = f.tracker.SetMuted(alice, false)
	require.NoError(t, err)
	assert.False(t, state.Muted)
}

func Test_Roster_CarriesFlags(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.tracker.JoinVoice(f.voice.ID, f.users["alice"]))
	require.NoError(t, f.tracker.JoinVoice(f.voice.ID, f.users["bob"]))
	_, err := f.tracker.SetMuted(f.users["bob"], true)
	require.NoError(t, err)

	roster := f.tracker.Roster(f.voice.ID)
	require.Len(t, roster, 2)
	flags := make(map[string]bool)
	for _, state := range roster {
		flags[state.UserID] = state.Muted
	}
	assert.False(t, flags[f.users["alice"]])
	assert.True(t, flags[f.users["bob"]])
}
