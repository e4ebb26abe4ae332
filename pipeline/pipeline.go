// Package pipeline owns the message write path: validation, enrichment,
// persistence and broadcast, plus the message-level operations layered
// on top of it (edit, delete, react, pin, polls, scheduling, expiry).
package pipeline

import (
	"sync"
	"time"

	"chat-core/broadcast"
	"chat-core/cache"
	"chat-core/logger"
	"chat-core/model"
	"chat-core/moderation"
	"chat-core/permissions"

	"github.com/jmoiron/sqlx"
)

// markerGrace keeps a due scheduled/expiry marker visible to the sweep
// after its logical due time. The marker's stored timestamp decides
// "due"; the TTL only garbage-collects markers the sweep already
// consumed or abandoned.
const markerGrace = 24 * time.Hour

// Enqueuer is the slice of the notification queue the pipeline needs.
type Enqueuer interface {
	Enqueue(kind string, payload model.NotificationPayload)
}

// Pipeline wires the write path's collaborators together.
type Pipeline struct {
	db       *sqlx.DB
	cache    cache.Cache
	bus      broadcast.Broadcaster
	resolver *permissions.Resolver
	mod      *moderation.Engine
	queue    Enqueuer
	log      *logger.Logger
	now      func() time.Time
	tun      model.Tunables

	locks channelLocks
}

// New builds a pipeline.
func New(db *sqlx.DB, c cache.Cache, bus broadcast.Broadcaster, resolver *permissions.Resolver, mod *moderation.Engine, queue Enqueuer, tun model.Tunables, log *logger.Logger) *Pipeline {
	return &Pipeline{
		db:       db,
		cache:    c,
		bus:      bus,
		resolver: resolver,
		mod:      mod,
		queue:    queue,
		log:      log,
		now:      time.Now,
		tun:      tun,
		locks:    channelLocks{locks: make(map[string]*sync.Mutex)},
	}
}

// SetClock overrides the pipeline's clock. Used by tests.
func (p *Pipeline) SetClock(now func() time.Time) {
	p.now = now
}

// channelLocks serializes persist+broadcast per channel so subscribers
// observe events in store order. Cross-channel operations never contend.
type channelLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (c *channelLocks) get(channelID string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.locks[channelID]
	if !ok {
		l = &sync.Mutex{}
		c.locks[channelID] = l
	}
	return l
}
