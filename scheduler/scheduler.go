// Package scheduler runs the periodic reconciliation sweep: the one
// place where expired ephemeral markers become durable, notified
// consequences.
package scheduler

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"chat-core/cache"
	"chat-core/logger"
	"chat-core/model"
	"chat-core/moderation"
	"chat-core/pipeline"
	"chat-core/status"
	"chat-core/store"

	"github.com/jmoiron/sqlx"
)

// Scheduler owns the sweep ticker and its tasks.
type Scheduler struct {
	db       *sqlx.DB
	cache    cache.Cache
	pipeline *pipeline.Pipeline
	mod      *moderation.Engine
	log      *logger.Logger

	interval      time.Duration
	keepDays      int
	trendingLimit int
	dbPath        string

	now          func() time.Time
	lastSnapshot time.Time

	done chan struct{}
	wg   sync.WaitGroup
}

// New builds a scheduler. interval is the sweep period; keepDays bounds
// notification retention.
func New(db *sqlx.DB, c cache.Cache, p *pipeline.Pipeline, mod *moderation.Engine, interval time.Duration, keepDays, trendingLimit int, dbPath string, log *logger.Logger) *Scheduler {
	return &Scheduler{
		db:            db,
		cache:         c,
		pipeline:      p,
		mod:           mod,
		log:           log,
		interval:      interval,
		keepDays:      keepDays,
		trendingLimit: trendingLimit,
		dbPath:        dbPath,
		now:           time.Now,
		done:          make(chan struct{}),
	}
}

// SetClock overrides the scheduler's clock. Used by tests.
func (s *Scheduler) SetClock(now func() time.Time) {
	s.now = now
}

// Start launches the sweep loop.
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		s.log.Infow("scheduler started", "interval", s.interval)
		for {
			select {
			case <-s.done:
				s.log.Infow("scheduler stopped")
				return
			case <-ticker.C:
				s.RunTick(s.now())
			}
		}
	}()
}

// Stop shuts the loop down and waits for the current tick to finish.
func (s *Scheduler) Stop() {
	close(s.done)
	s.wg.Wait()
}

// RunTick executes one sweep. Every task runs even when another fails;
// a panic in one task is contained and logged, and the next tick is the
// only retry.
func (s *Scheduler) RunTick(now time.Time) {
	s.runTask("release_scheduled", func() { s.pipeline.ReleaseScheduled(now) })
	s.runTask("delete_expired", func() { s.pipeline.DeleteExpired(now) })
	s.runTask("close_polls", func() { s.pipeline.CloseExpiredPolls(now) })
	s.runTask("lift_bans_mutes", func() { s.mod.ReconcileExpired(now) })
	s.runTask("purge_notifications", func() { s.purgeNotifications(now) })
	s.runTask("recompute_trending", func() { s.recomputeTrending(now) })

	if now.Sub(s.lastSnapshot) >= time.Hour {
		s.lastSnapshot = now
		s.runTask("status_snapshot", s.logSnapshot)
	}
}

func (s *Scheduler) runTask(name string, task func()) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Errorw("sweep task panicked", "task", name, "panic", r)
		}
	}()
	task()
}

func (s *Scheduler) purgeNotifications(now time.Time) {
	cutoff := now.AddDate(0, 0, -s.keepDays)
	purged, err := store.PurgeNotificationsBefore(s.db, cutoff)
	if err != nil {
		s.log.Errorw("failed to purge stale notifications", "err", err)
		return
	}
	if purged > 0 {
		s.log.Infow("stale notifications purged", "count", purged, "cutoff", cutoff)
	}
}

func (s *Scheduler) logSnapshot() {
	snap, err := status.Collect(s.dbPath)
	if err != nil {
		s.log.Errorw("failed to collect status snapshot", "err", err)
		return
	}
	s.log.Infow("host snapshot",
		"hostname", snap.Hostname,
		"cpu_percent", snap.CPUPercent,
		"mem_percent", snap.MemPercent,
		"goroutines", snap.Goroutines,
		"db_size_bytes", snap.DBSizeBytes,
	)
}

// trendingWindows maps window names to their rolling span.
var trendingWindows = map[string]time.Duration{
	model.WindowDay:   24 * time.Hour,
	model.WindowWeek:  7 * 24 * time.Hour,
	model.WindowMonth: 30 * 24 * time.Hour,
}

// recomputeTrending rebuilds the cached ranking for every window. The
// windows are fanned out with a bounded number of workers.
func (s *Scheduler) recomputeTrending(now time.Time) {
	sem := make(chan struct{}, 2)
	var wg sync.WaitGroup
	for window, span := range trendingWindows {
		wg.Add(1)
		sem <- struct{}{}
		go func(window string, span time.Duration) {
			defer wg.Done()
			defer func() { <-sem }()
			if err := s.rankWindow(window, now.Add(-span)); err != nil {
				s.log.Errorw("failed to recompute trending", "window", window, "err", err)
			}
		}(window, span)
	}
	wg.Wait()
}

func (s *Scheduler) rankWindow(window string, since time.Time) error {
	videos, err := store.ListVideosSince(s.db, since)
	if err != nil {
		return err
	}

	entries := make([]model.TrendingEntry, 0, len(videos))
	for i := range videos {
		entries = append(entries, model.TrendingEntry{
			VideoID: videos[i].ID,
			Title:   videos[i].Title,
			Score:   videos[i].TrendingScore(),
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		return entries[i].VideoID < entries[j].VideoID
	})
	if len(entries) > s.trendingLimit {
		entries = entries[:s.trendingLimit]
	}

	raw, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	s.cache.Set(cache.TrendingKey(window), string(raw))
	return nil
}

// Trending returns the cached ranking for a window, or nil when it has
// not been computed yet.
func (s *Scheduler) Trending(window string) []model.TrendingEntry {
	raw, ok := s.cache.Get(cache.TrendingKey(window))
	if !ok {
		return nil
	}
	var entries []model.TrendingEntry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		s.log.Errorw("corrupt trending cache", "window", window, "err", err)
		return nil
	}
	return entries
}
