// Package notify turns queued notification payloads into durable rows,
// honoring each user's preference flags. Delivery to devices is external;
// this worker only decides and records.
package notify

import (
	"encoding/json"
	"sync"
	"time"

	"chat-core/logger"
	"chat-core/model"
	"chat-core/store"

	"github.com/jmoiron/sqlx"
)

// Item is one queued notification.
type Item struct {
	Kind    string
	Payload model.NotificationPayload
}

// MemoryQueue is an in-process bounded queue. Enqueue never blocks a
// producer; when the queue is full the item is dropped and counted.
type MemoryQueue struct {
	ch      chan Item
	mu      sync.Mutex
	dropped int64
	log     *logger.Logger
}

// NewMemoryQueue builds a queue holding up to size pending items.
func NewMemoryQueue(size int, log *logger.Logger) *MemoryQueue {
	return &MemoryQueue{ch: make(chan Item, size), log: log}
}

// Enqueue adds an item, dropping it when the queue is full.
func (q *MemoryQueue) Enqueue(kind string, payload model.NotificationPayload) {
	select {
	case q.ch <- Item{Kind: kind, Payload: payload}:
	default:
		q.mu.Lock()
		q.dropped++
		q.mu.Unlock()
		q.log.Warnw("notification queue full, item dropped", "kind", kind, "user", payload.UserID)
	}
}

// Dropped reports how many items were lost to a full queue.
func (q *MemoryQueue) Dropped() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Worker drains a MemoryQueue into the durable store.
type Worker struct {
	db    *sqlx.DB
	queue *MemoryQueue
	log   *logger.Logger
}

// NewWorker builds a worker over the given queue.
func NewWorker(db *sqlx.DB, queue *MemoryQueue, log *logger.Logger) *Worker {
	return &Worker{db: db, queue: queue, log: log}
}

// Run consumes the queue until done closes. Call in a goroutine; the
// WaitGroup is released on exit.
func (w *Worker) Run(done <-chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()
	w.log.Infow("notification worker started")
	for {
		select {
		case <-done:
			w.drain()
			w.log.Infow("notification worker stopped")
			return
		case item := <-w.queue.ch:
			w.Process(item)
		}
	}
}

// drain processes whatever is still buffered at shutdown.
func (w *Worker) drain() {
	for {
		select {
		case item := <-w.queue.ch:
			w.Process(item)
		default:
			return
		}
	}
}

// Process applies the preference gate and writes the durable row. The
// producer-supplied id makes redelivery idempotent.
func (w *Worker) Process(item Item) {
	prefs, err := store.GetNotificationPrefs(w.db, item.Payload.UserID)
	if err != nil {
		w.log.Errorw("failed to load notification prefs", "user", item.Payload.UserID, "err", err)
		return
	}
	if suppressed(item.Kind, prefs) {
		return
	}

	raw, err := json.Marshal(item.Payload)
	if err != nil {
		w.log.Errorw("failed to encode notification payload", "id", item.Payload.ID, "err", err)
		return
	}
	createdAt := item.Payload.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	err = store.InsertNotification(w.db, &model.Notification{
		ID:        item.Payload.ID,
		UserID:    item.Payload.UserID,
		Kind:      item.Kind,
		Payload:   string(raw),
		CreatedAt: createdAt,
	})
	if err != nil {
		w.log.Errorw("failed to insert notification", "id", item.Payload.ID, "err", err)
	}
}

// suppressed applies the per-user kind gate. Moderation notifications
// (ban, unban) are never suppressible.
func suppressed(kind string, prefs *model.NotificationPrefs) bool {
	switch kind {
	case model.NotifyMention:
		return !prefs.MentionsEnabled
	case model.NotifyReaction:
		return !prefs.ReactionsEnabled
	}
	return false
}
