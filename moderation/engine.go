// Package moderation evaluates content against forbidden-word and
// structural-pattern rules, enforces per-server policy, and owns the
// ban/mute lifecycle including its expiry reconciliation.
package moderation

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"chat-core/broadcast"
	"chat-core/cache"
	"chat-core/errs"
	"chat-core/logger"
	"chat-core/model"
	"chat-core/permissions"
	"chat-core/store"

	"github.com/jmoiron/sqlx"
)

// CheckResult is the outcome of a content scan.
type CheckResult struct {
	IsClean          bool     `json:"is_clean"`
	FoundWords       []string `json:"found_words,omitempty"`
	HasSensitiveData bool     `json:"has_sensitive_data"`
	SensitiveMatches []string `json:"sensitive_matches,omitempty"`
}

// WordListLoader supplies the global forbidden-word list. Injected so
// the list is reloadable without process state.
type WordListLoader func() ([]string, error)

// Engine holds the moderation state and collaborators.
type Engine struct {
	db       *sqlx.DB
	cache    cache.Cache
	bus      broadcast.Broadcaster
	resolver *permissions.Resolver
	queue    Enqueuer
	log      *logger.Logger
	now      func() time.Time

	loadWords WordListLoader
	mu        sync.RWMutex
	words     map[string]struct{}

	logMaxItems int
}

// Enqueuer is the slice of the notification queue the engine needs.
type Enqueuer interface {
	Enqueue(kind string, payload model.NotificationPayload)
}

// NewEngine builds an engine and performs the initial word-list load.
func NewEngine(db *sqlx.DB, c cache.Cache, bus broadcast.Broadcaster, resolver *permissions.Resolver, queue Enqueuer, loader WordListLoader, logMaxItems int, log *logger.Logger) (*Engine, error) {
	e := &Engine{
		db:          db,
		cache:       c,
		bus:         bus,
		resolver:    resolver,
		queue:       queue,
		log:         log,
		now:         time.Now,
		loadWords:   loader,
		logMaxItems: logMaxItems,
	}
	if err := e.Reload(); err != nil {
		return nil, err
	}
	return e, nil
}

// SetClock overrides the engine's clock. Used by tests.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// Reload re-reads the global forbidden-word list.
func (e *Engine) Reload() error {
	words, err := e.loadWords()
	if err != nil {
		return errs.Wrap(errs.CodeInternal, "failed to load word list", err)
	}
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[strings.ToLower(strings.TrimSpace(w))] = struct{}{}
	}
	e.mu.Lock()
	e.words = set
	e.mu.Unlock()
	e.log.Infow("word list loaded", "words", len(set))
	return nil
}

// AddCustomWords extends a server's own forbidden-word list.
func (e *Engine) AddCustomWords(serverID string, words ...string) {
	key := cache.CustomWordsKey(serverID)
	for _, w := range words {
		e.cache.SetAdd(key, strings.ToLower(strings.TrimSpace(w)))
	}
}

// RemoveCustomWords drops words from a server's custom list.
func (e *Engine) RemoveCustomWords(serverID string, words ...string) {
	key := cache.CustomWordsKey(serverID)
	for _, w := range words {
		e.cache.SetRemove(key, strings.ToLower(strings.TrimSpace(w)))
	}
}

// CustomWords returns a server's custom forbidden words.
func (e *Engine) CustomWords(serverID string) []string {
	return e.cache.SetMembers(cache.CustomWordsKey(serverID))
}

// CheckContent scans text against the global list, the server's custom
// list, and the structural patterns. IsClean requires all three to pass.
func (e *Engine) CheckContent(text, serverID string) CheckResult {
	result := CheckResult{IsClean: true}

	custom := make(map[string]struct{})
	if serverID != "" {
		for _, w := range e.cache.SetMembers(cache.CustomWordsKey(serverID)) {
			custom[w] = struct{}{}
		}
	}

	e.mu.RLock()
	seen := make(map[string]struct{})
	for _, token := range tokenize(text) {
		if _, dup := seen[token]; dup {
			continue
		}
		_, global := e.words[token]
		_, server := custom[token]
		if global || server {
			result.FoundWords = append(result.FoundWords, token)
			seen[token] = struct{}{}
		}
	}
	e.mu.RUnlock()

	result.SensitiveMatches = scanSensitive(text)
	result.HasSensitiveData = len(result.SensitiveMatches) > 0
	result.IsClean = len(result.FoundWords) == 0 && !result.HasSensitiveData
	return result
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9' || r == '\'')
	})
}

// EnforceContent applies a server's policy to text. It returns whether
// the caller should attach a content warning, and an error when the
// policy blocks persistence outright.
func (e *Engine) EnforceContent(serverID, authorID, text string) (warning bool, err error) {
	server, err := store.GetServerByID(e.db, serverID)
	if err != nil {
		return false, errs.Wrap(errs.CodeInternal, "failed to load server policy", err)
	}
	if server == nil {
		return false, errs.NotFound("server not found")
	}
	policy := server.ModerationPolicy
	if policy == model.PolicyOff {
		return false, nil
	}

	result := e.CheckContent(text, serverID)
	if result.IsClean {
		return false, nil
	}

	reason := "forbidden words: " + strings.Join(result.FoundWords, ", ")
	if result.HasSensitiveData {
		reason = "sensitive data: " + strings.Join(result.SensitiveMatches, ", ")
		if len(result.FoundWords) > 0 {
			reason += "; forbidden words: " + strings.Join(result.FoundWords, ", ")
		}
	}
	e.appendLog(serverID, model.ModerationLogEntry{
		Action:    "content_" + string(policy),
		UserID:    authorID,
		ActorID:   model.SystemActor,
		Reason:    reason,
		Timestamp: e.now().UTC(),
	})

	switch policy {
	case model.PolicyBlock:
		return false, errs.ModerationBlocked("message rejected by content policy")
	case model.PolicyWarn:
		return true, nil
	default: // log
		return false, nil
	}
}

// appendLog writes one entry to a server's append-only moderation log.
func (e *Engine) appendLog(serverID string, entry model.ModerationLogEntry) {
	raw, err := json.Marshal(entry)
	if err != nil {
		e.log.Errorw("failed to encode moderation log entry", "err", err)
		return
	}
	key := cache.ModerationLogKey(serverID)
	e.cache.ListAppend(key, string(raw))
	if e.logMaxItems > 0 {
		e.cache.ListTrim(key, e.logMaxItems)
	}
}

// Logs returns a server's moderation log entries, oldest first.
func (e *Engine) Logs(serverID string) []model.ModerationLogEntry {
	raw := e.cache.ListRange(cache.ModerationLogKey(serverID), 0, -1)
	entries := make([]model.ModerationLogEntry, 0, len(raw))
	for _, item := range raw {
		var entry model.ModerationLogEntry
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			e.log.Errorw("failed to decode moderation log entry", "err", err)
			continue
		}
		entries = append(entries, entry)
	}
	return entries
}
