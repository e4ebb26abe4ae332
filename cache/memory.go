package cache

import (
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

type entryKind int

const (
	kindString entryKind = iota
	kindList
	kindSet
)

type entry struct {
	kind      entryKind
	value     string
	list      []string
	set       map[string]struct{}
	expiresAt time.Time // zero = no expiry
}

func (e *entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// Memory is the process-local Cache implementation. Expired entries are
// dropped lazily on access and by a janitor goroutine, so readers never
// observe a stale key even if the janitor is behind.
type Memory struct {
	mu      sync.Mutex
	entries map[string]*entry
	now     func() time.Time
	done    chan struct{}
	once    sync.Once
}

// NewMemory creates a memory cache with a janitor sweeping once a second.
func NewMemory() *Memory {
	m := &Memory{
		entries: make(map[string]*entry),
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go m.janitor()
	return m
}

// NewMemoryWithClock creates a cache without a janitor, driven by the
// given clock. Used by tests.
func NewMemoryWithClock(now func() time.Time) *Memory {
	return &Memory{
		entries: make(map[string]*entry),
		now:     now,
		done:    make(chan struct{}),
	}
}

// Close stops the janitor.
func (m *Memory) Close() {
	m.once.Do(func() { close(m.done) })
}

func (m *Memory) janitor() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.sweep()
		case <-m.done:
			return
		}
	}
}

func (m *Memory) sweep() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for key, e := range m.entries {
		if e.expired(now) {
			delete(m.entries, key)
		}
	}
}

// live returns the entry for key, dropping it first if expired.
func (m *Memory) live(key string) (*entry, bool) {
	e, ok := m.entries[key]
	if !ok {
		return nil, false
	}
	if e.expired(m.now()) {
		delete(m.entries, key)
		return nil, false
	}
	return e, true
}

func (m *Memory) Get(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.live(key)
	if !ok || e.kind != kindString {
		return "", false
	}
	return e.value, true
}

func (m *Memory) Set(key, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = &entry{kind: kindString, value: value}
}

func (m *Memory) SetWithTTL(key, value string, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = &entry{kind: kindString, value: value, expiresAt: m.now().Add(ttl)}
}

func (m *Memory) Delete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
}

func (m *Memory) Increment(key string, delta int64) int64 {
	return m.IncrementWithTTL(key, delta, 0)
}

func (m *Memory) IncrementWithTTL(key string, delta int64, ttl time.Duration) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.live(key)
	if !ok {
		e = &entry{kind: kindString, value: "0"}
		if ttl > 0 {
			e.expiresAt = m.now().Add(ttl)
		}
		m.entries[key] = e
	}
	current, _ := strconv.ParseInt(e.value, 10, 64)
	current += delta
	e.value = strconv.FormatInt(current, 10)
	return current
}

func (m *Memory) ListAppend(key string, values ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.live(key)
	if !ok || e.kind != kindList {
		e = &entry{kind: kindList}
		m.entries[key] = e
	}
	e.list = append(e.list, values...)
}

// ListRange returns elements [start, stop]; a negative stop means "to
// the end", matching the usual list-range convention.
func (m *Memory) ListRange(key string, start, stop int) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.live(key)
	if !ok || e.kind != kindList {
		return nil
	}
	n := len(e.list)
	if start < 0 {
		start = 0
	}
	if stop < 0 || stop >= n {
		stop = n - 1
	}
	if start > stop {
		return nil
	}
	out := make([]string, stop-start+1)
	copy(out, e.list[start:stop+1])
	return out
}

// ListTrim keeps only the most recent max elements.
func (m *Memory) ListTrim(key string, max int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.live(key)
	if !ok || e.kind != kindList {
		return
	}
	if len(e.list) > max {
		e.list = append([]string(nil), e.list[len(e.list)-max:]...)
	}
}

func (m *Memory) SetAdd(key, member string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.live(key)
	if !ok || e.kind != kindSet {
		e = &entry{kind: kindSet, set: make(map[string]struct{})}
		m.entries[key] = e
	}
	e.set[member] = struct{}{}
}

func (m *Memory) SetRemove(key, member string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.live(key)
	if !ok || e.kind != kindSet {
		return
	}
	delete(e.set, member)
	if len(e.set) == 0 {
		delete(m.entries, key)
	}
}

func (m *Memory) SetMembers(key string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.live(key)
	if !ok || e.kind != kindSet {
		return nil
	}
	members := make([]string, 0, len(e.set))
	for member := range e.set {
		members = append(members, member)
	}
	sort.Strings(members)
	return members
}

func (m *Memory) Keys(prefix string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	var keys []string
	for key, e := range m.entries {
		if e.expired(now) {
			delete(m.entries, key)
			continue
		}
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}

func (m *Memory) TTL(key string) (time.Duration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.live(key)
	if !ok || e.expiresAt.IsZero() {
		return 0, false
	}
	return e.expiresAt.Sub(m.now()), true
}
