package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Memory is the in_memory_lru_ttl backend: fixed capacity, LRU eviction of
// non-expired entries (ties broken by insertion order), lazy TTL expiry on
// access. No background sweeper.
type Memory struct {
	mu       sync.Mutex
	entries  map[string]*memEntry
	head     *memEntry // most recently used
	tail     *memEntry // least recently used
	capacity int
	ttl      time.Duration
	now      func() time.Time

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
}

type memEntry struct {
	key        string
	payload    string
	insertedAt time.Time
	expiresAt  time.Time
	prev, next *memEntry
}

func NewMemory(capacity int, ttl time.Duration) *Memory {
	if capacity <= 0 {
		capacity = 1024
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Memory{
		entries:  make(map[string]*memEntry, capacity),
		capacity: capacity,
		ttl:      ttl,
		now:      time.Now,
	}
}

func (m *Memory) Lookup(_ context.Context, key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		m.misses.Add(1)
		return "", false
	}
	if !m.now().Before(e.expiresAt) {
		// Expired entries count as misses and are removed lazily.
		m.remove(e)
		m.misses.Add(1)
		return "", false
	}
	m.hits.Add(1)
	m.moveToFront(e)
	return e.payload, true
}

func (m *Memory) Store(_ context.Context, key, payload string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.insert(key, payload)
}

func (m *Memory) Warm(pairs map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range pairs {
		m.insert(k, v)
	}
}

func (m *Memory) insert(key, payload string) {
	now := m.now()
	if e, ok := m.entries[key]; ok {
		e.payload = payload
		e.insertedAt = now
		e.expiresAt = now.Add(m.ttl)
		m.moveToFront(e)
		return
	}
	for len(m.entries) >= m.capacity {
		m.evictOne()
	}
	e := &memEntry{key: key, payload: payload, insertedAt: now, expiresAt: now.Add(m.ttl)}
	m.entries[key] = e
	m.pushFront(e)
}

// evictOne reclaims exactly one entry from the tail. An expired tail is
// reclaimed for free (not counted as an eviction); a live tail is an LRU
// eviction. The insert loop re-checks capacity between calls, so reclaiming
// an expired entry never costs a live one its slot.
func (m *Memory) evictOne() {
	e := m.tail
	if e == nil {
		return
	}
	m.remove(e)
	if m.now().Before(e.expiresAt) {
		m.evictions.Add(1)
	}
}

func (m *Memory) Inspect() Stats {
	m.mu.Lock()
	size := len(m.entries)
	m.mu.Unlock()
	return Stats{
		Size:      size,
		Hits:      m.hits.Load(),
		Misses:    m.misses.Load(),
		Evictions: m.evictions.Load(),
	}
}

func (m *Memory) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]*memEntry, m.capacity)
	m.head, m.tail = nil, nil
}

func (m *Memory) pushFront(e *memEntry) {
	e.prev = nil
	e.next = m.head
	if m.head != nil {
		m.head.prev = e
	}
	m.head = e
	if m.tail == nil {
		m.tail = e
	}
}

func (m *Memory) remove(e *memEntry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		m.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		m.tail = e.prev
	}
	e.prev, e.next = nil, nil
	delete(m.entries, e.key)
}

func (m *Memory) moveToFront(e *memEntry) {
	if m.head == e {
		return
	}
	if e.prev != nil {
		e.prev.next = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	}
	if m.tail == e {
		m.tail = e.prev
	}
	m.pushFront(e)
}
