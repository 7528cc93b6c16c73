package core

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// Turn is one completed question/answer exchange.
type Turn struct {
	Question string
	Answer   string
	At       time.Time
}

// ConversationHistory is the ordered memory of one session. Exchanges on the
// same session are serialized with Acquire/Release.
type ConversationHistory struct {
	id    string
	slot  chan struct{}
	mu    sync.RWMutex
	turns []Turn
}

func newConversationHistory(id string) *ConversationHistory {
	return &ConversationHistory{id: id, slot: make(chan struct{}, 1)}
}

func (h *ConversationHistory) ID() string { return h.id }

// Acquire takes the session's single-writer slot, waiting until it is free
// or ctx is done.
func (h *ConversationHistory) Acquire(ctx context.Context) error {
	select {
	case h.slot <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// busy reports whether an exchange currently holds the slot.
func (h *ConversationHistory) busy() bool { return len(h.slot) == 1 }

func (h *ConversationHistory) Release() {
	select {
	case <-h.slot:
	default:
	}
}

func (h *ConversationHistory) Append(question, answer string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.turns = append(h.turns, Turn{Question: question, Answer: answer, At: time.Now().UTC()})
}

// Turns returns a copy of all turns in submission order.
func (h *ConversationHistory) Turns() []Turn {
	return h.Recent(0)
}

// Recent returns a copy of the last n turns, or all of them when n <= 0.
func (h *ConversationHistory) Recent(n int) []Turn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	start := 0
	if n > 0 && len(h.turns) > n {
		start = len(h.turns) - n
	}
	out := make([]Turn, len(h.turns)-start)
	copy(out, h.turns[start:])
	return out
}

func (h *ConversationHistory) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.turns)
}

// Eviction reasons passed to the eviction callback.
const (
	EvictCapacity = "capacity"
	EvictIdle     = "idle"
)

type sessionEntry struct {
	history  *ConversationHistory
	lastSeen time.Time
}

// SessionStore maps session ids to histories. All map access goes through
// one mutex so concurrent first contact creates exactly one history. Sessions
// are evicted least-recently-used beyond capacity and after idleTTL without
// access; eviction happens lazily on access. A session with an exchange in
// flight is never evicted, so the store may briefly exceed capacity.
type SessionStore struct {
	mu       sync.Mutex
	capacity int
	idleTTL  time.Duration
	items    map[string]*list.Element
	lru      *list.List
	now      func() time.Time
	onEvict  func(id, reason string)
}

type SessionOption func(*SessionStore)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) SessionOption {
	return func(s *SessionStore) { s.now = now }
}

// WithEvictionHook registers fn to be called, under the store lock, for every
// evicted session.
func WithEvictionHook(fn func(id, reason string)) SessionOption {
	return func(s *SessionStore) { s.onEvict = fn }
}

// NewSessionStore creates a store. A capacity or idleTTL of zero disables
// that bound.
func NewSessionStore(capacity int, idleTTL time.Duration, opts ...SessionOption) *SessionStore {
	s := &SessionStore{
		capacity: capacity,
		idleTTL:  idleTTL,
		items:    make(map[string]*list.Element),
		lru:      list.New(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetOrCreate returns the history for id, creating it on first use.
func (s *SessionStore) GetOrCreate(id string) *ConversationHistory {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.evictIdleLocked(now)

	if elem, ok := s.items[id]; ok {
		entry := elem.Value.(*sessionEntry)
		entry.lastSeen = now
		s.lru.MoveToFront(elem)
		return entry.history
	}

	entry := &sessionEntry{history: newConversationHistory(id), lastSeen: now}
	elem := s.lru.PushFront(entry)
	s.items[id] = elem
	s.evictOverCapacityLocked(elem)
	return entry.history
}

// Clear drops the history for id. Unknown ids are ignored.
func (s *SessionStore) Clear(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if elem, ok := s.items[id]; ok {
		s.lru.Remove(elem)
		delete(s.items, id)
	}
}

// Count returns the number of live sessions.
func (s *SessionStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evictIdleLocked(s.now())
	return s.lru.Len()
}

// evictOverCapacityLocked removes the least recently used idle sessions until
// the store fits its capacity. keep is the session being created.
func (s *SessionStore) evictOverCapacityLocked(keep *list.Element) {
	if s.capacity <= 0 {
		return
	}
	for elem := s.lru.Back(); elem != nil && s.lru.Len() > s.capacity; {
		prev := elem.Prev()
		if elem != keep && !elem.Value.(*sessionEntry).history.busy() {
			s.removeLocked(elem, EvictCapacity)
		}
		elem = prev
	}
}

// evictIdleLocked walks from the LRU tail, which is always the least recently
// seen session, and stops at the first one still within idleTTL.
func (s *SessionStore) evictIdleLocked(now time.Time) {
	if s.idleTTL <= 0 {
		return
	}
	for elem := s.lru.Back(); elem != nil; {
		entry := elem.Value.(*sessionEntry)
		if now.Sub(entry.lastSeen) < s.idleTTL {
			return
		}
		prev := elem.Prev()
		if !entry.history.busy() {
			s.removeLocked(elem, EvictIdle)
		}
		elem = prev
	}
}

func (s *SessionStore) removeLocked(elem *list.Element, reason string) {
	entry := elem.Value.(*sessionEntry)
	s.lru.Remove(elem)
	delete(s.items, entry.history.id)
	if s.onEvict != nil {
		s.onEvict(entry.history.id, reason)
	}
}
