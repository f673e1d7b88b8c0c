package kv

import (
	"container/list"
	"sync"
	"time"

	"github.com/ryandielhenn/mipsync/internal/clock"
)

type entry[V any] struct {
	key      string
	value    V
	expireAt time.Time
}

// Store is a small in-memory map with per-entry TTL and LRU eviction once
// more than capacity entries are held.
type Store[V any] struct {
	mu    sync.Mutex
	data  map[string]*list.Element
	ll    *list.List
	cap   int
	clock clock.Clock
}

// New returns a Store holding at most capacity entries. A nil clock uses the
// system clock.
func New[V any](capacity int, clk clock.Clock) *Store[V] {
	if capacity <= 0 {
		capacity = 1
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &Store[V]{
		data:  make(map[string]*list.Element),
		ll:    list.New(),
		cap:   capacity,
		clock: clk,
	}
}

// PutIfAbsent stores val unless a live entry exists and reports whether it
// stored. ttl <= 0 means the entry never expires.
func (s *Store[V]) PutIfAbsent(key string, val V, ttl time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.getLocked(key); ok {
		return false
	}
	s.putLocked(key, val, ttl)
	return true
}

func (s *Store[V]) put(key string, val V, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putLocked(key, val, ttl)
}

func (s *Store[V]) putLocked(key string, val V, ttl time.Duration) {
	var exp time.Time
	if ttl > 0 {
		exp = s.clock.Now().Add(ttl)
	}

	if el, ok := s.data[key]; ok {
		e := el.Value.(*entry[V])
		e.value = val
		e.expireAt = exp
		s.ll.MoveToFront(el)
		return
	}
	s.data[key] = s.ll.PushFront(&entry[V]{key: key, value: val, expireAt: exp})
	for s.ll.Len() > s.cap {
		s.removeElement(s.ll.Back())
	}
}

func (s *Store[V]) get(key string) (V, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(key)
}

func (s *Store[V]) getLocked(key string) (V, bool) {
	var zero V
	el, ok := s.data[key]
	if !ok {
		return zero, false
	}
	e := el.Value.(*entry[V])
	if s.expired(e) {
		s.removeElement(el)
		return zero, false
	}
	s.ll.MoveToFront(el)
	return e.value, true
}

func (s *Store[V]) remove(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	el, ok := s.data[key]
	if ok {
		s.removeElement(el)
	}
	return ok
}

// size counts entries, including expired ones not yet touched.
func (s *Store[V]) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data)
}

func (s *Store[V]) expired(e *entry[V]) bool {
	return !e.expireAt.IsZero() && !s.clock.Now().Before(e.expireAt)
}

func (s *Store[V]) removeElement(el *list.Element) {
	e := el.Value.(*entry[V])
	delete(s.data, e.key)
	s.ll.Remove(el)
}
