package cache

import (
	"cmp"
	"slices"
	"sync"
	"time"

	"github.com/roach88/usersync/internal/clock"
)

// Default limits.
const (
	DefaultTTL        = 5 * time.Minute
	DefaultMaxEntries = 100
	DefaultMaxBytes   = 1 << 20
)

// Options configures a Store. Zero values select the defaults.
type Options[V any] struct {
	TTL        time.Duration
	MaxEntries int
	MaxBytes   int64

	// Scoped enables fingerprint scoping on Get.
	Scoped bool

	// Size estimates the footprint of a value. Nil counts every value as 1.
	Size func(V) int64

	// OnEvict is called for every entry that leaves the store, with the
	// store lock held. It must not call back into the store.
	OnEvict func(e Entry[V], reason EvictReason)

	Metrics Metrics
}

// Store is a bounded LRU map of context snapshots. Safe for concurrent use.
type Store[V any] struct {
	clock clock.Clock
	opts  Options[V]

	mu      sync.Mutex
	nodes   map[string]*lruNode[V]
	list    lruList[V]
	bytes   int64
	scope   string
	hits    int64
	misses  int64
	evicted int64
}

// NewStore creates an empty store.
func NewStore[V any](c clock.Clock, opts Options[V]) *Store[V] {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = DefaultMaxEntries
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = DefaultMaxBytes
	}
	if opts.Size == nil {
		opts.Size = func(V) int64 { return 1 }
	}
	if opts.Metrics == nil {
		opts.Metrics = NoopMetrics{}
	}
	return &Store[V]{
		clock: c,
		opts:  opts,
		nodes: make(map[string]*lruNode[V]),
	}
}

// SetScope sets the active context fingerprint used by scoped lookups.
func (s *Store[V]) SetScope(fingerprint string) {
	s.mu.Lock()
	s.scope = fingerprint
	s.mu.Unlock()
}

// Scope returns the active fingerprint.
func (s *Store[V]) Scope() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scope
}

// Get returns the value under key if it is present, younger than the TTL
// and, when scoping is on, owned by the active scope. A hit counts as an
// access and moves the entry to the front.
func (s *Store[V]) Get(key string) (V, bool) {
	return s.get(key, true)
}

// GetUnscoped is Get without the scope check. The TTL still applies. It
// serves reads that belong to an identity other than the active one, such
// as restoring the preferences of a user who is signing in again.
func (s *Store[V]) GetUnscoped(key string) (V, bool) {
	return s.get(key, false)
}

func (s *Store[V]) get(key string, scoped bool) (V, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var zero V
	n, ok := s.nodes[key]
	if !ok {
		s.miss()
		return zero, false
	}
	now := s.clock.Now()
	reason := s.absentLocked(n.entry, now)
	if reason == ReasonExpired || (scoped && reason != "") {
		s.miss()
		return zero, false
	}

	n.entry.AccessCount++
	n.entry.LastAccess = now
	s.list.moveToFront(n)
	s.hits++
	s.opts.Metrics.Hit()
	return n.entry.Value, true
}

// Peek returns the entry under key without counting an access. Logically
// absent entries are still returned; ok reports physical presence.
func (s *Store[V]) Peek(key string) (Entry[V], bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[key]
	if !ok {
		return Entry[V]{}, false
	}
	return n.entry, true
}

// Set inserts or replaces the value under key, stamped with fingerprint.
// Room is made before insertion, so the new entry is never its own victim.
func (s *Store[V]) Set(key string, value V, fingerprint string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	size := s.opts.Size(value)

	if old, ok := s.nodes[key]; ok {
		s.removeLocked(old, ReasonReplaced)
	}

	for len(s.nodes) > 0 && s.bytes+size > s.opts.MaxBytes {
		s.evictQuartileLocked()
	}
	for len(s.nodes) >= s.opts.MaxEntries {
		s.removeLocked(s.list.tail, ReasonCapacity)
	}

	n := &lruNode[V]{entry: Entry[V]{
		Key:         key,
		Value:       value,
		CreatedAt:   now,
		LastAccess:  now,
		Size:        size,
		Fingerprint: fingerprint,
	}}
	s.nodes[key] = n
	s.list.pushFront(n)
	s.bytes += size
}

// Delete removes key. Returns false if it was not present.
func (s *Store[V]) Delete(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[key]
	if !ok {
		return false
	}
	s.removeLocked(n, ReasonDeleted)
	return true
}

// Sweep physically removes every logically absent entry and returns how
// many went.
func (s *Store[V]) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	removed := 0
	for n := s.list.head; n != nil; {
		next := n.next
		if reason := s.absentLocked(n.entry, now); reason != "" {
			s.removeLocked(n, reason)
			removed++
		}
		n = next
	}
	return removed
}

// Clear drops every entry without invoking OnEvict.
func (s *Store[V]) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes = make(map[string]*lruNode[V])
	s.list = lruList[V]{}
	s.bytes = 0
}

// Len returns the number of physically present entries.
func (s *Store[V]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.nodes)
}

// Keys returns the keys from most to least recently used.
func (s *Store[V]) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.nodes))
	for n := s.list.head; n != nil; n = n.next {
		keys = append(keys, n.entry.Key)
	}
	return keys
}

// Stats returns the current counters.
func (s *Store[V]) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Hits:      s.hits,
		Misses:    s.misses,
		Evictions: s.evicted,
		Entries:   len(s.nodes),
		Bytes:     s.bytes,
	}
}

// absentLocked returns why e is logically absent, or "" if it is visible.
func (s *Store[V]) absentLocked(e Entry[V], now time.Time) EvictReason {
	if now.Sub(e.CreatedAt) > s.opts.TTL {
		return ReasonExpired
	}
	if s.opts.Scoped && e.Fingerprint != "" && e.Fingerprint != s.scope {
		return ReasonScope
	}
	return ""
}

func (s *Store[V]) miss() {
	s.misses++
	s.opts.Metrics.Miss()
}

// evictQuartileLocked removes the least used quarter of the store (at least
// one entry), ordered by access count, then last access, then key.
func (s *Store[V]) evictQuartileLocked() {
	victims := make([]*lruNode[V], 0, len(s.nodes))
	for n := s.list.head; n != nil; n = n.next {
		victims = append(victims, n)
	}
	slices.SortFunc(victims, func(a, b *lruNode[V]) int {
		if c := cmp.Compare(a.entry.AccessCount, b.entry.AccessCount); c != 0 {
			return c
		}
		if c := a.entry.LastAccess.Compare(b.entry.LastAccess); c != 0 {
			return c
		}
		return cmp.Compare(a.entry.Key, b.entry.Key)
	})

	count := max(1, len(victims)/4)
	for _, n := range victims[:count] {
		s.removeLocked(n, ReasonMemory)
	}
}

func (s *Store[V]) removeLocked(n *lruNode[V], reason EvictReason) {
	s.list.remove(n)
	delete(s.nodes, n.entry.Key)
	s.bytes -= n.entry.Size
	if reason != ReasonReplaced && reason != ReasonDeleted {
		s.evicted++
		s.opts.Metrics.Eviction(reason)
	}
	if s.opts.OnEvict != nil {
		s.opts.OnEvict(n.entry, reason)
	}
}
