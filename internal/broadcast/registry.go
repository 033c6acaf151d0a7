package broadcast

import (
	"slices"
	"sync"
	"sync/atomic"
)

// Subscription is one registered observer. The handle stays valid after
// cancellation; Active reports whether it is still registered.
type Subscription[F any] struct {
	ID string
	Fn F

	reg      *Registry[F]
	removed  atomic.Bool
	lastSeq  atomic.Uint64
	failures atomic.Int64
}

// Cancel unregisters the subscription. Safe to call more than once and from
// any goroutine.
func (s *Subscription[F]) Cancel() {
	s.reg.remove(s)
}

// Active reports whether the subscription is still registered.
func (s *Subscription[F]) Active() bool {
	return !s.removed.Load()
}

// Failures returns the number of consecutive failed deliveries.
func (s *Subscription[F]) Failures() int64 {
	return s.failures.Load()
}

// claim records seq as delivered to s. It returns false when s already saw seq or a
// newer value.
func (s *Subscription[F]) claim(seq uint64) bool {
	for {
		last := s.lastSeq.Load()
		if seq != 0 && last >= seq {
			return false
		}
		if s.lastSeq.CompareAndSwap(last, seq) {
			return true
		}
	}
}

// Registry is an ordered set of subscriptions keyed by id. Subscribing an id
// that is already registered replaces the old callback in place, keeping its
// position in delivery order.
type Registry[F any] struct {
	mu    sync.Mutex
	order []*Subscription[F]
}

// NewRegistry creates an empty registry.
func NewRegistry[F any]() *Registry[F] {
	return &Registry[F]{}
}

// Add registers fn under id and returns its handle.
func (r *Registry[F]) Add(id string, fn F) *Subscription[F] {
	sub := &Subscription[F]{ID: id, Fn: fn, reg: r}

	r.mu.Lock()
	defer r.mu.Unlock()
	for i, old := range r.order {
		if old.ID == id {
			old.removed.Store(true)
			r.order[i] = sub
			return sub
		}
	}
	r.order = append(r.order, sub)
	return sub
}

func (r *Registry[F]) remove(s *Subscription[F]) {
	if !s.removed.CompareAndSwap(false, true) {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if i := slices.Index(r.order, s); i >= 0 {
		r.order = slices.Delete(r.order, i, i+1)
	}
}

// Get returns the active subscription under id.
func (r *Registry[F]) Get(id string) (*Subscription[F], bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.order {
		if s.ID == id {
			return s, true
		}
	}
	return nil, false
}

// Snapshot returns the subscriptions in registration order.
func (r *Registry[F]) Snapshot() []*Subscription[F] {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.order)
}

// IDs returns the registered ids in registration order.
func (r *Registry[F]) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, len(r.order))
	for i, s := range r.order {
		ids[i] = s.ID
	}
	return ids
}

// Len returns the number of registered subscriptions.
func (r *Registry[F]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.order)
}

// Clear unregisters everything.
func (r *Registry[F]) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.order {
		s.removed.Store(true)
	}
	r.order = nil
}
