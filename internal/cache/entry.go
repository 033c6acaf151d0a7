package cache

import "time"

// Entry wraps a cached value with its bookkeeping.
type Entry[V any] struct {
	Key         string
	Value       V
	CreatedAt   time.Time
	LastAccess  time.Time
	AccessCount int64
	Size        int64

	// Fingerprint names the context that owns the entry. Empty means the
	// entry is visible in every scope.
	Fingerprint string
}

// EvictReason says why an entry left the store.
type EvictReason string

const (
	ReasonCapacity EvictReason = "capacity"
	ReasonMemory   EvictReason = "memory"
	ReasonExpired  EvictReason = "expired"
	ReasonScope    EvictReason = "scope"
	ReasonReplaced EvictReason = "replaced"
	ReasonDeleted  EvictReason = "deleted"
)

// Metrics receives cache events. Implementations must be cheap; they run
// under the store lock.
type Metrics interface {
	Hit()
	Miss()
	Eviction(reason EvictReason)
}

// NoopMetrics discards every event.
type NoopMetrics struct{}

func (NoopMetrics) Hit()                 {}
func (NoopMetrics) Miss()                {}
func (NoopMetrics) Eviction(EvictReason) {}

// Stats is a point-in-time view of store counters.
type Stats struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
	Entries   int   `json:"entries"`
	Bytes     int64 `json:"bytes"`
}
