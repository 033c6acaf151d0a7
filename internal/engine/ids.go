package engine

import (
	"sync/atomic"

	"github.com/google/uuid"
)

// IDGenerator issues optimistic update ids and session ids.
type IDGenerator interface {
	Generate() string
}

// UUIDv7Generator issues time-sortable UUIDv7 strings, so ids in logs sort
// by creation time. Panics if the random source fails.
type UUIDv7Generator struct{}

func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Sequence stamps every applied context with a strictly increasing number.
// Subscribers use it to drop values they have already seen, so an initial
// delivery and a later broadcast of the same context never arrive twice.
type Sequence struct {
	seq atomic.Uint64
}

// NewSequence creates a sequence whose first value is 1.
func NewSequence() *Sequence {
	return &Sequence{}
}

// Next increments and returns the new value.
func (s *Sequence) Next() uint64 {
	return s.seq.Add(1)
}

// Current returns the last issued value, 0 before the first Next.
func (s *Sequence) Current() uint64 {
	return s.seq.Load()
}
