package transition

// DefaultHistorySize bounds the transition ring.
const DefaultHistorySize = 50

// History is a fixed-capacity ring of recent transitions. The oldest entry is
// overwritten first. Not safe for concurrent use; the engine guards it.
type History struct {
	buf   []Transition
	start int
	n     int
}

// NewHistory creates a ring holding at most capacity transitions. A
// non-positive capacity means DefaultHistorySize.
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultHistorySize
	}
	return &History{buf: make([]Transition, capacity)}
}

// Add records t, evicting the oldest entry when full.
func (h *History) Add(t Transition) {
	if h.n < len(h.buf) {
		h.buf[(h.start+h.n)%len(h.buf)] = t
		h.n++
		return
	}
	h.buf[h.start] = t
	h.start = (h.start + 1) % len(h.buf)
}

// Len returns the number of stored transitions.
func (h *History) Len() int { return h.n }

// Cap returns the ring capacity.
func (h *History) Cap() int { return len(h.buf) }

// All returns the stored transitions, oldest first.
func (h *History) All() []Transition {
	out := make([]Transition, h.n)
	for i := 0; i < h.n; i++ {
		out[i] = h.buf[(h.start+i)%len(h.buf)]
	}
	return out
}

// Last returns the most recent transition.
func (h *History) Last() (Transition, bool) {
	if h.n == 0 {
		return Transition{}, false
	}
	return h.buf[(h.start+h.n-1)%len(h.buf)], true
}

// Clear drops every entry.
func (h *History) Clear() {
	clear(h.buf)
	h.start, h.n = 0, 0
}
