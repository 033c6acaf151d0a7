// Package broadcast distributes context values to registered observers.
//
// # Debounce
//
// Publish does not deliver. It stores the value as pending and (re)arms a
// debounce timer, so a burst of publishes inside the debounce window ends in
// one delivery of the latest value. A burst is never held back longer than
// the maximum update interval: once the first pending publish is that old,
// the next publish flushes on the following tick.
//
// # Fan-out
//
// A flush delivers to subscribers in registration order, BatchSize at a
// time, with BatchDelay between batches. A newer flush cancels the remaining
// batches of an older one. Every value carries a sequence number and a
// subscriber never receives the same or an older sequence twice.
//
// Callbacks run inside scheduler tasks. A panicking callback is recovered,
// logged and counted against that subscriber; delivery to the rest goes on.
package broadcast
