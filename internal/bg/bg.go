// Package bg decides how collaborator calls leave the engine's thread.
//
// Production code runs them on goroutines (Async). Tests and the scenario
// harness run them inline (Sync) so every completion lands at a known point
// in the schedule.
package bg

// Runner executes functions, synchronously or not.
type Runner interface {
	Do(fn func())
}

// Async runs each function on a new goroutine.
type Async struct{}

// Do starts fn on a new goroutine.
func (Async) Do(fn func()) {
	go fn()
}

// Sync runs each function on the calling goroutine.
type Sync struct{}

// Do runs fn before returning.
func (Sync) Do(fn func()) {
	fn()
}
