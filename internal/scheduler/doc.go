// Package scheduler implements the engine's single cooperative scheduler.
//
// Every deferred piece of work in the engine goes through one Scheduler:
// debounce timers, broadcast batches, rollback timers, breaker cooldowns,
// recovery dwell, session polling and completions of collaborator calls.
// Tasks run one at a time, in deterministic order, on whichever goroutine
// drives the scheduler:
//
//   - production: Run(ctx) on exactly one goroutine
//   - tests: RunPending() after moving a fake clock
//
// Ordering:
//   - posted tasks run FIFO, before timers due at the same tick
//   - timers run by deadline, ties broken by creation order
//   - work scheduled by a running task is picked up in the same RunPending
//     call if it is already due
//
// Teardown: Close cancels every timer and drops posted work, so nothing the
// engine armed can fire after shutdown.
package scheduler
