// Package engine is the synchronization facade: the only API external code
// uses to read, observe and change the current user context.
//
// ARCHITECTURE:
//
// One cooperative scheduler owns every timer the engine arms (broadcast
// debounce and batches, optimistic rollbacks, breaker cooldown, recovery
// dwell, session polling, refresh retries). Subscriber callbacks only ever
// run inside scheduler tasks, never on the caller's goroutine and never with
// engine locks held. Hosts either call Run in one goroutine or step the
// engine themselves with RunPending and NextDeadline.
//
// Context Flow:
//  1. A raw identity arrives from the auth provider (Refresh) or is pushed
//     by an auth collaborator (SetIdentity).
//  2. The engine derives the full context: role capabilities, session
//     metadata, preferences loaded from persistence or the context cache.
//  3. The context is validated and swapped in whole, stamped with the next
//     sequence number, and recorded in the context cache.
//  4. The change is classified into a transition and published to the
//     debounced broadcaster; transition subscribers are notified on the
//     next tick.
//  5. A best-effort snapshot is saved in the background.
//
// Mutations (preference changes, forced context replacements) go the other
// way through the optimistic update manager: applied at once, rolled back
// unless confirmed within the rollback timeout.
//
// FAILURE CONTAINMENT:
//
// No public operation panics. Every failure is classified (validation,
// subscriber, refresh, critical, persistence), logged, counted by the
// circuit breaker, and the caller gets the current, valid context back.
// Too many failures per window open the breaker, which suspends background
// work for the cooldown. A critical failure enters recovery mode, which
// serves the anonymous fallback until the dwell elapses and one refresh
// succeeds.
package engine
