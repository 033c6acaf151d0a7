// Package cache holds the context cache: the single current context value
// with its validity window, and a bounded store of recent context snapshots.
//
// # Store
//
// Store is a generic least-recently-used map with three admission rules:
//
//   - entries older than the TTL are absent on Get, even before Sweep
//     physically removes them
//   - with scoping enabled, entries stamped with a fingerprint other than
//     the active scope are absent on Get
//   - Set makes room before inserting: under memory pressure the bottom
//     quartile by (access count, last access) goes first; at the entry
//     ceiling the least recently used entry goes
//
// Sizes are estimates supplied by a caller function. They drive the memory
// ceiling only and need not be exact.
//
// # Current
//
// Current holds the one value every observer reads, together with the time
// it was set, so callers can tell a fresh value from a stale one.
package cache
