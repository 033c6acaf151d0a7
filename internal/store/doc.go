// Package store provides SQLite-backed local persistence for the engine.
//
// Two tables live in one database file:
//   - preferences: the last saved preferences per user id, as canonical JSON
//   - snapshots: best-effort copies of the applied context, as deterministic
//     CBOR, so a restarted process can show the last known context before
//     its first provider refresh completes
//
// Neither table is authoritative. Load failures are reported to the caller,
// who falls back to defaults.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Memory implements the same contracts in process memory, with failure
// injection for tests and the scenario harness.
package store
