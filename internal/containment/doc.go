// Package containment keeps failures from spreading into the visible context.
//
// Three layers work independently and may be active at the same time:
//
//   - Breaker counts failures in a rolling window. Above the threshold it
//     opens for a cooldown, during which the owner suspends periodic work.
//   - Recovery is entered on a single critical failure. While it is active
//     the owner serves the anonymous fallback and rejects mutations; after a
//     fixed dwell it exits and the owner tries one ordinary refresh.
//   - Strategy bounds how often one operation is retried: a fixed number of
//     attempts, a cooldown between attempts, counters reset on success.
//
// Recovery has no escalation when it is entered again right after an exit.
// Such re-entries are counted and logged as "recovery_reentry".
package containment
