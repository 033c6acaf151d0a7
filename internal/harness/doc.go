// Package harness runs scripted scenarios against the synchronization
// engine and checks what observers saw.
//
// # Scenario Format
//
// Scenarios are YAML files with the following structure:
//
//	name: login_then_subscribe
//	description: "A subscriber added after login gets the new context"
//	config:
//	  debounce_window_ms: 100
//	steps:
//	  - op: start
//	  - op: set_identity
//	    identity: { id: u-1, role: agent }
//	  - op: subscribe
//	    id: ui
//	  - op: advance
//	    ms: 100
//	assertions:
//	  - type: trace_count
//	    event: delivery
//	    subscriber: ui
//	    count: 1
//	  - type: final_context
//	    expect: { authenticated: true, role: agent }
//
// config takes the same millisecond keys as a config file and goes through
// the same schema. Every step may carry expect: <outcome>, where the outcome
// is "ok" or an error class such as "validation", "recovering" or
// "circuit_open".
//
// # Assertion Types
//
//   - trace_contains: an event of the given type (and subscriber) whose data
//     contains expect
//   - trace_count: exactly count events of the given type (and subscriber)
//   - transition_order: the engine's transition history, oldest first
//   - final_context: subset match against the final context summary
//   - final_stats: subset match against the final engine stats
//
// # Deterministic Execution
//
// Every scenario runs on a fake clock starting at a fixed instant, with
// sequential session and update ids, collaborator calls on the calling
// goroutine and a fresh in-memory SQLite store. Time only moves on advance
// steps, which fire every timer at its own deadline. Identical scenarios
// produce identical traces, byte for byte, which is what the golden files
// compare.
package harness
