// Package usercontext defines the value the engine distributes: who the
// current actor is, what they may do, how they like the interface to look,
// and the session they are in.
//
// A UserContext is always replaced wholesale. Observers receive clones, so a
// value handed out by the engine can never be used to mutate engine state.
//
// INVARIANTS (checked by Validate):
//   - Authenticated == false implies User == nil and Role == RoleNone
//   - Authenticated == true implies User != nil with a non-empty ID and a known role
//   - Capabilities == CapabilitiesFor(Role), always
//   - Preferences carry a canonical BCP 47 language tag and a known theme
package usercontext
