// Package clock abstracts wall-clock time so that every timing rule in the
// engine (debounce windows, rollback timeouts, session expiry, breaker
// cooldowns, recovery dwell) can be exercised deterministically.
//
// Production code receives Real(). Tests receive a Fake whose time only
// moves when Advance or Set is called:
//
//	clk := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	eng, _ := engine.New(cfg, engine.Deps{Clock: clk, ...})
//	clk.Advance(100 * time.Millisecond)
//	eng.RunPending()
//
// Only Now and After are needed: all timers live in the engine's
// cooperative scheduler, which reads Now and sleeps on After.
package clock
