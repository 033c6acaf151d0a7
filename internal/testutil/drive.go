package testutil

import (
	"time"

	"github.com/roach88/usersync/internal/clock"
)

// Pump is anything that runs due work and reports its next deadline. The
// scheduler and the engine both qualify.
type Pump interface {
	RunPending() int
	NextDeadline() (time.Time, bool)
}

// Drive advances clk by d, stopping at every deadline on the way so timers
// fire at their own instant and not all at the end. Work already due runs
// first.
func Drive(p Pump, clk *clock.Fake, d time.Duration) {
	end := clk.Now().Add(d)
	p.RunPending()
	for {
		next, ok := p.NextDeadline()
		if !ok || next.After(end) {
			break
		}
		clk.Set(next)
		p.RunPending()
	}
	clk.Set(end)
	p.RunPending()
}

