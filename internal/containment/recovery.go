package containment

import (
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/usersync/internal/clock"
	"github.com/roach88/usersync/internal/scheduler"
)

// DefaultRecoveryDwell is how long recovery mode lasts before the exit
// attempt.
const DefaultRecoveryDwell = 60 * time.Second

// Mode is the recovery state.
type Mode string

const (
	ModeNormal     Mode = "normal"
	ModeRecovering Mode = "recovering"
)

// RecoveryConfig tunes a Recovery.
type RecoveryConfig struct {
	Dwell time.Duration

	// OnEnter runs on every entry, after the state has switched.
	OnEnter func(cause error)

	// OnExit runs when the dwell elapses, after the state has switched
	// back to normal. The owner typically starts one refresh here and calls
	// Enter again if it fails.
	OnExit func()
}

// Recovery is the normal -> recovering -> normal state machine.
type Recovery struct {
	sched  *scheduler.Scheduler
	clock  clock.Clock
	cfg    RecoveryConfig
	logger *slog.Logger

	mu        sync.Mutex
	mode      Mode
	enteredAt time.Time
	exitedAt  time.Time
	timer     scheduler.Handle
	entries   int
	reentries int
	lastCause error
}

// NewRecovery creates a Recovery in normal mode.
func NewRecovery(sched *scheduler.Scheduler, c clock.Clock, cfg RecoveryConfig, logger *slog.Logger) *Recovery {
	if cfg.Dwell <= 0 {
		cfg.Dwell = DefaultRecoveryDwell
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Recovery{sched: sched, clock: c, cfg: cfg, logger: logger, mode: ModeNormal}
}

// Enter switches to recovering and arms the dwell timer. It returns false
// if recovery was already active; the running dwell is left alone.
func (r *Recovery) Enter(cause error) bool {
	r.mu.Lock()
	if r.mode == ModeRecovering {
		r.mu.Unlock()
		return false
	}
	now := r.clock.Now()
	reentry := !r.exitedAt.IsZero() && now.Sub(r.exitedAt) < r.cfg.Dwell
	r.mode = ModeRecovering
	r.enteredAt = now
	r.entries++
	if reentry {
		r.reentries++
	}
	r.lastCause = cause
	r.timer = r.sched.After(r.cfg.Dwell, "containment.recovery.dwell", r.exit)
	entries, reentries := r.entries, r.reentries
	onEnter := r.cfg.OnEnter
	r.mu.Unlock()

	if reentry {
		r.logger.Warn("recovery mode re-entered within one dwell of the last exit",
			"event", "recovery_reentry",
			"reentries", reentries,
			"cause", cause)
	}
	r.logger.Error("entering recovery mode",
		"event", "recovery_enter",
		"entries", entries,
		"dwell", r.cfg.Dwell,
		"cause", cause)
	if onEnter != nil {
		onEnter(cause)
	}
	return true
}

func (r *Recovery) exit() {
	r.mu.Lock()
	if r.mode != ModeRecovering {
		r.mu.Unlock()
		return
	}
	r.mode = ModeNormal
	r.exitedAt = r.clock.Now()
	r.timer = 0
	onExit := r.cfg.OnExit
	r.mu.Unlock()

	r.logger.Info("leaving recovery mode",
		"event", "recovery_exit")
	if onExit != nil {
		onExit()
	}
}

// Active reports whether recovery mode is on.
func (r *Recovery) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mode == ModeRecovering
}

// Mode returns the current state.
func (r *Recovery) Mode() Mode {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mode
}

// Entries returns how many times recovery was entered.
func (r *Recovery) Entries() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entries
}

// Reentries returns how many entries happened within one dwell of the
// previous exit.
func (r *Recovery) Reentries() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reentries
}

// LastCause returns the cause of the latest entry.
func (r *Recovery) LastCause() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastCause
}

// Close cancels the dwell timer and returns to normal without running
// OnExit.
func (r *Recovery) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.timer != 0 {
		r.sched.Cancel(r.timer)
		r.timer = 0
	}
	r.mode = ModeNormal
}
