package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/usersync/internal/auth"
	"github.com/roach88/usersync/internal/bg"
	"github.com/roach88/usersync/internal/clock"
	"github.com/roach88/usersync/internal/config"
	"github.com/roach88/usersync/internal/containment"
	"github.com/roach88/usersync/internal/engine"
	"github.com/roach88/usersync/internal/optimistic"
	"github.com/roach88/usersync/internal/store"
	"github.com/roach88/usersync/internal/testutil"
	"github.com/roach88/usersync/internal/transition"
	"github.com/roach88/usersync/internal/usercontext"
)

// Epoch is the fake-clock instant every scenario starts at.
var Epoch = time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)

// Option configures a run.
type Option func(*runOptions)

type runOptions struct {
	logger *slog.Logger
}

// WithLogger routes engine logs to l. Default: discarded.
func WithLogger(l *slog.Logger) Option {
	return func(o *runOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// Harness drives one engine through one scenario.
type Harness struct {
	engine   *engine.Engine
	clock    *clock.Fake
	provider *auth.Static
	store    *faultyStore
	result   *Result

	labels map[string]string
	unsubs map[string][]engine.Unsubscribe
}

// Run executes scenario and returns the result.
//
// Each scenario gets a fresh engine over a fresh in-memory SQLite store.
// After the last step the harness runs whatever is already due, captures
// the final state and evaluates the assertions. Step expectations and
// assertion failures land in Result.Errors; the error return is reserved
// for scenarios that cannot run at all.
func Run(scenario *Scenario, opts ...Option) (*Result, error) {
	o := runOptions{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, opt := range opts {
		opt(&o)
	}

	cfg, err := scenarioConfig(scenario)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", scenario.Name, err)
	}

	clk := clock.NewFake(Epoch)
	st, err := store.Open(":memory:", store.WithNow(clk.Now))
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	h := &Harness{
		clock:    clk,
		provider: auth.NewStatic(scenario.Provider),
		store:    &faultyStore{Store: st},
		result:   NewResult(),
		labels:   make(map[string]string),
		unsubs:   make(map[string][]engine.Unsubscribe),
	}
	h.engine, err = engine.New(cfg, h.provider,
		engine.WithClock(h.clock),
		engine.WithIDGenerator(testutil.NewSequentialIDs("id")),
		engine.WithRunner(bg.Sync{}),
		engine.WithLogger(o.logger),
		engine.WithPreferenceStore(h.store),
		engine.WithSnapshotStore(h.store),
	)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", scenario.Name, err)
	}
	defer h.engine.Close()

	for i, step := range scenario.Steps {
		h.execute(i, step)
	}
	h.engine.RunPending()
	h.captureState()

	for _, msg := range EvaluateAssertions(h.result, scenario.Assertions) {
		h.result.AddError(msg)
	}
	return h.result, nil
}

func scenarioConfig(s *Scenario) (config.Config, error) {
	if len(s.Config) == 0 {
		return config.Default(), nil
	}
	data, err := yaml.Marshal(s.Config)
	if err != nil {
		return config.Config{}, fmt.Errorf("encode config: %w", err)
	}
	return config.Parse(data, config.FormatYAML, s.Name+" config")
}

// execute records the step, runs it and checks its expected outcome. The
// step event is appended first so callbacks it causes come after it.
func (h *Harness) execute(i int, step Step) {
	ev := TraceEvent{AtMS: h.now(), Type: EventStep, Op: step.Op, Data: stepData(step)}
	if subscriberOps[step.Op] {
		ev.Subscriber = step.ID
	}
	idx := h.result.add(ev)

	outcome := Outcome(h.apply(step))
	h.result.Trace[idx].Outcome = outcome
	if step.Expect != "" && step.Expect != outcome {
		h.result.AddError(fmt.Sprintf("steps[%d] %s: outcome %q, want %q", i, step.Op, outcome, step.Expect))
	}
}

func (h *Harness) apply(step Step) error {
	ctx := context.Background()
	e := h.engine

	switch step.Op {
	case OpStart:
		return e.Start(ctx)
	case OpRefresh:
		_, err := e.Refresh(ctx)
		return err
	case OpSetIdentity:
		_, err := e.SetIdentity(ctx, step.Identity)
		return err
	case OpLogout:
		_, err := e.Logout(ctx)
		return err
	case OpProvider:
		if step.Fail != "" {
			h.provider.Fail(errors.New(step.Fail))
		} else {
			h.provider.Set(step.Identity)
		}
		return nil

	case OpSubscribe:
		h.track(step.ID, e.Subscribe(step.ID, h.onDelivery(step.ID, step.Panic)))
		return nil
	case OpSubscribeTransitions:
		h.track(step.ID, e.SubscribeToTransitions(step.ID, h.onTransition(step.ID)))
		return nil
	case OpSubscribeIndicator:
		h.track(step.ID, e.SubscribeToUpdateIndicator(step.ID, h.onIndicator(step.ID)))
		return nil
	case OpUnsubscribe:
		unsubs, ok := h.unsubs[step.ID]
		if !ok {
			return fmt.Errorf("no subscriptions under %q", step.ID)
		}
		for _, unsubscribe := range unsubs {
			unsubscribe()
		}
		delete(h.unsubs, step.ID)
		return nil

	case OpUpdatePreferences:
		id, err := e.UpdatePreferences(*step.Patch)
		h.label(step.ID, id)
		return err
	case OpBeginUpdate:
		id, err := e.BeginUpdate(optimistic.PreferenceChange,
			optimistic.Changes{Preferences: step.Patch},
			time.Duration(step.MS)*time.Millisecond)
		h.label(step.ID, id)
		return err
	case OpConfirm:
		id, err := h.resolveLabel(step.ID)
		if err != nil {
			return err
		}
		return e.Confirm(id)
	case OpRollback:
		id, err := h.resolveLabel(step.ID)
		if err != nil {
			return err
		}
		_, err = e.Rollback(id)
		return err

	case OpReportError:
		kind, err := containment.ParseKind(step.Kind)
		if err != nil {
			return err
		}
		msg := step.Fail
		if msg == "" {
			msg = "scenario failure"
		}
		e.ReportError(kind, "scenario", errors.New(msg))
		return nil
	case OpRecordActivity:
		e.RecordActivity()
		return nil
	case OpCheckSession:
		e.CheckSession()
		return nil
	case OpAdvance:
		testutil.Drive(e, h.clock, time.Duration(step.MS)*time.Millisecond)
		return nil
	case OpFailSaves:
		var err error
		if step.Fail != "" {
			err = errors.New(step.Fail)
		}
		h.store.fail(err)
		return nil
	case OpReset:
		e.Reset()
		return nil
	case OpClose:
		e.Close()
		return nil
	default:
		return fmt.Errorf("unknown op %q", step.Op)
	}
}

func (h *Harness) track(id string, unsubscribe engine.Unsubscribe) {
	h.unsubs[id] = append(h.unsubs[id], unsubscribe)
}

func (h *Harness) label(label, id string) {
	if label != "" && id != "" {
		h.labels[label] = id
	}
}

func (h *Harness) resolveLabel(label string) (string, error) {
	id, ok := h.labels[label]
	if !ok {
		return "", fmt.Errorf("%w: no update labelled %q", optimistic.ErrUnknownUpdate, label)
	}
	return id, nil
}

func (h *Harness) onDelivery(id string, panics bool) func(usercontext.UserContext) {
	return func(c usercontext.UserContext) {
		h.result.add(TraceEvent{AtMS: h.now(), Type: EventDelivery, Subscriber: id, Data: contextData(c)})
		if panics {
			panic("scenario subscriber " + id + " failed")
		}
	}
}

func (h *Harness) onTransition(id string) func(transition.Transition) {
	return func(tr transition.Transition) {
		h.result.add(TraceEvent{AtMS: h.now(), Type: EventTransition, Subscriber: id, Data: tr.CanonicalMap()})
	}
}

func (h *Harness) onIndicator(id string) func(bool, float64) {
	return func(updating bool, progress float64) {
		h.result.add(TraceEvent{AtMS: h.now(), Type: EventIndicator, Subscriber: id, Data: map[string]any{
			"updating":     updating,
			"progress_pct": int64(math.Round(progress * 100)),
		}})
	}
}

func (h *Harness) now() int64 {
	return h.clock.Now().Sub(Epoch).Milliseconds()
}

// captureState stores the final context summary, engine stats and
// transition history in the result.
func (h *Harness) captureState() {
	cur := h.engine.Current()
	ctxState := contextData(cur)
	ctxState["session_id"] = cur.Session.ID
	caps := make([]any, len(cur.Capabilities))
	for i, c := range cur.Capabilities {
		caps[i] = string(c)
	}
	ctxState["capabilities"] = caps
	h.result.State["context"] = ctxState

	st := h.engine.Stats()
	errs := make(map[string]any, len(st.ErrorTotals))
	for kind, n := range st.ErrorTotals {
		errs[string(kind)] = int(n)
	}
	h.result.State["stats"] = map[string]any{
		"seq":                    int(st.Seq),
		"authenticated":          st.Authenticated,
		"fresh":                  st.Fresh,
		"subscribers":            st.Subscribers,
		"transition_subscribers": st.TransitionSubs,
		"pending_updates":        st.PendingUpdates,
		"updating":               st.Updating,
		"breaker":                string(st.Breaker),
		"error_count":            st.ErrorCount,
		"errors":                 errs,
		"trips":                  st.Trips,
		"mode":                   string(st.Mode),
		"recovery_entries":       st.RecoveryEntries,
		"recovery_reentries":     st.RecoveryReentries,
		"session_polling":        st.SessionPolling,
		"retry_armed":            st.RetryArmed,
		"cache_entries":          st.Cache.Entries,
		"transitions":            st.Transitions,
		"timers":                 st.Timers,
	}

	history := h.engine.Transitions()
	types := make([]any, len(history))
	for i, tr := range history {
		types[i] = string(tr.Type)
	}
	h.result.State["transitions"] = types
}

// Outcome names the class of err as step expectations spell it.
func Outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case engine.IsClosed(err):
		return "closed"
	case engine.IsRecovering(err):
		return "recovering"
	case engine.IsCircuitOpen(err):
		return "circuit_open"
	case errors.Is(err, optimistic.ErrUnknownUpdate):
		return "unknown_update"
	case errors.Is(err, optimistic.ErrResolved):
		return "resolved"
	case errors.Is(err, optimistic.ErrNoChanges):
		return "no_changes"
	case usercontext.IsValidationError(err):
		return string(containment.KindValidation)
	}
	if kind, ok := containment.KindOf(err); ok {
		return string(kind)
	}
	return "error"
}

func contextData(c usercontext.UserContext) map[string]any {
	return map[string]any{
		"user_id":       c.UserID(),
		"authenticated": c.Authenticated,
		"role":          string(c.Role),
		"theme":         string(c.Preferences.Theme),
		"language":      c.Preferences.Language,
	}
}

func stepData(step Step) map[string]any {
	data := make(map[string]any)
	if step.Identity != nil {
		data["id"] = step.Identity.ID
		data["role"] = string(step.Identity.Role)
	}
	if step.Fail != "" {
		data["fail"] = step.Fail
	}
	if step.Kind != "" {
		data["kind"] = step.Kind
	}
	if step.MS != 0 {
		data["ms"] = step.MS
	}
	if step.Panic {
		data["panic"] = true
	}
	if step.Patch != nil {
		data["patch"] = patchData(*step.Patch)
	}
	if !subscriberOps[step.Op] && step.ID != "" {
		data["update"] = step.ID
	}
	if len(data) == 0 {
		return nil
	}
	return data
}

func patchData(p usercontext.PreferencesPatch) map[string]any {
	out := make(map[string]any)
	if p.Language != nil {
		out["language"] = *p.Language
	}
	if p.Theme != nil {
		out["theme"] = string(*p.Theme)
	}
	flags := map[string]*bool{
		"high_contrast":  p.HighContrast,
		"large_text":     p.LargeText,
		"reduced_motion": p.ReducedMotion,
		"screen_reader":  p.ScreenReader,
	}
	for k, v := range flags {
		if v != nil {
			out[k] = *v
		}
	}
	return out
}

// faultyStore is the SQLite store with switchable save failures.
type faultyStore struct {
	*store.Store

	mu  sync.Mutex
	err error
}

func (f *faultyStore) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *faultyStore) failure() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *faultyStore) SavePreferences(ctx context.Context, userID string, prefs usercontext.Preferences) error {
	if err := f.failure(); err != nil {
		return err
	}
	return f.Store.SavePreferences(ctx, userID, prefs)
}

func (f *faultyStore) SaveSnapshot(ctx context.Context, c usercontext.UserContext, savedAt time.Time) error {
	if err := f.failure(); err != nil {
		return err
	}
	return f.Store.SaveSnapshot(ctx, c, savedAt)
}
