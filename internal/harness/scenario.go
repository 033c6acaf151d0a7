package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/usersync/internal/auth"
	"github.com/roach88/usersync/internal/containment"
	"github.com/roach88/usersync/internal/usercontext"
)

// Scenario is one scripted run of the engine.
type Scenario struct {
	// Name uniquely identifies the scenario. It names the golden file.
	Name string `yaml:"name"`

	// Description explains what the scenario validates.
	Description string `yaml:"description"`

	// Config overrides engine settings, using config file keys.
	Config map[string]any `yaml:"config,omitempty"`

	// Provider is the identity the auth provider reports at the start.
	// Nil means nobody is signed in.
	Provider *auth.Identity `yaml:"provider,omitempty"`

	// Steps run in order.
	Steps []Step `yaml:"steps"`

	// Assertions are evaluated after the last step.
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one operation on the engine or its collaborators.
type Step struct {
	Op string `yaml:"op"`

	// ID names the subscriber for subscribe ops and the update label for
	// begin_update, update_preferences, confirm and rollback.
	ID string `yaml:"id,omitempty"`

	Identity *auth.Identity                `yaml:"identity,omitempty"`
	Patch    *usercontext.PreferencesPatch `yaml:"patch,omitempty"`

	// Fail is the failure message for provider, fail_saves and
	// report_error. An empty Fail on provider or fail_saves clears the
	// failure.
	Fail string `yaml:"fail,omitempty"`

	// Kind is the error kind of report_error.
	Kind string `yaml:"kind,omitempty"`

	// MS is the advance duration, or the begin_update timeout.
	MS int64 `yaml:"ms,omitempty"`

	// Panic makes a subscribe callback panic on every delivery.
	Panic bool `yaml:"panic,omitempty"`

	// Expect is the expected outcome. Empty means unchecked.
	Expect string `yaml:"expect,omitempty"`
}

// Assertion validates the trace or the final state.
type Assertion struct {
	Type string `yaml:"type"`

	// Event is the trace event type (trace_contains, trace_count).
	Event string `yaml:"event,omitempty"`

	// Subscriber narrows trace assertions to one subscriber.
	Subscriber string `yaml:"subscriber,omitempty"`

	// Count is the expected number of events (trace_count).
	Count int `yaml:"count,omitempty"`

	// Transitions is the expected transition type sequence
	// (transition_order).
	Transitions []string `yaml:"transitions,omitempty"`

	// Expect holds the expected field values (trace_contains,
	// final_context, final_stats). Subset match.
	Expect map[string]any `yaml:"expect,omitempty"`
}

// Step op names.
const (
	OpStart                = "start"
	OpRefresh              = "refresh"
	OpSetIdentity          = "set_identity"
	OpLogout               = "logout"
	OpProvider             = "provider"
	OpSubscribe            = "subscribe"
	OpUnsubscribe          = "unsubscribe"
	OpSubscribeTransitions = "subscribe_transitions"
	OpSubscribeIndicator   = "subscribe_indicator"
	OpUpdatePreferences    = "update_preferences"
	OpBeginUpdate          = "begin_update"
	OpConfirm              = "confirm"
	OpRollback             = "rollback"
	OpReportError          = "report_error"
	OpRecordActivity       = "record_activity"
	OpCheckSession         = "check_session"
	OpAdvance              = "advance"
	OpFailSaves            = "fail_saves"
	OpReset                = "reset"
	OpClose                = "close"
)

// Assertion type names.
const (
	AssertTraceContains   = "trace_contains"
	AssertTraceCount      = "trace_count"
	AssertTransitionOrder = "transition_order"
	AssertFinalContext    = "final_context"
	AssertFinalStats      = "final_stats"
)

var subscriberOps = map[string]bool{
	OpSubscribe:            true,
	OpUnsubscribe:          true,
	OpSubscribeTransitions: true,
	OpSubscribeIndicator:   true,
}

var knownOps = map[string]bool{
	OpStart: true, OpRefresh: true, OpSetIdentity: true, OpLogout: true,
	OpProvider: true, OpSubscribe: true, OpUnsubscribe: true,
	OpSubscribeTransitions: true, OpSubscribeIndicator: true,
	OpUpdatePreferences: true, OpBeginUpdate: true, OpConfirm: true,
	OpRollback: true, OpReportError: true, OpRecordActivity: true,
	OpCheckSession: true, OpAdvance: true, OpFailSaves: true, OpReset: true,
	OpClose: true,
}

// LoadScenario reads and parses a scenario YAML file. Unknown fields are
// rejected so typos surface as errors.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// LoadDir loads every *.yaml and *.yml scenario under dir, sorted by path.
func LoadDir(dir string) ([]*Scenario, []string, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("scan %s: %w", dir, err)
	}
	sort.Strings(paths)

	scenarios := make([]*Scenario, 0, len(paths))
	for _, p := range paths {
		s, err := LoadScenario(p)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", p, err)
		}
		scenarios = append(scenarios, s)
	}
	return scenarios, paths, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		if err := validateStep(i, step); err != nil {
			return err
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(i, a); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(i int, step Step) error {
	if step.Op == "" {
		return fmt.Errorf("steps[%d]: op is required", i)
	}
	if !knownOps[step.Op] {
		return fmt.Errorf("steps[%d]: unknown op %q", i, step.Op)
	}
	if subscriberOps[step.Op] && step.ID == "" {
		return fmt.Errorf("steps[%d]: id is required for %s", i, step.Op)
	}

	switch step.Op {
	case OpSetIdentity:
		if step.Identity == nil {
			return fmt.Errorf("steps[%d]: identity is required for set_identity (use logout to sign out)", i)
		}
	case OpUpdatePreferences, OpBeginUpdate:
		if step.Patch == nil {
			return fmt.Errorf("steps[%d]: patch is required for %s", i, step.Op)
		}
	case OpConfirm, OpRollback:
		if step.ID == "" {
			return fmt.Errorf("steps[%d]: id of an earlier update is required for %s", i, step.Op)
		}
	case OpReportError:
		if _, err := containment.ParseKind(step.Kind); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
	case OpAdvance:
		if step.MS < 0 {
			return fmt.Errorf("steps[%d]: ms must be non-negative", i)
		}
	}
	return nil
}

func validateAssertion(i int, a Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", i)
	case AssertTraceContains:
		if a.Event == "" {
			return fmt.Errorf("assertions[%d]: event is required for trace_contains", i)
		}
	case AssertTraceCount:
		if a.Event == "" {
			return fmt.Errorf("assertions[%d]: event is required for trace_count", i)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", i)
		}
	case AssertTransitionOrder:
		// An empty list asserts that nothing transitioned.
	case AssertFinalContext, AssertFinalStats:
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for %s", i, a.Type)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", i, a.Type)
	}
	return nil
}
