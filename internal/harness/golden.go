package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/usersync/internal/canon"
)

// TraceSnapshot is the golden-file form of a run.
type TraceSnapshot struct {
	ScenarioName string       `json:"scenario_name"`
	Trace        []TraceEvent `json:"trace"`
}

// eventValue is ev as a canonical value. Empty fields are left out so that
// golden files only change when behaviour does.
func eventValue(ev TraceEvent) map[string]any {
	m := map[string]any{"seq": ev.Seq, "at_ms": ev.AtMS, "type": ev.Type}
	for k, v := range map[string]string{"op": ev.Op, "subscriber": ev.Subscriber, "outcome": ev.Outcome} {
		if v != "" {
			m[k] = v
		}
	}
	if len(ev.Data) > 0 {
		m["data"] = ev.Data
	}
	return m
}

func (s TraceSnapshot) value() map[string]any {
	trace := make([]any, len(s.Trace))
	for i, ev := range s.Trace {
		trace[i] = eventValue(ev)
	}
	return map[string]any{"scenario_name": s.ScenarioName, "trace": trace}
}

// MarshalTrace renders the trace of a run as canonical JSON.
func MarshalTrace(scenarioName string, result *Result) ([]byte, error) {
	return canon.Marshal(TraceSnapshot{ScenarioName: scenarioName, Trace: result.Trace}.value())
}

// RunWithGolden runs scenario and compares its trace with
// testdata/golden/<name>.golden. Regenerate with
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) error {
	t.Helper()
	result, err := Run(scenario)
	if err != nil {
		return err
	}
	return AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares the trace of an existing result with its golden file.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()
	data, err := MarshalTrace(scenarioName, result)
	if err != nil {
		return err
	}
	goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	).Assert(t, scenarioName, data)
	return nil
}
