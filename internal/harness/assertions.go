package harness

import (
	"fmt"
	"reflect"
	"strings"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, ev := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] +%dms %s", ev.Seq, ev.AtMS, ev.Type)
			if ev.Op != "" {
				fmt.Fprintf(&buf, " %s", ev.Op)
			}
			if ev.Subscriber != "" {
				fmt.Fprintf(&buf, " @%s", ev.Subscriber)
			}
			if ev.Outcome != "" && ev.Outcome != OutcomeOK {
				fmt.Fprintf(&buf, " -> %s", ev.Outcome)
			}
			if len(ev.Data) > 0 {
				fmt.Fprintf(&buf, " %v", ev.Data)
			}
			buf.WriteByte('\n')
		}
	}

	return buf.String()
}

// EvaluateAssertions checks every assertion against result and returns one
// message per failure.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var failures []string
	for i, a := range assertions {
		if err := evaluate(result, a); err != nil {
			failures = append(failures, fmt.Sprintf("assertions[%d]: %s", i, err.Error()))
		}
	}
	return failures
}

func evaluate(result *Result, a Assertion) error {
	switch a.Type {
	case AssertTraceContains:
		return assertTraceContains(result.Trace, a)
	case AssertTraceCount:
		return assertTraceCount(result.Trace, a)
	case AssertTransitionOrder:
		return assertTransitionOrder(result, a)
	case AssertFinalContext:
		return assertFinalState(result, "context", a)
	case AssertFinalStats:
		return assertFinalState(result, "stats", a)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

func matchesEvent(ev TraceEvent, a Assertion) bool {
	return ev.Type == a.Event && (a.Subscriber == "" || ev.Subscriber == a.Subscriber)
}

func describeTarget(a Assertion) string {
	if a.Subscriber == "" {
		return a.Event
	}
	return a.Event + " for " + a.Subscriber
}

// assertTraceContains checks that some event of the given type carries the
// expected data (subset match).
func assertTraceContains(trace []TraceEvent, a Assertion) error {
	for _, ev := range trace {
		if matchesEvent(ev, a) && matchArgs(ev.Data, a.Expect) {
			return nil
		}
	}

	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: fmt.Sprintf("%s with data %v", describeTarget(a), a.Expect),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceCount checks that the event appears exactly Count times.
func assertTraceCount(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, ev := range trace {
		if matchesEvent(ev, a) {
			count++
		}
	}

	if count != a.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", a.Count, describeTarget(a)),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertTransitionOrder compares the engine's transition history with the
// expected types, exactly.
func assertTransitionOrder(result *Result, a Assertion) error {
	history, _ := result.State["transitions"].([]any)
	got := make([]string, len(history))
	for i, t := range history {
		got[i] = fmt.Sprint(t)
	}
	want := a.Transitions
	if want == nil {
		want = []string{}
	}

	if !reflect.DeepEqual(got, want) {
		return &AssertionError{
			Type:     AssertTransitionOrder,
			Expected: fmt.Sprintf("transitions %v", want),
			Actual:   fmt.Sprintf("transitions %v", got),
		}
	}
	return nil
}

// assertFinalState checks the captured state section against the expected
// values (subset match).
func assertFinalState(result *Result, section string, a Assertion) error {
	actual, _ := result.State[section].(map[string]any)
	if actual == nil {
		return fmt.Errorf("no final %s captured", section)
	}

	for key, want := range a.Expect {
		got, ok := actual[key]
		if !ok {
			return &AssertionError{
				Type:     a.Type,
				Expected: fmt.Sprintf("%s=%v", key, want),
				Actual:   fmt.Sprintf("%s not present", key),
			}
		}
		equal := valuesEqual
		if unorderedKeys[key] {
			equal = sameElements
		}
		if !equal(got, want) {
			return &AssertionError{
				Type:     a.Type,
				Expected: fmt.Sprintf("%s=%v", key, want),
				Actual:   fmt.Sprintf("%s=%v", key, got),
			}
		}
	}
	return nil
}

// unorderedKeys are final-state values that are sets; their order carries
// no meaning.
var unorderedKeys = map[string]bool{"capabilities": true}

// sameElements reports whether two lists hold equal values regardless of
// order. Non-list values compare with valuesEqual.
func sameElements(actual, expected any) bool {
	a, aok := actual.([]any)
	e, eok := expected.([]any)
	if !aok || !eok {
		return valuesEqual(actual, expected)
	}
	if len(a) != len(e) {
		return false
	}
	used := make([]bool, len(a))
	for _, want := range e {
		found := false
		for i, got := range a {
			if !used[i] && valuesEqual(got, want) {
				used[i], found = true, true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// matchArgs reports whether actual contains every key of expected with an
// equal value. Extra keys in actual are ignored; nested maps match the
// same way.
func matchArgs(actual, expected map[string]any) bool {
	for key, want := range expected {
		got, ok := actual[key]
		if !ok {
			return false
		}
		if !valuesEqual(got, want) {
			return false
		}
	}
	return true
}

// valuesEqual compares an actual value with a value decoded from YAML.
// Integers compare by value whatever their width, and maps use subset
// semantics.
func valuesEqual(actual, expected any) bool {
	if a, ok := toInt64(actual); ok {
		e, ok := toInt64(expected)
		return ok && a == e
	}
	if e, ok := expected.(map[string]any); ok {
		a, ok := actual.(map[string]any)
		return ok && matchArgs(a, e)
	}
	if e, ok := expected.([]any); ok {
		a, ok := actual.([]any)
		if !ok || len(a) != len(e) {
			return false
		}
		for i := range e {
			if !valuesEqual(a[i], e[i]) {
				return false
			}
		}
		return true
	}
	return reflect.DeepEqual(actual, expected)
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint32:
		return int64(n), true
	case uint64:
		return int64(n), true
	default:
		return 0, false
	}
}
