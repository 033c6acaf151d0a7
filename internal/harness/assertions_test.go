package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleResult() *Result {
	r := NewResult()
	r.add(TraceEvent{Type: EventStep, Op: OpStart, Outcome: OutcomeOK})
	r.add(TraceEvent{Type: EventDelivery, Subscriber: "ui", Data: map[string]any{
		"user_id": "u-1", "role": "agent", "authenticated": true,
	}})
	r.add(TraceEvent{Type: EventDelivery, Subscriber: "ui", Data: map[string]any{
		"user_id": "u-1", "role": "admin", "authenticated": true,
	}})
	r.add(TraceEvent{Type: EventTransition, Subscriber: "audit", Data: map[string]any{
		"type":        "role_change",
		"duration_ms": int64(12),
		"from":        map[string]any{"role": "agent"},
		"to":          map[string]any{"role": "admin"},
	}})
	r.State["transitions"] = []any{"login", "role_change"}
	r.State["context"] = map[string]any{"role": "admin", "capabilities": []any{"a", "b"}}
	r.State["stats"] = map[string]any{"subscribers": 1, "seq": 3, "errors": map[string]any{"subscriber": 2, "refresh": 0}}
	return r
}

func TestAssertTraceContains(t *testing.T) {
	r := sampleResult()

	assert.NoError(t, assertTraceContains(r.Trace, Assertion{
		Type: AssertTraceContains, Event: EventDelivery, Subscriber: "ui",
		Expect: map[string]any{"role": "admin"},
	}))
	assert.NoError(t, assertTraceContains(r.Trace, Assertion{
		Type: AssertTraceContains, Event: EventTransition,
		Expect: map[string]any{"duration_ms": 12, "from": map[string]any{"role": "agent"}},
	}), "integers match across widths and nested maps match as subsets")

	err := assertTraceContains(r.Trace, Assertion{
		Type: AssertTraceContains, Event: EventDelivery, Subscriber: "other",
		Expect: map[string]any{"role": "admin"},
	})
	require.Error(t, err)
	var aerr *AssertionError
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, AssertTraceContains, aerr.Type)
	assert.Contains(t, err.Error(), "delivery for other")
	assert.Contains(t, err.Error(), "Full trace:")
}

func TestAssertTraceCount(t *testing.T) {
	r := sampleResult()

	assert.NoError(t, assertTraceCount(r.Trace, Assertion{Event: EventDelivery, Count: 2}))
	assert.NoError(t, assertTraceCount(r.Trace, Assertion{Event: EventIndicator, Count: 0}))

	err := assertTraceCount(r.Trace, Assertion{Event: EventDelivery, Subscriber: "ui", Count: 3})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 occurrences")
}

func TestAssertTransitionOrder(t *testing.T) {
	r := sampleResult()

	assert.NoError(t, assertTransitionOrder(r, Assertion{Transitions: []string{"login", "role_change"}}))
	assert.Error(t, assertTransitionOrder(r, Assertion{Transitions: []string{"role_change", "login"}}))
	assert.Error(t, assertTransitionOrder(r, Assertion{Transitions: []string{"login"}}))
	assert.Error(t, assertTransitionOrder(r, Assertion{}), "an empty list means no transitions")
}

func TestAssertFinalState(t *testing.T) {
	r := sampleResult()

	assert.NoError(t, assertFinalState(r, "context", Assertion{
		Type:   AssertFinalContext,
		Expect: map[string]any{"role": "admin", "capabilities": []any{"a", "b"}},
	}))
	assert.NoError(t, assertFinalState(r, "stats", Assertion{
		Type:   AssertFinalStats,
		Expect: map[string]any{"errors": map[string]any{"subscriber": 2}},
	}))

	err := assertFinalState(r, "stats", Assertion{
		Type:   AssertFinalStats,
		Expect: map[string]any{"subscribers": 2},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "subscribers=1")

	err = assertFinalState(r, "context", Assertion{
		Type:   AssertFinalContext,
		Expect: map[string]any{"locale": "de"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "locale not present")

	assert.Error(t, assertFinalState(NewResult(), "stats", Assertion{Type: AssertFinalStats}))
}

func TestAssertFinalState_CapabilitiesAreASet(t *testing.T) {
	r := sampleResult()

	assert.NoError(t, assertFinalState(r, "context", Assertion{
		Type:   AssertFinalContext,
		Expect: map[string]any{"capabilities": []any{"b", "a"}},
	}))

	err := assertFinalState(r, "context", Assertion{
		Type:   AssertFinalContext,
		Expect: map[string]any{"capabilities": []any{"a", "c"}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "capabilities=[a b]")
}

func TestSameElements(t *testing.T) {
	assert.True(t, sameElements([]any{"a", "b"}, []any{"b", "a"}))
	assert.False(t, sameElements([]any{"a", "a"}, []any{"a", "b"}))
	assert.False(t, sameElements([]any{"a"}, []any{"a", "b"}))
	assert.True(t, sameElements(int64(2), 2))
}

func TestEvaluateAssertions_PrefixesIndex(t *testing.T) {
	r := sampleResult()
	failures := EvaluateAssertions(r, []Assertion{
		{Type: AssertTraceCount, Event: EventDelivery, Count: 2},
		{Type: AssertTraceCount, Event: EventDelivery, Count: 5},
	})
	require.Len(t, failures, 1)
	assert.Contains(t, failures[0], "assertions[1]")
}

func TestValuesEqual(t *testing.T) {
	assert.True(t, valuesEqual(int64(3), 3))
	assert.True(t, valuesEqual(3, int64(3)))
	assert.False(t, valuesEqual("3", 3))
	assert.False(t, valuesEqual(3, "3"))
	assert.True(t, valuesEqual(true, true))
	assert.False(t, valuesEqual([]any{"a"}, []any{"a", "b"}))
	assert.False(t, valuesEqual("x", map[string]any{"a": 1}))
}
