package assertions

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/deepnoodle-ai/sfnlocal"
)

func intptr(v int) *int { return &v }

func onlyResult(t *testing.T, results []Result, kind string) Result {
	t.Helper()
	var found []Result
	for _, r := range results {
		if r.Kind == kind {
			found = append(found, r)
		}
	}
	require.Len(t, found, 1)
	return found[0]
}

func TestOutputExpectation(t *testing.T) {
	result := &sfnlocal.ExecutionResult{
		Output: map[string]any{"status": "ok", "total": float64(42)},
	}

	t.Run("exact match", func(t *testing.T) {
		tc := (&TestCase{Name: "t"}).ExpectOutput(map[string]any{
			"status": "ok", "total": float64(42),
		})
		r := onlyResult(t, Evaluate(tc, result, Settings{}), KindOutput)
		require.True(t, r.Passed)
	})

	t.Run("exact mode rejects extra keys", func(t *testing.T) {
		tc := (&TestCase{Name: "t"}).ExpectOutput(map[string]any{"status": "ok"})
		r := onlyResult(t, Evaluate(tc, result, Settings{}), KindOutput)
		require.False(t, r.Passed)
		require.NotNil(t, r.Diff)
		require.Equal(t, []string{"total"}, r.Diff.Extra)
	})

	t.Run("partial mode accepts extra keys", func(t *testing.T) {
		tc := (&TestCase{Name: "t", OutputMatching: MatchPartial}).
			ExpectOutput(map[string]any{"status": "ok"})
		r := onlyResult(t, Evaluate(tc, result, Settings{}), KindOutput)
		require.True(t, r.Passed)
	})

	t.Run("suite setting supplies the default mode", func(t *testing.T) {
		tc := (&TestCase{Name: "t"}).ExpectOutput(map[string]any{"status": "ok"})
		r := onlyResult(t, Evaluate(tc, result, Settings{OutputMatching: MatchPartial}), KindOutput)
		require.True(t, r.Passed)
	})

	t.Run("expected null output is honored", func(t *testing.T) {
		tc := (&TestCase{Name: "t"}).ExpectOutput(nil)
		r := onlyResult(t, Evaluate(tc, &sfnlocal.ExecutionResult{Output: nil}, Settings{}), KindOutput)
		require.True(t, r.Passed)
	})
}

func TestOutputExpectationFromJSON(t *testing.T) {
	var tc TestCase
	require.NoError(t, json.Unmarshal([]byte(`{
		"name": "declared null",
		"expectedOutput": null
	}`), &tc))
	require.True(t, tc.HasExpectedOutput())

	r := onlyResult(t, Evaluate(&tc, &sfnlocal.ExecutionResult{Output: "x"}, Settings{}), KindOutput)
	require.False(t, r.Passed)

	var absent TestCase
	require.NoError(t, json.Unmarshal([]byte(`{"name": "no output"}`), &absent))
	require.False(t, absent.HasExpectedOutput())
	require.Empty(t, Evaluate(&absent, &sfnlocal.ExecutionResult{Output: "x"}, Settings{}))
}

func TestPathExpectation(t *testing.T) {
	result := &sfnlocal.ExecutionResult{
		ExecutionPath: []string{"Start", "Process", "Ship", "End"},
	}

	t.Run("exact", func(t *testing.T) {
		tc := &TestCase{ExpectedPath: []string{"Start", "Process", "Ship", "End"}}
		require.True(t, onlyResult(t, Evaluate(tc, result, Settings{}), KindPath).Passed)
	})

	t.Run("exact divergence reports index", func(t *testing.T) {
		tc := &TestCase{ExpectedPath: []string{"Start", "Audit", "Ship", "End"}}
		r := onlyResult(t, Evaluate(tc, result, Settings{}), KindPath)
		require.False(t, r.Passed)
		require.Contains(t, r.Message, "diverge at index 1")
	})

	t.Run("exact length mismatch diverges at shorter length", func(t *testing.T) {
		tc := &TestCase{ExpectedPath: []string{"Start", "Process"}}
		r := onlyResult(t, Evaluate(tc, result, Settings{}), KindPath)
		require.False(t, r.Passed)
		require.Contains(t, r.Message, "diverge at index 2")
	})

	t.Run("includes contiguous segment", func(t *testing.T) {
		tc := &TestCase{
			ExpectedPath: []string{"Process", "Ship"},
			PathMatching: PathIncludes,
		}
		require.True(t, onlyResult(t, Evaluate(tc, result, Settings{}), KindPath).Passed)
	})

	t.Run("includes rejects gaps within a segment", func(t *testing.T) {
		tc := &TestCase{
			ExpectedPath: []string{"Process", "End"},
			PathMatching: PathIncludes,
		}
		require.False(t, onlyResult(t, Evaluate(tc, result, Settings{}), KindPath).Passed)
	})

	t.Run("segments may have gaps between them", func(t *testing.T) {
		tc := &TestCase{
			ExpectedPathSegments: [][]string{{"Start"}, {"Ship", "End"}},
			PathMatching:         PathIncludes,
		}
		require.True(t, onlyResult(t, Evaluate(tc, result, Settings{}), KindPath).Passed)
	})

	t.Run("segments must appear in order", func(t *testing.T) {
		tc := &TestCase{
			ExpectedPathSegments: [][]string{{"Ship"}, {"Start"}},
			PathMatching:         PathIncludes,
		}
		require.False(t, onlyResult(t, Evaluate(tc, result, Settings{}), KindPath).Passed)
	})
}

func nestedTraceResult() *sfnlocal.ExecutionResult {
	return &sfnlocal.ExecutionResult{
		ExecutionPath: []string{"Each", "Done"},
		StateExecutions: []*sfnlocal.StateExecutionRecord{
			{StatePath: []string{"Done"}, StateName: "Done", Output: "done"},
		},
		MapExecutions: []*sfnlocal.MapExecution{{
			StateName: "Each",
			Iterations: []*sfnlocal.ExecutionResult{
				{
					ExecutionPath: []string{"Handle"},
					StateExecutions: []*sfnlocal.StateExecutionRecord{{
						StatePath: []string{"Each[0]", "Handle"},
						StateName: "Handle",
						Input:     map[string]any{"id": float64(1)},
						Output:    map[string]any{"ok": true},
					}},
				},
				{
					ExecutionPath: []string{"Handle"},
					StateExecutions: []*sfnlocal.StateExecutionRecord{{
						StatePath: []string{"Each[1]", "Handle"},
						StateName: "Handle",
						Input:     map[string]any{"id": float64(2)},
						Output:    map[string]any{"ok": false},
					}},
				},
			},
		}},
	}
}

func TestStateExpectation(t *testing.T) {
	result := nestedTraceResult()

	t.Run("bare name matches every occurrence", func(t *testing.T) {
		se := (&StateExpectation{State: "Handle"}).
			ExpectOutput(map[string]any{"ok": true})
		results := evaluateState(se, result, Settings{})
		// The second iteration returned ok=false, so one occurrence fails.
		require.Len(t, results, 1)
		require.False(t, results[0].Passed)
		require.Contains(t, results[0].Message, "Each[1].Handle")
	})

	t.Run("qualified name addresses one occurrence", func(t *testing.T) {
		se := (&StateExpectation{State: "Each[0].Handle"}).
			ExpectOutput(map[string]any{"ok": true})
		results := evaluateState(se, result, Settings{})
		require.Len(t, results, 1)
		require.True(t, results[0].Passed)
	})

	t.Run("input expectation", func(t *testing.T) {
		se := (&StateExpectation{State: "Each[1].Handle"}).
			ExpectInput(map[string]any{"id": float64(2)})
		results := evaluateState(se, result, Settings{})
		require.True(t, results[0].Passed)
	})

	t.Run("never executed", func(t *testing.T) {
		se := (&StateExpectation{State: "Ghost"}).ExpectOutput("x")
		results := evaluateState(se, result, Settings{})
		require.Len(t, results, 1)
		require.False(t, results[0].Passed)
		require.Contains(t, results[0].Message, "never executed")
	})
}

func TestMapExpectation(t *testing.T) {
	result := nestedTraceResult()

	t.Run("count and paths", func(t *testing.T) {
		me := &MapExpectation{
			State:          "Each",
			IterationCount: intptr(2),
			IterationPaths: [][]string{{"Handle"}, {"Handle"}},
		}
		results := evaluateMap(me, result)
		require.Len(t, results, 1)
		require.True(t, results[0].Passed)
	})

	t.Run("nil path entries are skipped", func(t *testing.T) {
		me := &MapExpectation{State: "Each", IterationPaths: [][]string{nil, {"Handle"}}}
		require.True(t, evaluateMap(me, result)[0].Passed)
	})

	t.Run("count mismatch", func(t *testing.T) {
		me := &MapExpectation{State: "Each", IterationCount: intptr(3)}
		results := evaluateMap(me, result)
		require.False(t, results[0].Passed)
		require.Contains(t, results[0].Message, "ran 2 iterations, expected 3")
	})

	t.Run("missing iteration index", func(t *testing.T) {
		me := &MapExpectation{State: "Each", IterationPaths: [][]string{{"Handle"}, {"Handle"}, {"Handle"}}}
		results := evaluateMap(me, result)
		require.False(t, results[0].Passed)
	})
}

func TestParallelExpectation(t *testing.T) {
	result := &sfnlocal.ExecutionResult{
		ParallelExecutions: []*sfnlocal.ParallelExecution{{
			StateName: "Fan",
			Branches: []*sfnlocal.ExecutionResult{
				{ExecutionPath: []string{"Left", "LeftDone"}},
				{ExecutionPath: []string{"Right"}},
			},
		}},
	}

	pe := &ParallelExpectation{
		State:       "Fan",
		BranchCount: intptr(2),
		BranchPaths: [][]string{{"Left", "LeftDone"}, {"Right"}},
	}
	require.True(t, evaluateParallel(pe, result)[0].Passed)

	bad := &ParallelExpectation{State: "Fan", BranchPaths: [][]string{{"Left"}}}
	results := evaluateParallel(bad, result)
	require.False(t, results[0].Passed)
	require.Contains(t, results[0].Message, "diverges at index 1")
}

func TestErrorExpectation(t *testing.T) {
	t.Run("expected error arrived", func(t *testing.T) {
		result := &sfnlocal.ExecutionResult{
			Error: sfnlocal.NewStatesError("PaymentDeclined", "card expired"),
		}
		r := evaluateError(&ErrorExpectation{Error: "PaymentDeclined"}, result)
		require.True(t, r.Passed)
	})

	t.Run("cause checked only when declared", func(t *testing.T) {
		result := &sfnlocal.ExecutionResult{
			Error: sfnlocal.NewStatesError("PaymentDeclined", "card expired"),
		}
		r := evaluateError(&ErrorExpectation{Error: "PaymentDeclined", Cause: "stolen card"}, result)
		require.False(t, r.Passed)
		require.Contains(t, r.Message, "cause mismatch")
	})

	t.Run("success when an error was expected", func(t *testing.T) {
		r := evaluateError(&ErrorExpectation{Error: "PaymentDeclined"}, &sfnlocal.ExecutionResult{})
		require.False(t, r.Passed)
		require.Contains(t, r.Message, "succeeded")
	})

	t.Run("wrong error name", func(t *testing.T) {
		result := &sfnlocal.ExecutionResult{
			Error: sfnlocal.NewStatesError("States.Timeout", ""),
		}
		r := evaluateError(&ErrorExpectation{Error: "PaymentDeclined"}, result)
		require.False(t, r.Passed)
	})
}

func TestVariablesExpectation(t *testing.T) {
	result := &sfnlocal.ExecutionResult{
		Variables: map[string]any{"count": float64(3), "region": "east"},
	}

	tc := &TestCase{ExpectedVariables: map[string]any{"count": float64(3)}}
	r := onlyResult(t, Evaluate(tc, result, Settings{}), KindVariables)
	require.True(t, r.Passed)

	tc = &TestCase{ExpectedVariables: map[string]any{"count": float64(9)}}
	r = onlyResult(t, Evaluate(tc, result, Settings{}), KindVariables)
	require.False(t, r.Passed)

	// Variables match as a subset even when nothing was assigned.
	tc = &TestCase{ExpectedVariables: map[string]any{"count": float64(3)}}
	r = onlyResult(t, Evaluate(tc, &sfnlocal.ExecutionResult{}, Settings{}), KindVariables)
	require.False(t, r.Passed)
}

func TestIndependentExpectations(t *testing.T) {
	result := &sfnlocal.ExecutionResult{
		Output:        "actual",
		ExecutionPath: []string{"A", "B"},
	}
	tc := (&TestCase{
		ExpectedPath:  []string{"A", "B"},
		ExpectedError: &ErrorExpectation{Error: "Nope"},
	}).ExpectOutput("wanted")

	results := Evaluate(tc, result, Settings{})
	require.Len(t, results, 3)
	require.False(t, onlyResult(t, results, KindOutput).Passed)
	require.True(t, onlyResult(t, results, KindPath).Passed)
	require.False(t, onlyResult(t, results, KindError).Passed)
}
