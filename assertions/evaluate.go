package assertions

import (
	"fmt"
	"strings"

	"github.com/deepnoodle-ai/sfnlocal"
)

// Evaluate judges every expectation the test case declares against the
// execution result. Expectations are independent: one failure never
// suppresses the evaluation of the others.
func Evaluate(tc *TestCase, result *sfnlocal.ExecutionResult, settings Settings) []Result {
	var results []Result

	if tc.expectedOutputSet {
		results = append(results, evaluateOutput(tc, result, settings))
	}
	if len(tc.ExpectedPath) > 0 || len(tc.ExpectedPathSegments) > 0 {
		results = append(results, evaluatePath(tc, result, settings))
	}
	for _, se := range tc.ExpectedStates {
		results = append(results, evaluateState(se, result, settings)...)
	}
	for _, me := range tc.ExpectedMaps {
		results = append(results, evaluateMap(me, result)...)
	}
	for _, pe := range tc.ExpectedParallels {
		results = append(results, evaluateParallel(pe, result)...)
	}
	if tc.ExpectedError != nil {
		results = append(results, evaluateError(tc.ExpectedError, result))
	}
	if len(tc.ExpectedVariables) > 0 {
		results = append(results, evaluateVariables(tc, result))
	}
	return results
}

func outputMode(override string, settings Settings) bool {
	mode := settings.OutputMatching
	if override != "" {
		mode = override
	}
	return mode == MatchPartial
}

func evaluateOutput(tc *TestCase, result *sfnlocal.ExecutionResult, settings Settings) Result {
	partial := outputMode(tc.OutputMatching, settings)
	if matches(tc.ExpectedOutput, result.Output, partial) {
		return Result{Kind: KindOutput, Passed: true}
	}
	mode := MatchExact
	if partial {
		mode = MatchPartial
	}
	return Result{
		Kind:    KindOutput,
		Message: fmt.Sprintf("output does not match expectation (%s mode)", mode),
		Diff:    NewDiff(tc.ExpectedOutput, result.Output, partial),
	}
}

func evaluatePath(tc *TestCase, result *sfnlocal.ExecutionResult, settings Settings) Result {
	mode := settings.PathMatching
	if tc.PathMatching != "" {
		mode = tc.PathMatching
	}
	if mode == "" {
		mode = PathExact
	}
	actual := result.ExecutionPath

	if mode == PathIncludes {
		segments := tc.ExpectedPathSegments
		if len(segments) == 0 {
			segments = [][]string{tc.ExpectedPath}
		}
		from := 0
		for _, segment := range segments {
			at := indexOfSubsequence(actual[from:], segment)
			if at < 0 {
				return Result{
					Kind: KindPath,
					Message: fmt.Sprintf("path %v does not contain contiguous segment %v",
						actual, segment),
					Diff: NewDiff(toAny(segment), toAny(actual), false),
				}
			}
			from += at + len(segment)
		}
		return Result{Kind: KindPath, Passed: true}
	}

	if divergence := pathDivergence(tc.ExpectedPath, actual); divergence >= 0 {
		return Result{
			Kind: KindPath,
			Message: fmt.Sprintf("paths diverge at index %d: expected %v, got %v",
				divergence, tc.ExpectedPath, actual),
			Diff: NewDiff(toAny(tc.ExpectedPath), toAny(actual), false),
		}
	}
	return Result{Kind: KindPath, Passed: true}
}

// pathDivergence returns the first index where the paths differ, or -1 when
// they are identical. A length mismatch diverges at the shorter length.
func pathDivergence(expected, actual []string) int {
	limit := len(expected)
	if len(actual) < limit {
		limit = len(actual)
	}
	for i := 0; i < limit; i++ {
		if expected[i] != actual[i] {
			return i
		}
	}
	if len(expected) != len(actual) {
		return limit
	}
	return -1
}

// indexOfSubsequence returns the start of the first contiguous occurrence of
// segment within path, or -1.
func indexOfSubsequence(path, segment []string) int {
	if len(segment) == 0 {
		return 0
	}
	for i := 0; i+len(segment) <= len(path); i++ {
		found := true
		for j, name := range segment {
			if path[i+j] != name {
				found = false
				break
			}
		}
		if found {
			return i
		}
	}
	return -1
}

func toAny(path []string) []any {
	out := make([]any, len(path))
	for i, name := range path {
		out[i] = name
	}
	return out
}

// evaluateState checks the recorded input/output of every occurrence the
// expectation addresses. Bare names match any record with that state name,
// nested scopes included; a dotted name matches the fully qualified path.
func evaluateState(se *StateExpectation, result *sfnlocal.ExecutionResult, settings Settings) []Result {
	records := findRecords(result, se.State)
	if len(records) == 0 {
		return []Result{{
			Kind:    KindState,
			Message: fmt.Sprintf("state %q was never executed", se.State),
		}}
	}
	partial := outputMode(se.Matching, settings)

	var results []Result
	for _, record := range records {
		qualified := strings.Join(record.StatePath, ".")
		if se.inputSet && !matches(se.Input, record.Input, partial) {
			results = append(results, Result{
				Kind:    KindState,
				Message: fmt.Sprintf("input of state %q does not match expectation", qualified),
				Diff:    NewDiff(se.Input, record.Input, partial),
			})
		}
		if se.outputSet && !matches(se.Output, record.Output, partial) {
			results = append(results, Result{
				Kind:    KindState,
				Message: fmt.Sprintf("output of state %q does not match expectation", qualified),
				Diff:    NewDiff(se.Output, record.Output, partial),
			})
		}
	}
	if len(results) == 0 {
		results = append(results, Result{Kind: KindState, Passed: true})
	}
	return results
}

// findRecords collects the matching state execution records from the result
// and, recursively, from every nested Map iteration and Parallel branch.
func findRecords(result *sfnlocal.ExecutionResult, name string) []*sfnlocal.StateExecutionRecord {
	qualified := strings.Contains(name, ".") || strings.Contains(name, "[")
	var records []*sfnlocal.StateExecutionRecord
	walkResults(result, func(record *sfnlocal.StateExecutionRecord) {
		if qualified {
			if strings.Join(record.StatePath, ".") == name {
				records = append(records, record)
			}
			return
		}
		if record.StateName == name {
			records = append(records, record)
		}
	})
	return records
}

func walkResults(result *sfnlocal.ExecutionResult, visit func(*sfnlocal.StateExecutionRecord)) {
	if result == nil {
		return
	}
	for _, record := range result.StateExecutions {
		visit(record)
	}
	for _, run := range result.MapExecutions {
		for _, iteration := range run.Iterations {
			walkResults(iteration, visit)
		}
	}
	for _, run := range result.ParallelExecutions {
		for _, branch := range run.Branches {
			walkResults(branch, visit)
		}
	}
}

func evaluateMap(me *MapExpectation, result *sfnlocal.ExecutionResult) []Result {
	runs := result.MapExecutionsFor(me.State)
	if len(runs) == 0 {
		return []Result{{
			Kind:    KindMap,
			Message: fmt.Sprintf("map state %q was never executed", me.State),
		}}
	}

	var results []Result
	for _, run := range runs {
		if me.IterationCount != nil && len(run.Iterations) != *me.IterationCount {
			results = append(results, Result{
				Kind: KindMap,
				Message: fmt.Sprintf("map state %q ran %d iterations, expected %d",
					me.State, len(run.Iterations), *me.IterationCount),
			})
		}
		for i, expectedPath := range me.IterationPaths {
			if expectedPath == nil {
				continue
			}
			if i >= len(run.Iterations) {
				results = append(results, Result{
					Kind:    KindMap,
					Message: fmt.Sprintf("map state %q has no iteration %d", me.State, i),
				})
				continue
			}
			actual := run.Iterations[i].ExecutionPath
			if divergence := pathDivergence(expectedPath, actual); divergence >= 0 {
				results = append(results, Result{
					Kind: KindMap,
					Message: fmt.Sprintf("iteration %d of map state %q diverges at index %d: expected %v, got %v",
						i, me.State, divergence, expectedPath, actual),
					Diff: NewDiff(toAny(expectedPath), toAny(actual), false),
				})
			}
		}
	}
	if len(results) == 0 {
		results = append(results, Result{Kind: KindMap, Passed: true})
	}
	return results
}

func evaluateParallel(pe *ParallelExpectation, result *sfnlocal.ExecutionResult) []Result {
	runs := result.ParallelExecutionsFor(pe.State)
	if len(runs) == 0 {
		return []Result{{
			Kind:    KindParallel,
			Message: fmt.Sprintf("parallel state %q was never executed", pe.State),
		}}
	}

	var results []Result
	for _, run := range runs {
		if pe.BranchCount != nil && len(run.Branches) != *pe.BranchCount {
			results = append(results, Result{
				Kind: KindParallel,
				Message: fmt.Sprintf("parallel state %q ran %d branches, expected %d",
					pe.State, len(run.Branches), *pe.BranchCount),
			})
		}
		for i, expectedPath := range pe.BranchPaths {
			if expectedPath == nil {
				continue
			}
			if i >= len(run.Branches) {
				results = append(results, Result{
					Kind:    KindParallel,
					Message: fmt.Sprintf("parallel state %q has no branch %d", pe.State, i),
				})
				continue
			}
			actual := run.Branches[i].ExecutionPath
			if divergence := pathDivergence(expectedPath, actual); divergence >= 0 {
				results = append(results, Result{
					Kind: KindParallel,
					Message: fmt.Sprintf("branch %d of parallel state %q diverges at index %d: expected %v, got %v",
						i, pe.State, divergence, expectedPath, actual),
					Diff: NewDiff(toAny(expectedPath), toAny(actual), false),
				})
			}
		}
	}
	if len(results) == 0 {
		results = append(results, Result{Kind: KindParallel, Passed: true})
	}
	return results
}

func evaluateError(ee *ErrorExpectation, result *sfnlocal.ExecutionResult) Result {
	if result.Error == nil {
		return Result{
			Kind:    KindError,
			Message: fmt.Sprintf("expected error %q but the execution succeeded", ee.Error),
		}
	}
	if result.Error.Name != ee.Error {
		return Result{
			Kind: KindError,
			Message: fmt.Sprintf("expected error %q, got %q (%s)",
				ee.Error, result.Error.Name, result.Error.Cause),
		}
	}
	if ee.Cause != "" && result.Error.Cause != ee.Cause {
		return Result{
			Kind: KindError,
			Message: fmt.Sprintf("error cause mismatch: expected %q, got %q",
				ee.Cause, result.Error.Cause),
			Diff: NewDiff(ee.Cause, result.Error.Cause, false),
		}
	}
	return Result{Kind: KindError, Passed: true}
}

// evaluateVariables checks the final variables mapping. Variables always
// match as a subset so unrelated assignments do not fail the expectation.
func evaluateVariables(tc *TestCase, result *sfnlocal.ExecutionResult) Result {
	actual := map[string]any{}
	for k, v := range result.Variables {
		actual[k] = v
	}
	if matches(tc.ExpectedVariables, actual, true) {
		return Result{Kind: KindVariables, Passed: true}
	}
	return Result{
		Kind:    KindVariables,
		Message: "final variables do not match expectation",
		Diff:    NewDiff(tc.ExpectedVariables, actual, true),
	}
}
