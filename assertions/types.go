// Package assertions compares expected against actual execution results and
// renders structured diffs for every failing comparison. The diff shape is
// part of the contract: reporting layers and tests consume it directly.
package assertions

import (
	"encoding/json"

	"github.com/deepnoodle-ai/sfnlocal/mock"
)

// Matching mode names shared by output and per-state expectations.
const (
	MatchExact   = "exact"
	MatchPartial = "partial"
)

// Path matching mode names.
const (
	PathExact    = "exact"
	PathIncludes = "includes"
)

// Settings holds suite-wide assertion defaults. A test case may override
// them per expectation.
type Settings struct {
	OutputMatching string `json:"outputMatching,omitempty" yaml:"outputMatching,omitempty"`
	PathMatching   string `json:"pathMatching,omitempty" yaml:"pathMatching,omitempty"`
}

// TestCase is one parsed test case: an input plus any combination of
// expectation kinds, each evaluated independently.
type TestCase struct {
	Name           string `json:"name" yaml:"name"`
	Input          any    `json:"input,omitempty" yaml:"input,omitempty"`
	ExpectedOutput any    `json:"expectedOutput,omitempty" yaml:"expectedOutput,omitempty"`
	OutputMatching string `json:"outputMatching,omitempty" yaml:"outputMatching,omitempty"`

	// ExpectedPath is a full path (exact mode) or one contiguous
	// subsequence (includes mode). ExpectedPathSegments lists several
	// subsequences that must each appear, in order, with gaps allowed
	// between them.
	ExpectedPath         []string   `json:"expectedPath,omitempty" yaml:"expectedPath,omitempty"`
	ExpectedPathSegments [][]string `json:"expectedPathSegments,omitempty" yaml:"expectedPathSegments,omitempty"`
	PathMatching         string     `json:"pathMatching,omitempty" yaml:"pathMatching,omitempty"`

	ExpectedStates    []*StateExpectation    `json:"expectedStates,omitempty" yaml:"expectedStates,omitempty"`
	ExpectedMaps      []*MapExpectation      `json:"expectedMaps,omitempty" yaml:"expectedMaps,omitempty"`
	ExpectedParallels []*ParallelExpectation `json:"expectedParallels,omitempty" yaml:"expectedParallels,omitempty"`
	ExpectedError     *ErrorExpectation      `json:"expectedError,omitempty" yaml:"expectedError,omitempty"`
	ExpectedVariables map[string]any         `json:"expectedVariables,omitempty" yaml:"expectedVariables,omitempty"`

	MockOverrides  []*mock.MockDefinition `json:"mockOverrides,omitempty" yaml:"mockOverrides,omitempty"`
	TimeoutSeconds float64                `json:"timeoutSeconds,omitempty" yaml:"timeoutSeconds,omitempty"`
	Skip           bool                   `json:"skip,omitempty" yaml:"skip,omitempty"`
	Only           bool                   `json:"only,omitempty" yaml:"only,omitempty"`

	expectedOutputSet bool
}

// UnmarshalJSON records whether expectedOutput was declared, since an
// explicit null output is a valid expectation.
func (tc *TestCase) UnmarshalJSON(data []byte) error {
	type alias TestCase
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*tc = TestCase(a)
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return err
	}
	_, tc.expectedOutputSet = probe["expectedOutput"]
	return nil
}

// ExpectOutput declares an expected output programmatically, equivalent to
// an expectedOutput key in the document.
func (tc *TestCase) ExpectOutput(output any) *TestCase {
	tc.ExpectedOutput = output
	tc.expectedOutputSet = true
	return tc
}

// HasExpectedOutput reports whether the case declares an output expectation.
func (tc *TestCase) HasExpectedOutput() bool {
	return tc.expectedOutputSet
}

// StateExpectation checks the recorded input and/or output of one state.
// State is a bare name (matches every occurrence, nested scopes included)
// or a fully qualified dotted path such as "ProcessItems[0].Validate".
type StateExpectation struct {
	State    string `json:"state" yaml:"state"`
	Input    any    `json:"input,omitempty" yaml:"input,omitempty"`
	Output   any    `json:"output,omitempty" yaml:"output,omitempty"`
	Matching string `json:"matching,omitempty" yaml:"matching,omitempty"`

	inputSet  bool
	outputSet bool
}

func (se *StateExpectation) UnmarshalJSON(data []byte) error {
	type alias StateExpectation
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*se = StateExpectation(a)
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return err
	}
	_, se.inputSet = probe["input"]
	_, se.outputSet = probe["output"]
	return nil
}

// ExpectInput declares an input expectation programmatically.
func (se *StateExpectation) ExpectInput(input any) *StateExpectation {
	se.Input = input
	se.inputSet = true
	return se
}

// ExpectOutput declares an output expectation programmatically.
func (se *StateExpectation) ExpectOutput(output any) *StateExpectation {
	se.Output = output
	se.outputSet = true
	return se
}

// MapExpectation checks a Map state's iteration count and, optionally, the
// execution path of individual iterations by index.
type MapExpectation struct {
	State          string     `json:"state" yaml:"state"`
	IterationCount *int       `json:"iterationCount,omitempty" yaml:"iterationCount,omitempty"`
	IterationPaths [][]string `json:"iterationPaths,omitempty" yaml:"iterationPaths,omitempty"`
}

// ParallelExpectation checks a Parallel state's branch count and, optionally,
// the execution path of individual branches by index.
type ParallelExpectation struct {
	State       string     `json:"state" yaml:"state"`
	BranchCount *int       `json:"branchCount,omitempty" yaml:"branchCount,omitempty"`
	BranchPaths [][]string `json:"branchPaths,omitempty" yaml:"branchPaths,omitempty"`
}

// ErrorExpectation asserts that the execution failed with the named error.
// An empty Cause matches any cause.
type ErrorExpectation struct {
	Error string `json:"error" yaml:"error"`
	Cause string `json:"cause,omitempty" yaml:"cause,omitempty"`
}

// Result is the judgment of one expectation.
type Result struct {
	Kind    string `json:"kind"`
	Passed  bool   `json:"passed"`
	Message string `json:"message,omitempty"`
	Diff    *Diff  `json:"diff,omitempty"`
}

// Expectation kind names used in Result.Kind.
const (
	KindOutput    = "output"
	KindPath      = "path"
	KindState     = "state"
	KindMap       = "map"
	KindParallel  = "parallel"
	KindError     = "error"
	KindVariables = "variables"
)
