// Package runner executes a parsed test suite against one state machine:
// per-case mock overrides, wall-clock timeouts, assertion evaluation, and
// aggregate coverage across the whole suite.
package runner

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/deepnoodle-ai/sfnlocal"
	"github.com/deepnoodle-ai/sfnlocal/assertions"
	"github.com/deepnoodle-ai/sfnlocal/coverage"
	"github.com/deepnoodle-ai/sfnlocal/mock"
)

// Suite is a parsed test suite document.
type Suite struct {
	Version   string                 `json:"version,omitempty" yaml:"version,omitempty"`
	Name      string                 `json:"name,omitempty" yaml:"name,omitempty"`
	Settings  assertions.Settings    `json:"settings,omitempty" yaml:"settings,omitempty"`
	TestCases []*assertions.TestCase `json:"testCases" yaml:"testCases"`
}

// CaseStatus classifies one test case's outcome. Timeouts are their own
// status, never folded into assertion failures.
type CaseStatus string

const (
	CasePassed   CaseStatus = "passed"
	CaseFailed   CaseStatus = "failed"
	CaseSkipped  CaseStatus = "skipped"
	CaseTimedOut CaseStatus = "timed_out"
)

// CaseResult is the judgment of one test case, with the full execution
// trace preserved for diagnostics regardless of pass/fail.
type CaseResult struct {
	Name       string
	Status     CaseStatus
	Assertions []assertions.Result
	Execution  *sfnlocal.ExecutionResult
	Duration   time.Duration
	Err        error
}

// Failures returns the failing assertion results.
func (r *CaseResult) Failures() []assertions.Result {
	var failures []assertions.Result
	for _, a := range r.Assertions {
		if !a.Passed {
			failures = append(failures, a)
		}
	}
	return failures
}

// SuiteResult aggregates every case plus the suite-wide coverage report.
type SuiteResult struct {
	Name     string
	Cases    []*CaseResult
	Coverage *coverage.Report
	Passed   int
	Failed   int
	Skipped  int
	TimedOut int
}

// Success reports whether every executed case passed.
func (r *SuiteResult) Success() bool {
	return r.Failed == 0 && r.TimedOut == 0
}

// DefaultCaseTimeout bounds a test case that declares no timeout of its own.
const DefaultCaseTimeout = 30 * time.Second

// Options configures a Runner.
type Options struct {
	Execution      *sfnlocal.Execution
	Mocks          *mock.Engine
	Tracker        *coverage.Tracker
	Logger         *slog.Logger
	Formatter      Formatter
	DefaultTimeout time.Duration
}

// Runner runs suites. The coverage tracker is shared across every case and
// every Run call so coverage reflects the whole session.
type Runner struct {
	execution      *sfnlocal.Execution
	mocks          *mock.Engine
	tracker        *coverage.Tracker
	logger         *slog.Logger
	formatter      Formatter
	defaultTimeout time.Duration
}

// NewRunner validates the options and returns a Runner.
func NewRunner(opts Options) (*Runner, error) {
	if opts.Execution == nil {
		return nil, fmt.Errorf("execution is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Tracker == nil {
		opts.Tracker = coverage.NewTracker(opts.Execution.StateMachine())
	}
	if opts.Formatter == nil {
		opts.Formatter = NullFormatter{}
	}
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = DefaultCaseTimeout
	}
	return &Runner{
		execution:      opts.Execution,
		mocks:          opts.Mocks,
		tracker:        opts.Tracker,
		logger:         opts.Logger,
		formatter:      opts.Formatter,
		defaultTimeout: opts.DefaultTimeout,
	}, nil
}

// Tracker returns the suite-wide coverage tracker.
func (r *Runner) Tracker() *coverage.Tracker {
	return r.tracker
}

// Run executes the suite. Assertion failures never abort the run; every
// selected case executes and reports.
func (r *Runner) Run(ctx context.Context, suite *Suite) *SuiteResult {
	result := &SuiteResult{Name: suite.Name}
	r.formatter.PrintSuiteStart(suite.Name, len(suite.TestCases))

	selected := selectCases(suite.TestCases)
	for _, tc := range suite.TestCases {
		if !selected[tc] {
			r.formatter.PrintCaseSkipped(tc.Name)
			result.Cases = append(result.Cases, &CaseResult{Name: tc.Name, Status: CaseSkipped})
			result.Skipped++
			continue
		}
		caseResult := r.runCase(ctx, tc, suite.Settings)
		result.Cases = append(result.Cases, caseResult)
		switch caseResult.Status {
		case CasePassed:
			result.Passed++
		case CaseTimedOut:
			result.TimedOut++
		default:
			result.Failed++
		}
		r.formatter.PrintCaseResult(caseResult)
	}

	result.Coverage = r.tracker.Report()
	r.formatter.PrintSuiteResult(result)
	return result
}

// selectCases honors Only flags: when any case declares Only, only those
// cases run. Skip always wins over Only.
func selectCases(cases []*assertions.TestCase) map[*assertions.TestCase]bool {
	anyOnly := false
	for _, tc := range cases {
		if tc.Only && !tc.Skip {
			anyOnly = true
			break
		}
	}
	selected := make(map[*assertions.TestCase]bool, len(cases))
	for _, tc := range cases {
		if tc.Skip {
			continue
		}
		if anyOnly && !tc.Only {
			continue
		}
		selected[tc] = true
	}
	return selected
}

type executionOutcome struct {
	result *sfnlocal.ExecutionResult
	err    error
}

func (r *Runner) runCase(ctx context.Context, tc *assertions.TestCase, settings assertions.Settings) *CaseResult {
	r.formatter.PrintCaseStart(tc.Name)
	r.logger.Debug("running test case", "case", tc.Name)

	if r.mocks != nil {
		r.mocks.ResetCallCounts()
		if len(tc.MockOverrides) > 0 {
			r.mocks.SetOverrides(tc.MockOverrides)
			defer r.mocks.ClearOverrides()
		}
	}

	timeout := r.defaultTimeout
	if tc.TimeoutSeconds > 0 {
		timeout = time.Duration(tc.TimeoutSeconds * float64(time.Second))
	}
	caseCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	start := time.Now()
	outcomes := make(chan executionOutcome, 1)
	go func() {
		result, err := r.execution.Execute(caseCtx, tc.Input)
		outcomes <- executionOutcome{result: result, err: err}
	}()

	var outcome executionOutcome
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case outcome = <-outcomes:
	case <-timer.C:
		// The in-flight execution is abandoned; cancel tells it to stop
		// at its next transition.
		cancel()
		r.logger.Warn("test case timed out", "case", tc.Name, "timeout", timeout)
		return &CaseResult{
			Name:     tc.Name,
			Status:   CaseTimedOut,
			Duration: time.Since(start),
			Err:      fmt.Errorf("test case %q timed out after %s", tc.Name, timeout),
		}
	}

	// Coverage learns from every completed execution, failing runs
	// included.
	r.tracker.TrackResult(outcome.result)

	caseResult := &CaseResult{
		Name:       tc.Name,
		Execution:  outcome.result,
		Duration:   time.Since(start),
		Assertions: assertions.Evaluate(tc, outcome.result, settings),
	}

	failed := false
	for _, a := range caseResult.Assertions {
		if !a.Passed {
			failed = true
			break
		}
	}
	if outcome.err != nil && tc.ExpectedError == nil {
		failed = true
		caseResult.Err = outcome.err
	}
	if failed {
		caseResult.Status = CaseFailed
	} else {
		caseResult.Status = CasePassed
	}
	return caseResult
}
