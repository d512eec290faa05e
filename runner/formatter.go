package runner

import (
	"github.com/fatih/color"

	"github.com/deepnoodle-ai/sfnlocal/jsonutil"
)

// Formatter receives suite progress output.
type Formatter interface {
	PrintSuiteStart(name string, caseCount int)
	PrintCaseStart(name string)
	PrintCaseSkipped(name string)
	PrintCaseResult(result *CaseResult)
	PrintSuiteResult(result *SuiteResult)
}

// NullFormatter discards all output.
type NullFormatter struct{}

func (NullFormatter) PrintSuiteStart(name string, caseCount int) {}
func (NullFormatter) PrintCaseStart(name string)                 {}
func (NullFormatter) PrintCaseSkipped(name string)               {}
func (NullFormatter) PrintCaseResult(result *CaseResult)         {}
func (NullFormatter) PrintSuiteResult(result *SuiteResult)       {}

// ColorFormatter prints colorized progress to stdout. It also implements
// sfnlocal.ExecutionFormatter, so the same instance can be wired into the
// execution for per-state verbose output.
type ColorFormatter struct {
	Verbose bool
}

func (f *ColorFormatter) PrintSuiteStart(name string, caseCount int) {
	color.Cyan("Suite: %s (%d test cases)", name, caseCount)
}

func (f *ColorFormatter) PrintCaseStart(name string) {
	color.Blue("--- %s", name)
}

func (f *ColorFormatter) PrintCaseSkipped(name string) {
	color.Yellow("--- %s (skipped)", name)
}

func (f *ColorFormatter) PrintCaseResult(result *CaseResult) {
	switch result.Status {
	case CasePassed:
		color.Green("PASS %s (%v)", result.Name, result.Duration)
	case CaseTimedOut:
		color.Red("TIMEOUT %s (%v)", result.Name, result.Duration)
	default:
		color.Red("FAIL %s (%v)", result.Name, result.Duration)
		for _, failure := range result.Failures() {
			color.White("  [%s] %s", failure.Kind, failure.Message)
			if f.Verbose && failure.Diff != nil && failure.Diff.Text != "" {
				color.White("%s", failure.Diff.Text)
			}
		}
		if result.Err != nil {
			color.Red("  error: %v", result.Err)
		}
	}
}

func (f *ColorFormatter) PrintSuiteResult(result *SuiteResult) {
	color.Cyan("Results: %d passed, %d failed, %d skipped, %d timed out",
		result.Passed, result.Failed, result.Skipped, result.TimedOut)
	if result.Coverage != nil {
		color.Cyan("Coverage: %.2f%% states, %.2f%% branches",
			result.Coverage.States.Percent, result.Coverage.Branches.Percent)
	}
}

// PrintStateStart implements sfnlocal.ExecutionFormatter.
func (f *ColorFormatter) PrintStateStart(stateName string, stateType string) {
	if f.Verbose {
		color.Magenta("  %s (%s)", stateName, stateType)
	}
}

// PrintStateOutput implements sfnlocal.ExecutionFormatter.
func (f *ColorFormatter) PrintStateOutput(stateName string, output any) {
	if f.Verbose {
		color.White("  %s => %s", stateName, jsonutil.MarshalIndent(output))
	}
}

// PrintStateError implements sfnlocal.ExecutionFormatter.
func (f *ColorFormatter) PrintStateError(stateName string, err error) {
	color.Red("  %s failed: %v", stateName, err)
}
