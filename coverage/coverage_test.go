package coverage

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/deepnoodle-ai/sfnlocal"
)

const choiceMachine = `{
	"StartAt": "Classify",
	"States": {
		"Classify": {
			"Type": "Choice",
			"Choices": [
				{"Variable": "$.tier", "StringEquals": "gold", "Next": "Priority"},
				{"Variable": "$.tier", "StringEquals": "silver", "Next": "Standard"}
			],
			"Default": "Standard"
		},
		"Priority": {"Type": "Pass", "Next": "Done"},
		"Standard": {"Type": "Pass", "Next": "Done"},
		"Done": {"Type": "Succeed"}
	}
}`

func parseMachine(t *testing.T, definition string) *sfnlocal.StateMachine {
	t.Helper()
	machine, err := sfnlocal.ParseStateMachine([]byte(definition))
	require.NoError(t, err)
	return machine
}

func TestBranchTotalsIncludeDefault(t *testing.T) {
	tracker := NewTracker(parseMachine(t, choiceMachine))
	report := tracker.Report()

	require.Equal(t, 4, report.States.Total)
	require.Equal(t, 0, report.States.Covered)
	require.Equal(t, float64(0), report.States.Percent)

	// Two rules plus the Default, even though both routes lead to Standard.
	require.Equal(t, 3, report.Branches.Total)
	require.Len(t, report.Branches.Exercised, 2)
	require.Contains(t, report.Branches.Exercised, "Classify->Priority")
	require.Contains(t, report.Branches.Exercised, "Classify->Standard")
}

func TestPathCoversStatesAndChoiceEdges(t *testing.T) {
	tracker := NewTracker(parseMachine(t, choiceMachine))
	tracker.TrackExecution([]string{"Classify", "Priority", "Done"})

	report := tracker.Report()
	require.Equal(t, 3, report.States.Covered)
	require.Equal(t, []string{"Standard"}, report.States.Uncovered)
	require.Equal(t, float64(75), report.States.Percent)
	require.Equal(t, 1, report.Branches.Covered)
	require.True(t, report.Branches.Exercised["Classify->Priority"])
	require.False(t, report.Branches.Exercised["Classify->Standard"])
}

func TestCoverageAccumulatesAcrossExecutions(t *testing.T) {
	tracker := NewTracker(parseMachine(t, choiceMachine))
	tracker.TrackExecution([]string{"Classify", "Priority", "Done"})
	tracker.TrackExecution([]string{"Classify", "Standard", "Done"})

	report := tracker.Report()
	require.Equal(t, float64(100), report.States.Percent)
	// The observed Classify->Standard transition satisfies both the silver
	// rule and the Default, so all three branches are covered.
	require.Equal(t, 3, report.Branches.Covered)
	require.Equal(t, float64(100), report.Branches.Percent)

	// Reporting is a pure read; totals keep accumulating afterwards.
	tracker.TrackExecution([]string{"Classify", "Standard", "Done"})
	require.Equal(t, 3, tracker.Report().Branches.Covered)
}

func TestTrackBranchDirectly(t *testing.T) {
	tracker := NewTracker(parseMachine(t, choiceMachine))
	tracker.TrackBranch("Classify", "Standard")
	tracker.TrackBranch("Classify", "Nowhere")

	report := tracker.Report()
	// Standard is reachable through the silver rule and the Default; both
	// count. The unknown target is ignored.
	require.Equal(t, 2, report.Branches.Covered)
	require.True(t, report.Branches.Exercised["Classify->Standard"])
	require.False(t, report.Branches.Exercised["Classify->Priority"])
}

func TestUnknownStatesInPathAreIgnored(t *testing.T) {
	tracker := NewTracker(parseMachine(t, choiceMachine))
	tracker.TrackExecution([]string{"Classify", "Ghost", "Done"})

	report := tracker.Report()
	require.Equal(t, 2, report.States.Covered)
	require.Equal(t, 0, report.Branches.Covered)
}

const nestedMachine = `{
	"StartAt": "Fan",
	"States": {
		"Fan": {
			"Type": "Parallel",
			"Branches": [
				{"StartAt": "Left", "States": {"Left": {"Type": "Pass", "End": true}}},
				{"StartAt": "Right", "States": {"Right": {"Type": "Pass", "End": true}}}
			],
			"Next": "Each"
		},
		"Each": {
			"Type": "Map",
			"ItemProcessor": {
				"StartAt": "Handle",
				"States": {
					"Handle": {"Type": "Pass", "Next": "Finish"},
					"Finish": {"Type": "Succeed"}
				}
			},
			"End": true
		}
	}
}`

func TestNestedUnitsAreTrackedSeparately(t *testing.T) {
	tracker := NewTracker(parseMachine(t, nestedMachine))

	report := tracker.Report()
	require.Equal(t, 2, report.States.Total)
	require.Len(t, report.Nested, 3)
	require.Contains(t, report.Nested, "Each")
	require.Contains(t, report.Nested, "Fan[0]")
	require.Contains(t, report.Nested, "Fan[1]")
	require.Equal(t, 2, report.Nested["Each"].Total)

	result := &sfnlocal.ExecutionResult{
		ExecutionPath: []string{"Fan", "Each"},
		MapExecutions: []*sfnlocal.MapExecution{{
			StateName: "Each",
			Iterations: []*sfnlocal.ExecutionResult{
				{ExecutionPath: []string{"Handle", "Finish"}},
				{ExecutionPath: []string{"Handle", "Finish"}},
			},
		}},
		ParallelExecutions: []*sfnlocal.ParallelExecution{{
			StateName: "Fan",
			Branches: []*sfnlocal.ExecutionResult{
				{ExecutionPath: []string{"Left"}},
				{ExecutionPath: []string{"Right"}},
			},
		}},
	}
	tracker.TrackResult(result)

	report = tracker.Report()
	require.Equal(t, float64(100), report.States.Percent)
	require.Equal(t, float64(100), report.Nested["Each"].Percent)
	require.Equal(t, float64(100), report.Nested["Fan[0]"].Percent)
	require.Equal(t, float64(100), report.Nested["Fan[1]"].Percent)
}

func TestPartialNestedCoverage(t *testing.T) {
	tracker := NewTracker(parseMachine(t, nestedMachine))
	tracker.TrackMapExecutions([]*sfnlocal.MapExecution{{
		StateName: "Each",
		Iterations: []*sfnlocal.ExecutionResult{
			{ExecutionPath: []string{"Handle"}},
		},
	}})

	report := tracker.Report()
	require.Equal(t, 1, report.Nested["Each"].Covered)
	require.Equal(t, []string{"Finish"}, report.Nested["Each"].Uncovered)
	require.Equal(t, float64(50), report.Nested["Each"].Percent)
	require.Equal(t, 0, report.States.Covered)
}

func TestPercentRounding(t *testing.T) {
	machine := parseMachine(t, `{
		"StartAt": "A",
		"States": {
			"A": {"Type": "Pass", "Next": "B"},
			"B": {"Type": "Pass", "Next": "C"},
			"C": {"Type": "Succeed"}
		}
	}`)
	tracker := NewTracker(machine)
	tracker.TrackExecution([]string{"A"})

	report := tracker.Report()
	require.Equal(t, 33.33, report.States.Percent)
}

func TestEmptyBranchUnitIsFullyCovered(t *testing.T) {
	machine := parseMachine(t, `{
		"StartAt": "Only",
		"States": {"Only": {"Type": "Succeed"}}
	}`)
	report := NewTracker(machine).Report()
	require.Equal(t, 0, report.Branches.Total)
	require.Equal(t, float64(100), report.Branches.Percent)
	require.Nil(t, report.Nested)
}
