package sfnlocal

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStateNullVersusAbsentFields(t *testing.T) {
	t.Run("absent fields", func(t *testing.T) {
		var s State
		require.NoError(t, json.Unmarshal([]byte(`{"Type": "Pass", "End": true}`), &s))
		require.False(t, s.inputPathSet)
		require.False(t, s.outputPathSet)
		require.False(t, s.resultPathSet)
		require.False(t, s.resultSet)
	})

	t.Run("explicit nulls", func(t *testing.T) {
		var s State
		require.NoError(t, json.Unmarshal([]byte(
			`{"Type": "Task", "InputPath": null, "OutputPath": null, "ResultPath": null, "End": true}`), &s))
		require.True(t, s.inputPathSet)
		require.Nil(t, s.InputPath)
		require.True(t, s.outputPathSet)
		require.Nil(t, s.OutputPath)
		require.True(t, s.resultPathSet)
		require.Nil(t, s.ResultPath)
	})

	t.Run("explicit values", func(t *testing.T) {
		var s State
		require.NoError(t, json.Unmarshal([]byte(
			`{"Type": "Pass", "InputPath": "$.a", "Result": null, "End": true}`), &s))
		require.True(t, s.inputPathSet)
		require.Equal(t, "$.a", *s.InputPath)
		// An explicit null Result still counts as a declared result.
		require.True(t, s.resultSet)
		require.Nil(t, s.Result)
	})
}

func TestStatePredicates(t *testing.T) {
	require.True(t, (&State{Type: StateTypeSucceed}).IsTerminal())
	require.True(t, (&State{Type: StateTypeFail}).IsTerminal())
	require.True(t, (&State{Type: StateTypePass, End: true}).IsTerminal())
	require.False(t, (&State{Type: StateTypePass, Next: "X"}).IsTerminal())

	require.True(t, (&State{Type: StateTypeTask}).IsTaskLike())
	require.True(t, (&State{Type: StateTypeWait}).IsTaskLike())
	require.False(t, (&State{Type: StateTypePass}).IsTaskLike())
}

func TestProcessorAcceptsLegacyIterator(t *testing.T) {
	inner := &StateMachine{StartAt: "X", States: map[string]*State{"X": {Type: StateTypePass, End: true}}}
	require.Equal(t, inner, (&State{Type: StateTypeMap, Iterator: inner}).Processor())
	require.Equal(t, inner, (&State{Type: StateTypeMap, ItemProcessor: inner}).Processor())
}

func TestDistributedMapDetection(t *testing.T) {
	distributed := &State{Type: StateTypeMap, ItemProcessor: &StateMachine{
		ProcessorConfig: map[string]any{"Mode": "DISTRIBUTED"},
	}}
	require.True(t, distributed.IsDistributedMap())

	inline := &State{Type: StateTypeMap, ItemProcessor: &StateMachine{
		ProcessorConfig: map[string]any{"Mode": "INLINE"},
	}}
	require.False(t, inline.IsDistributedMap())
}

func TestEffectiveQueryLanguage(t *testing.T) {
	machine := &StateMachine{QueryLanguage: QueryLanguageJSONata}
	require.Equal(t, QueryLanguageJSONata, (&State{}).effectiveQueryLanguage(machine))
	require.Equal(t, QueryLanguageJSONPath, (&State{}).effectiveQueryLanguage(&StateMachine{}))
	require.Equal(t, QueryLanguageJSONPath,
		(&State{QueryLanguage: QueryLanguageJSONPath}).effectiveQueryLanguage(machine))
}

func TestValidateRejectsBrokenMachines(t *testing.T) {
	tests := []struct {
		name       string
		definition string
		wantErr    string
	}{
		{
			"missing start",
			`{"States": {"A": {"Type": "Succeed"}}}`,
			"requires StartAt",
		},
		{
			"start not found",
			`{"StartAt": "Missing", "States": {"A": {"Type": "Succeed"}}}`,
			"not found",
		},
		{
			"dangling next",
			`{"StartAt": "A", "States": {"A": {"Type": "Pass", "Next": "Ghost"}}}`,
			`target "Ghost" not found`,
		},
		{
			"unknown type",
			`{"StartAt": "A", "States": {"A": {"Type": "Teleport"}}}`,
			"unknown state type",
		},
		{
			"map without processor",
			`{"StartAt": "A", "States": {"A": {"Type": "Map", "End": true}}}`,
			"requires an ItemProcessor",
		},
		{
			"parallel without branches",
			`{"StartAt": "A", "States": {"A": {"Type": "Parallel", "End": true}}}`,
			"requires Branches",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseStateMachine([]byte(tc.definition))
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.wantErr)
		})
	}
}
