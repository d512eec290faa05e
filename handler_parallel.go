package sfnlocal

import (
	"context"
	"fmt"

	"github.com/deepnoodle-ai/sfnlocal/jsonutil"
)

func (e *Execution) executeParallelState(ctx context.Context, name string, state *State, es *executionState) *stateResult {
	if len(state.Branches) == 0 {
		return failure(NewFatalError(ErrStatesRuntime,
			fmt.Sprintf("parallel state %q has no branches", name)))
	}
	jsonataMode := state.effectiveQueryLanguage(e.machine) == QueryLanguageJSONata

	var effective any
	if jsonataMode {
		if state.Arguments != nil {
			built, serr := e.evalJSONataValue(ctx, state.Arguments, e.jsonataGlobals(es, es.input, nil, nil))
			if serr != nil {
				return failure(serr)
			}
			effective = built
		} else {
			effective = es.input
		}
	} else {
		var serr *StatesError
		effective, serr = e.applyInputPath(state, es)
		if serr != nil {
			return failure(serr)
		}
		effective, serr = e.applyParameters(state, effective, es)
		if serr != nil {
			return failure(serr)
		}
	}

	// Each branch gets an isolated copy of the effective input so branch
	// mutations cannot leak across siblings.
	inputs := make([]any, len(state.Branches))
	for i := range state.Branches {
		inputs[i] = jsonutil.DeepCopy(effective)
	}

	branches, firstErr := e.runConcurrently(ctx, es, len(state.Branches), inputs,
		func(ctx context.Context, i int, input any) (*ExecutionResult, error) {
			return e.runNested(ctx, state.Branches[i], input, es, fmt.Sprintf("%s[%d]", name, i))
		})

	es.parallelRuns = append(es.parallelRuns, &ParallelExecution{
		StateName: name,
		Branches:  branches,
	})

	if firstErr != nil {
		serr := ClassifyError(firstErr)
		branchErr := NewStatesErrorf(ErrStatesBranchFailed, "branch of %q failed: %s", name, serr.Error())
		branchErr.Wrapped = serr
		return e.applyCatchers(ctx, name, state, es, branchErr)
	}

	outputs := make([]any, len(branches))
	for i, branch := range branches {
		outputs[i] = branch.Output
	}

	var output any
	var serr *StatesError
	if jsonataMode {
		output, serr = e.processJSONataOutput(ctx, state, es, any(outputs))
	} else {
		output, serr = e.processJSONPathOutput(state, es, es.input, any(outputs))
	}
	if serr != nil {
		return failure(serr)
	}
	return &stateResult{output: output, next: state.Next, processedInput: effective}
}
