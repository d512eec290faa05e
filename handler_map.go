package sfnlocal

import (
	"context"
	"fmt"
	"sync"

	"github.com/deepnoodle-ai/sfnlocal/jsonpath"
	"github.com/deepnoodle-ai/sfnlocal/jsonutil"
)

// iterationOutcome carries one Map iteration's (or Parallel branch's) result
// back from its goroutine. Index preserves declaration order regardless of
// completion order.
type iterationOutcome struct {
	index  int
	result *ExecutionResult
	err    error
}

func (e *Execution) executeMapState(ctx context.Context, name string, state *State, es *executionState) *stateResult {
	processor := state.Processor()
	if processor == nil {
		return failure(NewFatalError(ErrStatesRuntime,
			fmt.Sprintf("map state %q has no item processor", name)))
	}
	jsonataMode := state.effectiveQueryLanguage(e.machine) == QueryLanguageJSONata

	var effective any
	if jsonataMode {
		effective = es.input
	} else {
		var serr *StatesError
		effective, serr = e.applyInputPath(state, es)
		if serr != nil {
			return failure(serr)
		}
	}

	items, serr := e.resolveItems(ctx, name, state, es, effective)
	if serr != nil {
		return e.applyCatchers(ctx, name, state, es, serr)
	}

	inputs := make([]any, len(items))
	for i, item := range items {
		itemInput, serr := e.buildItemInput(ctx, state, es, effective, item, i, len(items))
		if serr != nil {
			return failure(serr)
		}
		inputs[i] = itemInput
	}

	iterations, firstErr := e.runConcurrently(ctx, es, state.MaxConcurrency, inputs,
		func(ctx context.Context, i int, input any) (*ExecutionResult, error) {
			return e.runNested(ctx, processor, input, es, fmt.Sprintf("%s[%d]", name, i))
		})

	es.mapRuns = append(es.mapRuns, &MapExecution{
		StateName:  name,
		Iterations: iterations,
	})

	if firstErr != nil {
		return e.applyCatchers(ctx, name, state, es, ClassifyError(firstErr))
	}

	outputs := make([]any, len(iterations))
	for i, iteration := range iterations {
		outputs[i] = iteration.Output
	}

	var output any
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

// resolveItems materializes the item collection from Items (JSONata mode),
// the mock-backed ItemReader (distributed mode), or ItemsPath.
func (e *Execution) resolveItems(ctx context.Context, name string, state *State, es *executionState, effective any) ([]any, *StatesError) {
	if state.Items != nil {
		value, serr := e.evalJSONataValue(ctx, state.Items, e.jsonataGlobals(es, es.input, nil, nil))
		if serr != nil {
			return nil, serr
		}
		items, ok := value.([]any)
		if !ok {
			return nil, NewStatesErrorf(ErrStatesQueryEvaluationError,
				"Items must evaluate to an array, got %T", value)
		}
		return items, nil
	}

	if state.ItemReader != nil {
		if e.mocks == nil {
			return nil, NewFatalError(ErrStatesRuntime,
				fmt.Sprintf("map state %q declares an ItemReader but no mock engine is configured", name))
		}
		reader := map[string]any{
			"Resource":     state.ItemReader.Resource,
			"Parameters":   state.ItemReader.Parameters,
			"ReaderConfig": state.ItemReader.ReaderConfig,
		}
		items, err := e.mocks.ReadItems(name, reader)
		if err != nil {
			return nil, NewStatesErrorf(ErrStatesItemReaderFailed, "%v", err)
		}
		if state.ItemReader.MaxItems > 0 && len(items) > state.ItemReader.MaxItems {
			items = items[:state.ItemReader.MaxItems]
		}
		return items, nil
	}

	source := effective
	if state.ItemsPath != "" {
		value, err := jsonpath.Resolve(state.ItemsPath, effective, es.scope())
		if err != nil {
			return nil, NewStatesErrorf(ErrStatesParameterPathFailure, "ItemsPath: %v", err)
		}
		source = value
	}
	items, ok := source.([]any)
	if !ok {
		return nil, NewStatesErrorf(ErrStatesRuntime,
			"map state input must be an array, got %T", source)
	}
	return items, nil
}

// buildItemInput computes one iteration's input. ItemSelector (or the legacy
// Parameters field) is evaluated with the item bound into the context object
// as $$.Map.Item; without a selector the item passes through unchanged.
func (e *Execution) buildItemInput(ctx context.Context, state *State, es *executionState, effective, item any, index, total int) (any, *StatesError) {
	selector := state.ItemSelector
	if selector == nil && state.Parameters != nil {
		selector = state.Parameters
	}
	if selector == nil {
		return jsonutil.DeepCopy(item), nil
	}

	mapContext := map[string]any{
		"Item": map[string]any{
			"Index": float64(index),
			"Value": item,
		},
		"Length": float64(total),
	}

	if state.effectiveQueryLanguage(e.machine) == QueryLanguageJSONata {
		globals := e.jsonataGlobals(es, es.input, nil, nil)
		if states, ok := globals["states"].(map[string]any); ok {
			contextCopy := jsonutil.CopyMap(es.contextObject)
			contextCopy["Map"] = mapContext
			states["context"] = contextCopy
		}
		return e.evalJSONataValue(ctx, selector, globals)
	}

	contextCopy := jsonutil.CopyMap(es.contextObject)
	contextCopy["Map"] = mapContext
	scope := jsonpath.Scope{Context: contextCopy, Variables: es.variables}
	built, err := e.intrinsics.ProcessPayloadTemplate(selector, effective, scope)
	if err != nil {
		return nil, NewStatesErrorf(ErrStatesParameterPathFailure, "ItemSelector: %v", err)
	}
	return built, nil
}

// runConcurrently fans the inputs out across at most maxConcurrency
// goroutines and reassembles results in input order. A failed unit does not
// cancel its siblings; their traces stay part of the record. The returned
// error is the failure of the lowest-indexed failed unit.
func (e *Execution) runConcurrently(
	ctx context.Context,
	es *executionState,
	maxConcurrency int,
	inputs []any,
	runUnit func(ctx context.Context, i int, input any) (*ExecutionResult, error),
) ([]*ExecutionResult, error) {
	if maxConcurrency <= 0 || maxConcurrency > len(inputs) {
		maxConcurrency = len(inputs)
	}
	if maxConcurrency == 0 {
		return []*ExecutionResult{}, nil
	}

	outcomes := make(chan iterationOutcome, len(inputs))
	semaphore := make(chan struct{}, maxConcurrency)
	var wg sync.WaitGroup
	for i, input := range inputs {
		wg.Add(1)
		go func(i int, input any) {
			defer wg.Done()
			semaphore <- struct{}{}
			defer func() { <-semaphore }()
			result, err := runUnit(ctx, i, input)
			outcomes <- iterationOutcome{index: i, result: result, err: err}
		}(i, input)
	}
	wg.Wait()
	close(outcomes)

	results := make([]*ExecutionResult, len(inputs))
	errs := make([]error, len(inputs))
	for outcome := range outcomes {
		results[outcome.index] = outcome.result
		errs[outcome.index] = outcome.err
		// A Fail state terminates its nested machine without a Go error but
		// still marks the result unsuccessful. The parent treats it like any
		// other unit failure.
		if errs[outcome.index] == nil && outcome.result != nil && outcome.result.Error != nil {
			errs[outcome.index] = outcome.result.Error
		}
	}
	for _, err := range errs {
		if err != nil {
			return results, err
		}
	}
	return results, nil
}
