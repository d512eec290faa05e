package sfnlocal

import (
	"context"
	"fmt"

	"github.com/deepnoodle-ai/sfnlocal/jsonpath"
	"github.com/deepnoodle-ai/sfnlocal/jsonutil"
	"github.com/deepnoodle-ai/sfnlocal/script"
)

// stateResult is the outcome of one state handler. A nil err with an empty
// next means the state was terminal. A non-nil err with a non-empty next
// means a Catch policy converted the failure into a recorded transition.
type stateResult struct {
	output         any
	next           string
	processedInput any
	err            *StatesError
}

func failure(serr *StatesError) *stateResult {
	return &stateResult{err: serr}
}

// executeState dispatches to the handler for the state's kind. The switch is
// exhaustive over the closed set of state types.
func (e *Execution) executeState(ctx context.Context, name string, state *State, es *executionState) *stateResult {
	switch state.Type {
	case StateTypePass:
		return e.executePassState(ctx, state, es)
	case StateTypeTask:
		return e.executeTaskState(ctx, name, state, es)
	case StateTypeChoice:
		return e.executeChoiceState(ctx, name, state, es)
	case StateTypeWait:
		return e.executeWaitState(ctx, name, state, es)
	case StateTypeSucceed:
		return e.executeSucceedState(ctx, state, es)
	case StateTypeFail:
		return e.executeFailState(ctx, state, es)
	case StateTypeMap:
		return e.executeMapState(ctx, name, state, es)
	case StateTypeParallel:
		return e.executeParallelState(ctx, name, state, es)
	default:
		return failure(NewFatalError(ErrStatesRuntime,
			fmt.Sprintf("unknown state type %q", state.Type)))
	}
}

func (e *Execution) executePassState(ctx context.Context, state *State, es *executionState) *stateResult {
	if state.effectiveQueryLanguage(e.machine) == QueryLanguageJSONata {
		output, serr := e.processJSONataOutput(ctx, state, es, es.input)
		if serr != nil {
			return failure(serr)
		}
		return &stateResult{output: output, next: state.Next, processedInput: es.input}
	}

	effective, serr := e.applyInputPath(state, es)
	if serr != nil {
		return failure(serr)
	}
	processed, serr := e.applyParameters(state, effective, es)
	if serr != nil {
		return failure(serr)
	}
	result := processed
	if state.resultSet {
		result = jsonutil.DeepCopy(state.Result)
	}
	output, serr := e.processJSONPathOutput(state, es, es.input, result)
	if serr != nil {
		return failure(serr)
	}
	return &stateResult{output: output, next: state.Next, processedInput: processed}
}

func (e *Execution) executeTaskState(ctx context.Context, name string, state *State, es *executionState) *stateResult {
	if e.mocks == nil {
		return failure(NewFatalError(ErrStatesRuntime,
			fmt.Sprintf("no mock engine configured for task state %q", name)))
	}
	jsonataMode := state.effectiveQueryLanguage(e.machine) == QueryLanguageJSONata

	// Build the task input the same way the hosted service does: transforms
	// first, invocation second, so mocks key on the transformed input.
	var taskInput any
	if jsonataMode {
		if state.Arguments != nil {
			built, serr := e.evalJSONataValue(ctx, state.Arguments, e.jsonataGlobals(es, es.input, nil, nil))
			if serr != nil {
				return failure(serr)
			}
			taskInput = built
		} else {
			taskInput = es.input
		}
	} else {
		effective, serr := e.applyInputPath(state, es)
		if serr != nil {
			return failure(serr)
		}
		built, serr := e.applyParameters(state, effective, es)
		if serr != nil {
			return failure(serr)
		}
		taskInput = built
	}

	response, serr := e.resolveWithRetries(ctx, name, state, es, taskInput)
	if serr != nil {
		caught := e.applyCatchers(ctx, name, state, es, serr)
		caught.processedInput = taskInput
		return caught
	}

	var output any
	if jsonataMode {
		output, serr = e.processJSONataOutput(ctx, state, es, response)
	} else {
		output, serr = e.processJSONPathOutput(state, es, es.input, response)
	}
	if serr != nil {
		return failure(serr)
	}
	return &stateResult{output: output, next: state.Next, processedInput: taskInput}
}

// resolveWithRetries resolves the mock response, applying the state's Retry
// policies on failure. The local engine never sleeps; backoff parameters
// only shape the recorded retry count.
func (e *Execution) resolveWithRetries(ctx context.Context, name string, state *State, es *executionState, taskInput any) (any, *StatesError) {
	attempts := make([]int, len(state.Retry))
	totalRetries := 0
	for {
		if err := ctx.Err(); err != nil {
			return nil, NewFatalError(ErrStatesTimeout, "execution canceled: "+err.Error())
		}
		response, err := e.mocks.Resolve(name, taskInput)
		if err == nil {
			return response, nil
		}
		serr := ClassifyError(err)
		if serr.Fatal {
			return nil, serr
		}
		retried := false
		for i, retrier := range state.Retry {
			if !matchErrorNames(serr, retrier.ErrorEquals) {
				continue
			}
			if attempts[i] < retrier.maxAttempts() {
				attempts[i]++
				totalRetries++
				es.setRetryCount(totalRetries)
				e.logger.Debug("retrying task",
					"state", name, "error", serr.Name, "attempt", attempts[i])
				retried = true
			}
			break
		}
		if !retried {
			return nil, serr
		}
	}
}

// applyCatchers converts a task failure into a Catch transition when a
// catcher matches; otherwise the failure propagates unhandled.
func (e *Execution) applyCatchers(ctx context.Context, name string, state *State, es *executionState, serr *StatesError) *stateResult {
	for _, catcher := range state.Catch {
		if !matchErrorNames(serr, catcher.ErrorEquals) {
			continue
		}
		e.logger.Debug("caught error", "state", name, "error", serr.Name, "next", catcher.Next)
		errorOutput := serr.ToErrorOutput()

		if state.effectiveQueryLanguage(e.machine) == QueryLanguageJSONata {
			globals := e.jsonataGlobals(es, es.input, nil, errorOutput)
			output := any(errorOutput)
			if catcher.Output != nil {
				built, berr := e.evalJSONataValue(ctx, catcher.Output, globals)
				if berr != nil {
					return failure(berr)
				}
				output = built
			}
			if len(catcher.Assign) > 0 {
				built, berr := e.evalJSONataValue(ctx, any(catcher.Assign), globals)
				if berr != nil {
					return failure(berr)
				}
				if assignments, ok := built.(map[string]any); ok {
					for k, v := range assignments {
						es.variables[k] = v
					}
				}
			}
			return &stateResult{output: output, next: catcher.Next, err: serr}
		}

		output := any(errorOutput)
		if catcher.ResultPath != "" {
			combined, perr := jsonpath.ApplyResultPath(catcher.ResultPath, jsonutil.DeepCopy(es.input), errorOutput)
			if perr != nil {
				return failure(NewStatesErrorf(ErrStatesResultPathMatchFailure, "Catch ResultPath: %v", perr))
			}
			output = combined
		}
		return &stateResult{output: output, next: catcher.Next, err: serr}
	}
	return failure(serr)
}

func (e *Execution) executeChoiceState(ctx context.Context, name string, state *State, es *executionState) *stateResult {
	ql := state.effectiveQueryLanguage(e.machine)

	var effective any
	if ql == QueryLanguageJSONata {
		effective = es.input
	} else {
		var serr *StatesError
		effective, serr = e.applyInputPath(state, es)
		if serr != nil {
			return failure(serr)
		}
	}

	evalCondition := func(condition any) (bool, error) {
		return e.evalConditionValue(ctx, condition, e.jsonataGlobals(es, effective, nil, nil))
	}

	next := ""
	for _, rule := range state.Choices {
		matched, err := evalChoiceRule(rule, ql, effective, es.scope(), evalCondition)
		if err != nil {
			return failure(ClassifyError(err))
		}
		if matched {
			next = rule.Next
			break
		}
	}
	if next == "" {
		if state.Default == "" {
			return failure(NewStatesErrorf(ErrStatesNoChoiceMatched,
				"no choice rule matched in state %q and no default is declared", name))
		}
		next = state.Default
	}

	var output any
	var serr *StatesError
	if ql == QueryLanguageJSONata {
		output, serr = e.processJSONataOutput(ctx, state, es, effective)
	} else {
		if aerr := e.applyAssignJSONPath(state, effective, es); aerr != nil {
			return failure(aerr)
		}
		output, serr = e.applyOutputPath(state, effective, es)
	}
	if serr != nil {
		return failure(serr)
	}
	return &stateResult{output: output, next: next, processedInput: effective}
}

// executeWaitState validates the wait duration but never sleeps: local
// executions collapse time. A mock configured for the state substitutes its
// response for the pass-through value.
func (e *Execution) executeWaitState(ctx context.Context, name string, state *State, es *executionState) *stateResult {
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
		if serr := e.validateWaitDuration(state, effective, es); serr != nil {
			return failure(serr)
		}
	}

	result := effective
	if e.mocks != nil && e.mocks.HasMock(name) {
		response, err := e.mocks.Resolve(name, effective)
		if err != nil {
			return e.applyCatchers(ctx, name, state, es, ClassifyError(err))
		}
		result = response
	}

	var output any
	var serr *StatesError
	if jsonataMode {
		output, serr = e.processJSONataOutput(ctx, state, es, result)
	} else {
		if aerr := e.applyAssignJSONPath(state, result, es); aerr != nil {
			return failure(aerr)
		}
		output, serr = e.applyOutputPath(state, result, es)
	}
	if serr != nil {
		return failure(serr)
	}
	return &stateResult{output: output, next: state.Next, processedInput: effective}
}

func (e *Execution) validateWaitDuration(state *State, effective any, es *executionState) *StatesError {
	switch {
	case state.Seconds != nil:
		if *state.Seconds < 0 {
			return NewStatesError(ErrStatesRuntime, "Wait Seconds must not be negative")
		}
	case state.SecondsPath != "":
		value, err := jsonpath.Resolve(state.SecondsPath, effective, es.scope())
		if err != nil {
			return NewStatesErrorf(ErrStatesParameterPathFailure, "SecondsPath: %v", err)
		}
		if _, ok := jsonutil.NumericValue(value); !ok {
			return NewStatesErrorf(ErrStatesRuntime, "SecondsPath must resolve to a number, got %T", value)
		}
	case state.TimestampPath != "":
		value, err := jsonpath.Resolve(state.TimestampPath, effective, es.scope())
		if err != nil {
			return NewStatesErrorf(ErrStatesParameterPathFailure, "TimestampPath: %v", err)
		}
		s, ok := value.(string)
		if !ok {
			return NewStatesErrorf(ErrStatesRuntime, "TimestampPath must resolve to a string, got %T", value)
		}
		if _, err := parseTimestamp(s); err != nil {
			return NewStatesErrorf(ErrStatesRuntime, "TimestampPath value %q is not a timestamp", s)
		}
	case state.Timestamp != "":
		if _, err := parseTimestamp(state.Timestamp); err != nil {
			return NewStatesErrorf(ErrStatesRuntime, "Timestamp %q is not a timestamp", state.Timestamp)
		}
	}
	return nil
}

func (e *Execution) executeSucceedState(ctx context.Context, state *State, es *executionState) *stateResult {
	if state.effectiveQueryLanguage(e.machine) == QueryLanguageJSONata {
		output, serr := e.processJSONataOutput(ctx, state, es, es.input)
		if serr != nil {
			return failure(serr)
		}
		return &stateResult{output: output, processedInput: es.input}
	}
	effective, serr := e.applyInputPath(state, es)
	if serr != nil {
		return failure(serr)
	}
	output, serr := e.applyOutputPath(state, effective, es)
	if serr != nil {
		return failure(serr)
	}
	return &stateResult{output: output, processedInput: effective}
}

func (e *Execution) executeFailState(ctx context.Context, state *State, es *executionState) *stateResult {
	jsonataMode := state.effectiveQueryLanguage(e.machine) == QueryLanguageJSONata

	resolveField := func(literal, path string) (string, *StatesError) {
		if jsonataMode && script.IsExpression(literal) {
			value, serr := e.evalExpression(ctx, script.Unwrap(literal), e.jsonataGlobals(es, es.input, nil, nil))
			if serr != nil {
				return "", serr
			}
			s, _ := value.(string)
			return s, nil
		}
		if path != "" {
			value, err := jsonpath.Resolve(path, es.input, es.scope())
			if err != nil {
				return "", NewStatesErrorf(ErrStatesParameterPathFailure, "%v", err)
			}
			s, ok := value.(string)
			if !ok {
				return "", NewStatesErrorf(ErrStatesRuntime, "fail state path must resolve to a string, got %T", value)
			}
			return s, nil
		}
		return literal, nil
	}

	errName, serr := resolveField(state.Error, state.ErrorPath)
	if serr != nil {
		return failure(serr)
	}
	cause, serr := resolveField(state.Cause, state.CausePath)
	if serr != nil {
		return failure(serr)
	}
	if errName == "" {
		errName = "States.Failed"
	}
	failErr := NewStatesError(errName, cause)
	return &stateResult{output: failErr.ToErrorOutput(), processedInput: es.input, err: failErr}
}
