package sfnlocal

import (
	"context"
	"errors"

	"github.com/deepnoodle-ai/sfnlocal/jsonpath"
	"github.com/deepnoodle-ai/sfnlocal/jsonutil"
	"github.com/deepnoodle-ai/sfnlocal/script"
)

// JSONPath-mode pipeline: InputPath -> Parameters -> invoke -> ResultSelector
// -> ResultPath -> OutputPath, each step optional. ResultPath places the
// result into the state's raw input, not the filtered one.

// applyInputPath returns the state's effective input. An explicit null
// InputPath yields an empty object.
func (e *Execution) applyInputPath(state *State, es *executionState) (any, *StatesError) {
	if !state.inputPathSet {
		return es.input, nil
	}
	if state.InputPath == nil {
		return map[string]any{}, nil
	}
	value, err := jsonpath.Resolve(*state.InputPath, es.input, es.scope())
	if err != nil {
		return nil, NewStatesErrorf(ErrStatesParameterPathFailure, "InputPath: %v", err)
	}
	return value, nil
}

// applyParameters builds the task input from the Parameters payload
// template.
func (e *Execution) applyParameters(state *State, effectiveInput any, es *executionState) (any, *StatesError) {
	if state.Parameters == nil {
		return effectiveInput, nil
	}
	built, err := e.intrinsics.ProcessPayloadTemplate(state.Parameters, effectiveInput, es.scope())
	if err != nil {
		return nil, NewStatesErrorf(ErrStatesParameterPathFailure, "Parameters: %v", err)
	}
	return built, nil
}

// applyResultSelector reshapes the raw invocation result.
func (e *Execution) applyResultSelector(state *State, result any, es *executionState) (any, *StatesError) {
	if state.ResultSelector == nil {
		return result, nil
	}
	built, err := e.intrinsics.ProcessPayloadTemplate(state.ResultSelector, result, es.scope())
	if err != nil {
		return nil, NewStatesErrorf(ErrStatesParameterPathFailure, "ResultSelector: %v", err)
	}
	return built, nil
}

// applyResultPath places the result into the state's raw input. An absent
// ResultPath replaces the input entirely; an explicit null discards the
// result.
func (e *Execution) applyResultPath(state *State, rawInput, result any) (any, *StatesError) {
	if !state.resultPathSet {
		return result, nil
	}
	if state.ResultPath == nil {
		return rawInput, nil
	}
	combined, err := jsonpath.ApplyResultPath(*state.ResultPath, jsonutil.DeepCopy(rawInput), result)
	if err != nil {
		return nil, NewStatesErrorf(ErrStatesResultPathMatchFailure, "ResultPath: %v", err)
	}
	return combined, nil
}

// applyOutputPath filters the state's final output. An explicit null
// OutputPath yields an empty object.
func (e *Execution) applyOutputPath(state *State, value any, es *executionState) (any, *StatesError) {
	if !state.outputPathSet {
		return value, nil
	}
	if state.OutputPath == nil {
		return map[string]any{}, nil
	}
	out, err := jsonpath.Resolve(*state.OutputPath, value, es.scope())
	if err != nil {
		return nil, NewStatesErrorf(ErrStatesParameterPathFailure, "OutputPath: %v", err)
	}
	return out, nil
}

// applyAssignJSONPath evaluates the state's Assign map as a payload
// template against the state's result and writes the assignments into the
// variables map. Evaluation happens entirely against the pre-assignment
// scope; last assignment wins on duplicate keys.
func (e *Execution) applyAssignJSONPath(state *State, result any, es *executionState) *StatesError {
	if len(state.Assign) == 0 {
		return nil
	}
	built, err := e.intrinsics.ProcessPayloadTemplate(map[string]any(state.Assign), result, es.scope())
	if err != nil {
		return NewStatesErrorf(ErrStatesParameterPathFailure, "Assign: %v", err)
	}
	assignments, ok := built.(map[string]any)
	if !ok {
		return NewStatesError(ErrStatesParameterPathFailure, "Assign must build an object")
	}
	for k, v := range assignments {
		es.variables[k] = v
	}
	return nil
}

// JSONata-mode pipeline: Arguments -> invoke -> Output, plus Assign. The
// expression scope exposes $states (input, result, errorOutput, context) and
// every workflow variable.

// jsonataGlobals assembles the expression scope for one evaluation phase.
func (e *Execution) jsonataGlobals(es *executionState, input, result any, errorOutput map[string]any) map[string]any {
	states := map[string]any{
		"input":   input,
		"context": es.contextObject,
	}
	if result != nil {
		states["result"] = result
	}
	if errorOutput != nil {
		states["errorOutput"] = errorOutput
	}
	globals := make(map[string]any, len(es.variables)+1)
	for k, v := range es.variables {
		globals[k] = v
	}
	globals["states"] = states
	return globals
}

// evalJSONataValue evaluates a JSONata-mode template value: strings carrying
// the {% %} marker are evaluated as expressions, containers are walked
// recursively, and everything else is copied verbatim.
func (e *Execution) evalJSONataValue(ctx context.Context, value any, globals map[string]any) (any, *StatesError) {
	switch v := value.(type) {
	case string:
		if !script.IsExpression(v) {
			return v, nil
		}
		result, err := e.evalExpression(ctx, script.Unwrap(v), globals)
		if err != nil {
			return nil, err
		}
		return result, nil
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			built, err := e.evalJSONataValue(ctx, item, globals)
			if err != nil {
				return nil, err
			}
			out[k] = built
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			built, err := e.evalJSONataValue(ctx, item, globals)
			if err != nil {
				return nil, err
			}
			out[i] = built
		}
		return out, nil
	default:
		return jsonutil.DeepCopy(value), nil
	}
}

// evalExpression compiles and evaluates one bare expression. Undefined
// results come back as nil without error.
func (e *Execution) evalExpression(ctx context.Context, source string, globals map[string]any) (any, *StatesError) {
	compiled, err := e.compiler.Compile(ctx, source)
	if err != nil {
		return nil, NewStatesErrorf(ErrStatesQueryEvaluationError, "invalid expression: %v", err)
	}
	value, err := compiled.Evaluate(ctx, globals)
	if err != nil {
		var intrinsicErr *jsonpath.IntrinsicError
		if errors.As(err, &intrinsicErr) {
			return nil, NewStatesErrorf(ErrStatesIntrinsicFailure, "%v", err)
		}
		return nil, NewStatesErrorf(ErrStatesQueryEvaluationError, "%v", err)
	}
	if value.IsUndefined() {
		return nil, nil
	}
	return value.Value(), nil
}

// evalConditionValue evaluates a JSONata-mode Choice condition: either a
// boolean literal or an expression string.
func (e *Execution) evalConditionValue(ctx context.Context, condition any, globals map[string]any) (bool, error) {
	switch c := condition.(type) {
	case bool:
		return c, nil
	case string:
		if !script.IsExpression(c) {
			return false, NewStatesErrorf(ErrStatesQueryEvaluationError,
				"choice condition %q is not an expression", c)
		}
		compiled, err := e.compiler.Compile(ctx, script.Unwrap(c))
		if err != nil {
			return false, NewStatesErrorf(ErrStatesQueryEvaluationError, "invalid condition: %v", err)
		}
		value, err := compiled.Evaluate(ctx, globals)
		if err != nil {
			return false, NewStatesErrorf(ErrStatesQueryEvaluationError, "%v", err)
		}
		return value.IsTruthy(), nil
	default:
		return false, NewStatesErrorf(ErrStatesQueryEvaluationError,
			"choice condition must be a boolean or expression, got %T", condition)
	}
}

// applyAssignJSONata evaluates the Assign map with $states.result bound and
// writes the assignments.
func (e *Execution) applyAssignJSONata(ctx context.Context, state *State, es *executionState, result any) *StatesError {
	if len(state.Assign) == 0 {
		return nil
	}
	globals := e.jsonataGlobals(es, es.input, result, nil)
	built, err := e.evalJSONataValue(ctx, map[string]any(state.Assign), globals)
	if err != nil {
		return err
	}
	assignments, ok := built.(map[string]any)
	if !ok {
		return NewStatesError(ErrStatesQueryEvaluationError, "Assign must build an object")
	}
	for k, v := range assignments {
		es.variables[k] = v
	}
	return nil
}

// processJSONataOutput applies the Output template (or passes the result
// through) and then Assign.
func (e *Execution) processJSONataOutput(ctx context.Context, state *State, es *executionState, result any) (any, *StatesError) {
	if serr := e.applyAssignJSONata(ctx, state, es, result); serr != nil {
		return nil, serr
	}
	if state.Output == nil {
		return result, nil
	}
	globals := e.jsonataGlobals(es, es.input, result, nil)
	return e.evalJSONataValue(ctx, state.Output, globals)
}

// processJSONPathOutput runs the tail of the JSONPath pipeline
// (ResultSelector -> ResultPath -> OutputPath) and then Assign.
func (e *Execution) processJSONPathOutput(state *State, es *executionState, rawInput, result any) (any, *StatesError) {
	selected, serr := e.applyResultSelector(state, result, es)
	if serr != nil {
		return nil, serr
	}
	if serr := e.applyAssignJSONPath(state, selected, es); serr != nil {
		return nil, serr
	}
	combined, serr := e.applyResultPath(state, rawInput, selected)
	if serr != nil {
		return nil, serr
	}
	return e.applyOutputPath(state, combined, es)
}
