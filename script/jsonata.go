package script

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	jsonata "github.com/blues/jsonata-go"
	"github.com/blues/jsonata-go/jtypes"

	"github.com/deepnoodle-ai/sfnlocal/deterministic"
	"github.com/deepnoodle-ai/sfnlocal/jsonpath"
)

// JSONataEngine implements Compiler over a JSONata evaluator, augmented with
// the workflow function set ($partition, $range, $hash, $random, $uuid,
// $now, $millis, $parse). Time and randomness route through the
// deterministic provider.
type JSONataEngine struct {
	det *deterministic.Provider
}

// NewJSONataEngine returns an expression engine backed by the given
// deterministic provider.
func NewJSONataEngine(det *deterministic.Provider) *JSONataEngine {
	if det == nil {
		det = deterministic.Default()
	}
	return &JSONataEngine{det: det}
}

// Compile checks the expression parses and returns a Script. Evaluation
// recompiles against a fresh evaluator so that concurrently running branches
// never share mutable evaluator state.
func (e *JSONataEngine) Compile(ctx context.Context, code string) (Script, error) {
	if _, err := jsonata.Compile(code); err != nil {
		return nil, fmt.Errorf("failed to compile expression %q: %w", code, err)
	}
	return &jsonataScript{engine: e, source: code}, nil
}

type jsonataScript struct {
	engine *JSONataEngine
	source string
}

// Evaluate runs the expression. Globals become JSONata variables: the
// "states" entry carries the $states object and every other entry is a
// workflow variable referenced as $name.
func (s *jsonataScript) Evaluate(ctx context.Context, globals map[string]any) (Value, error) {
	expr, err := jsonata.Compile(s.source)
	if err != nil {
		return nil, fmt.Errorf("failed to compile expression %q: %w", s.source, err)
	}
	if err := expr.RegisterExts(s.engine.extensions()); err != nil {
		return nil, fmt.Errorf("failed to register workflow functions: %w", err)
	}
	vars := make(map[string]any, len(globals))
	for name, value := range globals {
		vars[name] = value
	}
	if len(vars) > 0 {
		if err := expr.RegisterVars(vars); err != nil {
			return nil, fmt.Errorf("failed to register variables: %w", err)
		}
	}

	// Bare paths evaluate against the state's input.
	var data any
	if states, ok := globals["states"].(map[string]any); ok {
		data = states["input"]
	}

	result, err := expr.Eval(data)
	if err != nil {
		if errors.Is(err, jsonata.ErrUndefined) {
			return &jsonataValue{undefined: true}, nil
		}
		return nil, fmt.Errorf("failed to evaluate expression %q: %w", s.source, err)
	}
	return &jsonataValue{v: normalize(result)}, nil
}

// extensions builds the workflow function table registered on every
// evaluation.
func (e *JSONataEngine) extensions() map[string]jsonata.Extension {
	det := e.det
	return map[string]jsonata.Extension{
		"partition": {Func: func(items []any, size float64) (any, error) {
			return partition(items, int(size))
		}},
		"range": {Func: func(start, end, step float64) (any, error) {
			return inclusiveRange(start, end, step)
		}},
		"hash": {Func: func(input any, algorithm string) (string, error) {
			s, ok := input.(string)
			if !ok {
				data, err := json.Marshal(normalize(input))
				if err != nil {
					return "", fmt.Errorf("cannot serialize $hash input: %w", err)
				}
				s = string(data)
			}
			return jsonpath.HashString(s, algorithm)
		}},
		"random": {Func: func(seed jtypes.OptionalFloat64) (float64, error) {
			if seed.IsSet() {
				return det.Seeded(int64(seed.Float64)).Float64(), nil
			}
			return det.Float64(), nil
		}},
		"uuid": {Func: func() string {
			return det.UUID()
		}},
		"now": {Func: func() string {
			return det.Timestamp()
		}},
		"millis": {Func: func() float64 {
			return float64(det.Millis())
		}},
		"parse": {Func: func(s string) (any, error) {
			var out any
			if err := json.Unmarshal([]byte(s), &out); err != nil {
				return nil, fmt.Errorf("$parse: invalid JSON input: %w", err)
			}
			return out, nil
		}},
	}
}

// partition chunks items into size-bounded groups. An empty input yields
// undefined rather than a JSON null.
func partition(items []any, size int) (any, error) {
	if size <= 0 {
		return nil, fmt.Errorf("$partition: chunk size must be positive, got %d", size)
	}
	if len(items) == 0 {
		return nil, jtypes.ErrUndefined
	}
	var chunks []any
	for i := 0; i < len(items); i += size {
		end := i + size
		if end > len(items) {
			end = len(items)
		}
		chunk := make([]any, end-i)
		copy(chunk, items[i:end])
		chunks = append(chunks, chunk)
	}
	return chunks, nil
}

// inclusiveRange generates [start..end] stepping by step, end-inclusive. A
// single-element result collapses to a scalar; an empty or unreachable range
// yields undefined rather than a JSON null.
func inclusiveRange(start, end, step float64) (any, error) {
	if step == 0 {
		return nil, jtypes.ErrUndefined
	}
	if (step > 0 && end < start) || (step < 0 && end > start) {
		return nil, jtypes.ErrUndefined
	}
	var out []any
	if step > 0 {
		for v := start; v <= end; v += step {
			out = append(out, v)
		}
	} else {
		for v := start; v >= end; v += step {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return nil, jtypes.ErrUndefined
	}
	if len(out) == 1 {
		return out[0], nil
	}
	return out, nil
}
