package sfnlocal

// StateExecutionRecord captures one visited state. Records are created by
// the executor immediately after a state finishes and never mutated.
type StateExecutionRecord struct {
	// StatePath qualifies the state name with its nesting, e.g.
	// ["Process[2]", "Validate"] for the third Map iteration.
	StatePath []string `json:"statePath"`

	StateName       string         `json:"stateName"`
	Input           any            `json:"input"`
	Output          any            `json:"output"`
	VariablesBefore map[string]any `json:"variablesBefore,omitempty"`
	VariablesAfter  map[string]any `json:"variablesAfter,omitempty"`
}

// MapExecution holds the nested traces of one visit to a Map state, one
// result per item in item order.
type MapExecution struct {
	StateName  string             `json:"stateName"`
	Iterations []*ExecutionResult `json:"iterations"`
}

// ParallelExecution holds the nested traces of one visit to a Parallel
// state, one result per branch in branch order.
type ParallelExecution struct {
	StateName string             `json:"stateName"`
	Branches  []*ExecutionResult `json:"branches"`
}

// ExecutionResult is the complete outcome of one execute call. It is the
// sole channel through which the coverage tracker and the assertion engine
// receive data. The trace fields are always populated as far as execution
// got, even when the run failed.
type ExecutionResult struct {
	Output             any                     `json:"output"`
	ExecutionPath      []string                `json:"executionPath"`
	StateExecutions    []*StateExecutionRecord `json:"stateExecutions"`
	MapExecutions      []*MapExecution         `json:"mapExecutions,omitempty"`
	ParallelExecutions []*ParallelExecution    `json:"parallelExecutions,omitempty"`
	Variables          map[string]any          `json:"variables,omitempty"`
	Success            bool                    `json:"success"`
	Error              *StatesError            `json:"error,omitempty"`
}

// LastState returns the final entry of the execution path, or "".
func (r *ExecutionResult) LastState() string {
	if len(r.ExecutionPath) == 0 {
		return ""
	}
	return r.ExecutionPath[len(r.ExecutionPath)-1]
}

// MapExecutionsFor returns every visit to the named Map state.
func (r *ExecutionResult) MapExecutionsFor(stateName string) []*MapExecution {
	var out []*MapExecution
	for _, m := range r.MapExecutions {
		if m.StateName == stateName {
			out = append(out, m)
		}
	}
	return out
}

// ParallelExecutionsFor returns every visit to the named Parallel state.
func (r *ExecutionResult) ParallelExecutionsFor(stateName string) []*ParallelExecution {
	var out []*ParallelExecution
	for _, p := range r.ParallelExecutions {
		if p.StateName == stateName {
			out = append(out, p)
		}
	}
	return out
}
