package sfnlocal

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"sync"

	"go.jetify.com/typeid"

	"github.com/deepnoodle-ai/sfnlocal/deterministic"
	"github.com/deepnoodle-ai/sfnlocal/jsonpath"
	"github.com/deepnoodle-ai/sfnlocal/jsonutil"
	"github.com/deepnoodle-ai/sfnlocal/script"
)

// NewExecutionID returns a new identifier for an execution.
func NewExecutionID() string {
	id, err := typeid.WithPrefix("exec")
	if err != nil {
		panic(err)
	}
	return id.String()
}

// DefaultStepLimit bounds the number of state transitions in one execution.
const DefaultStepLimit = 1000

// MockEngine resolves substitute responses for task-like states. The mock
// package provides the standard implementation.
type MockEngine interface {

	// Resolve returns the substitute response for one invocation of the
	// named state with the given (already transformed) input.
	Resolve(stateName string, input any) (any, error)

	// ReadItems materializes the item collection for a distributed Map
	// state's ItemReader.
	ReadItems(stateName string, reader map[string]any) ([]any, error)

	// HasMock reports whether a mock is configured for the named state.
	HasMock(stateName string) bool
}

// ExecutionFormatter receives progress output for verbose runs.
type ExecutionFormatter interface {
	PrintStateStart(stateName string, stateType string)
	PrintStateOutput(stateName string, output any)
	PrintStateError(stateName string, err error)
}

// ExecutionMetadata fixes the introspection surface of an execution. Every
// field has a deterministic default, so two runs with identical input and
// configuration produce byte-identical traces.
type ExecutionMetadata struct {
	ExecutionName    string
	StateMachineName string
	RoleArn          string
	AccountID        string
	Region           string
}

func (m ExecutionMetadata) withDefaults() ExecutionMetadata {
	if m.ExecutionName == "" {
		m.ExecutionName = "local-execution"
	}
	if m.StateMachineName == "" {
		m.StateMachineName = "LocalStateMachine"
	}
	if m.AccountID == "" {
		m.AccountID = "123456789012"
	}
	if m.Region == "" {
		m.Region = "us-east-1"
	}
	if m.RoleArn == "" {
		m.RoleArn = fmt.Sprintf("arn:aws:iam::%s:role/LocalExecutionRole", m.AccountID)
	}
	return m
}

// ExecutionOptions configures a new Execution.
type ExecutionOptions struct {
	StateMachine   *StateMachine
	MockEngine     MockEngine
	Logger         *slog.Logger
	Formatter      ExecutionFormatter
	StepLimit      int
	ExecutionID    string
	Metadata       ExecutionMetadata
	Deterministics *deterministic.Provider
	ScriptCompiler script.Compiler
}

// Execution interprets one state machine. It holds no per-run state, so a
// single Execution may run many inputs, sequentially or concurrently.
type Execution struct {
	machine     *StateMachine
	mocks       MockEngine
	logger      *slog.Logger
	formatter   ExecutionFormatter
	stepLimit   int
	executionID string
	metadata    ExecutionMetadata
	det         *deterministic.Provider
	compiler    script.Compiler
	intrinsics  *jsonpath.Intrinsics
}

// NewExecution validates the options and returns an Execution.
func NewExecution(opts ExecutionOptions) (*Execution, error) {
	if opts.StateMachine == nil {
		return nil, fmt.Errorf("state machine is required")
	}
	if err := opts.StateMachine.Validate(); err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.StepLimit <= 0 {
		opts.StepLimit = DefaultStepLimit
	}
	if opts.ExecutionID == "" {
		opts.ExecutionID = NewExecutionID()
	}
	if opts.Deterministics == nil {
		det, err := deterministic.New(deterministic.Options{Name: opts.Metadata.ExecutionName})
		if err != nil {
			return nil, err
		}
		opts.Deterministics = det
	}
	if opts.ScriptCompiler == nil {
		opts.ScriptCompiler = script.NewJSONataEngine(opts.Deterministics)
	}
	if isNilPointer(opts.MockEngine) {
		opts.MockEngine = nil
	}
	if isNilPointer(opts.Formatter) {
		opts.Formatter = nil
	}
	return &Execution{
		machine:     opts.StateMachine,
		mocks:       opts.MockEngine,
		logger:      opts.Logger.With("execution_id", opts.ExecutionID),
		formatter:   opts.Formatter,
		stepLimit:   opts.StepLimit,
		executionID: opts.ExecutionID,
		metadata:    opts.Metadata.withDefaults(),
		det:         opts.Deterministics,
		compiler:    opts.ScriptCompiler,
		intrinsics:  jsonpath.NewIntrinsics(opts.Deterministics),
	}, nil
}

// isNilPointer reports whether an interface value holds a nil concrete
// pointer. Such values compare non-nil as interfaces but cannot be called.
func isNilPointer(v any) bool {
	if v == nil {
		return false
	}
	rv := reflect.ValueOf(v)
	return rv.Kind() == reflect.Pointer && rv.IsNil()
}

// ID returns the execution ID.
func (e *Execution) ID() string {
	return e.executionID
}

// StateMachine returns the definition being interpreted.
func (e *Execution) StateMachine() *StateMachine {
	return e.machine
}

// Execute runs the state machine from StartAt against the given input. The
// returned result is never nil; on a fatal abort it carries the trace
// accumulated so far alongside the error.
func (e *Execution) Execute(ctx context.Context, input any) (*ExecutionResult, error) {
	return e.ExecuteFrom(ctx, e.machine.StartAt, input)
}

// ExecuteFrom runs the state machine starting at an arbitrary state. This is
// also the entry point nested scopes use to run Map iterations and Parallel
// branches through the same interpreter.
func (e *Execution) ExecuteFrom(ctx context.Context, startAt string, input any) (*ExecutionResult, error) {
	es := e.newExecutionState(input, nil, nil)
	return e.run(ctx, es, startAt)
}

// executionState is the mutable, single-owner context of one run.
type executionState struct {
	input         any
	variables     map[string]any
	path          []string
	records       []*StateExecutionRecord
	mapRuns       []*MapExecution
	parallelRuns  []*ParallelExecution
	contextObject map[string]any
	prefix        []string
	budget        *stepBudget
}

// stepBudget bounds total state transitions across the top-level run and
// every nested scope. Concurrent Map iterations and Parallel branches share
// one budget, hence the mutex.
type stepBudget struct {
	mu    sync.Mutex
	used  int
	limit int
}

// take consumes one step; it reports false once the budget is exhausted.
func (b *stepBudget) take() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.used++
	return b.used <= b.limit
}

func (e *Execution) newExecutionState(input any, variables map[string]any, budget *stepBudget) *executionState {
	if budget == nil {
		budget = &stepBudget{limit: e.stepLimit}
	}
	if variables == nil {
		variables = map[string]any{}
	}
	return &executionState{
		input:         input,
		variables:     variables,
		contextObject: e.newContextObject(input),
		budget:        budget,
	}
}

// newContextObject builds the $$ context object with the fixed metadata.
func (e *Execution) newContextObject(input any) map[string]any {
	m := e.metadata
	stateMachineID := fmt.Sprintf("arn:aws:states:%s:%s:stateMachine:%s",
		m.Region, m.AccountID, m.StateMachineName)
	executionARN := fmt.Sprintf("arn:aws:states:%s:%s:execution:%s:%s",
		m.Region, m.AccountID, m.StateMachineName, m.ExecutionName)
	return map[string]any{
		"Execution": map[string]any{
			"Id":        executionARN,
			"Name":      m.ExecutionName,
			"RoleArn":   m.RoleArn,
			"StartTime": e.det.Timestamp(),
			"Input":     input,
		},
		"StateMachine": map[string]any{
			"Id":   stateMachineID,
			"Name": m.StateMachineName,
		},
		"State": map[string]any{
			"Name":        "",
			"EnteredTime": e.det.Timestamp(),
			"RetryCount":  float64(0),
		},
	}
}

func (es *executionState) scope() jsonpath.Scope {
	return jsonpath.Scope{Context: es.contextObject, Variables: es.variables}
}

func (es *executionState) setCurrentState(name string) {
	if state, ok := es.contextObject["State"].(map[string]any); ok {
		state["Name"] = name
		state["RetryCount"] = float64(0)
	}
}

func (es *executionState) setRetryCount(n int) {
	if state, ok := es.contextObject["State"].(map[string]any); ok {
		state["RetryCount"] = float64(n)
	}
}

func (es *executionState) statePath(name string) []string {
	path := make([]string, 0, len(es.prefix)+1)
	path = append(path, es.prefix...)
	return append(path, name)
}

func (es *executionState) result(output any, success bool, serr *StatesError) *ExecutionResult {
	return &ExecutionResult{
		Output:             output,
		ExecutionPath:      es.path,
		StateExecutions:    es.records,
		MapExecutions:      es.mapRuns,
		ParallelExecutions: es.parallelRuns,
		Variables:          jsonutil.CopyMap(es.variables),
		Success:            success,
		Error:              serr,
	}
}

// run drives the interpreter loop from startAt to a terminal state.
func (e *Execution) run(ctx context.Context, es *executionState, startAt string) (*ExecutionResult, error) {
	current := startAt
	for {
		if err := ctx.Err(); err != nil {
			serr := NewFatalError(ErrStatesTimeout, "execution canceled: "+err.Error())
			return es.result(es.input, false, serr), serr
		}
		if !es.budget.take() {
			serr := NewFatalError(ErrStatesRuntime,
				fmt.Sprintf("step limit of %d exceeded", es.budget.limit))
			e.logger.Error("step limit exceeded", "state", current, "limit", es.budget.limit)
			return es.result(es.input, false, serr), serr
		}

		state, ok := e.machine.States[current]
		if !ok {
			serr := NewFatalError(ErrStatesRuntime, fmt.Sprintf("state %q not found", current))
			return es.result(es.input, false, serr), serr
		}

		es.path = append(es.path, current)
		es.setCurrentState(current)
		if e.formatter != nil {
			e.formatter.PrintStateStart(current, string(state.Type))
		}
		e.logger.Debug("entering state", "state", current, "type", state.Type)

		varsBefore := jsonutil.CopyMap(es.variables)
		res := e.executeState(ctx, current, state, es)

		processedInput := res.processedInput
		if processedInput == nil {
			processedInput = es.input
		}
		es.records = append(es.records, &StateExecutionRecord{
			StatePath:       es.statePath(current),
			StateName:       current,
			Input:           processedInput,
			Output:          res.output,
			VariablesBefore: varsBefore,
			VariablesAfter:  jsonutil.CopyMap(es.variables),
		})

		if res.err != nil && res.next == "" {
			if e.formatter != nil {
				e.formatter.PrintStateError(current, res.err)
			}
			if state.Type == StateTypeFail {
				// Fail is an ordinary unsuccessful termination, not an abort.
				e.logger.Debug("execution failed", "state", current, "error", res.err)
				return es.result(res.output, false, res.err), nil
			}
			e.logger.Error("state failed", "state", current, "error", res.err)
			return es.result(es.input, false, res.err), res.err
		}

		if e.formatter != nil {
			e.formatter.PrintStateOutput(current, res.output)
		}

		if state.Type == StateTypeSucceed {
			return es.result(res.output, true, nil), nil
		}

		es.input = res.output
		if res.next == "" {
			if state.IsTerminal() {
				return es.result(res.output, true, nil), nil
			}
			serr := NewFatalError(ErrStatesRuntime,
				fmt.Sprintf("state %q is not terminal and names no next state", current))
			return es.result(es.input, false, serr), serr
		}
		current = res.next
	}
}

// runNested executes an inner state machine (Map iteration or Parallel
// branch) through a child interpreter with its own scoped context. The
// child shares the mock engine, compiler, deterministic provider, and step
// budget, but nothing mutable.
func (e *Execution) runNested(ctx context.Context, machine *StateMachine, input any, es *executionState, prefixEntry string) (*ExecutionResult, error) {
	child := &Execution{
		machine:     machine,
		mocks:       e.mocks,
		logger:      e.logger,
		stepLimit:   e.stepLimit,
		executionID: e.executionID,
		metadata:    e.metadata,
		det:         e.det,
		compiler:    e.compiler,
		intrinsics:  e.intrinsics,
	}
	childState := child.newExecutionState(input, jsonutil.CopyMap(es.variables), es.budget)
	prefix := make([]string, 0, len(es.prefix)+1)
	prefix = append(prefix, es.prefix...)
	childState.prefix = append(prefix, prefixEntry)
	return child.run(ctx, childState, machine.StartAt)
}
