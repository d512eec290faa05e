package sfnlocal

import "encoding/json"

// StateType discriminates the closed set of state kinds in the States
// Language.
type StateType string

const (
	StateTypePass     StateType = "Pass"
	StateTypeTask     StateType = "Task"
	StateTypeChoice   StateType = "Choice"
	StateTypeWait     StateType = "Wait"
	StateTypeSucceed  StateType = "Succeed"
	StateTypeFail     StateType = "Fail"
	StateTypeMap      StateType = "Map"
	StateTypeParallel StateType = "Parallel"
)

// QueryLanguage selects between the two data-flow dialects of the States
// Language.
type QueryLanguage string

const (
	QueryLanguageJSONPath QueryLanguage = "JSONPath"
	QueryLanguageJSONata  QueryLanguage = "JSONata"
)

// Retrier configures retry behavior for a task-like state.
type Retrier struct {
	ErrorEquals     []string `json:"ErrorEquals"`
	IntervalSeconds float64  `json:"IntervalSeconds,omitempty"`
	MaxAttempts     *int     `json:"MaxAttempts,omitempty"`
	BackoffRate     float64  `json:"BackoffRate,omitempty"`
	MaxDelaySeconds float64  `json:"MaxDelaySeconds,omitempty"`
	JitterStrategy  string   `json:"JitterStrategy,omitempty"`
}

// maxAttempts returns the effective attempt limit. ASL defaults to 3.
func (r *Retrier) maxAttempts() int {
	if r.MaxAttempts != nil {
		return *r.MaxAttempts
	}
	return 3
}

// Catcher configures fallback behavior when a task-like state fails.
type Catcher struct {
	ErrorEquals []string       `json:"ErrorEquals"`
	Next        string         `json:"Next"`
	ResultPath  string         `json:"ResultPath,omitempty"`
	Assign      map[string]any `json:"Assign,omitempty"`
	Output      any            `json:"Output,omitempty"`
}

// ItemReaderConfig points a distributed Map state at its item source. The
// local engine resolves it through the mock engine rather than reading from
// any real data store.
type ItemReaderConfig struct {
	Resource     string         `json:"Resource,omitempty"`
	Parameters   map[string]any `json:"Parameters,omitempty"`
	ReaderConfig map[string]any `json:"ReaderConfig,omitempty"`
	MaxItems     int            `json:"MaxItems,omitempty"`
}

// State is a single state in a state machine. It is a tagged union over the
// state kinds: Type discriminates, and only the fields relevant to that kind
// are populated. Unknown kinds are rejected at validation time, not here.
type State struct {
	Type    StateType `json:"Type"`
	Comment string    `json:"Comment,omitempty"`

	// Dialect selection; empty inherits from the enclosing machine.
	QueryLanguage QueryLanguage `json:"QueryLanguage,omitempty"`

	// Control transfer
	Next string `json:"Next,omitempty"`
	End  bool   `json:"End,omitempty"`

	// JSONPath-mode data flow
	InputPath      *string        `json:"InputPath,omitempty"`
	Parameters     any            `json:"Parameters,omitempty"`
	ResultSelector any            `json:"ResultSelector,omitempty"`
	ResultPath     *string        `json:"ResultPath,omitempty"`
	OutputPath     *string        `json:"OutputPath,omitempty"`

	// JSONata-mode data flow
	Arguments any `json:"Arguments,omitempty"`
	Output    any `json:"Output,omitempty"`

	// Variable assignments, evaluated against the pre-assignment scope.
	Assign map[string]any `json:"Assign,omitempty"`

	// Error handling
	Retry []*Retrier `json:"Retry,omitempty"`
	Catch []*Catcher `json:"Catch,omitempty"`

	// Task
	Resource       string  `json:"Resource,omitempty"`
	TimeoutSeconds float64 `json:"TimeoutSeconds,omitempty"`
	Credentials    any     `json:"Credentials,omitempty"`

	// Pass
	Result any `json:"Result,omitempty"`

	// Choice
	Choices []*ChoiceRule `json:"Choices,omitempty"`
	Default string        `json:"Default,omitempty"`

	// Wait
	Seconds       *float64 `json:"Seconds,omitempty"`
	SecondsPath   string   `json:"SecondsPath,omitempty"`
	Timestamp     string   `json:"Timestamp,omitempty"`
	TimestampPath string   `json:"TimestampPath,omitempty"`

	// Fail
	Error     string `json:"Error,omitempty"`
	ErrorPath string `json:"ErrorPath,omitempty"`
	Cause     string `json:"Cause,omitempty"`
	CausePath string `json:"CausePath,omitempty"`

	// Map
	ItemProcessor  *StateMachine     `json:"ItemProcessor,omitempty"`
	Iterator       *StateMachine     `json:"Iterator,omitempty"`
	ItemsPath      string            `json:"ItemsPath,omitempty"`
	Items          any               `json:"Items,omitempty"`
	ItemSelector   any               `json:"ItemSelector,omitempty"`
	ItemReader     *ItemReaderConfig `json:"ItemReader,omitempty"`
	MaxConcurrency int               `json:"MaxConcurrency,omitempty"`

	// Parallel
	Branches []*StateMachine `json:"Branches,omitempty"`

	// Null-versus-absent tracking for fields whose explicit null carries
	// meaning: InputPath/OutputPath null yield an empty object, ResultPath
	// null discards the result. Populated by UnmarshalJSON.
	inputPathSet  bool
	outputPathSet bool
	resultPathSet bool
	resultSet     bool
}

// stateAlias avoids recursion in UnmarshalJSON.
type stateAlias State

// UnmarshalJSON parses the state and records which of the null-significant
// fields were present in the document.
func (s *State) UnmarshalJSON(data []byte) error {
	var alias stateAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	*s = State(alias)
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return err
	}
	_, s.inputPathSet = probe["InputPath"]
	_, s.outputPathSet = probe["OutputPath"]
	_, s.resultPathSet = probe["ResultPath"]
	_, s.resultSet = probe["Result"]
	return nil
}

// IsTerminal reports whether the state ends an execution on success or
// failure, or declares itself the last state of its machine.
func (s *State) IsTerminal() bool {
	return s.End || s.Type == StateTypeSucceed || s.Type == StateTypeFail
}

func (s *State) IsChoice() bool { return s.Type == StateTypeChoice }

func (s *State) IsMap() bool { return s.Type == StateTypeMap }

func (s *State) IsParallel() bool { return s.Type == StateTypeParallel }

// IsTaskLike reports whether the state resolves an external invocation and
// is therefore subject to mock substitution.
func (s *State) IsTaskLike() bool {
	return s.Type == StateTypeTask || s.Type == StateTypeWait
}

// IsDistributedMap reports whether the Map state runs in distributed mode.
func (s *State) IsDistributedMap() bool {
	if s.Type != StateTypeMap || s.ItemProcessor == nil {
		return false
	}
	mode, _ := s.ItemProcessor.ProcessorConfig["Mode"].(string)
	return mode == "DISTRIBUTED"
}

// Processor returns the Map state's inner machine, accepting both the
// modern ItemProcessor field and the legacy Iterator field.
func (s *State) Processor() *StateMachine {
	if s.ItemProcessor != nil {
		return s.ItemProcessor
	}
	return s.Iterator
}

// effectiveQueryLanguage resolves the dialect for this state: an explicit
// per-state selection wins, otherwise the machine's top-level selection,
// otherwise JSONPath.
func (s *State) effectiveQueryLanguage(m *StateMachine) QueryLanguage {
	if s.QueryLanguage != "" {
		return s.QueryLanguage
	}
	if m != nil && m.QueryLanguage != "" {
		return m.QueryLanguage
	}
	return QueryLanguageJSONPath
}
