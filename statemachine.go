package sfnlocal

import (
	"encoding/json"
	"fmt"
)

// StateMachine is a parsed States Language document: the top-level workflow
// or the inner machine of a Map processor or Parallel branch. Definitions
// are immutable once parsed and safe to reuse across executions.
type StateMachine struct {
	StartAt        string            `json:"StartAt"`
	States         map[string]*State `json:"States"`
	Comment        string            `json:"Comment,omitempty"`
	QueryLanguage  QueryLanguage     `json:"QueryLanguage,omitempty"`
	TimeoutSeconds float64           `json:"TimeoutSeconds,omitempty"`

	// ProcessorConfig appears on Map ItemProcessor machines and selects
	// between INLINE and DISTRIBUTED execution modes.
	ProcessorConfig map[string]any `json:"ProcessorConfig,omitempty"`
}

// ParseStateMachine parses a state machine document. Schema validation is a
// loader concern; this only checks what the interpreter cannot run without.
func ParseStateMachine(data []byte) (*StateMachine, error) {
	var machine StateMachine
	if err := json.Unmarshal(data, &machine); err != nil {
		return nil, fmt.Errorf("failed to parse state machine document: %w", err)
	}
	if err := machine.Validate(); err != nil {
		return nil, err
	}
	return &machine, nil
}

// Validate checks the structural invariants the interpreter depends on:
// StartAt names an existing state and every transition target exists in the
// enclosing machine. Inner machines are validated recursively.
func (m *StateMachine) Validate() error {
	if m.StartAt == "" {
		return fmt.Errorf("state machine requires StartAt")
	}
	if len(m.States) == 0 {
		return fmt.Errorf("state machine requires at least one state")
	}
	if _, ok := m.States[m.StartAt]; !ok {
		return fmt.Errorf("StartAt state %q not found", m.StartAt)
	}
	for name, state := range m.States {
		if state == nil {
			return fmt.Errorf("state %q has no definition", name)
		}
		if err := m.validateState(name, state); err != nil {
			return err
		}
	}
	return nil
}

func (m *StateMachine) validateState(name string, state *State) error {
	check := func(target, field string) error {
		if target == "" {
			return nil
		}
		if _, ok := m.States[target]; !ok {
			return fmt.Errorf("state %q: %s target %q not found", name, field, target)
		}
		return nil
	}
	if err := check(state.Next, "Next"); err != nil {
		return err
	}
	if err := check(state.Default, "Default"); err != nil {
		return err
	}
	for _, rule := range state.Choices {
		if err := check(rule.Next, "Choices"); err != nil {
			return err
		}
	}
	for _, catcher := range state.Catch {
		if err := check(catcher.Next, "Catch"); err != nil {
			return err
		}
	}
	switch state.Type {
	case StateTypePass, StateTypeTask, StateTypeChoice, StateTypeWait,
		StateTypeSucceed, StateTypeFail, StateTypeMap, StateTypeParallel:
	default:
		return fmt.Errorf("state %q: unknown state type %q", name, state.Type)
	}
	if state.Type == StateTypeMap {
		processor := state.Processor()
		if processor == nil {
			return fmt.Errorf("state %q: Map state requires an ItemProcessor", name)
		}
		if err := processor.Validate(); err != nil {
			return fmt.Errorf("state %q: %w", name, err)
		}
	}
	if state.Type == StateTypeParallel {
		if len(state.Branches) == 0 {
			return fmt.Errorf("state %q: Parallel state requires Branches", name)
		}
		for i, branch := range state.Branches {
			if err := branch.Validate(); err != nil {
				return fmt.Errorf("state %q branch %d: %w", name, i, err)
			}
		}
	}
	return nil
}

// StateNames returns all state names in no particular order.
func (m *StateMachine) StateNames() []string {
	names := make([]string, 0, len(m.States))
	for name := range m.States {
		names = append(names, name)
	}
	return names
}
