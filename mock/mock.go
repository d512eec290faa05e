// Package mock substitutes configured responses for the external invocations
// a state machine would otherwise make. Every task-like state resolves its
// response here, so executions run fully offline and fully reproducibly.
package mock

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/deepnoodle-ai/sfnlocal"
	"github.com/deepnoodle-ai/sfnlocal/deterministic"
	"github.com/deepnoodle-ai/sfnlocal/jsonutil"
)

// Config is the parsed mock configuration document.
type Config struct {
	Version string            `json:"version,omitempty" yaml:"version,omitempty"`
	Mocks   []*MockDefinition `json:"mocks" yaml:"mocks"`
}

// MockDefinition configures the substitute behavior for one state. Exactly
// one strategy field should be populated; when several are, the precedence is
// Error, Conditional, ResponseSequence, ItemReader, then the fixed Response.
type MockDefinition struct {
	State            string           `json:"state" yaml:"state"`
	Response         any              `json:"response,omitempty" yaml:"response,omitempty"`
	Conditional      *ConditionalMock `json:"conditional,omitempty" yaml:"conditional,omitempty"`
	ResponseSequence *SequenceMock    `json:"responseSequence,omitempty" yaml:"responseSequence,omitempty"`
	Error            *ErrorMock       `json:"error,omitempty" yaml:"error,omitempty"`
	ItemReader       *ItemReaderMock  `json:"itemReader,omitempty" yaml:"itemReader,omitempty"`
}

// ConditionalMock selects a response by matching the actual task input
// against each rule's input pattern in declared order.
type ConditionalMock struct {
	When    []*WhenRule `json:"when" yaml:"when"`
	Default any         `json:"default,omitempty" yaml:"default,omitempty"`

	defaultSet bool
}

// UnmarshalJSON records whether a default was declared, since an explicit
// null default is a valid response.
func (c *ConditionalMock) UnmarshalJSON(data []byte) error {
	type alias ConditionalMock
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*c = ConditionalMock(a)
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return err
	}
	_, c.defaultSet = probe["default"]
	return nil
}

// WhenRule matches when every key declared in Input is present in the actual
// input with a deep-equal value. Object matching is subset matching; arrays
// must match element for element.
type WhenRule struct {
	Input    any `json:"input" yaml:"input"`
	Response any `json:"response" yaml:"response"`
}

// SequenceMock returns its responses one per call. Without Cycle the mock is
// exhausted after the last response and further calls fail.
type SequenceMock struct {
	Responses []any `json:"responses" yaml:"responses"`
	Cycle     bool  `json:"cycle,omitempty" yaml:"cycle,omitempty"`
}

// ErrorMock raises a named error. With a Probability below 1 the error fires
// on a deterministic RNG roll and the Response is returned otherwise.
type ErrorMock struct {
	ErrorName   string   `json:"error" yaml:"error"`
	Cause       string   `json:"cause,omitempty" yaml:"cause,omitempty"`
	Probability *float64 `json:"probability,omitempty" yaml:"probability,omitempty"`
	Response    any      `json:"response,omitempty" yaml:"response,omitempty"`
}

// ItemReaderMock supplies the item collection for a distributed Map state,
// either inline or from a data file resolved against the engine's base path.
type ItemReaderMock struct {
	Items    []any  `json:"items,omitempty" yaml:"items,omitempty"`
	DataFile string `json:"dataFile,omitempty" yaml:"dataFile,omitempty"`
	Format   string `json:"format,omitempty" yaml:"format,omitempty"`
	MaxItems int    `json:"maxItems,omitempty" yaml:"maxItems,omitempty"`
}

// Options configures a new Engine.
type Options struct {
	Config         *Config
	BasePath       string
	Logger         *slog.Logger
	Deterministics *deterministic.Provider
}

// Engine implements sfnlocal.MockEngine. Call counters and sequence cursors
// are instance state guarded by a mutex, so one engine may serve concurrent
// Map iterations and Parallel branches.
type Engine struct {
	mu        sync.Mutex
	base      map[string]*MockDefinition
	overrides map[string]*MockDefinition
	basePath  string
	logger    *slog.Logger
	det       *deterministic.Provider
	calls     map[string]int
	cursors   map[string]int
}

// NewEngine builds an engine from a parsed configuration. A nil config means
// no mocks, which is valid for machines without task-like states.
func NewEngine(opts Options) (*Engine, error) {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Deterministics == nil {
		opts.Deterministics = deterministic.Default()
	}
	base := map[string]*MockDefinition{}
	if opts.Config != nil {
		for _, def := range opts.Config.Mocks {
			if def.State == "" {
				return nil, fmt.Errorf("mock definition is missing a state name")
			}
			base[def.State] = def
		}
	}
	return &Engine{
		base:      base,
		overrides: map[string]*MockDefinition{},
		basePath:  opts.BasePath,
		logger:    opts.Logger,
		det:       opts.Deterministics,
		calls:     map[string]int{},
		cursors:   map[string]int{},
	}, nil
}

// SetOverrides layers per-test-case definitions over the base configuration.
// Overridden states resolve through the override until ClearOverrides.
func (e *Engine) SetOverrides(defs []*MockDefinition) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, def := range defs {
		if def.State != "" {
			e.overrides[def.State] = def
		}
	}
}

// ClearOverrides removes every override, restoring the base configuration.
func (e *Engine) ClearOverrides() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.overrides = map[string]*MockDefinition{}
}

// ResetCallCounts zeroes the per-state call counters and sequence cursors.
// The suite runner calls this between test cases.
func (e *Engine) ResetCallCounts() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = map[string]int{}
	e.cursors = map[string]int{}
}

// CallCount returns how many times the named state has been resolved since
// the last reset.
func (e *Engine) CallCount(stateName string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls[stateName]
}

// HasMock reports whether a definition exists for the named state.
func (e *Engine) HasMock(stateName string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lookup(stateName) != nil
}

func (e *Engine) lookup(stateName string) *MockDefinition {
	if def, ok := e.overrides[stateName]; ok {
		return def
	}
	return e.base[stateName]
}

// Resolve returns the substitute response for one invocation of the named
// state. The input is the state's already-transformed task input, which is
// what conditional rules match against.
func (e *Engine) Resolve(stateName string, input any) (any, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls[stateName]++

	def := e.lookup(stateName)
	if def == nil {
		return nil, sfnlocal.NewStatesErrorf(sfnlocal.ErrMockNoMatch,
			"no mock configured for state %q", stateName)
	}

	switch {
	case def.Error != nil:
		return e.resolveError(stateName, def.Error)
	case def.Conditional != nil:
		return e.resolveConditional(stateName, def.Conditional, input)
	case def.ResponseSequence != nil:
		return e.resolveSequence(stateName, def.ResponseSequence)
	case def.ItemReader != nil:
		return nil, sfnlocal.NewStatesErrorf(sfnlocal.ErrMockNoMatch,
			"mock for state %q is an item reader, not a task response", stateName)
	default:
		return jsonutil.DeepCopy(def.Response), nil
	}
}

func (e *Engine) resolveError(stateName string, mock *ErrorMock) (any, error) {
	if mock.Probability != nil {
		roll := e.det.Float64()
		if roll >= *mock.Probability {
			e.logger.Debug("error mock did not fire",
				"state", stateName, "roll", roll, "probability", *mock.Probability)
			return jsonutil.DeepCopy(mock.Response), nil
		}
	}
	name := mock.ErrorName
	if name == "" {
		name = sfnlocal.ErrStatesTaskFailed
	}
	return nil, sfnlocal.NewStatesError(name, mock.Cause)
}

func (e *Engine) resolveConditional(stateName string, mock *ConditionalMock, input any) (any, error) {
	for _, rule := range mock.When {
		if jsonutil.IsSubset(rule.Input, input) {
			return jsonutil.DeepCopy(rule.Response), nil
		}
	}
	if mock.defaultSet {
		return jsonutil.DeepCopy(mock.Default), nil
	}
	return nil, sfnlocal.NewStatesErrorf(sfnlocal.ErrMockNoMatch,
		"no conditional mock rule matched for state %q and no default is declared", stateName)
}

func (e *Engine) resolveSequence(stateName string, mock *SequenceMock) (any, error) {
	if len(mock.Responses) == 0 {
		return nil, sfnlocal.NewStatesErrorf(sfnlocal.ErrMockSequenceExhausted,
			"response sequence for state %q is empty", stateName)
	}
	cursor := e.cursors[stateName]
	if cursor >= len(mock.Responses) {
		if !mock.Cycle {
			return nil, sfnlocal.NewStatesErrorf(sfnlocal.ErrMockSequenceExhausted,
				"response sequence for state %q exhausted after %d calls", stateName, cursor)
		}
		cursor = cursor % len(mock.Responses)
	}
	e.cursors[stateName]++
	return jsonutil.DeepCopy(mock.Responses[cursor]), nil
}
