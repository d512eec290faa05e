// Package coverage measures which states and Choice branches a set of
// executions exercised, including inside nested Map and Parallel scopes.
// Accumulation is cumulative across executions so a whole suite run yields
// one aggregate report.
package coverage

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/deepnoodle-ai/sfnlocal"
)

// topLevelUnit keys the outermost state machine's coverage unit.
const topLevelUnit = ""

// unit is one separately addressable coverage scope: the top-level machine,
// a Map state's item processor, or one Parallel branch.
type unit struct {
	states        map[string]bool
	branches      map[string]string   // rule key, e.g. "Classify[0]", to its from->to label
	edges         map[string][]string // from->to label to every rule key it may satisfy
	coveredStates map[string]bool
	coveredRules  map[string]bool
	choices       map[string]*sfnlocal.State
}

func newUnit() *unit {
	return &unit{
		states:        map[string]bool{},
		branches:      map[string]string{},
		edges:         map[string][]string{},
		coveredStates: map[string]bool{},
		coveredRules:  map[string]bool{},
		choices:       map[string]*sfnlocal.State{},
	}
}

// addBranch registers one Choice rule (or the Default) as its own branch.
// Two rules targeting the same state stay distinct in the totals, but an
// observed transition only carries the target, so both share the same edge
// label and cover together.
func (u *unit) addBranch(ruleKey, label string) {
	u.branches[ruleKey] = label
	u.edges[label] = append(u.edges[label], ruleKey)
}

// coverEdge marks every rule the observed transition may have satisfied.
func (u *unit) coverEdge(label string) {
	for _, ruleKey := range u.edges[label] {
		u.coveredRules[ruleKey] = true
	}
}

// Tracker accumulates covered states and branches against the totals
// declared by one state machine definition.
type Tracker struct {
	mu    sync.Mutex
	units map[string]*unit
}

// NewTracker walks the definition once and registers every coverage unit:
// the top-level machine plus, recursively, each Map processor (keyed by the
// Map state's name) and each Parallel branch (keyed `state[i]`).
func NewTracker(machine *sfnlocal.StateMachine) *Tracker {
	t := &Tracker{units: map[string]*unit{}}
	t.register(topLevelUnit, machine)
	return t
}

func (t *Tracker) register(key string, machine *sfnlocal.StateMachine) {
	u := newUnit()
	t.units[key] = u
	for name, state := range machine.States {
		u.states[name] = true
		if state.IsChoice() {
			u.choices[name] = state
			for i, rule := range state.Choices {
				u.addBranch(fmt.Sprintf("%s[%d]", name, i), branchKey(name, rule.Next))
			}
			if state.Default != "" {
				u.addBranch(name+"[default]", branchKey(name, state.Default))
			}
		}
		if processor := state.Processor(); state.IsMap() && processor != nil {
			t.register(qualify(key, name), processor)
		}
		if state.IsParallel() {
			for i, branch := range state.Branches {
				t.register(qualify(key, fmt.Sprintf("%s[%d]", name, i)), branch)
			}
		}
	}
}

func qualify(parent, child string) string {
	if parent == topLevelUnit {
		return child
	}
	return parent + "." + child
}

func branchKey(from, to string) string {
	return from + "->" + to
}

// TrackExecution accumulates the top-level execution path: every listed
// state becomes covered, and each transition out of a Choice state covers
// that branch.
func (t *Tracker) TrackExecution(path []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.trackPath(topLevelUnit, path)
}

// TrackBranch explicitly covers one Choice transition in the top-level unit.
func (t *Tracker) TrackBranch(from, to string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	u, ok := t.units[topLevelUnit]
	if !ok {
		return
	}
	u.coverEdge(branchKey(from, to))
}

// TrackMapExecutions accumulates the nested traces of Map iterations. Every
// iteration of one Map state feeds the same coverage unit.
func (t *Tracker) TrackMapExecutions(runs []*sfnlocal.MapExecution) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, run := range runs {
		for _, iteration := range run.Iterations {
			t.trackResult(run.StateName, iteration)
		}
	}
}

// TrackParallelExecutions accumulates the nested traces of Parallel
// branches, each against its own `state[i]` unit.
func (t *Tracker) TrackParallelExecutions(runs []*sfnlocal.ParallelExecution) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, run := range runs {
		for i, branch := range run.Branches {
			t.trackResult(fmt.Sprintf("%s[%d]", run.StateName, i), branch)
		}
	}
}

// TrackResult accumulates a full execution result: path, map iterations,
// and parallel branches in one call.
func (t *Tracker) TrackResult(result *sfnlocal.ExecutionResult) {
	if result == nil {
		return
	}
	t.TrackExecution(result.ExecutionPath)
	t.TrackMapExecutions(result.MapExecutions)
	t.TrackParallelExecutions(result.ParallelExecutions)
}

func (t *Tracker) trackResult(unitKey string, result *sfnlocal.ExecutionResult) {
	if result == nil {
		return
	}
	t.trackPath(unitKey, result.ExecutionPath)
	for _, run := range result.MapExecutions {
		for _, iteration := range run.Iterations {
			t.trackResult(qualify(unitKey, run.StateName), iteration)
		}
	}
	for _, run := range result.ParallelExecutions {
		for i, branch := range run.Branches {
			t.trackResult(qualify(unitKey, fmt.Sprintf("%s[%d]", run.StateName, i)), branch)
		}
	}
}

func (t *Tracker) trackPath(unitKey string, path []string) {
	u, ok := t.units[unitKey]
	if !ok {
		return
	}
	for i, name := range path {
		if u.states[name] {
			u.coveredStates[name] = true
		}
		if _, isChoice := u.choices[name]; isChoice && i+1 < len(path) {
			u.coverEdge(branchKey(name, path[i+1]))
		}
	}
}

// UnitCoverage is the total/covered/uncovered shape for one scope.
type UnitCoverage struct {
	Total     int      `json:"total"`
	Covered   int      `json:"covered"`
	Uncovered []string `json:"uncovered"`
	Percent   float64  `json:"percent"`
}

// BranchCoverage reports Choice branch coverage. Every rule and the Default
// count separately in the totals, including two rules that target the same
// state. Exercised is keyed by the observable `from->to` transition.
type BranchCoverage struct {
	Total     int             `json:"total"`
	Covered   int             `json:"covered"`
	Percent   float64         `json:"percent"`
	Exercised map[string]bool `json:"exercised"`
}

// Report is the derived coverage report. Nested holds one entry per Map
// processor or Parallel branch unit, keyed by its qualified path.
type Report struct {
	States   UnitCoverage            `json:"states"`
	Branches BranchCoverage          `json:"branches"`
	Nested   map[string]UnitCoverage `json:"nested,omitempty"`
}

// Report derives the current coverage. It is a pure read; tracking continues
// to accumulate afterwards.
func (t *Tracker) Report() *Report {
	t.mu.Lock()
	defer t.mu.Unlock()

	report := &Report{Nested: map[string]UnitCoverage{}}
	for key, u := range t.units {
		uc := unitCoverage(u)
		if key == topLevelUnit {
			report.States = uc
			report.Branches = branchCoverage(u)
			continue
		}
		report.Nested[key] = uc
	}
	if len(report.Nested) == 0 {
		report.Nested = nil
	}
	return report
}

func unitCoverage(u *unit) UnitCoverage {
	covered := 0
	uncovered := []string{}
	for name := range u.states {
		if u.coveredStates[name] {
			covered++
		} else {
			uncovered = append(uncovered, name)
		}
	}
	sort.Strings(uncovered)
	return UnitCoverage{
		Total:     len(u.states),
		Covered:   covered,
		Uncovered: uncovered,
		Percent:   percent(covered, len(u.states)),
	}
}

func branchCoverage(u *unit) BranchCoverage {
	exercised := make(map[string]bool, len(u.edges))
	covered := 0
	for ruleKey, label := range u.branches {
		hit := u.coveredRules[ruleKey]
		if hit {
			covered++
		}
		exercised[label] = exercised[label] || hit
	}
	return BranchCoverage{
		Total:     len(u.branches),
		Covered:   covered,
		Percent:   percent(covered, len(u.branches)),
		Exercised: exercised,
	}
}

// percent rounds to two decimals and never exceeds 100, even if duplicate
// tracking inflates the covered count.
func percent(covered, total int) float64 {
	if total == 0 {
		return 100
	}
	p := float64(covered) / float64(total) * 100
	p = math.Round(p*100) / 100
	if p > 100 {
		p = 100
	}
	return p
}
