package assertions

import (
	"fmt"
	"sort"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/deepnoodle-ai/sfnlocal/jsonutil"
)

// Diff kind names.
const (
	DiffObject = "object"
	DiffArray  = "array"
	DiffScalar = "scalar"
)

// Diff is the structured comparison of one expected/actual pair. Objects
// partition their keys into Changed/Missing/Extra/Unchanged; arrays carry
// per-index element diffs plus a length notice; scalars carry a two-line
// expected/actual dump. Text is a rendered unified diff over indented JSON.
type Diff struct {
	Kind       string         `json:"kind"`
	Changed    []string       `json:"changed,omitempty"`
	Missing    []string       `json:"missing,omitempty"`
	Extra      []string       `json:"extra,omitempty"`
	Unchanged  []string       `json:"unchanged,omitempty"`
	Elements   []*ElementDiff `json:"elements,omitempty"`
	LengthNote string         `json:"lengthNote,omitempty"`
	Expected   string         `json:"expected,omitempty"`
	Actual     string         `json:"actual,omitempty"`
	Text       string         `json:"text,omitempty"`
}

// ElementDiff is the diff of one mismatched array element.
type ElementDiff struct {
	Index int   `json:"index"`
	Diff  *Diff `json:"diff"`
}

// NewDiff builds the structured diff between an expected and an actual
// value. Under partial mode, object keys absent from expected are not
// reported as extra.
func NewDiff(expected, actual any, partial bool) *Diff {
	d := buildDiff(expected, actual, partial)
	d.Text = renderTextDiff(expected, actual)
	return d
}

func buildDiff(expected, actual any, partial bool) *Diff {
	if em, ok := expected.(map[string]any); ok {
		if am, ok := actual.(map[string]any); ok {
			return objectDiff(em, am, partial)
		}
	}
	if es, ok := expected.([]any); ok {
		if as, ok := actual.([]any); ok {
			return arrayDiff(es, as, partial)
		}
	}
	return &Diff{
		Kind:     DiffScalar,
		Expected: jsonutil.MarshalIndent(expected),
		Actual:   jsonutil.MarshalIndent(actual),
	}
}

func objectDiff(expected, actual map[string]any, partial bool) *Diff {
	d := &Diff{Kind: DiffObject}
	for key, ev := range expected {
		av, exists := actual[key]
		switch {
		case !exists:
			d.Missing = append(d.Missing, key)
		case matches(ev, av, partial):
			d.Unchanged = append(d.Unchanged, key)
		default:
			d.Changed = append(d.Changed, key)
		}
	}
	if !partial {
		for key := range actual {
			if _, exists := expected[key]; !exists {
				d.Extra = append(d.Extra, key)
			}
		}
	}
	sort.Strings(d.Changed)
	sort.Strings(d.Missing)
	sort.Strings(d.Extra)
	sort.Strings(d.Unchanged)
	return d
}

func arrayDiff(expected, actual []any, partial bool) *Diff {
	d := &Diff{Kind: DiffArray}
	if len(expected) != len(actual) {
		d.LengthNote = fmt.Sprintf("expected %d elements, got %d", len(expected), len(actual))
	}
	limit := len(expected)
	if len(actual) < limit {
		limit = len(actual)
	}
	for i := 0; i < limit; i++ {
		if matches(expected[i], actual[i], partial) {
			continue
		}
		d.Elements = append(d.Elements, &ElementDiff{
			Index: i,
			Diff:  buildDiff(expected[i], actual[i], partial),
		})
	}
	return d
}

// matches applies the comparison rule for the given mode: exact is deep
// equality in both directions; partial ignores extra actual object keys but
// still compares arrays length for length.
func matches(expected, actual any, partial bool) bool {
	if partial {
		return jsonutil.IsSubset(expected, actual)
	}
	return jsonutil.DeepEqual(expected, actual)
}

func renderTextDiff(expected, actual any) string {
	text, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(jsonutil.MarshalIndent(expected) + "\n"),
		B:        difflib.SplitLines(jsonutil.MarshalIndent(actual) + "\n"),
		FromFile: "expected",
		ToFile:   "actual",
		Context:  3,
	})
	if err != nil {
		return ""
	}
	return text
}
