package sfnlocal

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/deepnoodle-ai/sfnlocal/jsonpath"
)

func strptr(s string) *string   { return &s }
func numptr(n float64) *float64 { return &n }
func boolptr(b bool) *bool      { return &b }

func evalRule(t *testing.T, rule *ChoiceRule, input any) bool {
	t.Helper()
	ok, err := evalChoiceRule(rule, QueryLanguageJSONPath, input, jsonpath.Scope{}, nil)
	require.NoError(t, err)
	return ok
}

func TestChoiceDataTests(t *testing.T) {
	input := map[string]any{
		"name":    "alpha",
		"count":   float64(7),
		"flag":    true,
		"when":    "2024-06-01T00:00:00Z",
		"nothing": nil,
	}

	tests := []struct {
		name string
		rule *ChoiceRule
		want bool
	}{
		{"string equals", &ChoiceRule{Variable: "$.name", StringEquals: strptr("alpha")}, true},
		{"string equals mismatch", &ChoiceRule{Variable: "$.name", StringEquals: strptr("beta")}, false},
		{"string less than", &ChoiceRule{Variable: "$.name", StringLessThan: strptr("beta")}, true},
		{"numeric greater than", &ChoiceRule{Variable: "$.count", NumericGreaterThan: numptr(5)}, true},
		{"numeric less than equals", &ChoiceRule{Variable: "$.count", NumericLessThanEquals: numptr(7)}, true},
		{"numeric against string value", &ChoiceRule{Variable: "$.name", NumericEquals: numptr(1)}, false},
		{"boolean equals", &ChoiceRule{Variable: "$.flag", BooleanEquals: boolptr(true)}, true},
		{"timestamp greater than", &ChoiceRule{Variable: "$.when", TimestampGreaterThan: strptr("2024-01-01T00:00:00Z")}, true},
		{"is null", &ChoiceRule{Variable: "$.nothing", IsNull: boolptr(true)}, true},
		{"is numeric", &ChoiceRule{Variable: "$.count", IsNumeric: boolptr(true)}, true},
		{"is string false", &ChoiceRule{Variable: "$.count", IsString: boolptr(true)}, false},
		{"is timestamp", &ChoiceRule{Variable: "$.when", IsTimestamp: boolptr(true)}, true},
		{"string matches wildcard", &ChoiceRule{Variable: "$.name", StringMatches: strptr("al*a")}, true},
		{"string matches no wildcard", &ChoiceRule{Variable: "$.name", StringMatches: strptr("alpha")}, true},
		{"string matches miss", &ChoiceRule{Variable: "$.name", StringMatches: strptr("b*")}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, evalRule(t, tc.rule, input))
		})
	}
}

func TestChoiceMissingPath(t *testing.T) {
	input := map[string]any{"present": 1}

	// IsPresent is the one comparison that fires on a missing path.
	require.True(t, evalRule(t, &ChoiceRule{Variable: "$.absent", IsPresent: boolptr(false)}, input))
	require.False(t, evalRule(t, &ChoiceRule{Variable: "$.absent", IsPresent: boolptr(true)}, input))
	require.True(t, evalRule(t, &ChoiceRule{Variable: "$.present", IsPresent: boolptr(true)}, input))

	// Every other comparison on a missing path is false, not an error.
	require.False(t, evalRule(t, &ChoiceRule{Variable: "$.absent", StringEquals: strptr("x")}, input))
	require.False(t, evalRule(t, &ChoiceRule{Variable: "$.absent", NumericEquals: numptr(1)}, input))
}

func TestChoiceCombinators(t *testing.T) {
	input := map[string]any{"a": float64(1), "b": float64(2)}

	and := &ChoiceRule{And: []*ChoiceRule{
		{Variable: "$.a", NumericEquals: numptr(1)},
		{Variable: "$.b", NumericEquals: numptr(2)},
	}}
	require.True(t, evalRule(t, and, input))

	or := &ChoiceRule{Or: []*ChoiceRule{
		{Variable: "$.a", NumericEquals: numptr(9)},
		{Variable: "$.b", NumericEquals: numptr(2)},
	}}
	require.True(t, evalRule(t, or, input))

	not := &ChoiceRule{Not: &ChoiceRule{Variable: "$.a", NumericEquals: numptr(1)}}
	require.False(t, evalRule(t, not, input))
}

func TestChoicePathComparison(t *testing.T) {
	input := map[string]any{"left": float64(3), "right": float64(3), "name": "x", "other": "x"}

	require.True(t, evalRule(t, &ChoiceRule{
		Variable: "$.left", NumericEqualsPath: strptr("$.right"),
	}, input))
	require.True(t, evalRule(t, &ChoiceRule{
		Variable: "$.name", StringEqualsPath: strptr("$.other"),
	}, input))
}

func TestWildcardMatch(t *testing.T) {
	tests := []struct {
		pattern string
		s       string
		want    bool
	}{
		{"foo*.log", "foo23.log", true},
		{"foo*.log", "foo.log", true},
		{"foo*.log", "foo.txt", false},
		{"*", "anything", true},
		{"a*b*c", "axxbyyc", true},
		{"a*b*c", "acb", false},
		{`literal\*star`, "literal*star", true},
		{`literal\*star`, "literalXstar", false},
	}
	for _, tc := range tests {
		require.Equal(t, tc.want, wildcardMatch(tc.pattern, tc.s),
			"pattern %q against %q", tc.pattern, tc.s)
	}
}
