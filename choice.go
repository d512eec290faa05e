package sfnlocal

import (
	"strings"
	"time"

	"github.com/deepnoodle-ai/sfnlocal/jsonpath"
	"github.com/deepnoodle-ai/sfnlocal/jsonutil"
)

// ChoiceRule is one rule in a Choice state. In JSONPath mode it is a data
// test (Variable plus exactly one comparison, or a boolean combinator); in
// JSONata mode it is a Condition expression. Top-level rules carry Next;
// nested rules inside And/Or/Not do not.
type ChoiceRule struct {
	Next string `json:"Next,omitempty"`

	// JSONata mode
	Condition any `json:"Condition,omitempty"`

	// Boolean combinators
	And []*ChoiceRule `json:"And,omitempty"`
	Or  []*ChoiceRule `json:"Or,omitempty"`
	Not *ChoiceRule   `json:"Not,omitempty"`

	// JSONPath-mode data test
	Variable string `json:"Variable,omitempty"`

	StringEquals                *string `json:"StringEquals,omitempty"`
	StringEqualsPath            *string `json:"StringEqualsPath,omitempty"`
	StringLessThan              *string `json:"StringLessThan,omitempty"`
	StringLessThanPath          *string `json:"StringLessThanPath,omitempty"`
	StringGreaterThan           *string `json:"StringGreaterThan,omitempty"`
	StringGreaterThanPath       *string `json:"StringGreaterThanPath,omitempty"`
	StringLessThanEquals        *string `json:"StringLessThanEquals,omitempty"`
	StringLessThanEqualsPath    *string `json:"StringLessThanEqualsPath,omitempty"`
	StringGreaterThanEquals     *string `json:"StringGreaterThanEquals,omitempty"`
	StringGreaterThanEqualsPath *string `json:"StringGreaterThanEqualsPath,omitempty"`
	StringMatches               *string `json:"StringMatches,omitempty"`

	NumericEquals                *float64 `json:"NumericEquals,omitempty"`
	NumericEqualsPath            *string  `json:"NumericEqualsPath,omitempty"`
	NumericLessThan              *float64 `json:"NumericLessThan,omitempty"`
	NumericLessThanPath          *string  `json:"NumericLessThanPath,omitempty"`
	NumericGreaterThan           *float64 `json:"NumericGreaterThan,omitempty"`
	NumericGreaterThanPath       *string  `json:"NumericGreaterThanPath,omitempty"`
	NumericLessThanEquals        *float64 `json:"NumericLessThanEquals,omitempty"`
	NumericLessThanEqualsPath    *string  `json:"NumericLessThanEqualsPath,omitempty"`
	NumericGreaterThanEquals     *float64 `json:"NumericGreaterThanEquals,omitempty"`
	NumericGreaterThanEqualsPath *string  `json:"NumericGreaterThanEqualsPath,omitempty"`

	BooleanEquals     *bool   `json:"BooleanEquals,omitempty"`
	BooleanEqualsPath *string `json:"BooleanEqualsPath,omitempty"`

	TimestampEquals                *string `json:"TimestampEquals,omitempty"`
	TimestampEqualsPath            *string `json:"TimestampEqualsPath,omitempty"`
	TimestampLessThan              *string `json:"TimestampLessThan,omitempty"`
	TimestampLessThanPath          *string `json:"TimestampLessThanPath,omitempty"`
	TimestampGreaterThan           *string `json:"TimestampGreaterThan,omitempty"`
	TimestampGreaterThanPath       *string `json:"TimestampGreaterThanPath,omitempty"`
	TimestampLessThanEquals        *string `json:"TimestampLessThanEquals,omitempty"`
	TimestampLessThanEqualsPath    *string `json:"TimestampLessThanEqualsPath,omitempty"`
	TimestampGreaterThanEquals     *string `json:"TimestampGreaterThanEquals,omitempty"`
	TimestampGreaterThanEqualsPath *string `json:"TimestampGreaterThanEqualsPath,omitempty"`

	IsNull      *bool `json:"IsNull,omitempty"`
	IsPresent   *bool `json:"IsPresent,omitempty"`
	IsNumeric   *bool `json:"IsNumeric,omitempty"`
	IsString    *bool `json:"IsString,omitempty"`
	IsBoolean   *bool `json:"IsBoolean,omitempty"`
	IsTimestamp *bool `json:"IsTimestamp,omitempty"`
}

// conditionEvaluator evaluates a JSONata-mode Condition to a boolean.
type conditionEvaluator func(condition any) (bool, error)

// evalChoiceRule evaluates one rule against the current input.
func evalChoiceRule(rule *ChoiceRule, ql QueryLanguage, input any, scope jsonpath.Scope, evalCondition conditionEvaluator) (bool, error) {
	if ql == QueryLanguageJSONata {
		if rule.Condition == nil {
			return false, NewStatesError(ErrStatesRuntime, "choice rule requires a Condition in JSONata mode")
		}
		return evalCondition(rule.Condition)
	}
	switch {
	case len(rule.And) > 0:
		for _, sub := range rule.And {
			ok, err := evalChoiceRule(sub, ql, input, scope, evalCondition)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil
	case len(rule.Or) > 0:
		for _, sub := range rule.Or {
			ok, err := evalChoiceRule(sub, ql, input, scope, evalCondition)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	case rule.Not != nil:
		ok, err := evalChoiceRule(rule.Not, ql, input, scope, evalCondition)
		if err != nil {
			return false, err
		}
		return !ok, nil
	}
	return evalDataTest(rule, input, scope)
}

// evalDataTest evaluates a leaf comparison. A missing Variable path makes
// IsPresent fire and every other comparison false rather than erroring,
// mirroring how absent fields behave in choice-heavy workflows under test.
func evalDataTest(rule *ChoiceRule, input any, scope jsonpath.Scope) (bool, error) {
	if rule.Variable == "" {
		return false, NewStatesError(ErrStatesRuntime, "choice rule requires a Variable")
	}
	present := jsonpath.Has(rule.Variable, input, scope)
	if rule.IsPresent != nil {
		return present == *rule.IsPresent, nil
	}
	if !present {
		return false, nil
	}
	value, err := jsonpath.Resolve(rule.Variable, input, scope)
	if err != nil {
		return false, nil
	}

	resolveOperand := func(path string) (any, error) {
		return jsonpath.Resolve(path, input, scope)
	}

	switch {
	case rule.IsNull != nil:
		return (value == nil) == *rule.IsNull, nil
	case rule.IsNumeric != nil:
		_, isNum := jsonutil.NumericValue(value)
		return isNum == *rule.IsNumeric, nil
	case rule.IsString != nil:
		_, isStr := value.(string)
		return isStr == *rule.IsString, nil
	case rule.IsBoolean != nil:
		_, isBool := value.(bool)
		return isBool == *rule.IsBoolean, nil
	case rule.IsTimestamp != nil:
		isTS := false
		if s, ok := value.(string); ok {
			_, err := parseTimestamp(s)
			isTS = err == nil
		}
		return isTS == *rule.IsTimestamp, nil
	}

	if ok, matched, err := evalStringTest(rule, value, resolveOperand); matched {
		return ok, err
	}
	if ok, matched, err := evalNumericTest(rule, value, resolveOperand); matched {
		return ok, err
	}
	if ok, matched, err := evalBooleanTest(rule, value, resolveOperand); matched {
		return ok, err
	}
	if ok, matched, err := evalTimestampTest(rule, value, resolveOperand); matched {
		return ok, err
	}
	return false, NewStatesErrorf(ErrStatesRuntime, "choice rule for %q has no comparison operator", rule.Variable)
}

type operandResolver func(path string) (any, error)

func evalStringTest(rule *ChoiceRule, value any, resolve operandResolver) (result, matched bool, err error) {
	type test struct {
		literal *string
		path    *string
		cmp     func(a, b string) bool
	}
	tests := []test{
		{rule.StringEquals, rule.StringEqualsPath, func(a, b string) bool { return a == b }},
		{rule.StringLessThan, rule.StringLessThanPath, func(a, b string) bool { return a < b }},
		{rule.StringGreaterThan, rule.StringGreaterThanPath, func(a, b string) bool { return a > b }},
		{rule.StringLessThanEquals, rule.StringLessThanEqualsPath, func(a, b string) bool { return a <= b }},
		{rule.StringGreaterThanEquals, rule.StringGreaterThanEqualsPath, func(a, b string) bool { return a >= b }},
	}
	for _, tc := range tests {
		if tc.literal == nil && tc.path == nil {
			continue
		}
		actual, ok := value.(string)
		if !ok {
			return false, true, nil
		}
		expected, err := stringOperand(tc.literal, tc.path, resolve)
		if err != nil {
			return false, true, err
		}
		return tc.cmp(actual, expected), true, nil
	}
	if rule.StringMatches != nil {
		actual, ok := value.(string)
		if !ok {
			return false, true, nil
		}
		return wildcardMatch(*rule.StringMatches, actual), true, nil
	}
	return false, false, nil
}

func evalNumericTest(rule *ChoiceRule, value any, resolve operandResolver) (result, matched bool, err error) {
	type test struct {
		literal *float64
		path    *string
		cmp     func(a, b float64) bool
	}
	tests := []test{
		{rule.NumericEquals, rule.NumericEqualsPath, func(a, b float64) bool { return a == b }},
		{rule.NumericLessThan, rule.NumericLessThanPath, func(a, b float64) bool { return a < b }},
		{rule.NumericGreaterThan, rule.NumericGreaterThanPath, func(a, b float64) bool { return a > b }},
		{rule.NumericLessThanEquals, rule.NumericLessThanEqualsPath, func(a, b float64) bool { return a <= b }},
		{rule.NumericGreaterThanEquals, rule.NumericGreaterThanEqualsPath, func(a, b float64) bool { return a >= b }},
	}
	for _, tc := range tests {
		if tc.literal == nil && tc.path == nil {
			continue
		}
		actual, ok := jsonutil.NumericValue(value)
		if !ok {
			return false, true, nil
		}
		var expected float64
		if tc.literal != nil {
			expected = *tc.literal
		} else {
			operand, err := resolve(*tc.path)
			if err != nil {
				return false, true, err
			}
			expected, ok = jsonutil.NumericValue(operand)
			if !ok {
				return false, true, nil
			}
		}
		return tc.cmp(actual, expected), true, nil
	}
	return false, false, nil
}

func evalBooleanTest(rule *ChoiceRule, value any, resolve operandResolver) (result, matched bool, err error) {
	if rule.BooleanEquals == nil && rule.BooleanEqualsPath == nil {
		return false, false, nil
	}
	actual, ok := value.(bool)
	if !ok {
		return false, true, nil
	}
	if rule.BooleanEquals != nil {
		return actual == *rule.BooleanEquals, true, nil
	}
	operand, err := resolve(*rule.BooleanEqualsPath)
	if err != nil {
		return false, true, err
	}
	expected, ok := operand.(bool)
	if !ok {
		return false, true, nil
	}
	return actual == expected, true, nil
}

func evalTimestampTest(rule *ChoiceRule, value any, resolve operandResolver) (result, matched bool, err error) {
	type test struct {
		literal *string
		path    *string
		cmp     func(a, b time.Time) bool
	}
	tests := []test{
		{rule.TimestampEquals, rule.TimestampEqualsPath, func(a, b time.Time) bool { return a.Equal(b) }},
		{rule.TimestampLessThan, rule.TimestampLessThanPath, func(a, b time.Time) bool { return a.Before(b) }},
		{rule.TimestampGreaterThan, rule.TimestampGreaterThanPath, func(a, b time.Time) bool { return a.After(b) }},
		{rule.TimestampLessThanEquals, rule.TimestampLessThanEqualsPath, func(a, b time.Time) bool { return !a.After(b) }},
		{rule.TimestampGreaterThanEquals, rule.TimestampGreaterThanEqualsPath, func(a, b time.Time) bool { return !a.Before(b) }},
	}
	for _, tc := range tests {
		if tc.literal == nil && tc.path == nil {
			continue
		}
		raw, ok := value.(string)
		if !ok {
			return false, true, nil
		}
		actual, err := parseTimestamp(raw)
		if err != nil {
			return false, true, nil
		}
		expectedRaw, err := stringOperand(tc.literal, tc.path, resolve)
		if err != nil {
			return false, true, err
		}
		expected, err := parseTimestamp(expectedRaw)
		if err != nil {
			return false, true, nil
		}
		return tc.cmp(actual, expected), true, nil
	}
	return false, false, nil
}

func stringOperand(literal, path *string, resolve operandResolver) (string, error) {
	if literal != nil {
		return *literal, nil
	}
	operand, err := resolve(*path)
	if err != nil {
		return "", err
	}
	s, ok := operand.(string)
	if !ok {
		return "", NewStatesErrorf(ErrStatesRuntime, "path comparison operand is not a string: %T", operand)
	}
	return s, nil
}

func parseTimestamp(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}

// wildcardMatch implements StringMatches semantics: * matches any run of
// characters, \* matches a literal asterisk.
func wildcardMatch(pattern, s string) bool {
	var parts []string
	var b strings.Builder
	for i := 0; i < len(pattern); i++ {
		switch pattern[i] {
		case '\\':
			if i+1 < len(pattern) {
				i++
				b.WriteByte(pattern[i])
			}
		case '*':
			parts = append(parts, b.String())
			b.Reset()
		default:
			b.WriteByte(pattern[i])
		}
	}
	parts = append(parts, b.String())

	if len(parts) == 1 {
		return s == parts[0]
	}
	if !strings.HasPrefix(s, parts[0]) {
		return false
	}
	s = s[len(parts[0]):]
	last := parts[len(parts)-1]
	if !strings.HasSuffix(s, last) {
		return false
	}
	s = s[:len(s)-len(last)]
	for _, part := range parts[1 : len(parts)-1] {
		idx := strings.Index(s, part)
		if idx < 0 {
			return false
		}
		s = s[idx+len(part):]
	}
	return true
}
