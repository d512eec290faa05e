package jsonpath

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/deepnoodle-ai/sfnlocal/deterministic"
	"github.com/deepnoodle-ai/sfnlocal/jsonutil"
)

// arrayRangeLimit is the hosted service's cap on States.ArrayRange output.
const arrayRangeLimit = 1000

// IntrinsicError reports a contract violation inside a States.* function.
type IntrinsicError struct {
	Function string
	Message  string
}

func (e *IntrinsicError) Error() string {
	return fmt.Sprintf("%s: %s", e.Function, e.Message)
}

func intrinsicErrorf(fn, format string, args ...any) *IntrinsicError {
	return &IntrinsicError{Function: fn, Message: fmt.Sprintf(format, args...)}
}

// Intrinsics evaluates States.* intrinsic function calls. Time and
// randomness go through the deterministic provider.
type Intrinsics struct {
	det *deterministic.Provider
}

// NewIntrinsics returns an intrinsic function evaluator backed by the given
// deterministic provider.
func NewIntrinsics(det *deterministic.Provider) *Intrinsics {
	if det == nil {
		det = deterministic.Default()
	}
	return &Intrinsics{det: det}
}

// IsIntrinsic reports whether the string looks like an intrinsic call.
func IsIntrinsic(s string) bool {
	return strings.HasPrefix(s, "States.") && strings.Contains(s, "(") && strings.HasSuffix(s, ")")
}

// Eval parses and evaluates an intrinsic function call such as
// States.Format('{}-{}', $.a, States.UUID()).
func (in *Intrinsics) Eval(expr string, data any, scope Scope) (any, error) {
	expr = strings.TrimSpace(expr)
	open := strings.Index(expr, "(")
	if open < 0 || !strings.HasSuffix(expr, ")") {
		return nil, intrinsicErrorf(expr, "malformed intrinsic call")
	}
	name := expr[:open]
	rawArgs, err := splitArgs(expr[open+1 : len(expr)-1])
	if err != nil {
		return nil, intrinsicErrorf(name, "%s", err.Error())
	}
	args := make([]any, len(rawArgs))
	for i, raw := range rawArgs {
		v, err := in.evalArg(raw, data, scope)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}
	return in.call(name, args)
}

// evalArg evaluates one argument: a quoted string, a number, a boolean,
// null, a reference path, or a nested intrinsic call.
func (in *Intrinsics) evalArg(raw string, data any, scope Scope) (any, error) {
	raw = strings.TrimSpace(raw)
	switch {
	case raw == "":
		return nil, intrinsicErrorf("argument", "empty argument")
	case raw == "null":
		return nil, nil
	case raw == "true":
		return true, nil
	case raw == "false":
		return false, nil
	case strings.HasPrefix(raw, "'"):
		return unquote(raw)
	case IsIntrinsic(raw):
		return in.Eval(raw, data, scope)
	case strings.HasPrefix(raw, "$"):
		return Resolve(raw, data, scope)
	default:
		if n, err := strconv.ParseFloat(raw, 64); err == nil {
			return n, nil
		}
		return nil, intrinsicErrorf("argument", "cannot parse argument %q", raw)
	}
}

// splitArgs splits an argument list at top-level commas, honoring quoted
// strings and nested parentheses.
func splitArgs(s string) ([]string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	var args []string
	var depth int
	var inQuote bool
	start := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case inQuote:
			if c == '\\' {
				i++
			} else if c == '\'' {
				inQuote = false
			}
		case c == '\'':
			inQuote = true
		case c == '(':
			depth++
		case c == ')':
			depth--
			if depth < 0 {
				return nil, fmt.Errorf("unbalanced parentheses")
			}
		case c == ',' && depth == 0:
			args = append(args, s[start:i])
			start = i + 1
		}
	}
	if inQuote || depth != 0 {
		return nil, fmt.Errorf("unterminated argument list")
	}
	args = append(args, s[start:])
	return args, nil
}

// unquote removes single quotes and backslash escapes.
func unquote(raw string) (string, error) {
	if len(raw) < 2 || raw[len(raw)-1] != '\'' {
		return "", intrinsicErrorf("argument", "unterminated string %q", raw)
	}
	body := raw[1 : len(raw)-1]
	var b strings.Builder
	for i := 0; i < len(body); i++ {
		if body[i] == '\\' && i+1 < len(body) {
			i++
		}
		b.WriteByte(body[i])
	}
	return b.String(), nil
}

func (in *Intrinsics) call(name string, args []any) (any, error) {
	switch name {
	case "States.Array":
		return args, nil
	case "States.ArrayPartition":
		return arrayPartition(name, args)
	case "States.ArrayContains":
		return arrayContains(name, args)
	case "States.ArrayRange":
		return arrayRange(name, args)
	case "States.ArrayGetItem":
		return arrayGetItem(name, args)
	case "States.ArrayLength":
		arr, err := argArray(name, args, 0, 1)
		if err != nil {
			return nil, err
		}
		return float64(len(arr)), nil
	case "States.ArrayUnique":
		return arrayUnique(name, args)
	case "States.Base64Encode":
		s, err := argString(name, args, 0, 1)
		if err != nil {
			return nil, err
		}
		return base64.StdEncoding.EncodeToString([]byte(s)), nil
	case "States.Base64Decode":
		s, err := argString(name, args, 0, 1)
		if err != nil {
			return nil, err
		}
		decoded, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, intrinsicErrorf(name, "invalid base64 input: %v", err)
		}
		return string(decoded), nil
	case "States.Hash":
		return hashValue(name, args)
	case "States.JsonMerge":
		return jsonMerge(name, args)
	case "States.StringToJson":
		s, err := argString(name, args, 0, 1)
		if err != nil {
			return nil, err
		}
		var out any
		if err := json.Unmarshal([]byte(s), &out); err != nil {
			return nil, intrinsicErrorf(name, "invalid JSON input: %v", err)
		}
		return out, nil
	case "States.JsonToString":
		if len(args) != 1 {
			return nil, intrinsicErrorf(name, "expected 1 argument, got %d", len(args))
		}
		data, err := json.Marshal(args[0])
		if err != nil {
			return nil, intrinsicErrorf(name, "cannot serialize value: %v", err)
		}
		return string(data), nil
	case "States.MathRandom":
		return in.mathRandom(name, args)
	case "States.MathAdd":
		return mathAdd(name, args)
	case "States.StringSplit":
		return stringSplit(name, args)
	case "States.Format":
		return formatString(name, args)
	case "States.UUID":
		if len(args) != 0 {
			return nil, intrinsicErrorf(name, "expected no arguments, got %d", len(args))
		}
		return in.det.UUID(), nil
	default:
		return nil, intrinsicErrorf(name, "unknown intrinsic function")
	}
}

func argArray(fn string, args []any, i, want int) ([]any, error) {
	if len(args) != want {
		return nil, intrinsicErrorf(fn, "expected %d arguments, got %d", want, len(args))
	}
	arr, ok := args[i].([]any)
	if !ok {
		return nil, intrinsicErrorf(fn, "argument %d must be an array, got %T", i+1, args[i])
	}
	return arr, nil
}

func argString(fn string, args []any, i, want int) (string, error) {
	if len(args) != want {
		return "", intrinsicErrorf(fn, "expected %d arguments, got %d", want, len(args))
	}
	s, ok := args[i].(string)
	if !ok {
		return "", intrinsicErrorf(fn, "argument %d must be a string, got %T", i+1, args[i])
	}
	return s, nil
}

// argInt rounds a numeric argument to the nearest integer, per the service's
// treatment of non-integer inputs to numeric intrinsics.
func argInt(fn string, v any, pos int) (int, error) {
	n, ok := jsonutil.NumericValue(v)
	if !ok {
		return 0, intrinsicErrorf(fn, "argument %d must be a number, got %T", pos, v)
	}
	return int(math.Round(n)), nil
}

func arrayPartition(fn string, args []any) (any, error) {
	if len(args) != 2 {
		return nil, intrinsicErrorf(fn, "expected 2 arguments, got %d", len(args))
	}
	arr, ok := args[0].([]any)
	if !ok {
		return nil, intrinsicErrorf(fn, "argument 1 must be an array, got %T", args[0])
	}
	size, err := argInt(fn, args[1], 2)
	if err != nil {
		return nil, err
	}
	if size <= 0 {
		return nil, intrinsicErrorf(fn, "chunk size must be positive, got %d", size)
	}
	var chunks []any
	for i := 0; i < len(arr); i += size {
		end := i + size
		if end > len(arr) {
			end = len(arr)
		}
		chunk := make([]any, end-i)
		copy(chunk, arr[i:end])
		chunks = append(chunks, chunk)
	}
	if chunks == nil {
		chunks = []any{}
	}
	return chunks, nil
}

func arrayContains(fn string, args []any) (any, error) {
	if len(args) != 2 {
		return nil, intrinsicErrorf(fn, "expected 2 arguments, got %d", len(args))
	}
	arr, ok := args[0].([]any)
	if !ok {
		return nil, intrinsicErrorf(fn, "argument 1 must be an array, got %T", args[0])
	}
	for _, item := range arr {
		if jsonutil.DeepEqual(item, args[1]) {
			return true, nil
		}
	}
	return false, nil
}

func arrayRange(fn string, args []any) (any, error) {
	if len(args) != 3 {
		return nil, intrinsicErrorf(fn, "expected 3 arguments, got %d", len(args))
	}
	start, err := argInt(fn, args[0], 1)
	if err != nil {
		return nil, err
	}
	end, err := argInt(fn, args[1], 2)
	if err != nil {
		return nil, err
	}
	step, err := argInt(fn, args[2], 3)
	if err != nil {
		return nil, err
	}
	if step == 0 {
		return nil, intrinsicErrorf(fn, "step must not be zero")
	}
	count := 0
	if step > 0 {
		if end >= start {
			count = (end-start)/step + 1
		}
	} else {
		if end <= start {
			count = (start-end)/(-step) + 1
		}
	}
	if count > arrayRangeLimit {
		return nil, intrinsicErrorf(fn, "range would produce %d elements, limit is %d", count, arrayRangeLimit)
	}
	out := make([]any, 0, count)
	for i, v := 0, start; i < count; i, v = i+1, v+step {
		out = append(out, float64(v))
	}
	return out, nil
}

func arrayGetItem(fn string, args []any) (any, error) {
	if len(args) != 2 {
		return nil, intrinsicErrorf(fn, "expected 2 arguments, got %d", len(args))
	}
	arr, ok := args[0].([]any)
	if !ok {
		return nil, intrinsicErrorf(fn, "argument 1 must be an array, got %T", args[0])
	}
	idx, err := argInt(fn, args[1], 2)
	if err != nil {
		return nil, err
	}
	if idx < 0 || idx >= len(arr) {
		return nil, intrinsicErrorf(fn, "index %d out of range for array of length %d", idx, len(arr))
	}
	return arr[idx], nil
}

func arrayUnique(fn string, args []any) (any, error) {
	arr, err := argArray(fn, args, 0, 1)
	if err != nil {
		return nil, err
	}
	out := make([]any, 0, len(arr))
	for _, item := range arr {
		seen := false
		for _, existing := range out {
			if jsonutil.DeepEqual(item, existing) {
				seen = true
				break
			}
		}
		if !seen {
			out = append(out, item)
		}
	}
	return out, nil
}

func hashValue(fn string, args []any) (any, error) {
	if len(args) != 2 {
		return nil, intrinsicErrorf(fn, "expected 2 arguments, got %d", len(args))
	}
	algo, ok := args[1].(string)
	if !ok {
		return nil, intrinsicErrorf(fn, "algorithm must be a string, got %T", args[1])
	}
	input, ok := args[0].(string)
	if !ok {
		data, err := json.Marshal(args[0])
		if err != nil {
			return nil, intrinsicErrorf(fn, "cannot serialize input: %v", err)
		}
		input = string(data)
	}
	return HashString(input, algo)
}

// HashString hashes input with the named algorithm. Shared with the
// expression-language $hash function.
func HashString(input, algorithm string) (string, error) {
	switch algorithm {
	case "SHA-256":
		sum := sha256.Sum256([]byte(input))
		return hex.EncodeToString(sum[:]), nil
	case "SHA-1":
		sum := sha1.Sum([]byte(input))
		return hex.EncodeToString(sum[:]), nil
	case "MD5":
		sum := md5.Sum([]byte(input))
		return hex.EncodeToString(sum[:]), nil
	default:
		return "", intrinsicErrorf("States.Hash", "unsupported algorithm %q", algorithm)
	}
}

func jsonMerge(fn string, args []any) (any, error) {
	if len(args) != 3 {
		return nil, intrinsicErrorf(fn, "expected 3 arguments, got %d", len(args))
	}
	deep, ok := args[2].(bool)
	if !ok {
		return nil, intrinsicErrorf(fn, "argument 3 must be a boolean, got %T", args[2])
	}
	if deep {
		// The hosted service only implements shallow merge and rejects
		// deep=true; match that exactly.
		return nil, intrinsicErrorf(fn, "deep merge is not supported")
	}
	left, ok := args[0].(map[string]any)
	if !ok {
		return nil, intrinsicErrorf(fn, "argument 1 must be an object, got %T", args[0])
	}
	right, ok := args[1].(map[string]any)
	if !ok {
		return nil, intrinsicErrorf(fn, "argument 2 must be an object, got %T", args[1])
	}
	out := make(map[string]any, len(left)+len(right))
	for k, v := range left {
		out[k] = v
	}
	for k, v := range right {
		out[k] = v
	}
	return out, nil
}

func (in *Intrinsics) mathRandom(fn string, args []any) (any, error) {
	if len(args) != 2 && len(args) != 3 {
		return nil, intrinsicErrorf(fn, "expected 2 or 3 arguments, got %d", len(args))
	}
	start, err := argInt(fn, args[0], 1)
	if err != nil {
		return nil, err
	}
	end, err := argInt(fn, args[1], 2)
	if err != nil {
		return nil, err
	}
	if end <= start {
		return nil, intrinsicErrorf(fn, "end must be greater than start")
	}
	if len(args) == 3 {
		seed, err := argInt(fn, args[2], 3)
		if err != nil {
			return nil, err
		}
		rng := in.det.Seeded(int64(seed))
		return float64(start + rng.Intn(end-start)), nil
	}
	return float64(start + in.det.Intn(end-start)), nil
}

func mathAdd(fn string, args []any) (any, error) {
	if len(args) != 2 {
		return nil, intrinsicErrorf(fn, "expected 2 arguments, got %d", len(args))
	}
	a, err := argInt(fn, args[0], 1)
	if err != nil {
		return nil, err
	}
	b, err := argInt(fn, args[1], 2)
	if err != nil {
		return nil, err
	}
	sum := int64(a) + int64(b)
	if sum > math.MaxInt32 || sum < math.MinInt32 {
		return nil, intrinsicErrorf(fn, "result %d overflows 32-bit signed integer range", sum)
	}
	return float64(sum), nil
}

func stringSplit(fn string, args []any) (any, error) {
	if len(args) != 2 {
		return nil, intrinsicErrorf(fn, "expected 2 arguments, got %d", len(args))
	}
	s, ok := args[0].(string)
	if !ok {
		return nil, intrinsicErrorf(fn, "argument 1 must be a string, got %T", args[0])
	}
	sep, ok := args[1].(string)
	if !ok {
		return nil, intrinsicErrorf(fn, "argument 2 must be a string, got %T", args[1])
	}
	parts := strings.Split(s, sep)
	out := make([]any, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out, nil
}

func formatString(fn string, args []any) (any, error) {
	if len(args) == 0 {
		return nil, intrinsicErrorf(fn, "expected at least 1 argument")
	}
	tpl, ok := args[0].(string)
	if !ok {
		return nil, intrinsicErrorf(fn, "argument 1 must be a string, got %T", args[0])
	}
	values := args[1:]
	parts := strings.Split(tpl, "{}")
	if len(parts)-1 != len(values) {
		return nil, intrinsicErrorf(fn, "template has %d placeholders but %d values were given", len(parts)-1, len(values))
	}
	var b strings.Builder
	for i, part := range parts {
		b.WriteString(part)
		if i < len(values) {
			b.WriteString(formatValue(values[i]))
		}
	}
	return b.String(), nil
}

func formatValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case nil:
		return "null"
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(data)
	}
}
