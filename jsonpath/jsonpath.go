// Package jsonpath implements the path-query dialect of the States Language:
// reference paths against the state's data, the $$ context object, and
// workflow variables, plus ResultPath injection and payload templates with
// the States.* intrinsic functions.
package jsonpath

import (
	"fmt"
	"strings"

	"github.com/ohler55/ojg/jp"
)

// Scope carries everything a path can reference besides the state's own
// data: the $$ context object and the workflow variables.
type Scope struct {
	Context   map[string]any
	Variables map[string]any
}

// PathError reports a path that could not be parsed or resolved.
type PathError struct {
	Path    string
	Message string
}

func (e *PathError) Error() string {
	return fmt.Sprintf("path %q: %s", e.Path, e.Message)
}

func pathErrorf(path, format string, args ...any) *PathError {
	return &PathError{Path: path, Message: fmt.Sprintf(format, args...)}
}

// Resolve evaluates a reference path. Supported forms:
//
//	$                 the whole data value
//	$.a.b[0], $['k']  a path into the data value
//	$$.Execution.Id   a path into the context object
//	$name.a           a path into workflow variable "name"
func Resolve(path string, data any, scope Scope) (any, error) {
	switch {
	case path == "":
		return nil, pathErrorf(path, "empty path")
	case path == "$":
		return data, nil
	case path == "$$":
		return scope.Context, nil
	case strings.HasPrefix(path, "$$."), strings.HasPrefix(path, "$$["):
		return resolveExpr(path, "$"+path[2:], scope.Context)
	case strings.HasPrefix(path, "$."), strings.HasPrefix(path, "$["):
		return resolveExpr(path, path, data)
	case strings.HasPrefix(path, "$"):
		return resolveVariable(path, scope)
	default:
		return nil, pathErrorf(path, "reference paths must start with $")
	}
}

// resolveVariable handles $name and $name.rest forms.
func resolveVariable(path string, scope Scope) (any, error) {
	rest := path[1:]
	name := rest
	var sub string
	if i := strings.IndexAny(rest, ".["); i >= 0 {
		name = rest[:i]
		sub = rest[i:]
	}
	if name == "" {
		return nil, pathErrorf(path, "missing variable name")
	}
	value, ok := scope.Variables[name]
	if !ok {
		return nil, pathErrorf(path, "variable %q is not assigned", name)
	}
	if sub == "" {
		return value, nil
	}
	return resolveExpr(path, "$"+sub, value)
}

func resolveExpr(orig, expr string, data any) (any, error) {
	x, err := jp.ParseString(expr)
	if err != nil {
		return nil, pathErrorf(orig, "invalid path: %v", err)
	}
	results := x.Get(data)
	switch len(results) {
	case 0:
		if x.Has(data) {
			return nil, nil
		}
		return nil, pathErrorf(orig, "no value found")
	case 1:
		if isSingular(x) {
			return results[0], nil
		}
		return []any(results), nil
	default:
		return results, nil
	}
}

// isSingular reports whether a parsed path addresses at most one node
// (children and fixed indexes only, no wildcards or descents).
func isSingular(x jp.Expr) bool {
	for _, frag := range x {
		switch frag.(type) {
		case jp.Root, jp.Child, jp.Nth, jp.Bracket:
		default:
			return false
		}
	}
	return true
}

// Has reports whether the path resolves to an existing value.
func Has(path string, data any, scope Scope) bool {
	switch {
	case path == "$", path == "$$":
		return true
	case strings.HasPrefix(path, "$$."), strings.HasPrefix(path, "$$["):
		x, err := jp.ParseString("$" + path[2:])
		return err == nil && x.Has(scope.Context)
	case strings.HasPrefix(path, "$."), strings.HasPrefix(path, "$["):
		x, err := jp.ParseString(path)
		return err == nil && x.Has(data)
	case strings.HasPrefix(path, "$"):
		_, err := resolveVariable(path, scope)
		return err == nil
	default:
		return false
	}
}

// ApplyResultPath places result into input at resultPath and returns the
// combined value. A path of "$" replaces the input entirely. Intermediate
// objects are created as needed; a non-object in the middle of the path is a
// match failure.
func ApplyResultPath(resultPath string, input, result any) (any, error) {
	if resultPath == "$" {
		return result, nil
	}
	if !strings.HasPrefix(resultPath, "$.") && !strings.HasPrefix(resultPath, "$[") {
		return nil, pathErrorf(resultPath, "result path must start with $")
	}
	x, err := jp.ParseString(resultPath)
	if err != nil {
		return nil, pathErrorf(resultPath, "invalid path: %v", err)
	}

	// The root container must be an object for a non-$ result path.
	root, ok := input.(map[string]any)
	if !ok {
		if input == nil {
			root = map[string]any{}
		} else {
			return nil, pathErrorf(resultPath, "cannot place result into %T input", input)
		}
	}

	if err := setPath(x, root, result, resultPath); err != nil {
		return nil, err
	}
	return root, nil
}

// setPath walks the parsed path fragments, creating intermediate objects,
// and assigns value at the final fragment.
func setPath(x jp.Expr, root map[string]any, value any, orig string) error {
	// Collect the addressable fragments, skipping syntax markers.
	var frags []jp.Frag
	for _, frag := range x {
		switch frag.(type) {
		case jp.Root, jp.Bracket:
		case jp.Child, jp.Nth:
			frags = append(frags, frag)
		default:
			return pathErrorf(orig, "unsupported fragment in result path")
		}
	}
	if len(frags) == 0 {
		return pathErrorf(orig, "empty result path")
	}

	var current any = root
	for i, frag := range frags {
		last := i == len(frags)-1
		switch f := frag.(type) {
		case jp.Child:
			obj, ok := current.(map[string]any)
			if !ok {
				return pathErrorf(orig, "cannot traverse %T", current)
			}
			key := string(f)
			if last {
				obj[key] = value
				return nil
			}
			next, ok := obj[key].(map[string]any)
			if !ok {
				next = map[string]any{}
				obj[key] = next
			}
			current = next
		case jp.Nth:
			arr, ok := current.([]any)
			if !ok {
				return pathErrorf(orig, "cannot index into %T", current)
			}
			idx := int(f)
			if idx < 0 || idx >= len(arr) {
				return pathErrorf(orig, "index %d out of range", idx)
			}
			if last {
				arr[idx] = value
				return nil
			}
			current = arr[idx]
		}
	}
	return nil
}
