package jsonpath

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolve(t *testing.T) {
	data := map[string]any{
		"order": map[string]any{
			"id":    "o-1",
			"items": []any{map[string]any{"sku": "A"}, map[string]any{"sku": "B"}},
		},
		"flag": true,
	}
	scope := Scope{
		Context:   map[string]any{"Execution": map[string]any{"Name": "run-1"}},
		Variables: map[string]any{"limit": float64(10), "cart": map[string]any{"total": float64(42)}},
	}

	tests := []struct {
		path string
		want any
	}{
		{"$", data},
		{"$.flag", true},
		{"$.order.id", "o-1"},
		{"$.order.items[1].sku", "B"},
		{"$$.Execution.Name", "run-1"},
		{"$limit", float64(10)},
		{"$cart.total", float64(42)},
	}
	for _, tc := range tests {
		t.Run(tc.path, func(t *testing.T) {
			got, err := Resolve(tc.path, data, scope)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestResolveErrors(t *testing.T) {
	data := map[string]any{"a": 1}
	scope := Scope{}

	for _, path := range []string{"", "plain", "$.missing", "$unassigned"} {
		_, err := Resolve(path, data, scope)
		require.Error(t, err, "path %q", path)
	}

	// An existing null is a value, not an error.
	got, err := Resolve("$.a", map[string]any{"a": nil}, scope)
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestHas(t *testing.T) {
	data := map[string]any{"a": map[string]any{"b": false}}
	scope := Scope{Variables: map[string]any{"v": 1}}

	require.True(t, Has("$", data, scope))
	require.True(t, Has("$.a.b", data, scope))
	require.False(t, Has("$.a.c", data, scope))
	require.True(t, Has("$v", data, scope))
	require.False(t, Has("$w", data, scope))
}

func TestApplyResultPath(t *testing.T) {
	t.Run("replace root", func(t *testing.T) {
		out, err := ApplyResultPath("$", map[string]any{"old": 1}, "new")
		require.NoError(t, err)
		require.Equal(t, "new", out)
	})

	t.Run("top-level key", func(t *testing.T) {
		out, err := ApplyResultPath("$.result", map[string]any{"keep": 1}, map[string]any{"ok": true})
		require.NoError(t, err)
		require.Equal(t, map[string]any{
			"keep":   1,
			"result": map[string]any{"ok": true},
		}, out)
	})

	t.Run("creates intermediate objects", func(t *testing.T) {
		out, err := ApplyResultPath("$.a.b.c", map[string]any{}, 7)
		require.NoError(t, err)
		require.Equal(t, map[string]any{
			"a": map[string]any{"b": map[string]any{"c": 7}},
		}, out)
	})

	t.Run("non-object input fails", func(t *testing.T) {
		_, err := ApplyResultPath("$.x", []any{1, 2}, "v")
		require.Error(t, err)
	})

	t.Run("nil input becomes object", func(t *testing.T) {
		out, err := ApplyResultPath("$.x", nil, "v")
		require.NoError(t, err)
		require.Equal(t, map[string]any{"x": "v"}, out)
	})
}

func TestProcessPayloadTemplate(t *testing.T) {
	in := NewIntrinsics(nil)
	data := map[string]any{"name": "ada", "n": float64(2)}
	scope := Scope{Variables: map[string]any{"suffix": "x"}}

	tpl := map[string]any{
		"literal": "kept",
		"name.$":  "$.name",
		"var.$":   "$suffix",
		"fmt.$":   "States.Format('{}-{}', $.name, $suffix)",
		"nested": map[string]any{
			"n.$": "$.n",
		},
		"list": []any{"a", map[string]any{"b.$": "$.name"}},
	}
	out, err := in.ProcessPayloadTemplate(tpl, data, scope)
	require.NoError(t, err)
	require.Equal(t, map[string]any{
		"literal": "kept",
		"name":    "ada",
		"var":     "x",
		"fmt":     "ada-x",
		"nested":  map[string]any{"n": float64(2)},
		"list":    []any{"a", map[string]any{"b": "ada"}},
	}, out)
}

func TestPayloadTemplateErrors(t *testing.T) {
	in := NewIntrinsics(nil)

	_, err := in.ProcessPayloadTemplate(map[string]any{"v.$": 5}, nil, Scope{})
	require.Error(t, err)

	_, err = in.ProcessPayloadTemplate(map[string]any{"v.$": "$.missing"}, map[string]any{}, Scope{})
	require.Error(t, err)
}
