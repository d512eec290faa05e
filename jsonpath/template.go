package jsonpath

import (
	"fmt"
	"strings"

	"github.com/deepnoodle-ai/sfnlocal/jsonutil"
)

// ProcessPayloadTemplate builds a value from a payload template (Parameters,
// ResultSelector, ItemSelector). Keys ending in ".$" resolve their string
// value as a reference path or intrinsic call and are stored under the key
// with the suffix removed; everything else is copied verbatim.
func (in *Intrinsics) ProcessPayloadTemplate(tpl, data any, scope Scope) (any, error) {
	switch t := tpl.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for key, value := range t {
			if strings.HasSuffix(key, ".$") {
				expr, ok := value.(string)
				if !ok {
					return nil, fmt.Errorf("template key %q requires a string value, got %T", key, value)
				}
				resolved, err := in.resolveTemplateValue(expr, data, scope)
				if err != nil {
					return nil, fmt.Errorf("template key %q: %w", key, err)
				}
				out[strings.TrimSuffix(key, ".$")] = resolved
				continue
			}
			built, err := in.ProcessPayloadTemplate(value, data, scope)
			if err != nil {
				return nil, err
			}
			out[key] = built
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			built, err := in.ProcessPayloadTemplate(item, data, scope)
			if err != nil {
				return nil, err
			}
			out[i] = built
		}
		return out, nil
	default:
		return jsonutil.DeepCopy(tpl), nil
	}
}

func (in *Intrinsics) resolveTemplateValue(expr string, data any, scope Scope) (any, error) {
	if IsIntrinsic(expr) {
		return in.Eval(expr, data, scope)
	}
	return Resolve(expr, data, scope)
}
