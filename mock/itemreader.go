package mock

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/deepnoodle-ai/sfnlocal"
	"github.com/deepnoodle-ai/sfnlocal/jsonutil"
)

// ReadItems materializes the item collection for a distributed Map state.
// The reader argument carries the state's ItemReader declaration; the mock
// definition decides where the items actually come from.
func (e *Engine) ReadItems(stateName string, reader map[string]any) ([]any, error) {
	e.mu.Lock()
	def := e.lookup(stateName)
	e.mu.Unlock()

	if def == nil || def.ItemReader == nil {
		return nil, sfnlocal.NewStatesErrorf(sfnlocal.ErrStatesItemReaderFailed,
			"no item reader mock configured for state %q", stateName)
	}
	mock := def.ItemReader

	var items []any
	switch {
	case mock.Items != nil:
		items = jsonutil.DeepCopy(mock.Items).([]any)
	case mock.DataFile != "":
		loaded, err := e.loadDataFile(mock)
		if err != nil {
			return nil, sfnlocal.NewStatesErrorf(sfnlocal.ErrStatesItemReaderFailed,
				"state %q: %v", stateName, err)
		}
		items = loaded
	default:
		return nil, sfnlocal.NewStatesErrorf(sfnlocal.ErrStatesItemReaderFailed,
			"item reader mock for state %q has neither items nor a data file", stateName)
	}

	if mock.MaxItems > 0 && len(items) > mock.MaxItems {
		items = items[:mock.MaxItems]
	}
	e.logger.Debug("item reader resolved", "state", stateName, "items", len(items))
	return items, nil
}

func (e *Engine) loadDataFile(mock *ItemReaderMock) ([]any, error) {
	path := mock.DataFile
	if !filepath.IsAbs(path) {
		path = filepath.Join(e.basePath, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading data file: %w", err)
	}

	format := strings.ToLower(mock.Format)
	if format == "" {
		format = strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	}
	switch format {
	case "json":
		return parseJSONItems(data)
	case "jsonl":
		return parseJSONLItems(data)
	case "csv":
		return parseCSVItems(data)
	case "yaml", "yml":
		return parseYAMLItems(data)
	default:
		return nil, fmt.Errorf("unsupported item data format %q", format)
	}
}

func parseJSONItems(data []byte) ([]any, error) {
	var items []any
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("parsing json items: %w", err)
	}
	return items, nil
}

// parseJSONLItems reads one JSON document per non-empty line.
func parseJSONLItems(data []byte) ([]any, error) {
	var items []any
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var item any
		if err := json.Unmarshal([]byte(text), &item); err != nil {
			return nil, fmt.Errorf("parsing jsonl line %d: %w", line, err)
		}
		items = append(items, item)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading jsonl: %w", err)
	}
	return items, nil
}

// parseCSVItems treats the first row as a header and yields one object per
// remaining row, with every value kept as a string.
func parseCSVItems(data []byte) ([]any, error) {
	records, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parsing csv: %w", err)
	}
	if len(records) == 0 {
		return []any{}, nil
	}
	header := records[0]
	items := make([]any, 0, len(records)-1)
	for _, record := range records[1:] {
		item := make(map[string]any, len(header))
		for i, name := range header {
			if i < len(record) {
				item[name] = record[i]
			}
		}
		items = append(items, item)
	}
	return items, nil
}

func parseYAMLItems(data []byte) ([]any, error) {
	var raw []any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing yaml items: %w", err)
	}
	items := make([]any, len(raw))
	for i, item := range raw {
		items[i] = normalizeYAML(item)
	}
	return items, nil
}

// normalizeYAML converts yaml.v3's map[string]any values recursively so the
// items have the same shapes a JSON document would produce.
func normalizeYAML(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = normalizeYAML(item)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[fmt.Sprintf("%v", k)] = normalizeYAML(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalizeYAML(item)
		}
		return out
	case int:
		return float64(val)
	case int64:
		return float64(val)
	default:
		return val
	}
}
