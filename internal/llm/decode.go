package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// SchemaError reports oracle output that does not match the expected shape.
// It is never retried or repaired.
type SchemaError struct {
	Task   string
	Reason string
	Raw    string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("%s: oracle returned invalid output: %s", e.Task, e.Reason)
}

// StripCodeFence removes a surrounding ``` or ```json fence, if any.
func StripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		// Drop the info string, e.g. "json".
		if info := strings.TrimSpace(s[:nl]); !strings.ContainsAny(info, "{[") {
			s = s[nl+1:]
		}
	} else if len(s) >= 4 && strings.EqualFold(s[:4], "json") {
		s = s[4:]
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// Validator is implemented by decoded types that check their own field values.
type Validator interface {
	Validate() error
}

// DecodeExact parses raw as a JSON object whose key set equals keys exactly, then
// decodes it into T. When *T implements Validator, Validate must also pass.
func DecodeExact[T any](task, raw string, keys []string) (*T, error) {
	body := StripCodeFence(raw)

	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(body), &obj); err != nil {
		return nil, &SchemaError{Task: task, Reason: "response is not a JSON object: " + err.Error(), Raw: raw}
	}
	if missing, extra := keyDiff(obj, keys); len(missing) > 0 || len(extra) > 0 {
		return nil, &SchemaError{
			Task:   task,
			Reason: fmt.Sprintf("key set mismatch (missing %v, unexpected %v)", missing, extra),
			Raw:    raw,
		}
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(body)))
	dec.DisallowUnknownFields()
	var out T
	if err := dec.Decode(&out); err != nil {
		return nil, &SchemaError{Task: task, Reason: err.Error(), Raw: raw}
	}
	if v, ok := any(&out).(Validator); ok {
		if err := v.Validate(); err != nil {
			return nil, &SchemaError{Task: task, Reason: err.Error(), Raw: raw}
		}
	}
	return &out, nil
}

// GenerateInto runs req on g and decodes the response with DecodeExact.
func GenerateInto[T any](ctx context.Context, g Generator, req Request, keys []string) (*T, error) {
	raw, err := g.Generate(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%s oracle call failed: %w", req.Task, err)
	}
	return DecodeExact[T](req.Task, raw, keys)
}

func keyDiff(obj map[string]json.RawMessage, keys []string) (missing, extra []string) {
	want := make(map[string]bool, len(keys))
	for _, k := range keys {
		want[k] = true
		if _, ok := obj[k]; !ok {
			missing = append(missing, k)
		}
	}
	for k := range obj {
		if !want[k] {
			extra = append(extra, k)
		}
	}
	sort.Strings(extra)
	return missing, extra
}
