// Package response turns free-form model output into structured data.
//
// Model output has no enforced schema, so Parse never fails: text that does not
// decode as a JSON object is replaced by a caller-supplied fallback. The
// result records which of the two paths was taken.
package response

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
)

// RawKey is the catch-all field used when no fallback is supplied.
const RawKey = "raw_response"

// UsageKey is the field Parse always injects.
const UsageKey = "usage"

// Usage is the token metering of one model call.
type Usage struct {
	InputTokens  int `json:"input_tokens" yaml:"input_tokens"`
	OutputTokens int `json:"output_tokens" yaml:"output_tokens"`
}

// Map returns the usage in the shape injected into parsed data.
func (u Usage) Map() map[string]any {
	return map[string]any{"input_tokens": u.InputTokens, "output_tokens": u.OutputTokens}
}

// Outcome tells whether structured data was decoded or the fallback was used.
type Outcome string

const (
	Decoded  Outcome = "decoded"
	Fallback Outcome = "fallback"
)

// Result is the output of Parse.
type Result struct {
	Data    map[string]any
	Usage   Usage
	Outcome Outcome
	// Err is the decode error when Outcome is Fallback.
	Err error
}

// fencedJSON matches the first ```json block: an opening fence line, then the
// shortest body up to a closing fence on its own line.
var fencedJSON = regexp.MustCompile("(?s)```json[ \\t]*\\r?\\n(.*?)\\r?\\n```")

// ExtractFenced returns the interior of the first ```json fenced block of raw.
// ok is false when raw holds no complete block.
func ExtractFenced(raw string) (body string, ok bool) {
	m := fencedJSON.FindStringSubmatch(raw)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// Decode parses candidate as a JSON object.
func Decode(candidate string) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(candidate)))
	dec.UseNumber()
	var out map[string]any
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("response: decode: %w", err)
	}
	if out == nil {
		return nil, fmt.Errorf("response: decode: top-level value is not an object")
	}
	if dec.More() {
		return nil, fmt.Errorf("response: decode: trailing data after object")
	}
	return normalizeNumbers(out).(map[string]any), nil
}

// Parse extracts structured data from raw model output. When the candidate
// text does not decode, a copy of fallback is used, or {RawKey: raw} when
// fallback is nil. usage is injected last and replaces any "usage" key.
func Parse(raw string, usage Usage, fallback map[string]any) Result {
	candidate := raw
	if body, ok := ExtractFenced(raw); ok {
		candidate = body
	}

	res := Result{Usage: usage, Outcome: Decoded}
	data, err := Decode(candidate)
	if err != nil {
		res.Outcome = Fallback
		res.Err = err
		if fallback != nil {
			data = cloneMap(fallback)
		} else {
			data = map[string]any{RawKey: raw}
		}
	}
	data[UsageKey] = usage.Map()
	res.Data = data
	return res
}

// normalizeNumbers converts json.Number values into int when integral, else float64.
func normalizeNumbers(v any) any {
	switch x := v.(type) {
	case map[string]any:
		for k, e := range x {
			x[k] = normalizeNumbers(e)
		}
		return x
	case []any:
		for i, e := range x {
			x[i] = normalizeNumbers(e)
		}
		return x
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return int(i)
		}
		f, _ := x.Float64()
		return f
	default:
		return v
	}
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		return cloneMap(x)
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}
