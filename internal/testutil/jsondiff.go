package testutil

import (
	"encoding/json"
	"fmt"

	"github.com/mcuadros/go-defaults"
	"github.com/yudai/gojsondiff"
	"github.com/yudai/gojsondiff/formatter"
)

// PresencePlaceholder matches any actual value when it appears as an expected
// string. Use it for fields that change per run, such as scan ids.
const PresencePlaceholder = "<<PRESENCE>>"

// JSONDiffOptions controls structural normalization before comparison. Key
// order never matters; array order always does.
type JSONDiffOptions struct {
	AllowPresencePlaceholder bool `default:"true"`
	IgnoredFields            []string
}

// JSONDiffOption is a functional option for AssertJSON.
type JSONDiffOption func(*JSONDiffOptions)

// WithoutPresencePlaceholder treats PresencePlaceholder as a literal string.
func WithoutPresencePlaceholder() JSONDiffOption {
	return func(o *JSONDiffOptions) {
		o.AllowPresencePlaceholder = false
	}
}

// WithIgnoredJSONFields drops the named keys at every nesting level on both
// sides before comparing.
func WithIgnoredJSONFields(fields ...string) JSONDiffOption {
	return func(o *JSONDiffOptions) {
		o.IgnoredFields = fields
	}
}

// AssertJSON compares two JSON documents structurally and reports a
// field-level diff on mismatch.
func AssertJSON(t TestingT, expected, actual string, opts ...JSONDiffOption) bool {
	options := JSONDiffOptions{}
	defaults.SetDefaults(&options)
	for _, opt := range opts {
		opt(&options)
	}

	diff := jsonDiff(expected, actual, options)
	if diff == "" {
		return true
	}
	t.Errorf("json mismatch:\n%s", diff)
	return false
}

func jsonDiff(expectedJSON, actualJSON string, opts JSONDiffOptions) string {
	var expected, actual interface{}
	if err := json.Unmarshal([]byte(expectedJSON), &expected); err != nil {
		return fmt.Sprintf("invalid expected JSON: %v", err)
	}
	if err := json.Unmarshal([]byte(actualJSON), &actual); err != nil {
		return fmt.Sprintf("invalid actual JSON: %v", err)
	}

	// gojsondiff only diffs objects, so root-level arrays get wrapped.
	if isJSONArray(expected) && isJSONArray(actual) {
		expected = map[string]interface{}{"array": expected}
		actual = map[string]interface{}{"array": actual}
	}

	if opts.AllowPresencePlaceholder {
		adoptPresentValues(expected, actual)
	}
	if len(opts.IgnoredFields) > 0 {
		stripFields(expected, opts.IgnoredFields)
		stripFields(actual, opts.IgnoredFields)
	}

	expectedBytes, _ := json.Marshal(expected)
	actualBytes, _ := json.Marshal(actual)

	diff, err := gojsondiff.New().Compare(expectedBytes, actualBytes)
	if err != nil {
		return fmt.Sprintf("JSON comparison failed: %v", err)
	}
	if !diff.Modified() {
		return ""
	}

	f := formatter.NewAsciiFormatter(expected, formatter.AsciiFormatterConfig{
		ShowArrayIndex: true,
	})
	out, err := f.Format(diff)
	if err != nil {
		return fmt.Sprintf("diff formatting failed: %v", err)
	}
	return out
}

// adoptPresentValues copies the actual value over every expected placeholder,
// so the field compares equal whenever the actual side carries it. A missing
// key on the actual side still fails.
func adoptPresentValues(expected, actual interface{}) {
	switch exp := expected.(type) {
	case map[string]interface{}:
		act, ok := actual.(map[string]interface{})
		if !ok {
			return
		}
		for k := range exp {
			if s, ok := exp[k].(string); ok && s == PresencePlaceholder {
				exp[k] = act[k]
				continue
			}
			adoptPresentValues(exp[k], act[k])
		}
	case []interface{}:
		act, ok := actual.([]interface{})
		if !ok {
			return
		}
		for i := range exp {
			if i < len(act) {
				adoptPresentValues(exp[i], act[i])
			}
		}
	}
}

func stripFields(doc interface{}, fields []string) {
	switch v := doc.(type) {
	case map[string]interface{}:
		for _, f := range fields {
			delete(v, f)
		}
		for k := range v {
			stripFields(v[k], fields)
		}
	case []interface{}:
		for _, elem := range v {
			stripFields(elem, fields)
		}
	}
}

func isJSONArray(v interface{}) bool {
	_, ok := v.([]interface{})
	return ok
}
