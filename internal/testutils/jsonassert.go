package testutils

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/mcuadros/go-defaults"
	"github.com/yudai/gojsondiff"
	"github.com/yudai/gojsondiff/formatter"
)

// JSONAssertOptions tunes JSON comparison.
type JSONAssertOptions struct {
	// IgnoreExtraKeys drops keys present in actual but absent from expected.
	IgnoreExtraKeys bool `default:"true"`
	// AllowPresencePlaceholder lets expected use "<<PRESENCE>>" to assert a
	// key exists without pinning its value.
	AllowPresencePlaceholder bool `default:"true"`
	// IgnoredFields are removed from both sides before comparison.
	IgnoredFields []string `default:""`
}

// JSONOption is a functional option for JSONAsserter.
type JSONOption func(*JSONAssertOptions)

// WithIgnoreExtraKeys toggles pruning of unexpected keys.
func WithIgnoreExtraKeys(ignore bool) JSONOption {
	return func(o *JSONAssertOptions) { o.IgnoreExtraKeys = ignore }
}

// WithIgnoredFields names fields excluded from comparison everywhere they
// appear.
func WithIgnoredFields(fields ...string) JSONOption {
	return func(o *JSONAssertOptions) { o.IgnoredFields = fields }
}

// JSONAsserter compares JSON documents and reports a structural diff on
// mismatch.
type JSONAsserter struct {
	t       *testing.T
	options JSONAssertOptions
}

// NewJSONAsserter creates an asserter with default options.
func NewJSONAsserter(t *testing.T) *JSONAsserter {
	opts := JSONAssertOptions{}
	defaults.SetDefaults(&opts)
	return &JSONAsserter{t: t, options: opts}
}

// WithOptions applies functional options.
func (ja *JSONAsserter) WithOptions(opts ...JSONOption) *JSONAsserter {
	for _, opt := range opts {
		opt(&ja.options)
	}
	return ja
}

// Assert compares actualJSON against expectedJSON and fails the test with a
// diff on mismatch.
func (ja *JSONAsserter) Assert(actualJSON, expectedJSON string) {
	ja.t.Helper()
	if diff := ja.diff(actualJSON, expectedJSON); diff != "" {
		ja.t.Errorf("JSON assertion failed:\n%s", diff)
	}
}

// AssertValue marshals actual and compares it against expectedJSON.
func (ja *JSONAsserter) AssertValue(actual any, expectedJSON string) {
	ja.t.Helper()
	ja.Assert(MustJSON(actual), expectedJSON)
}

func (ja *JSONAsserter) diff(actualJSON, expectedJSON string) string {
	var expected, actual interface{}
	if err := json.Unmarshal([]byte(expectedJSON), &expected); err != nil {
		return fmt.Sprintf("invalid expected JSON: %v", err)
	}
	if err := json.Unmarshal([]byte(actualJSON), &actual); err != nil {
		return fmt.Sprintf("invalid actual JSON: %v", err)
	}

	// gojsondiff only compares objects; wrap root-level arrays.
	if isArray(expected) && isArray(actual) {
		expected = map[string]interface{}{"array": expected}
		actual = map[string]interface{}{"array": actual}
	}

	if ja.options.AllowPresencePlaceholder {
		replacePresenceWithActual(expected, actual)
	}
	if len(ja.options.IgnoredFields) > 0 {
		removeIgnoredFields(expected, actual, ja.options.IgnoredFields)
	}
	if ja.options.IgnoreExtraKeys {
		pruneExtraKeys(actual, expected)
	}

	expectedBytes, _ := json.Marshal(expected)
	actualBytes, _ := json.Marshal(actual)

	differ := gojsondiff.New()
	diff, err := differ.Compare(expectedBytes, actualBytes)
	if err != nil {
		return fmt.Sprintf("JSON comparison failed: %v", err)
	}
	if !diff.Modified() {
		return ""
	}

	f := formatter.NewAsciiFormatter(expected, formatter.AsciiFormatterConfig{
		ShowArrayIndex: true,
	})
	diffString, _ := f.Format(diff)
	return diffString
}

func isArray(v interface{}) bool {
	_, ok := v.([]interface{})
	return ok
}

// replacePresenceWithActual copies actual values over "<<PRESENCE>>"
// placeholders so only key existence is compared.
func replacePresenceWithActual(expected, actual interface{}) {
	switch exp := expected.(type) {
	case map[string]interface{}:
		act, ok := actual.(map[string]interface{})
		if !ok {
			return
		}
		for k := range exp {
			if s, ok := exp[k].(string); ok && s == "<<PRESENCE>>" {
				exp[k] = act[k]
			} else {
				replacePresenceWithActual(exp[k], act[k])
			}
		}
	case []interface{}:
		act, ok := actual.([]interface{})
		if !ok {
			return
		}
		for i := range exp {
			if i < len(act) {
				replacePresenceWithActual(exp[i], act[i])
			}
		}
	}
}

func pruneExtraKeys(actual, expected interface{}) {
	switch exp := expected.(type) {
	case map[string]interface{}:
		act, ok := actual.(map[string]interface{})
		if !ok {
			return
		}
		for k := range act {
			if _, exists := exp[k]; !exists {
				delete(act, k)
			}
		}
		for k := range exp {
			pruneExtraKeys(act[k], exp[k])
		}
	case []interface{}:
		act, ok := actual.([]interface{})
		if !ok {
			return
		}
		for i := range exp {
			if i < len(act) {
				pruneExtraKeys(act[i], exp[i])
			}
		}
	}
}

func removeIgnoredFields(expected, actual interface{}, fields []string) {
	switch exp := expected.(type) {
	case map[string]interface{}:
		act, ok := actual.(map[string]interface{})
		if !ok {
			return
		}
		for _, field := range fields {
			delete(exp, field)
			delete(act, field)
		}
		for k := range exp {
			if actVal, exists := act[k]; exists {
				removeIgnoredFields(exp[k], actVal, fields)
			}
		}
	case []interface{}:
		act, ok := actual.([]interface{})
		if !ok {
			return
		}
		for i := range exp {
			if i < len(act) {
				removeIgnoredFields(exp[i], act[i], fields)
			}
		}
	}
}
