// Package testutils holds shared test tooling: JSON and text asserters, an
// event recorder and a base suite wired to the simulated host.
package testutils

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/mcuadros/go-defaults"
	"github.com/yudai/gojsondiff"
	"github.com/yudai/gojsondiff/formatter"
)

// PresencePlaceholder in expected JSON matches any actual value
const PresencePlaceholder = "<<PRESENCE>>"

// TestingT is the subset of testing.T the asserters need
type TestingT interface {
	Errorf(format string, args ...interface{})
}

// MustJSON marshals v or panics
func MustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(data)
}

// JSONAssertOptions tune the comparison
type JSONAssertOptions struct {
	IgnoreExtraKeys          bool     `default:"true"`
	NilToEmptyArray          bool     `default:"true"`
	AllowPresencePlaceholder bool     `default:"true"`
	IgnoreArrayOrder         bool     `default:"false"`
	IgnoredFields            []string `default:""`
}

// Option configures a JSONAsserter
type Option func(*JSONAssertOptions)

// JSONAsserter compares JSON documents structurally and reports a diff
type JSONAsserter struct {
	t       TestingT
	options JSONAssertOptions
}

// NewJSONAsserter creates an asserter with default options
func NewJSONAsserter(t TestingT) *JSONAsserter {
	opts := JSONAssertOptions{}
	defaults.SetDefaults(&opts)
	return &JSONAsserter{t: t, options: opts}
}

// WithOptions applies opts
func (ja *JSONAsserter) WithOptions(opts ...Option) *JSONAsserter {
	for _, opt := range opts {
		opt(&ja.options)
	}
	return ja
}

// Assert reports an error when actualJSON does not match expectedJSON
func (ja *JSONAsserter) Assert(actualJSON, expectedJSON string) {
	if diff := ja.Diff(actualJSON, expectedJSON); diff != "" {
		ja.t.Errorf("JSON assertion failed:\n%s", diff)
	}
}

// AssertValue marshals actual and compares it with expectedJSON
func (ja *JSONAsserter) AssertValue(actual any, expectedJSON string) {
	ja.Assert(MustJSON(actual), expectedJSON)
}

// Diff returns an empty string on match, a printable diff otherwise
func (ja *JSONAsserter) Diff(actualJSON, expectedJSON string) string {
	var expected, actual interface{}
	if err := json.Unmarshal([]byte(expectedJSON), &expected); err != nil {
		return fmt.Sprintf("invalid expected JSON: %v", err)
	}
	if err := json.Unmarshal([]byte(actualJSON), &actual); err != nil {
		return fmt.Sprintf("invalid actual JSON: %v", err)
	}

	// gojsondiff only compares objects at the root
	if _, ok := expected.([]interface{}); ok {
		if _, ok := actual.([]interface{}); ok {
			expected = map[string]interface{}{"array": expected}
			actual = map[string]interface{}{"array": actual}
		}
	}

	o := ja.options
	if o.AllowPresencePlaceholder {
		fillPlaceholders(expected, actual)
	}
	if o.NilToEmptyArray {
		normalizeNil(expected, actual)
	}
	// ignored fields go first, they would otherwise perturb the array sort keys
	if len(o.IgnoredFields) > 0 {
		dropFields(expected, o.IgnoredFields)
		dropFields(actual, o.IgnoredFields)
	}
	if o.IgnoreArrayOrder {
		sortArrays(expected)
		sortArrays(actual)
	}
	if o.IgnoreExtraKeys {
		pruneExtraKeys(actual, expected)
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

	f := formatter.NewAsciiFormatter(expected, formatter.AsciiFormatterConfig{ShowArrayIndex: true})
	out, _ := f.Format(diff)
	return out
}

// walk pairs up expected and actual containers and calls fn for each pair
// of map values (key set) or slice elements (key empty)
func walk(expected, actual interface{}, fn func(exp, act interface{})) {
	switch exp := expected.(type) {
	case map[string]interface{}:
		if act, ok := actual.(map[string]interface{}); ok {
			for k := range exp {
				fn(exp[k], act[k])
			}
		}
	case []interface{}:
		if act, ok := actual.([]interface{}); ok {
			for i := range exp {
				if i < len(act) {
					fn(exp[i], act[i])
				}
			}
		}
	}
}

func fillPlaceholders(expected, actual interface{}) {
	switch exp := expected.(type) {
	case map[string]interface{}:
		act, ok := actual.(map[string]interface{})
		if !ok {
			return
		}
		for k, v := range exp {
			if s, ok := v.(string); ok && s == PresencePlaceholder {
				if av, present := act[k]; present {
					exp[k] = av
				}
				continue
			}
			fillPlaceholders(v, act[k])
		}
	case []interface{}:
		walk(expected, actual, fillPlaceholders)
	}
}

func isEmptyArray(v interface{}) bool {
	arr, ok := v.([]interface{})
	return ok && len(arr) == 0
}

// normalizeNil turns null into [] where the other side is null or []
func normalizeNil(expected, actual interface{}) {
	exp, ok := expected.(map[string]interface{})
	if !ok {
		walk(expected, actual, normalizeNil)
		return
	}
	act, ok := actual.(map[string]interface{})
	if !ok {
		return
	}
	for k := range exp {
		ev, av := exp[k], act[k]
		switch {
		case ev == nil && (av == nil || isEmptyArray(av)):
			exp[k] = []interface{}{}
			if av == nil {
				act[k] = []interface{}{}
			}
		case av == nil && isEmptyArray(ev):
			act[k] = []interface{}{}
		case ev != nil && av != nil:
			normalizeNil(ev, av)
		}
	}
}

func dropFields(v interface{}, fields []string) {
	switch x := v.(type) {
	case map[string]interface{}:
		for _, f := range fields {
			delete(x, f)
		}
		for _, child := range x {
			dropFields(child, fields)
		}
	case []interface{}:
		for _, child := range x {
			dropFields(child, fields)
		}
	}
}

// pruneExtraKeys removes keys of actual that expected does not mention
func pruneExtraKeys(actual, expected interface{}) {
	if exp, ok := expected.(map[string]interface{}); ok {
		if act, ok := actual.(map[string]interface{}); ok {
			for k := range act {
				if _, keep := exp[k]; !keep {
					delete(act, k)
				}
			}
		}
	}
	walk(expected, actual, func(e, a interface{}) { pruneExtraKeys(a, e) })
}

// sortArrays orders every array by the JSON encoding of its elements
func sortArrays(v interface{}) {
	switch x := v.(type) {
	case map[string]interface{}:
		for _, child := range x {
			sortArrays(child)
		}
	case []interface{}:
		for _, child := range x {
			sortArrays(child)
		}
		sort.Slice(x, func(i, j int) bool {
			return MustJSON(x[i]) < MustJSON(x[j])
		})
	}
}

// WithIgnoreExtraKeys toggles ignoring keys only present in the actual JSON
func WithIgnoreExtraKeys(ignore bool) Option {
	return func(o *JSONAssertOptions) { o.IgnoreExtraKeys = ignore }
}

// WithNilToEmptyArray toggles treating null like []
func WithNilToEmptyArray(normalize bool) Option {
	return func(o *JSONAssertOptions) { o.NilToEmptyArray = normalize }
}

// WithAllowPresencePlaceholder toggles PresencePlaceholder matching
func WithAllowPresencePlaceholder(allow bool) Option {
	return func(o *JSONAssertOptions) { o.AllowPresencePlaceholder = allow }
}

// WithIgnoreArrayOrder toggles order-insensitive array comparison
func WithIgnoreArrayOrder(ignore bool) Option {
	return func(o *JSONAssertOptions) { o.IgnoreArrayOrder = ignore }
}

// WithIgnoredFields drops the named keys on both sides before comparing
func WithIgnoredFields(fields ...string) Option {
	return func(o *JSONAssertOptions) { o.IgnoredFields = fields }
}
