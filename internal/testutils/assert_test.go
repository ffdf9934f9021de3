package testutils

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type mockT struct {
	errors []string
}

func (m *mockT) Errorf(format string, args ...interface{}) {
	m.errors = append(m.errors, fmt.Sprintf(format, args...))
}

func TestJSONAsserter(t *testing.T) {
	tests := []struct {
		name     string
		opts     []Option
		actual   string
		expected string
		match    bool
	}{
		{name: "identical", actual: `{"a":1}`, expected: `{"a":1}`, match: true},
		{name: "extra actual keys ignored", actual: `{"a":1,"b":2}`, expected: `{"a":1}`, match: true},
		{name: "extra actual keys reported", opts: []Option{WithIgnoreExtraKeys(false)}, actual: `{"a":1,"b":2}`, expected: `{"a":1}`},
		{name: "presence placeholder", actual: `{"id":"x-42"}`, expected: `{"id":"<<PRESENCE>>"}`, match: true},
		{name: "presence placeholder needs key", actual: `{}`, expected: `{"id":"<<PRESENCE>>"}`},
		{name: "null equals empty array", actual: `{"d":null}`, expected: `{"d":[]}`, match: true},
		{name: "root arrays", actual: `[1,2]`, expected: `[1,2]`, match: true},
		{name: "array order matters", actual: `[2,1]`, expected: `[1,2]`},
		{name: "array order ignored", opts: []Option{WithIgnoreArrayOrder(true)}, actual: `[2,1]`, expected: `[1,2]`, match: true},
		{name: "ignored fields", opts: []Option{WithIgnoredFields("at")}, actual: `{"v":1,"at":5}`, expected: `{"v":1,"at":6}`, match: true},
		{name: "value mismatch", actual: `{"a":1}`, expected: `{"a":2}`},
		{name: "invalid actual", actual: `{`, expected: `{}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &mockT{}
			NewJSONAsserter(m).WithOptions(tt.opts...).Assert(tt.actual, tt.expected)
			if tt.match {
				assert.Empty(t, m.errors, "documents MUST match")
			} else {
				assert.Len(t, m.errors, 1, "a mismatch MUST be reported once")
			}
		})
	}
}

func TestTextAsserter(t *testing.T) {
	m := &mockT{}
	ta := NewTextAsserter(m)

	ta.Assert("line one  \nline two\n", "line one\nline two")
	assert.Empty(t, m.errors, "trailing whitespace MUST be ignored by default")

	ta.Assert("line one\nline 2", "line one\nline two")
	if assert.Len(t, m.errors, 1) {
		assert.Contains(t, m.errors[0], "-line two")
		assert.Contains(t, m.errors[0], "+line 2")
	}

	colored := NewTextAsserter(m).WithOptions(WithEnableColors(true)).Diff("a b", "a c")
	assert.True(t, strings.Contains(colored, "a·b"), "colored diff MUST make spaces visible")
}

func TestRecorderWaitFor(t *testing.T) {
	r := NewRecorder()
	go func() {
		time.Sleep(20 * time.Millisecond)
		r.Publish("connected", 1)
		r.Publish("connected", 2)
	}()

	assert.True(t, r.WaitFor("connected", 2, time.Second))
	last, ok := r.Last("connected")
	assert.True(t, ok)
	assert.Equal(t, 2, last.Payload)
	assert.False(t, r.WaitFor("stopped", 1, 10*time.Millisecond))
}
