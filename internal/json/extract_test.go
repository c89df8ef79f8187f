package json

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStripCodeFences(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"json fence", "```json\n{\"a\": 1}\n```", `{"a": 1}`},
		{"bare fence", "```\n{\"a\": 1}\n```", `{"a": 1}`},
		{"commentary before fence", "Here is the result:\n```json\n{\"a\": 1}\n```", `{"a": 1}`},
		{"no fence", `{"a": 1}`, `{"a": 1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StripCodeFences(tt.input))
		})
	}
}

func TestExtractBalanced(t *testing.T) {
	got := ExtractBalanced(`Sure! {"issues": [{"type": "timeline"}]} Hope that helps.`)
	assert.Equal(t, `{"issues": [{"type": "timeline"}]}`, got)

	// Braces inside string literals must not unbalance the scan.
	got = ExtractBalanced(`{"summary": "use } carefully", "n": 1} trailing`)
	assert.Equal(t, `{"summary": "use } carefully", "n": 1}`, got)

	assert.Equal(t, "", ExtractBalanced("no object here"))
	assert.Equal(t, "", ExtractBalanced(`{"unclosed": true`))
}

func TestSanitize(t *testing.T) {
	input := "\ufeff{\n  // model commentary\n  \"summary\": “fine”,\n  'severity': 'low',\n  \"evidence\": [\"a\", \"b\",],\n}"
	out := Sanitize(input)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	assert.Equal(t, "fine", decoded["summary"])
	assert.Equal(t, "low", decoded["severity"])
}

func TestSanitizeKeepsApostrophes(t *testing.T) {
	out := Sanitize(`{"summary": "the hero's sword"}`)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	assert.Equal(t, "the hero's sword", decoded["summary"])
}

func TestSanitizeBlockComments(t *testing.T) {
	out := Sanitize(`{"a": 1, /* note */ "b": "http://example.com"}`)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	assert.Equal(t, "http://example.com", decoded["b"])
}

func TestQuoteBareKeys(t *testing.T) {
	out := QuoteBareKeys(`{issues: [], summary: "ok", "quoted": 1}`)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	assert.Contains(t, decoded, "issues")
	assert.Equal(t, "ok", decoded["summary"])

	// Words inside strings stay untouched.
	out = QuoteBareKeys(`{"summary": "key: value pairs"}`)
	assert.Equal(t, `{"summary": "key: value pairs"}`, out)
}
