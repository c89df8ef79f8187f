package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahleung/storylens/model"
)

const cleanPayload = `{
	"issues": [
		{
			"type": "timeline",
			"severity": "high",
			"span": {"start": 120, "end": 180},
			"explanation": "The festival is described as tomorrow but was said to be last week in scene 2.",
			"evidence": ["the festival tomorrow"],
			"confidence": 0.85
		}
	],
	"summary": "One timeline contradiction.",
	"confidence": 0.82
}`

func TestParseCleanPayload(t *testing.T) {
	res, err := Parse(cleanPayload)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Attempts)
	assert.False(t, res.Repaired)
	assert.InDelta(t, 0.82, res.Confidence, 1e-9)
	require.Len(t, res.Issues, 1)

	issue := res.Issues[0]
	assert.Equal(t, model.IssueTimeline, issue.Type)
	assert.Equal(t, model.SeverityHigh, issue.Severity)
	require.NotNil(t, issue.Span)
	assert.Equal(t, 120, issue.Span.Start)
	require.NotNil(t, issue.Confidence)
	assert.InDelta(t, 0.85, *issue.Confidence, 1e-9)
}

func TestParseFencedPayloadIsRepaired(t *testing.T) {
	fenced := "Here is my analysis:\n```json\n" + cleanPayload + "\n```"
	res, err := Parse(fenced)
	require.NoError(t, err)

	assert.Greater(t, res.Attempts, 1)
	assert.True(t, res.Repaired)
	assert.Len(t, res.Issues, 1)
}

func TestParseCommentaryAndTrailingCommas(t *testing.T) {
	damaged := "Sure! Here you go.\n" +
		"{\n  // findings\n  \"issues\": [\n    {\"type\": \"engagement\", \"severity\": \"low\", \"explanation\": \"Slow opening.\",},\n  ],\n  \"summary\": \"Minor pacing concern.\",\n}\nLet me know if you need more."

	res, err := Parse(damaged)
	require.NoError(t, err)
	assert.Greater(t, res.Attempts, 1)
	assert.True(t, res.Repaired)
	require.Len(t, res.Issues, 1)
	assert.Equal(t, model.IssueEngagement, res.Issues[0].Type)
}

func TestParseBareKeys(t *testing.T) {
	res, err := Parse(`{issues: [{type: "timeline", severity: "medium", explanation: "Order unclear."}], summary: "ok"}`)
	require.NoError(t, err)
	assert.True(t, res.Repaired)
	require.Len(t, res.Issues, 1)
}

func TestParseGarbageErrors(t *testing.T) {
	_, err := Parse("I could not analyze this scene, sorry.")
	require.Error(t, err)

	_, err = Parse("")
	require.Error(t, err)
}

func TestParseLenientEmptyOnFailure(t *testing.T) {
	res := ParseLenient("not json at all")
	assert.Empty(t, res.Issues)
	assert.Zero(t, res.Confidence)
	// Nothing decoded, so nothing was repaired.
	assert.False(t, res.Repaired)
	assert.Equal(t, len(strategies), res.Attempts)
}

func TestEnumCoercion(t *testing.T) {
	res, err := Parse(`{
		"issues": [
			{"type": "Timeline", "severity": "HIGH", "explanation": "a"},
			{"type": "made-up-category", "severity": "catastrophic", "explanation": "b"}
		],
		"summary": "s"
	}`)
	require.NoError(t, err)
	require.Len(t, res.Issues, 2)

	assert.Equal(t, model.IssueTimeline, res.Issues[0].Type)
	assert.Equal(t, model.SeverityHigh, res.Issues[0].Severity)
	assert.Equal(t, model.IssueOther, res.Issues[1].Type)
	assert.Equal(t, model.SeverityMedium, res.Issues[1].Severity)
}

func TestSpanNormalization(t *testing.T) {
	res, err := Parse(`{
		"issues": [
			{"type": "timeline", "severity": "low", "span": {"start": -5, "end": 10}, "explanation": "a"},
			{"type": "timeline", "severity": "low", "span": {"start": 50, "end": 10}, "explanation": "b"}
		],
		"summary": "s"
	}`)
	require.NoError(t, err)
	require.Len(t, res.Issues, 2)

	require.NotNil(t, res.Issues[0].Span)
	assert.Equal(t, 0, res.Issues[0].Span.Start)
	assert.Equal(t, 10, res.Issues[0].Span.End)

	// Inverted range normalizes to nil, never to negatives.
	assert.Nil(t, res.Issues[1].Span)
}

func TestEvidenceDedupeAndCap(t *testing.T) {
	evidence := `["a", "a", " b ", "", "c", "d", "e", "f", "g", "h", "i", "j", "k", "l"]`
	res, err := Parse(`{"issues": [{"type": "other", "severity": "low", "evidence": ` + evidence + `, "explanation": "x"}], "summary": "s"}`)
	require.NoError(t, err)
	require.Len(t, res.Issues, 1)

	got := res.Issues[0].Evidence
	assert.LessOrEqual(t, len(got), 10)
	assert.Equal(t, "a", got[0])
	assert.Equal(t, "b", got[1])
	assert.NotContains(t, got, "")
}

func TestConfidenceBackfill(t *testing.T) {
	res, err := Parse(`{
		"issues": [
			{"type": "timeline", "severity": "low", "explanation": "bare"},
			{"type": "timeline", "severity": "critical", "span": {"start": 0, "end": 5}, "evidence": ["q"], "explanation": "rich"}
		],
		"summary": "s"
	}`)
	require.NoError(t, err)
	require.Len(t, res.Issues, 2)

	bare := res.Issues[0]
	require.NotNil(t, bare.Confidence)
	assert.InDelta(t, 0.4, *bare.Confidence, 1e-9)

	rich := res.Issues[1]
	require.NotNil(t, rich.Confidence)
	// 0.9 + evidence 0.05 + span 0.03, clamped to 0.98.
	assert.InDelta(t, 0.98, *rich.Confidence, 1e-9)
}

func TestConfidenceClamped(t *testing.T) {
	res, err := Parse(`{"issues": [{"type": "other", "severity": "low", "confidence": 7.5, "explanation": "x"}], "summary": "s", "confidence": -2}`)
	require.NoError(t, err)
	require.Len(t, res.Issues, 1)
	assert.InDelta(t, 1.0, *res.Issues[0].Confidence, 1e-9)
	assert.InDelta(t, 0.0, res.Confidence, 1e-9)
}

func TestResponseConfidenceFallsBackToIssueMean(t *testing.T) {
	res, err := Parse(`{
		"issues": [
			{"type": "other", "severity": "low", "confidence": 0.4, "explanation": "a"},
			{"type": "other", "severity": "low", "confidence": 0.8, "explanation": "b"}
		],
		"summary": "s"
	}`)
	require.NoError(t, err)
	assert.InDelta(t, 0.6, res.Confidence, 1e-9)

	// No payload confidence and no issues: neutral default.
	res, err = Parse(`{"issues": [], "summary": "clean"}`)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, res.Confidence, 1e-9)
}
