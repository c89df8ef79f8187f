package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseIssueTypeAliases(t *testing.T) {
	assert.Equal(t, IssueReferenceAmbiguity, ParseIssueType("Reference Ambiguity"))
	assert.Equal(t, IssueReferenceAmbiguity, ParseIssueType("ambiguous-reference"))
	assert.Equal(t, IssueTimeline, ParseIssueType("chronology"))
	assert.Equal(t, IssueCharacterKnowledge, ParseIssueType("character"))
	assert.Equal(t, IssuePlotContext, ParseIssueType("plot"))
	// Unknown types keep the finding rather than dropping it.
	assert.Equal(t, IssueOther, ParseIssueType("pacing"))
}

func TestParseSeverity(t *testing.T) {
	assert.Equal(t, SeverityCritical, ParseSeverity("CRITICAL"))
	assert.Equal(t, SeverityLow, ParseSeverity(" low "))
	assert.Equal(t, SeverityMedium, ParseSeverity("severe"))
}

func TestSeverityOrdering(t *testing.T) {
	assert.Greater(t, SeverityCritical.Rank(), SeverityHigh.Rank())
	assert.Equal(t, SeverityHigh, MaxSeverity(SeverityLow, SeverityHigh))
	assert.Equal(t, SeverityHigh, MaxSeverity(SeverityHigh, SeverityMedium))
}

func TestHighestSeverity(t *testing.T) {
	resp := AnalysisResponse{Issues: []Issue{
		{Severity: SeverityLow},
		{Severity: SeverityHigh},
		{Severity: SeverityMedium},
	}}
	assert.Equal(t, SeverityHigh, resp.HighestSeverity())
	assert.Equal(t, Severity(""), AnalysisResponse{}.HighestSeverity())
}

func TestCandidatesIsACopy(t *testing.T) {
	a := Candidates()
	a[0].ID = "mutated"
	b := Candidates()
	assert.NotEqual(t, "mutated", b[0].ID)
}

func TestCandidateByID(t *testing.T) {
	cand, ok := CandidateByID("gpt-4o-mini")
	require.True(t, ok)
	assert.Equal(t, "openai", cand.Provider)
	assert.Equal(t, TierFast, cand.Tier)

	_, ok = CandidateByID("gpt-2")
	assert.False(t, ok)
}
