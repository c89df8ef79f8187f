// Package model provides domain types shared across packages.
package model

import (
	"strings"
	"time"
)

// Scene is a single manuscript scene under analysis.
type Scene struct {
	ID       string `json:"id"`
	Text     string `json:"text"`
	Position int    `json:"position"`
}

// ReaderKnowledge is an immutable snapshot of what the reader knows at the
// point of the scene: introduced characters, timeline events, revealed plot
// points and established settings.
type ReaderKnowledge struct {
	KnownCharacters     []string `json:"known_characters,omitempty"`
	TimelineEvents      []string `json:"timeline_events,omitempty"`
	RevealedPlotPoints  []string `json:"revealed_plot_points,omitempty"`
	EstablishedSettings []string `json:"established_settings,omitempty"`
}

// AnalysisType selects the analysis profile for a request.
type AnalysisType string

const (
	AnalysisSimple      AnalysisType = "simple"
	AnalysisConsistency AnalysisType = "consistency"
	AnalysisComplex     AnalysisType = "complex"
	AnalysisFull        AnalysisType = "full"
)

// AnalysisRequest describes one continuity-analysis call.
type AnalysisRequest struct {
	Scene          Scene           `json:"scene"`
	PreviousScenes []Scene         `json:"previous_scenes,omitempty"`
	Knowledge      ReaderKnowledge `json:"knowledge"`
	AnalysisType   AnalysisType    `json:"analysis_type"`

	// TaskType overrides the performance-tracking task key; empty means
	// the analysis type (or "general") is used.
	TaskType string `json:"task_type,omitempty"`

	// Complex forces complex routing regardless of the size heuristics.
	Complex bool `json:"complex,omitempty"`

	// Critical marks the request as consensus-worthy.
	Critical bool `json:"critical,omitempty"`
}

// IssueType classifies a continuity finding.
type IssueType string

const (
	IssueReferenceAmbiguity IssueType = "reference_ambiguity"
	IssueTimeline           IssueType = "timeline"
	IssueCharacterKnowledge IssueType = "character_knowledge"
	IssuePlotContext        IssueType = "plot_context"
	IssueEngagement         IssueType = "engagement"
	IssueOther              IssueType = "other"
)

// issueTypeAliases maps loose model-output spellings to canonical types.
var issueTypeAliases = map[string]IssueType{
	"reference_ambiguity": IssueReferenceAmbiguity,
	"reference":           IssueReferenceAmbiguity,
	"ambiguous_reference": IssueReferenceAmbiguity,
	"timeline":            IssueTimeline,
	"chronology":          IssueTimeline,
	"character_knowledge": IssueCharacterKnowledge,
	"character":           IssueCharacterKnowledge,
	"plot_context":        IssuePlotContext,
	"plot":                IssuePlotContext,
	"context":             IssuePlotContext,
	"engagement":          IssueEngagement,
	"other":               IssueOther,
}

// ParseIssueType coerces a raw value to a canonical issue type.
// Unknown values map to IssueOther rather than discarding the finding.
func ParseIssueType(raw string) IssueType {
	if t, ok := issueTypeAliases[canonicalToken(raw)]; ok {
		return t
	}
	return IssueOther
}

// Severity grades a continuity finding.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityRanks = map[Severity]int{
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// ParseSeverity coerces a raw value to a canonical severity.
// Unknown values map to SeverityMedium, the middle of the scale.
func ParseSeverity(raw string) Severity {
	s := Severity(canonicalToken(raw))
	if _, ok := severityRanks[s]; ok {
		return s
	}
	return SeverityMedium
}

// Rank returns the ordinal position of the severity (low=1 .. critical=4).
func (s Severity) Rank() int {
	return severityRanks[s]
}

// MaxSeverity returns the higher-ranked of two severities.
func MaxSeverity(a, b Severity) Severity {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

func canonicalToken(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.ReplaceAll(s, "-", "_")
	s = strings.ReplaceAll(s, " ", "_")
	return s
}

// Span is a character range within the scene text, 0 <= Start <= End.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Issue is one continuity finding.
type Issue struct {
	Type         IssueType `json:"type"`
	Severity     Severity  `json:"severity"`
	Span         *Span     `json:"span,omitempty"`
	Explanation  string    `json:"explanation"`
	Evidence     []string  `json:"evidence,omitempty"`
	SuggestedFix string    `json:"suggested_fix,omitempty"`

	// Confidence is nil until validation backfills it.
	Confidence *float64 `json:"confidence,omitempty"`
}

// TokenUsage reports token counts for one provider call.
type TokenUsage struct {
	PromptTokens     uint32 `json:"prompt_tokens"`
	CompletionTokens uint32 `json:"completion_tokens"`
	TotalTokens      uint32 `json:"total_tokens"`
}

// ValidationInfo records how hard the parser had to work on a payload.
type ValidationInfo struct {
	Attempts int  `json:"attempts"`
	Repaired bool `json:"repaired"`
}

// AnalysisResponse is the normalized result of one analysis.
type AnalysisResponse struct {
	ID            string         `json:"id"`
	Issues        []Issue        `json:"issues"`
	Summary       string         `json:"summary"`
	Model         string         `json:"model"`
	Provider      string         `json:"provider"`
	Confidence    float64        `json:"confidence"`
	CostUSD       float64        `json:"cost_usd"`
	Duration      time.Duration  `json:"duration"`
	Cached        bool           `json:"cached"`
	Usage         *TokenUsage    `json:"usage,omitempty"`
	TrimmedScenes int            `json:"trimmed_scenes,omitempty"`
	Validation    ValidationInfo `json:"validation"`
}

// HighestSeverity returns the top severity across issues, or "" when empty.
func (r AnalysisResponse) HighestSeverity() Severity {
	var top Severity
	for _, is := range r.Issues {
		if is.Severity.Rank() > top.Rank() {
			top = is.Severity
		}
	}
	return top
}
