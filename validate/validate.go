// Package validate turns raw LLM output into normalized analysis results.
//
// Parsing is layered: strategies run strictest-first and each one gets the
// payload a little further from well-formed JSON. The attempt count and a
// repaired flag travel with the result so callers can see how much coaxing
// the payload needed.
package validate

import (
	"encoding/json"
	"fmt"
	"strings"

	ijson "github.com/ahleung/storylens/internal/json"
	"github.com/ahleung/storylens/model"
)

// Result is a parsed, normalized analysis payload.
type Result struct {
	Issues     []model.Issue
	Summary    string
	Confidence float64
	Attempts   int
	Repaired   bool
}

// Severity confidence backfill weights.
var severityConfidence = map[model.Severity]float64{
	model.SeverityLow:      0.4,
	model.SeverityMedium:   0.6,
	model.SeverityHigh:     0.8,
	model.SeverityCritical: 0.9,
}

const (
	evidenceBonus  = 0.05
	spanBonus      = 0.03
	confidenceMin  = 0.35
	confidenceMax  = 0.98
	maxEvidence    = 10
	defaultOverall = 0.5
)

// payload mirrors the JSON contract the prompt demands.
type payload struct {
	Issues     []payloadIssue `json:"issues"`
	Summary    string         `json:"summary"`
	Confidence *float64       `json:"confidence"`
}

type payloadIssue struct {
	Type         string      `json:"type"`
	Severity     string      `json:"severity"`
	Span         *model.Span `json:"span"`
	Explanation  string      `json:"explanation"`
	Evidence     []string    `json:"evidence"`
	SuggestedFix string      `json:"suggested_fix"`
	Confidence   *float64    `json:"confidence"`
}

// strategy transforms raw content into a JSON candidate. An empty candidate
// means the strategy does not apply.
type strategy struct {
	name     string
	repaired bool
	apply    func(string) string
}

// Strategies in escalation order: only the direct parse leaves the payload
// untouched; everything past it counts as a repair.
var strategies = []strategy{
	{name: "direct", apply: func(s string) string { return s }},
	{name: "fenced", repaired: true, apply: ijson.StripCodeFences},
	{name: "balanced", repaired: true, apply: func(s string) string {
		return ijson.ExtractBalanced(ijson.StripCodeFences(s))
	}},
	{name: "sanitized", repaired: true, apply: func(s string) string {
		return ijson.Sanitize(ijson.ExtractBalanced(ijson.StripCodeFences(s)))
	}},
	{name: "quoted-keys", repaired: true, apply: func(s string) string {
		return ijson.QuoteBareKeys(ijson.Sanitize(ijson.ExtractBalanced(ijson.StripCodeFences(s))))
	}},
}

// Parse runs the strategy ladder over content and normalizes the first
// payload that decodes. All-strategies-exhausted is an error.
func Parse(content string) (Result, error) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return Result{Attempts: len(strategies)}, fmt.Errorf("empty response payload")
	}

	for i, strat := range strategies {
		candidate := strat.apply(trimmed)
		if candidate == "" {
			continue
		}
		var p payload
		if err := json.Unmarshal([]byte(candidate), &p); err != nil {
			continue
		}
		res := normalize(p)
		res.Attempts = i + 1
		res.Repaired = strat.repaired
		return res, nil
	}

	preview := trimmed
	if len(preview) > 120 {
		preview = preview[:120] + "..."
	}
	return Result{Attempts: len(strategies)}, fmt.Errorf("no parse strategy succeeded on payload: %q", preview)
}

// ParseLenient is Parse in empty-result mode: unparseable content yields a
// zero-confidence empty result instead of an error. Repaired stays false on
// that path since no strategy produced anything.
func ParseLenient(content string) Result {
	res, err := Parse(content)
	if err != nil {
		return Result{Attempts: res.Attempts}
	}
	return res
}

func normalize(p payload) Result {
	issues := make([]model.Issue, 0, len(p.Issues))
	var confSum float64
	for _, pi := range p.Issues {
		issue := normalizeIssue(pi)
		if issue.Explanation == "" && len(issue.Evidence) == 0 {
			continue
		}
		confSum += *issue.Confidence
		issues = append(issues, issue)
	}

	overall := defaultOverall
	switch {
	case p.Confidence != nil:
		overall = clamp(*p.Confidence, 0, 1)
	case len(issues) > 0:
		overall = confSum / float64(len(issues))
	}

	return Result{
		Issues:     issues,
		Summary:    strings.TrimSpace(p.Summary),
		Confidence: overall,
	}
}

func normalizeIssue(pi payloadIssue) model.Issue {
	issue := model.Issue{
		Type:         model.ParseIssueType(pi.Type),
		Severity:     model.ParseSeverity(pi.Severity),
		Span:         normalizeSpan(pi.Span),
		Explanation:  strings.TrimSpace(pi.Explanation),
		Evidence:     normalizeEvidence(pi.Evidence),
		SuggestedFix: strings.TrimSpace(pi.SuggestedFix),
	}

	conf := backfillConfidence(issue, pi.Confidence)
	issue.Confidence = &conf
	return issue
}

// normalizeSpan clamps negative offsets to zero and rejects inverted ranges.
func normalizeSpan(s *model.Span) *model.Span {
	if s == nil {
		return nil
	}
	start, end := s.Start, s.End
	if start < 0 {
		start = 0
	}
	if end < 0 {
		end = 0
	}
	if start > end {
		return nil
	}
	return &model.Span{Start: start, End: end}
}

func normalizeEvidence(evidence []string) []string {
	seen := make(map[string]bool, len(evidence))
	var out []string
	for _, e := range evidence {
		e = strings.TrimSpace(e)
		if e == "" || seen[e] {
			continue
		}
		seen[e] = true
		out = append(out, e)
		if len(out) == maxEvidence {
			break
		}
	}
	return out
}

// backfillConfidence uses the model's own confidence when given, otherwise
// derives one from severity plus evidence/span bonuses.
func backfillConfidence(issue model.Issue, explicit *float64) float64 {
	if explicit != nil {
		return clamp(*explicit, 0, 1)
	}

	conf := severityConfidence[issue.Severity]
	if len(issue.Evidence) > 0 {
		conf += evidenceBonus
	}
	if issue.Span != nil {
		conf += spanBonus
	}
	return clamp(conf, confidenceMin, confidenceMax)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
