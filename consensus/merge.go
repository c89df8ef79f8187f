package consensus

import (
	"math"
	"sort"

	"github.com/google/uuid"

	"github.com/ahleung/storylens/model"
)

const maxMergedEvidence = 10

// groupKey is the similarity fingerprint: issues sharing it are treated as
// the same finding reported by different models.
type groupKey struct {
	issueType   model.IssueType
	severity    model.Severity
	startBucket int
	endBucket   int
	hasSpan     bool
	hasEvidence bool
}

func keyFor(issue model.Issue) groupKey {
	k := groupKey{
		issueType:   issue.Type,
		severity:    issue.Severity,
		hasEvidence: len(issue.Evidence) > 0,
	}
	if issue.Span != nil {
		k.hasSpan = true
		k.startBucket = issue.Span.Start / spanBucketSize
		k.endBucket = issue.Span.End / spanBucketSize
	}
	return k
}

// contribution is one model's report of a grouped finding.
type contribution struct {
	modelID    string
	issue      model.Issue
	confidence float64
}

type group struct {
	key           groupKey
	contributions []contribution
}

func (g *group) distinctModels() int {
	seen := make(map[string]bool, len(g.contributions))
	for _, c := range g.contributions {
		seen[c.modelID] = true
	}
	return len(seen)
}

// reconcile merges the attempts' issues by fingerprint, applies the keep
// rule, and derives the review decision.
func reconcile(attempts []attempt, opts Options) Result {
	confidences := make(map[string]float64, len(attempts))
	modelsUsed := make([]string, 0, len(attempts))
	reportedIssues := 0
	for _, a := range attempts {
		confidences[a.modelID] = a.resp.Confidence
		modelsUsed = append(modelsUsed, a.modelID)
		if len(a.resp.Issues) > 0 {
			reportedIssues++
		}
	}

	// Group issues in attempt order so reconciliation is deterministic.
	var order []groupKey
	groups := make(map[groupKey]*group)
	for _, a := range attempts {
		for _, issue := range a.resp.Issues {
			key := keyFor(issue)
			g, ok := groups[key]
			if !ok {
				g = &group{key: key}
				groups[key] = g
				order = append(order, key)
			}
			g.contributions = append(g.contributions, contribution{
				modelID:    a.modelID,
				issue:      issue,
				confidence: issueConfidence(issue),
			})
		}
	}

	totalModels := len(attempts)
	var kept []model.Issue
	var votes []int
	var keptConfSum float64
	for _, key := range order {
		g := groups[key]
		voteCount := g.distinctModels()
		if float64(voteCount)/float64(totalModels) < opts.AcceptThreshold {
			continue
		}
		merged := mergeGroup(g, voteCount)
		kept = append(kept, merged)
		votes = append(votes, voteCount)
		keptConfSum += *merged.Confidence
	}

	respConfidence := 0.0
	if len(kept) > 0 {
		respConfidence = keptConfSum / float64(len(kept))
	}

	best := attempts[0]
	for _, a := range attempts[1:] {
		if a.resp.Confidence > best.resp.Confidence {
			best = a
		}
	}

	resp := model.AnalysisResponse{
		ID:         uuid.NewString(),
		Issues:     kept,
		Summary:    best.resp.Summary,
		Model:      best.resp.Model,
		Provider:   "consensus",
		Confidence: respConfidence,
	}

	return Result{
		Response:    resp,
		HumanReview: needsHumanReview(kept, confidences, reportedIssues, opts.HumanReviewThreshold),
		Votes:       votes,
		Confidences: confidences,
		ModelsUsed:  modelsUsed,
	}
}

// mergeGroup folds one group into a single issue. Type and severity are part
// of the fingerprint so every contribution agrees on them already.
func mergeGroup(g *group, voteCount int) model.Issue {
	best := g.contributions[0]
	var confSum float64
	for _, c := range g.contributions {
		confSum += c.confidence
		if c.confidence > best.confidence {
			best = c
		}
	}

	merged := model.Issue{
		Type:         g.key.issueType,
		Severity:     g.key.severity,
		Span:         mostVotedSpan(g.contributions),
		Explanation:  best.issue.Explanation,
		SuggestedFix: best.issue.SuggestedFix,
		Evidence:     mergeEvidence(g.contributions),
	}

	conf := confSum / float64(len(g.contributions))
	if voteCount >= 2 {
		conf += multiModelBonus
	}
	if conf > 1 {
		conf = 1
	}
	if conf < 0 {
		conf = 0
	}
	merged.Confidence = &conf
	return merged
}

// mostVotedSpan picks the exact span with the most votes inside the bucket,
// ties broken by the narrowest range.
func mostVotedSpan(contributions []contribution) *model.Span {
	type spanVote struct {
		span  model.Span
		count int
	}
	var tally []spanVote
	for _, c := range contributions {
		if c.issue.Span == nil {
			continue
		}
		found := false
		for i := range tally {
			if tally[i].span == *c.issue.Span {
				tally[i].count++
				found = true
				break
			}
		}
		if !found {
			tally = append(tally, spanVote{span: *c.issue.Span, count: 1})
		}
	}
	if len(tally) == 0 {
		return nil
	}
	sort.SliceStable(tally, func(i, j int) bool {
		if tally[i].count != tally[j].count {
			return tally[i].count > tally[j].count
		}
		return tally[i].span.End-tally[i].span.Start < tally[j].span.End-tally[j].span.Start
	})
	winner := tally[0].span
	return &winner
}

func mergeEvidence(contributions []contribution) []string {
	seen := make(map[string]bool)
	var out []string
	for _, c := range contributions {
		for _, e := range c.issue.Evidence {
			if e == "" || seen[e] {
				continue
			}
			seen[e] = true
			out = append(out, e)
			if len(out) == maxMergedEvidence {
				return out
			}
		}
	}
	return out
}

func issueConfidence(issue model.Issue) float64 {
	if issue.Confidence != nil {
		return *issue.Confidence
	}
	return 0.5
}

// needsHumanReview applies the four triggers: a kept critical issue, a kept
// issue at or above the review threshold, strong cross-model disagreement
// about the scene, or irreconcilable findings (nothing kept although at
// least two models reported issues).
func needsHumanReview(kept []model.Issue, confidences map[string]float64, reportedIssues int, threshold float64) bool {
	for _, issue := range kept {
		if issue.Severity == model.SeverityCritical {
			return true
		}
		if issue.Confidence != nil && *issue.Confidence >= threshold {
			return true
		}
	}
	if stdDev(confidences) >= confidenceStdDevLimit {
		return true
	}
	if len(kept) == 0 && reportedIssues >= 2 {
		return true
	}
	return false
}

func stdDev(confidences map[string]float64) float64 {
	if len(confidences) < 2 {
		return 0
	}
	var sum float64
	for _, c := range confidences {
		sum += c
	}
	mean := sum / float64(len(confidences))

	var variance float64
	for _, c := range confidences {
		variance += (c - mean) * (c - mean)
	}
	variance /= float64(len(confidences))
	return math.Sqrt(variance)
}
