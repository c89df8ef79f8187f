package model

// Tier groups candidate models by capability/cost band.
type Tier string

const (
	TierFast     Tier = "fast"
	TierBalanced Tier = "balanced"
	TierStrong   Tier = "strong"
)

// ModelCandidate is a routable model with its provider and relative cost.
// CostWeight is a unitless penalty in [0,1]; higher means more expensive.
type ModelCandidate struct {
	ID         string
	Provider   string
	Tier       Tier
	CostWeight float64
}

// Registry order is the selection tie-break order: within a tier, earlier
// entries win ties.
var candidates = []ModelCandidate{
	{ID: "claude-opus-4-5-20251101", Provider: "anthropic", Tier: TierStrong, CostWeight: 1.0},
	{ID: "gpt-5.2", Provider: "openai", Tier: TierStrong, CostWeight: 0.9},
	{ID: "gemini-3-pro", Provider: "gemini", Tier: TierStrong, CostWeight: 0.8},
	{ID: "claude-sonnet-4-20250514", Provider: "anthropic", Tier: TierBalanced, CostWeight: 0.5},
	{ID: "gpt-4o", Provider: "openai", Tier: TierBalanced, CostWeight: 0.45},
	{ID: "deepseek-r1", Provider: "deepseek", Tier: TierBalanced, CostWeight: 0.25},
	{ID: "claude-haiku-4-20250514", Provider: "anthropic", Tier: TierFast, CostWeight: 0.15},
	{ID: "gpt-4o-mini", Provider: "openai", Tier: TierFast, CostWeight: 0.1},
	{ID: "gemini-3-flash", Provider: "gemini", Tier: TierFast, CostWeight: 0.1},
	{ID: "deepseek-v3.2", Provider: "deepseek", Tier: TierFast, CostWeight: 0.05},
}

// Candidates returns a copy of the static model registry.
func Candidates() []ModelCandidate {
	out := make([]ModelCandidate, len(candidates))
	copy(out, candidates)
	return out
}

// CandidateByID looks a candidate up by model ID.
func CandidateByID(id string) (ModelCandidate, bool) {
	for _, c := range candidates {
		if c.ID == id {
			return c, true
		}
	}
	return ModelCandidate{}, false
}
