package tokens

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/ahleung/storylens/model"
)

// PricingEnvVar overrides the built-in pricing table with a JSON object of
// the form {"model-id": {"input_per_mtok": 2.5, "output_per_mtok": 10}}.
const PricingEnvVar = "STORYLENS_PRICING_JSON"

// Pricing is USD per million tokens for one model.
type Pricing struct {
	InputPerMTok  float64 `json:"input_per_mtok"`
	OutputPerMTok float64 `json:"output_per_mtok"`
}

// List prices as of late 2025; override via STORYLENS_PRICING_JSON when they
// drift.
var defaultPricing = map[string]Pricing{
	"claude-opus-4-5-20251101": {InputPerMTok: 15.0, OutputPerMTok: 75.0},
	"gpt-5.2":                  {InputPerMTok: 10.0, OutputPerMTok: 40.0},
	"gemini-3-pro":             {InputPerMTok: 2.5, OutputPerMTok: 15.0},
	"claude-sonnet-4-20250514": {InputPerMTok: 3.0, OutputPerMTok: 15.0},
	"gpt-4o":                   {InputPerMTok: 2.5, OutputPerMTok: 10.0},
	"deepseek-r1":              {InputPerMTok: 0.55, OutputPerMTok: 2.19},
	"claude-haiku-4-20250514":  {InputPerMTok: 0.8, OutputPerMTok: 4.0},
	"gpt-4o-mini":              {InputPerMTok: 0.15, OutputPerMTok: 0.6},
	"gemini-3-flash":           {InputPerMTok: 0.1, OutputPerMTok: 0.4},
	"deepseek-v3.2":            {InputPerMTok: 0.27, OutputPerMTok: 1.1},
}

// CostEstimator projects USD cost from token usage.
type CostEstimator struct {
	pricing map[string]Pricing
}

// NewCostEstimator builds a cost estimator from the built-in table merged
// with any STORYLENS_PRICING_JSON override. A malformed override is a
// configuration error, not a silent fallback.
func NewCostEstimator() (*CostEstimator, error) {
	table := make(map[string]Pricing, len(defaultPricing))
	for id, p := range defaultPricing {
		table[id] = p
	}

	if raw := os.Getenv(PricingEnvVar); raw != "" {
		var override map[string]Pricing
		if err := json.Unmarshal([]byte(raw), &override); err != nil {
			return nil, fmt.Errorf("invalid %s: %w", PricingEnvVar, err)
		}
		for id, p := range override {
			table[id] = p
		}
	}
	return &CostEstimator{pricing: table}, nil
}

// Cost returns the USD cost of usage on modelID, 0 for unknown models.
func (c *CostEstimator) Cost(modelID string, usage model.TokenUsage) float64 {
	p, ok := c.pricing[modelID]
	if !ok {
		return 0
	}
	in := float64(usage.PromptTokens) / 1e6 * p.InputPerMTok
	out := float64(usage.CompletionTokens) / 1e6 * p.OutputPerMTok
	return in + out
}

// PricingFor exposes the effective pricing row for a model.
func (c *CostEstimator) PricingFor(modelID string) (Pricing, bool) {
	p, ok := c.pricing[modelID]
	return p, ok
}
