// Client - resilient wrapper around a Provider.
//
// Per-call flow: circuit gate, token-budget trim, per-attempt deadline,
// vendor call, error classification, bounded retry with a fixed backoff
// schedule. The breaker only learns about wire outcomes; payload parsing
// happens after the circuit is credited.

package llm

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ahleung/storylens/breaker"
	"github.com/ahleung/storylens/model"
	"github.com/ahleung/storylens/tokens"
	"github.com/ahleung/storylens/validate"
)

// DefaultCallTimeout bounds each individual attempt.
const DefaultCallTimeout = 30 * time.Second

// backoffSchedule is the fixed per-retry wait; len+1 = max attempts.
var backoffSchedule = []time.Duration{
	1 * time.Second,
	2 * time.Second,
	4 * time.Second,
	8 * time.Second,
	16 * time.Second,
}

// MaxAttempts is the total attempt ceiling per call.
const MaxAttempts = 5

// Sleeper waits for d or until ctx is done. Injectable for tests.
type Sleeper func(ctx context.Context, d time.Duration) error

func defaultSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Client wraps a Provider with resilience and response validation.
type Client struct {
	provider  Provider
	breakers  *breaker.Registry
	estimator *tokens.Estimator
	costs     *tokens.CostEstimator
	budget    int // prompt-token ceiling; 0 disables enforcement
	hardFail  bool
	timeout   time.Duration
	sleep     Sleeper
	logger    *zap.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithBreakers shares a circuit breaker registry across clients.
func WithBreakers(r *breaker.Registry) ClientOption {
	return func(c *Client) { c.breakers = r }
}

// WithEstimator shares a token estimator.
func WithEstimator(e *tokens.Estimator) ClientOption {
	return func(c *Client) { c.estimator = e }
}

// WithCostEstimator shares a cost estimator.
func WithCostEstimator(ce *tokens.CostEstimator) ClientOption {
	return func(c *Client) { c.costs = ce }
}

// WithTokenBudget caps estimated prompt tokens; hardFail aborts instead of
// degrading when trimming cannot get under the cap.
func WithTokenBudget(budget int, hardFail bool) ClientOption {
	return func(c *Client) {
		c.budget = budget
		c.hardFail = hardFail
	}
}

// WithCallTimeout overrides the per-attempt deadline.
func WithCallTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.timeout = d }
}

// WithSleeper injects the retry sleep for tests.
func WithSleeper(s Sleeper) ClientOption {
	return func(c *Client) { c.sleep = s }
}

// WithClientLogger injects a logger.
func WithClientLogger(logger *zap.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// NewClient creates a resilient client around provider.
func NewClient(provider Provider, opts ...ClientOption) *Client {
	c := &Client{
		provider: provider,
		timeout:  DefaultCallTimeout,
		sleep:    defaultSleep,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.breakers == nil {
		c.breakers = breaker.NewRegistry()
	}
	if c.estimator == nil {
		c.estimator = tokens.NewEstimator()
	}
	return c
}

// Provider returns the underlying provider.
func (c *Client) Provider() Provider {
	return c.provider
}

// Analyze runs one continuity analysis through the full resilience flow and
// returns a validated, normalized response.
func (c *Client) Analyze(ctx context.Context, req model.AnalysisRequest) (model.AnalysisResponse, error) {
	req, trimmed, err := c.enforceBudget(req)
	if err != nil {
		return model.AnalysisResponse{}, err
	}

	messages := BuildMessages(req)
	name := c.provider.Name()
	start := time.Now()

	var raw LLMResponse
	for attempt := 1; ; attempt++ {
		if gateErr := c.breakers.BeforeCall(name); gateErr != nil {
			return model.AnalysisResponse{}, Classify(name, gateErr)
		}

		raw, err = c.callOnce(ctx, messages)
		if err == nil {
			c.breakers.OnSuccess(name)
			break
		}

		cerr := Classify(name, err)
		c.breakers.OnFailure(name)
		c.logger.Warn("provider call failed",
			zap.String("provider", name),
			zap.String("model", c.provider.Model()),
			zap.Int("attempt", attempt),
			zap.String("kind", cerr.Kind.String()),
			zap.Error(cerr),
		)

		if !IsRetriable(cerr) || attempt >= MaxAttempts {
			return model.AnalysisResponse{}, cerr
		}
		if sleepErr := c.sleep(ctx, backoffSchedule[attempt-1]); sleepErr != nil {
			return model.AnalysisResponse{}, Classify(name, sleepErr)
		}
	}

	result, parseErr := validate.Parse(raw.Content)
	if parseErr != nil {
		return model.AnalysisResponse{}, NewValidationError(name, parseErr)
	}

	resp := model.AnalysisResponse{
		ID:            uuid.NewString(),
		Issues:        result.Issues,
		Summary:       result.Summary,
		Model:         c.provider.Model(),
		Provider:      name,
		Confidence:    result.Confidence,
		Duration:      time.Since(start),
		Usage:         raw.Usage,
		TrimmedScenes: trimmed,
		Validation: model.ValidationInfo{
			Attempts: result.Attempts,
			Repaired: result.Repaired,
		},
	}
	if c.costs != nil && raw.Usage != nil {
		resp.CostUSD = c.costs.Cost(resp.Model, *raw.Usage)
	}
	return resp, nil
}

func (c *Client) callOnce(ctx context.Context, messages []ChatMessage) (LLMResponse, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.provider.ChatWithFormat(callCtx, messages, NewJSONObjectFormat())
}

// enforceBudget drops oldest previous scenes one at a time until the
// estimated prompt fits the budget. The scene under analysis and the
// knowledge snapshot are never trimmed.
func (c *Client) enforceBudget(req model.AnalysisRequest) (model.AnalysisRequest, int, error) {
	if c.budget <= 0 {
		return req, 0, nil
	}

	modelID := c.provider.Model()
	trimmed := 0
	for c.estimator.EstimateRequest(modelID, req) > c.budget && len(req.PreviousScenes) > 0 {
		req.PreviousScenes = req.PreviousScenes[1:]
		trimmed++
	}

	if over := c.estimator.EstimateRequest(modelID, req); over > c.budget {
		if c.hardFail {
			return req, trimmed, NewConfigError(
				"request exceeds token budget after trimming: estimated %d tokens, budget %d", over, c.budget)
		}
		c.logger.Warn("request over token budget, sending anyway",
			zap.Int("estimated", over),
			zap.Int("budget", c.budget),
			zap.Int("trimmed_scenes", trimmed),
		)
	}
	return req, trimmed, nil
}
