// Manager - top-level continuity-analysis orchestration.
//
// Single entry point over the provider clients: cache-first short-circuit,
// adaptive model selection, bounded escalation on low confidence, consensus
// for critical requests, metrics aggregation.
//
// Information Hiding:
// - Candidate selection policy hidden
// - Escalation bookkeeping hidden
// - Cache key derivation hidden

package orchestration

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ahleung/storylens/breaker"
	"github.com/ahleung/storylens/cache"
	"github.com/ahleung/storylens/config"
	"github.com/ahleung/storylens/consensus"
	"github.com/ahleung/storylens/llm"
	"github.com/ahleung/storylens/model"
	"github.com/ahleung/storylens/tokens"
	"github.com/ahleung/storylens/tracker"
)

// Confidence thresholds per routing profile.
const (
	thresholdComplex = 0.75
	thresholdSimple  = 0.65
	thresholdDefault = 0.70
)

// maxEscalations bounds strong-tier retries after a low-confidence base
// attempt.
const maxEscalations = 2

// Complexity heuristics: requests at or past either limit route as complex.
const (
	complexSceneCount = 6
	complexCharCount  = 12000
)

// Manager orchestrates continuity analysis across configured providers.
type Manager struct {
	clients  map[string]*llm.Client // keyed by candidate model ID
	breakers *breaker.Registry
	cache    *cache.PromptCache
	tracker  *tracker.Tracker
	selector *tracker.Selector
	costs    *tokens.CostEstimator

	tokenBudget int
	hardFail    bool
	callTimeout time.Duration
	sleep       llm.Sleeper
	maxTokens   uint32
	temperature *float32

	metrics *metricsState
	logger  *zap.Logger

	// buildProvider is swappable in tests to avoid real SDK clients.
	buildProvider func(providerType llm.ProviderType, apiKey, modelID string) (llm.Provider, error)
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithCache injects a shared prompt cache.
func WithCache(c *cache.PromptCache) ManagerOption {
	return func(m *Manager) { m.cache = c }
}

// WithBreakers injects a shared circuit breaker registry.
func WithBreakers(r *breaker.Registry) ManagerOption {
	return func(m *Manager) { m.breakers = r }
}

// WithTracker injects a shared performance tracker.
func WithTracker(t *tracker.Tracker) ManagerOption {
	return func(m *Manager) { m.tracker = t }
}

// WithSelector injects a selector (for pinned-seed tests).
func WithSelector(s *tracker.Selector) ManagerOption {
	return func(m *Manager) { m.selector = s }
}

// WithCostEstimator injects a cost estimator.
func WithCostEstimator(c *tokens.CostEstimator) ManagerOption {
	return func(m *Manager) { m.costs = c }
}

// WithTokenBudget caps estimated prompt tokens per request.
func WithTokenBudget(budget int, hardFail bool) ManagerOption {
	return func(m *Manager) {
		m.tokenBudget = budget
		m.hardFail = hardFail
	}
}

// WithCallTimeout overrides the per-attempt deadline passed to clients.
func WithCallTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) { m.callTimeout = d }
}

// WithGeneration sets the max-tokens and temperature passed to every
// provider adapter.
func WithGeneration(maxTokens uint32, temperature float32) ManagerOption {
	return func(m *Manager) {
		m.maxTokens = maxTokens
		m.temperature = &temperature
	}
}

// WithSleeper injects the retry sleep passed to clients.
func WithSleeper(s llm.Sleeper) ManagerOption {
	return func(m *Manager) { m.sleep = s }
}

// WithLogger injects a logger.
func WithLogger(logger *zap.Logger) ManagerOption {
	return func(m *Manager) { m.logger = logger }
}

// NewManager creates a manager; collaborators not supplied via options are
// constructed with defaults.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		clients:     make(map[string]*llm.Client),
		callTimeout: llm.DefaultCallTimeout,
		logger:      zap.NewNop(),
		metrics:     newMetricsState(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.breakers == nil {
		m.breakers = breaker.NewRegistry()
	}
	if m.cache == nil {
		m.cache = cache.New()
	}
	if m.tracker == nil {
		m.tracker = tracker.NewTracker(m.logger)
	}
	if m.selector == nil {
		m.selector = tracker.NewSelector(m.tracker, tracker.WithLogger(m.logger))
	}
	if m.buildProvider == nil {
		m.buildProvider = m.defaultBuildProvider
	}
	return m
}

func (m *Manager) defaultBuildProvider(providerType llm.ProviderType, apiKey, modelID string) (llm.Provider, error) {
	b := llm.NewProviderBuilder(providerType).Model(modelID)
	if m.maxTokens > 0 {
		b = b.MaxTokens(m.maxTokens)
	}
	if m.temperature != nil {
		b = b.Temperature(*m.temperature)
	}
	return b.APIKey(apiKey)
}

// Configure instantiates one client per (enabled provider, registry model)
// pair. A provider whose settings pin a model gets exactly that model's
// client. Providers share one circuit per family and all clients share the
// cache, tracker and estimators.
func (m *Manager) Configure(providers map[string]config.ProviderSettings) error {
	if len(providers) == 0 {
		return llm.NewConfigError("no providers supplied")
	}
	for name, settings := range providers {
		if settings.Model == "" {
			continue
		}
		cand, ok := model.CandidateByID(settings.Model)
		if !ok {
			return llm.NewConfigError("provider %q: model override %q is not in the model registry", name, settings.Model)
		}
		if cand.Provider != name {
			return llm.NewConfigError("provider %q: model override %q belongs to provider %q", name, settings.Model, cand.Provider)
		}
	}

	if m.costs == nil {
		costs, err := tokens.NewCostEstimator()
		if err != nil {
			return llm.NewConfigError("pricing configuration: %v", err)
		}
		m.costs = costs
	}

	estimator := tokens.NewEstimator()
	for _, cand := range model.Candidates() {
		settings, ok := providers[cand.Provider]
		if !ok {
			continue
		}
		if settings.Model != "" && settings.Model != cand.ID {
			continue
		}
		providerType, err := llm.ParseProviderType(cand.Provider)
		if err != nil {
			return llm.NewConfigError("provider %q: %v", cand.Provider, err)
		}
		provider, err := m.buildProvider(providerType, settings.APIKey, cand.ID)
		if err != nil {
			return fmt.Errorf("building %s adapter for %s: %w", cand.Provider, cand.ID, err)
		}

		clientOpts := []llm.ClientOption{
			llm.WithBreakers(m.breakers),
			llm.WithEstimator(estimator),
			llm.WithCostEstimator(m.costs),
			llm.WithTokenBudget(m.tokenBudget, m.hardFail),
			llm.WithCallTimeout(m.callTimeout),
			llm.WithClientLogger(m.logger),
		}
		if m.sleep != nil {
			clientOpts = append(clientOpts, llm.WithSleeper(m.sleep))
		}
		m.clients[cand.ID] = llm.NewClient(provider, clientOpts...)
	}

	if len(m.clients) == 0 {
		return llm.NewConfigError("no registry model matches the supplied providers")
	}
	m.logger.Info("manager configured", zap.Int("models", len(m.clients)))
	return nil
}

// pool returns the configured candidates in registry order.
func (m *Manager) pool() []model.ModelCandidate {
	var out []model.ModelCandidate
	for _, cand := range model.Candidates() {
		if _, ok := m.clients[cand.ID]; ok {
			out = append(out, cand)
		}
	}
	return out
}

// AnalyzeContinuity runs the single-model path: cache-first, adaptive
// selection, then up to two strong-tier escalations while confidence stays
// under the task threshold. A sub-threshold response beats a hard failure.
func (m *Manager) AnalyzeContinuity(ctx context.Context, req model.AnalysisRequest) (model.AnalysisResponse, error) {
	if err := validateRequest(req); err != nil {
		return model.AnalysisResponse{}, err
	}
	pool := m.pool()
	if len(pool) == 0 {
		return model.AnalysisResponse{}, llm.NewConfigError("manager not configured: call Configure first")
	}

	m.metrics.requestStarted()

	key := cache.Fingerprint(req)
	if cached, ok := m.cache.Get(key); ok {
		cached.Cached = true
		cached.CostUSD = 0
		cached.Duration = 0
		m.metrics.cacheHit()
		m.logger.Debug("cache hit", zap.String("scene", req.Scene.ID))
		return cached, nil
	}

	task := taskKey(req)
	complex := isComplex(req)
	threshold := confidenceThreshold(req, complex)

	var (
		lastResp model.AnalysisResponse
		haveResp bool
		lastErr  error
		attempts int
	)

	for escalation := 0; escalation <= maxEscalations; escalation++ {
		candidatePool := pool
		candidateComplex := complex
		if escalation > 0 {
			candidatePool = filterTier(pool, model.TierStrong)
			candidateComplex = true
			threshold = thresholdComplex
			if len(candidatePool) == 0 {
				break
			}
		}

		cand, ok := m.selector.Select(candidatePool, task, candidateComplex)
		if !ok {
			break
		}
		attempts++

		resp, err := m.invoke(ctx, cand.ID, req, task)
		if err != nil {
			lastErr = err
			m.logger.Warn("analysis attempt failed",
				zap.String("model", cand.ID),
				zap.Int("escalation", escalation),
				zap.Error(err),
			)
			continue
		}

		if resp.Confidence >= threshold {
			m.cache.Set(key, resp)
			m.metrics.analysisDone(req.AnalysisType, resp.Duration)
			return resp, nil
		}

		lastResp = resp
		haveResp = true
		m.logger.Info("confidence below threshold",
			zap.String("model", cand.ID),
			zap.Float64("confidence", resp.Confidence),
			zap.Float64("threshold", threshold),
			zap.Int("escalation", escalation),
		)
	}

	// Every escalation stayed sub-threshold: keep the last response rather
	// than re-paying for a persistently uncertain input.
	if haveResp {
		m.cache.Set(key, lastResp)
		m.metrics.analysisDone(req.AnalysisType, lastResp.Duration)
		return lastResp, nil
	}

	return model.AnalysisResponse{}, fmt.Errorf("all %d analysis attempts failed, last cause: %w", attempts, lastErr)
}

// AnalyzeCritical runs the consensus path over caller-chosen candidates and
// caches the reconciled response under the same fingerprint as the
// single-model path.
func (m *Manager) AnalyzeCritical(ctx context.Context, req model.AnalysisRequest, opts consensus.Options) (consensus.Result, error) {
	if err := validateRequest(req); err != nil {
		return consensus.Result{}, err
	}
	pool := m.pool()
	if len(pool) == 0 {
		return consensus.Result{}, llm.NewConfigError("manager not configured: call Configure first")
	}

	m.metrics.requestStarted()

	if len(opts.CandidateIDs) == 0 {
		for _, cand := range pool {
			opts.CandidateIDs = append(opts.CandidateIDs, cand.ID)
		}
	}

	task := taskKey(req)
	invoke := func(ctx context.Context, candidateID string, req model.AnalysisRequest) (model.AnalysisResponse, error) {
		return m.invoke(ctx, candidateID, req, task)
	}

	res, err := consensus.Run(ctx, req, invoke, opts, m.logger)
	if err != nil {
		return consensus.Result{}, err
	}

	m.cache.Set(cache.Fingerprint(req), res.Response)
	m.metrics.analysisDone(req.AnalysisType, res.Response.Duration)
	return res, nil
}

// invoke runs one candidate and feeds the tracker and metrics with the
// outcome, success or not.
func (m *Manager) invoke(ctx context.Context, candidateID string, req model.AnalysisRequest, task string) (model.AnalysisResponse, error) {
	client, ok := m.clients[candidateID]
	if !ok {
		return model.AnalysisResponse{}, llm.NewConfigError("model %q is not configured", candidateID)
	}

	start := time.Now()
	resp, err := client.Analyze(ctx, req)
	if err != nil {
		m.tracker.Record(candidateID, task, 0, time.Since(start), false)
		m.metrics.modelFailure(candidateID, err)
		return model.AnalysisResponse{}, err
	}

	m.tracker.Record(candidateID, task, resp.Confidence, resp.Duration, true)
	m.metrics.modelSuccess(candidateID)
	return resp, nil
}

// Metrics returns a snapshot of the manager's counters.
func (m *Manager) Metrics() Metrics {
	return m.metrics.snapshot(m.cache, m.breakers)
}

func validateRequest(req model.AnalysisRequest) error {
	if req.Scene.Text == "" {
		return llm.NewConfigError("scene text is empty")
	}
	if req.Scene.ID == "" {
		return llm.NewConfigError("scene id is empty")
	}
	for i, s := range req.PreviousScenes {
		if s.ID == "" {
			return llm.NewConfigError("previous scene %d has no id", i)
		}
	}
	return nil
}

func taskKey(req model.AnalysisRequest) string {
	if req.TaskType != "" {
		return req.TaskType
	}
	if req.AnalysisType != "" {
		return string(req.AnalysisType)
	}
	return "general"
}

func isComplex(req model.AnalysisRequest) bool {
	if req.Complex {
		return true
	}
	if req.AnalysisType == model.AnalysisComplex || req.AnalysisType == model.AnalysisFull {
		return true
	}
	if len(req.PreviousScenes) >= complexSceneCount {
		return true
	}
	chars := len(req.Scene.Text)
	for _, s := range req.PreviousScenes {
		chars += len(s.Text)
	}
	return chars > complexCharCount
}

func confidenceThreshold(req model.AnalysisRequest, complex bool) float64 {
	switch {
	case complex:
		return thresholdComplex
	case req.AnalysisType == model.AnalysisSimple:
		return thresholdSimple
	default:
		return thresholdDefault
	}
}

func filterTier(pool []model.ModelCandidate, tier model.Tier) []model.ModelCandidate {
	var out []model.ModelCandidate
	for _, c := range pool {
		if c.Tier == tier {
			out = append(out, c)
		}
	}
	return out
}
