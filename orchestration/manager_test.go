package orchestration

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ahleung/storylens/config"
	"github.com/ahleung/storylens/consensus"
	"github.com/ahleung/storylens/llm"
	"github.com/ahleung/storylens/model"
	"github.com/ahleung/storylens/tracker"
)

// fakeSpec scripts one model's behavior. An empty content falls back to a
// clean payload carrying conf.
type fakeSpec struct {
	conf    float64
	content string
	err     error
}

type fakeProvider struct {
	providerName string
	modelID      string
	spec         fakeSpec
	calls        *atomic.Int32
}

func (f *fakeProvider) Name() string  { return f.providerName }
func (f *fakeProvider) Model() string { return f.modelID }

func (f *fakeProvider) Chat(ctx context.Context, messages []llm.ChatMessage) (llm.LLMResponse, error) {
	return f.ChatWithFormat(ctx, messages, nil)
}

func (f *fakeProvider) ChatWithFormat(_ context.Context, _ []llm.ChatMessage, _ *llm.ResponseFormat) (llm.LLMResponse, error) {
	f.calls.Add(1)
	if f.spec.err != nil {
		return llm.LLMResponse{}, f.spec.err
	}
	content := f.spec.content
	if content == "" {
		content = fmt.Sprintf(`{"issues": [], "summary": "clean", "confidence": %.2f}`, f.spec.conf)
	}
	return llm.LLMResponse{Content: content}, nil
}

var _ llm.Provider = (*fakeProvider)(nil)

type harness struct {
	m     *Manager
	calls map[string]*atomic.Int32
}

func (h *harness) callCount(modelID string) int {
	c, ok := h.calls[modelID]
	if !ok {
		return 0
	}
	return int(c.Load())
}

// newHarness wires a manager with a greedy selector (epsilon 0), fake
// providers for every openai registry model and no retry sleeps, so
// selection and escalation order are deterministic:
// gpt-4o-mini for simple requests, gpt-4o for complex, gpt-5.2 on
// escalation.
func newHarness(t *testing.T, specs map[string]fakeSpec) *harness {
	t.Helper()

	tr := tracker.NewTracker(zap.NewNop())
	m := NewManager(
		WithTracker(tr),
		WithSelector(tracker.NewSelector(tr, tracker.WithEpsilon(0))),
		WithSleeper(func(context.Context, time.Duration) error { return nil }),
	)

	h := &harness{m: m, calls: make(map[string]*atomic.Int32)}
	m.buildProvider = func(providerType llm.ProviderType, _ string, modelID string) (llm.Provider, error) {
		counter := &atomic.Int32{}
		h.calls[modelID] = counter
		return &fakeProvider{
			providerName: providerType.String(),
			modelID:      modelID,
			spec:         specs[modelID],
			calls:        counter,
		}, nil
	}

	require.NoError(t, m.Configure(map[string]config.ProviderSettings{
		"openai": {APIKey: "sk-test"},
	}))
	return h
}

func analysisReq(analysisType model.AnalysisType) model.AnalysisRequest {
	return model.AnalysisRequest{
		Scene:        model.Scene{ID: "ch3-s2", Text: "Mara lit the lamp she had lost two chapters ago."},
		AnalysisType: analysisType,
	}
}

func TestAnalyzeContinuityHappyPath(t *testing.T) {
	h := newHarness(t, map[string]fakeSpec{
		"gpt-4o-mini": {conf: 0.9},
	})

	resp, err := h.m.AnalyzeContinuity(context.Background(), analysisReq(model.AnalysisSimple))
	require.NoError(t, err)

	assert.Equal(t, "gpt-4o-mini", resp.Model)
	assert.Equal(t, "openai", resp.Provider)
	assert.InDelta(t, 0.9, resp.Confidence, 1e-9)
	assert.False(t, resp.Cached)
	assert.Equal(t, 1, h.callCount("gpt-4o-mini"))
	assert.Zero(t, h.callCount("gpt-5.2"))
}

func TestAnalyzeContinuityCacheHit(t *testing.T) {
	h := newHarness(t, map[string]fakeSpec{
		"gpt-4o-mini": {conf: 0.9},
	})
	req := analysisReq(model.AnalysisSimple)

	first, err := h.m.AnalyzeContinuity(context.Background(), req)
	require.NoError(t, err)

	second, err := h.m.AnalyzeContinuity(context.Background(), req)
	require.NoError(t, err)

	assert.True(t, second.Cached)
	assert.Equal(t, first.ID, second.ID)
	assert.Zero(t, second.CostUSD)
	assert.Zero(t, second.Duration)
	assert.Equal(t, 1, h.callCount("gpt-4o-mini"))

	metrics := h.m.Metrics()
	assert.Equal(t, 2, metrics.TotalRequests)
	assert.Equal(t, 1, metrics.CacheHits)
	assert.Equal(t, 1, metrics.CacheSize)
}

func TestLowConfidenceEscalatesToStrongTier(t *testing.T) {
	h := newHarness(t, map[string]fakeSpec{
		"gpt-4o-mini": {conf: 0.5},
		"gpt-4o":      {conf: 0.5},
		"gpt-5.2":     {conf: 0.9},
	})

	resp, err := h.m.AnalyzeContinuity(context.Background(), analysisReq(model.AnalysisSimple))
	require.NoError(t, err)

	// One base attempt under the threshold, one strong-tier escalation.
	assert.Equal(t, "gpt-5.2", resp.Model)
	assert.Equal(t, 1, h.callCount("gpt-4o-mini"))
	assert.Equal(t, 1, h.callCount("gpt-5.2"))
	assert.Zero(t, h.callCount("gpt-4o"))
}

func TestPersistentLowConfidenceReturnsLastResponse(t *testing.T) {
	h := newHarness(t, map[string]fakeSpec{
		"gpt-4o-mini": {conf: 0.5},
		"gpt-4o":      {conf: 0.5},
		"gpt-5.2":     {conf: 0.5},
	})
	req := analysisReq(model.AnalysisSimple)

	resp, err := h.m.AnalyzeContinuity(context.Background(), req)
	require.NoError(t, err)

	assert.InDelta(t, 0.5, resp.Confidence, 1e-9)
	assert.Equal(t, 1, h.callCount("gpt-4o-mini"))
	assert.Equal(t, 2, h.callCount("gpt-5.2"))

	// The sub-threshold result is still cached.
	cached, err := h.m.AnalyzeContinuity(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, cached.Cached)
}

func TestComplexRequestSkipsFastTier(t *testing.T) {
	h := newHarness(t, map[string]fakeSpec{
		"gpt-4o":  {conf: 0.9},
		"gpt-5.2": {conf: 0.9},
	})

	req := analysisReq(model.AnalysisConsistency)
	req.Complex = true

	resp, err := h.m.AnalyzeContinuity(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", resp.Model)
	assert.Zero(t, h.callCount("gpt-4o-mini"))
}

func TestManySceneRequestRoutesComplex(t *testing.T) {
	req := analysisReq(model.AnalysisConsistency)
	for i := 0; i < complexSceneCount; i++ {
		req.PreviousScenes = append(req.PreviousScenes, model.Scene{ID: fmt.Sprintf("s%d", i), Text: "earlier"})
	}
	assert.True(t, isComplex(req))
	assert.False(t, isComplex(analysisReq(model.AnalysisConsistency)))
	assert.True(t, isComplex(analysisReq(model.AnalysisFull)))
}

func TestAllAttemptsFailedAggregatesError(t *testing.T) {
	h := newHarness(t, map[string]fakeSpec{
		"gpt-4o-mini": {err: llm.NewConfigError("key revoked")},
		"gpt-4o":      {err: llm.NewConfigError("key revoked")},
		"gpt-5.2":     {err: llm.NewConfigError("key revoked")},
	})

	_, err := h.m.AnalyzeContinuity(context.Background(), analysisReq(model.AnalysisSimple))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "attempts failed")
	assert.ErrorContains(t, err, "key revoked")

	metrics := h.m.Metrics()
	stats := metrics.Models["gpt-4o-mini"]
	assert.Equal(t, 1, stats.Failures)
	assert.NotEmpty(t, stats.LastError)
}

func TestAnalyzeContinuityValidatesRequest(t *testing.T) {
	h := newHarness(t, map[string]fakeSpec{"gpt-4o-mini": {conf: 0.9}})

	_, err := h.m.AnalyzeContinuity(context.Background(), model.AnalysisRequest{
		Scene: model.Scene{ID: "s1"},
	})
	require.Error(t, err)
	kind, ok := llm.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, llm.KindConfiguration, kind)

	_, err = h.m.AnalyzeContinuity(context.Background(), model.AnalysisRequest{
		Scene: model.Scene{Text: "no id"},
	})
	require.Error(t, err)
}

func TestUnconfiguredManagerErrors(t *testing.T) {
	m := NewManager()
	_, err := m.AnalyzeContinuity(context.Background(), analysisReq(model.AnalysisSimple))
	require.Error(t, err)
	kind, ok := llm.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, llm.KindConfiguration, kind)
}

func TestConfigureModelPinRestrictsProvider(t *testing.T) {
	tr := tracker.NewTracker(zap.NewNop())
	m := NewManager(
		WithTracker(tr),
		WithSelector(tracker.NewSelector(tr, tracker.WithEpsilon(0))),
	)
	h := &harness{m: m, calls: make(map[string]*atomic.Int32)}
	m.buildProvider = func(providerType llm.ProviderType, _ string, modelID string) (llm.Provider, error) {
		counter := &atomic.Int32{}
		h.calls[modelID] = counter
		return &fakeProvider{
			providerName: providerType.String(),
			modelID:      modelID,
			spec:         fakeSpec{conf: 0.9},
			calls:        counter,
		}, nil
	}

	require.NoError(t, m.Configure(map[string]config.ProviderSettings{
		"openai": {APIKey: "sk-test", Model: "gpt-4o"},
	}))

	// Only the pinned model gets a client; every request routes to it.
	require.Len(t, m.pool(), 1)
	assert.Equal(t, "gpt-4o", m.pool()[0].ID)

	resp, err := m.AnalyzeContinuity(context.Background(), analysisReq(model.AnalysisSimple))
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", resp.Model)
	assert.Equal(t, 1, h.callCount("gpt-4o"))
	assert.Zero(t, h.callCount("gpt-4o-mini"))
}

func TestConfigureRejectsBadModelPin(t *testing.T) {
	m := NewManager()

	err := m.Configure(map[string]config.ProviderSettings{
		"openai": {APIKey: "sk-test", Model: "gpt-6"},
	})
	require.Error(t, err)
	assert.ErrorContains(t, err, "not in the model registry")

	err = m.Configure(map[string]config.ProviderSettings{
		"openai": {APIKey: "sk-test", Model: "gemini-3-flash"},
	})
	require.Error(t, err)
	assert.ErrorContains(t, err, "belongs to provider")
}

func TestConfigureRejectsUnknownProviders(t *testing.T) {
	m := NewManager()
	err := m.Configure(map[string]config.ProviderSettings{"mystery": {APIKey: "k"}})
	require.Error(t, err)

	err = m.Configure(nil)
	require.Error(t, err)
}

func TestAnalyzeCriticalConsensus(t *testing.T) {
	finding := `{
		"issues": [{
			"type": "timeline",
			"severity": "high",
			"span": {"start": 100, "end": 140},
			"explanation": "the lamp was destroyed in chapter one",
			"confidence": 0.7
		}],
		"summary": "timeline conflict",
		"confidence": 0.7
	}`
	h := newHarness(t, map[string]fakeSpec{
		"gpt-5.2": {content: finding},
		"gpt-4o":  {content: finding},
	})
	req := analysisReq(model.AnalysisConsistency)
	req.Critical = true

	res, err := h.m.AnalyzeCritical(context.Background(), req, consensus.Options{})
	require.NoError(t, err)

	assert.Equal(t, "consensus", res.Response.Provider)
	require.Len(t, res.Response.Issues, 1)
	assert.Equal(t, []int{2}, res.Votes)
	// mean(0.7, 0.7) + 0.05 agreement bonus
	assert.InDelta(t, 0.75, *res.Response.Issues[0].Confidence, 1e-9)
	assert.ElementsMatch(t, []string{"gpt-5.2", "gpt-4o"}, res.ModelsUsed)
	assert.Zero(t, h.callCount("gpt-4o-mini"))

	// The reconciled response lands in the shared cache.
	cached, err := h.m.AnalyzeContinuity(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, cached.Cached)
}

func TestAnalyzeCriticalSurvivesOneFailure(t *testing.T) {
	h := newHarness(t, map[string]fakeSpec{
		"gpt-5.2": {err: llm.NewConfigError("key revoked")},
		"gpt-4o":  {conf: 0.8},
	})

	res, err := h.m.AnalyzeCritical(context.Background(), analysisReq(model.AnalysisConsistency), consensus.Options{})
	require.NoError(t, err)
	assert.Contains(t, res.Failures, "gpt-5.2")
	assert.Contains(t, res.Confidences, "gpt-4o")
}
