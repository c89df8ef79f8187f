// Package tracker maintains rolling per (model, task) performance records and
// drives adaptive model selection.
package tracker

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ahleung/storylens/model"
)

// ewmaAlpha weights the newest observation; older observations decay
// geometrically.
const ewmaAlpha = 0.3

// referenceLatency normalizes latency into (0,1]: a call at the reference
// scores 0.5, faster scores higher.
const referenceLatency = 2 * time.Second

// Priors for unseen (model, task) pairs keep new models competitive until
// real observations arrive.
const (
	priorAccuracy     = 0.7
	priorLatencyScore = 0.5
)

// costPenaltyScale converts a candidate's cost weight into score units before
// the per-profile CostPenalty multiplier applies.
const costPenaltyScale = 0.2

// Weights blends the score components for one routing profile.
type Weights struct {
	Accuracy    float64
	Latency     float64
	CostPenalty float64
}

// ComplexWeights favors accuracy and halves the cost penalty: for complex
// narrative analysis, quality is worth paying for.
func ComplexWeights() Weights {
	return Weights{Accuracy: 0.8, Latency: 0.2, CostPenalty: 0.5}
}

// SimpleWeights favors responsiveness and applies the full cost penalty.
func SimpleWeights() Weights {
	return Weights{Accuracy: 0.6, Latency: 0.4, CostPenalty: 1.0}
}

type recordKey struct {
	modelID string
	task    string
}

type record struct {
	accuracy     float64
	latencyScore float64
	successes    int
	failures     int
}

// Tracker folds per-call observations into EWMA records keyed by
// (model, task). Safe for concurrent use.
type Tracker struct {
	mu      sync.Mutex
	records map[recordKey]*record
	logger  *zap.Logger
}

// NewTracker creates an empty tracker. A nil logger defaults to a no-op.
func NewTracker(logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		records: make(map[recordKey]*record),
		logger:  logger,
	}
}

// Record folds one observation. Failed calls count as zero accuracy so
// repeated failures sink a model's score quickly.
func (t *Tracker) Record(modelID, task string, confidence float64, latency time.Duration, success bool) {
	accSample := 0.0
	if success {
		accSample = clamp01(confidence)
	}
	latSample := latencyScore(latency)

	t.mu.Lock()
	defer t.mu.Unlock()

	key := recordKey{modelID: modelID, task: task}
	r, ok := t.records[key]
	if !ok {
		r = &record{accuracy: accSample, latencyScore: latSample}
		t.records[key] = r
	} else {
		r.accuracy = ewmaAlpha*accSample + (1-ewmaAlpha)*r.accuracy
		r.latencyScore = ewmaAlpha*latSample + (1-ewmaAlpha)*r.latencyScore
	}
	if success {
		r.successes++
	} else {
		r.failures++
	}

	t.logger.Debug("performance recorded",
		zap.String("model", modelID),
		zap.String("task", task),
		zap.Bool("success", success),
		zap.Float64("accuracy_ewma", r.accuracy),
	)
}

// Score blends the tracked accuracy and latency with the candidate's cost
// weight under the given profile. Unseen pairs score on optimistic priors.
func (t *Tracker) Score(modelID, task string, w Weights) float64 {
	acc, lat := priorAccuracy, priorLatencyScore

	t.mu.Lock()
	if r, ok := t.records[recordKey{modelID: modelID, task: task}]; ok {
		acc, lat = r.accuracy, r.latencyScore
	}
	t.mu.Unlock()

	cost := 0.0
	if cand, ok := model.CandidateByID(modelID); ok {
		cost = cand.CostWeight
	}
	return w.Accuracy*acc + w.Latency*lat - w.CostPenalty*cost*costPenaltyScale
}

// Counts reports cumulative success/failure counts per model across tasks.
func (t *Tracker) Counts() map[string][2]int {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string][2]int)
	for key, r := range t.records {
		c := out[key.modelID]
		c[0] += r.successes
		c[1] += r.failures
		out[key.modelID] = c
	}
	return out
}

func latencyScore(d time.Duration) float64 {
	if d <= 0 {
		return 1
	}
	return 1 / (1 + d.Seconds()/referenceLatency.Seconds())
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
