package tracker

import (
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/ahleung/storylens/model"
)

// DefaultEpsilon is the exploration probability.
const DefaultEpsilon = 0.1

// Selector picks a candidate per request: epsilon-greedy over the tracked
// scores within the tier pool for the request's complexity.
type Selector struct {
	tracker *Tracker
	rng     *rand.Rand
	epsilon float64
	logger  *zap.Logger
}

// SelectorOption configures a Selector.
type SelectorOption func(*Selector)

// WithRand injects a random source; tests pin a seed for determinism.
func WithRand(rng *rand.Rand) SelectorOption {
	return func(s *Selector) { s.rng = rng }
}

// WithEpsilon overrides the exploration probability.
func WithEpsilon(eps float64) SelectorOption {
	return func(s *Selector) { s.epsilon = eps }
}

// WithLogger injects a logger.
func WithLogger(logger *zap.Logger) SelectorOption {
	return func(s *Selector) { s.logger = logger }
}

// NewSelector creates a selector over the given tracker.
func NewSelector(t *Tracker, opts ...SelectorOption) *Selector {
	s := &Selector{
		tracker: t,
		epsilon: DefaultEpsilon,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.rng == nil {
		s.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return s
}

// Select picks one candidate from pool for the task. Complex requests draw
// from the strong+balanced tiers, simple ones from fast+balanced; if the tier
// filter empties the pool the whole pool is used. With probability epsilon a
// uniform random candidate is explored, otherwise the highest-scoring one
// wins, ties broken by pool order.
func (s *Selector) Select(pool []model.ModelCandidate, task string, complex bool) (model.ModelCandidate, bool) {
	if len(pool) == 0 {
		return model.ModelCandidate{}, false
	}

	eligible := filterTiers(pool, complex)
	if len(eligible) == 0 {
		eligible = pool
	}

	if s.rng.Float64() < s.epsilon {
		pick := eligible[s.rng.Intn(len(eligible))]
		s.logger.Debug("exploration pick",
			zap.String("model", pick.ID),
			zap.String("task", task),
		)
		return pick, true
	}

	weights := SimpleWeights()
	if complex {
		weights = ComplexWeights()
	}

	best := eligible[0]
	bestScore := s.tracker.Score(best.ID, task, weights)
	for _, cand := range eligible[1:] {
		if score := s.tracker.Score(cand.ID, task, weights); score > bestScore {
			best, bestScore = cand, score
		}
	}
	s.logger.Debug("exploitation pick",
		zap.String("model", best.ID),
		zap.String("task", task),
		zap.Float64("score", bestScore),
	)
	return best, true
}

func filterTiers(pool []model.ModelCandidate, complex bool) []model.ModelCandidate {
	want := map[model.Tier]bool{model.TierFast: true, model.TierBalanced: true}
	if complex {
		want = map[model.Tier]bool{model.TierStrong: true, model.TierBalanced: true}
	}

	var out []model.ModelCandidate
	for _, c := range pool {
		if want[c.Tier] {
			out = append(out, c)
		}
	}
	return out
}
