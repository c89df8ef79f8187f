// Package consensus fans one analysis request out to several models and
// reconciles the independent results into a single merged response plus a
// human-review decision.
package consensus

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ahleung/storylens/model"
)

// Defaults for Options fields left zero.
const (
	DefaultCount                = 2
	DefaultAcceptThreshold      = 0.5
	DefaultHumanReviewThreshold = 0.9
)

// confidenceStdDevLimit triggers human review when the models disagree this
// much about the scene overall.
const confidenceStdDevLimit = 0.25

// spanBucketSize coarsens span offsets so nearby findings from different
// models land in the same group.
const spanBucketSize = 50

// multiModelBonus rewards issues corroborated by at least two models.
const multiModelBonus = 0.05

// Invoker runs the request on one candidate model.
type Invoker func(ctx context.Context, candidateID string, req model.AnalysisRequest) (model.AnalysisResponse, error)

// Options tunes one consensus run.
type Options struct {
	// CandidateIDs are the models to fan out to, in preference order.
	CandidateIDs []string
	// Count caps how many candidates are used (default 2).
	Count int
	// AcceptThreshold is the minimum votes/models ratio to keep an issue.
	AcceptThreshold float64
	// HumanReviewThreshold flags review when a kept issue is at least this
	// confident.
	HumanReviewThreshold float64
	// HardFail makes zero successful attempts an error instead of an empty
	// result.
	HardFail bool
}

func (o Options) withDefaults() Options {
	if o.Count <= 0 {
		o.Count = DefaultCount
	}
	if o.AcceptThreshold <= 0 {
		o.AcceptThreshold = DefaultAcceptThreshold
	}
	if o.HumanReviewThreshold <= 0 {
		o.HumanReviewThreshold = DefaultHumanReviewThreshold
	}
	return o
}

// Result is the reconciled outcome of a consensus run.
type Result struct {
	Response    model.AnalysisResponse
	HumanReview bool
	// Votes holds the distinct-model vote count per kept issue, aligned
	// with Response.Issues.
	Votes []int
	// Confidences maps each successful model to its overall confidence.
	Confidences map[string]float64
	ModelsUsed  []string
	// Failures maps each failed model to its error.
	Failures map[string]error
}

// attempt is one model's completed analysis.
type attempt struct {
	modelID string
	resp    model.AnalysisResponse
}

// Run fans req out to up to opts.Count candidates concurrently and
// reconciles the results. Individual failures are swallowed; a run with zero
// successes returns an empty zero-confidence result unless HardFail is set.
func Run(ctx context.Context, req model.AnalysisRequest, invoke Invoker, opts Options, logger *zap.Logger) (Result, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts = opts.withDefaults()

	ids := distinct(opts.CandidateIDs)
	if len(ids) > opts.Count {
		ids = ids[:opts.Count]
	}
	if len(ids) == 0 {
		return Result{}, fmt.Errorf("consensus: no candidate models supplied")
	}

	start := time.Now()

	// Fan out with a WaitGroup rather than an errgroup: one model's failure
	// must not cancel the others, and every attempt is awaited.
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		attempts []attempt
		failures = make(map[string]error)
	)
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			resp, err := invoke(ctx, id, req)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures[id] = err
				return
			}
			attempts = append(attempts, attempt{modelID: id, resp: resp})
		}(id)
	}
	wg.Wait()

	for id, err := range failures {
		logger.Warn("consensus attempt failed", zap.String("model", id), zap.Error(err))
	}

	if len(attempts) == 0 {
		if opts.HardFail {
			return Result{Failures: failures}, fmt.Errorf("consensus: all %d attempts failed: %w", len(ids), lastError(ids, failures))
		}
		return Result{
			Response: model.AnalysisResponse{
				ID:       uuid.NewString(),
				Provider: "consensus",
				Duration: time.Since(start),
			},
			Failures:    failures,
			Confidences: map[string]float64{},
		}, nil
	}

	// Deterministic reconciliation order: candidate preference order.
	sort.SliceStable(attempts, func(i, j int) bool {
		return indexOf(ids, attempts[i].modelID) < indexOf(ids, attempts[j].modelID)
	})

	res := reconcile(attempts, opts)
	res.Failures = failures
	res.Response.Duration = time.Since(start)
	for _, a := range attempts {
		res.Response.CostUSD += a.resp.CostUSD
	}

	logger.Info("consensus reconciled",
		zap.Int("models", len(attempts)),
		zap.Int("kept_issues", len(res.Response.Issues)),
		zap.Bool("human_review", res.HumanReview),
	)
	return res, nil
}

func distinct(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	var out []string
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func indexOf(ids []string, id string) int {
	for i, v := range ids {
		if v == id {
			return i
		}
	}
	return len(ids)
}

func lastError(ids []string, failures map[string]error) error {
	var last error
	for _, id := range ids {
		if err, ok := failures[id]; ok {
			last = err
		}
	}
	return last
}
