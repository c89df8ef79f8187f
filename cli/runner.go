// Command execution for CLI commands.
//
// Information Hiding:
// - Manager assembly from settings hidden
// - Request loading and validation hidden
// - Output formatting hidden

package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/ahleung/storylens/breaker"
	"github.com/ahleung/storylens/cache"
	"github.com/ahleung/storylens/config"
	"github.com/ahleung/storylens/consensus"
	"github.com/ahleung/storylens/model"
	"github.com/ahleung/storylens/orchestration"
)

// Options holds CLI execution options.
type Options struct {
	Critical       bool
	Models         []string
	ConsensusCount int
	HardFail       bool
	Verbose        bool
}

// DefaultOptions returns default CLI options.
func DefaultOptions() Options {
	return Options{
		ConsensusCount: consensus.DefaultCount,
	}
}

// Analyze loads an analysis request from path, runs it through a configured
// manager and prints the result as JSON on stdout.
func Analyze(ctx context.Context, path string, opts Options) error {
	req, err := loadRequest(path)
	if err != nil {
		return err
	}

	settings, err := config.New()
	if err != nil {
		return err
	}

	logger, err := newLogger(opts.Verbose)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	manager, err := buildManager(settings, logger)
	if err != nil {
		return err
	}

	if opts.Critical || req.Critical {
		return runCritical(ctx, manager, req, opts)
	}

	resp, err := manager.AnalyzeContinuity(ctx, req)
	if err != nil {
		return err
	}
	if err := printJSON(resp); err != nil {
		return err
	}
	if opts.Verbose {
		printMetrics(manager.Metrics())
	}
	return nil
}

func runCritical(ctx context.Context, manager *orchestration.Manager, req model.AnalysisRequest, opts Options) error {
	res, err := manager.AnalyzeCritical(ctx, req, consensus.Options{
		CandidateIDs: opts.Models,
		Count:        opts.ConsensusCount,
		HardFail:     opts.HardFail,
	})
	if err != nil {
		return err
	}

	if err := printJSON(res.Response); err != nil {
		return err
	}

	fmt.Printf("\nModels: %v  Votes: %v\n", res.ModelsUsed, res.Votes)
	for id, failErr := range res.Failures {
		fmt.Fprintf(os.Stderr, "Warning: %s failed: %v\n", id, failErr)
	}
	if res.HumanReview {
		fmt.Println("HUMAN REVIEW RECOMMENDED")
	}
	if opts.Verbose {
		printMetrics(manager.Metrics())
	}
	return nil
}

// ListModels prints the model registry grouped by provider, marking the
// entries that are usable with the current credentials.
func ListModels() error {
	settings, err := config.New()
	configured := map[string]bool{}
	if err == nil {
		for name := range settings.Providers {
			configured[name] = true
		}
	}

	fmt.Println("Known models:")
	fmt.Println()
	for _, cand := range model.Candidates() {
		marker := " "
		if configured[cand.Provider] {
			marker = "*"
		}
		fmt.Printf("  %s %-28s %-10s %s\n", marker, cand.ID, cand.Provider, cand.Tier)
	}
	fmt.Println()
	if len(configured) == 0 {
		fmt.Println("No provider credentials found; set an API key to enable models.")
	} else {
		fmt.Println("* = provider credentials present")
	}
	return nil
}

// buildManager assembles an orchestration manager from settings.
func buildManager(settings config.Settings, logger *zap.Logger) (*orchestration.Manager, error) {
	breakers := breaker.NewRegistry(
		breaker.WithMaxFailures(settings.BreakerMaxFailures),
		breaker.WithFailureWindow(settings.BreakerWindow),
		breaker.WithRecoveryTimeout(settings.BreakerRecovery),
	)
	promptCache := cache.New(
		cache.WithCapacity(settings.CacheCapacity),
		cache.WithTTL(settings.CacheTTL),
	)

	manager := orchestration.NewManager(
		orchestration.WithBreakers(breakers),
		orchestration.WithCache(promptCache),
		orchestration.WithTokenBudget(settings.TokenBudget, settings.BudgetHardFail),
		orchestration.WithCallTimeout(settings.CallTimeout),
		orchestration.WithGeneration(settings.MaxTokens, float32(settings.Temperature)),
		orchestration.WithLogger(logger),
	)
	if err := manager.Configure(settings.Providers); err != nil {
		return nil, err
	}
	return manager, nil
}

func loadRequest(path string) (model.AnalysisRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.AnalysisRequest{}, fmt.Errorf("reading request file: %w", err)
	}
	var req model.AnalysisRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return model.AnalysisRequest{}, fmt.Errorf("parsing request file %s: %w", path, err)
	}
	return req, nil
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewNop(), nil
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding result: %w", err)
	}
	fmt.Println(string(out))
	return nil
}

func printMetrics(m orchestration.Metrics) {
	fmt.Printf("\n--- Metrics ---\n")
	fmt.Printf("Requests: %d  Cache hits: %d (rate %.2f, size %d)\n",
		m.TotalRequests, m.CacheHits, m.CacheHitRate, m.CacheSize)

	ids := make([]string, 0, len(m.Models))
	for id := range m.Models {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		stats := m.Models[id]
		fmt.Printf("  %-28s ok=%d fail=%d", id, stats.Successes, stats.Failures)
		if stats.LastError != "" {
			fmt.Printf(" last_error=%q", stats.LastError)
		}
		fmt.Println()
	}
	for typ, avg := range m.AvgDuration {
		fmt.Printf("  avg %-12s %s\n", typ, avg.Round(time.Millisecond))
	}
}
