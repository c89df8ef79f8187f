// Package config provides application settings loaded from environment variables.
//
// Settings are created via New() which handles:
// - Environment variable parsing with validation
// - Default value application
// - Per-provider credential lookup

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ahleung/storylens/breaker"
	"github.com/ahleung/storylens/cache"
	"github.com/ahleung/storylens/llm"
)

// Environment variables owned by this package.
const (
	EnvTokenBudget    = "STORYLENS_TOKEN_BUDGET"
	EnvBudgetHardFail = "STORYLENS_BUDGET_HARD_FAIL"
	EnvCacheCapacity  = "STORYLENS_CACHE_CAPACITY"
	EnvCacheTTL       = "STORYLENS_CACHE_TTL_SECONDS"
	EnvBreakerMax     = "STORYLENS_BREAKER_MAX_FAILURES"
	EnvBreakerWindow  = "STORYLENS_BREAKER_WINDOW_SECONDS"
	EnvBreakerRecover = "STORYLENS_BREAKER_RECOVERY_SECONDS"
	EnvCallTimeout    = "STORYLENS_CALL_TIMEOUT_SECONDS"
)

// ProviderSettings holds one provider family's credentials and model choice.
// Model, when set, pins the provider to that single registry model; empty
// means every registry model of the provider is eligible.
type ProviderSettings struct {
	APIKey string
	Model  string
}

// Settings holds all application configuration.
type Settings struct {
	// Providers maps canonical provider names to their credentials; only
	// providers whose API key was found appear here.
	Providers map[string]ProviderSettings

	TokenBudget    int
	BudgetHardFail bool

	CacheCapacity int
	CacheTTL      time.Duration

	BreakerMaxFailures int
	BreakerWindow      time.Duration
	BreakerRecovery    time.Duration

	CallTimeout time.Duration

	MaxTokens   uint32
	Temperature float64
}

// providerInfo holds configuration lookup data for one provider family.
type providerInfo struct {
	modelEnv  string
	apiKeyEnv string
}

// Supported providers and their configuration.
var providers = map[string]providerInfo{
	"openai":    {"OPENAI_MODEL", "OPENAI_API_KEY"},
	"anthropic": {"ANTHROPIC_MODEL", "ANTHROPIC_API_KEY"},
	"deepseek":  {"DEEPSEEK_MODEL", "DEEPSEEK_API_KEY"},
	"gemini":    {"GEMINI_MODEL", "GEMINI_API_KEY"},
}

// Provider aliases map to canonical names.
var providerAliases = map[string]string{
	"claude": "anthropic",
	"google": "gemini",
	"gpt":    "openai",
}

// New loads settings from environment variables. Providers without an API
// key are simply absent; at least one configured provider is required.
func New() (Settings, error) {
	s := Settings{
		Providers:          make(map[string]ProviderSettings),
		CacheCapacity:      cache.DefaultCapacity,
		CacheTTL:           cache.DefaultTTL,
		BreakerMaxFailures: breaker.DefaultMaxFailures,
		BreakerWindow:      breaker.DefaultFailureWindow,
		BreakerRecovery:    breaker.DefaultRecoveryTimeout,
		CallTimeout:        llm.DefaultCallTimeout,
	}

	for name, info := range providers {
		key := os.Getenv(info.apiKeyEnv)
		if key == "" {
			continue
		}
		s.Providers[name] = ProviderSettings{APIKey: key, Model: os.Getenv(info.modelEnv)}
	}
	if len(s.Providers) == 0 {
		return Settings{}, fmt.Errorf("no provider configured: set at least one of %s", strings.Join(apiKeyEnvVars(), ", "))
	}

	var err error
	if s.TokenBudget, err = getEnvInt(EnvTokenBudget, 0); err != nil {
		return Settings{}, err
	}
	if s.BudgetHardFail, err = getEnvBool(EnvBudgetHardFail, false); err != nil {
		return Settings{}, err
	}
	if s.CacheCapacity, err = getEnvInt(EnvCacheCapacity, s.CacheCapacity); err != nil {
		return Settings{}, err
	}
	if s.CacheTTL, err = getEnvSeconds(EnvCacheTTL, s.CacheTTL); err != nil {
		return Settings{}, err
	}
	if s.BreakerMaxFailures, err = getEnvInt(EnvBreakerMax, s.BreakerMaxFailures); err != nil {
		return Settings{}, err
	}
	if s.BreakerWindow, err = getEnvSeconds(EnvBreakerWindow, s.BreakerWindow); err != nil {
		return Settings{}, err
	}
	if s.BreakerRecovery, err = getEnvSeconds(EnvBreakerRecover, s.BreakerRecovery); err != nil {
		return Settings{}, err
	}
	if s.CallTimeout, err = getEnvSeconds(EnvCallTimeout, s.CallTimeout); err != nil {
		return Settings{}, err
	}
	if s.MaxTokens, err = getEnvUint32("LLM_MAX_TOKENS", 4096); err != nil {
		return Settings{}, err
	}
	if s.Temperature, err = getEnvFloat64("LLM_TEMPERATURE", 0.2); err != nil {
		return Settings{}, err
	}

	return s, nil
}

// NormalizeProvider converts provider aliases to canonical names.
func NormalizeProvider(provider string) string {
	provider = strings.ToLower(provider)
	if canonical, ok := providerAliases[provider]; ok {
		return canonical
	}
	return provider
}

// SupportedProviders returns the list of supported provider names.
func SupportedProviders() []string {
	result := make([]string, 0, len(providers))
	for name := range providers {
		result = append(result, name)
	}
	return result
}

func apiKeyEnvVars() []string {
	out := make([]string, 0, len(providers))
	for _, info := range providers {
		out = append(out, info.apiKeyEnv)
	}
	return out
}

// Environment variable helpers with proper error handling

func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q: %w", key, val, err)
	}
	return i, nil
}

func getEnvUint32(key string, defaultVal uint32) (uint32, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	i, err := strconv.ParseUint(val, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q: %w", key, val, err)
	}
	return uint32(i), nil
}

func getEnvFloat64(key string, defaultVal float64) (float64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q: %w", key, val, err)
	}
	return f, nil
}

func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("invalid value for %s: %q: %w", key, val, err)
	}
	return b, nil
}

func getEnvSeconds(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	i, err := strconv.Atoi(val)
	if err != nil || i < 0 {
		return 0, fmt.Errorf("invalid value for %s: %q", key, val)
	}
	return time.Duration(i) * time.Second, nil
}
