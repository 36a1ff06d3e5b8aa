package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	ProviderOpenRouter = "openrouter"
	ProviderGemini     = "gemini"

	SearchSerpAPI = "serpapi"
	SearchArxiv   = "arxiv"
)

// Config carries credentials and tuning for one process. It is passed
// explicitly into every constructor that needs it.
type Config struct {
	OpenRouterAPIKey string
	GoogleApiKey     string
	SerpAPIKey       string
	JinaAPIKey       string

	LLMProvider    string
	Model          string
	Temperature    float64
	MaxTokens      int
	SearchProvider string

	MaxIterations    int
	ResultsPerSearch int
	MaxConcurrency   int
	HTTPTimeout      time.Duration

	RedisURL     string
	PageCacheTTL time.Duration
	DatabaseURL  string
	Port         string
}

const DefaultOpenRouterModel = "google/gemini-2.0-flash-lite-preview-02-05:free"
const DefaultGeminiModel = "gemini-2.0-flash"

func Load() *Config {
	provider := strings.ToLower(getEnv("LLM_PROVIDER", ProviderOpenRouter))
	defaultModel := DefaultOpenRouterModel
	if provider == ProviderGemini {
		defaultModel = DefaultGeminiModel
	}

	return &Config{
		OpenRouterAPIKey: getEnv("OPENROUTER_API_KEY", ""),
		GoogleApiKey:     getEnv("GOOGLE_API_KEY", ""),
		SerpAPIKey:       getEnv("SERPAPI_API_KEY", ""),
		JinaAPIKey:       getEnv("JINA_API_KEY", ""),
		LLMProvider:      provider,
		Model:            getEnv("LLM_MODEL", defaultModel),
		Temperature:      getEnvAsFloat("LLM_TEMPERATURE", 0.7),
		MaxTokens:        getEnvAsInt("LLM_MAX_TOKENS", 4096),
		SearchProvider:   strings.ToLower(getEnv("SEARCH_PROVIDER", SearchSerpAPI)),
		MaxIterations:    getEnvAsInt("MAX_ITERATIONS", 10),
		ResultsPerSearch: getEnvAsInt("RESULTS_PER_SEARCH", 5),
		MaxConcurrency:   getEnvAsInt("MAX_CONCURRENCY", 0),
		HTTPTimeout:      getEnvAsDuration("HTTP_TIMEOUT", 60*time.Second),
		RedisURL:         getEnv("REDIS_URL", ""),
		PageCacheTTL:     getEnvAsDuration("PAGE_CACHE_TTL", 24*time.Hour),
		DatabaseURL:      getEnv("DATABASE_URL", ""),
		Port:             getEnv("PORT", "8081"),
	}
}

// Validate reports every credential missing for the selected providers.
func (c *Config) Validate() error {
	var errs []error

	switch c.LLMProvider {
	case ProviderOpenRouter:
		if c.OpenRouterAPIKey == "" {
			errs = append(errs, errors.New("OPENROUTER_API_KEY is not set"))
		}
	case ProviderGemini:
		if c.GoogleApiKey == "" {
			errs = append(errs, errors.New("GOOGLE_API_KEY is not set"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown LLM provider %q", c.LLMProvider))
	}

	switch c.SearchProvider {
	case SearchSerpAPI:
		if c.SerpAPIKey == "" {
			errs = append(errs, errors.New("SERPAPI_API_KEY is not set"))
		}
	case SearchArxiv:
	default:
		errs = append(errs, fmt.Errorf("unknown search provider %q", c.SearchProvider))
	}

	if c.MaxIterations < 1 {
		errs = append(errs, fmt.Errorf("MAX_ITERATIONS must be at least 1, got %d", c.MaxIterations))
	}
	if c.ResultsPerSearch < 1 {
		errs = append(errs, fmt.Errorf("RESULTS_PER_SEARCH must be at least 1, got %d", c.ResultsPerSearch))
	}

	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
