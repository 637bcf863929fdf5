// Package config loads the process-wide configuration value injected
// into every component at startup (internal/research, internal/batch,
// internal/similarity, ...). There is no package-level mutable global:
// callers construct one *Config and pass it down explicitly, following
// the same constructor-injection style used throughout this module.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ScraperConfig controls the content-extraction engines.
type ScraperConfig struct {
	UserAgent           string `yaml:"userAgent"`
	TimeoutMs           int    `yaml:"timeoutMs"`
	ByteCapPerPage      int    `yaml:"byteCapPerPage"`
	TextCapPerPage      int    `yaml:"textCapPerPage"`
	LinksSameDomainOnly bool   `yaml:"linksSameDomainOnly"`
	LinksMaxPerDocument int    `yaml:"linksMaxPerDocument"`
}

// CrawlConfig controls link discovery.
type CrawlConfig struct {
	MaxLinks          int `yaml:"maxLinks"`
	MaxDepth          int `yaml:"maxDepth"`
	PerHostConcurrency int `yaml:"perHostConcurrency"`
	TotalDeadlineS    int `yaml:"totalDeadlineS"`
}

// RobotsConfig controls robots.txt compliance during link discovery.
type RobotsConfig struct {
	Respect bool `yaml:"respect"`
}

// RodConfig controls the headless-browser content-extraction engine.
type RodConfig struct {
	Enabled bool `yaml:"enabled"`
}

// DatabaseConfig is the Postgres DSN used by internal/store and
// internal/vectorstore.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// RedisConfig is the Redis connection used by internal/batch's
// resumable row cache.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// LLMPoolConfig controls the rate-limited worker pool.
type LLMPoolConfig struct {
	Workers           int `yaml:"workers"`
	RequestsPerMinute int `yaml:"requestsPerMinute"`
	MaxRetries        int `yaml:"maxRetries"`
	SchemaRetries     int `yaml:"schemaRetries"`
	TimeoutSSelection     int `yaml:"timeoutSSelection"`
	TimeoutSAggregation   int `yaml:"timeoutSAggregation"`
	TimeoutSClassification int `yaml:"timeoutSClassification"`
	TimeoutSDefault       int `yaml:"timeoutSDefault"`
}

// EmbeddingPoolConfig gates the embedding provider with its own bucket,
// independent of the LLM pool's request budget.
type EmbeddingPoolConfig struct {
	RequestsPerMinute int `yaml:"requestsPerMinute"`
}

type OpenAIConfig struct {
	APIKey  string `yaml:"apiKey"`
	BaseURL string `yaml:"baseURL"`
	Model   string `yaml:"model"`
}

type AnthropicConfig struct {
	APIKey string `yaml:"apiKey"`
	Model  string `yaml:"model"`
}

type GoogleLLMConfig struct {
	APIKey string `yaml:"apiKey"`
	Model  string `yaml:"model"`
}

type LLMConfig struct {
	DefaultProvider string          `yaml:"defaultProvider"`
	OpenAI          OpenAIConfig    `yaml:"openai"`
	Anthropic       AnthropicConfig `yaml:"anthropic"`
	Google          GoogleLLMConfig `yaml:"google"`
	Pool            LLMPoolConfig   `yaml:"pool"`
}

// SearxngConfig holds provider-specific configuration for SearxNG-based
// web search, used by the similarity engine's web-discovery path.
type SearxngConfig struct {
	BaseURL      string `yaml:"baseURL"`
	DefaultLimit int    `yaml:"defaultLimit"`
	TimeoutMs    int    `yaml:"timeoutMs"`
}

// SearchConfig controls the web-search provider.
type SearchConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Provider  string        `yaml:"provider"`
	MaxResults int          `yaml:"maxResults"`
	TimeoutMs  int          `yaml:"timeoutMs"`
	Searxng    SearxngConfig `yaml:"searxng"`
}

// EmbeddingConfig controls the embedder.
type EmbeddingConfig struct {
	Dim      int                 `yaml:"dim"`
	Provider string              `yaml:"provider"`
	Pool     EmbeddingPoolConfig `yaml:"pool"`
}

// ResearchConfig controls the orchestrator's overall job deadline.
type ResearchConfig struct {
	OverallTimeoutS int `yaml:"overallTimeoutS"`
	MaxPages        int `yaml:"maxPages"`
}

// SimilarityWeights are the default factor weights for similarity scoring.
type SimilarityWeights struct {
	BusinessModel float64 `yaml:"businessModel"`
	Industry      float64 `yaml:"industry"`
	CompanySize   float64 `yaml:"companySize"`
	Tech          float64 `yaml:"tech"`
	MarketFocus   float64 `yaml:"marketFocus"`
	GrowthStage   float64 `yaml:"growthStage"`
}

// SimilarityConfig controls the similarity engine.
type SimilarityConfig struct {
	Threshold float64           `yaml:"threshold"`
	Weights   SimilarityWeights `yaml:"weights"`
	MaxWebSearchQueries int     `yaml:"maxWebSearchQueries"`
}

// BatchConfig controls the batch coordinator's adaptive concurrency.
type BatchConfig struct {
	ConcurrencyStart int `yaml:"concurrencyStart"`
	ConcurrencyMax   int `yaml:"concurrencyMax"`
	CooldownS        int `yaml:"cooldownS"`
	SuccessesToRamp  int `yaml:"successesToRamp"`
	MaxRetries       int `yaml:"maxRetries"`
	CacheTTLHours    int `yaml:"cacheTtlHours"`
	PerRowTimeoutS   int `yaml:"perRowTimeoutS"`
}

// ProgressConfig controls the progress bus.
type ProgressConfig struct {
	SubscriberBufferSize int `yaml:"subscriberBufferSize"`
	GCAfterMinutes       int `yaml:"gcAfterMinutes"`
}

// MetricsConfig controls the Prometheus exposition endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// JobTTLConfig controls per-job-type retention in days.
type JobTTLConfig struct {
	DefaultDays int `yaml:"defaultDays"`
}

// RetentionConfig controls TTL-like deletion of old jobs and documents
// so that the store does not grow without bound over time.
type RetentionConfig struct {
	Enabled                bool         `yaml:"enabled"`
	CleanupIntervalMinutes int          `yaml:"cleanupIntervalMinutes"`
	Jobs                   JobTTLConfig `yaml:"jobs"`
}

// TaxonomyConfig supplies the fixed business-model enumeration (59
// labels by default) used by the classifier. Loaded from configuration
// so it can be swapped without a rebuild.
type TaxonomyConfig struct {
	Labels []string `yaml:"labels"`
}

// Config is the root configuration value. One instance is constructed
// at startup and passed explicitly into every component; nothing in
// this module reads a package-level global for configuration.
type Config struct {
	Scraper   ScraperConfig    `yaml:"scraper"`
	Crawl     CrawlConfig      `yaml:"crawl"`
	Robots    RobotsConfig     `yaml:"robots"`
	Rod       RodConfig        `yaml:"rod"`
	Database  DatabaseConfig   `yaml:"database"`
	Redis     RedisConfig      `yaml:"redis"`
	LLM       LLMConfig        `yaml:"llm"`
	Search    SearchConfig     `yaml:"search"`
	Embedding EmbeddingConfig  `yaml:"embedding"`
	Research  ResearchConfig   `yaml:"research"`
	Similarity SimilarityConfig `yaml:"similarity"`
	Batch     BatchConfig      `yaml:"batch"`
	Progress  ProgressConfig   `yaml:"progress"`
	Retention RetentionConfig  `yaml:"retention"`
	Taxonomy  TaxonomyConfig   `yaml:"taxonomy"`
	Metrics   MetricsConfig    `yaml:"metrics"`
}

// Load reads and parses a YAML configuration file. Unlike
// raito/internal/config's Load (which calls log.Fatalf directly), this
// returns an error so callers, notably tests, can exercise failure
// paths without exiting the process.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()

	cfg := Default()
	if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

// Default returns a Config populated with sensible operational
// defaults (requests_per_minute ~8, workers 1, max_links 1000,
// max_depth 3, per-host concurrency 5, overall deadline 120s, and so
// on). There is no separate extraction-semaphore setting: the command
// sizes the extraction semaphore from Crawl.PerHostConcurrency.
func Default() *Config {
	return &Config{
		Scraper: ScraperConfig{
			UserAgent:           "research-engine/1.0",
			TimeoutMs:           20000,
			ByteCapPerPage:      2 * 1024 * 1024,
			TextCapPerPage:      10000,
			LinksSameDomainOnly: true,
			LinksMaxPerDocument: 200,
		},
		Crawl: CrawlConfig{
			MaxLinks:           1000,
			MaxDepth:           3,
			PerHostConcurrency: 5,
			TotalDeadlineS:     20,
		},
		Robots: RobotsConfig{Respect: true},
		Rod:    RodConfig{Enabled: true},
		LLM: LLMConfig{
			DefaultProvider: "openai",
			Pool: LLMPoolConfig{
				Workers:                1,
				RequestsPerMinute:      8,
				MaxRetries:             3,
				SchemaRetries:          2,
				TimeoutSSelection:      30,
				TimeoutSAggregation:    60,
				TimeoutSClassification: 25,
				TimeoutSDefault:        30,
			},
		},
		Search: SearchConfig{
			Enabled:    false,
			Provider:   "searxng",
			MaxResults: 5,
			TimeoutMs:  10000,
		},
		Embedding: EmbeddingConfig{
			Dim:      1536,
			Provider: "hash",
			Pool:     EmbeddingPoolConfig{RequestsPerMinute: 20},
		},
		Research: ResearchConfig{
			OverallTimeoutS: 120,
			MaxPages:        15,
		},
		Similarity: SimilarityConfig{
			Threshold: 0.6,
			Weights: SimilarityWeights{
				BusinessModel: 0.25,
				Industry:      0.20,
				CompanySize:   0.15,
				Tech:          0.15,
				MarketFocus:   0.15,
				GrowthStage:   0.10,
			},
			MaxWebSearchQueries: 3,
		},
		Batch: BatchConfig{
			ConcurrencyStart: 3,
			ConcurrencyMax:   10,
			CooldownS:        60,
			SuccessesToRamp:  5,
			MaxRetries:       3,
			CacheTTLHours:    24,
			PerRowTimeoutS:   150,
		},
		Progress: ProgressConfig{
			SubscriberBufferSize: 64,
			GCAfterMinutes:       30,
		},
		Retention: RetentionConfig{
			Enabled:                true,
			CleanupIntervalMinutes: 60,
			Jobs:                   JobTTLConfig{DefaultDays: 30},
		},
		Taxonomy: TaxonomyConfig{},
		Metrics: MetricsConfig{
			Enabled: true,
			Addr:    ":9090",
		},
	}
}

// Validate performs basic sanity checks, failing fast on obviously
// misconfigured providers rather than during the first request,
// following the same intent as raito/internal/config's Validate,
// narrowed to this module's actual concerns (LLM provider
// completeness, similarity weight sanity, embedding dimensionality).
func (cfg *Config) Validate() error {
	if cfg == nil {
		return errors.New("config is nil")
	}

	provider := strings.TrimSpace(cfg.LLM.DefaultProvider)
	if provider == "" {
		return errors.New("llm.defaultProvider must be set to 'openai', 'anthropic', or 'google'")
	}
	switch provider {
	case "openai":
		if cfg.LLM.OpenAI.APIKey == "" || cfg.LLM.OpenAI.Model == "" {
			return errors.New("openai llm provider is not fully configured")
		}
	case "anthropic":
		if cfg.LLM.Anthropic.APIKey == "" || cfg.LLM.Anthropic.Model == "" {
			return errors.New("anthropic llm provider is not fully configured")
		}
	case "google":
		if cfg.LLM.Google.APIKey == "" || cfg.LLM.Google.Model == "" {
			return errors.New("google llm provider is not fully configured")
		}
	default:
		return fmt.Errorf("unsupported llm.defaultProvider: %s", provider)
	}

	if cfg.LLM.Pool.RequestsPerMinute <= 0 {
		return errors.New("llm.pool.requestsPerMinute must be positive")
	}
	if cfg.LLM.Pool.Workers <= 0 {
		return errors.New("llm.pool.workers must be positive")
	}
	if cfg.Embedding.Dim <= 0 {
		return errors.New("embedding.dim must be positive")
	}
	if cfg.Similarity.Threshold < 0 || cfg.Similarity.Threshold > 1 {
		return errors.New("similarity.threshold must be in [0,1]")
	}

	return nil
}

// TaxonomyLabels returns the configured taxonomy labels, or nil when
// none are configured; the caller falls back to model.DefaultTaxonomy.
// Kept here (rather than in package model) to avoid an import cycle:
// model must not depend on config.
func (cfg *Config) TaxonomyLabels() []string {
	if cfg != nil && len(cfg.Taxonomy.Labels) > 0 {
		return cfg.Taxonomy.Labels
	}
	return nil
}
