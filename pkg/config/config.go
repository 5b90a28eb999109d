package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/umputun/newsflux/pkg/domain"
)

//go:generate go run ../../cmd/schema/main.go schema.json

// Config holds the application configuration
type Config struct {
	Server struct {
		Listen  string        `yaml:"listen" json:"listen" jsonschema:"default=:8080,description=HTTP server listen address"`
		Timeout time.Duration `yaml:"timeout" json:"timeout" jsonschema:"default=30s,description=HTTP server timeout"`
	} `yaml:"server" json:"server" jsonschema:"description=Server configuration"`

	Database struct {
		DSN             string `yaml:"dsn" json:"dsn" jsonschema:"default=file:newsflux.db?cache=shared&mode=rwc,description=Database connection string"`
		MaxOpenConns    int    `yaml:"max_open_conns" json:"max_open_conns" jsonschema:"default=10,description=Maximum number of open connections"`
		MaxIdleConns    int    `yaml:"max_idle_conns" json:"max_idle_conns" jsonschema:"default=5,description=Maximum number of idle connections"`
		ConnMaxLifetime int    `yaml:"conn_max_lifetime" json:"conn_max_lifetime" jsonschema:"default=3600,description=Connection maximum lifetime in seconds"`
	} `yaml:"database" json:"database" jsonschema:"description=Database configuration"`

	Redis struct {
		Enabled  bool   `yaml:"enabled" json:"enabled" jsonschema:"default=false,description=Use redis for cache and queue backends"`
		Addr     string `yaml:"addr" json:"addr" jsonschema:"default=localhost:6379,description=Redis address"`
		Password string `yaml:"password" json:"password" jsonschema:"description=Redis password (can use environment variable)"`
	} `yaml:"redis" json:"redis" jsonschema:"description=Redis configuration for cache and queue backends"`

	Cache    CacheConfig    `yaml:"cache" json:"cache" jsonschema:"description=Cache-aside store configuration"`
	Queue    QueueConfig    `yaml:"queue" json:"queue" jsonschema:"description=Job queue configuration"`
	Batch    BatchConfig    `yaml:"batch" json:"batch" jsonschema:"description=Batch orchestrator configuration"`
	Dedup    DedupConfig    `yaml:"dedup" json:"dedup" jsonschema:"description=Duplicate detection configuration"`
	Classify ClassifyConfig `yaml:"classify" json:"classify" jsonschema:"description=Classification cascade configuration"`

	LLM LLMConfig `yaml:"llm" json:"llm" jsonschema:"description=LLM configuration for classification and title generation"`

	Extraction ExtractionConfig `yaml:"extraction" json:"extraction" jsonschema:"description=Content extraction configuration"`

	Sources []domain.Source `yaml:"sources" json:"sources" jsonschema:"description=Sources processed by default batch runs"`
}

// CacheConfig holds cache-aside store settings
type CacheConfig struct {
	TTLClasses      map[string]time.Duration `yaml:"ttl_classes" json:"ttl_classes" jsonschema:"description=Per key-prefix TTL table"`
	DefaultTTL      time.Duration            `yaml:"default_ttl" json:"default_ttl" jsonschema:"default=5m,description=TTL used when no prefix matches"`
	BreakerFailures int                      `yaml:"breaker_failures" json:"breaker_failures" jsonschema:"default=5,description=Consecutive failures before the circuit breaker opens"`
	BreakerCooldown time.Duration            `yaml:"breaker_cooldown" json:"breaker_cooldown" jsonschema:"default=30s,description=Bypass window after the breaker opens"`
	StatsInterval   time.Duration            `yaml:"stats_interval" json:"stats_interval" jsonschema:"default=1h,description=Stats counters reset interval"`
	StatsMaxOps     int64                    `yaml:"stats_max_ops" json:"stats_max_ops" jsonschema:"default=1000000,description=Stats counters reset after this many operations"`
}

// QueueConfig holds job queue settings
type QueueConfig struct {
	Workers  int           `yaml:"workers" json:"workers" jsonschema:"default=2,description=Queue worker pool size, independent from batch concurrency"`
	Attempts int           `yaml:"attempts" json:"attempts" jsonschema:"default=3,description=Retry budget per work unit"`
	Backoff  time.Duration `yaml:"backoff" json:"backoff" jsonschema:"default=1s,description=Initial retry backoff, doubled per attempt"`
	Timeout  time.Duration `yaml:"timeout" json:"timeout" jsonschema:"default=10m,description=Per-unit execution timeout"`
	Key      string        `yaml:"key" json:"key" jsonschema:"default=newsflux:jobs,description=Backend queue key"`
}

// BatchConfig holds batch orchestrator settings
type BatchConfig struct {
	Concurrency        int           `yaml:"concurrency" json:"concurrency" jsonschema:"default=5,description=Source-level fetch concurrency within a batch"`
	ArticleTimeout     time.Duration `yaml:"article_timeout" json:"article_timeout" jsonschema:"default=30s,description=Per-article processing timeout"`
	Timeout            time.Duration `yaml:"timeout" json:"timeout" jsonschema:"default=15m,description=Batch-level timeout"`
	RecentScrapeWindow time.Duration `yaml:"recent_scrape_window" json:"recent_scrape_window" jsonschema:"default=10m,description=Skip articles scraped from the same source within this window"`
}

// DedupConfig holds duplicate detection settings
type DedupConfig struct {
	MinContentLength    int           `yaml:"min_content_length" json:"min_content_length" jsonschema:"default=100,description=Minimum normalized content length for fingerprinting"`
	SimilarityThreshold float64       `yaml:"similarity_threshold" json:"similarity_threshold" jsonschema:"default=0.85,minimum=0,maximum=1,description=Token-set similarity treated as a near duplicate"`
	Window              time.Duration `yaml:"window" json:"window" jsonschema:"default=168h,description=Time window for duplicate lookups"`
}

// ClassifyConfig holds classification cascade settings
type ClassifyConfig struct {
	MinConfidence float64           `yaml:"min_confidence" json:"min_confidence" jsonschema:"default=0.75,minimum=0,maximum=1,description=Confidence required to short-circuit the cascade"`
	DomainRules   map[string]string `yaml:"domain_rules" json:"domain_rules" jsonschema:"description=Host to category rules for known single-topic sources"`
}

// LLMConfig holds LLM configuration for classification and title generation
type LLMConfig struct {
	Enabled      bool          `yaml:"enabled" json:"enabled" jsonschema:"default=false,description=Enable the LLM capability"`
	Endpoint     string        `yaml:"endpoint" json:"endpoint" jsonschema:"description=OpenAI-compatible API endpoint"`
	APIKey       string        `yaml:"api_key" json:"api_key" jsonschema:"description=API key (can use environment variable)"`
	Model        string        `yaml:"model" json:"model" jsonschema:"description=Model name (e.g. gpt-4o-mini or llama3)"`
	Temperature  float64       `yaml:"temperature" json:"temperature" jsonschema:"default=0.3,description=Temperature for response generation"`
	MaxTokens    int           `yaml:"max_tokens" json:"max_tokens" jsonschema:"default=500,description=Maximum tokens in response"`
	Timeout      time.Duration `yaml:"timeout" json:"timeout" jsonschema:"default=30s,description=Request timeout"`
	RateInterval time.Duration `yaml:"rate_interval" json:"rate_interval" jsonschema:"default=1s,description=Minimum spacing between LLM calls across the whole process"`
}

// ExtractionConfig holds content extraction settings
type ExtractionConfig struct {
	Timeout       time.Duration `yaml:"timeout" json:"timeout" jsonschema:"default=30s,description=Fetch and extraction timeout per article"`
	UserAgent     string        `yaml:"user_agent" json:"user_agent" jsonschema:"default=Newsflux/1.0,description=User agent for HTTP requests"`
	MinTextLength int           `yaml:"min_text_length" json:"min_text_length" jsonschema:"default=100,description=Minimum text length to consider valid"`
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // file path comes from CLI flag
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// expand environment variables
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	setDefaults(&cfg)

	// validate configuration
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	// verify against embedded schema
	if err := VerifyAgainstEmbeddedSchema(&cfg); err != nil {
		// log warning but don't fail - schema validation is supplementary
		fmt.Printf("warning: schema validation failed: %v\n", err)
	}

	return &cfg, nil
}

// setDefaults fills zero values with operational defaults
func setDefaults(cfg *Config) {
	if cfg.Server.Listen == "" {
		cfg.Server.Listen = ":8080"
	}
	if cfg.Server.Timeout == 0 {
		cfg.Server.Timeout = 30 * time.Second
	}

	if cfg.Database.DSN == "" {
		cfg.Database.DSN = "file:newsflux.db?cache=shared&mode=rwc&_txlock=immediate"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 10
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 3600
	}

	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}

	if cfg.Cache.DefaultTTL == 0 {
		cfg.Cache.DefaultTTL = 5 * time.Minute
	}
	if cfg.Cache.BreakerFailures == 0 {
		cfg.Cache.BreakerFailures = 5
	}
	if cfg.Cache.BreakerCooldown == 0 {
		cfg.Cache.BreakerCooldown = 30 * time.Second
	}
	if cfg.Cache.StatsInterval == 0 {
		cfg.Cache.StatsInterval = time.Hour
	}
	if cfg.Cache.StatsMaxOps == 0 {
		cfg.Cache.StatsMaxOps = 1_000_000
	}
	if cfg.Cache.TTLClasses == nil {
		// short-lived search results, per-domain article listings, static config
		cfg.Cache.TTLClasses = map[string]time.Duration{
			"search:":   time.Minute,
			"articles:": 10 * time.Minute,
			"config:":   12 * time.Hour,
		}
	}

	if cfg.Queue.Workers == 0 {
		cfg.Queue.Workers = 2
	}
	if cfg.Queue.Attempts == 0 {
		cfg.Queue.Attempts = 3
	}
	if cfg.Queue.Backoff == 0 {
		cfg.Queue.Backoff = time.Second
	}
	if cfg.Queue.Timeout == 0 {
		cfg.Queue.Timeout = 10 * time.Minute
	}
	if cfg.Queue.Key == "" {
		cfg.Queue.Key = "newsflux:jobs"
	}

	if cfg.Batch.Concurrency == 0 {
		cfg.Batch.Concurrency = 5
	}
	if cfg.Batch.ArticleTimeout == 0 {
		cfg.Batch.ArticleTimeout = 30 * time.Second
	}
	if cfg.Batch.Timeout == 0 {
		cfg.Batch.Timeout = 15 * time.Minute
	}
	if cfg.Batch.RecentScrapeWindow == 0 {
		cfg.Batch.RecentScrapeWindow = 10 * time.Minute
	}

	if cfg.Dedup.MinContentLength == 0 {
		cfg.Dedup.MinContentLength = 100
	}
	if cfg.Dedup.SimilarityThreshold == 0 {
		cfg.Dedup.SimilarityThreshold = 0.85
	}
	if cfg.Dedup.Window == 0 {
		cfg.Dedup.Window = 7 * 24 * time.Hour
	}

	if cfg.Classify.MinConfidence == 0 {
		cfg.Classify.MinConfidence = 0.75
	}

	if cfg.LLM.Temperature == 0 {
		cfg.LLM.Temperature = 0.3
	}
	if cfg.LLM.MaxTokens == 0 {
		cfg.LLM.MaxTokens = 500
	}
	if cfg.LLM.Timeout == 0 {
		cfg.LLM.Timeout = 30 * time.Second
	}
	if cfg.LLM.RateInterval == 0 {
		cfg.LLM.RateInterval = time.Second
	}

	if cfg.Extraction.Timeout == 0 {
		cfg.Extraction.Timeout = 30 * time.Second
	}
	if cfg.Extraction.UserAgent == "" {
		cfg.Extraction.UserAgent = "Newsflux/1.0"
	}
	if cfg.Extraction.MinTextLength == 0 {
		cfg.Extraction.MinTextLength = 100
	}
}

// validate checks configuration for correctness. Errors here are the only
// failures allowed to abort a run before it begins.
func validate(cfg *Config) error {
	if cfg.LLM.Enabled {
		if cfg.LLM.Endpoint == "" {
			return fmt.Errorf("llm.endpoint is required when llm is enabled")
		}
		if cfg.LLM.Model == "" {
			return fmt.Errorf("llm.model is required when llm is enabled")
		}
		if cfg.LLM.Temperature < 0 || cfg.LLM.Temperature > 2 {
			return fmt.Errorf("llm.temperature must be between 0 and 2")
		}
	}

	if cfg.Dedup.SimilarityThreshold <= 0 || cfg.Dedup.SimilarityThreshold > 1 {
		return fmt.Errorf("dedup.similarity_threshold must be in (0, 1]")
	}
	if cfg.Classify.MinConfidence <= 0 || cfg.Classify.MinConfidence > 1 {
		return fmt.Errorf("classify.min_confidence must be in (0, 1]")
	}

	if cfg.Batch.Concurrency < 1 {
		return fmt.Errorf("batch.concurrency must be at least 1")
	}
	if cfg.Queue.Workers < 1 {
		return fmt.Errorf("queue.workers must be at least 1")
	}

	if cfg.Server.Timeout < time.Second {
		return fmt.Errorf("server timeout must be at least 1 second")
	}

	for i, src := range cfg.Sources {
		if src.ID == "" {
			return fmt.Errorf("sources[%d].id is required", i)
		}
		if src.URL == "" {
			return fmt.Errorf("sources[%d].url is required", i)
		}
		if src.Kind != domain.SourceHTML && src.Kind != domain.SourceFeed {
			return fmt.Errorf("sources[%d].kind must be html or feed", i)
		}
	}

	return nil
}

// GetServerConfig returns server configuration
func (c *Config) GetServerConfig() (listen string, timeout time.Duration) {
	return c.Server.Listen, c.Server.Timeout
}

// GetLLMConfig returns LLM configuration
func (c *Config) GetLLMConfig() LLMConfig {
	return c.LLM
}

// GetExtractionConfig returns content extraction configuration
func (c *Config) GetExtractionConfig() ExtractionConfig {
	return c.Extraction
}

// DefaultSources returns the sources processed when a batch request names none
func (c *Config) DefaultSources() []domain.Source {
	return c.Sources
}
