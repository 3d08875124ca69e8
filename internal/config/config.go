package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// envPrefix namespaces every variable, e.g. RESEARCH_DATABASE_URL.
const envPrefix = "RESEARCH"

type Config struct {
	Port  string `envconfig:"PORT" default:"8080"`
	Debug bool   `envconfig:"DEBUG" default:"false"`

	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
	DBMaxConns  int32  `envconfig:"DB_MAX_CONNS" default:"10"`

	// Queue and pipeline
	MaxConcurrency       int           `envconfig:"MAX_CONCURRENCY" default:"3"`
	DecompositionTimeout time.Duration `envconfig:"DECOMPOSITION_TIMEOUT" default:"60s"`
	RetrievalTimeout     time.Duration `envconfig:"RETRIEVAL_TIMEOUT" default:"60s"`
	ScoringTimeout       time.Duration `envconfig:"SCORING_TIMEOUT" default:"90s"`
	SynthesisTimeout     time.Duration `envconfig:"SYNTHESIS_TIMEOUT" default:"120s"`
	RetrievalTopK        int           `envconfig:"RETRIEVAL_TOP_K" default:"5"`
	MaxSources           int           `envconfig:"MAX_SOURCES" default:"40"`
	FailOnSynthesisError bool          `envconfig:"FAIL_ON_SYNTHESIS_ERROR" default:"false"`
	JobTTL               time.Duration `envconfig:"JOB_TTL" default:"2h"`
	ExpiryInterval       time.Duration `envconfig:"EXPIRY_INTERVAL" default:"1m"`

	OpenAIAPIKey  string `envconfig:"OPENAI_API_KEY"`
	OpenAIBaseURL string `envconfig:"OPENAI_BASE_URL"`
	ChatModel     string `envconfig:"CHAT_MODEL" default:"gpt-4o-mini"`

	WebSearchAPIKey string  `envconfig:"WEB_SEARCH_API_KEY"`
	WebSearchURL    string  `envconfig:"WEB_SEARCH_URL" default:"https://api.search.brave.com"`
	WebSearchRPS    float64 `envconfig:"WEB_SEARCH_RPS" default:"1"`

	// Host lists used to classify web results, comma separated
	PrimaryDomains       []string `envconfig:"PRIMARY_DOMAINS"`
	AuthoritativeDomains []string `envconfig:"AUTHORITATIVE_DOMAINS"`
	FlaggedDomains       []string `envconfig:"FLAGGED_DOMAINS"`

	RedisURL     string `envconfig:"REDIS_URL"`
	RedisChannel string `envconfig:"REDIS_CHANNEL" default:"research:events"`

	S3Endpoint  string `envconfig:"S3_ENDPOINT"`
	S3AccessKey string `envconfig:"S3_ACCESS_KEY_ID"`
	S3SecretKey string `envconfig:"S3_SECRET_ACCESS_KEY"`
	S3Bucket    string `envconfig:"S3_BUCKET" default:"research-reports"`
	S3Region    string `envconfig:"S3_REGION" default:"us-east-1"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects settings the queue and pipeline cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.MaxConcurrency < 1 {
		errs = append(errs, fmt.Errorf("%s_MAX_CONCURRENCY must be at least 1, got %d", envPrefix, c.MaxConcurrency))
	}
	timeouts := map[string]time.Duration{
		"DECOMPOSITION_TIMEOUT": c.DecompositionTimeout,
		"RETRIEVAL_TIMEOUT":     c.RetrievalTimeout,
		"SCORING_TIMEOUT":       c.ScoringTimeout,
		"SYNTHESIS_TIMEOUT":     c.SynthesisTimeout,
		"JOB_TTL":               c.JobTTL,
		"EXPIRY_INTERVAL":       c.ExpiryInterval,
	}
	for _, name := range []string{"DECOMPOSITION_TIMEOUT", "RETRIEVAL_TIMEOUT", "SCORING_TIMEOUT", "SYNTHESIS_TIMEOUT", "JOB_TTL", "EXPIRY_INTERVAL"} {
		if timeouts[name] <= 0 {
			errs = append(errs, fmt.Errorf("%s_%s must be positive", envPrefix, name))
		}
	}
	if c.RetrievalTopK < 1 {
		errs = append(errs, fmt.Errorf("%s_RETRIEVAL_TOP_K must be at least 1", envPrefix))
	}
	if c.MaxSources < 1 {
		errs = append(errs, fmt.Errorf("%s_MAX_SOURCES must be at least 1", envPrefix))
	}
	if c.HasWebSearch() && c.WebSearchRPS <= 0 {
		errs = append(errs, fmt.Errorf("%s_WEB_SEARCH_RPS must be positive", envPrefix))
	}
	return errors.Join(errs...)
}

func (c *Config) HasS3() bool {
	return c.S3Endpoint != "" && c.S3AccessKey != "" && c.S3SecretKey != ""
}

func (c *Config) HasOpenAI() bool {
	return c.OpenAIAPIKey != ""
}

func (c *Config) HasWebSearch() bool {
	return c.WebSearchAPIKey != ""
}

func (c *Config) HasRedis() bool {
	return c.RedisURL != ""
}
