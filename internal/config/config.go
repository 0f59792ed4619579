package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	OpenAI     OpenAIConfig     `yaml:"openai" mapstructure:"openai"`
	Gemini     GeminiConfig     `yaml:"gemini" mapstructure:"gemini"`
	Perplexity PerplexityConfig `yaml:"perplexity" mapstructure:"perplexity"`
	Grok       GrokConfig       `yaml:"grok" mapstructure:"grok"`
	Dispatch   DispatchConfig   `yaml:"dispatch" mapstructure:"dispatch"`
	Extract    ExtractConfig    `yaml:"extract" mapstructure:"extract"`
	Scorer     ScorerConfig     `yaml:"scorer" mapstructure:"scorer"`
	Audit      AuditConfig      `yaml:"audit" mapstructure:"audit"`
	Retry      RetryConfig      `yaml:"retry" mapstructure:"retry"`
	Circuit    CircuitConfig    `yaml:"circuit" mapstructure:"circuit"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// AnthropicConfig holds Anthropic API settings. The haiku model powers
// structured extraction; the sonnet model answers probes when the claude
// provider is enabled.
type AnthropicConfig struct {
	Key         string `yaml:"key" mapstructure:"key"`
	HaikuModel  string `yaml:"haiku_model" mapstructure:"haiku_model"`
	SonnetModel string `yaml:"sonnet_model" mapstructure:"sonnet_model"`
}

// OpenAIConfig holds OpenAI API settings.
type OpenAIConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Model   string `yaml:"model" mapstructure:"model"`
}

// GeminiConfig holds Google Gemini API settings.
type GeminiConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Model   string `yaml:"model" mapstructure:"model"`
}

// PerplexityConfig holds Perplexity API settings.
type PerplexityConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Model   string `yaml:"model" mapstructure:"model"`
}

// GrokConfig holds xAI API settings.
type GrokConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Model   string `yaml:"model" mapstructure:"model"`
}

// DispatchConfig controls the probe fan-out.
type DispatchConfig struct {
	Concurrency       int     `yaml:"concurrency" mapstructure:"concurrency"`
	SamplesPerKeyword int     `yaml:"samples_per_keyword" mapstructure:"samples_per_keyword"`
	ProbeTimeoutSecs  int     `yaml:"probe_timeout_secs" mapstructure:"probe_timeout_secs"`
	MinSuccess        int     `yaml:"min_success" mapstructure:"min_success"`
	ProviderRPS       float64 `yaml:"provider_rps" mapstructure:"provider_rps"`
	ProviderBurst     int     `yaml:"provider_burst" mapstructure:"provider_burst"`
}

// ExtractConfig controls structured extraction.
type ExtractConfig struct {
	MaxTokens      int `yaml:"max_tokens" mapstructure:"max_tokens"`
	MaxTextLength  int `yaml:"max_text_length" mapstructure:"max_text_length"`
	RepairMaxScans int `yaml:"repair_max_scans" mapstructure:"repair_max_scans"`
}

// ScorerConfig controls GEO score computation.
type ScorerConfig struct {
	WeightSOM             float64 `yaml:"weight_som" mapstructure:"weight_som"`
	WeightCitation        float64 `yaml:"weight_citation" mapstructure:"weight_citation"`
	WeightRanking         float64 `yaml:"weight_ranking" mapstructure:"weight_ranking"`
	WeightAccuracy        float64 `yaml:"weight_accuracy" mapstructure:"weight_accuracy"`
	UnrankedMentionCredit float64 `yaml:"unranked_mention_credit" mapstructure:"unranked_mention_credit"`
	NeutralAccuracy       float64 `yaml:"neutral_accuracy" mapstructure:"neutral_accuracy"`
	MinSampleForCI        int     `yaml:"min_sample_for_ci" mapstructure:"min_sample_for_ci"`
}

// AuditConfig controls the audit lifecycle.
type AuditConfig struct {
	DeadlineSecs int      `yaml:"deadline_secs" mapstructure:"deadline_secs"`
	Providers    []string `yaml:"providers" mapstructure:"providers"`
	MaxKeywords  int      `yaml:"max_keywords" mapstructure:"max_keywords"`
}

// RetryConfig holds retry tuning for provider calls.
type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction   float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
}

// CircuitConfig holds circuit breaker tuning.
type CircuitConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port   int    `yaml:"port" mapstructure:"port"`
	APIKey string `yaml:"api_key" mapstructure:"api_key"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("GEOAUDIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "geoaudit.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("anthropic.haiku_model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.sonnet_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("openai.model", "gpt-4o")
	v.SetDefault("gemini.base_url", "https://generativelanguage.googleapis.com/v1beta")
	v.SetDefault("gemini.model", "gemini-2.0-flash")
	v.SetDefault("perplexity.base_url", "https://api.perplexity.ai")
	v.SetDefault("perplexity.model", "sonar-pro")
	v.SetDefault("grok.base_url", "https://api.x.ai/v1")
	v.SetDefault("grok.model", "grok-3")
	v.SetDefault("dispatch.concurrency", 8)
	v.SetDefault("dispatch.samples_per_keyword", 3)
	v.SetDefault("dispatch.probe_timeout_secs", 60)
	v.SetDefault("dispatch.min_success", 1)
	v.SetDefault("dispatch.provider_rps", 2.0)
	v.SetDefault("dispatch.provider_burst", 4)
	v.SetDefault("extract.max_tokens", 2048)
	v.SetDefault("extract.max_text_length", 20000)
	v.SetDefault("scorer.weight_som", 0.4)
	v.SetDefault("scorer.weight_citation", 0.3)
	v.SetDefault("scorer.weight_ranking", 0.2)
	v.SetDefault("scorer.weight_accuracy", 0.1)
	v.SetDefault("scorer.unranked_mention_credit", 20.0)
	v.SetDefault("scorer.neutral_accuracy", 70.0)
	v.SetDefault("scorer.min_sample_for_ci", 5)
	v.SetDefault("audit.deadline_secs", 600)
	v.SetDefault("audit.providers", []string{"openai", "claude", "gemini", "perplexity", "grok"})
	v.SetDefault("audit.max_keywords", 20)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff_ms", 500)
	v.SetDefault("retry.max_backoff_ms", 30000)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.jitter_fraction", 0.25)
	v.SetDefault("circuit.failure_threshold", 5)
	v.SetDefault("circuit.reset_timeout_secs", 30)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks configuration for the given mode ("run" or "serve").
// Both modes need the extraction engine and at least one enabled provider
// with a credential; serve additionally needs a listenable port.
func (c *Config) Validate(mode string) error {
	var problems []string

	switch mode {
	case "run", "serve":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if c.Anthropic.Key == "" {
		problems = append(problems, "anthropic.key is required (extraction engine)")
	}
	if len(c.Audit.Providers) == 0 {
		problems = append(problems, "audit.providers must name at least one provider")
	}

	keyed := 0
	for _, p := range c.Audit.Providers {
		switch p {
		case "openai":
			if c.OpenAI.Key != "" {
				keyed++
			}
		case "claude":
			if c.Anthropic.Key != "" {
				keyed++
			}
		case "gemini":
			if c.Gemini.Key != "" {
				keyed++
			}
		case "perplexity":
			if c.Perplexity.Key != "" {
				keyed++
			}
		case "grok":
			if c.Grok.Key != "" {
				keyed++
			}
		default:
			problems = append(problems, "audit.providers contains unknown provider "+p)
		}
	}
	if keyed == 0 && len(c.Audit.Providers) > 0 {
		problems = append(problems, "no enabled provider has an API key")
	}

	if c.Dispatch.Concurrency < 1 || c.Dispatch.Concurrency > 64 {
		problems = append(problems, "dispatch.concurrency must be between 1 and 64")
	}
	if c.Dispatch.SamplesPerKeyword < 1 {
		problems = append(problems, "dispatch.samples_per_keyword must be >= 1")
	}

	wsum := c.Scorer.WeightSOM + c.Scorer.WeightCitation + c.Scorer.WeightRanking + c.Scorer.WeightAccuracy
	if wsum < 0.999 || wsum > 1.001 {
		problems = append(problems, "scorer weights must sum to 1.0")
	}
	if c.Scorer.UnrankedMentionCredit < 0 || c.Scorer.UnrankedMentionCredit > 100 {
		problems = append(problems, "scorer.unranked_mention_credit must be in [0, 100]")
	}
	if c.Scorer.NeutralAccuracy < 0 || c.Scorer.NeutralAccuracy > 100 {
		problems = append(problems, "scorer.neutral_accuracy must be in [0, 100]")
	}

	if mode == "serve" && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		problems = append(problems, "server.port must be > 0")
	}

	if len(problems) > 0 {
		return eris.New("config: " + strings.Join(problems, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
