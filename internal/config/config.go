package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/sub-zapper/internal/cost"
)

// Config holds the full application configuration.
type Config struct {
	Oracle     OracleConfig     `yaml:"oracle" mapstructure:"oracle"`
	Pipeline   PipelineConfig   `yaml:"pipeline" mapstructure:"pipeline"`
	Gmail      GmailConfig      `yaml:"gmail" mapstructure:"gmail"`
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Pricing    PricingConfig    `yaml:"pricing" mapstructure:"pricing"`
}

// OracleConfig configures the classification LLM.
type OracleConfig struct {
	Provider          string  `yaml:"provider" mapstructure:"provider"` // "openai" or "anthropic"
	Key               string  `yaml:"key" mapstructure:"key"`
	Model             string  `yaml:"model" mapstructure:"model"`
	BaseURL           string  `yaml:"base_url" mapstructure:"base_url"`
	Temperature       float64 `yaml:"temperature" mapstructure:"temperature"`
	MaxTokens         int     `yaml:"max_tokens" mapstructure:"max_tokens"`
	TimeoutSecs       int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RequestsPerMinute int     `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
	StructuredOutput  bool    `yaml:"structured_output" mapstructure:"structured_output"`
}

// PipelineConfig configures batching and prompt construction.
type PipelineConfig struct {
	BatchSize    int `yaml:"batch_size" mapstructure:"batch_size"`
	MaxBodyChars int `yaml:"max_body_chars" mapstructure:"max_body_chars"`
}

// GmailConfig configures the Gmail mail source.
type GmailConfig struct {
	MaxResults  int64  `yaml:"max_results" mapstructure:"max_results"`
	Query       string `yaml:"query" mapstructure:"query"`
	Concurrency int    `yaml:"concurrency" mapstructure:"concurrency"`
	BaseURL     string `yaml:"base_url" mapstructure:"base_url"`
	MaxAttempts int    `yaml:"max_attempts" mapstructure:"max_attempts"`
}

// StoreConfig configures the run history backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// MonitoringConfig configures the background run-health checker.
type MonitoringConfig struct {
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// PricingConfig overrides oracle token pricing per model id.
type PricingConfig struct {
	Models map[string]ModelPricing `yaml:"models" mapstructure:"models"`
}

// ModelPricing holds per-model token pricing (USD per million tokens).
type ModelPricing struct {
	Input  float64 `yaml:"input" mapstructure:"input"`
	Output float64 `yaml:"output" mapstructure:"output"`
}

// Rates converts the pricing overrides for the cost calculator.
func (p PricingConfig) Rates() cost.Rates {
	rates := cost.Rates{Models: make(map[string]cost.ModelRate, len(p.Models))}
	for model, mp := range p.Models {
		rates.Models[model] = cost.ModelRate{Input: mp.Input, Output: mp.Output}
	}
	return rates
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("SUBZAPPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("oracle.provider", "openai")
	v.SetDefault("oracle.key", "")
	v.SetDefault("oracle.model", "")
	v.SetDefault("oracle.base_url", "")
	v.SetDefault("oracle.temperature", 0.1)
	v.SetDefault("oracle.max_tokens", 4096)
	v.SetDefault("oracle.timeout_secs", 60)
	v.SetDefault("oracle.requests_per_minute", 60)
	v.SetDefault("oracle.structured_output", true)
	v.SetDefault("pipeline.batch_size", 10)
	v.SetDefault("pipeline.max_body_chars", 8000)
	v.SetDefault("gmail.max_results", 100)
	v.SetDefault("gmail.query", "")
	v.SetDefault("gmail.concurrency", 8)
	v.SetDefault("gmail.base_url", "")
	v.SetDefault("gmail.max_attempts", 3)
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "subzapper.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("server.port", 8080)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.failure_rate_threshold", 0.5)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

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

// Validate checks the keys each command depends on. mode is one of
// "analyze", "fetch", "serve" or "runs".
func (c *Config) Validate(mode string) error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	checkOracle := func() {
		switch c.Oracle.Provider {
		case "openai", "anthropic":
		default:
			add("oracle.provider must be openai or anthropic, got %q", c.Oracle.Provider)
		}
		if c.Oracle.Temperature < 0 || c.Oracle.Temperature > 2 {
			add("oracle.temperature must be between 0 and 2")
		}
		if c.Oracle.TimeoutSecs <= 0 {
			add("oracle.timeout_secs must be > 0")
		}
		if c.Oracle.RequestsPerMinute < 0 {
			add("oracle.requests_per_minute must be >= 0")
		}
		if c.Pipeline.BatchSize < 1 || c.Pipeline.BatchSize > 100 {
			add("pipeline.batch_size must be between 1 and 100")
		}
		if c.Pipeline.MaxBodyChars < 0 {
			add("pipeline.max_body_chars must be >= 0")
		}
	}
	checkStore := func() {
		switch c.Store.Driver {
		case "sqlite", "postgres":
		default:
			add("store.driver must be sqlite or postgres, got %q", c.Store.Driver)
		}
		if c.Store.DatabaseURL == "" {
			add("store.database_url is required")
		}
	}
	checkGmail := func() {
		if c.Gmail.MaxResults < 1 || c.Gmail.MaxResults > 500 {
			add("gmail.max_results must be between 1 and 500")
		}
		if c.Gmail.Concurrency < 1 || c.Gmail.Concurrency > 50 {
			add("gmail.concurrency must be between 1 and 50")
		}
	}

	switch mode {
	case "analyze":
		checkOracle()
		checkStore()
	case "fetch":
		checkGmail()
	case "serve":
		checkOracle()
		checkStore()
		checkGmail()
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			add("server.port must be > 0 and <= 65535")
		}
	case "runs":
		checkStore()
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.Errorf("config: invalid for %s: %s", mode, strings.Join(problems, "; "))
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
