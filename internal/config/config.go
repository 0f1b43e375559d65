package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/dwellscope/listing-cli/internal/model"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Auth      AuthConfig      `yaml:"auth" mapstructure:"auth"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Fetcher   FetcherConfig   `yaml:"fetcher" mapstructure:"fetcher"`
	Quota     QuotaConfig     `yaml:"quota" mapstructure:"quota"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// AuthConfig configures bearer token verification.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" mapstructure:"jwt_secret"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key               string  `yaml:"key" mapstructure:"key"`
	Model             string  `yaml:"model" mapstructure:"model"`
	MaxTokens         int64   `yaml:"max_tokens" mapstructure:"max_tokens"`
	Temperature       float64 `yaml:"temperature" mapstructure:"temperature"`
	StatsMaxSearches  int64   `yaml:"stats_max_searches" mapstructure:"stats_max_searches"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
}

// FetcherConfig configures the listing page fetcher.
type FetcherConfig struct {
	UserAgent         string  `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs       int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries        int     `yaml:"max_retries" mapstructure:"max_retries"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
}

// QuotaConfig configures per-action default limits and the failure
// policy for already-spent units.
type QuotaConfig struct {
	ExtractLimit         int    `yaml:"extract_limit" mapstructure:"extract_limit"`
	StatsLimit           int    `yaml:"stats_limit" mapstructure:"stats_limit"`
	EvaluateLimit        int    `yaml:"evaluate_limit" mapstructure:"evaluate_limit"`
	VideoLimit           int    `yaml:"video_limit" mapstructure:"video_limit"`
	FailurePolicy        string `yaml:"failure_policy" mapstructure:"failure_policy"`
	ReconcileIntervalMin int    `yaml:"reconcile_interval_min" mapstructure:"reconcile_interval_min"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
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
	v.SetEnvPrefix("DWELL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_tokens", 4096)
	v.SetDefault("anthropic.stats_max_searches", 8)
	v.SetDefault("anthropic.requests_per_second", 2)
	v.SetDefault("fetcher.user_agent", "listing-cli/1.0")
	v.SetDefault("fetcher.timeout_secs", 20)
	v.SetDefault("fetcher.max_retries", 3)
	v.SetDefault("fetcher.requests_per_second", 2)
	v.SetDefault("quota.extract_limit", 50)
	v.SetDefault("quota.stats_limit", 25)
	v.SetDefault("quota.evaluate_limit", 25)
	v.SetDefault("quota.video_limit", 5)
	v.SetDefault("quota.failure_policy", "fail_charged")
	v.SetDefault("quota.reconcile_interval_min", 15)

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

// DefaultLimits maps the configured per-action limits into the shape
// the quota ledger consumes.
func (q QuotaConfig) DefaultLimits() map[model.Action]int {
	return map[model.Action]int{
		model.ActionExtract:  q.ExtractLimit,
		model.ActionStats:    q.StatsLimit,
		model.ActionEvaluate: q.EvaluateLimit,
		model.ActionVideo:    q.VideoLimit,
	}
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
