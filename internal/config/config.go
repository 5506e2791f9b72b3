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
	Layout     LayoutConfig     `yaml:"layout" mapstructure:"layout"`
	Extraction ExtractionConfig `yaml:"extraction" mapstructure:"extraction"`
	Evolution  EvolutionConfig  `yaml:"evolution" mapstructure:"evolution"`
	Schemas    SchemasConfig    `yaml:"schemas" mapstructure:"schemas"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key         string `yaml:"key" mapstructure:"key"`
	HaikuModel  string `yaml:"haiku_model" mapstructure:"haiku_model"`
	SonnetModel string `yaml:"sonnet_model" mapstructure:"sonnet_model"`
	// RequestsPerMinute throttles extraction calls per client.
	RequestsPerMinute int `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
}

// LayoutConfig configures the layout analysis provider used by the verifier.
type LayoutConfig struct {
	Provider string `yaml:"provider" mapstructure:"provider"`
	BaseURL  string `yaml:"base_url" mapstructure:"base_url"`
	APIKey   string `yaml:"api_key" mapstructure:"api_key"`
}

// ExtractionConfig configures the consensus extraction pipeline.
type ExtractionConfig struct {
	// Extractors lists the model names fanned out per document. At least two
	// are required for consensus; the first is the tie-break primary.
	Extractors  []string `yaml:"extractors" mapstructure:"extractors"`
	MaxRetries  int      `yaml:"max_retries" mapstructure:"max_retries"`
	TimeoutSecs int      `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// EvolutionConfig configures prompt evolution and the regression gate.
type EvolutionConfig struct {
	RewriteModel    string `yaml:"rewrite_model" mapstructure:"rewrite_model"`
	ExampleCount    int    `yaml:"example_count" mapstructure:"example_count"`
	BacktestSamples int    `yaml:"backtest_samples" mapstructure:"backtest_samples"`
}

// SchemasConfig points at the directory of field schema YAML files.
type SchemasConfig struct {
	Dir string `yaml:"dir" mapstructure:"dir"`
}

// ServerConfig configures the feedback API server.
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
	v.SetEnvPrefix("REGISTRO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("anthropic.haiku_model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.sonnet_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.requests_per_minute", 50)
	v.SetDefault("layout.provider", "rest")
	v.SetDefault("extraction.extractors", []string{
		"claude-haiku-4-5-20251001", "claude-sonnet-4-5-20250929",
	})
	v.SetDefault("extraction.max_retries", 3)
	v.SetDefault("extraction.timeout_secs", 120)
	v.SetDefault("evolution.rewrite_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("evolution.example_count", 10)
	v.SetDefault("evolution.backtest_samples", 50)

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
