// Package config loads application configuration from file and environment
// and initializes the global logger.
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
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Audit     AuditConfig     `yaml:"audit" mapstructure:"audit"`
	Batch     BatchConfig     `yaml:"batch" mapstructure:"batch"`
	Payer     PayerConfig     `yaml:"payer" mapstructure:"payer"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int    `yaml:"max_conns" mapstructure:"max_conns"`
}

// AnthropicConfig holds the API settings for the rule interpreter.
type AnthropicConfig struct {
	Key         string `yaml:"key" mapstructure:"key"`
	Model       string `yaml:"model" mapstructure:"model"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// AuditConfig configures the audit pass.
type AuditConfig struct {
	// ToleranciaTarifa is the relative tariff variance tolerated before a
	// glosa is raised (0.05 = 5%).
	ToleranciaTarifa float64 `yaml:"tolerancia_tarifa" mapstructure:"tolerancia_tarifa"`
	// SalarioMinimo is the legal monthly minimum wage in pesos, the base
	// for percentage moderating fees.
	SalarioMinimo float64 `yaml:"salario_minimo" mapstructure:"salario_minimo"`
	TarifarioXLSX string  `yaml:"tarifario_xlsx" mapstructure:"tarifario_xlsx"`
}

// BatchConfig configures batch processing.
type BatchConfig struct {
	MaxConcurrentRadicados int `yaml:"max_concurrent_radicados" mapstructure:"max_concurrent_radicados"`
	MaxRetries             int `yaml:"max_retries" mapstructure:"max_retries"`
	BackoffSecs            int `yaml:"backoff_secs" mapstructure:"backoff_secs"`
}

// PayerConfig configures the EPS affiliation verification client.
type PayerConfig struct {
	BaseURL       string  `yaml:"base_url" mapstructure:"base_url"`
	RatePerSecond float64 `yaml:"rate_per_second" mapstructure:"rate_per_second"`
	TimeoutSecs   int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	Enabled       bool    `yaml:"enabled" mapstructure:"enabled"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Validate checks the fields the given mode depends on. Modes: "audit"
// runs passes against the store, "rules" additionally needs the LLM
// credentials, "serve" exposes the HTTP API.
func (c *Config) Validate(mode string) error {
	var problems []string

	appendIf := func(cond bool, msg string) {
		if cond {
			problems = append(problems, msg)
		}
	}

	switch mode {
	case "audit":
		appendIf(c.Store.Driver == "postgres" && c.Store.DatabaseURL == "", "store.database_url is required")
	case "rules":
		appendIf(c.Store.Driver == "postgres" && c.Store.DatabaseURL == "", "store.database_url is required")
		appendIf(c.Anthropic.Key == "", "anthropic.key is required")
	case "serve":
		appendIf(c.Store.Driver == "postgres" && c.Store.DatabaseURL == "", "store.database_url is required")
		appendIf(c.Server.Port <= 0, "server.port must be > 0")
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	appendIf(c.Audit.ToleranciaTarifa < 0 || c.Audit.ToleranciaTarifa > 1,
		"audit.tolerancia_tarifa must be between 0 and 1")
	appendIf(c.Batch.MaxConcurrentRadicados < 1 || c.Batch.MaxConcurrentRadicados > 50,
		"batch.max_concurrent_radicados must be between 1 and 50")
	appendIf(c.Payer.Enabled && c.Payer.BaseURL == "", "payer.base_url is required when payer.enabled")

	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("GLOSAS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("audit.tolerancia_tarifa", 0.05)
	v.SetDefault("audit.salario_minimo", 1423500) // SMMLV 2025
	v.SetDefault("batch.max_concurrent_radicados", 4)
	v.SetDefault("batch.max_retries", 2)
	v.SetDefault("batch.backoff_secs", 5)
	v.SetDefault("payer.rate_per_second", 2)
	v.SetDefault("payer.timeout_secs", 15)
	v.SetDefault("payer.enabled", false)
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.timeout_secs", 60)

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
