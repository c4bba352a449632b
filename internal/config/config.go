package config

import (
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/attribution-cli/internal/attribution"
)

// Config holds the full application configuration.
type Config struct {
	Store       StoreConfig       `yaml:"store" mapstructure:"store"`
	MCF         MCFConfig         `yaml:"mcf" mapstructure:"mcf"`
	Attribution AttributionConfig `yaml:"attribution" mapstructure:"attribution"`
	Batch       BatchConfig       `yaml:"batch" mapstructure:"batch"`
	Server      ServerConfig      `yaml:"server" mapstructure:"server"`
	Monitoring  MonitoringConfig  `yaml:"monitoring" mapstructure:"monitoring"`
	Log         LogConfig         `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver" validate:"oneof=postgres sqlite"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns" validate:"gte=0"`
}

// MCFConfig configures the Multi-Channel Funnels reporting client.
type MCFConfig struct {
	KeyFile           string  `yaml:"key_file" mapstructure:"key_file"`
	BaseURL           string  `yaml:"base_url" mapstructure:"base_url" validate:"required,url"`
	MaxResults        int     `yaml:"max_results" mapstructure:"max_results" validate:"min=1,max=10000"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second" validate:"gt=0"`
	MaxRetries        int     `yaml:"max_retries" mapstructure:"max_retries" validate:"min=1"`
	TimeoutSecs       int     `yaml:"timeout_secs" mapstructure:"timeout_secs" validate:"min=1"`
}

// AttributionConfig holds the position weights and output precision. Precision
// is capped at the scale of the stored revenue_proportion column.
type AttributionConfig struct {
	FirstWeight  float64 `yaml:"first_weight" mapstructure:"first_weight" validate:"gte=0,lte=1"`
	MiddleWeight float64 `yaml:"middle_weight" mapstructure:"middle_weight" validate:"gte=0,lte=1"`
	LastWeight   float64 `yaml:"last_weight" mapstructure:"last_weight" validate:"gte=0,lte=1"`
	Precision    int32   `yaml:"precision" mapstructure:"precision" validate:"gte=0,lte=5"`
}

// Weights converts the configured floats into validated attribution weights.
func (c AttributionConfig) Weights() (attribution.Weights, error) {
	return attribution.NewWeights(c.FirstWeight, c.MiddleWeight, c.LastWeight)
}

// Allocator builds the credit allocator described by the config.
func (c AttributionConfig) Allocator() (*attribution.Allocator, error) {
	w, err := c.Weights()
	if err != nil {
		return nil, err
	}
	return attribution.NewAllocator(w, c.Precision)
}

// BatchConfig configures batch processing.
type BatchConfig struct {
	MaxConcurrent int `yaml:"max_concurrent" mapstructure:"max_concurrent" validate:"min=1"`
}

// ServerConfig configures the read-only API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port" validate:"min=1,max=65535"`
}

// MonitoringConfig configures run health checks and webhook alerts. A zero
// RejectionRateThreshold disables the rejection alert.
type MonitoringConfig struct {
	WebhookURL             string  `yaml:"webhook_url" mapstructure:"webhook_url" validate:"omitempty,url"`
	FailureRateThreshold   float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold" validate:"gte=0,lte=1"`
	RejectionRateThreshold float64 `yaml:"rejection_rate_threshold" mapstructure:"rejection_rate_threshold" validate:"gte=0,lte=1"`
	StuckAfterMins         int     `yaml:"stuck_after_mins" mapstructure:"stuck_after_mins" validate:"gte=0"`
	LookbackWindowHours    int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours" validate:"gte=0"`
	CheckIntervalSecs      int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs" validate:"gte=0"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format" validate:"oneof=json console"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("ATTRIBUTION")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("mcf.key_file", "keyfile.json")
	v.SetDefault("mcf.base_url", "https://www.googleapis.com/analytics/v3")
	v.SetDefault("mcf.max_results", 10000)
	v.SetDefault("mcf.requests_per_second", 10)
	v.SetDefault("mcf.max_retries", 3)
	v.SetDefault("mcf.timeout_secs", 60)
	v.SetDefault("attribution.first_weight", 0.30)
	v.SetDefault("attribution.middle_weight", 0.30)
	v.SetDefault("attribution.last_weight", 0.40)
	v.SetDefault("attribution.precision", attribution.DefaultPrecision)
	v.SetDefault("batch.max_concurrent", 4)
	v.SetDefault("server.port", 8080)
	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("monitoring.failure_rate_threshold", 0.10)
	v.SetDefault("monitoring.rejection_rate_threshold", 0.05)
	v.SetDefault("monitoring.stuck_after_mins", 60)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.check_interval_secs", 300)
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

// Validate checks field constraints, the attribution weight invariant and
// the settings the given command mode depends on. Modes: "attribute",
// "dry-run", "store", "serve".
func (c *Config) Validate(mode string) error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		return eris.Wrap(err, "config: validate")
	}
	if _, err := c.Attribution.Weights(); err != nil {
		return eris.Wrap(err, "config: attribution weights")
	}

	var missing []string
	needsDB := c.Store.Driver == "postgres" && c.Store.DatabaseURL == ""

	switch mode {
	case "attribute":
		if needsDB {
			missing = append(missing, "store.database_url is required")
		}
		if c.MCF.KeyFile == "" {
			missing = append(missing, "mcf.key_file is required")
		}
	case "dry-run":
		if c.MCF.KeyFile == "" {
			missing = append(missing, "mcf.key_file is required")
		}
	case "store", "serve":
		if needsDB {
			missing = append(missing, "store.database_url is required")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(missing) > 0 {
		return eris.Errorf("config: %s", strings.Join(missing, "; "))
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
