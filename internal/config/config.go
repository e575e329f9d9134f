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
	Store       StoreConfig       `yaml:"store" mapstructure:"store"`
	Resilience  ResilienceConfig  `yaml:"resilience" mapstructure:"resilience"`
	Pipeline    PipelineConfig    `yaml:"pipeline" mapstructure:"pipeline"`
	Linker      LinkerConfig      `yaml:"linker" mapstructure:"linker"`
	Consolidate ConsolidateConfig `yaml:"consolidate" mapstructure:"consolidate"`
	Risk        RiskConfig        `yaml:"risk" mapstructure:"risk"`
	Log         LogConfig         `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the identity graph backend.
type StoreConfig struct {
	Driver         string `yaml:"driver" mapstructure:"driver"` // sqlite | postgres | redis
	DatabaseURL    string `yaml:"database_url" mapstructure:"database_url"`
	RedisURL       string `yaml:"redis_url" mapstructure:"redis_url"`
	RedisPrefix    string `yaml:"redis_prefix" mapstructure:"redis_prefix"`
	MaxConns       int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns       int32  `yaml:"min_conns" mapstructure:"min_conns"`
	MaxCASAttempts int    `yaml:"max_cas_attempts" mapstructure:"max_cas_attempts"`
}

// ResilienceConfig configures retries and the circuit breaker around the store.
type ResilienceConfig struct {
	MaxAttempts        int `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs   int `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs       int `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	FailureThreshold   int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs   int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
	OperationTimeoutMs int `yaml:"operation_timeout_ms" mapstructure:"operation_timeout_ms"`
}

// PipelineConfig configures message ingestion and evaluation fan-out.
type PipelineConfig struct {
	AutoMerge             bool    `yaml:"auto_merge" mapstructure:"auto_merge"`
	MaxConcurrentMessages int     `yaml:"max_concurrent_messages" mapstructure:"max_concurrent_messages"`
	MaxConcurrentDeals    int     `yaml:"max_concurrent_deals" mapstructure:"max_concurrent_deals"`
	MaxMessagesPerSec     float64 `yaml:"max_messages_per_sec" mapstructure:"max_messages_per_sec"`
	RecordSubjects        bool    `yaml:"record_subjects" mapstructure:"record_subjects"`
	// AlertWebhookURL, when set, receives each alert as a JSON POST.
	AlertWebhookURL string `yaml:"alert_webhook_url" mapstructure:"alert_webhook_url"`
}

// LinkerConfig configures schedule matching.
type LinkerConfig struct {
	MaxEditDistance      int     `yaml:"max_edit_distance" mapstructure:"max_edit_distance"`
	ChangeThresholdHours float64 `yaml:"change_threshold_hours" mapstructure:"change_threshold_hours"`
}

// ConsolidateConfig configures multi-source field consolidation.
type ConsolidateConfig struct {
	ToleranceHours float64        `yaml:"tolerance_hours" mapstructure:"tolerance_hours"`
	PrioritiesFile string         `yaml:"priorities_file" mapstructure:"priorities_file"`
	Priorities     map[string]int `yaml:"priorities" mapstructure:"priorities"`
}

// RiskConfig holds dwell, congestion and alert thresholds.
type RiskConfig struct {
	DwellNoticeDays     float64 `yaml:"dwell_notice_days" mapstructure:"dwell_notice_days"`
	DwellWarningDays    float64 `yaml:"dwell_warning_days" mapstructure:"dwell_warning_days"`
	DwellCriticalDays   float64 `yaml:"dwell_critical_days" mapstructure:"dwell_critical_days"`
	AirNoticeHours      float64 `yaml:"air_notice_hours" mapstructure:"air_notice_hours"`
	AirWarningHours     float64 `yaml:"air_warning_hours" mapstructure:"air_warning_hours"`
	AirCriticalHours    float64 `yaml:"air_critical_hours" mapstructure:"air_critical_hours"`
	CongestionBusy      int     `yaml:"congestion_busy" mapstructure:"congestion_busy"`
	CongestionCongested int     `yaml:"congestion_congested" mapstructure:"congestion_congested"`
	DOGraceHours        float64 `yaml:"do_grace_hours" mapstructure:"do_grace_hours"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("DEALTRACK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "dealtrack.db")
	v.SetDefault("store.redis_prefix", "dealtrack")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("store.max_cas_attempts", 8)
	v.SetDefault("resilience.max_attempts", 3)
	v.SetDefault("resilience.initial_backoff_ms", 50)
	v.SetDefault("resilience.max_backoff_ms", 2000)
	v.SetDefault("resilience.failure_threshold", 5)
	v.SetDefault("resilience.reset_timeout_secs", 30)
	v.SetDefault("resilience.operation_timeout_ms", 5000)
	v.SetDefault("pipeline.auto_merge", true)
	v.SetDefault("pipeline.max_concurrent_messages", 8)
	v.SetDefault("pipeline.max_concurrent_deals", 16)
	v.SetDefault("pipeline.max_messages_per_sec", 0)
	v.SetDefault("pipeline.record_subjects", true)
	v.SetDefault("linker.max_edit_distance", 2)
	v.SetDefault("linker.change_threshold_hours", 6)
	v.SetDefault("consolidate.tolerance_hours", 6)
	v.SetDefault("risk.dwell_notice_days", 2)
	v.SetDefault("risk.dwell_warning_days", 3)
	v.SetDefault("risk.dwell_critical_days", 4)
	v.SetDefault("risk.air_notice_hours", 24)
	v.SetDefault("risk.air_warning_hours", 36)
	v.SetDefault("risk.air_critical_hours", 48)
	v.SetDefault("risk.congestion_busy", 10)
	v.SetDefault("risk.congestion_congested", 20)
	v.SetDefault("risk.do_grace_hours", 0)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints that defaults cannot guarantee.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "sqlite", "postgres":
		if c.Store.DatabaseURL == "" {
			return eris.Errorf("config: store.database_url is required for driver %s", c.Store.Driver)
		}
	case "redis":
		if c.Store.RedisURL == "" {
			return eris.New("config: store.redis_url is required for driver redis")
		}
	default:
		return eris.Errorf("config: unknown store.driver %q", c.Store.Driver)
	}

	if c.Linker.MaxEditDistance < 0 {
		return eris.New("config: linker.max_edit_distance must be >= 0")
	}

	r := c.Risk
	if !(r.DwellNoticeDays < r.DwellWarningDays && r.DwellWarningDays < r.DwellCriticalDays) {
		return eris.New("config: dwell thresholds must be strictly increasing")
	}
	if !(r.AirNoticeHours < r.AirWarningHours && r.AirWarningHours < r.AirCriticalHours) {
		return eris.New("config: air dwell thresholds must be strictly increasing")
	}
	if r.CongestionBusy > r.CongestionCongested {
		return eris.New("config: risk.congestion_busy must not exceed risk.congestion_congested")
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
