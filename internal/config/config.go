package config

import (
	"log"
	"strings"

	"github.com/finbridge/venuegate/internal/model"
	"github.com/spf13/viper"
)

type Config struct {
	Server         ServerConfig         `mapstructure:"server"`
	Database       DatabaseConfig       `mapstructure:"database"`
	Redis          RedisConfig          `mapstructure:"redis"`
	Metrics        MetricsConfig        `mapstructure:"metrics"`
	Venues         []model.VenueConfig  `mapstructure:"venues"`
	Pipeline       PipelineConfig       `mapstructure:"pipeline"`
	Reconciliation ReconciliationConfig `mapstructure:"reconciliation"`
	Health         HealthConfig         `mapstructure:"health"`
	Risk           RiskConfig           `mapstructure:"risk"`
	Compliance     ComplianceConfig     `mapstructure:"compliance"`
	LogLevel       string               `mapstructure:"log_level"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
}

type DatabaseConfig struct {
	DSN                string `mapstructure:"dsn"`
	AuditRetentionDays int    `mapstructure:"audit_retention_days"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type PipelineConfig struct {
	IdempotencyWindowSeconds int `mapstructure:"idempotency_window_seconds"`
	CallTimeoutSeconds       int `mapstructure:"call_timeout_seconds"`
	Workers                  int `mapstructure:"workers"`
}

type ReconciliationConfig struct {
	BalanceInterval string   `mapstructure:"balance_interval"` // cron spec, e.g. "@every 10m"
	SweepInterval   string   `mapstructure:"sweep_interval"`   // cron spec, e.g. "@every 15s"
	TrackedAssets   []string `mapstructure:"tracked_assets"`
	EpsilonAbs      string   `mapstructure:"epsilon_abs"` // absolute tolerance floor
	EpsilonBps      int64    `mapstructure:"epsilon_bps"` // relative tolerance in basis points
}

type HealthConfig struct {
	Interval           string `mapstructure:"interval"` // cron spec
	ProbeAsset         string `mapstructure:"probe_asset"`
	ProbeTimeoutMs     int    `mapstructure:"probe_timeout_ms"`
	DegradedLatencyMs  int    `mapstructure:"degraded_latency_ms"`
	AlertAfterFailures int    `mapstructure:"alert_after_failures"`
}

type RiskConfig struct {
	MaxOrderValue  float64 `mapstructure:"max_order_value"`  // quote units, 0 disables
	MaxDailyOrders int     `mapstructure:"max_daily_orders"` // per broker, 0 disables
}

type ComplianceConfig struct {
	Dir string `mapstructure:"dir"`
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./configs")

	// Environment variables support
	// e.g. VENUEGATE_DATABASE_DSN
	viper.SetEnvPrefix("venuegate")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("server.port", "8080")
	viper.SetDefault("log_level", "info")
	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.path", "/metrics")
	viper.SetDefault("database.audit_retention_days", 30)
	viper.SetDefault("pipeline.idempotency_window_seconds", 30)
	viper.SetDefault("pipeline.call_timeout_seconds", 12)
	viper.SetDefault("pipeline.workers", 8)
	viper.SetDefault("reconciliation.balance_interval", "@every 10m")
	viper.SetDefault("reconciliation.sweep_interval", "@every 15s")
	viper.SetDefault("reconciliation.tracked_assets", []string{"BTC", "ETH", "USDT"})
	viper.SetDefault("reconciliation.epsilon_abs", "0.01")
	viper.SetDefault("reconciliation.epsilon_bps", 1)
	viper.SetDefault("health.interval", "@every 30s")
	viper.SetDefault("health.probe_asset", "USDT")
	viper.SetDefault("health.probe_timeout_ms", 3000)
	viper.SetDefault("health.degraded_latency_ms", 1500)
	viper.SetDefault("health.alert_after_failures", 3)
	viper.SetDefault("compliance.dir", "./compliance")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Println("No config file found, using defaults and env vars")
		} else {
			return nil, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
