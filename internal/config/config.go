package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

//go:embed defaults.yaml
var defaults []byte

// ---- Root ----

type Config struct {
	HTTP       HTTPConfig      `mapstructure:"http"`
	Log        LogConfig       `mapstructure:"log"`
	App        AppConfig       `mapstructure:"app"`
	MySQL      DatabaseConfig  `mapstructure:"mysql"`
	ClickHouse DatabaseConfig  `mapstructure:"clickhouse"`
	Redis      RedisConfig     `mapstructure:"redis"`
	Kafka      KafkaConfig     `mapstructure:"kafka"`
	Provider   ProviderConfig  `mapstructure:"provider"`
	Policy     PolicyConfig    `mapstructure:"policy"`
	Outbox     OutboxConfig    `mapstructure:"outbox"`
	Digest     DigestConfig    `mapstructure:"digest"`
	Cron       CronConfig      `mapstructure:"cron"`
	RateLimit  RateLimitConfig `mapstructure:"rate_limit"`
}

// ---- Leaf structs ----

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type AppConfig struct {
	// BaseURL is the public site root used to resolve relative content URLs
	// and to build unsubscribe links.
	BaseURL string `mapstructure:"base_url"`
	// InternalKey guards the intake and trigger endpoints (X-API-Key).
	InternalKey string `mapstructure:"internal_key"`
	// TokenSecret signs contact-level unsubscribe tokens.
	TokenSecret string `mapstructure:"token_secret"`
}

type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idletime"`
	PingTimeout     time.Duration `mapstructure:"ping_timeout"`
}

type RedisConfig struct {
	Addr        string        `mapstructure:"addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

type KafkaConfig struct {
	Brokers        []string `mapstructure:"brokers"`
	Topic          string   `mapstructure:"topic"`
	GroupID        string   `mapstructure:"group_id"`
	MinBytes       int      `mapstructure:"min_bytes"`
	MaxBytes       int      `mapstructure:"max_bytes"`
	CommitInterval int      `mapstructure:"commit_interval_ms"`
	WorkerCount    int      `mapstructure:"worker_count"`
}

type BreakerConfig struct {
	FailThreshold int `mapstructure:"fail_threshold" yaml:"fail_threshold"`
	OpenForMs     int `mapstructure:"open_for_ms"    yaml:"open_for_ms"`
}

type ProviderConfig struct {
	Name      string        `mapstructure:"name"`
	BaseURL   string        `mapstructure:"base_url"`
	APIKey    string        `mapstructure:"api_key"`
	From      string        `mapstructure:"from"`
	TimeoutMs int           `mapstructure:"timeout_ms"`
	Breaker   BreakerConfig `mapstructure:"breaker"`
}

// Validate rejects a provider block that would make every send fail at
// runtime. Commands that send email check this at startup instead of
// letting attempts burn against innocent contacts.
func (c ProviderConfig) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("provider.api_key is required")
	}
	if c.From == "" {
		return fmt.Errorf("provider.from is required")
	}
	return nil
}

type PolicyConfig struct {
	ImmediateThrottle time.Duration `mapstructure:"immediate_throttle"`
	DailyCap          int           `mapstructure:"daily_cap"`
	ImmediateDelay    time.Duration `mapstructure:"immediate_delay"`
	DigestDelay       time.Duration `mapstructure:"digest_delay"`
}

type OutboxConfig struct {
	BatchSize    int           `mapstructure:"batch_size"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	ClaimLease   time.Duration `mapstructure:"claim_lease"`
}

type DigestConfig struct {
	LimitEntities      int    `mapstructure:"limit_entities"`
	MaxEventsPerDigest int    `mapstructure:"max_events_per_digest"`
	RunnerToken        string `mapstructure:"runner_token"`
}

type CronConfig struct {
	OutboxSpec string `mapstructure:"outbox_spec"`
	DigestSpec string `mapstructure:"digest_spec"`
}

type RateLimitConfig struct {
	RPS int `mapstructure:"rps"`
}

// Load reads embedded defaults, merges user YAML (if provided), and applies env overrides (NOTIFY_*).
func Load(path string) (Config, error) {
	v := viper.New()

	// embedded defaults
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return Config{}, err
	}

	if path != "" {
		v.SetConfigFile(path)
		_ = v.MergeInConfig()
	}

	// env override (NOTIFY_*)
	v.SetEnvPrefix("NOTIFY")
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
