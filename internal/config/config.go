package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides, e.g. DIALER_POSTGRES_HOST.
const EnvPrefix = "DIALER"

// Config captures the full configuration surface for the application.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Postgres  PostgresConfig  `mapstructure:"postgres"`
	Scylla    ScyllaConfig    `mapstructure:"scylla"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Dialer    DialerConfig    `mapstructure:"dialer"`
	Recycling RecyclingConfig `mapstructure:"recycling"`
	Bridge    BridgeConfig    `mapstructure:"bridge"`
	Events    EventsConfig    `mapstructure:"events"`
}

type AppConfig struct {
	Name    string `mapstructure:"name" validate:"required"`
	Env     string `mapstructure:"env" validate:"required,oneof=development staging production test"`
	Version string `mapstructure:"version"`
}

type HTTPConfig struct {
	Port         int           `mapstructure:"port" validate:"gt=0,lte=65535"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

type PostgresConfig struct {
	Host            string        `mapstructure:"host" validate:"required"`
	Port            int           `mapstructure:"port" validate:"gt=0"`
	User            string        `mapstructure:"user" validate:"required"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database" validate:"required"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	HealthQuery     string        `mapstructure:"health_query"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

type ScyllaConfig struct {
	Hosts             []string      `mapstructure:"hosts" validate:"required,min=1"`
	Port              int           `mapstructure:"port"`
	Keyspace          string        `mapstructure:"keyspace" validate:"required"`
	Consistency       string        `mapstructure:"consistency"`
	Timeout           time.Duration `mapstructure:"timeout"`
	DisableInitSchema bool          `mapstructure:"disable_init_schema"`
}

type KafkaConfig struct {
	Brokers           []string      `mapstructure:"brokers" validate:"required,min=1"`
	ClientID          string        `mapstructure:"client_id"`
	DialTopic         string        `mapstructure:"dial_topic" validate:"required"`
	EventTopic        string        `mapstructure:"event_topic" validate:"required"`
	ConsumerGroupID   string        `mapstructure:"consumer_group_id" validate:"required"`
	CommitInterval    time.Duration `mapstructure:"commit_interval"`
	Partitions        int           `mapstructure:"partitions"`
	ReplicationFactor int           `mapstructure:"replication_factor"`
}

type RedisConfig struct {
	Address      string        `mapstructure:"address" validate:"required"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	MaxRetries   int           `mapstructure:"max_retries"`
}

type TelemetryConfig struct {
	Endpoint        string        `mapstructure:"endpoint"`
	ServiceName     string        `mapstructure:"service_name"`
	SampleRatio     float64       `mapstructure:"sample_ratio" validate:"gte=0,lte=1"`
	TracingEnabled  bool          `mapstructure:"tracing_enabled"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// SchedulerConfig drives the per-campaign cycle loops.
type SchedulerConfig struct {
	CycleInterval      time.Duration `mapstructure:"cycle_interval" validate:"gt=0"`
	ReconcileInterval  time.Duration `mapstructure:"reconcile_interval" validate:"gt=0"`
	WorkerCount        int           `mapstructure:"worker_count" validate:"gt=0"`
	CampaignFetchLimit int           `mapstructure:"campaign_fetch_limit" validate:"gt=0"`
	LockTTL            time.Duration `mapstructure:"lock_ttl" validate:"gt=0"`
	LockKeyPrefix      string        `mapstructure:"lock_key_prefix"`
	MetricsAddr        string        `mapstructure:"metrics_addr"`
}

// DialerConfig tunes pacing and selection.
type DialerConfig struct {
	DefaultRatio     float64       `mapstructure:"default_ratio" validate:"gte=0"`
	DefaultRegion    string        `mapstructure:"default_region" validate:"omitempty,len=2"`
	SelectorPageSize int           `mapstructure:"selector_page_size" validate:"gt=0"`
	DialTimeout      time.Duration `mapstructure:"dial_timeout"`
}

// RecyclingConfig drives the recycling pass.
type RecyclingConfig struct {
	Interval  time.Duration `mapstructure:"interval" validate:"gt=0"`
	BatchSize int           `mapstructure:"batch_size" validate:"gt=0"`
}

// BridgeConfig configures the telephony bridge worker and its simulator.
type BridgeConfig struct {
	ProviderName   string        `mapstructure:"provider_name" validate:"omitempty,oneof=mock"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	DialRate       float64       `mapstructure:"dial_rate" validate:"gte=0"`
	DialBurst      int           `mapstructure:"dial_burst" validate:"gte=0"`
	Concurrency    int           `mapstructure:"concurrency" validate:"gte=0"`
	AnswerRate     float64       `mapstructure:"answer_rate" validate:"gte=0,lte=1"`
	FailureRate    float64       `mapstructure:"failure_rate" validate:"gte=0,lte=1"`
	MaxRingTime    time.Duration `mapstructure:"max_ring_time"`
	MaxTalkTime    time.Duration `mapstructure:"max_talk_time"`
}

// EventsConfig tunes the lifecycle event consumer. Events can arrive before the attempt
// records its external call id, so unresolved events are retried with backoff.
type EventsConfig struct {
	MaxRetries int           `mapstructure:"max_retries" validate:"gte=0"`
	RetryBase  time.Duration `mapstructure:"retry_base"`
	RetryMax   time.Duration `mapstructure:"retry_max"`
}

// Load reads configuration from an optional .env file, the config file, and environment variables.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: failed to read .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(NewEnvReplacer())

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: failed to read config file: %w", err)
	}

	cfg := new(Config)
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks struct tag constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config: invalid configuration: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.env", "development")
	v.SetDefault("http.port", 8080)
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.ssl_mode", "disable")
	v.SetDefault("scylla.port", 9042)
	v.SetDefault("scylla.consistency", "quorum")
	v.SetDefault("kafka.partitions", 3)
	v.SetDefault("kafka.replication_factor", 1)
	v.SetDefault("kafka.commit_interval", time.Second)
	v.SetDefault("scheduler.cycle_interval", 15*time.Second)
	v.SetDefault("scheduler.reconcile_interval", 30*time.Second)
	v.SetDefault("scheduler.worker_count", 8)
	v.SetDefault("scheduler.campaign_fetch_limit", 500)
	v.SetDefault("scheduler.lock_ttl", 2*time.Minute)
	v.SetDefault("scheduler.lock_key_prefix", "dialer:cycle")
	v.SetDefault("dialer.default_ratio", 1.0)
	v.SetDefault("dialer.default_region", "US")
	v.SetDefault("dialer.selector_page_size", 100)
	v.SetDefault("dialer.dial_timeout", 5*time.Second)
	v.SetDefault("recycling.interval", 5*time.Minute)
	v.SetDefault("recycling.batch_size", 200)
	v.SetDefault("bridge.provider_name", "mock")
	v.SetDefault("bridge.dial_rate", 20.0)
	v.SetDefault("bridge.dial_burst", 5)
	v.SetDefault("bridge.concurrency", 16)
	v.SetDefault("bridge.answer_rate", 0.6)
	v.SetDefault("bridge.request_timeout", 2*time.Minute)
	v.SetDefault("events.max_retries", 5)
	v.SetDefault("events.retry_base", 200*time.Millisecond)
	v.SetDefault("events.retry_max", 5*time.Second)
}

// NewEnvReplacer standardizes environment variable names.
func NewEnvReplacer() *strings.Replacer {
	return strings.NewReplacer(".", "_", "-", "_")
}
