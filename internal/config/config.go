// Package config загружает настройки сервиса из окружения (и необязательного .env).
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"go.uber.org/multierr"
)

// EnvPrefix — общий префикс переменных окружения.
const EnvPrefix = "SHOP"

const (
	EnvStorageDriver = "SHOP_STORAGE_DRIVER"
	EnvPostgresDSN   = "SHOP_POSTGRES_DSN"
	EnvRedisAddr     = "SHOP_REDIS_ADDR"
	EnvKafkaBrokers  = "SHOP_KAFKA_BROKERS"
	EnvLogLevel      = "SHOP_LOG_LEVEL"
	EnvLogFormat     = "SHOP_LOG_FORMAT"
	EnvSeedCatalog   = "SHOP_SEED_CATALOG"
)

const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
)

type Config struct {
	Log         LogConfig
	HTTP        HTTPConfig
	Ops         OpsConfig
	Storage     StorageConfig
	Redis       RedisConfig
	Kafka       KafkaConfig
	Lock        LockConfig
	Client      ClientConfig
	Payment     PaymentConfig
	Compensator CompensatorConfig
	Lifecycle   LifecycleConfig
	Outbox      OutboxConfig
}

// Load читает .env (если есть) и переменные окружения, затем проверяет значения.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}
	return FromEnv()
}

// FromEnv читает только переменные окружения.
func FromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	cfg.Storage.Driver = strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type LogConfig struct {
	Level  string `envconfig:"SHOP_LOG_LEVEL" default:"info"`
	Format string `envconfig:"SHOP_LOG_FORMAT" default:"text"`
}

type HTTPConfig struct {
	Addr              string        `envconfig:"SHOP_HTTP_ADDR" default:":8080"`
	ReadHeaderTimeout time.Duration `envconfig:"SHOP_HTTP_READ_HEADER_TIMEOUT" default:"5s"`
	WriteTimeout      time.Duration `envconfig:"SHOP_HTTP_WRITE_TIMEOUT" default:"90s"`
	ShutdownTimeout   time.Duration `envconfig:"SHOP_HTTP_SHUTDOWN_TIMEOUT" default:"10s"`
}

// OpsConfig задаёт служебные порты: метрики и health по HTTP, health по gRPC.
type OpsConfig struct {
	MetricsAddr string `envconfig:"SHOP_METRICS_ADDR" default:":9090"`
	GRPCAddr    string `envconfig:"SHOP_GRPC_ADDR" default:":50051"`
}

type StorageConfig struct {
	Driver          string        `envconfig:"SHOP_STORAGE_DRIVER" default:"memory"`
	DSN             string        `envconfig:"SHOP_POSTGRES_DSN"`
	AutoMigrate     bool          `envconfig:"SHOP_AUTO_MIGRATE" default:"true"`
	MaxOpenConns    int           `envconfig:"SHOP_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"SHOP_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"SHOP_DB_CONN_MAX_LIFETIME" default:"1h"`
	// SeedCatalog — JSON-массив вариантов для memory-хранилища.
	SeedCatalog string `envconfig:"SHOP_SEED_CATALOG"`
}

// RedisConfig. Пустой Addr отключает Redis: кеш резервов и блокировки работают в процессе.
type RedisConfig struct {
	Addr      string        `envconfig:"SHOP_REDIS_ADDR"`
	Password  string        `envconfig:"SHOP_REDIS_PASSWORD"`
	DB        int           `envconfig:"SHOP_REDIS_DB" default:"0"`
	StatusTTL time.Duration `envconfig:"SHOP_ORDER_STATUS_TTL" default:"5m"`
}

func (r RedisConfig) Enabled() bool { return strings.TrimSpace(r.Addr) != "" }

// KafkaConfig. Пустой список брокеров отключает публикацию outbox и consumer оплаты.
type KafkaConfig struct {
	Brokers       []string      `envconfig:"SHOP_KAFKA_BROKERS"`
	Topic         string        `envconfig:"SHOP_KAFKA_TOPIC" default:"shop.order.events"`
	DLQTopic      string        `envconfig:"SHOP_KAFKA_DLQ_TOPIC" default:"shop.dlq"`
	ConsumerGroup string        `envconfig:"SHOP_KAFKA_CONSUMER_GROUP" default:"shopsaga-payments"`
	MaxRetries    int           `envconfig:"SHOP_KAFKA_MAX_RETRIES" default:"3"`
	RetryDelay    time.Duration `envconfig:"SHOP_KAFKA_RETRY_DELAY" default:"200ms"`
}

func (k KafkaConfig) Enabled() bool {
	for _, b := range k.Brokers {
		if strings.TrimSpace(b) != "" {
			return true
		}
	}
	return false
}

type LockConfig struct {
	Wait time.Duration `envconfig:"SHOP_LOCK_WAIT" default:"60s"`
	Hold time.Duration `envconfig:"SHOP_LOCK_HOLD" default:"30s"`
}

// ClientConfig настраивает retry и circuit breaker межсервисных клиентов.
type ClientConfig struct {
	MaxAttempts      int           `envconfig:"SHOP_CLIENT_MAX_ATTEMPTS" default:"3"`
	InitialDelay     time.Duration `envconfig:"SHOP_CLIENT_INITIAL_DELAY" default:"100ms"`
	MaxDelay         time.Duration `envconfig:"SHOP_CLIENT_MAX_DELAY" default:"5s"`
	BackoffFactor    float64       `envconfig:"SHOP_CLIENT_BACKOFF_FACTOR" default:"2"`
	AttemptTimeout   time.Duration `envconfig:"SHOP_CLIENT_ATTEMPT_TIMEOUT" default:"3s"`
	FailureThreshold int           `envconfig:"SHOP_BREAKER_FAILURE_THRESHOLD" default:"5"`
	OpenTimeout      time.Duration `envconfig:"SHOP_BREAKER_OPEN_TIMEOUT" default:"10s"`
	HalfOpenMaxCalls int           `envconfig:"SHOP_BREAKER_HALF_OPEN_MAX_CALLS" default:"1"`
}

// PaymentConfig хранит вероятности сбоев симулятора оплаты.
type PaymentConfig struct {
	DropOffRate float64 `envconfig:"SHOP_PAYMENT_DROP_OFF_RATE" default:"0.2"`
	FailRate    float64 `envconfig:"SHOP_PAYMENT_FAIL_RATE" default:"0.2"`
}

type CompensatorConfig struct {
	Interval  time.Duration `envconfig:"SHOP_COMPENSATOR_INTERVAL" default:"5m"`
	Threshold time.Duration `envconfig:"SHOP_COMPENSATOR_THRESHOLD" default:"5m"`
	BatchSize int           `envconfig:"SHOP_COMPENSATOR_BATCH_SIZE" default:"100"`
}

type LifecycleConfig struct {
	Interval           time.Duration `envconfig:"SHOP_LIFECYCLE_INTERVAL" default:"50m"`
	BatchSize          int           `envconfig:"SHOP_LIFECYCLE_BATCH_SIZE" default:"100"`
	ShipAfter          time.Duration `envconfig:"SHOP_LIFECYCLE_SHIP_AFTER" default:"24h"`
	DeliverAfter       time.Duration `envconfig:"SHOP_LIFECYCLE_DELIVER_AFTER" default:"48h"`
	ReturnWindow       time.Duration `envconfig:"SHOP_LIFECYCLE_RETURN_WINDOW" default:"24h"`
	ReturnProcessAfter time.Duration `envconfig:"SHOP_LIFECYCLE_RETURN_PROCESS_AFTER" default:"24h"`
}

type OutboxConfig struct {
	PollInterval   time.Duration `envconfig:"SHOP_OUTBOX_POLL_INTERVAL" default:"1s"`
	BatchSize      int           `envconfig:"SHOP_OUTBOX_BATCH_SIZE" default:"100"`
	MaxAttempts    int           `envconfig:"SHOP_OUTBOX_MAX_ATTEMPTS" default:"3"`
	RetryBaseDelay time.Duration `envconfig:"SHOP_OUTBOX_RETRY_BASE_DELAY" default:"50ms"`
}

// Validate отклоняет значения, с которыми сервис не может работать.
func (c *Config) Validate() error {
	var errs error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = multierr.Append(errs, fmt.Errorf(format, args...))
		}
	}

	switch c.Storage.Driver {
	case StorageMemory:
	case StoragePostgres:
		check(c.Storage.DSN != "", "%s is required for postgres storage", EnvPostgresDSN)
	default:
		errs = multierr.Append(errs, fmt.Errorf("unknown storage driver %q", c.Storage.Driver))
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		errs = multierr.Append(errs, fmt.Errorf("unknown log format %q", c.Log.Format))
	}

	check(c.HTTP.Addr != "", "http address is required")
	check(c.Lock.Wait > 0 && c.Lock.Hold > 0, "lock wait and hold must be positive")
	check(c.Client.MaxAttempts > 0, "client max attempts must be positive")
	check(c.Client.BackoffFactor >= 1, "client backoff factor must be >= 1")
	check(c.Client.FailureThreshold > 0, "breaker failure threshold must be positive")
	check(c.Client.HalfOpenMaxCalls > 0, "breaker half-open calls must be positive")
	check(validRate(c.Payment.DropOffRate) && validRate(c.Payment.FailRate), "payment rates must be within [0, 1]")
	check(c.Compensator.Interval > 0 && c.Compensator.Threshold > 0, "compensator interval and threshold must be positive")
	check(c.Compensator.BatchSize > 0, "compensator batch size must be positive")
	check(c.Lifecycle.Interval > 0, "lifecycle interval must be positive")
	check(c.Lifecycle.BatchSize > 0, "lifecycle batch size must be positive")
	check(c.Lifecycle.ShipAfter > 0 && c.Lifecycle.DeliverAfter > 0 &&
		c.Lifecycle.ReturnWindow > 0 && c.Lifecycle.ReturnProcessAfter > 0, "lifecycle thresholds must be positive")
	check(c.Outbox.BatchSize > 0 && c.Outbox.MaxAttempts > 0, "outbox batch size and attempts must be positive")

	if errs != nil {
		return fmt.Errorf("invalid config: %w", errs)
	}
	return nil
}

func validRate(r float64) bool { return r >= 0 && r <= 1 }
