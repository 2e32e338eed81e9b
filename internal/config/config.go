package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

type Config struct {
	HTTPAddr         string          `envconfig:"HTTP_ADDR" default:":8081"`
	Store            string          `envconfig:"STORE" default:"postgres"`
	PostgresDSN      string          `envconfig:"POSTGRES_DSN"`
	PostgresMaxConns int32           `envconfig:"POSTGRES_MAX_CONNS" default:"8"`
	LockTimeout      time.Duration   `envconfig:"LOCK_TIMEOUT" default:"2s"`
	RedisAddr        string          `envconfig:"REDIS_ADDR"`
	KafkaBrokers     []string        `envconfig:"KAFKA_BROKERS"`
	ServiceName      string          `envconfig:"SERVICE_NAME" default:"groupbuy-api"`
	LogLevel         string          `envconfig:"LOG_LEVEL" default:"info"`
	SweepInterval    time.Duration   `envconfig:"SWEEP_INTERVAL" default:"1m"`
	RelayInterval    time.Duration   `envconfig:"RELAY_INTERVAL" default:"2s"`
	RelayBatch       int             `envconfig:"RELAY_BATCH" default:"100"`
	CommissionRate   decimal.Decimal `envconfig:"COMMISSION_RATE" default:"0.10"`
	NotifierGroup    string          `envconfig:"NOTIFIER_GROUP" default:"groupbuy-notifier"`
	NotifierWorkers  int             `envconfig:"NOTIFIER_WORKERS" default:"4"`
	NotifyWebhookURL string          `envconfig:"NOTIFY_WEBHOOK_URL"`
}

func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Store {
	case StoreMemory:
	case StorePostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("config: POSTGRES_DSN is required when STORE=%s", StorePostgres)
		}
		if c.PostgresMaxConns <= 0 {
			return fmt.Errorf("config: POSTGRES_MAX_CONNS must be positive")
		}
	default:
		return fmt.Errorf("config: unknown STORE %q (want %s or %s)", c.Store, StorePostgres, StoreMemory)
	}
	if c.LockTimeout <= 0 || c.SweepInterval <= 0 || c.RelayInterval <= 0 {
		return fmt.Errorf("config: LOCK_TIMEOUT, SWEEP_INTERVAL and RELAY_INTERVAL must be positive")
	}
	if c.RelayBatch <= 0 {
		return fmt.Errorf("config: RELAY_BATCH must be positive")
	}
	if c.CommissionRate.IsNegative() || c.CommissionRate.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("config: COMMISSION_RATE must be within [0,1], got %s", c.CommissionRate)
	}
	return nil
}
