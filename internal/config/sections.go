package config

import (
	"errors"
	"fmt"
	"time"
)

type PostgresConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max-open-conns"`
	MaxIdleConns    int           `mapstructure:"max-idle-conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn-max-lifetime"`
	MigrationsDir   string        `mapstructure:"migrations-dir"`
	AutoMigrate     bool          `mapstructure:"auto-migrate"`
}

func (cfg *PostgresConfig) Validate() error {
	if !cfg.Enabled {
		return nil
	}
	if cfg.DSN == "" {
		return errors.New("dsn is required")
	}
	if cfg.MaxOpenConns <= 0 {
		return errors.New("max-open-conns must be positive")
	}
	if cfg.MaxIdleConns < 0 || cfg.MaxIdleConns > cfg.MaxOpenConns {
		return errors.New("max-idle-conns must be between 0 and max-open-conns")
	}
	if cfg.AutoMigrate && cfg.MigrationsDir == "" {
		return errors.New("migrations-dir is required with auto-migrate")
	}
	return nil
}

type NATSConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
	// SharePrices publishes keeper price samples to the price stream
	// instead of recording them locally.
	SharePrices bool `mapstructure:"share-prices"`
}

func (cfg *NATSConfig) Validate() error {
	if cfg.Enabled && cfg.URL == "" {
		return errors.New("url is required")
	}
	if cfg.SharePrices && !cfg.Enabled {
		return errors.New("share-prices requires nats to be enabled")
	}
	return nil
}

type ServerConfig struct {
	GRPCAddr    string `mapstructure:"grpc-addr"`
	HTTPAddr    string `mapstructure:"http-addr"`
	MetricsAddr string `mapstructure:"metrics-addr"`
}

func (cfg *ServerConfig) Validate() error {
	if cfg.GRPCAddr == "" {
		return errors.New("grpc-addr is required")
	}
	if cfg.HTTPAddr == "" {
		return errors.New("http-addr is required")
	}
	if cfg.GRPCAddr == cfg.HTTPAddr || (cfg.MetricsAddr != "" && (cfg.MetricsAddr == cfg.GRPCAddr || cfg.MetricsAddr == cfg.HTTPAddr)) {
		return errors.New("listen addresses must differ")
	}
	return nil
}

type EngineConfig struct {
	// Address is the engine's own account
	Address string `mapstructure:"address"`
	// Admin owns the protocol on first start
	Admin               string        `mapstructure:"admin"`
	PersistChanSize     int           `mapstructure:"persist-chan-size"`
	ProjectionChanSize  int           `mapstructure:"projection-chan-size"`
	PublishChanSize     int           `mapstructure:"publish-chan-size"`
	RunnerQueueSize     int           `mapstructure:"runner-queue-size"`
	PersistBatchSize    int           `mapstructure:"persist-batch-size"`
	PersistFlushTimeout time.Duration `mapstructure:"persist-flush-timeout"`
	IdempotencyCapacity int           `mapstructure:"idempotency-capacity"`
	// WarmIdempotency is how many recent request ids are loaded into the
	// dedup cache on start
	WarmIdempotency int `mapstructure:"warm-idempotency"`
}

func (cfg *EngineConfig) Validate() error {
	if cfg.Address == "" {
		return errors.New("address is required")
	}
	if cfg.Admin == "" {
		return errors.New("admin is required")
	}
	if cfg.Admin == cfg.Address {
		return errors.New("admin must differ from the engine address")
	}
	for name, n := range map[string]int{
		"persist-chan-size":    cfg.PersistChanSize,
		"projection-chan-size": cfg.ProjectionChanSize,
		"publish-chan-size":    cfg.PublishChanSize,
		"runner-queue-size":    cfg.RunnerQueueSize,
		"persist-batch-size":   cfg.PersistBatchSize,
		"idempotency-capacity": cfg.IdempotencyCapacity,
	} {
		if n <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	if cfg.PersistFlushTimeout <= 0 {
		return errors.New("persist-flush-timeout must be positive")
	}
	if cfg.WarmIdempotency < 0 {
		return errors.New("warm-idempotency must not be negative")
	}
	return nil
}

// KeeperConfig schedules the keeper jobs. Specs take six fields (with
// seconds) or a descriptor such as "@every 1m"; an empty spec disables the job.
type KeeperConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Address      string        `mapstructure:"address"`
	FundingSpec  string        `mapstructure:"funding-spec"`
	GCSpec       string        `mapstructure:"gc-spec"`
	GCLimit      uint32        `mapstructure:"gc-limit"`
	PriceSpec    string        `mapstructure:"price-spec"`
	SnapshotSpec string        `mapstructure:"snapshot-spec"`
	JobTimeout   time.Duration `mapstructure:"job-timeout"`
}

func (cfg *KeeperConfig) Validate() error {
	if !cfg.Enabled {
		return nil
	}
	if cfg.Address == "" {
		return errors.New("address is required")
	}
	if cfg.GCLimit > 1000 {
		return errors.New("gc-limit must not exceed 1000")
	}
	if cfg.JobTimeout <= 0 {
		return errors.New("job-timeout must be positive")
	}
	return nil
}
