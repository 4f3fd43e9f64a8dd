// Package config loads engine configuration from file and environment.
package config

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the full engine configuration.
type Config struct {
	// DatabaseDSN is the relational store connection string.
	DatabaseDSN string `mapstructure:"database_dsn"`
	// ListenAddr is the HTTP command surface bind address.
	ListenAddr string `mapstructure:"listen_addr"`
	// WorkerPoolSize bounds each market worker's command queue. Defaults to
	// the number of cores.
	WorkerPoolSize int `mapstructure:"worker_pool_size"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `mapstructure:"log_level"`
	// KafkaBrokers enables event emission when non-empty.
	KafkaBrokers []string `mapstructure:"kafka_brokers"`
	// TreasuryAddresses maps asset to the treasury address fees accrue to.
	TreasuryAddresses map[string]string `mapstructure:"treasury_addresses"`
	// RejectSelfTrade rejects orders that would cross the same user's
	// resting order. Off by default.
	RejectSelfTrade bool `mapstructure:"reject_self_trade"`
}

// Load reads configuration from the optional file at path, then overlays
// ORBIT_-prefixed environment variables. A local .env file is honored.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("worker_pool_size", runtime.NumCPU())
	v.SetDefault("log_level", "info")

	v.SetEnvPrefix("ORBIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Unmarshal only sees keys viper already knows; bind the keys without a
	// default so their ORBIT_ variables are honored too.
	for _, key := range []string{"database_dsn", "kafka_brokers", "reject_self_trade"} {
		_ = v.BindEnv(key)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if cfg.DatabaseDSN == "" {
		return nil, fmt.Errorf("database_dsn is required")
	}
	if cfg.WorkerPoolSize <= 0 {
		cfg.WorkerPoolSize = runtime.NumCPU()
	}
	return &cfg, nil
}
