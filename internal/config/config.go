package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Redis    RedisConfig    `mapstructure:"redis"`
	RabbitMQ RabbitMQConfig `mapstructure:"rabbitmq"`
	Feed     FeedConfig     `mapstructure:"feed"`
	Wallet   WalletConfig   `mapstructure:"wallet"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type RedisConfig struct {
	URL          string        `mapstructure:"url"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// PendingTTL expires stored pending payloads only; a transaction is
	// reported as new at most once regardless
	PendingTTL   time.Duration `mapstructure:"pending_ttl"`
}

type RabbitMQConfig struct {
	URL      string `mapstructure:"url"`
	Exchange string `mapstructure:"exchange"`
}

// FeedConfig configures the network notification feed
type FeedConfig struct {
	WSURL               string        `mapstructure:"ws_url"`
	ReconnectInterval   time.Duration `mapstructure:"reconnect_interval"`
	MaxConcurrentTxs    int           `mapstructure:"max_concurrent_txs"`
	HealthCheckInterval time.Duration `mapstructure:"health_check_interval"`
}

// WalletConfig selects the chain and the wallet that is current at startup
type WalletConfig struct {
	Network   string   `mapstructure:"network"`
	ID        string   `mapstructure:"id"`
	Addresses []string `mapstructure:"addresses"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./config")
	viper.AddConfigPath(".")

	// Environment variable overrides
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set defaults
	setDefaults()

	// Override with environment variables
	overrideWithEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate rejects settings the service cannot run with
func (c *Config) Validate() error {
	switch c.Wallet.Network {
	case "mainnet", "testnet3", "regtest", "signet", "simnet":
	default:
		return fmt.Errorf("unsupported wallet network: %q", c.Wallet.Network)
	}
	if c.Feed.MaxConcurrentTxs <= 0 {
		return fmt.Errorf("feed.max_concurrent_txs must be positive, got %d", c.Feed.MaxConcurrentTxs)
	}
	if c.Feed.ReconnectInterval <= 0 {
		return fmt.Errorf("feed.reconnect_interval must be positive, got %s", c.Feed.ReconnectInterval)
	}
	return nil
}

func setDefaults() {
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "30s")

	viper.SetDefault("redis.url", "redis://localhost:6379")
	viper.SetDefault("redis.pool_size", 100)
	viper.SetDefault("redis.min_idle_conns", 10)
	viper.SetDefault("redis.pending_ttl", "0s")

	viper.SetDefault("rabbitmq.url", "")
	viper.SetDefault("rabbitmq.exchange", "wallet.events")

	viper.SetDefault("feed.ws_url", "ws://localhost:8334/notifications")
	viper.SetDefault("feed.reconnect_interval", "5s")
	viper.SetDefault("feed.max_concurrent_txs", 16)
	viper.SetDefault("feed.health_check_interval", "30s")

	viper.SetDefault("wallet.network", "mainnet")
	viper.SetDefault("wallet.id", "")
	viper.SetDefault("wallet.addresses", []string{})

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
}

func overrideWithEnv() {
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		viper.Set("redis.url", redisURL)
	}
	if rabbitURL := os.Getenv("RABBITMQ_URL"); rabbitURL != "" {
		viper.Set("rabbitmq.url", rabbitURL)
	}
	if wsURL := os.Getenv("FEED_WS_URL"); wsURL != "" {
		viper.Set("feed.ws_url", wsURL)
	}
	if walletID := os.Getenv("WALLET_ID"); walletID != "" {
		viper.Set("wallet.id", walletID)
	}
	if network := os.Getenv("WALLET_NETWORK"); network != "" {
		viper.Set("wallet.network", network)
	}
	if addresses := os.Getenv("WALLET_ADDRESSES"); addresses != "" {
		viper.Set("wallet.addresses", strings.Split(addresses, ","))
	}
	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		viper.Set("logging.level", logLevel)
	}
}
