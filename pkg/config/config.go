package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config represents the pool engine configuration
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Ethereum   EthereumConfig   `mapstructure:"ethereum"`
	Draw       DrawConfig       `mapstructure:"draw"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Env        string           `mapstructure:"env"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig contains database connection settings
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"ssl_mode"`
}

// EthereumConfig contains Ethereum client settings for the grave pool contract
type EthereumConfig struct {
	RPCURL             string        `mapstructure:"rpc_url"`
	WSUrl              string        `mapstructure:"ws_url"`
	ChainID            int64         `mapstructure:"chain_id"`
	PoolContract       string        `mapstructure:"pool_contract"`
	VRFCoordinator     string        `mapstructure:"vrf_coordinator"`
	AdminPrivateKey    string        `mapstructure:"admin_private_key"`
	ConfirmationBlocks int           `mapstructure:"confirmation_blocks"`
	GasLimit           uint64        `mapstructure:"gas_limit"`
	PollingInterval    time.Duration `mapstructure:"polling_interval"`
	StartBlock         int64         `mapstructure:"start_block"`
	LookbackBlocks     int64         `mapstructure:"lookback_blocks"`
}

// DrawConfig contains draw coordination settings
type DrawConfig struct {
	MinPrizePool   string        `mapstructure:"min_prize_pool"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	ExpiryInterval time.Duration `mapstructure:"expiry_interval"`
}

// AuthConfig holds admin authentication configuration
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	JWTIssuer string `mapstructure:"jwt_issuer"`
}

// MonitoringConfig contains monitoring and metrics settings
type MonitoringConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")
	viper.AutomaticEnv()

	// Set defaults
	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	// Server defaults
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", "15s")
	viper.SetDefault("server.write_timeout", "15s")
	viper.SetDefault("server.idle_timeout", "60s")
	viper.SetDefault("server.shutdown_timeout", "30s")

	// Database defaults
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.database", "gravepool")

	// Ethereum defaults
	viper.SetDefault("ethereum.chain_id", 1)
	viper.SetDefault("ethereum.confirmation_blocks", 12)
	viper.SetDefault("ethereum.gas_limit", 300000)
	viper.SetDefault("ethereum.polling_interval", "15s")
	viper.SetDefault("ethereum.start_block", 0)
	viper.SetDefault("ethereum.lookback_blocks", 1000)

	// Draw defaults
	viper.SetDefault("draw.min_prize_pool", "0")
	viper.SetDefault("draw.request_timeout", "15m")
	viper.SetDefault("draw.expiry_interval", "1m")

	// Monitoring defaults
	viper.SetDefault("monitoring.enabled", true)

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.output_path", "stdout")

	viper.SetDefault("env", "development")
}

func validate(config *Config) error {
	if config.Database.Host == "" {
		return fmt.Errorf("database.host is required")
	}
	if config.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	// Chain settings may legitimately be absent: the engine then runs in
	// ledger-only mode and draw endpoints report not configured.
	if config.Ethereum.RPCURL != "" && config.Ethereum.PoolContract == "" {
		return fmt.Errorf("ethereum.pool_contract is required when ethereum.rpc_url is set")
	}
	return nil
}

// ChainConfigured reports whether the on-chain side is fully set up.
func (c *EthereumConfig) ChainConfigured() bool {
	return c.RPCURL != "" && c.PoolContract != ""
}

// GetConnectionString returns a PostgreSQL connection string
func (c *DatabaseConfig) GetConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}
