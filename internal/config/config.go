package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/caspy-social/caspy-backend/internal/domain"
)

// BaseConfig holds base configuration shared by every binary
type BaseConfig struct {
	Debug     bool   `mapstructure:"debug"`
	SentryDSN string `mapstructure:"sentry_dsn"`
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
}

// DSN returns the database connection string
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

// NATSConfig holds NATS JetStream configuration
type NATSConfig struct {
	URL            string        `mapstructure:"url"`
	StreamName     string        `mapstructure:"stream_name"`
	ConsumerName   string        `mapstructure:"consumer_name"`
	MaxReconnects  int           `mapstructure:"max_reconnects"`
	ReconnectWait  time.Duration `mapstructure:"reconnect_wait"`
	ConnectionName string        `mapstructure:"connection_name"`
}

// StreamingConfig holds CSPR.cloud streaming API configuration
type StreamingConfig struct {
	URL       string `mapstructure:"url"`        // e.g. wss://streaming.cspr.cloud
	AccessKey string `mapstructure:"access_key"` // bearer token for the handshake
}

// CloudConfig holds CSPR.cloud REST API configuration
type CloudConfig struct {
	APIURL    string        `mapstructure:"api_url"`    // e.g. https://api.cspr.cloud
	AccessKey string        `mapstructure:"access_key"` // bearer token
	Timeout   time.Duration `mapstructure:"timeout"`
}

// RPCConfig holds Casper node JSON-RPC configuration
type RPCConfig struct {
	URL     string        `mapstructure:"url"` // e.g. https://node.mainnet.casper.network/rpc
	Timeout time.Duration `mapstructure:"timeout"`
}

// CTOConfig holds Community TakeOver payment configuration
type CTOConfig struct {
	ReceiverWallet      string         `mapstructure:"receiver_wallet"`       // receiver public key
	ReceiverAccountHash string         `mapstructure:"receiver_account_hash"` // receiver account hash seen on the stream
	PriceMotes          uint64         `mapstructure:"price_motes"`
	InactivityDays      int            `mapstructure:"inactivity_days"`
	Network             domain.Network `mapstructure:"network"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"read_timeout"`  // in seconds
	WriteTimeout int    `mapstructure:"write_timeout"` // in seconds
	IdleTimeout  int    `mapstructure:"idle_timeout"`  // in seconds
}

// AuthConfig holds authentication configuration for admin endpoints
type AuthConfig struct {
	JWTPublicKey string   `mapstructure:"jwt_public_key"`
	APIKeys      []string `mapstructure:"api_keys"`
}

// WorkerConfig holds worker pool configuration
type WorkerConfig struct {
	PoolSize  int `mapstructure:"pool_size"`
	QueueSize int `mapstructure:"queue_size"`
}

// MonitoredToken describes a token whose contract events feed the trade feed
type MonitoredToken struct {
	Symbol              string `mapstructure:"symbol"`
	ContractPackageHash string `mapstructure:"contract_package_hash"`
	Decimals            int    `mapstructure:"decimals"`
}

// TradesConfig holds trade feed configuration
type TradesConfig struct {
	Tokens         []MonitoredToken `mapstructure:"tokens"`
	RouterContract string           `mapstructure:"router_contract"`
	PairContracts  []string         `mapstructure:"pair_contracts"`
	RingSize       int              `mapstructure:"ring_size"`
}

// RewardPoolConfig holds story reward distribution configuration
type RewardPoolConfig struct {
	PoolMotes    uint64 `mapstructure:"pool_motes"`
	Schedule     string `mapstructure:"schedule"` // HH:MM, UTC
	RunOnStartup bool   `mapstructure:"run_on_startup"`
}

// APIConfig holds configuration for the api server
type APIConfig struct {
	BaseConfig `mapstructure:",squash"`
	Server     ServerConfig   `mapstructure:"server"`
	Database   DatabaseConfig `mapstructure:"database"`
	NATS       NATSConfig     `mapstructure:"nats"`
	RPC        RPCConfig      `mapstructure:"rpc"`
	Cloud      CloudConfig    `mapstructure:"cloud"`
	CTO        CTOConfig      `mapstructure:"cto"`
	Auth       AuthConfig     `mapstructure:"auth"`
	Trades     TradesConfig   `mapstructure:"trades"`
	// Rewards backs the manual distribution endpoint; the scheduled runs
	// live in the rewards binary
	Rewards RewardPoolConfig `mapstructure:"rewards"`
}

// PaymentListenerConfig holds configuration for the payment-listener
type PaymentListenerConfig struct {
	BaseConfig `mapstructure:",squash"`
	Database   DatabaseConfig  `mapstructure:"database"`
	NATS       NATSConfig      `mapstructure:"nats"`
	Streaming  StreamingConfig `mapstructure:"streaming"`
	RPC        RPCConfig       `mapstructure:"rpc"`
	CTO        CTOConfig       `mapstructure:"cto"`
	Worker     WorkerConfig    `mapstructure:"worker"`
}

// EventListenerConfig holds configuration for the contract event-listener
type EventListenerConfig struct {
	BaseConfig `mapstructure:",squash"`
	NATS       NATSConfig      `mapstructure:"nats"`
	Streaming  StreamingConfig `mapstructure:"streaming"`
	Trades     TradesConfig    `mapstructure:"trades"`
	Worker     WorkerConfig    `mapstructure:"worker"`
}

// RewardsConfig holds configuration for the rewards distributor
type RewardsConfig struct {
	BaseConfig `mapstructure:",squash"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Rewards    RewardPoolConfig `mapstructure:"rewards"`
}

// LoadAPIConfig loads configuration for the api server
func LoadAPIConfig(configFile string, envPath string) (*APIConfig, error) {
	v := configureViper("api", configFile, envPath)

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15)
	v.SetDefault("server.write_timeout", 30)
	v.SetDefault("server.idle_timeout", 60)
	setDatabaseDefaults(v)
	setNATSDefaults(v)
	setCTODefaults(v)
	v.SetDefault("rpc.timeout", "20s")
	v.SetDefault("cloud.api_url", "https://api.cspr.cloud")
	v.SetDefault("cloud.timeout", "20s")
	v.SetDefault("trades.ring_size", 100)
	v.SetDefault("rewards.pool_motes", 100*1_000_000_000)

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var config APIConfig
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

// LoadPaymentListenerConfig loads configuration for the payment-listener
func LoadPaymentListenerConfig(configFile string, envPath string) (*PaymentListenerConfig, error) {
	v := configureViper("payment-listener", configFile, envPath)

	setDatabaseDefaults(v)
	setNATSDefaults(v)
	setCTODefaults(v)
	v.SetDefault("rpc.timeout", "20s")
	v.SetDefault("worker.pool_size", 10)
	v.SetDefault("worker.queue_size", 1024)

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var config PaymentListenerConfig
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

// LoadEventListenerConfig loads configuration for the contract event-listener
func LoadEventListenerConfig(configFile string, envPath string) (*EventListenerConfig, error) {
	v := configureViper("event-listener", configFile, envPath)

	setNATSDefaults(v)
	v.SetDefault("trades.ring_size", 100)
	v.SetDefault("worker.pool_size", 10)
	v.SetDefault("worker.queue_size", 1024)

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var config EventListenerConfig
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

// LoadRewardsConfig loads configuration for the rewards distributor
func LoadRewardsConfig(configFile string, envPath string) (*RewardsConfig, error) {
	v := configureViper("rewards", configFile, envPath)

	setDatabaseDefaults(v)
	v.SetDefault("rewards.schedule", "00:00")
	v.SetDefault("rewards.pool_motes", 100*1_000_000_000)

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var config RewardsConfig
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

func setDatabaseDefaults(v *viper.Viper) {
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")
}

func setNATSDefaults(v *viper.Viper) {
	v.SetDefault("nats.max_reconnects", 10)
	v.SetDefault("nats.reconnect_wait", "2s")
	v.SetDefault("nats.stream_name", "CHAIN_ACTIVITY")
}

func setCTODefaults(v *viper.Viper) {
	v.SetDefault("cto.price_motes", 1000*1_000_000_000)
	v.SetDefault("cto.inactivity_days", 90)
	v.SetDefault("cto.network", "mainnet")
}

// readConfig reads the config file, tolerating its absence (env-only setups)
func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("failed to read config: %w", err)
		}
	}
	return nil
}

func configureViper(service string, configFile string, envPath string) *viper.Viper {
	v := viper.New()

	// Load environment variables
	loadEnv(envPath, service)

	// Set config file
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(fmt.Sprintf("cmd/%s/", service))
		v.AddConfigPath("config/")
	}

	v.SetEnvPrefix("CASPY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	bindAllEnvVars(v)
	return v
}

// bindAllEnvVars explicitly binds all possible environment variables.
// Required for viper to map env vars to config struct fields when no config
// file exists.
func bindAllEnvVars(v *viper.Viper) {
	keys := []string{
		"debug",
		"sentry_dsn",
		// Database
		"database.host",
		"database.port",
		"database.user",
		"database.password",
		"database.dbname",
		"database.sslmode",
		"database.max_open_conns",
		"database.max_idle_conns",
		"database.conn_max_lifetime",
		"database.conn_max_idle_time",
		// NATS
		"nats.url",
		"nats.stream_name",
		"nats.consumer_name",
		"nats.max_reconnects",
		"nats.reconnect_wait",
		"nats.connection_name",
		// Streaming
		"streaming.url",
		"streaming.access_key",
		// RPC
		"rpc.url",
		"rpc.timeout",
		// CTO
		"cto.receiver_wallet",
		"cto.receiver_account_hash",
		"cto.price_motes",
		"cto.inactivity_days",
		"cto.network",
		// Server
		"server.host",
		"server.port",
		"server.read_timeout",
		"server.write_timeout",
		"server.idle_timeout",
		// Auth
		"auth.jwt_public_key",
		"auth.api_keys",
		// Trades
		"trades.router_contract",
		"trades.pair_contracts",
		"trades.ring_size",
		// Worker
		"worker.pool_size",
		"worker.queue_size",
		// Rewards
		"rewards.pool_motes",
		"rewards.schedule",
		"rewards.run_on_startup",
	}

	for _, key := range keys {
		_ = v.BindEnv(key)
	}
}

// loadEnv loads environment variables from the config directory
func loadEnv(envPath string, service string) {
	envFiles := []string{".env", ".env.local"}
	if service != "" {
		envFiles = append(envFiles, ".env."+service+".local")
	}

	if envPath == "" {
		envPath = "config/"
	}

	for _, envFile := range envFiles {
		candidate := filepath.Join(envPath, envFile)
		_ = godotenv.Overload(candidate) // Overload lets later files override earlier ones
	}
}

// ChdirRepoRoot changes the current working directory to the repository root
func ChdirRepoRoot() {
	cwd, _ := os.Getwd()
	for range 5 {
		if _, err := os.Stat(filepath.Join(cwd, "config")); err == nil {
			_ = os.Chdir(cwd)
			return
		}
		cwd = filepath.Dir(cwd)
	}
}
