package config

import (
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Reputation ReputationConfig `yaml:"reputation"`
	Vouching   VouchingConfig   `yaml:"vouching"`
	Discovery  DiscoveryConfig  `yaml:"discovery"`
	X402       X402Config       `yaml:"x402"`
}

type ServerConfig struct {
	Port string `yaml:"port"`
	Env  string `yaml:"env"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"` // "sqlite" or "postgres"
	DSN    string `yaml:"dsn"`
}

type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

type ReputationConfig struct {
	// RemoteURL points at an external reputation registry. Empty disables it.
	RemoteURL     string        `yaml:"remote_url"`
	RemoteTimeout time.Duration `yaml:"remote_timeout"`

	// BreakerTimeout is how long a failing registry is skipped before it is tried again.
	BreakerTimeout time.Duration `yaml:"breaker_timeout"`

	// ZeroDisputeMinReviews is the review floor for the zero-disputes-streak badge.
	ZeroDisputeMinReviews int `yaml:"zero_dispute_min_reviews"`
}

type VouchingConfig struct {
	DomainName    string `yaml:"domain_name"`
	DomainVersion string `yaml:"domain_version"`
	ChainID       int64  `yaml:"chain_id"`
}

type DiscoveryConfig struct {
	Concurrency int `yaml:"concurrency"`
	// DefaultLimit applies to queries without a limit; zero returns up to 100.
	DefaultLimit int `yaml:"default_limit"`
}

type X402Config struct {
	Network string `yaml:"network"`
	Asset   string `yaml:"asset"` // USDC token contract on Network
}

// Default returns the configuration used when no file is supplied.
func Default() *Config {
	return &Config{
		Server:   ServerConfig{Port: "8080", Env: "development"},
		Database: DatabaseConfig{Driver: "sqlite", DSN: "maldo.db"},
		Redis:    RedisConfig{CacheTTL: 30 * time.Second},
		Reputation: ReputationConfig{
			RemoteTimeout:         3 * time.Second,
			BreakerTimeout:        30 * time.Second,
			ZeroDisputeMinReviews: 20,
		},
		Vouching: VouchingConfig{
			DomainName:    "Maldo Vouch",
			DomainVersion: "1",
			ChainID:       84532, // Base Sepolia
		},
		Discovery: DiscoveryConfig{Concurrency: 8},
		X402: X402Config{
			Network: "base-sepolia",
			Asset:   "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
		},
	}
}

// LoadConfig reads a YAML file on top of Default().
func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	cfg := Default()
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ApplyEnv overrides file values with environment variables when set.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("PORT"); v != "" {
		c.Server.Port = v
	}
	if v := os.Getenv("APP_ENV"); v != "" {
		c.Server.Env = v
	}
	if v := os.Getenv("DATABASE_DRIVER"); v != "" {
		c.Database.Driver = v
	}
	if v := os.Getenv("DATABASE_DSN"); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("REPUTATION_REMOTE_URL"); v != "" {
		c.Reputation.RemoteURL = v
	}
	if v := os.Getenv("X402_NETWORK"); v != "" {
		c.X402.Network = v
	}
	if v := os.Getenv("VOUCH_CHAIN_ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.Vouching.ChainID = id
		}
	}
}
