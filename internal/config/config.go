package config

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Chains    []ChainConfig   `mapstructure:"chains"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Protocol  ProtocolConfig  `mapstructure:"protocol"`
	Processor ProcessorConfig `mapstructure:"processor"`
	Realtime  RealtimeConfig  `mapstructure:"realtime"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

type ServerConfig struct {
	Port       int           `mapstructure:"port"`
	RunIndexer bool          `mapstructure:"run_indexer"`
	SQLTimeout time.Duration `mapstructure:"sql_timeout"`
	SQLMaxRows int           `mapstructure:"sql_max_rows"`
}

type ChainConfig struct {
	Name              string        `mapstructure:"name"`
	ChainID           int64         `mapstructure:"chain_id"`
	RPCEndpoint       string        `mapstructure:"rpc_endpoint"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	StartBlock        uint64        `mapstructure:"start_block"`
	MaxBlockRange     uint64        `mapstructure:"max_block_range"`
	Contracts         []string      `mapstructure:"contracts"`
}

type DatabaseConfig struct {
	URL            string `mapstructure:"url"`
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Name           string `mapstructure:"name"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	SSLMode        string `mapstructure:"ssl_mode"`
	MaxConnections int32  `mapstructure:"max_connections"`
}

// ProtocolConfig holds the launchpad constants applied by the event handlers.
// Supply and cap values are base-unit integers written as decimal strings.
type ProtocolConfig struct {
	FeeBasisPoints   int64  `mapstructure:"fee_basis_points"`
	TokenTotalSupply string `mapstructure:"token_total_supply"`
	MarketCapLimit   string `mapstructure:"market_cap_limit"`
}

type ProcessorConfig struct {
	BlockTimeout     time.Duration `mapstructure:"block_timeout"`
	TimestampWorkers int64         `mapstructure:"timestamp_workers"`
	LagCheckInterval time.Duration `mapstructure:"lag_check_interval"`
	MaxStallDuration time.Duration `mapstructure:"max_stall_duration"`
}

type RealtimeConfig struct {
	APIURL string `mapstructure:"api_url"`
	APIKey string `mapstructure:"api_key"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetEnvPrefix("INDEXER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	config.applyEnvOverrides()
	config.applyChainDefaults()

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.run_indexer", true)
	v.SetDefault("server.sql_timeout", "10s")
	v.SetDefault("server.sql_max_rows", 1000)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_connections", 10)
	v.SetDefault("protocol.fee_basis_points", 100)
	v.SetDefault("protocol.token_total_supply", DefaultTokenTotalSupply)
	v.SetDefault("protocol.market_cap_limit", DefaultMarketCapLimit)
	v.SetDefault("processor.block_timeout", "30s")
	v.SetDefault("processor.timestamp_workers", 4)
	v.SetDefault("processor.lag_check_interval", "30s")
	v.SetDefault("processor.max_stall_duration", "5m")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

const (
	// 1,000,000,000 tokens with 18 decimals.
	DefaultTokenTotalSupply = "1000000000000000000000000000"
	// 25 ETH in wei.
	DefaultMarketCapLimit = "25000000000000000000"

	DefaultPollInterval      = 5 * time.Second
	DefaultRequestsPerSecond = 10
	DefaultMaxBlockRange     = 500
)

func (c *Config) applyChainDefaults() {
	for i := range c.Chains {
		ch := &c.Chains[i]
		if ch.PollInterval <= 0 {
			ch.PollInterval = DefaultPollInterval
		}
		if ch.RequestsPerSecond <= 0 {
			ch.RequestsPerSecond = DefaultRequestsPerSecond
		}
		if ch.MaxBlockRange == 0 {
			ch.MaxBlockRange = DefaultMaxBlockRange
		}
		for j, addr := range ch.Contracts {
			ch.Contracts[j] = strings.ToLower(strings.TrimSpace(addr))
		}
	}
}

// applyEnvOverrides lets deployments inject secrets without touching the file:
// <CHAIN>_RPC_URL per chain and DATABASE_URL for the store.
func (c *Config) applyEnvOverrides() {
	for i := range c.Chains {
		if url := os.Getenv(c.Chains[i].RPCEnvVar()); url != "" {
			c.Chains[i].RPCEndpoint = url
		}
	}
	if c.Database.URL == "" {
		if url := os.Getenv("DATABASE_URL"); url != "" {
			c.Database.URL = url
		}
	}
}

// RPCEnvVar returns the environment variable consulted for this chain's RPC URL.
func (c ChainConfig) RPCEnvVar() string {
	var b strings.Builder
	for _, r := range strings.ToUpper(c.Name) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	b.WriteString("_RPC_URL")
	return b.String()
}

func (c *Config) Validate() error {
	if len(c.Chains) == 0 {
		return errors.New("config: at least one chain is required")
	}
	seen := make(map[int64]struct{}, len(c.Chains))
	for _, ch := range c.Chains {
		if ch.Name == "" {
			return fmt.Errorf("config: chain %d has no name", ch.ChainID)
		}
		if ch.ChainID <= 0 {
			return fmt.Errorf("config: chain %s has invalid chain_id %d", ch.Name, ch.ChainID)
		}
		if _, dup := seen[ch.ChainID]; dup {
			return fmt.Errorf("config: chain_id %d configured twice", ch.ChainID)
		}
		seen[ch.ChainID] = struct{}{}
		if ch.RPCEndpoint == "" {
			return fmt.Errorf("config: chain %s has no rpc_endpoint (set %s)", ch.Name, ch.RPCEnvVar())
		}
		if len(ch.Contracts) == 0 {
			return fmt.Errorf("config: chain %s has no contracts", ch.Name)
		}
	}
	if c.Protocol.FeeBasisPoints < 0 || c.Protocol.FeeBasisPoints > 10000 {
		return fmt.Errorf("config: fee_basis_points %d out of range [0, 10000]", c.Protocol.FeeBasisPoints)
	}
	if _, err := c.Protocol.TotalSupply(); err != nil {
		return err
	}
	if _, err := c.Protocol.MarketCap(); err != nil {
		return err
	}
	return nil
}

func (p ProtocolConfig) TotalSupply() (*big.Int, error) {
	return parseBaseUnits("token_total_supply", p.TokenTotalSupply)
}

func (p ProtocolConfig) MarketCap() (*big.Int, error) {
	return parseBaseUnits("market_cap_limit", p.MarketCapLimit)
}

func parseBaseUnits(field, value string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(strings.TrimSpace(value), 10)
	if !ok || n.Sign() < 0 {
		return nil, fmt.Errorf("config: %s must be a non-negative integer, got %q", field, value)
	}
	return n, nil
}

func (c *DatabaseConfig) ConnectionString() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}
