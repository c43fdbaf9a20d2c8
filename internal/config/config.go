package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the application configuration. It is loaded once at startup and
// treated as immutable afterwards; core components receive it by value or
// hold a pointer but never mutate it.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	NATS        NATSConfig        `yaml:"nats"`
	Chains      []ChainConfig     `yaml:"chains"`
	Tokens      []TokenConfig     `yaml:"tokens"`
	Bridge      BridgeConfig      `yaml:"bridge"`
	Relayer     RelayerConfig     `yaml:"relayer"`
	Accumulator AccumulatorConfig `yaml:"accumulator"`
	Prover      ProverConfig      `yaml:"prover"`
	Admin       AdminConfig       `yaml:"admin"`
}

// ServerConfig server listen address
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DatabaseConfig database connection
type DatabaseConfig struct {
	DSN    string `yaml:"dsn"`
	Driver string `yaml:"driver"`
}

// NATSConfig NATS event publishing (optional; events stay in-process when
// URL is empty)
type NATSConfig struct {
	URL           string `yaml:"url"`
	Timeout       int    `yaml:"timeout"`
	ReconnectWait int    `yaml:"reconnect_wait"`
	MaxReconnects int    `yaml:"max_reconnects"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// ChainConfig per-chain parameters. One entry per supported chain id.
type ChainConfig struct {
	ID              string   `yaml:"id"`
	Name            string   `yaml:"name"`
	Type            string   `yaml:"type"` // "evm" or "ledger"
	Symbol          string   `yaml:"symbol"`
	RPCEndpoints    []string `yaml:"rpc_endpoints"`
	CustodyAddress  string   `yaml:"custody_address"`
	VerifierAddress string   `yaml:"verifier_address"`
	Confirmations   uint64   `yaml:"confirmations"`
	BlockTimeMs     int64    `yaml:"block_time_ms"`
	ExplorerURL     string   `yaml:"explorer_url"`
	PrivateKey      string   `yaml:"private_key"` // custody signer; prefer the env override
}

// TokenConfig a bridgeable asset and its per-chain deployments
type TokenConfig struct {
	Symbol    string            `yaml:"symbol"`
	Decimals  int               `yaml:"decimals"`
	Addresses map[string]string `yaml:"addresses"` // chain id -> token address
	MinAmount string            `yaml:"min_amount"`
	MaxAmount string            `yaml:"max_amount"`
}

// BridgeConfig fee and timeout parameters for the orchestrator
type BridgeConfig struct {
	DefaultSourceChain string `yaml:"default_source_chain"`
	DefaultDestChain   string `yaml:"default_dest_chain"`
	BaseFeeBps         int64  `yaml:"base_fee_bps"`    // bridge fee, basis points
	RelayerFeeBps      int64  `yaml:"relayer_fee_bps"` // relayer fee, basis points
	QuoteTTLSeconds    int    `yaml:"quote_ttl_seconds"`
	MinLockSeconds     int64  `yaml:"min_lock_seconds"`
	MaxLockSeconds     int64  `yaml:"max_lock_seconds"`
	ConfirmTimeout     int    `yaml:"confirm_timeout_seconds"`
	RelayTimeout       int    `yaml:"relay_timeout_seconds"`
	ProofTimeout       int    `yaml:"proof_timeout_seconds"`
	TotalTimeout       int    `yaml:"total_timeout_seconds"`
}

// RelayerConfig relayer network endpoint plus the retry policy
type RelayerConfig struct {
	BaseURL        string `yaml:"base_url"`
	APIKey         string `yaml:"api_key"`
	Timeout        int    `yaml:"timeout"`
	Workers        int    `yaml:"workers"`
	MaxRetries     int    `yaml:"max_retries"`
	InitialDelayMs int64  `yaml:"initial_delay_ms"`
	MaxDelayMs     int64  `yaml:"max_delay_ms"`
	Multiplier     int64  `yaml:"multiplier"`
}

// AccumulatorConfig commitment tree parameters
type AccumulatorConfig struct {
	TreeDepth      int `yaml:"tree_depth"`
	MaxRecentRoots int `yaml:"max_recent_roots"`
}

// ProverConfig opaque proving capability endpoint
type ProverConfig struct {
	BaseURL         string `yaml:"base_url"`
	Timeout         int    `yaml:"timeout"`
	VerificationKey string `yaml:"verification_key"`
	StrictMode      bool   `yaml:"strict_mode"`
	PublicInputs    int    `yaml:"public_inputs"` // expected count for the transfer circuit
}

// AdminConfig admin API access control
type AdminConfig struct {
	JWTSecret  string `yaml:"jwt_secret"`
	Password   string `yaml:"password"`
	TOTPSecret string `yaml:"totp_secret"`
	TokenTTL   int    `yaml:"token_ttl_seconds"`
}

// AppConfig is the loaded global configuration.
var AppConfig *Config

// LoadConfig reads the yaml file, applies environment overrides, validates,
// and installs the result as AppConfig.
func LoadConfig(configPath string) error {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	config := defaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	overrideFromEnv(config)

	if err := config.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	AppConfig = config
	return nil
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: 8080},
		Bridge: BridgeConfig{
			BaseFeeBps:      50,
			RelayerFeeBps:   10,
			QuoteTTLSeconds: 300,
			MinLockSeconds:  600,
			MaxLockSeconds:  7 * 24 * 3600,
			ConfirmTimeout:  600,
			RelayTimeout:    1800,
			ProofTimeout:    600,
			TotalTimeout:    3 * 3600,
		},
		Relayer: RelayerConfig{
			Timeout:        30,
			Workers:        4,
			MaxRetries:     3,
			InitialDelayMs: 1000,
			MaxDelayMs:     10000,
			Multiplier:     2,
		},
		Accumulator: AccumulatorConfig{TreeDepth: 20, MaxRecentRoots: 30},
		Prover:      ProverConfig{Timeout: 600, StrictMode: true, PublicInputs: 5},
		Admin:       AdminConfig{TokenTTL: 24 * 3600},
	}
}

// overrideFromEnv applies environment variable overrides. Environment takes
// precedence over the yaml file.
func overrideFromEnv(config *Config) {
	if dsn := os.Getenv("DATABASE_DSN"); dsn != "" {
		config.Database.DSN = dsn
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		config.NATS.URL = natsURL
	}
	if proverURL := os.Getenv("PROVER_BASE_URL"); proverURL != "" {
		config.Prover.BaseURL = proverURL
	}
	if relayerURL := os.Getenv("RELAYER_BASE_URL"); relayerURL != "" {
		config.Relayer.BaseURL = relayerURL
	}
	if apiKey := os.Getenv("RELAYER_API_KEY"); apiKey != "" {
		config.Relayer.APIKey = apiKey
	}
	if secret := os.Getenv("ADMIN_JWT_SECRET"); secret != "" {
		config.Admin.JWTSecret = secret
	}
	if password := os.Getenv("ADMIN_PASSWORD"); password != "" {
		config.Admin.Password = password
	}
	if totp := os.Getenv("ADMIN_TOTP_SECRET"); totp != "" {
		config.Admin.TOTPSecret = totp
	}

	// Per-chain overrides: <CHAINID>_RPC_URL (comma-separated) and
	// <CHAINID>_PRIVATE_KEY.
	for i := range config.Chains {
		envPK := strings.ToUpper(config.Chains[i].ID) + "_PRIVATE_KEY"
		if pk := os.Getenv(envPK); pk != "" {
			config.Chains[i].PrivateKey = pk
		}
		envKey := strings.ToUpper(config.Chains[i].ID) + "_RPC_URL"
		if rpc := os.Getenv(envKey); rpc != "" {
			endpoints := strings.Split(rpc, ",")
			cleaned := make([]string, 0, len(endpoints))
			for _, e := range endpoints {
				if trimmed := strings.TrimSpace(e); trimmed != "" {
					cleaned = append(cleaned, trimmed)
				}
			}
			if len(cleaned) > 0 {
				config.Chains[i].RPCEndpoints = cleaned
			}
		}
	}
}

// Validate checks the invariants the core depends on. Configuration errors
// are fatal at startup and never retried.
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Chains))
	for _, chain := range c.Chains {
		if chain.ID == "" {
			return fmt.Errorf("chain with empty id")
		}
		if seen[chain.ID] {
			return fmt.Errorf("duplicate chain id: %s", chain.ID)
		}
		seen[chain.ID] = true
		if chain.Type != "evm" && chain.Type != "ledger" {
			return fmt.Errorf("chain %s: unknown type %q", chain.ID, chain.Type)
		}
		if chain.Confirmations < 1 {
			return fmt.Errorf("chain %s: confirmations must be >= 1", chain.ID)
		}
		if len(chain.RPCEndpoints) == 0 {
			return fmt.Errorf("chain %s: no RPC endpoints", chain.ID)
		}
	}
	if c.Bridge.BaseFeeBps < 0 || c.Bridge.BaseFeeBps > 10000 {
		return fmt.Errorf("base_fee_bps out of range: %d", c.Bridge.BaseFeeBps)
	}
	if c.Bridge.RelayerFeeBps < 0 || c.Bridge.RelayerFeeBps > 10000 {
		return fmt.Errorf("relayer_fee_bps out of range: %d", c.Bridge.RelayerFeeBps)
	}
	if c.Bridge.MinLockSeconds <= 0 || c.Bridge.MaxLockSeconds < c.Bridge.MinLockSeconds {
		return fmt.Errorf("invalid lock duration bounds: [%d, %d]", c.Bridge.MinLockSeconds, c.Bridge.MaxLockSeconds)
	}
	if c.Accumulator.TreeDepth <= 0 || c.Accumulator.TreeDepth > 32 {
		return fmt.Errorf("tree_depth out of range: %d", c.Accumulator.TreeDepth)
	}
	if c.Accumulator.MaxRecentRoots <= 0 {
		return fmt.Errorf("max_recent_roots must be positive")
	}
	if c.Relayer.Multiplier < 1 {
		return fmt.Errorf("relayer multiplier must be >= 1")
	}
	return nil
}

// QuoteTTL returns the quote validity window.
func (c *Config) QuoteTTL() time.Duration {
	return time.Duration(c.Bridge.QuoteTTLSeconds) * time.Second
}

// GetChain returns the configuration for a chain id.
func (c *Config) GetChain(id string) (*ChainConfig, error) {
	for i := range c.Chains {
		if c.Chains[i].ID == id {
			return &c.Chains[i], nil
		}
	}
	return nil, fmt.Errorf("unsupported chain: %s", id)
}

// GetToken returns the configuration for a token symbol.
func (c *Config) GetToken(symbol string) (*TokenConfig, error) {
	for i := range c.Tokens {
		if strings.EqualFold(c.Tokens[i].Symbol, symbol) {
			return &c.Tokens[i], nil
		}
	}
	return nil, fmt.Errorf("unsupported token: %s", symbol)
}
