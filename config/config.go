package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

type Config struct {
	RPCAddress  string `toml:"RPCAddress"`
	DataDir     string `toml:"DataDir"`
	DBBackend   string `toml:"DBBackend"`
	NetworkName string `toml:"NetworkName"`
	Environment string `toml:"Environment"`
	LogFile     string `toml:"LogFile,omitempty"`

	Escrow    Escrow    `toml:"Escrow"`
	Keeper    Keeper    `toml:"Keeper"`
	Auth      Auth      `toml:"Auth"`
	RateLimit RateLimit `toml:"RateLimit"`
	Pauses    Pauses    `toml:"Pauses"`
	Telemetry Telemetry `toml:"Telemetry"`
	Archive   Archive   `toml:"Archive"`
	Faucet    Faucet    `toml:"Faucet"`
}

// Load loads the configuration from the given path, writing a default file
// first when none exists.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	cfg := Default()
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config file %s: unknown key %s", path, undecoded[0].String())
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

// Default returns the configuration written for a fresh data directory.
func Default() *Config {
	return &Config{
		RPCAddress:  "127.0.0.1:8090",
		DataDir:     "./escrow-data",
		DBBackend:   "leveldb",
		NetworkName: "nhb-local",
		Environment: "dev",
		Escrow: Escrow{
			ReleaseMode:        "auto",
			MinDurationSeconds: 300,
			MaxDurationSeconds: 30 * 24 * 60 * 60,
			KeeperBatchSize:    25,
			Tokens:             []string{"ZNHB", "USDC"},
		},
		Keeper: Keeper{
			Enabled:         true,
			IntervalSeconds: 30,
			CallsPerSecond:  1,
		},
		Auth: Auth{
			Issuer:       "nhb-escrow",
			SecretEnv:    "ESCROW_JWT_SECRET",
			TokenTTLSecs: 3600,
		},
		RateLimit: RateLimit{
			RequestsPerSecond: 20,
			Burst:             40,
		},
		Telemetry: Telemetry{
			Endpoint: "localhost:4318",
			Insecure: true,
			Sampling: 1,
		},
		Archive: Archive{
			Enabled: true,
			Path:    "archive.db",
		},
		Faucet: Faucet{
			MaxAmount: "1000000",
		},
	}
}

func (c *Config) normalize() {
	c.DBBackend = strings.ToLower(strings.TrimSpace(c.DBBackend))
	if c.DBBackend == "" {
		c.DBBackend = "leveldb"
	}
	if strings.TrimSpace(c.NetworkName) == "" {
		c.NetworkName = "nhb-local"
	}
	if strings.TrimSpace(c.Environment) == "" {
		c.Environment = "dev"
	}
	if c.Escrow.Tokens == nil {
		c.Escrow.Tokens = []string{}
	}
	for i, token := range c.Escrow.Tokens {
		c.Escrow.Tokens[i] = strings.ToUpper(strings.TrimSpace(token))
	}
}

// ArchivePath resolves the archive database location relative to DataDir.
func (c *Config) ArchivePath() string {
	if filepath.IsAbs(c.Archive.Path) {
		return c.Archive.Path
	}
	return filepath.Join(c.DataDir, c.Archive.Path)
}

// AuthSecret returns the HMAC secret, preferring the configured environment
// variable over the inline value.
func (c *Config) AuthSecret() string {
	if env := strings.TrimSpace(c.Auth.SecretEnv); env != "" {
		if v := strings.TrimSpace(os.Getenv(env)); v != "" {
			return v
		}
	}
	return strings.TrimSpace(c.Auth.HMACSecret)
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := Default()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
