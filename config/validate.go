package config

import (
	"fmt"
	"math/big"
	"strings"

	"nhbescrow/crypto"
)

// Validate rejects configurations the daemon cannot start with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.RPCAddress) == "" {
		return fmt.Errorf("RPCAddress must not be empty")
	}
	switch c.DBBackend {
	case "leveldb", "bolt", "memory":
	default:
		return fmt.Errorf("DBBackend: unsupported backend %q", c.DBBackend)
	}
	switch strings.ToLower(strings.TrimSpace(c.Escrow.ReleaseMode)) {
	case "", "auto", "withdraw":
	default:
		return fmt.Errorf("escrow: unsupported ReleaseMode %q", c.Escrow.ReleaseMode)
	}
	if c.Escrow.MinDurationSeconds < 0 || c.Escrow.MaxDurationSeconds < 0 {
		return fmt.Errorf("escrow: durations must be non-negative")
	}
	if c.Escrow.MaxDurationSeconds > 0 && c.Escrow.MinDurationSeconds > c.Escrow.MaxDurationSeconds {
		return fmt.Errorf("escrow: MinDurationSeconds > MaxDurationSeconds")
	}
	if c.Escrow.KeeperBatchSize < 0 {
		return fmt.Errorf("escrow: KeeperBatchSize must be non-negative")
	}
	for _, token := range c.Escrow.Tokens {
		if token == "" || token == "NHB" {
			return fmt.Errorf("escrow: invalid token %q", token)
		}
	}
	if addr := strings.TrimSpace(c.Escrow.VaultAddress); addr != "" {
		if _, err := crypto.ParseAddress(addr); err != nil {
			return fmt.Errorf("escrow: VaultAddress: %w", err)
		}
	}
	if c.Keeper.Enabled && c.Keeper.IntervalSeconds <= 0 {
		return fmt.Errorf("keeper: IntervalSeconds must be positive")
	}
	if addr := strings.TrimSpace(c.Keeper.Address); addr != "" {
		if _, err := crypto.ParseAddress(addr); err != nil {
			return fmt.Errorf("keeper: Address: %w", err)
		}
	}
	if c.Auth.Enabled && c.AuthSecret() == "" {
		return fmt.Errorf("auth: enabled without an HMAC secret")
	}
	if c.RateLimit.RequestsPerSecond < 0 || c.RateLimit.Burst < 0 {
		return fmt.Errorf("ratelimit: values must be non-negative")
	}
	if c.Telemetry.Sampling < 0 || c.Telemetry.Sampling > 1 {
		return fmt.Errorf("telemetry: SamplingRatio must be within [0,1]")
	}
	if c.Faucet.Enabled {
		if _, err := c.FaucetCap(); err != nil {
			return err
		}
	}
	return nil
}

// FaucetCap parses the per-request faucet ceiling.
func (c *Config) FaucetCap() (*big.Int, error) {
	amount, ok := new(big.Int).SetString(strings.TrimSpace(c.Faucet.MaxAmount), 10)
	if !ok || amount.Sign() <= 0 {
		return nil, fmt.Errorf("faucet: invalid MaxAmount %q", c.Faucet.MaxAmount)
	}
	return amount, nil
}
