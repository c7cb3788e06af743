package config

// Escrow captures the engine knobs. Durations are in seconds.
type Escrow struct {
	ReleaseMode        string   `toml:"ReleaseMode"`
	MinDurationSeconds int64    `toml:"MinDurationSeconds"`
	MaxDurationSeconds int64    `toml:"MaxDurationSeconds"`
	KeeperBatchSize    int      `toml:"KeeperBatchSize"`
	VaultAddress       string   `toml:"VaultAddress,omitempty"`
	Tokens             []string `toml:"Tokens"`
}

// Keeper configures the bundled automation keeper loop.
type Keeper struct {
	Enabled         bool    `toml:"Enabled"`
	IntervalSeconds int     `toml:"IntervalSeconds"`
	CallsPerSecond  float64 `toml:"CallsPerSecond"`
	Address         string  `toml:"Address,omitempty"`
}

// Auth configures bearer-token authentication for the RPC server.
type Auth struct {
	Enabled      bool   `toml:"Enabled"`
	HMACSecret   string `toml:"HMACSecret,omitempty"`
	SecretEnv    string `toml:"SecretEnv,omitempty"`
	Issuer       string `toml:"Issuer"`
	TokenTTLSecs int64  `toml:"TokenTTLSeconds"`
}

// RateLimit bounds request throughput per client address.
type RateLimit struct {
	RequestsPerSecond float64 `toml:"RequestsPerSecond"`
	Burst             int     `toml:"Burst"`
}

type Pauses struct {
	Escrow bool `toml:"Escrow"`
	Bank   bool `toml:"Bank"`
}

// IsPaused reports whether the named module is paused.
func (p Pauses) IsPaused(module string) bool {
	switch module {
	case "escrow":
		return p.Escrow
	case "bank":
		return p.Bank
	default:
		return false
	}
}

// Telemetry configures OTLP export.
type Telemetry struct {
	Enabled  bool    `toml:"Enabled"`
	Endpoint string  `toml:"Endpoint"`
	Insecure bool    `toml:"Insecure"`
	Sampling float64 `toml:"SamplingRatio"`
	// Headers is a comma-separated key=value list sent with every export.
	Headers string `toml:"Headers,omitempty"`
}

// Archive configures the SQLite notification archive.
type Archive struct {
	Enabled bool   `toml:"Enabled"`
	Path    string `toml:"Path"`
}

// Faucet exposes bank_mint for local development networks only.
type Faucet struct {
	Enabled   bool   `toml:"Enabled"`
	MaxAmount string `toml:"MaxAmount"`
}
