package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// Config contains all configuration parameters for wallet-core.
type Config struct {
	SolanaRPCURL       string `envconfig:"SOLANA_RPC_URL" default:"https://api.mainnet-beta.solana.com"`
	DataDir            string `envconfig:"WALLET_DATA_DIR" default:".wallet-core"`
	SendMaxAttempts    int    `envconfig:"SEND_MAX_ATTEMPTS" default:"5"`
	SendBackoffMillis  int    `envconfig:"SEND_BACKOFF_MS" default:"500"`
	ConfirmTimeoutSecs int    `envconfig:"CONFIRM_TIMEOUT_SECONDS" default:"30"`
	LogLevel           string `envconfig:"LOG_LEVEL" default:"info"`
}

// Load reads configuration from environment variables. The returned instance
// is passed explicitly to call sites; there is no package-level singleton.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}
	return cfg, nil
}
