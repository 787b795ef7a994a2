// Package config loads the agent's configuration from environment variables
// following the getEnv*/Validate idiom used throughout this codebase.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"os"
)

// PaymentMode gates whether protected skills require an x402 payment claim.
type PaymentMode string

const (
	PaymentDisabled PaymentMode = "disabled"
	PaymentTestnet  PaymentMode = "testnet"
	PaymentMainnet  PaymentMode = "mainnet"
)

// TEEMode selects which backend the TEE provider abstraction delegates to.
type TEEMode string

const (
	TEEDisabled TEEMode = "disabled"
	TEELocal    TEEMode = "local"
	TEENitro    TEEMode = "nitro"
	TEEAuto     TEEMode = "auto"
)

// Config holds all configuration for the proof-generation agent.
type Config struct {
	// Network
	ListenAddr  string
	PublicURL   string
	ChainRPCURL string
	ChainID     int64

	// Key-value store
	KVStoreURL string

	// Payment
	PaymentMode      PaymentMode
	FacilitatorURL   string
	PaymentPayTo     string
	ProofPriceUSD    string
	SettlementNetwork string
	OperatorAddress  string
	OperatorPrivKey  string
	USDCAddress      string
	SettlementPollInterval time.Duration

	// TEE / enclave
	TEEMode        TEEMode
	EnclaveCID     uint32
	EnclavePort    uint32
	AttestationMaxAge time.Duration

	// Prover
	ProverPrivateKey string
	ProverBinDir     string
	AttestationURL   string

	// Contracts
	NullifierRegistryAddress string
	IdentityRegistryAddress  string
	ReputationRegistryAddress string
	VerifierContractAddress   string

	// Service identity
	AgentVersion string
	SigningTTL   time.Duration

	// Worker pool
	WorkerCount    int
	WorkerPollTick time.Duration

	// Rate limiting
	RateLimitMaxRequests int
	RateLimitWindow      time.Duration

	// Cache
	ProofCacheTTL time.Duration

	// Optional Postgres audit trail
	DatabaseURL          string
	DatabaseMaxConns     int
	DatabaseMinConns     int
	DatabaseMaxIdleTime  int64 // seconds
	DatabaseMaxLifetime  int64 // seconds

	// HTTP security
	CORSOrigins []string

	// Metrics
	MetricsAddr string
}

// Load reads configuration from environment variables. Required variables
// have no defaults; Validate must be called before the service starts.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:  getEnv("LISTEN_ADDR", "0.0.0.0:4002"),
		PublicURL:   getEnv("PUBLIC_BASE_URL", ""),
		ChainRPCURL: getEnv("CHAIN_RPC_URL", ""),
		ChainID:     getEnvInt64("CHAIN_ID", 84532),

		KVStoreURL: getEnv("KV_STORE_URL", ""),

		PaymentMode:       PaymentMode(getEnv("PAYMENT_MODE", "disabled")),
		FacilitatorURL:    getEnv("FACILITATOR_URL", ""),
		PaymentPayTo:      getEnv("PAYMENT_PAY_TO", ""),
		ProofPriceUSD:     getEnv("PROOF_PRICE_USD", "$0.10"),
		SettlementNetwork: getEnv("SETTLEMENT_NETWORK", "eip155:84532"),
		OperatorAddress:   getEnv("SETTLEMENT_OPERATOR_ADDRESS", ""),
		OperatorPrivKey:   getEnv("SETTLEMENT_OPERATOR_PRIVATE_KEY", ""),
		USDCAddress:       getEnv("SETTLEMENT_USDC_ADDRESS", ""),
		SettlementPollInterval: getEnvDuration("SETTLEMENT_POLL_INTERVAL", 30*time.Second),

		TEEMode:           TEEMode(getEnv("TEE_MODE", "disabled")),
		EnclaveCID:        uint32(getEnvInt("ENCLAVE_CID", 0)),
		EnclavePort:       uint32(getEnvInt("ENCLAVE_PORT", 5000)),
		AttestationMaxAge: getEnvDuration("ATTESTATION_MAX_AGE", 5*time.Second),

		ProverPrivateKey: getEnv("PROVER_PRIVATE_KEY", ""),
		ProverBinDir:     getEnv("PROVER_BIN_DIR", "./bin"),
		AttestationURL:   getEnv("ATTESTATION_GRAPHQL_URL", ""),

		NullifierRegistryAddress:  getEnv("NULLIFIER_REGISTRY_ADDRESS", ""),
		IdentityRegistryAddress:   getEnv("IDENTITY_REGISTRY_ADDRESS", ""),
		ReputationRegistryAddress: getEnv("REPUTATION_REGISTRY_ADDRESS", ""),
		VerifierContractAddress:   getEnv("VERIFIER_CONTRACT_ADDRESS", ""),

		AgentVersion: getEnv("AGENT_VERSION", "0.1.0"),
		SigningTTL:   getEnvDuration("SIGNING_TTL", 300*time.Second),

		WorkerCount:    getEnvInt("WORKER_COUNT", 4),
		WorkerPollTick: getEnvDuration("WORKER_POLL_INTERVAL", 1*time.Second),

		RateLimitMaxRequests: getEnvInt("RATE_LIMIT_REQUESTS", 100),
		RateLimitWindow:      getEnvDuration("RATE_LIMIT_WINDOW", 60*time.Second),

		ProofCacheTTL: getEnvDuration("PROOF_CACHE_TTL", 24*time.Hour),

		DatabaseURL:         getEnv("DATABASE_URL", ""),
		DatabaseMaxConns:    getEnvInt("DATABASE_MAX_CONNS", 10),
		DatabaseMinConns:    getEnvInt("DATABASE_MIN_CONNS", 2),
		DatabaseMaxIdleTime: getEnvInt64("DATABASE_MAX_IDLE_SECONDS", 300),
		DatabaseMaxLifetime: getEnvInt64("DATABASE_MAX_LIFETIME_SECONDS", 3600),

		CORSOrigins: strings.Split(getEnv("CORS_ORIGINS", "*"), ","),

		MetricsAddr: getEnv("METRICS_ADDR", "0.0.0.0:9090"),
	}

	return cfg, nil
}

// Validate checks that required configuration is present and internally
// consistent. Must be called after Load() before starting the service.
func (c *Config) Validate() error {
	var errs []string

	switch c.PaymentMode {
	case PaymentDisabled, PaymentTestnet, PaymentMainnet:
	default:
		errs = append(errs, fmt.Sprintf("PAYMENT_MODE must be one of disabled|testnet|mainnet, got %q", c.PaymentMode))
	}

	switch c.TEEMode {
	case TEEDisabled, TEELocal, TEENitro, TEEAuto:
	default:
		errs = append(errs, fmt.Sprintf("TEE_MODE must be one of disabled|local|nitro|auto, got %q", c.TEEMode))
	}

	if c.KVStoreURL == "" {
		errs = append(errs, "KV_STORE_URL is required but not set")
	}
	if c.ChainRPCURL == "" {
		errs = append(errs, "CHAIN_RPC_URL is required but not set")
	}
	if c.PublicURL == "" {
		errs = append(errs, "PUBLIC_BASE_URL is required but not set")
	}
	if c.ProverPrivateKey == "" {
		errs = append(errs, "PROVER_PRIVATE_KEY is required but not set")
	}
	if c.PaymentMode != PaymentDisabled && c.AttestationURL == "" {
		// the attestation backend is an external collaborator; a missing
		// endpoint is only fatal once payments make its output load-bearing
		errs = append(errs, "ATTESTATION_GRAPHQL_URL is required when PAYMENT_MODE != disabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if iv, err := strconv.Atoi(v); err == nil {
			return iv
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if v := os.Getenv(key); v != "" {
		if iv, err := strconv.ParseInt(v, 10, 64); err == nil {
			return iv
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if dv, err := time.ParseDuration(v); err == nil {
			return dv
		}
	}
	return defaultValue
}
