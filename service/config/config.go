package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration loaded from environment variables.
// All required fields are validated at startup to ensure fail-fast behavior.
type Config struct {
	// Server configuration
	ServerAddr string
	LogLevel   string
	LogFormat  string // "json" or "text"

	// Solana configuration. More than one endpoint may be configured; one is
	// picked at random at startup.
	SolanaRPCURLs []string

	// Journal configuration
	JournalPath string

	// Polling configuration
	PollInterval        time.Duration
	SignatureLimit      int
	SkipKnownSignatures bool

	// WalletAddress, when set, starts monitoring at boot.
	WalletAddress string

	// Token metadata and price lookups
	TokenListURL  string
	PriceAPIURL   string
	LookupTimeout time.Duration

	// Optional sinks. Empty disables them.
	NATSURL     string
	DatabaseURL string
}

// Load reads configuration from environment variables and validates all required fields.
// Returns an error if any required configuration is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []error

	// Server configuration
	cfg.ServerAddr = getEnvOrDefault("SERVER_ADDR", ":8080")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")
	cfg.LogFormat = getEnvOrDefault("LOG_FORMAT", "json")

	// Solana configuration
	cfg.SolanaRPCURLs = splitList(getEnvOrDefault("SOLANA_RPC_URL", "https://api.mainnet-beta.solana.com"))
	if len(cfg.SolanaRPCURLs) == 0 {
		errs = append(errs, fmt.Errorf("SOLANA_RPC_URL is required"))
	}

	cfg.JournalPath = getEnvOrDefault("JOURNAL_PATH", "transaction_history.json")

	// Polling configuration
	interval, err := parseDuration("POLL_INTERVAL", "2s")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.PollInterval = interval
	}

	limit, err := parseInt("SIGNATURE_LIMIT", 20)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.SignatureLimit = limit
	}

	skip, err := parseBool("SKIP_KNOWN_SIGNATURES", false)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.SkipKnownSignatures = skip
	}

	cfg.WalletAddress = os.Getenv("WALLET_ADDRESS")

	// Lookup configuration
	cfg.TokenListURL = getEnvOrDefault("TOKEN_LIST_URL", "https://token.jup.ag/all")
	cfg.PriceAPIURL = getEnvOrDefault("PRICE_API_URL", "https://api.coingecko.com/api/v3")

	lookupTimeout, err := parseDuration("LOOKUP_TIMEOUT", "10s")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.LookupTimeout = lookupTimeout
	}

	cfg.NATSURL = os.Getenv("NATS_URL")
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")

	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// MustLoad is like Load but panics if configuration is invalid.
// Useful for server initialization where misconfiguration should halt startup.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// Validate checks if the configuration is valid.
// This is useful for testing configuration without loading from env.
func (c *Config) Validate() error {
	var errs []error

	if len(c.SolanaRPCURLs) == 0 {
		errs = append(errs, fmt.Errorf("SolanaRPCURLs is required"))
	}

	if c.JournalPath == "" {
		errs = append(errs, fmt.Errorf("JournalPath is required"))
	}

	if c.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("PollInterval must be positive"))
	}

	if c.SignatureLimit < 1 || c.SignatureLimit > 1000 {
		errs = append(errs, fmt.Errorf("SignatureLimit must be between 1 and 1000"))
	}

	switch c.LogFormat {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("LogFormat must be json or text, got %q", c.LogFormat))
	}

	if c.LookupTimeout <= 0 {
		errs = append(errs, fmt.Errorf("LookupTimeout must be positive"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

// getEnvOrDefault returns the environment variable value or a default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseDuration parses a duration from an environment variable or uses a default.
func parseDuration(key, defaultValue string) (time.Duration, error) {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, value, err)
	}
	return duration, nil
}

// parseInt parses an integer from an environment variable or uses a default.
func parseInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, value, err)
	}
	return result, nil
}

func parseBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("%s: invalid boolean %q: %w", key, value, err)
	}
	return result, nil
}

// splitList splits a comma-separated value, dropping blanks.
func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
