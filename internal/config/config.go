// Package config provides configuration loading and management for the application.
package config

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds process-level settings read from the environment
type Config struct {
	// HTTP port for the ops endpoints (/health, /status, /metrics)
	Port string

	// Optional YAML/JSON file describing chains and protocol deployments
	ConfigFile string

	// Base URLs for the external market-data feeds
	CompoundURL  string
	DefiLlamaURL string
	LidoURL      string

	// Price oracle endpoint and cache lifetime
	PriceURL string
	PriceTTL time.Duration

	// OpenTelemetry endpoint for observability
	OtelEndpoint string

	// API keys for feeds that require them, keyed by feed name
	APIKeys map[string]string

	// Timeouts and discovery settings
	RequestTimeout       time.Duration
	ConfirmTimeout       time.Duration
	ConfirmPollInterval  time.Duration
	DiscoveryInterval    time.Duration
	DiscoveryParallelism int

	// Publishing thresholds
	MaxAPY float64

	// Feed circuit breaker settings
	BreakerFailureThreshold int
	CircuitResetDelay       time.Duration

	// Dashboard webhook; empty URL disables export
	ExportURL       string
	ExportAPIKey    string
	ExportBatchSize int
	ExportInterval  time.Duration
}

// Load creates a new Config from environment variables
func Load() Config {
	apiKeys := map[string]string{}
	if raw := os.Getenv("API_KEYS"); raw != "" {
		_ = json.Unmarshal([]byte(raw), &apiKeys)
	}

	return Config{
		Port:                    GetEnvOrDefault("PORT", "8080"),
		ConfigFile:              GetEnvOrDefault("ORBIT_CONFIG_FILE", ""),
		CompoundURL:             GetEnvOrDefault("COMPOUND_URL", "https://api.compound.finance/api/v2/ctoken"),
		DefiLlamaURL:            GetEnvOrDefault("DEFILLAMA_URL", "https://yields.llama.fi/pools"),
		LidoURL:                 GetEnvOrDefault("LIDO_URL", "https://eth-api.lido.fi/v1/protocol/steth/apr/sma"),
		PriceURL:                GetEnvOrDefault("PRICE_URL", "https://coins.llama.fi/prices/current"),
		PriceTTL:                GetEnvAsDuration("PRICE_TTL", time.Minute),
		OtelEndpoint:            GetEnvOrDefault("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		APIKeys:                 apiKeys,
		RequestTimeout:          GetEnvAsDuration("REQUEST_TIMEOUT", 10*time.Second),
		ConfirmTimeout:          GetEnvAsDuration("CONFIRM_TIMEOUT", 2*time.Minute),
		ConfirmPollInterval:     GetEnvAsDuration("CONFIRM_POLL_INTERVAL", 2*time.Second),
		DiscoveryInterval:       GetEnvAsDuration("DISCOVERY_INTERVAL", 5*time.Minute),
		DiscoveryParallelism:    GetEnvAsInt("DISCOVERY_PARALLELISM", 1),
		MaxAPY:                  GetEnvAsFloat("MAX_APY", 1000.0), // percent
		BreakerFailureThreshold: GetEnvAsInt("BREAKER_FAILURE_THRESHOLD", 3),
		CircuitResetDelay:       GetEnvAsDuration("CIRCUIT_RESET_DELAY", 5*time.Minute),
		ExportURL:               GetEnvOrDefault("EXPORT_WEBHOOK_URL", ""),
		ExportAPIKey:            GetEnvOrDefault("EXPORT_WEBHOOK_API_KEY", ""),
		ExportBatchSize:         GetEnvAsInt("EXPORT_BATCH_SIZE", 1),
		ExportInterval:          GetEnvAsDuration("EXPORT_INTERVAL", time.Minute),
	}
}

// APIKey returns the configured key for a feed, or an empty string
func (c Config) APIKey(feed string) string {
	return c.APIKeys[strings.ToLower(feed)]
}

// GetEnv retrieves an environment variable and whether it exists
func GetEnv(key string) (string, bool) {
	value, exists := os.LookupEnv(key)
	return value, exists
}

// GetEnvOrDefault retrieves an environment variable or returns the default value if not set
func GetEnvOrDefault(key, defaultValue string) string {
	if value, exists := GetEnv(key); exists {
		return value
	}
	return defaultValue
}

// GetEnvAsInt retrieves an environment variable as an integer with a default value
func GetEnvAsInt(key string, defaultValue int) int {
	if value, exists := GetEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// GetEnvAsFloat retrieves an environment variable as a float with a default value
func GetEnvAsFloat(key string, defaultValue float64) float64 {
	if value, exists := GetEnv(key); exists {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// GetEnvAsBool retrieves an environment variable as a boolean with a default value
func GetEnvAsBool(key string, defaultValue bool) bool {
	if value, exists := GetEnv(key); exists {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// GetEnvAsDuration retrieves an environment variable as a duration with a default value
func GetEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := GetEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
