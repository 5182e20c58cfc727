package config

import (
	"fmt"
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Mode selects which ingestion loop the process runs
type Mode string

const (
	ModePoll     Mode = "poll"
	ModeWatch    Mode = "watch"
	ModeBackfill Mode = "backfill"
	ModeMigrate  Mode = "migrate"
)

// Config holds all configuration for the service
type Config struct {
	Env      string
	Server   ServerConfig
	Database DatabaseConfig
	Scanner  ScannerConfig
	Poller   PollerConfig
	Reactor  ReactorConfig
	Registry RegistryConfig
	EVM      EVMConfig

	// HorizonURL serves Stellar fee lookups
	HorizonURL string

	// TraceMessageIDs lists message ids whose update arguments are logged at info level
	TraceMessageIDs map[int64]bool
}

// ServerConfig holds the status HTTP server configuration
type ServerConfig struct {
	Port int
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// DSN renders the connection string used by both the pool and the listener
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

// ScannerConfig holds the upstream feed settings for the polling loop
type ScannerConfig struct {
	URL          string
	Limit        int
	RequestDelay time.Duration
}

// PollerConfig holds the polling loop's retry policy
type PollerConfig struct {
	MaxRetries         int
	RetryResetInterval time.Duration
}

// ReactorConfig holds the notification loop and reconciliation pass settings
type ReactorConfig struct {
	Channel        string
	BatchSize      int
	MaxConcurrent  int
	BatchPause     time.Duration
	BackupSchedule string // cron expression
}

// RegistryConfig points at an optional chain registry file
type RegistryConfig struct {
	Path string
}

// EVMConfig holds settings shared by every EVM handler
type EVMConfig struct {
	DefaultGasPriceWei *big.Int
}

// LoadConfig loads configuration from the environment, after applying a .env
// file when one is present, and validates it for mode.
func LoadConfig(mode Mode) (*Config, error) {
	// a missing .env is not an error
	_ = godotenv.Load()

	gasPrice, ok := new(big.Int).SetString(getEnv("DEFAULT_GAS_PRICE_WEI", "1000000000"), 10)
	if !ok {
		return nil, fmt.Errorf("invalid DEFAULT_GAS_PRICE_WEI %q", os.Getenv("DEFAULT_GAS_PRICE_WEI"))
	}

	traceIDs, err := parseIDs(getEnv("TRACE_MESSAGE_IDS", ""))
	if err != nil {
		return nil, fmt.Errorf("invalid TRACE_MESSAGE_IDS: %w", err)
	}

	cfg := &Config{
		Env: getEnv("ENV", "development"),
		Server: ServerConfig{
			Port: getEnvInt("SERVER_PORT", 8080),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "bridgescan"),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
		},
		Scanner: ScannerConfig{
			URL:          getEnv("SCANNER_URL", ""),
			Limit:        getEnvInt("LIMIT", 10),
			RequestDelay: getEnvDuration("REQUEST_DELAY", 5*time.Second),
		},
		Poller: PollerConfig{
			MaxRetries:         getEnvInt("MAX_RETRIES", 4),
			RetryResetInterval: getEnvDuration("RETRY_RESET_INTERVAL", 30*time.Minute),
		},
		Reactor: ReactorConfig{
			Channel:        getEnv("NOTIFY_CHANNEL", "message_needs_processing"),
			BatchSize:      getEnvInt("BATCH_SIZE", 100),
			MaxConcurrent:  getEnvInt("MAX_CONCURRENT", 5),
			BatchPause:     getEnvDuration("BATCH_PAUSE", 500*time.Millisecond),
			BackupSchedule: getEnv("BACKUP_SCHEDULE", "0 * * * *"),
		},
		Registry: RegistryConfig{
			Path: getEnv("REGISTRY_PATH", ""),
		},
		EVM: EVMConfig{
			DefaultGasPriceWei: gasPrice,
		},
		HorizonURL:      getEnv("HORIZON_URL", "https://horizon.stellar.org"),
		TraceMessageIDs: traceIDs,
	}

	if err := cfg.Validate(mode); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration needed by mode
func (c *Config) Validate(mode Mode) error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	switch mode {
	case ModePoll:
		if c.Scanner.URL == "" {
			return fmt.Errorf("SCANNER_URL is required in poll mode")
		}
		if c.Scanner.Limit <= 0 {
			return fmt.Errorf("invalid page limit: %d", c.Scanner.Limit)
		}
		if c.Scanner.RequestDelay <= 0 {
			return fmt.Errorf("invalid request delay: %s", c.Scanner.RequestDelay)
		}
	case ModeWatch, ModeBackfill:
		if c.Reactor.BatchSize <= 0 {
			return fmt.Errorf("invalid batch size: %d", c.Reactor.BatchSize)
		}
		if c.Reactor.MaxConcurrent <= 0 {
			return fmt.Errorf("invalid concurrency: %d", c.Reactor.MaxConcurrent)
		}
	}

	return nil
}

// Tracing reports whether id was listed in TRACE_MESSAGE_IDS
func (c *Config) Tracing(id int64) bool {
	return c.TraceMessageIDs[id]
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvDuration accepts a Go duration ("5s") or a bare integer in milliseconds
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if ms, err := strconv.Atoi(value); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	return defaultValue
}

func parseIDs(s string) (map[int64]bool, error) {
	ids := make(map[int64]bool)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, err
		}
		ids[id] = true
	}
	return ids, nil
}
