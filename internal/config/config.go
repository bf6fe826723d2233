// Package config provides configuration management functionality.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
)

// Ledger modes.
const (
	LedgerEVM  = "evm"
	LedgerStub = "stub"
)

// Cache backends.
const (
	CacheMemory   = "memory"
	CacheBadger   = "badger"
	CachePostgres = "postgres"
)

// DefaultContractAddress is the plan contract on the default network.
const DefaultContractAddress = "0xd8540A08f770BAA3b66C4d43728CDBDd1d7A9c3b"

// Config holds application configuration
type Config struct {
	// Ledger
	Ledger          string // evm | stub
	RPCURL          string
	WSURL           string // optional; enables head-driven receipt polling and rescans
	ContractAddress common.Address
	ExplorerURL     string
	ReceiptPoll     time.Duration
	ReceiptTimeout  time.Duration

	// Cache
	CacheBackend string // memory | badger | postgres
	CachePath    string // badger directory
	PostgresDSN  string

	// Telemetry
	ClickHouseDSN       string // optional probe log
	ProbeLogTTLDays     int    // ClickHouse retention; 0 keeps rows forever
	ProbeLogMaxPerOwner int    // in-memory probe log cap

	// Scan
	BatchSize     int
	BatchDelay    time.Duration
	SweepDays     int
	SweepStep     time.Duration
	MaxCandidates int

	// Daemon
	HTTPAddr       string
	RescanSchedule string
	WatchOwners    []common.Address

	// Logging
	LogLevel  string
	LogPretty bool
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	LoadDotEnv()

	cfg, err := FromEnv()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDotEnv loads a .env file into the environment if it exists. Variables
// already set are not overridden.
func LoadDotEnv() {
	_ = godotenv.Load()
}

// FromEnv builds a Config from the current environment without validating it.
func FromEnv() (*Config, error) {
	contract := getEnv("SIP_CONTRACT_ADDRESS", DefaultContractAddress)
	if !common.IsHexAddress(contract) {
		return nil, fmt.Errorf("SIP_CONTRACT_ADDRESS: invalid address %q", contract)
	}

	owners, err := parseOwners(getEnv("SIP_WATCH_OWNERS", ""))
	if err != nil {
		return nil, fmt.Errorf("SIP_WATCH_OWNERS: %w", err)
	}

	return &Config{
		Ledger:          strings.ToLower(getEnv("SIP_LEDGER", LedgerEVM)),
		RPCURL:          getEnv("SIP_RPC_URL", ""),
		WSURL:           getEnv("SIP_WS_URL", ""),
		ContractAddress: common.HexToAddress(contract),
		ExplorerURL:     getEnv("SIP_EXPLORER_URL", "https://testnet.bscscan.com"),
		ReceiptPoll:     getEnvAsDuration("SIP_RECEIPT_POLL", 2*time.Second),
		ReceiptTimeout:  getEnvAsDuration("SIP_RECEIPT_TIMEOUT", 2*time.Minute),

		CacheBackend: strings.ToLower(getEnv("SIP_CACHE_BACKEND", CacheBadger)),
		CachePath:    getEnv("SIP_CACHE_PATH", "./data/cache"),
		PostgresDSN:  getEnv("SIP_POSTGRES_DSN", ""),

		ClickHouseDSN:       getEnv("SIP_CLICKHOUSE_DSN", ""),
		ProbeLogTTLDays:     getEnvAsInt("SIP_PROBE_LOG_TTL_DAYS", 30),
		ProbeLogMaxPerOwner: getEnvAsInt("SIP_PROBE_LOG_MAX_PER_OWNER", 1000),

		BatchSize:     getEnvAsInt("SIP_BATCH_SIZE", 3),
		BatchDelay:    getEnvAsDuration("SIP_BATCH_DELAY", 300*time.Millisecond),
		SweepDays:     getEnvAsInt("SIP_SWEEP_DAYS", 7),
		SweepStep:     getEnvAsDuration("SIP_SWEEP_STEP", 4*time.Hour),
		MaxCandidates: getEnvAsInt("SIP_MAX_CANDIDATES", 30),

		HTTPAddr:       getEnv("SIP_HTTP_ADDR", ":8080"),
		RescanSchedule: getEnv("SIP_RESCAN_SCHEDULE", "@every 1m"),
		WatchOwners:    owners,

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogPretty: getEnvAsBool("LOG_PRETTY", false),
	}, nil
}

// Validate checks that the configuration is consistent
func (c *Config) Validate() error {
	var errs []error

	switch c.Ledger {
	case LedgerEVM:
		if c.RPCURL == "" {
			errs = append(errs, errors.New("SIP_RPC_URL is required for the evm ledger"))
		}
		if c.ContractAddress == (common.Address{}) {
			errs = append(errs, errors.New("SIP_CONTRACT_ADDRESS must not be the zero address"))
		}
	case LedgerStub:
	default:
		errs = append(errs, fmt.Errorf("SIP_LEDGER: unknown ledger %q", c.Ledger))
	}

	switch c.CacheBackend {
	case CacheMemory:
	case CacheBadger:
		if c.CachePath == "" {
			errs = append(errs, errors.New("SIP_CACHE_PATH is required for the badger cache"))
		}
	case CachePostgres:
		if c.PostgresDSN == "" {
			errs = append(errs, errors.New("SIP_POSTGRES_DSN is required for the postgres cache"))
		}
	default:
		errs = append(errs, fmt.Errorf("SIP_CACHE_BACKEND: unknown backend %q", c.CacheBackend))
	}

	if c.BatchSize <= 0 {
		errs = append(errs, errors.New("SIP_BATCH_SIZE must be positive"))
	}
	if c.BatchDelay < 0 {
		errs = append(errs, errors.New("SIP_BATCH_DELAY must not be negative"))
	}
	if c.SweepDays < 0 {
		errs = append(errs, errors.New("SIP_SWEEP_DAYS must not be negative"))
	}
	if c.SweepStep <= 0 {
		errs = append(errs, errors.New("SIP_SWEEP_STEP must be positive"))
	}
	if c.MaxCandidates <= 0 {
		errs = append(errs, errors.New("SIP_MAX_CANDIDATES must be positive"))
	}
	if c.ProbeLogTTLDays < 0 {
		errs = append(errs, errors.New("SIP_PROBE_LOG_TTL_DAYS must not be negative"))
	}
	if c.ProbeLogMaxPerOwner <= 0 {
		errs = append(errs, errors.New("SIP_PROBE_LOG_MAX_PER_OWNER must be positive"))
	}

	return errors.Join(errs...)
}

func parseOwners(s string) ([]common.Address, error) {
	var owners []common.Address
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if !common.IsHexAddress(part) {
			return nil, fmt.Errorf("invalid address %q", part)
		}
		owners = append(owners, common.HexToAddress(part))
	}
	return owners, nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
