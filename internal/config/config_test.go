package config

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnv_Defaults(t *testing.T) {
	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, LedgerEVM, cfg.Ledger)
	assert.Equal(t, common.HexToAddress(DefaultContractAddress), cfg.ContractAddress)
	assert.Equal(t, "https://testnet.bscscan.com", cfg.ExplorerURL)
	assert.Equal(t, CacheBadger, cfg.CacheBackend)
	assert.Equal(t, 3, cfg.BatchSize)
	assert.Equal(t, 300*time.Millisecond, cfg.BatchDelay)
	assert.Equal(t, 7, cfg.SweepDays)
	assert.Equal(t, 4*time.Hour, cfg.SweepStep)
	assert.Equal(t, 30, cfg.MaxCandidates)
	assert.Equal(t, 30, cfg.ProbeLogTTLDays)
	assert.Equal(t, 1000, cfg.ProbeLogMaxPerOwner)
	assert.Equal(t, 2*time.Second, cfg.ReceiptPoll)
	assert.Equal(t, 2*time.Minute, cfg.ReceiptTimeout)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "@every 1m", cfg.RescanSchedule)
	assert.Empty(t, cfg.WatchOwners)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("SIP_LEDGER", "STUB")
	t.Setenv("SIP_CACHE_BACKEND", "memory")
	t.Setenv("SIP_BATCH_SIZE", "5")
	t.Setenv("SIP_BATCH_DELAY", "1s")
	t.Setenv("SIP_SWEEP_STEP", "6h")
	t.Setenv("SIP_WATCH_OWNERS", " 0xABCD000000000000000000000000000000001234 ,,0x0000000000000000000000000000000000000001")
	t.Setenv("LOG_PRETTY", "true")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, LedgerStub, cfg.Ledger)
	assert.Equal(t, CacheMemory, cfg.CacheBackend)
	assert.Equal(t, 5, cfg.BatchSize)
	assert.Equal(t, time.Second, cfg.BatchDelay)
	assert.Equal(t, 6*time.Hour, cfg.SweepStep)
	assert.Equal(t, []common.Address{
		common.HexToAddress("0xABCD000000000000000000000000000000001234"),
		common.HexToAddress("0x0000000000000000000000000000000000000001"),
	}, cfg.WatchOwners)
	assert.True(t, cfg.LogPretty)
	assert.NoError(t, cfg.Validate())
}

func TestFromEnv_MalformedNumbersFallBack(t *testing.T) {
	t.Setenv("SIP_BATCH_SIZE", "three")
	t.Setenv("SIP_BATCH_DELAY", "soon")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.BatchSize)
	assert.Equal(t, 300*time.Millisecond, cfg.BatchDelay)
}

func TestFromEnv_InvalidAddresses(t *testing.T) {
	t.Run("contract", func(t *testing.T) {
		t.Setenv("SIP_CONTRACT_ADDRESS", "not-an-address")
		_, err := FromEnv()
		assert.ErrorContains(t, err, "SIP_CONTRACT_ADDRESS")
	})
	t.Run("watch owners", func(t *testing.T) {
		t.Setenv("SIP_WATCH_OWNERS", "0x1234")
		_, err := FromEnv()
		assert.ErrorContains(t, err, "SIP_WATCH_OWNERS")
	})
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Ledger:          LedgerEVM,
			RPCURL:          "http://localhost:8545",
			ContractAddress: common.HexToAddress(DefaultContractAddress),
			CacheBackend:    CacheMemory,
			BatchSize:       3,
			SweepStep:       4 * time.Hour,
			MaxCandidates:   30,

			ProbeLogMaxPerOwner: 1000,
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"evm without rpc", func(c *Config) { c.RPCURL = "" }, "SIP_RPC_URL"},
		{"zero contract", func(c *Config) { c.ContractAddress = common.Address{} }, "SIP_CONTRACT_ADDRESS"},
		{"stub without rpc", func(c *Config) { c.Ledger = LedgerStub; c.RPCURL = "" }, ""},
		{"unknown ledger", func(c *Config) { c.Ledger = "tron" }, "SIP_LEDGER"},
		{"postgres without dsn", func(c *Config) { c.CacheBackend = CachePostgres }, "SIP_POSTGRES_DSN"},
		{"badger without path", func(c *Config) { c.CacheBackend = CacheBadger }, "SIP_CACHE_PATH"},
		{"unknown backend", func(c *Config) { c.CacheBackend = "redis" }, "SIP_CACHE_BACKEND"},
		{"zero batch", func(c *Config) { c.BatchSize = 0 }, "SIP_BATCH_SIZE"},
		{"negative delay", func(c *Config) { c.BatchDelay = -time.Second }, "SIP_BATCH_DELAY"},
		{"zero step", func(c *Config) { c.SweepStep = 0 }, "SIP_SWEEP_STEP"},
		{"zero max", func(c *Config) { c.MaxCandidates = 0 }, "SIP_MAX_CANDIDATES"},
		{"negative ttl", func(c *Config) { c.ProbeLogTTLDays = -1 }, "SIP_PROBE_LOG_TTL_DAYS"},
		{"zero probe log cap", func(c *Config) { c.ProbeLogMaxPerOwner = 0 }, "SIP_PROBE_LOG_MAX_PER_OWNER"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}
