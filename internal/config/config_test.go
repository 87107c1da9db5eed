package config

import (
	"testing"
	"time"

	"github.com/ayo6706/trade-settlement/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("NOTIFY_SINK", "log")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Equal(t, 4, cfg.WorkerConcurrency)
	assert.Equal(t, int32(10), cfg.WorkerBatchSize)
	assert.Equal(t, int32(3), cfg.JobMaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.WorkerPollInterval)
	assert.Equal(t, 5*time.Second, cfg.JobBackoffBase)
	assert.Equal(t, 5*time.Minute, cfg.JobBackoffMax)
	assert.Equal(t, 2*time.Minute, cfg.JobStaleAfter)
	assert.Equal(t, int32(8), cfg.FeeShareScale)
	require.Len(t, cfg.FeePools, 4)
	assert.Equal(t, "liquidity_rewards", cfg.FeePools[0].Name)
	assert.Equal(t, int32(1), cfg.FeePools[0].ID)
	assert.True(t, cfg.SchemaAutoApply)
}

func TestLoad_PrefixedAliases(t *testing.T) {
	t.Setenv("NOTIFY_SINK", "log")
	t.Setenv("SETTLEMENT_WORKER_CONCURRENCY", "9")
	t.Setenv("SETTLEMENT_JOB_BACKOFF_BASE", "1s")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.WorkerConcurrency)
	assert.Equal(t, time.Second, cfg.JobBackoffBase)
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"bad duration", map[string]string{"WORKER_POLL_INTERVAL": "soon"}},
		{"zero concurrency", map[string]string{"WORKER_CONCURRENCY": "0"}},
		{"zero attempts", map[string]string{"JOB_MAX_ATTEMPTS": "0"}},
		{"backoff max below base", map[string]string{"JOB_BACKOFF_BASE": "1m", "JOB_BACKOFF_MAX": "10s"}},
		{"lease shorter than handler timeout", map[string]string{"JOB_STALE_AFTER": "30s", "JOB_HANDLER_TIMEOUT": "30s"}},
		{"pools not summing to 100", map[string]string{"FEE_POOLS": "a:50,b:40"}},
		{"kafka without brokers", map[string]string{"NOTIFY_SINK": "kafka"}},
		{"unknown sink", map[string]string{"NOTIFY_SINK": "carrier-pigeon"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("NOTIFY_SINK", "log")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestParseFeePools(t *testing.T) {
	pools, err := ParseFeePools("ops:62.5, treasury:37.5")
	require.NoError(t, err)
	require.Len(t, pools, 2)
	assert.Equal(t, "treasury", pools[1].Name)
	assert.Equal(t, int32(2), pools[1].ID)
	assert.True(t, pools[0].Percentage.Equal(decimal.RequireFromString("62.5")))

	_, err = ParseFeePools("ops=100")
	assert.Error(t, err)

	_, err = ParseFeePools("ops:abc")
	assert.Error(t, err)

	_, err = ParseFeePools("a:50,a:50")
	assert.Error(t, err)

	_, err = ParseFeePools("")
	assert.ErrorIs(t, err, domain.ErrInvalidAllocation)
}
