package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestFromEnv_Defaults(t *testing.T) {
	cfg, err := FromEnv()
	require.NoError(t, err)

	require.Equal(t, ":8080", cfg.Addr())
	require.Equal(t, DriverMemory, cfg.StorageDriver)
	require.Equal(t, "@every 5s", cfg.SweepSchedule)
	require.Equal(t, 30*time.Second, cfg.SweepTimeout)
	require.Equal(t, 720*time.Hour, cfg.AuctionMaxDuration)
	require.True(t, cfg.WalletInitialGrant.Equal(decimal.NewFromInt(1000)))
	require.Equal(t, 16, cfg.NotifyBuffer)
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("STORAGE_DRIVER", "postgres")
	t.Setenv("DB_PASSWORD", "secret")
	t.Setenv("DB_HOST", "db")
	t.Setenv("WALLET_INITIAL_GRANT", "250.75")
	t.Setenv("AUCTION_MAX_DURATION", "48h")
	t.Setenv("SWEEP_SCHEDULE", "*/10 * * * * *")

	cfg, err := FromEnv()
	require.NoError(t, err)
	require.Equal(t, ":9090", cfg.Addr())
	require.True(t, cfg.WalletInitialGrant.Equal(decimal.RequireFromString("250.75")))
	require.Equal(t, 48*time.Hour, cfg.AuctionMaxDuration)
	require.Equal(t, "postgres://auction:secret@db:5432/auction_marketplace?sslmode=disable", cfg.DatabaseDSN())
}

func TestFromEnv_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "unknown_driver", env: map[string]string{"STORAGE_DRIVER": "sqlite"}},
		{name: "postgres_without_password", env: map[string]string{"STORAGE_DRIVER": "postgres"}},
		{name: "inverted_pool_bounds", env: map[string]string{"STORAGE_DRIVER": "postgres", "DB_PASSWORD": "x", "DB_MIN_CONNS": "10", "DB_MAX_CONNS": "5"}},
		{name: "negative_grant", env: map[string]string{"WALLET_INITIAL_GRANT": "-1"}},
		{name: "unparseable_grant", env: map[string]string{"WALLET_INITIAL_GRANT": "lots"}},
		{name: "zero_max_duration", env: map[string]string{"AUCTION_MAX_DURATION": "0s"}},
		{name: "empty_buffer", env: map[string]string{"NOTIFY_BUFFER": "0"}},
		{name: "huge_grant", env: map[string]string{"WALLET_INITIAL_GRANT": "1e20000000"}},
		{name: "fractional_cent_grant", env: map[string]string{"WALLET_INITIAL_GRANT": "0.001"}},
		{name: "bad_timeout", env: map[string]string{"SWEEP_TIMEOUT": "soon"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := FromEnv()
			require.Error(t, err)
		})
	}
}
