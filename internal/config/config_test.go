package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PowerPerp/internal/config"
)

func setProtocolEnv(t *testing.T) {
	t.Helper()
	t.Setenv("PERP_ENGINE_ADMIN", "admin")
	t.Setenv("PERP_PROTOCOL_BASE_ASSET", "uweth")
	t.Setenv("PERP_PROTOCOL_QUOTE_ASSET", "uusdc")
	t.Setenv("PERP_PROTOCOL_POWER_ASSET", "upower")
	t.Setenv("PERP_PROTOCOL_BASE_POOL", "1")
	t.Setenv("PERP_PROTOCOL_POWER_POOL", "2")
}

func noEnvFile(t *testing.T) string {
	return filepath.Join(t.TempDir(), "missing.env")
}

func TestLoadFromEnv(t *testing.T) {
	setProtocolEnv(t)
	t.Setenv("PERP_SERVER_GRPC_ADDR", ":7000")
	t.Setenv("PERP_ENGINE_PERSIST_FLUSH_TIMEOUT", "20ms")
	t.Setenv("PERP_PROTOCOL_FEE_RATE", "0.005")
	t.Setenv("PERP_PROTOCOL_FEE_POOL", "treasury")

	cfg, err := config.Load("", noEnvFile(t))
	require.NoError(t, err)

	assert.Equal(t, ":7000", cfg.Server.GRPCAddr)
	assert.Equal(t, ":8080", cfg.Server.HTTPAddr)
	assert.Equal(t, 20*time.Millisecond, cfg.Engine.PersistFlushTimeout)
	assert.Equal(t, "@every 1m", cfg.Keeper.FundingSpec)

	st, err := cfg.Protocol.ToState()
	require.NoError(t, err)
	assert.Equal(t, "uweth", st.BaseAsset)
	assert.Equal(t, "0.005000000000000000", st.FeeRate.String())
	assert.Equal(t, "10000.000000000000000000", st.IndexScale.String())
	assert.True(t, st.FundingPeriod > 0)
}

func TestLoadFromFile(t *testing.T) {
	setProtocolEnv(t)
	path := filepath.Join(t.TempDir(), "powerperp.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
engine:
  persist-batch-size: 25
protocol:
  min-collateral: "6900000"
  staked-assets:
    - denom: ustweth
      pool: "3"
      decimals: 18
keeper:
  gc-spec: ""
  gc-limit: 200
`), 0o600))

	cfg, err := config.Load(path, noEnvFile(t))
	require.NoError(t, err)
	assert.Equal(t, 25, cfg.Engine.PersistBatchSize)
	assert.Equal(t, "", cfg.Keeper.GCSpec)
	assert.Equal(t, uint32(200), cfg.Keeper.GCLimit)

	st, err := cfg.Protocol.ToState()
	require.NoError(t, err)
	require.Len(t, st.StakedAssets, 1)
	assert.Equal(t, "ustweth", st.StakedAssets[0].Denom)
	assert.Equal(t, uint32(18), st.StakedAssets[0].Decimals)
	assert.Equal(t, int64(6_900_000), st.MinCollateral.Int64())
}

func TestLoadDotEnv(t *testing.T) {
	setProtocolEnv(t)
	envFile := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("PERP_KEEPER_ADDRESS=keeper-from-dotenv\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("PERP_KEEPER_ADDRESS") })

	cfg, err := config.Load("", envFile)
	require.NoError(t, err)
	assert.Equal(t, "keeper-from-dotenv", cfg.Keeper.Address)
}

func TestLoadRejectsInvalidProtocol(t *testing.T) {
	setProtocolEnv(t)
	t.Setenv("PERP_PROTOCOL_POWER_POOL", "1")

	_, err := config.Load("", noEnvFile(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid protocol config")
}

func TestProtocolConfig_ToState(t *testing.T) {
	valid := func() config.ProtocolConfig {
		return config.ProtocolConfig{
			BaseAsset: "uweth", QuoteAsset: "uusdc", PowerAsset: "upower",
			BaseDecimals: 6, PowerDecimals: 6,
			BasePool: "1", PowerPool: "2",
		}
	}

	cases := []struct {
		name    string
		mutate  func(c *config.ProtocolConfig)
		wantErr string
	}{
		{"valid", func(c *config.ProtocolConfig) {}, ""},
		{"fee rate not a number", func(c *config.ProtocolConfig) { c.FeeRate = "abc" }, "fee-rate"},
		{"fee rate of one", func(c *config.ProtocolConfig) { c.FeeRate = "1"; c.FeePool = "p" }, "fee rate"},
		{"fee without pool", func(c *config.ProtocolConfig) { c.FeeRate = "0.01" }, "fee pool"},
		{"bad min collateral", func(c *config.ProtocolConfig) { c.MinCollateral = "1.5" }, "min-collateral"},
		{"zero decimals", func(c *config.ProtocolConfig) { c.BaseDecimals = 0 }, "decimals"},
		{"decimals above 18", func(c *config.ProtocolConfig) { c.PowerDecimals = 19 }, "decimals"},
		{"power equals base", func(c *config.ProtocolConfig) { c.PowerAsset = "uweth" }, "power asset"},
		{"negative funding period", func(c *config.ProtocolConfig) { c.FundingPeriod = -1 }, "funding period"},
		{"zero index scale", func(c *config.ProtocolConfig) { c.IndexScale = "0" }, "index scale"},
		{"duplicate staked asset", func(c *config.ProtocolConfig) {
			c.StakedAssets = []config.StakedAssetConfig{
				{Denom: "ustweth", Pool: "3", Decimals: 18},
				{Denom: "ustweth", Pool: "4", Decimals: 18},
			}
		}, "duplicate"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := valid()
			tc.mutate(&c)
			_, err := c.ToState()
			if tc.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestSectionValidate(t *testing.T) {
	t.Run("postgres disabled skips checks", func(t *testing.T) {
		cfg := &config.PostgresConfig{Enabled: false}
		require.NoError(t, cfg.Validate())
	})

	t.Run("postgres idle above open", func(t *testing.T) {
		cfg := &config.PostgresConfig{Enabled: true, DSN: "x", MaxOpenConns: 2, MaxIdleConns: 3}
		require.Error(t, cfg.Validate())
	})

	t.Run("share prices needs nats", func(t *testing.T) {
		cfg := &config.NATSConfig{SharePrices: true}
		require.Error(t, cfg.Validate())
	})

	t.Run("server addresses collide", func(t *testing.T) {
		cfg := &config.ServerConfig{GRPCAddr: ":1", HTTPAddr: ":1"}
		require.Error(t, cfg.Validate())
	})

	t.Run("engine admin equals address", func(t *testing.T) {
		cfg := &config.EngineConfig{Address: "e", Admin: "e"}
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "admin must differ")
	})

	t.Run("keeper gc limit above max", func(t *testing.T) {
		cfg := &config.KeeperConfig{Enabled: true, Address: "k", GCLimit: 5000, JobTimeout: time.Second}
		require.Error(t, cfg.Validate())
	})
}

func TestVenuePoolsDerivedFromProtocol(t *testing.T) {
	setProtocolEnv(t)
	cfg, err := config.Load("", noEnvFile(t))
	require.NoError(t, err)

	pools := cfg.VenuePools()
	require.Len(t, pools, 2)
	assert.Equal(t, "1", pools[0].ID)
	assert.Equal(t, "uweth", pools[0].DenomA)
	assert.Equal(t, "uusdc", pools[0].DenomB)
	assert.Equal(t, "upower", pools[1].DenomA)
	assert.Equal(t, uint32(30), pools[1].FeeBps)
}

func TestRedactedMasksPassword(t *testing.T) {
	cfg := config.Config{Postgres: config.PostgresConfig{DSN: "postgres://perp:secret@db:5432/powerperp?sslmode=disable"}}
	out := cfg.Redacted()
	assert.NotContains(t, out.Postgres.DSN, "secret")
	assert.Contains(t, out.Postgres.DSN, "perp:")
	assert.Contains(t, cfg.Postgres.DSN, "secret")
}
