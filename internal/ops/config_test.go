package ops

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"perpbot/internal/adapter/enum"
	"perpbot/internal/risk"
	"perpbot/pkg/exception"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yanun0323/errors"
)

const sampleYAML = `
exchange:
  rest_url: https://api.example.com
  ws_url: wss://stream.example.com/ws
  key_dir: /tmp/perpbot-keys
  signin_ttl: 12h
  refresh_lead: 30m
market_data:
  backoff_base: 500ms
  backoff_cap: 10s
  listener_buffer: 64
accounts:
  - id: main
    chain: evm
    private_key: "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
  - id: sol-1
    chain: solana
    address: 7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU
    signing_key: "0101010101010101010101010101010101010101010101010101010101010101"
    jwt_token: header.payload.sig
tasks:
  - id: btc-quoter
    symbol: BTC-PERP
    account_id: main
    risk:
      level: moderate
      budget_usd: "1000"
    quoter:
      spread_bps: 10
      qty: "0.01"
      price_scale: 1
  - id: eth-manual
    symbol: ETH-PERP
    account_id: sol-1
    auto_start: false
    risk:
      level: high
      budget_usd: "250.5"
journal:
  enabled: true
  host: db
  database: perpbot
`

func validConfig() Config {
	return Config{
		Exchange: ExchangeConfig{RestURL: "https://api.example.com", WSURL: "wss://stream.example.com"},
		Accounts: []AccountConfig{{ID: "main", Chain: "evm", PrivateKey: "0x01"}},
		Tasks: []TaskConfig{{
			ID:        "t1",
			Symbol:    "BTC-PERP",
			AccountID: "main",
			Risk:      RiskConfig{Level: "moderate", BudgetUSD: "100"},
		}},
	}
}

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, 12*time.Hour, cfg.Exchange.SigninTTL)
	assert.Equal(t, defaultSignTimeout, cfg.Exchange.SignTimeout)
	assert.Equal(t, 30*time.Minute, cfg.Exchange.RefreshLead)
	assert.Equal(t, 64, cfg.MarketData.ListenerBuffer)

	backoff := cfg.MarketData.Backoff()
	assert.Equal(t, 500*time.Millisecond, backoff.Base)
	assert.Equal(t, 10*time.Second, backoff.Cap)
	assert.Equal(t, 5, backoff.MaxExponent)

	require.Len(t, cfg.Accounts, 2)
	chain, err := cfg.Accounts[1].ChainID()
	require.NoError(t, err)
	assert.Equal(t, enum.ChainSolana, chain)
	seed, err := cfg.Accounts[1].SigningSeed()
	require.NoError(t, err)
	assert.Len(t, seed, 32)

	require.Len(t, cfg.Tasks, 2)
	limits, err := cfg.Tasks[0].Limits()
	require.NoError(t, err)
	assert.Equal(t, risk.LevelModerate, limits.Level)
	assert.Equal(t, "1000", limits.BudgetUSD.String())
	assert.True(t, cfg.Tasks[0].StartsAutomatically())

	quoter, ok, err := cfg.Tasks[0].QuoterConfig()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(10), quoter.SpreadBps)
	assert.Equal(t, "0.01", quoter.Qty.String())

	limits, err = cfg.Tasks[1].Limits()
	require.NoError(t, err)
	assert.Equal(t, risk.LevelAggressive, limits.Level)
	assert.False(t, cfg.Tasks[1].StartsAutomatically())
	_, ok, err = cfg.Tasks[1].QuoterConfig()
	require.NoError(t, err)
	assert.False(t, ok)

	opt := cfg.Journal.Option()
	assert.Equal(t, "db", opt.Host)
	assert.Equal(t, "perpbot", opt.Database)
}

func TestEnvOverridesSecrets(t *testing.T) {
	t.Setenv("PERPBOT_SOL_1_JWT_TOKEN", "from-env")
	t.Setenv("PERPBOT_MAIN_PRIVATE_KEY", "0xfeed")
	t.Setenv("PERPBOT_JOURNAL_PASSWORD", "s3cret")

	cfg, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)
	assert.Equal(t, "0xfeed", cfg.Accounts[0].PrivateKey)
	assert.Equal(t, "from-env", cfg.Accounts[1].JWTToken)
	assert.Equal(t, "s3cret", cfg.Journal.Password)
}

func TestValidate(t *testing.T) {
	testCases := []struct {
		desc   string
		mutate func(c *Config)
	}{
		{"bad rest url", func(c *Config) { c.Exchange.RestURL = "api.example.com" }},
		{"bad ws url", func(c *Config) { c.Exchange.WSURL = "https://stream" }},
		{"duplicate account", func(c *Config) { c.Accounts = append(c.Accounts, c.Accounts[0]) }},
		{"unknown chain", func(c *Config) { c.Accounts[0].Chain = "bitcoin" }},
		{"missing key material", func(c *Config) { c.Accounts[0].PrivateKey = "" }},
		{"signing key without token", func(c *Config) {
			c.Accounts[0].PrivateKey = ""
			c.Accounts[0].SigningKey = "0101010101010101010101010101010101010101010101010101010101010101"
			c.Accounts[0].Address = "0xabc"
		}},
		{"short signing key", func(c *Config) { c.Accounts[0].SigningKey = "0101" }},
		{"duplicate task", func(c *Config) { c.Tasks = append(c.Tasks, c.Tasks[0]) }},
		{"unknown account", func(c *Config) { c.Tasks[0].AccountID = "other" }},
		{"no symbol", func(c *Config) { c.Tasks[0].Symbol = "" }},
		{"zero budget", func(c *Config) { c.Tasks[0].Risk.BudgetUSD = "0" }},
		{"bad budget", func(c *Config) { c.Tasks[0].Risk.BudgetUSD = "lots" }},
		{"unknown level", func(c *Config) { c.Tasks[0].Risk.Level = "yolo" }},
		{"bad quoter", func(c *Config) { c.Tasks[0].Quoter = QuoterConfig{SpreadBps: 10, Qty: "0"} }},
		{"profiling without server", func(c *Config) { c.Profiling.Enabled = true }},
	}

	base := validConfig()
	require.NoError(t, base.Validate())

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			assert.True(t, errors.Is(err, exception.ErrConfig), "got %v", err)
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://api.example.com", cfg.Exchange.RestURL)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.True(t, errors.Is(err, exception.ErrConfig))

	require.NoError(t, os.WriteFile(path, []byte("exchange: ["), 0o600))
	_, err = Load(path)
	assert.True(t, errors.Is(err, exception.ErrConfig))
}

func TestLoadEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("PERPBOT_TEST_LOAD_ENV=yes\n"), 0o600))
	t.Setenv("PERPBOT_TEST_LOAD_ENV", "")
	require.NoError(t, os.Unsetenv("PERPBOT_TEST_LOAD_ENV"))

	require.NoError(t, LoadEnv(path, filepath.Join(dir, "missing.env")))
	assert.Equal(t, "yes", os.Getenv("PERPBOT_TEST_LOAD_ENV"))
}

func TestEnvName(t *testing.T) {
	assert.Equal(t, "SOL_1", envName("sol-1"))
	assert.Equal(t, "MAIN", envName("main"))
}
