package ops

import (
	"encoding/hex"
	"os"
	"strings"
	"time"

	"perpbot/internal/adapter/enum"
	"perpbot/internal/risk"
	"perpbot/internal/strategy"
	"perpbot/pkg/conn"
	"perpbot/pkg/exception"
	"perpbot/pkg/websocket"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
	"gopkg.in/yaml.v3"
)

const (
	envPrefix = "PERPBOT_"

	defaultSigninTTL      = 24 * time.Hour
	defaultSignTimeout    = 2 * time.Minute
	defaultRequestTimeout = 15 * time.Second
	defaultKeyDir         = ".perpbot/keys"
)

// Config mirrors the YAML config layout.
type Config struct {
	Exchange   ExchangeConfig   `yaml:"exchange"`
	MarketData MarketDataConfig `yaml:"market_data"`
	Accounts   []AccountConfig  `yaml:"accounts"`
	Tasks      []TaskConfig     `yaml:"tasks"`
	Profiling  ProfilingConfig  `yaml:"profiling"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Journal    JournalConfig    `yaml:"journal"`
}

// ExchangeConfig locates the exchange and the local key directory.
type ExchangeConfig struct {
	RestURL string `yaml:"rest_url"`
	WSURL   string `yaml:"ws_url"`
	KeyDir  string `yaml:"key_dir"`
	// SigninTTL is how long a login token is trusted.
	SigninTTL time.Duration `yaml:"signin_ttl"`
	// SignTimeout bounds the wallet signature during login.
	SignTimeout time.Duration `yaml:"sign_timeout"`
	// RefreshLead is how long before expiry a wallet account logs in again.
	RefreshLead    time.Duration `yaml:"refresh_lead"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// MarketDataConfig tunes the market data hub.
type MarketDataConfig struct {
	BackoffBase    time.Duration `yaml:"backoff_base"`
	BackoffCap     time.Duration `yaml:"backoff_cap"`
	MaxExponent    int           `yaml:"max_exponent"`
	PingInterval   time.Duration `yaml:"ping_interval"`
	ListenerBuffer int           `yaml:"listener_buffer"`
}

// AccountConfig is one trading account. It needs a wallet private key, or a
// signing key with a token and address to resume a session without login.
type AccountConfig struct {
	ID         string `yaml:"id"`
	Chain      string `yaml:"chain"`
	Address    string `yaml:"address"`
	PrivateKey string `yaml:"private_key"`
	SigningKey string `yaml:"signing_key"`
	JWTToken   string `yaml:"jwt_token"`
}

// TaskConfig is one trading task.
type TaskConfig struct {
	ID        string       `yaml:"id"`
	Symbol    string       `yaml:"symbol"`
	AccountID string       `yaml:"account_id"`
	AutoStart *bool        `yaml:"auto_start"`
	Risk      RiskConfig   `yaml:"risk"`
	Quoter    QuoterConfig `yaml:"quoter"`
}

type RiskConfig struct {
	Level                string `yaml:"level"`
	BudgetUSD            string `yaml:"budget_usd"`
	KillSwitch           bool   `yaml:"kill_switch"`
	MaxPriceDeviationBps int64  `yaml:"max_price_deviation_bps"`
}

type QuoterConfig struct {
	SpreadBps   int64  `yaml:"spread_bps"`
	Qty         string `yaml:"qty"`
	PriceScale  int32  `yaml:"price_scale"`
	MaxPosition string `yaml:"max_position"`
}

type ProfilingConfig struct {
	Enabled       bool   `yaml:"enabled"`
	ServerAddress string `yaml:"server_address"`
	AppName       string `yaml:"app_name"`
}

type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

// JournalConfig enables the postgres task and order journal.
type JournalConfig struct {
	Enabled  bool              `yaml:"enabled"`
	DSN      string            `yaml:"dsn"`
	Host     string            `yaml:"host"`
	Port     int               `yaml:"port"`
	User     string            `yaml:"user"`
	Password string            `yaml:"password"`
	Database string            `yaml:"database"`
	SSLMode  string            `yaml:"sslmode"`
	Params   map[string]string `yaml:"params"`
}

// LoadEnv loads .env files into the process environment without overriding
// variables that are already set. Missing files are skipped.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return errors.Wrapf(exception.ErrConfig, "load %s: %s", f, err.Error())
		}
	}
	return nil
}

// Load reads a YAML config file, applies PERPBOT_* environment overrides and
// defaults, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(exception.ErrConfig, "read %s: %s", path, err.Error())
	}
	return Parse(data)
}

// Parse is Load without the file read.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrapf(exception.ErrConfig, "parse yaml: %s", err.Error())
	}
	cfg.overrideWithEnv()
	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// overrideWithEnv lets secrets live outside the config file:
// PERPBOT_<ACCOUNT>_PRIVATE_KEY, PERPBOT_<ACCOUNT>_SIGNING_KEY,
// PERPBOT_<ACCOUNT>_JWT_TOKEN and PERPBOT_JOURNAL_PASSWORD.
func (c *Config) overrideWithEnv() {
	for i := range c.Accounts {
		a := &c.Accounts[i]
		prefix := envPrefix + envName(a.ID) + "_"
		if v, ok := os.LookupEnv(prefix + "PRIVATE_KEY"); ok && v != "" {
			a.PrivateKey = v
		}
		if v, ok := os.LookupEnv(prefix + "SIGNING_KEY"); ok && v != "" {
			a.SigningKey = v
		}
		if v, ok := os.LookupEnv(prefix + "JWT_TOKEN"); ok && v != "" {
			a.JWTToken = v
		}
	}
	if v, ok := os.LookupEnv(envPrefix + "JOURNAL_PASSWORD"); ok && v != "" {
		c.Journal.Password = v
	}
	if v, ok := os.LookupEnv(envPrefix + "JOURNAL_DSN"); ok && v != "" {
		c.Journal.DSN = v
	}
}

func envName(id string) string {
	var sb strings.Builder
	for _, r := range strings.ToUpper(id) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			sb.WriteRune(r)
		} else {
			sb.WriteByte('_')
		}
	}
	return sb.String()
}

func (c *Config) setDefaults() {
	if c.Exchange.KeyDir == "" {
		c.Exchange.KeyDir = defaultKeyDir
	}
	if c.Exchange.SigninTTL <= 0 {
		c.Exchange.SigninTTL = defaultSigninTTL
	}
	if c.Exchange.SignTimeout <= 0 {
		c.Exchange.SignTimeout = defaultSignTimeout
	}
	if c.Exchange.RequestTimeout <= 0 {
		c.Exchange.RequestTimeout = defaultRequestTimeout
	}
	if c.Profiling.AppName == "" {
		c.Profiling.AppName = "perpbot"
	}
}

// Validate reports the first problem found, wrapped in exception.ErrConfig.
func (c *Config) Validate() error {
	if !hasPrefix(c.Exchange.RestURL, "http://", "https://") {
		return errors.Wrapf(exception.ErrConfig, "invalid exchange rest_url %q", c.Exchange.RestURL)
	}
	if !hasPrefix(c.Exchange.WSURL, "ws://", "wss://") {
		return errors.Wrapf(exception.ErrConfig, "invalid exchange ws_url %q", c.Exchange.WSURL)
	}
	if c.MarketData.BackoffCap < 0 || c.MarketData.BackoffBase < 0 || c.MarketData.MaxExponent < 0 {
		return errors.Wrap(exception.ErrConfig, "negative market data backoff")
	}
	if c.Profiling.Enabled && c.Profiling.ServerAddress == "" {
		return errors.Wrap(exception.ErrConfig, "profiling enabled without server_address")
	}

	accounts := make(map[string]struct{}, len(c.Accounts))
	for _, a := range c.Accounts {
		if a.ID == "" {
			return errors.Wrap(exception.ErrConfig, "account without id")
		}
		if _, dup := accounts[a.ID]; dup {
			return errors.Wrapf(exception.ErrConfig, "duplicate account id %q", a.ID)
		}
		accounts[a.ID] = struct{}{}
		if err := a.validate(); err != nil {
			return err
		}
	}

	tasks := make(map[string]struct{}, len(c.Tasks))
	for _, t := range c.Tasks {
		if t.ID == "" {
			return errors.Wrap(exception.ErrConfig, "task without id")
		}
		if _, dup := tasks[t.ID]; dup {
			return errors.Wrapf(exception.ErrConfig, "duplicate task id %q", t.ID)
		}
		tasks[t.ID] = struct{}{}
		if _, ok := accounts[t.AccountID]; !ok {
			return errors.Wrapf(exception.ErrConfig, "task %q references unknown account %q", t.ID, t.AccountID)
		}
		if t.Symbol == "" {
			return errors.Wrapf(exception.ErrConfig, "task %q has no symbol", t.ID)
		}
		if _, err := t.Limits(); err != nil {
			return err
		}
		if _, ok, err := t.QuoterConfig(); ok && err != nil {
			return err
		}
	}
	return nil
}

func (a AccountConfig) validate() error {
	if _, err := a.ChainID(); err != nil {
		return errors.Wrapf(err, "account %q", a.ID)
	}
	if a.SigningKey != "" {
		if _, err := a.SigningSeed(); err != nil {
			return err
		}
	}
	switch {
	case a.PrivateKey != "":
		return nil
	case a.SigningKey != "" && a.JWTToken != "" && a.Address != "":
		return nil
	default:
		return errors.Wrapf(exception.ErrConfig,
			"account %q needs private_key, or signing_key with jwt_token and address", a.ID)
	}
}

// ChainID parses the account chain.
func (a AccountConfig) ChainID() (enum.Chain, error) {
	return enum.ParseChain(a.Chain)
}

// SigningSeed decodes the optional hex Ed25519 seed.
func (a AccountConfig) SigningSeed() ([]byte, error) {
	seed, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(a.SigningKey), "0x"))
	if err != nil {
		return nil, errors.Wrapf(exception.ErrConfig, "account %q signing_key is not hex", a.ID)
	}
	if len(seed) != 32 {
		return nil, errors.Wrapf(exception.ErrConfig, "account %q signing_key has %d bytes", a.ID, len(seed))
	}
	return seed, nil
}

// Limits resolves the risk section of a task.
func (t TaskConfig) Limits() (risk.Limits, error) {
	level, err := risk.ParseLevel(t.Risk.Level)
	if err != nil {
		return risk.Limits{}, errors.Wrapf(exception.ErrConfig, "task %q risk level %q", t.ID, t.Risk.Level)
	}
	budget, err := decimal.NewFromString(strings.TrimSpace(t.Risk.BudgetUSD))
	if err != nil || !budget.IsPositive() {
		return risk.Limits{}, errors.Wrapf(exception.ErrConfig, "task %q budget_usd %q must be positive", t.ID, t.Risk.BudgetUSD)
	}
	if t.Risk.MaxPriceDeviationBps < 0 {
		return risk.Limits{}, errors.Wrapf(exception.ErrConfig, "task %q negative max_price_deviation_bps", t.ID)
	}
	return risk.Limits{
		BudgetUSD:            budget,
		Level:                level,
		KillSwitch:           t.Risk.KillSwitch,
		MaxPriceDeviationBps: t.Risk.MaxPriceDeviationBps,
	}, nil
}

// QuoterConfig resolves the quoter section. ok is false when the section is
// absent and the task runs without a strategy.
func (t TaskConfig) QuoterConfig() (cfg strategy.QuoterConfig, ok bool, err error) {
	q := t.Quoter
	if q == (QuoterConfig{}) {
		return strategy.QuoterConfig{}, false, nil
	}
	cfg = strategy.QuoterConfig{SpreadBps: q.SpreadBps, PriceScale: q.PriceScale}
	if cfg.Qty, err = decimal.NewFromString(strings.TrimSpace(q.Qty)); err != nil {
		return cfg, true, errors.Wrapf(exception.ErrConfig, "task %q quoter qty %q", t.ID, q.Qty)
	}
	if q.MaxPosition != "" {
		if cfg.MaxPosition, err = decimal.NewFromString(strings.TrimSpace(q.MaxPosition)); err != nil {
			return cfg, true, errors.Wrapf(exception.ErrConfig, "task %q quoter max_position %q", t.ID, q.MaxPosition)
		}
	}
	if err := cfg.Validate(); err != nil {
		return cfg, true, errors.Wrapf(exception.ErrConfig, "task %q: %s", t.ID, err.Error())
	}
	return cfg, true, nil
}

// StartsAutomatically reports whether the task is started at launch.
func (t TaskConfig) StartsAutomatically() bool {
	return t.AutoStart == nil || *t.AutoStart
}

// Backoff converts the market data section, zero fields taking defaults.
func (m MarketDataConfig) Backoff() websocket.Backoff {
	b := websocket.DefaultBackoff()
	if m.BackoffBase > 0 {
		b.Base = m.BackoffBase
	}
	if m.BackoffCap > 0 {
		b.Cap = m.BackoffCap
	}
	if m.MaxExponent > 0 {
		b.MaxExponent = m.MaxExponent
	}
	return b
}

// Option converts the journal section into connection options.
func (j JournalConfig) Option() conn.Option {
	return conn.Option{
		Host:       j.Host,
		Port:       j.Port,
		User:       j.User,
		Password:   j.Password,
		Database:   j.Database,
		SSLMode:    j.SSLMode,
		Params:     j.Params,
		ConnString: j.DSN,
	}
}

func hasPrefix(s string, prefixes ...string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}
