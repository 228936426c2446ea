package paygate

import (
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Addr          string `yaml:"addr"`
		WebhookSecret string `yaml:"webhook_secret"`
		AdminToken    string `yaml:"admin_token"`
	} `yaml:"server"`

	Database struct {
		// ConnectionString selects the Postgres store; the in-memory store
		// is used when it is empty.
		ConnectionString string `yaml:"conn_str"`
	} `yaml:"database"`

	Redis struct {
		// Addr enables the distributed account lock.
		Addr       string        `yaml:"addr"`
		Password   string        `yaml:"password"`
		DB         int           `yaml:"db"`
		LockExpiry time.Duration `yaml:"lock_expiry"`
	} `yaml:"redis"`

	Rates struct {
		URL     string        `yaml:"url"`
		Coin    string        `yaml:"coin"`
		Fiat    string        `yaml:"fiat"`
		Symbol  string        `yaml:"symbol"`
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"rates"`

	Ledger struct {
		URL           string        `yaml:"url"`
		APIKey        string        `yaml:"api_key"`
		Confirmations int           `yaml:"confirmations"`
		Timeout       time.Duration `yaml:"timeout"`
	} `yaml:"ledger"`

	Downstream struct {
		URL     string        `yaml:"url"`
		APIKey  string        `yaml:"api_key"`
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"downstream"`

	Telegram struct {
		APIURL     string        `yaml:"api_url"`
		Token      string        `yaml:"token"`
		WebhookURL string        `yaml:"webhook_url"`
		Timeout    time.Duration `yaml:"timeout"`
	} `yaml:"telegram"`

	Breaker BreakerConfig `yaml:"breaker"`

	Limits struct {
		Register  int64         `yaml:"register"`
		Profile   int64         `yaml:"profile"`
		Authorize int64         `yaml:"authorize"`
		Statement int64         `yaml:"statement"`
		Wait      time.Duration `yaml:"wait"`
	} `yaml:"limits"`

	// Node is the snowflake node id used for charge ids.
	Node     int64             `yaml:"node"`
	LogLevel string            `yaml:"log_level"`
	Catalog  []OperationConfig `yaml:"catalog"`
}

type BreakerConfig struct {
	MaxFailures uint32        `yaml:"max_failures"`
	OpenTimeout time.Duration `yaml:"open_timeout"`
}

// OperationConfig is the config form of an Operation. Price is a decimal
// string so it never passes through a float.
type OperationConfig struct {
	Kind        string   `yaml:"kind"`
	Description string   `yaml:"description"`
	Price       string   `yaml:"price"`
	Params      []string `yaml:"params"`
}

const defaultUpstreamTimeout = 10 * time.Second

// LoadConfig reads a YAML config file. ${VAR} references are expanded from
// the environment before decoding.
func LoadConfig(path string) (*Config, error) {
	bits, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseConfig(bits)
}

func ParseConfig(bits []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(bits))), &cfg); err != nil {
		return nil, err
	}
	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) setDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":3000"
	}
	if c.Redis.LockExpiry == 0 {
		c.Redis.LockExpiry = 30 * time.Second
	}
	if c.Rates.URL == "" {
		c.Rates.URL = "https://api.coingecko.com/api/v3/simple/price"
	}
	if c.Rates.Coin == "" {
		c.Rates.Coin = "bitcoin"
	}
	if c.Rates.Fiat == "" {
		c.Rates.Fiat = "usd"
	}
	if c.Rates.Symbol == "" {
		c.Rates.Symbol = "BTC"
	}
	if c.Rates.Timeout == 0 {
		c.Rates.Timeout = defaultUpstreamTimeout
	}
	if c.Ledger.URL == "" {
		c.Ledger.URL = "https://www.blockonomics.co"
	}
	if c.Ledger.Confirmations == 0 {
		c.Ledger.Confirmations = ConfirmationThreshold
	}
	if c.Ledger.Timeout == 0 {
		c.Ledger.Timeout = defaultUpstreamTimeout
	}
	if c.Downstream.Timeout == 0 {
		c.Downstream.Timeout = defaultUpstreamTimeout
	}
	if c.Telegram.APIURL == "" {
		c.Telegram.APIURL = "https://api.telegram.org"
	}
	if c.Telegram.Timeout == 0 {
		c.Telegram.Timeout = defaultUpstreamTimeout
	}
	if c.Breaker.MaxFailures == 0 {
		c.Breaker.MaxFailures = 5
	}
	if c.Breaker.OpenTimeout == 0 {
		c.Breaker.OpenTimeout = 30 * time.Second
	}
	if c.Limits.Register == 0 {
		c.Limits.Register = 16
	}
	if c.Limits.Profile == 0 {
		c.Limits.Profile = 64
	}
	if c.Limits.Authorize == 0 {
		c.Limits.Authorize = 64
	}
	if c.Limits.Statement == 0 {
		c.Limits.Statement = 8
	}
	if c.Limits.Wait == 0 {
		c.Limits.Wait = 2 * time.Second
	}
	if c.Node == 0 {
		c.Node = 1
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if len(c.Catalog) == 0 {
		c.Catalog = DefaultCatalog()
	}
}

func (c *Config) Validate() error {
	fields := map[string]string{}
	if c.Ledger.Confirmations < 0 {
		fields["ledger.confirmations"] = "must not be negative"
	}
	if c.Node < 0 || c.Node > 1023 {
		fields["node"] = "must be within 0-1023"
	}
	if c.Downstream.URL == "" {
		fields["downstream.url"] = "required"
	}
	if len(fields) > 0 {
		return ErrBadRequest{Fields: fields}
	}
	return nil
}

// Units returns the currency labels shown to users.
func (c *Config) Units() Units {
	return Units{
		Crypto: c.Rates.Symbol,
		Fiat:   strings.ToUpper(c.Rates.Fiat),
	}
}

// DefaultCatalog is used when the config file carries no catalog.
func DefaultCatalog() []OperationConfig {
	return []OperationConfig{
		{Kind: "dl", Description: "Directory listing lookup", Price: "10", Params: []string{"name", "city", "state"}},
		{Kind: "cs", Description: "Company summary", Price: "5", Params: []string{"company", "state"}},
		{Kind: "wx", Description: "Weather report", Price: "1", Params: []string{"city", "state"}},
	}
}
