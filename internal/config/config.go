// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"crypto-payment-gate/internal/domain/model"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type ServerConfig struct {
	Port           int           `yaml:"port" validate:"gte=0,lte=65535"`
	PublicURL      string        `yaml:"public_url" validate:"omitempty,url"` // used in retry instructions
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

type LogConfig struct {
	Level    string `yaml:"level" validate:"omitempty,oneof=trace debug info warn error"`
	Format   string `yaml:"format" validate:"omitempty,oneof=json console"`
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

// DatabaseConfig selects Postgres storage. An empty URL keeps state in process memory.
type DatabaseConfig struct {
	URL      string `yaml:"url"`
	MaxConns int32  `yaml:"max_conns"`
}

// RedisConfig enables the shared rate limiter, price cache and sweep lock.
type RedisConfig struct {
	URL      string        `yaml:"url"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

type PaymentConfig struct {
	TTL           time.Duration `yaml:"ttl"`            // settlement window, 15m by default
	VerifyTimeout time.Duration `yaml:"verify_timeout"` // upper bound for one chain query
	PollInterval  time.Duration `yaml:"poll_interval"`  // AwaitPayment interval
	PollTimeout   time.Duration `yaml:"poll_timeout"`   // AwaitPayment budget
}

type RateLimitConfig struct {
	Enabled      bool          `yaml:"enabled"`
	FreeRequests int           `yaml:"free_requests" validate:"gte=0"`
	PaidRequests int           `yaml:"paid_requests"` // <= 0 means unlimited
	Window       time.Duration `yaml:"window"`
}

type EndpointPriceConfig struct {
	Pattern     string          `yaml:"pattern" validate:"required"`
	USD         decimal.Decimal `yaml:"usd"`
	Description string          `yaml:"description"`
}

type IntervalPriceConfig struct {
	USD    decimal.Decimal                 `yaml:"usd"`
	Native map[model.Chain]decimal.Decimal `yaml:"native"`
}

type TierConfig struct {
	ID          string                                        `yaml:"id" validate:"required"`
	Name        string                                        `yaml:"name"`
	Description string                                        `yaml:"description"`
	Features    []string                                      `yaml:"features"`
	Prices      map[model.BillingInterval]IntervalPriceConfig `yaml:"prices" validate:"required,min=1"`
}

type PricingConfig struct {
	Endpoints []EndpointPriceConfig `yaml:"endpoints" validate:"dive"`
	Tiers     []TierConfig          `yaml:"tiers" validate:"dive"`
}

type SolanaConfig struct {
	Enabled   bool   `yaml:"enabled"`
	RPCURL    string `yaml:"rpc_url" validate:"omitempty,url"`
	Recipient string `yaml:"recipient"` // base58 wallet
	Label     string `yaml:"label"`
}

type LightningConfig struct {
	Enabled       bool          `yaml:"enabled"`
	LNDURL        string        `yaml:"lnd_url" validate:"omitempty,url"`
	Macaroon      string        `yaml:"macaroon"` // hex encoded invoice macaroon
	InvoiceExpiry time.Duration `yaml:"invoice_expiry"`
}

type BaseConfig struct {
	Enabled      bool   `yaml:"enabled"`
	RPCURL       string `yaml:"rpc_url" validate:"omitempty,url"`
	ChainID      int64  `yaml:"chain_id"`
	Recipient    string `yaml:"recipient"`
	USDCContract string `yaml:"usdc_contract"`
}

type ChainsConfig struct {
	Solana    SolanaConfig    `yaml:"solana"`
	Lightning LightningConfig `yaml:"lightning"`
	Base      BaseConfig      `yaml:"base"`
}

type OracleConfig struct {
	BaseURL  string        `yaml:"base_url" validate:"omitempty,url"`
	APIKey   string        `yaml:"api_key"`
	CacheTTL time.Duration `yaml:"cache_ttl"`
	Timeout  time.Duration `yaml:"timeout"`
}

type AuthConfig struct {
	HMACSecret     string        `yaml:"hmac_secret"`
	AccessTokenTTL time.Duration `yaml:"access_token_ttl"`
}

type NotifyConfig struct {
	Telegram struct {
		Token  string `yaml:"token"`
		ChatID int64  `yaml:"chat_id"`
	} `yaml:"telegram"`
}

type SchedulerConfig struct {
	ExpirySweepInterval time.Duration `yaml:"expiry_sweep_interval"`
}

type WorkerConfig struct {
	Count int `yaml:"count"`
}

// MerchantConfig names the seller in 402 offers and wallet prompts on every chain.
type MerchantConfig struct {
	Label string `yaml:"label"`
}

type Config struct {
	Merchant  MerchantConfig  `yaml:"merchant"`
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Payment   PaymentConfig   `yaml:"payment"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Pricing   PricingConfig   `yaml:"pricing"`
	Chains    ChainsConfig    `yaml:"chains"`
	Oracle    OracleConfig    `yaml:"oracle"`
	Auth      AuthConfig      `yaml:"auth"`
	Notify    NotifyConfig    `yaml:"notify"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Workers   WorkerConfig    `yaml:"workers"`

	Runtime RuntimeConfig `yaml:"-"`
}

// LoadConfig reads the YAML file at path. ${VAR} references are expanded from the
// environment, after an optional .env file next to the process has been loaded.
func LoadConfig(path string, dev bool) (*Config, error) {
	_ = godotenv.Load()

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse([]byte(os.ExpandEnv(string(b))))
	if err != nil {
		return nil, err
	}
	cfg.Runtime.Dev = dev
	return cfg, nil
}

// Parse decodes, defaults and validates a YAML document.
func Parse(b []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout <= 0 {
		cfg.Server.ReadTimeout = 10 * time.Second
	}
	if cfg.Server.WriteTimeout <= 0 {
		cfg.Server.WriteTimeout = 30 * time.Second
	}
	if cfg.Server.RequestTimeout <= 0 {
		cfg.Server.RequestTimeout = 20 * time.Second
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Database.MaxConns <= 0 {
		cfg.Database.MaxConns = 10
	}
	cfg.Redis.TTL = normalizeTTL(cfg.Redis.TTL)
	if cfg.Payment.TTL <= 0 {
		cfg.Payment.TTL = model.DefaultPaymentTTL
	}
	if cfg.Payment.VerifyTimeout <= 0 {
		cfg.Payment.VerifyTimeout = 15 * time.Second
	}
	if cfg.Payment.PollInterval <= 0 {
		cfg.Payment.PollInterval = 3 * time.Second
	}
	if cfg.Payment.PollTimeout <= 0 {
		cfg.Payment.PollTimeout = 2 * time.Minute
	}
	// a poll must end before the request deadline so the answer still reaches the caller
	if limit := cfg.Server.RequestTimeout * 3 / 4; cfg.Payment.PollTimeout > limit {
		cfg.Payment.PollTimeout = limit
	}
	if cfg.RateLimit.Window <= 0 {
		cfg.RateLimit.Window = time.Minute
	}
	if cfg.Merchant.Label == "" {
		cfg.Merchant.Label = cfg.Chains.Solana.Label
	}
	if cfg.Merchant.Label == "" {
		cfg.Merchant.Label = "Payment"
	}
	if cfg.Chains.Solana.Label == "" {
		cfg.Chains.Solana.Label = cfg.Merchant.Label
	}
	if cfg.Chains.Lightning.InvoiceExpiry <= 0 {
		cfg.Chains.Lightning.InvoiceExpiry = 15 * time.Minute
	}
	if cfg.Chains.Base.ChainID == 0 {
		cfg.Chains.Base.ChainID = 8453
	}
	if cfg.Chains.Base.USDCContract == "" {
		cfg.Chains.Base.USDCContract = "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"
	}
	if cfg.Oracle.BaseURL == "" {
		cfg.Oracle.BaseURL = "https://api.coingecko.com/api/v3"
	}
	if cfg.Oracle.CacheTTL <= 0 {
		cfg.Oracle.CacheTTL = time.Minute
	}
	if cfg.Oracle.Timeout <= 0 {
		cfg.Oracle.Timeout = 10 * time.Second
	}
	if cfg.Auth.AccessTokenTTL <= 0 {
		cfg.Auth.AccessTokenTTL = time.Hour
	}
	if cfg.Scheduler.ExpirySweepInterval <= 0 {
		cfg.Scheduler.ExpirySweepInterval = time.Minute
	}
	if cfg.Workers.Count <= 0 {
		cfg.Workers.Count = 4
	}
}

var structValidator = validator.New()

func validate(cfg *Config) error {
	if err := structValidator.Struct(cfg); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}

	// Minimal cross-field validation
	c := cfg.Chains
	if !c.Solana.Enabled && !c.Lightning.Enabled && !c.Base.Enabled {
		return errors.New("at least one of chains.solana, chains.lightning, chains.base must be enabled")
	}
	if c.Solana.Enabled && (c.Solana.RPCURL == "" || c.Solana.Recipient == "") {
		return errors.New("chains.solana.rpc_url and chains.solana.recipient are required")
	}
	if c.Lightning.Enabled && c.Lightning.LNDURL == "" {
		return errors.New("chains.lightning.lnd_url is required")
	}
	if c.Base.Enabled && (c.Base.RPCURL == "" || c.Base.Recipient == "") {
		return errors.New("chains.base.rpc_url and chains.base.recipient are required")
	}
	for _, e := range cfg.Pricing.Endpoints {
		if !e.USD.IsPositive() {
			return fmt.Errorf("pricing.endpoints[%s].usd must be positive", e.Pattern)
		}
	}
	for _, t := range cfg.Pricing.Tiers {
		for interval, p := range t.Prices {
			if !interval.Valid() {
				return fmt.Errorf("pricing.tiers[%s]: unknown interval %q", t.ID, interval)
			}
			if !p.USD.IsPositive() {
				return fmt.Errorf("pricing.tiers[%s].prices.%s.usd must be positive", t.ID, interval)
			}
		}
	}
	if cfg.Auth.HMACSecret != "" && len(cfg.Auth.HMACSecret) < 32 {
		return errors.New("auth.hmac_secret must be at least 32 bytes")
	}
	return nil
}

// EndpointPricing converts the configured endpoint prices to domain values.
func (c *Config) EndpointPricing() []model.EndpointPricing {
	out := make([]model.EndpointPricing, 0, len(c.Pricing.Endpoints))
	for _, e := range c.Pricing.Endpoints {
		out = append(out, model.EndpointPricing{Pattern: e.Pattern, USD: e.USD, Description: e.Description})
	}
	return out
}

// Tiers converts the configured tiers to domain values keyed by tier id.
func (c *Config) Tiers() map[string]*model.TierPricing {
	out := make(map[string]*model.TierPricing, len(c.Pricing.Tiers))
	for _, t := range c.Pricing.Tiers {
		tp := &model.TierPricing{
			ID:          t.ID,
			Name:        t.Name,
			Description: t.Description,
			Features:    t.Features,
			Prices:      make(map[model.BillingInterval]model.IntervalPrice, len(t.Prices)),
		}
		for interval, p := range t.Prices {
			tp.Prices[interval] = model.IntervalPrice{USD: p.USD, Native: p.Native}
		}
		out[t.ID] = tp
	}
	return out
}

func normalizeTTL(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Hour
	}
	return d
}
