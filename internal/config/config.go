package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type DatabaseConfig struct {
	URL           string `yaml:"url"`
	MaxConns      int32  `yaml:"max_conns"`
	MigrationsDir string `yaml:"migrations_dir"`
}

type RedisConfig struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type HTTPConfig struct {
	APIPort     int `yaml:"api_port"`
	MetricsPort int `yaml:"metrics_port"`
}

type AuthConfig struct {
	AdminAPIKey string        `yaml:"admin_api_key"`
	JWTSecret   string        `yaml:"jwt_secret"`
	TokenTTL    time.Duration `yaml:"token_ttl"`
}

type CryptoProviderConfig struct {
	APIKey      string `yaml:"api_key"`
	IPNSecret   string `yaml:"ipn_secret"`
	BaseURL     string `yaml:"base_url"`
	PayCurrency string `yaml:"pay_currency"` // default settlement currency, e.g. "btc"
}

type CardProviderConfig struct {
	SecretKey     string `yaml:"secret_key"`
	WebhookSecret string `yaml:"webhook_secret"`
	SuccessURL    string `yaml:"success_url"`
	CancelURL     string `yaml:"cancel_url"`
}

type ProvidersConfig struct {
	Crypto CryptoProviderConfig `yaml:"crypto"`
	Card   CardProviderConfig   `yaml:"card"`
}

type MonitorConfig struct {
	Interval        time.Duration `yaml:"interval"`
	ProviderTimeout time.Duration `yaml:"provider_timeout"`
	BatchSize       int           `yaml:"batch_size"`
	RetryAttempts   int           `yaml:"retry_attempts"`
	RetryBackoff    time.Duration `yaml:"retry_backoff"`
	Workers         int           `yaml:"workers"`
}

type AllocationConfig struct {
	// USDCreditRate converts a priced USD amount into credits. Default 1:1.
	USDCreditRate string        `yaml:"usd_credit_rate"`
	MinPaidRatio  string        `yaml:"min_paid_ratio"` // underpayment tolerance, default 0.95
	CacheTTL      time.Duration `yaml:"cache_ttl"`      // idempotency cache TTL
}

type FailureConfig struct {
	RetryLimit     int           `yaml:"retry_limit"`
	AlertThreshold int           `yaml:"alert_threshold"`
	RecordTTL      time.Duration `yaml:"record_ttl"`
}

type NotifyConfig struct {
	TelegramToken string `yaml:"telegram_token"`
	AdminChatID   int64  `yaml:"admin_chat_id"`
}

type SecurityConfig struct {
	EncryptionKey string `yaml:"encryption_key"`
}

type Config struct {
	Log        LogConfig        `yaml:"log"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	HTTP       HTTPConfig       `yaml:"http"`
	Auth       AuthConfig       `yaml:"auth"`
	Providers  ProvidersConfig  `yaml:"providers"`
	Monitor    MonitorConfig    `yaml:"monitor"`
	Allocation AllocationConfig `yaml:"allocation"`
	Failure    FailureConfig    `yaml:"failure"`
	Notify     NotifyConfig     `yaml:"notify"`
	Security   SecurityConfig   `yaml:"security"`

	Runtime RuntimeConfig `yaml:"-"`
}

// Load reads the YAML config at path and applies defaults for anything the
// file leaves out.
func Load(path string, dev bool) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.Runtime.Dev = dev
	cfg.applyDefaults()
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Database.MaxConns <= 0 {
		cfg.Database.MaxConns = 10
	}
	if cfg.Database.MigrationsDir == "" {
		cfg.Database.MigrationsDir = "migrations"
	}
	if cfg.HTTP.APIPort <= 0 {
		cfg.HTTP.APIPort = 8080
	}
	if cfg.HTTP.MetricsPort <= 0 {
		cfg.HTTP.MetricsPort = 9090
	}
	if cfg.Auth.TokenTTL <= 0 {
		cfg.Auth.TokenTTL = 30 * time.Minute
	}
	if cfg.Providers.Crypto.BaseURL == "" {
		cfg.Providers.Crypto.BaseURL = "https://api.nowpayments.io/v1"
	}
	if cfg.Providers.Crypto.PayCurrency == "" {
		cfg.Providers.Crypto.PayCurrency = "btc"
	}
	if cfg.Monitor.Interval <= 0 {
		cfg.Monitor.Interval = time.Minute
	}
	if cfg.Monitor.ProviderTimeout <= 0 {
		cfg.Monitor.ProviderTimeout = 10 * time.Second
	}
	if cfg.Monitor.BatchSize <= 0 {
		cfg.Monitor.BatchSize = 200
	}
	if cfg.Monitor.RetryAttempts <= 0 {
		cfg.Monitor.RetryAttempts = 3
	}
	if cfg.Monitor.RetryBackoff <= 0 {
		cfg.Monitor.RetryBackoff = 2 * time.Second
	}
	if cfg.Monitor.Workers <= 0 {
		cfg.Monitor.Workers = 8
	}
	if cfg.Allocation.USDCreditRate == "" {
		cfg.Allocation.USDCreditRate = "1"
	}
	if cfg.Allocation.MinPaidRatio == "" {
		cfg.Allocation.MinPaidRatio = "0.95"
	}
	if cfg.Allocation.CacheTTL <= 0 {
		// on the order of the payment's monitoring window
		cfg.Allocation.CacheTTL = 24 * time.Hour
	}
	if cfg.Failure.RetryLimit <= 0 {
		cfg.Failure.RetryLimit = 3
	}
	if cfg.Failure.AlertThreshold <= 0 {
		cfg.Failure.AlertThreshold = 5
	}
	if cfg.Failure.RecordTTL <= 0 {
		cfg.Failure.RecordTTL = 48 * time.Hour
	}
}
