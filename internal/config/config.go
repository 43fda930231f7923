package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"CreatorDeals/internal/pricing"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`
	DB struct {
		Driver   string `yaml:"driver"`
		DSN      string `yaml:"dsn"`
		MaxConns int32  `yaml:"max_conns"`
	} `yaml:"db"`
	Margin struct {
		Rate string `yaml:"rate"`
	} `yaml:"margin"`
	Processor struct {
		Provider             string `yaml:"provider"`
		StripeSecretKey      string `yaml:"stripe_secret_key"`
		OnboardingRefreshURL string `yaml:"onboarding_refresh_url"`
		OnboardingReturnURL  string `yaml:"onboarding_return_url"`
		SandboxAutoOnboard   bool   `yaml:"sandbox_auto_onboard"`

		// TransferTimeoutSeconds bounds one settlement attempt's processor calls.
		TransferTimeoutSeconds int `yaml:"transfer_timeout_seconds"`
	} `yaml:"processor"`
	Worker struct {
		Schedule          string `yaml:"schedule"`
		StaleAfterMinutes int    `yaml:"stale_after_minutes"`
	} `yaml:"worker"`
	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
}

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"

	ProviderStripe  = "stripe"
	ProviderSandbox = "sandbox"
)

func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		path = "configs/config.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Addr == "" {
		return errors.New("server.addr is required")
	}
	switch c.DB.Driver {
	case DriverPostgres:
		if c.DB.DSN == "" {
			return errors.New("db.dsn is required")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("db.driver %q is not supported", c.DB.Driver)
	}
	rate, err := decimal.NewFromString(c.Margin.Rate)
	if err != nil {
		return fmt.Errorf("margin.rate: %w", err)
	}
	if err := pricing.ValidateRate(rate); err != nil {
		return fmt.Errorf("margin.rate: %w", err)
	}
	switch c.Processor.Provider {
	case ProviderStripe:
		if c.Processor.StripeSecretKey == "" {
			return errors.New("processor.stripe_secret_key is required")
		}
		if c.Processor.OnboardingRefreshURL == "" || c.Processor.OnboardingReturnURL == "" {
			return errors.New("processor onboarding urls are required")
		}
	case ProviderSandbox:
	default:
		return fmt.Errorf("processor.provider %q is not supported", c.Processor.Provider)
	}
	if c.Processor.TransferTimeoutSeconds <= 0 {
		return errors.New("processor.transfer_timeout_seconds must be positive")
	}
	if c.Worker.StaleAfterMinutes <= 0 {
		return errors.New("worker.stale_after_minutes must be positive")
	}
	// Reconciliation would otherwise fail attempts still waiting on the processor.
	if c.StaleAfter() <= c.TransferTimeout() {
		return fmt.Errorf("worker.stale_after_minutes (%s) must exceed processor.transfer_timeout_seconds (%s)",
			c.StaleAfter(), c.TransferTimeout())
	}
	return nil
}

// MarginRate is the validated platform margin.
func (c *Config) MarginRate() decimal.Decimal {
	return decimal.RequireFromString(c.Margin.Rate)
}

func (c *Config) StaleAfter() time.Duration {
	return time.Duration(c.Worker.StaleAfterMinutes) * time.Minute
}

func (c *Config) TransferTimeout() time.Duration {
	return time.Duration(c.Processor.TransferTimeoutSeconds) * time.Second
}

func applyDefaults(cfg *Config) {
	if cfg.DB.Driver == "" {
		cfg.DB.Driver = DriverPostgres
	}
	if cfg.Processor.Provider == "" {
		cfg.Processor.Provider = ProviderSandbox
	}
	if cfg.Processor.TransferTimeoutSeconds == 0 {
		cfg.Processor.TransferTimeoutSeconds = 30
	}
	if cfg.Worker.Schedule == "" {
		cfg.Worker.Schedule = "@every 1m"
	}
	if cfg.Worker.StaleAfterMinutes == 0 {
		cfg.Worker.StaleAfterMinutes = 15
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("DB_DRIVER"); v != "" {
		cfg.DB.Driver = strings.ToLower(v)
	}
	if v := os.Getenv("DB_DSN"); v != "" {
		cfg.DB.DSN = v
	}
	if v := os.Getenv("DB_MAX_CONNS"); v != "" {
		cfg.DB.MaxConns = int32(atoiOr(int(cfg.DB.MaxConns), v))
	}
	if v := os.Getenv("MARGIN_RATE"); v != "" {
		cfg.Margin.Rate = strings.TrimSpace(v)
	}
	if v := os.Getenv("PROCESSOR_PROVIDER"); v != "" {
		cfg.Processor.Provider = strings.ToLower(v)
	}
	if v := os.Getenv("STRIPE_SECRET_KEY"); v != "" {
		cfg.Processor.StripeSecretKey = v
	}
	if v := os.Getenv("ONBOARDING_REFRESH_URL"); v != "" {
		cfg.Processor.OnboardingRefreshURL = v
	}
	if v := os.Getenv("ONBOARDING_RETURN_URL"); v != "" {
		cfg.Processor.OnboardingReturnURL = v
	}
	if v := os.Getenv("SANDBOX_AUTO_ONBOARD"); v != "" {
		cfg.Processor.SandboxAutoOnboard = boolOr(cfg.Processor.SandboxAutoOnboard, v)
	}
	if v := os.Getenv("TRANSFER_TIMEOUT_SECONDS"); v != "" {
		cfg.Processor.TransferTimeoutSeconds = atoiOr(cfg.Processor.TransferTimeoutSeconds, v)
	}
	if v := os.Getenv("WORKER_SCHEDULE"); v != "" {
		cfg.Worker.Schedule = v
	}
	if v := os.Getenv("WORKER_STALE_AFTER_MINUTES"); v != "" {
		cfg.Worker.StaleAfterMinutes = atoiOr(cfg.Worker.StaleAfterMinutes, v)
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
}

func atoiOr(fallback int, v string) int {
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func boolOr(fallback bool, v string) bool {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
