package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix is prepended to every environment variable, e.g.
// LICENSOR_DATABASE_URL or LICENSOR_PAYPAL_CLIENT_ID.
const EnvPrefix = "LICENSOR"

// Duration accepts "15s" style strings from both JSON and the environment.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		// plain numbers are seconds
		var n int64
		if err := json.Unmarshal(b, &n); err != nil {
			return fmt.Errorf("invalid duration %s", b)
		}
		d.Duration = time.Duration(n) * time.Second
		return nil
	}
	return d.Decode(s)
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// Decode implements envconfig.Decoder.
func (d *Duration) Decode(value string) error {
	v, err := time.ParseDuration(value)
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

type PayPal struct {
	ClientID     string   `json:"client_id" envconfig:"CLIENT_ID"`
	ClientSecret string   `json:"client_secret" envconfig:"CLIENT_SECRET"`
	Environment  string   `json:"environment" envconfig:"ENVIRONMENT"`
	Timeout      Duration `json:"timeout" envconfig:"TIMEOUT"`
}

type RateLimit struct {
	Requests int64    `json:"requests" envconfig:"REQUESTS"`
	Period   Duration `json:"period" envconfig:"PERIOD"`
}

type Config struct {
	ListenAddr  string `json:"listen_addr" envconfig:"LISTEN_ADDR"`
	DatabaseURL string `json:"database_url" envconfig:"DATABASE_URL"`

	// CORS
	AllowedOrigins []string `json:"allowed_origins" envconfig:"ALLOWED_ORIGINS"`

	// Zero records no expiration date
	LicenseValidity Duration `json:"license_validity" envconfig:"LICENSE_VALIDITY"`
	// Refuse to redeem keys past their expiration date
	EnforceExpiry   bool     `json:"enforce_expiry" envconfig:"ENFORCE_EXPIRY"`

	PurchaseAmount string `json:"purchase_amount" envconfig:"PURCHASE_AMOUNT"`
	DisplayAmount  string `json:"display_amount" envconfig:"DISPLAY_AMOUNT"`
	Currency       string `json:"currency" envconfig:"CURRENCY"`

	PayPal    PayPal    `json:"paypal" envconfig:"PAYPAL"`
	RateLimit RateLimit `json:"rate_limit" envconfig:"RATE_LIMIT"`
	RedisURL  string    `json:"redis_url" envconfig:"REDIS_URL"`

	LogLevel string `json:"log_level" envconfig:"LOG_LEVEL"`
	LogFile  string `json:"log_file" envconfig:"LOG_FILE"`

	// Secret for admin session tokens; generated and stored in settings when empty
	SecretKey     string `json:"secret_key" envconfig:"SECRET_KEY"`
	SecureCookies bool   `json:"secure_cookies" envconfig:"SECURE_COOKIES"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		ListenAddr:      ":5000",
		DatabaseURL:     "file:./data/licensor.db",
		AllowedOrigins:  []string{"*"},
		LicenseValidity: Duration{365 * 24 * time.Hour},
		PurchaseAmount:  "29.99",
		DisplayAmount:   "30.00",
		Currency:        "USD",
		PayPal: PayPal{
			Environment: "live",
			Timeout:     Duration{15 * time.Second},
		},
		RateLimit: RateLimit{
			Requests: 120,
			Period:   Duration{time.Minute},
		},
		LogLevel: "info",
	}
}

// Load starts from Default, overlays the JSON file at path (config.json when
// empty; a missing file is not an error) and then LICENSOR_* environment
// variables.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = "config.json"
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
		// defaults
	default:
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return errors.New("database_url is required")
	}
	if c.ListenAddr == "" {
		return errors.New("listen_addr is required")
	}
	if c.LicenseValidity.Duration < 0 {
		return errors.New("license_validity must not be negative")
	}
	for name, v := range map[string]string{"purchase_amount": c.PurchaseAmount, "display_amount": c.DisplayAmount} {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f <= 0 {
			return fmt.Errorf("%s must be a positive decimal, got %q", name, v)
		}
	}
	if len(c.Currency) != 3 {
		return fmt.Errorf("currency must be an ISO 4217 code, got %q", c.Currency)
	}
	switch c.PayPal.Environment {
	case "live", "sandbox":
	default:
		return fmt.Errorf("paypal.environment must be live or sandbox, got %q", c.PayPal.Environment)
	}
	if c.PayPal.Timeout.Duration <= 0 {
		return errors.New("paypal.timeout must be positive")
	}
	if c.RateLimit.Requests < 0 {
		return errors.New("rate_limit.requests must not be negative")
	}
	if c.RateLimit.Requests > 0 && c.RateLimit.Period.Duration <= 0 {
		return errors.New("rate_limit.period must be positive")
	}
	return nil
}

// PaymentConfigured reports whether PayPal credentials are present.
func (c *Config) PaymentConfigured() bool {
	return c.PayPal.ClientID != "" && c.PayPal.ClientSecret != ""
}
