package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port             string        `mapstructure:"PORT"`
	Env              string        `mapstructure:"ENV"`
	CORSOrigins      []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS     float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst   int           `mapstructure:"RATE_LIMIT_BURST"`
	RequestTimeout   time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	BodyLimit        string        `mapstructure:"BODY_LIMIT"`
	DefaultTotalBeds int           `mapstructure:"DEFAULT_TOTAL_BEDS"`

	GeoBaseURL    string        `mapstructure:"GEO_BASE_URL"`
	GeoUserAgent  string        `mapstructure:"GEO_USER_AGENT"`
	GeoTimeout    time.Duration `mapstructure:"GEO_TIMEOUT"`
	GeoMaxResults int           `mapstructure:"GEO_MAX_RESULTS"`

	TriageURL     string        `mapstructure:"TRIAGE_URL"`
	TriageAPIKey  string        `mapstructure:"TRIAGE_API_KEY"`
	TriageTimeout time.Duration `mapstructure:"TRIAGE_TIMEOUT"`

	WebhookTimeout    time.Duration `mapstructure:"WEBHOOK_TIMEOUT"`
	WebhookMaxRetries int           `mapstructure:"WEBHOOK_MAX_RETRIES"`
	WebhookWorkers    int           `mapstructure:"WEBHOOK_WORKERS"`

	TLSEnabled  bool   `mapstructure:"TLS_ENABLED"`
	TLSCertFile string `mapstructure:"TLS_CERT_FILE"`
	TLSKeyFile  string `mapstructure:"TLS_KEY_FILE"`
}

var keys = []string{
	"PORT", "ENV", "CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
	"REQUEST_TIMEOUT", "BODY_LIMIT", "DEFAULT_TOTAL_BEDS",
	"GEO_BASE_URL", "GEO_USER_AGENT", "GEO_TIMEOUT", "GEO_MAX_RESULTS",
	"TRIAGE_URL", "TRIAGE_API_KEY", "TRIAGE_TIMEOUT",
	"WEBHOOK_TIMEOUT", "WEBHOOK_MAX_RETRIES", "WEBHOOK_WORKERS",
	"TLS_ENABLED", "TLS_CERT_FILE", "TLS_KEY_FILE",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("BODY_LIMIT", "64K")
	v.SetDefault("DEFAULT_TOTAL_BEDS", 10)
	v.SetDefault("GEO_BASE_URL", "https://nominatim.openstreetmap.org")
	v.SetDefault("GEO_USER_AGENT", "EmergencyAI/1.0")
	v.SetDefault("GEO_TIMEOUT", "15s")
	v.SetDefault("GEO_MAX_RESULTS", 5)
	v.SetDefault("TRIAGE_TIMEOUT", "20s")
	v.SetDefault("WEBHOOK_TIMEOUT", "10s")
	v.SetDefault("WEBHOOK_MAX_RETRIES", 3)
	v.SetDefault("WEBHOOK_WORKERS", 2)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}
	for i, o := range cfg.CORSOrigins {
		cfg.CORSOrigins[i] = strings.TrimSpace(o)
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks that the configuration is safe to run. Production needs a
// real triage oracle; there is no local fallback for classification.
func (c *Config) Validate() error {
	if c.Env != "development" && c.Env != "production" {
		return fmt.Errorf("ENV must be \"development\" or \"production\", got %q", c.Env)
	}
	if c.DefaultTotalBeds <= 0 {
		return fmt.Errorf("DEFAULT_TOTAL_BEDS must be positive, got %d", c.DefaultTotalBeds)
	}
	if c.IsProduction() && c.TriageURL == "" {
		return fmt.Errorf("TRIAGE_URL is required in production")
	}

	timeouts := []struct {
		name string
		d    time.Duration
	}{
		{"REQUEST_TIMEOUT", c.RequestTimeout},
		{"GEO_TIMEOUT", c.GeoTimeout},
		{"TRIAGE_TIMEOUT", c.TriageTimeout},
		{"WEBHOOK_TIMEOUT", c.WebhookTimeout},
	}
	for _, t := range timeouts {
		if t.d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", t.name, t.d)
		}
	}

	if c.WebhookMaxRetries < 0 || c.WebhookWorkers <= 0 {
		return fmt.Errorf("WEBHOOK_MAX_RETRIES must be >= 0 and WEBHOOK_WORKERS positive")
	}

	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive")
	}

	// TLS validation: when TLS is enabled, cert and key files must be specified.
	if c.TLSEnabled {
		if c.TLSCertFile == "" {
			return fmt.Errorf("TLS_CERT_FILE is required when TLS_ENABLED is true")
		}
		if c.TLSKeyFile == "" {
			return fmt.Errorf("TLS_KEY_FILE is required when TLS_ENABLED is true")
		}
	}

	return nil
}
