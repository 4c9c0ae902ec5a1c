package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config carries all process-level settings. Values come from the
// environment; the role matrix itself is loaded separately from
// RoleMatrixPath because a malformed matrix must be startup-fatal.
type Config struct {
	Addr    string `env:"AUTOACCESS_ADDR" envDefault:":8080"`
	PGDSN   string `env:"AUTOACCESS_PG_DSN"`
	APIKey  string `env:"AUTOACCESS_API_KEY"`
	Version string `env:"AUTOACCESS_VERSION" envDefault:"dev"`

	RoleMatrixPath string `env:"AUTOACCESS_ROLE_MATRIX"`

	SessionSecret string        `env:"AUTOACCESS_SESSION_SECRET"`
	SessionTTL    time.Duration `env:"AUTOACCESS_SESSION_TTL" envDefault:"8h"`
	OTPTTL        time.Duration `env:"AUTOACCESS_OTP_TTL" envDefault:"5m"`

	RateBurst  int `env:"AUTOACCESS_RATE_BURST" envDefault:"20"`
	RatePerSec int `env:"AUTOACCESS_RATE_PER_SEC" envDefault:"10"`

	SMTPHost     string `env:"SMTP_HOST"`
	SMTPPort     int    `env:"SMTP_PORT" envDefault:"587"`
	SMTPUsername string `env:"SMTP_USERNAME"`
	SMTPPassword string `env:"SMTP_PASSWORD"`

	EmailFrom    string `env:"EMAIL_FROM" envDefault:"it-automation@company.com"`
	EmailLogPath string `env:"AUTOACCESS_EMAIL_LOG" envDefault:"data/sent_emails.txt"`

	HRSummaryEmail string `env:"AUTOACCESS_HR_SUMMARY_EMAIL" envDefault:"hr-ops@company.com"`
	ITSummaryEmail string `env:"AUTOACCESS_IT_SUMMARY_EMAIL" envDefault:"it-automation@company.com"`
	AdminEmail     string `env:"AUTOACCESS_ADMIN_EMAIL" envDefault:"admin@company.com"`
}

// Load parses the environment into a Config and validates it.
func Load() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("config: parse environment: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// UseSMTP reports whether a real SMTP transport is configured. When false
// the service falls back to the append-only email log sender.
func (c Config) UseSMTP() bool {
	return c.SMTPHost != ""
}

func (c Config) validate() error {
	if c.OTPTTL <= 0 {
		return fmt.Errorf("config: AUTOACCESS_OTP_TTL must be positive")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("config: AUTOACCESS_SESSION_TTL must be positive")
	}
	if c.RateBurst <= 0 || c.RatePerSec <= 0 {
		return fmt.Errorf("config: rate limit settings must be positive")
	}
	if c.UseSMTP() {
		if c.SMTPPort == 0 {
			return fmt.Errorf("config: SMTP_PORT is required when SMTP_HOST is set")
		}
		if c.EmailFrom == "" {
			return fmt.Errorf("config: EMAIL_FROM is required when SMTP_HOST is set")
		}
	}
	return nil
}
