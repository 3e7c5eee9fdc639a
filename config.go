package identity

import (
	"time"

	"github.com/caarlos0/env/v11"
	validation "github.com/go-ozzo/ozzo-validation"
	goerrors "github.com/goliatone/go-errors"
	"github.com/joho/godotenv"
)

// Config carries everything the composition root needs, loaded from the
// environment with optional .env support
type Config struct {
	ServerPort  int    `env:"PORT" envDefault:"8080"`
	Environment string `env:"APP_ENV" envDefault:"development"`
	Debug       bool   `env:"APP_DEBUG" envDefault:"false"`

	DatabaseDSN string `env:"DATABASE_DSN" envDefault:"file:identity.db?cache=shared&_pragma=foreign_keys(1)"`

	AccessSecret  string        `env:"JWT_ACCESS_SECRET" envDefault:"dev-access-secret"`
	RefreshSecret string        `env:"JWT_REFRESH_SECRET" envDefault:"dev-refresh-secret"`
	AccessTTL     time.Duration `env:"JWT_ACCESS_EXPIRY" envDefault:"15m"`
	RefreshTTL    time.Duration `env:"JWT_REFRESH_EXPIRY" envDefault:"168h"`
	Issuer        string        `env:"JWT_ISSUER" envDefault:"go-identity"`

	SMTPHost  string `env:"SMTP_HOST" envDefault:"localhost"`
	SMTPPort  int    `env:"SMTP_PORT" envDefault:"2525"`
	SMTPUser  string `env:"SMTP_USER"`
	SMTPPass  string `env:"SMTP_PASS"`
	EmailFrom string `env:"EMAIL_FROM" envDefault:"noreply@localhost"`
	AppURL    string `env:"APP_URL" envDefault:"http://localhost:3000"`

	CookieDomain string `env:"COOKIE_DOMAIN"`
}

// LoadConfig reads .env when present, then the process environment
func LoadConfig() (*Config, error) {
	// missing .env is fine, environment variables may be set directly
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "failed to parse environment configuration")
	}

	if err := cfg.Validate(); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "invalid configuration").
			WithMetadata(map[string]any{
				"fields": FormatValidationErrorToMap(err),
			})
	}

	return cfg, nil
}

// Validate enforces the settings a running server cannot do without
func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.ServerPort, validation.Required, validation.Min(1), validation.Max(65535)),
		validation.Field(&c.DatabaseDSN, validation.Required),
		validation.Field(&c.AccessSecret, validation.Required),
		validation.Field(&c.RefreshSecret, validation.Required),
		validation.Field(&c.AccessTTL, validation.Required),
		validation.Field(&c.RefreshTTL, validation.Required),
		validation.Field(&c.Issuer, validation.Required),
	)
}

// IsProduction reports whether secure cookie defaults should be enforced
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) GetAccessSigningKey() string       { return c.AccessSecret }
func (c *Config) GetRefreshSigningKey() string      { return c.RefreshSecret }
func (c *Config) GetAccessTokenTTL() time.Duration  { return c.AccessTTL }
func (c *Config) GetRefreshTokenTTL() time.Duration { return c.RefreshTTL }
func (c *Config) GetIssuer() string                 { return c.Issuer }

func (c *Config) GetSMTPHost() string  { return c.SMTPHost }
func (c *Config) GetSMTPPort() int     { return c.SMTPPort }
func (c *Config) GetSMTPUser() string  { return c.SMTPUser }
func (c *Config) GetSMTPPass() string  { return c.SMTPPass }
func (c *Config) GetEmailFrom() string { return c.EmailFrom }
func (c *Config) GetAppURL() string    { return c.AppURL }

var (
	_ TokenConfig  = (*Config)(nil)
	_ MailerConfig = (*Config)(nil)
)
