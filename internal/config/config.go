package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration required by the API process.
// All values must come from env (or env-file loaded by the process runner).
// No business logic should depend on raw environment variables.
type Config struct {
	App       AppConfig
	Store     StoreConfig
	Redis     RedisConfig
	Twilio    TwilioConfig
	Auth      AuthConfig
	Queue     QueueConfig
	RateLimit RateLimitConfig
	Replay    ReplayConfig
	Ops       OpsConfig
}

type AppConfig struct {
	Env  string
	Port int
}

type StoreConfig struct {
	// Backend selects the relational store shape: "postgres" or "sqlite".
	Backend string

	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// SSLMode accepts: disable, require, verify-ca, verify-full
	SSLMode string

	// SQLitePath is used when Backend == "sqlite".
	SQLitePath string
}

type RedisConfig struct {
	// Host is optional; when absent the rate limiter falls back to the store.
	Host string
	Port int
}

type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	// FromNumber is the default outbound sender identity.
	FromNumber string
}

type AuthConfig struct {
	JWTSecret      string
	JWTIssuer      string
	JWTAudience    string
	AccessTokenTTL time.Duration
}

type QueueConfig struct {
	Workers      int
	ClaimBatch   int
	StuckTimeout time.Duration
	MaxRetries   int
	// MaxPollInterval caps the adaptive idle backoff.
	MaxPollInterval time.Duration
}

type RateLimitConfig struct {
	PerTenantPerMinute int
}

type ReplayConfig struct {
	// NATSURL enables the persisted deferred-replay queue when set.
	NATSURL string
}

type OpsConfig struct {
	// AdminPhone receives dead-letter and tenant-resolution alerts.
	AdminPhone string
	// DefaultTimezone is used when a tenant carries an unknown tz name.
	DefaultTimezone string
	// SafeMode blocks all real provider sends (sends are logged and marked sent).
	SafeMode bool
	// KillSwitch rejects all inbound webhook processing.
	KillSwitch bool
	// UnsubscribeSecret signs one-click unsubscribe tokens. Falls back to the
	// Twilio auth token when unset.
	UnsubscribeSecret string
}

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}

	c.Store.Backend = strings.TrimSpace(os.Getenv("DB_BACKEND"))
	c.Store.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	c.Store.Port = optInt("DB_PORT", 5432)
	c.Store.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.Store.Password = os.Getenv("DB_PASSWORD")
	c.Store.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.Store.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))
	c.Store.SQLitePath = strings.TrimSpace(os.Getenv("SQLITE_PATH"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	c.Redis.Port = optInt("REDIS_PORT", 6379)

	c.Twilio.AccountSID = strings.TrimSpace(os.Getenv("TWILIO_ACCOUNT_SID"))
	c.Twilio.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	c.Twilio.FromNumber = strings.TrimSpace(os.Getenv("TWILIO_FROM_NUMBER"))

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	c.Auth.AccessTokenTTL = optDuration("JWT_ACCESS_TTL")

	c.Queue.Workers = optInt("QUEUE_WORKERS", 0)
	c.Queue.ClaimBatch = optInt("QUEUE_CLAIM_BATCH", 0)
	c.Queue.StuckTimeout = optDuration("QUEUE_STUCK_TIMEOUT")
	c.Queue.MaxRetries = optInt("QUEUE_MAX_RETRIES", 0)
	c.Queue.MaxPollInterval = optDuration("QUEUE_MAX_POLL_INTERVAL")

	c.RateLimit.PerTenantPerMinute = optInt("RATE_LIMIT_PER_MINUTE", 0)

	c.Replay.NATSURL = strings.TrimSpace(os.Getenv("NATS_URL"))

	c.Ops.AdminPhone = strings.TrimSpace(os.Getenv("ADMIN_PHONE_NUMBER"))
	c.Ops.DefaultTimezone = strings.TrimSpace(os.Getenv("DEFAULT_TIMEZONE"))
	c.Ops.SafeMode = boolEnv("SAFE_MODE")
	c.Ops.KillSwitch = boolEnv("KILL_SWITCH")
	c.Ops.UnsubscribeSecret = os.Getenv("UNSUBSCRIBE_SECRET")

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	if c.Store.Backend == "" {
		c.Store.Backend = "postgres"
	}
	switch c.Store.Backend {
	case "postgres":
		if c.Store.Host == "" {
			errs = append(errs, errors.New("DB_HOST is required"))
		}
		if c.Store.User == "" {
			errs = append(errs, errors.New("DB_USER is required"))
		}
		if c.Store.Name == "" {
			errs = append(errs, errors.New("DB_NAME is required"))
		}
		if c.Store.SSLMode == "" {
			if c.IsProduction() {
				errs = append(errs, errors.New("DB_SSLMODE is required in production"))
			} else {
				c.Store.SSLMode = "disable"
			}
		}
		if c.Store.SSLMode != "" && !isValidSSLMode(c.Store.SSLMode) {
			errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.Store.SSLMode))
		}
	case "sqlite":
		if c.Store.SQLitePath == "" {
			errs = append(errs, errors.New("SQLITE_PATH is required when DB_BACKEND=sqlite"))
		}
	default:
		errs = append(errs, fmt.Errorf("DB_BACKEND must be postgres or sqlite, got %q", c.Store.Backend))
	}

	// Telephony credentials are fatal when real sends are possible.
	if !c.Ops.SafeMode {
		if c.Twilio.AccountSID == "" || c.Twilio.AuthToken == "" {
			errs = append(errs, errors.New("TWILIO_ACCOUNT_SID and TWILIO_AUTH_TOKEN are required unless SAFE_MODE=true"))
		}
		if c.Twilio.FromNumber == "" {
			errs = append(errs, errors.New("TWILIO_FROM_NUMBER is required unless SAFE_MODE=true"))
		}
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
	}
	if c.Auth.AccessTokenTTL <= 0 {
		c.Auth.AccessTokenTTL = 12 * time.Hour
	}

	if c.Ops.AdminPhone == "" {
		errs = append(errs, errors.New("ADMIN_PHONE_NUMBER is required"))
	}
	if c.Ops.DefaultTimezone == "" {
		c.Ops.DefaultTimezone = "America/Los_Angeles"
	}
	if c.Ops.UnsubscribeSecret == "" {
		c.Ops.UnsubscribeSecret = c.Twilio.AuthToken
	}

	if c.Queue.Workers < 2 {
		c.Queue.Workers = 2
	}
	if c.Queue.ClaimBatch <= 0 {
		c.Queue.ClaimBatch = 10
	}
	if c.Queue.StuckTimeout <= 0 {
		c.Queue.StuckTimeout = 5 * time.Minute
	}
	if c.Queue.MaxRetries <= 0 {
		c.Queue.MaxRetries = 5
	}
	if c.Queue.MaxPollInterval <= 0 {
		c.Queue.MaxPollInterval = 2 * time.Second
	}

	if c.RateLimit.PerTenantPerMinute <= 0 {
		c.RateLimit.PerTenantPerMinute = 20
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Store.Host,
		c.Store.Port,
		c.Store.User,
		c.Store.Password,
		c.Store.Name,
		c.Store.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	if c.Redis.Host == "" {
		return ""
	}
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func mustInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func optInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func optDuration(key string) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}

func boolEnv(key string) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func appendParseErr(errs []error, n int, err error) (int, []error) {
	if err != nil {
		errs = append(errs, err)
	}
	return n, errs
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
