package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration required by the API and dispatcher processes.
// All values must come from env (or an env-file loaded by the process runner).
// No business logic should depend on raw environment variables.
type Config struct {
	App          AppConfig
	DB           DBConfig
	Redis        RedisConfig
	Auth         AuthConfig
	Twilio       TwilioConfig
	Dispatcher   DispatcherConfig
	Conversation ConversationConfig
}

type AppConfig struct {
	Env  string
	Port int

	// PublicBaseURL is the externally reachable origin the provider calls back on.
	PublicBaseURL string
}

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type DBConfig struct {
	// Driver is postgres (default) or sqlite for single-node local runs.
	Driver string

	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string

	SQLitePath string
}

type RedisConfig struct {
	Host string
	Port int
}

type AuthConfig struct {
	JWTSecret       string
	JWTIssuer       string
	JWTAudience     string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	FromNumber string
	APIBaseURL string

	// ValidateSignature checks X-Twilio-Signature on inbound webhooks.
	ValidateSignature bool
}

type DispatcherConfig struct {
	Limit             int
	Interval          time.Duration
	LeaseTTL          time.Duration
	CallCeiling       time.Duration
	MaxAttempts       int
	BackoffBase       time.Duration
	BackoffMax        time.Duration
	DedupeWindow      time.Duration
	ConcurrencyLimit  int
	ReconcileSchedule string
}

const (
	LowConfidenceFail    = "fail"
	LowConfidenceSucceed = "succeed"
)

type ConversationConfig struct {
	ConfidenceThreshold float64
	StepRetries         int
	LowConfidencePolicy string
	StateTTL            time.Duration
	Language            string
	TimingLog           bool
}

func Load() (Config, error) {
	c := Config{}
	var errs []error
	intVar := func(dst *int, key string, required bool) {
		n, err := envInt(key, required)
		if err != nil {
			errs = append(errs, err)
		}
		*dst = n
	}
	durVar := func(dst *time.Duration, key string) {
		d, err := envDuration(key)
		if err != nil {
			errs = append(errs, err)
		}
		*dst = d
	}

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	intVar(&c.App.Port, "APP_PORT", true)
	c.App.PublicBaseURL = strings.TrimRight(strings.TrimSpace(os.Getenv("PUBLIC_BASE_URL")), "/")

	c.DB.Driver = strings.TrimSpace(os.Getenv("DB_DRIVER"))
	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	intVar(&c.DB.Port, "DB_PORT", false)
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))
	c.DB.SQLitePath = strings.TrimSpace(os.Getenv("SQLITE_PATH"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	intVar(&c.Redis.Port, "REDIS_PORT", true)

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	durVar(&c.Auth.AccessTokenTTL, "JWT_ACCESS_TTL")
	durVar(&c.Auth.RefreshTokenTTL, "JWT_REFRESH_TTL")

	c.Twilio.AccountSID = strings.TrimSpace(os.Getenv("TWILIO_ACCOUNT_SID"))
	c.Twilio.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	c.Twilio.FromNumber = strings.TrimSpace(os.Getenv("TWILIO_FROM_NUMBER"))
	c.Twilio.APIBaseURL = strings.TrimRight(strings.TrimSpace(os.Getenv("TWILIO_API_BASE_URL")), "/")
	c.Twilio.ValidateSignature = envBool("TWILIO_VALIDATE_SIGNATURE")

	intVar(&c.Dispatcher.Limit, "CALL_DISPATCHER_LIMIT", false)
	durVar(&c.Dispatcher.Interval, "CALL_DISPATCHER_INTERVAL")
	durVar(&c.Dispatcher.LeaseTTL, "CALL_LEASE_TTL")
	durVar(&c.Dispatcher.CallCeiling, "CALL_CEILING")
	intVar(&c.Dispatcher.MaxAttempts, "CALL_MAX_ATTEMPTS", false)
	durVar(&c.Dispatcher.BackoffBase, "CALL_BACKOFF_BASE")
	durVar(&c.Dispatcher.BackoffMax, "CALL_BACKOFF_MAX")
	durVar(&c.Dispatcher.DedupeWindow, "CALL_DEDUPE_WINDOW")
	intVar(&c.Dispatcher.ConcurrencyLimit, "CALL_CONCURRENCY_LIMIT", false)
	c.Dispatcher.ReconcileSchedule = strings.TrimSpace(os.Getenv("CALL_RECONCILE_SCHEDULE"))

	if v := strings.TrimSpace(os.Getenv("CONVERSATION_CONFIDENCE_THRESHOLD")); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("CONVERSATION_CONFIDENCE_THRESHOLD must be a number, got %q", v))
		}
		c.Conversation.ConfidenceThreshold = f
	}
	intVar(&c.Conversation.StepRetries, "CONVERSATION_STEP_RETRIES", false)
	c.Conversation.LowConfidencePolicy = strings.TrimSpace(os.Getenv("CONVERSATION_LOW_CONFIDENCE_POLICY"))
	durVar(&c.Conversation.StateTTL, "CONVERSATION_STATE_TTL")
	c.Conversation.Language = strings.TrimSpace(os.Getenv("CONVERSATION_LANGUAGE"))
	c.Conversation.TimingLog = envBool("VOICE_TIMING_LOG")

	if err := joinErrors(errs); err != nil {
		return Config{}, err
	}
	c.ApplyDefaults()
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// ApplyDefaults fills optional values. Production-only requirements are left
// empty so Validate can reject them.
func (c *Config) ApplyDefaults() {
	if c.DB.Driver == "" {
		c.DB.Driver = DriverPostgres
	}
	if c.DB.Port == 0 {
		c.DB.Port = 5432
	}
	if c.DB.SSLMode == "" && !c.IsProduction() {
		c.DB.SSLMode = "disable"
	}
	if c.DB.Driver == DriverSQLite && c.DB.SQLitePath == "" {
		c.DB.SQLitePath = "outbound.db"
	}

	if c.Auth.AccessTokenTTL <= 0 {
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		c.Auth.RefreshTokenTTL = 30 * 24 * time.Hour
	}

	if c.Twilio.APIBaseURL == "" {
		c.Twilio.APIBaseURL = "https://api.twilio.com"
	}
	if c.IsProduction() {
		c.Twilio.ValidateSignature = true
	}

	d := &c.Dispatcher
	if d.Limit <= 0 {
		d.Limit = 10
	}
	if d.Interval <= 0 {
		d.Interval = 30 * time.Second
	}
	if d.LeaseTTL <= 0 {
		d.LeaseTTL = 2 * time.Minute
	}
	if d.CallCeiling <= 0 {
		d.CallCeiling = 30 * time.Minute
	}
	if d.MaxAttempts <= 0 {
		d.MaxAttempts = 3
	}
	if d.BackoffBase <= 0 {
		d.BackoffBase = time.Minute
	}
	if d.BackoffMax <= 0 {
		d.BackoffMax = 60 * time.Minute
	}
	if d.DedupeWindow <= 0 {
		d.DedupeWindow = time.Hour
	}
	if d.ReconcileSchedule == "" {
		d.ReconcileSchedule = "@every 1m"
	}

	cv := &c.Conversation
	if cv.ConfidenceThreshold <= 0 {
		cv.ConfidenceThreshold = 0.5
	}
	if cv.StepRetries <= 0 {
		cv.StepRetries = 2
	}
	if cv.LowConfidencePolicy == "" {
		cv.LowConfidencePolicy = LowConfidenceFail
	}
	if cv.StateTTL <= 0 {
		cv.StateTTL = 2 * time.Hour
	}
	if cv.Language == "" {
		cv.Language = "en-GB"
	}
}

func (c Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}
	if c.App.PublicBaseURL == "" {
		errs = append(errs, errors.New("PUBLIC_BASE_URL is required"))
	}

	switch c.DB.Driver {
	case DriverPostgres:
		if c.DB.Host == "" {
			errs = append(errs, errors.New("DB_HOST is required"))
		}
		if c.DB.Port <= 0 || c.DB.Port > 65535 {
			errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
		}
		if c.DB.User == "" {
			errs = append(errs, errors.New("DB_USER is required"))
		}
		if c.DB.Name == "" {
			errs = append(errs, errors.New("DB_NAME is required"))
		}
		if c.DB.SSLMode == "" {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else if !isValidSSLMode(c.DB.SSLMode) {
			errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
		}
	case DriverSQLite:
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_DRIVER=sqlite is not allowed in production"))
		}
	default:
		errs = append(errs, fmt.Errorf("DB_DRIVER must be postgres or sqlite, got %q", c.DB.Driver))
	}

	if c.Redis.Host == "" {
		errs = append(errs, errors.New("REDIS_HOST is required"))
	}
	if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
	}
	if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
	}

	if c.Twilio.AccountSID == "" {
		errs = append(errs, errors.New("TWILIO_ACCOUNT_SID is required"))
	}
	if c.Twilio.AuthToken == "" {
		errs = append(errs, errors.New("TWILIO_AUTH_TOKEN is required"))
	}
	if c.Twilio.FromNumber == "" {
		errs = append(errs, errors.New("TWILIO_FROM_NUMBER is required"))
	}

	if c.Dispatcher.LeaseTTL >= c.Dispatcher.CallCeiling {
		errs = append(errs, errors.New("CALL_CEILING must be greater than CALL_LEASE_TTL"))
	}
	if c.Dispatcher.BackoffMax < c.Dispatcher.BackoffBase {
		errs = append(errs, errors.New("CALL_BACKOFF_MAX must be >= CALL_BACKOFF_BASE"))
	}
	if c.Dispatcher.ConcurrencyLimit < 0 {
		errs = append(errs, errors.New("CALL_CONCURRENCY_LIMIT must be >= 0"))
	}

	if c.Conversation.ConfidenceThreshold > 1 {
		errs = append(errs, fmt.Errorf("CONVERSATION_CONFIDENCE_THRESHOLD must be within (0, 1], got %v", c.Conversation.ConfidenceThreshold))
	}
	switch c.Conversation.LowConfidencePolicy {
	case LowConfidenceFail, LowConfidenceSucceed:
	default:
		errs = append(errs, fmt.Errorf("CONVERSATION_LOW_CONFIDENCE_POLICY must be fail or succeed, got %q", c.Conversation.LowConfidencePolicy))
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
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func envInt(key string, required bool) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		if required {
			return 0, fmt.Errorf("%s is required", key)
		}
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func envDuration(key string) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration, got %q", key, v)
	}
	return d, nil
}

func envBool(key string) bool {
	b, _ := strconv.ParseBool(strings.TrimSpace(os.Getenv(key)))
	return b
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
