package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"

	// Only ever used in development and test environments.
	devJWTSecret = "leasehub-development-only-secret-do-not-deploy"

	minSecretLength = 32
)

var ErrInvalidConfig = errors.New("invalid config")

type HTTPConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type PostgresConfig struct {
	DSN             string
	MaxOpen         int
	MaxIdle         int
	ConnMaxLifetime time.Duration
	AutoMigrate     bool
}

type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	OpTimeout time.Duration
}

type SecurityConfig struct {
	JWTSecret           string
	AccessTTL           time.Duration
	RefreshTTL          time.Duration
	RememberMeTTL       time.Duration
	VerificationTTL     time.Duration
	ResetTTL            time.Duration
	BcryptCost          int
	MaxConcurrentHashes int64
	PasswordMinLength   int
	PasswordSymbols     string
	ForceHTTPS          bool
	RevokeFamilyOnReuse bool
	ReuseGrace          time.Duration
	// FailClosedCache switches the denylist and rate limiter to rejecting
	// requests when redis is unreachable.
	FailClosedCache bool
}

type CookieConfig struct {
	Domain string
	Path   string
}

type LimitRule struct {
	Limit  int
	Window time.Duration
}

type RateLimitConfig struct {
	LoginIP           LimitRule
	LoginEmail        LimitRule
	PasswordReset     LimitRule
	EmailVerification LimitRule
}

type MailConfig struct {
	Stream        string
	Group         string
	Consumer      string
	ClaimInterval time.Duration
	From          string
	AppBaseURL    string
	SMTPHost      string
	SMTPPort      int
	SMTPUser      string
	SMTPPassword  string
}

type JobsConfig struct {
	SweepSchedule string
	SweepGrace    time.Duration
}

type OAuthConfig struct {
	CallbackPrefix string
}

type AppConfig struct {
	Environment      string
	HTTP             HTTPConfig
	Postgres         PostgresConfig
	Redis            RedisConfig
	Security         SecurityConfig
	Cookies          CookieConfig
	RateLimit        RateLimitConfig
	Mail             MailConfig
	Jobs             JobsConfig
	OAuth            OAuthConfig
	AllowCORSOrigins []string
}

func (c *AppConfig) IsProduction() bool {
	return c.Environment == EnvProduction
}

// UsesDevelopmentSecret reports whether Validate fell back to the built-in
// JWT secret.
func (c *AppConfig) UsesDevelopmentSecret() bool {
	return c.Security.JWTSecret == devJWTSecret
}

// Load reads the API configuration and validates it with Validate.
func Load() (*AppConfig, error) {
	cfg, err := read()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadWorker reads the configuration for the mail worker, which never signs
// or verifies tokens and so does not need the security section.
func LoadWorker() (*AppConfig, error) {
	cfg, err := read()
	if err != nil {
		return nil, err
	}
	if err := cfg.ValidateWorker(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func read() (*AppConfig, error) {
	// A missing .env is the normal case outside local development.
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("../config")

	v.SetEnvPrefix("LEASEHUB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	var cfg AppConfig
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

// Validate rejects configurations the service must not start with. In
// development an empty JWT secret is replaced with a fixed local value;
// anywhere else it is fatal.
func (c *AppConfig) Validate() error {
	if err := c.validateEnvironment(); err != nil {
		return err
	}

	if strings.TrimSpace(c.Security.JWTSecret) == "" {
		if c.Environment != EnvDevelopment && c.Environment != "test" {
			return fmt.Errorf("%w: security.jwtsecret is required in %s", ErrInvalidConfig, c.Environment)
		}
		c.Security.JWTSecret = devJWTSecret
	}
	if c.IsProduction() && len(c.Security.JWTSecret) < minSecretLength {
		return fmt.Errorf("%w: security.jwtsecret must be at least %d bytes", ErrInvalidConfig, minSecretLength)
	}
	if c.IsProduction() && c.Security.JWTSecret == devJWTSecret {
		return fmt.Errorf("%w: development jwt secret used in production", ErrInvalidConfig)
	}

	if c.Security.AccessTTL <= 0 || c.Security.RefreshTTL <= 0 || c.Security.RememberMeTTL <= 0 {
		return fmt.Errorf("%w: token lifetimes must be positive", ErrInvalidConfig)
	}
	if c.Security.ReuseGrace < 0 {
		return fmt.Errorf("%w: security.reusegrace must not be negative", ErrInvalidConfig)
	}
	if c.Security.PasswordSymbols == "" {
		return fmt.Errorf("%w: security.passwordsymbols must not be empty", ErrInvalidConfig)
	}

	for name, rule := range map[string]LimitRule{
		"loginip":           c.RateLimit.LoginIP,
		"loginemail":        c.RateLimit.LoginEmail,
		"passwordreset":     c.RateLimit.PasswordReset,
		"emailverification": c.RateLimit.EmailVerification,
	} {
		if rule.Limit <= 0 || rule.Window <= 0 {
			return fmt.Errorf("%w: ratelimit.%s needs a positive limit and window", ErrInvalidConfig, name)
		}
	}

	return nil
}

// ValidateWorker checks what the mail worker needs. Outside production a
// missing smtp host means mail is logged instead of delivered.
func (c *AppConfig) ValidateWorker() error {
	if err := c.validateEnvironment(); err != nil {
		return err
	}
	if c.Mail.Stream == "" || c.Mail.Group == "" {
		return fmt.Errorf("%w: mail.stream and mail.group are required", ErrInvalidConfig)
	}
	if c.IsProduction() && strings.TrimSpace(c.Mail.SMTPHost) == "" {
		return fmt.Errorf("%w: mail.smtphost is required in production", ErrInvalidConfig)
	}
	return nil
}

func (c *AppConfig) validateEnvironment() error {
	switch c.Environment {
	case EnvDevelopment, EnvProduction, "staging", "test":
		return nil
	default:
		return fmt.Errorf("%w: unknown environment %q", ErrInvalidConfig, c.Environment)
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", EnvDevelopment)

	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.readtimeout", "10s")
	v.SetDefault("http.writetimeout", "15s")
	v.SetDefault("http.idletimeout", "60s")

	// Keys without a default are invisible to AutomaticEnv during Unmarshal.
	v.SetDefault("postgres.dsn", "")
	v.SetDefault("postgres.maxopen", 30)
	v.SetDefault("postgres.maxidle", 10)
	v.SetDefault("postgres.connmaxlifetime", "30m")
	v.SetDefault("postgres.automigrate", true)

	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.optimeout", "250ms")

	v.SetDefault("security.jwtsecret", "")
	v.SetDefault("security.accessttl", "15m")
	v.SetDefault("security.refreshttl", "24h")
	v.SetDefault("security.remembermettl", "720h") // 30 days
	v.SetDefault("security.verificationttl", "24h")
	v.SetDefault("security.resetttl", "1h")
	v.SetDefault("security.bcryptcost", 10)
	v.SetDefault("security.maxconcurrenthashes", 8)
	v.SetDefault("security.passwordminlength", 8)
	v.SetDefault("security.passwordsymbols", "@$!%*?&")
	v.SetDefault("security.forcehttps", true)
	v.SetDefault("security.revokefamilyonreuse", true)
	v.SetDefault("security.reusegrace", "10s")
	v.SetDefault("security.failclosedcache", false)

	v.SetDefault("cookies.domain", "")
	v.SetDefault("cookies.path", "/")

	v.SetDefault("ratelimit.loginip.limit", 10)
	v.SetDefault("ratelimit.loginip.window", "15m")
	v.SetDefault("ratelimit.loginemail.limit", 5)
	v.SetDefault("ratelimit.loginemail.window", "15m")
	v.SetDefault("ratelimit.passwordreset.limit", 3)
	v.SetDefault("ratelimit.passwordreset.window", "1h")
	v.SetDefault("ratelimit.emailverification.limit", 3)
	v.SetDefault("ratelimit.emailverification.window", "1h")

	v.SetDefault("mail.stream", "mail:outbox")
	v.SetDefault("mail.group", "mailers")
	v.SetDefault("mail.consumer", "mailer-1")
	v.SetDefault("mail.claiminterval", "30s")
	v.SetDefault("mail.from", "LeaseHub <no-reply@leasehub.local>")
	v.SetDefault("mail.appbaseurl", "http://localhost:5173")
	v.SetDefault("mail.smtphost", "")
	v.SetDefault("mail.smtpport", 587)
	v.SetDefault("mail.smtpuser", "")
	v.SetDefault("mail.smtppassword", "")

	v.SetDefault("jobs.sweepschedule", "0 15 * * * *") // hourly, quarter past
	v.SetDefault("jobs.sweepgrace", "168h")

	v.SetDefault("oauth.callbackprefix", "/api/v1/auth/oauth/")
	v.SetDefault("allowcorsorigins", []string{})
}
