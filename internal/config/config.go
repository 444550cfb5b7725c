package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

type RedisConfig struct {
	URL string `yaml:"url"`
}

// TokenConfig controls the HS256 bearer tokens issued at login and
// verified on every authenticated request.
type TokenConfig struct {
	Secret     string `yaml:"secret"`
	Issuer     string `yaml:"issuer"`
	TTLMinutes int    `yaml:"ttlMinutes"`
}

type AuthConfig struct {
	Token TokenConfig `yaml:"token"`
}

// TenancyConfig controls how the acting tenant is derived for a request.
type TenancyConfig struct {
	// BaseDomain is the platform domain used to derive tenant subdomains,
	// e.g. "acme.consulate.app" -> "acme" when BaseDomain is "consulate.app".
	BaseDomain string `yaml:"baseDomain"`
	// HeaderName is the explicit tenant selector header.
	HeaderName string `yaml:"headerName"`
	// PublicPaths are exempt from tenant resolution. Entries ending in
	// "/*" match the prefix on a path-segment boundary.
	PublicPaths []string `yaml:"publicPaths"`
}

// RateTierConfig is one fixed-window limit.
type RateTierConfig struct {
	Limit         int `yaml:"limit"`
	WindowSeconds int `yaml:"windowSeconds"`
}

// RateLimitConfig holds the three fixed-window tiers. Limiting is on
// unless Disabled is set.
type RateLimitConfig struct {
	Disabled bool           `yaml:"disabled"`
	Auth     RateTierConfig `yaml:"auth"`
	General  RateTierConfig `yaml:"general"`
	Bulk     RateTierConfig `yaml:"bulk"`
}

type KafkaAuditConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// AuditConfig selects the sinks that receive gateway audit events.
type AuditConfig struct {
	Postgres bool             `yaml:"postgres"`
	Log      bool             `yaml:"log"`
	Kafka    KafkaAuditConfig `yaml:"kafka"`
	// RetentionDays prunes stored events older than this; 0 keeps them forever.
	RetentionDays          int `yaml:"retentionDays"`
	CleanupIntervalMinutes int `yaml:"cleanupIntervalMinutes"`
}

type TelemetryConfig struct {
	ServiceName  string `yaml:"serviceName"`
	OTLPEndpoint string `yaml:"otlpEndpoint"`
	Insecure     bool   `yaml:"insecure"`
	// SampleRatio is the parent-based trace sampling ratio in [0,1].
	SampleRatio *float64 `yaml:"sampleRatio"`
}

type BootstrapUserConfig struct {
	Email    string `yaml:"email"`
	Name     string `yaml:"name"`
	Password string `yaml:"password"`
	Role     string `yaml:"role"`
	// Tenant is the slug of the user's home tenant; empty for platform admins.
	Tenant string `yaml:"tenant"`
}

type BootstrapTenantConfig struct {
	Slug   string `yaml:"slug"`
	Name   string `yaml:"name"`
	Domain string `yaml:"domain"`
	Plan   string `yaml:"plan"`
}

type BootstrapConfig struct {
	Tenants []BootstrapTenantConfig `yaml:"tenants"`
	Users   []BootstrapUserConfig   `yaml:"users"`
}

type Config struct {
	Environment string          `yaml:"environment"`
	Server      ServerConfig    `yaml:"server"`
	Log         LogConfig       `yaml:"log"`
	Database    DatabaseConfig  `yaml:"database"`
	Redis       RedisConfig     `yaml:"redis"`
	Auth        AuthConfig      `yaml:"auth"`
	Tenancy     TenancyConfig   `yaml:"tenancy"`
	RateLimit   RateLimitConfig `yaml:"ratelimit"`
	Audit       AuditConfig     `yaml:"audit"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Bootstrap   BootstrapConfig `yaml:"bootstrap"`
}

// DefaultPublicPaths are reachable without a tenant context.
var DefaultPublicPaths = []string{
	"/health",
	"/metrics",
	"/api/auth/login",
	"/api/auth/register",
}

// IsProduction reports whether debug payloads must be withheld from
// error responses.
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "" || env == "production" || env == "prod"
}

func Load(path string) *Config {
	data, err := os.ReadFile(path)
	if err != nil {
		log.Fatalf("failed to open config file: %v", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		log.Fatalf("failed to decode config: %v", err)
	}

	return cfg
}

// Parse decodes YAML, applies environment overrides and defaults, and
// validates the result.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("CONSULATE_TOKEN_SECRET"); v != "" {
		c.Auth.Token.Secret = v
	}
	if v := os.Getenv("CONSULATE_DATABASE_DSN"); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv("CONSULATE_REDIS_URL"); v != "" {
		c.Redis.URL = v
	}
	if v := os.Getenv("CONSULATE_ENV"); v != "" {
		c.Environment = v
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Auth.Token.TTLMinutes <= 0 {
		c.Auth.Token.TTLMinutes = 1440
	}
	if c.Auth.Token.Issuer == "" {
		c.Auth.Token.Issuer = "consulate"
	}
	if c.Tenancy.HeaderName == "" {
		c.Tenancy.HeaderName = "X-Tenant-ID"
	}
	if len(c.Tenancy.PublicPaths) == 0 {
		c.Tenancy.PublicPaths = append([]string(nil), DefaultPublicPaths...)
	}
	c.Tenancy.BaseDomain = strings.ToLower(strings.Trim(strings.TrimSpace(c.Tenancy.BaseDomain), "."))

	defaultTier(&c.RateLimit.Auth, 20, 15*60)
	defaultTier(&c.RateLimit.General, 300, 15*60)
	defaultTier(&c.RateLimit.Bulk, 10, 60)

	if c.Audit.CleanupIntervalMinutes <= 0 {
		c.Audit.CleanupIntervalMinutes = 60
	}
	if c.Audit.Kafka.Topic == "" {
		c.Audit.Kafka.Topic = "consulate.audit"
	}
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "consulate-api"
	}
}

func defaultTier(t *RateTierConfig, limit, windowSeconds int) {
	if t.Limit == 0 {
		t.Limit = limit
	}
	if t.WindowSeconds == 0 {
		t.WindowSeconds = windowSeconds
	}
}

// Validate rejects configurations the gateway cannot run safely with.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Auth.Token.Secret) == "" {
		errs = append(errs, errors.New("auth.token.secret is required"))
	} else if len(c.Auth.Token.Secret) < 16 {
		errs = append(errs, errors.New("auth.token.secret must be at least 16 characters"))
	}
	for name, tier := range map[string]RateTierConfig{
		"auth":    c.RateLimit.Auth,
		"general": c.RateLimit.General,
		"bulk":    c.RateLimit.Bulk,
	} {
		if tier.Limit <= 0 || tier.WindowSeconds <= 0 {
			errs = append(errs, fmt.Errorf("ratelimit.%s must have a positive limit and window", name))
		}
	}
	if c.Audit.RetentionDays < 0 {
		errs = append(errs, errors.New("audit.retentionDays must not be negative"))
	}
	if c.Audit.Kafka.Enabled && len(c.Audit.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("audit.kafka.brokers is required when kafka audit is enabled"))
	}
	return errors.Join(errs...)
}
