// Package config loads and validates server config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/pubble-team/pubbleauth"
	"github.com/pubble-team/pubbleauth/access"
	"github.com/pubble-team/pubbleauth/internal/dbx"
)

// Store backends accepted by REFRESH_STORE and USER_STORE.
const (
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
)

// Config holds server configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the HTTP server listens on (e.g. :8080).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// GinMode is passed to gin.SetMode: release, debug or test.
	GinMode string `mapstructure:"GIN_MODE"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`

	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogFormat string `mapstructure:"LOG_FORMAT"`

	// JWTSigningMethod is hs256 or ed25519.
	JWTSigningMethod string `mapstructure:"JWT_SIGNING_METHOD"`
	// JWTSecret is the HMAC secret for hs256; at least 32 bytes.
	JWTSecret string `mapstructure:"JWT_SECRET"`
	// JWTPrivateKey is a PEM-encoded ed25519 private key or a path to one.
	JWTPrivateKey string `mapstructure:"JWT_PRIVATE_KEY"`
	// JWTPublicKey is a PEM-encoded ed25519 public key or a path to one.
	JWTPublicKey  string `mapstructure:"JWT_PUBLIC_KEY"`
	JWTKeyID      string `mapstructure:"JWT_KEY_ID"`
	JWTIssuer     string `mapstructure:"JWT_ISSUER"`
	JWTAudience   string `mapstructure:"JWT_AUDIENCE"`
	JWTAccessTTL  string `mapstructure:"JWT_ACCESS_TTL"`
	JWTRefreshTTL string `mapstructure:"JWT_REFRESH_TTL"`
	JWTLeeway     string `mapstructure:"JWT_LEEWAY"`

	// PasswordAlgorithm selects the scheme for new hashes: bcrypt or argon2id.
	// Stored hashes of either kind always verify.
	PasswordAlgorithm string `mapstructure:"PASSWORD_ALGORITHM"`
	// BcryptCost is the bcrypt cost factor (4–31); default 12.
	BcryptCost int `mapstructure:"BCRYPT_COST"`

	RefreshStore  string `mapstructure:"REFRESH_STORE"`
	UserStore     string `mapstructure:"USER_STORE"`
	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`
	RedisPrefix   string `mapstructure:"REDIS_PREFIX"`
	// DatabaseURL is the Postgres DSN used by the postgres backends.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	SQLitePath  string `mapstructure:"SQLITE_PATH"`

	// BootstrapAdminUsername and BootstrapAdminPasswordHash create an ADMIN
	// account at startup when the username does not exist yet.
	BootstrapAdminUsername     string `mapstructure:"BOOTSTRAP_ADMIN_USERNAME"`
	BootstrapAdminPasswordHash string `mapstructure:"BOOTSTRAP_ADMIN_PASSWORD_HASH"`

	// FrontBase and FrontLocal are the browser origins allowed by CORS.
	FrontBase  string `mapstructure:"FRONT_BASE"`
	FrontLocal string `mapstructure:"FRONT_LOCAL"`

	// PublicPaths is a comma-separated list of extra public path patterns.
	PublicPaths string `mapstructure:"PUBLIC_PATHS"`
	// AccessRules is a comma-separated list of pattern=requirement pairs
	// evaluated before the built-in rules, e.g. "/reports/**=any".
	AccessRules string `mapstructure:"ACCESS_RULES"`

	// LoginMaxAttempts is the failure budget per username and per IP; 0 disables throttling.
	LoginMaxAttempts int    `mapstructure:"LOGIN_MAX_ATTEMPTS"`
	LoginCooldown    string `mapstructure:"LOGIN_COOLDOWN"`

	RefreshCookieSecure bool   `mapstructure:"REFRESH_COOKIE_SECURE"`
	RefreshCookieDomain string `mapstructure:"REFRESH_COOKIE_DOMAIN"`

	AuditEnabled   bool `mapstructure:"AUDIT_ENABLED"`
	MetricsEnabled bool `mapstructure:"METRICS_ENABLED"`
	// OTLPEndpoint enables OTLP/gRPC metric export when set (e.g. localhost:4317).
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTLPInsecure bool   `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored. Env vars override .env.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore missing file

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("GIN_MODE", "release")
	v.SetDefault("APP_ENV", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("JWT_SIGNING_METHOD", "hs256")
	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("JWT_PRIVATE_KEY", "")
	v.SetDefault("JWT_PUBLIC_KEY", "")
	v.SetDefault("JWT_KEY_ID", "")
	v.SetDefault("JWT_ISSUER", "pubble")
	v.SetDefault("JWT_AUDIENCE", "pubble-web")
	v.SetDefault("JWT_ACCESS_TTL", "15m")
	v.SetDefault("JWT_REFRESH_TTL", "168h") // 7d
	v.SetDefault("JWT_LEEWAY", "30s")
	v.SetDefault("PASSWORD_ALGORITHM", "bcrypt")
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("REFRESH_STORE", StoreMemory)
	v.SetDefault("USER_STORE", StoreMemory)
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_PREFIX", "pubble")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("SQLITE_PATH", "pubble.db")
	v.SetDefault("BOOTSTRAP_ADMIN_USERNAME", "")
	v.SetDefault("BOOTSTRAP_ADMIN_PASSWORD_HASH", "")
	v.SetDefault("FRONT_BASE", "")
	v.SetDefault("FRONT_LOCAL", "")
	v.SetDefault("PUBLIC_PATHS", "")
	v.SetDefault("ACCESS_RULES", "")
	v.SetDefault("LOGIN_MAX_ATTEMPTS", 5)
	v.SetDefault("LOGIN_COOLDOWN", "15m")
	v.SetDefault("REFRESH_COOKIE_SECURE", true)
	v.SetDefault("REFRESH_COOKIE_DOMAIN", "")
	v.SetDefault("AUDIT_ENABLED", false)
	v.SetDefault("METRICS_ENABLED", true)
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.HTTPAddr) == "" {
		return errors.New("config: HTTP_ADDR must be set")
	}

	switch c.JWTSigningMethod = strings.ToLower(strings.TrimSpace(c.JWTSigningMethod)); c.JWTSigningMethod {
	case "hs256":
		if len(c.JWTSecret) < 32 {
			return errors.New("config: JWT_SECRET must be at least 32 bytes for hs256")
		}
	case "ed25519":
		if c.JWTPrivateKey == "" || c.JWTPublicKey == "" {
			return errors.New("config: JWT_PRIVATE_KEY and JWT_PUBLIC_KEY must be set for ed25519")
		}
	default:
		return fmt.Errorf("config: unsupported JWT_SIGNING_METHOD %q", c.JWTSigningMethod)
	}

	for key, val := range map[string]string{
		"JWT_ACCESS_TTL":  c.JWTAccessTTL,
		"JWT_REFRESH_TTL": c.JWTRefreshTTL,
		"LOGIN_COOLDOWN":  c.LoginCooldown,
	} {
		d, err := time.ParseDuration(val)
		if err != nil || d <= 0 {
			return fmt.Errorf("config: %s must be a positive duration, got %q", key, val)
		}
	}
	if d, err := time.ParseDuration(c.JWTLeeway); err != nil || d < 0 {
		return fmt.Errorf("config: JWT_LEEWAY must be a non-negative duration, got %q", c.JWTLeeway)
	}
	if c.AccessTTL() >= c.RefreshTTL() {
		return errors.New("config: JWT_ACCESS_TTL must be shorter than JWT_REFRESH_TTL")
	}

	if c.BcryptCost == 0 {
		c.BcryptCost = 12
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		return errors.New("config: BCRYPT_COST must be between 4 and 31")
	}
	if c.LoginMaxAttempts < 0 {
		return errors.New("config: LOGIN_MAX_ATTEMPTS must not be negative")
	}

	c.RefreshStore = strings.ToLower(strings.TrimSpace(c.RefreshStore))
	switch c.RefreshStore {
	case StoreMemory, StoreRedis, StorePostgres, StoreSQLite:
	default:
		return fmt.Errorf("config: unsupported REFRESH_STORE %q", c.RefreshStore)
	}
	c.UserStore = strings.ToLower(strings.TrimSpace(c.UserStore))
	switch c.UserStore {
	case StoreMemory, StorePostgres, StoreSQLite:
	default:
		return fmt.Errorf("config: unsupported USER_STORE %q", c.UserStore)
	}
	if (c.RefreshStore == StorePostgres || c.UserStore == StorePostgres) && c.DatabaseURL == "" {
		return errors.New("config: DATABASE_URL must be set for the postgres store")
	}
	if c.RefreshStore == StoreRedis && c.RedisAddr == "" {
		return errors.New("config: REDIS_ADDR must be set for the redis store")
	}

	if (c.BootstrapAdminUsername == "") != (c.BootstrapAdminPasswordHash == "") {
		return errors.New("config: BOOTSTRAP_ADMIN_USERNAME and BOOTSTRAP_ADMIN_PASSWORD_HASH must be set together")
	}
	if _, err := c.AccessTable(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// AccessTTL parses JWTAccessTTL as a time.Duration. Returns 15m if unset or invalid.
func (c *Config) AccessTTL() time.Duration {
	return parseDuration(c.JWTAccessTTL, 15*time.Minute)
}

// RefreshTTL parses JWTRefreshTTL as a time.Duration. Returns 168h if unset or invalid.
func (c *Config) RefreshTTL() time.Duration {
	return parseDuration(c.JWTRefreshTTL, 168*time.Hour)
}

// Leeway parses JWTLeeway. Returns 30s if unset or invalid.
func (c *Config) Leeway() time.Duration {
	d, err := time.ParseDuration(c.JWTLeeway)
	if err != nil || d < 0 {
		return 30 * time.Second
	}
	return d
}

// Cooldown parses LoginCooldown. Returns 15m if unset or invalid.
func (c *Config) Cooldown() time.Duration {
	return parseDuration(c.LoginCooldown, 15*time.Minute)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// Dialect maps a postgres or sqlite store name to its SQL dialect.
func Dialect(store string) dbx.Dialect {
	if store == StorePostgres {
		return dbx.DialectPostgres
	}
	return dbx.DialectSQLite
}

// DSN returns the connection string for the SQL backend named by store.
func (c *Config) DSN(store string) string {
	if store == StorePostgres {
		return c.DatabaseURL
	}
	return c.SQLitePath
}

// CORSOrigins returns the configured front-end origins.
func (c *Config) CORSOrigins() []string {
	return splitList(c.FrontBase + "," + c.FrontLocal)
}

// AccessTable builds the route policy: ACCESS_RULES first, then
// PUBLIC_PATHS, then the built-in rules. Unmatched paths need a principal.
func (c *Config) AccessTable() (*access.Table, error) {
	rules, err := access.ParseRules(c.AccessRules)
	if err != nil {
		return nil, err
	}
	rules = append(rules, access.PublicRules(splitList(c.PublicPaths)...)...)
	rules = append(rules, access.DefaultRules()...)
	return access.NewTable(rules, access.Authenticated)
}

// EngineConfig translates the environment into the engine's typed config.
// Key material given as a file path is read from disk.
func (c *Config) EngineConfig() (pubbleauth.Config, error) {
	cfg := pubbleauth.DefaultConfig()

	cfg.JWT.AccessTTL = c.AccessTTL()
	cfg.JWT.RefreshTTL = c.RefreshTTL()
	cfg.JWT.Leeway = c.Leeway()
	cfg.JWT.SigningMethod = c.JWTSigningMethod
	cfg.JWT.Issuer = c.JWTIssuer
	cfg.JWT.Audience = c.JWTAudience
	cfg.JWT.KeyID = c.JWTKeyID
	switch c.JWTSigningMethod {
	case "ed25519":
		priv, err := readKey(c.JWTPrivateKey)
		if err != nil {
			return cfg, fmt.Errorf("config: JWT_PRIVATE_KEY: %w", err)
		}
		pub, err := readKey(c.JWTPublicKey)
		if err != nil {
			return cfg, fmt.Errorf("config: JWT_PUBLIC_KEY: %w", err)
		}
		cfg.JWT.PrivateKey, cfg.JWT.PublicKey = priv, pub
	default:
		cfg.JWT.PrivateKey = []byte(c.JWTSecret)
	}

	cfg.Password.Algorithm = strings.ToLower(strings.TrimSpace(c.PasswordAlgorithm))
	cfg.Password.BcryptCost = c.BcryptCost

	cfg.Refresh.RedisPrefix = c.RedisPrefix

	cfg.Security.EnableLoginThrottle = c.LoginMaxAttempts > 0
	if c.LoginMaxAttempts > 0 {
		cfg.Security.MaxLoginAttempts = c.LoginMaxAttempts
	}
	cfg.Security.LoginCooldown = c.Cooldown()

	cfg.Audit.Enabled = c.AuditEnabled
	cfg.Metrics.Enabled = c.MetricsEnabled

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// readKey accepts inline PEM or a path to a PEM file.
func readKey(val string) ([]byte, error) {
	if strings.Contains(val, "-----BEGIN") {
		return []byte(strings.ReplaceAll(val, `\n`, "\n")), nil
	}
	b, err := os.ReadFile(val)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
