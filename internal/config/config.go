package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML accepts "90s" / "1h" forms.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("config: bad duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// Std returns the plain time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

type Config struct {
	App struct {
		// dev | staging | prod
		Env string `yaml:"env"`
	} `yaml:"app"`

	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`

	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`

	Storage struct {
		// memory | postgres
		Driver string `yaml:"driver"`
		DSN    string `yaml:"dsn"`
	} `yaml:"storage"`

	// Keys governs the signing key lifecycle.
	Keys struct {
		// GraceSeconds is how long a rotated-out key keeps verifying tokens.
		GraceSeconds int `yaml:"grace_seconds"`
		// MinRetained is the floor of keys pruning must leave behind.
		MinRetained int `yaml:"min_retained"`
		// RetentionDays: keys younger than this are never pruned.
		RetentionDays int `yaml:"retention_days"`
		// JWKSMaxAgeSeconds is the Cache-Control max-age advertised on the
		// JWKS endpoint. Pruning uses the same value as its cache-grace
		// floor; keep them in sync by construction.
		JWKSMaxAgeSeconds int `yaml:"jwks_max_age_seconds"`
		// RotationInterval between scheduled rotations. Zero disables the
		// rotation ticker.
		RotationInterval Duration `yaml:"rotation_interval"`
		// CleanupInterval between scheduled prune passes.
		CleanupInterval Duration `yaml:"cleanup_interval"`
		// ImportPEM, when set, seeds the first key from an operator-supplied
		// PKCS#8/PKCS#1 private key instead of generating one.
		ImportPEM string `yaml:"import_pem"`
		// ImportKID names the imported key. Optional.
		ImportKID string `yaml:"import_kid"`
	} `yaml:"keys"`

	// Service covers inter-service identity.
	Service struct {
		Issuer          string `yaml:"issuer"`
		DefaultAudience string `yaml:"default_audience"`
		DefaultSubject  string `yaml:"default_subject"`
		// SharedSecret gates the token/rotate endpoints and serves as the
		// "Service <secret>" opaque scheme.
		SharedSecret string `yaml:"shared_secret"`
		// JWTSecret enables the HS256 fallback when no JWKS URL is known.
		JWTSecret string `yaml:"jwt_secret"`
		// JWKSURL is where verifiers fetch this (or the peer) key set.
		JWKSURL string   `yaml:"jwks_url"`
		Timeout Duration `yaml:"timeout"`
	} `yaml:"service"`

	// Collaborators reached over HTTP.
	Orgs struct {
		BaseURL string   `yaml:"base_url"`
		Timeout Duration `yaml:"timeout"`
	} `yaml:"orgs"`
	Auth struct {
		BaseURL string   `yaml:"base_url"`
		Timeout Duration `yaml:"timeout"`
	} `yaml:"auth"`

	Rate struct {
		Enabled     bool     `yaml:"enabled"`
		RedisAddr   string   `yaml:"redis_addr"`
		RedisDB     int      `yaml:"redis_db"`
		Prefix      string   `yaml:"prefix"`
		MaxRequests int      `yaml:"max_requests"`
		Window      Duration `yaml:"window"`
	} `yaml:"rate"`

	Membership struct {
		CacheTTL Duration `yaml:"cache_ttl"`
	} `yaml:"membership"`
}

// Load reads a YAML config file (optional: path may be empty), applies
// defaults and environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	var c Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, err
		}
	}
	c.applyDefaults()
	c.applyEnvOverrides()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.App.Env == "" {
		c.App.Env = "dev"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "memory"
	}
	if c.Keys.GraceSeconds == 0 {
		c.Keys.GraceSeconds = 900
	}
	if c.Keys.MinRetained == 0 {
		c.Keys.MinRetained = 2
	}
	if c.Keys.RetentionDays == 0 {
		c.Keys.RetentionDays = 2
	}
	if c.Keys.JWKSMaxAgeSeconds == 0 {
		c.Keys.JWKSMaxAgeSeconds = 300
	}
	if c.Keys.CleanupInterval == 0 {
		c.Keys.CleanupInterval = Duration(time.Hour)
	}
	if c.Service.Issuer == "" {
		c.Service.Issuer = "auth"
	}
	if c.Service.DefaultAudience == "" {
		c.Service.DefaultAudience = "orgs"
	}
	if c.Service.DefaultSubject == "" {
		c.Service.DefaultSubject = "tms"
	}
	if c.Service.Timeout == 0 {
		c.Service.Timeout = Duration(3 * time.Second)
	}
	if c.Orgs.Timeout == 0 {
		c.Orgs.Timeout = Duration(3 * time.Second)
	}
	if c.Auth.Timeout == 0 {
		c.Auth.Timeout = Duration(3 * time.Second)
	}
	if c.Rate.MaxRequests == 0 {
		c.Rate.MaxRequests = 60
	}
	if c.Rate.Window == 0 {
		c.Rate.Window = Duration(time.Minute)
	}
	if c.Membership.CacheTTL == 0 {
		c.Membership.CacheTTL = Duration(30 * time.Second)
	}
}

// ---- env helpers ----

func getEnvStr(key string) (string, bool) {
	v := os.Getenv(key)
	return v, v != ""
}

func getEnvInt(key string) (int, bool) {
	if s, ok := getEnvStr(key); ok {
		if i, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return i, true
		}
	}
	return 0, false
}

func getEnvBool(key string) (bool, bool) {
	if s, ok := getEnvStr(key); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(s)); err == nil {
			return b, true
		}
	}
	return false, false
}

func getEnvDur(key string) (time.Duration, bool) {
	if s, ok := getEnvStr(key); ok {
		if d, err := time.ParseDuration(strings.TrimSpace(s)); err == nil {
			return d, true
		}
	}
	return 0, false
}

// applyEnvOverrides lets environment variables win over the YAML file.
func (c *Config) applyEnvOverrides() {
	if v, ok := getEnvStr("APP_ENV"); ok {
		c.App.Env = strings.ToLower(v)
	}
	if v, ok := getEnvStr("SERVER_ADDR"); ok {
		c.Server.Addr = v
	}
	if v, ok := getEnvStr("LOG_LEVEL"); ok {
		c.Log.Level = v
	}
	if v, ok := getEnvStr("STORAGE_DRIVER"); ok {
		c.Storage.Driver = v
	}
	if v, ok := getEnvStr("STORAGE_DSN"); ok {
		c.Storage.DSN = v
	}

	if v, ok := getEnvInt("SERVICE_JWT_GRACE_SECONDS"); ok {
		c.Keys.GraceSeconds = v
	}
	if v, ok := getEnvInt("SERVICE_JWKS_MIN_KEYS"); ok {
		c.Keys.MinRetained = v
	}
	if v, ok := getEnvInt("SERVICE_JWT_RETENTION_DAYS"); ok {
		c.Keys.RetentionDays = v
	}
	if v, ok := getEnvInt("SERVICE_JWKS_MAX_AGE"); ok {
		c.Keys.JWKSMaxAgeSeconds = v
	}
	if v, ok := getEnvDur("SERVICE_KEY_ROTATION_INTERVAL"); ok {
		c.Keys.RotationInterval = Duration(v)
	}
	if v, ok := getEnvDur("SERVICE_KEY_CLEANUP_INTERVAL"); ok {
		c.Keys.CleanupInterval = Duration(v)
	}
	if v, ok := getEnvStr("SERVICE_JWT_PRIVATE_KEY_PEM"); ok {
		c.Keys.ImportPEM = v
	}
	if v, ok := getEnvStr("SERVICE_JWT_KID"); ok {
		c.Keys.ImportKID = v
	}

	if v, ok := getEnvStr("SERVICE_JWT_ISSUER"); ok {
		c.Service.Issuer = v
	}
	if v, ok := getEnvStr("SERVICE_JWT_AUDIENCE"); ok {
		c.Service.DefaultAudience = v
	}
	if v, ok := getEnvStr("SERVICE_JWT_SUBJECT"); ok {
		c.Service.DefaultSubject = v
	}
	if v, ok := getEnvStr("SERVICES_SHARED_TOKEN"); ok {
		c.Service.SharedSecret = v
	}
	if v, ok := getEnvStr("SERVICES_JWT_SECRET"); ok {
		c.Service.JWTSecret = v
	}
	if v, ok := getEnvStr("SERVICES_JWKS_URL"); ok {
		c.Service.JWKSURL = v
	}
	if v, ok := getEnvDur("SERVICES_HTTP_TIMEOUT"); ok {
		c.Service.Timeout = Duration(v)
	}

	if v, ok := getEnvStr("ORGS_BASE_URL"); ok {
		c.Orgs.BaseURL = v
	}
	if v, ok := getEnvStr("AUTH_BASE_URL"); ok {
		c.Auth.BaseURL = v
	}

	if v, ok := getEnvBool("RATE_ENABLED"); ok {
		c.Rate.Enabled = v
	}
	if v, ok := getEnvStr("RATE_REDIS_ADDR"); ok {
		c.Rate.RedisAddr = v
	}
	if v, ok := getEnvInt("RATE_REDIS_DB"); ok {
		c.Rate.RedisDB = v
	}
	if v, ok := getEnvInt("RATE_MAX_REQUESTS"); ok {
		c.Rate.MaxRequests = v
	}
	if v, ok := getEnvDur("RATE_WINDOW"); ok {
		c.Rate.Window = Duration(v)
	}
	if v, ok := getEnvDur("MEMBERSHIP_CACHE_TTL"); ok {
		c.Membership.CacheTTL = Duration(v)
	}
}

func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "memory", "postgres":
	default:
		return errors.New("config: storage.driver must be memory or postgres")
	}
	if c.Storage.Driver == "postgres" && c.Storage.DSN == "" {
		return errors.New("config: storage.dsn required for postgres driver")
	}
	if c.Keys.GraceSeconds < 0 || c.Keys.JWKSMaxAgeSeconds < 0 {
		return errors.New("config: key windows must be non-negative")
	}
	if c.Keys.MinRetained < 1 {
		return errors.New("config: keys.min_retained must be at least 1")
	}
	if c.Rate.Enabled && c.Rate.RedisAddr == "" {
		return errors.New("config: rate.redis_addr required when rate limiting is enabled")
	}
	return nil
}

// Grace returns the rotation grace window as a duration.
func (c *Config) Grace() time.Duration {
	return time.Duration(c.Keys.GraceSeconds) * time.Second
}

// JWKSMaxAge returns the advertised JWKS cache window as a duration.
func (c *Config) JWKSMaxAge() time.Duration {
	return time.Duration(c.Keys.JWKSMaxAgeSeconds) * time.Second
}

// Retention returns the key retention window as a duration.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.Keys.RetentionDays) * 24 * time.Hour
}
