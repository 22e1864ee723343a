// Package config reads server settings from the environment and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultAddr          = ":9000"
	defaultEnv           = EnvDevelopment
	defaultDomain        = "localhost:3000"
	defaultIssuer        = "signet"
	defaultAudience      = "signet-web"
	defaultSessionTTL    = 24 * time.Hour
	defaultNonceTTL      = 5 * time.Minute
	defaultBlacklistTTL  = 30 * 24 * time.Hour
	defaultRedisURL      = "redis://localhost:6379/0"
	defaultMongoURI      = "mongodb://localhost:27017"
	defaultMongoDatabase = "signet"
	defaultLogLevel      = "info"

	// MinSecretLength is the shortest accepted HS256 signing secret
	MinSecretLength = 32
)

// Environments
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Backends
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendMongo  = "mongo"
)

var ErrMissingSecret = errors.New("JWT_SECRET must be set to at least 32 bytes")

// Config is the full server configuration
type Config struct {
	Addr     string
	Env      string
	Domain   string
	Issuer   string
	Audience string

	JWTSecret    []byte
	SessionTTL   time.Duration
	NonceTTL     time.Duration
	BlacklistTTL time.Duration

	StoreBackend     string
	RateLimitBackend string
	RedisURL         string
	MongoURI         string
	MongoDatabase    string

	AdminAddresses []string
	LogLevel       string
	EventsEnabled  bool
}

// Production reports whether cookies should be locked down
func (c *Config) Production() bool {
	return c.Env == EnvProduction
}

// Load reads .env from the working directory when present, then the
// environment. Variables already set in the environment win over .env.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	return FromEnv()
}

// FromEnv builds the configuration from environment variables only
func FromEnv() (*Config, error) {
	cfg := &Config{
		Addr:             stringOrDefault("SIGNET_ADDR", defaultAddr),
		Env:              stringOrDefault("SIGNET_ENV", defaultEnv),
		Domain:           stringOrDefault("SIGNET_DOMAIN", defaultDomain),
		Issuer:           stringOrDefault("SIGNET_ISSUER", defaultIssuer),
		Audience:         stringOrDefault("SIGNET_AUDIENCE", defaultAudience),
		JWTSecret:        []byte(os.Getenv("JWT_SECRET")),
		StoreBackend:     stringOrDefault("STORE_BACKEND", BackendMemory),
		RateLimitBackend: stringOrDefault("RATE_LIMIT_BACKEND", BackendMemory),
		RedisURL:         stringOrDefault("REDIS_URL", defaultRedisURL),
		MongoURI:         stringOrDefault("MONGO_URI", defaultMongoURI),
		MongoDatabase:    stringOrDefault("MONGO_DATABASE", defaultMongoDatabase),
		AdminAddresses:   splitList(os.Getenv("ADMIN_ADDRESSES")),
		LogLevel:         stringOrDefault("LOG_LEVEL", defaultLogLevel),
	}

	var err error
	if cfg.SessionTTL, err = durationOrDefault("SESSION_TTL", defaultSessionTTL); err != nil {
		return nil, err
	}
	if cfg.NonceTTL, err = durationOrDefault("NONCE_TTL", defaultNonceTTL); err != nil {
		return nil, err
	}
	if cfg.BlacklistTTL, err = durationOrDefault("BLACKLIST_TTL", defaultBlacklistTTL); err != nil {
		return nil, err
	}
	if v := os.Getenv("EVENTS_ENABLED"); v != "" {
		if cfg.EventsEnabled, err = strconv.ParseBool(v); err != nil {
			return nil, fmt.Errorf("invalid EVENTS_ENABLED %q: %w", v, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that have no safe default
func (c *Config) Validate() error {
	if len(c.JWTSecret) < MinSecretLength {
		return ErrMissingSecret
	}
	switch c.Env {
	case EnvDevelopment, EnvProduction:
	default:
		return fmt.Errorf("invalid SIGNET_ENV %q", c.Env)
	}
	switch c.StoreBackend {
	case BackendMemory, BackendRedis, BackendMongo:
	default:
		return fmt.Errorf("invalid STORE_BACKEND %q", c.StoreBackend)
	}
	switch c.RateLimitBackend {
	case BackendMemory, BackendRedis:
	default:
		return fmt.Errorf("invalid RATE_LIMIT_BACKEND %q", c.RateLimitBackend)
	}
	if c.SessionTTL <= 0 || c.NonceTTL <= 0 || c.BlacklistTTL <= 0 {
		return errors.New("ttl values must be positive")
	}
	return nil
}

func stringOrDefault(name, def string) string {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		return v
	}
	return def
}

func durationOrDefault(name string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(name)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid duration in %s: %w", name, err)
	}
	return d, nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
