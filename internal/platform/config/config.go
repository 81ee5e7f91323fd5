// Package config loads process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	ratelimitconfig "bruteguard/internal/ratelimit/config"
	dErrors "bruteguard/pkg/domain-errors"
)

const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"

	AuditSinkLog      = "log"
	AuditSinkPostgres = "postgres"
	AuditSinkKafka    = "kafka"
)

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string
	Environment     string
	LogLevel        string
	AdminAPIToken   string
	TrustedProxies  string
	LockoutSecret   string
	CleanupInterval time.Duration
	ShutdownTimeout time.Duration
	MaxBodyBytes    int64
}

// RedisConfig holds redis connection settings.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DatabaseConfig holds postgres connection settings.
type DatabaseConfig struct {
	URL             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// AuditConfig selects where security audit events go.
type AuditConfig struct {
	Sink         string
	KafkaBrokers string
	Topic        string
	BufferSize   int
}

type Config struct {
	Server       Server
	Limits       ratelimitconfig.LoginLimits
	StoreBackend string
	Redis        RedisConfig
	Database     DatabaseConfig
	SQLitePath   string
	Audit        AuditConfig
}

// FromEnv loads an optional .env file and builds the configuration from the
// environment. Malformed values and unusable combinations are returned as
// validation errors.
func FromEnv() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return Load(os.LookupEnv)
}

// Load builds the configuration from lookup.
func Load(lookup func(string) (string, bool)) (Config, error) {
	e := env{lookup: lookup}
	defaults := ratelimitconfig.DefaultLoginLimits()

	cfg := Config{
		Server: Server{
			Addr:            e.str("BRUTEGUARD_ADDR", ":8080"),
			Environment:     e.str("ENVIRONMENT", "development"),
			LogLevel:        e.str("LOG_LEVEL", "info"),
			AdminAPIToken:   e.str("ADMIN_API_TOKEN", ""),
			TrustedProxies:  e.str("TRUSTED_PROXIES", ""),
			LockoutSecret:   e.str("LOCKOUT_KEY_SECRET", ""),
			CleanupInterval: e.duration("CLEANUP_INTERVAL", 5*time.Minute),
			ShutdownTimeout: e.duration("SHUTDOWN_TIMEOUT", 15*time.Second),
			MaxBodyBytes:    int64(e.integer("MAX_BODY_BYTES", 64*1024)),
		},
		Limits: ratelimitconfig.LoginLimits{
			DecaySeconds:             e.integer("LOGIN_DECAY_SECONDS", defaults.DecaySeconds),
			MaxAttemptsPerIP:         e.integer("LOGIN_MAX_ATTEMPTS_PER_IP", defaults.MaxAttemptsPerIP),
			MaxAttemptsPerIdentifier: e.integer("LOGIN_MAX_ATTEMPTS_PER_IDENTIFIER", defaults.MaxAttemptsPerIdentifier),
			LockoutThreshold:         e.integer("LOGIN_LOCKOUT_THRESHOLD", defaults.LockoutThreshold),
			LockoutMinutes:           e.integer("LOGIN_LOCKOUT_MINUTES", defaults.LockoutMinutes),
			CaptchaAfterAttempts:     e.integer("LOGIN_CAPTCHA_AFTER_ATTEMPTS", defaults.CaptchaAfterAttempts),
			CaptchaCooldownMinutes:   e.integer("LOGIN_CAPTCHA_COOLDOWN_MINUTES", defaults.CaptchaCooldownMinutes),
			LogIncidents:             e.boolean("LOGIN_LOG_INCIDENTS", defaults.LogIncidents),
		},
		StoreBackend: strings.ToLower(e.str("STORE_BACKEND", BackendMemory)),
		Redis: RedisConfig{
			URL:          e.str("REDIS_URL", ""),
			PoolSize:     e.integer("REDIS_POOL_SIZE", 20),
			MinIdleConns: e.integer("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  e.duration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  e.duration("REDIS_READ_TIMEOUT", time.Second),
			WriteTimeout: e.duration("REDIS_WRITE_TIMEOUT", time.Second),
		},
		Database: DatabaseConfig{
			URL:             e.str("DATABASE_URL", ""),
			MaxConns:        int32(e.integer("DATABASE_MAX_CONNS", 25)),
			MinConns:        int32(e.integer("DATABASE_MIN_CONNS", 2)),
			MaxConnLifetime: e.duration("DATABASE_MAX_CONN_LIFETIME", 30*time.Minute),
		},
		SQLitePath: e.str("SQLITE_PATH", "bruteguard.db"),
		Audit: AuditConfig{
			Sink:         strings.ToLower(e.str("AUDIT_SINK", AuditSinkLog)),
			KafkaBrokers: e.str("KAFKA_BROKERS", ""),
			Topic:        e.str("AUDIT_TOPIC", "security.audit"),
			BufferSize:   e.integer("AUDIT_BUFFER_SIZE", 10000),
		},
	}

	if err := errors.Join(e.errs...); err != nil {
		return Config{}, dErrors.Wrap(err, dErrors.CodeValidation, "invalid configuration: "+err.Error())
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that the selected backends have what they need.
func (c Config) Validate() error {
	if err := c.Limits.Validate(); err != nil {
		return err
	}

	switch c.StoreBackend {
	case BackendMemory:
	case BackendRedis:
		if c.Redis.URL == "" {
			return invalid("REDIS_URL is required when STORE_BACKEND=redis")
		}
	case BackendPostgres:
		if c.Database.URL == "" {
			return invalid("DATABASE_URL is required when STORE_BACKEND=postgres")
		}
	case BackendSQLite:
		if c.SQLitePath == "" {
			return invalid("SQLITE_PATH is required when STORE_BACKEND=sqlite")
		}
	default:
		return invalid(fmt.Sprintf("unknown STORE_BACKEND %q", c.StoreBackend))
	}

	switch c.Audit.Sink {
	case AuditSinkLog:
	case AuditSinkPostgres:
		if c.Database.URL == "" {
			return invalid("DATABASE_URL is required when AUDIT_SINK=postgres")
		}
	case AuditSinkKafka:
		if c.Audit.KafkaBrokers == "" {
			return invalid("KAFKA_BROKERS is required when AUDIT_SINK=kafka")
		}
	default:
		return invalid(fmt.Sprintf("unknown AUDIT_SINK %q", c.Audit.Sink))
	}

	if c.Server.CleanupInterval <= 0 {
		return invalid("CLEANUP_INTERVAL must be positive")
	}
	return nil
}

// NeedsPostgres reports whether any component uses the postgres pool.
func (c Config) NeedsPostgres() bool {
	return c.StoreBackend == BackendPostgres || c.Audit.Sink == AuditSinkPostgres
}

func invalid(msg string) error {
	return dErrors.New(dErrors.CodeValidation, msg)
}

// env reads typed values and collects every parse failure.
type env struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (e *env) str(key, fallback string) string {
	if v, ok := e.lookup(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return fallback
}

func (e *env) integer(key string, fallback int) int {
	raw := e.str(key, "")
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %q is not an integer", key, raw))
		return fallback
	}
	return v
}

func (e *env) duration(key string, fallback time.Duration) time.Duration {
	raw := e.str(key, "")
	if raw == "" {
		return fallback
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %q is not a duration", key, raw))
		return fallback
	}
	return v
}

func (e *env) boolean(key string, fallback bool) bool {
	raw := e.str(key, "")
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %q is not a boolean", key, raw))
		return fallback
	}
	return v
}
