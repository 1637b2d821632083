// Package config loads server settings from an optional YAML file and the
// environment. Environment variables win over file values.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
)

type Config struct {
	Port        int
	Env         string
	JWTSecret   string
	TokenTTL    time.Duration
	CORSOrigins []string

	Store     Store
	Matching  Matching
	RateLimit RateLimit
	Uploads   Uploads
	Log       Log
	Telemetry Telemetry
}

type Store struct {
	Driver        string
	DatabaseURL   string
	MongoURI      string
	MongoDatabase string
	MaxOpenConns  int
}

// Matching tunes the ranker used by GET /matches.
type Matching struct {
	MinScore int
	Limit    int
}

// RateLimit applies per client to /login and /register.
type RateLimit struct {
	PerMinute float64
	Burst     int
}

type Uploads struct {
	Dir      string
	MaxBytes int64
}

type Log struct {
	Level  string
	Format string
}

type Telemetry struct {
	OTLPEndpoint string
	ServiceName  string
}

var (
	ErrMissingJWTSecret   = errors.New("JWT_SECRET is required")
	ErrMissingDatabaseURL = errors.New("DATABASE_URL is required for the postgres driver")
	ErrMissingMongoURI    = errors.New("MONGO_URI is required for the mongo driver")
	ErrUnknownDriver      = errors.New("STORE_DRIVER must be memory, postgres or mongo")
	ErrInvalidPort        = errors.New("PORT must be between 1 and 65535")
	ErrInvalidMinScore    = errors.New("MATCH_MIN_SCORE must be between 0 and 100")
	ErrInvalidLimit       = errors.New("MATCH_LIMIT must not be negative")
	ErrInvalidRateLimit   = errors.New("rate limit must be positive")
	ErrInvalidLogFormat   = errors.New("LOG_FORMAT must be json or console")
	ErrInvalidNumber      = errors.New("must be a number")
)

const (
	DefaultPort           = 8080
	DefaultEnv            = "development"
	DefaultDriver         = DriverMemory
	DefaultMongoDatabase  = "misyar"
	DefaultMaxOpenConns   = 10
	DefaultTokenTTL       = 72 * time.Hour
	DefaultMatchLimit     = 50
	DefaultRatePerMinute  = 10
	DefaultRateBurst      = 5
	DefaultUploadsDir     = "uploads"
	DefaultUploadMaxBytes = 5 << 20
	DefaultLogLevel       = "info"
	DefaultLogFormat      = "json"
	DefaultServiceName    = "misyar-connect"
	DefaultCORSOrigin     = "http://localhost:5173"
)

// LoadEnvFiles reads .env style files into the process environment. Missing
// files are ignored and variables already set are kept.
func LoadEnvFiles(files ...string) {
	for _, f := range files {
		_ = godotenv.Load(f)
	}
}

// Load reads the optional YAML file at path, applies environment overrides and
// validates the result. All problems are returned together.
func Load(path string) (*Config, []error) {
	k := koanf.New(".")
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, []error{fmt.Errorf("load config file %s: %w", path, err)}
		}
	}

	var errs []error
	intVal := func(env, key string, def int) int {
		v, err := getEnvInt(env, k, key, def)
		if err != nil {
			errs = append(errs, err)
		}
		return v
	}

	ttl := DefaultTokenTTL
	if k.Exists("auth.token_ttl") {
		ttl = k.Duration("auth.token_ttl")
	}
	if v := os.Getenv("TOKEN_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("TOKEN_TTL: %w", err))
		}
		ttl = d
	}

	perMinute := float64(DefaultRatePerMinute)
	if k.Exists("ratelimit.per_minute") {
		perMinute = k.Float64("ratelimit.per_minute")
	}
	if v := os.Getenv("LOGIN_RATE_PER_MINUTE"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("LOGIN_RATE_PER_MINUTE %w", ErrInvalidNumber))
		}
		perMinute = f
	}

	origins := k.Strings("cors.origins")
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		origins = splitList(v)
	}
	if len(origins) == 0 {
		origins = []string{DefaultCORSOrigin}
	}

	cfg := &Config{
		Port:        intVal("PORT", "port", DefaultPort),
		Env:         getEnvOrDefault("MISYAR_ENV", k, "env", DefaultEnv),
		JWTSecret:   getEnvOrKoanf("JWT_SECRET", k, "auth.jwt_secret"),
		TokenTTL:    ttl,
		CORSOrigins: origins,
		Store: Store{
			Driver:        strings.ToLower(getEnvOrDefault("STORE_DRIVER", k, "store.driver", DefaultDriver)),
			DatabaseURL:   getEnvOrKoanf("DATABASE_URL", k, "store.database_url"),
			MongoURI:      getEnvOrKoanf("MONGO_URI", k, "store.mongo_uri"),
			MongoDatabase: getEnvOrDefault("MONGO_DATABASE", k, "store.mongo_database", DefaultMongoDatabase),
			MaxOpenConns:  intVal("DB_MAX_OPEN_CONNS", "store.max_open_conns", DefaultMaxOpenConns),
		},
		Matching: Matching{
			MinScore: intVal("MATCH_MIN_SCORE", "matching.min_score", 0),
			Limit:    intVal("MATCH_LIMIT", "matching.limit", DefaultMatchLimit),
		},
		RateLimit: RateLimit{
			PerMinute: perMinute,
			Burst:     intVal("LOGIN_RATE_BURST", "ratelimit.burst", DefaultRateBurst),
		},
		Uploads: Uploads{
			Dir:      getEnvOrDefault("UPLOADS_DIR", k, "uploads.dir", DefaultUploadsDir),
			MaxBytes: int64(intVal("UPLOADS_MAX_BYTES", "uploads.max_bytes", DefaultUploadMaxBytes)),
		},
		Log: Log{
			Level:  getEnvOrDefault("LOG_LEVEL", k, "log.level", DefaultLogLevel),
			Format: getEnvOrDefault("LOG_FORMAT", k, "log.format", DefaultLogFormat),
		},
		Telemetry: Telemetry{
			OTLPEndpoint: getEnvOrKoanf("OTEL_EXPORTER_OTLP_ENDPOINT", k, "telemetry.otlp_endpoint"),
			ServiceName:  getEnvOrDefault("OTEL_SERVICE_NAME", k, "telemetry.service_name", DefaultServiceName),
		},
	}

	return cfg, append(errs, cfg.Validate()...)
}

func getEnvOrKoanf(envKey string, k *koanf.Koanf, koanfKey string) string {
	if v := os.Getenv(envKey); v != "" {
		return v
	}
	return k.String(koanfKey)
}

func getEnvOrDefault(envKey string, k *koanf.Koanf, koanfKey, def string) string {
	if v := getEnvOrKoanf(envKey, k, koanfKey); v != "" {
		return v
	}
	return def
}

// getEnvInt falls back to the file value, then def. A zero in the file counts as unset.
func getEnvInt(envKey string, k *koanf.Koanf, koanfKey string, def int) (int, error) {
	if v := os.Getenv(envKey); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			return def, fmt.Errorf("%s %w", envKey, ErrInvalidNumber)
		}
		return i, nil
	}
	if k.Exists(koanfKey) {
		return k.Int(koanfKey), nil
	}
	return def, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// IsProduction reports whether the server runs with production defaults.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return ":" + strconv.Itoa(c.Port)
}

// Validate checks the loaded values. It returns nil when the config is usable.
func (c *Config) Validate() []error {
	var errs []error

	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, ErrInvalidPort)
	}
	if c.JWTSecret == "" {
		errs = append(errs, ErrMissingJWTSecret)
	}

	switch c.Store.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.Store.DatabaseURL == "" {
			errs = append(errs, ErrMissingDatabaseURL)
		}
	case DriverMongo:
		if c.Store.MongoURI == "" {
			errs = append(errs, ErrMissingMongoURI)
		}
	default:
		errs = append(errs, ErrUnknownDriver)
	}

	if c.Matching.MinScore < 0 || c.Matching.MinScore > 100 {
		errs = append(errs, ErrInvalidMinScore)
	}
	if c.Matching.Limit < 0 {
		errs = append(errs, ErrInvalidLimit)
	}
	if c.RateLimit.PerMinute <= 0 || c.RateLimit.Burst <= 0 {
		errs = append(errs, ErrInvalidRateLimit)
	}
	if c.Log.Format != "json" && c.Log.Format != "console" {
		errs = append(errs, ErrInvalidLogFormat)
	}
	return errs
}

// LogSummary is safe to log: secrets and credentials are masked.
func (c *Config) LogSummary() map[string]string {
	return map[string]string{
		"port":          strconv.Itoa(c.Port),
		"env":           c.Env,
		"store_driver":  c.Store.Driver,
		"database_url":  maskURL(c.Store.DatabaseURL),
		"mongo_uri":     maskURL(c.Store.MongoURI),
		"jwt_secret":    maskSecret(c.JWTSecret),
		"match_limit":   strconv.Itoa(c.Matching.Limit),
		"match_min":     strconv.Itoa(c.Matching.MinScore),
		"uploads_dir":   c.Uploads.Dir,
		"otlp_endpoint": c.Telemetry.OTLPEndpoint,
	}
}

func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	return "****"
}

func maskURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "****")
	}
	return u.String()
}
