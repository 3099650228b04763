// Package config loads the API server configuration from the environment.
package config

import (
	"crypto/tls"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

// Config holds the server settings.
type Config struct {
	StorageConnectionString string
	TasksTable              string
	SettingsTable           string
	EventsQueue             string
	RedisConnectionString   string
	UpdatesChannel          string

	CacheTTL                time.Duration
	DeduperTTL              time.Duration
	EventPublishConcurrency int
	MoveMaxRetries          int

	EventWorkers        int
	EventBuffer         int
	EventTimeout        time.Duration
	EventHandoffTimeout time.Duration

	Auth0Domain   string
	Auth0Audience string
	AuthTestMode  bool
	TestJWTSecret string
	JWKSCacheTTL  time.Duration

	Port  string
	Debug bool
}

var required = []string{
	"STORAGE_CONNECTION_STRING",
	"TASKS_TABLE",
	"SETTINGS_TABLE",
	"EVENTS_QUEUE",
	"REDIS_CONNECTION_STRING",
}

func newViper() *viper.Viper {
	v := viper.New()
	v.AutomaticEnv()
	v.SetDefault("UPDATES_CHANNEL", "board-updates")
	v.SetDefault("CACHE_TTL", 10*time.Minute)
	v.SetDefault("DEDUPER_TTL", 24*time.Hour)
	v.SetDefault("EVENT_PUBLISH_CONCURRENCY", 8)
	v.SetDefault("MOVE_MAX_RETRIES", 3)
	v.SetDefault("EVENT_WORKERS", 8)
	v.SetDefault("EVENT_BUFFER", 1024)
	v.SetDefault("EVENT_TIMEOUT", 30*time.Second)
	v.SetDefault("EVENT_HANDOFF_TIMEOUT", 15*time.Millisecond)
	v.SetDefault("JWKS_CACHE_TTL", 15*time.Minute)
	v.SetDefault("PORT", "8080")
	v.SetDefault("DEBUG", false)
	return v
}

// Load reads the configuration from environment variables and validates it.
// Missing keys, malformed values and failed checks are reported together.
func Load() (*Config, error) {
	r := &reader{v: newViper()}

	var missing []string
	for _, key := range required {
		if strings.TrimSpace(r.v.GetString(key)) == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		r.errs = append(r.errs, fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", ")))
	}

	cfg := &Config{
		StorageConnectionString: r.v.GetString("STORAGE_CONNECTION_STRING"),
		TasksTable:              r.v.GetString("TASKS_TABLE"),
		SettingsTable:           r.v.GetString("SETTINGS_TABLE"),
		EventsQueue:             r.v.GetString("EVENTS_QUEUE"),
		RedisConnectionString:   r.v.GetString("REDIS_CONNECTION_STRING"),
		UpdatesChannel:          r.v.GetString("UPDATES_CHANNEL"),
		CacheTTL:                r.duration("CACHE_TTL"),
		DeduperTTL:              r.duration("DEDUPER_TTL"),
		EventPublishConcurrency: r.int("EVENT_PUBLISH_CONCURRENCY"),
		MoveMaxRetries:          r.int("MOVE_MAX_RETRIES"),
		EventWorkers:            r.int("EVENT_WORKERS"),
		EventBuffer:             r.int("EVENT_BUFFER"),
		EventTimeout:            r.duration("EVENT_TIMEOUT"),
		EventHandoffTimeout:     r.duration("EVENT_HANDOFF_TIMEOUT"),
		Auth0Domain:             r.v.GetString("AUTH0_DOMAIN"),
		Auth0Audience:           r.v.GetString("AUTH0_AUDIENCE"),
		AuthTestMode:            r.v.GetString("AUTH0_TEST_MODE") == "1",
		TestJWTSecret:           r.v.GetString("TEST_JWT_SECRET"),
		JWKSCacheTTL:            r.duration("JWKS_CACHE_TTL"),
		Port:                    r.v.GetString("PORT"),
		Debug:                   r.bool("DEBUG"),
	}
	if err := errors.Join(append(r.errs, cfg.validate())...); err != nil {
		return nil, err
	}
	return cfg, nil
}

// reader converts raw values strictly. viper's typed getters turn malformed
// input into zero values, so parse failures are collected here instead.
type reader struct {
	v    *viper.Viper
	errs []error
}

func (r *reader) duration(key string) time.Duration {
	d, err := cast.ToDurationE(r.v.Get(key))
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("invalid %s: %w", key, err))
	}
	return d
}

func (r *reader) int(key string) int {
	n, err := cast.ToIntE(r.v.Get(key))
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("invalid %s: %w", key, err))
	}
	return n
}

func (r *reader) bool(key string) bool {
	b, err := cast.ToBoolE(r.v.Get(key))
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("invalid %s: %w", key, err))
	}
	return b
}

func (c *Config) validate() error {
	var errs []error
	if c.DeduperTTL <= 0 {
		errs = append(errs, errors.New("DEDUPER_TTL must be positive"))
	}
	if c.CacheTTL < 0 {
		errs = append(errs, errors.New("CACHE_TTL must not be negative"))
	}
	if c.MoveMaxRetries < 0 {
		errs = append(errs, errors.New("MOVE_MAX_RETRIES must not be negative"))
	}
	if c.EventPublishConcurrency < 0 {
		errs = append(errs, errors.New("EVENT_PUBLISH_CONCURRENCY must not be negative"))
	}
	if c.JWKSCacheTTL <= 0 {
		errs = append(errs, errors.New("JWKS_CACHE_TTL must be positive"))
	}
	if c.AuthTestMode {
		if c.TestJWTSecret == "" {
			errs = append(errs, errors.New("TEST_JWT_SECRET must be set when AUTH0_TEST_MODE=1"))
		}
	} else if c.Auth0Domain == "" || c.Auth0Audience == "" {
		errs = append(errs, errors.New("missing Auth0 config: AUTH0_DOMAIN and AUTH0_AUDIENCE are required"))
	}
	return errors.Join(errs...)
}

// Issuer returns the expected token issuer for the Auth0 tenant.
func (c *Config) Issuer() string {
	if c.Auth0Domain == "" {
		return ""
	}
	return "https://" + c.Auth0Domain + "/"
}

// JWKSURL returns the key set location of the Auth0 tenant.
func (c *Config) JWKSURL() string {
	return fmt.Sprintf("https://%s/.well-known/jwks.json", c.Auth0Domain)
}

// RedisOptions parses either a redis:// URL or an Azure style
// "host:port,password=...,ssl=true" connection string.
func RedisOptions(conn string) (*redis.Options, error) {
	if strings.TrimSpace(conn) == "" {
		return nil, errors.New("empty redis connection string")
	}
	if opts, err := redis.ParseURL(conn); err == nil {
		return opts, nil
	}
	parts := strings.Split(conn, ",")
	opts := &redis.Options{Addr: strings.TrimSpace(parts[0])}
	for _, p := range parts[1:] {
		key, val, ok := strings.Cut(p, "=")
		if !ok {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "password":
			opts.Password = val
		case "ssl":
			if strings.EqualFold(strings.TrimSpace(val), "true") {
				opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
			}
		}
	}
	return opts, nil
}
