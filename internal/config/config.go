// Package config loads the portal configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/url"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
)

// Config holds every setting the composition roots need. It is parsed once at startup
// and passed down explicitly.
type Config struct {
	SupabaseURL    string `env:"SUPABASE_URL"`
	AnonKey        string `env:"SUPABASE_ANON_KEY"`
	AnonKeyParam   string `env:"SUPABASE_ANON_KEY_PARAM" envDefault:"/eremconecta/supabase-anon-key"`
	JWTSecretParam string `env:"SUPABASE_JWT_SECRET_PARAM" envDefault:"/eremconecta/supabase-jwt-secret"`
	DatabaseURL    string `env:"DATABASE_URL"`

	Region string `env:"AWS_REGION"`
	Locale string `env:"PORTAL_LOCALE" envDefault:"pt-BR"`

	Bucket        string `env:"S3_BUCKET"`
	SessionsTable string `env:"SESSIONS_TABLE" envDefault:"PortalSessions"`
	SessionKey    string `env:"PORTAL_SESSION_KEY" envDefault:"default"`
	KMSKeyID      string `env:"KMS_KEY_ID" envDefault:"alias/eremconecta-session-key"`

	FrontendURL       string `env:"FRONTEND_URL" envDefault:"http://localhost:3000"`
	OriginSecretParam string `env:"ORIGIN_VERIFY_SECRET_PARAM"`
	ListenAddr        string `env:"LISTEN_ADDR" envDefault:":8080"`
	DevMode           bool   `env:"DEV_MODE"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`
}

const defaultRegion = "us-east-1"

// Load parses the environment into a Config and validates it.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.Region == "" {
		cfg.Region = os.Getenv("AWS_DEFAULT_REGION")
	}
	if cfg.Region == "" {
		cfg.Region = defaultRegion
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// MustLoad is Load for entrypoints: a missing required field stops the process.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	return cfg
}

// Validate reports the first missing or malformed required field.
func (c Config) Validate() error {
	var errs []error
	if c.SupabaseURL == "" {
		if !c.DevMode {
			errs = append(errs, errors.New("SUPABASE_URL is required"))
		}
	} else if u, err := url.Parse(c.SupabaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("SUPABASE_URL %q is not an absolute URL", c.SupabaseURL))
	}
	if !c.DevMode && c.AnonKey == "" && c.AnonKeyParam == "" {
		errs = append(errs, errors.New("SUPABASE_ANON_KEY or SUPABASE_ANON_KEY_PARAM is required"))
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("LOG_FORMAT %q must be text or json", c.LogFormat))
	}
	return errors.Join(errs...)
}

// Logger builds the process logger from LOG_LEVEL and LOG_FORMAT.
func (c Config) Logger() *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
