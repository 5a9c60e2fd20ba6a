package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config carries all runtime settings, loaded from the environment.
type Config struct {
	Environment string
	HTTPAddr    string

	DatabaseDSN string

	// Hosting provider selection: "vercel" or "netlify", chosen once at boot.
	HostingProvider string
	VercelToken     string
	VercelTeamID    string
	NetlifyToken    string

	// Archive settings (GitHub).
	GitHubToken string
	GitHubOwner string

	// Billing webhook verification.
	StripeWebhookSecret string

	// Readiness polling for hosting deployments.
	PollMaxAttempts int
	PollInterval    time.Duration

	// OTLP trace exporter endpoint; empty disables tracing export.
	OTLPEndpoint string
}

var (
	ErrMissingDatabaseDSN     = errors.New("missing_database_dsn")
	ErrMissingArchiveToken    = errors.New("missing_archive_token")
	ErrMissingArchiveOwner    = errors.New("missing_archive_owner")
	ErrInvalidHostingProvider = errors.New("invalid_hosting_provider")
	ErrMissingHostingToken    = errors.New("missing_hosting_token")
)

// Load reads configuration from the environment and validates it.
func Load() (Config, error) {
	cfg := Config{
		Environment:         env("SHIPYARD_ENV", "development"),
		HTTPAddr:            env("SHIPYARD_HTTP_ADDR", ":8080"),
		DatabaseDSN:         os.Getenv("SHIPYARD_DATABASE_DSN"),
		HostingProvider:     strings.ToLower(env("SHIPYARD_HOSTING_PROVIDER", "vercel")),
		VercelToken:         os.Getenv("SHIPYARD_VERCEL_TOKEN"),
		VercelTeamID:        os.Getenv("SHIPYARD_VERCEL_TEAM_ID"),
		NetlifyToken:        os.Getenv("SHIPYARD_NETLIFY_TOKEN"),
		GitHubToken:         os.Getenv("SHIPYARD_GITHUB_TOKEN"),
		GitHubOwner:         os.Getenv("SHIPYARD_GITHUB_OWNER"),
		StripeWebhookSecret: os.Getenv("SHIPYARD_STRIPE_WEBHOOK_SECRET"),
		PollMaxAttempts:     envInt("SHIPYARD_POLL_MAX_ATTEMPTS", 24),
		PollInterval:        envDuration("SHIPYARD_POLL_INTERVAL", 5*time.Second),
		OTLPEndpoint:        os.Getenv("SHIPYARD_OTLP_ENDPOINT"),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that required settings are present and coherent.
func (c Config) Validate() error {
	if strings.TrimSpace(c.DatabaseDSN) == "" {
		return ErrMissingDatabaseDSN
	}
	if strings.TrimSpace(c.GitHubToken) == "" {
		return ErrMissingArchiveToken
	}
	if strings.TrimSpace(c.GitHubOwner) == "" {
		return ErrMissingArchiveOwner
	}
	switch c.HostingProvider {
	case "vercel":
		if strings.TrimSpace(c.VercelToken) == "" {
			return ErrMissingHostingToken
		}
	case "netlify":
		if strings.TrimSpace(c.NetlifyToken) == "" {
			return ErrMissingHostingToken
		}
	default:
		return ErrInvalidHostingProvider
	}
	return nil
}

// IsProduction reports whether the service runs with production settings.
func (c Config) IsProduction() bool {
	return c.Environment == "production"
}

func env(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func envInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func envDuration(key string, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}
