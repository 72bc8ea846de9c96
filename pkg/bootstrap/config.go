package bootstrap

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	shared "github.com/trailblazerplus/server/pkg"
	"github.com/trailblazerplus/server/pkg/vault"
)

// Store backends.
const (
	BackendFirestore = "firestore"
	BackendPostgres  = "postgres"
	BackendMemory    = "memory"
)

// Config holds standard configuration for all services
type Config struct {
	ProjectID         string
	EnablePublish     bool
	GCSArtifactBucket string

	StoreBackend string
	DatabaseURL  string
	RedisURL     string

	StravaClientID     string
	StravaClientSecret string
	StravaVerifyToken  string
	StravaRedirectURI  string
	EncryptionKey      string

	SentryDSN         string
	SentryEnvironment string

	StreakLocation  *time.Location
	SyncWindowDays  int
	ProviderTimeout time.Duration

	Port           string
	AllowedOrigins []string
}

// LoadConfig reads configuration from environment variables. Malformed
// values are reported as *shared.ConfigurationError; missing secrets are left
// for Validate.
func LoadConfig() (*Config, error) {
	projectID := os.Getenv("GOOGLE_CLOUD_PROJECT")
	if projectID == "" {
		projectID = shared.ProjectID // Fallback
	}

	cfg := &Config{
		ProjectID:          projectID,
		EnablePublish:      os.Getenv("ENABLE_PUBLISH") == "true",
		GCSArtifactBucket:  os.Getenv("GCS_ARTIFACT_BUCKET"),
		StoreBackend:       strings.ToLower(envOr("STORE_BACKEND", BackendFirestore)),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		RedisURL:           os.Getenv("REDIS_URL"),
		StravaClientID:     os.Getenv("STRAVA_CLIENT_ID"),
		StravaClientSecret: os.Getenv("STRAVA_CLIENT_SECRET"),
		StravaVerifyToken:  os.Getenv("STRAVA_VERIFY_TOKEN"),
		StravaRedirectURI:  os.Getenv("STRAVA_REDIRECT_URI"),
		EncryptionKey:      os.Getenv(vault.EnvKey),
		SentryDSN:          os.Getenv("SENTRY_DSN"),
		SentryEnvironment:  envOr("SENTRY_ENVIRONMENT", "production"),
		SyncWindowDays:     30,
		ProviderTimeout:    20 * time.Second,
		Port:               envOr("PORT", "8080"),
	}

	loc, err := time.LoadLocation(envOr("STREAK_TIMEZONE", "UTC"))
	if err != nil {
		return nil, &shared.ConfigurationError{Key: "STREAK_TIMEZONE", Reason: err.Error()}
	}
	cfg.StreakLocation = loc

	if v := os.Getenv("SYNC_WINDOW_DAYS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, &shared.ConfigurationError{Key: "SYNC_WINDOW_DAYS", Reason: "must be a positive integer"}
		}
		cfg.SyncWindowDays = n
	}

	if v := os.Getenv("PROVIDER_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return nil, &shared.ConfigurationError{Key: "PROVIDER_TIMEOUT", Reason: "must be a positive duration"}
		}
		cfg.ProviderTimeout = d
	}

	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, o)
			}
		}
	}
	return cfg, nil
}

// Validate reports every missing or malformed secret, one
// *shared.ConfigurationError each.
func (c *Config) Validate() error {
	var errs []error
	required := []struct{ key, value string }{
		{"STRAVA_CLIENT_ID", c.StravaClientID},
		{"STRAVA_CLIENT_SECRET", c.StravaClientSecret},
		{"STRAVA_VERIFY_TOKEN", c.StravaVerifyToken},
		{vault.EnvKey, c.EncryptionKey},
	}
	for _, r := range required {
		if r.value == "" {
			errs = append(errs, &shared.ConfigurationError{Key: r.key})
		}
	}
	if c.EncryptionKey != "" {
		if _, err := vault.New(c.EncryptionKey); err != nil {
			errs = append(errs, err)
		}
	}

	switch c.StoreBackend {
	case BackendFirestore, BackendMemory:
	case BackendPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, &shared.ConfigurationError{Key: "DATABASE_URL"})
		}
	default:
		errs = append(errs, &shared.ConfigurationError{
			Key:    "STORE_BACKEND",
			Reason: fmt.Sprintf("unknown backend %q", c.StoreBackend),
		})
	}
	return errors.Join(errs...)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
