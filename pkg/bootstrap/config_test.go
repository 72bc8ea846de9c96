package bootstrap

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	shared "github.com/trailblazerplus/server/pkg"
)

const testKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func setValidEnv(t *testing.T) {
	t.Helper()
	t.Setenv("STRAVA_CLIENT_ID", "12345")
	t.Setenv("STRAVA_CLIENT_SECRET", "secret")
	t.Setenv("STRAVA_VERIFY_TOKEN", "verify")
	t.Setenv("ENCRYPTION_KEY", testKey)
	t.Setenv("STORE_BACKEND", "")
	t.Setenv("STREAK_TIMEZONE", "")
	t.Setenv("SYNC_WINDOW_DAYS", "")
	t.Setenv("PROVIDER_TIMEOUT", "")
	t.Setenv("ALLOWED_ORIGINS", "")
	t.Setenv("DATABASE_URL", "")
}

func TestLoadConfig_Defaults(t *testing.T) {
	setValidEnv(t)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.StoreBackend != BackendFirestore {
		t.Errorf("StoreBackend = %q", cfg.StoreBackend)
	}
	if cfg.SyncWindowDays != 30 {
		t.Errorf("SyncWindowDays = %d", cfg.SyncWindowDays)
	}
	if cfg.ProviderTimeout != 20*time.Second {
		t.Errorf("ProviderTimeout = %v", cfg.ProviderTimeout)
	}
	if cfg.StreakLocation != time.UTC {
		t.Errorf("StreakLocation = %v", cfg.StreakLocation)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoadConfig_Overrides(t *testing.T) {
	setValidEnv(t)
	t.Setenv("STREAK_TIMEZONE", "America/New_York")
	t.Setenv("SYNC_WINDOW_DAYS", "14")
	t.Setenv("PROVIDER_TIMEOUT", "5s")
	t.Setenv("ALLOWED_ORIGINS", "https://app.example.com, http://localhost:8081")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.StreakLocation.String() != "America/New_York" {
		t.Errorf("StreakLocation = %v", cfg.StreakLocation)
	}
	if cfg.SyncWindowDays != 14 || cfg.ProviderTimeout != 5*time.Second {
		t.Errorf("unexpected %d / %v", cfg.SyncWindowDays, cfg.ProviderTimeout)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "http://localhost:8081" {
		t.Errorf("AllowedOrigins = %v", cfg.AllowedOrigins)
	}
}

func TestLoadConfig_Malformed(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"STREAK_TIMEZONE", "Mars/Olympus"},
		{"SYNC_WINDOW_DAYS", "-3"},
		{"PROVIDER_TIMEOUT", "soon"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			setValidEnv(t)
			t.Setenv(tt.key, tt.value)

			_, err := LoadConfig()
			var cfgErr *shared.ConfigurationError
			if !errors.As(err, &cfgErr) || cfgErr.Key != tt.key {
				t.Fatalf("expected ConfigurationError for %s, got %v", tt.key, err)
			}
		})
	}
}

func TestValidate_ReportsEveryMissingSecret(t *testing.T) {
	cfg := &Config{StoreBackend: BackendPostgres}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error")
	}
	for _, key := range []string{"STRAVA_CLIENT_ID", "STRAVA_CLIENT_SECRET", "STRAVA_VERIFY_TOKEN", "ENCRYPTION_KEY", "DATABASE_URL"} {
		if !strings.Contains(err.Error(), key) {
			t.Errorf("missing %s in %v", key, err)
		}
	}
	var cfgErr *shared.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Errorf("expected a ConfigurationError in %v", err)
	}
}

func TestValidate_BadKeyAndBackend(t *testing.T) {
	cfg := &Config{
		StravaClientID: "1", StravaClientSecret: "s", StravaVerifyToken: "v",
		EncryptionKey: "abcd", StoreBackend: "mongo",
	}
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "ENCRYPTION_KEY") || !strings.Contains(err.Error(), "STORE_BACKEND") {
		t.Fatalf("unexpected %v", err)
	}
}

func TestComponentHandler_PrefixesMessage(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, slog.LevelInfo).With("component", "webhook")
	logger.Info("strava webhook queued", "entry_id", "e1")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("invalid json %q: %v", buf.String(), err)
	}
	if line["message"] != "[webhook] strava webhook queued" {
		t.Errorf("message = %v", line["message"])
	}
	if line["severity"] != "INFO" {
		t.Errorf("severity = %v", line["severity"])
	}
	if line["entry_id"] != "e1" {
		t.Errorf("entry_id = %v", line["entry_id"])
	}
}

func TestLevelFromEnv(t *testing.T) {
	t.Setenv("LOG_LEVEL", "DEBUG")
	if LevelFromEnv() != slog.LevelDebug {
		t.Error("expected debug")
	}
	t.Setenv("LOG_LEVEL", "")
	if LevelFromEnv() != slog.LevelInfo {
		t.Error("expected info default")
	}
}

func TestLogger_RedactsCredentials(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, slog.LevelInfo)
	logger.Info("token refreshed", "access_token", "abc123", "Refresh_Token", "def456", "athlete_id", 42)

	out := buf.String()
	if strings.Contains(out, "abc123") || strings.Contains(out, "def456") {
		t.Fatalf("credential leaked: %s", out)
	}
	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("invalid json %q: %v", out, err)
	}
	if line["access_token"] != "[REDACTED]" {
		t.Errorf("access_token = %v", line["access_token"])
	}
	if line["athlete_id"] != float64(42) {
		t.Errorf("athlete_id = %v", line["athlete_id"])
	}
}
