package server

import (
	"os"
	"slices"
	"testing"
	"time"
)

// clearEnv unsets keys for the test, restoring them afterwards.
func clearEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, key := range keys {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	clearEnv(t, "PORT", "MAX_UPLOAD_SIZE", "MAX_PLAYERS_PER_SESSION", "ALLOWED_ORIGINS",
		"FRONTEND_DIR", "UPLOAD_DIR", "DB_PATH", "TOKEN_SECRET", "TOKEN_TTL", "DEFAULT_CELL_SIZE",
		"OTEL_ENDPOINT", "OTEL_ENABLED")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Port != "8080" || cfg.MaxPlayersPerSession != 12 || cfg.DefaultCellSize != 50 {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.TokenTTL != 24*time.Hour || cfg.MaxUploadSize != 10<<20 {
		t.Fatalf("unexpected limits %+v", cfg)
	}
	if !slices.Equal(cfg.AllowedOrigins, []string{"*"}) {
		t.Fatalf("unexpected origins %v", cfg.AllowedOrigins)
	}
	if cfg.DBPath != "data/tabletop.db" || !cfg.OTelEnabled {
		t.Fatalf("unexpected storage or telemetry defaults %+v", cfg)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("ALLOWED_ORIGINS", " https://a.example , ,https://b.example")
	t.Setenv("TOKEN_TTL", "2h")
	t.Setenv("MAX_PLAYERS_PER_SESSION", "6")
	t.Setenv("OTEL_ENABLED", "false")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Port != "9000" || cfg.TokenTTL != 2*time.Hour || cfg.MaxPlayersPerSession != 6 || cfg.OTelEnabled {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if want := []string{"https://a.example", "https://b.example"}; !slices.Equal(cfg.AllowedOrigins, want) {
		t.Fatalf("got origins %v, want %v", cfg.AllowedOrigins, want)
	}
}

func TestLoadConfigRejectsInvalidLimits(t *testing.T) {
	tests := []struct {
		key   string
		value string
	}{
		{"MAX_PLAYERS_PER_SESSION", "0"},
		{"MAX_UPLOAD_SIZE", "-1"},
		{"TOKEN_TTL", "0s"},
		{"TOKEN_TTL", "soon"},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := LoadConfig(); err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}

func TestNormalizeOrigins(t *testing.T) {
	tests := []struct {
		name string
		raw  []string
		want []string
	}{
		{"empty falls back to wildcard", nil, []string{"*"}},
		{"blank entries dropped", []string{" ", ""}, []string{"*"}},
		{"trimmed", []string{" https://x.example "}, []string{"https://x.example"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := normalizeOrigins(tt.raw); !slices.Equal(got, tt.want) {
				t.Errorf("normalizeOrigins(%q) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}
