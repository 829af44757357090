package config

import (
	"strings"
	"testing"
)

func TestLoadAppliesDefaults(t *testing.T) {
	configViper := NewViper()
	configViper.Set("auth.signing_secret", "secret")

	cfg, err := Load(configViper)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTPAddress != defaultHTTPAddress {
		t.Fatalf("unexpected address %s", cfg.HTTPAddress)
	}
	if cfg.Database.Driver != DriverSQLite || cfg.Database.Path != "edits.db" {
		t.Fatalf("unexpected database config %+v", cfg.Database)
	}
	if cfg.Auth.Issuer != "tauth" || cfg.Auth.CookieName != "app_session" {
		t.Fatalf("unexpected auth config %+v", cfg.Auth)
	}
	if cfg.Moderation.AutoApproveThreshold != 10 || cfg.Moderation.MinRejectReasonLength != 10 {
		t.Fatalf("unexpected moderation config %+v", cfg.Moderation)
	}
	if cfg.RedisURL != "" || len(cfg.CORSAllowedOrigins) != 0 {
		t.Fatalf("expected optional integrations disabled, got %+v", cfg)
	}
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("EDITS_AUTH_SIGNING_SECRET", "env-secret")
	t.Setenv("EDITS_DATABASE_DRIVER", "Postgres")
	t.Setenv("EDITS_DATABASE_DSN", "postgres://edits@localhost/edits")
	t.Setenv("EDITS_MODERATION_AUTO_APPROVE_THRESHOLD", "25")
	t.Setenv("EDITS_CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("EDITS_REDIS_URL", "redis://localhost:6379/0")

	cfg, err := Load(NewViper())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Auth.SigningSecret != "env-secret" {
		t.Fatalf("unexpected secret %q", cfg.Auth.SigningSecret)
	}
	if cfg.Database.Driver != DriverPostgres || cfg.Database.DSN == "" {
		t.Fatalf("unexpected database config %+v", cfg.Database)
	}
	if cfg.Moderation.AutoApproveThreshold != 25 {
		t.Fatalf("unexpected threshold %d", cfg.Moderation.AutoApproveThreshold)
	}
	if strings.Join(cfg.CORSAllowedOrigins, "|") != "https://a.example|https://b.example" {
		t.Fatalf("unexpected origins %v", cfg.CORSAllowedOrigins)
	}
	if cfg.RedisURL != "redis://localhost:6379/0" {
		t.Fatalf("unexpected redis url %q", cfg.RedisURL)
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name      string
		overrides map[string]any
		message   string
	}{
		{name: "missing secret", overrides: map[string]any{}, message: "auth.signing_secret"},
		{name: "unknown driver", overrides: map[string]any{"auth.signing_secret": "s", "database.driver": "mysql"}, message: "database.driver"},
		{name: "postgres without dsn", overrides: map[string]any{"auth.signing_secret": "s", "database.driver": "postgres"}, message: "database.dsn"},
		{name: "zero threshold", overrides: map[string]any{"auth.signing_secret": "s", "moderation.auto_approve_threshold": 0}, message: "auto_approve_threshold"},
		{name: "zero reason", overrides: map[string]any{"auth.signing_secret": "s", "moderation.min_reject_reason": 0}, message: "min_reject_reason"},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			configViper := NewViper()
			for key, value := range testCase.overrides {
				configViper.Set(key, value)
			}
			_, err := Load(configViper)
			if err == nil || !strings.Contains(err.Error(), testCase.message) {
				t.Fatalf("expected error mentioning %q, got %v", testCase.message, err)
			}
		})
	}
}
