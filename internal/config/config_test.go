package config

import (
	"testing"
	"time"
)

func TestLoadReadsCriticalEnvKeys(t *testing.T) {
	t.Setenv("HEIMDALL_DB_DSN", "file:heimdall.db?cache=shared")
	t.Setenv("HEIMDALL_JWT_SIGNING_KEY", "supersecret")
	t.Setenv("HEIMDALL_ENV", "development")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.DBDSN == "" {
		t.Fatal("expected DB DSN to be set")
	}
	if cfg.JWTSigningKey != "supersecret" {
		t.Fatalf("unexpected jwt signing key: %q", cfg.JWTSigningKey)
	}
	if cfg.EngineTickInterval != 250*time.Millisecond {
		t.Fatalf("unexpected engine tick default: %v", cfg.EngineTickInterval)
	}
	if cfg.StreamFastRetries != 3 {
		t.Fatalf("unexpected fast retry default: %d", cfg.StreamFastRetries)
	}
	if cfg.StreamPollInterval != 5*time.Second {
		t.Fatalf("unexpected stream poll default: %v", cfg.StreamPollInterval)
	}
}

func TestLoadReportsLegacyEnvWarnings(t *testing.T) {
	t.Setenv("HEIMDALL_DB_DSN", "file:heimdall.db?cache=shared")
	t.Setenv("HEIMDALL_JWT_SIGNING_KEY", "supersecret")
	t.Setenv("JWT_SIGNING_KEY", "legacy")
	t.Setenv("TRACING_ENABLED", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if len(cfg.LegacyEnvWarnings) == 0 {
		t.Fatal("expected legacy env warnings")
	}
}

func TestLoadProductionRejectsWeakSigningKey(t *testing.T) {
	t.Setenv("HEIMDALL_DB_DSN", "file:heimdall.db?cache=shared")
	t.Setenv("HEIMDALL_ENV", "production")
	t.Setenv("HEIMDALL_JWT_SIGNING_KEY", "changeme")

	if _, err := Load(); err == nil {
		t.Fatal("expected production config load to fail with default signing key")
	}

	t.Setenv("HEIMDALL_JWT_SIGNING_KEY", "sufficiently-long-production-key")
	if _, err := Load(); err != nil {
		t.Fatalf("expected production config load with strong key to succeed: %v", err)
	}
}

func TestLoadProductionRequiresS3CredentialsWhenBucketSet(t *testing.T) {
	t.Setenv("HEIMDALL_DB_DSN", "file:heimdall.db?cache=shared")
	t.Setenv("HEIMDALL_JWT_SIGNING_KEY", "sufficiently-long-production-key")
	t.Setenv("HEIMDALL_ENV", "production")
	t.Setenv("HEIMDALL_S3_BUCKET", "signage-media")
	t.Setenv("AWS_ACCESS_KEY_ID", "")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected production config load to fail when S3 credentials are missing")
	}

	t.Setenv("HEIMDALL_S3_ACCESS_KEY_ID", "key")
	t.Setenv("HEIMDALL_S3_SECRET_ACCESS_KEY", "secret")
	if _, err := Load(); err != nil {
		t.Fatalf("expected production config load with S3 creds to succeed: %v", err)
	}
}

func TestLoadRejectsNonPositiveTick(t *testing.T) {
	t.Setenv("HEIMDALL_DB_DSN", "file:heimdall.db?cache=shared")
	t.Setenv("HEIMDALL_JWT_SIGNING_KEY", "supersecret")
	t.Setenv("HEIMDALL_ENGINE_TICK_MS", "0")

	if _, err := Load(); err == nil {
		t.Fatal("expected config load to fail with zero tick interval")
	}
}
