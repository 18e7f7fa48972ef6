/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Database backend selection.
type DatabaseBackend string

const (
	DatabasePostgres DatabaseBackend = "postgres"
	DatabaseMySQL    DatabaseBackend = "mysql"
	DatabaseSQLite   DatabaseBackend = "sqlite"
)

// Config covers process level configuration read from environment variables.
type Config struct {
	Environment     string
	HTTPBind        string
	HTTPPort        int
	BaseURL         string // Public base URL (e.g., http://192.168.10.4:8080)
	DBBackend       DatabaseBackend
	DBDSN           string
	MediaRoot       string
	JWTSigningKey   string
	MetricsBind     string
	MaxUploadSizeMB int // Optional global multipart upload limit override for web handlers (MB)

	// Playback engine configuration
	EngineTickInterval   time.Duration // How often region timers are evaluated
	ImageDuration        time.Duration // Default on-screen time for images and text
	WebDuration          time.Duration // Default on-screen time for embedded pages
	VideoPlaceholder     time.Duration // Safety timer for videos with unknown duration
	StreamFastRetries    int           // Immediate reconnect attempts before slow polling
	StreamPollInterval   time.Duration // Slow polling cadence while a stream is down
	StreamProbeTimeout   time.Duration // Per-probe HTTP timeout
	ScheduleTickInterval time.Duration // How often screen schedules are re-evaluated
	ScheduleLookahead    time.Duration // Horizon for recurrence expansion

	// S3 Object Storage configuration
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3Region          string
	S3Bucket          string
	S3Endpoint        string // For S3-compatible services (MinIO, Spaces, etc.)
	S3PublicBaseURL   string // Optional CDN/CloudFront URL
	S3UsePathStyle    bool   // Required for MinIO

	// Tracing configuration
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64

	// Multi-instance configuration
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	RedisEventBus         bool   // Fan events out over Redis pub/sub when NATS is not configured
	NATSURL               string // Empty disables the NATS event bridge
	InstanceID            string
	LeaderElectionEnabled bool // Gate the scheduler behind a Redis lease so only one node evaluates

	// Proof-of-play configuration
	PlayLogRetentionDays int

	LegacyEnvWarnings []string
}

// Load reads environment variables, applies defaults, and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Environment:     getEnvAny([]string{"HEIMDALL_ENV", "FIS_ENV"}, "development"),
		HTTPBind:        getEnvAny([]string{"HEIMDALL_HTTP_BIND", "FIS_HTTP_BIND"}, "0.0.0.0"),
		HTTPPort:        getEnvIntAny([]string{"HEIMDALL_HTTP_PORT", "FIS_HTTP_PORT"}, 8080),
		BaseURL:         getEnvAny([]string{"HEIMDALL_BASE_URL", "FIS_BASE_URL"}, ""),
		DBBackend:       DatabaseBackend(getEnvAny([]string{"HEIMDALL_DB_BACKEND", "FIS_DB_BACKEND"}, string(DatabaseSQLite))),
		DBDSN:           getEnvAny([]string{"HEIMDALL_DB_DSN", "FIS_DB_DSN"}, ""),
		MediaRoot:       getEnvAny([]string{"HEIMDALL_MEDIA_ROOT", "FIS_MEDIA_ROOT"}, "./media"),
		JWTSigningKey:   getEnvAny([]string{"HEIMDALL_JWT_SIGNING_KEY", "FIS_JWT_SIGNING_KEY"}, ""),
		MetricsBind:     getEnvAny([]string{"HEIMDALL_METRICS_BIND", "FIS_METRICS_BIND"}, "127.0.0.1:9000"),
		MaxUploadSizeMB: getEnvIntAny([]string{"HEIMDALL_MAX_UPLOAD_SIZE_MB", "FIS_MAX_UPLOAD_SIZE_MB"}, 0),

		// Playback engine configuration
		EngineTickInterval:   time.Duration(getEnvIntAny([]string{"HEIMDALL_ENGINE_TICK_MS", "FIS_ENGINE_TICK_MS"}, 250)) * time.Millisecond,
		ImageDuration:        time.Duration(getEnvIntAny([]string{"HEIMDALL_IMAGE_DURATION_SECONDS", "FIS_IMAGE_DURATION_SECONDS"}, 10)) * time.Second,
		WebDuration:          time.Duration(getEnvIntAny([]string{"HEIMDALL_WEB_DURATION_SECONDS", "FIS_WEB_DURATION_SECONDS"}, 60)) * time.Second,
		VideoPlaceholder:     time.Duration(getEnvIntAny([]string{"HEIMDALL_VIDEO_PLACEHOLDER_SECONDS", "FIS_VIDEO_PLACEHOLDER_SECONDS"}, 3600)) * time.Second,
		StreamFastRetries:    getEnvIntAny([]string{"HEIMDALL_STREAM_FAST_RETRIES", "FIS_STREAM_FAST_RETRIES"}, 3),
		StreamPollInterval:   time.Duration(getEnvIntAny([]string{"HEIMDALL_STREAM_POLL_SECONDS", "FIS_STREAM_POLL_SECONDS"}, 5)) * time.Second,
		StreamProbeTimeout:   time.Duration(getEnvIntAny([]string{"HEIMDALL_STREAM_PROBE_TIMEOUT_SECONDS", "FIS_STREAM_PROBE_TIMEOUT_SECONDS"}, 10)) * time.Second,
		ScheduleTickInterval: time.Duration(getEnvIntAny([]string{"HEIMDALL_SCHEDULE_TICK_SECONDS", "FIS_SCHEDULE_TICK_SECONDS"}, 30)) * time.Second,
		ScheduleLookahead:    time.Duration(getEnvIntAny([]string{"HEIMDALL_SCHEDULE_LOOKAHEAD_HOURS", "FIS_SCHEDULE_LOOKAHEAD_HOURS"}, 48)) * time.Hour,

		// S3 Object Storage configuration
		S3AccessKeyID:     getEnvAny([]string{"HEIMDALL_S3_ACCESS_KEY_ID", "AWS_ACCESS_KEY_ID"}, ""),
		S3SecretAccessKey: getEnvAny([]string{"HEIMDALL_S3_SECRET_ACCESS_KEY", "AWS_SECRET_ACCESS_KEY"}, ""),
		S3Region:          getEnvAny([]string{"HEIMDALL_S3_REGION", "AWS_REGION"}, "us-east-1"),
		S3Bucket:          getEnvAny([]string{"HEIMDALL_S3_BUCKET", "S3_BUCKET"}, ""),
		S3Endpoint:        getEnvAny([]string{"HEIMDALL_S3_ENDPOINT", "S3_ENDPOINT"}, ""),
		S3PublicBaseURL:   getEnvAny([]string{"HEIMDALL_S3_PUBLIC_BASE_URL", "S3_PUBLIC_BASE_URL"}, ""),
		S3UsePathStyle:    getEnvBoolAny([]string{"HEIMDALL_S3_USE_PATH_STYLE", "S3_USE_PATH_STYLE"}, false),

		// Tracing configuration
		TracingEnabled:    getEnvBoolAny([]string{"HEIMDALL_TRACING_ENABLED", "FIS_TRACING_ENABLED"}, false),
		OTLPEndpoint:      getEnvAny([]string{"HEIMDALL_OTLP_ENDPOINT", "FIS_OTLP_ENDPOINT"}, "localhost:4317"),
		TracingSampleRate: getEnvFloatAny([]string{"HEIMDALL_TRACING_SAMPLE_RATE", "FIS_TRACING_SAMPLE_RATE"}, 1.0),

		// Multi-instance configuration
		RedisAddr:             getEnvAny([]string{"HEIMDALL_REDIS_ADDR", "FIS_REDIS_ADDR"}, "localhost:6379"),
		RedisPassword:         getEnvAny([]string{"HEIMDALL_REDIS_PASSWORD", "FIS_REDIS_PASSWORD"}, ""),
		RedisDB:               getEnvIntAny([]string{"HEIMDALL_REDIS_DB", "FIS_REDIS_DB"}, 0),
		RedisEventBus:         getEnvBoolAny([]string{"HEIMDALL_REDIS_EVENT_BUS", "FIS_REDIS_EVENT_BUS"}, false),
		NATSURL:               getEnvAny([]string{"HEIMDALL_NATS_URL", "FIS_NATS_URL"}, ""),
		InstanceID:            getEnvAny([]string{"HEIMDALL_INSTANCE_ID", "FIS_INSTANCE_ID"}, ""),
		LeaderElectionEnabled: getEnvBoolAny([]string{"HEIMDALL_LEADER_ELECTION", "FIS_LEADER_ELECTION"}, false),

		// Proof-of-play configuration
		PlayLogRetentionDays: getEnvIntAny([]string{"HEIMDALL_PLAY_LOG_RETENTION_DAYS", "FIS_PLAY_LOG_RETENTION_DAYS"}, 90),
	}

	if cfg.DBBackend != DatabasePostgres && cfg.DBBackend != DatabaseMySQL && cfg.DBBackend != DatabaseSQLite {
		return nil, fmt.Errorf("unsupported database backend %q", cfg.DBBackend)
	}

	if cfg.DBDSN == "" {
		return nil, fmt.Errorf("HEIMDALL_DB_DSN or FIS_DB_DSN must be provided")
	}

	if cfg.JWTSigningKey == "" {
		return nil, fmt.Errorf("HEIMDALL_JWT_SIGNING_KEY or FIS_JWT_SIGNING_KEY must be provided")
	}

	if cfg.EngineTickInterval <= 0 {
		return nil, fmt.Errorf("HEIMDALL_ENGINE_TICK_MS must be positive")
	}

	if cfg.StreamFastRetries < 0 {
		return nil, fmt.Errorf("HEIMDALL_STREAM_FAST_RETRIES must not be negative")
	}

	if strings.EqualFold(cfg.Environment, "production") {
		if strings.EqualFold(cfg.JWTSigningKey, "changeme") || len(cfg.JWTSigningKey) < 16 {
			return nil, fmt.Errorf("HEIMDALL_JWT_SIGNING_KEY must be at least 16 characters and non-default in production")
		}

		if cfg.S3Bucket != "" && (cfg.S3AccessKeyID == "" || cfg.S3SecretAccessKey == "") {
			return nil, fmt.Errorf("HEIMDALL_S3_ACCESS_KEY_ID and HEIMDALL_S3_SECRET_ACCESS_KEY are required when S3 storage is enabled in production")
		}
	}
	cfg.LegacyEnvWarnings = detectLegacyEnvWarnings()

	return cfg, nil
}

func detectLegacyEnvWarnings() []string {
	legacy := map[string]string{
		"ENVIRONMENT":         "use HEIMDALL_ENV (or FIS_ENV)",
		"JWT_SIGNING_KEY":     "use HEIMDALL_JWT_SIGNING_KEY (or FIS_JWT_SIGNING_KEY)",
		"TRACING_ENABLED":     "use HEIMDALL_TRACING_ENABLED (or FIS_TRACING_ENABLED)",
		"OTLP_ENDPOINT":       "use HEIMDALL_OTLP_ENDPOINT (or FIS_OTLP_ENDPOINT)",
		"TRACING_SAMPLE_RATE": "use HEIMDALL_TRACING_SAMPLE_RATE (or FIS_TRACING_SAMPLE_RATE)",
		"NATS_URL":            "use HEIMDALL_NATS_URL (or FIS_NATS_URL)",
	}

	warnings := make([]string, 0, len(legacy))
	for key, recommendation := range legacy {
		if os.Getenv(key) != "" {
			warnings = append(warnings, fmt.Sprintf("legacy env key %s is set; %s", key, recommendation))
		}
	}
	return warnings
}

// MaxUploadSizeBytes returns the configured upload limit in bytes.
// A value of 0 means "not configured" and callers should use endpoint defaults.
func (c *Config) MaxUploadSizeBytes() int64 {
	if c == nil || c.MaxUploadSizeMB <= 0 {
		return 0
	}
	return int64(c.MaxUploadSizeMB) * 1024 * 1024
}

// getEnvAny returns the first non-empty environment variable value from keys, or def if none set.
func getEnvAny(keys []string, def string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}

// getEnvIntAny returns the first set integer environment variable value from keys, or def.
func getEnvIntAny(keys []string, def int) int {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				return parsed
			}
		}
	}
	return def
}

// getEnvBoolAny returns the first set boolean environment variable value from keys, or def.
func getEnvBoolAny(keys []string, def bool) bool {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			v = strings.ToLower(strings.TrimSpace(v))
			if v == "true" || v == "1" || v == "yes" {
				return true
			}
			if v == "false" || v == "0" || v == "no" {
				return false
			}
		}
	}
	return def
}

// getEnvFloatAny returns the first set float environment variable value from keys, or def.
func getEnvFloatAny(keys []string, def float64) float64 {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.ParseFloat(v, 64); err == nil {
				return parsed
			}
		}
	}
	return def
}
