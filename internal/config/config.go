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

	"github.com/friendsincode/relaydesk/internal/models"
)

// Database backend selection.
type DatabaseBackend string

const (
	DatabasePostgres DatabaseBackend = "postgres"
	DatabaseMySQL    DatabaseBackend = "mysql"
	DatabaseSQLite   DatabaseBackend = "sqlite"
	DatabaseMemory   DatabaseBackend = "memory"
)

// Port allocation strategies understood by the port pool.
const (
	PortStrategyLowest = "lowest"
	PortStrategyFIFO   = "fifo"
)

// Config covers process level configuration read from environment variables.
type Config struct {
	Environment   string
	HTTPBind      string
	HTTPPort      int
	DBBackend     DatabaseBackend
	DBDSN         string
	JWTSigningKey string
	MetricsBind   string

	// UDP port pool for the peer-to-peer data channel, [UDPPortStart, UDPPortEnd)
	UDPPortStart int
	UDPPortEnd   int
	PortStrategy string

	// Session admission
	SessionCodeLength   int
	CodeMaxAttempts     int
	DefaultSessionQuota int
	QuotaFile           string // YAML file with per-technician overrides

	// Signaling channel frame limits (frames per second, burst)
	SignalingFrameRate  float64
	SignalingFrameBurst int

	// Tracing configuration
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64

	// Redis quota cache (disabled when RedisAddr is empty)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// NATS lifecycle event forwarding (disabled when empty)
	NATSURL string

	// Retention of terminal sessions
	RetentionDays int
	ArchiveDir    string

	// S3 archive target
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3Region          string
	S3Bucket          string
	S3Endpoint        string // For S3-compatible services (MinIO, Spaces, etc.)
	S3UsePathStyle    bool   // Required for MinIO
	S3Prefix          string

	LegacyEnvWarnings []string
}

// Load reads environment variables, applies defaults, and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Environment:   getEnvAny([]string{"RELAYDESK_ENV", "RD_ENV"}, "development"),
		HTTPBind:      getEnvAny([]string{"RELAYDESK_HTTP_BIND", "RD_HTTP_BIND"}, "0.0.0.0"),
		HTTPPort:      getEnvIntAny([]string{"RELAYDESK_HTTP_PORT", "RD_HTTP_PORT"}, 8000),
		DBBackend:     DatabaseBackend(getEnvAny([]string{"RELAYDESK_DB_BACKEND", "RD_DB_BACKEND"}, string(DatabaseSQLite))),
		DBDSN:         getEnvAny([]string{"RELAYDESK_DB_DSN", "RD_DB_DSN"}, "relaydesk.db"),
		JWTSigningKey: getEnvAny([]string{"RELAYDESK_JWT_SIGNING_KEY", "RD_JWT_SIGNING_KEY"}, ""),
		MetricsBind:   getEnvAny([]string{"RELAYDESK_METRICS_BIND", "RD_METRICS_BIND"}, "127.0.0.1:9000"),

		UDPPortStart: getEnvIntAny([]string{"RELAYDESK_UDP_PORT_START", "RD_UDP_PORT_START"}, 50000),
		UDPPortEnd:   getEnvIntAny([]string{"RELAYDESK_UDP_PORT_END", "RD_UDP_PORT_END"}, 60000),
		PortStrategy: strings.ToLower(getEnvAny([]string{"RELAYDESK_PORT_STRATEGY", "RD_PORT_STRATEGY"}, PortStrategyLowest)),

		SessionCodeLength:   getEnvIntAny([]string{"RELAYDESK_SESSION_CODE_LENGTH", "RD_SESSION_CODE_LENGTH"}, 9),
		CodeMaxAttempts:     getEnvIntAny([]string{"RELAYDESK_CODE_MAX_ATTEMPTS", "RD_CODE_MAX_ATTEMPTS"}, 16),
		DefaultSessionQuota: getEnvIntAny([]string{"RELAYDESK_DEFAULT_SESSION_QUOTA", "RD_DEFAULT_SESSION_QUOTA"}, models.DefaultSessionQuota),
		QuotaFile:           getEnvAny([]string{"RELAYDESK_QUOTA_FILE", "RD_QUOTA_FILE"}, ""),

		SignalingFrameRate:  getEnvFloatAny([]string{"RELAYDESK_SIGNALING_PING_RATE", "RD_SIGNALING_PING_RATE"}, 5),
		SignalingFrameBurst: getEnvIntAny([]string{"RELAYDESK_SIGNALING_PING_BURST", "RD_SIGNALING_PING_BURST"}, 10),

		// Tracing configuration
		TracingEnabled:    getEnvBoolAny([]string{"RELAYDESK_TRACING_ENABLED", "RD_TRACING_ENABLED"}, false),
		OTLPEndpoint:      getEnvAny([]string{"RELAYDESK_OTLP_ENDPOINT", "RD_OTLP_ENDPOINT"}, "localhost:4317"),
		TracingSampleRate: getEnvFloatAny([]string{"RELAYDESK_TRACING_SAMPLE_RATE", "RD_TRACING_SAMPLE_RATE"}, 1.0),

		RedisAddr:     getEnvAny([]string{"RELAYDESK_REDIS_ADDR", "RD_REDIS_ADDR"}, ""),
		RedisPassword: getEnvAny([]string{"RELAYDESK_REDIS_PASSWORD", "RD_REDIS_PASSWORD"}, ""),
		RedisDB:       getEnvIntAny([]string{"RELAYDESK_REDIS_DB", "RD_REDIS_DB"}, 0),

		NATSURL: getEnvAny([]string{"RELAYDESK_NATS_URL", "NATS_URL"}, ""),

		RetentionDays: getEnvIntAny([]string{"RELAYDESK_RETENTION_DAYS", "RD_RETENTION_DAYS"}, 0),
		ArchiveDir:    getEnvAny([]string{"RELAYDESK_ARCHIVE_DIR", "RD_ARCHIVE_DIR"}, "./archive"),

		S3AccessKeyID:     getEnvAny([]string{"RELAYDESK_S3_ACCESS_KEY_ID", "AWS_ACCESS_KEY_ID"}, ""),
		S3SecretAccessKey: getEnvAny([]string{"RELAYDESK_S3_SECRET_ACCESS_KEY", "AWS_SECRET_ACCESS_KEY"}, ""),
		S3Region:          getEnvAny([]string{"RELAYDESK_S3_REGION", "AWS_REGION"}, "us-east-1"),
		S3Bucket:          getEnvAny([]string{"RELAYDESK_S3_BUCKET", "S3_BUCKET"}, ""),
		S3Endpoint:        getEnvAny([]string{"RELAYDESK_S3_ENDPOINT", "S3_ENDPOINT"}, ""),
		S3UsePathStyle:    getEnvBoolAny([]string{"RELAYDESK_S3_USE_PATH_STYLE", "S3_USE_PATH_STYLE"}, false),
		S3Prefix:          getEnvAny([]string{"RELAYDESK_S3_PREFIX", "S3_PREFIX"}, "relaydesk"),
	}

	switch cfg.DBBackend {
	case DatabasePostgres, DatabaseMySQL, DatabaseSQLite, DatabaseMemory:
	default:
		return nil, fmt.Errorf("unsupported database backend %q", cfg.DBBackend)
	}

	if cfg.DBBackend != DatabaseMemory && cfg.DBDSN == "" {
		return nil, fmt.Errorf("RELAYDESK_DB_DSN or RD_DB_DSN must be provided")
	}

	if cfg.JWTSigningKey == "" {
		return nil, fmt.Errorf("RELAYDESK_JWT_SIGNING_KEY or RD_JWT_SIGNING_KEY must be provided")
	}

	if cfg.UDPPortStart < 1 || cfg.UDPPortEnd > 65536 || cfg.UDPPortStart >= cfg.UDPPortEnd {
		return nil, fmt.Errorf("invalid UDP port range [%d, %d)", cfg.UDPPortStart, cfg.UDPPortEnd)
	}

	if cfg.PortStrategy != PortStrategyLowest && cfg.PortStrategy != PortStrategyFIFO {
		return nil, fmt.Errorf("unsupported port strategy %q", cfg.PortStrategy)
	}

	if cfg.SessionCodeLength < 4 || cfg.SessionCodeLength > 18 {
		return nil, fmt.Errorf("session code length must be between 4 and 18, got %d", cfg.SessionCodeLength)
	}

	if cfg.CodeMaxAttempts < 1 {
		return nil, fmt.Errorf("code max attempts must be positive, got %d", cfg.CodeMaxAttempts)
	}

	if !models.ValidQuota(cfg.DefaultSessionQuota) {
		return nil, fmt.Errorf("default session quota must be between %d and %d, got %d",
			models.MinSessionQuota, models.MaxSessionQuota, cfg.DefaultSessionQuota)
	}

	if cfg.SignalingFrameRate <= 0 || cfg.SignalingFrameBurst < 1 {
		return nil, fmt.Errorf("signaling frame rate and burst must be positive")
	}

	if cfg.RetentionDays < 0 {
		return nil, fmt.Errorf("retention days must not be negative, got %d", cfg.RetentionDays)
	}

	if strings.EqualFold(cfg.Environment, "production") && cfg.DBBackend == DatabaseMemory {
		return nil, fmt.Errorf("the memory database backend is not allowed in production")
	}

	cfg.LegacyEnvWarnings = detectLegacyEnvWarnings()

	return cfg, nil
}

func detectLegacyEnvWarnings() []string {
	legacy := map[string]string{
		"ENVIRONMENT":     "use RELAYDESK_ENV (or RD_ENV)",
		"JWT_SIGNING_KEY": "use RELAYDESK_JWT_SIGNING_KEY (or RD_JWT_SIGNING_KEY)",
		"UDP_PORT_START":  "use RELAYDESK_UDP_PORT_START",
		"UDP_PORT_END":    "use RELAYDESK_UDP_PORT_END",
		"MAX_SESSIONS":    "use RELAYDESK_DEFAULT_SESSION_QUOTA",
		"TRACING_ENABLED": "use RELAYDESK_TRACING_ENABLED (or RD_TRACING_ENABLED)",
		"OTLP_ENDPOINT":   "use RELAYDESK_OTLP_ENDPOINT (or RD_OTLP_ENDPOINT)",
	}

	warnings := make([]string, 0, len(legacy))
	for key, recommendation := range legacy {
		if os.Getenv(key) != "" {
			warnings = append(warnings, fmt.Sprintf("legacy env key %s is set; %s", key, recommendation))
		}
	}
	return warnings
}

// PortRangeSize returns the number of ports in the configured pool.
func (c *Config) PortRangeSize() int {
	if c == nil {
		return 0
	}
	return c.UDPPortEnd - c.UDPPortStart
}

// Retention returns the configured retention window for terminal sessions.
// A value of 0 means archival is disabled.
func (c *Config) Retention() time.Duration {
	if c == nil || c.RetentionDays <= 0 {
		return 0
	}
	return time.Duration(c.RetentionDays) * 24 * time.Hour
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
