// Package config loads process configuration from environment variables,
// applying fallbacks so that the absence of an optional
// capability (analytics, error reporting, a catalog service) disables it
// rather than failing startup (spec §6).
package config

import (
	"os"
	"strconv"
	"strings"
)

// Config holds all configuration for the agent runtime server.
type Config struct {
	Port              int
	Version           string
	ExecutionDirRoot  string
	RelaxMCPLocalhost bool

	Telemetry     TelemetryConfig
	Auth          AuthConfig
	RateLimit     RateLimitConfig
	Observability ObservabilityConfig
	Compactor     CompactorConfig
	Dispatcher    DispatcherConfig
	ReasoningLoop ReasoningLoopConfig
	MCP           MCPConfig
}

// TelemetryConfig configures OpenTelemetry tracing export.
type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	ServiceName  string
}

// AuthConfig configures the pluggable HTTP auth chain.
type AuthConfig struct {
	APIKeyHeader string
	ValidAPIKeys []string
}

// RateLimitConfig configures the managed-provider daily cap (spec §4.8).
type RateLimitConfig struct {
	// CatalogServiceURL, when set, is queried at startup for the daily
	// limit. Empty disables the remote fetch and uses DefaultDailyLimit.
	CatalogServiceURL string
	DefaultDailyLimit int
	// DevBypassLimit is used instead of the fetched/default limit when
	// Environment is "development" or "test" (spec §4.8).
	DevBypassLimit int
	Environment    string
	DBPath         string
}

// ObservabilityConfig configures the error-reporting and analytics sinks.
// Absence of either env var disables the corresponding sink (spec §6).
type ObservabilityConfig struct {
	ErrorReportingDSN string
	AnalyticsEndpoint string
	AnalyticsKey      string
}

// CompactorConfig configures the compaction policy (spec §4.4).
type CompactorConfig struct {
	MaxToolOutputChars   int
	CompactionThreshold  float64
	CharsPerTokenEstimate int
}

// DispatcherConfig configures the tool dispatcher (spec §4.3).
type DispatcherConfig struct {
	ToolCallTimeout string // parsed by caller with time.ParseDuration
}

// ReasoningLoopConfig configures the reasoning loop (spec §4.5).
type ReasoningLoopConfig struct {
	MaxTurns int
}

// MCPConfig configures the MCP Client Pool's three server-spec sources
// (spec §4.2).
type MCPConfig struct {
	// LocalServerURL is the loopback URL of the embedded Local MCP Server
	// (C9), always included as the first spec.
	LocalServerURL string
	// AggregatorURL, when set, is queried once per conversation to
	// negotiate the external-integrations MCP endpoint. Empty disables
	// the aggregator source entirely.
	AggregatorURL string
	// AggregatorReListInterval controls how often the pool re-lists the
	// aggregator's tools and reconnects if its integration set changed.
	AggregatorReListInterval string // parsed by caller with time.ParseDuration
}

// Load reads configuration from environment variables with sensible
// defaults for local development.
func Load() *Config {
	return &Config{
		Port:              envInt("BROWSEROS_PORT", 8787),
		Version:           envStr("BROWSEROS_VERSION", "0.1.0"),
		ExecutionDirRoot:  envStr("BROWSEROS_EXEC_DIR", "/tmp/browseros-sessions"),
		RelaxMCPLocalhost: envBool("BROWSEROS_MCP_ALLOW_REMOTE", false),

		Telemetry: TelemetryConfig{
			Enabled:      envBool("OTEL_ENABLED", false),
			OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			ServiceName:  envStr("OTEL_SERVICE_NAME", "browseros-agent-runtime"),
		},
		Auth: AuthConfig{
			APIKeyHeader: envStr("AUTH_API_KEY_HEADER", "Authorization"),
			ValidAPIKeys: envStrList("AUTH_API_KEYS", nil),
		},
		RateLimit: RateLimitConfig{
			CatalogServiceURL: envStr("BROWSEROS_CATALOG_URL", ""),
			DefaultDailyLimit: envInt("BROWSEROS_MANAGED_DAILY_LIMIT", 50),
			DevBypassLimit:    envInt("BROWSEROS_DEV_DAILY_LIMIT", 100000),
			Environment:       envStr("BROWSEROS_ENV", "production"),
			DBPath:            envStr("BROWSEROS_RATELIMIT_DB", "file:ratelimit.db?mode=memory&cache=shared"),
		},
		Observability: ObservabilityConfig{
			ErrorReportingDSN: envStr("BROWSEROS_ERROR_DSN", ""),
			AnalyticsEndpoint: envStr("BROWSEROS_ANALYTICS_ENDPOINT", ""),
			AnalyticsKey:      envStr("BROWSEROS_ANALYTICS_KEY", ""),
		},
		Compactor: CompactorConfig{
			MaxToolOutputChars:    envInt("BROWSEROS_COMPACT_MAX_TOOL_CHARS", 15000),
			CompactionThreshold:   envFloat("BROWSEROS_COMPACT_THRESHOLD", 0.6),
			CharsPerTokenEstimate: envInt("BROWSEROS_CHARS_PER_TOKEN", 4),
		},
		Dispatcher: DispatcherConfig{
			ToolCallTimeout: envStr("BROWSEROS_TOOL_TIMEOUT", "60s"),
		},
		ReasoningLoop: ReasoningLoopConfig{
			MaxTurns: envInt("BROWSEROS_MAX_TURNS", 48),
		},
		MCP: MCPConfig{
			LocalServerURL:           envStr("BROWSEROS_LOCAL_MCP_URL", "http://127.0.0.1:8787/mcp"),
			AggregatorURL:            envStr("BROWSEROS_MCP_AGGREGATOR_URL", ""),
			AggregatorReListInterval: envStr("BROWSEROS_MCP_AGGREGATOR_RELIST", "5m"),
		},
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envStrList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
