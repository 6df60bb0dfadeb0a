package app

import "time"

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	GatewayURL    string
	GatewayAPIKey string
	GatewayToken  string

	AgentURL     string
	AgentEnabled bool
	AgentID      string

	UserID   string
	ThreadID string

	LogLevel  string
	LogFormat string

	// MetricsAddr exposes /metrics when non-empty (debug builds).
	MetricsAddr string

	// CacheDir enables the local history cache when non-empty.
	CacheDir string

	PageSize     int
	HTTPTimeout  time.Duration
	AgentTimeout time.Duration

	// Attachment optimization bounds.
	ImageMaxDim  int
	ImageQuality int
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		GatewayURL:    EnvString("LOOM_GATEWAY_URL", "http://localhost:8080"),
		GatewayAPIKey: EnvString("LOOM_GATEWAY_API_KEY", ""),
		GatewayToken:  EnvString("LOOM_GATEWAY_TOKEN", ""),

		AgentURL:     EnvString("LOOM_AGENT_URL", ""),
		AgentEnabled: EnvBool("LOOM_AGENT_ENABLED", true),
		AgentID:      EnvString("LOOM_AGENT_ID", ""),

		UserID:   EnvString("LOOM_USER_ID", ""),
		ThreadID: EnvString("LOOM_THREAD_ID", ""),

		LogLevel:  EnvString("LOOM_LOG_LEVEL", "info"),
		LogFormat: EnvString("LOOM_LOG_FORMAT", "json"),

		MetricsAddr: EnvString("LOOM_METRICS_ADDR", ""),

		CacheDir: EnvString("LOOM_CACHE_DIR", ""),

		PageSize:     EnvInt("LOOM_PAGE_SIZE", 50),
		HTTPTimeout:  EnvDuration("LOOM_HTTP_TIMEOUT", 15*time.Second),
		AgentTimeout: EnvDuration("LOOM_AGENT_TIMEOUT", 30*time.Second),

		ImageMaxDim:  EnvInt("LOOM_IMAGE_MAX_DIM", 1600),
		ImageQuality: EnvInt("LOOM_IMAGE_QUALITY", 82),
	}
}
