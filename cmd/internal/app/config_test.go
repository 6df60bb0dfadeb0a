package app

import (
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	for _, key := range []string{
		"LOOM_GATEWAY_URL", "LOOM_USER_ID", "LOOM_THREAD_ID",
		"LOOM_LOG_LEVEL", "LOOM_LOG_FORMAT", "LOOM_PAGE_SIZE",
		"LOOM_HTTP_TIMEOUT", "LOOM_AGENT_ENABLED", "LOOM_CACHE_DIR",
	} {
		t.Setenv(key, "")
	}

	cfg := LoadConfig()
	if cfg.GatewayURL != "http://localhost:8080" {
		t.Fatalf("GatewayURL=%q", cfg.GatewayURL)
	}
	if cfg.LogLevel != "info" || cfg.LogFormat != "json" {
		t.Fatalf("log defaults: level=%q format=%q", cfg.LogLevel, cfg.LogFormat)
	}
	if cfg.PageSize != 50 {
		t.Fatalf("PageSize=%d", cfg.PageSize)
	}
	if cfg.HTTPTimeout != 15*time.Second || cfg.AgentTimeout != 30*time.Second {
		t.Fatalf("timeouts: http=%v agent=%v", cfg.HTTPTimeout, cfg.AgentTimeout)
	}
	if !cfg.AgentEnabled {
		t.Fatalf("AgentEnabled default must be true")
	}
	if cfg.ImageMaxDim != 1600 || cfg.ImageQuality != 82 {
		t.Fatalf("image defaults: dim=%d q=%d", cfg.ImageMaxDim, cfg.ImageQuality)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("LOOM_GATEWAY_URL", "https://gw.example.com")
	t.Setenv("LOOM_USER_ID", "u1")
	t.Setenv("LOOM_THREAD_ID", "t1")
	t.Setenv("LOOM_PAGE_SIZE", "25")
	t.Setenv("LOOM_HTTP_TIMEOUT", "3s")
	t.Setenv("LOOM_AGENT_ENABLED", "false")
	t.Setenv("LOOM_LOG_FORMAT", "pretty")

	cfg := LoadConfig()
	if cfg.GatewayURL != "https://gw.example.com" || cfg.UserID != "u1" || cfg.ThreadID != "t1" {
		t.Fatalf("cfg=%+v", cfg)
	}
	if cfg.PageSize != 25 || cfg.HTTPTimeout != 3*time.Second {
		t.Fatalf("PageSize=%d HTTPTimeout=%v", cfg.PageSize, cfg.HTTPTimeout)
	}
	if cfg.AgentEnabled {
		t.Fatalf("AgentEnabled override ignored")
	}
	if cfg.LogFormat != "pretty" {
		t.Fatalf("LogFormat=%q", cfg.LogFormat)
	}
}

func TestEnvHelpersRejectGarbage(t *testing.T) {
	t.Setenv("LOOM_TEST_INT", "not-a-number")
	if got := EnvInt("LOOM_TEST_INT", 7); got != 7 {
		t.Fatalf("EnvInt=%d want=7", got)
	}

	t.Setenv("LOOM_TEST_INT", "-3")
	if got := EnvInt("LOOM_TEST_INT", 7); got != 7 {
		t.Fatalf("EnvInt negative=%d want=7", got)
	}

	t.Setenv("LOOM_TEST_DUR", "soon")
	if got := EnvDuration("LOOM_TEST_DUR", time.Minute); got != time.Minute {
		t.Fatalf("EnvDuration=%v want=1m", got)
	}

	t.Setenv("LOOM_TEST_BOOL", "maybe")
	if got := EnvBool("LOOM_TEST_BOOL", true); got != true {
		t.Fatalf("EnvBool=%v want=true", got)
	}

	t.Setenv("LOOM_TEST_STR", "  padded  ")
	if got := EnvString("LOOM_TEST_STR", "def"); got != "padded" {
		t.Fatalf("EnvString=%q want=%q", got, "padded")
	}
}
