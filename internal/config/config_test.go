package config

import "testing"

func TestClampLimit(t *testing.T) {
	cfg := &Config{QueryDefaultLimit: 50, QueryMaxLimit: 200}

	if got := cfg.ClampLimit(0); got != 50 {
		t.Fatalf("ClampLimit(0) = %d, want default", got)
	}
	if got := cfg.ClampLimit(-5); got != 50 {
		t.Fatalf("ClampLimit(-5) = %d, want default", got)
	}
	if got := cfg.ClampLimit(120); got != 120 {
		t.Fatalf("ClampLimit(120) = %d", got)
	}
	if got := cfg.ClampLimit(1000); got != 200 {
		t.Fatalf("ClampLimit(1000) = %d, want max", got)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CHAT_CONFIG_FILE", "/nonexistent.yml")
	t.Setenv("CHAT_LISTEN_ADDR", ":9999")
	t.Setenv("CHAT_SEND_QPS", "7")
	t.Setenv("CHAT_ENABLE_METRICS", "false")

	cfg := Load()
	if cfg.ListenAddr != ":9999" {
		t.Fatalf("ListenAddr = %q", cfg.ListenAddr)
	}
	if cfg.SendQPS != 7 {
		t.Fatalf("SendQPS = %d", cfg.SendQPS)
	}
	if cfg.EnableMetrics {
		t.Fatal("EnableMetrics not overridden")
	}
	// 未覆盖项保持默认
	if cfg.KafkaEventsTopic != "chat-message-events" {
		t.Fatalf("KafkaEventsTopic = %q", cfg.KafkaEventsTopic)
	}
}
