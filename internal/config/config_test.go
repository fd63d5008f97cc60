package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Address != DefaultAddr {
		t.Fatalf("unexpected address: %q", cfg.Address)
	}
	if cfg.FlushInterval != DefaultFlushInterval {
		t.Fatalf("unexpected flush interval: %v", cfg.FlushInterval)
	}
	if cfg.IdleTimeout != DefaultIdleTimeout {
		t.Fatalf("unexpected idle timeout: %v", cfg.IdleTimeout)
	}
	if cfg.CredentialTTL != DefaultCredentialTTL {
		t.Fatalf("unexpected credential ttl: %v", cfg.CredentialTTL)
	}
	if cfg.SummaryRefreshInterval() != 2*DefaultFlushInterval {
		t.Fatalf("unexpected summary refresh interval: %v", cfg.SummaryRefreshInterval())
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PRESENCE_ADDR", ":9000")
	t.Setenv("PRESENCE_FLUSH_INTERVAL", "2s")
	t.Setenv("PRESENCE_IDLE_TIMEOUT", "1m")
	t.Setenv("PRESENCE_QUEUE_LIMIT", "128")
	t.Setenv("PRESENCE_AUTH_NETWORK", "unix")
	t.Setenv("PRESENCE_AUTH_ADDR", "/tmp/identity.sock")
	t.Setenv("PRESENCE_ALLOWED_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Address != ":9000" {
		t.Fatalf("unexpected address: %q", cfg.Address)
	}
	if cfg.FlushInterval != 2*time.Second {
		t.Fatalf("unexpected flush interval: %v", cfg.FlushInterval)
	}
	if cfg.SummaryRefreshInterval() != 4*time.Second {
		t.Fatalf("unexpected summary refresh interval: %v", cfg.SummaryRefreshInterval())
	}
	if cfg.IdleTimeout != time.Minute {
		t.Fatalf("unexpected idle timeout: %v", cfg.IdleTimeout)
	}
	if cfg.QueueLimit != 128 {
		t.Fatalf("unexpected queue limit: %d", cfg.QueueLimit)
	}
	if cfg.AuthNetwork != "unix" || cfg.AuthAddr != "/tmp/identity.sock" {
		t.Fatalf("unexpected auth endpoint: %s %s", cfg.AuthNetwork, cfg.AuthAddr)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "https://b.example" {
		t.Fatalf("unexpected origins: %v", cfg.AllowedOrigins)
	}
}

func TestLoadAggregatesProblems(t *testing.T) {
	t.Setenv("PRESENCE_FLUSH_INTERVAL", "soon")
	t.Setenv("PRESENCE_QUEUE_LIMIT", "-1")
	t.Setenv("PRESENCE_AUTH_NETWORK", "carrier-pigeon")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error for invalid overrides")
	}
	for _, fragment := range []string{"PRESENCE_FLUSH_INTERVAL", "PRESENCE_QUEUE_LIMIT", "PRESENCE_AUTH_NETWORK"} {
		if !strings.Contains(err.Error(), fragment) {
			t.Fatalf("error %q missing fragment %q", err.Error(), fragment)
		}
	}
}

func TestLoadRequiresTLSPair(t *testing.T) {
	t.Setenv("PRESENCE_TLS_CERT", "/etc/ssl/server.crt")

	if _, err := Load(); err == nil {
		t.Fatal("expected error when only the certificate is set")
	}
}
