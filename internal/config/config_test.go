package config

import (
	"testing"
	"time"
)

func TestLoadDefaultsAndOverrides(t *testing.T) {
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("POLLER_INTERVAL", "2m")
	t.Setenv("FETCH_CONCURRENCY", "0")
	t.Setenv("BACKEND_MAX_ATTEMPTS", "-3")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != "9090" || cfg.Server.Host != "localhost" {
		t.Fatalf("server=%+v", cfg.Server)
	}
	if cfg.Poller.Interval != 2*time.Minute || cfg.Poller.Batch != 50 {
		t.Fatalf("poller=%+v", cfg.Poller)
	}
	if cfg.Poller.Concurrency != 1 || cfg.Backend.MaxAttempts != 1 {
		t.Fatalf("clamping failed: concurrency=%d attempts=%d", cfg.Poller.Concurrency, cfg.Backend.MaxAttempts)
	}
	if cfg.Cache.TTL != 5*time.Minute || cfg.Upload.MaxFiles != 10 {
		t.Fatalf("cache=%+v upload=%+v", cfg.Cache, cfg.Upload)
	}
}

func TestRequireBackendAuth(t *testing.T) {
	var cfg Config
	if err := cfg.RequireBackendAuth(); err == nil {
		t.Fatal("expected missing token error")
	}

	cfg.Backend.Token = "static"
	if err := cfg.RequireBackendAuth(); err != nil {
		t.Fatal(err)
	}

	cfg.Backend.OAuthClientID = "id"
	cfg.Backend.OAuthTokenURL = "https://auth.example.test/token"
	if err := cfg.RequireBackendAuth(); err == nil {
		t.Fatal("expected missing client secret error")
	}
}
