package config

import (
	"testing"
	"time"
)

func TestLoadMonitorRequiresHubURL(t *testing.T) {
	t.Setenv("PULSEMON_HUB_URL", "")
	if _, err := LoadMonitor(); err == nil {
		t.Fatal("expected error without hub URL")
	}
}

func TestLoadMonitorDefaults(t *testing.T) {
	t.Setenv("PULSEMON_HUB_URL", "http://hub:8787")
	t.Setenv("PULSEMON_SOURCE_ID", "")
	t.Setenv("PULSEMON_BUFFER_CAPACITY", "")
	t.Setenv("PULSEMON_FLUSH_INTERVAL", "")
	t.Setenv("PULSEMON_ALLOWED_EXTENSIONS", "")

	cfg, err := LoadMonitor()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.BufferCapacity != 1000 || cfg.BatchMax != 1000 {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.FlushInterval != 2*time.Second {
		t.Errorf("expected 2s flush interval, got %s", cfg.FlushInterval)
	}
	if cfg.SourceID == "" {
		t.Error("expected hostname fallback for source id")
	}
	if cfg.AllowedExts != nil {
		t.Errorf("expected no allowlist by default, got %v", cfg.AllowedExts)
	}
}

func TestLoadMonitorOverrides(t *testing.T) {
	t.Setenv("PULSEMON_HUB_URL", "http://hub:8787")
	t.Setenv("PULSEMON_SOURCE_ID", "build-box")
	t.Setenv("PULSEMON_BUFFER_CAPACITY", "50")
	t.Setenv("PULSEMON_FLUSH_INTERVAL", "500ms")
	t.Setenv("PULSEMON_ALLOWED_EXTENSIONS", "go, md ,json")

	cfg, err := LoadMonitor()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.SourceID != "build-box" || cfg.BufferCapacity != 50 {
		t.Errorf("overrides not applied: %+v", cfg)
	}
	if cfg.FlushInterval != 500*time.Millisecond {
		t.Errorf("expected 500ms, got %s", cfg.FlushInterval)
	}
	if len(cfg.AllowedExts) != 3 || cfg.AllowedExts[1] != "md" {
		t.Errorf("allowlist parsed wrong: %v", cfg.AllowedExts)
	}
}

func TestLoadHubRequiresKeySource(t *testing.T) {
	t.Setenv("PULSEHUB_SOURCES_FILE", "")
	t.Setenv("PULSEHUB_SOURCES_URL", "")
	t.Setenv("PULSEHUB_SUBSCRIBER_TOKEN", "tok")
	t.Setenv("PULSEHUB_NO_AUTH", "")
	if _, err := LoadHub(); err == nil {
		t.Fatal("expected error without a sources file or URL")
	}
}

func TestLoadHubRequiresToken(t *testing.T) {
	t.Setenv("PULSEHUB_SOURCES_FILE", "/etc/pulsehub/sources.yaml")
	t.Setenv("PULSEHUB_SOURCES_URL", "")
	t.Setenv("PULSEHUB_SUBSCRIBER_TOKEN", "")
	t.Setenv("PULSEHUB_NO_AUTH", "")
	if _, err := LoadHub(); err == nil {
		t.Fatal("expected error without subscriber token")
	}
}

func TestLoadHubMutuallyExclusiveSources(t *testing.T) {
	t.Setenv("PULSEHUB_SOURCES_FILE", "/etc/sources.yaml")
	t.Setenv("PULSEHUB_SOURCES_URL", "http://registry/keys")
	t.Setenv("PULSEHUB_SUBSCRIBER_TOKEN", "tok")
	t.Setenv("PULSEHUB_NO_AUTH", "")
	if _, err := LoadHub(); err == nil {
		t.Fatal("expected error with both sources configured")
	}
}

func TestLoadHubNoAuthSkipsValidation(t *testing.T) {
	t.Setenv("PULSEHUB_SOURCES_FILE", "")
	t.Setenv("PULSEHUB_SOURCES_URL", "")
	t.Setenv("PULSEHUB_SUBSCRIBER_TOKEN", "")
	t.Setenv("PULSEHUB_NO_AUTH", "true")

	cfg, err := LoadHub()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.NoAuth {
		t.Error("expected NoAuth set")
	}
	if cfg.SourceRate != 100 || cfg.GlobalRate != 1000 {
		t.Errorf("unexpected rate defaults: %+v", cfg)
	}
}
